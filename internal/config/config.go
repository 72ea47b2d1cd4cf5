// Package config loads eventlist configuration for the server and the client.
//
// Values are resolved in order: built-in defaults, then an optional YAML file,
// then EVENTLIST_* environment variables. Command-line flags are applied by
// the binaries on top of the result.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "EVENTLIST_"

// Config is the full configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	DB     DBConfig     `yaml:"db"`
	Log    LogConfig    `yaml:"log"`
	Auth   AuthConfig   `yaml:"auth"`
	Client ClientConfig `yaml:"client"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DBConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// AuthConfig enables token authentication on the server when JWTSecret is set.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// ClientConfig configures the eventlist CLI.
type ClientConfig struct {
	BaseURL          string        `yaml:"base_url"`
	WSURL            string        `yaml:"ws_url"`
	UserID           string        `yaml:"user_id"`
	Token            string        `yaml:"token"`
	SnapshotPath     string        `yaml:"snapshot_path"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	SnapshotDebounce time.Duration `yaml:"snapshot_debounce"`
	BackoffMin       time.Duration `yaml:"backoff_min"`
	BackoffMax       time.Duration `yaml:"backoff_max"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		DB: DBConfig{
			Path: "eventlist.db",
		},
		Log: LogConfig{
			Level: "info",
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
		Client: ClientConfig{
			BaseURL:          "http://localhost:8080",
			WSURL:            "ws://localhost:8080/ws",
			SnapshotPath:     "eventlist-snapshot.bin",
			RequestTimeout:   8 * time.Second,
			SnapshotDebounce: 500 * time.Millisecond,
			BackoffMin:       500 * time.Millisecond,
			BackoffMax:       30 * time.Second,
		},
	}
}

// Load reads configuration from the YAML file at path (skipped when empty,
// falling back to EVENTLIST_CONFIG_PATH) and applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvPrefix + "CONFIG_PATH")
	}
	if path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	strs := map[string]*string{
		"SERVER_HOST":          &cfg.Server.Host,
		"DB_PATH":              &cfg.DB.Path,
		"LOG_LEVEL":            &cfg.Log.Level,
		"JWT_SECRET":           &cfg.Auth.JWTSecret,
		"CLIENT_BASE_URL":      &cfg.Client.BaseURL,
		"CLIENT_WS_URL":        &cfg.Client.WSURL,
		"CLIENT_USER_ID":       &cfg.Client.UserID,
		"CLIENT_TOKEN":         &cfg.Client.Token,
		"CLIENT_SNAPSHOT_PATH": &cfg.Client.SnapshotPath,
	}
	for name, dst := range strs {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}

	if portStr := os.Getenv(EnvPrefix + "SERVER_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("invalid %sSERVER_PORT: %w", EnvPrefix, err)
		}
		cfg.Server.Port = port
	}

	durations := map[string]*time.Duration{
		"TOKEN_TTL":                &cfg.Auth.TokenTTL,
		"CLIENT_REQUEST_TIMEOUT":   &cfg.Client.RequestTimeout,
		"CLIENT_SNAPSHOT_DEBOUNCE": &cfg.Client.SnapshotDebounce,
		"CLIENT_BACKOFF_MIN":       &cfg.Client.BackoffMin,
		"CLIENT_BACKOFF_MAX":       &cfg.Client.BackoffMax,
	}
	for name, dst := range durations {
		v := os.Getenv(EnvPrefix + name)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err)
		}
		*dst = d
	}
	return nil
}
