package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/mmynk/eventlist/internal/auth"
	"github.com/mmynk/eventlist/internal/config"
	"github.com/mmynk/eventlist/internal/server"
	"github.com/mmynk/eventlist/internal/storage/sqlite"
	"github.com/mmynk/eventlist/pkg/logging"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := pflag.StringP("config", "c", "", "path to a YAML config file")
	logLevel := pflag.String("log-level", "", "log level (debug, info, warn, error)")
	addr := pflag.String("addr", "", "listen address, overrides server.host and server.port")
	dbPath := pflag.String("db", "", "SQLite database path")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *dbPath != "" {
		cfg.DB.Path = *dbPath
	}
	logging.Setup(cfg.Log.Level)

	store, err := sqlite.New(cfg.DB.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()
	slog.Info("Storage initialized", "database", cfg.DB.Path)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []server.Option{server.WithRegistry(reg)}
	if cfg.Auth.JWTSecret != "" {
		jwt := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
		opts = append(opts, server.WithAuth(auth.NewPasswordAuthenticator(store), jwt))
		slog.Info("Authentication enabled", "token_ttl", cfg.Auth.TokenTTL)
	} else {
		slog.Warn("Authentication disabled, requests are trusted to name their user")
	}
	srv := server.New(store, opts...)

	listen := cfg.Server.Addr()
	if *addr != "" {
		listen = *addr
	}
	httpServer := &http.Server{
		Addr: listen,
		// h2c serves HTTP/2 without TLS for connect clients.
		Handler:           h2c.NewHandler(srv.Handler(), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Server starting", "address", listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("Server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
