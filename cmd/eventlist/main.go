// Command eventlist is a terminal client for shared event lists. It keeps a
// local snapshot so the lists are readable offline and syncs with the backend
// and with peers over the realtime channel.
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

	"github.com/spf13/pflag"

	"github.com/mmynk/eventlist/internal/config"
	"github.com/mmynk/eventlist/internal/eventstore"
	"github.com/mmynk/eventlist/internal/persistence"
	"github.com/mmynk/eventlist/internal/realtime"
	"github.com/mmynk/eventlist/internal/service"
	"github.com/mmynk/eventlist/internal/snapshot"
	"github.com/mmynk/eventlist/pkg/logging"
)

const usage = `usage: eventlist [flags] <command> [args]

commands:
  register <email> <password> [name]  create an account and print its token
  login <email> <password>             print a session token
  list [--archived]                    list events
  show <event>                         show one event and its items
  add <title> [--item name]... [--with person]...
  item <event> <name> [--price n] [--bought] [--claim who] [--urgent] [--shared-by a,b] [--remove]
  share <event> <person>...            add participants
  unshare <event> <person>...          remove participants
  archive <event>
  unarchive <event>
  delete <event>
  settle <event> [--remote]            balances and transfers
  watch                                print changes until interrupted

flags:
`

// app is one client session.
type app struct {
	cfg      config.Config
	svc      *service.EventService
	rest     *persistence.Client
	channel  *realtime.Client
	saver    *snapshot.Saver
	durable  service.Durability
	signedIn bool
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "eventlist:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("eventlist", pflag.ContinueOnError)
	flags.SetInterspersed(false)
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flags.PrintDefaults()
	}
	configPath := flags.StringP("config", "c", "", "path to a YAML config file")
	logLevel := flags.String("log-level", "", "log level (debug, info, warn, error)")
	user := flags.StringP("user", "u", "", "identity to sign in as")
	token := flags.String("token", "", "session token")
	baseURL := flags.String("base-url", "", "backend REST url")
	wsURL := flags.String("ws-url", "", "backend realtime url")
	snapshotPath := flags.String("snapshot", "", "local snapshot file")
	async := flags.Bool("async", false, "return before the backend acknowledges writes")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	overrides := map[*string]string{
		&cfg.Log.Level:           *logLevel,
		&cfg.Client.UserID:       *user,
		&cfg.Client.Token:        *token,
		&cfg.Client.BaseURL:      *baseURL,
		&cfg.Client.WSURL:        *wsURL,
		&cfg.Client.SnapshotPath: *snapshotPath,
	}
	for field, value := range overrides {
		if value != "" {
			*field = value
		}
	}
	if cfg.Log.Level == "info" {
		// Keep command output readable unless asked otherwise.
		cfg.Log.Level = "warn"
	}
	logging.Setup(cfg.Log.Level)

	rest := flags.Args()
	if len(rest) == 0 {
		flags.Usage()
		return errors.New("no command given")
	}
	cmd, cmdArgs := rest[0], rest[1:]

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	if *async {
		a.durable = service.FireAndForget
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Account commands do not need a session.
	switch cmd {
	case "register":
		return a.register(ctx, cmdArgs)
	case "login":
		return a.login(ctx, cmdArgs)
	}

	if err := a.start(ctx); err != nil {
		return err
	}
	defer a.stop()

	handler, ok := a.commands()[cmd]
	if !ok {
		flags.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
	return handler(ctx, cmdArgs)
}

func newApp(cfg config.Config) (*app, error) {
	rest, err := persistence.NewClient(cfg.Client.BaseURL,
		persistence.WithToken(cfg.Client.Token),
		persistence.WithTimeout(cfg.Client.RequestTimeout),
		persistence.WithHTTPClient(&http.Client{}),
	)
	if err != nil {
		return nil, err
	}
	channel := realtime.NewClient(realtime.Config{
		URL:        cfg.Client.WSURL,
		Token:      cfg.Client.Token,
		BackoffMin: cfg.Client.BackoffMin,
		BackoffMax: cfg.Client.BackoffMax,
	})
	svc := service.NewEventService(eventstore.New(), rest, channel,
		service.WithTimeout(cfg.Client.RequestTimeout))

	return &app{
		cfg:     cfg,
		svc:     svc,
		rest:    rest,
		channel: channel,
		saver:   snapshot.NewSaver(cfg.Client.SnapshotPath, svc, cfg.Client.SnapshotDebounce),
		durable: service.AwaitDurable,
	}, nil
}

// start restores the snapshot and signs in. An unreachable backend is not
// fatal: the snapshot is served and writes are retried on reconnect.
func (a *app) start(ctx context.Context) error {
	if a.cfg.Client.UserID == "" {
		return errors.New("no user configured, pass --user or set " + config.EnvPrefix + "CLIENT_USER_ID")
	}

	snap, err := snapshot.Load(a.cfg.Client.SnapshotPath)
	if err != nil {
		slog.Warn("Ignoring unreadable snapshot", "path", a.cfg.Client.SnapshotPath, "error", err)
	} else {
		a.svc.RestoreSnapshot(snap)
	}
	a.saver.Start()

	err = a.svc.Login(ctx, a.cfg.Client.UserID)
	a.signedIn = true
	switch persistence.Classify(err) {
	case persistence.ClassNone:
	case persistence.ClassNetwork:
		fmt.Fprintln(os.Stderr, "backend unreachable, showing local data")
	default:
		return err
	}
	a.awaitChannel(ctx, 2*time.Second)
	return nil
}

// awaitChannel gives the realtime channel a moment to open so peers hear
// about this command's writes.
func (a *app) awaitChannel(ctx context.Context, limit time.Duration) {
	deadline := time.Now().Add(limit)
	for !a.channel.Connected() && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func (a *app) stop() {
	a.svc.Wait()
	if err := a.saver.Close(); err != nil {
		slog.Warn("Snapshot write failed", "error", err)
	}
	if a.signedIn {
		a.svc.Logout()
	}
}
