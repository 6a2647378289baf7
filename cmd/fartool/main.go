// Command fartool runs the action execution engine, either as a long-lived
// HTTP server with the cron scheduler attached (serve) or as a one-shot
// script run against a set of accounts (run).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/hainguyen99-cdm/farcastertool/internal/config"
	"github.com/hainguyen99-cdm/farcastertool/internal/executor"
	"github.com/hainguyen99-cdm/farcastertool/internal/logging"
	"github.com/hainguyen99-cdm/farcastertool/internal/platform"
	"github.com/hainguyen99-cdm/farcastertool/internal/queue"
	"github.com/hainguyen99-cdm/farcastertool/internal/ratelimit"
	"github.com/hainguyen99-cdm/farcastertool/internal/runner"
	"github.com/hainguyen99-cdm/farcastertool/internal/scheduler"
	"github.com/hainguyen99-cdm/farcastertool/internal/server"
	"github.com/hainguyen99-cdm/farcastertool/internal/store"
	"github.com/hainguyen99-cdm/farcastertool/internal/validation"
	"github.com/hainguyen99-cdm/farcastertool/internal/vault"
)

func main() {
	cmd := "serve"
	args := os.Args[1:]
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd = args[0]
		args = args[1:]
	}

	var err error
	switch cmd {
	case "serve":
		err = serve(args)
	case "run":
		err = runScript(args)
	default:
		err = fmt.Errorf("unknown command %q (expected serve or run)", cmd)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "fartool:", err)
		os.Exit(1)
	}
}

// engine bundles the wired components shared by both commands.
type engine struct {
	cfg    config.Config
	log    *slog.Logger
	store  *store.LibSQLStore
	queue  *queue.Queue
	runner *runner.Runner
}

func buildEngine(ctx context.Context) (*engine, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log := newLogger(cfg.LogLevel)
	slog.SetDefault(log)

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	st, err := store.NewLibSQLStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	v, err := vault.New(cfg.VaultKeyHex)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("vault: %w", err)
	}

	limiter := ratelimit.New(
		ratelimit.WithWindow(cfg.RateWindow()),
		ratelimit.WithLimit(cfg.RateLimit),
	)
	retrier := platform.NewRetrier(cfg.RetryMax, cfg.RetryBase(), cfg.RetryCap())
	client := platform.NewClient(v, limiter, retrier, platform.Config{BaseURL: cfg.PlatformBaseURL})
	game := platform.NewGameClient(v, retrier, platform.GameConfig{
		ClaimURL: cfg.GameClaimURL,
		APIKey:   cfg.GameAPIKey,
	})

	exec := executor.New(client, game, st, st, st, executor.WithLogger(log))
	q := queue.New(exec,
		queue.WithPoolSize(cfg.PoolSize),
		queue.WithAttempts(cfg.JobAttempts),
		queue.WithBackoff(cfg.JobBackoff()),
		queue.WithLogger(log),
	)
	run := runner.New(q, st, st, runner.WithLogger(log))

	return &engine{cfg: cfg, log: log, store: st, queue: q, runner: run}, nil
}

func (e *engine) close() {
	e.queue.Shutdown()
	if err := e.store.Close(); err != nil {
		e.log.Error("closing store", "error", err)
	}
}

func serve(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", "", "listen address (overrides config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := buildEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.close()

	validator, err := validation.New()
	if err != nil {
		return fmt.Errorf("validator: %w", err)
	}

	if eng.cfg.SchedulerStart {
		sched := scheduler.New(eng.store, eng.runner, eng.log)
		if err := sched.RecoverMissed(ctx); err != nil {
			eng.log.Warn("recovering missed scheduled runs", "error", err)
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		defer func() {
			if err := sched.Stop(); err != nil {
				eng.log.Error("stopping scheduler", "error", err)
			}
		}()
	}

	listen := eng.cfg.ListenAddr
	if *addr != "" {
		listen = *addr
	}

	srv := server.New(eng.runner, eng.store, eng.store, eng.store, validator, eng.log)
	eng.log.Info("engine listening", "addr", listen, "db", eng.cfg.DBPath)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(listen) }()

	select {
	case <-ctx.Done():
		eng.log.Info("shutting down")
		return nil
	case err := <-errCh:
		return err
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(handler))
}
