package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/markbook/markbook/worker/internal/config"
	"github.com/markbook/markbook/worker/internal/runner"
	"github.com/markbook/markbook/worker/internal/shipper"
	"github.com/markbook/markbook/worker/internal/source"
)

// passTimeout bounds one scheduled pass over every tenant.
const passTimeout = 10 * time.Minute

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	envPath := flag.String("env", ".env", "optional dotenv file with secrets")
	once := flag.Bool("once", false, "run a single pass, flush and exit")
	flag.Parse()

	var level slog.LevelVar
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("failed to load env file", "path", *envPath, "err", err)
		os.Exit(1)
	}

	slog.Info("markbook-worker starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	level.Set(cfg.Worker.Level())
	slog.Info("config loaded",
		"server_endpoint", cfg.Worker.ServerEndpoint,
		"tenants", len(cfg.Worker.Tenants),
		"schedule", cfg.Worker.Schedule,
		"parallelism", cfg.Worker.Parallelism,
	)
	if len(cfg.Worker.Tenants) == 0 {
		slog.Warn("no tenants configured, worker will idle")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := source.Open(ctx, cfg.Worker.Database.DSN(), cfg.Worker.Database.MaxConns)
	if err != nil {
		slog.Error("failed to open database", "dsn_env", cfg.Worker.Database.DSNEnv, "err", err)
		os.Exit(1)
	}
	defer db.Close()

	ship := shipper.New(cfg.Worker)
	go ship.Run(ctx)

	run := runner.New(db, ship, cfg.Worker)
	pass := func() {
		passCtx, done := context.WithTimeout(ctx, passTimeout)
		defer done()
		if err := run.RunOnce(passCtx); err != nil {
			slog.Warn("pass finished with errors", "err", err)
		}
	}

	if *once {
		pass()
		flush(ctx, ship)
		slog.Info("markbook-worker single pass done", "unsent", ship.Pending())
		return
	}

	sched := runner.NewScheduler(pass)
	if err := sched.Reschedule(cfg.Worker.Schedule); err != nil {
		slog.Error("invalid schedule", "err", err)
		os.Exit(1)
	}

	// Tenants, thresholds, parallelism, schedule and log level follow the
	// file. Endpoint, auth and database changes need a restart.
	go func() {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			level.Set(updated.Worker.Level())
			run.Update(updated.Worker)
			if err := sched.Reschedule(updated.Worker.Schedule); err != nil {
				slog.Error("config hot-reload: schedule rejected", "err", err)
			}
			slog.Info("config hot-reloaded", "tenants", len(updated.Worker.Tenants))
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	// First pass immediately, then on schedule.
	sched.Start()
	sched.RunNow()

	<-ctx.Done()
	slog.Info("markbook-worker shutting down")
	<-sched.Stop().Done()
}

// flush waits up to 30s for the shipper buffer to empty.
func flush(ctx context.Context, ship *shipper.Shipper) {
	deadline := time.NewTimer(30 * time.Second)
	defer deadline.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for ship.Pending() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-tick.C:
		}
	}
}
