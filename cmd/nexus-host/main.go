package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"nexus/internal/config"
	"nexus/internal/db"
	"nexus/internal/hub"
	"nexus/internal/jobs"
	"nexus/internal/tuning"
)

// The host daemon owns the game clocks. Run exactly one per deployment.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadHost()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	tun, err := tuning.Load(cfg.TuningPath)
	if err != nil {
		logger.Error("load tuning", "err", err)
		os.Exit(1)
	}

	st, closeStore, err := db.Open(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("store open failed", "err", err)
		os.Exit(1)
	}
	defer closeStore()

	h := hub.New(st, tun, logger)
	if err := h.EnsureSeeded(ctx, "", tun.Accounts.StartingBalance); err != nil {
		logger.Error("seed failed", "err", err)
		os.Exit(1)
	}

	scheduler := jobs.NewScheduler(h, tun, logger)
	if err := scheduler.Start(ctx); err != nil {
		logger.Error("scheduler start failed", "err", err)
		os.Exit(1)
	}

	logger.Info("nexus host running", "backend", cfg.Store.Backend)
	<-ctx.Done()
	scheduler.Stop()
	logger.Info("nexus host shutdown")
}
