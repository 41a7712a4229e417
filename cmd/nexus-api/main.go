package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nexus/internal/api"
	"nexus/internal/config"
	"nexus/internal/db"
	"nexus/internal/hub"
	"nexus/internal/tuning"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPI()
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
	if err := h.EnsureSeeded(ctx, cfg.AdminPassword, tun.Accounts.StartingBalance); err != nil {
		logger.Error("seed failed", "err", err)
		os.Exit(1)
	}

	server := api.New(h, logger)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("nexus api listening", "addr", cfg.Addr, "backend", cfg.Store.Backend)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
