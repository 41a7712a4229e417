// Package jobs is the host-side tick scheduler. Exactly one host daemon runs
// it; clients never drive game clocks themselves.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"nexus/internal/hub"
	"nexus/internal/tuning"
)

type Scheduler struct {
	cron *cron.Cron
	hub  *hub.Hub
	cfg  tuning.Tuning
	log  *slog.Logger
}

func NewScheduler(h *hub.Hub, cfg tuning.Tuning, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		hub:  h,
		cfg:  cfg,
		log:  logger,
	}
}

// Start registers the game ticks and launches the scheduler. A failed tick is
// logged and skipped; the next one starts from current state.
func (s *Scheduler) Start(ctx context.Context) error {
	jobs := []struct {
		name  string
		every int
		run   func(context.Context) error
	}{
		{"treasury-accrual", s.cfg.Treasury.TickSeconds, s.hub.Treasury.AccrueTick},
		{"core-damage", s.cfg.Boss.TickSeconds, s.hub.Boss.DamageTick},
	}
	for _, job := range jobs {
		job := job
		spec := fmt.Sprintf("@every %ds", job.every)
		_, err := s.cron.AddFunc(spec, func() {
			tickCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			if err := job.run(tickCtx); err != nil {
				s.log.Error("tick failed", "job", job.name, "err", err)
			}
		})
		if err != nil {
			return fmt.Errorf("schedule %s: %w", job.name, err)
		}
		s.log.Info("tick scheduled", "job", job.name, "every", spec)
	}
	s.cron.Start()
	return nil
}

// Stop halts scheduling and waits for in-flight ticks to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
