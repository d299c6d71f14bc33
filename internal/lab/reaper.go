package lab

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// IdleReaper stops labs that have not been accessed within the idle timeout,
// reclaiming CPU and memory while keeping the workspace volume intact.
type IdleReaper struct {
	manager     *Manager
	interval    time.Duration
	idleTimeout time.Duration
	logger      *logrus.Logger
}

// NewIdleReaper creates an idle reaper for the manager's registry
func NewIdleReaper(manager *Manager, interval, idleTimeout time.Duration, logger *logrus.Logger) *IdleReaper {
	return &IdleReaper{
		manager:     manager,
		interval:    interval,
		idleTimeout: idleTimeout,
		logger:      logger,
	}
}

// Run sweeps until the context is cancelled
func (r *IdleReaper) Run(ctx context.Context) {
	r.logger.WithFields(logrus.Fields{
		"interval":     r.interval.String(),
		"idle_timeout": r.idleTimeout.String(),
	}).Info("Idle reaper started")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Idle reaper stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep stops every running lab whose last access is older than the idle
// timeout. There is no resume path: a stopped lab stays stopped until the
// student deletes it and requests a fresh one.
func (r *IdleReaper) Sweep(ctx context.Context) {
	now := time.Now()
	for _, rec := range r.manager.runningLabs() {
		rec.mu.Lock()
		idleFor := now.Sub(rec.lastAccessed)
		rec.mu.Unlock()

		if idleFor > r.idleTimeout {
			r.manager.stopIdle(ctx, rec, idleFor)
		}
	}
}
