package lab

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/redmage123/course-creator-sub023/internal/runtime"
	"github.com/redmage123/course-creator-sub023/pkg/api"
)

// HealthMonitor polls every running lab's container and demotes labs whose
// containers have crashed or disappeared.
type HealthMonitor struct {
	manager  *Manager
	interval time.Duration
	logger   *logrus.Logger
}

// NewHealthMonitor creates a health monitor for the manager's registry
func NewHealthMonitor(manager *Manager, interval time.Duration, logger *logrus.Logger) *HealthMonitor {
	return &HealthMonitor{
		manager:  manager,
		interval: interval,
		logger:   logger,
	}
}

// Run polls until the context is cancelled
func (h *HealthMonitor) Run(ctx context.Context) {
	h.logger.WithField("interval", h.interval.String()).Info("Health monitor started")

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Health monitor stopped")
			return
		case <-ticker.C:
			h.Sweep(ctx)
		}
	}
}

// Sweep inspects every running lab once. A container reported stopped or
// missing moves its lab to the error state; a failure to reach the runtime is
// logged and retried on the next sweep so a transient engine hiccup does not
// evict healthy labs.
func (h *HealthMonitor) Sweep(ctx context.Context) {
	for _, rec := range h.manager.runningLabs() {
		rec.mu.Lock()
		containerID := rec.containerID
		rec.mu.Unlock()
		if containerID == "" {
			continue
		}

		state, err := h.manager.runtime.InspectContainer(ctx, containerID)
		if err != nil {
			if errors.Is(err, runtime.ErrContainerNotFound) {
				h.manager.markFailed(ctx, rec, "container missing")
				continue
			}
			h.logger.WithError(err).WithField("lab_id", rec.id).Warn("Health poll failed, will retry next sweep")
			continue
		}

		if !state.Running {
			h.manager.markFailed(ctx, rec, fmt.Sprintf("container %s, exit code %d", state.Status, state.ExitCode))
		}
	}
}

// runningLabs returns a snapshot of records currently in the running state
func (m *Manager) runningLabs() []*labRecord {
	m.mu.RLock()
	records := make([]*labRecord, 0, len(m.labs))
	for _, rec := range m.labs {
		records = append(records, rec)
	}
	m.mu.RUnlock()

	running := records[:0]
	for _, rec := range records {
		if rec.currentStatus() == api.LabRunning {
			running = append(running, rec)
		}
	}
	return running
}
