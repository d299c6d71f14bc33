package lab

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redmage123/course-creator-sub023/pkg/api"
)

func newTestMonitor(m *Manager) *HealthMonitor {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewHealthMonitor(m, time.Second, logger)
}

func TestHealthSweepDetectsCrashedContainer(t *testing.T) {
	m, rt, allocator := newTestManager(t, testConfig(t), 10)
	monitor := newTestMonitor(m)

	lab, err := m.CreateLab(context.Background(), OwnerKey{"s1", "c1"}, api.IDEEditor)
	require.NoError(t, err)

	rt.Kill(lab.ContainerID, 137)
	monitor.Sweep(context.Background())

	got, err := m.GetLab(lab.ID)
	require.NoError(t, err)
	assert.Equal(t, api.LabError, got.Status)
	assert.Equal(t, allocator.Capacity(), allocator.Free())

	// The owner key is freed, so the student can request a fresh lab while
	// the errored record awaits deletion.
	fresh, err := m.CreateLab(context.Background(), OwnerKey{"s1", "c1"}, api.IDEEditor)
	require.NoError(t, err)
	assert.NotEqual(t, lab.ID, fresh.ID)
}

func TestHealthSweepDetectsMissingContainer(t *testing.T) {
	m, rt, allocator := newTestManager(t, testConfig(t), 10)
	monitor := newTestMonitor(m)

	lab, err := m.CreateLab(context.Background(), OwnerKey{"s1", "c1"}, api.IDEEditor)
	require.NoError(t, err)

	rt.Destroy(lab.ContainerID)
	monitor.Sweep(context.Background())

	got, err := m.GetLab(lab.ID)
	require.NoError(t, err)
	assert.Equal(t, api.LabError, got.Status)
	assert.Equal(t, allocator.Capacity(), allocator.Free())
}

func TestHealthSweepIgnoresTransientRuntimeErrors(t *testing.T) {
	m, rt, _ := newTestManager(t, testConfig(t), 10)
	monitor := newTestMonitor(m)

	lab, err := m.CreateLab(context.Background(), OwnerKey{"s1", "c1"}, api.IDEEditor)
	require.NoError(t, err)

	// The engine is briefly unreachable; the lab must not be evicted.
	rt.InspectErr = errors.New("connection refused")
	monitor.Sweep(context.Background())

	got, err := m.GetLab(lab.ID)
	require.NoError(t, err)
	assert.Equal(t, api.LabRunning, got.Status)

	// Once the engine recovers the sweep sees the healthy container.
	rt.InspectErr = nil
	monitor.Sweep(context.Background())

	got, err = m.GetLab(lab.ID)
	require.NoError(t, err)
	assert.Equal(t, api.LabRunning, got.Status)
}

func TestHealthSweepLeavesHealthyLabsAlone(t *testing.T) {
	m, _, _ := newTestManager(t, testConfig(t), 10)
	monitor := newTestMonitor(m)

	lab, err := m.CreateLab(context.Background(), OwnerKey{"s1", "c1"}, api.IDEEditor)
	require.NoError(t, err)

	monitor.Sweep(context.Background())

	got, err := m.GetLab(lab.ID)
	require.NoError(t, err)
	assert.Equal(t, api.LabRunning, got.Status)
}
