package lab

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redmage123/course-creator-sub023/pkg/api"
)

func newTestReaper(m *Manager, idleTimeout time.Duration) *IdleReaper {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewIdleReaper(m, time.Second, idleTimeout, logger)
}

// backdate pushes a lab's last access into the past
func backdate(t *testing.T, m *Manager, labID string, age time.Duration) {
	t.Helper()

	rec, ok := m.lookup(labID)
	require.True(t, ok)

	rec.mu.Lock()
	rec.lastAccessed = time.Now().Add(-age)
	rec.mu.Unlock()
}

func TestIdleSweepStopsStaleLabs(t *testing.T) {
	m, rt, allocator := newTestManager(t, testConfig(t), 10)
	reaper := newTestReaper(m, 10*time.Minute)

	lab, err := m.CreateLab(context.Background(), OwnerKey{"s1", "c1"}, api.IDEEditor)
	require.NoError(t, err)

	backdate(t, m, lab.ID, 20*time.Minute)
	reaper.Sweep(context.Background())

	got, err := m.GetLab(lab.ID)
	require.NoError(t, err)
	assert.Equal(t, api.LabIdleStopped, got.Status)

	// The container is stopped, not removed, so the workspace volume
	// survives; the ports stay with the lab until it is deleted.
	c := rt.Container(lab.ContainerID)
	require.NotNil(t, c)
	assert.False(t, c.Running)
	assert.Equal(t, allocator.Capacity()-1, allocator.Free())
}

func TestIdleSweepSparesActiveLabs(t *testing.T) {
	m, _, _ := newTestManager(t, testConfig(t), 10)
	reaper := newTestReaper(m, 10*time.Minute)

	lab, err := m.CreateLab(context.Background(), OwnerKey{"s1", "c1"}, api.IDEEditor)
	require.NoError(t, err)

	reaper.Sweep(context.Background())

	got, err := m.GetLab(lab.ID)
	require.NoError(t, err)
	assert.Equal(t, api.LabRunning, got.Status)
}

func TestTouchDefersIdleStop(t *testing.T) {
	m, _, _ := newTestManager(t, testConfig(t), 10)
	reaper := newTestReaper(m, 10*time.Minute)

	lab, err := m.CreateLab(context.Background(), OwnerKey{"s1", "c1"}, api.IDEEditor)
	require.NoError(t, err)

	backdate(t, m, lab.ID, 20*time.Minute)
	require.NoError(t, m.Touch(lab.ID))
	reaper.Sweep(context.Background())

	got, err := m.GetLab(lab.ID)
	require.NoError(t, err)
	assert.Equal(t, api.LabRunning, got.Status)
}

func TestIdleStoppedLabIsReturnedUnchangedOnCreate(t *testing.T) {
	m, _, _ := newTestManager(t, testConfig(t), 10)
	reaper := newTestReaper(m, 10*time.Minute)
	owner := OwnerKey{"s1", "c1"}

	lab, err := m.CreateLab(context.Background(), owner, api.IDEEditor)
	require.NoError(t, err)

	backdate(t, m, lab.ID, 20*time.Minute)
	reaper.Sweep(context.Background())

	// No auto-resume: the owner still maps to the stopped lab, and a new
	// environment requires an explicit delete first.
	same, err := m.CreateLab(context.Background(), owner, api.IDEEditor)
	require.NoError(t, err)
	assert.Equal(t, lab.ID, same.ID)
	assert.Equal(t, api.LabIdleStopped, same.Status)
}

func TestDeleteIdleStoppedLabReleasesPorts(t *testing.T) {
	m, rt, allocator := newTestManager(t, testConfig(t), 10)
	reaper := newTestReaper(m, 10*time.Minute)

	lab, err := m.CreateLab(context.Background(), OwnerKey{"s1", "c1"}, api.IDEEditor)
	require.NoError(t, err)

	backdate(t, m, lab.ID, 20*time.Minute)
	reaper.Sweep(context.Background())

	require.NoError(t, m.DeleteLab(context.Background(), lab.ID))
	assert.Equal(t, allocator.Capacity(), allocator.Free())
	assert.Equal(t, 0, rt.ContainerCount())
}
