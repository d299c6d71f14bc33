package lab

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redmage123/course-creator-sub023/internal/config"
	"github.com/redmage123/course-creator-sub023/internal/ports"
	"github.com/redmage123/course-creator-sub023/pkg/api"
	"github.com/redmage123/course-creator-sub023/test/fixtures"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		HTTP: config.HTTP{PublicHost: "localhost"},
		Lifecycle: config.Lifecycle{
			IdleTimeout:      time.Hour,
			ProvisionTimeout: 30 * time.Second,
			MaxLabs:          10,
			MaxConcurrent:    4,
		},
		Runtime: config.Runtime{
			DefaultCPU:    1.0,
			DefaultMemory: 1 << 30,
			WorkspacePath: "/home/student/workspace",
		},
		WorkspaceRoot: t.TempDir(),
		Images: map[api.IDEType]config.ImageSpec{
			api.IDEEditor:   {Image: "editor:latest", ContainerPort: 8080},
			api.IDENotebook: {Image: "notebook:latest", ContainerPort: 8888},
		},
	}
}

func newTestManager(t *testing.T, cfg config.Config, poolSize int) (*Manager, *fixtures.FakeRuntime, *ports.Allocator) {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	allocator, err := ports.NewAllocator(31000, 31000+poolSize-1, logger)
	require.NoError(t, err)

	rt := fixtures.NewFakeRuntime()
	return NewManager(cfg, rt, allocator, nil, logger), rt, allocator
}

func TestCreateLabProvisionsContainer(t *testing.T) {
	m, rt, _ := newTestManager(t, testConfig(t), 10)

	lab, err := m.CreateLab(context.Background(), OwnerKey{"s1", "c1"}, api.IDEEditor)
	require.NoError(t, err)

	assert.Equal(t, api.LabRunning, lab.Status)
	assert.NotEmpty(t, lab.ID)
	assert.NotEmpty(t, lab.ContainerID)

	ep, ok := lab.Endpoints[api.IDEEditor]
	require.True(t, ok)
	assert.GreaterOrEqual(t, ep.HostPort, 31000)
	assert.Equal(t, "http://localhost:31000", ep.URL)

	c := rt.Container(lab.ContainerID)
	require.NotNil(t, c)
	assert.True(t, c.Running)
	assert.Equal(t, "editor:latest", c.Spec.Image)
	assert.Equal(t, lab.ID, c.Spec.Labels["lab.id"])
}

func TestCreateLabIdempotentPerOwner(t *testing.T) {
	m, _, _ := newTestManager(t, testConfig(t), 10)
	owner := OwnerKey{"s1", "c1"}

	first, err := m.CreateLab(context.Background(), owner, api.IDEEditor)
	require.NoError(t, err)

	second, err := m.CreateLab(context.Background(), owner, api.IDEEditor)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, m.ActiveCount())
}

func TestCreateLabValidation(t *testing.T) {
	m, _, _ := newTestManager(t, testConfig(t), 10)

	_, err := m.CreateLab(context.Background(), OwnerKey{"", "c1"}, api.IDEEditor)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = m.CreateLab(context.Background(), OwnerKey{"s1", ""}, api.IDEEditor)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = m.CreateLab(context.Background(), OwnerKey{"s1", "c1"}, api.IDEType("vim"))
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestCreateLabRollbackOnCreateFailure(t *testing.T) {
	m, rt, allocator := newTestManager(t, testConfig(t), 10)
	rt.CreateErr = errors.New("engine unavailable")

	_, err := m.CreateLab(context.Background(), OwnerKey{"s1", "c1"}, api.IDEEditor)
	require.Error(t, err)

	var rtErr *RuntimeError
	assert.ErrorAs(t, err, &rtErr)

	// No orphaned resources: the reserved port is free again and the
	// registry holds nothing from the failed attempt.
	assert.Equal(t, allocator.Capacity(), allocator.Free())
	assert.Empty(t, m.ListLabs(Filter{}))
	assert.Equal(t, 0, m.ActiveCount())

	// The owner is free to retry once the engine recovers.
	rt.CreateErr = nil
	lab, err := m.CreateLab(context.Background(), OwnerKey{"s1", "c1"}, api.IDEEditor)
	require.NoError(t, err)
	assert.Equal(t, api.LabRunning, lab.Status)
}

func TestCreateLabRollbackOnStartFailure(t *testing.T) {
	m, rt, allocator := newTestManager(t, testConfig(t), 10)
	rt.StartErr = errors.New("oom")

	_, err := m.CreateLab(context.Background(), OwnerKey{"s1", "c1"}, api.IDEEditor)
	require.Error(t, err)

	// The half-started container must not survive the failed creation.
	assert.Equal(t, 0, rt.ContainerCount())
	assert.Equal(t, allocator.Capacity(), allocator.Free())
	assert.Empty(t, m.ListLabs(Filter{}))
}

func TestCreateLabPortExhaustion(t *testing.T) {
	m, _, allocator := newTestManager(t, testConfig(t), 1)

	_, err := m.CreateLab(context.Background(), OwnerKey{"s1", "c1"}, api.IDEEditor)
	require.NoError(t, err)

	_, err = m.CreateLab(context.Background(), OwnerKey{"s2", "c1"}, api.IDEEditor)
	assert.ErrorIs(t, err, ports.ErrExhausted)
	assert.Equal(t, 0, allocator.Free())
	assert.Equal(t, 1, m.ActiveCount())
}

func TestCreateLabCapacityLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Lifecycle.MaxLabs = 1
	m, _, _ := newTestManager(t, cfg, 10)

	_, err := m.CreateLab(context.Background(), OwnerKey{"s1", "c1"}, api.IDEEditor)
	require.NoError(t, err)

	_, err = m.CreateLab(context.Background(), OwnerKey{"s2", "c1"}, api.IDEEditor)
	assert.ErrorIs(t, err, ErrCapacity)
}

func TestPortUniquenessAcrossLabs(t *testing.T) {
	m, _, _ := newTestManager(t, testConfig(t), 10)

	first, err := m.CreateLab(context.Background(), OwnerKey{"s1", "c1"}, api.IDEEditor)
	require.NoError(t, err)
	second, err := m.CreateLab(context.Background(), OwnerKey{"s2", "c1"}, api.IDENotebook)
	require.NoError(t, err)

	used := make(map[int]bool)
	for _, ep := range first.Endpoints {
		used[ep.HostPort] = true
	}
	for _, ep := range second.Endpoints {
		assert.False(t, used[ep.HostPort], "port %d assigned to both labs", ep.HostPort)
	}
}

func TestGetLab(t *testing.T) {
	m, _, _ := newTestManager(t, testConfig(t), 10)

	created, err := m.CreateLab(context.Background(), OwnerKey{"s1", "c1"}, api.IDEEditor)
	require.NoError(t, err)

	got, err := m.GetLab(created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "s1", got.StudentID)

	_, err = m.GetLab("no-such-lab")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteLabReleasesEverything(t *testing.T) {
	m, rt, allocator := newTestManager(t, testConfig(t), 10)

	lab, err := m.CreateLab(context.Background(), OwnerKey{"s1", "c1"}, api.IDEEditor)
	require.NoError(t, err)
	require.Equal(t, allocator.Capacity()-1, allocator.Free())

	require.NoError(t, m.DeleteLab(context.Background(), lab.ID))

	assert.Equal(t, 0, rt.ContainerCount())
	assert.Equal(t, allocator.Capacity(), allocator.Free())
	_, err = m.GetLab(lab.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting again reports not found; the HTTP layer folds that into an
	// idempotent 200.
	assert.ErrorIs(t, m.DeleteLab(context.Background(), lab.ID), ErrNotFound)
}

func TestDeleteLabToleratesMissingContainer(t *testing.T) {
	m, rt, allocator := newTestManager(t, testConfig(t), 10)

	lab, err := m.CreateLab(context.Background(), OwnerKey{"s1", "c1"}, api.IDEEditor)
	require.NoError(t, err)

	// The container disappears behind the manager's back.
	rt.Destroy(lab.ContainerID)

	require.NoError(t, m.DeleteLab(context.Background(), lab.ID))
	assert.Equal(t, allocator.Capacity(), allocator.Free())
}

func TestDeleteLabFreesOwnerForNewLab(t *testing.T) {
	m, _, _ := newTestManager(t, testConfig(t), 10)
	owner := OwnerKey{"s1", "c1"}

	first, err := m.CreateLab(context.Background(), owner, api.IDEEditor)
	require.NoError(t, err)
	require.NoError(t, m.DeleteLab(context.Background(), first.ID))

	second, err := m.CreateLab(context.Background(), owner, api.IDEEditor)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestTouchUpdatesLastAccessed(t *testing.T) {
	m, _, _ := newTestManager(t, testConfig(t), 10)

	lab, err := m.CreateLab(context.Background(), OwnerKey{"s1", "c1"}, api.IDEEditor)
	require.NoError(t, err)

	before := lab.LastAccessedAt
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, m.Touch(lab.ID))

	got, err := m.GetLab(lab.ID)
	require.NoError(t, err)
	assert.True(t, got.LastAccessedAt.After(before))

	assert.ErrorIs(t, m.Touch("no-such-lab"), ErrNotFound)
}

func TestListLabsFilter(t *testing.T) {
	m, _, _ := newTestManager(t, testConfig(t), 10)

	_, err := m.CreateLab(context.Background(), OwnerKey{"s1", "c1"}, api.IDEEditor)
	require.NoError(t, err)
	_, err = m.CreateLab(context.Background(), OwnerKey{"s2", "c1"}, api.IDEEditor)
	require.NoError(t, err)
	_, err = m.CreateLab(context.Background(), OwnerKey{"s1", "c2"}, api.IDEEditor)
	require.NoError(t, err)

	assert.Len(t, m.ListLabs(Filter{}), 3)
	assert.Len(t, m.ListLabs(Filter{StudentID: "s1"}), 2)
	assert.Len(t, m.ListLabs(Filter{CourseID: "c1"}), 2)
	assert.Len(t, m.ListLabs(Filter{Status: api.LabRunning}), 3)
	assert.Empty(t, m.ListLabs(Filter{Status: api.LabError}))
}

func TestWorkspaceDir(t *testing.T) {
	m, _, _ := newTestManager(t, testConfig(t), 10)

	lab, err := m.CreateLab(context.Background(), OwnerKey{"s1", "c1"}, api.IDEEditor)
	require.NoError(t, err)

	dir, err := m.WorkspaceDir(lab.ID)
	require.NoError(t, err)
	assert.DirExists(t, dir)

	require.NoError(t, m.DeleteLab(context.Background(), lab.ID))
	_, err = m.WorkspaceDir(lab.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestShutdownDrainsEverything(t *testing.T) {
	m, rt, allocator := newTestManager(t, testConfig(t), 10)

	for _, owner := range []OwnerKey{{"s1", "c1"}, {"s2", "c1"}, {"s3", "c2"}} {
		_, err := m.CreateLab(context.Background(), owner, api.IDEEditor)
		require.NoError(t, err)
	}
	require.Equal(t, 3, m.ActiveCount())

	m.Shutdown(context.Background())

	assert.Equal(t, 0, m.ActiveCount())
	assert.Equal(t, 0, rt.ContainerCount())
	assert.Equal(t, allocator.Capacity(), allocator.Free())
}

func TestShutdownContinuesPastFailures(t *testing.T) {
	m, rt, _ := newTestManager(t, testConfig(t), 10)

	for _, owner := range []OwnerKey{{"s1", "c1"}, {"s2", "c1"}} {
		_, err := m.CreateLab(context.Background(), owner, api.IDEEditor)
		require.NoError(t, err)
	}

	// Stop calls fail, but removal still proceeds for every lab.
	rt.StopErr = errors.New("engine hiccup")
	m.Shutdown(context.Background())

	assert.Equal(t, 0, m.ActiveCount())
	assert.Equal(t, 0, rt.ContainerCount())
}
