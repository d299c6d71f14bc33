package lab

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/redmage123/course-creator-sub023/internal/audit"
	"github.com/redmage123/course-creator-sub023/internal/config"
	"github.com/redmage123/course-creator-sub023/internal/ports"
	"github.com/redmage123/course-creator-sub023/internal/runtime"
	"github.com/redmage123/course-creator-sub023/pkg/api"
)

// Container labels applied to every lab container so operators can find
// leftovers after an unclean process exit.
const (
	labelManaged = "lab.manager"
	labelLabID   = "lab.id"
	labelOwner   = "lab.owner"
)

// Manager owns the in-memory lab registry and drives every lifecycle
// transition. The registry and the port pool are the only shared mutable
// state; both are mutated exclusively through this type and the Allocator.
type Manager struct {
	cfg       config.Config
	runtime   runtime.ContainerRuntime
	allocator *ports.Allocator
	auditLog  *audit.Log
	logger    *logrus.Logger

	mu     sync.RWMutex
	labs   map[string]*labRecord
	owners map[string]string // owner key -> lab id, active labs only

	provisionSem *semaphore.Weighted
}

// NewManager creates a lab lifecycle manager. auditLog may be nil, in which
// case lifecycle events are only logged.
func NewManager(cfg config.Config, rt runtime.ContainerRuntime, allocator *ports.Allocator, auditLog *audit.Log, logger *logrus.Logger) *Manager {
	return &Manager{
		cfg:          cfg,
		runtime:      rt,
		allocator:    allocator,
		auditLog:     auditLog,
		logger:       logger,
		labs:         make(map[string]*labRecord),
		owners:       make(map[string]string),
		provisionSem: semaphore.NewWeighted(cfg.Lifecycle.MaxConcurrent),
	}
}

// CreateLab provisions a lab for the owner, or returns the existing lab
// unchanged when one is already active for that owner key. On any
// provisioning failure every partially-acquired resource is released before
// the error reaches the caller.
func (m *Manager) CreateLab(ctx context.Context, owner OwnerKey, ide api.IDEType) (*api.Lab, error) {
	if err := owner.validate(); err != nil {
		return nil, err
	}
	if ide == "" {
		ide = api.IDEEditor
	}
	imageSpec, ok := m.cfg.Images[ide]
	if !ok {
		return nil, fmt.Errorf("%w: unknown ide type %q", ErrInvalidRequest, ide)
	}

	rec, existing, err := m.register(owner)
	if err != nil {
		return nil, err
	}
	if existing {
		return rec.snapshot(), nil
	}

	m.record(rec.id, owner, "created", string(ide))

	if err := m.provisionSem.Acquire(ctx, 1); err != nil {
		m.unregister(rec)
		return nil, fmt.Errorf("waiting for provisioning slot: %w", err)
	}
	defer m.provisionSem.Release(1)

	// Provisioning runs under its own deadline, detached from the caller's
	// context: an abandoned request must still reach RUNNING or be rolled
	// back, never left half-done.
	pctx, cancel := context.WithTimeout(context.Background(), m.cfg.Lifecycle.ProvisionTimeout)
	defer cancel()

	rec.mu.Lock()
	defer rec.mu.Unlock()

	rec.status = api.LabProvisioning
	if err := m.provisionLocked(pctx, rec, ide, imageSpec); err != nil {
		m.rollbackLocked(pctx, rec)
		m.record(rec.id, owner, "provision_failed", err.Error())
		return nil, err
	}

	m.record(rec.id, owner, "provisioned", rec.containerID)
	m.logger.WithFields(logrus.Fields{
		"lab_id": rec.id,
		"owner":  owner.String(),
		"ide":    ide,
	}).Info("Lab is running")

	return rec.snapshotLocked(), nil
}

// register claims the owner key and reserves a registry slot. It returns the
// existing record when the owner already has an active lab.
func (m *Manager) register(owner OwnerKey) (*labRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.owners[owner.String()]; ok {
		return m.labs[id], true, nil
	}

	// The owners index holds exactly the labs in an active state, so its
	// size is the active-lab count.
	if len(m.owners) >= m.cfg.Lifecycle.MaxLabs {
		return nil, false, fmt.Errorf("%w: %d labs active", ErrCapacity, len(m.owners))
	}

	now := time.Now()
	rec := &labRecord{
		id:           uuid.NewString(),
		owner:        owner,
		status:       api.LabRequested,
		endpoints:    make(map[api.IDEType]api.Endpoint),
		createdAt:    now,
		lastAccessed: now,
		resources: api.ResourceSpec{
			CPU:    m.cfg.Runtime.DefaultCPU,
			Memory: m.cfg.Runtime.DefaultMemory,
		},
	}
	m.labs[rec.id] = rec
	m.owners[owner.String()] = rec.id
	return rec, false, nil
}

// unregister removes a record that never acquired any resources
func (m *Manager) unregister(rec *labRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.labs, rec.id)
	if m.owners[rec.owner.String()] == rec.id {
		delete(m.owners, rec.owner.String())
	}
}

// provisionLocked allocates ports, prepares the workspace volume and brings
// the container up. Called with rec.mu held.
func (m *Manager) provisionLocked(ctx context.Context, rec *labRecord, ide api.IDEType, imageSpec config.ImageSpec) error {
	allocated, err := m.allocator.Allocate(1)
	if err != nil {
		return err
	}
	rec.ports = allocated
	hostPort := allocated[0]

	wsDir := filepath.Join(m.cfg.WorkspaceRoot, rec.id)
	if err := os.MkdirAll(wsDir, 0755); err != nil {
		return fmt.Errorf("failed to create workspace directory: %w", err)
	}
	rec.workspaceDir = wsDir

	spec := runtime.ContainerSpec{
		Name:  "lab-" + rec.id[:8],
		Image: imageSpec.Image,
		Ports: []runtime.PortBinding{{
			HostPort:      hostPort,
			ContainerPort: imageSpec.ContainerPort,
		}},
		WorkspaceDir:  wsDir,
		WorkspacePath: m.cfg.Runtime.WorkspacePath,
		CPU:           rec.resources.CPU,
		Memory:        rec.resources.Memory,
		Labels: map[string]string{
			labelManaged: "true",
			labelLabID:   rec.id,
			labelOwner:   rec.owner.String(),
		},
	}

	containerID, err := m.runtime.CreateContainer(ctx, spec)
	if err != nil {
		return &RuntimeError{Op: "create", Err: err}
	}
	rec.containerID = containerID

	if err := m.runtime.StartContainer(ctx, containerID); err != nil {
		return &RuntimeError{Op: "start", Err: err}
	}

	rec.status = api.LabRunning
	rec.endpoints[ide] = api.Endpoint{
		HostPort: hostPort,
		URL:      fmt.Sprintf("http://%s:%d", m.cfg.HTTP.PublicHost, hostPort),
	}
	return nil
}

// rollbackLocked releases everything a failed provisioning attempt acquired
// and evicts the record, so no orphaned resources and no lab stuck in a
// non-terminal state survive the failure. Called with rec.mu held.
func (m *Manager) rollbackLocked(ctx context.Context, rec *labRecord) {
	if rec.containerID != "" {
		if err := m.runtime.RemoveContainer(ctx, rec.containerID); err != nil && !errors.Is(err, runtime.ErrContainerNotFound) {
			m.logger.WithError(err).WithField("lab_id", rec.id).Warn("Failed to remove container during rollback")
		}
		rec.containerID = ""
	}
	if len(rec.ports) > 0 {
		m.allocator.Release(rec.ports)
		rec.ports = nil
	}
	if rec.workspaceDir != "" {
		if err := os.RemoveAll(rec.workspaceDir); err != nil {
			m.logger.WithError(err).WithField("lab_id", rec.id).Warn("Failed to remove workspace during rollback")
		}
		rec.workspaceDir = ""
	}
	rec.status = api.LabError

	m.mu.Lock()
	delete(m.labs, rec.id)
	if m.owners[rec.owner.String()] == rec.id {
		delete(m.owners, rec.owner.String())
	}
	m.mu.Unlock()
}

// GetLab returns the current state of a lab
func (m *Manager) GetLab(id string) (*api.Lab, error) {
	rec, ok := m.lookup(id)
	if !ok {
		return nil, ErrNotFound
	}
	return rec.snapshot(), nil
}

// ListLabs returns a snapshot of labs matching the filter
func (m *Manager) ListLabs(filter Filter) []*api.Lab {
	m.mu.RLock()
	records := make([]*labRecord, 0, len(m.labs))
	for _, rec := range m.labs {
		records = append(records, rec)
	}
	m.mu.RUnlock()

	labs := make([]*api.Lab, 0, len(records))
	for _, rec := range records {
		snap := rec.snapshot()
		if filter.StudentID != "" && snap.StudentID != filter.StudentID {
			continue
		}
		if filter.CourseID != "" && snap.CourseID != filter.CourseID {
			continue
		}
		if filter.Status != "" && snap.Status != filter.Status {
			continue
		}
		labs = append(labs, snap)
	}
	return labs
}

// Touch updates a lab's last-accessed timestamp
func (m *Manager) Touch(id string) error {
	rec, ok := m.lookup(id)
	if !ok {
		return ErrNotFound
	}

	rec.mu.Lock()
	rec.lastAccessed = time.Now()
	rec.mu.Unlock()
	return nil
}

// WorkspaceDir resolves a lab's workspace volume path for the file gateway.
// The volume is only reachable while the lab is running or idle-stopped;
// anything else is reported as not found. Resolving counts as an access.
func (m *Manager) WorkspaceDir(id string) (string, error) {
	rec, ok := m.lookup(id)
	if !ok {
		return "", ErrNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.status != api.LabRunning && rec.status != api.LabIdleStopped {
		return "", ErrNotFound
	}
	rec.lastAccessed = time.Now()
	return rec.workspaceDir, nil
}

// DeleteLab tears a lab down: the container is stopped and removed, ports are
// released and the record is evicted. A container the engine has already lost
// is treated as success.
func (m *Manager) DeleteLab(ctx context.Context, id string) error {
	rec, ok := m.lookup(id)
	if !ok {
		return ErrNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.status == api.LabDeleted {
		return ErrNotFound
	}

	m.teardownLocked(ctx, rec)
	rec.status = api.LabDeleted
	rec.containerID = ""

	m.mu.Lock()
	delete(m.labs, rec.id)
	if m.owners[rec.owner.String()] == rec.id {
		delete(m.owners, rec.owner.String())
	}
	m.mu.Unlock()

	m.record(rec.id, rec.owner, "deleted", "")
	m.logger.WithFields(logrus.Fields{
		"lab_id": rec.id,
		"owner":  rec.owner.String(),
	}).Info("Lab deleted")
	return nil
}

// teardownLocked stops and removes the lab container and releases its ports.
// Port release happens only after the stop call has returned, so a port is
// never reusable while its container may still be bound to it.
func (m *Manager) teardownLocked(ctx context.Context, rec *labRecord) {
	if rec.containerID != "" {
		if err := m.runtime.StopContainer(ctx, rec.containerID); err != nil && !errors.Is(err, runtime.ErrContainerNotFound) {
			m.logger.WithError(err).WithField("lab_id", rec.id).Warn("Failed to stop container during teardown")
		}
		if err := m.runtime.RemoveContainer(ctx, rec.containerID); err != nil && !errors.Is(err, runtime.ErrContainerNotFound) {
			m.logger.WithError(err).WithField("lab_id", rec.id).Warn("Failed to remove container during teardown")
		}
	}

	if len(rec.ports) > 0 {
		m.allocator.Release(rec.ports)
		rec.ports = nil
	}

	if rec.workspaceDir != "" {
		if err := os.RemoveAll(rec.workspaceDir); err != nil {
			m.logger.WithError(err).WithField("lab_id", rec.id).Warn("Failed to remove workspace during teardown")
		}
	}
}

// markFailed transitions a running lab to error after its container was found
// dead, releasing ports and any container remnants. The owner key is freed so
// the student can request a fresh lab.
func (m *Manager) markFailed(ctx context.Context, rec *labRecord, reason string) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	m.markFailedLocked(ctx, rec, reason)
}

func (m *Manager) markFailedLocked(ctx context.Context, rec *labRecord, reason string) {
	if rec.status != api.LabRunning {
		return
	}

	if rec.containerID != "" {
		if err := m.runtime.RemoveContainer(ctx, rec.containerID); err != nil && !errors.Is(err, runtime.ErrContainerNotFound) {
			m.logger.WithError(err).WithField("lab_id", rec.id).Warn("Failed to remove crashed container")
		}
	}
	if len(rec.ports) > 0 {
		m.allocator.Release(rec.ports)
		rec.ports = nil
	}
	rec.status = api.LabError

	m.mu.Lock()
	if m.owners[rec.owner.String()] == rec.id {
		delete(m.owners, rec.owner.String())
	}
	m.mu.Unlock()

	m.record(rec.id, rec.owner, "crashed", reason)
	m.logger.WithFields(logrus.Fields{
		"lab_id": rec.id,
		"reason": reason,
	}).Warn("Lab marked as failed")
}

// stopIdle transitions a running lab past the idle threshold to idle_stopped.
// The container is stopped but not removed so the workspace volume survives;
// ports stay assigned to the lab until it is deleted.
func (m *Manager) stopIdle(ctx context.Context, rec *labRecord, idleFor time.Duration) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.status != api.LabRunning {
		return
	}

	if err := m.runtime.StopContainer(ctx, rec.containerID); err != nil {
		if errors.Is(err, runtime.ErrContainerNotFound) {
			// The container vanished underneath us. That is a crash, not an
			// idle stop, so hand it to the failure path.
			m.markFailedLocked(ctx, rec, "container missing during idle stop")
			return
		}
		m.logger.WithError(err).WithField("lab_id", rec.id).Warn("Failed to stop idle container, will retry next sweep")
		return
	}

	rec.status = api.LabIdleStopped
	m.record(rec.id, rec.owner, "idle_stopped", idleFor.String())
	m.logger.WithFields(logrus.Fields{
		"lab_id": rec.id,
		"idle":   idleFor.String(),
	}).Info("Stopped idle lab")
}

// ActiveCount returns the number of labs in an active state
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.owners)
}

// Shutdown deletes every lab still in the registry. Per-lab failures are
// logged and skipped so one bad container cannot block draining the rest.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.labs))
	for id := range m.labs {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	m.logger.WithField("labs", len(ids)).Info("Draining lab registry")
	for _, id := range ids {
		if err := m.DeleteLab(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
			m.logger.WithError(err).WithField("lab_id", id).Error("Failed to delete lab during shutdown")
		}
	}
}

func (m *Manager) lookup(id string) (*labRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.labs[id]
	return rec, ok
}

// record appends to the audit trail, best effort
func (m *Manager) record(labID string, owner OwnerKey, action, detail string) {
	if m.auditLog == nil {
		return
	}
	err := m.auditLog.Record(audit.Event{
		LabID:  labID,
		Owner:  owner.String(),
		Action: action,
		Detail: detail,
	})
	if err != nil {
		m.logger.WithError(err).Warn("Failed to record audit event")
	}
}
