package lab

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redmage123/course-creator-sub023/pkg/api"
)

// OwnerKey identifies the student/course pair a lab belongs to. At most one
// active lab exists per owner key.
type OwnerKey struct {
	StudentID string
	CourseID  string
}

// String returns the composite key used for registry indexing
func (k OwnerKey) String() string {
	return k.StudentID + "/" + k.CourseID
}

func (k OwnerKey) validate() error {
	if strings.TrimSpace(k.StudentID) == "" {
		return fmt.Errorf("%w: student id is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(k.CourseID) == "" {
		return fmt.Errorf("%w: course id is required", ErrInvalidRequest)
	}
	return nil
}

// Filter selects labs when listing the registry
type Filter struct {
	StudentID string
	CourseID  string
	Status    api.LabStatus
}

// labRecord is the registry entry for one lab. All mutations happen under mu,
// which serializes lifecycle transitions for this lab.
type labRecord struct {
	mu sync.Mutex

	id           string
	owner        OwnerKey
	status       api.LabStatus
	containerID  string
	endpoints    map[api.IDEType]api.Endpoint
	workspaceDir string
	createdAt    time.Time
	lastAccessed time.Time
	resources    api.ResourceSpec
	ports        []int
}

// snapshot returns a consistent copy of the record for API consumers
func (r *labRecord) snapshot() *api.Lab {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *labRecord) snapshotLocked() *api.Lab {
	endpoints := make(map[api.IDEType]api.Endpoint, len(r.endpoints))
	for k, v := range r.endpoints {
		endpoints[k] = v
	}

	return &api.Lab{
		ID:             r.id,
		StudentID:      r.owner.StudentID,
		CourseID:       r.owner.CourseID,
		Status:         r.status,
		ContainerID:    r.containerID,
		Endpoints:      endpoints,
		CreatedAt:      r.createdAt,
		LastAccessedAt: r.lastAccessed,
		Resources:      r.resources,
	}
}

func (r *labRecord) currentStatus() api.LabStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}
