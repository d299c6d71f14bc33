// Package fixtures provides shared test doubles for the lab manager.
package fixtures

import (
	"context"
	"fmt"
	"sync"

	"github.com/redmage123/course-creator-sub023/internal/runtime"
)

// FakeContainer is the in-memory state of one container in the fake engine
type FakeContainer struct {
	ID       string
	Running  bool
	ExitCode int
	Spec     runtime.ContainerSpec
}

// FakeRuntime is an in-memory ContainerRuntime. Tests can inject failures per
// operation and simulate external events like a container being killed.
type FakeRuntime struct {
	mu         sync.Mutex
	seq        int
	containers map[string]*FakeContainer

	// Error injection; when set, the corresponding call fails.
	CreateErr  error
	StartErr   error
	StopErr    error
	RemoveErr  error
	InspectErr error

	// Call records, in order.
	Stopped []string
	Removed []string
}

// NewFakeRuntime creates an empty fake engine
func NewFakeRuntime() *FakeRuntime {
	return &FakeRuntime{
		containers: make(map[string]*FakeContainer),
	}
}

// CreateContainer registers a new fake container
func (f *FakeRuntime) CreateContainer(ctx context.Context, spec runtime.ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.CreateErr != nil {
		return "", f.CreateErr
	}

	f.seq++
	id := fmt.Sprintf("fake-container-%d", f.seq)
	f.containers[id] = &FakeContainer{ID: id, Spec: spec}
	return id, nil
}

// StartContainer marks a container running
func (f *FakeRuntime) StartContainer(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.StartErr != nil {
		return f.StartErr
	}

	c, ok := f.containers[id]
	if !ok {
		return runtime.ErrContainerNotFound
	}
	c.Running = true
	return nil
}

// StopContainer marks a container stopped
func (f *FakeRuntime) StopContainer(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.StopErr != nil {
		return f.StopErr
	}

	c, ok := f.containers[id]
	if !ok {
		return runtime.ErrContainerNotFound
	}
	c.Running = false
	f.Stopped = append(f.Stopped, id)
	return nil
}

// RemoveContainer deletes a container from the fake engine
func (f *FakeRuntime) RemoveContainer(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.RemoveErr != nil {
		return f.RemoveErr
	}

	if _, ok := f.containers[id]; !ok {
		return runtime.ErrContainerNotFound
	}
	delete(f.containers, id)
	f.Removed = append(f.Removed, id)
	return nil
}

// InspectContainer reports a container's state
func (f *FakeRuntime) InspectContainer(ctx context.Context, id string) (runtime.ContainerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.InspectErr != nil {
		return runtime.ContainerState{}, f.InspectErr
	}

	c, ok := f.containers[id]
	if !ok {
		return runtime.ContainerState{}, runtime.ErrContainerNotFound
	}

	status := "exited"
	if c.Running {
		status = "running"
	}
	return runtime.ContainerState{
		ID:       c.ID,
		Running:  c.Running,
		Status:   status,
		ExitCode: c.ExitCode,
	}, nil
}

// Close implements ContainerRuntime
func (f *FakeRuntime) Close() error {
	return nil
}

// Kill simulates a container dying outside the manager's control
func (f *FakeRuntime) Kill(id string, exitCode int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.containers[id]; ok {
		c.Running = false
		c.ExitCode = exitCode
	}
}

// Destroy simulates a container being removed behind the manager's back
func (f *FakeRuntime) Destroy(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, id)
}

// Container returns the fake container with the given ID, or nil
func (f *FakeRuntime) Container(id string) *FakeContainer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.containers[id]
}

// ContainerCount returns the number of containers the fake engine holds
func (f *FakeRuntime) ContainerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.containers)
}
