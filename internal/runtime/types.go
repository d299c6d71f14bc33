package runtime

import (
	"context"
	"errors"
)

// ErrContainerNotFound is returned when an operation targets a container the
// engine no longer knows about. Teardown paths treat it as success.
var ErrContainerNotFound = errors.New("container not found")

// PortBinding maps a host port to a container port
type PortBinding struct {
	HostPort      int
	ContainerPort int
	Protocol      string
}

// ContainerSpec represents everything needed to create a lab container
type ContainerSpec struct {
	Name          string
	Image         string
	Env           []string
	Ports         []PortBinding
	WorkspaceDir  string
	WorkspacePath string
	CPU           float64
	Memory        int64
	Labels        map[string]string
}

// ContainerState represents the observed state of a container
type ContainerState struct {
	ID       string
	Running  bool
	Status   string
	ExitCode int
}

// ContainerRuntime abstracts the container engine so the lifecycle service
// never talks to a specific engine client directly
type ContainerRuntime interface {
	CreateContainer(ctx context.Context, spec ContainerSpec) (string, error)
	StartContainer(ctx context.Context, id string) error
	StopContainer(ctx context.Context, id string) error
	RemoveContainer(ctx context.Context, id string) error
	InspectContainer(ctx context.Context, id string) (ContainerState, error)
	Close() error
}
