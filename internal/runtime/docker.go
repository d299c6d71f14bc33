package runtime

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/sirupsen/logrus"
)

// stopGracePeriod is how long the engine waits before killing a container
const stopGracePeriod = 10 // seconds

// DockerRuntime implements the ContainerRuntime interface against the Docker
// Engine API. Every call is bounded by callTimeout so a wedged daemon cannot
// stall a lifecycle transition indefinitely.
type DockerRuntime struct {
	cli         *client.Client
	callTimeout time.Duration
	logger      *logrus.Logger
}

// NewDockerRuntime creates a Docker-backed runtime and verifies the daemon is
// reachable before returning.
func NewDockerRuntime(callTimeout time.Duration, logger *logrus.Logger) (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to reach Docker daemon: %w", err)
	}

	logger.Info("Connected to Docker daemon")
	return &DockerRuntime{
		cli:         cli,
		callTimeout: callTimeout,
		logger:      logger,
	}, nil
}

// CreateContainer creates a lab container with its port bindings, workspace
// mount and resource limits. The image is pulled on demand when the engine
// does not have it locally.
func (d *DockerRuntime) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	ctx, cancel := d.bound(ctx)
	defer cancel()

	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, p := range spec.Ports {
		proto := p.Protocol
		if proto == "" {
			proto = "tcp"
		}
		port := nat.Port(fmt.Sprintf("%d/%s", p.ContainerPort, proto))
		exposed[port] = struct{}{}
		bindings[port] = []nat.PortBinding{{
			HostIP:   "0.0.0.0",
			HostPort: strconv.Itoa(p.HostPort),
		}}
	}

	cfg := &container.Config{
		Image:        spec.Image,
		Env:          spec.Env,
		ExposedPorts: exposed,
		Labels:       spec.Labels,
	}

	hostCfg := &container.HostConfig{
		PortBindings: bindings,
		Resources: container.Resources{
			NanoCPUs: int64(spec.CPU * 1e9),
			Memory:   spec.Memory,
		},
	}
	if spec.WorkspaceDir != "" {
		hostCfg.Mounts = []mount.Mount{{
			Type:   mount.TypeBind,
			Source: spec.WorkspaceDir,
			Target: spec.WorkspacePath,
		}}
	}

	resp, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		if !client.IsErrNotFound(err) {
			return "", fmt.Errorf("failed to create container: %w", err)
		}

		d.logger.WithField("image", spec.Image).Info("Image not found locally, pulling")
		if err := d.pullImage(ctx, spec.Image); err != nil {
			return "", err
		}
		resp, err = d.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
		if err != nil {
			return "", fmt.Errorf("failed to create container after pull: %w", err)
		}
	}

	d.logger.WithFields(logrus.Fields{
		"container_id": resp.ID[:12],
		"name":         spec.Name,
		"image":        spec.Image,
	}).Info("Created container")

	return resp.ID, nil
}

func (d *DockerRuntime) pullImage(ctx context.Context, ref string) error {
	reader, err := d.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	defer reader.Close()

	// The pull only completes once the progress stream is drained.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	return nil
}

// StartContainer starts a created container
func (d *DockerRuntime) StartContainer(ctx context.Context, id string) error {
	ctx, cancel := d.bound(ctx)
	defer cancel()

	if err := d.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		if client.IsErrNotFound(err) {
			return ErrContainerNotFound
		}
		return fmt.Errorf("failed to start container: %w", err)
	}
	return nil
}

// StopContainer stops a container, waiting up to the grace period before the
// engine kills it. A missing container is reported as ErrContainerNotFound.
func (d *DockerRuntime) StopContainer(ctx context.Context, id string) error {
	ctx, cancel := d.bound(ctx)
	defer cancel()

	timeout := stopGracePeriod
	if err := d.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		if client.IsErrNotFound(err) {
			return ErrContainerNotFound
		}
		return fmt.Errorf("failed to stop container: %w", err)
	}
	return nil
}

// RemoveContainer force-removes a container
func (d *DockerRuntime) RemoveContainer(ctx context.Context, id string) error {
	ctx, cancel := d.bound(ctx)
	defer cancel()

	if err := d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		if client.IsErrNotFound(err) {
			return ErrContainerNotFound
		}
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

// InspectContainer returns the observed state of a container
func (d *DockerRuntime) InspectContainer(ctx context.Context, id string) (ContainerState, error) {
	ctx, cancel := d.bound(ctx)
	defer cancel()

	resp, err := d.cli.ContainerInspect(ctx, id)
	if err != nil {
		if client.IsErrNotFound(err) {
			return ContainerState{}, ErrContainerNotFound
		}
		return ContainerState{}, fmt.Errorf("failed to inspect container: %w", err)
	}

	state := ContainerState{ID: resp.ID}
	if resp.State != nil {
		state.Running = resp.State.Running
		state.Status = resp.State.Status
		state.ExitCode = resp.State.ExitCode
	}
	return state, nil
}

// Close closes the underlying Docker client
func (d *DockerRuntime) Close() error {
	return d.cli.Close()
}

func (d *DockerRuntime) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d.callTimeout)
}
