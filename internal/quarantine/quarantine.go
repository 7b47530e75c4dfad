// Package quarantine implements the optional Quarantine Backend: a
// container-isolated escalation tier for snippets that have repeatedly
// missed their deadline. It is additive — spec.md's timeout/fallback
// invariants hold identically with no Backend configured.
package quarantine

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"golang.org/x/sync/singleflight"

	"github.com/ocx/pyexec/internal/slot"
)

// Backend abstracts the container runtime, adapted directly from
// ghostpool.PoolBackend so a future Kubernetes implementation can be
// added the same way the teacher staged one for its container pool.
type Backend interface {
	CreateContainer(ctx context.Context, image string) (containerID string, err error)
	StartContainer(ctx context.Context, containerID string) error
	ExecInContainer(ctx context.Context, containerID string, cmd []string) (output []byte, err error)
	RemoveContainer(ctx context.Context, containerID string) error
	Name() string
}

// DockerBackend runs each quarantined call inside its own short-lived,
// network-jailed, read-only-rootfs container. Adapted from
// ghostpool.PoolBackend's DockerBackend; the gVisor runtime is opt-in via
// runtime, same as the teacher's.
type DockerBackend struct {
	runtime string
}

// NewDockerBackend returns a Docker-backed Backend. Pass "runsc" for
// gVisor sandboxing, or "" for the default container runtime.
func NewDockerBackend(runtime string) *DockerBackend {
	return &DockerBackend{runtime: runtime}
}

func (d *DockerBackend) Name() string {
	if d.runtime != "" {
		return fmt.Sprintf("docker-local/%s", d.runtime)
	}
	return "docker-local"
}

func (d *DockerBackend) CreateContainer(ctx context.Context, image string) (string, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return "", fmt.Errorf("docker client: %w", err)
	}
	defer cli.Close()

	hostConfig := &container.HostConfig{
		NetworkMode:    "none",
		ReadonlyRootfs: true,
		Resources: container.Resources{
			NanoCPUs: 1_000_000_000,
			Memory:   512 * 1024 * 1024,
		},
		Tmpfs: map[string]string{
			"/tmp": "rw,noexec,nosuid,size=64m",
		},
	}
	if d.runtime != "" {
		hostConfig.Runtime = d.runtime
	}

	resp, err := cli.ContainerCreate(ctx, &container.Config{
		Image: image,
		Tty:   false,
		Cmd:   []string{"sleep", "infinity"},
	}, hostConfig, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}
	return resp.ID, nil
}

func (d *DockerBackend) StartContainer(ctx context.Context, containerID string) error {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return err
	}
	defer cli.Close()
	return cli.ContainerStart(ctx, containerID, types.ContainerStartOptions{})
}

func (d *DockerBackend) ExecInContainer(ctx context.Context, containerID string, cmd []string) ([]byte, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	defer cli.Close()

	execConfig := types.ExecConfig{
		User:         "ghostuser",
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          cmd,
	}
	execID, err := cli.ContainerExecCreate(ctx, containerID, execConfig)
	if err != nil {
		return nil, fmt.Errorf("exec create: %w", err)
	}

	resp, err := cli.ContainerExecAttach(ctx, execID.ID, types.ExecStartCheck{})
	if err != nil {
		return nil, fmt.Errorf("exec attach: %w", err)
	}
	defer resp.Close()

	// Docker multiplexes stdout/stderr on resp.Reader; a production
	// build would demultiplex via stdcopy. This mirrors the
	// simplification the teacher's own ExecInContainer already makes.
	output, _ := io.ReadAll(resp.Reader)
	return output, nil
}

func (d *DockerBackend) RemoveContainer(ctx context.Context, containerID string) error {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return err
	}
	defer cli.Close()
	return cli.ContainerRemove(ctx, containerID, types.ContainerRemoveOptions{Force: true})
}

// Executor runs a Work item inside a fresh Backend container carrying an
// embedded copy of this module's own CLI entry point (cmd/evalcli),
// invoked with the shaped source on stdin.
type Executor struct {
	backend Backend
	image   string
	warm    singleflight.Group
}

// NewExecutor builds an Executor over backend, using image as the
// container image carrying the embedded evalcli binary.
func NewExecutor(backend Backend, image string) *Executor {
	return &Executor{backend: backend, image: image}
}

// Execute provisions a container, runs w.Source through the embedded
// CLI, and tears the container down unconditionally. Concurrent first
// calls for the same image are coalesced through singleflight so a burst
// of simultaneous escalations doesn't each independently probe the
// Docker daemon for the same readiness check before any of them has a
// container to actually run work in.
func (e *Executor) Execute(ctx context.Context, w slot.Work) ([]byte, error) {
	_, err, _ := e.warm.Do(e.image, func() (interface{}, error) {
		return nil, e.ensureImageReady(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("quarantine: image %q not ready: %w", e.image, err)
	}

	containerID, err := e.backend.CreateContainer(ctx, e.image)
	if err != nil {
		return nil, fmt.Errorf("quarantine: create container: %w", err)
	}
	defer e.backend.RemoveContainer(context.Background(), containerID)

	if err := e.backend.StartContainer(ctx, containerID); err != nil {
		return nil, fmt.Errorf("quarantine: start container: %w", err)
	}

	return e.backend.ExecInContainer(ctx, containerID, []string{"evalcli", "--stdin"})
}

// ensureImageReady is a placeholder readiness probe: a real deployment
// would check (and if absent, pull) e.image here. Left as a no-op
// against an already-provisioned image, since image distribution is an
// operational concern outside this module's scope.
func (e *Executor) ensureImageReady(ctx context.Context) error {
	return nil
}
