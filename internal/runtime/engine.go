// ABOUTME: Container engine interface and its Docker SDK implementation
// ABOUTME: The interface is the seam that lets orchestrator tests run without a daemon

package runtime

import (
	"bytes"
	"context"
	"fmt"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

// Inspection is the subset of container state the runtime needs.
type Inspection struct {
	Running bool
	Ports   nat.PortMap
}

// ExecResult is the outcome of a one-shot command inside a container.
type ExecResult struct {
	ExitCode int
	Output   string // stdout and stderr, interleaved
}

// Engine is the container engine API used by Runtime.
type Engine interface {
	NetworkExists(ctx context.Context, name string) (bool, error)
	CreateNetwork(ctx context.Context, name string) error

	CreateContainer(ctx context.Context, name string, cfg *container.Config, host *container.HostConfig, net *network.NetworkingConfig) error
	StartContainer(ctx context.Context, name string) error
	StopContainer(ctx context.Context, name string) error
	RemoveContainer(ctx context.Context, name string) error
	InspectContainer(ctx context.Context, name string) (Inspection, error)
	KillContainer(ctx context.Context, name, signal string) error

	Exec(ctx context.Context, name string, cmd []string) (ExecResult, error)

	Close() error
}

// IsNotFound reports whether err means the container or network does not exist.
func IsNotFound(err error) bool {
	return cerrdefs.IsNotFound(err)
}

// Docker implements Engine with the Docker Engine API client.
type Docker struct {
	cli *client.Client
}

// NewDocker connects to the engine at host, or to DOCKER_HOST and the
// default socket when host is empty. The API version is negotiated.
func NewDocker(host string) (*Docker, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return &Docker{cli: cli}, nil
}

// Ping checks that the engine is reachable.
func (d *Docker) Ping(ctx context.Context) error {
	if _, err := d.cli.Ping(ctx); err != nil {
		return fmt.Errorf("pinging docker: %w", err)
	}
	return nil
}

func (d *Docker) NetworkExists(ctx context.Context, name string) (bool, error) {
	_, err := d.cli.NetworkInspect(ctx, name, network.InspectOptions{})
	if err == nil {
		return true, nil
	}
	if cerrdefs.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

func (d *Docker) CreateNetwork(ctx context.Context, name string) error {
	_, err := d.cli.NetworkCreate(ctx, name, network.CreateOptions{Driver: "bridge"})
	return err
}

func (d *Docker) CreateContainer(ctx context.Context, name string, cfg *container.Config, host *container.HostConfig, net *network.NetworkingConfig) error {
	_, err := d.cli.ContainerCreate(ctx, cfg, host, net, nil, name)
	return err
}

func (d *Docker) StartContainer(ctx context.Context, name string) error {
	return d.cli.ContainerStart(ctx, name, container.StartOptions{})
}

func (d *Docker) StopContainer(ctx context.Context, name string) error {
	return d.cli.ContainerStop(ctx, name, container.StopOptions{})
}

func (d *Docker) RemoveContainer(ctx context.Context, name string) error {
	return d.cli.ContainerRemove(ctx, name, container.RemoveOptions{})
}

func (d *Docker) InspectContainer(ctx context.Context, name string) (Inspection, error) {
	info, err := d.cli.ContainerInspect(ctx, name)
	if err != nil {
		return Inspection{}, err
	}
	var in Inspection
	if info.ContainerJSONBase != nil && info.State != nil {
		in.Running = info.State.Running
	}
	if info.NetworkSettings != nil {
		in.Ports = info.NetworkSettings.Ports
	}
	return in, nil
}

func (d *Docker) KillContainer(ctx context.Context, name, signal string) error {
	return d.cli.ContainerKill(ctx, name, signal)
}

// Exec runs cmd in the container and collects demultiplexed output. It
// returns when the command's output stream closes or ctx is done.
func (d *Docker) Exec(ctx context.Context, name string, cmd []string) (ExecResult, error) {
	created, err := d.cli.ContainerExecCreate(ctx, name, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return ExecResult{}, fmt.Errorf("creating exec: %w", err)
	}

	attach, err := d.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return ExecResult{}, fmt.Errorf("attaching exec: %w", err)
	}
	defer attach.Close()

	var output bytes.Buffer
	done := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&output, &output, attach.Reader)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return ExecResult{}, fmt.Errorf("reading exec output: %w", err)
		}
	case <-ctx.Done():
		return ExecResult{}, ctx.Err()
	}

	inspect, err := d.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return ExecResult{}, fmt.Errorf("inspecting exec: %w", err)
	}
	return ExecResult{ExitCode: inspect.ExitCode, Output: output.String()}, nil
}

// Close releases the client's connections.
func (d *Docker) Close() error {
	return d.cli.Close()
}

var _ Engine = (*Docker)(nil)
