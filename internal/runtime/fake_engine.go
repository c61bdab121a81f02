// ABOUTME: In-memory Engine implementation for tests
// ABOUTME: Records calls, simulates containers, and supports injected failures

package runtime

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/go-connections/nat"
)

// FakeContainer is a simulated container.
type FakeContainer struct {
	Config  *container.Config
	Host    *container.HostConfig
	Running bool
	Ports   nat.PortMap
}

// FakeEngine is an Engine for tests. Set Errors[method] to make a method
// fail; set ExecFunc to script in-container commands.
type FakeEngine struct {
	mu         sync.Mutex
	networks   map[string]bool
	containers map[string]*FakeContainer
	calls      []string
	nextPort   int

	Errors   map[string]error
	ExecFunc func(ctx context.Context, name string, cmd []string) (ExecResult, error)
	Closed   bool

	// ReassignPorts gives published ports a new host port on every start,
	// as the engine does for bindings to port 0.
	ReassignPorts bool
}

// NewFakeEngine creates an empty FakeEngine. Published ports start at 49153.
func NewFakeEngine() *FakeEngine {
	return &FakeEngine{
		networks:   make(map[string]bool),
		containers: make(map[string]*FakeContainer),
		nextPort:   49153,
		Errors:     make(map[string]error),
	}
}

func (f *FakeEngine) record(method, name string) error {
	f.calls = append(f.calls, method+" "+name)
	return f.Errors[method]
}

func notFound(kind, name string) error {
	return fmt.Errorf("%s %s: %w", kind, name, cerrdefs.ErrNotFound)
}

// Calls returns the recorded "Method name" strings in order.
func (f *FakeEngine) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// ResetCalls clears the call log.
func (f *FakeEngine) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// Container returns a copy of the named container, or nil.
func (f *FakeEngine) Container(name string) *FakeContainer {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[name]
	if !ok {
		return nil
	}
	cc := *c
	return &cc
}

// SetRunning changes a container's state out of band, as if it crashed or
// was started by hand. Unknown names are ignored.
func (f *FakeEngine) SetRunning(name string, running bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[name]; ok {
		c.Running = running
	}
}

// Delete removes a container out of band.
func (f *FakeEngine) Delete(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, name)
}

// HasNetwork reports whether the network was created.
func (f *FakeEngine) HasNetwork(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.networks[name]
}

func (f *FakeEngine) NetworkExists(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("NetworkExists", name); err != nil {
		return false, err
	}
	return f.networks[name], nil
}

func (f *FakeEngine) CreateNetwork(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateNetwork", name); err != nil {
		return err
	}
	f.networks[name] = true
	return nil
}

func (f *FakeEngine) CreateContainer(ctx context.Context, name string, cfg *container.Config, host *container.HostConfig, net *network.NetworkingConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateContainer", name); err != nil {
		return err
	}
	if _, exists := f.containers[name]; exists {
		return fmt.Errorf("container name %s already in use", name)
	}
	f.containers[name] = &FakeContainer{Config: cfg, Host: host}
	return nil
}

func (f *FakeEngine) StartContainer(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("StartContainer", name); err != nil {
		return err
	}
	c, ok := f.containers[name]
	if !ok {
		return notFound("container", name)
	}
	c.Running = true
	if (c.Ports == nil || f.ReassignPorts) && c.Host != nil && len(c.Host.PortBindings) > 0 {
		c.Ports = nat.PortMap{}
		for port := range c.Host.PortBindings {
			c.Ports[port] = []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: strconv.Itoa(f.nextPort)}}
			f.nextPort++
		}
	}
	return nil
}

func (f *FakeEngine) StopContainer(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("StopContainer", name); err != nil {
		return err
	}
	c, ok := f.containers[name]
	if !ok {
		return notFound("container", name)
	}
	c.Running = false
	return nil
}

func (f *FakeEngine) RemoveContainer(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("RemoveContainer", name); err != nil {
		return err
	}
	if _, ok := f.containers[name]; !ok {
		return notFound("container", name)
	}
	delete(f.containers, name)
	return nil
}

func (f *FakeEngine) InspectContainer(ctx context.Context, name string) (Inspection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("InspectContainer", name); err != nil {
		return Inspection{}, err
	}
	c, ok := f.containers[name]
	if !ok {
		return Inspection{}, notFound("container", name)
	}
	return Inspection{Running: c.Running, Ports: c.Ports}, nil
}

func (f *FakeEngine) KillContainer(ctx context.Context, name, signal string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("KillContainer", name); err != nil {
		return err
	}
	if _, ok := f.containers[name]; !ok {
		return notFound("container", name)
	}
	return nil
}

func (f *FakeEngine) Exec(ctx context.Context, name string, cmd []string) (ExecResult, error) {
	f.mu.Lock()
	err := f.record("Exec", name)
	c, ok := f.containers[name]
	running := ok && c.Running
	fn := f.ExecFunc
	f.mu.Unlock()

	if err != nil {
		return ExecResult{}, err
	}
	if !ok {
		return ExecResult{}, notFound("container", name)
	}
	if !running {
		return ExecResult{}, fmt.Errorf("container %s is not running", name)
	}
	if fn == nil {
		return ExecResult{}, nil
	}
	return fn(ctx, name, cmd)
}

func (f *FakeEngine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

var _ Engine = (*FakeEngine)(nil)
