// ABOUTME: Gateway container lifecycle on top of a container Engine
// ABOUTME: Deterministic naming, idempotent teardown, host port discovery, and bounded exec

package runtime

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/go-connections/nat"
)

var (
	// ErrExecTimeout is returned when an in-container command outlives its deadline.
	ErrExecTimeout = errors.New("exec timed out")

	// ErrExecFailed is returned when an in-container command exits non-zero.
	ErrExecFailed = errors.New("exec failed")

	// ErrEngine matches every failure reported by the container engine.
	ErrEngine = errors.New("container engine error")
)

// EngineError is a failed engine call. It unwraps to the engine's error, so
// IsNotFound still applies, and matches ErrEngine.
type EngineError struct {
	Op  string
	Err error
}

func engineError(err error, format string, args ...any) error {
	return &EngineError{Op: fmt.Sprintf(format, args...), Err: err}
}

func (e *EngineError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

func (e *EngineError) Is(target error) bool {
	return target == ErrEngine
}

// ExecError carries the exit code and captured output of a failed command.
type ExecError struct {
	ExitCode int
	Output   string
}

func (e *ExecError) Error() string {
	if e.Output != "" {
		return e.Output
	}
	return fmt.Sprintf("exit code %d", e.ExitCode)
}

func (e *ExecError) Is(target error) bool {
	return target == ErrExecFailed
}

// Options configure a Runtime.
type Options struct {
	Image         string
	InternalPort  int
	Network       string
	Prefix        string
	GatewayDomain string
	PublishPorts  bool
	ExecTimeout   time.Duration
}

// Runtime manages gateway containers. It holds no per-container state;
// every call resolves the container by name.
type Runtime struct {
	engine Engine
	opts   Options
	logger *slog.Logger
}

// New creates a Runtime over engine.
func New(engine Engine, opts Options, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ExecTimeout <= 0 {
		opts.ExecTimeout = 10 * time.Second
	}
	return &Runtime{
		engine: engine,
		opts:   opts,
		logger: logger.With("component", "runtime"),
	}
}

// InternalPort is the port the gateway listens on inside its container.
func (r *Runtime) InternalPort() int {
	return r.opts.InternalPort
}

var invalidNameChars = regexp.MustCompile(`[^a-z0-9_.-]+`)

func nameSegment(id string) string {
	s := invalidNameChars.ReplaceAllString(strings.ToLower(id), "-")
	if len(s) > 8 {
		s = s[:8]
	}
	return s
}

// ContainerName derives the container name for a member. Truncated IDs keep
// names short for DNS; the hash suffix of the full IDs keeps them unique.
func (r *Runtime) ContainerName(orgID, userID string) string {
	sum := sha256.Sum256([]byte(orgID + "/" + userID))
	return r.opts.Prefix + nameSegment(orgID) + "-" + nameSegment(userID) + "-" + hex.EncodeToString(sum[:])[:6]
}

// Labels returns the container labels, including reverse-proxy routing for
// <subdomain>.<gateway domain>.
func (r *Runtime) Labels(name, subdomain, orgID, userID string) map[string]string {
	router := "traefik.http.routers." + name
	headers := "traefik.http.middlewares." + name + "-headers.headers.customrequestheaders."
	labels := map[string]string{
		"clawhuddle.managed": "true",
		"clawhuddle.org":     orgID,
		"clawhuddle.user":    userID,
		"traefik.enable":     "true",
	}
	labels[router+".rule"] = fmt.Sprintf("Host(`%s.%s`)", subdomain, r.opts.GatewayDomain)
	labels[router+".entrypoints"] = "web"
	labels[router+".middlewares"] = name + "-headers"
	labels["traefik.http.services."+name+".loadbalancer.server.port"] = strconv.Itoa(r.opts.InternalPort)

	// The gateway auto-approves pairing for local clients, so the proxy
	// presents every request as coming from loopback.
	labels[headers+"X-Forwarded-For"] = "127.0.0.1"
	labels[headers+"X-Real-IP"] = "127.0.0.1"
	for _, h := range []string{"X-Forwarded-Proto", "CF-Connecting-IP", "True-Client-IP", "CF-IPCountry", "CF-Ray", "CF-Visitor"} {
		labels[headers+h] = ""
	}
	return labels
}

// EnsureNetwork creates the shared bridge network if it does not exist.
func (r *Runtime) EnsureNetwork(ctx context.Context) error {
	exists, err := r.engine.NetworkExists(ctx, r.opts.Network)
	if err != nil {
		return engineError(err, "inspecting network %s", r.opts.Network)
	}
	if exists {
		return nil
	}
	if err := r.engine.CreateNetwork(ctx, r.opts.Network); err != nil {
		// Another caller may have created it first.
		if exists, _ := r.engine.NetworkExists(ctx, r.opts.Network); exists {
			return nil
		}
		return engineError(err, "creating network %s", r.opts.Network)
	}
	r.logger.Info("created network", "network", r.opts.Network)
	return nil
}

// ContainerSpec describes a gateway container to create.
type ContainerSpec struct {
	Name      string
	HostDir   string // host path bind-mounted at MountPath
	MountPath string
	Labels    map[string]string
}

func (r *Runtime) port() nat.Port {
	return nat.Port(strconv.Itoa(r.opts.InternalPort) + "/tcp")
}

// CreateAndStart replaces any container with the same name and starts a
// fresh one. When ports are published it returns the host port the engine
// assigned, otherwise the internal port.
func (r *Runtime) CreateAndStart(ctx context.Context, spec ContainerSpec) (int, error) {
	if err := r.Remove(ctx, spec.Name); err != nil {
		return 0, err
	}

	port := r.port()
	cfg := &container.Config{
		Image:        r.opts.Image,
		Labels:       spec.Labels,
		ExposedPorts: nat.PortSet{port: struct{}{}},
	}
	host := &container.HostConfig{
		Binds:         []string{spec.HostDir + ":" + spec.MountPath},
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
	}
	if r.opts.PublishPorts {
		host.PortBindings = nat.PortMap{port: []nat.PortBinding{{HostPort: "0"}}}
	}
	netCfg := &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{r.opts.Network: {}},
	}

	if err := r.engine.CreateContainer(ctx, spec.Name, cfg, host, netCfg); err != nil {
		return 0, engineError(err, "creating container %s", spec.Name)
	}
	if err := r.engine.StartContainer(ctx, spec.Name); err != nil {
		return 0, engineError(err, "starting container %s", spec.Name)
	}

	r.logger.Info("started gateway container", "name", spec.Name, "image", r.opts.Image)

	return r.Port(ctx, spec.Name), nil
}

// PublishesPorts reports whether containers get a host port binding.
func (r *Runtime) PublishesPorts() bool {
	return r.opts.PublishPorts
}

// Port returns the port the gateway is reachable on: the published host
// port when ports are published, otherwise the internal port. A missing
// binding falls back to the internal port.
func (r *Runtime) Port(ctx context.Context, name string) int {
	if !r.opts.PublishPorts {
		return r.opts.InternalPort
	}
	in, err := r.engine.InspectContainer(ctx, name)
	if err != nil {
		r.logger.Warn("could not read published port", "name", name, "error", err)
		return r.opts.InternalPort
	}
	for _, b := range in.Ports[r.port()] {
		if p, err := strconv.Atoi(b.HostPort); err == nil && p > 0 {
			return p
		}
	}
	r.logger.Warn("container has no published port", "name", name)
	return r.opts.InternalPort
}

// Start starts an existing container.
func (r *Runtime) Start(ctx context.Context, name string) error {
	if err := r.engine.StartContainer(ctx, name); err != nil {
		return engineError(err, "starting container %s", name)
	}
	return nil
}

// Stop stops an existing container.
func (r *Runtime) Stop(ctx context.Context, name string) error {
	if err := r.engine.StopContainer(ctx, name); err != nil {
		return engineError(err, "stopping container %s", name)
	}
	return nil
}

// Remove stops and removes a container. A missing container is not an error.
func (r *Runtime) Remove(ctx context.Context, name string) error {
	if err := r.engine.StopContainer(ctx, name); err != nil && !IsNotFound(err) {
		r.logger.Debug("stop before remove failed", "name", name, "error", err)
	}
	if err := r.engine.RemoveContainer(ctx, name); err != nil && !IsNotFound(err) {
		return engineError(err, "removing container %s", name)
	}
	return nil
}

// Running reports whether the container exists and is running. Lookup
// failures count as not running.
func (r *Runtime) Running(ctx context.Context, name string) bool {
	in, err := r.engine.InspectContainer(ctx, name)
	if err != nil {
		if !IsNotFound(err) {
			r.logger.Debug("inspect failed", "name", name, "error", err)
		}
		return false
	}
	return in.Running
}

// Exec runs cmd in a running container under the exec timeout and returns
// its output. A non-zero exit is an *ExecError matching ErrExecFailed.
func (r *Runtime) Exec(ctx context.Context, name string, cmd []string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.ExecTimeout)
	defer cancel()

	res, err := r.engine.Exec(ctx, name, cmd)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%s in %s: %w", cmd[0], name, ErrExecTimeout)
		}
		return "", engineError(err, "exec in %s", name)
	}
	if res.ExitCode != 0 {
		return res.Output, &ExecError{ExitCode: res.ExitCode, Output: strings.TrimSpace(res.Output)}
	}
	return res.Output, nil
}

// Signal sends a signal to a container's main process.
func (r *Runtime) Signal(ctx context.Context, name, signal string) error {
	if err := r.engine.KillContainer(ctx, name, signal); err != nil {
		return engineError(err, "signalling %s with %s", name, signal)
	}
	return nil
}

// Close releases the engine.
func (r *Runtime) Close() error {
	return r.engine.Close()
}
