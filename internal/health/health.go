// ABOUTME: Readiness probes for gateway containers
// ABOUTME: A running process is not a ready gateway; only a 2xx or 401 answer is

package health

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"
)

// DefaultTimeout bounds a single probe.
const DefaultTimeout = 5 * time.Second

// Target identifies the gateway to probe.
type Target struct {
	Container string // container name, used by in-container probes
	Host      string // host address, used by HTTP probes
	Port      int    // port on Host, or the internal port for in-container probes
}

// Prober reports whether a gateway is serving. Any error, timeout, or
// unexpected status means not healthy.
type Prober interface {
	Probe(ctx context.Context, target Target) bool
}

// Healthy is the shared rule: the service answered and is either ready or
// correctly rejecting an unauthenticated caller.
func Healthy(status int) bool {
	return (status >= 200 && status < 300) || status == http.StatusUnauthorized
}

// Executor runs a command inside a container. runtime.Runtime satisfies it.
type Executor interface {
	Exec(ctx context.Context, name string, cmd []string) (string, error)
}

// ExecProber probes from inside the container, so it works without a
// published port.
type ExecProber struct {
	exec    Executor
	timeout time.Duration
	logger  *slog.Logger
}

// NewExecProber creates an ExecProber. A zero timeout uses DefaultTimeout.
func NewExecProber(exec Executor, timeout time.Duration, logger *slog.Logger) *ExecProber {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecProber{exec: exec, timeout: timeout, logger: logger.With("component", "health")}
}

// Command returns the in-container probe for port. The gateway image ships
// node, so the probe needs nothing else installed.
func Command(port int) []string {
	script := fmt.Sprintf(
		"fetch('http://127.0.0.1:%d/').then(r=>(r.ok||r.status===401)?process.exit(0):process.exit(1)).catch(()=>process.exit(1))",
		port)
	return []string{"node", "-e", script}
}

func (p *ExecProber) Probe(ctx context.Context, target Target) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if _, err := p.exec.Exec(ctx, target.Container, Command(target.Port)); err != nil {
		p.logger.Debug("probe failed", "container", target.Container, "error", err)
		return false
	}
	return true
}

// HTTPProber probes a published port from the orchestrator's own network.
type HTTPProber struct {
	client *http.Client
	logger *slog.Logger
}

// NewHTTPProber creates an HTTPProber. A zero timeout uses DefaultTimeout.
func NewHTTPProber(timeout time.Duration, logger *slog.Logger) *HTTPProber {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPProber{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger.With("component", "health"),
	}
}

func (p *HTTPProber) Probe(ctx context.Context, target Target) bool {
	url := "http://" + net.JoinHostPort(target.Host, strconv.Itoa(target.Port)) + "/"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("probe failed", "url", url, "error", err)
		return false
	}
	defer resp.Body.Close()
	return Healthy(resp.StatusCode)
}
