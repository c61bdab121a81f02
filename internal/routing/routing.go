// ABOUTME: Publishes the subdomain to upstream map consumed by the reverse proxy
// ABOUTME: The map is recomputed in full from gateway records on every change

package routing

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/2389/clawhuddle/internal/atomicfile"
	"github.com/2389/clawhuddle/internal/store"
)

const (
	// Banner heads every generated map.
	Banner = "# Auto-generated gateway subdomain map\n"

	// bootstrapBanner is written when no map exists yet so the proxy can start.
	bootstrapBanner = "# gateway subdomain -> upstream map\n"
)

var mapEntries = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "clawhuddle_routing_map_entries",
	Help: "Number of entries in the last published gateway routing map",
})

func init() {
	prometheus.MustRegister(mapEntries)
}

// RouteLister reads the gateway records that have both a subdomain and a port.
type RouteLister interface {
	ListRoutes(ctx context.Context) ([]store.Route, error)
}

// Signaler delivers a signal to a container. runtime.Runtime satisfies it.
type Signaler interface {
	Signal(ctx context.Context, name, signal string) error
}

// Resolver maps a host name to addresses.
type Resolver func(ctx context.Context, host string) ([]string, error)

// Options configure a Publisher.
type Options struct {
	MapPath        string
	ProxyContainer string
	GatewayHost    string
	// ResolveHost pre-resolves GatewayHost, for proxies whose resolver
	// cannot see the same names the orchestrator can.
	ResolveHost bool
	Resolver    Resolver
}

// Publisher writes the routing map and asks the proxy to reload it.
type Publisher struct {
	routes RouteLister
	signal Signaler
	opts   Options
	logger *slog.Logger

	mu sync.Mutex // serializes writers of the map file
}

// NewPublisher creates a Publisher. signal may be nil when there is no proxy
// to reload.
func NewPublisher(routes RouteLister, signal Signaler, opts Options, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Resolver == nil {
		opts.Resolver = net.DefaultResolver.LookupHost
	}
	return &Publisher{
		routes: routes,
		signal: signal,
		opts:   opts,
		logger: logger.With("component", "routing"),
	}
}

// Path returns the map file location.
func (p *Publisher) Path() string {
	return p.opts.MapPath
}

// EnsureMapFile creates an empty map if none exists.
func (p *Publisher) EnsureMapFile() error {
	if err := os.MkdirAll(filepath.Dir(p.opts.MapPath), 0755); err != nil {
		return fmt.Errorf("creating map directory: %w", err)
	}
	_, err := os.Stat(p.opts.MapPath)
	if err == nil {
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("checking map file: %w", err)
	}
	if err := atomicfile.Write(p.opts.MapPath, []byte(bootstrapBanner), 0644); err != nil {
		return fmt.Errorf("writing map file: %w", err)
	}
	return nil
}

// Render formats routes as map lines under the banner.
func Render(host string, routes []store.Route) []byte {
	var b strings.Builder
	b.WriteString(Banner)
	for _, r := range routes {
		b.WriteString(r.Subdomain)
		b.WriteByte(' ')
		b.WriteString(net.JoinHostPort(host, strconv.Itoa(r.Port)))
		b.WriteString(";\n")
	}
	return []byte(b.String())
}

// Regenerate rewrites the map from the store and signals the proxy. A failed
// signal is logged, not returned: the proxy picks the file up on its next
// reload either way.
func (p *Publisher) Regenerate(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	routes, err := p.routes.ListRoutes(ctx)
	if err != nil {
		return fmt.Errorf("listing routes: %w", err)
	}

	host := p.host(ctx)
	if err := os.MkdirAll(filepath.Dir(p.opts.MapPath), 0755); err != nil {
		return fmt.Errorf("creating map directory: %w", err)
	}
	if err := atomicfile.Write(p.opts.MapPath, Render(host, routes), 0644); err != nil {
		return fmt.Errorf("writing map file: %w", err)
	}
	mapEntries.Set(float64(len(routes)))
	p.logger.Info("routing map written", "path", p.opts.MapPath, "entries", len(routes))

	p.reload(ctx)
	return nil
}

// host returns the upstream host, resolved to an address when configured.
// Resolution failures fall back to the configured name.
func (p *Publisher) host(ctx context.Context) string {
	host := p.opts.GatewayHost
	if !p.opts.ResolveHost || net.ParseIP(host) != nil {
		return host
	}
	addrs, err := p.opts.Resolver(ctx, host)
	if err != nil || len(addrs) == 0 {
		p.logger.Warn("could not resolve gateway host", "host", host, "error", err)
		return host
	}
	return addrs[0]
}

func (p *Publisher) reload(ctx context.Context) {
	if p.signal == nil || p.opts.ProxyContainer == "" {
		return
	}
	if err := p.signal.Signal(ctx, p.opts.ProxyContainer, "SIGHUP"); err != nil {
		p.logger.Warn("could not signal proxy for reload", "container", p.opts.ProxyContainer, "error", err)
	}
}
