// ABOUTME: Serves the API on a tsnet node instead of a host TCP port
// ABOUTME: Builds the node from the tailscale config section and opens its listener

package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"

	"tailscale.com/tsnet"

	"github.com/2389/clawhuddle/internal/config"
)

var errMissingAuthKey = errors.New("tailscale auth key required: set tailscale.auth_key or TS_AUTHKEY")

// tailnet is a tsnet node that has not necessarily been started yet.
type tailnet struct {
	node   *tsnet.Server
	https  bool
	logger *slog.Logger
}

// newTailnet builds an unstarted node from cfg. The auth key falls back to
// TS_AUTHKEY and the state directory to ~/.local/share/clawhuddle/tailscale.
// Nothing touches disk or network until listen.
func newTailnet(cfg config.TailscaleConfig, getenv func(string) string, home func() (string, error), logger *slog.Logger) (*tailnet, error) {
	authKey := cfg.AuthKey
	if authKey == "" {
		authKey = getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return nil, errMissingAuthKey
	}

	dir := cfg.StateDir
	if dir == "" {
		h, err := home()
		if err != nil {
			return nil, fmt.Errorf("resolving tailscale state dir (set tailscale.state_dir): %w", err)
		}
		dir = filepath.Join(h, ".local", "share", "clawhuddle", "tailscale")
	}

	logger = logger.With("component", "tailnet")
	return &tailnet{
		node: &tsnet.Server{
			Hostname:  cfg.Hostname,
			Dir:       dir,
			Ephemeral: cfg.Ephemeral,
			AuthKey:   authKey,
			Logf: func(format string, args ...any) {
				logger.Debug(fmt.Sprintf(format, args...))
			},
		},
		https:  cfg.HTTPS,
		logger: logger,
	}, nil
}

// port is where the API is served on the node.
func (t *tailnet) port() string {
	if t.https {
		return ":443"
	}
	return ":80"
}

// listen brings the node up and listens on it. With https the listener
// terminates TLS using the node's tailnet certificate.
func (t *tailnet) listen(ctx context.Context) (net.Listener, error) {
	if err := os.MkdirAll(t.node.Dir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	t.logger.Info("starting tailscale node", "hostname", t.node.Hostname, "state_dir", t.node.Dir, "ephemeral", t.node.Ephemeral)
	status, err := t.node.Up(ctx)
	if err != nil {
		_ = t.node.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}

	var ip, dnsName string
	if len(status.TailscaleIPs) > 0 {
		ip = status.TailscaleIPs[0].String()
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	t.logger.Info("tailscale node ready", "tailscale_ip", ip, "dns_name", dnsName, "port", t.port())

	ln, err := t.node.Listen("tcp", t.port())
	if err != nil {
		_ = t.node.Close()
		return nil, fmt.Errorf("listening on tailnet %s: %w", t.port(), err)
	}
	if !t.https {
		return ln, nil
	}

	lc, err := t.node.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = t.node.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

func (t *tailnet) Close() error {
	return t.node.Close()
}
