// ABOUTME: Gateway lifecycle state machine for org members
// ABOUTME: Sole writer of gateway records; composes credentials, workspace, runtime, and health

package orchestrator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/2389/clawhuddle/internal/credentials"
	"github.com/2389/clawhuddle/internal/gatewaycfg"
	"github.com/2389/clawhuddle/internal/health"
	"github.com/2389/clawhuddle/internal/runtime"
	"github.com/2389/clawhuddle/internal/skills"
	"github.com/2389/clawhuddle/internal/store"
	"github.com/2389/clawhuddle/internal/workspace"
)

// SubdomainPrefix starts every generated gateway subdomain.
const SubdomainPrefix = "claw-"

// CredentialSource supplies an org's active provider credentials.
type CredentialSource interface {
	ResolveActive(ctx context.Context, orgID string) ([]credentials.Credential, error)
	ModelOverrides(ctx context.Context, orgID string) (map[string]string, error)
}

// SkillSource lists the skills assigned to a user.
type SkillSource interface {
	ResolveAssigned(ctx context.Context, orgID, userID string) ([]skills.Assigned, error)
}

// RouteRegenerator rebuilds the routing map after the set of gateways changes.
type RouteRegenerator interface {
	Regenerate(ctx context.Context) error
}

// Store is the persistence the orchestrator needs.
type Store interface {
	store.MemberStore
	store.ChannelStore
}

// Deps are the collaborators of an Orchestrator. Routes may be nil.
type Deps struct {
	Store       Store
	Credentials CredentialSource
	Skills      SkillSource
	Fetcher     workspace.Fetcher
	Workspace   *workspace.Manager
	Runtime     *runtime.Runtime
	Prober      health.Prober
	Routes      RouteRegenerator
}

// Options tune an Orchestrator.
type Options struct {
	// ProbeHost is where published ports are reached from this process.
	ProbeHost string
}

// Result is the gateway tuple returned by every lifecycle operation. Absent
// fields encode as JSON null.
type Result struct {
	MemberID  string
	UserID    string
	Port      int
	Status    store.GatewayStatus
	Subdomain string
}

func (r Result) MarshalJSON() ([]byte, error) {
	out := struct {
		MemberID  string  `json:"memberId"`
		UserID    string  `json:"userId"`
		Port      *int    `json:"gateway_port"`
		Status    *string `json:"gateway_status"`
		Subdomain *string `json:"gateway_subdomain"`
	}{MemberID: r.MemberID, UserID: r.UserID}
	if r.Port != 0 {
		out.Port = &r.Port
	}
	if r.Status != store.StatusAbsent {
		s := string(r.Status)
		out.Status = &s
	}
	if r.Subdomain != "" {
		out.Subdomain = &r.Subdomain
	}
	return json.Marshal(out)
}

func resultFor(m *store.Member) *Result {
	return &Result{
		MemberID:  m.ID,
		UserID:    m.UserID,
		Port:      m.Gateway.Port,
		Status:    m.Gateway.Status,
		Subdomain: m.Gateway.Subdomain,
	}
}

// Orchestrator drives member gateways through their lifecycle. Operations on
// the same member are serialized; different members proceed in parallel.
type Orchestrator struct {
	deps   Deps
	opts   Options
	locks  *keyLock
	logger *slog.Logger
}

// New creates an Orchestrator.
func New(deps Deps, opts Options, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ProbeHost == "" {
		opts.ProbeHost = "127.0.0.1"
	}
	return &Orchestrator{
		deps:   deps,
		opts:   opts,
		locks:  newKeyLock(),
		logger: logger.With("component", "orchestrator"),
	}
}

func (o *Orchestrator) lock(orgID, memberID string) func() {
	return o.locks.Lock(orgID + "/" + memberID)
}

func (o *Orchestrator) member(ctx context.Context, orgID, memberID string) (*store.Member, error) {
	m, err := o.deps.Store.GetMember(ctx, orgID, memberID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrMemberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading member: %w", err)
	}
	return m, nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func newIdentity() (token, subdomain string, err error) {
	if token, err = randomHex(24); err != nil {
		return "", "", err
	}
	suffix, err := randomHex(4)
	if err != nil {
		return "", "", err
	}
	return token, SubdomainPrefix + suffix, nil
}

// prepareWorkspace resolves everything the gateway reads from disk and
// writes it. It fails with ErrNoCredentials before touching anything when the
// org has no usable credential.
func (o *Orchestrator) prepareWorkspace(ctx context.Context, m *store.Member, port int, token string) error {
	creds, err := o.deps.Credentials.ResolveActive(ctx, m.OrgID)
	if err != nil {
		return fmt.Errorf("resolving credentials: %w", err)
	}
	if len(creds) == 0 {
		return ErrNoCredentials
	}
	overrides, err := o.deps.Credentials.ModelOverrides(ctx, m.OrgID)
	if err != nil {
		return err
	}
	channels, err := o.deps.Store.GetChannelTokens(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("loading channel tokens: %w", err)
	}
	assigned, err := o.deps.Skills.ResolveAssigned(ctx, m.OrgID, m.UserID)
	if err != nil {
		return err
	}

	ws := o.deps.Workspace
	if err := ws.Prepare(m.OrgID, m.UserID); err != nil {
		return err
	}
	if err := ws.WriteAuthProfiles(m.OrgID, m.UserID, credentials.BuildProfiles(creds)); err != nil {
		return err
	}
	err = ws.WriteConfig(m.OrgID, m.UserID, gatewaycfg.Options{
		Port:           port,
		Token:          token,
		Providers:      credentials.ProviderIDs(creds),
		ModelOverrides: overrides,
		ChannelTokens:  channels,
	})
	if err != nil {
		return err
	}
	if err := ws.InstallSkills(ctx, m.OrgID, m.UserID, assigned, o.deps.Fetcher); err != nil {
		return fmt.Errorf("installing skills: %w", err)
	}
	return nil
}

// launch replaces the member's container with a fresh one and returns the
// port the gateway is reachable on.
func (o *Orchestrator) launch(ctx context.Context, m *store.Member, subdomain string) (int, error) {
	rt := o.deps.Runtime
	if err := rt.EnsureNetwork(ctx); err != nil {
		return 0, err
	}
	name := rt.ContainerName(m.OrgID, m.UserID)
	return rt.CreateAndStart(ctx, runtime.ContainerSpec{
		Name:      name,
		HostDir:   o.deps.Workspace.HostDir(m.OrgID, m.UserID),
		MountPath: workspace.MountPath,
		Labels:    rt.Labels(name, subdomain, m.OrgID, m.UserID),
	})
}

func (o *Orchestrator) regenerateRoutes(ctx context.Context) {
	if o.deps.Routes == nil {
		return
	}
	if err := o.deps.Routes.Regenerate(ctx); err != nil {
		o.logger.Warn("routing map regeneration failed", "error", err)
	}
}

// Provision creates a member's gateway: a new token and subdomain, a fresh
// workspace, and a started container. Any failure after the record is
// written rolls it back to absent.
func (o *Orchestrator) Provision(ctx context.Context, orgID, memberID string) (res *Result, err error) {
	ctx, op := startOperation(ctx, "provision", orgID, memberID)
	defer op.end(&err)
	defer o.lock(orgID, memberID)()

	m, err := o.member(ctx, orgID, memberID)
	if err != nil {
		return nil, err
	}
	if s := m.Gateway.Status; s == store.StatusRunning || s == store.StatusDeploying {
		return nil, ErrAlreadyRunning
	}
	if m.Gateway.Deployed() || m.Gateway.Status != "" {
		return nil, ErrAlreadyProvisioned
	}

	token, subdomain, err := newIdentity()
	if err != nil {
		return nil, err
	}
	internal := o.deps.Runtime.InternalPort()
	if err := o.prepareWorkspace(ctx, m, internal, token); err != nil {
		o.removeWorkspace(m)
		return nil, err
	}

	gw := store.Gateway{Port: internal, Status: store.StatusProvisioning, Token: token, Subdomain: subdomain}
	if err := o.deps.Store.SetGateway(ctx, m.ID, gw); err != nil {
		return nil, fmt.Errorf("recording gateway: %w", err)
	}

	port, err := o.launch(ctx, m, subdomain)
	if err == nil && port != internal {
		err = o.deps.Store.SetGatewayPort(ctx, m.ID, port)
	}
	if err == nil {
		err = o.deps.Store.SetGatewayStatus(ctx, m.ID, store.StatusDeploying)
	}
	if err != nil {
		o.rollback(ctx, m)
		return nil, err
	}

	o.logger.Info("gateway provisioned", "org_id", orgID, "member_id", memberID, "subdomain", subdomain, "port", port)
	o.regenerateRoutes(ctx)

	return &Result{MemberID: m.ID, UserID: m.UserID, Port: port, Status: store.StatusDeploying, Subdomain: subdomain}, nil
}

// rollback returns a failed provision to the never-provisioned state.
func (o *Orchestrator) rollback(ctx context.Context, m *store.Member) {
	ctx = context.WithoutCancel(ctx)
	name := o.deps.Runtime.ContainerName(m.OrgID, m.UserID)
	if err := o.deps.Runtime.Remove(ctx, name); err != nil {
		o.logger.Warn("rollback: removing container failed", "member_id", m.ID, "error", err)
	}
	o.removeWorkspace(m)
	if err := o.deps.Store.ClearGateway(ctx, m.ID); err != nil {
		o.logger.Error("rollback: clearing gateway record failed", "member_id", m.ID, "error", err)
	}
}

// removeWorkspace deletes a workspace left behind by a failed provision.
func (o *Orchestrator) removeWorkspace(m *store.Member) {
	if err := o.deps.Workspace.Remove(m.OrgID, m.UserID); err != nil {
		o.logger.Warn("rollback: removing workspace failed", "member_id", m.ID, "error", err)
	}
}

// Start starts a stopped gateway container.
func (o *Orchestrator) Start(ctx context.Context, orgID, memberID string) (res *Result, err error) {
	ctx, op := startOperation(ctx, "start", orgID, memberID)
	defer op.end(&err)
	defer o.lock(orgID, memberID)()

	m, err := o.member(ctx, orgID, memberID)
	if err != nil {
		return nil, err
	}
	if !m.Gateway.Deployed() {
		return nil, ErrNotDeployed
	}

	rt := o.deps.Runtime
	name := rt.ContainerName(m.OrgID, m.UserID)
	if err := rt.Start(ctx, name); err != nil {
		return nil, err
	}

	// A restarted container may be given a different host port.
	if rt.PublishesPorts() {
		if port := rt.Port(ctx, name); port != m.Gateway.Port {
			if err := o.deps.Store.SetGatewayPort(ctx, m.ID, port); err != nil {
				return nil, fmt.Errorf("recording gateway port: %w", err)
			}
			m.Gateway.Port = port
			defer o.regenerateRoutes(ctx)
		}
	}

	if err := o.deps.Store.SetGatewayStatus(ctx, m.ID, store.StatusDeploying); err != nil {
		return nil, fmt.Errorf("recording gateway status: %w", err)
	}
	m.Gateway.Status = store.StatusDeploying
	o.logger.Info("gateway started", "org_id", orgID, "member_id", memberID)
	return resultFor(m), nil
}

// Stop stops a gateway container, keeping its record and workspace.
func (o *Orchestrator) Stop(ctx context.Context, orgID, memberID string) (res *Result, err error) {
	ctx, op := startOperation(ctx, "stop", orgID, memberID)
	defer op.end(&err)
	defer o.lock(orgID, memberID)()

	m, err := o.member(ctx, orgID, memberID)
	if err != nil {
		return nil, err
	}
	if !m.Gateway.Deployed() {
		return nil, ErrNotDeployed
	}

	if err := o.deps.Runtime.Stop(ctx, o.deps.Runtime.ContainerName(m.OrgID, m.UserID)); err != nil {
		return nil, err
	}
	if err := o.deps.Store.SetGatewayStatus(ctx, m.ID, store.StatusStopped); err != nil {
		return nil, fmt.Errorf("recording gateway status: %w", err)
	}
	m.Gateway.Status = store.StatusStopped
	o.logger.Info("gateway stopped", "org_id", orgID, "member_id", memberID)
	return resultFor(m), nil
}

// Redeploy rewrites the workspace from current credentials, channels and
// skills and recreates the container. Token and subdomain are kept.
func (o *Orchestrator) Redeploy(ctx context.Context, orgID, memberID string) (res *Result, err error) {
	ctx, op := startOperation(ctx, "redeploy", orgID, memberID)
	defer op.end(&err)
	defer o.lock(orgID, memberID)()

	m, err := o.member(ctx, orgID, memberID)
	if err != nil {
		return nil, err
	}
	gw := m.Gateway
	if !gw.Deployed() || gw.Token == "" || gw.Subdomain == "" {
		return nil, ErrNotDeployed
	}

	if err := o.prepareWorkspace(ctx, m, o.deps.Runtime.InternalPort(), gw.Token); err != nil {
		return nil, err
	}

	port, err := o.launch(ctx, m, gw.Subdomain)
	if err != nil {
		// The old container is gone; record that until the next attempt.
		if serr := o.deps.Store.SetGatewayStatus(context.WithoutCancel(ctx), m.ID, store.StatusStopped); serr != nil {
			o.logger.Warn("recording stopped status failed", "member_id", m.ID, "error", serr)
		}
		return nil, err
	}
	if port != gw.Port {
		if err := o.deps.Store.SetGatewayPort(ctx, m.ID, port); err != nil {
			return nil, fmt.Errorf("recording gateway port: %w", err)
		}
	}
	if err := o.deps.Store.SetGatewayStatus(ctx, m.ID, store.StatusDeploying); err != nil {
		return nil, fmt.Errorf("recording gateway status: %w", err)
	}

	o.logger.Info("gateway redeployed", "org_id", orgID, "member_id", memberID, "port", port)
	o.regenerateRoutes(ctx)

	return &Result{MemberID: m.ID, UserID: m.UserID, Port: port, Status: store.StatusDeploying, Subdomain: gw.Subdomain}, nil
}

// Remove tears down the container and workspace and clears the record.
// Removing a gateway that is already gone succeeds with the absent tuple.
func (o *Orchestrator) Remove(ctx context.Context, orgID, memberID string) (res *Result, err error) {
	ctx, op := startOperation(ctx, "remove", orgID, memberID)
	defer op.end(&err)
	defer o.lock(orgID, memberID)()

	m, err := o.member(ctx, orgID, memberID)
	if err != nil {
		return nil, err
	}

	if err := o.deps.Runtime.Remove(ctx, o.deps.Runtime.ContainerName(m.OrgID, m.UserID)); err != nil {
		return nil, err
	}
	if err := o.deps.Workspace.Remove(m.OrgID, m.UserID); err != nil {
		return nil, err
	}

	deployed := m.Gateway != (store.Gateway{})
	if deployed {
		if err := o.deps.Store.ClearGateway(ctx, m.ID); err != nil {
			return nil, fmt.Errorf("clearing gateway record: %w", err)
		}
		o.logger.Info("gateway removed", "org_id", orgID, "member_id", memberID)
		o.regenerateRoutes(ctx)
	}

	return &Result{MemberID: m.ID, UserID: m.UserID}, nil
}

// Status reconciles the recorded status with the live container. A stopped
// or missing container is stopped; a running one is running only when its
// health probe passes, otherwise deploying. Changes are persisted.
func (o *Orchestrator) Status(ctx context.Context, orgID, memberID string) (res *Result, err error) {
	ctx, op := startOperation(ctx, "status", orgID, memberID)
	defer op.end(&err)
	defer o.lock(orgID, memberID)()

	m, err := o.member(ctx, orgID, memberID)
	if err != nil {
		return nil, err
	}
	if !m.Gateway.Deployed() {
		return &Result{MemberID: m.ID, UserID: m.UserID}, nil
	}

	rt := o.deps.Runtime
	name := rt.ContainerName(m.OrgID, m.UserID)

	actual := store.StatusStopped
	if rt.Running(ctx, name) {
		actual = store.StatusDeploying
		if o.deps.Prober.Probe(ctx, o.probeTarget(name, m.Gateway.Port)) {
			actual = store.StatusRunning
		}
	}

	if actual != m.Gateway.Status {
		if err := o.deps.Store.SetGatewayStatus(ctx, m.ID, actual); err != nil {
			return nil, fmt.Errorf("recording gateway status: %w", err)
		}
		o.logger.Info("gateway status changed", "org_id", orgID, "member_id", memberID, "from", m.Gateway.Status, "to", actual)
		m.Gateway.Status = actual
	}
	return resultFor(m), nil
}

func (o *Orchestrator) probeTarget(name string, port int) health.Target {
	rt := o.deps.Runtime
	if rt.PublishesPorts() {
		return health.Target{Container: name, Host: o.opts.ProbeHost, Port: port}
	}
	return health.Target{Container: name, Host: "127.0.0.1", Port: rt.InternalPort()}
}

// ApprovePairing approves a device pairing code on a channel and returns the
// gateway's output.
func (o *Orchestrator) ApprovePairing(ctx context.Context, orgID, memberID, channel, code string) (string, error) {
	if strings.TrimSpace(code) == "" {
		return "", ErrMissingCode
	}
	return o.pairing(ctx, "approve_pairing", orgID, memberID, channel, "approve", code)
}

// ListPairingRequests returns the gateway's pending pairing requests for a channel.
func (o *Orchestrator) ListPairingRequests(ctx context.Context, orgID, memberID, channel string) (string, error) {
	return o.pairing(ctx, "list_pairing", orgID, memberID, channel, "list")
}

func (o *Orchestrator) pairing(ctx context.Context, opName, orgID, memberID, channel string, args ...string) (out string, err error) {
	ctx, op := startOperation(ctx, opName, orgID, memberID)
	defer op.end(&err)

	if !gatewaycfg.IsManagedChannel(channel) {
		return "", fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
	}

	defer o.lock(orgID, memberID)()

	m, err := o.member(ctx, orgID, memberID)
	if err != nil {
		return "", err
	}
	if m.Gateway.Status != store.StatusRunning {
		return "", ErrNotRunning
	}

	cmd := []string{"openclaw", "pairing", args[0], channel}
	cmd = append(cmd, args[1:]...)
	output, err := o.deps.Runtime.Exec(ctx, o.deps.Runtime.ContainerName(m.OrgID, m.UserID), cmd)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(output), nil
}

// SyncCredentials rewrites the credential profile file of every running or
// deploying gateway in the org. Gateways reload the file on their own, so no
// container is restarted. It returns the number of workspaces updated.
func (o *Orchestrator) SyncCredentials(ctx context.Context, orgID string) (n int, err error) {
	ctx, op := startOperation(ctx, "sync_credentials", orgID, "")
	defer op.end(&err)

	creds, err := o.deps.Credentials.ResolveActive(ctx, orgID)
	if err != nil {
		return 0, fmt.Errorf("resolving credentials: %w", err)
	}
	profiles := credentials.BuildProfiles(creds)

	members, err := o.deps.Store.ListMembersByStatus(ctx, orgID, store.StatusRunning, store.StatusDeploying)
	if err != nil {
		return 0, fmt.Errorf("listing members: %w", err)
	}

	for _, m := range members {
		wrote, err := o.syncMember(m, profiles)
		if err != nil {
			return n, err
		}
		if wrote {
			n++
		}
	}
	o.logger.Info("credentials synced", "org_id", orgID, "gateways", n)
	return n, nil
}

// syncMember writes profiles into the member's workspace if it exists.
func (o *Orchestrator) syncMember(m *store.Member, profiles credentials.ProfileFile) (bool, error) {
	defer o.lock(m.OrgID, m.ID)()
	if !o.deps.Workspace.Exists(m.OrgID, m.UserID) {
		return false, nil
	}
	if err := o.deps.Workspace.WriteAuthProfiles(m.OrgID, m.UserID, profiles); err != nil {
		return false, err
	}
	return true, nil
}
