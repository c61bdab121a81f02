// ABOUTME: Tests for the gateway lifecycle state machine
// ABOUTME: Runs against MockStore, FakeEngine, and a scripted health prober

package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/clawhuddle/internal/credentials"
	"github.com/2389/clawhuddle/internal/health"
	"github.com/2389/clawhuddle/internal/routing"
	"github.com/2389/clawhuddle/internal/runtime"
	"github.com/2389/clawhuddle/internal/skills"
	"github.com/2389/clawhuddle/internal/store"
	"github.com/2389/clawhuddle/internal/workspace"
)

const testOrg = "org-00000001"

type fakeProber struct {
	mu      sync.Mutex
	healthy bool
	targets []health.Target
}

func (p *fakeProber) Probe(ctx context.Context, target health.Target) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.targets = append(p.targets, target)
	return p.healthy
}

func (p *fakeProber) set(healthy bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.healthy = healthy
}

type fakeRoutes struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (r *fakeRoutes) Regenerate(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.err
}

func (r *fakeRoutes) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type noFetcher struct{}

func (noFetcher) Fetch(ctx context.Context, gitURL string) (string, error) {
	return "", errors.New("no skill sources in tests")
}

type fixture struct {
	store  *store.MockStore
	engine *runtime.FakeEngine
	rt     *runtime.Runtime
	ws     *workspace.Manager
	prober *fakeProber
	routes *fakeRoutes
	orch   *Orchestrator
	member *store.Member
	cred   *store.Credential
}

func newFixture(t *testing.T, publish bool) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		store:  store.NewMockStore(),
		engine: runtime.NewFakeEngine(),
		prober: &fakeProber{healthy: true},
		routes: &fakeRoutes{},
	}
	f.rt = runtime.New(f.engine, runtime.Options{
		Image:         "clawhuddle-gateway:local",
		InternalPort:  6100,
		Network:       "clawhuddle-net",
		Prefix:        "clawhuddle-gw-",
		GatewayDomain: "gw.example.com",
		PublishPorts:  publish,
		ExecTimeout:   time.Second,
	}, nil)
	f.ws = workspace.NewManager(t.TempDir(), "/srv/clawhuddle", nil)

	f.member = &store.Member{OrgID: testOrg, UserID: "user-00000001"}
	require.NoError(t, f.store.CreateMember(ctx, f.member))
	f.cred = &store.Credential{OrgID: testOrg, Provider: "anthropic", Kind: store.CredentialAPIKey, Secret: "sk-ant-test"}
	require.NoError(t, f.store.PutCredential(ctx, f.cred))

	f.orch = New(Deps{
		Store:       f.store,
		Credentials: credentials.NewResolver(f.store, nil),
		Skills:      skills.NewRegistry(f.store),
		Fetcher:     noFetcher{},
		Workspace:   f.ws,
		Runtime:     f.rt,
		Prober:      f.prober,
		Routes:      f.routes,
	}, Options{ProbeHost: "gateway-host"}, nil)
	return f
}

func (f *fixture) gateway(t *testing.T) store.Gateway {
	t.Helper()
	m, err := f.store.GetMember(context.Background(), testOrg, f.member.ID)
	require.NoError(t, err)
	return m.Gateway
}

func (f *fixture) containerName() string {
	return f.rt.ContainerName(f.member.OrgID, f.member.UserID)
}

func (f *fixture) provision(t *testing.T) *Result {
	t.Helper()
	res, err := f.orch.Provision(context.Background(), testOrg, f.member.ID)
	require.NoError(t, err)
	return res
}

var subdomainPattern = regexp.MustCompile(`^claw-[0-9a-f]{8}$`)
var tokenPattern = regexp.MustCompile(`^[0-9a-f]{48}$`)

func TestProvision_Fresh(t *testing.T) {
	f := newFixture(t, false)

	res := f.provision(t)

	assert.Equal(t, f.member.ID, res.MemberID)
	assert.Equal(t, f.member.UserID, res.UserID)
	assert.Equal(t, store.StatusDeploying, res.Status)
	assert.Equal(t, 6100, res.Port)
	assert.Regexp(t, subdomainPattern, res.Subdomain)

	gw := f.gateway(t)
	assert.Equal(t, store.StatusDeploying, gw.Status)
	assert.Equal(t, 6100, gw.Port)
	assert.Equal(t, res.Subdomain, gw.Subdomain)
	assert.Regexp(t, tokenPattern, gw.Token)

	c := f.engine.Container(f.containerName())
	require.NotNil(t, c)
	assert.True(t, c.Running)
	assert.Equal(t, []string{"/srv/clawhuddle/gateways/" + testOrg + "/user-00000001:/root/.openclaw"}, c.Host.Binds)
	assert.Equal(t, "Host(`"+res.Subdomain+".gw.example.com`)", c.Config.Labels["traefik.http.routers."+f.containerName()+".rule"])
	assert.True(t, f.engine.HasNetwork("clawhuddle-net"))
	assert.Equal(t, 1, f.routes.count())
}

func TestProvision_WritesWorkspace(t *testing.T) {
	f := newFixture(t, false)
	require.NoError(t, f.store.SetChannelToken(context.Background(), f.member.ID, "telegram", "123:abc"))
	f.provision(t)

	dir := f.ws.Dir(testOrg, f.member.UserID)

	var doc map[string]any
	data, err := os.ReadFile(filepath.Join(dir, workspace.ConfigFile))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &doc))
	gw := doc["gateway"].(map[string]any)
	assert.Equal(t, f.gateway(t).Token, gw["auth"].(map[string]any)["token"])
	assert.EqualValues(t, 6100, gw["port"])
	model := doc["agents"].(map[string]any)["defaults"].(map[string]any)["model"].(map[string]any)
	assert.Equal(t, "anthropic/claude-sonnet-4-5", model["primary"])
	telegram := doc["channels"].(map[string]any)["telegram"].(map[string]any)
	assert.Equal(t, "123:abc", telegram["botToken"])

	data, err = os.ReadFile(filepath.Join(dir, filepath.FromSlash(workspace.AuthProfilesFile)))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"anthropic:manual"`)
}

func TestProvision_PublishedPort(t *testing.T) {
	f := newFixture(t, true)

	res := f.provision(t)
	assert.Equal(t, 49153, res.Port)
	assert.Equal(t, 49153, f.gateway(t).Port)

	_, err := f.orch.Status(context.Background(), testOrg, f.member.ID)
	require.NoError(t, err)
	require.NotEmpty(t, f.prober.targets)
	assert.Equal(t, health.Target{Container: f.containerName(), Host: "gateway-host", Port: 49153}, f.prober.targets[0])
}

func TestProvision_RejectsActiveGateway(t *testing.T) {
	f := newFixture(t, false)
	f.provision(t)

	before := testutil.ToFloat64(operationsTotal.WithLabelValues("provision", "rejected"))
	_, err := f.orch.Provision(context.Background(), testOrg, f.member.ID)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.True(t, IsPrecondition(err))
	assert.Equal(t, before+1, testutil.ToFloat64(operationsTotal.WithLabelValues("provision", "rejected")))
}

func TestProvision_RejectsStoppedGateway(t *testing.T) {
	f := newFixture(t, false)
	f.provision(t)
	_, err := f.orch.Stop(context.Background(), testOrg, f.member.ID)
	require.NoError(t, err)
	before := f.gateway(t)

	_, err = f.orch.Provision(context.Background(), testOrg, f.member.ID)
	assert.ErrorIs(t, err, ErrAlreadyProvisioned)
	assert.True(t, IsPrecondition(err))
	assert.Equal(t, before, f.gateway(t), "token and subdomain survive")

	// A failing engine must not reach the stopped gateway either.
	f.engine.Errors["CreateContainer"] = errors.New("image missing")
	_, err = f.orch.Provision(context.Background(), testOrg, f.member.ID)
	assert.ErrorIs(t, err, ErrAlreadyProvisioned)
	assert.Equal(t, before, f.gateway(t))
	assert.NotNil(t, f.engine.Container(f.containerName()))
	assert.True(t, f.ws.Exists(testOrg, f.member.UserID))
}

func TestProvision_RejectsLeftoverProvisioning(t *testing.T) {
	f := newFixture(t, false)
	require.NoError(t, f.store.SetGateway(context.Background(), f.member.ID, store.Gateway{
		Port: 6100, Status: store.StatusProvisioning, Token: "t", Subdomain: "claw-00000000",
	}))

	_, err := f.orch.Provision(context.Background(), testOrg, f.member.ID)
	assert.ErrorIs(t, err, ErrAlreadyProvisioned)
	assert.Equal(t, "claw-00000000", f.gateway(t).Subdomain)
}

func TestProvision_UnknownMember(t *testing.T) {
	f := newFixture(t, false)

	_, err := f.orch.Provision(context.Background(), testOrg, "nope")
	assert.ErrorIs(t, err, ErrMemberNotFound)

	_, err = f.orch.Provision(context.Background(), "other-org", f.member.ID)
	assert.ErrorIs(t, err, ErrMemberNotFound)
}

func TestProvision_RollbackOnContainerFailure(t *testing.T) {
	for _, method := range []string{"CreateContainer", "StartContainer", "CreateNetwork"} {
		t.Run(method, func(t *testing.T) {
			f := newFixture(t, false)
			f.engine.Errors[method] = errors.New("image clawhuddle-gateway:local not found")

			_, err := f.orch.Provision(context.Background(), testOrg, f.member.ID)
			require.Error(t, err)
			assert.False(t, IsPrecondition(err))

			assert.Equal(t, store.Gateway{}, f.gateway(t), "record must look never provisioned")
			assert.Nil(t, f.engine.Container(f.containerName()))
			assert.False(t, f.ws.Exists(testOrg, f.member.UserID), "workspace with provider secrets must be gone")
			assert.Equal(t, 0, f.routes.count())

			routes, err := f.store.ListRoutes(context.Background())
			require.NoError(t, err)
			assert.Empty(t, routes)
		})
	}
}

func TestProvision_RemovesWorkspaceWhenPreparationFails(t *testing.T) {
	f := newFixture(t, false)
	require.NoError(t, f.store.CreateSkill(context.Background(), &store.Skill{
		OrgID: testOrg, Name: "broken", Type: store.SkillMandatory, Enabled: true,
		GitURL: "https://example.com/skills.git", GitPath: "broken",
	}))

	_, err := f.orch.Provision(context.Background(), testOrg, f.member.ID)
	require.Error(t, err)
	assert.False(t, f.ws.Exists(testOrg, f.member.UserID))
	assert.Equal(t, store.Gateway{}, f.gateway(t))
	assert.Empty(t, f.engine.Calls())
}

func TestCredentialPrecondition(t *testing.T) {
	t.Run("provision", func(t *testing.T) {
		f := newFixture(t, false)
		require.NoError(t, f.store.DeleteCredential(context.Background(), testOrg, f.cred.ID))

		_, err := f.orch.Provision(context.Background(), testOrg, f.member.ID)
		assert.ErrorIs(t, err, ErrNoCredentials)
		assert.Empty(t, f.engine.Calls(), "no engine calls without credentials")
		assert.Equal(t, store.Gateway{}, f.gateway(t))
	})

	t.Run("redeploy", func(t *testing.T) {
		f := newFixture(t, false)
		f.provision(t)
		before := f.gateway(t)
		require.NoError(t, f.store.DeleteCredential(context.Background(), testOrg, f.cred.ID))
		f.engine.ResetCalls()

		_, err := f.orch.Redeploy(context.Background(), testOrg, f.member.ID)
		assert.ErrorIs(t, err, ErrNoCredentials)
		assert.Empty(t, f.engine.Calls(), "no engine calls without credentials")
		assert.Equal(t, before, f.gateway(t))
	})

	t.Run("malformed oauth only", func(t *testing.T) {
		f := newFixture(t, false)
		require.NoError(t, f.store.PutCredential(context.Background(), &store.Credential{
			OrgID: testOrg, Provider: "anthropic", Kind: store.CredentialOAuth, Secret: "{not json",
		}))

		_, err := f.orch.Provision(context.Background(), testOrg, f.member.ID)
		assert.ErrorIs(t, err, ErrNoCredentials)
		assert.Empty(t, f.engine.Calls())
	})
}

func TestRedeploy_KeepsTokenAndSubdomain(t *testing.T) {
	f := newFixture(t, false)
	f.provision(t)
	before := f.gateway(t)
	f.engine.ResetCalls()

	res, err := f.orch.Redeploy(context.Background(), testOrg, f.member.ID)
	require.NoError(t, err)

	after := f.gateway(t)
	assert.Equal(t, before.Token, after.Token)
	assert.Equal(t, before.Subdomain, after.Subdomain)
	assert.Equal(t, before.Subdomain, res.Subdomain)
	assert.Equal(t, store.StatusDeploying, after.Status)
	assert.Contains(t, f.engine.Calls(), "RemoveContainer "+f.containerName())
	assert.Contains(t, f.engine.Calls(), "CreateContainer "+f.containerName())
	assert.Equal(t, 2, f.routes.count())
}

func TestRedeploy_PicksUpChannelAndKeepsUserKeys(t *testing.T) {
	f := newFixture(t, false)
	f.provision(t)

	path := filepath.Join(f.ws.Dir(testOrg, f.member.UserID), workspace.ConfigFile)
	var doc map[string]any
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &doc))
	doc["session"] = map[string]any{"scope": "per-sender"}
	data, err = json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))

	require.NoError(t, f.store.SetChannelToken(context.Background(), f.member.ID, "discord", "disc-token"))
	_, err = f.orch.Redeploy(context.Background(), testOrg, f.member.ID)
	require.NoError(t, err)

	doc = nil
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, map[string]any{"scope": "per-sender"}, doc["session"])
	assert.Equal(t, "disc-token", doc["channels"].(map[string]any)["discord"].(map[string]any)["botToken"])
}

func TestRedeploy_NotDeployed(t *testing.T) {
	f := newFixture(t, false)

	_, err := f.orch.Redeploy(context.Background(), testOrg, f.member.ID)
	assert.ErrorIs(t, err, ErrNotDeployed)
}

func TestRedeploy_ContainerFailureMarksStopped(t *testing.T) {
	f := newFixture(t, false)
	f.provision(t)
	before := f.gateway(t)
	f.engine.Errors["StartContainer"] = errors.New("out of memory")

	_, err := f.orch.Redeploy(context.Background(), testOrg, f.member.ID)
	require.Error(t, err)

	after := f.gateway(t)
	assert.Equal(t, store.StatusStopped, after.Status)
	assert.Equal(t, before.Token, after.Token)
	assert.Equal(t, before.Subdomain, after.Subdomain)
}

func TestRedeploy_PublishedPortChanges(t *testing.T) {
	f := newFixture(t, true)
	f.provision(t)

	res, err := f.orch.Redeploy(context.Background(), testOrg, f.member.ID)
	require.NoError(t, err)
	assert.Equal(t, 49154, res.Port)
	assert.Equal(t, 49154, f.gateway(t).Port)
}

func TestStopStartRoundtrip(t *testing.T) {
	f := newFixture(t, false)
	f.provision(t)
	before := f.gateway(t)

	res, err := f.orch.Stop(context.Background(), testOrg, f.member.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusStopped, res.Status)
	assert.Equal(t, before.Port, res.Port)
	assert.Equal(t, before.Subdomain, res.Subdomain)
	stopped := f.gateway(t)
	assert.Equal(t, store.StatusStopped, stopped.Status)
	assert.Equal(t, before.Token, stopped.Token)
	assert.False(t, f.engine.Container(f.containerName()).Running)

	res, err = f.orch.Start(context.Background(), testOrg, f.member.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusDeploying, res.Status)
	assert.Equal(t, before.Port, res.Port)
	assert.Equal(t, before.Subdomain, res.Subdomain)
	started := f.gateway(t)
	assert.Equal(t, before.Token, started.Token)
	assert.Equal(t, before.Subdomain, started.Subdomain)
	assert.True(t, f.engine.Container(f.containerName()).Running)
}

func TestStart_RefreshesPublishedPort(t *testing.T) {
	f := newFixture(t, true)
	f.engine.ReassignPorts = true
	f.provision(t)
	routesBefore := f.routes.count()

	_, err := f.orch.Stop(context.Background(), testOrg, f.member.ID)
	require.NoError(t, err)
	res, err := f.orch.Start(context.Background(), testOrg, f.member.ID)
	require.NoError(t, err)

	assert.Equal(t, 49154, res.Port)
	assert.Equal(t, 49154, f.gateway(t).Port)
	assert.Equal(t, routesBefore+1, f.routes.count())
}

func TestStartStop_NotDeployed(t *testing.T) {
	f := newFixture(t, false)

	_, err := f.orch.Start(context.Background(), testOrg, f.member.ID)
	assert.ErrorIs(t, err, ErrNotDeployed)
	_, err = f.orch.Stop(context.Background(), testOrg, f.member.ID)
	assert.ErrorIs(t, err, ErrNotDeployed)
	assert.Empty(t, f.engine.Calls())
}

func TestStart_MissingContainerFails(t *testing.T) {
	f := newFixture(t, false)
	f.provision(t)
	f.engine.Delete(f.containerName())

	_, err := f.orch.Start(context.Background(), testOrg, f.member.ID)
	require.Error(t, err)
	assert.True(t, runtime.IsNotFound(err))
	assert.False(t, IsPrecondition(err))
}

func TestRemove_Idempotent(t *testing.T) {
	f := newFixture(t, false)
	f.provision(t)

	for i := 0; i < 2; i++ {
		res, err := f.orch.Remove(context.Background(), testOrg, f.member.ID)
		require.NoError(t, err, "remove #%d", i+1)
		assert.Equal(t, &Result{MemberID: f.member.ID, UserID: f.member.UserID}, res)
		assert.Equal(t, store.Gateway{}, f.gateway(t))
	}

	assert.Nil(t, f.engine.Container(f.containerName()))
	assert.False(t, f.ws.Exists(testOrg, f.member.UserID))
	assert.Equal(t, 2, f.routes.count(), "provision and the first remove change routing")
}

func TestRemove_ContainerAlreadyGone(t *testing.T) {
	f := newFixture(t, false)
	f.provision(t)
	f.engine.Delete(f.containerName())

	_, err := f.orch.Remove(context.Background(), testOrg, f.member.ID)
	require.NoError(t, err)
	assert.Equal(t, store.Gateway{}, f.gateway(t))
}

func TestStatus_Absent(t *testing.T) {
	f := newFixture(t, false)

	res, err := f.orch.Status(context.Background(), testOrg, f.member.ID)
	require.NoError(t, err)
	assert.Equal(t, &Result{MemberID: f.member.ID, UserID: f.member.UserID}, res)
	assert.Empty(t, f.engine.Calls())
}

func TestStatus_Convergence(t *testing.T) {
	f := newFixture(t, false)
	f.provision(t)
	name := f.containerName()
	ctx := context.Background()

	steps := []struct {
		name    string
		mutate  func()
		healthy bool
		want    store.GatewayStatus
	}{
		{"healthy promotes to running", func() {}, true, store.StatusRunning},
		{"killed externally", func() { f.engine.SetRunning(name, false) }, true, store.StatusStopped},
		{"restarted but not ready", func() { f.engine.SetRunning(name, true) }, false, store.StatusDeploying},
		{"becomes ready", func() {}, true, store.StatusRunning},
		{"removed externally", func() { f.engine.Delete(name) }, true, store.StatusStopped},
	}
	for _, step := range steps {
		step.mutate()
		f.prober.set(step.healthy)

		res, err := f.orch.Status(ctx, testOrg, f.member.ID)
		require.NoError(t, err, step.name)
		assert.Equal(t, step.want, res.Status, step.name)
		assert.Equal(t, step.want, f.gateway(t).Status, step.name)
	}
}

func TestStatus_HealthGatedRunning(t *testing.T) {
	f := newFixture(t, false)
	f.provision(t)
	f.prober.set(false)

	res, err := f.orch.Status(context.Background(), testOrg, f.member.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusDeploying, res.Status)
	require.Len(t, f.prober.targets, 1)
	assert.Equal(t, health.Target{Container: f.containerName(), Host: "127.0.0.1", Port: 6100}, f.prober.targets[0])
}

func TestStatus_InspectFailureIsStopped(t *testing.T) {
	f := newFixture(t, false)
	f.provision(t)
	f.engine.Errors["InspectContainer"] = errors.New("engine unreachable")

	res, err := f.orch.Status(context.Background(), testOrg, f.member.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusStopped, res.Status)
}

func TestPairing(t *testing.T) {
	f := newFixture(t, false)
	f.provision(t)
	ctx := context.Background()

	_, err := f.orch.ApprovePairing(ctx, testOrg, f.member.ID, "telegram", "ABC123")
	assert.ErrorIs(t, err, ErrNotRunning, "deploying is not running")

	_, err = f.orch.Status(ctx, testOrg, f.member.ID)
	require.NoError(t, err)

	var got [][]string
	f.engine.ExecFunc = func(ctx context.Context, name string, cmd []string) (runtime.ExecResult, error) {
		got = append(got, cmd)
		if cmd[2] == "approve" {
			return runtime.ExecResult{Output: "\nApproved telegram sender 42.\n"}, nil
		}
		return runtime.ExecResult{Output: "  No pending requests  \n"}, nil
	}

	out, err := f.orch.ApprovePairing(ctx, testOrg, f.member.ID, "telegram", "ABC123")
	require.NoError(t, err)
	assert.Equal(t, "Approved telegram sender 42.", out)

	out, err = f.orch.ListPairingRequests(ctx, testOrg, f.member.ID, "telegram")
	require.NoError(t, err)
	assert.Equal(t, "No pending requests", out)

	assert.Equal(t, [][]string{
		{"openclaw", "pairing", "approve", "telegram", "ABC123"},
		{"openclaw", "pairing", "list", "telegram"},
	}, got)
}

func TestPairing_Errors(t *testing.T) {
	f := newFixture(t, false)
	f.provision(t)
	ctx := context.Background()
	_, err := f.orch.Status(ctx, testOrg, f.member.ID)
	require.NoError(t, err)

	_, err = f.orch.ListPairingRequests(ctx, testOrg, f.member.ID, "irc")
	assert.ErrorIs(t, err, ErrUnknownChannel)

	_, err = f.orch.ApprovePairing(ctx, testOrg, f.member.ID, "telegram", " ")
	assert.ErrorIs(t, err, ErrMissingCode)

	f.engine.ExecFunc = func(ctx context.Context, name string, cmd []string) (runtime.ExecResult, error) {
		return runtime.ExecResult{ExitCode: 1, Output: "invalid code\n"}, nil
	}
	_, err = f.orch.ApprovePairing(ctx, testOrg, f.member.ID, "telegram", "WRONG")
	assert.ErrorIs(t, err, runtime.ErrExecFailed)
	assert.Contains(t, err.Error(), "invalid code")
	assert.False(t, IsPrecondition(err))
}

func TestSyncCredentials(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	f.provision(t)

	idle := &store.Member{OrgID: testOrg, UserID: "user-00000002"}
	require.NoError(t, f.store.CreateMember(ctx, idle))
	_, err := f.orch.Provision(ctx, testOrg, idle.ID)
	require.NoError(t, err)
	_, err = f.orch.Stop(ctx, testOrg, idle.ID)
	require.NoError(t, err)

	require.NoError(t, f.store.PutCredential(ctx, &store.Credential{OrgID: testOrg, Provider: "openai", Kind: store.CredentialAPIKey, Secret: "sk-openai"}))
	f.engine.ResetCalls()

	n, err := f.orch.SyncCredentials(ctx, testOrg)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, f.engine.Calls(), "sync never restarts containers")

	read := func(userID string) string {
		data, err := os.ReadFile(filepath.Join(f.ws.Dir(testOrg, userID), filepath.FromSlash(workspace.AuthProfilesFile)))
		require.NoError(t, err)
		return string(data)
	}
	assert.Contains(t, read(f.member.UserID), `"openai:manual"`)
	assert.NotContains(t, read(idle.UserID), `"openai:manual"`)
}

func TestConcurrentProvision(t *testing.T) {
	f := newFixture(t, false)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.orch.Provision(context.Background(), testOrg, f.member.ID)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrAlreadyRunning)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 0, f.orch.locks.size())
}

func TestRoutingFollowsLifecycle(t *testing.T) {
	f := newFixture(t, false)
	path := filepath.Join(t.TempDir(), "gateway-map.conf")
	f.orch.deps.Routes = routing.NewPublisher(f.store, f.rt, routing.Options{MapPath: path, ProxyContainer: "clawhuddle-nginx", GatewayHost: "127.0.0.1"}, nil)

	res := f.provision(t)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, routing.Banner+res.Subdomain+" 127.0.0.1:6100;\n", string(data))

	_, err = f.orch.Remove(context.Background(), testOrg, f.member.ID)
	require.NoError(t, err)
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, routing.Banner, string(data))
}

func TestResultJSON(t *testing.T) {
	data, err := json.Marshal(&Result{MemberID: "m1", UserID: "u1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"memberId":"m1","userId":"u1","gateway_port":null,"gateway_status":null,"gateway_subdomain":null}`, string(data))

	data, err = json.Marshal(&Result{MemberID: "m1", UserID: "u1", Port: 6100, Status: store.StatusRunning, Subdomain: "claw-0a1b2c3d"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"memberId":"m1","userId":"u1","gateway_port":6100,"gateway_status":"running","gateway_subdomain":"claw-0a1b2c3d"}`, string(data))
}
