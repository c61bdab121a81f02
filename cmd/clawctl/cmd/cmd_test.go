// ABOUTME: Tests for the clawctl command tree
// ABOUTME: Runs commands against an httptest server and checks requests and output

package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type request struct {
	method, path, auth, body string
}

func fakeAPI(t *testing.T, status int, response string) (string, *[]request) {
	t.Helper()
	var got []request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got = append(got, request{r.Method, r.URL.Path, r.Header.Get("Authorization"), string(body)})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, response)
	}))
	t.Cleanup(srv.Close)
	return srv.URL, &got
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

const running = `{"data":{"memberId":"m1","userId":"u1","gateway_port":6100,"gateway_status":"running","gateway_subdomain":"claw-0a1b2c3d"}}`

func TestProvision_Table(t *testing.T) {
	url, got := fakeAPI(t, http.StatusCreated, running)

	out, err := execute(t, "provision", "o1", "m1", "--server", url, "--token", "tok", "-o", "table")
	require.NoError(t, err)

	require.Len(t, *got, 1)
	assert.Equal(t, request{http.MethodPost, "/api/orgs/o1/gateways/members/m1", "Bearer tok", ""}, (*got)[0])
	assert.Contains(t, out, "MEMBER")
	assert.Contains(t, out, "running")
	assert.Contains(t, out, "6100")
	assert.Contains(t, out, "claw-0a1b2c3d")
}

func TestStatus_JSON(t *testing.T) {
	url, got := fakeAPI(t, http.StatusOK,
		`{"data":{"memberId":"m1","userId":"u1","gateway_port":null,"gateway_status":null,"gateway_subdomain":null}}`)

	out, err := execute(t, "status", "o1", "m1", "--server", url, "--token", "tok", "-o", "json")
	require.NoError(t, err)
	assert.Equal(t, "/api/orgs/o1/gateways/members/m1/status", (*got)[0].path)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "m1", decoded["memberId"])
	assert.Nil(t, decoded["gateway_status"])
}

func TestStatus_AbsentTable(t *testing.T) {
	url, _ := fakeAPI(t, http.StatusOK,
		`{"data":{"memberId":"m1","userId":"u1","gateway_port":null,"gateway_status":null,"gateway_subdomain":null}}`)

	out, err := execute(t, "status", "o1", "m1", "--server", url, "--token", "tok", "-o", "table")
	require.NoError(t, err)
	assert.Contains(t, out, "m1  ")
	assert.Contains(t, out, "-")
}

func TestLifecycleCommands(t *testing.T) {
	tests := []struct {
		cmd    string
		method string
		path   string
	}{
		{"start", http.MethodPost, "/api/orgs/o1/gateways/members/m1/start"},
		{"stop", http.MethodPost, "/api/orgs/o1/gateways/members/m1/stop"},
		{"redeploy", http.MethodPost, "/api/orgs/o1/gateways/members/m1/redeploy"},
		{"remove", http.MethodDelete, "/api/orgs/o1/gateways/members/m1"},
	}
	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			url, got := fakeAPI(t, http.StatusOK, running)

			_, err := execute(t, tt.cmd, "o1", "m1", "--server", url, "--token", "tok", "-o", "table")
			require.NoError(t, err)
			require.Len(t, *got, 1)
			assert.Equal(t, tt.method, (*got)[0].method)
			assert.Equal(t, tt.path, (*got)[0].path)
		})
	}
}

func TestAPIErrorIsReturned(t *testing.T) {
	url, _ := fakeAPI(t, http.StatusConflict, `{"error":"conflict","message":"gateway already running"}`)

	_, err := execute(t, "provision", "o1", "m1", "--server", url, "--token", "tok", "-o", "table")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provision failed")
	assert.Contains(t, err.Error(), "gateway already running")
}

func TestArgsAreRequired(t *testing.T) {
	url, got := fakeAPI(t, http.StatusOK, running)

	_, err := execute(t, "provision", "o1", "--server", url, "--token", "tok")
	assert.Error(t, err)
	assert.Empty(t, *got)
}

func TestChannelSet(t *testing.T) {
	url, got := fakeAPI(t, http.StatusOK, `{"data":{"channel":"telegram","configured":true,"redeploy_queued":true}}`)

	out, err := execute(t, "channel", "set", "o1", "m1", "telegram", "123:abc", "--server", url, "--token", "tok", "-o", "table")
	require.NoError(t, err)
	assert.Equal(t, http.MethodPut, (*got)[0].method)
	assert.Equal(t, "/api/orgs/o1/members/m1/channels/telegram", (*got)[0].path)
	assert.JSONEq(t, `{"token":"123:abc"}`, (*got)[0].body)
	assert.Contains(t, out, "telegram configured")
	assert.Contains(t, out, "redeploy queued")
}

func TestChannelDelete(t *testing.T) {
	url, got := fakeAPI(t, http.StatusOK, `{"data":{"channel":"slack","configured":false,"redeploy_queued":false}}`)

	out, err := execute(t, "channel", "rm", "o1", "m1", "slack", "--server", url, "--token", "tok", "-o", "table")
	require.NoError(t, err)
	assert.Equal(t, http.MethodDelete, (*got)[0].method)
	assert.Contains(t, out, "slack cleared")
	assert.NotContains(t, out, "redeploy")
}

func TestPairApproveAndList(t *testing.T) {
	url, got := fakeAPI(t, http.StatusOK, `{"data":{"output":"Approved telegram sender 42."}}`)

	out, err := execute(t, "pair", "approve", "o1", "m1", "telegram", "XYZ", "--server", url, "--token", "tok", "-o", "table")
	require.NoError(t, err)
	assert.Equal(t, "Approved telegram sender 42.\n", out)
	assert.JSONEq(t, `{"code":"XYZ"}`, (*got)[0].body)

	_, err = execute(t, "pair", "list", "o1", "m1", "telegram", "--server", url, "--token", "tok", "-o", "table")
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, (*got)[1].method)
	assert.Equal(t, "/api/orgs/o1/members/m1/channels/telegram/pair", (*got)[1].path)
}

func TestSyncCredentials(t *testing.T) {
	url, got := fakeAPI(t, http.StatusOK, `{"data":{"updated":3}}`)

	out, err := execute(t, "sync-credentials", "o1", "--server", url, "--token", "tok", "-o", "table")
	require.NoError(t, err)
	assert.Equal(t, "/api/orgs/o1/credentials/sync", (*got)[0].path)
	assert.Equal(t, "updated 3 gateway(s)\n", out)
}

func TestGetToken_Sources(t *testing.T) {
	prev := token
	t.Cleanup(func() { token = prev })
	token = ""

	dir := t.TempDir()
	t.Setenv("CLAWHUDDLE_CONFIG", filepath.Join(dir, "server.yaml"))
	t.Setenv("CLAWHUDDLE_TOKEN", "")
	assert.Empty(t, getToken())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "token"), []byte("from-file\n"), 0600))
	assert.Equal(t, "from-file", getToken())

	t.Setenv("CLAWHUDDLE_TOKEN", "from-env")
	assert.Equal(t, "from-env", getToken())

	token = "from-flag"
	assert.Equal(t, "from-flag", getToken())
}

func TestGetServerURL(t *testing.T) {
	prev := serverURL
	t.Cleanup(func() { serverURL = prev })
	serverURL = ""

	t.Setenv("CLAWHUDDLE_URL", "")
	assert.Equal(t, "http://localhost:8080", getServerURL())

	t.Setenv("CLAWHUDDLE_URL", "https://huddle.example.com")
	assert.Equal(t, "https://huddle.example.com", getServerURL())
}
