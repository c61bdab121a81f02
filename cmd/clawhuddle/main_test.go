// ABOUTME: Tests for clawhuddle's config path, init, token, and logging helpers
// ABOUTME: Exercises the pieces behind each subcommand without starting a server

package main

import (
	"bufio"
	"bytes"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/clawhuddle/internal/auth"
	"github.com/2389/clawhuddle/internal/config"
)

func TestGetConfigPath(t *testing.T) {
	t.Setenv("CLAWHUDDLE_CONFIG", "/etc/clawhuddle.yaml")
	assert.Equal(t, "/etc/clawhuddle.yaml", getConfigPath())

	t.Setenv("CLAWHUDDLE_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, "/xdg/clawhuddle/server.yaml", getConfigPath())
}

func TestGetDataPath(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/xdg-data")
	assert.Equal(t, "/xdg-data/clawhuddle", getDataPath())
}

func TestBuildConfig_DefaultsParse(t *testing.T) {
	dataPath := t.TempDir()

	content, err := buildConfig(bufio.NewReader(strings.NewReader("")), dataPath)
	require.NoError(t, err)

	cfg, err := config.Parse([]byte(content))
	require.NoError(t, err)
	assert.Equal(t, "localhost:8080", cfg.Server.HTTPAddr)
	assert.Equal(t, filepath.Join(dataPath, "clawhuddle.db"), cfg.Database.Path)
	assert.Equal(t, config.ModeLocalDevelopment, cfg.Gateways.Mode)
	assert.Equal(t, filepath.Join(dataPath, "gateways"), cfg.Gateways.HostDataDir)
	assert.Equal(t, 5*time.Second, cfg.Gateways.HealthTimeout)
	assert.GreaterOrEqual(t, len(cfg.Auth.JWTSecret), auth.MinSecretLength)
	assert.False(t, cfg.Tailscale.Enabled)
}

func TestBuildConfig_Answers(t *testing.T) {
	dataPath := t.TempDir()
	answers := strings.Join([]string{
		"0.0.0.0:9090",     // http
		"",                 // db
		"production",       // mode
		"ghcr.io/x/gw:1",   // image
		"",                 // data dir
		"claw.example.com", // domain
		"y",                // tailscale
		"huddle",           // hostname
		"",                 // auth key
		"no",               // ephemeral
		"yes",              // https
		"debug",            // level
		"json",             // format
	}, "\n") + "\n"

	content, err := buildConfig(bufio.NewReader(strings.NewReader(answers)), dataPath)
	require.NoError(t, err)

	cfg, err := config.Parse([]byte(content))
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9090", cfg.Server.HTTPAddr)
	assert.Equal(t, config.ModeProduction, cfg.Gateways.Mode)
	assert.Equal(t, "ghcr.io/x/gw:1", cfg.Gateways.Image)
	assert.Equal(t, "claw.example.com", cfg.Gateways.Domain)
	assert.True(t, cfg.Tailscale.Enabled)
	assert.Equal(t, "huddle", cfg.Tailscale.Hostname)
	assert.True(t, cfg.Tailscale.HTTPS)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.NotContains(t, content, "auth_key")
}

func TestGenerateSecret_Unique(t *testing.T) {
	a, err := generateSecret()
	require.NoError(t, err)
	b, err := generateSecret()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestParseTokenArgs(t *testing.T) {
	var stderr bytes.Buffer

	opts, err := parseTokenArgs([]string{"--sub", " ops ", "--org", "org-1", "--ttl", "2h"}, &stderr)
	require.NoError(t, err)
	assert.Equal(t, tokenOptions{subject: "ops", orgID: "org-1", ttl: 2 * time.Hour, write: true}, opts)

	_, err = parseTokenArgs(nil, &stderr)
	assert.ErrorContains(t, err, "--sub")

	_, err = parseTokenArgs([]string{"--sub", "ops", "extra"}, &stderr)
	assert.ErrorContains(t, err, "unexpected argument")

	_, err = parseTokenArgs([]string{"--sub", "ops", "--ttl", "-1h"}, &stderr)
	assert.ErrorContains(t, err, "positive")

	_, err = parseTokenArgs([]string{"--bogus"}, &stderr)
	assert.Error(t, err)
}

func TestMintToken(t *testing.T) {
	secret := strings.Repeat("s", 32)
	cfg := &config.Config{Auth: config.AuthConfig{JWTSecret: secret}}

	token, err := mintToken(cfg, tokenOptions{subject: "ops", orgID: "org-1", ttl: time.Hour})
	require.NoError(t, err)

	verifier, err := auth.NewJWTVerifier([]byte(secret))
	require.NoError(t, err)
	claims, err := verifier.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.Equal(t, "org-1", claims.OrgID)

	_, err = mintToken(&config.Config{}, tokenOptions{subject: "ops", ttl: time.Hour})
	assert.ErrorContains(t, err, "jwt_secret")
}

func TestColorHandler(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "info"}, &buf)

	logger.Debug("hidden")
	logger.With("component", "orchestrator").WithGroup("req").Info("provisioned", "member", "m1")
	logger.Warn("slow")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "INF provisioned component=orchestrator req.member=m1")
	assert.Contains(t, lines[1], "WRN slow")
}

func TestSetupLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "debug", Format: "json"}, &buf)

	logger.Debug("hello", "k", "v")
	assert.Contains(t, buf.String(), `"msg":"hello"`)
	assert.Contains(t, buf.String(), `"k":"v"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}
