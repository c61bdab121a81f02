// ABOUTME: Tests for gateway workspace file management
// ABOUTME: Covers layout, config merge on rewrite, auth profiles, skills, and removal

package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/clawhuddle/internal/credentials"
	"github.com/2389/clawhuddle/internal/gatewaycfg"
	"github.com/2389/clawhuddle/internal/skills"
	"github.com/2389/clawhuddle/internal/store"
)

type fakeFetcher struct {
	repos map[string]string
	err   error
	calls []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, gitURL string) (string, error) {
	f.calls = append(f.calls, gitURL)
	if f.err != nil {
		return "", f.err
	}
	return f.repos[gitURL], nil
}

func TestManager_Paths(t *testing.T) {
	m := NewManager("data", "/srv/data", nil)

	assert.Equal(t, filepath.Join("data", "gateways", "org", "user"), m.Dir("org", "user"))
	assert.Equal(t, filepath.Join("/srv/data", "gateways", "org", "user"), m.HostDir("org", "user"))
}

func TestManager_WriteConfig_MergesExisting(t *testing.T) {
	m := NewManager(t.TempDir(), "", nil)
	require.NoError(t, m.Prepare("org", "user"))
	assert.True(t, m.Exists("org", "user"))

	opts := gatewaycfg.Options{Port: 6100, Token: "tok", Providers: []string{"anthropic"}}
	require.NoError(t, m.WriteConfig("org", "user", opts))

	path := filepath.Join(m.Dir("org", "user"), ConfigFile)
	var doc map[string]any
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &doc))
	doc["userKey"] = "kept"
	data, err = json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))

	require.NoError(t, m.WriteConfig("org", "user", gatewaycfg.Options{Port: 6100, Token: "tok"}))

	data, err = os.ReadFile(path)
	require.NoError(t, err)
	doc = nil
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "kept", doc["userKey"])
	_, hasAgents := doc["agents"]
	assert.False(t, hasAgents, "model defaults must be dropped when no provider is active")
}

func TestManager_WriteConfig_RegeneratesCorruptFile(t *testing.T) {
	m := NewManager(t.TempDir(), "", nil)
	require.NoError(t, m.Prepare("org", "user"))
	path := filepath.Join(m.Dir("org", "user"), ConfigFile)
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0644))

	require.NoError(t, m.WriteConfig("org", "user", gatewaycfg.Options{Port: 6100, Token: "tok"}))

	var doc gatewaycfg.Document
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "tok", doc.Gateway.Auth.Token)
}

func TestManager_WriteAuthProfiles(t *testing.T) {
	m := NewManager(t.TempDir(), "", nil)
	file := credentials.BuildProfiles([]credentials.Credential{
		{Provider: "anthropic", Kind: store.CredentialAPIKey, Secret: "sk-ant"},
	})

	require.NoError(t, m.WriteAuthProfiles("org", "user", file))

	path := filepath.Join(m.Dir("org", "user"), "agents", "main", "agent", "auth-profiles.json")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":1,"profiles":{"anthropic:manual":{"type":"api_key","provider":"anthropic","key":"sk-ant"}}}`, string(data))
}

func TestManager_InstallSkills(t *testing.T) {
	repo := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(repo, "skills", "briefing", "scripts"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(repo, "skills", "briefing", "SKILL.md"), []byte("# Briefing"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(repo, "skills", "briefing", "scripts", "run.sh"), []byte("#!/bin/sh"), 0755))

	m := NewManager(t.TempDir(), "", nil)
	require.NoError(t, m.Prepare("org", "user"))

	stale := filepath.Join(m.Dir("org", "user"), SkillsDir, "old-skill")
	require.NoError(t, os.MkdirAll(stale, 0755))

	fetcher := &fakeFetcher{repos: map[string]string{"https://example.com/skills.git": repo}}
	assigned := []skills.Assigned{
		{Name: "briefing", GitURL: "https://example.com/skills.git", GitPath: "skills/briefing"},
		{Name: "missing", GitURL: "https://example.com/skills.git", GitPath: "skills/nope"},
		{Name: "no-source"},
	}

	require.NoError(t, m.InstallSkills(context.Background(), "org", "user", assigned, fetcher))

	skillsDir := filepath.Join(m.Dir("org", "user"), SkillsDir)
	assert.FileExists(t, filepath.Join(skillsDir, "briefing", "SKILL.md"))
	assert.FileExists(t, filepath.Join(skillsDir, "briefing", "scripts", "run.sh"))
	assert.NoDirExists(t, stale)
	assert.NoDirExists(t, filepath.Join(skillsDir, "nope"))
	assert.Len(t, fetcher.calls, 2)
}

func TestManager_InstallSkills_FetchError(t *testing.T) {
	m := NewManager(t.TempDir(), "", nil)
	fetcher := &fakeFetcher{err: errors.New("clone failed")}

	err := m.InstallSkills(context.Background(), "org", "user",
		[]skills.Assigned{{Name: "s", GitURL: "u", GitPath: "p"}}, fetcher)
	assert.ErrorContains(t, err, "clone failed")
}

func TestManager_Remove(t *testing.T) {
	m := NewManager(t.TempDir(), "", nil)
	require.NoError(t, m.Prepare("org", "user"))
	require.NoError(t, m.WriteConfig("org", "user", gatewaycfg.Options{Port: 6100, Token: "tok"}))

	require.NoError(t, m.Remove("org", "user"))
	assert.False(t, m.Exists("org", "user"))

	// removing again is fine
	require.NoError(t, m.Remove("org", "user"))
}
