// ABOUTME: Per-member gateway workspace on disk, bind-mounted into the container
// ABOUTME: Holds the config document, the auth profiles, and installed skills

package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/2389/clawhuddle/internal/atomicfile"
	"github.com/2389/clawhuddle/internal/credentials"
	"github.com/2389/clawhuddle/internal/gatewaycfg"
	"github.com/2389/clawhuddle/internal/skills"
)

// File layout inside a workspace.
const (
	ConfigFile       = "openclaw.json"
	AuthProfilesFile = "agents/main/agent/auth-profiles.json"
	SkillsDir        = "skills"

	// MountPath is where the workspace appears inside the container.
	MountPath = "/root/.openclaw"
)

// Fetcher makes a skill source repository available locally.
type Fetcher interface {
	Fetch(ctx context.Context, gitURL string) (string, error)
}

// Manager owns the workspace directories under dataDir.
type Manager struct {
	dataDir     string
	hostDataDir string
	logger      *slog.Logger
}

// NewManager creates a Manager. hostDataDir is the same directory as seen by
// the container engine, used for bind mounts.
func NewManager(dataDir, hostDataDir string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if hostDataDir == "" {
		hostDataDir = dataDir
	}
	return &Manager{
		dataDir:     dataDir,
		hostDataDir: hostDataDir,
		logger:      logger.With("component", "workspace"),
	}
}

// Dir returns the workspace directory for a member.
func (m *Manager) Dir(orgID, userID string) string {
	return filepath.Join(m.dataDir, "gateways", orgID, userID)
}

// HostDir returns the workspace directory as the container engine sees it.
func (m *Manager) HostDir(orgID, userID string) string {
	return filepath.Join(m.hostDataDir, "gateways", orgID, userID)
}

// Exists reports whether the member's workspace directory is present.
func (m *Manager) Exists(orgID, userID string) bool {
	info, err := os.Stat(m.Dir(orgID, userID))
	return err == nil && info.IsDir()
}

// Prepare creates the workspace directory.
func (m *Manager) Prepare(orgID, userID string) error {
	if err := os.MkdirAll(m.Dir(orgID, userID), 0755); err != nil {
		return fmt.Errorf("creating workspace: %w", err)
	}
	return nil
}

// WriteConfig writes the gateway config. An existing document is merged so
// keys added by hand survive; otherwise a fresh one is generated.
func (m *Manager) WriteConfig(orgID, userID string, opts gatewaycfg.Options) error {
	path := filepath.Join(m.Dir(orgID, userID), ConfigFile)

	existing, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("reading gateway config: %w", err)
	}

	data, err := gatewaycfg.MergeJSON(existing, opts)
	if err != nil {
		m.logger.Warn("existing gateway config unreadable, regenerating", "path", path, "error", err)
		if data, err = gatewaycfg.Marshal(gatewaycfg.Generate(opts)); err != nil {
			return err
		}
	}

	if err := atomicfile.Write(path, data, 0644); err != nil {
		return fmt.Errorf("writing gateway config: %w", err)
	}
	return nil
}

// WriteAuthProfiles writes the credential profile file the gateway hot-reloads.
func (m *Manager) WriteAuthProfiles(orgID, userID string, file credentials.ProfileFile) error {
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding auth profiles: %w", err)
	}
	path := filepath.Join(m.Dir(orgID, userID), filepath.FromSlash(AuthProfilesFile))
	if err := atomicfile.Write(path, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("writing auth profiles: %w", err)
	}
	return nil
}

// InstallSkills replaces the workspace skills directory with fresh copies of
// the assigned skills. Skills without a source, or whose path is missing in
// the repository, are skipped with a warning.
func (m *Manager) InstallSkills(ctx context.Context, orgID, userID string, assigned []skills.Assigned, fetcher Fetcher) error {
	dir := filepath.Join(m.Dir(orgID, userID), SkillsDir)

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clearing skills: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating skills directory: %w", err)
	}

	for _, sk := range assigned {
		if !sk.Installable() {
			continue
		}

		repoDir, err := fetcher.Fetch(ctx, sk.GitURL)
		if err != nil {
			return err
		}

		src := filepath.Join(repoDir, filepath.FromSlash(sk.GitPath))
		if info, err := os.Stat(src); err != nil || !info.IsDir() {
			m.logger.Warn("skill source not found", "skill", sk.Name, "path", src)
			continue
		}

		dst := filepath.Join(dir, sk.DirName())
		if err := os.RemoveAll(dst); err != nil {
			return fmt.Errorf("replacing skill %s: %w", sk.Name, err)
		}
		if err := os.CopyFS(dst, os.DirFS(src)); err != nil {
			return fmt.Errorf("copying skill %s: %w", sk.Name, err)
		}
		m.logger.Debug("installed skill", "skill", sk.Name, "dir", dst)
	}
	return nil
}

// Remove deletes the member's workspace. A missing workspace is not an error.
func (m *Manager) Remove(orgID, userID string) error {
	if err := os.RemoveAll(m.Dir(orgID, userID)); err != nil {
		return fmt.Errorf("removing workspace: %w", err)
	}
	return nil
}
