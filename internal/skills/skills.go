// ABOUTME: Skill assignment lookup and the local cache of skill source repositories
// ABOUTME: Repositories are shallow-cloned once and pulled on later installs

package skills

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/2389/clawhuddle/internal/store"
)

// Assigned is a skill to install into a member's workspace.
type Assigned struct {
	Name    string
	GitURL  string
	GitPath string
}

// Installable reports whether the skill names a source to copy from.
func (a Assigned) Installable() bool {
	return a.GitURL != "" && a.GitPath != ""
}

// DirName is the workspace directory name: the last segment of GitPath.
func (a Assigned) DirName() string {
	return filepath.Base(filepath.Clean(a.GitPath))
}

// Registry resolves which skills a member should have.
type Registry struct {
	store store.SkillStore
}

// NewRegistry creates a Registry backed by s.
func NewRegistry(s store.SkillStore) *Registry {
	return &Registry{store: s}
}

// ResolveAssigned returns the member's enabled skills plus the org's mandatory skills.
func (r *Registry) ResolveAssigned(ctx context.Context, orgID, userID string) ([]Assigned, error) {
	rows, err := r.store.ListAssignedSkills(ctx, orgID, userID)
	if err != nil {
		return nil, fmt.Errorf("listing assigned skills: %w", err)
	}
	out := make([]Assigned, 0, len(rows))
	for _, s := range rows {
		out = append(out, Assigned{Name: s.Name, GitURL: s.GitURL, GitPath: s.GitPath})
	}
	return out, nil
}

// Cache keeps clones of skill repositories under a single directory.
type Cache struct {
	dir          string
	cloneTimeout time.Duration
	pullTimeout  time.Duration
	logger       *slog.Logger

	mu sync.Mutex // serializes git operations on the cache directory
}

// NewCache creates a repository cache rooted at dir.
func NewCache(dir string, cloneTimeout, pullTimeout time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		dir:          dir,
		cloneTimeout: cloneTimeout,
		pullTimeout:  pullTimeout,
		logger:       logger.With("component", "skills"),
	}
}

// RepoDir returns the cache directory for gitURL.
func (c *Cache) RepoDir(gitURL string) string {
	sum := sha256.Sum256([]byte(gitURL))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:])[:16])
}

// Fetch clones gitURL into the cache, or pulls if it is already there, and
// returns the local checkout path.
func (c *Cache) Fetch(ctx context.Context, gitURL string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	repoDir := c.RepoDir(gitURL)

	if _, err := os.Stat(filepath.Join(repoDir, ".git")); err == nil {
		if err := c.git(ctx, c.pullTimeout, "-C", repoDir, "pull"); err != nil {
			return "", fmt.Errorf("updating skill repo %s: %w", gitURL, err)
		}
		c.logger.Debug("updated skill repo", "url", gitURL, "dir", repoDir)
		return repoDir, nil
	}

	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return "", fmt.Errorf("creating skill repo cache: %w", err)
	}
	// A failed earlier clone may have left a partial directory.
	if err := os.RemoveAll(repoDir); err != nil {
		return "", fmt.Errorf("clearing partial clone: %w", err)
	}
	if err := c.git(ctx, c.cloneTimeout, "clone", "--depth", "1", "--", gitURL, repoDir); err != nil {
		return "", fmt.Errorf("cloning skill repo %s: %w", gitURL, err)
	}
	c.logger.Info("cloned skill repo", "url", gitURL, "dir", repoDir)
	return repoDir, nil
}

func (c *Cache) git(ctx context.Context, timeout time.Duration, args ...string) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	if output, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("git %s: %w", args[0], ctx.Err())
		}
		return fmt.Errorf("git %s failed: %s: %w", args[0], strings.TrimSpace(string(output)), err)
	}
	return nil
}
