package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joss/awf/internal/config"
	"github.com/joss/awf/internal/exec"
	"github.com/joss/awf/internal/logging"
)

// Allocator creates and tears down isolated git worktrees under the
// trees directory, one per run id.
type Allocator struct {
	runner   exec.Runner
	repoRoot string
	treesDir string
	log      *logging.Logger
}

// NewAllocator creates a worktree allocator for a repository.
func NewAllocator(runner exec.Runner, repoRoot, treesDir string, log *logging.Logger) *Allocator {
	return &Allocator{
		runner:   runner,
		repoRoot: repoRoot,
		treesDir: treesDir,
		log:      log,
	}
}

// Path returns the worktree directory for a run.
func (a *Allocator) Path(runID string) string {
	return filepath.Join(a.treesDir, runID)
}

// Create sets up the worktree for a run on a new branch off origin/main.
// Safe to call again for an existing worktree. A failed fetch is logged
// and ignored so offline runs still work against the local ref.
func (a *Allocator) Create(ctx context.Context, runID, branch string) (string, error) {
	path := a.Path(runID)
	if _, err := os.Stat(path); err == nil {
		a.log.Info("worktree_exists", map[string]any{"path": path})
		return path, nil
	}
	if err := config.EnsureDir(a.treesDir); err != nil {
		return "", fmt.Errorf("create trees dir: %w", err)
	}

	if out, err := a.runner.RunInDir(ctx, a.repoRoot, "git", "fetch", "origin"); err != nil {
		a.log.Warn("git_fetch_failed", map[string]any{"output": string(out)}, err)
	}

	out, err := a.runner.RunInDir(ctx, a.repoRoot, "git", "worktree", "add", "-b", branch, path, "origin/main")
	if err != nil {
		// The branch survives a deleted worktree; reattach instead of
		// recreating it.
		if strings.Contains(string(out), "already exists") {
			out, err = a.runner.RunInDir(ctx, a.repoRoot, "git", "worktree", "add", path, branch)
			if err != nil {
				return "", fmt.Errorf("reattach worktree for branch %s: %s: %w", branch, strings.TrimSpace(string(out)), err)
			}
		} else {
			return "", fmt.Errorf("create worktree %s: %s: %w", path, strings.TrimSpace(string(out)), err)
		}
	}
	a.log.Info("worktree_created", map[string]any{"path": path, "branch": branch})
	return path, nil
}

// Validate checks that a recorded worktree is actually usable: the path
// is set, the directory exists, and git still lists it as a worktree.
// The reason string is empty when valid.
func (a *Allocator) Validate(ctx context.Context, path string) (bool, string) {
	if path == "" {
		return false, "No worktree path in state"
	}
	if _, err := os.Stat(path); err != nil {
		return false, fmt.Sprintf("Worktree directory not found: %s", path)
	}
	out, err := a.runner.RunInDir(ctx, a.repoRoot, "git", "worktree", "list")
	if err != nil {
		return false, fmt.Sprintf("git worktree list failed: %v", err)
	}
	if !strings.Contains(string(out), path) {
		return false, fmt.Sprintf("Directory exists but is not a registered worktree: %s", path)
	}
	return true, ""
}

// Remove tears down a run's worktree. Falls back to removing the
// directory directly when git refuses; both failing is an error.
func (a *Allocator) Remove(ctx context.Context, runID string) error {
	path := a.Path(runID)
	out, gitErr := a.runner.RunInDir(ctx, a.repoRoot, "git", "worktree", "remove", "--force", path)
	if gitErr == nil {
		return nil
	}
	a.log.Warn("worktree_remove_failed", map[string]any{"output": string(out)}, gitErr)
	if rmErr := os.RemoveAll(path); rmErr != nil {
		return fmt.Errorf("remove worktree %s: git: %v, rm: %w", path, gitErr, rmErr)
	}
	return nil
}

// SetupEnvironment writes the port environment file into the worktree
// and carries over untracked local env files from the main checkout.
func (a *Allocator) SetupEnvironment(runID string, backendPort, frontendPort int) error {
	path := a.Path(runID)
	portsEnv := fmt.Sprintf(
		"BACKEND_PORT=%d\nFRONTEND_PORT=%d\nVITE_BACKEND_URL=http://localhost:%d\n",
		backendPort, frontendPort, backendPort)
	if err := os.WriteFile(filepath.Join(path, ".ports.env"), []byte(portsEnv), 0644); err != nil {
		return fmt.Errorf("write ports env: %w", err)
	}

	for _, name := range []string{".env.local", ".mcp.json"} {
		src := filepath.Join(a.repoRoot, name)
		data, err := os.ReadFile(src)
		if err != nil {
			continue
		}
		if err := os.WriteFile(filepath.Join(path, name), data, 0644); err != nil {
			a.log.Warn("env_file_copy_failed", map[string]any{"file": name}, err)
		}
	}
	return nil
}
