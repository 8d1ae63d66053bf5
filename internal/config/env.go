// Package config provides centralized configuration for AWF runs.
// Eliminates scattered os.Getenv calls across the pipeline.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// AWFEnv holds all AWF environment variables.
type AWFEnv struct {
	// AgentPath is the agent CLI executable (AWF_AGENT_PATH)
	AgentPath string

	// RepoRoot overrides repository root discovery (AWF_REPO_ROOT)
	RepoRoot string

	// DefaultModel is the fallback agent model (AWF_DEFAULT_MODEL)
	DefaultModel string

	// GitHubToken is the GitHub access token (GITHUB_PAT)
	GitHubToken string
}

var (
	env     *AWFEnv
	envOnce sync.Once
)

// Env returns the singleton environment configuration.
// Thread-safe, loads once on first call.
func Env() *AWFEnv {
	envOnce.Do(func() {
		env = &AWFEnv{
			AgentPath:    getEnvDefault("AWF_AGENT_PATH", "claude"),
			RepoRoot:     os.Getenv("AWF_REPO_ROOT"),
			DefaultModel: getEnvDefault("AWF_DEFAULT_MODEL", "sonnet"),
			GitHubToken:  os.Getenv("GITHUB_PAT"),
		}
	})
	return env
}

// ResetEnv resets the cached environment (for testing).
func ResetEnv() {
	envOnce = sync.Once{}
	env = nil
}

func getEnvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Paths holds the per-repository directory layout for runs.
type Paths struct {
	// Root is the repository root.
	Root string

	// Runs holds per-run artifacts: runs/<run_id>/<agent>/...
	Runs string

	// Trees holds isolated worktrees: trees/<run_id>
	Trees string
}

// NewPaths derives the standard layout under a repository root.
func NewPaths(root string) *Paths {
	return &Paths{
		Root:  root,
		Runs:  filepath.Join(root, "runs"),
		Trees: filepath.Join(root, "trees"),
	}
}

// RunDir returns runs/<runID>/<parts...>.
func (p *Paths) RunDir(runID string, parts ...string) string {
	all := append([]string{p.Runs, runID}, parts...)
	return filepath.Join(all...)
}

// WorktreePath returns the canonical worktree path for a run.
func (p *Paths) WorktreePath(runID string) string {
	return filepath.Join(p.Trees, runID)
}

// EnsureDir creates a directory if it doesn't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// SafeSubprocessEnv returns a filtered environment for agent subprocess
// execution. Only variables the agent legitimately needs are forwarded.
func SafeSubprocessEnv() []string {
	keep := []string{
		"HOME", "USER", "PATH", "SHELL", "TERM", "LANG", "LC_ALL",
		"ANTHROPIC_API_KEY", "GITHUB_PAT", "AWF_AGENT_PATH",
	}
	var out []string
	for _, key := range keep {
		if v := os.Getenv(key); v != "" {
			out = append(out, fmt.Sprintf("%s=%s", key, v))
		}
	}
	if tok := os.Getenv("GITHUB_PAT"); tok != "" {
		out = append(out, "GH_TOKEN="+tok)
	}
	if cwd, err := os.Getwd(); err == nil {
		out = append(out, "PWD="+cwd)
	}
	return out
}
