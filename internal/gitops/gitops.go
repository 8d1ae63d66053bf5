// Package gitops wraps the git and gh operations the pipeline needs:
// checkpoint commits, pushes, pull requests, and the final merge back
// to main.
package gitops

import (
	"context"
	"fmt"
	"strings"

	"github.com/joss/awf/internal/exec"
	"github.com/joss/awf/internal/logging"
)

// Ops executes git and gh commands inside a working tree.
type Ops struct {
	runner exec.Runner
	log    *logging.Logger
}

// New creates a git operations helper.
func New(runner exec.Runner, log *logging.Logger) *Ops {
	return &Ops{runner: runner, log: log}
}

// RepoRoot resolves the repository root from the current directory.
func (o *Ops) RepoRoot(ctx context.Context) (string, error) {
	out, err := o.runner.Run(ctx, "git", "rev-parse", "--show-toplevel")
	if err != nil {
		return "", fmt.Errorf("resolve repo root: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// CurrentBranch returns the branch checked out in dir.
func (o *Ops) CurrentBranch(ctx context.Context, dir string) (string, error) {
	out, err := o.runner.RunInDir(ctx, dir, "git", "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("resolve current branch: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// HasChanges reports whether dir has staged or unstaged changes.
func (o *Ops) HasChanges(ctx context.Context, dir string) (bool, error) {
	out, err := o.runner.RunInDir(ctx, dir, "git", "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("git status: %w", err)
	}
	return strings.TrimSpace(string(out)) != "", nil
}

// Commit stages everything in dir and commits with message. A clean
// tree is not an error; the commit is skipped.
func (o *Ops) Commit(ctx context.Context, dir, message string) error {
	dirty, err := o.HasChanges(ctx, dir)
	if err != nil {
		return err
	}
	if !dirty {
		o.log.Info("commit_skipped_clean", map[string]any{"dir": dir})
		return nil
	}
	if out, err := o.runner.RunInDir(ctx, dir, "git", "add", "-A"); err != nil {
		return fmt.Errorf("git add: %s: %w", strings.TrimSpace(string(out)), err)
	}
	if out, err := o.runner.RunInDir(ctx, dir, "git", "commit", "-m", message); err != nil {
		return fmt.Errorf("git commit: %s: %w", strings.TrimSpace(string(out)), err)
	}
	return nil
}

// Push pushes branch to origin, setting upstream.
func (o *Ops) Push(ctx context.Context, dir, branch string) error {
	if out, err := o.runner.RunInDir(ctx, dir, "git", "push", "-u", "origin", branch); err != nil {
		return fmt.Errorf("git push %s: %s: %w", branch, strings.TrimSpace(string(out)), err)
	}
	return nil
}

// PRExists reports whether an open pull request exists for branch.
func (o *Ops) PRExists(ctx context.Context, dir, branch string) (bool, error) {
	out, err := o.runner.RunInDir(ctx, dir, "gh", "pr", "list", "--head", branch, "--json", "number")
	if err != nil {
		return false, fmt.Errorf("gh pr list: %w", err)
	}
	trimmed := strings.TrimSpace(string(out))
	return trimmed != "" && trimmed != "[]", nil
}

// CreatePR opens a pull request for branch and returns its URL.
func (o *Ops) CreatePR(ctx context.Context, dir, branch, title, body string) (string, error) {
	out, err := o.runner.RunInDir(ctx, dir, "gh", "pr", "create",
		"--title", title, "--body", body, "--head", branch)
	if err != nil {
		return "", fmt.Errorf("gh pr create: %s: %w", strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// EnsurePR pushes the branch and opens a pull request unless one is
// already open. Returns the PR URL when a new one was created.
func (o *Ops) EnsurePR(ctx context.Context, dir, branch, title, body string) (string, error) {
	if err := o.Push(ctx, dir, branch); err != nil {
		return "", err
	}
	exists, err := o.PRExists(ctx, dir, branch)
	if err != nil {
		return "", err
	}
	if exists {
		o.log.Info("pr_exists", map[string]any{"branch": branch})
		return "", nil
	}
	return o.CreatePR(ctx, dir, branch, title, body)
}

// MergeToMain merges branch into main and pushes. repoRoot must be the
// main repository checkout: git refuses to check out main inside a
// linked worktree. On a conflicted local merge the merge is aborted and
// gh performs the merge through the pull request instead. The original
// branch is checked out again before returning.
func (o *Ops) MergeToMain(ctx context.Context, repoRoot, branch string) error {
	original, err := o.CurrentBranch(ctx, repoRoot)
	if err != nil {
		return err
	}
	defer func() {
		if original != "" && original != "main" {
			if out, err := o.runner.RunInDir(ctx, repoRoot, "git", "checkout", original); err != nil {
				o.log.Warn("checkout_restore_failed", map[string]any{
					"branch": original,
					"output": string(out),
				}, err)
			}
		}
	}()

	if out, err := o.runner.RunInDir(ctx, repoRoot, "git", "checkout", "main"); err != nil {
		return fmt.Errorf("checkout main: %s: %w", strings.TrimSpace(string(out)), err)
	}
	if out, err := o.runner.RunInDir(ctx, repoRoot, "git", "pull", "origin", "main"); err != nil {
		return fmt.Errorf("pull main: %s: %w", strings.TrimSpace(string(out)), err)
	}

	out, err := o.runner.RunInDir(ctx, repoRoot, "git", "merge", "--no-ff", branch,
		"-m", fmt.Sprintf("Merge branch '%s'", branch))
	if err != nil {
		o.log.Warn("local_merge_failed", map[string]any{"output": string(out)}, err)
		if out, abortErr := o.runner.RunInDir(ctx, repoRoot, "git", "merge", "--abort"); abortErr != nil {
			o.log.Warn("merge_abort_failed", map[string]any{"output": string(out)}, abortErr)
		}
		if out, prErr := o.runner.RunInDir(ctx, repoRoot, "gh", "pr", "merge", branch, "--merge"); prErr != nil {
			return fmt.Errorf("merge %s: local merge and PR merge both failed: %s: %w",
				branch, strings.TrimSpace(string(out)), prErr)
		}
		return nil
	}

	if out, err := o.runner.RunInDir(ctx, repoRoot, "git", "push", "origin", "main"); err != nil {
		return fmt.Errorf("push main: %s: %w", strings.TrimSpace(string(out)), err)
	}
	return nil
}
