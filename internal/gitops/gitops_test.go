package gitops

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/awf/internal/exec"
	"github.com/joss/awf/internal/logging"
)

func testOps(t *testing.T) (*Ops, *exec.MockRunner) {
	t.Helper()
	runner := exec.NewMockRunner()
	return New(runner, logging.New("test")), runner
}

func TestCommit(t *testing.T) {
	ctx := context.Background()

	t.Run("clean tree skips the commit", func(t *testing.T) {
		o, runner := testOps(t)
		runner.Script("git status --porcelain", exec.MockResponse{Stdout: []byte("\n")})
		require.NoError(t, o.Commit(ctx, "/wt", "checkpoint"))
		assert.Empty(t, runner.CallsFor("git add"))
		assert.Empty(t, runner.CallsFor("git commit"))
	})

	t.Run("dirty tree stages everything and commits", func(t *testing.T) {
		o, runner := testOps(t)
		runner.Script("git status --porcelain", exec.MockResponse{Stdout: []byte(" M app.py\n?? new.py\n")})
		require.NoError(t, o.Commit(ctx, "/wt", "checkpoint: build loop 1"))

		adds := runner.CallsFor("git add -A")
		require.Len(t, adds, 1)
		assert.Equal(t, "/wt", adds[0].Dir)

		commits := runner.CallsFor("git commit")
		require.Len(t, commits, 1)
		assert.Contains(t, commits[0].Args, "checkpoint: build loop 1")
	})
}

func TestEnsurePR(t *testing.T) {
	ctx := context.Background()

	t.Run("creates a PR when none is open", func(t *testing.T) {
		o, runner := testOps(t)
		runner.Script("gh pr list", exec.MockResponse{Stdout: []byte("[]\n")})
		runner.Script("gh pr create", exec.MockResponse{Stdout: []byte("https://github.com/acme/app/pull/7\n")})

		url, err := o.EnsurePR(ctx, "/wt", "feat-x", "feature: x", "Resolves #42")
		require.NoError(t, err)
		assert.Equal(t, "https://github.com/acme/app/pull/7", url)
		assert.Len(t, runner.CallsFor("git push -u origin feat-x"), 1)
	})

	t.Run("existing PR is left alone", func(t *testing.T) {
		o, runner := testOps(t)
		runner.Script("gh pr list", exec.MockResponse{Stdout: []byte(`[{"number": 7}]` + "\n")})

		url, err := o.EnsurePR(ctx, "/wt", "feat-x", "t", "b")
		require.NoError(t, err)
		assert.Empty(t, url)
		assert.Empty(t, runner.CallsFor("gh pr create"))
	})
}

func TestMergeToMain(t *testing.T) {
	ctx := context.Background()

	t.Run("clean merge pushes main and restores the branch", func(t *testing.T) {
		o, runner := testOps(t)
		runner.Script("git rev-parse --abbrev-ref HEAD", exec.MockResponse{Stdout: []byte("feat-x\n")})

		require.NoError(t, o.MergeToMain(ctx, "/repo", "feat-x"))

		assert.Len(t, runner.CallsFor("git checkout main"), 1)
		assert.Len(t, runner.CallsFor("git pull origin main"), 1)
		assert.Len(t, runner.CallsFor("git merge --no-ff feat-x"), 1)
		assert.Len(t, runner.CallsFor("git push origin main"), 1)
		assert.Len(t, runner.CallsFor("git checkout feat-x"), 1)
	})

	t.Run("conflicted merge aborts and merges through the PR", func(t *testing.T) {
		o, runner := testOps(t)
		runner.Script("git rev-parse --abbrev-ref HEAD", exec.MockResponse{Stdout: []byte("feat-x\n")})
		runner.Script("git merge --no-ff", exec.MockResponse{
			Stdout: []byte("CONFLICT (content): Merge conflict in app.py\n"),
			Err:    &exec.ExitError{Code: 1},
		})

		require.NoError(t, o.MergeToMain(ctx, "/repo", "feat-x"))

		assert.Len(t, runner.CallsFor("git merge --abort"), 1)
		assert.Len(t, runner.CallsFor("gh pr merge feat-x --merge"), 1)
		// No direct push after the PR merge.
		assert.Empty(t, runner.CallsFor("git push origin main"))
		assert.Len(t, runner.CallsFor("git checkout feat-x"), 1)
	})

	t.Run("PR merge failure surfaces the error", func(t *testing.T) {
		o, runner := testOps(t)
		runner.Script("git rev-parse --abbrev-ref HEAD", exec.MockResponse{Stdout: []byte("feat-x\n")})
		runner.Script("git merge --no-ff", exec.MockResponse{Err: &exec.ExitError{Code: 1}})
		runner.Script("gh pr merge", exec.MockResponse{
			Stdout: []byte("no pull request found\n"),
			Err:    &exec.ExitError{Code: 1},
		})

		err := o.MergeToMain(ctx, "/repo", "feat-x")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "both failed")
	})
}
