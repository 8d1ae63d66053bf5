package worktree

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/awf/internal/exec"
	"github.com/joss/awf/internal/logging"
)

func testAllocator(t *testing.T) (*Allocator, *exec.MockRunner, string) {
	t.Helper()
	root := t.TempDir()
	runner := exec.NewMockRunner()
	a := NewAllocator(runner, root, filepath.Join(root, "trees"), logging.New("test"))
	return a, runner, root
}

func TestCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("creates branch off origin/main", func(t *testing.T) {
		a, runner, _ := testAllocator(t)
		path, err := a.Create(ctx, "r1", "feat-x-r1")
		require.NoError(t, err)
		assert.Equal(t, a.Path("r1"), path)

		require.Len(t, runner.CallsFor("git fetch origin"), 1)
		adds := runner.CallsFor("git worktree add")
		require.Len(t, adds, 1)
		assert.Equal(t, []string{"worktree", "add", "-b", "feat-x-r1", path, "origin/main"}, adds[0].Args)
	})

	t.Run("failed fetch is only a warning", func(t *testing.T) {
		a, runner, _ := testAllocator(t)
		runner.Script("git fetch", exec.MockResponse{Stdout: []byte("no network"), Err: &exec.ExitError{Code: 1}})
		_, err := a.Create(ctx, "r1", "feat-x-r1")
		require.NoError(t, err)
	})

	t.Run("existing branch is reattached", func(t *testing.T) {
		a, runner, _ := testAllocator(t)
		runner.Script("git worktree add -b", exec.MockResponse{
			Stdout: []byte("fatal: a branch named 'feat-x-r1' already exists"),
			Err:    &exec.ExitError{Code: 128},
		})
		path, err := a.Create(ctx, "r1", "feat-x-r1")
		require.NoError(t, err)

		adds := runner.CallsFor("git worktree add")
		require.Len(t, adds, 2)
		assert.Equal(t, []string{"worktree", "add", path, "feat-x-r1"}, adds[1].Args)
	})

	t.Run("existing worktree directory is reused", func(t *testing.T) {
		a, runner, _ := testAllocator(t)
		require.NoError(t, os.MkdirAll(a.Path("r1"), 0755))
		path, err := a.Create(ctx, "r1", "feat-x-r1")
		require.NoError(t, err)
		assert.Equal(t, a.Path("r1"), path)
		assert.Empty(t, runner.Calls)
	})
}

func TestValidate(t *testing.T) {
	ctx := context.Background()

	t.Run("empty path", func(t *testing.T) {
		a, _, _ := testAllocator(t)
		valid, reason := a.Validate(ctx, "")
		assert.False(t, valid)
		assert.Equal(t, "No worktree path in state", reason)
	})

	t.Run("missing directory", func(t *testing.T) {
		a, _, _ := testAllocator(t)
		missing := a.Path("ghost")
		valid, reason := a.Validate(ctx, missing)
		assert.False(t, valid)
		assert.Equal(t, "Worktree directory not found: "+missing, reason)
	})

	t.Run("directory exists but git does not know it", func(t *testing.T) {
		a, runner, _ := testAllocator(t)
		path := a.Path("r1")
		require.NoError(t, os.MkdirAll(path, 0755))
		runner.Script("git worktree list", exec.MockResponse{Stdout: []byte("/elsewhere abc [main]\n")})
		valid, reason := a.Validate(ctx, path)
		assert.False(t, valid)
		assert.Contains(t, reason, "not a registered worktree")
	})

	t.Run("registered worktree", func(t *testing.T) {
		a, runner, _ := testAllocator(t)
		path := a.Path("r1")
		require.NoError(t, os.MkdirAll(path, 0755))
		runner.Script("git worktree list", exec.MockResponse{Stdout: []byte(path + " abc [feat-x]\n")})
		valid, reason := a.Validate(ctx, path)
		assert.True(t, valid)
		assert.Empty(t, reason)
	})
}

func TestRemove(t *testing.T) {
	ctx := context.Background()

	t.Run("git removes the worktree", func(t *testing.T) {
		a, runner, _ := testAllocator(t)
		require.NoError(t, a.Remove(ctx, "r1"))
		assert.Len(t, runner.CallsFor("git worktree remove --force"), 1)
	})

	t.Run("falls back to directory removal", func(t *testing.T) {
		a, runner, _ := testAllocator(t)
		require.NoError(t, os.MkdirAll(a.Path("r1"), 0755))
		runner.Script("git worktree remove", exec.MockResponse{Err: &exec.ExitError{Code: 1}})
		require.NoError(t, a.Remove(ctx, "r1"))
		_, err := os.Stat(a.Path("r1"))
		assert.True(t, os.IsNotExist(err))
	})
}

func TestSetupEnvironment(t *testing.T) {
	a, _, root := testAllocator(t)
	path := a.Path("r1")
	require.NoError(t, os.MkdirAll(path, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env.local"), []byte("SECRET=1\n"), 0644))

	require.NoError(t, a.SetupEnvironment("r1", 9103, 9203))

	ports, err := os.ReadFile(filepath.Join(path, ".ports.env"))
	require.NoError(t, err)
	assert.Equal(t, "BACKEND_PORT=9103\nFRONTEND_PORT=9203\nVITE_BACKEND_URL=http://localhost:9103\n", string(ports))

	env, err := os.ReadFile(filepath.Join(path, ".env.local"))
	require.NoError(t, err)
	assert.Equal(t, "SECRET=1\n", string(env))
}
