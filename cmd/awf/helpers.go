package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joss/awf/internal/config"
	"github.com/joss/awf/internal/exec"
	"github.com/joss/awf/internal/gitops"
	"github.com/joss/awf/internal/logging"
	"github.com/joss/awf/internal/render"
	"github.com/joss/awf/internal/state"
)

// exitOnError prints the error and exits non-zero.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// newRenderer builds the output renderer honoring --no-color.
func newRenderer() *render.Renderer {
	return render.New(noColor)
}

// resolvePaths locates the repository root (env override first, then
// git discovery) and derives the standard directory layout.
func resolvePaths(ctx context.Context, runner exec.Runner) (*config.Paths, error) {
	root := config.Env().RepoRoot
	if root == "" {
		git := gitops.New(runner, logging.New("cli"))
		discovered, err := git.RepoRoot(ctx)
		if err != nil {
			return nil, fmt.Errorf("not inside a git repository and AWF_REPO_ROOT is unset: %w", err)
		}
		root = discovered
	}
	return config.NewPaths(root), nil
}

// openStore opens the run state database under the runs directory.
func openStore(paths *config.Paths) (*state.Store, error) {
	return state.Open(filepath.Join(paths.Runs, "state.db"))
}
