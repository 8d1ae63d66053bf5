package loop

import (
	"context"
	"fmt"
	"strconv"

	"github.com/joss/awf/internal/exec"
	"github.com/joss/awf/internal/logging"
)

// ScriptPhaseRunner executes phases through the repository's loop
// script, which drives the agent for the requested number of
// iterations and prints the phase output.
type ScriptPhaseRunner struct {
	runner   exec.Runner
	worktree string
	script   string
	log      *logging.Logger
}

// DefaultLoopScript is the conventional in-repo phase driver.
const DefaultLoopScript = "ralph/loop.sh"

// NewScriptPhaseRunner creates a phase runner invoking script (relative
// to the worktree) for each phase.
func NewScriptPhaseRunner(runner exec.Runner, worktree, script string, log *logging.Logger) *ScriptPhaseRunner {
	if script == "" {
		script = DefaultLoopScript
	}
	return &ScriptPhaseRunner{
		runner:   runner,
		worktree: worktree,
		script:   script,
		log:      log,
	}
}

// RunPhase runs one phase and returns its combined output.
func (s *ScriptPhaseRunner) RunPhase(ctx context.Context, phase Phase, iterations int) (string, error) {
	if iterations < 1 {
		iterations = 1
	}
	// Replanning is the plan phase run again, this time with the
	// failure artifact sitting in the worktree.
	arg := string(phase)
	if phase == PhaseReplan {
		arg = string(PhasePlan)
	}
	s.log.Info("phase_start", map[string]any{
		"phase":      string(phase),
		"iterations": iterations,
	})
	out, err := s.runner.RunInDir(ctx, s.worktree, "bash", s.script, arg, strconv.Itoa(iterations))
	if err != nil {
		return string(out), fmt.Errorf("phase %s: %w", phase, err)
	}
	return string(out), nil
}
