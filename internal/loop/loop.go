// Package loop drives the plan/build/test backpressure cycle inside a
// worktree. Failing tests are written to an artifact the next build
// phase reads, so the agent keeps fixing until tests pass or the loop
// budget runs out.
package loop

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joss/awf/internal/jsonutil"
	"github.com/joss/awf/internal/logging"
)

// Phase is a stage of the backpressure cycle.
type Phase string

const (
	PhasePlan      Phase = "plan"
	PhaseBuild     Phase = "build"
	PhaseTest      Phase = "test"
	PhaseReplan    Phase = "replan"
	PhaseDone      Phase = "done"
	PhaseAbandoned Phase = "abandoned"
)

// PlanArtifact is the plan the build phase executes against.
const PlanArtifact = "IMPLEMENTATION_PLAN.md"

// TestResult is one test outcome reported by the test phase.
type TestResult struct {
	TestName         string `json:"test_name"`
	Passed           bool   `json:"passed"`
	ExecutionCommand string `json:"execution_command"`
	TestPurpose      string `json:"test_purpose"`
	Error            string `json:"error,omitempty"`
}

// PhaseRunner executes one phase of the cycle and returns its output.
type PhaseRunner interface {
	RunPhase(ctx context.Context, phase Phase, iterations int) (string, error)
}

// Tester runs the test suite through the test agent and returns its
// raw output, a JSON array of test results possibly wrapped in prose.
type Tester interface {
	RunTests(ctx context.Context) (string, error)
}

// Committer records a checkpoint commit in a directory.
type Committer interface {
	Commit(ctx context.Context, dir, message string) error
}

// Notifier reports loop progress, typically as issue comments.
type Notifier interface {
	Notify(ctx context.Context, channel, message string)
}

// Controller runs the backpressure cycle for one worktree.
type Controller struct {
	phases    PhaseRunner
	tester    Tester
	committer Committer
	notifier  Notifier
	worktree  string
	log       *logging.Logger

	// MaxLoops caps build/test iterations. Zero means unlimited.
	MaxLoops int

	// PlanIterations and BuildIterations are passed through to the
	// phase runner.
	PlanIterations  int
	BuildIterations int
}

// NewController creates a loop controller for a worktree.
func NewController(phases PhaseRunner, tester Tester, committer Committer, notifier Notifier, worktree string, log *logging.Logger) *Controller {
	return &Controller{
		phases:          phases,
		tester:          tester,
		committer:       committer,
		notifier:        notifier,
		worktree:        worktree,
		log:             log,
		PlanIterations:  1,
		BuildIterations: 1,
	}
}

// EnsurePlan runs the plan phase and verifies the plan artifact exists.
// A stale plan from an earlier run is removed first so planning always
// happens against the current spec. A missing plan afterwards is fatal:
// nothing downstream can proceed without it.
func (c *Controller) EnsurePlan(ctx context.Context) error {
	planPath := filepath.Join(c.worktree, PlanArtifact)
	if err := os.Remove(planPath); err == nil {
		c.log.Info("stale_plan_removed", map[string]any{"path": planPath})
	}

	if _, err := c.phases.RunPhase(ctx, PhasePlan, c.PlanIterations); err != nil {
		return fmt.Errorf("plan phase: %w", err)
	}
	if _, err := os.Stat(planPath); err != nil {
		return fmt.Errorf("plan phase completed but %s was not created", PlanArtifact)
	}
	return nil
}

// Run executes build/test iterations until all tests pass or the loop
// cap is hit. Returns PhaseDone or PhaseAbandoned; an abandoned run
// still flows on to later stages carrying its failure state.
func (c *Controller) Run(ctx context.Context) (Phase, error) {
	for n := 1; ; n++ {
		// A failed build pass does not block the transition to test:
		// the agent may have made partial progress worth testing.
		if _, err := c.phases.RunPhase(ctx, PhaseBuild, c.BuildIterations); err != nil {
			c.log.Warn("build_phase_failed", map[string]any{"loop": n}, err)
		}
		// Checkpoint after every build pass so a crash mid-loop loses
		// at most one un-tested iteration.
		if err := c.committer.Commit(ctx, c.worktree, fmt.Sprintf("checkpoint: build loop %d", n)); err != nil {
			c.log.Warn("checkpoint_commit_failed", map[string]any{"loop": n}, err)
		}

		var results []TestResult
		output, err := c.tester.RunTests(ctx)
		if err != nil {
			// A failed test invocation counts as zero results rather
			// than failing the run; flag it so a human looks.
			c.log.Warn("test_invocation_failed", map[string]any{"loop": n}, err)
			c.notifier.Notify(ctx, "test",
				fmt.Sprintf("Loop %d: test invocation failed, treating as 0 passed / 0 failed", n))
		} else {
			var parseErr error
			results, parseErr = ParseTestResults(output)
			if parseErr != nil {
				// Unreadable test output gets the same treatment.
				c.log.Error("test_results_unparseable", map[string]any{"loop": n}, parseErr)
				c.notifier.Notify(ctx, "test",
					fmt.Sprintf("Loop %d: test results could not be parsed, treating as 0 passed / 0 failed", n))
			}
		}
		passed, failed := tally(results)

		c.log.Info("test_results", map[string]any{
			"loop": n, "passed": passed, "failed": failed,
		})

		if failed == 0 {
			if err := RemoveFailureArtifact(c.worktree); err != nil {
				c.log.Warn("failure_artifact_remove_failed", nil, err)
			}
			c.notifier.Notify(ctx, "test",
				fmt.Sprintf("Loop %d: all %d tests passed", n, passed))
			return PhaseDone, nil
		}

		if c.MaxLoops > 0 && n >= c.MaxLoops {
			c.notifier.Notify(ctx, "loop",
				fmt.Sprintf("Abandoning after %d build/test loops with %d tests still failing", n, failed))
			return PhaseAbandoned, nil
		}

		c.notifier.Notify(ctx, "test",
			fmt.Sprintf("Loop %d: %d passed, %d failed, replanning", n, passed, failed))
		if err := c.replan(ctx, n, results); err != nil {
			return PhaseAbandoned, err
		}
	}
}

// replan writes the failure artifact, re-runs the planning phase with
// it in place, and deletes it. Deletion is unconditional: the artifact
// is a transient signal to one planning pass, never a tracked file. A
// failed replan pass is a warning; the next build proceeds regardless.
func (c *Controller) replan(ctx context.Context, loopN int, results []TestResult) error {
	if err := WriteFailureArtifact(c.worktree, loopN, results); err != nil {
		return fmt.Errorf("write failure artifact: %w", err)
	}
	if _, err := c.phases.RunPhase(ctx, PhaseReplan, c.PlanIterations); err != nil {
		c.log.Warn("replan_phase_failed", map[string]any{"loop": loopN}, err)
	}
	if err := RemoveFailureArtifact(c.worktree); err != nil {
		c.log.Warn("failure_artifact_remove_failed", nil, err)
	}
	return nil
}

// ParseTestResults decodes the test phase output as a JSON array of
// test results, tolerating surrounding prose and markdown fences.
func ParseTestResults(output string) ([]TestResult, error) {
	var results []TestResult
	if err := jsonutil.Decode(output, &results); err != nil {
		return nil, err
	}
	return results, nil
}

func tally(results []TestResult) (passed, failed int) {
	for _, r := range results {
		if r.Passed {
			passed++
		} else {
			failed++
		}
	}
	return passed, failed
}
