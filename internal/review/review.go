// Package review runs the post-build review agent and collects its
// findings and screenshots into an issue comment.
package review

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/joss/awf/internal/agent"
	"github.com/joss/awf/internal/jsonutil"
	"github.com/joss/awf/internal/logging"
)

// Severity grades a review finding.
type Severity string

const (
	SeverityBlocker   Severity = "blocker"
	SeverityTechDebt  Severity = "tech_debt"
	SeveritySkippable Severity = "skippable"
)

// Finding is one issue the review agent raised.
type Finding struct {
	Number         int      `json:"review_issue_number"`
	ScreenshotPath string   `json:"screenshot_path,omitempty"`
	Description    string   `json:"issue_description"`
	Resolution     string   `json:"issue_resolution"`
	Severity       Severity `json:"issue_severity"`
}

// Result is the review agent's overall verdict.
type Result struct {
	Success  bool      `json:"success"`
	Findings []Finding `json:"review_issues"`
}

// Blockers returns the findings that must be fixed before shipping.
func (r *Result) Blockers() []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Severity == SeverityBlocker {
			out = append(out, f)
		}
	}
	return out
}

// CommandExecutor runs slash commands through the agent CLI. Satisfied
// by *agent.Executor.
type CommandExecutor interface {
	ExecuteCommand(ctx context.Context, req agent.CommandRequest) (*agent.PromptResponse, error)
}

// Reviewer runs the review agent against a plan.
type Reviewer struct {
	executor CommandExecutor
	runsDir  string
	log      *logging.Logger
}

// NewReviewer creates a reviewer.
func NewReviewer(executor CommandExecutor, runsDir string, log *logging.Logger) *Reviewer {
	return &Reviewer{executor: executor, runsDir: runsDir, log: log}
}

// Review runs the review agent in the worktree. An unparseable verdict
// degrades to a failed result carrying the raw output instead of
// stopping the pipeline.
func (r *Reviewer) Review(ctx context.Context, runID string, modelSet agent.ModelSet, worktree, planFile string) (*Result, error) {
	resp, err := r.executor.ExecuteCommand(ctx, agent.CommandRequest{
		AgentName:  "reviewer",
		Command:    "/review",
		Args:       []string{planFile},
		RunID:      runID,
		ModelSet:   modelSet,
		WorkingDir: worktree,
	})
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("review agent failed: %s", resp.Output)
	}

	var result Result
	if err := jsonutil.Decode(resp.Output, &result); err != nil {
		r.log.Warn("review_verdict_unparseable", map[string]any{"run_id": runID}, err)
		return &Result{Success: false, Findings: []Finding{{
			Description: agent.Truncate(resp.Output, 500),
			Resolution:  "Review output was not valid JSON; inspect the raw agent output",
			Severity:    SeverityTechDebt,
		}}}, nil
	}
	return &result, nil
}

// Screenshots finds all png captures the review agent left under the
// run's artifact directory.
func (r *Reviewer) Screenshots(runID string) []string {
	root := filepath.Join(r.runsDir, runID)
	matches, err := doublestar.Glob(os.DirFS(root), "**/*.png")
	if err != nil {
		r.log.Warn("screenshot_glob_failed", map[string]any{"run_id": runID}, err)
		return nil
	}
	paths := make([]string, 0, len(matches))
	for _, m := range matches {
		paths = append(paths, filepath.Join(root, m))
	}
	return paths
}

// BuildComment renders the review result as an issue comment body.
func BuildComment(result *Result, screenshots []string) string {
	var b strings.Builder
	if result.Success && len(result.Findings) == 0 {
		b.WriteString("Review passed with no findings")
	} else {
		fmt.Fprintf(&b, "Review completed with %d finding(s):\n\n", len(result.Findings))
		for _, f := range result.Findings {
			fmt.Fprintf(&b, "- [%s] %s\n", f.Severity, f.Description)
			if f.Resolution != "" {
				fmt.Fprintf(&b, "  - Resolution: %s\n", f.Resolution)
			}
		}
	}
	if len(screenshots) > 0 {
		fmt.Fprintf(&b, "\n%d screenshot(s) captured under the run artifacts", len(screenshots))
	}
	return b.String()
}
