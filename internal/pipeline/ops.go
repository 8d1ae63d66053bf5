// Package pipeline wires the full issue-to-merge workflow: classify,
// branch, worktree, plan, backpressure loop, review, and ship.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joss/awf/internal/agent"
	"github.com/joss/awf/internal/config"
	"github.com/joss/awf/internal/issue"
	"github.com/joss/awf/internal/state"
)

// classify asks the triage agent to bucket the issue into one of the
// known classes.
func (p *Pipeline) classify(ctx context.Context, runID string, set agent.ModelSet, iss *issue.Issue) (state.IssueClass, error) {
	resp, err := p.executor.ExecuteCommand(ctx, agent.CommandRequest{
		AgentName: "classifier",
		Command:   "/classify_issue",
		Args:      []string{iss.Markdown()},
		RunID:     runID,
		ModelSet:  set,
	})
	if err != nil {
		return "", err
	}
	if !resp.Success {
		return "", fmt.Errorf("classify issue: %s", resp.Output)
	}
	class := state.IssueClass(strings.TrimSpace(resp.Output))
	if !class.Valid() {
		return "", fmt.Errorf("classify issue: unrecognized class %q", resp.Output)
	}
	return class, nil
}

// generateBranchName asks the agent for a branch name and sanitizes it
// into something git accepts.
func (p *Pipeline) generateBranchName(ctx context.Context, runID string, set agent.ModelSet, class state.IssueClass, iss *issue.Issue) (string, error) {
	resp, err := p.executor.ExecuteCommand(ctx, agent.CommandRequest{
		AgentName: "brancher",
		Command:   "/generate_branch_name",
		Args:      []string{string(class), runID, iss.Markdown()},
		RunID:     runID,
		ModelSet:  set,
	})
	if err != nil {
		return "", err
	}
	if !resp.Success {
		return "", fmt.Errorf("generate branch name: %s", resp.Output)
	}
	name := sanitizeBranch(strings.TrimSpace(resp.Output))
	if name == "" {
		return "", fmt.Errorf("generate branch name: empty result")
	}
	return name, nil
}

// sanitizeBranch keeps only characters safe in a git ref.
func sanitizeBranch(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '/', r == '_', r == '.':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-/.")
}

// slugify turns an issue title into a spec filename slug, capped at 50
// characters.
func slugify(title string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteRune('-')
				lastDash = true
			}
		}
	}
	slug := strings.Trim(b.String(), "-")
	if len(slug) > 50 {
		slug = strings.Trim(slug[:50], "-")
	}
	if slug == "" {
		slug = "issue"
	}
	return slug
}

// generateSpec writes the spec document the plan phase works from into
// the worktree's specs directory. The agent drafts the content; when it
// cannot, the issue body stands in so the run can still proceed.
func (p *Pipeline) generateSpec(ctx context.Context, runID string, set agent.ModelSet, worktree string, class state.IssueClass, iss *issue.Issue) (string, error) {
	specsDir := filepath.Join(worktree, "specs")
	if err := config.EnsureDir(specsDir); err != nil {
		return "", fmt.Errorf("create specs dir: %w", err)
	}
	specPath := filepath.Join(specsDir, slugify(iss.Title)+".md")
	if _, err := os.Stat(specPath); err == nil {
		return specPath, nil
	}

	body := ""
	resp, err := p.executor.ExecuteCommand(ctx, agent.CommandRequest{
		AgentName:  "spec_writer",
		Command:    "/generate_spec_content",
		Args:       []string{iss.Markdown()},
		RunID:      runID,
		ModelSet:   set,
		WorkingDir: worktree,
	})
	if err == nil && resp.Success {
		body = strings.TrimSpace(resp.Output)
	} else {
		p.log.Warn("spec_content_generation_failed", map[string]any{"issue": iss.Number}, err)
		body = fmt.Sprintf("## Overview\n\n%s\n\n## Requirements\n\n- See issue #%d\n\n## Acceptance Criteria\n\n- Issue #%d is resolved\n",
			strings.TrimSpace(iss.Body), iss.Number, iss.Number)
	}

	var doc strings.Builder
	fmt.Fprintf(&doc, "# %s\n\n", iss.Title)
	fmt.Fprintf(&doc, "**Type:** %s\n", strings.TrimPrefix(string(class), "/"))
	fmt.Fprintf(&doc, "**Issue:** #%d\n", iss.Number)
	if labels := iss.LabelNames(); len(labels) > 0 {
		fmt.Fprintf(&doc, "**Labels:** %s\n", strings.Join(labels, ", "))
	}
	doc.WriteString("\n" + body + "\n")

	if err := os.WriteFile(specPath, []byte(doc.String()), 0644); err != nil {
		return "", fmt.Errorf("write spec: %w", err)
	}
	return specPath, nil
}
