// Package issue talks to GitHub issues through the gh CLI. Progress
// comments follow the run-id/channel convention so interleaved runs on
// one issue stay readable.
package issue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/joss/awf/internal/exec"
	"github.com/joss/awf/internal/logging"
)

// Issue is the subset of GitHub issue fields the pipeline uses.
type Issue struct {
	Number int     `json:"number"`
	Title  string  `json:"title"`
	Body   string  `json:"body"`
	State  string  `json:"state"`
	URL    string  `json:"url"`
	Labels []Label `json:"labels"`
}

// Label is a GitHub issue label.
type Label struct {
	Name string `json:"name"`
}

// LabelNames returns the label names in order.
func (i *Issue) LabelNames() []string {
	names := make([]string, 0, len(i.Labels))
	for _, l := range i.Labels {
		names = append(names, l.Name)
	}
	return names
}

// Markdown renders the issue as prompt context for an agent.
func (i *Issue) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Issue #%d: %s\n\n", i.Number, i.Title)
	if len(i.Labels) > 0 {
		fmt.Fprintf(&b, "Labels: %s\n\n", strings.Join(i.LabelNames(), ", "))
	}
	b.WriteString(i.Body)
	return b.String()
}

// Client fetches issues and posts progress comments.
type Client struct {
	runner exec.Runner
	log    *logging.Logger
}

// NewClient creates an issue client.
func NewClient(runner exec.Runner, log *logging.Logger) *Client {
	return &Client{runner: runner, log: log}
}

// Fetch loads an issue by number.
func (c *Client) Fetch(ctx context.Context, number string) (*Issue, error) {
	out, err := c.runner.Run(ctx, "gh", "issue", "view", number,
		"--json", "number,title,body,state,url,labels")
	if err != nil {
		return nil, fmt.Errorf("fetch issue %s: %s: %w", number, strings.TrimSpace(string(out)), err)
	}
	var iss Issue
	if err := json.Unmarshal(out, &iss); err != nil {
		return nil, fmt.Errorf("decode issue %s: %w", number, err)
	}
	return &iss, nil
}

// FormatMessage prefixes a comment body with the run id and channel:
// "{run_id}_{channel}: body".
func FormatMessage(runID, channel, body string) string {
	return fmt.Sprintf("%s_%s: %s", runID, channel, body)
}

// Comment posts a progress comment on the issue. Failures are logged
// and swallowed: a missed comment never stops the pipeline.
func (c *Client) Comment(ctx context.Context, number, runID, channel, body string) {
	msg := FormatMessage(runID, channel, body)
	out, err := c.runner.Run(ctx, "gh", "issue", "comment", number, "--body", msg)
	if err != nil {
		c.log.Warn("issue_comment_failed", map[string]any{
			"issue":  number,
			"output": string(out),
		}, err)
	}
}
