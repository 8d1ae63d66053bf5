// Package agent invokes the coding-agent CLI, streams its JSONL output
// to per-run artifact files, and classifies failures for retry.
package agent

import "time"

// RetryCode classifies why an agent invocation failed.
type RetryCode string

const (
	// RetryCodeNone marks success or a non-retryable failure.
	RetryCodeNone RetryCode = "none"

	// RetryCodeCLIError marks a non-zero CLI exit.
	RetryCodeCLIError RetryCode = "cli_error"

	// RetryCodeTimeout marks a deadline hit while the CLI was running.
	RetryCodeTimeout RetryCode = "timeout_error"

	// RetryCodeExecution marks any other failure to run the CLI.
	RetryCodeExecution RetryCode = "execution_error"

	// RetryCodeMidRun marks an agent session that died mid-run, reported
	// by the CLI as subtype error_during_execution.
	RetryCodeMidRun RetryCode = "error_during_execution"
)

// Retryable reports whether a failed invocation should be attempted again.
func (c RetryCode) Retryable() bool {
	switch c {
	case RetryCodeCLIError, RetryCodeTimeout, RetryCodeExecution, RetryCodeMidRun:
		return true
	}
	return false
}

// ModelSet selects between the cheap and capable model tiers.
type ModelSet string

const (
	ModelSetBase  ModelSet = "base"
	ModelSetHeavy ModelSet = "heavy"
)

// DefaultModel is used when a slash command has no mapping.
const DefaultModel = "sonnet"

// modelPair holds the model for each tier of one slash command.
type modelPair struct {
	base  string
	heavy string
}

// commandModels maps slash commands to per-tier models. Planning and
// implementation get the capable model on the heavy tier; mechanical
// commands stay on the cheap model everywhere.
var commandModels = map[string]modelPair{
	"/classify_issue":        {"sonnet", "sonnet"},
	"/classify_adw":          {"sonnet", "sonnet"},
	"/generate_branch_name":  {"sonnet", "sonnet"},
	"/chore":                 {"sonnet", "opus"},
	"/bug":                   {"sonnet", "opus"},
	"/feature":               {"sonnet", "opus"},
	"/patch":                 {"sonnet", "opus"},
	"/implement":             {"sonnet", "opus"},
	"/test":                  {"sonnet", "sonnet"},
	"/resolve_failed_test":   {"sonnet", "opus"},
	"/test_e2e":              {"sonnet", "sonnet"},
	"/resolve_failed_e2e":    {"sonnet", "opus"},
	"/review":                {"sonnet", "opus"},
	"/resolve_review_issue":  {"sonnet", "opus"},
	"/document":              {"sonnet", "sonnet"},
	"/commit":                {"sonnet", "sonnet"},
	"/pull_request":          {"sonnet", "sonnet"},
	"/generate_spec_content": {"sonnet", "opus"},
}

// ModelFor returns the model to use for a slash command under a tier.
func ModelFor(command string, set ModelSet) string {
	pair, ok := commandModels[command]
	if !ok {
		return DefaultModel
	}
	if set == ModelSetHeavy {
		return pair.heavy
	}
	return pair.base
}

// PromptRequest describes a single agent CLI invocation.
type PromptRequest struct {
	// Prompt is the full prompt text passed via -p.
	Prompt string

	// RunID scopes artifacts under runs/<run_id>.
	RunID string

	// AgentName names the logical agent for artifact layout, e.g.
	// "planner" or "implementor".
	AgentName string

	// Model is the model flag value. Empty means DefaultModel.
	Model string

	// SkipPermissions passes --dangerously-skip-permissions.
	SkipPermissions bool

	// OutputFile receives the raw JSONL stream. Required.
	OutputFile string

	// WorkingDir is the directory the CLI runs in. When it contains a
	// .mcp.json file the config is passed through to the CLI.
	WorkingDir string

	// Timeout bounds the invocation. Zero means no deadline.
	Timeout time.Duration
}

// PromptResponse is the outcome of one agent CLI invocation.
type PromptResponse struct {
	// Output is the final result text, or an error description.
	Output string `json:"output"`

	// Success reports whether the agent completed without error.
	Success bool `json:"success"`

	// SessionID is the agent session, when one was reported.
	SessionID string `json:"session_id,omitempty"`

	// RetryCode classifies the failure for the retry policy.
	RetryCode RetryCode `json:"retry_code,omitempty"`
}

// CommandRequest describes a slash-command invocation. The executor
// builds the prompt, picks the model from the tier map, and routes
// output to the agent's raw_output.jsonl.
type CommandRequest struct {
	AgentName  string
	Command    string
	Args       []string
	RunID      string
	ModelSet   ModelSet
	WorkingDir string
}
