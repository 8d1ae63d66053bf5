package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	osexec "os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joss/awf/internal/config"
	"github.com/joss/awf/internal/exec"
	"github.com/joss/awf/internal/logging"
)

// Error text budget for failed results: anything longer than errorTextMax
// is truncated down to errorTextCut.
const (
	errorTextMax = 1000
	errorTextCut = 800
)

// slashCommandPattern pulls the leading slash command out of a prompt
// so the saved prompt file is named after it.
var slashCommandPattern = regexp.MustCompile(`^(/\w+)`)

// Executor runs the agent CLI and turns its stream output into
// PromptResponses.
type Executor struct {
	runner  exec.Runner
	env     *config.AWFEnv
	runsDir string
	log     *logging.Logger
	policy  Policy

	// lookPath is swapped in tests.
	lookPath func(string) (string, error)
}

// NewExecutor creates an executor writing artifacts under runsDir.
func NewExecutor(runner exec.Runner, env *config.AWFEnv, runsDir string, log *logging.Logger) *Executor {
	return &Executor{
		runner:   runner,
		env:      env,
		runsDir:  runsDir,
		log:      log,
		policy:   DefaultPolicy(),
		lookPath: osexec.LookPath,
	}
}

// SetPolicy overrides the retry policy.
func (e *Executor) SetPolicy(p Policy) { e.policy = p }

// Invoke runs the agent CLI once. Errors launching or classifying the
// run are folded into the response; the error return is reserved for
// artifact plumbing failures.
func (e *Executor) Invoke(ctx context.Context, req PromptRequest) (*PromptResponse, error) {
	invocationID := ulid.Make().String()

	if _, err := e.lookPath(e.env.AgentPath); err != nil {
		e.log.Error("agent_cli_not_found", map[string]any{"path": e.env.AgentPath}, err)
		return &PromptResponse{
			Output:    fmt.Sprintf("Agent CLI not found: %s", e.env.AgentPath),
			Success:   false,
			RetryCode: RetryCodeNone,
		}, nil
	}

	if req.OutputFile == "" {
		return nil, fmt.Errorf("prompt request missing output file")
	}
	if err := config.EnsureDir(filepath.Dir(req.OutputFile)); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	if err := e.savePrompt(req); err != nil {
		e.log.Warn("prompt_save_failed", map[string]any{"agent": req.AgentName}, err)
	}

	model := req.Model
	if model == "" {
		model = e.env.DefaultModel
	}

	args := []string{"-p", req.Prompt, "--model", model, "--output-format", "stream-json", "--verbose"}
	if req.WorkingDir != "" {
		mcpConfig := filepath.Join(req.WorkingDir, ".mcp.json")
		if _, err := os.Stat(mcpConfig); err == nil {
			args = append(args, "--mcp-config", mcpConfig)
		}
	}
	if req.SkipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}

	out, err := os.Create(req.OutputFile)
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}

	runCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	start := time.Now()
	e.log.Info("agent_invoke", map[string]any{
		"invocation_id": invocationID,
		"agent":         req.AgentName,
		"model":         model,
	})
	stderr, runErr := e.runner.RunStreamed(runCtx, req.WorkingDir, out, config.SafeSubprocessEnv(), e.env.AgentPath, args...)
	closeErr := out.Close()
	e.log.TimedEvent("agent_invoke_done", start, map[string]any{
		"invocation_id": invocationID,
		"agent":         req.AgentName,
	})
	if closeErr != nil {
		return nil, fmt.Errorf("close output file: %w", closeErr)
	}

	if runErr != nil {
		return e.classifyRunError(runErr, stderr), nil
	}
	return e.resolveResponse(req.OutputFile)
}

// classifyRunError maps a failed CLI launch or exit into a retryable
// response.
func (e *Executor) classifyRunError(runErr error, stderr []byte) *PromptResponse {
	if errors.Is(runErr, context.DeadlineExceeded) {
		return &PromptResponse{
			Output:    "Agent CLI timed out",
			Success:   false,
			RetryCode: RetryCodeTimeout,
		}
	}
	if code, ok := exec.AsExitError(runErr); ok {
		msg := strings.TrimSpace(string(stderr))
		if msg == "" {
			msg = fmt.Sprintf("Agent CLI exited with code %d", code)
		}
		return &PromptResponse{
			Output:    Truncate(msg, errorTextCut),
			Success:   false,
			RetryCode: RetryCodeCLIError,
		}
	}
	return &PromptResponse{
		Output:    runErr.Error(),
		Success:   false,
		RetryCode: RetryCodeExecution,
	}
}

// resolveResponse parses the stream artifact, writes the readable JSON
// array sibling, and extracts the final result.
func (e *Executor) resolveResponse(outputFile string) (*PromptResponse, error) {
	records, parseErr := ParseStreamFile(outputFile)
	if parseErr != nil {
		var recErr *RecordError
		if !errors.As(parseErr, &recErr) {
			return nil, parseErr
		}
		e.log.Warn("stream_record_invalid", map[string]any{"file": outputFile}, recErr)
	}

	arrayFile := strings.TrimSuffix(outputFile, ".jsonl") + ".json"
	if err := WriteJSONArray(arrayFile, records); err != nil {
		e.log.Warn("json_array_write_failed", map[string]any{"file": arrayFile}, err)
	}

	result := LastResult(records)
	if result == nil {
		return &PromptResponse{
			Output:    "No result message found",
			Success:   false,
			RetryCode: RetryCodeNone,
		}, nil
	}

	if result.Subtype == SubtypeMidRunError {
		return &PromptResponse{
			Output:    "Agent session died during execution",
			Success:   false,
			SessionID: result.SessionID,
			RetryCode: RetryCodeMidRun,
		}, nil
	}

	if result.IsError {
		// A content failure: the CLI ran to completion and the agent
		// itself reported an error. Retrying would just repeat it.
		text := result.Result
		if len(text) > errorTextMax {
			text = Truncate(text, errorTextCut)
		}
		return &PromptResponse{
			Output:    text,
			Success:   false,
			SessionID: result.SessionID,
			RetryCode: RetryCodeNone,
		}, nil
	}

	return &PromptResponse{
		Output:    result.Result,
		Success:   true,
		SessionID: result.SessionID,
		RetryCode: RetryCodeNone,
	}, nil
}

// savePrompt records the prompt text under the agent's prompts dir,
// named after the leading slash command when one is present.
func (e *Executor) savePrompt(req PromptRequest) error {
	name := "prompt"
	if m := slashCommandPattern.FindStringSubmatch(req.Prompt); m != nil {
		name = strings.TrimPrefix(m[1], "/")
	}
	dir := filepath.Join(e.runsDir, req.RunID, req.AgentName, "prompts")
	if err := config.EnsureDir(dir); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name+".txt"), []byte(req.Prompt), 0644)
}

// InvokeWithRetry runs Invoke under the retry policy and returns the
// last response.
func (e *Executor) InvokeWithRetry(ctx context.Context, req PromptRequest) (*PromptResponse, error) {
	return e.policy.Do(ctx, func(attempt int, resp *PromptResponse) {
		e.log.Warn("agent_retry", map[string]any{
			"agent":      req.AgentName,
			"attempt":    attempt,
			"retry_code": string(resp.RetryCode),
		}, nil)
	}, func(ctx context.Context) (*PromptResponse, error) {
		return e.Invoke(ctx, req)
	})
}

// ExecuteCommand runs a slash command as the named agent, picking the
// model from the tier map and routing output to the agent's raw stream
// artifact.
func (e *Executor) ExecuteCommand(ctx context.Context, req CommandRequest) (*PromptResponse, error) {
	prompt := req.Command
	if len(req.Args) > 0 {
		prompt += " " + strings.Join(req.Args, " ")
	}
	return e.InvokeWithRetry(ctx, PromptRequest{
		Prompt:          prompt,
		RunID:           req.RunID,
		AgentName:       req.AgentName,
		Model:           ModelFor(req.Command, req.ModelSet),
		SkipPermissions: true,
		OutputFile:      filepath.Join(e.runsDir, req.RunID, req.AgentName, "raw_output.jsonl"),
		WorkingDir:      req.WorkingDir,
	})
}
