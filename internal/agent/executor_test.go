package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/awf/internal/config"
	"github.com/joss/awf/internal/exec"
	"github.com/joss/awf/internal/logging"
)

func testExecutor(t *testing.T) (*Executor, *exec.MockRunner, string) {
	t.Helper()
	runsDir := t.TempDir()
	runner := exec.NewMockRunner()
	env := &config.AWFEnv{AgentPath: "claude", DefaultModel: "sonnet"}
	e := NewExecutor(runner, env, runsDir, logging.New("test"))
	e.lookPath = func(string) (string, error) { return "/usr/bin/claude", nil }
	// No real sleeps in retry tests.
	e.policy.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return e, runner, runsDir
}

func TestInvokeSuccess(t *testing.T) {
	e, runner, runsDir := testExecutor(t)
	stream := `{"type":"system","subtype":"init"}
{"type":"result","subtype":"success","result":"implemented the fix","session_id":"sess-1"}
`
	runner.Script("claude", exec.MockResponse{Stdout: []byte(stream)})

	out := filepath.Join(runsDir, "r1", "implementor", "raw_output.jsonl")
	resp, err := e.Invoke(context.Background(), PromptRequest{
		Prompt:     "/implement specs/fix.md",
		RunID:      "r1",
		AgentName:  "implementor",
		Model:      "opus",
		OutputFile: out,
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "implemented the fix", resp.Output)
	assert.Equal(t, "sess-1", resp.SessionID)
	assert.Equal(t, RetryCodeNone, resp.RetryCode)

	// --- CLI flags ---

	calls := runner.CallsFor("claude")
	require.Len(t, calls, 1)
	joined := calls[0].Key()
	assert.Contains(t, joined, "--model opus")
	assert.Contains(t, joined, "--output-format stream-json")
	assert.Contains(t, joined, "--verbose")
	assert.NotContains(t, joined, "--dangerously-skip-permissions")

	// --- Artifacts: raw stream, JSON array sibling, saved prompt ---

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, stream, string(raw))

	_, err = os.Stat(filepath.Join(runsDir, "r1", "implementor", "raw_output.json"))
	assert.NoError(t, err)

	prompt, err := os.ReadFile(filepath.Join(runsDir, "r1", "implementor", "prompts", "implement.txt"))
	require.NoError(t, err)
	assert.Equal(t, "/implement specs/fix.md", string(prompt))
}

func TestInvokeFailureClassification(t *testing.T) {
	tests := []struct {
		name     string
		resp     exec.MockResponse
		wantCode RetryCode
		wantOut  string
	}{
		{
			name:     "non-zero exit is a CLI error carrying stderr",
			resp:     exec.MockResponse{Stderr: []byte("auth expired\n"), Err: &exec.ExitError{Code: 1}},
			wantCode: RetryCodeCLIError,
			wantOut:  "auth expired",
		},
		{
			name:     "deadline is a timeout",
			resp:     exec.MockResponse{Err: context.DeadlineExceeded},
			wantCode: RetryCodeTimeout,
			wantOut:  "Agent CLI timed out",
		},
		{
			name:     "anything else is an execution error",
			resp:     exec.MockResponse{Err: errors.New("fork failed")},
			wantCode: RetryCodeExecution,
			wantOut:  "fork failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, runner, runsDir := testExecutor(t)
			runner.Script("claude", tt.resp)

			resp, err := e.Invoke(context.Background(), PromptRequest{
				Prompt:     "do a thing",
				RunID:      "r1",
				AgentName:  "a",
				OutputFile: filepath.Join(runsDir, "r1", "a", "raw_output.jsonl"),
			})
			require.NoError(t, err)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.wantCode, resp.RetryCode)
			assert.Contains(t, resp.Output, tt.wantOut)
		})
	}
}

func TestInvokeResultHandling(t *testing.T) {
	t.Run("mid-run death is retryable", func(t *testing.T) {
		e, runner, runsDir := testExecutor(t)
		runner.Script("claude", exec.MockResponse{
			Stdout: []byte(`{"type":"result","subtype":"error_during_execution","session_id":"s9"}` + "\n"),
		})
		resp, err := e.Invoke(context.Background(), PromptRequest{
			Prompt: "p", RunID: "r1", AgentName: "a",
			OutputFile: filepath.Join(runsDir, "r1", "a", "raw_output.jsonl"),
		})
		require.NoError(t, err)
		assert.False(t, resp.Success)
		assert.Equal(t, RetryCodeMidRun, resp.RetryCode)
		assert.Equal(t, "s9", resp.SessionID)
	})

	t.Run("missing result record is terminal", func(t *testing.T) {
		e, runner, runsDir := testExecutor(t)
		runner.Script("claude", exec.MockResponse{
			Stdout: []byte(`{"type":"assistant","message":{"content":[{"type":"text","text":"hm"}]}}` + "\n"),
		})
		resp, err := e.Invoke(context.Background(), PromptRequest{
			Prompt: "p", RunID: "r1", AgentName: "a",
			OutputFile: filepath.Join(runsDir, "r1", "a", "raw_output.jsonl"),
		})
		require.NoError(t, err)
		assert.False(t, resp.Success)
		assert.Equal(t, "No result message found", resp.Output)
		assert.Equal(t, RetryCodeNone, resp.RetryCode)
	})

	t.Run("content failure is terminal with truncated text", func(t *testing.T) {
		e, runner, runsDir := testExecutor(t)
		long := strings.Repeat("e", 2000)
		runner.Script("claude", exec.MockResponse{
			Stdout: []byte(fmt.Sprintf(`{"type":"result","is_error":true,"result":"%s"}`+"\n", long)),
		})
		resp, err := e.Invoke(context.Background(), PromptRequest{
			Prompt: "p", RunID: "r1", AgentName: "a",
			OutputFile: filepath.Join(runsDir, "r1", "a", "raw_output.jsonl"),
		})
		require.NoError(t, err)
		assert.False(t, resp.Success)
		assert.Equal(t, RetryCodeNone, resp.RetryCode)
		assert.LessOrEqual(t, len(resp.Output), 800)
		assert.True(t, strings.HasSuffix(resp.Output, TruncationSuffix))
	})

	t.Run("content failure is never retried", func(t *testing.T) {
		e, runner, runsDir := testExecutor(t)
		runner.Script("claude", exec.MockResponse{
			Stdout: []byte(`{"type":"result","is_error":true,"result":"the plan file does not exist"}` + "\n"),
		})
		resp, err := e.InvokeWithRetry(context.Background(), PromptRequest{
			Prompt: "p", RunID: "r1", AgentName: "a",
			OutputFile: filepath.Join(runsDir, "r1", "a", "raw_output.jsonl"),
		})
		require.NoError(t, err)
		assert.False(t, resp.Success)
		assert.Equal(t, RetryCodeNone, resp.RetryCode)
		assert.Len(t, runner.CallsFor("claude"), 1)
	})

	t.Run("long stderr is truncated on CLI error", func(t *testing.T) {
		e, runner, runsDir := testExecutor(t)
		runner.Script("claude", exec.MockResponse{
			Stderr: []byte(strings.Repeat("s", 2000)),
			Err:    &exec.ExitError{Code: 1},
		})
		resp, err := e.Invoke(context.Background(), PromptRequest{
			Prompt: "p", RunID: "r1", AgentName: "a",
			OutputFile: filepath.Join(runsDir, "r1", "a", "raw_output.jsonl"),
		})
		require.NoError(t, err)
		assert.Equal(t, RetryCodeCLIError, resp.RetryCode)
		assert.LessOrEqual(t, len(resp.Output), 800)
	})
}

func TestInvokeMissingBinary(t *testing.T) {
	e, runner, runsDir := testExecutor(t)
	e.lookPath = func(string) (string, error) { return "", errors.New("not found") }

	resp, err := e.Invoke(context.Background(), PromptRequest{
		Prompt: "p", RunID: "r1", AgentName: "a",
		OutputFile: filepath.Join(runsDir, "r1", "a", "raw_output.jsonl"),
	})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, RetryCodeNone, resp.RetryCode)
	assert.Contains(t, resp.Output, "Agent CLI not found")
	// The CLI is never launched.
	assert.Empty(t, runner.Calls)
}

func TestExecuteCommand(t *testing.T) {
	e, runner, runsDir := testExecutor(t)
	runner.Script("claude", exec.MockResponse{
		Stdout: []byte(`{"type":"result","result":"/feature"}` + "\n"),
	})

	resp, err := e.ExecuteCommand(context.Background(), CommandRequest{
		AgentName: "classifier",
		Command:   "/classify_issue",
		Args:      []string{"issue body"},
		RunID:     "r1",
		ModelSet:  ModelSetHeavy,
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "/feature", resp.Output)

	calls := runner.CallsFor("claude")
	require.Len(t, calls, 1)
	joined := calls[0].Key()
	assert.Contains(t, joined, "/classify_issue issue body")
	// Classification stays on the cheap model even on the heavy tier.
	assert.Contains(t, joined, "--model sonnet")
	assert.Contains(t, joined, "--dangerously-skip-permissions")

	_, err = os.Stat(filepath.Join(runsDir, "r1", "classifier", "raw_output.jsonl"))
	assert.NoError(t, err)
}

func TestModelFor(t *testing.T) {
	assert.Equal(t, "opus", ModelFor("/implement", ModelSetHeavy))
	assert.Equal(t, "sonnet", ModelFor("/implement", ModelSetBase))
	assert.Equal(t, "sonnet", ModelFor("/commit", ModelSetHeavy))
	assert.Equal(t, DefaultModel, ModelFor("/unknown", ModelSetHeavy))
}
