// Package exec provides the single command-execution boundary for AWF.
// Every external process (agent CLI, git, gh) is invoked through Runner,
// so orchestration logic can be exercised against a scripted fake.
package exec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	osexec "os/exec"
	"strings"
)

// Runner executes external commands synchronously.
type Runner interface {
	// Run executes a command and returns combined stdout/stderr.
	Run(ctx context.Context, name string, args ...string) ([]byte, error)

	// RunInDir executes a command in a specific directory.
	RunInDir(ctx context.Context, dir, name string, args ...string) ([]byte, error)

	// RunSeparate executes in dir and returns stdout and stderr separately.
	RunSeparate(ctx context.Context, dir, name string, args ...string) (stdout, stderr []byte, err error)

	// RunStreamed executes in dir with stdout streamed to w, an optional
	// environment override (nil = inherit), and stderr captured.
	RunStreamed(ctx context.Context, dir string, w io.Writer, env []string, name string, args ...string) (stderr []byte, err error)
}

// ExitError reports a command that ran but exited non-zero.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command failed with exit code %d", e.Code)
}

// AsExitError extracts the exit code if err represents a non-zero exit.
func AsExitError(err error) (int, bool) {
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code, true
	}
	return 0, false
}

// wrapExit converts os/exec exit errors into *ExitError so callers never
// depend on os/exec types.
func wrapExit(err error) error {
	var ee *osexec.ExitError
	if errors.As(err, &ee) {
		return &ExitError{Code: ee.ExitCode()}
	}
	return err
}

// OSRunner implements Runner using os/exec.
type OSRunner struct{}

// NewOSRunner creates a new OS-based command runner.
func NewOSRunner() *OSRunner {
	return &OSRunner{}
}

func (r *OSRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := osexec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	return out, wrapExit(err)
}

func (r *OSRunner) RunInDir(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := osexec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	return out, wrapExit(err)
}

func (r *OSRunner) RunSeparate(ctx context.Context, dir, name string, args ...string) ([]byte, []byte, error) {
	cmd := osexec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), wrapExit(err)
}

func (r *OSRunner) RunStreamed(ctx context.Context, dir string, w io.Writer, env []string, name string, args ...string) ([]byte, error) {
	cmd := osexec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if env != nil {
		cmd.Env = env
	}
	cmd.Stdout = w
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	if ctx.Err() != nil {
		return stderr.Bytes(), ctx.Err()
	}
	return stderr.Bytes(), wrapExit(err)
}

// MockRunner implements Runner for testing with scripted responses.
type MockRunner struct {
	// Calls records all command invocations in order.
	Calls []MockCall

	// Responses maps a command key to a queue of responses. Keys are
	// matched longest-prefix-first against "name arg1 arg2 ...", so
	// "git worktree add" and "git fetch" can be scripted independently.
	// A queue with one element repeats; longer queues pop front.
	Responses map[string][]MockResponse
}

// MockCall records a single command invocation.
type MockCall struct {
	Name string
	Args []string
	Dir  string
}

// Key returns the full command string for assertions.
func (c MockCall) Key() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// MockResponse defines the scripted response for a command.
type MockResponse struct {
	Stdout []byte
	Stderr []byte
	Err    error
}

// NewMockRunner creates a new mock runner.
func NewMockRunner() *MockRunner {
	return &MockRunner{Responses: make(map[string][]MockResponse)}
}

// Script appends a response to the queue for a command key.
func (m *MockRunner) Script(key string, resp MockResponse) {
	m.Responses[key] = append(m.Responses[key], resp)
}

// CallsFor returns recorded calls whose command string starts with key.
func (m *MockRunner) CallsFor(key string) []MockCall {
	var out []MockCall
	for _, c := range m.Calls {
		if strings.HasPrefix(c.Key(), key) {
			out = append(out, c)
		}
	}
	return out
}

func (m *MockRunner) next(name string, args []string) MockResponse {
	full := strings.TrimSpace(name + " " + strings.Join(args, " "))
	// Longest matching prefix wins.
	bestKey := ""
	found := false
	for key := range m.Responses {
		if strings.HasPrefix(full, key) && (!found || len(key) > len(bestKey)) {
			bestKey = key
			found = true
		}
	}
	if !found {
		return MockResponse{}
	}
	queue := m.Responses[bestKey]
	resp := queue[0]
	if len(queue) > 1 {
		m.Responses[bestKey] = queue[1:]
	}
	return resp
}

func (m *MockRunner) record(name string, args []string, dir string) {
	m.Calls = append(m.Calls, MockCall{Name: name, Args: args, Dir: dir})
}

func (m *MockRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	m.record(name, args, "")
	resp := m.next(name, args)
	return append(resp.Stdout, resp.Stderr...), resp.Err
}

func (m *MockRunner) RunInDir(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	m.record(name, args, dir)
	resp := m.next(name, args)
	return append(resp.Stdout, resp.Stderr...), resp.Err
}

func (m *MockRunner) RunSeparate(ctx context.Context, dir, name string, args ...string) ([]byte, []byte, error) {
	m.record(name, args, dir)
	resp := m.next(name, args)
	return resp.Stdout, resp.Stderr, resp.Err
}

func (m *MockRunner) RunStreamed(ctx context.Context, dir string, w io.Writer, env []string, name string, args ...string) ([]byte, error) {
	m.record(name, args, dir)
	resp := m.next(name, args)
	if w != nil && len(resp.Stdout) > 0 {
		w.Write(resp.Stdout)
	}
	return resp.Stderr, resp.Err
}
