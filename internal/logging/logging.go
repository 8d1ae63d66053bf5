// Package logging provides structured JSON logging for AWF components.
// Loggers are scoped to one run id and write to stderr plus the run's
// execution log file.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Level represents log severity
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event represents a structured log event
type Event struct {
	Timestamp string         `json:"ts"`
	Level     Level          `json:"level"`
	Component string         `json:"component"`
	Event     string         `json:"event"`
	RunID     string         `json:"run_id,omitempty"`
	Workflow  string         `json:"workflow,omitempty"`
	Duration  int64          `json:"duration_ms,omitempty"`
	Error     string         `json:"error,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// Logger emits structured events for one run.
type Logger struct {
	component string
	runID     string
	workflow  string
	mu        sync.Mutex
	sinks     []io.Writer
}

// New creates a logger writing to stderr only.
func New(component string) *Logger {
	return &Logger{component: component, sinks: []io.Writer{os.Stderr}}
}

// WithComponent returns a copy of the logger for another component,
// sharing the same sinks and run scope.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		component: component,
		runID:     l.runID,
		workflow:  l.workflow,
		sinks:     l.sinks,
	}
}

func (l *Logger) log(level Level, event string, extra map[string]any, err error) {
	e := Event{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     level,
		Component: l.component,
		Event:     event,
		RunID:     l.runID,
		Workflow:  l.workflow,
		Extra:     extra,
	}
	if err != nil {
		e.Error = err.Error()
	}
	data, _ := json.Marshal(e)

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, w := range l.sinks {
		fmt.Fprintln(w, string(data))
	}
}

// Debug logs a debug event
func (l *Logger) Debug(event string, extra map[string]any) {
	l.log(LevelDebug, event, extra, nil)
}

// Info logs an info event
func (l *Logger) Info(event string, extra map[string]any) {
	l.log(LevelInfo, event, extra, nil)
}

// Warn logs a warning event
func (l *Logger) Warn(event string, extra map[string]any, err error) {
	l.log(LevelWarn, event, extra, err)
}

// Error logs an error event
func (l *Logger) Error(event string, extra map[string]any, err error) {
	l.log(LevelError, event, extra, err)
}

// TimedEvent logs an event with duration since start.
func (l *Logger) TimedEvent(event string, start time.Time, extra map[string]any) {
	e := Event{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     LevelInfo,
		Component: l.component,
		Event:     event,
		RunID:     l.runID,
		Workflow:  l.workflow,
		Duration:  time.Since(start).Milliseconds(),
		Extra:     extra,
	}
	data, _ := json.Marshal(e)

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, w := range l.sinks {
		fmt.Fprintln(w, string(data))
	}
}

// Registry hands out one logger per run id with init-on-first-use.
// This replaces ambient process-global loggers: the registry itself is
// constructed once and passed to whoever needs run-scoped logging.
type Registry struct {
	mu      sync.Mutex
	runsDir string
	loggers map[string]*Logger
}

// NewRegistry creates a registry rooted at the runs directory.
func NewRegistry(runsDir string) *Registry {
	return &Registry{
		runsDir: runsDir,
		loggers: make(map[string]*Logger),
	}
}

// Get returns the logger for a run id, creating it on first use.
// The logger appends to runs/<runID>/<workflow>/execution.log in
// addition to stderr; if the file cannot be opened the logger degrades
// to stderr only.
func (r *Registry) Get(runID, workflow string) *Logger {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.loggers[runID]; ok {
		return l
	}

	l := &Logger{
		component: "awf",
		runID:     runID,
		workflow:  workflow,
		sinks:     []io.Writer{os.Stderr},
	}

	logDir := filepath.Join(r.runsDir, runID, workflow)
	if err := os.MkdirAll(logDir, 0755); err == nil {
		logFile := filepath.Join(logDir, "execution.log")
		if f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644); err == nil {
			l.sinks = append(l.sinks, f)
		}
	}

	r.loggers[runID] = l
	l.Info("logger_initialized", map[string]any{"run_id": runID})
	return l
}
