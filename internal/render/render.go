// Package render provides terminal output formatting for pipeline runs.
package render

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"
)

// Renderer handles output formatting. Pretty output uses color and
// box drawing; plain output stays grep-friendly for logs and CI.
type Renderer struct {
	pretty bool
}

// New creates a renderer. Pretty defaults to whether stdout is a
// terminal; noColor forces plain output.
func New(noColor bool) *Renderer {
	pretty := term.IsTerminal(int(os.Stdout.Fd())) && !noColor
	if noColor {
		color.NoColor = true
	}
	return &Renderer{pretty: pretty}
}

// Step prints a pipeline step heading.
func (r *Renderer) Step(name string) {
	if r.pretty {
		fmt.Println(color.CyanString("▸ " + name))
	} else {
		fmt.Println("step: " + name)
	}
}

// Stepf prints a detail line under the current step.
func (r *Renderer) Stepf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if r.pretty {
		fmt.Println("  " + color.HiBlackString(line))
	} else {
		fmt.Println("  " + line)
	}
}

// Warn prints a non-fatal problem.
func (r *Renderer) Warn(msg string) {
	if r.pretty {
		fmt.Println(color.YellowString("! " + msg))
	} else {
		fmt.Println("warn: " + msg)
	}
}

// RunSummary is what Summary prints when a pipeline run finishes.
type RunSummary struct {
	RunID        string
	IssueNumber  string
	Branch       string
	Phase        string
	WorktreePath string
	BackendPort  int
	FrontendPort int
	PRURL        string
	Duration     time.Duration
}

// Summary prints the final run banner.
func (r *Renderer) Summary(s RunSummary) {
	ok := s.Phase == "done"

	if !r.pretty {
		fmt.Printf("run=%s issue=%s branch=%s phase=%s worktree=%s ports=%d/%d pr=%s duration=%s\n",
			s.RunID, s.IssueNumber, s.Branch, s.Phase, s.WorktreePath,
			s.BackendPort, s.FrontendPort, s.PRURL, FormatDuration(s.Duration))
		return
	}

	title := color.GreenString("✓ Run complete")
	if !ok {
		title = color.RedString("✗ Run " + s.Phase)
	}
	fmt.Println(title)
	fmt.Println(strings.Repeat("─", 50))
	fmt.Printf("  Run:      %s\n", s.RunID)
	fmt.Printf("  Issue:    #%s\n", s.IssueNumber)
	if s.Branch != "" {
		fmt.Printf("  Branch:   %s\n", s.Branch)
	}
	if s.WorktreePath != "" {
		fmt.Printf("  Worktree: %s\n", s.WorktreePath)
	}
	if s.BackendPort != 0 {
		fmt.Printf("  Ports:    backend %d, frontend %d\n", s.BackendPort, s.FrontendPort)
	}
	if s.PRURL != "" {
		fmt.Printf("  PR:       %s\n", color.CyanString(s.PRURL))
	}
	fmt.Printf("  Duration: %s\n", FormatDuration(s.Duration))
}

// FormatDuration formats a duration in human-readable form.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
