package loop

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FailureArtifact is the transient file listing failing tests. The
// build phase reads it to know what to fix; it is deleted once all
// tests pass so a merged branch never carries it.
const FailureArtifact = "TEST_FAILURES.md"

// WriteFailureArtifact writes the failing tests from a loop iteration
// into the worktree.
func WriteFailureArtifact(dir string, loopN int, results []TestResult) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# Test Failures (Backpressure Loop %d)\n\n", loopN)
	for _, r := range results {
		if r.Passed {
			continue
		}
		fmt.Fprintf(&b, "## %s\n\n", r.TestName)
		if r.ExecutionCommand != "" {
			fmt.Fprintf(&b, "- Command: `%s`\n", r.ExecutionCommand)
		}
		if r.TestPurpose != "" {
			fmt.Fprintf(&b, "- Purpose: %s\n", r.TestPurpose)
		}
		if r.Error != "" {
			fmt.Fprintf(&b, "- Error: %s\n", r.Error)
		}
		b.WriteString("\n")
	}
	return os.WriteFile(filepath.Join(dir, FailureArtifact), []byte(b.String()), 0644)
}

// RemoveFailureArtifact deletes the failure artifact if present.
func RemoveFailureArtifact(dir string) error {
	err := os.Remove(filepath.Join(dir, FailureArtifact))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
