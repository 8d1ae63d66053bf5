package agent

import (
	"fmt"
	"strings"
)

// TruncationSuffix marks text shortened by Truncate. The suffix counts
// toward the length budget.
const TruncationSuffix = "... (truncated)"

const (
	newlineLookback = 50
	spaceLookback   = 20
)

// Truncate shortens output to at most maxLen characters. JSONL streams
// are resolved to their meaningful text first; plain text is cut at a
// nearby line or word boundary before falling back to a hard cut.
func Truncate(output string, maxLen int) string {
	if len(output) <= maxLen {
		return output
	}
	if isJSONLStream(output) {
		return truncatePlain(resolveStreamText(output), maxLen)
	}
	return truncatePlain(output, maxLen)
}

// isJSONLStream detects the agent CLI's stream-json shape without a
// full parse.
func isJSONLStream(s string) bool {
	return strings.HasPrefix(s, `{"type":`) && strings.Contains(s, "\n{\"type\":")
}

// resolveStreamText extracts the meaningful text from a JSONL stream:
// the final result text when present, otherwise the last assistant
// message, otherwise a count placeholder.
func resolveStreamText(s string) string {
	records, _ := ParseStream(strings.NewReader(s))
	if rec := LastResult(records); rec != nil && rec.Result != "" {
		return rec.Result
	}
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Type == RecordTypeAssistant {
			if text := AssistantText(records[i]); text != "" {
				return text
			}
		}
	}
	return fmt.Sprintf("[JSONL output with %d messages]", len(records))
}

func truncatePlain(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen - len(TruncationSuffix)
	if cut <= 0 {
		return TruncationSuffix[:maxLen]
	}

	// Prefer breaking at a line boundary near the cut, then a word
	// boundary, then cut hard.
	window := s[:cut]
	if idx := strings.LastIndex(window, "\n"); idx >= 0 && cut-idx <= newlineLookback {
		return s[:idx] + "\n" + TruncationSuffix
	}
	if idx := strings.LastIndex(window, " "); idx >= 0 && cut-idx <= spaceLookback {
		return s[:idx] + " " + TruncationSuffix
	}
	return window + TruncationSuffix
}
