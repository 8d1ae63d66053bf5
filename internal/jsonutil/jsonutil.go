// Package jsonutil extracts JSON payloads from agent responses.
// Agents wrap results in markdown fences or surround them with prose;
// these helpers recover the raw object or array before decoding.
package jsonutil

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// codeBlockPattern matches JSON inside markdown code blocks: ```json ... ```
var codeBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(.*?)\\n```")

// Extract returns the best-effort JSON object or array embedded in text.
// Markdown code fences win; otherwise the earliest bracketed region is
// sliced out. Returns the trimmed input when no bracket is found so the
// caller's Unmarshal produces the real decode error.
func Extract(text string) string {
	s := strings.TrimSpace(text)
	if m := codeBlockPattern.FindStringSubmatch(s); len(m) > 1 {
		s = strings.TrimSpace(m[1])
	}

	if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") {
		return s
	}

	arrStart := strings.Index(s, "[")
	objStart := strings.Index(s, "{")

	if arrStart != -1 && (objStart == -1 || arrStart < objStart) {
		if end := strings.LastIndex(s, "]"); end > arrStart {
			return s[arrStart : end+1]
		}
	}
	if objStart != -1 {
		if end := strings.LastIndex(s, "}"); end > objStart {
			return s[objStart : end+1]
		}
	}
	return s
}

// Decode extracts JSON from text and unmarshals it into v.
func Decode(text string, v any) error {
	payload := Extract(text)
	if err := json.Unmarshal([]byte(payload), v); err != nil {
		preview := payload
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		return fmt.Errorf("parse JSON: %w (text was: %s)", err, preview)
	}
	return nil
}
