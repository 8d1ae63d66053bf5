package agent

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// Record types emitted on the agent CLI's stream-json output.
const (
	RecordTypeSystem    = "system"
	RecordTypeAssistant = "assistant"
	RecordTypeUser      = "user"
	RecordTypeResult    = "result"
)

// SubtypeMidRunError is the result subtype for a session that died
// partway through execution.
const SubtypeMidRunError = "error_during_execution"

// RecordError reports a stream line that could not be decoded.
type RecordError struct {
	Line int
	Err  error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("stream record %d: %v", e.Line, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// Record is one line of the agent's JSONL stream. Only the fields the
// pipeline inspects are decoded; the raw line is kept for re-emission.
type Record struct {
	Type string `json:"type"`

	// Result fields, set when Type == "result".
	Subtype      string  `json:"subtype,omitempty"`
	IsError      bool    `json:"is_error,omitempty"`
	DurationMS   int64   `json:"duration_ms,omitempty"`
	NumTurns     int     `json:"num_turns,omitempty"`
	Result       string  `json:"result,omitempty"`
	SessionID    string  `json:"session_id,omitempty"`
	TotalCostUSD float64 `json:"total_cost_usd,omitempty"`

	// Message carries assistant content blocks.
	Message *Message `json:"message,omitempty"`

	// Raw is the original line, preserved for the JSON array artifact.
	Raw json.RawMessage `json:"-"`
}

// Message is an assistant or user message payload.
type Message struct {
	Content []ContentBlock `json:"content"`
}

// ContentBlock is one block inside a message.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ParseStream decodes the JSONL stream from r. Lines that are not valid
// records produce a *RecordError; well-formed records before the bad
// line are still returned.
func ParseStream(r io.Reader) ([]Record, error) {
	scanner := bufio.NewScanner(r)
	// Assistant turns with large tool results can exceed the default
	// 64KB token limit.
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	var records []Record
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return records, &RecordError{Line: lineNo, Err: err}
		}
		if rec.Type == "" {
			return records, &RecordError{Line: lineNo, Err: fmt.Errorf("missing type field")}
		}
		rec.Raw = append(json.RawMessage(nil), line...)
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return records, fmt.Errorf("read stream: %w", err)
	}
	return records, nil
}

// ParseStreamFile decodes the JSONL stream stored at path.
func ParseStreamFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open stream file: %w", err)
	}
	defer f.Close()
	return ParseStream(f)
}

// WriteJSONArray writes the records as a pretty-printed JSON array,
// the readable sibling of the raw JSONL artifact.
func WriteJSONArray(path string, records []Record) error {
	raws := make([]json.RawMessage, 0, len(records))
	for _, rec := range records {
		raws = append(raws, rec.Raw)
	}
	data, err := json.MarshalIndent(raws, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record array: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// LastResult returns the final result record in the stream, or nil when
// the stream has none.
func LastResult(records []Record) *Record {
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Type == RecordTypeResult {
			return &records[i]
		}
	}
	return nil
}

// AssistantText concatenates the text blocks of an assistant record.
func AssistantText(rec Record) string {
	if rec.Message == nil {
		return ""
	}
	var parts []string
	for _, block := range rec.Message.Content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}
