package tool

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// Status is the outcome class of a tool execution.
type Status string

// Tool execution statuses. Every tool result carries exactly one of these;
// the model and the UI both branch on it.
const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusPending Status = "pending_confirmation"
	StatusSkipped Status = "skipped"
)

// summaryLimit bounds the human-facing summary of a tool result.
const summaryLimit = 200

// Result is the uniform outcome of a tool execution. Exactly one of Data,
// Error, or Message usually carries the payload, keyed by Status.
type Result struct {
	Status  Status          `json:"status"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Success builds a success result carrying the given data. Marshal failures
// degrade to an error result rather than panicking.
func Success(data any) Result {
	if data == nil {
		return Result{Status: StatusSuccess}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Errorf("encode result: %v", err)
	}
	return Result{Status: StatusSuccess, Data: raw}
}

// SuccessMessage builds a success result with a plain text message.
func SuccessMessage(format string, args ...any) Result {
	return Result{Status: StatusSuccess, Message: fmt.Sprintf(format, args...)}
}

// Errorf builds an error result with a formatted message.
func Errorf(format string, args ...any) Result {
	return Result{Status: StatusError, Error: fmt.Sprintf(format, args...)}
}

// Pending builds a pending_confirmation result with a message explaining what
// is waiting for approval.
func Pending(format string, args ...any) Result {
	return Result{Status: StatusPending, Message: fmt.Sprintf(format, args...)}
}

// Skipped builds a skipped result, used when a deferred operation is
// discarded without execution.
func Skipped(format string, args ...any) Result {
	return Result{Status: StatusSkipped, Message: fmt.Sprintf(format, args...)}
}

// JSON renders the result as the content of a tool message. It never fails;
// a marshal error is itself encoded as an error result.
func (r Result) JSON() string {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf(`{"status":"error","error":"encode result: %v"}`, err)
	}
	return string(raw)
}

// IsError reports whether the result is an error.
func (r Result) IsError() bool { return r.Status == StatusError }

// Summary returns a short human-facing description of the result: a row
// count for tabular data, the error text, or the message, truncated.
func (r Result) Summary() string {
	switch {
	case r.Error != "":
		return truncate(r.Error, summaryLimit)
	case r.Message != "":
		return truncate(r.Message, summaryLimit)
	case len(r.Data) > 0:
		var rows []any
		if err := json.Unmarshal(r.Data, &rows); err == nil {
			return fmt.Sprintf("%d rows", len(rows))
		}
		var s string
		if err := json.Unmarshal(r.Data, &s); err == nil {
			return truncate(s, summaryLimit)
		}
		return truncate(string(r.Data), summaryLimit)
	default:
		return string(r.Status)
	}
}

// ParseResult decodes a tool message content back into a Result. Content that
// is not a result envelope becomes a success result with the raw text as
// message, so replayed histories from older formats stay usable.
func ParseResult(content string) Result {
	var r Result
	if err := json.Unmarshal([]byte(content), &r); err != nil || r.Status == "" {
		return Result{Status: StatusSuccess, Message: content}
	}
	return r
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}
