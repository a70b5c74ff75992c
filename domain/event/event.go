// Package event defines the streaming events emitted during a chat turn.
package event

// Type identifies the kind of a stream event.
type Type string

// Stream event types, in the order a consumer typically sees them.
const (
	TypeToolCall   Type = "tool_call"
	TypeToolResult Type = "tool_result"
	TypeTextDelta  Type = "text_delta"
	TypePending    Type = "pending"
	TypeDone       Type = "done"
	TypeError      Type = "error"
)

// Event is one unit of turn progress. Payload is one of the typed payload
// structs below, all JSON-serializable for transport layers.
type Event struct {
	Type    Type `json:"type"`
	Payload any  `json:"payload,omitempty"`
}

// ToolCallPayload announces a tool dispatch.
type ToolCallPayload struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// ToolResultPayload reports a tool outcome with a truncated summary.
type ToolResultPayload struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Summary string `json:"summary"`
}

// TextDeltaPayload carries a chunk of assistant text.
type TextDeltaPayload struct {
	Content string `json:"content"`
}

// PendingPayload describes one queued operation awaiting confirmation.
type PendingPayload struct {
	Index       int    `json:"index"`
	Tool        string `json:"tool"`
	SQL         string `json:"sql,omitempty"`
	Description string `json:"description"`
}

// DonePayload terminates a turn.
type DonePayload struct {
	HasPending   bool `json:"has_pending"`
	PendingCount int  `json:"pending_count"`
	Interrupted  bool `json:"interrupted,omitempty"`
}

// ErrorPayload reports a non-fatal turn error.
type ErrorPayload struct {
	Message string `json:"message"`
}

// Sink receives stream events. Sinks must not block for long; the
// orchestrator calls them inline.
type Sink func(Event)

// NopSink discards all events.
func NopSink(Event) {}

// Emit sends an event to the sink if it is non-nil.
func Emit(sink Sink, typ Type, payload any) {
	if sink == nil {
		return
	}
	sink(Event{Type: typ, Payload: payload})
}
