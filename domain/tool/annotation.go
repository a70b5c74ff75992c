package tool

// Annotations describe behavioral hints for a tool. The orchestrator uses
// them to decide about confirmation gating and retry safety.
type Annotations struct {
	// ReadOnly indicates the tool does not modify external state.
	ReadOnly bool `json:"read_only"`

	// Idempotent indicates repeated calls with the same arguments produce
	// the same effect, making the tool safe to retry.
	Idempotent bool `json:"idempotent"`

	// RequiresConfirmation forces every call through the pending-operation
	// queue, regardless of arguments.
	RequiresConfirmation bool `json:"requires_confirmation"`
}

// DefaultAnnotations returns conservative defaults: not read-only, not
// idempotent, no forced confirmation.
func DefaultAnnotations() Annotations {
	return Annotations{}
}
