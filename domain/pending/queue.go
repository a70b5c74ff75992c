// Package pending implements the FIFO queue of operations awaiting user
// confirmation.
package pending

import (
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidIndex is returned when a confirmation index is out of range.
var ErrInvalidIndex = errors.New("invalid pending operation index")

// Operation is a deferred tool call waiting for explicit approval.
type Operation struct {
	// Index is the position in the queue at snapshot time. Indices shift
	// down when earlier operations are confirmed or cleared.
	Index int `json:"index"`

	// Tool is the registry name of the gated tool.
	Tool string `json:"tool"`

	// ToolCallID links back to the pending tool message in history.
	ToolCallID string `json:"tool_call_id"`

	// Args are the original call arguments, executed verbatim on approval.
	Args map[string]any `json:"args"`

	// SQL is the statement text when the operation carries one, for display.
	SQL string `json:"sql,omitempty"`

	// Description is a short human-facing summary of the operation.
	Description string `json:"description"`
}

// Queue is a FIFO of pending operations. Safe for concurrent use.
type Queue struct {
	mu  sync.Mutex
	ops []Operation
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Add appends an operation and returns its index.
func (q *Queue) Add(op Operation) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	op.Index = len(q.ops)
	q.ops = append(q.ops, op)
	return op.Index
}

// Len returns the number of queued operations.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// Ops returns a snapshot of the queue with indices reflecting current
// positions.
func (q *Queue) Ops() []Operation {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Operation, len(q.ops))
	copy(out, q.ops)
	for i := range out {
		out[i].Index = i
	}
	return out
}

// Take removes and returns the operation at index. Remaining operations
// shift down.
func (q *Queue) Take(index int) (Operation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if index < 0 || index >= len(q.ops) {
		return Operation{}, fmt.Errorf("%w: %d (queue length %d)", ErrInvalidIndex, index, len(q.ops))
	}
	op := q.ops[index]
	q.ops = append(q.ops[:index], q.ops[index+1:]...)
	op.Index = index
	return op, nil
}

// Drain removes and returns all queued operations in order.
func (q *Queue) Drain() []Operation {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.ops
	q.ops = nil
	for i := range out {
		out[i].Index = i
	}
	return out
}
