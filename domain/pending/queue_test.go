package pending_test

import (
	"errors"
	"testing"

	"github.com/dbpilot/dbpilot/domain/pending"
)

func TestQueueFIFO(t *testing.T) {
	t.Parallel()

	q := pending.NewQueue()
	q.Add(pending.Operation{Tool: "execute_sql", SQL: "UPDATE a SET x=1"})
	q.Add(pending.Operation{Tool: "execute_sql", SQL: "UPDATE b SET x=1"})
	q.Add(pending.Operation{Tool: "create_index", SQL: "CREATE INDEX i ON c (x)"})

	if got := q.Len(); got != 3 {
		t.Fatalf("Len() = %d, want 3", got)
	}

	op, err := q.Take(0)
	if err != nil {
		t.Fatalf("Take(0) error = %v", err)
	}
	if op.SQL != "UPDATE a SET x=1" {
		t.Errorf("Take(0) SQL = %q, want first operation", op.SQL)
	}

	// Remaining operations shift down.
	ops := q.Ops()
	if len(ops) != 2 {
		t.Fatalf("Ops() length = %d, want 2", len(ops))
	}
	if ops[0].SQL != "UPDATE b SET x=1" || ops[0].Index != 0 {
		t.Errorf("ops[0] = %+v, want second operation at index 0", ops[0])
	}
	if ops[1].Index != 1 {
		t.Errorf("ops[1].Index = %d, want 1", ops[1].Index)
	}
}

func TestQueueTakeMiddle(t *testing.T) {
	t.Parallel()

	q := pending.NewQueue()
	q.Add(pending.Operation{Tool: "a"})
	q.Add(pending.Operation{Tool: "b"})
	q.Add(pending.Operation{Tool: "c"})

	op, err := q.Take(1)
	if err != nil {
		t.Fatalf("Take(1) error = %v", err)
	}
	if op.Tool != "b" {
		t.Errorf("Take(1) tool = %q, want b", op.Tool)
	}

	ops := q.Ops()
	if ops[0].Tool != "a" || ops[1].Tool != "c" {
		t.Errorf("remaining = [%s %s], want [a c]", ops[0].Tool, ops[1].Tool)
	}
}

func TestQueueInvalidIndex(t *testing.T) {
	t.Parallel()

	q := pending.NewQueue()
	q.Add(pending.Operation{Tool: "only"})

	for _, index := range []int{-1, 1, 99} {
		if _, err := q.Take(index); !errors.Is(err, pending.ErrInvalidIndex) {
			t.Errorf("Take(%d) error = %v, want ErrInvalidIndex", index, err)
		}
	}
	if got := q.Len(); got != 1 {
		t.Errorf("failed Take must not shrink the queue, Len() = %d", got)
	}
}

func TestQueueDrain(t *testing.T) {
	t.Parallel()

	q := pending.NewQueue()
	q.Add(pending.Operation{Tool: "a"})
	q.Add(pending.Operation{Tool: "b"})

	drained := q.Drain()
	if len(drained) != 2 {
		t.Fatalf("Drain() length = %d, want 2", len(drained))
	}
	if q.Len() != 0 {
		t.Errorf("queue should be empty after Drain, Len() = %d", q.Len())
	}
}
