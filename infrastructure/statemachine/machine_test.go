package statemachine_test

import (
	"testing"

	"github.com/dbpilot/dbpilot/infrastructure/statemachine"
)

func TestTurnWalk(t *testing.T) {
	t.Parallel()

	interp, err := statemachine.NewInterpreter(7)
	if err != nil {
		t.Fatalf("NewInterpreter() error = %v", err)
	}
	if got := interp.State(); got != statemachine.StateAwaitingModel {
		t.Fatalf("initial state = %q", got)
	}

	interp.Signal(statemachine.EventModelReplied)
	if got := interp.State(); got != statemachine.StateDispatchingTools {
		t.Fatalf("after MODEL_REPLIED state = %q", got)
	}

	interp.Signal(statemachine.EventDispatchDone)
	if got := interp.State(); got != statemachine.StateAwaitingModel {
		t.Fatalf("after DISPATCH_DONE state = %q", got)
	}

	interp.Signal(statemachine.EventFinish)
	if got := interp.State(); got != statemachine.StateDone {
		t.Fatalf("after FINISH state = %q", got)
	}
	if !interp.IsTerminal() {
		t.Error("done state should be terminal")
	}
}

func TestTurnIterationCount(t *testing.T) {
	t.Parallel()

	interp, err := statemachine.NewInterpreter(1)
	if err != nil {
		t.Fatalf("NewInterpreter() error = %v", err)
	}
	if interp.Iteration() != 0 {
		t.Fatalf("fresh turn iteration = %d", interp.Iteration())
	}

	for i := 1; i <= 3; i++ {
		interp.Signal(statemachine.EventModelReplied)
		if interp.Iteration() != i {
			t.Fatalf("round %d: iteration = %d", i, interp.Iteration())
		}
		interp.Signal(statemachine.EventDispatchDone)
	}
}

func TestTurnInterrupt(t *testing.T) {
	t.Parallel()

	interp, err := statemachine.NewInterpreter(1)
	if err != nil {
		t.Fatalf("NewInterpreter() error = %v", err)
	}

	interp.Signal(statemachine.EventModelReplied)
	interp.Signal(statemachine.EventInterrupt)
	if got := interp.State(); got != statemachine.StateInterrupted {
		t.Fatalf("state = %q, want interrupted", got)
	}
	if !interp.IsTerminal() {
		t.Error("interrupted state should be terminal")
	}

	// Terminal machines ignore further events.
	interp.Signal(statemachine.EventModelReplied)
	if got := interp.State(); got != statemachine.StateInterrupted {
		t.Errorf("terminal state moved to %q", got)
	}
}
