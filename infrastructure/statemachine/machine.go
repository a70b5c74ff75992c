// Package statemachine provides the statekit turn machine for the chat
// loop: the orchestrator alternates between waiting on the model and
// dispatching tool calls until the turn finishes or is interrupted.
package statemachine

import (
	"fmt"

	"github.com/felixgeelhaar/statekit"
)

// Turn states.
const (
	StateAwaitingModel    statekit.StateID = "awaiting_model"
	StateDispatchingTools statekit.StateID = "dispatching_tools"
	StateDone             statekit.StateID = "done"
	StateInterrupted      statekit.StateID = "interrupted"
)

// Turn events.
const (
	EventModelReplied statekit.EventType = "MODEL_REPLIED"
	EventDispatchDone statekit.EventType = "DISPATCH_DONE"
	EventFinish       statekit.EventType = "FINISH"
	EventInterrupt    statekit.EventType = "INTERRUPT"
)

// Turn carries the state of one user request through the machine.
type Turn struct {
	SessionID int64
	Iteration int
}

// NewTurnMachine creates the canonical turn statechart.
func NewTurnMachine() (*statekit.MachineConfig[*Turn], error) {
	return statekit.NewMachine[*Turn]("chat-turn").
		WithInitial(StateAwaitingModel).
		WithContext(&Turn{}).
		WithAction("countIteration", countIteration).
		State(StateAwaitingModel).
			On(EventModelReplied).Target(StateDispatchingTools).
			On(EventFinish).Target(StateDone).
			On(EventInterrupt).Target(StateInterrupted).
			Done().
		State(StateDispatchingTools).
			OnEntry("countIteration").
			On(EventDispatchDone).Target(StateAwaitingModel).
			On(EventFinish).Target(StateDone).
			On(EventInterrupt).Target(StateInterrupted).
			Done().
		State(StateDone).
			Final().
			Done().
		State(StateInterrupted).
			Final().
			Done().
		Build()
}

// countIteration increments the dispatch round counter.
// In statekit, actions receive a pointer to the context. Since our context
// is *Turn, actions receive **Turn.
func countIteration(ctx **Turn, _ statekit.Event) {
	if ctx == nil || *ctx == nil {
		return
	}
	(*ctx).Iteration++
}

// Interpreter wraps the statekit interpreter with a turn-specific facade.
type Interpreter struct {
	interp *statekit.Interpreter[*Turn]
	turn   *Turn
}

// NewInterpreter creates and starts an interpreter for a fresh turn.
func NewInterpreter(sessionID int64) (*Interpreter, error) {
	machine, err := NewTurnMachine()
	if err != nil {
		return nil, fmt.Errorf("build turn machine: %w", err)
	}
	turn := &Turn{SessionID: sessionID}
	interp := statekit.NewInterpreter(machine)
	interp.UpdateContext(func(c **Turn) {
		*c = turn
	})
	interp.Start()
	return &Interpreter{interp: interp, turn: turn}, nil
}

// Signal sends a turn event.
func (i *Interpreter) Signal(eventType statekit.EventType) {
	i.interp.Send(statekit.Event{Type: eventType})
}

// State returns the current state.
func (i *Interpreter) State() statekit.StateID {
	return statekit.StateID(i.interp.State().Value)
}

// IsTerminal reports whether the machine reached a final state.
func (i *Interpreter) IsTerminal() bool {
	return i.interp.Done()
}

// Iteration returns the dispatch round count.
func (i *Interpreter) Iteration() int {
	return i.turn.Iteration
}
