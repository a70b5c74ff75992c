// Package application wires the domain together: the orchestrator runs the
// chat loop, gates mutating operations behind confirmation, and streams
// progress events; the session cache keeps orchestrators alive across
// requests.
package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dbpilot/dbpilot/domain/chat"
	"github.com/dbpilot/dbpilot/domain/event"
	"github.com/dbpilot/dbpilot/domain/pending"
	"github.com/dbpilot/dbpilot/domain/tool"
	"github.com/dbpilot/dbpilot/infrastructure/etp"
	"github.com/dbpilot/dbpilot/infrastructure/llm"
	"github.com/dbpilot/dbpilot/infrastructure/logging"
	"github.com/dbpilot/dbpilot/infrastructure/resilience"
	"github.com/dbpilot/dbpilot/infrastructure/statemachine"
)

// Orchestrator errors.
var (
	// ErrNoProvider is returned when constructing an orchestrator without a
	// model provider.
	ErrNoProvider = errors.New("orchestrator requires a provider")
	// ErrNoRegistry is returned when constructing an orchestrator without a
	// tool registry.
	ErrNoRegistry = errors.New("orchestrator requires a tool registry")
	// ErrTurnFailed is returned when the model adapter fails in a way that
	// indicates a programming fault rather than a backend error.
	ErrTurnFailed = errors.New("chat turn failed")
)

// exhaustedMessage is returned when a turn runs out of iterations.
const exhaustedMessage = "I ran out of steps before finishing. Ask me to continue if you want me to keep going."

// Config configures an orchestrator.
type Config struct {
	// SessionID identifies the conversation, used for persistence and logs.
	SessionID int64

	// Provider is the model backend. Required.
	Provider llm.Provider

	// Registry holds the built-in tools. Required.
	Registry tool.Registry

	// Bridge routes namespaced external tool calls. Optional.
	Bridge *etp.Manager

	// Store persists history. Optional; nil keeps history in memory only.
	Store chat.Store

	// Executor runs tools with timeouts and retry. Defaults are applied
	// when nil.
	Executor *resilience.Executor

	// SystemPrompt is prepended to every model request.
	SystemPrompt string

	// MaxIterations bounds model round-trips per turn. Defaults to 30.
	MaxIterations int

	// AutoMaxIterations replaces MaxIterations while auto-approve is on.
	// Defaults to 999.
	AutoMaxIterations int

	// Audit, when set, is called for every executed confirmed operation.
	Audit func(ctx context.Context, op pending.Operation, res tool.Result)
}

// Orchestrator drives the chat loop for one session. A single turn runs at
// a time; the confirmation API and interrupt flag may be used concurrently.
type Orchestrator struct {
	cfg     Config
	pending *pending.Queue

	mu      sync.Mutex // serializes turns and history access
	history []chat.Message

	interrupted atomic.Bool
	autoApprove atomic.Bool
}

// New creates an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Provider == nil {
		return nil, ErrNoProvider
	}
	if cfg.Registry == nil {
		return nil, ErrNoRegistry
	}
	if cfg.Executor == nil {
		cfg.Executor = resilience.NewDefaultExecutor()
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 30
	}
	if cfg.AutoMaxIterations <= 0 {
		cfg.AutoMaxIterations = 999
	}
	return &Orchestrator{
		cfg:     cfg,
		pending: pending.NewQueue(),
	}, nil
}

// SessionID returns the session this orchestrator serves.
func (o *Orchestrator) SessionID() int64 { return o.cfg.SessionID }

// Provider returns the model provider.
func (o *Orchestrator) Provider() llm.Provider { return o.cfg.Provider }

// RequestInterrupt asks the running turn to stop. The flag is honored
// between tool dispatches; the dispatch in flight completes first.
func (o *Orchestrator) RequestInterrupt() {
	o.interrupted.Store(true)
}

// SetAutoApprove toggles auto-approve mode. While on, gated operations
// execute immediately and the iteration budget is raised.
func (o *Orchestrator) SetAutoApprove(on bool) {
	o.autoApprove.Store(on)
}

// AutoApprove reports whether auto-approve mode is on.
func (o *Orchestrator) AutoApprove() bool {
	return o.autoApprove.Load()
}

// ReplayHistory replaces the in-memory history, used when rebuilding a
// session from the store.
func (o *Orchestrator) ReplayHistory(msgs []chat.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.history = make([]chat.Message, len(msgs))
	copy(o.history, msgs)
}

// History returns a copy of the conversation history.
func (o *Orchestrator) History() []chat.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]chat.Message, len(o.history))
	copy(out, o.history)
	return out
}

// AddContext appends a user-role context message (file contents, schema
// notes) without starting a turn.
func (o *Orchestrator) AddContext(ctx context.Context, text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.appendLocked(ctx, chat.User(text), event.NopSink)
}

// Chat processes one user message: the model is called in a loop, tool
// calls are dispatched in order, and gated operations are parked in the
// pending queue. Progress streams through sink. The returned string is the
// assistant's final (or best-effort partial) text.
func (o *Orchestrator) Chat(ctx context.Context, text string, sink event.Sink) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if sink == nil {
		sink = event.NopSink
	}
	o.interrupted.Store(false)
	// Operations left over from an earlier turn are abandoned; their tool
	// messages keep the pending status in history.
	o.pending.Drain()

	machine, err := statemachine.NewInterpreter(o.cfg.SessionID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTurnFailed, err)
	}

	o.appendLocked(ctx, chat.User(text), sink)

	maxIterations := o.cfg.MaxIterations
	if o.autoApprove.Load() {
		maxIterations = o.cfg.AutoMaxIterations
	}

	var lastText string
	for i := 0; i < maxIterations; i++ {
		reply, err := o.cfg.Provider.Chat(ctx, o.requestMessages(), o.toolSchemas())
		if err != nil {
			event.Emit(sink, event.TypeError, event.ErrorPayload{Message: err.Error()})
			return "", fmt.Errorf("%w: %v", ErrTurnFailed, err)
		}

		switch reply.FinishReason {
		case llm.FinishStop:
			o.appendLocked(ctx, chat.Assistant(reply.Content), sink)
			if reply.Content != "" {
				event.Emit(sink, event.TypeTextDelta, event.TextDeltaPayload{Content: reply.Content})
			}
			machine.Signal(statemachine.EventFinish)
			o.emitDone(sink, false)
			return reply.Content, nil

		case llm.FinishError:
			// Backend failures read like assistant text so the user sees
			// them in place, and the turn ends cleanly.
			o.appendLocked(ctx, chat.Assistant(reply.Content), sink)
			event.Emit(sink, event.TypeError, event.ErrorPayload{Message: reply.Content})
			machine.Signal(statemachine.EventFinish)
			o.emitDone(sink, false)
			return reply.Content, nil

		case llm.FinishToolCalls:
			machine.Signal(statemachine.EventModelReplied)
			o.appendLocked(ctx, chat.AssistantCalls(reply.Content, reply.ToolCalls), sink)
			if reply.Content != "" {
				lastText = reply.Content
				event.Emit(sink, event.TypeTextDelta, event.TextDeltaPayload{Content: reply.Content})
			}

			deferred := false
			stopped := -1
			for i, tc := range reply.ToolCalls {
				if o.interrupted.Load() {
					stopped = i
					break
				}
				event.Emit(sink, event.TypeToolCall, event.ToolCallPayload{Name: tc.Name, Args: tc.Arguments})
				res := o.dispatch(ctx, tc)
				if res.Status == tool.StatusPending {
					deferred = true
				}
				o.appendLocked(ctx, chat.ToolResult(tc.ID, res.JSON()), sink)
				event.Emit(sink, event.TypeToolResult, event.ToolResultPayload{
					Name:    tc.Name,
					Status:  string(res.Status),
					Summary: res.Summary(),
				})
			}

			if stopped >= 0 {
				// Every call in the assistant message needs an answering
				// tool message or the backend rejects the replayed history
				// on the next turn.
				for _, tc := range reply.ToolCalls[stopped:] {
					res := tool.Skipped("not executed: turn interrupted by user")
					o.appendLocked(ctx, chat.ToolResult(tc.ID, res.JSON()), sink)
					event.Emit(sink, event.TypeToolResult, event.ToolResultPayload{
						Name:    tc.Name,
						Status:  string(res.Status),
						Summary: res.Summary(),
					})
				}
				machine.Signal(statemachine.EventInterrupt)
				logging.Info().
					Add(logging.SessionID(o.cfg.SessionID)).
					Add(logging.Iteration(machine.Iteration())).
					Msg("turn interrupted")
				o.emitPending(sink)
				o.emitDone(sink, true)
				return lastText, nil
			}

			if deferred {
				machine.Signal(statemachine.EventFinish)
				o.emitPending(sink)
				o.emitDone(sink, false)
				return lastText, nil
			}
			machine.Signal(statemachine.EventDispatchDone)

		default:
			return "", fmt.Errorf("%w: unexpected finish reason %q", ErrTurnFailed, reply.FinishReason)
		}
	}

	logging.Warn().
		Add(logging.SessionID(o.cfg.SessionID)).
		Add(logging.Count(maxIterations)).
		Msg("iteration budget exhausted")
	o.appendLocked(ctx, chat.Assistant(exhaustedMessage), sink)
	event.Emit(sink, event.TypeTextDelta, event.TextDeltaPayload{Content: exhaustedMessage})
	o.emitDone(sink, false)
	return exhaustedMessage, nil
}

// dispatch routes one tool call: bridge tools go to the manager, registry
// tools are gated and executed. Every failure is a structured result.
func (o *Orchestrator) dispatch(ctx context.Context, tc chat.ToolCall) tool.Result {
	if o.cfg.Bridge != nil && o.cfg.Bridge.Owns(tc.Name) {
		return o.cfg.Bridge.CallTool(ctx, tc.Name, tc.Arguments)
	}

	t, ok := o.cfg.Registry.Get(tc.Name)
	if !ok {
		return tool.Errorf("unknown tool: %s", tc.Name)
	}

	if !o.autoApprove.Load() && confirmRequired(t, tc.Arguments) {
		op := pending.Operation{
			Tool:        tc.Name,
			ToolCallID:  tc.ID,
			Args:        tc.Arguments,
			SQL:         sqlArgument(tc.Arguments),
			Description: describeOperation(tc),
		}
		index := o.pending.Add(op)
		logging.Info().
			Add(logging.SessionID(o.cfg.SessionID)).
			Add(logging.ToolName(tc.Name)).
			Add(logging.Count(index)).
			Msg("operation deferred for confirmation")
		return tool.Pending("operation queued for user confirmation at index %d", index)
	}

	return o.cfg.Executor.Execute(ctx, t, tc.Arguments)
}

// confirmRequired checks the static annotation and the per-call gate.
func confirmRequired(t tool.Tool, args map[string]any) bool {
	if t.Annotations().RequiresConfirmation {
		return true
	}
	if g, ok := t.(tool.ConfirmGater); ok {
		return g.ConfirmRequired(args)
	}
	return false
}

// sqlArgument extracts a statement argument for display, if present.
func sqlArgument(args map[string]any) string {
	if s, ok := args["sql"].(string); ok {
		return s
	}
	return ""
}

// describeOperation builds a short human-facing summary of a deferred call.
func describeOperation(tc chat.ToolCall) string {
	if s := sqlArgument(tc.Arguments); s != "" {
		if len(s) > 120 {
			s = s[:120] + "..."
		}
		return fmt.Sprintf("%s: %s", tc.Name, s)
	}
	return tc.Name
}

// requestMessages assembles the provider request: system prompt first, then
// history.
func (o *Orchestrator) requestMessages() []chat.Message {
	msgs := make([]chat.Message, 0, len(o.history)+1)
	if o.cfg.SystemPrompt != "" {
		msgs = append(msgs, chat.System(o.cfg.SystemPrompt))
	}
	msgs = append(msgs, o.history...)
	return msgs
}

// toolSchemas merges registry tools with the bridge's namespaced tools.
func (o *Orchestrator) toolSchemas() []tool.Schema {
	schemas := tool.Schemas(o.cfg.Registry)
	if o.cfg.Bridge != nil {
		schemas = append(schemas, o.cfg.Bridge.Tools()...)
	}
	return schemas
}

// appendLocked records a message in memory and in the store. Persistence
// failures surface as error events but never abort the turn. Caller holds
// o.mu.
func (o *Orchestrator) appendLocked(ctx context.Context, msg chat.Message, sink event.Sink) {
	o.history = append(o.history, msg)
	if o.cfg.Store == nil {
		return
	}
	if err := o.cfg.Store.AppendMessage(ctx, o.cfg.SessionID, msg); err != nil {
		logging.Warn().
			Add(logging.SessionID(o.cfg.SessionID)).
			Add(logging.ErrorField(err)).
			Msg("message persistence failed")
		event.Emit(sink, event.TypeError, event.ErrorPayload{Message: "persistence: " + err.Error()})
	}
}

// emitPending streams one pending event per queued operation.
func (o *Orchestrator) emitPending(sink event.Sink) {
	for _, op := range o.pending.Ops() {
		event.Emit(sink, event.TypePending, event.PendingPayload{
			Index:       op.Index,
			Tool:        op.Tool,
			SQL:         op.SQL,
			Description: op.Description,
		})
	}
}

func (o *Orchestrator) emitDone(sink event.Sink, interrupted bool) {
	n := o.pending.Len()
	event.Emit(sink, event.TypeDone, event.DonePayload{
		HasPending:   n > 0,
		PendingCount: n,
		Interrupted:  interrupted,
	})
}
