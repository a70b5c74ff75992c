package application

import (
	"context"

	"github.com/dbpilot/dbpilot/domain/chat"
	"github.com/dbpilot/dbpilot/domain/pending"
	"github.com/dbpilot/dbpilot/domain/tool"
	"github.com/dbpilot/dbpilot/infrastructure/logging"
)

// PendingOperations returns a snapshot of the queued operations.
func (o *Orchestrator) PendingOperations() []pending.Operation {
	return o.pending.Ops()
}

// Confirm executes the pending operation at index. Remaining operations
// shift down, so confirming everything one by one always uses index 0. The
// matching pending tool message in history is rewritten with the real
// outcome.
func (o *Orchestrator) Confirm(ctx context.Context, index int) (tool.Result, error) {
	op, err := o.pending.Take(index)
	if err != nil {
		return tool.Result{}, err
	}

	res := o.execute(ctx, op)

	o.mu.Lock()
	o.backfillLocked(ctx, op.ToolCallID, res)
	o.mu.Unlock()

	if o.cfg.Audit != nil {
		o.cfg.Audit(ctx, op, res)
	}
	logging.Info().
		Add(logging.SessionID(o.cfg.SessionID)).
		Add(logging.ToolName(op.Tool)).
		Add(logging.Status(string(res.Status))).
		Msg("pending operation confirmed")
	return res, nil
}

// ConfirmAll executes every queued operation in FIFO order by repeatedly
// confirming index 0. Execution continues past failures; each operation's
// result is returned in order.
func (o *Orchestrator) ConfirmAll(ctx context.Context) []tool.Result {
	var out []tool.Result
	for o.pending.Len() > 0 {
		res, err := o.Confirm(ctx, 0)
		if err != nil {
			// Queue raced empty; nothing left to do.
			break
		}
		out = append(out, res)
	}
	return out
}

// ClearPending discards every queued operation without executing it. Each
// matching tool message in history is back-filled with a skipped result so
// the model knows the operations never ran.
func (o *Orchestrator) ClearPending(ctx context.Context) int {
	ops := o.pending.Drain()

	o.mu.Lock()
	for _, op := range ops {
		res := tool.Skipped("operation skipped by user: %s", op.Description)
		o.backfillLocked(ctx, op.ToolCallID, res)
	}
	o.mu.Unlock()

	if len(ops) > 0 {
		logging.Info().
			Add(logging.SessionID(o.cfg.SessionID)).
			Add(logging.Count(len(ops))).
			Msg("pending operations cleared")
	}
	return len(ops)
}

// execute runs a confirmed operation directly, bypassing the gate.
func (o *Orchestrator) execute(ctx context.Context, op pending.Operation) tool.Result {
	if o.cfg.Bridge != nil && o.cfg.Bridge.Owns(op.Tool) {
		return o.cfg.Bridge.CallTool(ctx, op.Tool, op.Args)
	}
	t, ok := o.cfg.Registry.Get(op.Tool)
	if !ok {
		return tool.Errorf("unknown tool: %s", op.Tool)
	}
	return o.cfg.Executor.Execute(ctx, t, op.Args)
}

// backfillLocked rewrites the pending tool message for the operation with
// its final result, in memory and in the store. When no pending tool
// message remains (history was truncated or replayed), a user-context
// message is appended instead so the model still learns the outcome.
// Caller holds o.mu.
func (o *Orchestrator) backfillLocked(ctx context.Context, toolCallID string, res tool.Result) {
	content := res.JSON()

	updated := false
	for i := len(o.history) - 1; i >= 0; i-- {
		msg := &o.history[i]
		if msg.Role != chat.RoleTool {
			continue
		}
		if toolCallID != "" && msg.ToolCallID != toolCallID {
			continue
		}
		if tool.ParseResult(msg.Content).Status != tool.StatusPending {
			continue
		}
		msg.Content = content
		updated = true
		break
	}

	if !updated {
		fallback := chat.User("[Operation result] " + res.Summary())
		o.history = append(o.history, fallback)
		if o.cfg.Store != nil {
			if err := o.cfg.Store.AppendMessage(ctx, o.cfg.SessionID, fallback); err != nil {
				logging.Warn().
					Add(logging.SessionID(o.cfg.SessionID)).
					Add(logging.ErrorField(err)).
					Msg("result fallback persistence failed")
			}
		}
		return
	}

	if o.cfg.Store != nil {
		if err := o.cfg.Store.UpdateLastPending(ctx, o.cfg.SessionID, toolCallID, content); err != nil {
			logging.Warn().
				Add(logging.SessionID(o.cfg.SessionID)).
				Add(logging.ErrorField(err)).
				Msg("pending back-fill persistence failed")
		}
	}
}
