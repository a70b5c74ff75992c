package llm

import (
	"context"
	"sync"

	"github.com/dbpilot/dbpilot/domain/chat"
	"github.com/dbpilot/dbpilot/domain/tool"
)

// ScriptedProvider returns a predefined sequence of replies for
// deterministic testing. It records every request for assertions.
type ScriptedProvider struct {
	mu      sync.Mutex
	replies []Reply
	index   int

	// Requests holds the message history of each Chat call, in order.
	Requests [][]chat.Message

	// Tools holds the schemas of each Chat call, in order.
	Tools [][]tool.Schema
}

// NewScripted creates a scripted provider that returns the given replies in
// order. Calls past the end repeat the last reply, or return an empty stop
// reply when no replies were scripted.
func NewScripted(replies ...Reply) *ScriptedProvider {
	return &ScriptedProvider{replies: replies}
}

// Chat implements Provider.
func (p *ScriptedProvider) Chat(_ context.Context, messages []chat.Message, tools []tool.Schema) (Reply, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	snapshot := make([]chat.Message, len(messages))
	copy(snapshot, messages)
	p.Requests = append(p.Requests, snapshot)
	p.Tools = append(p.Tools, tools)

	if len(p.replies) == 0 {
		return TextReply(""), nil
	}
	if p.index >= len(p.replies) {
		return p.replies[len(p.replies)-1], nil
	}
	reply := p.replies[p.index]
	p.index++
	return reply, nil
}

// Name implements Provider.
func (p *ScriptedProvider) Name() string { return "scripted" }

// Model implements Provider.
func (p *ScriptedProvider) Model() string { return "scripted-v1" }

// Calls returns the number of Chat invocations so far.
func (p *ScriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Requests)
}
