package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/dbpilot/dbpilot/domain/chat"
)

// ChatStore is an in-memory implementation of chat.Store, used by tests and
// ephemeral CLI sessions.
type ChatStore struct {
	mu       sync.Mutex
	messages map[int64][]chat.Message
}

// NewChatStore creates an empty in-memory chat store.
func NewChatStore() *ChatStore {
	return &ChatStore{messages: make(map[int64][]chat.Message)}
}

// LoadHistory implements chat.Store.
func (s *ChatStore) LoadHistory(_ context.Context, sessionID int64) ([]chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[sessionID]
	out := make([]chat.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// AppendMessage implements chat.Store.
func (s *ChatStore) AppendMessage(_ context.Context, sessionID int64, msg chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[sessionID] = append(s.messages[sessionID], msg)
	return nil
}

// UpdateLastPending implements chat.Store.
func (s *ChatStore) UpdateLastPending(_ context.Context, sessionID int64, toolCallID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[sessionID]

	if toolCallID != "" {
		for i := len(msgs) - 1; i >= 0; i-- {
			if msgs[i].Role == chat.RoleTool && msgs[i].ToolCallID == toolCallID &&
				strings.Contains(msgs[i].Content, "pending_confirmation") {
				msgs[i].Content = content
				return nil
			}
		}
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == chat.RoleTool && strings.Contains(msgs[i].Content, "pending_confirmation") {
			msgs[i].Content = content
			return nil
		}
	}
	return chat.ErrNoPendingMessage
}
