package chat

import (
	"context"
	"errors"
)

// Store errors.
var (
	// ErrNoPendingMessage is returned by UpdateLastPending when no tool
	// message in the session is awaiting confirmation.
	ErrNoPendingMessage = errors.New("no pending tool message")
)

// Store persists conversation history for a session.
type Store interface {
	// LoadHistory returns all messages of a session in insertion order.
	LoadHistory(ctx context.Context, sessionID int64) ([]Message, error)

	// AppendMessage appends a message to a session.
	AppendMessage(ctx context.Context, sessionID int64, msg Message) error

	// UpdateLastPending rewrites the content of the most recent tool message
	// whose content encodes a pending confirmation, optionally matching a
	// specific tool call ID. Returns ErrNoPendingMessage when none exists.
	UpdateLastPending(ctx context.Context, sessionID int64, toolCallID, content string) error
}
