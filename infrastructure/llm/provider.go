// Package llm normalizes heterogeneous model backends behind a single
// provider interface. Adapters translate conversation history and tool
// schemas into each backend's wire format and map every reply, including
// failures, onto a uniform Reply.
package llm

import (
	"context"
	"time"

	"github.com/dbpilot/dbpilot/domain/chat"
	"github.com/dbpilot/dbpilot/domain/tool"
)

// FinishReason classifies why the model stopped.
type FinishReason string

// Normalized finish reasons. Backend failures never surface as Go errors;
// they become FinishError replies with a user-displayable message.
const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
	FinishError     FinishReason = "error"
)

// Usage reports token consumption when the backend provides it.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Reply is the normalized model response.
type Reply struct {
	FinishReason FinishReason
	Content      string
	ToolCalls    []chat.ToolCall
	Usage        Usage
}

// Provider is a chat-capable model backend.
type Provider interface {
	// Chat sends the conversation and available tools to the model. A
	// non-nil error indicates a programming fault (such as unmarshalable
	// arguments); backend and transport failures are reported through
	// Reply.FinishReason == FinishError.
	Chat(ctx context.Context, messages []chat.Message, tools []tool.Schema) (Reply, error)

	// Name returns the provider type name (for logging and display).
	Name() string

	// Model returns the configured model identifier.
	Model() string
}

// Config holds the connection settings shared by all adapters.
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	Timeout   time.Duration
	MaxTokens int
}

// defaultTimeout applies when Config.Timeout is zero.
const defaultTimeout = 120 * time.Second

// defaultMaxTokens applies when Config.MaxTokens is zero.
const defaultMaxTokens = 4096

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = defaultMaxTokens
	}
}

// TextReply builds a plain stop reply, used by adapters and tests.
func TextReply(content string) Reply {
	return Reply{FinishReason: FinishStop, Content: content}
}

// ToolReply builds a tool-calls reply, used by adapters and tests.
func ToolReply(content string, calls ...chat.ToolCall) Reply {
	return Reply{FinishReason: FinishToolCalls, Content: content, ToolCalls: calls}
}
