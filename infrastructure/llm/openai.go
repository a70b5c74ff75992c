package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dbpilot/dbpilot/domain/chat"
	"github.com/dbpilot/dbpilot/domain/tool"
	"github.com/dbpilot/dbpilot/infrastructure/logging"
)

// OpenAIProvider speaks the OpenAI chat completions wire format. It also
// serves the OpenAI-compatible backends (DeepSeek, Qwen, Ollama) which
// differ only in base URL and defaults.
type OpenAIProvider struct {
	name   string
	config Config
	client *http.Client
}

// NewOpenAI creates an adapter for an OpenAI-compatible backend. The name
// identifies the concrete provider in logs and error messages.
func NewOpenAI(name string, config Config) *OpenAIProvider {
	config.applyDefaults()
	if config.BaseURL == "" {
		config.BaseURL = "https://api.openai.com/v1"
	}
	return &OpenAIProvider{
		name:   name,
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

// Name returns the provider type name.
func (p *OpenAIProvider) Name() string { return p.name }

// Model returns the configured model.
func (p *OpenAIProvider) Model() string { return p.config.Model }

// OpenAI-compatible wire types.

type oaMessage struct {
	Role       string       `json:"role"`
	Content    string       `json:"content"`
	ToolCalls  []oaToolCall `json:"tool_calls,omitempty"`
	ToolCallID string       `json:"tool_call_id,omitempty"`
}

type oaToolCall struct {
	ID       string     `json:"id"`
	Type     string     `json:"type"`
	Function oaFunction `json:"function"`
}

type oaFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type oaTool struct {
	Type     string     `json:"type"`
	Function oaToolSpec `json:"function"`
}

type oaToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type oaRequest struct {
	Model     string      `json:"model"`
	Messages  []oaMessage `json:"messages"`
	Tools     []oaTool    `json:"tools,omitempty"`
	MaxTokens int         `json:"max_tokens,omitempty"`
}

type oaResponse struct {
	Choices []struct {
		FinishReason string    `json:"finish_reason"`
		Message      oaMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Chat implements Provider.
func (p *OpenAIProvider) Chat(ctx context.Context, messages []chat.Message, tools []tool.Schema) (Reply, error) {
	req := oaRequest{
		Model:     p.config.Model,
		Messages:  make([]oaMessage, 0, len(messages)),
		MaxTokens: p.config.MaxTokens,
	}
	for _, m := range messages {
		wire, err := toOAMessage(m)
		if err != nil {
			return Reply{}, err
		}
		req.Messages = append(req.Messages, wire)
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, oaTool{
			Type:     "function",
			Function: oaToolSpec{Name: t.Name, Description: t.Description, Parameters: t.Parameters},
		})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Reply{}, fmt.Errorf("encode request: %w", err)
	}

	url := strings.TrimRight(p.config.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Reply{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		logging.Warn().
			Add(logging.Provider(p.name)).
			Add(logging.ErrorField(err)).
			Msg("model request failed")
		return errorReply(p.name, err), nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errorReply(p.name, err), nil
	}
	if resp.StatusCode != http.StatusOK {
		logging.Warn().
			Add(logging.Provider(p.name)).
			Add(logging.Str("http_status", resp.Status)).
			Msg("model request rejected")
		return statusReply(p.name, resp.StatusCode, apiErrorDetail(raw)), nil
	}

	var out oaResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return statusReply(p.name, resp.StatusCode, "malformed response body"), nil
	}
	if len(out.Choices) == 0 {
		return statusReply(p.name, resp.StatusCode, "response contained no choices"), nil
	}

	choice := out.Choices[0]
	reply := Reply{
		Content: choice.Message.Content,
		Usage: Usage{
			PromptTokens:     out.Usage.PromptTokens,
			CompletionTokens: out.Usage.CompletionTokens,
		},
	}
	// Some backends report finish_reason "stop" while still attaching tool
	// calls. The presence of calls wins.
	if len(choice.Message.ToolCalls) > 0 {
		reply.FinishReason = FinishToolCalls
		for _, tc := range choice.Message.ToolCalls {
			call, err := fromOAToolCall(tc)
			if err != nil {
				return statusReply(p.name, resp.StatusCode, err.Error()), nil
			}
			reply.ToolCalls = append(reply.ToolCalls, call)
		}
	} else {
		reply.FinishReason = FinishStop
	}
	return reply, nil
}

func toOAMessage(m chat.Message) (oaMessage, error) {
	wire := oaMessage{
		Role:       string(m.Role),
		Content:    m.Content,
		ToolCallID: m.ToolCallID,
	}
	for _, tc := range m.ToolCalls {
		args, err := json.Marshal(tc.Arguments)
		if err != nil {
			return oaMessage{}, fmt.Errorf("encode tool call %s: %w", tc.Name, err)
		}
		wire.ToolCalls = append(wire.ToolCalls, oaToolCall{
			ID:       tc.ID,
			Type:     "function",
			Function: oaFunction{Name: tc.Name, Arguments: string(args)},
		})
	}
	return wire, nil
}

func fromOAToolCall(tc oaToolCall) (chat.ToolCall, error) {
	args := map[string]any{}
	if tc.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			return chat.ToolCall{}, fmt.Errorf("tool call %s has malformed arguments", tc.Function.Name)
		}
	}
	return chat.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args}, nil
}

// apiErrorDetail extracts the error message from an API error body, falling
// back to the raw body prefix.
func apiErrorDetail(raw []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
