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

const anthropicVersion = "2023-06-01"

// AnthropicProvider speaks the Anthropic messages wire format. System
// messages move to the top-level system field, tool results become
// tool_result blocks inside user messages, and stop_reason maps onto the
// normalized finish reasons.
type AnthropicProvider struct {
	config Config
	client *http.Client
}

// NewAnthropic creates an Anthropic adapter.
func NewAnthropic(config Config) *AnthropicProvider {
	config.applyDefaults()
	if config.BaseURL == "" {
		config.BaseURL = "https://api.anthropic.com"
	}
	return &AnthropicProvider{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

// Name returns the provider type name.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Model returns the configured model.
func (p *AnthropicProvider) Model() string { return p.config.Model }

// Anthropic wire types.

type anBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type anMessage struct {
	Role    string    `json:"role"`
	Content []anBlock `json:"content"`
}

type anTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anRequest struct {
	Model     string      `json:"model"`
	MaxTokens int         `json:"max_tokens"`
	System    string      `json:"system,omitempty"`
	Messages  []anMessage `json:"messages"`
	Tools     []anTool    `json:"tools,omitempty"`
}

type anResponse struct {
	Content    []anBlock `json:"content"`
	StopReason string    `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Chat implements Provider.
func (p *AnthropicProvider) Chat(ctx context.Context, messages []chat.Message, tools []tool.Schema) (Reply, error) {
	req := anRequest{
		Model:     p.config.Model,
		MaxTokens: p.config.MaxTokens,
	}
	var err error
	req.System, req.Messages, err = toAnthropicMessages(messages)
	if err != nil {
		return Reply{}, err
	}
	for _, t := range tools {
		params := t.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		req.Tools = append(req.Tools, anTool{Name: t.Name, Description: t.Description, InputSchema: params})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Reply{}, fmt.Errorf("encode request: %w", err)
	}

	url := strings.TrimRight(p.config.BaseURL, "/") + "/v1/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Reply{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.config.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		logging.Warn().
			Add(logging.Provider(p.Name())).
			Add(logging.ErrorField(err)).
			Msg("model request failed")
		return errorReply(p.Name(), err), nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errorReply(p.Name(), err), nil
	}
	if resp.StatusCode != http.StatusOK {
		return statusReply(p.Name(), resp.StatusCode, apiErrorDetail(raw)), nil
	}

	var out anResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return statusReply(p.Name(), resp.StatusCode, "malformed response body"), nil
	}

	reply := Reply{
		Usage: Usage{
			PromptTokens:     out.Usage.InputTokens,
			CompletionTokens: out.Usage.OutputTokens,
		},
	}
	var text []string
	for _, block := range out.Content {
		switch block.Type {
		case "text":
			text = append(text, block.Text)
		case "tool_use":
			args := map[string]any{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &args); err != nil {
					return statusReply(p.Name(), resp.StatusCode, fmt.Sprintf("tool call %s has malformed input", block.Name)), nil
				}
			}
			reply.ToolCalls = append(reply.ToolCalls, chat.ToolCall{ID: block.ID, Name: block.Name, Arguments: args})
		}
	}
	reply.Content = strings.Join(text, "\n")
	if len(reply.ToolCalls) > 0 || out.StopReason == "tool_use" {
		reply.FinishReason = FinishToolCalls
	} else {
		reply.FinishReason = FinishStop
	}
	return reply, nil
}

// toAnthropicMessages converts a conversation to the Anthropic shape: system
// text extracted, assistant tool calls as tool_use blocks, and runs of tool
// messages merged into a single user message of tool_result blocks.
func toAnthropicMessages(messages []chat.Message) (string, []anMessage, error) {
	var system []string
	var out []anMessage

	flushResults := func(results []anBlock) {
		if len(results) > 0 {
			out = append(out, anMessage{Role: "user", Content: results})
		}
	}

	var results []anBlock
	for _, m := range messages {
		if m.Role == chat.RoleTool {
			results = append(results, anBlock{
				Type:      "tool_result",
				ToolUseID: m.ToolCallID,
				Content:   m.Content,
			})
			continue
		}
		flushResults(results)
		results = nil

		switch m.Role {
		case chat.RoleSystem:
			system = append(system, m.Content)
		case chat.RoleUser:
			out = append(out, anMessage{Role: "user", Content: []anBlock{{Type: "text", Text: m.Content}}})
		case chat.RoleAssistant:
			var blocks []anBlock
			if m.Content != "" {
				blocks = append(blocks, anBlock{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				input, err := json.Marshal(tc.Arguments)
				if err != nil {
					return "", nil, fmt.Errorf("encode tool call %s: %w", tc.Name, err)
				}
				blocks = append(blocks, anBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: input})
			}
			if len(blocks) == 0 {
				blocks = []anBlock{{Type: "text", Text: ""}}
			}
			out = append(out, anMessage{Role: "assistant", Content: blocks})
		}
	}
	flushResults(results)

	return strings.Join(system, "\n\n"), out, nil
}
