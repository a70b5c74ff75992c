package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/dbpilot/dbpilot/domain/chat"
	"github.com/dbpilot/dbpilot/domain/tool"
	"github.com/dbpilot/dbpilot/infrastructure/logging"
)

// GeminiProvider speaks the Gemini generateContent wire format. System
// messages move to systemInstruction, tool results become functionResponse
// parts, and tool calls get synthesized IDs since the backend has none.
type GeminiProvider struct {
	config Config
	client *http.Client
}

// NewGemini creates a Gemini adapter.
func NewGemini(config Config) *GeminiProvider {
	config.applyDefaults()
	if config.BaseURL == "" {
		config.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	return &GeminiProvider{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

// Name returns the provider type name.
func (p *GeminiProvider) Name() string { return "gemini" }

// Model returns the configured model.
func (p *GeminiProvider) Model() string { return p.config.Model }

// Gemini wire types.

type gmPart struct {
	Text             string              `json:"text,omitempty"`
	FunctionCall     *gmFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *gmFunctionResponse `json:"functionResponse,omitempty"`
}

type gmFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type gmFunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type gmContent struct {
	Role  string   `json:"role,omitempty"`
	Parts []gmPart `json:"parts"`
}

type gmDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type gmRequest struct {
	SystemInstruction *gmContent  `json:"systemInstruction,omitempty"`
	Contents          []gmContent `json:"contents"`
	Tools             []struct {
		FunctionDeclarations []gmDeclaration `json:"functionDeclarations"`
	} `json:"tools,omitempty"`
}

type gmResponse struct {
	Candidates []struct {
		Content      gmContent `json:"content"`
		FinishReason string    `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

// Chat implements Provider.
func (p *GeminiProvider) Chat(ctx context.Context, messages []chat.Message, tools []tool.Schema) (Reply, error) {
	req := gmRequest{}
	system, contents := toGeminiContents(messages)
	if system != "" {
		req.SystemInstruction = &gmContent{Parts: []gmPart{{Text: system}}}
	}
	req.Contents = contents
	if len(tools) > 0 {
		decls := make([]gmDeclaration, 0, len(tools))
		for _, t := range tools {
			decls = append(decls, gmDeclaration{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
		}
		req.Tools = []struct {
			FunctionDeclarations []gmDeclaration `json:"functionDeclarations"`
		}{{FunctionDeclarations: decls}}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Reply{}, fmt.Errorf("encode request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		strings.TrimRight(p.config.BaseURL, "/"), p.config.Model, p.config.APIKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Reply{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

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

	var out gmResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return statusReply(p.Name(), resp.StatusCode, "malformed response body"), nil
	}
	if len(out.Candidates) == 0 {
		return statusReply(p.Name(), resp.StatusCode, "response contained no candidates"), nil
	}

	reply := Reply{
		Usage: Usage{
			PromptTokens:     out.UsageMetadata.PromptTokenCount,
			CompletionTokens: out.UsageMetadata.CandidatesTokenCount,
		},
	}
	var text []string
	for _, part := range out.Candidates[0].Content.Parts {
		if part.FunctionCall != nil {
			reply.ToolCalls = append(reply.ToolCalls, chat.ToolCall{
				ID:        "call_" + uuid.NewString(),
				Name:      part.FunctionCall.Name,
				Arguments: part.FunctionCall.Args,
			})
			continue
		}
		if part.Text != "" {
			text = append(text, part.Text)
		}
	}
	reply.Content = strings.Join(text, "\n")
	if len(reply.ToolCalls) > 0 {
		reply.FinishReason = FinishToolCalls
	} else {
		reply.FinishReason = FinishStop
	}
	return reply, nil
}

// toGeminiContents converts a conversation to the Gemini shape. Tool results
// are matched back to their call names via the assistant messages that
// requested them; a tool message with no matching call degrades to a user
// text part so the history stays well-formed.
func toGeminiContents(messages []chat.Message) (string, []gmContent) {
	callNames := make(map[string]string)
	for _, m := range messages {
		for _, tc := range m.ToolCalls {
			callNames[tc.ID] = tc.Name
		}
	}

	var system []string
	var out []gmContent
	for _, m := range messages {
		switch m.Role {
		case chat.RoleSystem:
			system = append(system, m.Content)
		case chat.RoleUser:
			out = append(out, gmContent{Role: "user", Parts: []gmPart{{Text: m.Content}}})
		case chat.RoleAssistant:
			var parts []gmPart
			if m.Content != "" {
				parts = append(parts, gmPart{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				parts = append(parts, gmPart{FunctionCall: &gmFunctionCall{Name: tc.Name, Args: tc.Arguments}})
			}
			if len(parts) == 0 {
				parts = []gmPart{{Text: ""}}
			}
			out = append(out, gmContent{Role: "model", Parts: parts})
		case chat.RoleTool:
			name, ok := callNames[m.ToolCallID]
			if !ok {
				out = append(out, gmContent{Role: "user", Parts: []gmPart{{Text: "[Tool result] " + m.Content}}})
				continue
			}
			out = append(out, gmContent{Role: "user", Parts: []gmPart{{
				FunctionResponse: &gmFunctionResponse{
					Name:     name,
					Response: map[string]any{"content": m.Content},
				},
			}}})
		}
	}
	return strings.Join(system, "\n\n"), out
}
