package llm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dbpilot/dbpilot/domain/chat"
	"github.com/dbpilot/dbpilot/infrastructure/llm"
)

func TestAnthropicMessageConversion(t *testing.T) {
	t.Parallel()

	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("anthropic-version"); got == "" {
			t.Error("missing anthropic-version header")
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"content":     []map[string]any{{"type": "text", "text": "done"}},
			"stop_reason": "end_turn",
			"usage":       map[string]any{"input_tokens": 1, "output_tokens": 2},
		})
	}))
	defer srv.Close()

	history := []chat.Message{
		chat.System("you are a database assistant"),
		chat.User("count the users"),
		chat.AssistantCalls("", []chat.ToolCall{{ID: "tc1", Name: "execute_safe_query", Arguments: map[string]any{"sql": "SELECT COUNT(*) FROM users"}}}),
		chat.ToolResult("tc1", `{"status":"success","data":[{"count":42}]}`),
	}

	p := llm.NewAnthropic(llm.Config{BaseURL: srv.URL, Model: "m", APIKey: "k"})
	reply, err := p.Chat(context.Background(), history, nil)
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if reply.FinishReason != llm.FinishStop || reply.Content != "done" {
		t.Errorf("reply = %+v", reply)
	}

	// System text moves to the top-level field.
	if captured["system"] != "you are a database assistant" {
		t.Errorf("system = %v", captured["system"])
	}
	msgs := captured["messages"].([]any)
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want user, assistant, tool_result user", len(msgs))
	}
	last := msgs[2].(map[string]any)
	if last["role"] != "user" {
		t.Errorf("tool results must travel as user messages, got role %v", last["role"])
	}
	block := last["content"].([]any)[0].(map[string]any)
	if block["type"] != "tool_result" || block["tool_use_id"] != "tc1" {
		t.Errorf("tool result block = %v", block)
	}
}

func TestAnthropicToolUse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": "let me check"},
				{"type": "tool_use", "id": "tu1", "name": "list_tables", "input": map[string]any{}},
			},
			"stop_reason": "tool_use",
		})
	}))
	defer srv.Close()

	p := llm.NewAnthropic(llm.Config{BaseURL: srv.URL, Model: "m", APIKey: "k"})
	reply, err := p.Chat(context.Background(), []chat.Message{chat.User("hi")}, nil)
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if reply.FinishReason != llm.FinishToolCalls {
		t.Fatalf("FinishReason = %q", reply.FinishReason)
	}
	if len(reply.ToolCalls) != 1 || reply.ToolCalls[0].ID != "tu1" {
		t.Errorf("tool calls = %+v", reply.ToolCalls)
	}
	if reply.Content != "let me check" {
		t.Errorf("content = %q", reply.Content)
	}
}
