package llm_test

import (
	"errors"
	"testing"

	"github.com/dbpilot/dbpilot/domain/config"
	"github.com/dbpilot/dbpilot/infrastructure/llm"
)

func TestFactoryDefaults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		typ       string
		wantModel string
	}{
		{"openai", "gpt-4o"},
		{"deepseek", "deepseek-chat"},
		{"qwen", "qwen-plus"},
		{"ollama", "llama3.1"},
		{"anthropic", "claude-sonnet-4-20250514"},
		{"gemini", "gemini-2.0-flash"},
	}

	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			t.Parallel()
			p, err := llm.New(config.ProviderDescriptor{Type: tt.typ, APIKey: "k"})
			if err != nil {
				t.Fatalf("New(%s) error = %v", tt.typ, err)
			}
			if p.Model() != tt.wantModel {
				t.Errorf("Model() = %q, want %q", p.Model(), tt.wantModel)
			}
		})
	}
}

func TestFactoryOverrides(t *testing.T) {
	t.Parallel()

	p, err := llm.New(config.ProviderDescriptor{Type: "openai", Model: "gpt-custom"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if p.Model() != "gpt-custom" {
		t.Errorf("Model() = %q", p.Model())
	}
}

func TestFactoryRejects(t *testing.T) {
	t.Parallel()

	if _, err := llm.New(config.ProviderDescriptor{Type: "watson"}); !errors.Is(err, llm.ErrUnknownProviderType) {
		t.Errorf("error = %v, want ErrUnknownProviderType", err)
	}
	if _, err := llm.New(config.ProviderDescriptor{}); !errors.Is(err, config.ErrNoProvider) {
		t.Errorf("error = %v, want ErrNoProvider", err)
	}
}
