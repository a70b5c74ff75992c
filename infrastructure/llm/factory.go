package llm

import (
	"errors"
	"fmt"

	"github.com/dbpilot/dbpilot/domain/config"
)

// ErrUnknownProviderType is returned by New for unrecognized provider types.
var ErrUnknownProviderType = errors.New("unknown provider type")

// providerDefaults holds the per-type base URL and model used when the
// descriptor leaves them empty.
type providerDefaults struct {
	baseURL string
	model   string
}

var defaults = map[string]providerDefaults{
	"openai":    {baseURL: "https://api.openai.com/v1", model: "gpt-4o"},
	"deepseek":  {baseURL: "https://api.deepseek.com/v1", model: "deepseek-chat"},
	"qwen":      {baseURL: "https://dashscope.aliyuncs.com/compatible-mode/v1", model: "qwen-plus"},
	"ollama":    {baseURL: "http://localhost:11434/v1", model: "llama3.1"},
	"anthropic": {baseURL: "https://api.anthropic.com", model: "claude-sonnet-4-20250514"},
	"gemini":    {baseURL: "https://generativelanguage.googleapis.com/v1beta", model: "gemini-2.0-flash"},
}

// SupportedTypes lists the provider types the factory can build.
func SupportedTypes() []string {
	return []string{"openai", "deepseek", "qwen", "ollama", "anthropic", "gemini"}
}

// New builds a provider from a descriptor, filling in per-type defaults for
// base URL and model.
func New(desc config.ProviderDescriptor) (Provider, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	d, ok := defaults[desc.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProviderType, desc.Type)
	}

	cfg := Config{
		APIKey:  desc.APIKey,
		BaseURL: desc.BaseURL,
		Model:   desc.Model,
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = d.baseURL
	}
	if cfg.Model == "" {
		cfg.Model = d.model
	}

	switch desc.Type {
	case "anthropic":
		return NewAnthropic(cfg), nil
	case "gemini":
		return NewGemini(cfg), nil
	default:
		return NewOpenAI(desc.Type, cfg), nil
	}
}
