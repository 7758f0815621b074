package client

import (
	"context"

	"github.com/fpt/klein-dm/internal/config"
	"github.com/fpt/klein-dm/pkg/agent/domain"
	"github.com/fpt/klein-dm/pkg/client/anthropic"
	"github.com/fpt/klein-dm/pkg/client/gemini"
	"github.com/fpt/klein-dm/pkg/client/ollama"
	"github.com/fpt/klein-dm/pkg/client/openai"
	"github.com/pkg/errors"
)

// Backends lists the supported backend names in menu order
var Backends = []string{"ollama", "anthropic", "openai", "gemini"}

// NewStructuredLLM creates a structured LLM client based on settings
func NewStructuredLLM(ctx context.Context, settings config.LLMSettings) (domain.StructuredLLM, error) {
	switch settings.Backend {
	case "anthropic", "claude":
		return anthropic.NewClient(settings.Model, settings.MaxTokens)
	case "openai":
		return openai.NewClient(settings.Model, settings.BaseURL, settings.MaxTokens)
	case "gemini":
		return gemini.NewClient(ctx, settings.Model, settings.MaxTokens)
	case "ollama", "":
		return ollama.NewClient(settings.Model, settings.MaxTokens)
	default:
		return nil, errors.Errorf("unknown LLM backend %q", settings.Backend)
	}
}
