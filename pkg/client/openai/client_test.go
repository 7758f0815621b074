package openai

import (
	"testing"

	"github.com/fpt/klein-dm/pkg/agent/domain"
)

func TestGetOpenAIModel(t *testing.T) {
	tests := map[string]string{
		"":            modelGPT5Mini,
		"gpt-4o":      "gpt-4o",
		"gpt-5-nano":  "gpt-5-nano",
		"my-azure-4o": "my-azure-4o",
	}
	for in, want := range tests {
		if got := getOpenAIModel(in); got != want {
			t.Errorf("getOpenAIModel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBuildParams(t *testing.T) {
	c := &Client{model: modelGPT5Mini, maxTokens: 500}

	t.Run("schema request", func(t *testing.T) {
		params := c.buildParams(domain.CompletionRequest{
			System:     "sys",
			Prompt:     "user",
			SchemaName: "flow",
			Schema:     map[string]any{"type": "object"},
		})
		if len(params.Input.OfInputItemList) != 2 {
			t.Errorf("expected system and user items, got %d", len(params.Input.OfInputItemList))
		}
		if params.Text.Format.OfJSONSchema == nil {
			t.Fatal("json schema format not set")
		}
		if params.Text.Format.OfJSONSchema.Name != "flow" {
			t.Errorf("schema name = %q", params.Text.Format.OfJSONSchema.Name)
		}
		if params.MaxOutputTokens.Value != 500 {
			t.Errorf("max tokens = %d", params.MaxOutputTokens.Value)
		}
	})

	t.Run("no system prompt", func(t *testing.T) {
		params := c.buildParams(domain.CompletionRequest{Prompt: "user", MaxTokens: 42})
		if len(params.Input.OfInputItemList) != 1 {
			t.Errorf("expected only the user item, got %d", len(params.Input.OfInputItemList))
		}
		if params.Text.Format.OfJSONSchema != nil {
			t.Error("no schema requested")
		}
		if params.MaxOutputTokens.Value != 42 {
			t.Errorf("request max tokens should win, got %d", params.MaxOutputTokens.Value)
		}
	})
}

func TestNewClientRequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := NewClient("gpt-4o", "", 0); err == nil {
		t.Error("expected error without API key")
	}
}
