package gemini

import (
	"reflect"
	"testing"

	"github.com/fpt/klein-dm/pkg/agent/domain"
	"google.golang.org/genai"
)

func TestSchemaFromMap(t *testing.T) {
	in := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"narrative":           map[string]any{"type": "string", "description": "text"},
			"game_step_completed": map[string]any{"type": "boolean"},
			"characters": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"response_type": map[string]any{"type": "string", "enum": []any{"action", "reaction"}},
			"amount":        map[string]any{"type": "integer"},
		},
		"required": []any{"narrative", "game_step_completed"},
	}

	s := schemaFromMap(in)
	if s.Type != genai.TypeObject {
		t.Fatalf("root type = %v", s.Type)
	}
	wantOrder := []string{"amount", "characters", "game_step_completed", "narrative", "response_type"}
	if !reflect.DeepEqual(s.PropertyOrdering, wantOrder) {
		t.Errorf("ordering = %v", s.PropertyOrdering)
	}
	if !reflect.DeepEqual(s.Required, []string{"narrative", "game_step_completed"}) {
		t.Errorf("required = %v", s.Required)
	}
	if s.Properties["characters"].Type != genai.TypeArray || s.Properties["characters"].Items.Type != genai.TypeString {
		t.Errorf("array not converted: %+v", s.Properties["characters"])
	}
	if s.Properties["game_step_completed"].Type != genai.TypeBoolean {
		t.Errorf("bool not converted")
	}
	if s.Properties["amount"].Type != genai.TypeInteger {
		t.Errorf("integer not converted")
	}
	if !reflect.DeepEqual(s.Properties["response_type"].Enum, []string{"action", "reaction"}) {
		t.Errorf("enum = %v", s.Properties["response_type"].Enum)
	}
	if s.Properties["narrative"].Description != "text" {
		t.Errorf("description dropped")
	}
}

func TestBuildConfig(t *testing.T) {
	c := &Client{model: modelGemini25Flash, maxTokens: 100}
	cfg := c.buildConfig(domain.CompletionRequest{System: "sys", Schema: map[string]any{"type": "object"}})
	if cfg.ResponseMIMEType != "application/json" {
		t.Errorf("mime = %q", cfg.ResponseMIMEType)
	}
	if cfg.ResponseSchema == nil || cfg.SystemInstruction == nil {
		t.Error("schema and system instruction should be set")
	}
	if cfg.MaxOutputTokens != 100 {
		t.Errorf("max tokens = %d", cfg.MaxOutputTokens)
	}
}

func TestGetGeminiModel(t *testing.T) {
	tests := map[string]string{
		"":             modelGemini25Flash,
		"pro":          modelGemini25Pro,
		"lite":         modelGemini25FlashLite,
		"gemini-3-pro": "gemini-3-pro",
	}
	for in, want := range tests {
		if got := getGeminiModel(in); got != want {
			t.Errorf("getGeminiModel(%q) = %q, want %q", in, got, want)
		}
	}
}
