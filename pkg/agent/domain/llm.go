package domain

import (
	"context"
)

// CompletionRequest asks a model for one JSON object matching Schema
type CompletionRequest struct {
	System     string
	Prompt     string
	SchemaName string
	// Schema is a JSON schema document for the expected object
	Schema    map[string]any
	MaxTokens int
}

// StructuredLLM is the base model interface used by the LLM-backed
// collaborators. Implementations return the raw JSON text of the object;
// decoding and validation stay with the caller.
type StructuredLLM interface {
	CompleteJSON(ctx context.Context, req CompletionRequest) (string, error)
	// ModelID returns a stable identifier for the underlying model
	ModelID() string
}
