package client

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"

	"github.com/fpt/klein-dm/pkg/agent/domain"
	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
)

var reflector = &jsonschema.Reflector{
	AllowAdditionalProperties:  false,
	RequiredFromJSONSchemaTags: true,
	DoNotReference:             true,
}

// SchemaFor reflects the JSON schema of T as a plain map, without the
// $schema and $id keys that model APIs reject.
func SchemaFor[T any]() (map[string]any, error) {
	var zero T
	t := reflect.TypeOf(zero)
	if t == nil {
		return nil, errors.New("schema for nil type")
	}
	raw, err := json.Marshal(reflector.ReflectFromType(t))
	if err != nil {
		return nil, errors.Wrap(err, "marshal schema")
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errors.Wrap(err, "decode schema")
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out, nil
}

// Complete asks llm for one object of type T. A transport failure is
// reported as domain.ErrCollaboratorUnavailable, a reply that does not
// decode as domain.ErrAgentProtocol.
func Complete[T any](ctx context.Context, llm domain.StructuredLLM, name, system, prompt string, maxTokens int) (T, error) {
	var zero T
	schema, err := SchemaFor[T]()
	if err != nil {
		return zero, err
	}
	raw, err := llm.CompleteJSON(ctx, domain.CompletionRequest{
		System:     system,
		Prompt:     prompt,
		SchemaName: name,
		Schema:     schema,
		MaxTokens:  maxTokens,
	})
	if err != nil {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, domain.Unavailable(llm.ModelID(), err)
	}

	body := StripCodeFence(raw)
	if body == "" {
		return zero, domain.ProtocolError("%s: empty reply", name)
	}
	var out T
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return zero, domain.ProtocolError("%s: decode reply: %v", name, err)
	}
	return out, nil
}

// StripCodeFence removes a surrounding ``` or ```json fence, which some
// models add even in JSON mode.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// RequiredFields lists the "required" entry of an object schema
func RequiredFields(schema map[string]any) []string {
	var out []string
	switch req := schema["required"].(type) {
	case []string:
		out = append(out, req...)
	case []any:
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}
