package gemini

import (
	"context"
	"os"
	"sort"

	"github.com/fpt/klein-dm/pkg/agent/domain"
	"github.com/pkg/errors"
	"google.golang.org/genai"
)

// Google Gemini 2.5 Models
// https://ai.google.dev/gemini-api/docs/models
const (
	modelGemini25Pro       = "gemini-2.5-pro"
	modelGemini25Flash     = "gemini-2.5-flash"
	modelGemini25FlashLite = "gemini-2.5-flash-lite"
)

// Client uses Gemini's native structured output (response MIME type plus
// response schema).
type Client struct {
	client    *genai.Client
	model     string
	maxTokens int
}

// NewClient reads GEMINI_API_KEY from the environment
func NewClient(ctx context.Context, model string, maxTokens int) (*Client, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY environment variable not set")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create gemini client")
	}
	return &Client{client: client, model: getGeminiModel(model), maxTokens: maxTokens}, nil
}

func (c *Client) ModelID() string { return "gemini/" + c.model }

// CompleteJSON implements domain.StructuredLLM
func (c *Client) CompleteJSON(ctx context.Context, req domain.CompletionRequest) (string, error) {
	result, err := c.client.Models.GenerateContent(ctx, c.model,
		[]*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)},
		c.buildConfig(req),
	)
	if err != nil {
		return "", errors.Wrap(err, "gemini generate content failed")
	}
	return result.Text(), nil
}

func (c *Client) buildConfig(req domain.CompletionRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}
	if req.Schema != nil {
		config.ResponseSchema = schemaFromMap(req.Schema)
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	maxTokens := c.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	if maxTokens > 0 {
		config.MaxOutputTokens = int32(maxTokens)
	}
	return config
}

// schemaFromMap converts a reflected JSON schema into Gemini's schema
// subset. Unknown types fall back to string.
func schemaFromMap(m map[string]any) *genai.Schema {
	s := &genai.Schema{}
	if d, ok := m["description"].(string); ok {
		s.Description = d
	}
	if enum, ok := m["enum"].([]any); ok {
		for _, e := range enum {
			if v, ok := e.(string); ok {
				s.Enum = append(s.Enum, v)
			}
		}
	}

	switch m["type"] {
	case "object":
		s.Type = genai.TypeObject
		props, _ := m["properties"].(map[string]any)
		if len(props) > 0 {
			s.Properties = make(map[string]*genai.Schema, len(props))
		}
		names := make([]string, 0, len(props))
		for name, p := range props {
			if pm, ok := p.(map[string]any); ok {
				s.Properties[name] = schemaFromMap(pm)
				names = append(names, name)
			}
		}
		sort.Strings(names)
		s.PropertyOrdering = names
		if req, ok := m["required"].([]any); ok {
			for _, r := range req {
				if v, ok := r.(string); ok {
					s.Required = append(s.Required, v)
				}
			}
		}
	case "array":
		s.Type = genai.TypeArray
		if items, ok := m["items"].(map[string]any); ok {
			s.Items = schemaFromMap(items)
		}
	case "integer":
		s.Type = genai.TypeInteger
	case "number":
		s.Type = genai.TypeNumber
	case "boolean":
		s.Type = genai.TypeBoolean
	default:
		s.Type = genai.TypeString
	}
	return s
}

// getGeminiModel maps user-friendly model names to Gemini 2.5 identifiers
func getGeminiModel(model string) string {
	switch model {
	case "gemini-2.5-pro", "gemini-pro", "pro":
		return modelGemini25Pro
	case "gemini-2.5-flash", "gemini-flash", "flash", "":
		return modelGemini25Flash
	case "gemini-2.5-flash-lite", "gemini-lite", "lite":
		return modelGemini25FlashLite
	}
	return model
}

var _ domain.StructuredLLM = (*Client)(nil)
