package anthropic

import (
	"context"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/fpt/klein-dm/pkg/agent/domain"
	"github.com/pkg/errors"
)

const (
	defaultMaxTokens = 4096

	// respondTool is the single tool the model is forced to call; its
	// input is the structured reply.
	respondTool = "respond"
)

// Client produces structured replies from Claude models by forcing a
// call to a tool whose input schema is the requested object.
type Client struct {
	client    *anthropic.Client
	model     anthropic.Model
	maxTokens int
}

// NewClient reads ANTHROPIC_API_KEY from the environment.
// maxTokens <= 0 uses the default.
func NewClient(model string, maxTokens int) (*Client, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY environment variable not set")
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Client{
		client:    &client,
		model:     getAnthropicModel(model),
		maxTokens: maxTokens,
	}, nil
}

func (c *Client) ModelID() string { return "anthropic/" + string(c.model) }

// CompleteJSON implements domain.StructuredLLM
func (c *Client) CompleteJSON(ctx context.Context, req domain.CompletionRequest) (string, error) {
	params := c.buildParams(req)
	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", errors.Wrap(err, "anthropic messages call failed")
	}
	for _, block := range resp.Content {
		if tu, ok := block.AsAny().(anthropic.ToolUseBlock); ok && tu.Name == respondTool {
			return string(tu.Input), nil
		}
	}
	// no tool call; hand back any text and let the caller decide
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			return tb.Text, nil
		}
	}
	return "", nil
}

func (c *Client) buildParams(req domain.CompletionRequest) anthropic.MessageNewParams {
	maxTokens := c.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	description := "Reply with the structured result"
	if req.SchemaName != "" {
		description += " for " + req.SchemaName
	}

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
		Tools: []anthropic.ToolUnionParam{{
			OfTool: &anthropic.ToolParam{
				Name:        respondTool,
				Description: anthropic.String(description),
				InputSchema: toInputSchema(req.Schema),
			},
		}},
		ToolChoice: anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: respondTool},
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	return params
}

func toInputSchema(schema map[string]any) anthropic.ToolInputSchemaParam {
	in := anthropic.ToolInputSchemaParam{Properties: map[string]any{}}
	if props, ok := schema["properties"].(map[string]any); ok {
		in.Properties = props
	}
	switch req := schema["required"].(type) {
	case []string:
		in.Required = req
	case []any:
		for _, r := range req {
			if s, ok := r.(string); ok {
				in.Required = append(in.Required, s)
			}
		}
	}
	return in
}

// getAnthropicModel maps short names to model identifiers; anything else
// is passed through.
func getAnthropicModel(model string) anthropic.Model {
	switch model {
	case "", "sonnet", "claude-sonnet":
		return anthropic.ModelClaudeSonnet4_5
	case "haiku", "claude-haiku":
		return anthropic.ModelClaudeHaiku4_5
	case "opus", "claude-opus":
		return anthropic.ModelClaudeOpus4_20250514
	}
	return anthropic.Model(model)
}

var _ domain.StructuredLLM = (*Client)(nil)
