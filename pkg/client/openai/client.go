package openai

import (
	"context"
	"os"

	"github.com/fpt/klein-dm/pkg/agent/domain"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/responses"
	"github.com/openai/openai-go/v2/shared"
	"github.com/pkg/errors"
)

// Model constants
const (
	modelGPT5      = "gpt-5"
	modelGPT5Mini  = "gpt-5-mini"
	modelGPT5Nano  = "gpt-5-nano"
	modelGPT4o     = shared.ChatModelGPT4o
	modelGPT4oMini = shared.ChatModelGPT4oMini
)

// Client requests JSON-schema constrained output from the Responses API
type Client struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// NewClient reads OPENAI_API_KEY and, for Azure or compatible endpoints,
// OPENAI_BASE_URL. baseURL overrides the environment when set.
func NewClient(model, baseURL string, maxTokens int) (*Client, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY environment variable not set")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL == "" {
		baseURL = os.Getenv("OPENAI_BASE_URL")
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	return &Client{
		client:    &client,
		model:     getOpenAIModel(model),
		maxTokens: maxTokens,
	}, nil
}

func (c *Client) ModelID() string { return "openai/" + c.model }

// CompleteJSON implements domain.StructuredLLM
func (c *Client) CompleteJSON(ctx context.Context, req domain.CompletionRequest) (string, error) {
	resp, err := c.client.Responses.New(ctx, c.buildParams(req))
	if err != nil {
		return "", errors.Wrap(err, "Responses API call failed")
	}
	return resp.OutputText(), nil
}

func (c *Client) buildParams(req domain.CompletionRequest) responses.ResponseNewParams {
	var items responses.ResponseInputParam
	if req.System != "" {
		items = append(items, responses.ResponseInputItemParamOfMessage(req.System, responses.EasyInputMessageRoleSystem))
	}
	items = append(items, responses.ResponseInputItemParamOfMessage(req.Prompt, responses.EasyInputMessageRoleUser))

	params := responses.ResponseNewParams{
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: items,
		},
		Model: shared.ChatModel(c.model),
	}

	maxTokens := c.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	if maxTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(maxTokens))
	}

	if req.Schema != nil {
		name := req.SchemaName
		if name == "" {
			name = "reply"
		}
		params.Text = responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Name:   name,
					Schema: req.Schema,
					Strict: openai.Bool(false),
				},
			},
		}
	}
	return params
}

// getOpenAIModel maps user-friendly model names to OpenAI identifiers
func getOpenAIModel(model string) string {
	switch model {
	case modelGPT5, modelGPT5Mini, modelGPT5Nano, modelGPT4o, modelGPT4oMini:
		return model
	case "":
		return modelGPT5Mini
	}
	// custom deployments keep their own names
	return model
}

var _ domain.StructuredLLM = (*Client)(nil)
