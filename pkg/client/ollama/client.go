package ollama

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/fpt/klein-dm/pkg/agent/domain"
	"github.com/ollama/ollama/api"
	"github.com/pkg/errors"
)

const defaultMaxTokens = 4096

// Client talks to a local Ollama server and constrains replies with the
// JSON-schema format option.
type Client struct {
	client    *api.Client
	model     string
	maxTokens int
}

// NewClient uses OLLAMA_HOST from the environment (default
// http://localhost:11434).
func NewClient(model string, maxTokens int) (*Client, error) {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create ollama client")
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	if model == "" {
		model = "gpt-oss:latest"
	}
	return &Client{client: client, model: model, maxTokens: maxTokens}, nil
}

func (c *Client) ModelID() string { return "ollama/" + c.model }

// CompleteJSON implements domain.StructuredLLM
func (c *Client) CompleteJSON(ctx context.Context, req domain.CompletionRequest) (string, error) {
	chatReq, err := c.buildRequest(req)
	if err != nil {
		return "", err
	}

	var content strings.Builder
	err = c.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", errors.Wrap(err, "ollama chat failed")
	}
	return content.String(), nil
}

func (c *Client) buildRequest(req domain.CompletionRequest) (*api.ChatRequest, error) {
	var messages []api.Message
	if req.System != "" {
		messages = append(messages, api.Message{Role: "system", Content: req.System})
	}
	messages = append(messages, api.Message{Role: "user", Content: req.Prompt})

	maxTokens := c.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	chatReq := &api.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Options: map[string]any{
			"num_predict": maxTokens,
		},
		Stream: &[]bool{false}[0],
	}
	if req.Schema != nil {
		format, err := json.Marshal(req.Schema)
		if err != nil {
			return nil, errors.Wrap(err, "marshal schema")
		}
		chatReq.Format = format
	} else {
		chatReq.Format = json.RawMessage(`"json"`)
	}
	return chatReq, nil
}

var _ domain.StructuredLLM = (*Client)(nil)
