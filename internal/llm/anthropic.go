package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider calls the Anthropic Messages API. Claude has no JSON
// response mode, so the system prompt carries the JSON-only instruction and
// the completion is parsed with fence tolerance.
type AnthropicProvider struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewAnthropic builds the Anthropic provider. It returns an error when no
// API key is configured; an empty model selects the default.
func NewAnthropic(apiKey, model string) (Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: api key not configured")
	}
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}
	return &AnthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}, nil
}

func (a *AnthropicProvider) Name() string { return "anthropic" }

func (a *AnthropicProvider) Invoke(ctx context.Context, system string, input map[string]any) (map[string]any, error) {
	userContent, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal input: %w", err)
	}

	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: 2048,
		System: []anthropic.TextBlockParam{
			{Text: system + "\n\nRespond with a single JSON object and nothing else."},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(string(userContent))),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}
	if len(message.Content) == 0 {
		return nil, fmt.Errorf("anthropic: empty response")
	}

	return decodeJSONObject("anthropic", message.Content[0].Text)
}
