package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxResponseLen = 1 << 20 // 1 MiB

// chatProvider calls an OpenAI-compatible chat-completions endpoint.
// Both the OpenAI and Groq providers are instances of it.
type chatProvider struct {
	name         string
	url          string
	apiKey       string
	model        string
	promptSuffix string // appended to the system prompt
	jsonMode     bool   // request response_format json_object
	maxTokens    int
	http         *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// NewOpenAI builds the OpenAI provider. It returns an error when no API
// key is configured; an empty model selects the default.
func NewOpenAI(apiKey, model string) (Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: api key not configured")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &chatProvider{
		name:     "openai",
		url:      "https://api.openai.com/v1/chat/completions",
		apiKey:   apiKey,
		model:    model,
		jsonMode: true,
		http:     &http.Client{},
	}, nil
}

// NewGroq builds the Groq provider. Groq speaks the OpenAI wire format but
// does not support response_format, so the system prompt carries an
// explicit JSON-only instruction instead.
func NewGroq(apiKey string) (Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("groq: api key not configured")
	}
	return &chatProvider{
		name:         "groq",
		url:          "https://api.groq.com/openai/v1/chat/completions",
		apiKey:       apiKey,
		model:        "llama3-8b-8192",
		promptSuffix: "\n\nReturn ONLY valid JSON. No markdown. No explanation.",
		maxTokens:    1024,
		http:         &http.Client{},
	}, nil
}

func (p *chatProvider) Name() string { return p.name }

func (p *chatProvider) Invoke(ctx context.Context, system string, input map[string]any) (map[string]any, error) {
	userContent, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal input: %w", p.name, err)
	}

	req := chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: system + p.promptSuffix},
			{Role: "user", Content: string(userContent)},
		},
		Temperature: 0.2,
		MaxTokens:   p.maxTokens,
	}
	if p.jsonMode {
		req.ResponseFormat = map[string]any{"type": "json_object"}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", p.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", p.name, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", p.name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseLen))
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", p.name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s: status %d: %s", p.name, resp.StatusCode, truncate(string(data), 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", p.name, err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("%s: empty response", p.name)
	}

	return decodeJSONObject(p.name, parsed.Choices[0].Message.Content)
}

// decodeJSONObject parses a model completion as a JSON object, tolerating
// markdown code fences around the payload.
func decodeJSONObject(provider, content string) (map[string]any, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
		content = strings.TrimSpace(content)
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return nil, fmt.Errorf("%s: returned non-JSON payload: %w", provider, err)
	}
	return out, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
