package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/arin/chatstream/internal/stream"
)

// OpenAIProvider implements Backend for OpenAI-compatible chat completion
// servers. The provider name decides which citation format is expected.
type OpenAIProvider struct {
	settings   Settings
	httpClient *http.Client
	driver     *stream.Driver
}

// NewOpenAIProvider creates a provider for s.BaseURL.
func NewOpenAIProvider(s Settings, hc *http.Client, d *stream.Driver) *OpenAIProvider {
	return &OpenAIProvider{settings: s, httpClient: hc, driver: d}
}

func (p *OpenAIProvider) Name() string  { return p.settings.Provider }
func (p *OpenAIProvider) Model() string { return p.settings.Model }

type openAIRequest struct {
	Model          string          `json:"model"`
	Messages       []openAIMessage `json:"messages"`
	Stream         bool            `json:"stream"`
	StreamOptions  *streamOptions  `json:"stream_options,omitempty"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type responseFormat struct {
	Type string `json:"type"`
}

func (p *OpenAIProvider) request(ctx context.Context, messages []Message, jsonMode bool) (stream.Request, error) {
	msgs := make([]openAIMessage, len(messages))
	for i, m := range messages {
		msgs[i] = openAIMessage{Role: m.Role, Content: m.Content}
	}

	reqBody := openAIRequest{
		Model:         p.settings.Model,
		Messages:      msgs,
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
		Temperature:   p.settings.Temperature,
		MaxTokens:     p.settings.MaxTokens,
	}
	if jsonMode {
		reqBody.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return stream.Request{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.settings.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return stream.Request{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if p.settings.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.settings.APIKey)
	}

	return stream.Request{
		Provider:       p.settings.Provider,
		Model:          p.settings.Model,
		HTTP:           req,
		DescribeStatus: p.describeStatus,
	}, nil
}

// CompleteStream streams the reply as normalized events.
func (p *OpenAIProvider) CompleteStream(ctx context.Context, messages []Message) <-chan stream.Event {
	req, err := p.request(ctx, messages, false)
	if err != nil {
		return failed(err)
	}
	return p.driver.Start(ctx, req)
}

// Complete streams the reply and returns it once finished.
func (p *OpenAIProvider) Complete(ctx context.Context, messages []Message, jsonMode bool) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, completeTimeout)
	defer cancel()

	req, err := p.request(ctx, messages, jsonMode)
	if err != nil {
		return "", err
	}
	return collect(ctx, p.driver.Start(ctx, req))
}

func (p *OpenAIProvider) describeStatus(status int, _ string) string {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		if p.settings.APIKey == "" {
			return fmt.Sprintf("%s requires an API key — set one with: chatstream config set-key <key>", p.settings.Provider)
		}
		return fmt.Sprintf("%s rejected the API key (status %d)", p.settings.Provider, status)
	case http.StatusTooManyRequests:
		return fmt.Sprintf("%s rate limit reached, try again later", p.settings.Provider)
	}
	return ""
}
