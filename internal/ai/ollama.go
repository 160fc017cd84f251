package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/arin/chatstream/internal/stream"
)

const completeTimeout = 120 * time.Second

// OllamaProvider implements Backend for the Ollama local API.
type OllamaProvider struct {
	settings   Settings
	httpClient *http.Client
	driver     *stream.Driver
}

// NewOllamaProvider creates a provider that talks to an Ollama instance.
func NewOllamaProvider(s Settings, hc *http.Client, d *stream.Driver) *OllamaProvider {
	return &OllamaProvider{settings: s, httpClient: hc, driver: d}
}

func (o *OllamaProvider) Name() string  { return ProviderOllama }
func (o *OllamaProvider) Model() string { return o.settings.Model }

// ollamaRequest is the request body sent to /api/chat.
type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ollamaOptions controls generation parameters.
type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

func (o *OllamaProvider) request(ctx context.Context, messages []Message, streaming, jsonMode bool) (stream.Request, error) {
	msgs := make([]ollamaMessage, len(messages))
	for i, m := range messages {
		msgs[i] = ollamaMessage{Role: m.Role, Content: m.Content}
	}

	reqBody := ollamaRequest{
		Model:    o.settings.Model,
		Messages: msgs,
		Stream:   streaming,
		Options: ollamaOptions{
			Temperature: o.settings.Temperature,
			NumPredict:  o.settings.MaxTokens,
		},
	}
	if jsonMode {
		reqBody.Format = "json"
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return stream.Request{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.settings.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return stream.Request{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return stream.Request{
		Provider:       ProviderOllama,
		Model:          o.settings.Model,
		HTTP:           req,
		Bulk:           !streaming,
		DescribeStatus: o.describeStatus,
	}, nil
}

// CompleteStream streams the reply as normalized events.
func (o *OllamaProvider) CompleteStream(ctx context.Context, messages []Message) <-chan stream.Event {
	req, err := o.request(ctx, messages, true, false)
	if err != nil {
		return failed(err)
	}
	return o.driver.Start(ctx, req)
}

// Complete asks for a single non-streamed reply. It still goes through the
// driver, so thinking blocks are removed line by line.
func (o *OllamaProvider) Complete(ctx context.Context, messages []Message, jsonMode bool) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, completeTimeout)
	defer cancel()

	req, err := o.request(ctx, messages, false, jsonMode)
	if err != nil {
		return "", err
	}
	return collect(ctx, o.driver.Start(ctx, req))
}

func (o *OllamaProvider) describeStatus(status int, body string) string {
	if strings.Contains(body, "model") && strings.Contains(body, "not found") {
		return fmt.Sprintf("model %q not found — run: chatstream pull %s", o.settings.Model, o.settings.Model)
	}
	return ""
}
