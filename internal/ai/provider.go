package ai

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/arin/chatstream/internal/stream"
)

// Message is a provider-agnostic chat message.
type Message struct {
	Role    string // "system", "user", or "assistant"
	Content string
}

// Provider is the interface that any AI backend must implement.
type Provider interface {
	// Complete sends a list of messages and returns the assistant's response text.
	// If jsonMode is true, the provider should request structured JSON output.
	Complete(ctx context.Context, messages []Message, jsonMode bool) (string, error)
}

// StreamingProvider extends Provider with normalized event streaming.
// Providers that don't support streaming can omit this interface;
// the Client falls back to Complete() automatically.
type StreamingProvider interface {
	Provider
	// CompleteStream returns a channel of events for the response. The channel
	// carries exactly one terminal event and is closed after it.
	CompleteStream(ctx context.Context, messages []Message) <-chan stream.Event
}

// Backend is a configured provider the CLI can talk to.
type Backend interface {
	StreamingProvider
	Name() string
	Model() string
	ListModels(ctx context.Context) ([]ModelInfo, error)
}

// Provider names understood by NewBackend. Anything not listed is treated
// as a generic OpenAI-compatible server.
const (
	ProviderOllama     = "ollama"
	ProviderOpenAI     = stream.SourceOpenAI
	ProviderOpenRouter = stream.SourceOpenRouter
	ProviderPerplexity = stream.SourcePerplexity
	ProviderZhipu      = stream.SourceZhipu
	ProviderHunyuan    = stream.SourceHunyuan
)

var defaultBaseURLs = map[string]string{
	ProviderOllama:     "http://localhost:11434",
	ProviderOpenAI:     "https://api.openai.com/v1",
	ProviderOpenRouter: "https://openrouter.ai/api/v1",
	ProviderPerplexity: "https://api.perplexity.ai",
	ProviderZhipu:      "https://open.bigmodel.cn/api/paas/v4",
	ProviderHunyuan:    "https://api.hunyuan.cloud.tencent.com/v1",
}

// DefaultBaseURL returns the well-known endpoint for provider, or "".
func DefaultBaseURL(provider string) string {
	return defaultBaseURLs[strings.ToLower(provider)]
}

// Settings carries everything a backend needs from configuration.
type Settings struct {
	Provider    string
	BaseURL     string
	Model       string
	APIKey      string
	Temperature float64
	MaxTokens   int
}

// NewBackend picks the wire format for s.Provider. hc is used for the
// non-streaming calls (model listing); d runs every chat request.
func NewBackend(s Settings, hc *http.Client, d *stream.Driver) (Backend, error) {
	if s.Model == "" {
		return nil, fmt.Errorf("no model configured — set one with: chatstream config set-model <name>")
	}
	s.Provider = strings.ToLower(strings.TrimSpace(s.Provider))
	if s.Provider == "" {
		s.Provider = ProviderOllama
	}
	if s.BaseURL == "" {
		s.BaseURL = DefaultBaseURL(s.Provider)
	}
	if s.BaseURL == "" {
		return nil, fmt.Errorf("provider %q has no default endpoint — set one with: chatstream config set-url <url>", s.Provider)
	}
	s.BaseURL = strings.TrimRight(s.BaseURL, "/")
	if hc == nil {
		hc = http.DefaultClient
	}
	if d == nil {
		d = stream.NewDriver(hc)
	}

	if s.Provider == ProviderOllama {
		return NewOllamaProvider(s, hc, d), nil
	}
	return NewOpenAIProvider(s, hc, d), nil
}

// failed returns a closed channel holding a single Error event.
func failed(err error) <-chan stream.Event {
	ch := make(chan stream.Event, 1)
	ch <- stream.Event{Kind: stream.KindError, Text: err.Error(), Err: err}
	close(ch)
	return ch
}

// collect drains ch and reports cancellation by the caller as an error,
// which the event stream itself treats as a normal completion.
func collect(ctx context.Context, ch <-chan stream.Event) (string, error) {
	res, err := stream.Collect(ch)
	if err != nil {
		return res.Text, err
	}
	if res.StopReason == stream.StopCancelled && ctx.Err() != nil {
		return res.Text, fmt.Errorf("request cancelled: %w", ctx.Err())
	}
	return strings.TrimSpace(res.Text), nil
}
