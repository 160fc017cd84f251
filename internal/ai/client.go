// Package ai builds chat requests for Ollama and OpenAI-compatible servers
// and hands their responses to the stream package for normalization.
package ai

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"unicode/utf8"

	"github.com/arin/chatstream/internal/stream"
)

// ChatMessage represents a single message in a conversation.
type ChatMessage struct {
	Role    string
	Content string
}

// maxHistory caps the conversation sent with each chat turn.
const maxHistory = 20

// Client turns user intents into provider calls.
type Client struct {
	provider Provider
	policy   stream.EmptyPolicy
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithEmptyPolicy sets what Translate reports when nothing visible was produced.
func WithEmptyPolicy(p stream.EmptyPolicy) ClientOption {
	return func(c *Client) { c.policy = p }
}

// NewClientWithProvider creates a Client backed by p.
func NewClientWithProvider(p Provider, opts ...ClientOption) *Client {
	c := &Client{provider: p}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// streamOrFallback streams when the provider can, and otherwise wraps a
// single Complete call in the same event sequence.
func (c *Client) streamOrFallback(ctx context.Context, messages []Message) <-chan stream.Event {
	if sp, ok := c.provider.(StreamingProvider); ok {
		return sp.CompleteStream(ctx, messages)
	}

	ch := make(chan stream.Event, 2)
	go func() {
		defer close(ch)
		text, err := c.provider.Complete(ctx, messages, false)
		switch {
		case err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
			ch <- stream.Event{Kind: stream.KindComplete, StopReason: stream.StopCancelled, Usage: &stream.Usage{Estimated: true}}
		case err != nil:
			ch <- stream.Event{Kind: stream.KindError, Text: err.Error(), Err: err}
		default:
			if text != "" {
				ch <- stream.Event{Kind: stream.KindTextDelta, Text: text}
			}
			tokens := stream.EstimateTokens(utf8.RuneCountInString(text))
			ch <- stream.Event{
				Kind:       stream.KindComplete,
				StopReason: stream.StopDone,
				Usage:      &stream.Usage{CompletionTokens: tokens, TotalTokens: tokens, Estimated: true},
			}
		}
	}()
	return ch
}

// Ask answers a single question.
func (c *Client) Ask(ctx context.Context, prompt string) <-chan stream.Event {
	return c.streamOrFallback(ctx, []Message{
		{Role: "system", Content: askSystemPrompt()},
		{Role: "user", Content: prompt},
	})
}

// ChatStream streams the reply to a conversation.
// History is capped to the last 20 messages to stay within the model's context window.
func (c *Client) ChatStream(ctx context.Context, history []ChatMessage) <-chan stream.Event {
	return c.streamOrFallback(ctx, chatMessages(history))
}

// Chat returns the full reply to a conversation.
func (c *Client) Chat(ctx context.Context, history []ChatMessage) (string, error) {
	return c.provider.Complete(ctx, chatMessages(history), false)
}

// Complete is a plain non-streaming call.
func (c *Client) Complete(ctx context.Context, messages []Message, jsonMode bool) (string, error) {
	return c.provider.Complete(ctx, messages, jsonMode)
}

// Translate streams a translation of text into lang. fn receives the
// accumulated translation after every delta and exactly one final call with
// complete set. The returned error is the stream's terminal error.
func (c *Client) Translate(ctx context.Context, text, lang string, fn func(text string, complete bool)) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("nothing to translate")
	}
	if lang == "" {
		lang = "English"
	}
	messages := []Message{
		{Role: "system", Content: fmt.Sprintf("You are a translation engine. Translate the user's text into %s. Output only the translation, keep formatting and line breaks, and do not add notes.", lang)},
		{Role: "user", Content: text},
	}

	handle := stream.TextHandler(c.policy, fn)
	var err error
	for ev := range c.streamOrFallback(ctx, messages) {
		handle(ev)
		if ev.Kind == stream.KindError {
			err = ev.Err
		}
	}
	return err
}

func chatMessages(history []ChatMessage) []Message {
	messages := []Message{
		{Role: "system", Content: chatSystemPrompt()},
	}

	trimmed := history
	if len(trimmed) > maxHistory {
		trimmed = trimmed[len(trimmed)-maxHistory:]
	}
	for _, m := range trimmed {
		messages = append(messages, Message{Role: m.Role, Content: m.Content})
	}
	return messages
}

func askSystemPrompt() string {
	return fmt.Sprintf(`You are a concise terminal assistant.

Environment:
- OS: %s
- Architecture: %s
- Shell: %s

Answer directly in plain text. Prefer short answers; show commands on their own line.`,
		runtime.GOOS, runtime.GOARCH, detectShell())
}

func chatSystemPrompt() string {
	return fmt.Sprintf(`You are chatstream, a friendly and knowledgeable terminal assistant.

Environment:
- OS: %s
- Architecture: %s
- Shell: %s

Personality:
- Be friendly, casual, and helpful.
- Give concise answers. Don't over-explain unless asked.
- When suggesting commands, show the command and briefly explain what it does.
- Keep responses short and conversational. No walls of text.`,
		runtime.GOOS, runtime.GOARCH, detectShell())
}

func detectShell() string {
	if runtime.GOOS == "windows" {
		return "powershell"
	}
	if shell := os.Getenv("SHELL"); shell != "" {
		// Return just the base name (e.g. "/bin/zsh" → "zsh").
		parts := strings.Split(shell, "/")
		return parts[len(parts)-1]
	}
	return "sh"
}
