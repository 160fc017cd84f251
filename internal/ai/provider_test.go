package ai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arin/chatstream/internal/stream"
)

func quietDriver() *stream.Driver {
	return stream.NewDriver(nil, stream.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func newBackend(t *testing.T, provider, url string) Backend {
	t.Helper()
	b, err := NewBackend(Settings{Provider: provider, BaseURL: url, Model: "test-model", APIKey: "sk-test", Temperature: 0.2, MaxTokens: 64}, nil, quietDriver())
	require.NoError(t, err)
	return b
}

func TestNewBackend(t *testing.T) {
	b, err := NewBackend(Settings{Model: "llama3"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, ProviderOllama, b.Name())
	assert.IsType(t, &OllamaProvider{}, b)

	b, err = NewBackend(Settings{Provider: "Perplexity", Model: "sonar"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, ProviderPerplexity, b.Name())
	assert.IsType(t, &OpenAIProvider{}, b)

	_, err = NewBackend(Settings{Provider: "ollama"}, nil, nil)
	assert.Error(t, err)

	_, err = NewBackend(Settings{Provider: "my-vllm", Model: "m"}, nil, nil)
	assert.Error(t, err, "unknown provider needs an explicit URL")

	b, err = NewBackend(Settings{Provider: "my-vllm", BaseURL: "http://gpu:8000/v1/", Model: "m"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "my-vllm", b.Name())
}

func TestOllama_CompleteStream(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		f := w.(http.Flusher)
		for _, line := range []string{
			`{"message":{"role":"assistant","content":"<think>hmm"},"done":false}`,
			`{"message":{"role":"assistant","content":"</think>Hi"},"done":false}`,
			`{"message":{"role":"assistant","content":" there"},"done":false}`,
			`{"done":true,"done_reason":"stop","prompt_eval_count":5,"eval_count":2}`,
		} {
			_, _ = io.WriteString(w, line+"\n")
			f.Flush()
		}
	}))
	defer srv.Close()

	b := newBackend(t, "ollama", srv.URL)
	res, err := stream.Collect(b.CompleteStream(context.Background(), []Message{{Role: "user", Content: "hello"}}))
	require.NoError(t, err)

	assert.Equal(t, "Hi there", res.Text)
	assert.Equal(t, &stream.Usage{PromptTokens: 5, CompletionTokens: 2, TotalTokens: 7}, res.Usage)
	assert.True(t, got.Stream)
	assert.Equal(t, "test-model", got.Model)
	assert.Equal(t, 0.2, got.Options.Temperature)
	assert.Equal(t, 64, got.Options.NumPredict)
	assert.Empty(t, got.Format)
}

func TestOllama_CompleteUsesBulkFilter(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"message":{"role":"assistant","content":"<think>\nplan\n</think>\n{\"ok\":true}"},"done":true}`)
	}))
	defer srv.Close()

	b := newBackend(t, "ollama", srv.URL)
	out, err := b.Complete(context.Background(), []Message{{Role: "user", Content: "x"}}, true)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out)
	assert.False(t, got.Stream)
	assert.Equal(t, "json", got.Format)
}

func TestOllama_ModelNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"model \"test-model\" not found, try pulling it first"}`)
	}))
	defer srv.Close()

	b := newBackend(t, "ollama", srv.URL)
	_, err := b.Complete(context.Background(), nil, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, stream.ErrProtocol))
	assert.Contains(t, err.Error(), "chatstream pull test-model")
}

func TestOllama_CompleteCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := newBackend(t, "ollama", srv.URL)
	_, err := b.Complete(ctx, nil, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestOpenAI_CompleteStream(t *testing.T) {
	var got openAIRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "text/event-stream")
		f := w.(http.Flusher)
		for _, chunk := range []string{
			`data: {"choices":[{"delta":{"role":"assistant","content":"Go "}}],"citations":["https://go.dev"]}`,
			`data: {"choices":[{"delta":{"content":"rocks"}}]}`,
			`data: {"choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":9,"completion_tokens":2,"total_tokens":11}}`,
			`data: [DONE]`,
		} {
			_, _ = io.WriteString(w, chunk+"\n\n")
			f.Flush()
		}
	}))
	defer srv.Close()

	b := newBackend(t, "perplexity", srv.URL)
	res, err := stream.Collect(b.CompleteStream(context.Background(), []Message{{Role: "user", Content: "go?"}}))
	require.NoError(t, err)

	assert.Equal(t, "Bearer sk-test", auth)
	assert.True(t, got.Stream)
	require.NotNil(t, got.StreamOptions)
	assert.True(t, got.StreamOptions.IncludeUsage)
	assert.Nil(t, got.ResponseFormat)

	assert.Equal(t, "Go rocks", res.Text)
	assert.Equal(t, 11, res.Usage.TotalTokens)
	require.NotNil(t, res.WebSearch)
	assert.Equal(t, stream.SourcePerplexity, res.WebSearch.Source)
	assert.Equal(t, "https://go.dev", res.WebSearch.Results[0].URL)
}

func TestOpenAI_AuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	b, err := NewBackend(Settings{Provider: "openai", BaseURL: srv.URL, Model: "gpt"}, nil, quietDriver())
	require.NoError(t, err)
	res, err := stream.Collect(b.CompleteStream(context.Background(), nil))
	require.Error(t, err)
	assert.Empty(t, res.Text)
	assert.Contains(t, err.Error(), "requires an API key")
}

func TestOpenAI_CompleteJSONMode(t *testing.T) {
	var got openAIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\" {}\"}}]}\n\ndata: [DONE]\n\n")
	}))
	defer srv.Close()

	out, err := newBackend(t, "openai", srv.URL).Complete(context.Background(), nil, true)
	require.NoError(t, err)
	assert.Equal(t, "{}", out)
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, "json_object", got.ResponseFormat.Type)
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			_, _ = io.WriteString(w, `{"models":[
				{"name":"qwen3:8b","size":5200000000,"modified_at":"2025-05-01T10:00:00.123456Z","details":{"family":"qwen3","parameter_size":"8.2B","quantization_level":"Q4_K_M"}},
				{"name":"llama3.2:latest","size":2000000000,"details":{"family":"llama"}}]}`)
		case "/models":
			assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
			_, _ = io.WriteString(w, `{"data":[{"id":"gpt-b","created":1700000000},{"id":"gpt-a"}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	models, err := newBackend(t, "ollama", srv.URL).ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "llama3.2:latest", models[0].Name)
	assert.Equal(t, "8.2B", models[1].ParameterSize)
	assert.Equal(t, "Q4_K_M", models[1].Quantization)
	assert.False(t, models[1].ModifiedAt.IsZero())
	assert.True(t, HasModel(models, "llama3.2"))
	assert.False(t, HasModel(models, "mistral"))

	models, err = newBackend(t, "openai", srv.URL).ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "gpt-a", models[0].Name)
}

func TestListModels_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newBackend(t, "ollama", url).ListModels(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, stream.ErrTransport))
}

func pullServer(t *testing.T, lines map[string][]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model string `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		out, ok := lines[body.Model]
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, `{"error":"pull model manifest: file does not exist"}`)
			return
		}
		f := w.(http.Flusher)
		for _, l := range out {
			_, _ = io.WriteString(w, l+"\n")
			f.Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

var successfulPull = []string{
	`{"status":"pulling manifest"}`,
	`{"status":"pulling abc","digest":"sha256:abc","total":200,"completed":50}`,
	`{"status":"pulling abc","digest":"sha256:abc","total":200,"completed":200}`,
	`{"status":"verifying sha256 digest"}`,
	`{"status":"success"}`,
}

func TestPull_ReportsProgress(t *testing.T) {
	srv := pullServer(t, map[string][]string{"tiny": successfulPull})
	progress := NewProgress()
	p := NewPuller(srv.URL, nil, progress, nil)

	var statuses []PullStatus
	err := p.Pull(context.Background(), "tiny", func(st PullStatus) {
		statuses = append(statuses, st)
		got, ok := progress.Get("tiny")
		assert.True(t, ok)
		assert.Equal(t, st, got)
	})
	require.NoError(t, err)
	require.Len(t, statuses, 5)
	assert.Equal(t, 25.0, statuses[1].Percent())
	assert.Equal(t, 100.0, statuses[2].Percent())
	assert.Equal(t, -1.0, statuses[0].Percent())
	assert.True(t, statuses[4].Done)

	_, ok := progress.Get("tiny")
	assert.False(t, ok, "finished downloads leave the registry")
}

func TestPull_SnapshotShowsUnfinished(t *testing.T) {
	progress := NewProgress()
	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, successfulPull[1]+"\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	var seen []PullStatus
	err := NewPuller(srv.URL, nil, progress, nil).Pull(ctx, "slow", func(PullStatus) {
		seen = progress.Snapshot()
		cancel()
	})
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, seen, 1)
	assert.Equal(t, "slow", seen[0].Model)
	assert.Equal(t, 25.0, seen[0].Percent())
	assert.Empty(t, progress.Snapshot())
}

func TestPull_UpstreamError(t *testing.T) {
	srv := pullServer(t, map[string][]string{"broken": {
		`{"status":"pulling manifest"}`,
		`{"error":"max retries exceeded"}`,
	}})
	err := NewPuller(srv.URL, nil, NewProgress(), nil).Pull(context.Background(), "broken", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, stream.ErrUpstream))
}

func TestPull_Truncated(t *testing.T) {
	srv := pullServer(t, map[string][]string{"cut": successfulPull[:2]})
	err := NewPuller(srv.URL, nil, NewProgress(), nil).Pull(context.Background(), "cut", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ended before completion")
}

func TestPull_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, successfulPull[0]+"\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	err := NewPuller(srv.URL, nil, NewProgress(), nil).Pull(ctx, "slow", func(PullStatus) { cancel() })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPullAll(t *testing.T) {
	srv := pullServer(t, map[string][]string{"a": successfulPull, "b": successfulPull, "c": successfulPull})
	progress := NewProgress()

	var mu sync.Mutex
	done := map[string]bool{}
	err := NewPuller(srv.URL, nil, progress, nil).PullAll(context.Background(), []string{"a", "b", "c"}, 2, func(st PullStatus) {
		mu.Lock()
		defer mu.Unlock()
		if st.Done {
			done[st.Model] = true
		}
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"a": true, "b": true, "c": true}, done)
	assert.Empty(t, progress.Snapshot())
}

func TestPullAll_FirstFailureWins(t *testing.T) {
	srv := pullServer(t, map[string][]string{"a": successfulPull})
	err := NewPuller(srv.URL, nil, NewProgress(), nil).PullAll(context.Background(), []string{"a", "missing"}, 0, nil)
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "pull missing:"))
	assert.True(t, errors.Is(err, stream.ErrProtocol))
}
