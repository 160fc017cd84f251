package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/arin/chatstream/internal/stream"
)

// PullStatus is the latest progress line for one model download.
type PullStatus struct {
	Model     string
	Status    string
	Digest    string
	Completed int64
	Total     int64
	Done      bool
}

// Percent returns completion in [0, 100], or -1 when the size is unknown.
func (s PullStatus) Percent() float64 {
	if s.Total <= 0 {
		return -1
	}
	p := float64(s.Completed) / float64(s.Total) * 100
	if p > 100 {
		p = 100
	}
	return p
}

// Progress tracks in-flight downloads by model name.
type Progress struct {
	mu     sync.Mutex
	models map[string]PullStatus
}

// Downloads is the process-wide download registry.
var Downloads = NewProgress()

func NewProgress() *Progress {
	return &Progress{models: make(map[string]PullStatus)}
}

func (p *Progress) set(st PullStatus) {
	p.mu.Lock()
	p.models[st.Model] = st
	p.mu.Unlock()
}

func (p *Progress) remove(model string) {
	p.mu.Lock()
	delete(p.models, model)
	p.mu.Unlock()
}

// Get returns the latest status for model.
func (p *Progress) Get(model string) (PullStatus, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.models[model]
	return st, ok
}

// Snapshot returns all in-flight downloads sorted by model name.
func (p *Progress) Snapshot() []PullStatus {
	p.mu.Lock()
	out := make([]PullStatus, 0, len(p.models))
	for _, st := range p.models {
		out = append(out, st)
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out
}

// Puller downloads models through Ollama's /api/pull.
type Puller struct {
	baseURL  string
	client   *http.Client
	progress *Progress
	logger   *slog.Logger
}

// NewPuller returns a Puller. A nil progress means Downloads.
func NewPuller(baseURL string, client *http.Client, progress *Progress, logger *slog.Logger) *Puller {
	if client == nil {
		client = http.DefaultClient
	}
	if progress == nil {
		progress = Downloads
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Puller{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   client,
		progress: progress,
		logger:   logger,
	}
}

// Pull downloads model, calling fn for every progress line. It returns
// ctx.Err() when cancelled and removes the model from the registry on exit.
func (p *Puller) Pull(ctx context.Context, model string, fn func(PullStatus)) error {
	log := p.logger.With("model", model)
	defer p.progress.remove(model)

	body, err := json.Marshal(map[string]any{"model": model, "stream": true})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	url := p.baseURL + "/api/pull"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &stream.TransportError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &stream.ProtocolError{
			Provider:   ProviderOllama,
			StatusCode: resp.StatusCode,
			Body:       string(snippet),
			Message:    stream.DescribeStatus(resp.StatusCode, string(snippet)),
		}
	}

	st := PullStatus{Model: model, Status: "starting"}
	p.progress.set(st)

	lines := stream.NewLineReassembler()
	buf := make([]byte, 4096)

	handle := func(line string) error {
		if !gjson.Valid(line) {
			log.Debug("skipping malformed pull line", "line", line)
			return nil
		}
		v := gjson.Parse(line)
		if msg := v.Get("error").String(); msg != "" {
			return &stream.UpstreamError{Message: msg}
		}
		st.Status = v.Get("status").String()
		if d := v.Get("digest"); d.Exists() {
			st.Digest = d.String()
			st.Total = v.Get("total").Int()
			st.Completed = v.Get("completed").Int()
		}
		st.Done = st.Status == "success"
		p.progress.set(st)
		if fn != nil {
			fn(st)
		}
		return nil
	}

	for !st.Done {
		if err := ctx.Err(); err != nil {
			log.Debug("pull cancelled")
			return err
		}
		n, rerr := resp.Body.Read(buf)
		for _, line := range lines.Feed(buf[:n]) {
			if err := handle(line); err != nil {
				return err
			}
		}
		if rerr == io.EOF {
			if last, ok := lines.Flush(); ok {
				if err := handle(last); err != nil {
					return err
				}
			}
			break
		}
		if rerr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &stream.TransportError{URL: url, Err: rerr}
		}
	}

	if !st.Done {
		return fmt.Errorf("pull of %s ended before completion (last status: %s)", model, st.Status)
	}
	log.Info("model pulled")
	return nil
}

// PullAll downloads models concurrently, at most limit at a time. The first
// failure cancels the rest.
func (p *Puller) PullAll(ctx context.Context, models []string, limit int, fn func(PullStatus)) error {
	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	var mu sync.Mutex
	report := func(st PullStatus) {
		if fn == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		fn(st)
	}
	for _, m := range models {
		m := m
		g.Go(func() error {
			if err := p.Pull(ctx, m, report); err != nil {
				return fmt.Errorf("pull %s: %w", m, err)
			}
			return nil
		})
	}
	return g.Wait()
}
