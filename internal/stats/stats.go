// Package stats provides structured observability for chatstream.
// It tracks per-stream metrics (time to first token, latency, token usage,
// outcome) and persists them to ~/.chatstream/stats.json.
package stats

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/arin/chatstream/internal/config"
	"github.com/arin/chatstream/internal/stream"
)

const (
	fileName   = "stats.json"
	maxRecords = 1000
)

// Stream outcomes.
const (
	OutcomeComplete  = "complete"
	OutcomeCancelled = "cancelled"
	OutcomeError     = "error"
)

// Record is a single instrumented stream.
type Record struct {
	Timestamp        time.Time `json:"timestamp"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	Subcommand       string    `json:"subcommand,omitempty"` // "ask", "chat", "translate", etc.
	TTFTMs           int64     `json:"ttft_ms"`
	LatencyMs        int64     `json:"latency_ms"`
	PromptTokens     int       `json:"prompt_tokens,omitempty"`
	CompletionTokens int       `json:"completion_tokens"`
	Estimated        bool      `json:"estimated,omitempty"`
	Chars            int       `json:"chars"`
	Outcome          string    `json:"outcome"`
	StopReason       string    `json:"stop_reason,omitempty"`
	WebSearch        bool      `json:"web_search,omitempty"`
}

// FromResult builds a record from a drained stream and its terminal error.
func FromResult(provider, model, subcommand string, res stream.Result, err error) Record {
	r := Record{
		Provider:   provider,
		Model:      model,
		Subcommand: subcommand,
		StopReason: res.StopReason,
		WebSearch:  res.WebSearch != nil,
	}
	switch {
	case err != nil:
		r.Outcome = OutcomeError
	case res.StopReason == stream.StopCancelled:
		r.Outcome = OutcomeCancelled
	default:
		r.Outcome = OutcomeComplete
	}
	if res.Usage != nil {
		r.PromptTokens = res.Usage.PromptTokens
		r.CompletionTokens = res.Usage.CompletionTokens
		r.Estimated = res.Usage.Estimated
	}
	if res.Stats != nil {
		r.TTFTMs = res.Stats.TTFT.Milliseconds()
		r.LatencyMs = res.Stats.Duration.Milliseconds()
		r.Chars = res.Stats.Chars
	}
	return r
}

// Summary is the aggregated stats dashboard.
type Summary struct {
	TotalStreams      int            `json:"total_streams"`
	SuccessRate       float64        `json:"success_rate"`
	CancelledCount    int            `json:"cancelled_count"`
	AvgTTFTMs         int64          `json:"avg_ttft_ms"`
	AvgLatencyMs      int64          `json:"avg_latency_ms"`
	TokensPerSecond   float64        `json:"tokens_per_second"`
	TotalTokens       int            `json:"total_tokens"`
	WebSearchCount    int            `json:"web_search_count"`
	ProviderBreakdown map[string]int `json:"provider_breakdown"`
	SubcmdBreakdown   map[string]int `json:"subcmd_breakdown"`
	TopModels         []ModelCount   `json:"top_models"`
	TodayCount        int            `json:"today_count"`
	ThisWeekCount     int            `json:"this_week_count"`
}

// ModelCount pairs a model with its usage count.
type ModelCount struct {
	Model string `json:"model"`
	Count int    `json:"count"`
}

var fileMu sync.Mutex

func statsPath() string {
	return filepath.Join(config.Dir(), fileName)
}

// Save appends a new record to the stats file.
func Save(r Record) error {
	fileMu.Lock()
	defer fileMu.Unlock()

	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}

	records, _ := loadAll()
	records = append(records, r)

	if len(records) > maxRecords {
		records = records[len(records)-maxRecords:]
	}

	if err := os.MkdirAll(config.Dir(), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(statsPath(), data, 0o600)
}

// LoadAll returns all stored records.
func LoadAll() ([]Record, error) {
	fileMu.Lock()
	defer fileMu.Unlock()
	return loadAll()
}

func loadAll() ([]Record, error) {
	data, err := os.ReadFile(statsPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// Summarize computes aggregated stats from all records.
func Summarize() (*Summary, error) {
	records, err := LoadAll()
	if err != nil {
		return nil, err
	}

	s := &Summary{
		TotalStreams:      len(records),
		ProviderBreakdown: map[string]int{},
		SubcmdBreakdown:   map[string]int{},
	}
	if len(records) == 0 {
		return s, nil
	}

	var totalLatency, totalTTFT, genMs int64
	var ttftCount, successCount, genTokens int
	modelFreq := map[string]int{}
	now := time.Now()
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	weekAgo := now.AddDate(0, 0, -7)

	for _, r := range records {
		switch r.Outcome {
		case OutcomeComplete:
			successCount++
		case OutcomeCancelled:
			s.CancelledCount++
		}
		totalLatency += r.LatencyMs
		if r.TTFTMs > 0 {
			totalTTFT += r.TTFTMs
			ttftCount++
		}
		// Generation speed excludes the wait for the first token.
		if r.Outcome == OutcomeComplete && r.LatencyMs > r.TTFTMs && r.CompletionTokens > 0 {
			genTokens += r.CompletionTokens
			genMs += r.LatencyMs - r.TTFTMs
		}
		s.TotalTokens += r.PromptTokens + r.CompletionTokens
		if r.WebSearch {
			s.WebSearchCount++
		}
		if r.Provider != "" {
			s.ProviderBreakdown[r.Provider]++
		}
		if r.Subcommand != "" {
			s.SubcmdBreakdown[r.Subcommand]++
		}
		if r.Model != "" {
			modelFreq[r.Model]++
		}
		if !r.Timestamp.Before(today) {
			s.TodayCount++
		}
		if r.Timestamp.After(weekAgo) {
			s.ThisWeekCount++
		}
	}

	s.SuccessRate = float64(successCount) / float64(len(records)) * 100
	s.AvgLatencyMs = totalLatency / int64(len(records))
	if ttftCount > 0 {
		s.AvgTTFTMs = totalTTFT / int64(ttftCount)
	}
	if genMs > 0 {
		s.TokensPerSecond = float64(genTokens) / (float64(genMs) / 1000)
	}

	// Top 5 models by frequency.
	s.TopModels = topN(modelFreq, 5)

	return s, nil
}

func topN(freq map[string]int, n int) []ModelCount {
	all := make([]ModelCount, 0, len(freq))
	for model, count := range freq {
		all = append(all, ModelCount{Model: model, Count: count})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Count != all[j].Count {
			return all[i].Count > all[j].Count
		}
		return all[i].Model < all[j].Model
	})
	if len(all) > n {
		all = all[:n]
	}
	return all
}
