package stats

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/arin/chatstream/internal/stream"
)

func setupTestDir(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	os.MkdirAll(filepath.Join(dir, ".chatstream"), 0o700)
}

func ok(model string, latencyMs int64) Record {
	return Record{Provider: "ollama", Model: model, Subcommand: "ask", LatencyMs: latencyMs, Outcome: OutcomeComplete}
}

func TestSaveAndLoadAll(t *testing.T) {
	setupTestDir(t)

	err := Save(Record{
		Provider:         "ollama",
		Model:            "qwen3:8b",
		Subcommand:       "ask",
		TTFTMs:           120,
		LatencyMs:        900,
		CompletionTokens: 42,
		Outcome:          OutcomeComplete,
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	records, err := LoadAll()
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].Model != "qwen3:8b" || records[0].TTFTMs != 120 {
		t.Errorf("unexpected record: %+v", records[0])
	}
	if records[0].Timestamp.IsZero() {
		t.Error("Save should stamp the record")
	}
}

func TestSave_MultipleRecords(t *testing.T) {
	setupTestDir(t)

	for i := 0; i < 5; i++ {
		Save(ok("m", 100))
	}

	records, _ := LoadAll()
	if len(records) != 5 {
		t.Fatalf("expected 5 records, got %d", len(records))
	}
}

func TestFromResult(t *testing.T) {
	res := stream.Result{
		StopReason: stream.StopDone,
		Usage:      &stream.Usage{PromptTokens: 10, CompletionTokens: 20, Estimated: true},
		Stats:      &stream.Stats{Chars: 80, TTFT: 250 * time.Millisecond, Duration: 2 * time.Second},
		WebSearch:  &stream.WebSearch{Source: stream.SourceZhipu},
	}
	r := FromResult("zhipu", "glm-4", "ask", res, nil)
	if r.Outcome != OutcomeComplete || r.TTFTMs != 250 || r.LatencyMs != 2000 {
		t.Errorf("unexpected timing/outcome: %+v", r)
	}
	if r.PromptTokens != 10 || r.CompletionTokens != 20 || !r.Estimated || r.Chars != 80 || !r.WebSearch {
		t.Errorf("unexpected usage fields: %+v", r)
	}

	r = FromResult("ollama", "m", "chat", stream.Result{StopReason: stream.StopCancelled}, nil)
	if r.Outcome != OutcomeCancelled {
		t.Errorf("expected cancelled outcome, got %q", r.Outcome)
	}

	r = FromResult("ollama", "m", "chat", stream.Result{}, errors.New("boom"))
	if r.Outcome != OutcomeError {
		t.Errorf("expected error outcome, got %q", r.Outcome)
	}
}

func TestSummarize_Empty(t *testing.T) {
	setupTestDir(t)

	s, err := Summarize()
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if s.TotalStreams != 0 {
		t.Errorf("expected 0 streams, got %d", s.TotalStreams)
	}
	if s.ProviderBreakdown == nil {
		t.Error("breakdown maps should be non-nil")
	}
}

func TestSummarize_WithData(t *testing.T) {
	setupTestDir(t)

	Save(Record{Provider: "ollama", Model: "llama3", Subcommand: "ask", TTFTMs: 100, LatencyMs: 1100, CompletionTokens: 50, Outcome: OutcomeComplete})
	Save(Record{Provider: "ollama", Model: "llama3", Subcommand: "chat", TTFTMs: 300, LatencyMs: 1300, CompletionTokens: 50, Outcome: OutcomeComplete, WebSearch: true})
	Save(Record{Provider: "perplexity", Model: "sonar", Subcommand: "ask", LatencyMs: 600, Outcome: OutcomeError})
	Save(Record{Provider: "ollama", Model: "llama3", Subcommand: "chat", LatencyMs: 200, Outcome: OutcomeCancelled})

	s, err := Summarize()
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if s.TotalStreams != 4 {
		t.Errorf("expected 4 streams, got %d", s.TotalStreams)
	}
	if s.SuccessRate != 50 {
		t.Errorf("expected 50%% success rate, got %.0f%%", s.SuccessRate)
	}
	if s.CancelledCount != 1 {
		t.Errorf("expected 1 cancelled stream, got %d", s.CancelledCount)
	}
	if s.AvgTTFTMs != 200 {
		t.Errorf("expected avg TTFT 200ms, got %d", s.AvgTTFTMs)
	}
	if s.AvgLatencyMs != 800 {
		t.Errorf("expected avg latency 800ms, got %d", s.AvgLatencyMs)
	}
	// 100 tokens over 2000ms of generation.
	if s.TokensPerSecond != 50 {
		t.Errorf("expected 50 tokens/s, got %.1f", s.TokensPerSecond)
	}
	if s.ProviderBreakdown["ollama"] != 3 || s.ProviderBreakdown["perplexity"] != 1 {
		t.Errorf("unexpected provider breakdown: %v", s.ProviderBreakdown)
	}
	if s.SubcmdBreakdown["chat"] != 2 {
		t.Errorf("expected 2 chat streams, got %d", s.SubcmdBreakdown["chat"])
	}
	if s.WebSearchCount != 1 {
		t.Errorf("expected 1 web search, got %d", s.WebSearchCount)
	}
	if len(s.TopModels) == 0 || s.TopModels[0].Model != "llama3" || s.TopModels[0].Count != 3 {
		t.Errorf("expected top model llama3 x3, got %+v", s.TopModels)
	}
	if s.TodayCount != 4 || s.ThisWeekCount != 4 {
		t.Errorf("expected 4 today and this week, got %d / %d", s.TodayCount, s.ThisWeekCount)
	}
}

func TestSummarize_TopN(t *testing.T) {
	setupTestDir(t)

	for i := 0; i < 10; i++ {
		Save(ok("llama3", 100))
	}
	for i := 0; i < 5; i++ {
		Save(ok("qwen3", 100))
	}
	for i := 0; i < 3; i++ {
		Save(ok("mistral", 100))
	}
	for _, m := range []string{"phi4", "gemma3", "deepseek-r1", "granite"} {
		Save(ok(m, 100))
	}

	s, _ := Summarize()
	if len(s.TopModels) != 5 {
		t.Fatalf("expected 5 top models, got %d", len(s.TopModels))
	}
	if s.TopModels[0].Model != "llama3" || s.TopModels[0].Count != 10 {
		t.Errorf("expected top model llama3 x10, got %+v", s.TopModels[0])
	}
}

func TestLoadAll_NoFile(t *testing.T) {
	setupTestDir(t)

	records, err := LoadAll()
	if err != nil {
		t.Fatalf("LoadAll on missing file should not error: %v", err)
	}
	if records != nil {
		t.Errorf("expected nil records, got %v", records)
	}
}

func TestSave_CapsAt1000(t *testing.T) {
	setupTestDir(t)

	for i := 0; i < 1010; i++ {
		Save(ok("m", 100))
	}

	records, _ := LoadAll()
	if len(records) != maxRecords {
		t.Errorf("expected %d records, got %d", maxRecords, len(records))
	}
}

func TestSummarize_AllFailed(t *testing.T) {
	setupTestDir(t)

	Save(Record{Model: "m", Outcome: OutcomeError})
	Save(Record{Model: "m", Outcome: OutcomeError})

	s, _ := Summarize()
	if s.SuccessRate != 0 {
		t.Errorf("expected 0%% success rate, got %.0f%%", s.SuccessRate)
	}
	if s.TokensPerSecond != 0 {
		t.Errorf("failed streams should not count toward speed, got %.1f", s.TokensPerSecond)
	}
}

func TestTopN_LessThanN(t *testing.T) {
	freq := map[string]int{"llama3": 5, "qwen3": 3}
	result := topN(freq, 10)
	if len(result) != 2 {
		t.Errorf("expected 2 results when fewer than N, got %d", len(result))
	}
	if result[0].Model != "llama3" || result[0].Count != 5 {
		t.Errorf("expected top model 'llama3' with count 5, got %+v", result[0])
	}
}

func TestTopN_Empty(t *testing.T) {
	result := topN(map[string]int{}, 5)
	if len(result) != 0 {
		t.Errorf("expected 0 results for empty map, got %d", len(result))
	}
}

func TestTopN_TiesSortByName(t *testing.T) {
	result := topN(map[string]int{"b": 2, "a": 2, "c": 1}, 3)
	if result[0].Model != "a" || result[1].Model != "b" || result[2].Model != "c" {
		t.Errorf("unexpected order: %+v", result)
	}
}
