package stream

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func classifyLines(c *Classifier, lines ...string) []Event {
	var events []Event
	for _, l := range lines {
		rec, err := Decode(l)
		if err != nil {
			continue
		}
		events = append(events, c.Classify(rec)...)
	}
	return events
}

func kinds(events []Event) []Kind {
	out := make([]Kind, len(events))
	for i, e := range events {
		out[i] = e.Kind
	}
	return out
}

func TestClassify_TextThenDone(t *testing.T) {
	c := NewClassifier(ClassifierOptions{})
	events := classifyLines(c,
		`{"message":{"content":"Hel"},"done":false}`,
		`{"message":{"content":"lo"},"done":false}`,
		`{"done":true}`,
	)
	require.Equal(t, []Kind{KindTextDelta, KindTextDelta, KindComplete}, kinds(events))
	assert.Equal(t, "Hel", events[0].Text)
	assert.Equal(t, "lo", events[1].Text)

	done := events[2]
	require.NotNil(t, done.Usage)
	assert.True(t, done.Usage.Estimated)
	assert.Equal(t, 2, done.Usage.CompletionTokens) // 5 chars
	assert.Equal(t, StopDone, done.StopReason)
	require.NotNil(t, done.Stats)
	assert.Equal(t, 5, done.Stats.Chars)
	assert.Equal(t, 2, done.Stats.Deltas)
	assert.True(t, c.Terminated())
}

func TestClassify_ThinkingNeverSurfaces(t *testing.T) {
	c := NewClassifier(ClassifierOptions{})
	events := classifyLines(c, `{"message":{"content":"<think>skip</think>visible"},"done":false}`)
	require.Len(t, events, 1)
	assert.Equal(t, Event{Kind: KindTextDelta, Text: "visible"}, events[0])
}

func TestClassify_ServerUsageKept(t *testing.T) {
	c := NewClassifier(ClassifierOptions{})
	events := classifyLines(c, `{"message":{"content":"x"}}`, `{"done":true,"done_reason":"length","prompt_eval_count":4,"eval_count":9}`)
	last := events[len(events)-1]
	require.Equal(t, KindComplete, last.Kind)
	assert.Equal(t, &Usage{PromptTokens: 4, CompletionTokens: 9, TotalTokens: 13}, last.Usage)
	assert.Equal(t, "length", last.StopReason)
}

func TestClassify_NoOpAfterTerminated(t *testing.T) {
	c := NewClassifier(ClassifierOptions{})
	classifyLines(c, `{"done":true}`)
	require.True(t, c.Terminated())

	assert.Empty(t, classifyLines(c, `{"message":{"content":"late"}}`, `{"done":true}`))
	assert.Empty(t, c.Finish(nil))
	assert.Empty(t, c.Finish(errors.New("boom")))
	assert.Equal(t, Terminated, c.Phase())
}

func TestClassify_UpstreamErrorMidStreamIsNotice(t *testing.T) {
	c := NewClassifier(ClassifierOptions{})
	events := classifyLines(c,
		`{"message":{"content":"a"}}`,
		`{"error":"temporary glitch"}`,
		`{"message":{"content":"b"}}`,
		`{"done":true}`,
	)
	require.Equal(t, []Kind{KindTextDelta, KindNotice, KindTextDelta, KindComplete}, kinds(events))
	assert.Equal(t, NoticeUpstream, events[1].Notice)
	assert.Equal(t, "temporary glitch", events[1].Text)
}

func TestClassify_UpstreamErrorLastIsTerminal(t *testing.T) {
	c := NewClassifier(ClassifierOptions{})
	events := classifyLines(c, `{"message":{"content":"a"}}`, `{"error":"model crashed"}`)
	require.Equal(t, []Kind{KindTextDelta}, kinds(events))

	final := c.Finish(nil)
	require.Len(t, final, 1)
	assert.Equal(t, KindError, final[0].Kind)
	assert.Equal(t, "model crashed", final[0].Text)
	assert.True(t, errors.Is(final[0].Err, ErrUpstream))
}

func TestClassify_UpstreamErrorBeforeEndMarkerIsTerminal(t *testing.T) {
	c := NewClassifier(ClassifierOptions{Provider: "openrouter"})
	events := classifyLines(c,
		`data: {"choices":[{"delta":{"content":"hi"}}]}`,
		`data: {"error":{"message":"provider overloaded"}}`,
		`data: [DONE]`,
	)
	require.Equal(t, []Kind{KindTextDelta, KindError}, kinds(events))
	assert.Equal(t, "provider overloaded", events[1].Text)
	assert.True(t, errors.Is(events[1].Err, ErrUpstream))
	assert.True(t, c.Terminated())
	assert.Nil(t, c.Finish(nil))
}

func TestClassify_UpstreamErrorBeforeDoneWithUsageIsNotice(t *testing.T) {
	c := NewClassifier(ClassifierOptions{})
	events := classifyLines(c,
		`{"message":{"content":"a"}}`,
		`{"error":"slow down"}`,
		`{"done":true,"prompt_eval_count":3,"eval_count":1}`,
	)
	require.Equal(t, []Kind{KindTextDelta, KindNotice, KindComplete}, kinds(events))
}

func TestClassify_ErrorWithDoneTerminatesImmediately(t *testing.T) {
	c := NewClassifier(ClassifierOptions{})
	events := classifyLines(c, `{"error":"bad","done":true}`)
	require.Equal(t, []Kind{KindError}, kinds(events))
	assert.True(t, c.Terminated())
}

func TestClassify_FinishCauses(t *testing.T) {
	tests := []struct {
		name  string
		cause error
		kind  Kind
		stop  string
	}{
		{"eof", nil, KindComplete, StopEOF},
		{"cancelled", context.Canceled, KindComplete, StopCancelled},
		{"deadline", context.DeadlineExceeded, KindComplete, StopCancelled},
		{"transport", &TransportError{URL: "http://x", Err: errors.New("reset")}, KindError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClassifier(ClassifierOptions{})
			events := c.Finish(tt.cause)
			require.Len(t, events, 1)
			assert.Equal(t, tt.kind, events[0].Kind)
			assert.Equal(t, tt.stop, events[0].StopReason)
		})
	}
}

func TestClassify_FinishFlushesHeldBackText(t *testing.T) {
	c := NewClassifier(ClassifierOptions{})
	events := classifyLines(c, `{"message":{"content":"a <thi"}}`)
	require.Len(t, events, 1)
	assert.Equal(t, "a ", events[0].Text)

	final := c.Finish(nil)
	require.Equal(t, []Kind{KindTextDelta, KindComplete}, kinds(final))
	assert.Equal(t, "<thi", final[0].Text)
}

func TestClassify_WebSearchOncePerStream(t *testing.T) {
	c := NewClassifier(ClassifierOptions{Provider: "perplexity"})
	events := classifyLines(c,
		`data: {"citations":["https://a.example"],"choices":[{"delta":{"content":"One"}}]}`,
		`data: {"citations":["https://b.example"],"choices":[{"delta":{"content":"Two"}}]}`,
		`data: [DONE]`,
	)
	require.Equal(t, []Kind{KindWebSearch, KindTextDelta, KindTextDelta, KindComplete}, kinds(events))
	ws := events[0].WebSearch
	assert.Equal(t, SourcePerplexity, ws.Source)
	assert.Equal(t, []SearchResult{{URL: "https://a.example"}}, ws.Results)
}

func TestClassify_WebSearchRulePriority(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		line     string
		source   string
		first    SearchResult
	}{
		{
			name:     "native annotations beat citations",
			provider: "openrouter",
			line:     `{"citations":["https://c"],"choices":[{"delta":{"annotations":[{"type":"url_citation","url_citation":{"title":"T","url":"https://n"}}]}}]}`,
			source:   SourceOpenAI,
			first:    SearchResult{Title: "T", URL: "https://n"},
		},
		{
			name:     "openrouter citations",
			provider: "openrouter",
			line:     `{"citations":["https://o"]}`,
			source:   SourceOpenRouter,
			first:    SearchResult{URL: "https://o"},
		},
		{
			name:     "perplexity citations",
			provider: "perplexity",
			line:     `{"citations":["https://p"],"search_results":[{"title":"S","url":"https://s"}]}`,
			source:   SourcePerplexity,
			first:    SearchResult{URL: "https://p"},
		},
		{
			name:     "perplexity search results",
			provider: "perplexity",
			line:     `{"search_results":[{"title":"S","url":"https://s","snippet":"sn"}]}`,
			source:   SourcePerplexity,
			first:    SearchResult{Title: "S", URL: "https://s", Content: "sn"},
		},
		{
			name:     "zhipu web_search",
			provider: "zhipu",
			line:     `{"web_search":[{"title":"Z","link":"https://z","content":"zc"}]}`,
			source:   SourceZhipu,
			first:    SearchResult{Title: "Z", URL: "https://z", Content: "zc"},
		},
		{
			name:     "hunyuan search_info",
			provider: "hunyuan",
			line:     `{"search_info":{"search_results":[{"index":1,"title":"H","url":"https://h"}]}}`,
			source:   SourceHunyuan,
			first:    SearchResult{Title: "H", URL: "https://h"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClassifier(ClassifierOptions{Provider: tt.provider})
			events := classifyLines(c, tt.line)
			require.NotEmpty(t, events)
			require.Equal(t, KindWebSearch, events[0].Kind)
			assert.Equal(t, tt.source, events[0].WebSearch.Source)
			require.NotEmpty(t, events[0].WebSearch.Results)
			assert.Equal(t, tt.first, events[0].WebSearch.Results[0])
		})
	}
}

func TestClassify_EmptyCitationsIgnored(t *testing.T) {
	c := NewClassifier(ClassifierOptions{Provider: "perplexity"})
	assert.Empty(t, classifyLines(c, `{"citations":[]}`))
}

func TestClassify_ToolCall(t *testing.T) {
	c := NewClassifier(ClassifierOptions{})
	events := classifyLines(c, `{"message":{"tool_calls":[{"function":{"name":"ls","arguments":{}}}]}}`)
	require.Equal(t, []Kind{KindToolCall}, kinds(events))
	assert.Equal(t, "ls", events[0].ToolCalls[0].Name)
}

func TestClassify_BulkUsesLineFilter(t *testing.T) {
	c := NewClassifier(ClassifierOptions{Bulk: true})
	events := classifyLines(c, `{"message":{"content":"<think>\nplan\n</think>\nanswer"},"done":true}`)
	require.Equal(t, []Kind{KindTextDelta, KindComplete}, kinds(events))
	assert.Equal(t, "answer", events[0].Text)
}
