// Package stream normalizes long-lived LLM HTTP responses into a small set
// of events. Bytes from the response body are reassembled into lines,
// decoded into records, stripped of thinking blocks and classified into
// text deltas, tool calls, web-search results and a single terminal event.
package stream

import (
	"encoding/json"
	"time"
)

// Kind identifies the variant carried by an Event.
type Kind int

const (
	KindTextDelta Kind = iota
	KindToolCall
	KindWebSearch
	KindNotice
	KindComplete
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindTextDelta:
		return "text_delta"
	case KindToolCall:
		return "tool_call"
	case KindWebSearch:
		return "web_search_complete"
	case KindNotice:
		return "notice"
	case KindComplete:
		return "response_complete"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// NoticeKind tells advisory notices apart. Notices never end a stream.
type NoticeKind int

const (
	NoticeStall    NoticeKind = iota + 1 // no data for the stall interval
	NoticeUpstream                       // server reported an error but kept streaming
)

// Stop reasons reported on KindComplete.
const (
	StopDone      = "stop"
	StopEOF       = "eof"
	StopCancelled = "cancelled"
)

// Event is the only type consumers observe.
type Event struct {
	Kind Kind

	// Text is the delta for KindTextDelta, the message for KindNotice and
	// the user-readable message for KindError.
	Text string

	Notice    NoticeKind
	ToolCalls []ToolCall
	WebSearch *WebSearch

	// Set on terminal events only.
	Usage      *Usage
	StopReason string
	Stats      *Stats
	Err        error
}

// Terminal reports whether e ends the stream.
func (e Event) Terminal() bool {
	return e.Kind == KindComplete || e.Kind == KindError
}

// Handler receives events in order. It is never called concurrently.
type Handler func(Event)

// Usage holds token counters. Estimated is true when the server sent none.
type Usage struct {
	PromptTokens     int  `json:"prompt_tokens"`
	CompletionTokens int  `json:"completion_tokens"`
	TotalTokens      int  `json:"total_tokens"`
	Estimated        bool `json:"estimated,omitempty"`
}

// ToolCall is a normalized function call requested by the model.
type ToolCall struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// WebSearch carries citations or search results detected in a stream.
type WebSearch struct {
	Source  string         `json:"source"`
	Results []SearchResult `json:"results"`
}

// SearchResult is one citation.
type SearchResult struct {
	Title   string `json:"title,omitempty"`
	URL     string `json:"url"`
	Content string `json:"content,omitempty"`
}

// Stats describes what a stream delivered.
type Stats struct {
	Chars    int
	Deltas   int
	TTFT     time.Duration
	Duration time.Duration
}
