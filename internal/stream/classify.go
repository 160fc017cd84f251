package stream

import (
	"context"
	"errors"
	"time"
)

// Phase is the classifier state. There are no transitions out of Terminated.
type Phase int

const (
	Streaming Phase = iota
	Terminated
)

// ClassifierOptions configure one stream's classifier.
type ClassifierOptions struct {
	Provider    string
	Tags        Tags
	SearchRules []SearchRule

	// Bulk marks a response delivered as a whole rather than in deltas.
	// Content is filtered line by line instead of incrementally.
	Bulk bool
}

// Classifier maps decoded records to normalized events for one stream.
type Classifier struct {
	opts  ClassifierOptions
	phase Phase
	think ThinkState

	searchDone bool
	pendingErr string
	usage      *Usage
	stopReason string

	started    time.Time
	firstDelta time.Time
	chars      int
	deltas     int
}

// NewClassifier returns a classifier in the Streaming phase.
func NewClassifier(opts ClassifierOptions) *Classifier {
	if opts.Tags == nil {
		opts.Tags = DefaultTags
	}
	if opts.SearchRules == nil {
		opts.SearchRules = DefaultSearchRules
	}
	return &Classifier{opts: opts, started: time.Now()}
}

// Phase returns the current phase.
func (c *Classifier) Phase() Phase { return c.phase }

// Terminated reports whether the terminal event has been produced.
func (c *Classifier) Terminated() bool { return c.phase == Terminated }

// Classify returns the events for rec in emission order. A record may yield
// several events, e.g. a citation block, a text delta and the completion.
func (c *Classifier) Classify(rec *Record) []Event {
	if c.phase == Terminated || rec == nil {
		return nil
	}

	var events []Event
	if c.pendingErr != "" {
		if rec.endMarker() {
			// Only the end marker followed, so the error was the last word.
			events = c.flushText()
			return append(events, c.fail(&UpstreamError{Message: c.pendingErr}))
		}
		// More stream followed the error, so it was not fatal.
		events = append(events, Event{Kind: KindNotice, Notice: NoticeUpstream, Text: c.pendingErr})
		c.pendingErr = ""
	}

	if rec.Error != "" {
		if rec.Done {
			return append(events, c.fail(&UpstreamError{Message: rec.Error}))
		}
		c.pendingErr = rec.Error
		return events
	}

	if !c.searchDone {
		if ws := detectWebSearch(c.opts.SearchRules, c.opts.Provider, rec.Raw); ws != nil {
			c.searchDone = true
			events = append(events, Event{Kind: KindWebSearch, WebSearch: ws})
		}
	}

	if len(rec.ToolCalls) > 0 {
		events = append(events, Event{Kind: KindToolCall, ToolCalls: rec.ToolCalls})
	}

	if rec.Content != "" {
		var visible string
		if c.opts.Bulk {
			visible = c.opts.Tags.FilterLines(rec.Content)
		} else {
			visible, c.think = c.opts.Tags.Filter(c.think, rec.Content)
		}
		if ev, ok := c.delta(visible); ok {
			events = append(events, ev)
		}
	}

	if rec.Usage != nil {
		c.usage = rec.Usage
	}
	if rec.DoneReason != "" {
		c.stopReason = rec.DoneReason
	}

	if rec.Done {
		events = append(events, c.complete(StopDone)...)
	}
	return events
}

// Finish ends the stream for a reason outside the record sequence: nil for a
// clean end of body, a context error for cancellation, anything else for a
// transport failure. It returns nil once the stream has terminated.
func (c *Classifier) Finish(cause error) []Event {
	if c.phase == Terminated {
		return nil
	}
	switch {
	case cause == nil:
		if c.pendingErr != "" {
			events := c.flushText()
			return append(events, c.fail(&UpstreamError{Message: c.pendingErr}))
		}
		return c.complete(StopEOF)
	case errors.Is(cause, context.Canceled), errors.Is(cause, context.DeadlineExceeded):
		return c.complete(StopCancelled)
	default:
		events := c.flushText()
		return append(events, c.fail(cause))
	}
}

func (c *Classifier) delta(visible string) (Event, bool) {
	if visible == "" {
		return Event{}, false
	}
	if c.deltas == 0 {
		c.firstDelta = time.Now()
	}
	c.deltas++
	c.chars += len([]rune(visible))
	return Event{Kind: KindTextDelta, Text: visible}, true
}

func (c *Classifier) flushText() []Event {
	var rest string
	rest, c.think = c.opts.Tags.Flush(c.think)
	if ev, ok := c.delta(rest); ok {
		return []Event{ev}
	}
	return nil
}

func (c *Classifier) complete(reason string) []Event {
	events := c.flushText()
	c.phase = Terminated

	usage := c.usage
	if usage == nil {
		// Servers that omit counters still get a completion signal.
		usage = &Usage{CompletionTokens: EstimateTokens(c.chars), Estimated: true}
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}

	stop := reason
	if reason == StopDone && c.stopReason != "" {
		stop = c.stopReason
	}
	return append(events, Event{
		Kind:       KindComplete,
		Usage:      usage,
		StopReason: stop,
		Stats:      c.stats(),
	})
}

func (c *Classifier) fail(err error) Event {
	c.phase = Terminated
	return Event{
		Kind:  KindError,
		Text:  err.Error(),
		Err:   err,
		Usage: c.usage,
		Stats: c.stats(),
	}
}

func (c *Classifier) stats() *Stats {
	s := &Stats{
		Chars:    c.chars,
		Deltas:   c.deltas,
		Duration: time.Since(c.started),
	}
	if !c.firstDelta.IsZero() {
		s.TTFT = c.firstDelta.Sub(c.started)
	}
	return s
}

// EstimateTokens approximates a token count at four characters per token.
func EstimateTokens(chars int) int {
	if chars == 0 {
		return 0
	}
	return (chars + 3) / 4
}
