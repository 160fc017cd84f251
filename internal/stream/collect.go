package stream

import "strings"

// TextHandler adapts a (text, isComplete) callback to a Handler. fn receives
// the accumulated visible text after every delta and exactly one final call
// with complete set, even when nothing was produced. Empty final text is
// subject to policy.
func TextHandler(policy EmptyPolicy, fn func(text string, complete bool)) Handler {
	var acc strings.Builder
	return func(ev Event) {
		switch ev.Kind {
		case KindTextDelta:
			acc.WriteString(ev.Text)
			fn(acc.String(), false)
		case KindComplete, KindError:
			fn(ApplyEmptyPolicy(acc.String(), policy), true)
		}
	}
}

// Result is everything a drained stream produced.
type Result struct {
	Text       string
	Usage      *Usage
	StopReason string
	WebSearch  *WebSearch
	ToolCalls  []ToolCall
	Notices    []string
	Stats      *Stats
}

// Collect drains ch. The error is the terminal Error event's, if any.
func Collect(ch <-chan Event) (Result, error) {
	var res Result
	var text strings.Builder
	var err error
	for ev := range ch {
		switch ev.Kind {
		case KindTextDelta:
			text.WriteString(ev.Text)
		case KindToolCall:
			res.ToolCalls = append(res.ToolCalls, ev.ToolCalls...)
		case KindWebSearch:
			res.WebSearch = ev.WebSearch
		case KindNotice:
			res.Notices = append(res.Notices, ev.Text)
		case KindComplete:
			res.Usage = ev.Usage
			res.StopReason = ev.StopReason
			res.Stats = ev.Stats
		case KindError:
			res.Usage = ev.Usage
			res.Stats = ev.Stats
			err = ev.Err
		}
	}
	res.Text = text.String()
	return res, err
}
