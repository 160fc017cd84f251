package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/arin/chatstream/internal/stream"
)

// RenderStream reads events from ch and writes text deltas to w in
// real-time. It prepends prefix to the first delta (e.g. "  ") for
// indentation. Returns the full concatenated text and the terminal error.
func RenderStream(w io.Writer, ch <-chan stream.Event, prefix string) (string, error) {
	r := &StreamRenderer{Out: w, Prefix: prefix}
	res, err := r.Render(ch)
	return res.Text, err
}

// StreamRenderer writes a normalized event stream to the terminal.
type StreamRenderer struct {
	Out     io.Writer
	Notices io.Writer // stall and upstream notices; nil drops them
	Prefix  string

	// Spinner, if set, shows notices until the first other event arrives
	// and is stopped then.
	Spinner *Spinner
}

// Render consumes ch until it is closed. The returned text is trimmed.
func (r *StreamRenderer) Render(ch <-chan stream.Event) (stream.Result, error) {
	var res stream.Result
	var full strings.Builder
	var err error
	first := true
	faint := color.New(color.Faint)

	for ev := range ch {
		if r.Spinner != nil && ev.Kind == stream.KindNotice {
			// Still waiting for the answer: say why next to the spinner.
			res.Notices = append(res.Notices, ev.Text)
			r.Spinner.Message(ev.Text)
			continue
		}
		if r.Spinner != nil {
			r.Spinner.Stop()
			r.Spinner = nil
		}

		switch ev.Kind {
		case stream.KindTextDelta:
			if ev.Text == "" {
				continue
			}
			if first {
				fmt.Fprint(r.Out, r.Prefix)
				first = false
			}
			fmt.Fprint(r.Out, ev.Text)
			full.WriteString(ev.Text)
		case stream.KindNotice:
			res.Notices = append(res.Notices, ev.Text)
			if r.Notices != nil {
				faint.Fprintf(r.Notices, "  … %s\n", ev.Text)
			}
		case stream.KindToolCall:
			res.ToolCalls = append(res.ToolCalls, ev.ToolCalls...)
		case stream.KindWebSearch:
			res.WebSearch = ev.WebSearch
		case stream.KindComplete:
			res.Usage, res.StopReason, res.Stats = ev.Usage, ev.StopReason, ev.Stats
		case stream.KindError:
			res.Usage, res.Stats = ev.Usage, ev.Stats
			err = ev.Err
			if err == nil {
				err = fmt.Errorf("%s", ev.Text)
			}
		}
	}

	// Ensure we end with a newline.
	if full.Len() > 0 && !strings.HasSuffix(full.String(), "\n") {
		fmt.Fprintln(r.Out)
	}
	r.renderExtras(res)
	fmt.Fprintln(r.Out)

	res.Text = strings.TrimSpace(full.String())
	return res, err
}

func (r *StreamRenderer) renderExtras(res stream.Result) {
	faint := color.New(color.Faint)
	for _, tc := range res.ToolCalls {
		faint.Fprintf(r.Out, "%s→ tool call: %s %s\n", r.Prefix, tc.Name, string(tc.Arguments))
	}
	if res.WebSearch == nil || len(res.WebSearch.Results) == 0 {
		return
	}

	cyan := color.New(color.FgCyan)
	fmt.Fprintln(r.Out)
	cyan.Fprintf(r.Out, "%sSources (%s):\n", r.Prefix, res.WebSearch.Source)
	for i, s := range res.WebSearch.Results {
		label := s.URL
		if s.Title != "" {
			label = s.Title + " — " + s.URL
		}
		fmt.Fprintf(r.Out, "%s  [%d] %s\n", r.Prefix, i+1, label)
	}
}
