package ui

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"
	"golang.org/x/time/rate"

	"github.com/arin/chatstream/internal/ai"
)

// PullPrinter prints model download progress, at most a few lines per
// second per model. Status changes and completion are always printed.
type PullPrinter struct {
	mu       sync.Mutex
	w        io.Writer
	every    time.Duration
	limiters map[string]*rate.Limiter
	last     map[string]string
}

// NewPullPrinter returns a printer writing to w at most once per interval
// per model.
func NewPullPrinter(w io.Writer, interval time.Duration) *PullPrinter {
	return &PullPrinter{
		w:        w,
		every:    interval,
		limiters: make(map[string]*rate.Limiter),
		last:     make(map[string]string),
	}
}

// Update prints st if it is due.
func (p *PullPrinter) Update(st ai.PullStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()

	lim, ok := p.limiters[st.Model]
	if !ok {
		lim = rate.NewLimiter(rate.Every(p.every), 1)
		p.limiters[st.Model] = lim
	}

	changed := p.last[st.Model] != st.Status
	p.last[st.Model] = st.Status
	allowed := lim.Allow()
	if !changed && !st.Done && !allowed {
		return
	}

	if st.Done {
		color.New(color.FgGreen).Fprintf(p.w, "  ✓ %s pulled\n", st.Model)
		return
	}
	if pct := st.Percent(); pct >= 0 {
		fmt.Fprintf(p.w, "  %s  %-28s %5.1f%%  %s / %s\n", st.Model, st.Status, pct, FormatBytes(st.Completed), FormatBytes(st.Total))
		return
	}
	fmt.Fprintf(p.w, "  %s  %s\n", st.Model, st.Status)
}

// FormatBytes renders n with a binary unit.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// Interrupted prints where each unfinished download stopped.
func (p *PullPrinter) Interrupted(unfinished []ai.PullStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()

	yellow := color.New(color.FgYellow)
	for _, st := range unfinished {
		if pct := st.Percent(); pct >= 0 {
			yellow.Fprintf(p.w, "  ✗ %s stopped at %.1f%% (%s)\n", st.Model, pct, st.Status)
			continue
		}
		yellow.Fprintf(p.w, "  ✗ %s stopped (%s)\n", st.Model, st.Status)
	}
}
