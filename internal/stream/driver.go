package stream

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultStallInterval   = 15 * time.Second
	DefaultStallMaxRepeats = 3
	defaultReadSize        = 4096
	maxErrorBody           = 4096
)

// LevelTrace is below slog.LevelDebug and logs every raw line.
const LevelTrace = slog.LevelDebug - 4

// Request is an already-negotiated streaming call.
type Request struct {
	// ID identifies the stream in logs. A random one is assigned when empty.
	ID       string
	Provider string
	Model    string
	HTTP     *http.Request

	// Bulk marks a non-streamed response; see ClassifierOptions.Bulk.
	Bulk bool

	// DescribeStatus makes non-2xx responses user-readable. Optional.
	DescribeStatus StatusDescriber
}

// Driver runs requests and turns their bodies into events.
type Driver struct {
	client      *http.Client
	logger      *slog.Logger
	stallEvery  time.Duration
	stallMax    int
	tags        Tags
	searchRules []SearchRule
	readSize    int
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) { d.logger = l }
}

// WithStall sets the no-data notice interval and how many notices a single
// stall may produce. maxRepeats <= 0 means no limit; interval <= 0 disables
// the watchdog.
func WithStall(interval time.Duration, maxRepeats int) Option {
	return func(d *Driver) {
		d.stallEvery = interval
		d.stallMax = maxRepeats
	}
}

// WithTags replaces the thinking delimiters.
func WithTags(t Tags) Option {
	return func(d *Driver) { d.tags = t }
}

// WithSearchRules replaces the web-search detection table.
func WithSearchRules(rules []SearchRule) Option {
	return func(d *Driver) { d.searchRules = rules }
}

// WithReadSize sets the size of each body read.
func WithReadSize(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.readSize = n
		}
	}
}

// NewDriver returns a Driver using client. A nil client means http.DefaultClient.
func NewDriver(client *http.Client, opts ...Option) *Driver {
	if client == nil {
		client = http.DefaultClient
	}
	d := &Driver{
		client:     client,
		logger:     slog.Default(),
		stallEvery: DefaultStallInterval,
		stallMax:   DefaultStallMaxRepeats,
		tags:       DefaultTags,
		readSize:   defaultReadSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

// Start runs req in a goroutine. The channel receives every event and is
// closed after the terminal one.
func (d *Driver) Start(ctx context.Context, req Request) <-chan Event {
	ch := make(chan Event, 16)
	go func() {
		defer close(ch)
		d.Run(ctx, req, func(ev Event) { ch <- ev })
	}()
	return ch
}

// Run performs req and calls handle for each event. It returns after the
// terminal event has been delivered, which happens exactly once on every
// path: completion, error, cancellation or a panic while decoding.
func (d *Driver) Run(ctx context.Context, req Request, handle Handler) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	log := d.logger.With("stream", req.ID, "provider", req.Provider, "model", req.Model)
	cls := NewClassifier(ClassifierOptions{
		Provider:    req.Provider,
		Tags:        d.tags,
		SearchRules: d.searchRules,
		Bulk:        req.Bulk,
	})
	em := &emitter{handle: handle, log: log}

	defer func() {
		if r := recover(); r != nil {
			log.Error("stream aborted", "panic", r)
			em.emitAll(cls.Finish(fmt.Errorf("stream aborted: %v", r)))
		}
		if !em.closed() {
			em.emit(Event{Kind: KindError, Text: "stream ended without a result", Err: ErrTransport})
		}
	}()

	if err := ctx.Err(); err != nil {
		log.Debug("cancelled before request")
		em.emitAll(cls.Finish(err))
		return
	}
	if req.HTTP == nil {
		em.emitAll(cls.Finish(fmt.Errorf("%w: no request to send", ErrTransport)))
		return
	}

	// Servers loading a model send no headers until the first chunk, so the
	// watchdog covers the wait for the response too.
	wd := d.watch(em, log)
	defer wd.stop()

	httpReq := req.HTTP.WithContext(ctx)
	resp, err := d.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			em.emitAll(cls.Finish(ctx.Err()))
			return
		}
		log.Warn("request failed", "err", err)
		em.emitAll(cls.Finish(&TransportError{URL: httpReq.URL.String(), Err: err}))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		em.emitAll(cls.Finish(protocolError(req, resp)))
		return
	}

	wd.touch()
	d.read(ctx, resp.Body, httpReq.URL.String(), cls, em, wd, log)
}

func (d *Driver) read(ctx context.Context, body io.Reader, url string, cls *Classifier, em *emitter, wd *watchdog, log *slog.Logger) {
	lines := NewLineReassembler()
	buf := make([]byte, d.readSize)

	handleLine := func(line string) {
		log.Log(ctx, LevelTrace, "line", "raw", line)
		rec, err := Decode(line)
		if err != nil {
			log.Debug("skipping malformed line", "err", err)
			return
		}
		em.emitAll(cls.Classify(rec))
	}

	for !cls.Terminated() {
		if err := ctx.Err(); err != nil {
			log.Debug("cancelled")
			em.emitAll(cls.Finish(err))
			return
		}

		n, rerr := body.Read(buf)
		if n > 0 {
			wd.touch()
			for _, line := range lines.Feed(buf[:n]) {
				handleLine(line)
				if cls.Terminated() {
					return
				}
			}
		}

		switch {
		case rerr == io.EOF:
			if last, ok := lines.Flush(); ok {
				handleLine(last)
			}
			em.emitAll(cls.Finish(nil))
			return
		case rerr != nil:
			if ctx.Err() != nil {
				em.emitAll(cls.Finish(ctx.Err()))
				return
			}
			log.Warn("read failed", "err", rerr)
			em.emitAll(cls.Finish(&TransportError{URL: url, Err: rerr}))
			return
		}
	}
}

func protocolError(req Request, resp *http.Response) *ProtocolError {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	body := string(snippet)
	pe := &ProtocolError{
		Provider:   req.Provider,
		StatusCode: resp.StatusCode,
		Body:       body,
	}
	if req.DescribeStatus != nil {
		pe.Message = req.DescribeStatus(resp.StatusCode, body)
	}
	if pe.Message == "" {
		pe.Message = DescribeStatus(resp.StatusCode, body)
	}
	return pe
}

// emitter serialises callbacks and drops everything after the terminal event.
type emitter struct {
	mu     sync.Mutex
	handle Handler
	log    *slog.Logger
	done   bool
}

func (e *emitter) emit(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return
	}
	if ev.Terminal() {
		e.done = true
		if e.log != nil {
			e.log.Debug("stream finished", "kind", ev.Kind, "stop", ev.StopReason, "err", ev.Err)
		}
	}
	e.handle(ev)
}

func (e *emitter) emitAll(events []Event) {
	for _, ev := range events {
		e.emit(ev)
	}
}

func (e *emitter) closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

// watchdog emits stall notices while no data arrives. It only calls the
// emitter and never touches decode state.
type watchdog struct {
	activity chan struct{}
	quit     chan struct{}
	wg       sync.WaitGroup
}

func (d *Driver) watch(em *emitter, log *slog.Logger) *watchdog {
	w := &watchdog{
		activity: make(chan struct{}, 1),
		quit:     make(chan struct{}),
	}
	if d.stallEvery <= 0 {
		return w
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		t := time.NewTimer(d.stallEvery)
		defer t.Stop()
		repeats := 0
		for {
			select {
			case <-w.quit:
				return
			case <-w.activity:
				repeats = 0
				t.Reset(d.stallEvery)
			case <-t.C:
				if d.stallMax <= 0 || repeats < d.stallMax {
					repeats++
					log.Info("no data from model", "waited", d.stallEvery*time.Duration(repeats))
					em.emit(Event{
						Kind:   KindNotice,
						Notice: NoticeStall,
						Text:   fmt.Sprintf("the model has not responded for %s, still waiting", d.stallEvery*time.Duration(repeats)),
					})
				}
				t.Reset(d.stallEvery)
			}
		}
	}()
	return w
}

func (w *watchdog) touch() {
	select {
	case w.activity <- struct{}{}:
	default:
	}
}

func (w *watchdog) stop() {
	close(w.quit)
	w.wg.Wait()
}
