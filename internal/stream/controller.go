package stream

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// State is a step of the per-stream sync loop.
type State int32

const (
	StateInit State = iota
	StateWindowing
	StateFetching
	StateProcessing
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateWindowing:
		return "windowing"
	case StateFetching:
		return "fetching"
	case StateProcessing:
		return "processing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Fetcher performs one windowed query and returns the raw response body.
type Fetcher interface {
	FetchPage(ctx context.Context, nrql string) ([]byte, error)
}

// CheckpointStore persists the watermark of each stream between runs.
// A nil watermark means the stream has never emitted a record.
type CheckpointStore interface {
	LoadWatermark(ctx context.Context, stream string) (*Timestamp, error)
	SaveWatermark(ctx context.Context, stream string, watermark *Timestamp) error
}

// Sink receives emitted records. Flush is called once per processed page,
// before the page's watermark is checkpointed.
type Sink interface {
	Emit(ctx context.Context, rec Record) error
	Flush(ctx context.Context, stream string, watermark *Timestamp) error
}

// Observer is notified of fetch latency and page outcomes.
type Observer interface {
	FetchCompleted(stream string, elapsed time.Duration, err error)
	PageProcessed(stream string, page Page)
}

type nopObserver struct{}

func (nopObserver) FetchCompleted(string, time.Duration, error) {}
func (nopObserver) PageProcessed(string, Page)                  {}

// Options configures a Controller.
type Options struct {
	Stream    string
	Query     string // NRQL template with {since} and {until}
	StartDate Timestamp
	Now       func() time.Time
	Observer  Observer
}

// Result summarizes one run of a stream.
type Result struct {
	Stream    string
	State     State
	Pages     int
	Emitted   int
	Skipped   int
	Watermark *Timestamp
	Signpost  Timestamp
}

// Controller drives window -> fetch -> decode -> dedup -> checkpoint for a
// single stream. It is not safe for concurrent use; run one per stream.
type Controller struct {
	opts      Options
	fetcher   Fetcher
	store     CheckpointStore
	sink      Sink
	normalize Normalizer
	logger    *zap.Logger
	state     atomic.Int32
}

// NewController creates a controller for one stream.
func NewController(opts Options, fetcher Fetcher, store CheckpointStore, sink Sink, logger *zap.Logger) *Controller {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	return &Controller{
		opts:      opts,
		fetcher:   fetcher,
		store:     store,
		sink:      sink,
		normalize: SnakeCase{Stream: opts.Stream},
		logger:    logger.With(zap.String("stream", opts.Stream)),
	}
}

// State returns the current step of the loop.
func (c *Controller) State() State {
	return State(c.state.Load())
}

func (c *Controller) setState(s State) {
	c.state.Store(int32(s))
}

// Run syncs the stream until a terminal page, an empty window, a fatal
// error, or cancellation between pages. Every page that completes
// processing has its records flushed and its watermark saved before the
// loop continues, so a failed run resumes from the last full page.
func (c *Controller) Run(ctx context.Context) (Result, error) {
	res := Result{Stream: c.opts.Stream}

	c.setState(StateInit)
	watermark, err := c.store.LoadWatermark(ctx, c.opts.Stream)
	if err != nil {
		return c.fail(res, fmt.Errorf("failed to load checkpoint: %w", err))
	}
	res.Watermark = watermark
	res.Signpost = FromTime(c.opts.Now())

	c.logger.Info("Starting stream sync",
		zap.Stringer("watermark", optional(watermark)),
		zap.Stringer("signpost", res.Signpost),
	)

	for {
		c.setState(StateWindowing)
		if err := ctx.Err(); err != nil {
			c.logger.Info("Stream sync stopped between pages", zap.Int("pages", res.Pages))
			return c.fail(res, err)
		}

		lower := c.opts.StartDate
		if watermark != nil {
			lower = *watermark
		}
		window, err := NewWindow(lower, res.Signpost)
		if err != nil {
			return c.fail(res, &ConfigurationError{Stream: c.opts.Stream, Err: err})
		}
		if window.Empty() {
			c.logger.Info("Window is empty, nothing to fetch",
				zap.Stringer("since", window.Since),
				zap.Stringer("until", window.Until),
			)
			break
		}

		c.setState(StateFetching)
		query := window.Query(c.opts.Query)
		c.logger.Debug("Fetching page", zap.String("nrql", query))

		// A started page is always finished, even if ctx is cancelled meanwhile;
		// request timeouts belong to the fetcher.
		pageCtx := context.WithoutCancel(ctx)
		started := time.Now()
		payload, err := c.fetcher.FetchPage(pageCtx, query)
		c.opts.Observer.FetchCompleted(c.opts.Stream, time.Since(started), err)
		if err != nil {
			var fe *FetchError
			if !errors.As(err, &fe) {
				err = &FetchError{Stream: c.opts.Stream, Query: query, Err: err}
			}
			return c.fail(res, err)
		}

		c.setState(StateProcessing)
		page, err := c.processPage(pageCtx, watermark, payload)
		if err != nil {
			return c.fail(res, err)
		}

		res.Pages++
		res.Emitted += len(page.Records)
		res.Skipped += page.Skipped
		res.Watermark = page.Watermark
		watermark = page.Watermark
		c.opts.Observer.PageProcessed(c.opts.Stream, page)

		c.logger.Debug("Page processed",
			zap.Int("emitted", len(page.Records)),
			zap.Int("skipped", page.Skipped),
			zap.Stringer("watermark", optional(watermark)),
			zap.Bool("terminal", page.Terminal),
		)

		if page.Terminal {
			break
		}
	}

	c.setState(StateDone)
	res.State = StateDone
	c.logger.Info("Stream sync completed",
		zap.Int("pages", res.Pages),
		zap.Int("emitted", res.Emitted),
		zap.Int("skipped", res.Skipped),
		zap.Stringer("watermark", optional(res.Watermark)),
	)
	return res, nil
}

func (c *Controller) processPage(ctx context.Context, watermark *Timestamp, payload []byte) (Page, error) {
	rows, err := DecodePage(payload)
	if err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			c.logger.Error("Problem with response",
				zap.String("path", de.Path),
				zap.ByteString("payload", de.Payload),
				zap.Error(de.Err),
			)
		}
		return Page{}, err
	}

	page, err := Dedupe(watermark, rows, c.normalize)
	if err != nil {
		return Page{}, err
	}
	if page.Skipped > 0 {
		c.logger.Debug("Skipped duplicate rows",
			zap.Int("skipped", page.Skipped),
			zap.Stringer("watermark", optional(watermark)),
		)
	}

	for _, rec := range page.Records {
		if err := c.sink.Emit(ctx, rec); err != nil {
			return Page{}, fmt.Errorf("failed to emit record: %w", err)
		}
	}
	if err := c.sink.Flush(ctx, c.opts.Stream, page.Watermark); err != nil {
		return Page{}, fmt.Errorf("failed to flush records: %w", err)
	}
	if err := c.store.SaveWatermark(ctx, c.opts.Stream, page.Watermark); err != nil {
		return Page{}, fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return page, nil
}

func (c *Controller) fail(res Result, err error) (Result, error) {
	c.setState(StateFailed)
	res.State = StateFailed
	if !errors.Is(err, context.Canceled) {
		c.logger.Error("Stream sync failed", zap.Error(err))
	}
	return res, err
}

// optional adapts a possibly nil watermark to fmt.Stringer for logging.
func optional(ts *Timestamp) fmt.Stringer {
	return optionalStringer{ts: ts}
}

type optionalStringer struct{ ts *Timestamp }

func (o optionalStringer) String() string {
	if o.ts == nil {
		return "none"
	}
	return o.ts.String()
}
