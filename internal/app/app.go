package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"tap-newrelic/internal/catalog"
	"tap-newrelic/internal/checkpoint"
	"tap-newrelic/internal/config"
	"tap-newrelic/internal/metrics"
	"tap-newrelic/internal/nerdgraph"
	"tap-newrelic/internal/progress"
	"tap-newrelic/internal/sink"
	"tap-newrelic/internal/storage"
	"tap-newrelic/internal/stream"
	"tap-newrelic/internal/worker"

	"go.uber.org/zap"
)

// Tap represents the main sync application
type Tap struct {
	cfg        *config.Config
	logger     *zap.Logger
	streams    []*catalog.Definition
	client     stream.Fetcher
	checkpoint checkpoint.Store
	metrics    *metrics.Collector
	objects    storage.Client
	out        io.Writer
	now        func() time.Time
}

// New creates a new tap instance. Singer messages are written to out.
func New(cfg *config.Config, streams []*catalog.Definition, out io.Writer, logger *zap.Logger) (*Tap, error) {
	if len(streams) == 0 {
		return nil, fmt.Errorf("no streams to sync")
	}

	// Create NerdGraph client
	client := nerdgraph.NewClient(nerdgraph.Config{
		URL:          cfg.APIURL,
		APIKey:       cfg.APIKey,
		AccountID:    cfg.AccountID,
		Timeout:      cfg.HTTP.Timeout(),
		Retries:      cfg.HTTP.Retries,
		RetryBackoff: cfg.HTTP.RetryBackoff(),
	}, nil, logger)

	// Create checkpoint store
	store, err := openCheckpoint(cfg.Checkpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkpoint store: %w", err)
	}

	// Create object storage client for the s3 sink
	var objects storage.Client
	if cfg.Sink.Type == config.SinkS3 && !cfg.DryRun {
		objects, err = storage.NewMinIOClient(storage.Config{
			Endpoint:  cfg.Sink.S3.Endpoint,
			AccessKey: cfg.Sink.S3.AccessKey,
			SecretKey: cfg.Sink.S3.SecretKey,
			Region:    cfg.Sink.S3.Region,
			Secure:    cfg.Sink.S3.Secure,
		})
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to create object storage client: %w", err)
		}
	}

	return &Tap{
		cfg:        cfg,
		logger:     logger,
		streams:    streams,
		client:     client,
		checkpoint: store,
		metrics:    metrics.New(),
		objects:    objects,
		out:        out,
		now:        time.Now,
	}, nil
}

func openCheckpoint(cfg config.Checkpoint) (checkpoint.Store, error) {
	switch cfg.Backend {
	case config.BackendState:
		return checkpoint.NewStateFile(cfg.Path)
	case config.BackendSQLite:
		return checkpoint.NewSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Backend)
	}
}

// Run syncs every selected stream and returns the joined errors of the
// streams that failed.
func (t *Tap) Run(ctx context.Context) error {
	startDate, err := t.cfg.StartTimestamp()
	if err != nil {
		return err
	}

	names := make([]string, len(t.streams))
	for i, d := range t.streams {
		names[i] = d.Name
	}
	t.logger.Info("Starting sync",
		zap.Strings("streams", names),
		zap.Int64("account_id", t.cfg.AccountID),
		zap.Stringer("start_date", startDate),
		zap.String("checkpoint_backend", t.cfg.Checkpoint.Backend),
		zap.String("sink", t.cfg.Sink.Type),
		zap.Int("concurrency", t.cfg.Concurrency),
		zap.Bool("dry_run", t.cfg.DryRun),
	)

	// Start metrics server in a goroutine with error handling
	if t.cfg.Metrics.Addr != "" {
		metricsCtx, stopMetrics := context.WithCancel(context.Background())
		defer stopMetrics()
		go func() {
			if err := t.metrics.StartServer(metricsCtx, t.cfg.Metrics.Addr); err != nil {
				t.logger.Error("Failed to start metrics server", zap.Error(err))
			}
		}()
	}

	out, store, err := t.destination(ctx)
	if err != nil {
		return err
	}

	// Create progress display if enabled and supported and not in dry-run mode
	var progressDisplay *progress.Display
	if t.cfg.ShowProgress && !t.cfg.DryRun && progress.IsTerminalSupported() {
		progressDisplay = progress.NewDisplay(t.metrics.GetProgressTracker(), 2*time.Second, os.Stderr)
	}
	t.metrics.SetTotalStreams(len(t.streams))

	workerPool := worker.NewPool(t.cfg.Concurrency, worker.Config{
		StartDate: startDate,
		Now:       t.now,
	}, t.client, store, out, t.metrics, t.logger)

	tasks := make(chan worker.Task, len(t.streams))

	var wg sync.WaitGroup
	workerPool.Start(ctx, tasks, &wg)
	if progressDisplay != nil {
		progressDisplay.Start()
	}

	lister := &StreamLister{logger: t.logger}
	enqueueErr := lister.Enqueue(ctx, t.streams, tasks)
	close(tasks)
	wg.Wait()

	if progressDisplay != nil {
		progressDisplay.Stop()
	}

	return t.summarize(workerPool.Outcomes(), enqueueErr)
}

// destination builds the sink and the checkpoint view for this run.
func (t *Tap) destination(ctx context.Context) (stream.Sink, stream.CheckpointStore, error) {
	if t.cfg.DryRun {
		return sink.NewLog(t.logger), checkpoint.ReadOnly{Store: t.checkpoint}, nil
	}

	switch t.cfg.Sink.Type {
	case config.SinkS3:
		s3 := sink.NewS3(t.objects, t.cfg.Sink.S3.Bucket, t.cfg.Sink.S3.Prefix, t.logger)
		if err := s3.Init(ctx); err != nil {
			return nil, nil, fmt.Errorf("failed to prepare bucket: %w", err)
		}
		return s3, t.checkpoint, nil
	default:
		bookmarks, err := t.checkpoint.ListBookmarks(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read bookmarks: %w", err)
		}
		return sink.NewSinger(t.out, t.streams, bookmarks), t.checkpoint, nil
	}
}

func (t *Tap) summarize(outcomes []worker.Outcome, enqueueErr error) error {
	var errs []error
	var emitted, skipped, pages, failed int
	interrupted := enqueueErr != nil || len(outcomes) < len(t.streams)
	for _, o := range outcomes {
		pages += o.Result.Pages
		emitted += o.Result.Emitted
		skipped += o.Result.Skipped
		switch {
		case o.Err == nil:
		case errors.Is(o.Err, context.Canceled):
			interrupted = true
		default:
			failed++
			errs = append(errs, fmt.Errorf("stream %s: %w", o.Task.Stream, o.Err))
		}
	}
	if interrupted {
		errs = append(errs, fmt.Errorf("sync interrupted: %w", context.Canceled))
	}

	t.logger.Info("Sync completed",
		zap.Int("streams", len(outcomes)),
		zap.Int("pages", pages),
		zap.Int("emitted", emitted),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed),
		zap.Bool("interrupted", interrupted),
	)
	return errors.Join(errs...)
}

// Close cleans up resources
func (t *Tap) Close() error {
	if t.checkpoint != nil {
		return t.checkpoint.Close()
	}
	return nil
}
