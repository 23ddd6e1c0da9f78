package worker

import (
	"context"
	"sync"

	"tap-newrelic/internal/metrics"
	"tap-newrelic/internal/stream"

	"go.uber.org/zap"
)

// Pool manages a pool of workers. Each task is a whole stream, so a stream
// is only ever driven by one worker at a time.
type Pool struct {
	size       int
	config     Config
	fetcher    stream.Fetcher
	checkpoint stream.CheckpointStore
	sink       stream.Sink
	metrics    *metrics.Collector
	logger     *zap.Logger

	mu       sync.Mutex
	outcomes []Outcome
}

// NewPool creates a new worker pool
func NewPool(
	size int,
	config Config,
	fetcher stream.Fetcher,
	checkpointStore stream.CheckpointStore,
	sink stream.Sink,
	metricsCollector *metrics.Collector,
	logger *zap.Logger,
) *Pool {
	return &Pool{
		size:       size,
		config:     config,
		fetcher:    fetcher,
		checkpoint: checkpointStore,
		sink:       sink,
		metrics:    metricsCollector,
		logger:     logger,
	}
}

// Start starts the worker pool
func (p *Pool) Start(ctx context.Context, tasks <-chan Task, wg *sync.WaitGroup) {
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go p.worker(ctx, i, tasks, wg)
	}
}

// Outcomes returns the outcome of every processed task
func (p *Pool) Outcomes() []Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Outcome, len(p.outcomes))
	copy(out, p.outcomes)
	return out
}

func (p *Pool) worker(ctx context.Context, id int, tasks <-chan Task, wg *sync.WaitGroup) {
	defer wg.Done()

	logger := p.logger.With(zap.Int("worker_id", id))
	logger.Debug("Worker started")

	processor := &TaskProcessor{
		config:     p.config,
		fetcher:    p.fetcher,
		checkpoint: p.checkpoint,
		sink:       p.sink,
		metrics:    p.metrics,
		logger:     logger,
	}

	for {
		// Cancellation wins over pending tasks.
		if ctx.Err() != nil {
			logger.Info("Worker stopped - context cancelled")
			return
		}

		select {
		case task, ok := <-tasks:
			if !ok {
				logger.Debug("Worker finished - no more tasks")
				return
			}

			outcome := processor.Process(ctx, task)
			p.mu.Lock()
			p.outcomes = append(p.outcomes, outcome)
			p.mu.Unlock()

		case <-ctx.Done():
			logger.Info("Worker stopped - context cancelled")
			return
		}
	}
}
