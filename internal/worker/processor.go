package worker

import (
	"context"
	"errors"
	"time"

	"tap-newrelic/internal/metrics"
	"tap-newrelic/internal/stream"

	"go.uber.org/zap"
)

// TaskProcessor runs one stream controller per task
type TaskProcessor struct {
	config     Config
	fetcher    stream.Fetcher
	checkpoint stream.CheckpointStore
	sink       stream.Sink
	metrics    *metrics.Collector
	logger     *zap.Logger
}

// Process syncs a single stream to completion
func (p *TaskProcessor) Process(ctx context.Context, task Task) Outcome {
	startTime := time.Now()
	p.metrics.StreamStarted(task.Stream)

	controller := stream.NewController(stream.Options{
		Stream:    task.Stream,
		Query:     task.Query,
		StartDate: p.config.StartDate,
		Now:       p.config.Now,
		Observer:  p.metrics,
	}, p.fetcher, p.checkpoint, p.sink, p.logger)

	res, err := controller.Run(ctx)
	p.metrics.StreamFinished(res, err)

	switch {
	case err == nil:
		p.logger.Info("Task completed successfully",
			zap.String("stream", task.Stream),
			zap.Int("pages", res.Pages),
			zap.Int("emitted", res.Emitted),
			zap.Duration("duration", time.Since(startTime)),
		)
	case errors.Is(err, context.Canceled):
		p.logger.Warn("Task cancelled",
			zap.String("stream", task.Stream),
			zap.Int("pages", res.Pages),
		)
	default:
		p.logger.Error("Task failed",
			zap.String("stream", task.Stream),
			zap.String("state", res.State.String()),
			zap.Error(err),
		)
	}

	return Outcome{Task: task, Result: res, Err: err}
}
