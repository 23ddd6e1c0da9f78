package app

import (
	"context"
	"fmt"

	"tap-newrelic/internal/catalog"
	"tap-newrelic/internal/worker"

	"go.uber.org/zap"
)

// StreamLister resolves the selected streams and enqueues them as tasks
type StreamLister struct {
	logger *zap.Logger
}

// ResolveStreams picks the streams to sync. A catalog, when given, wins
// over the configured names; a catalog selecting nothing is an error.
func ResolveStreams(names []string, cat *catalog.Catalog) ([]*catalog.Definition, error) {
	if cat != nil {
		names = cat.Selected()
		if len(names) == 0 {
			return nil, fmt.Errorf("catalog selects no streams")
		}
	}
	return catalog.Select(names)
}

// Enqueue sends one task per stream. It stops early if ctx is cancelled.
func (l *StreamLister) Enqueue(ctx context.Context, defs []*catalog.Definition, tasks chan<- worker.Task) error {
	for _, d := range defs {
		task := worker.Task{Stream: d.Name, Query: d.Query()}

		select {
		case tasks <- task:
			l.logger.Debug("Enqueued stream", zap.String("stream", d.Name), zap.String("event_type", d.EventType))
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
