package sink

import (
	"context"
	"sync"

	"tap-newrelic/internal/stream"

	"go.uber.org/zap"
)

// Log only logs what would be sent. It backs dry runs.
type Log struct {
	logger *zap.Logger

	mu     sync.Mutex
	counts map[string]int
}

// NewLog creates a dry-run sink
func NewLog(logger *zap.Logger) *Log {
	return &Log{logger: logger, counts: make(map[string]int)}
}

// Emit implements stream.Sink.
func (l *Log) Emit(_ context.Context, rec stream.Record) error {
	l.mu.Lock()
	l.counts[rec.Stream]++
	l.mu.Unlock()

	l.logger.Debug("Would emit record",
		zap.String("stream", rec.Stream),
		zap.Stringer("timestamp", rec.Time),
	)
	return nil
}

// Flush implements stream.Sink.
func (l *Log) Flush(_ context.Context, streamName string, watermark *stream.Timestamp) error {
	l.mu.Lock()
	n := l.counts[streamName]
	l.mu.Unlock()

	fields := []zap.Field{zap.String("stream", streamName), zap.Int("records_so_far", n)}
	if watermark != nil {
		fields = append(fields, zap.Stringer("watermark", watermark))
	}
	l.logger.Info("Dry run: page not written", fields...)
	return nil
}

// Count returns how many records the stream would have emitted.
func (l *Log) Count(streamName string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[streamName]
}
