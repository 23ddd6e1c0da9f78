package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"sync"
	"time"

	"tap-newrelic/internal/storage"
	"tap-newrelic/internal/stream"

	"go.uber.org/zap"
)

// S3 buffers records per stream and uploads one JSONL object per flushed
// page to an S3-compatible bucket.
type S3 struct {
	client storage.Client
	bucket string
	prefix string
	runID  string
	logger *zap.Logger

	mu      sync.Mutex
	buffers map[string]*bytes.Buffer
	counts  map[string]int
	seq     map[string]int
}

// NewS3 creates an object sink. Keys look like
// <prefix>/<stream>/<watermark-millis>-<run-id>-<seq>.jsonl; the run id keeps
// a re-fetched boundary page from overwriting an earlier run's object.
func NewS3(client storage.Client, bucket, prefix string, logger *zap.Logger) *S3 {
	return &S3{
		client:  client,
		bucket:  bucket,
		prefix:  prefix,
		runID:   strconv.FormatInt(time.Now().UnixMilli(), 10),
		logger:  logger,
		buffers: make(map[string]*bytes.Buffer),
		counts:  make(map[string]int),
		seq:     make(map[string]int),
	}
}

// Init ensures the destination bucket exists.
func (s *S3) Init(ctx context.Context) error {
	return s.client.EnsureBucket(ctx, s.bucket)
}

// Emit implements stream.Sink.
func (s *S3) Emit(_ context.Context, rec stream.Record) error {
	line, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	buf, ok := s.buffers[rec.Stream]
	if !ok {
		buf = &bytes.Buffer{}
		s.buffers[rec.Stream] = buf
	}
	buf.Write(line)
	buf.WriteByte('\n')
	s.counts[rec.Stream]++
	return nil
}

// Flush implements stream.Sink: it uploads the stream's buffered records.
func (s *S3) Flush(ctx context.Context, streamName string, watermark *stream.Timestamp) error {
	s.mu.Lock()
	buf := s.buffers[streamName]
	count := s.counts[streamName]
	delete(s.buffers, streamName)
	delete(s.counts, streamName)
	s.seq[streamName]++
	seq := s.seq[streamName]
	s.mu.Unlock()

	if buf == nil || buf.Len() == 0 {
		return nil
	}

	key := s.objectKey(streamName, watermark, seq)
	err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(buf.Bytes()), int64(buf.Len()), storage.PutOptions{
		ContentType: "application/x-ndjson",
		Metadata: map[string]string{
			"stream":  streamName,
			"records": strconv.Itoa(count),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}

	s.logger.Debug("Uploaded page",
		zap.String("stream", streamName),
		zap.String("key", key),
		zap.Int("records", count),
	)
	return nil
}

func (s *S3) objectKey(streamName string, watermark *stream.Timestamp, seq int) string {
	var millis int64
	if watermark != nil {
		millis = watermark.Millis()
	}
	return path.Join(s.prefix, streamName, fmt.Sprintf("%d-%s-%06d.jsonl", millis, s.runID, seq))
}
