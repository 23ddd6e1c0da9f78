// Package sink writes emitted records to their destination.
package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"tap-newrelic/internal/catalog"
	"tap-newrelic/internal/checkpoint"
	"tap-newrelic/internal/stream"
)

// Message is one line of the Singer protocol.
type Message struct {
	Type          string            `json:"type"`
	Stream        string            `json:"stream,omitempty"`
	Record        map[string]any    `json:"record,omitempty"`
	TimeExtracted *time.Time        `json:"time_extracted,omitempty"`
	Schema        *catalog.Schema   `json:"schema,omitempty"`
	KeyProperties []string          `json:"key_properties,omitempty"`
	BookmarkProps []string          `json:"bookmark_properties,omitempty"`
	Value         *checkpoint.State `json:"value,omitempty"`
}

// Singer writes SCHEMA, RECORD and STATE messages as JSON lines.
// It is safe for concurrent use by several stream controllers.
type Singer struct {
	mu      sync.Mutex
	w       *bufio.Writer
	enc     *json.Encoder
	defs    map[string]*catalog.Definition
	started map[string]bool
	state   checkpoint.State
	now     func() time.Time
}

// NewSinger creates a Singer sink. initial seeds the bookmarks of the STATE
// messages so streams not synced in this run keep their position.
func NewSinger(out io.Writer, defs []*catalog.Definition, initial []*checkpoint.Bookmark) *Singer {
	w := bufio.NewWriter(out)
	s := &Singer{
		w:       w,
		enc:     json.NewEncoder(w),
		defs:    make(map[string]*catalog.Definition, len(defs)),
		started: make(map[string]bool),
		state:   checkpoint.State{Bookmarks: make(map[string]checkpoint.Bookmark)},
		now:     time.Now,
	}
	for _, d := range defs {
		s.defs[d.Name] = d
	}
	for _, b := range initial {
		if b.Watermark != nil {
			s.state.Bookmarks[b.Stream] = *b
		}
	}
	return s
}

// Emit implements stream.Sink.
func (s *Singer) Emit(_ context.Context, rec stream.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.schemaLocked(rec.Stream); err != nil {
		return err
	}
	extracted := s.now().UTC()
	return s.enc.Encode(Message{
		Type:          "RECORD",
		Stream:        rec.Stream,
		Record:        rec.Fields,
		TimeExtracted: &extracted,
	})
}

// Flush implements stream.Sink: it writes a STATE message carrying the new
// watermark and flushes everything buffered so far.
func (s *Singer) Flush(_ context.Context, streamName string, watermark *stream.Timestamp) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.schemaLocked(streamName); err != nil {
		return err
	}
	if watermark != nil {
		s.state.Bookmarks[streamName] = checkpoint.Bookmark{
			Stream:    streamName,
			Key:       checkpoint.ReplicationKey,
			Watermark: watermark,
		}
		state := s.state
		if err := s.enc.Encode(Message{Type: "STATE", Value: &state}); err != nil {
			return fmt.Errorf("failed to write state: %w", err)
		}
	}
	return s.w.Flush()
}

// schemaLocked writes the SCHEMA message once per stream
func (s *Singer) schemaLocked(streamName string) error {
	if s.started[streamName] {
		return nil
	}
	d, ok := s.defs[streamName]
	if !ok {
		return fmt.Errorf("no schema for stream %q", streamName)
	}
	if err := s.enc.Encode(Message{
		Type:          "SCHEMA",
		Stream:        d.Name,
		Schema:        d.Schema,
		KeyProperties: d.KeyProperties,
		BookmarkProps: []string{d.ReplicationKey},
	}); err != nil {
		return fmt.Errorf("failed to write schema: %w", err)
	}
	s.started[streamName] = true
	return nil
}
