package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"tap-newrelic/internal/stream"
)

// StateFile implements Store on a Singer state JSON document. The whole
// document is rewritten atomically on every save.
type StateFile struct {
	path  string
	mu    sync.RWMutex
	state State
}

// NewStateFile loads path if it exists; a missing file is an empty state.
func NewStateFile(path string) (*StateFile, error) {
	s := &StateFile{path: path, state: State{Bookmarks: make(map[string]Bookmark)}}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.state); err != nil {
		return nil, fmt.Errorf("failed to parse state file %s: %w", path, err)
	}
	if s.state.Bookmarks == nil {
		s.state.Bookmarks = make(map[string]Bookmark)
	}
	return s, nil
}

// LoadWatermark implements Store.
func (s *StateFile) LoadWatermark(_ context.Context, streamName string) (*stream.Timestamp, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.state.Bookmarks[streamName]
	if !ok || b.Watermark == nil {
		return nil, nil
	}
	wm := *b.Watermark
	return &wm, nil
}

// SaveWatermark implements Store.
func (s *StateFile) SaveWatermark(_ context.Context, streamName string, watermark *stream.Timestamp) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Bookmarks[streamName] = Bookmark{Key: ReplicationKey, Watermark: watermark}
	return s.writeLocked()
}

// ListBookmarks implements Store.
func (s *StateFile) ListBookmarks(context.Context) ([]*Bookmark, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Bookmark, 0, len(s.state.Bookmarks))
	for name, b := range s.state.Bookmarks {
		b := b
		b.Stream = name
		out = append(out, &b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stream < out[j].Stream })
	return out, nil
}

// Close implements Store.
func (s *StateFile) Close() error { return nil }

func (s *StateFile) writeLocked() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}
