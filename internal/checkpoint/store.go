package checkpoint

import (
	"context"
	"time"

	"tap-newrelic/internal/stream"
)

// ReplicationKey is the bookmark field every stream replicates on.
const ReplicationKey = "timestamp"

// Bookmark represents the persisted position of one stream
type Bookmark struct {
	Stream    string            `json:"-"`
	Key       string            `json:"replication_key"`
	Watermark *stream.Timestamp `json:"replication_key_value"`
	UpdatedAt time.Time         `json:"-"`
}

// State is the Singer state document: one bookmark per stream.
type State struct {
	Bookmarks map[string]Bookmark `json:"bookmarks"`
}

// Store defines the interface for checkpoint persistence
type Store interface {
	LoadWatermark(ctx context.Context, streamName string) (*stream.Timestamp, error)
	SaveWatermark(ctx context.Context, streamName string, watermark *stream.Timestamp) error
	ListBookmarks(ctx context.Context) ([]*Bookmark, error)

	// Cleanup
	Close() error
}

// ReadOnly wraps a Store so loads work but saves are discarded (dry runs).
type ReadOnly struct {
	Store
}

// SaveWatermark implements Store without persisting anything.
func (ReadOnly) SaveWatermark(context.Context, string, *stream.Timestamp) error {
	return nil
}
