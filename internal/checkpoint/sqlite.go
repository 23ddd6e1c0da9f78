package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"tap-newrelic/internal/stream"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db      *sql.DB
	closed  bool
	writeMu sync.Mutex
}

// NewSQLiteStore creates a new SQLite checkpoint store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(60000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One writer per stream at most; a small pool is enough.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(10 * time.Minute)

	store := &SQLiteStore{db: db}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS watermarks (
		stream TEXT PRIMARY KEY,
		replication_key TEXT NOT NULL,
		watermark_ms INTEGER,
		updated_at DATETIME NOT NULL
	);
	`

	_, err := s.db.Exec(query)
	return err
}

// LoadWatermark returns the saved watermark of a stream, or nil if none.
func (s *SQLiteStore) LoadWatermark(ctx context.Context, streamName string) (*stream.Timestamp, error) {
	if s.closed {
		return nil, fmt.Errorf("database store is closed")
	}

	var result *stream.Timestamp
	err := s.retryOnBusy(func() error {
		var ms sql.NullInt64
		err := s.db.QueryRowContext(ctx,
			`SELECT watermark_ms FROM watermarks WHERE stream = ?`, streamName,
		).Scan(&ms)
		if err == sql.ErrNoRows {
			result = nil
			return nil
		}
		if err != nil {
			return err
		}
		if ms.Valid {
			ts := stream.FromMillis(ms.Int64)
			result = &ts
		}
		return nil
	})
	return result, err
}

// SaveWatermark upserts the watermark of a stream with retry on SQLITE_BUSY.
func (s *SQLiteStore) SaveWatermark(ctx context.Context, streamName string, watermark *stream.Timestamp) error {
	if s.closed {
		return fmt.Errorf("database store is closed")
	}

	// Serialize writes to avoid SQLITE_BUSY from concurrent streams
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var ms sql.NullInt64
	if watermark != nil {
		ms = sql.NullInt64{Int64: watermark.Millis(), Valid: true}
	}

	return s.retryOnBusy(func() error {
		_, err := s.db.ExecContext(ctx, `
		INSERT INTO watermarks (stream, replication_key, watermark_ms, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(stream) DO UPDATE SET
			replication_key = excluded.replication_key,
			watermark_ms = excluded.watermark_ms,
			updated_at = excluded.updated_at
		`, streamName, ReplicationKey, ms, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to upsert watermark: %w", err)
		}
		return nil
	})
}

// ListBookmarks returns every stored bookmark ordered by stream name.
func (s *SQLiteStore) ListBookmarks(ctx context.Context) ([]*Bookmark, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT stream, replication_key, watermark_ms, updated_at
	FROM watermarks
	ORDER BY stream ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookmarks []*Bookmark
	for rows.Next() {
		var b Bookmark
		var ms sql.NullInt64
		if err := rows.Scan(&b.Stream, &b.Key, &ms, &b.UpdatedAt); err != nil {
			return nil, err
		}
		if ms.Valid {
			ts := stream.FromMillis(ms.Int64)
			b.Watermark = &ts
		}
		bookmarks = append(bookmarks, &b)
	}

	return bookmarks, rows.Err()
}

// retryOnBusy retries the operation if SQLite is busy
func (s *SQLiteStore) retryOnBusy(operation func() error) error {
	maxRetries := 10
	baseDelay := 50 * time.Millisecond

	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = operation()
		if err == nil || !isSQLiteBusyError(err) {
			return err
		}
		if attempt < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<uint(attempt))
			jitter := time.Duration(attempt*10) * time.Millisecond
			time.Sleep(delay + jitter)
		}
	}

	return err
}

// isSQLiteBusyError checks if the error is a SQLite busy error
func isSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	errorStr := err.Error()
	return strings.Contains(errorStr, "database is locked") ||
		strings.Contains(errorStr, "SQLITE_BUSY")
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.closed = true
	return s.db.Close()
}
