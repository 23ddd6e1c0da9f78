package worker

import (
	"time"

	"tap-newrelic/internal/stream"
)

// Task represents one stream to sync
type Task struct {
	Stream string `json:"stream"`
	Query  string `json:"query"`
}

// Outcome is the result of processing a task
type Outcome struct {
	Task   Task
	Result stream.Result
	Err    error
}

// Config contains worker configuration
type Config struct {
	StartDate stream.Timestamp
	Now       func() time.Time
}
