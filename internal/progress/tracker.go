package progress

import (
	"fmt"
	"sync"
	"time"
)

// Status represents the current sync status. Rates are in records per
// second; CurrentRate covers the last few seconds only.
type Status struct {
	TotalStreams    int
	FinishedStreams int
	FailedStreams   int
	Pages           int64
	EmittedRecords  int64
	SkippedRecords  int64
	StartTime       time.Time
	LastUpdateTime  time.Time
	CurrentRate     float64
	AverageRate     float64
}

// Tracker tracks sync progress
type Tracker struct {
	mu          sync.RWMutex
	status      Status
	rateSamples []rateSample
	maxSamples  int
	now         func() time.Time
}

type rateSample struct {
	timestamp time.Time
	records   int64
}

// NewTracker creates a new progress tracker
func NewTracker() *Tracker {
	return newTracker(time.Now)
}

func newTracker(now func() time.Time) *Tracker {
	start := now()
	return &Tracker{
		status: Status{
			StartTime:      start,
			LastUpdateTime: start,
		},
		rateSamples: make([]rateSample, 0, 60),
		maxSamples:  60,
		now:         now,
	}
}

// SetTotal sets the number of streams in the run
func (t *Tracker) SetTotal(streams int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.TotalStreams = streams
}

// AddPage records one processed page
func (t *Tracker) AddPage(emitted, skipped int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.Pages++
	t.status.EmittedRecords += int64(emitted)
	t.status.SkippedRecords += int64(skipped)
	t.updateRate(int64(emitted))
}

// StreamFinished records a finished stream
func (t *Tracker) StreamFinished(ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.FinishedStreams++
	if !ok {
		t.status.FailedStreams++
	}
}

// updateRate updates rate calculations (must be called with lock held)
func (t *Tracker) updateRate(records int64) {
	now := t.now()

	t.rateSamples = append(t.rateSamples, rateSample{timestamp: now, records: records})
	if len(t.rateSamples) > t.maxSamples {
		t.rateSamples = t.rateSamples[1:]
	}

	t.calculateCurrentRate(now)

	if elapsed := now.Sub(t.status.StartTime); elapsed > 0 {
		t.status.AverageRate = float64(t.status.EmittedRecords) / elapsed.Seconds()
	}

	t.status.LastUpdateTime = now
}

// calculateCurrentRate uses the samples of the last 5 seconds
func (t *Tracker) calculateCurrentRate(now time.Time) {
	if len(t.rateSamples) < 2 {
		t.status.CurrentRate = 0
		return
	}

	cutoff := now.Add(-5 * time.Second)
	var recent int64
	var first *rateSample
	for i := len(t.rateSamples) - 1; i >= 0; i-- {
		sample := &t.rateSamples[i]
		if sample.timestamp.Before(cutoff) {
			break
		}
		recent += sample.records
		first = sample
	}

	if first != nil {
		if d := now.Sub(first.timestamp); d > 0 {
			t.status.CurrentRate = float64(recent) / d.Seconds()
		}
	}
}

// GetStatus returns the current status (thread-safe)
func (t *Tracker) GetStatus() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.status
}

// GetProgressPercent returns the share of finished streams
func (t *Tracker) GetProgressPercent() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.status.TotalStreams == 0 {
		return 0
	}

	return float64(t.status.FinishedStreams) / float64(t.status.TotalStreams) * 100
}

// FormatRate formats a record rate in human readable format
func FormatRate(perSecond float64) string {
	if perSecond < 1000 {
		return fmt.Sprintf("%.1f rec/s", perSecond)
	}
	return fmt.Sprintf("%.1fk rec/s", perSecond/1000)
}

// FormatDuration formats duration in human readable format
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
