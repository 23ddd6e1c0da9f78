package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Display periodically renders the tracker to a writer (stderr in practice)
type Display struct {
	tracker  *Tracker
	interval time.Duration
	out      io.Writer
	stopCh   chan struct{}
	done     sync.WaitGroup
	stopOnce sync.Once
}

// NewDisplay creates a new progress display
func NewDisplay(tracker *Tracker, interval time.Duration, out io.Writer) *Display {
	return &Display{
		tracker:  tracker,
		interval: interval,
		out:      out,
		stopCh:   make(chan struct{}),
	}
}

// Start starts the progress display
func (d *Display) Start() {
	d.done.Add(1)
	go d.displayLoop()
}

// Stop stops the display and renders the final summary
func (d *Display) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
		d.done.Wait()
	})
}

func (d *Display) displayLoop() {
	defer d.done.Done()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fmt.Fprintln(d.out, d.statusLine(d.tracker.GetStatus()))
		case <-d.stopCh:
			fmt.Fprintln(d.out, strings.Join(d.summaryLines(d.tracker.GetStatus()), "\n"))
			return
		}
	}
}

// statusLine renders one line of running progress
func (d *Display) statusLine(status Status) string {
	percent := d.tracker.GetProgressPercent()
	return fmt.Sprintf("%s streams %d/%d | pages %d | records %d (skipped %d) | %s | %s",
		generateProgressBar(percent, 20),
		status.FinishedStreams, status.TotalStreams,
		status.Pages,
		status.EmittedRecords, status.SkippedRecords,
		FormatRate(status.CurrentRate),
		FormatDuration(time.Since(status.StartTime)),
	)
}

// summaryLines renders the final completion summary
func (d *Display) summaryLines(status Status) []string {
	return []string{
		"Sync finished",
		strings.Repeat("=", 40),
		fmt.Sprintf("Streams:  %d/%d (failed %d)", status.FinishedStreams, status.TotalStreams, status.FailedStreams),
		fmt.Sprintf("Pages:    %d", status.Pages),
		fmt.Sprintf("Records:  %d emitted, %d skipped", status.EmittedRecords, status.SkippedRecords),
		fmt.Sprintf("Elapsed:  %s", FormatDuration(time.Since(status.StartTime))),
		fmt.Sprintf("Rate:     %s", FormatRate(status.AverageRate)),
	}
}

func generateProgressBar(percent float64, width int) string {
	if percent > 100 {
		percent = 100
	}
	if percent < 0 {
		percent = 0
	}

	filled := int(percent * float64(width) / 100)
	return fmt.Sprintf("[%s%s] %5.1f%%", strings.Repeat("#", filled), strings.Repeat(".", width-filled), percent)
}

// IsTerminalSupported reports whether stderr is a terminal
func IsTerminalSupported() bool {
	fileInfo, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return fileInfo.Mode()&os.ModeCharDevice != 0
}
