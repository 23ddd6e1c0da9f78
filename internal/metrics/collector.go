package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"tap-newrelic/internal/progress"
	"tap-newrelic/internal/stream"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector collects and exposes metrics. It implements stream.Observer.
type Collector struct {
	registry        *prometheus.Registry
	pagesTotal      *prometheus.CounterVec
	recordsTotal    *prometheus.CounterVec
	fetchErrors     *prometheus.CounterVec
	fetchDuration   *prometheus.HistogramVec
	watermark       *prometheus.GaugeVec
	streamsTotal    *prometheus.CounterVec
	inflightStreams prometheus.Gauge
	progressTracker *progress.Tracker
}

// New creates a new metrics collector with its own registry
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		pagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tap_pages_total",
				Help: "Total number of pages processed",
			},
			[]string{"stream"},
		),
		recordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tap_records_total",
				Help: "Total number of rows seen, by outcome",
			},
			[]string{"stream", "status"},
		),
		fetchErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tap_fetch_errors_total",
				Help: "Total number of failed page fetches",
			},
			[]string{"stream"},
		),
		fetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tap_fetch_duration_seconds",
				Help:    "Time taken to fetch a page",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stream"},
		),
		watermark: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tap_watermark_timestamp_seconds",
				Help: "Replication watermark of each stream as a unix timestamp",
			},
			[]string{"stream"},
		),
		streamsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tap_streams_total",
				Help: "Total number of finished streams, by final state",
			},
			[]string{"state"},
		),
		inflightStreams: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tap_inflight_streams",
				Help: "Number of streams currently syncing",
			},
		),
		progressTracker: progress.NewTracker(),
	}

	c.registry.MustRegister(
		c.pagesTotal,
		c.recordsTotal,
		c.fetchErrors,
		c.fetchDuration,
		c.watermark,
		c.streamsTotal,
		c.inflightStreams,
	)

	return c
}

// FetchCompleted observes fetch latency
func (c *Collector) FetchCompleted(streamName string, elapsed time.Duration, err error) {
	c.fetchDuration.WithLabelValues(streamName).Observe(elapsed.Seconds())
	if err != nil {
		c.fetchErrors.WithLabelValues(streamName).Inc()
	}
}

// PageProcessed counts a page and its rows and updates the watermark gauge
func (c *Collector) PageProcessed(streamName string, page stream.Page) {
	c.pagesTotal.WithLabelValues(streamName).Inc()
	c.recordsTotal.WithLabelValues(streamName, "emitted").Add(float64(len(page.Records)))
	c.recordsTotal.WithLabelValues(streamName, "skipped").Add(float64(page.Skipped))
	if page.Watermark != nil {
		c.watermark.WithLabelValues(streamName).Set(float64(page.Watermark.Millis()) / 1000)
	}
	c.progressTracker.AddPage(len(page.Records), page.Skipped)
}

// StreamStarted marks a stream as in flight
func (c *Collector) StreamStarted(streamName string) {
	c.inflightStreams.Inc()
}

// StreamFinished records the final state of a stream
func (c *Collector) StreamFinished(res stream.Result, err error) {
	c.inflightStreams.Dec()
	state := res.State.String()
	if err != nil && errors.Is(err, context.Canceled) {
		state = "cancelled"
	}
	c.streamsTotal.WithLabelValues(state).Inc()
	c.progressTracker.StreamFinished(err == nil)
}

// Registry returns the registry holding the collector's metrics
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collector's metrics in the Prometheus text format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server and blocks until ctx is done
func (c *Collector) StartServer(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// GetProgressTracker returns the progress tracker
func (c *Collector) GetProgressTracker() *progress.Tracker {
	return c.progressTracker
}

// SetTotalStreams sets the number of streams for progress tracking
func (c *Collector) SetTotalStreams(n int) {
	c.progressTracker.SetTotal(n)
}
