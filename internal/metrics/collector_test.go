package metrics

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tap-newrelic/internal/stream"

	dto "github.com/prometheus/client_model/go"
)

func gather(t *testing.T, c *Collector) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := c.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		out[f.GetName()] = f
	}
	return out
}

func labelValue(m *dto.Metric, name string) string {
	for _, l := range m.GetLabel() {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}

func TestCollector_PageProcessed(t *testing.T) {
	c := New()
	wm := stream.FromMillis(1_700_000_000_500)
	c.PageProcessed("synthetic_checks", stream.Page{
		Records:   make([]stream.Record, 3),
		Watermark: &wm,
		Skipped:   2,
	})
	c.FetchCompleted("synthetic_checks", 250*time.Millisecond, nil)
	c.FetchCompleted("synthetic_checks", time.Second, errors.New("boom"))

	f := gather(t, c)

	if got := f["tap_pages_total"].GetMetric()[0].GetCounter().GetValue(); got != 1 {
		t.Errorf("tap_pages_total = %v, want 1", got)
	}
	for _, m := range f["tap_records_total"].GetMetric() {
		want := map[string]float64{"emitted": 3, "skipped": 2}[labelValue(m, "status")]
		if got := m.GetCounter().GetValue(); got != want {
			t.Errorf("records{status=%s} = %v, want %v", labelValue(m, "status"), got, want)
		}
	}
	if got := f["tap_watermark_timestamp_seconds"].GetMetric()[0].GetGauge().GetValue(); got != 1_700_000_000.5 {
		t.Errorf("watermark gauge = %v", got)
	}
	if got := f["tap_fetch_duration_seconds"].GetMetric()[0].GetHistogram().GetSampleCount(); got != 2 {
		t.Errorf("fetch sample count = %v, want 2", got)
	}
	if got := f["tap_fetch_errors_total"].GetMetric()[0].GetCounter().GetValue(); got != 1 {
		t.Errorf("fetch errors = %v, want 1", got)
	}

	if s := c.GetProgressTracker().GetStatus(); s.EmittedRecords != 3 || s.SkippedRecords != 2 {
		t.Errorf("tracker status = %+v", s)
	}
}

func TestCollector_StreamFinished(t *testing.T) {
	c := New()
	c.SetTotalStreams(3)
	for i := 0; i < 3; i++ {
		c.StreamStarted("s")
	}
	c.StreamFinished(stream.Result{State: stream.StateDone}, nil)
	c.StreamFinished(stream.Result{State: stream.StateFailed}, errors.New("x"))
	c.StreamFinished(stream.Result{State: stream.StateFailed}, context.Canceled)

	f := gather(t, c)
	got := make(map[string]float64)
	for _, m := range f["tap_streams_total"].GetMetric() {
		got[labelValue(m, "state")] = m.GetCounter().GetValue()
	}
	if got["done"] != 1 || got["failed"] != 1 || got["cancelled"] != 1 {
		t.Errorf("tap_streams_total = %v", got)
	}
	if v := f["tap_inflight_streams"].GetMetric()[0].GetGauge().GetValue(); v != 0 {
		t.Errorf("inflight = %v, want 0", v)
	}
	if s := c.GetProgressTracker().GetStatus(); s.FinishedStreams != 3 || s.FailedStreams != 2 {
		t.Errorf("tracker status = %+v", s)
	}
}

func TestCollector_Handler(t *testing.T) {
	c := New()
	c.PageProcessed("mobile_app", stream.Page{})

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `tap_pages_total{stream="mobile_app"} 1`) {
		t.Errorf("metrics output missing pages counter:\n%s", rec.Body.String())
	}
}

func TestCollector_IndependentRegistries(t *testing.T) {
	// Two collectors in one process must not clash on registration.
	New()
	New()
}
