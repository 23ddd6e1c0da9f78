package nerdgraph

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

const okBody = `{"data":{"actor":{"account":{"nrql":{"results":[{"timestamp":1704103201000}]}}}}}`

func newTestClient(url string, retries int) *Client {
	return NewClient(Config{
		URL:          url,
		APIKey:       "NRAK-test",
		AccountID:    1234,
		Timeout:      time.Second,
		Retries:      retries,
		RetryBackoff: time.Millisecond,
	}, nil, zap.NewNop())
}

func TestFetchPage_SendsQuery(t *testing.T) {
	var got request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.Header.Get("API-Key") != "NRAK-test" {
			t.Errorf("API-Key header = %q", r.Header.Get("API-Key"))
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Write([]byte(okBody))
	}))
	defer srv.Close()

	nrql := "SELECT * FROM SyntheticCheck SINCE '2024-01-01 10:00:00' UNTIL '2024-01-01 12:00:00'"
	payload, err := newTestClient(srv.URL, 1).FetchPage(context.Background(), nrql)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if string(payload) != okBody {
		t.Errorf("payload = %s", payload)
	}
	if got.Variables.AccountID != 1234 || got.Variables.Query != nrql {
		t.Errorf("variables = %+v", got.Variables)
	}
	if !strings.Contains(got.Query, "nrql(query: $query)") {
		t.Errorf("graphql document = %q", got.Query)
	}
}

func TestFetchPage_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(okBody))
	}))
	defer srv.Close()

	if _, err := newTestClient(srv.URL, 5).FetchPage(context.Background(), "SELECT 1"); err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestFetchPage_RetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 3).FetchPage(context.Background(), "SELECT 1")
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusTooManyRequests {
		t.Fatalf("err = %v, want 429 StatusError", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestFetchPage_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 5).FetchPage(context.Background(), "SELECT 1")
	if err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, 4xx must not be retried", calls.Load())
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("error %q should mention the status", err)
	}
}

func TestFetchPage_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server notices the client hanging up.
		_, _ = io.Copy(io.Discard, r.Body)
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := newTestClient(srv.URL, 5).FetchPage(ctx, "SELECT 1")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestIsRetriableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&StatusError{Code: 500}, true},
		{&StatusError{Code: 502}, true},
		{&StatusError{Code: 429}, true},
		{&StatusError{Code: 400}, false},
		{&StatusError{Code: 403}, false},
		{context.Canceled, false},
		{context.DeadlineExceeded, true},
		{errors.New("boom"), false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := isRetriableError(tt.err); got != tt.want {
			t.Errorf("isRetriableError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestCalculateBackoff(t *testing.T) {
	c := NewClient(Config{RetryBackoff: 100 * time.Millisecond}, nil, zap.NewNop())
	for attempt, want := range map[int]time.Duration{1: 100 * time.Millisecond, 2: 200 * time.Millisecond, 4: 800 * time.Millisecond} {
		if got := c.calculateBackoff(attempt); got != want {
			t.Errorf("calculateBackoff(%d) = %v, want %v", attempt, got, want)
		}
	}
}
