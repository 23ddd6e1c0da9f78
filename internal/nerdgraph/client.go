// Package nerdgraph runs NRQL queries through the New Relic GraphQL API.
package nerdgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// DefaultURL is the US-region NerdGraph endpoint.
const DefaultURL = "https://api.newrelic.com/graphql"

// nrqlQuery is the only GraphQL document the tap sends.
const nrqlQuery = `query ($accountId: Int!, $query: Nrql!) {
  actor {
    account(id: $accountId) {
      nrql(query: $query) {
        results
      }
    }
  }
}`

// maxResponseBytes bounds a single page body.
const maxResponseBytes = 256 << 20

// Config contains client configuration
type Config struct {
	URL          string
	APIKey       string
	AccountID    int64
	Timeout      time.Duration
	Retries      int
	RetryBackoff time.Duration
	UserAgent    string
}

// Client posts NRQL queries and returns the raw response body.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a NerdGraph client. A nil httpClient gets one with
// the configured timeout.
func NewClient(cfg Config, httpClient *http.Client, logger *zap.Logger) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 1
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "tap-newrelic"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{config: cfg, httpClient: httpClient, logger: logger}
}

type request struct {
	Query     string    `json:"query"`
	Variables variables `json:"variables"`
}

type variables struct {
	AccountID int64  `json:"accountId"`
	Query     string `json:"query"`
}

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("nerdgraph returned %d: %s", e.Code, e.Body)
}

// FetchPage implements stream.Fetcher. Transient failures are retried with
// exponential backoff; the last error is returned once retries run out.
func (c *Client) FetchPage(ctx context.Context, nrql string) ([]byte, error) {
	body, err := json.Marshal(request{
		Query:     nrqlQuery,
		Variables: variables{AccountID: c.config.AccountID, Query: nrql},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.config.Retries; attempt++ {
		payload, err := c.post(ctx, body)
		if err == nil {
			return payload, nil
		}

		lastErr = err
		if !isRetriableError(err) || attempt == c.config.Retries {
			break
		}

		backoff := c.calculateBackoff(attempt)
		c.logger.Warn("NerdGraph request failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, lastErr
}

func (c *Client) post(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("API-Key", c.config.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := string(payload)
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return nil, &StatusError{Code: resp.StatusCode, Body: msg}
	}
	return payload, nil
}

func isRetriableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, context.DeadlineExceeded)
}

func (c *Client) calculateBackoff(attempt int) time.Duration {
	return c.config.RetryBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
}
