package stream

import (
	"errors"
	"fmt"
)

var (
	ErrMissingSignpost   = errors.New("stream: replication signpost is not set")
	ErrMissingLowerBound = errors.New("stream: no watermark and no start date")
	ErrMissingTimestamp  = errors.New("stream: row has no timestamp")
)

// maxPayloadInError bounds how much of a raw response is kept on a DecodeError.
const maxPayloadInError = 4096

// ConfigurationError reports a missing or invalid bound detected before any fetch.
type ConfigurationError struct {
	Stream string
	Err    error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error for stream %q: %v", e.Stream, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// FetchError wraps a failed page request. The stream package never retries it.
type FetchError struct {
	Stream string
	Query  string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch failed for stream %q: %v", e.Stream, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// DecodeError reports a response envelope or row that does not match the
// expected contract. Payload holds the offending raw response.
type DecodeError struct {
	Path    string
	Payload []byte
	Err     error
}

func newDecodeError(path string, payload []byte, err error) *DecodeError {
	if len(payload) > maxPayloadInError {
		payload = payload[:maxPayloadInError]
	}
	return &DecodeError{Path: path, Payload: payload, Err: err}
}

func (e *DecodeError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("decode error: %v", e.Err)
	}
	return fmt.Sprintf("decode error at %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
