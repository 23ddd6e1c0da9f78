package stream

import "strings"

// Window is the inclusive [Since, Until] range of one page request.
type Window struct {
	Since Timestamp
	Until Timestamp
}

// NewWindow builds the window for the next page. lowerBound is the current
// watermark, or the configured start date when no watermark exists yet.
func NewWindow(lowerBound, signpost Timestamp) (Window, error) {
	if signpost.IsZero() {
		return Window{}, ErrMissingSignpost
	}
	if lowerBound.IsZero() {
		return Window{}, ErrMissingLowerBound
	}
	return Window{Since: lowerBound, Until: signpost}, nil
}

// Empty reports a degenerate window with nothing left to fetch.
func (w Window) Empty() bool {
	return w.Since.After(w.Until)
}

// Query renders an NRQL template with {since} and {until} placeholders.
func (w Window) Query(template string) string {
	return strings.NewReplacer(
		"{since}", w.Since.QueryFormat(),
		"{until}", w.Until.QueryFormat(),
	).Replace(template)
}
