package stream

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

const (
	// QueryLayout is the second-precision literal form accepted by NRQL SINCE/UNTIL.
	QueryLayout = "2006-01-02 15:04:05"
	// canonicalLayout and fractionalLayout match the ISO-8601 form of Singer
	// bookmarks: numeric offset, microseconds only when non-zero.
	canonicalLayout  = "2006-01-02T15:04:05-07:00"
	fractionalLayout = "2006-01-02T15:04:05.000000-07:00"
)

// Timestamp is the canonical ordering and dedup key of a record.
// The zero value means "absent".
type Timestamp struct {
	t time.Time
}

// FromMillis converts an upstream millisecond epoch into a Timestamp.
func FromMillis(ms int64) Timestamp {
	return Timestamp{t: time.UnixMilli(ms).UTC()}
}

// FromTime truncates t to millisecond precision, the finest the upstream reports.
func FromTime(t time.Time) Timestamp {
	if t.IsZero() {
		return Timestamp{}
	}
	return Timestamp{t: t.UTC().Truncate(time.Millisecond)}
}

// ParseTimestamp parses the canonical string form. Plain dates and the NRQL
// literal layout are accepted too so start dates can be written either way.
func ParseTimestamp(s string) (Timestamp, error) {
	for _, layout := range []string{time.RFC3339Nano, QueryLayout, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return FromTime(t), nil
		}
	}
	return Timestamp{}, fmt.Errorf("invalid timestamp %q", s)
}

// millisFromJSON accepts the numeric shapes a JSON decoder may produce.
func millisFromJSON(v any) (int64, error) {
	switch n := v.(type) {
	case nil:
		return 0, ErrMissingTimestamp
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, fmt.Errorf("timestamp %v is not finite", n)
		}
		return int64(n), nil
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("timestamp %q is not numeric: %w", n.String(), err)
		}
		return int64(f), nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("timestamp has type %T, want number", v)
	}
}

func (ts Timestamp) IsZero() bool { return ts.t.IsZero() }

func (ts Timestamp) Time() time.Time { return ts.t }

func (ts Timestamp) Millis() int64 { return ts.t.UnixMilli() }

func (ts Timestamp) Before(o Timestamp) bool { return ts.t.Before(o.t) }

func (ts Timestamp) After(o Timestamp) bool { return ts.t.After(o.t) }

func (ts Timestamp) Equal(o Timestamp) bool { return ts.t.Equal(o.t) }

// String returns the canonical ISO-8601 form, or "" for the zero value.
func (ts Timestamp) String() string {
	if ts.IsZero() {
		return ""
	}
	if ts.t.Nanosecond() != 0 {
		return ts.t.Format(fractionalLayout)
	}
	return ts.t.Format(canonicalLayout)
}

// QueryFormat renders the timestamp at second precision for NRQL.
func (ts Timestamp) QueryFormat() string {
	return ts.t.Format(QueryLayout)
}

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if ts.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(ts.String())
}

func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	var s *string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == nil || *s == "" {
		*ts = Timestamp{}
		return nil
	}
	parsed, err := ParseTimestamp(*s)
	if err != nil {
		return err
	}
	*ts = parsed
	return nil
}

// sameWatermark compares two optional watermarks.
func sameWatermark(a, b *Timestamp) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
