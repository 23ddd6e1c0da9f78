package stream

import (
	"regexp"
	"strings"
)

// TimestampField is the upstream replication key of every event type.
const TimestampField = "timestamp"

// Timestamped is implemented by everything the dedup engine orders.
type Timestamped interface {
	EventTime() Timestamp
}

// Row is one raw result row: the required event time plus the untouched payload.
type Row struct {
	Millis int64
	Fields map[string]any
}

func (r Row) EventTime() Timestamp { return FromMillis(r.Millis) }

// Record is a normalized row tagged with the stream it belongs to.
type Record struct {
	Stream string
	Time   Timestamp
	Fields map[string]any
}

func (r Record) EventTime() Timestamp { return r.Time }

// Normalizer turns a raw row into a Record.
type Normalizer interface {
	Normalize(row Row) (Record, error)
}

var (
	acronymBoundary = regexp.MustCompile(`([A-Z]+)([A-Z][a-z])`)
	wordBoundary    = regexp.MustCompile(`([a-z\d])([A-Z])`)
)

// Underscore converts a camelCase key to snake_case. Digits stay attached
// to the preceding word and dots are kept: "os2Version" -> "os2_version",
// "monitor.extendedType" -> "monitor.extended_type".
func Underscore(key string) string {
	key = acronymBoundary.ReplaceAllString(key, "${1}_${2}")
	key = wordBoundary.ReplaceAllString(key, "${1}_${2}")
	key = strings.ReplaceAll(key, "-", "_")
	return strings.ToLower(key)
}

// SnakeCase renames payload keys to snake_case and formats the timestamp.
type SnakeCase struct {
	Stream string
}

// Normalize implements Normalizer.
func (n SnakeCase) Normalize(row Row) (Record, error) {
	ts := row.EventTime()
	fields := make(map[string]any, len(row.Fields))
	for k, v := range row.Fields {
		fields[Underscore(k)] = v
	}
	fields[TimestampField] = ts.String()

	return Record{Stream: n.Stream, Time: ts, Fields: fields}, nil
}
