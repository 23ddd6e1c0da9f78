package stream

import (
	"encoding/json"
	"testing"
	"time"
)

func TestFromMillis_CanonicalString(t *testing.T) {
	tests := []struct {
		ms   int64
		want string
	}{
		{1704103201000, "2024-01-01T10:00:01+00:00"},
		{1704103201500, "2024-01-01T10:00:01.500000+00:00"},
		{1704103201123, "2024-01-01T10:00:01.123000+00:00"},
		{0, "1970-01-01T00:00:00+00:00"},
	}
	for _, tt := range tests {
		if got := FromMillis(tt.ms).String(); got != tt.want {
			t.Errorf("FromMillis(%d).String() = %q, want %q", tt.ms, got, tt.want)
		}
	}
}

func TestTimestamp_RoundTripKeepsSecond(t *testing.T) {
	for _, ms := range []int64{1704103201000, 1704103201999, 1577836800001, 1893456000000} {
		ts := FromMillis(ms)
		back, err := ParseTimestamp(ts.String())
		if err != nil {
			t.Fatalf("ParseTimestamp(%q): %v", ts.String(), err)
		}
		if back.Millis()/1000 != ms/1000 {
			t.Errorf("round trip of %d gave second %d, want %d", ms, back.Millis()/1000, ms/1000)
		}
		if !back.Equal(ts) {
			t.Errorf("round trip of %d = %v, want %v", ms, back, ts)
		}
	}
}

func TestParseTimestamp_Layouts(t *testing.T) {
	want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, s := range []string{"2024-01-01", "2024-01-01 00:00:00", "2024-01-01T00:00:00Z", "2024-01-01T01:00:00+01:00", "2024-01-01T00:00:00.000000+00:00"} {
		ts, err := ParseTimestamp(s)
		if err != nil {
			t.Errorf("ParseTimestamp(%q): %v", s, err)
			continue
		}
		if !ts.Time().Equal(want) {
			t.Errorf("ParseTimestamp(%q) = %v, want %v", s, ts.Time(), want)
		}
	}

	if _, err := ParseTimestamp("yesterday"); err == nil {
		t.Error("expected error for unparseable timestamp")
	}
}

func TestTimestamp_QueryFormatDropsSubSeconds(t *testing.T) {
	ts := FromMillis(1704103201750)
	if got := ts.QueryFormat(); got != "2024-01-01 10:00:01" {
		t.Errorf("QueryFormat() = %q, want %q", got, "2024-01-01 10:00:01")
	}
}

func TestTimestamp_JSON(t *testing.T) {
	ts := FromMillis(1704103201000)
	data, err := json.Marshal(ts)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `"2024-01-01T10:00:01+00:00"` {
		t.Errorf("marshal = %s", data)
	}

	var back Timestamp
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !back.Equal(ts) {
		t.Errorf("unmarshal = %v, want %v", back, ts)
	}

	var zero Timestamp
	if err := json.Unmarshal([]byte("null"), &zero); err != nil {
		t.Fatalf("unmarshal null: %v", err)
	}
	if !zero.IsZero() {
		t.Errorf("null should decode to the zero timestamp, got %v", zero)
	}
}

func TestMillisFromJSON(t *testing.T) {
	tests := []struct {
		in      any
		want    int64
		wantErr bool
	}{
		{float64(1704103201000), 1704103201000, false},
		{json.Number("1704103201000"), 1704103201000, false},
		{json.Number("1704103201000.0"), 1704103201000, false},
		{int64(5), 5, false},
		{"1704103201000", 0, true},
		{nil, 0, true},
		{true, 0, true},
	}
	for _, tt := range tests {
		got, err := millisFromJSON(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("millisFromJSON(%#v) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("millisFromJSON(%#v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
