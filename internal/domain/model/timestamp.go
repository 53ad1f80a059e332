package model

import (
	"fmt"
	"strings"
	"time"
)

// TimestampLayout is the wire format for createdAt: ISO-8601 with
// milliseconds and an explicit offset.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// RecordZone is the fixed UTC+9 offset every createdAt is expressed in.
var RecordZone = time.FixedZone("UTC+9", 9*60*60) //nolint:gochecknoglobals // fixed zone value

// Timestamp is a time.Time that always serializes in RecordZone.
type Timestamp struct {
	time.Time
}

// NewTimestamp converts t into RecordZone.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.In(RecordZone)}
}

// String formats the timestamp with TimestampLayout.
func (t Timestamp) String() string {
	return t.In(RecordZone).Format(TimestampLayout)
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return []byte(`"` + t.String() + `"`), nil
}

// UnmarshalJSON accepts any RFC3339 string and normalizes it to RecordZone.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("%w: createdAt %q: %v", ErrInvalidRecord, s, err)
	}
	t.Time = parsed.In(RecordZone)
	return nil
}
