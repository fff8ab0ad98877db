package event

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// msThreshold separates epoch seconds from epoch milliseconds: values above
// 10^12 are read as milliseconds.
const msThreshold = 1e12

// Timestamp accepts the three timestamp shapes SDKs send: epoch seconds
// (possibly fractional), epoch milliseconds, and ISO-8601 strings. A value
// that cannot be interpreted leaves the Timestamp invalid; callers fall
// back to wall-clock time.
type Timestamp struct {
	Time  time.Time
	Valid bool
}

// UnmarshalJSON implements tolerant timestamp coercion. It never returns
// an error: garbage simply leaves the timestamp invalid.
func (t *Timestamp) UnmarshalJSON(raw []byte) error {
	t.Valid = false

	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		t.set(fromEpoch(num))
		return nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return nil
	}

	if parsed, ok := parseISO(s); ok {
		t.set(parsed)
		return nil
	}
	// Some SDKs send the epoch as a string.
	if num, err := strconv.ParseFloat(s, 64); err == nil {
		t.set(fromEpoch(num))
	}
	return nil
}

// MarshalJSON emits RFC 3339 UTC, or null when invalid. Used when events
// are re-serialized onto the distributed queue.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if !t.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.UTC().Format(time.RFC3339Nano))
}

func (t *Timestamp) set(v time.Time) {
	t.Time = v.UTC()
	t.Valid = true
}

func fromEpoch(v float64) time.Time {
	if v > msThreshold {
		v = v / 1000
	}
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

// parseISO handles ISO-8601 with a trailing Z or a numeric offset, with or
// without sub-second precision or a T separator.
func parseISO(s string) (time.Time, bool) {
	s = strings.Replace(s, " ", "T", 1)
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02T15:04:05.999999999",
	}
	for _, layout := range layouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

// coerceString renders a loosely-typed JSON value as a string. Numbers keep
// their shortest representation so tag values like 42 become "42", not
// "42.000000".
func coerceString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", val)
	}
}
