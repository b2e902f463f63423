package schema

import (
	"strconv"
	"time"
)

// Row value coercion helpers for Scan implementations. database/sql drivers
// disagree on scan types (SQLite returns int64 for booleans and text for
// timestamps), so record types funnel row values through these instead of
// type-asserting directly.

// Int64 coerces a row value to int64, returning 0 for nil or non-numeric values.
func Int64(v any) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case int:
		return int64(val)
	case int32:
		return int64(val)
	case float64:
		return int64(val)
	case string:
		n, _ := strconv.ParseInt(val, 10, 64)
		return n
	case []byte:
		n, _ := strconv.ParseInt(string(val), 10, 64)
		return n
	default:
		return 0
	}
}

// Float64 coerces a row value to float64.
func Float64(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case float32:
		return float64(val)
	case int64:
		return float64(val)
	case int:
		return float64(val)
	case string:
		f, _ := strconv.ParseFloat(val, 64)
		return f
	default:
		return 0
	}
}

// String coerces a row value to string, returning "" for nil.
func String(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	case nil:
		return ""
	default:
		return ""
	}
}

// Bool coerces a row value to bool. SQLite stores booleans as 0/1 integers.
func Bool(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case int64:
		return val != 0
	case int:
		return val != 0
	case float64:
		return val != 0
	case string:
		b, _ := strconv.ParseBool(val)
		return b
	default:
		return false
	}
}

// Time coerces a row value to time.Time, trying the formats SQLite emits
// for text timestamps. Returns the zero time when unparseable.
func Time(v any) time.Time {
	switch val := v.(type) {
	case time.Time:
		return val
	case string:
		return parseTime(val)
	case []byte:
		return parseTime(string(val))
	default:
		return time.Time{}
	}
}

func parseTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
