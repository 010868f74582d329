package batch

import (
	"math"
	"reflect"
	"time"
)

// AsInt64 widens any Go integer to int64. Unsigned values above MaxInt64 and
// non-integers report false.
func AsInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	}
	return 0, false
}

// AsUint64 converts any non-negative Go integer to uint64.
func AsUint64(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint:
		return uint64(n), true
	case uint8:
		return uint64(n), true
	case uint16:
		return uint64(n), true
	case uint32:
		return uint64(n), true
	case uint64:
		return n, true
	}
	i, ok := AsInt64(v)
	if !ok || i < 0 {
		return 0, false
	}
	return uint64(i), true
}

// AsFloat64 converts floats and integers to float64.
func AsFloat64(v any) (float64, bool) {
	switch f := v.(type) {
	case float32:
		return float64(f), true
	case float64:
		return f, true
	}
	if i, ok := AsInt64(v); ok {
		return float64(i), true
	}
	if u, ok := AsUint64(v); ok {
		return float64(u), true
	}
	return 0, false
}

// AsSlice exposes []any or any typed slice as a length and accessor.
// []byte is not treated as a list.
func AsSlice(v any) (int, func(int) any, bool) {
	if items, ok := v.([]any); ok {
		return len(items), func(i int) any { return items[i] }, true
	}
	if _, ok := v.([]byte); ok {
		return 0, nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return 0, nil, false
	}
	return rv.Len(), func(i int) any { return rv.Index(i).Interface() }, true
}

// DaysSinceEpoch returns the number of whole days between the Unix epoch and
// t in UTC, rounding toward negative infinity.
func DaysSinceEpoch(t time.Time) int64 {
	secs := t.Unix()
	days := secs / 86400
	if secs%86400 < 0 {
		days--
	}
	return days
}
