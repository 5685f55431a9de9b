package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// listSeparators splits delimited list text from scrapers that flatten
// arrays into a single cell.
var listSeparators = func(r rune) bool {
	return r == ',' || r == ';' || r == '|' || r == '\n' || r == '\r'
}

// CoerceString renders an arbitrary scalar as trimmed text. Lists are joined
// with ", "; nil yields "".
func CoerceString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []byte:
		return strings.TrimSpace(string(t))
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case []string:
		return strings.Join(NewStringSet(t...), ", ")
	case []any:
		return strings.Join(CoerceList(t), ", ")
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// CoerceList accepts a native list or delimited text and returns a
// normalized StringSet.
func CoerceList(v any) StringSet {
	switch t := v.(type) {
	case nil:
		return nil
	case StringSet:
		return NewStringSet(t...)
	case []string:
		return NewStringSet(t...)
	case []any:
		var out StringSet
		for _, item := range t {
			out = out.Add(CoerceString(item))
		}
		return out
	case string:
		return NewStringSet(strings.FieldsFunc(t, listSeparators)...)
	default:
		return NewStringSet(CoerceString(t))
	}
}

// CoerceFloat parses a score. ok is false for nil, empty or unparseable input.
func CoerceFloat(v any) (f float64, ok bool) {
	switch t := v.(type) {
	case nil:
		return 0, false
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case *float64:
		if t == nil {
			return 0, false
		}
		return *t, true
	case string:
		s := strings.TrimSuffix(strings.TrimSpace(t), "%")
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// CoerceTime parses RFC 3339 or date-only text. ok is false otherwise.
func CoerceTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), !t.IsZero()
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

// Float returns a pointer to f.
func Float(f float64) *float64 { return &f }
