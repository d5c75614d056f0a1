package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/you/gnasty-alerts/internal/core"
)

func digMap(m map[string]any, keys ...string) map[string]any {
	current := m
	for _, key := range keys {
		next, ok := current[key].(map[string]any)
		if !ok {
			return nil
		}
		current = next
	}
	return current
}

// str returns the first non-empty string found under keys.
func str(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case json.Number:
			return v.String()
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case int:
			return strconv.Itoa(v)
		case int64:
			return strconv.FormatInt(v, 10)
		}
	}
	return ""
}

// num returns the first numeric value found under keys. Numeric strings are
// accepted.
func num(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if f, ok := toFloat(m[k]); ok {
			return f, true
		}
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = n
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func integer(m map[string]any, keys ...string) (int, bool) {
	f, ok := num(m, keys...)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

func boolean(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		switch v := m[k].(type) {
		case bool:
			if v {
				return true
			}
		case string:
			if b, err := strconv.ParseBool(v); err == nil && b {
				return true
			}
		}
	}
	return false
}

// timestamp resolves an ISO string or a ms/µs epoch number to ms epoch.
func timestamp(v any) (int64, bool) {
	switch t := v.(type) {
	case string:
		if ms, ok := core.ParseISO(t); ok {
			return ms, true
		}
		if n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
			return epochMs(n), n > 0
		}
	default:
		if f, ok := toFloat(v); ok && f > 0 {
			return epochMs(int64(f)), true
		}
	}
	return 0, false
}

// epochMs scales seconds or microseconds to milliseconds by magnitude.
func epochMs(n int64) int64 {
	switch {
	case n > 1e15:
		return n / 1000
	case n < 1e11:
		return n * 1000
	}
	return n
}

func stamp(in *core.RawIntent, v any) {
	if ms, ok := timestamp(v); ok {
		in.CreatedAt = ms
		in.Timestamp = core.ISOTime(ms)
	}
}

// fail builds the raw intent returned for malformed input.
func fail(p core.Platform, raw map[string]any, format string, args ...any) core.RawIntent {
	return core.RawIntent{
		Platform:       p,
		Kind:           core.KindRaw,
		Payload:        raw,
		NormaliseError: fmt.Sprintf(format, args...),
	}
}
