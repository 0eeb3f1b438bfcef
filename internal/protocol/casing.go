package protocol

import "strings"

// Legacy (version 1) payloads use snake_case object keys; version 2 and later
// use camelCase. Conversion touches keys only: values, arrays, and key order
// inside a document are never reinterpreted. For well-formed keys
// ToSnake(ToCamel(k)) == k, which is what legacy round-tripping relies on.

// CamelizeKeys recursively rewrites all object keys from snake_case to
// camelCase. The input is a decoded JSON value (map, slice, or scalar).
func CamelizeKeys(v any) any {
	return mapKeys(v, ToCamel)
}

// SnakeifyKeys recursively rewrites all object keys from camelCase to
// snake_case.
func SnakeifyKeys(v any) any {
	return mapKeys(v, ToSnake)
}

func mapKeys(v any, conv func(string) string) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[conv(k)] = mapKeys(val, conv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = mapKeys(val, conv)
		}
		return out
	default:
		return v
	}
}

// ToCamel converts a snake_case key to camelCase. Keys without underscores
// pass through unchanged, so camelCase input is a fixed point.
func ToCamel(s string) string {
	if !strings.Contains(s, "_") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	upper := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '_' && i > 0 && i < len(s)-1 {
			upper = true
			continue
		}
		if upper && c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		upper = false
		b.WriteByte(c)
	}
	return b.String()
}

// ToSnake converts a camelCase key to snake_case.
func ToSnake(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			c += 'a' - 'A'
		}
		b.WriteByte(c)
	}
	return b.String()
}
