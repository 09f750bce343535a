package tool

import (
	"encoding/json"
	"fmt"
)

// ArgsString returns args[key] as a string, JSON-encoding non-string values.
func ArgsString(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	v, ok := args[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

// ArgsMap returns the nested object args[key], or an empty map.
func ArgsMap(args map[string]any, key string) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	m, ok := args[key].(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return m
}

// Extract reads a required parameter with type conversion for JSON numbers.
func Extract[T any](args map[string]any, name string) (T, error) {
	var zero T
	value, exists := args[name]
	if !exists {
		return zero, fmt.Errorf("%s parameter is required", name)
	}
	if v, ok := value.(T); ok {
		return v, nil
	}
	if v, ok := convertNumeric[T](value); ok {
		return v, nil
	}
	return zero, fmt.Errorf("%s parameter must be of type %T, got %T", name, zero, value)
}

// ExtractOptional reads an optional parameter, returning def when it is absent.
func ExtractOptional[T any](args map[string]any, name string, def T) (T, error) {
	value, exists := args[name]
	if !exists || value == nil {
		return def, nil
	}
	if v, ok := value.(T); ok {
		return v, nil
	}
	if v, ok := convertNumeric[T](value); ok {
		return v, nil
	}
	var zero T
	return zero, fmt.Errorf("%s parameter must be of type %T, got %T", name, zero, value)
}

// convertNumeric handles numbers decoded from JSON (float64) or YAML (int).
func convertNumeric[T any](value any) (T, bool) {
	var zero T
	var f float64
	switch n := value.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		v, err := n.Float64()
		if err != nil {
			return zero, false
		}
		f = v
	default:
		return zero, false
	}
	switch any(zero).(type) {
	case int:
		return any(int(f)).(T), true
	case int64:
		return any(int64(f)).(T), true
	case float64:
		return any(f).(T), true
	}
	return zero, false
}
