package tool

import (
	"fmt"
	"math"
	"reflect"
	"slices"
	"strings"
)

// Validate checks params against a tool's declared input schema: required keys,
// primitive types and enum membership. Nested objects are checked recursively.
// Unknown keys are allowed.
func Validate(schema map[string]any, params map[string]any) error {
	return validateObject("", schema, params)
}

func validateObject(path string, schema map[string]any, params map[string]any) error {
	for _, req := range stringList(schema["required"]) {
		if v, ok := params[req]; !ok || v == nil {
			return fmt.Errorf("missing required parameter %q", join(path, req))
		}
	}
	props, _ := schema["properties"].(map[string]any)
	for name, raw := range props {
		v, ok := params[name]
		if !ok || v == nil {
			continue
		}
		prop, _ := raw.(map[string]any)
		if prop == nil {
			continue
		}
		if err := validateValue(join(path, name), prop, v); err != nil {
			return err
		}
	}
	return nil
}

func validateValue(path string, prop map[string]any, v any) error {
	typ, _ := prop["type"].(string)
	if typ != "" && !matchesType(typ, v) {
		return fmt.Errorf("parameter %q must be of type %s, got %T", path, typ, v)
	}
	if enum, ok := prop["enum"].([]any); ok && len(enum) > 0 {
		s := fmt.Sprint(v)
		if !slices.ContainsFunc(enum, func(e any) bool { return fmt.Sprint(e) == s }) {
			return fmt.Errorf("parameter %q must be one of %v, got %q", path, enum, s)
		}
	}
	if typ == "object" {
		if m, ok := v.(map[string]any); ok {
			return validateObject(path, prop, m)
		}
	}
	return nil
}

func matchesType(typ string, v any) bool {
	switch typ {
	case "string":
		_, ok := v.(string)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "integer":
		switch n := v.(type) {
		case int, int32, int64:
			return true
		case float64:
			return n == math.Trunc(n)
		}
		return false
	case "number":
		switch v.(type) {
		case int, int32, int64, float32, float64:
			return true
		}
		return false
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "array":
		k := reflect.TypeOf(v).Kind()
		return k == reflect.Slice || k == reflect.Array
	}
	return true
}

func stringList(v any) []string {
	switch l := v.(type) {
	case []string:
		return l
	case []any:
		out := make([]string, 0, len(l))
		for _, e := range l {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return strings.Join([]string{path, name}, ".")
}
