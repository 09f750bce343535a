package tool

import (
	"encoding/json"
	"slices"

	"github.com/invopop/jsonschema"
)

var reflector = jsonschema.Reflector{
	RequiredFromJSONSchemaTags: true,
	ExpandedStruct:             true,
	AllowAdditionalProperties:  true,
	DoNotReference:             true,
}

// SchemaFor reflects the parameter struct T into a JSON-Schema object usable as a
// tool input schema. Field docs come from `jsonschema:"..."` tags.
func SchemaFor[T any]() map[string]any {
	var zero T
	s := reflector.Reflect(&zero)
	data, err := json.Marshal(s)
	if err != nil {
		panic("tool: reflect schema: " + err.Error())
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		panic("tool: decode schema: " + err.Error())
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out
}

// CloneSchema deep-copies a schema so callers can edit it without touching the
// tool's own copy.
func CloneSchema(schema map[string]any) map[string]any {
	if schema == nil {
		return nil
	}
	return cloneValue(schema).(map[string]any)
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return slices.Clone(t)
	default:
		return v
	}
}
