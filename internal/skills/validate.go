package skills

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Validate checks args against the subset of JSON Schema skills use:
// required fields and the primitive type of each known property.
func Validate(schema map[string]any, args map[string]any) error {
	if schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}

	for _, field := range requiredFields(schema["required"]) {
		if _, ok := args[field]; !ok {
			return fmt.Errorf("missing required field: %s", field)
		}
	}

	props, _ := schema["properties"].(map[string]any)
	if len(props) == 0 {
		return nil
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		def, ok := props[key].(map[string]any)
		if !ok {
			continue
		}
		if err := checkValue(args[key], def); err != nil {
			return fmt.Errorf("field %s: %w", key, err)
		}
	}
	return nil
}

// Coerce converts string values to the primitive type their property
// declares. It returns a new map; values that do not parse stay as the raw
// string so Validate still reports them.
func Coerce(schema map[string]any, args map[string]any) map[string]any {
	props, _ := schema["properties"].(map[string]any)
	if len(props) == 0 || args == nil {
		return args
	}
	out := maps.Clone(args)
	for key, v := range args {
		s, ok := v.(string)
		if !ok {
			continue
		}
		def, _ := props[key].(map[string]any)
		expected, _ := def["type"].(string)
		if c, ok := coerceString(strings.TrimSpace(s), expected); ok {
			out[key] = c
		}
	}
	return out
}

func coerceString(s, expected string) (any, bool) {
	switch expected {
	case "boolean":
		b, err := strconv.ParseBool(s)
		return b, err == nil
	case "integer", "number", "object", "array", "null":
		var v any
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return nil, false
		}
		return v, matchesType(v, expected)
	}
	return nil, false
}

func requiredFields(v any) []string {
	switch r := v.(type) {
	case []string:
		return r
	case []any:
		out := make([]string, 0, len(r))
		for _, f := range r {
			if s, ok := f.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func checkValue(value any, def map[string]any) error {
	expected, _ := def["type"].(string)
	if expected != "" && !matchesType(value, expected) {
		return fmt.Errorf("expected %s, got %s", expected, jsonType(value))
	}
	if enum, ok := def["enum"]; ok {
		if !inEnum(value, enum) {
			return fmt.Errorf("value %v not in enum", value)
		}
	}
	return nil
}

func matchesType(value any, expected string) bool {
	switch expected {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		return isNumber(value)
	case "integer":
		return isInteger(value)
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "array":
		_, ok := value.([]any)
		if !ok {
			_, ok = value.([]string)
		}
		return ok
	case "null":
		return value == nil
	}
	return true
}

func isNumber(v any) bool {
	switch n := v.(type) {
	case float64, float32, int, int32, int64:
		return true
	case json.Number:
		_, err := n.Float64()
		return err == nil
	}
	return false
}

func isInteger(v any) bool {
	switch n := v.(type) {
	case int, int32, int64:
		return true
	case float64:
		return n == math.Trunc(n) && !math.IsInf(n, 0)
	case float32:
		f := float64(n)
		return f == math.Trunc(f)
	case json.Number:
		_, err := n.Int64()
		return err == nil
	}
	return false
}

func jsonType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	case []any, []string:
		return "array"
	}
	if isNumber(v) {
		return "number"
	}
	return fmt.Sprintf("%T", v)
}

func inEnum(value any, enum any) bool {
	switch e := enum.(type) {
	case []string:
		s, ok := value.(string)
		if !ok {
			return false
		}
		for _, v := range e {
			if v == s {
				return true
			}
		}
		return false
	case []any:
		for _, v := range e {
			if v == value {
				return true
			}
		}
		return false
	}
	return true
}
