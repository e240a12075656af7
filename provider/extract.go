package provider

import (
	"fmt"
	"strconv"
)

// dig walks nested JSON objects and returns the value at the key path,
// or nil when any segment is missing.
func dig(data map[string]any, path ...string) any {
	current := any(data)
	for _, key := range path {
		object, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = object[key]
		if !ok {
			return nil
		}
	}
	return current
}

// digAny returns the first non-nil value among the given key paths.
func digAny(data map[string]any, paths ...[]string) any {
	for _, path := range paths {
		if value := dig(data, path...); value != nil {
			return value
		}
	}
	return nil
}

// toString renders a scalar JSON value as a string. Whole-number
// floats print without a decimal point; provider ids are frequently
// JSON numbers.
func toString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// toFloat converts a scalar JSON value to a float64 pointer, or nil
// when the value is absent or not numeric.
func toFloat(value any) *float64 {
	switch v := value.(type) {
	case float64:
		return &v
	case int:
		f := float64(v)
		return &f
	case int64:
		f := float64(v)
		return &f
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return &f
		}
	}
	return nil
}

// firstPayloadValue returns the first present payload key's value.
func firstPayloadValue(payload map[string]any, keys ...string) any {
	for _, key := range keys {
		if value, ok := payload[key]; ok && value != nil {
			return value
		}
	}
	return nil
}
