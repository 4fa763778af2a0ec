// Package jsonutil renders decoded JSON values as plain strings for audit
// log fields and merge summaries.
package jsonutil

import (
	"encoding/json"
	"fmt"
)

// ScalarString converts a decoded jsonb value to a display string. Entity
// attributes arrive as any after jsonb decoding, so numbers are float64 and
// nested values are maps and slices. Scalars render bare (no quotes);
// composites fall back to their JSON encoding.
func ScalarString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	case bool:
		return fmt.Sprintf("%t", val)
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(raw)
	}
}

// FlexibleString converts a json.RawMessage to a string, accepting numbers
// and booleans where a string was expected. Returns empty string for null.
func FlexibleString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var strVal string
	if err := json.Unmarshal(raw, &strVal); err == nil {
		return strVal
	}

	var anyVal any
	if err := json.Unmarshal(raw, &anyVal); err == nil {
		return ScalarString(anyVal)
	}

	return string(raw)
}
