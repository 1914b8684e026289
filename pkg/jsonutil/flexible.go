package jsonutil

import (
	"encoding/json"
	"fmt"
)

// FlexibleStringValue converts a json.RawMessage to a string, handling cases where
// LLMs return numbers or booleans instead of strings. Returns empty string for null/empty.
func FlexibleStringValue(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	// Try string first
	var strVal string
	if err := json.Unmarshal(raw, &strVal); err == nil {
		return strVal
	}

	// Try number
	var numVal float64
	if err := json.Unmarshal(raw, &numVal); err == nil {
		if numVal == float64(int64(numVal)) {
			return fmt.Sprintf("%d", int64(numVal))
		}
		return fmt.Sprintf("%g", numVal)
	}

	// Try boolean
	var boolVal bool
	if err := json.Unmarshal(raw, &boolVal); err == nil {
		return fmt.Sprintf("%t", boolVal)
	}

	// Fallback: return raw string representation
	return string(raw)
}

// FlexibleStringSlice converts a json.RawMessage to a string slice, handling
// cases where LLMs return a bare scalar instead of an array, or mix scalar
// types inside the array. Returns nil for null/empty.
func FlexibleStringSlice(raw json.RawMessage) []string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	// Try array of arbitrary scalars
	var rawItems []json.RawMessage
	if err := json.Unmarshal(raw, &rawItems); err == nil {
		out := make([]string, 0, len(rawItems))
		for _, item := range rawItems {
			if s := FlexibleStringValue(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	}

	// Bare scalar: wrap as single-element slice
	if s := FlexibleStringValue(raw); s != "" {
		return []string{s}
	}
	return nil
}
