// Package tools provides the built-in tool set: arithmetic, weather,
// document lookup, and the water level sensing and pump control surface the
// automation loop shares with the chat pipeline.
package tools

import (
	"fmt"
	"time"
)

// parseString extracts a required string argument.
func parseString(input map[string]interface{}, key string) (string, error) {
	value, ok := input[key].(string)
	if !ok || value == "" {
		return "", fmt.Errorf("parameter '%s' must be a non-empty string", key)
	}
	return value, nil
}

// parseBool extracts a required boolean argument. JSON booleans arrive as
// bool; "true"/"false" strings from loosely formatted analyses are accepted
// too.
func parseBool(input map[string]interface{}, key string) (bool, error) {
	switch value := input[key].(type) {
	case bool:
		return value, nil
	case string:
		if value == "true" {
			return true, nil
		}
		if value == "false" {
			return false, nil
		}
	}
	return false, fmt.Errorf("parameter '%s' must be a boolean", key)
}

// parseNumber extracts an optional numeric argument, returning fallback when
// absent. JSON numbers arrive as float64.
func parseNumber(input map[string]interface{}, key string, fallback float64) (float64, error) {
	raw, present := input[key]
	if !present {
		return fallback, nil
	}
	value, ok := raw.(float64)
	if !ok {
		return 0, fmt.Errorf("parameter '%s' must be a number", key)
	}
	return value, nil
}

func formatTimestamp(t time.Time) string {
	return t.Format(time.RFC3339)
}
