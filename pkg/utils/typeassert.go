package utils

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// SafeAssert performs a type assertion and reports success.
func SafeAssert[T any](value any) (T, bool) {
	if v, ok := value.(T); ok {
		return v, true
	}
	var zero T
	return zero, false
}

// GetMapField gets a field from a map[string]any and asserts its type.
func GetMapField[T any](m map[string]any, key string) (T, error) {
	var zero T
	value, exists := m[key]
	if !exists {
		return zero, fmt.Errorf("field '%s' not found in map", key)
	}
	if typedValue, ok := value.(T); ok {
		return typedValue, nil
	}
	return zero, fmt.Errorf("field '%s' expected type %T, got %T", key, zero, value)
}

// GetMapFieldOr gets a field from a map[string]any with a default value.
func GetMapFieldOr[T any](m map[string]any, key string, defaultValue T) T {
	if value, err := GetMapField[T](m, key); err == nil {
		return value
	}
	return defaultValue
}

// ToFloat converts the numeric shapes produced by JSON and YAML decoding to float64.
func ToFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// FloatField reads a numeric field, returning def when missing or non-numeric.
func FloatField(m map[string]any, key string, def float64) float64 {
	if f, ok := ToFloat(m[key]); ok {
		return f
	}
	return def
}

// IntField reads a numeric field truncated to int.
func IntField(m map[string]any, key string, def int) int {
	if f, ok := ToFloat(m[key]); ok {
		return int(f)
	}
	return def
}

// StringField reads a string field, returning def when missing or not a string.
func StringField(m map[string]any, key, def string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return def
}

// StringSlice accepts []string or []any of strings; other elements are skipped.
func StringSlice(value any) []string {
	switch v := value.(type) {
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
