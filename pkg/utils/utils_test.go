package utils

import (
	"encoding/json"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewApplicationID(t *testing.T) {
	pattern := regexp.MustCompile(`^APP_[0-9A-F]{8}$`)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id := NewApplicationID()
		assert.Regexp(t, pattern, id)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestSanitizeIdentifier(t *testing.T) {
	assert.Equal(t, "a-b-c-d-e", SanitizeIdentifier(`a:b c/d\e`))
}

func TestMapHelpers(t *testing.T) {
	m := map[string]any{
		"f":   0.42,
		"i":   7,
		"n":   json.Number("12.5"),
		"s":   "text",
		"num": "3.5",
		"l":   []any{"a", 3, "b"},
	}

	assert.InDelta(t, 0.42, FloatField(m, "f", 0), 1e-9)
	assert.InDelta(t, 7.0, FloatField(m, "i", 0), 1e-9)
	assert.InDelta(t, 12.5, FloatField(m, "n", 0), 1e-9)
	assert.InDelta(t, 3.5, FloatField(m, "num", 0), 1e-9)
	assert.InDelta(t, 9.0, FloatField(m, "missing", 9), 1e-9)
	assert.InDelta(t, 1.0, FloatField(m, "s", 1), 1e-9)
	assert.Equal(t, 12, IntField(m, "n", 0))
	assert.Equal(t, "text", StringField(m, "s", ""))
	assert.Equal(t, "d", StringField(m, "f", "d"))
	assert.Equal(t, []string{"a", "b"}, StringSlice(m["l"]))
	assert.Nil(t, StringSlice(42))

	v, ok := SafeAssert[string](m["s"])
	assert.True(t, ok)
	assert.Equal(t, "text", v)
	assert.Equal(t, 5, GetMapFieldOr(m, "s", 5))
	_, err := GetMapField[int](m, "nope")
	assert.Error(t, err)
}
