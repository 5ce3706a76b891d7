// Package utils provides token counting and loosely typed map helpers shared
// by the router, tools and orchestrator.
package utils

import (
	"fmt"
	"strings"

	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter counts prompt tokens. Every provider is approximated with the
// GPT-4 encoding.
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter creates a token counter for model.
func NewTokenCounter(model string) (*TokenCounter, error) {
	tikModel := tokenizer.GPT4
	if strings.HasPrefix(model, "gpt-4o") || strings.HasPrefix(model, "o4") {
		tikModel = tokenizer.GPT4o
	}

	codec, err := tokenizer.ForModel(tikModel)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec for model %s: %w", model, err)
	}
	return &TokenCounter{codec: codec}, nil
}

// CountTokens returns the number of tokens in text, estimating four
// characters per token if the codec is unavailable.
func (tc *TokenCounter) CountTokens(text string) int {
	if tc == nil || tc.codec == nil {
		return len(text) / 4
	}
	count, err := tc.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}

// ValidateTokenLimit reports whether text fits within limit.
func (tc *TokenCounter) ValidateTokenLimit(text string, limit int) bool {
	return tc.CountTokens(text) <= limit
}

// TruncateToTokenLimit shortens text to roughly limit tokens, cutting on a
// line boundary when one is close and appending a truncation marker.
func (tc *TokenCounter) TruncateToTokenLimit(text string, limit int) string {
	current := tc.CountTokens(text)
	if current <= limit {
		return text
	}

	ratio := float64(limit) / float64(current)
	charLimit := int(float64(len(text)) * ratio * 0.9)
	if charLimit <= 0 {
		return "...[truncated]"
	}
	if charLimit >= len(text) {
		return text
	}

	cut := text[:charLimit]
	if nl := strings.LastIndexByte(cut, '\n'); nl > charLimit/2 {
		cut = cut[:nl]
	}
	return cut + "\n...[truncated]"
}
