package utils

import (
	"strings"
	"testing"
)

func TestNewTokenCounter(t *testing.T) {
	for _, model := range []string{"gpt-4o", "claude-sonnet-4-5", "gemini-2.5-flash", "unknown-model"} {
		t.Run(model, func(t *testing.T) {
			counter, err := NewTokenCounter(model)
			if err != nil {
				t.Fatalf("NewTokenCounter(%s) failed: %v", model, err)
			}
			if counter == nil {
				t.Fatalf("NewTokenCounter(%s) returned nil counter", model)
			}
		})
	}
}

func TestCountTokens(t *testing.T) {
	counter, err := NewTokenCounter("claude-sonnet-4-5")
	if err != nil {
		t.Fatalf("Failed to create token counter: %v", err)
	}

	tests := []struct {
		text      string
		minTokens int
		maxTokens int
	}{
		{"", 0, 0},
		{"Hello", 1, 2},
		{"Hello world", 2, 3},
		{strings.Repeat("word ", 100), 90, 110},
	}

	for _, tt := range tests {
		tokens := counter.CountTokens(tt.text)
		if tokens < tt.minTokens || tokens > tt.maxTokens {
			t.Errorf("CountTokens(%.20q) = %d, want between %d and %d", tt.text, tokens, tt.minTokens, tt.maxTokens)
		}
	}

	var nilCounter *TokenCounter
	if got := nilCounter.CountTokens("abcdefgh"); got != 2 {
		t.Errorf("Expected character estimate of 2, got %d", got)
	}
}

func TestValidateTokenLimit(t *testing.T) {
	counter, err := NewTokenCounter("gpt-4o")
	if err != nil {
		t.Fatalf("Failed to create token counter: %v", err)
	}
	if !counter.ValidateTokenLimit("short", 10) {
		t.Error("Expected short text within limit")
	}
	if counter.ValidateTokenLimit("a very long sentence that definitely exceeds a small token limit", 5) {
		t.Error("Expected long text over limit")
	}
}

func TestTruncateToTokenLimit(t *testing.T) {
	counter, err := NewTokenCounter("gpt-4o")
	if err != nil {
		t.Fatalf("Failed to create token counter: %v", err)
	}

	longText := strings.Repeat("Risk factor recorded for applicant.\n", 60)
	truncated := counter.TruncateToTokenLimit(longText, 40)

	if len(truncated) >= len(longText) {
		t.Error("TruncateToTokenLimit should have shortened the text")
	}
	if !strings.HasSuffix(truncated, "...[truncated]") {
		t.Errorf("Expected truncation marker, got %q", truncated[len(truncated)-20:])
	}
	if tokens := counter.CountTokens(truncated); tokens > 50 {
		t.Errorf("Truncated text has %d tokens, expected around 40", tokens)
	}

	if got := counter.TruncateToTokenLimit("short", 100); got != "short" {
		t.Errorf("Expected text unchanged, got %q", got)
	}
}
