// Package llmerrors classifies errors returned by LLM providers.
package llmerrors

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrorType is the category of an LLM failure.
type ErrorType int8

const (
	// ErrorTypeRateLimit represents rate limiting errors (429, quota exceeded).
	ErrorTypeRateLimit ErrorType = iota
	// ErrorTypeTransient represents 5xx, EOF, connection reset and timeouts.
	ErrorTypeTransient
	// ErrorTypeEmptyResponse represents a successful call with no content.
	ErrorTypeEmptyResponse
	// ErrorTypeAuth represents 401/403 or a missing API key.
	ErrorTypeAuth
	// ErrorTypeBadPrompt represents malformed or oversized requests.
	ErrorTypeBadPrompt
	ErrorTypeUnknown
	// ErrorTypeServiceUnavailable represents a provider that cannot be reached at all.
	ErrorTypeServiceUnavailable
)

func (et ErrorType) String() string {
	switch et {
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeEmptyResponse:
		return "empty_response"
	case ErrorTypeAuth:
		return "auth"
	case ErrorTypeBadPrompt:
		return "bad_prompt"
	case ErrorTypeUnknown:
		return "unknown"
	case ErrorTypeServiceUnavailable:
		return "service_unavailable"
	default:
		return "invalid"
	}
}

// Error is a classified LLM error.
type Error struct {
	Err        error
	Message    string
	Type       ErrorType
	StatusCode int
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("LLM error (%s): %s", e.Type, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("LLM error (%s): %v", e.Type, e.Err)
	}
	return fmt.Sprintf("LLM error (%s): status %d", e.Type, e.StatusCode)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether a caller could reasonably try again.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeAuth, ErrorTypeBadPrompt, ErrorTypeServiceUnavailable:
		return false
	default:
		return true
	}
}

// Is checks if an error is of a specific type.
func Is(err error, errorType ErrorType) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type == errorType
	}
	return false
}

// TypeOf returns the error type of an error, or ErrorTypeUnknown if not classified.
func TypeOf(err error) ErrorType {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type
	}
	return ErrorTypeUnknown
}

func NewError(errorType ErrorType, message string) *Error {
	return &Error{Type: errorType, Message: message}
}

func NewErrorWithStatus(errorType ErrorType, statusCode int, message string) *Error {
	return &Error{Type: errorType, StatusCode: statusCode, Message: message}
}

func NewErrorWithCause(errorType ErrorType, cause error, message string) *Error {
	return &Error{Type: errorType, Err: cause, Message: message}
}

var statusPattern = regexp.MustCompile(`(?i)(?:status code:?|status:?|http)\s*(\d{3})\b`)

// extractStatusCode finds an HTTP status code embedded in an SDK error message.
func extractStatusCode(errStr string) int {
	m := statusPattern.FindStringSubmatch(errStr)
	if m == nil {
		return 0
	}
	code, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return code
}

// Classify maps a raw provider error onto an ErrorType using context errors,
// embedded HTTP status codes and message patterns. Already classified errors
// are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewErrorWithCause(ErrorTypeTransient, err, "request timeout")
	}
	if errors.Is(err, context.Canceled) {
		return NewErrorWithCause(ErrorTypeTransient, err, "request canceled")
	}

	errStr := err.Error()
	switch code := extractStatusCode(errStr); code {
	case 401:
		return &Error{Type: ErrorTypeAuth, StatusCode: code, Err: err, Message: "authentication failed - check API key"}
	case 403:
		return &Error{Type: ErrorTypeAuth, StatusCode: code, Err: err, Message: "permission denied - check API access"}
	case 429:
		return &Error{Type: ErrorTypeRateLimit, StatusCode: code, Err: err, Message: "rate limit exceeded"}
	case 400, 413, 422:
		return &Error{Type: ErrorTypeBadPrompt, StatusCode: code, Err: err, Message: "bad request - check prompt format and parameters"}
	case 500, 502, 504:
		return &Error{Type: ErrorTypeTransient, StatusCode: code, Err: err, Message: "server error"}
	case 503:
		return &Error{Type: ErrorTypeServiceUnavailable, StatusCode: code, Err: err, Message: "service unavailable"}
	}

	lower := strings.ToLower(errStr)
	switch {
	case containsAny(lower, "connection refused", "no such host"):
		return NewErrorWithCause(ErrorTypeServiceUnavailable, err, "provider unreachable")
	case containsAny(lower, "timeout", "connection", "network", "temporary", "eof", "reset"):
		return NewErrorWithCause(ErrorTypeTransient, err, "network or connection error")
	case containsAny(lower, "rate", "quota", "limit"):
		return NewErrorWithCause(ErrorTypeRateLimit, err, "rate limiting detected")
	case containsAny(lower, "auth", "api key", "unauthorized"):
		return NewErrorWithCause(ErrorTypeAuth, err, "authentication error")
	case containsAny(lower, "invalid", "malformed", "too large", "token"):
		return NewErrorWithCause(ErrorTypeBadPrompt, err, "prompt or request error")
	}
	return NewErrorWithCause(ErrorTypeUnknown, err, "unclassified error")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// SanitizePrompt shortens a prompt for logging, keeping both ends plus a hash of the whole.
func SanitizePrompt(prompt string, maxChars int) string {
	if len(prompt) <= maxChars {
		return prompt
	}
	half := maxChars / 2
	if half < 100 {
		half = 100
	}
	if 2*half >= len(prompt) {
		return prompt
	}
	hash := sha256.Sum256([]byte(prompt))
	return fmt.Sprintf("%s...[%d chars, hash:%x]...%s", prompt[:half], len(prompt), hash[:8], prompt[len(prompt)-half:])
}
