package persistence

import (
	"encoding/json"
	"fmt"
	"time"
)

// Application record statuses.
const (
	StatusProcessed        = "PROCESSED"
	StatusFlaggedForReview = "FLAGGED_FOR_REVIEW"
	StatusCompleted        = "COMPLETED"
	StatusFailed           = "FAILED"
)

// Review priorities.
const (
	PriorityHigh   = "HIGH"
	PriorityMedium = "MEDIUM"
	PriorityLow    = "LOW"
)

// ReviewStatusPending marks a review flag nobody has picked up yet.
const ReviewStatusPending = "PENDING"

// ApplicationRecord is the audited outcome of underwriting one application.
//
//nolint:govet // field order follows the table
type ApplicationRecord struct {
	ApplicationID    string         `json:"application_id"`
	CustomerID       string         `json:"customer_id"`
	Status           string         `json:"status"`
	RiskScore        float64        `json:"risk_score"`
	PremiumQuoted    float64        `json:"premium_quoted"`
	FraudProbability float64        `json:"fraud_probability"`
	RiskCategory     string         `json:"risk_category"`
	DocumentRefs     []string       `json:"document_refs"`
	CarImageRefs     []string       `json:"car_image_refs"`
	AIExtractions    map[string]any `json:"ai_extractions"`
	ProcessingNotes  string         `json:"processing_notes"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// StepRecord is one executed step in an application's history.
type StepRecord struct {
	ID             int64     `json:"id"`
	ApplicationID  string    `json:"application_id"`
	Seq            int       `json:"seq"`
	Step           string    `json:"step"`
	Success        bool      `json:"success"`
	Error          string    `json:"error,omitempty"`
	CapabilityTags []string  `json:"capability_tags"`
	ExecutedAt     time.Time `json:"executed_at"`
}

// ReviewFlag is a request for a human underwriter to look at an application.
type ReviewFlag struct {
	ReviewID         string    `json:"review_id"`
	ApplicationID    string    `json:"application_id"`
	CustomerID       string    `json:"customer_id"`
	Reasons          []string  `json:"reasons"`
	RiskScore        float64   `json:"risk_score"`
	FraudProbability float64   `json:"fraud_probability"`
	Priority         string    `json:"priority"`
	Status           string    `json:"status"`
	FlaggedAt        time.Time `json:"flagged_at"`
}

// timeLayout is the on-disk timestamp format; fixed width keeps lexical order chronological.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, s)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

func encodeJSON(v any, empty string) (string, error) {
	if v == nil {
		return empty, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode column: %w", err)
	}
	if string(b) == "null" {
		return empty, nil
	}
	return string(b), nil
}

func decodeStrings(s string) ([]string, error) {
	out := []string{}
	if s == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("failed to decode list column: %w", err)
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

func decodeObject(s string) (map[string]any, error) {
	out := map[string]any{}
	if s == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("failed to decode object column: %w", err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}
