package proto

import (
	"encoding/json"
	"fmt"
)

// Payload keys shared by producers and consumers.
const (
	KeyCustomerID    = "customer_id"
	KeyPersonalInfo  = "personal_info"
	KeyCarImageRefs  = "car_image_refs"
	KeyDocumentRefs  = "document_refs"
	KeyToolName      = "tool_name"
	KeyParameters    = "params"
	KeyError         = "error"
	KeyStatus        = "status"
	KeyApplicationID = "application_id"
)

// StartProcessing is the payload of a start_application_processing envelope.
type StartProcessing struct {
	CustomerID   string         `json:"customer_id"`
	PersonalInfo map[string]any `json:"personal_info"`
	CarImageRefs []string       `json:"car_image_refs"`
	DocumentRefs []string       `json:"document_refs"`
}

// ToolExecutionRequest asks the orchestrator to run one named step.
type ToolExecutionRequest struct {
	ToolName   string         `json:"tool_name"`
	Parameters map[string]any `json:"params"`
}

// ToolExecutionResponse carries the result of a single step.
type ToolExecutionResponse struct {
	ToolName       string              `json:"tool_name"`
	Success        bool                `json:"success"`
	Data           map[string]any      `json:"data,omitempty"`
	Error          string              `json:"error,omitempty"`
	CapabilityTags map[string][]string `json:"capability_tags,omitempty"`
}

// ProcessingSummary is the bookkeeping section of an application result.
type ProcessingSummary struct {
	TotalSteps        int      `json:"total_steps"`
	CapabilityTags    []string `json:"capability_tags"`
	WorkflowCompleted bool     `json:"workflow_completed"`
}

// ApplicationResult is the terminal envelope payload for an application.
type ApplicationResult struct {
	ApplicationID     string            `json:"application_id"`
	Status            string            `json:"status"`
	ProcessingSummary ProcessingSummary `json:"processing_summary"`
	Results           map[string]any    `json:"results"`
}

// StatusSnapshot reports progress; sent after each step and in reply to status requests.
type StatusSnapshot struct {
	ApplicationID  string          `json:"application_id"`
	Message        string          `json:"status,omitempty"`
	Step           int             `json:"step,omitempty"`
	ToolName       string          `json:"tool_name,omitempty"`
	Success        *bool           `json:"success,omitempty"`
	StepCount      int             `json:"step_count"`
	MaxSteps       int             `json:"max_steps"`
	Completed      []string        `json:"completed"`
	Pending        []string        `json:"pending"`
	Flags          map[string]bool `json:"flags,omitempty"`
	CapabilityTags []string        `json:"capability_tags"`
	Resolved       bool            `json:"resolved"`
}

// HumanReview is emitted once an application is flagged for manual review.
type HumanReview struct {
	ApplicationID    string   `json:"application_id"`
	Reasons          []string `json:"reasons"`
	Priority         string   `json:"priority,omitempty"`
	FraudProbability float64  `json:"fraud_probability"`
	RiskScore        float64  `json:"risk_score"`
}

// ErrorReport is the payload of an error envelope.
type ErrorReport struct {
	Error string `json:"error"`
	Kind  string `json:"error_kind,omitempty"`
}

// EncodePayload converts a typed payload into the envelope's map form.
func EncodePayload(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	out := make(map[string]any)
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("payload is not an object: %w", err)
	}
	return out, nil
}

// MustEncodePayload is EncodePayload for payload structs that always marshal.
func MustEncodePayload(v any) map[string]any {
	out, err := EncodePayload(v)
	if err != nil {
		panic(err)
	}
	return out
}

// DecodePayload decodes the envelope payload into T.
func DecodePayload[T any](env *Envelope) (T, error) {
	var out T
	if env == nil {
		return out, fmt.Errorf("nil envelope")
	}
	raw, err := json.Marshal(env.Payload)
	if err != nil {
		return out, fmt.Errorf("failed to marshal %s payload: %w", env.Type, err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("failed to decode %s payload: %w", env.Type, err)
	}
	return out, nil
}
