// Package application tracks the progress of one insurance application through the underwriting steps.
package application

import (
	"sort"
	"sync"
	"time"

	"underwriter/pkg/tools"
)

// DefaultMaxSteps is the step budget applied when none is configured.
const DefaultMaxSteps = 10

// Context keys seeded from the initial payload.
const (
	KeyApplicationID  = "application_id"
	KeyInitialPayload = "initial_payload"
	KeyCustomerID     = "customer_id"
	KeyPersonalInfo   = "personal_info"
	KeyCarImageRefs   = "car_image_refs"
	KeyDocumentRefs   = "document_refs"
)

// HistoryRecord is one executed step. CapabilityTags is the accumulated set after the step.
type HistoryRecord struct {
	StepIndex      int       `json:"step_index"`
	ToolName       string    `json:"tool_name"`
	Timestamp      time.Time `json:"timestamp"`
	Success        bool      `json:"success"`
	Error          string    `json:"error,omitempty"`
	CapabilityTags []string  `json:"capability_tags"`
}

// State is the mutable record of one in-flight application. It is mutated only
// by the control loop driving it; the mutex lets status readers observe it safely.
type State struct {
	mu sync.RWMutex

	id        string
	seed      Seed
	createdAt time.Time
	maxSteps  int

	context   map[string]any
	outputs   map[string]Output
	flags     map[tools.Milestone]bool
	stepCount int
	resolved  bool
	history   []HistoryRecord
	tags      map[string]struct{}
}

// New creates the state for id, seeding the context from payload.
func New(id string, payload map[string]any, maxSteps int) *State {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	seed := SeedFromPayload(payload)

	s := &State{
		id:        id,
		seed:      seed,
		createdAt: time.Now().UTC(),
		maxSteps:  maxSteps,
		context:   make(map[string]any),
		outputs:   make(map[string]Output),
		flags:     make(map[tools.Milestone]bool, len(tools.Milestones)),
		tags:      make(map[string]struct{}),
	}
	for _, m := range tools.Milestones {
		s.flags[m] = false
	}

	s.context[KeyApplicationID] = id
	s.context[KeyInitialPayload] = copyMap(payload)
	s.context[KeyCustomerID] = seed.CustomerID
	s.context[KeyPersonalInfo] = copyMap(seed.PersonalInfo)
	s.context[KeyCarImageRefs] = append([]string{}, seed.CarImageRefs...)
	s.context[KeyDocumentRefs] = append([]string{}, seed.DocumentRefs...)
	return s
}

// ApplyStepResult records one executed step. It is not idempotent: every call
// counts as a step and appends history.
func (s *State) ApplyStepResult(step string, r tools.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.Success {
		s.context[step] = copyMap(r.Data)
		s.outputs[step] = DecodeOutput(step, r.Data)
	}
	s.stepCount++

	for _, tag := range r.Tags() {
		s.tags[tag] = struct{}{}
	}

	// The flag records that the step was attempted, success or not.
	if m := tools.MilestoneFor(step); m != tools.MilestoneNone {
		s.flags[m] = true
	}
	if step == tools.TerminalStep {
		s.resolved = true
	}

	s.history = append(s.history, HistoryRecord{
		StepIndex:      s.stepCount,
		ToolName:       step,
		Timestamp:      time.Now().UTC(),
		Success:        r.Success,
		Error:          r.Error,
		CapabilityTags: s.sortedTagsLocked(),
	})
}

// ShouldContinue reports whether another step may be scheduled.
func (s *State) ShouldContinue() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.resolved && s.stepCount < s.maxSteps
}

func (s *State) ID() string           { return s.id }
func (s *State) Seed() Seed           { return s.seed.clone() }
func (s *State) CreatedAt() time.Time { return s.createdAt }
func (s *State) MaxSteps() int        { return s.maxSteps }

func (s *State) StepCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stepCount
}

func (s *State) Resolved() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolved
}

// Flag reports the completion flag for m.
func (s *State) Flag(m tools.Milestone) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flags[m]
}

// History returns a copy of the step history.
func (s *State) History() []HistoryRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]HistoryRecord, len(s.history))
	for i, h := range s.history {
		h.CapabilityTags = append([]string(nil), h.CapabilityTags...)
		out[i] = h
	}
	return out
}

// CapabilityTags returns the sorted set of capability tags exercised so far.
func (s *State) CapabilityTags() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedTagsLocked()
}

func (s *State) sortedTagsLocked() []string {
	out := make([]string, 0, len(s.tags))
	for t := range s.tags {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Context returns a deep copy of the accumulated context.
func (s *State) Context() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyMap(s.context)
}

// StepData returns a copy of the latest data recorded for step.
func (s *State) StepData(step string) (map[string]any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.context[step]
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	return copyMap(m), true
}

// Output returns the typed output recorded for step.
func (s *State) Output(step string) (Output, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out, ok := s.outputs[step]
	return out, ok
}

func typedOutput[T Output](s *State, step string) (T, bool) {
	var zero T
	out, ok := s.Output(step)
	if !ok {
		return zero, false
	}
	typed, ok := out.(T)
	return typed, ok
}

func (s *State) CustomerAnalysis() (CustomerAnalysis, bool) {
	return typedOutput[CustomerAnalysis](s, tools.StepAnalyzeCustomer)
}

func (s *State) VehicleData() (VehicleData, bool) {
	return typedOutput[VehicleData](s, tools.StepAnalyzeVehicle)
}

func (s *State) DocumentData() (DocumentData, bool) {
	return typedOutput[DocumentData](s, tools.StepExtractDocuments)
}

func (s *State) RiskAssessment() (RiskAssessment, bool) {
	return typedOutput[RiskAssessment](s, tools.StepRiskAssessment)
}

func (s *State) Report() (Report, bool) {
	return typedOutput[Report](s, tools.StepGenerateReport)
}
