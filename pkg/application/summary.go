package application

import (
	"fmt"
	"strings"

	"underwriter/pkg/tools"
)

// Summary is a read-only projection of a State used as router context and
// status replies. It shares no references with the State.
type Summary struct {
	ApplicationID  string          `json:"application_id"`
	Completed      []string        `json:"completed"`
	Pending        []string        `json:"pending"`
	Flags          map[string]bool `json:"flags"`
	CapabilityTags []string        `json:"capability_tags"`
	StepCount      int             `json:"step_count"`
	MaxSteps       int             `json:"max_steps"`
	Resolved       bool            `json:"resolved"`
}

// Summarize builds the projection.
func (s *State) Summarize() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := Summary{
		ApplicationID:  s.id,
		Completed:      []string{},
		Pending:        []string{},
		Flags:          make(map[string]bool, len(s.flags)),
		CapabilityTags: s.sortedTagsLocked(),
		StepCount:      s.stepCount,
		MaxSteps:       s.maxSteps,
		Resolved:       s.resolved,
	}
	for _, m := range tools.Milestones {
		done := s.flags[m]
		sum.Flags[string(m)] = done
		if done {
			sum.Completed = append(sum.Completed, string(m))
		} else {
			sum.Pending = append(sum.Pending, string(m))
		}
	}
	return sum
}

// String renders the summary as prompt text.
func (sum Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Application ID: %s\n", sum.ApplicationID)
	fmt.Fprintf(&b, "Steps executed: %d of %d\n", sum.StepCount, sum.MaxSteps)
	fmt.Fprintf(&b, "Resolved: %t\n", sum.Resolved)
	fmt.Fprintf(&b, "Completed milestones: %s\n", joinOrNone(sum.Completed))
	fmt.Fprintf(&b, "Pending milestones: %s\n", joinOrNone(sum.Pending))
	fmt.Fprintf(&b, "Capabilities used: %s\n", joinOrNone(sum.CapabilityTags))
	return b.String()
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}
