package tools

import (
	"sort"
)

// Capability tag kinds reported by tools.
const (
	TagMLModels     = "ml_models"
	TagObjectTables = "object_tables"
	TagServices     = "services"
)

// Result is the uniform outcome of one step. Data is always the flat payload
// produced by the step; it is never wrapped in a nested "data" key.
type Result struct {
	Success        bool                `json:"success"`
	Data           map[string]any      `json:"data,omitempty"`
	Error          string              `json:"error,omitempty"`
	CapabilityTags map[string][]string `json:"capability_tags,omitempty"`
}

// OK builds a successful result.
func OK(data map[string]any, tags map[string][]string) Result {
	return Result{Success: true, Data: data, CapabilityTags: tags}
}

// Failed builds a failed result carrying err's text.
func Failed(err error) Result {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Result{Success: false, Error: msg}
}

// Tags flattens the capability tag map into a sorted set of values.
func (r Result) Tags() []string {
	seen := make(map[string]struct{})
	for _, values := range r.CapabilityTags {
		for _, v := range values {
			if v != "" {
				seen[v] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
