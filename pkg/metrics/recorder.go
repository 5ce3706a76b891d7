// Package metrics records workflow, routing and LLM metrics in Prometheus
// and queries them back for reporting.
package metrics

import "time"

// Recorder receives every observation the underwriter makes. Implementations
// must be safe for concurrent use.
type Recorder interface {
	ObserveStep(step string, success bool, duration time.Duration)
	ObserveDecision(source, action string)
	ObserveRouterFallback(reason string)
	ObserveApplication(status string)
	ObserveLLMRequest(provider, outcome string, duration time.Duration)
}

// Nop discards all observations.
type Nop struct{}

func (Nop) ObserveStep(string, bool, time.Duration)         {}
func (Nop) ObserveDecision(string, string)                  {}
func (Nop) ObserveRouterFallback(string)                    {}
func (Nop) ObserveApplication(string)                       {}
func (Nop) ObserveLLMRequest(string, string, time.Duration) {}
