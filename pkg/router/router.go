// Package router decides the next workflow step for an application, either
// from the fixed milestone policy or by consulting an LLM with the policy as
// fallback.
package router

import (
	"context"
	"fmt"

	"underwriter/pkg/application"
	"underwriter/pkg/config"
	"underwriter/pkg/llm"
	"underwriter/pkg/logx"
	"underwriter/pkg/tools"
)

// Decision sources.
const (
	SourceRules       = "rules"
	SourceLLM         = "llm"
	SourceLLMFallback = "llm-fallback"
)

// Decision is the next step to execute.
type Decision struct {
	Action    string         `json:"action"`
	Params    map[string]any `json:"params"`
	Reasoning string         `json:"reasoning,omitempty"`
	Source    string         `json:"source,omitempty"`
}

// DecisionSource picks the next action for a state.
type DecisionSource interface {
	Decide(ctx context.Context, state *application.State) (*Decision, error)
}

// Recorder counts decisions that fell back from the LLM to the rules.
type Recorder interface {
	ObserveRouterFallback(reason string)
}

// Phase is the workflow position derived from milestone flags.
type Phase int

const (
	NeedCustomer Phase = iota
	NeedVehicleOrDocs
	NeedRisk
	NeedReport
	NeedStore
	NeedReviewDecision
	Done
)

func (p Phase) String() string {
	switch p {
	case NeedCustomer:
		return "NEED_CUSTOMER"
	case NeedVehicleOrDocs:
		return "NEED_VEHICLE_OR_DOCS"
	case NeedRisk:
		return "NEED_RISK"
	case NeedReport:
		return "NEED_REPORT"
	case NeedStore:
		return "NEED_STORE"
	case NeedReviewDecision:
		return "NEED_REVIEW_DECISION"
	case Done:
		return "DONE"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// PhaseOf derives the phase from the state's flags.
func PhaseOf(state *application.State) Phase {
	switch {
	case state.Resolved():
		return Done
	case !state.Flag(tools.MilestoneCustomerAnalyzed):
		return NeedCustomer
	case !state.Flag(tools.MilestoneVehicleAnalyzed) || !state.Flag(tools.MilestoneDocumentsProcessed):
		return NeedVehicleOrDocs
	case !state.Flag(tools.MilestoneRiskAssessed):
		return NeedRisk
	case !state.Flag(tools.MilestoneReportGenerated):
		return NeedReport
	case !state.Flag(tools.MilestoneResultsStored):
		return NeedStore
	default:
		return NeedReviewDecision
	}
}

// ReviewThresholds trigger human review when exceeded (strictly greater).
type ReviewThresholds struct {
	FraudProbability float64
	RiskScore        float64
}

// DefaultThresholds returns the stock review thresholds.
func DefaultThresholds() ReviewThresholds {
	return ReviewThresholds{
		FraudProbability: config.DefaultFraudThreshold,
		RiskScore:        config.DefaultRiskScoreThreshold,
	}
}

// New builds the decision source selected by cfg.Router.Mode. client is
// required in llm mode.
func New(cfg *config.Config, client llm.LLMClient, rec Recorder, logger *logx.Logger) (DecisionSource, error) {
	if logger == nil {
		logger = logx.NewLogger("router")
	}
	rules := NewRuleRouter(ReviewThresholds{
		FraudProbability: cfg.Review.FraudThreshold,
		RiskScore:        cfg.Review.RiskScoreThreshold,
	})

	switch cfg.Router.Mode {
	case "", config.RouterModeRules:
		return rules, nil
	case config.RouterModeLLM:
		if client == nil {
			return nil, fmt.Errorf("router mode %q requires an LLM client", cfg.Router.Mode)
		}
		return NewLLMRouter(client, rules,
			WithPromptBudget(cfg.Router.PromptTokenBudget),
			WithCompletionLimits(float32(cfg.Router.Temperature), cfg.Router.MaxOutputTokens),
			WithCallTimeout(cfg.Router.Timeout.Std()),
			WithRecorder(rec),
			WithLogger(logger),
		), nil
	default:
		return nil, fmt.Errorf("%w: unknown router mode %q", config.ErrInvalidConfig, cfg.Router.Mode)
	}
}
