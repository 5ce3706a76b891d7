package router

import (
	"context"

	"underwriter/pkg/application"
	"underwriter/pkg/tools"
	"underwriter/pkg/utils"
)

// Review reasons attached to a flag-for-human-review decision.
const (
	ReasonHighFraud = "High fraud probability detected"
	ReasonHighRisk  = "Very high risk score"
)

// RuleRouter is the deterministic milestone policy.
type RuleRouter struct {
	thresholds ReviewThresholds
}

// NewRuleRouter creates the deterministic policy.
func NewRuleRouter(t ReviewThresholds) *RuleRouter {
	return &RuleRouter{thresholds: t}
}

// Thresholds returns the review thresholds in effect.
func (r *RuleRouter) Thresholds() ReviewThresholds {
	return r.thresholds
}

// Decide never fails and never returns nil.
func (r *RuleRouter) Decide(_ context.Context, state *application.State) (*Decision, error) {
	d := r.next(state)
	d.Source = SourceRules
	return d, nil
}

func (r *RuleRouter) next(state *application.State) *Decision {
	if !state.ShouldContinue() {
		return &Decision{
			Action:    tools.StepFinishProcessing,
			Params:    FinishParams(state),
			Reasoning: "Step budget exhausted or application resolved",
		}
	}

	seed := state.Seed()
	switch PhaseOf(state) {
	case NeedCustomer:
		return &Decision{
			Action: tools.StepAnalyzeCustomer,
			Params: map[string]any{
				application.KeyCustomerID:   seed.CustomerID,
				application.KeyPersonalInfo: nonNilMap(seed.PersonalInfo),
			},
			Reasoning: "Customer profile has not been analyzed",
		}

	case NeedVehicleOrDocs:
		return r.collectInputs(state, seed)

	case NeedRisk:
		vehicle, _ := state.StepData(tools.StepAnalyzeVehicle)
		return &Decision{
			Action: tools.StepRiskAssessment,
			Params: map[string]any{
				"customer_data": MergedCustomerData(state),
				"vehicle_data":  nonNilMap(vehicle),
			},
			Reasoning: "Customer, vehicle and document data collected",
		}

	case NeedReport:
		risk, _ := state.StepData(tools.StepRiskAssessment)
		customer, _ := state.StepData(tools.StepAnalyzeCustomer)
		vehicle, _ := state.StepData(tools.StepAnalyzeVehicle)
		return &Decision{
			Action: tools.StepGenerateReport,
			Params: map[string]any{
				"risk_assessment":   nonNilMap(risk),
				"customer_analysis": nonNilMap(customer),
				"vehicle_data":      nonNilMap(vehicle),
			},
			Reasoning: "Risk assessment complete",
		}

	case NeedStore:
		risk, _ := state.StepData(tools.StepRiskAssessment)
		return &Decision{
			Action: tools.StepStoreResults,
			Params: map[string]any{
				"application_id":            state.ID(),
				application.KeyCustomerID:   seed.CustomerID,
				"risk_assessment":           nonNilMap(risk),
				application.KeyCarImageRefs: nonNilList(seed.CarImageRefs),
				application.KeyDocumentRefs: nonNilList(seed.DocumentRefs),
			},
			Reasoning: "Report generated; results not yet stored",
		}

	default:
		return r.reviewOrFinish(state, seed)
	}
}

// collectInputs prefers vehicle images over documents, then falls back to
// whichever step is still pending with empty references.
func (r *RuleRouter) collectInputs(state *application.State, seed application.Seed) *Decision {
	vehicleDone := state.Flag(tools.MilestoneVehicleAnalyzed)
	docsDone := state.Flag(tools.MilestoneDocumentsProcessed)

	switch {
	case !vehicleDone && len(seed.CarImageRefs) > 0:
		return &Decision{
			Action:    tools.StepAnalyzeVehicle,
			Params:    map[string]any{application.KeyCarImageRefs: nonNilList(seed.CarImageRefs)},
			Reasoning: "Vehicle images provided and not yet analyzed",
		}
	case !docsDone && len(seed.DocumentRefs) > 0:
		return &Decision{
			Action:    tools.StepExtractDocuments,
			Params:    map[string]any{application.KeyDocumentRefs: nonNilList(seed.DocumentRefs)},
			Reasoning: "Documents provided and not yet processed",
		}
	case !vehicleDone:
		return &Decision{
			Action:    tools.StepAnalyzeVehicle,
			Params:    map[string]any{application.KeyCarImageRefs: []string{}},
			Reasoning: "No vehicle images provided, using default vehicle data",
		}
	default:
		return &Decision{
			Action:    tools.StepExtractDocuments,
			Params:    map[string]any{application.KeyDocumentRefs: []string{}},
			Reasoning: "No documents provided, using default document data",
		}
	}
}

func (r *RuleRouter) reviewOrFinish(state *application.State, seed application.Seed) *Decision {
	risk, _ := state.StepData(tools.StepRiskAssessment)
	reasons := r.ReviewReasons(risk)
	if len(reasons) > 0 && !state.Flag(tools.MilestoneHumanReviewFlagged) {
		return &Decision{
			Action: tools.StepFlagForHumanReview,
			Params: map[string]any{
				"application_id":          state.ID(),
				application.KeyCustomerID: seed.CustomerID,
				"risk_assessment":         nonNilMap(risk),
				"reasons":                 reasons,
			},
			Reasoning: "Risk or fraud indicators exceed review thresholds",
		}
	}
	return &Decision{
		Action:    tools.StepFinishProcessing,
		Params:    FinishParams(state),
		Reasoning: "All milestones complete",
	}
}

// ReviewReasons lists the thresholds exceeded by a risk assessment payload.
func (r *RuleRouter) ReviewReasons(risk map[string]any) []string {
	var reasons []string
	if utils.FloatField(risk, "fraud_probability", 0) > r.thresholds.FraudProbability {
		reasons = append(reasons, ReasonHighFraud)
	}
	if utils.FloatField(risk, "final_risk_score", 0) > r.thresholds.RiskScore {
		reasons = append(reasons, ReasonHighRisk)
	}
	return reasons
}

// MergedCustomerData overlays document extraction output on the customer's
// structured data. Document keys win on collision.
func MergedCustomerData(state *application.State) map[string]any {
	merged := map[string]any{}
	if customer, ok := state.StepData(tools.StepAnalyzeCustomer); ok {
		if structured, ok := customer["structured_data"].(map[string]any); ok {
			for k, v := range structured {
				merged[k] = v
			}
		}
	}
	if docs, ok := state.StepData(tools.StepExtractDocuments); ok {
		for k, v := range docs {
			merged[k] = v
		}
	}
	return merged
}

// FinishParams builds terminal-step parameters with defaults for anything
// missing. Safe on an empty context.
func FinishParams(state *application.State) map[string]any {
	report, _ := state.StepData(tools.StepGenerateReport)
	risk, _ := state.StepData(tools.StepRiskAssessment)

	text := utils.StringField(report, "report", "")
	if text == "" {
		text = tools.ReportFallback
	}
	return map[string]any{
		"final_report":   text,
		"premium_amount": utils.FloatField(risk, "premium_amount", 0),
		"risk_score":     utils.FloatField(risk, "final_risk_score", 0),
		"application_id": state.ID(),
	}
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func nonNilList(l []string) []string {
	if l == nil {
		return []string{}
	}
	return l
}
