// Package underwriting implements the eight workflow steps that turn an
// application seed into a risk assessment, premium quote and audit record.
package underwriting

import (
	"math"
	"strings"

	"underwriter/pkg/application"
	"underwriter/pkg/utils"
)

// ModelReferenceYear is the year vehicle age is measured from.
const ModelReferenceYear = 2024

// Capability tag values reported by the steps.
const (
	ModelCustomerProfile   = "customer_profile"
	ModelRiskScoring       = "risk_scoring"
	ModelPremiumCalculator = "premium_calculation"
	ModelFraudDetection    = "fraud_detection"
	TableCarImages         = "car_images"
	TableDocuments         = "documents"
	TableApplications      = "applications"
	TableReviewQueue       = "review_queue"
)

// mapInput returns params[key] as an object, falling back to the step
// context entry written by fallbackStep. Routed params are often sparse.
func mapInput(stepCtx, params map[string]any, key, fallbackStep string) map[string]any {
	if m, ok := params[key].(map[string]any); ok && len(m) > 0 {
		return m
	}
	if fallbackStep != "" {
		if m, ok := stepCtx[fallbackStep].(map[string]any); ok {
			return m
		}
	}
	return map[string]any{}
}

// applicationIDOf prefers the id in params over the one seeded in the step context.
func applicationIDOf(stepCtx, params map[string]any) string {
	return stringInput(params, application.KeyApplicationID, utils.StringField(stepCtx, application.KeyApplicationID, ""))
}

// seedOf returns the initial payload recorded in the step context.
func seedOf(stepCtx map[string]any) application.Seed {
	payload, _ := stepCtx[application.KeyInitialPayload].(map[string]any)
	return application.SeedFromPayload(payload)
}

// stringInput reads a string param, then the seed.
func stringInput(params map[string]any, key, fallback string) string {
	if s := utils.StringField(params, key, ""); s != "" {
		return s
	}
	return fallback
}

// listInput reads a string list param. A present but empty list is honored.
func listInput(params map[string]any, key string, fallback []string) []string {
	if v, ok := params[key]; ok && v != nil {
		if list := utils.StringSlice(v); list != nil {
			return list
		}
	}
	if fallback == nil {
		return []string{}
	}
	return fallback
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// tokenize splits a storage reference into lowercase words.
func tokenize(ref string) []string {
	return strings.FieldsFunc(strings.ToLower(ref), func(r rune) bool {
		return (r < 'a' || r > 'z') && (r < '0' || r > '9')
	})
}
