package underwriting

import (
	"context"
	"fmt"
	"strings"

	"underwriter/pkg/application"
	"underwriter/pkg/tools"
	"underwriter/pkg/utils"
)

// Customer profile defaults for missing personal information.
const (
	DefaultAge            = 30
	DefaultDrivingYears   = 5
	DefaultCoverageType   = "Standard"
	profileFactorPenalty  = 15.0
	highRiskLocationLimit = 1.4
)

// CustomerAnalyzer normalizes personal information into a structured profile.
type CustomerAnalyzer struct{}

// NewCustomerAnalyzer creates a new customer analysis step.
func NewCustomerAnalyzer() *CustomerAnalyzer {
	return &CustomerAnalyzer{}
}

// Name returns the step identifier.
func (c *CustomerAnalyzer) Name() string {
	return tools.StepAnalyzeCustomer
}

// Execute builds structured_data, risk_factors and profile_score.
func (c *CustomerAnalyzer) Execute(_ context.Context, stepCtx, params map[string]any) (tools.Result, error) {
	seed := seedOf(stepCtx)
	customerID := stringInput(params, application.KeyCustomerID, seed.CustomerID)
	if customerID == "" {
		return tools.Result{}, fmt.Errorf("customer_id is required")
	}

	info, _ := params[application.KeyPersonalInfo].(map[string]any)
	if len(info) == 0 {
		info = seed.PersonalInfo
	}

	structured := StructuredProfile(info)
	factors := riskFactors(structured)
	score := clamp(100-profileFactorPenalty*float64(len(factors)), 0, 100)

	out := application.CustomerAnalysis{
		CustomerID:     customerID,
		StructuredData: structured,
		RiskFactors:    factors,
		ProfileScore:   score,
	}
	return tools.OK(map[string]any{
		"customer_id":     out.CustomerID,
		"structured_data": out.StructuredData,
		"risk_factors":    out.RiskFactors,
		"profile_score":   out.ProfileScore,
	}, map[string][]string{tools.TagMLModels: {ModelCustomerProfile}}), nil
}

// StructuredProfile normalizes raw personal information. Unknown keys are kept.
func StructuredProfile(info map[string]any) map[string]any {
	out := make(map[string]any, len(info)+6)
	for k, v := range info {
		out[k] = v
	}

	location := strings.ToUpper(strings.TrimSpace(utils.StringField(info, "state", utils.StringField(info, "location", ""))))
	out["age"] = utils.IntField(info, "age", DefaultAge)
	out["location"] = location
	out["driving_years"] = utils.IntField(info, "driving_years", utils.IntField(info, "driving_experience", DefaultDrivingYears))
	out["previous_claims"] = utils.IntField(info, "previous_claims", 0)
	out["coverage_type"] = utils.StringField(info, "coverage_type", DefaultCoverageType)
	out["credit_tier"] = creditTier(info)
	return out
}

func creditTier(info map[string]any) string {
	score, ok := utils.ToFloat(info["credit_score"])
	switch {
	case !ok:
		return "Unknown"
	case score >= 740:
		return "Excellent"
	case score >= 670:
		return "Good"
	case score >= 580:
		return "Fair"
	default:
		return "Poor"
	}
}

func riskFactors(profile map[string]any) []string {
	factors := []string{}
	age := utils.IntField(profile, "age", DefaultAge)
	if age < 25 {
		factors = append(factors, "young_driver")
	}
	if age > 70 {
		factors = append(factors, "senior_driver")
	}
	if utils.IntField(profile, "driving_years", DefaultDrivingYears) < 3 {
		factors = append(factors, "inexperienced_driver")
	}
	if utils.IntField(profile, "previous_claims", 0) > 0 {
		factors = append(factors, "prior_claims")
	}
	if riskLocationFactor(utils.StringField(profile, "location", "")) >= highRiskLocationLimit {
		factors = append(factors, "high_risk_location")
	}
	return factors
}
