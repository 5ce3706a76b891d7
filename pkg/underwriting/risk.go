package underwriting

import (
	"context"
	"strings"

	"underwriter/pkg/application"
	"underwriter/pkg/tools"
	"underwriter/pkg/utils"
)

const (
	baseRiskScore      = 50.0
	basePremium        = 500.0
	minimumPremium     = 300.0
	premiumPerPoint    = 10.0
	premiumValueRate   = 0.002
	premiumFactorScale = 500.0
	baseFraud          = 0.05
)

// Risk categories by final score.
const (
	CategoryVeryHigh = "Very High Risk"
	CategoryHigh     = "High Risk"
	CategoryMedium   = "Medium Risk"
	CategoryLow      = "Low Risk"
	CategoryVeryLow  = "Very Low Risk"
)

//nolint:gochecknoglobals // rating tables
var (
	riskLocationFactors = map[string]float64{
		"CA": 1.2, "NY": 1.5, "TX": 1.1, "FL": 1.4, "IL": 1.0,
		"PA": 1.1, "OH": 1.0, "GA": 1.3, "NC": 1.2, "MI": 1.1,
	}

	premiumLocationFactors = map[string]float64{
		"CA": 1.2, "NY": 1.4, "TX": 1.1, "FL": 1.3, "IL": 1.0,
		"PA": 1.1, "OH": 1.0, "GA": 1.2, "NC": 1.1, "MI": 1.0,
	}

	coverageFactors = map[string]float64{
		"Basic":    0.8,
		"Standard": 1.0,
		"Premium":  1.3,
	}
)

func riskLocationFactor(state string) float64 {
	if f, ok := riskLocationFactors[strings.ToUpper(state)]; ok {
		return f
	}
	return 1.0
}

func premiumLocationFactor(state string) float64 {
	if f, ok := premiumLocationFactors[strings.ToUpper(state)]; ok {
		return f
	}
	return 1.0
}

// RiskAssessor scores risk and fraud and quotes a premium.
type RiskAssessor struct{}

// NewRiskAssessor creates a new risk assessment step.
func NewRiskAssessor() *RiskAssessor {
	return &RiskAssessor{}
}

// Name returns the step identifier.
func (r *RiskAssessor) Name() string {
	return tools.StepRiskAssessment
}

// Execute reads customer_data and vehicle_data, falling back to the recorded
// customer, document and vehicle outputs.
func (r *RiskAssessor) Execute(ctx context.Context, stepCtx, params map[string]any) (tools.Result, error) {
	if err := ctx.Err(); err != nil {
		return tools.Result{}, err
	}

	customer := mapInput(stepCtx, params, "customer_data", "")
	if len(customer) == 0 {
		customer = mergedFromContext(stepCtx)
	}
	vehicle := mapInput(stepCtx, params, "vehicle_data", tools.StepAnalyzeVehicle)

	ra := AssessRisk(customer, vehicle)
	return tools.OK(map[string]any{
		"base_risk_score":    ra.BaseRiskScore,
		"vehicle_adjustment": ra.VehicleAdjustment,
		"final_risk_score":   ra.FinalRiskScore,
		"fraud_probability":  ra.FraudProbability,
		"premium_amount":     ra.PremiumAmount,
		"risk_category":      ra.RiskCategory,
		"recommendations":    ra.Recommendations,
	}, map[string][]string{tools.TagMLModels: {ModelRiskScoring, ModelPremiumCalculator, ModelFraudDetection}}), nil
}

func mergedFromContext(stepCtx map[string]any) map[string]any {
	merged := map[string]any{}
	if customer, ok := stepCtx[tools.StepAnalyzeCustomer].(map[string]any); ok {
		if structured, ok := customer["structured_data"].(map[string]any); ok {
			for k, v := range structured {
				merged[k] = v
			}
		}
	}
	if docs, ok := stepCtx[tools.StepExtractDocuments].(map[string]any); ok {
		for k, v := range docs {
			merged[k] = v
		}
	}
	return merged
}

// AssessRisk computes the full assessment from merged customer data and vehicle data.
func AssessRisk(customer, vehicle map[string]any) application.RiskAssessment {
	base := BaseRiskScore(customer)
	adjustment := VehicleAdjustment(vehicle)
	final := clamp(base+adjustment, 0, 100)
	fraud := FraudProbability(customer, final)

	return application.RiskAssessment{
		BaseRiskScore:     round2(base),
		VehicleAdjustment: adjustment,
		FinalRiskScore:    round2(final),
		FraudProbability:  round2(fraud),
		PremiumAmount:     Premium(final, customer, vehicle),
		RiskCategory:      Category(final),
		Recommendations:   Recommendations(final, fraud),
	}
}

// BaseRiskScore is 50 scaled by the state factor plus driver adjustments, clamped to 0..100.
func BaseRiskScore(customer map[string]any) float64 {
	score := baseRiskScore * riskLocationFactor(utils.StringField(customer, "location", ""))

	age := utils.IntField(customer, "age", DefaultAge)
	if age < 25 {
		score += 15
	} else if age > 70 {
		score += 10
	}
	if utils.IntField(customer, "driving_years", DefaultDrivingYears) < 3 {
		score += 10
	}
	score += 8 * float64(utils.IntField(customer, "previous_claims", 0))

	record := strings.ToLower(utils.StringField(customer, "driving_record", RecordClean))
	switch {
	case strings.Contains(record, "major"):
		score += 25
	case strings.Contains(record, "minor"):
		score += 10
	}
	if utils.StringField(customer, "license_status", LicenseValid) == LicenseSuspended {
		score += 20
	}
	return clamp(score, 0, 100)
}

// VehicleAdjustment adds points for expensive and old vehicles.
func VehicleAdjustment(vehicle map[string]any) float64 {
	adjustment := 0.0
	value := utils.FloatField(vehicle, "estimated_value", 0)
	switch {
	case value > 50000:
		adjustment += 10
	case value > 30000:
		adjustment += 5
	}

	age := ModelReferenceYear - utils.IntField(vehicle, "year", ModelReferenceYear)
	switch {
	case age > 10:
		adjustment += 8
	case age > 5:
		adjustment += 3
	}
	return adjustment
}

// Premium quotes the annual premium. It is never below 300.
func Premium(score float64, customer, vehicle map[string]any) float64 {
	coverage, ok := coverageFactors[utils.StringField(customer, "coverage_type", DefaultCoverageType)]
	if !ok {
		coverage = 1.0
	}
	location := premiumLocationFactor(utils.StringField(customer, "location", ""))
	value := utils.FloatField(vehicle, "estimated_value", 0)

	premium := basePremium +
		score*premiumPerPoint +
		value*premiumValueRate +
		premiumFactorScale*(coverage-1) +
		premiumFactorScale*(location-1)
	if premium < minimumPremium {
		premium = minimumPremium
	}
	return round2(premium)
}

// FraudProbability estimates fraud likelihood in 0..1.
func FraudProbability(customer map[string]any, finalScore float64) float64 {
	p := baseFraud + 0.1*float64(utils.IntField(customer, "previous_claims", 0))
	if utils.StringField(customer, "license_status", LicenseValid) == LicenseSuspended {
		p += 0.3
	}
	if verified, ok := customer["address_verified"].(bool); ok && !verified {
		p += 0.2
	}
	if finalScore > 80 {
		p += 0.15
	}
	if conf := utils.FloatField(customer, "document_confidence", 0); conf > 0 && conf < 0.5 {
		p += 0.1
	}
	return clamp(p, 0, 1)
}

// Category maps a final score onto its band.
func Category(score float64) string {
	switch {
	case score >= 80:
		return CategoryVeryHigh
	case score >= 60:
		return CategoryHigh
	case score >= 40:
		return CategoryMedium
	case score >= 20:
		return CategoryLow
	default:
		return CategoryVeryLow
	}
}

// Recommendations lists underwriting advice for a score and fraud probability.
func Recommendations(score, fraud float64) []string {
	recs := []string{}
	if score > 70 {
		recs = append(recs,
			"Consider higher premium due to elevated risk factors",
			"Recommend defensive driving course for premium reduction")
	}
	if score > 50 {
		recs = append(recs, "Suggest comprehensive coverage review")
	}
	if fraud > 0.7 {
		recs = append(recs, "Manual review required due to high fraud indicators")
	} else if fraud > 0.4 {
		recs = append(recs, "Additional documentation verification recommended")
	}
	if score < 30 {
		recs = append(recs, "Eligible for premium discounts", "Good candidate for loyalty programs")
	}
	return recs
}
