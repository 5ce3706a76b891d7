package underwriting

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"underwriter/pkg/application"
	"underwriter/pkg/llm"
	"underwriter/pkg/logx"
	"underwriter/pkg/tools"
	"underwriter/pkg/utils"
)

// GeneratedByTemplate marks a report rendered without a model.
const GeneratedByTemplate = "template"

const (
	reportMaxTokens   = 1200
	reportTemperature = 0.3
	reportSystem      = `You are an insurance underwriting analyst. Write a concise underwriting report in plain text for the application described by the user. Use these section headings in order: Executive Summary, Customer Profile, Vehicle Assessment, Risk Analysis, Premium, Recommendations. Do not invent figures that are not in the data.`
)

// ReportGenerator renders the underwriting report. With a client it asks
// the model for a narrative and falls back to the template on any failure.
type ReportGenerator struct {
	client llm.LLMClient
	logger *logx.Logger
}

// NewReportGenerator creates a report step. client may be nil.
func NewReportGenerator(client llm.LLMClient) *ReportGenerator {
	return &ReportGenerator{client: client, logger: logx.NewLogger("report")}
}

// Name returns the step identifier.
func (g *ReportGenerator) Name() string {
	return tools.StepGenerateReport
}

// Execute returns {report, generated_by}.
func (g *ReportGenerator) Execute(ctx context.Context, stepCtx, params map[string]any) (tools.Result, error) {
	input := ReportInput{
		ApplicationID: utils.StringField(params, "application_id", ""),
		Risk:          mapInput(stepCtx, params, "risk_assessment", tools.StepRiskAssessment),
		Customer:      mapInput(stepCtx, params, "customer_analysis", tools.StepAnalyzeCustomer),
		Vehicle:       mapInput(stepCtx, params, "vehicle_data", tools.StepAnalyzeVehicle),
	}
	if len(input.Risk) == 0 {
		return tools.Result{}, fmt.Errorf("risk_assessment is required")
	}

	text, by := RenderTemplate(input), GeneratedByTemplate
	if g.client != nil {
		narrative, err := g.narrative(ctx, input)
		if err != nil {
			g.logger.Warn("LLM report failed, using template: %v", err)
		} else {
			text, by = narrative, g.client.GetModelName()
		}
	}

	out := application.Report{Text: text, GeneratedBy: by}
	return tools.OK(map[string]any{
		"report":       out.Text,
		"generated_by": out.GeneratedBy,
	}, nil), nil
}

func (g *ReportGenerator) narrative(ctx context.Context, input ReportInput) (string, error) {
	data, err := json.MarshalIndent(map[string]any{
		"risk_assessment":   input.Risk,
		"customer_analysis": input.Customer,
		"vehicle_data":      input.Vehicle,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode report input: %w", err)
	}

	req := llm.CompletionRequest{
		Messages: []llm.CompletionMessage{
			llm.NewSystemMessage(reportSystem),
			llm.NewUserMessage(string(data)),
		},
		MaxTokens:   reportMaxTokens,
		Temperature: reportTemperature,
	}
	resp, err := g.client.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", fmt.Errorf("empty report from %s", g.client.GetModelName())
	}
	return text, nil
}

// ReportInput is the data a report is rendered from.
type ReportInput struct {
	ApplicationID string
	Risk          map[string]any
	Customer      map[string]any
	Vehicle       map[string]any
}

// RenderTemplate produces the fixed-layout report.
func RenderTemplate(in ReportInput) string {
	var b strings.Builder
	structured, _ := in.Customer["structured_data"].(map[string]any)

	b.WriteString("INSURANCE UNDERWRITING REPORT\n")
	if in.ApplicationID != "" {
		fmt.Fprintf(&b, "Application: %s\n", in.ApplicationID)
	}

	b.WriteString("\nEXECUTIVE SUMMARY\n")
	fmt.Fprintf(&b, "Risk category: %s (score %.1f/100)\n",
		utils.StringField(in.Risk, "risk_category", "Unknown"), utils.FloatField(in.Risk, "final_risk_score", 0))
	fmt.Fprintf(&b, "Quoted annual premium: $%.2f\n", utils.FloatField(in.Risk, "premium_amount", 0))
	fmt.Fprintf(&b, "Fraud probability: %.2f\n", utils.FloatField(in.Risk, "fraud_probability", 0))

	b.WriteString("\nCUSTOMER PROFILE\n")
	fmt.Fprintf(&b, "Customer: %s\n", utils.StringField(in.Customer, "customer_id", "unknown"))
	fmt.Fprintf(&b, "Age: %d, location: %s, driving years: %d, previous claims: %d\n",
		utils.IntField(structured, "age", DefaultAge),
		utils.StringField(structured, "location", "n/a"),
		utils.IntField(structured, "driving_years", DefaultDrivingYears),
		utils.IntField(structured, "previous_claims", 0))
	fmt.Fprintf(&b, "Risk factors: %s\n", joinOr(utils.StringSlice(in.Customer["risk_factors"]), "none"))

	b.WriteString("\nVEHICLE ASSESSMENT\n")
	fmt.Fprintf(&b, "%d %s %s, %d miles, condition %s\n",
		utils.IntField(in.Vehicle, "year", DefaultYear),
		utils.StringField(in.Vehicle, "make", DefaultMake),
		utils.StringField(in.Vehicle, "model", DefaultModel),
		utils.IntField(in.Vehicle, "mileage", DefaultMileage),
		utils.StringField(in.Vehicle, "condition", DefaultCondition))
	fmt.Fprintf(&b, "Estimated value: $%.2f\n", utils.FloatField(in.Vehicle, "estimated_value", 0))
	fmt.Fprintf(&b, "Damage: %s\n", joinOr(utils.StringSlice(in.Vehicle["damage"]), "none reported"))

	b.WriteString("\nRISK ANALYSIS\n")
	fmt.Fprintf(&b, "Base score: %.1f, vehicle adjustment: %+.1f, final score: %.1f\n",
		utils.FloatField(in.Risk, "base_risk_score", 0),
		utils.FloatField(in.Risk, "vehicle_adjustment", 0),
		utils.FloatField(in.Risk, "final_risk_score", 0))

	b.WriteString("\nPREMIUM\n")
	fmt.Fprintf(&b, "$%.2f per year\n", utils.FloatField(in.Risk, "premium_amount", 0))

	b.WriteString("\nRECOMMENDATIONS\n")
	recs := utils.StringSlice(in.Risk["recommendations"])
	if len(recs) == 0 {
		b.WriteString("- Standard terms apply\n")
	}
	for _, r := range recs {
		fmt.Fprintf(&b, "- %s\n", r)
	}
	return b.String()
}

func joinOr(items []string, none string) string {
	if len(items) == 0 {
		return none
	}
	return strings.Join(items, ", ")
}
