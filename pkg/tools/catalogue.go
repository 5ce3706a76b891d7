package tools

import (
	"fmt"
	"sort"
	"strings"
)

// Step names the router may select.
const (
	StepAnalyzeCustomer    = "analyze-customer"
	StepAnalyzeVehicle     = "analyze-vehicle-images"
	StepExtractDocuments   = "extract-document-data"
	StepRiskAssessment     = "run-risk-assessment"
	StepGenerateReport     = "generate-report"
	StepStoreResults       = "store-results"
	StepFlagForHumanReview = "flag-for-human-review"
	StepFinishProcessing   = "finish-processing"

	// TerminalStep resolves an application once executed.
	TerminalStep = StepFinishProcessing
)

// ReportFallback is the final report text used when no report was produced.
const ReportFallback = "Report generation failed"

// Milestone is a workflow stage tracked by a completion flag.
type Milestone string

const (
	MilestoneNone               Milestone = ""
	MilestoneCustomerAnalyzed   Milestone = "customer_analyzed"
	MilestoneVehicleAnalyzed    Milestone = "vehicle_analyzed"
	MilestoneDocumentsProcessed Milestone = "documents_processed"
	MilestoneRiskAssessed       Milestone = "risk_assessed"
	MilestoneReportGenerated    Milestone = "report_generated"
	MilestoneResultsStored      Milestone = "results_stored"
	MilestoneHumanReviewFlagged Milestone = "human_review_flagged"
)

// Milestones lists every milestone in workflow order.
var Milestones = []Milestone{
	MilestoneCustomerAnalyzed,
	MilestoneVehicleAnalyzed,
	MilestoneDocumentsProcessed,
	MilestoneRiskAssessed,
	MilestoneReportGenerated,
	MilestoneResultsStored,
	MilestoneHumanReviewFlagged,
}

// Property describes one parameter in a step's input schema.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// InputSchema is a JSON-schema style parameter description.
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Schema is the catalogue entry for one step.
type Schema struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"input_schema"`
	Requires    []Milestone `json:"requires,omitempty"`
	Produces    Milestone   `json:"produces,omitempty"`
}

func object(required []string, props map[string]Property) InputSchema {
	return InputSchema{Type: "object", Properties: props, Required: required}
}

var catalogue = []Schema{
	{
		Name:        StepAnalyzeCustomer,
		Description: "Analyze customer profile and personal information to build a structured risk profile",
		InputSchema: object([]string{"customer_id"}, map[string]Property{
			"customer_id":   {Type: "string", Description: "Customer identifier"},
			"personal_info": {Type: "object", Description: "Applicant personal details (age, state, driving history)"},
		}),
		Produces: MilestoneCustomerAnalyzed,
	},
	{
		Name:        StepAnalyzeVehicle,
		Description: "Analyze vehicle images to identify make, model, year, condition and estimated value",
		InputSchema: object(nil, map[string]Property{
			"car_image_refs": {Type: "array", Description: "Object storage references of vehicle images"},
		}),
		Requires: []Milestone{MilestoneCustomerAnalyzed},
		Produces: MilestoneVehicleAnalyzed,
	},
	{
		Name:        StepExtractDocuments,
		Description: "Extract structured data from uploaded documents such as driving records and licenses",
		InputSchema: object(nil, map[string]Property{
			"document_refs": {Type: "array", Description: "Object storage references of documents"},
		}),
		Requires: []Milestone{MilestoneCustomerAnalyzed},
		Produces: MilestoneDocumentsProcessed,
	},
	{
		Name:        StepRiskAssessment,
		Description: "Score risk, fraud probability and premium from customer, document and vehicle data",
		InputSchema: object([]string{"customer_data"}, map[string]Property{
			"customer_data": {Type: "object", Description: "Customer structured data overlaid with document data"},
			"vehicle_data":  {Type: "object", Description: "Vehicle analysis output"},
		}),
		Requires: []Milestone{MilestoneCustomerAnalyzed, MilestoneVehicleAnalyzed, MilestoneDocumentsProcessed},
		Produces: MilestoneRiskAssessed,
	},
	{
		Name:        StepGenerateReport,
		Description: "Generate the underwriting report from the risk assessment and analyses",
		InputSchema: object([]string{"risk_assessment"}, map[string]Property{
			"risk_assessment":   {Type: "object", Description: "Risk assessment output"},
			"customer_analysis": {Type: "object", Description: "Customer analysis output"},
			"vehicle_data":      {Type: "object", Description: "Vehicle analysis output"},
		}),
		Requires: []Milestone{MilestoneRiskAssessed},
		Produces: MilestoneReportGenerated,
	},
	{
		Name:        StepStoreResults,
		Description: "Persist the application, risk assessment and input references",
		InputSchema: object([]string{"application_id"}, map[string]Property{
			"application_id":  {Type: "string", Description: "Application identifier"},
			"customer_id":     {Type: "string", Description: "Customer identifier"},
			"risk_assessment": {Type: "object", Description: "Risk assessment output"},
			"car_image_refs":  {Type: "array", Description: "Vehicle image references"},
			"document_refs":   {Type: "array", Description: "Document references"},
		}),
		Requires: []Milestone{MilestoneReportGenerated},
		Produces: MilestoneResultsStored,
	},
	{
		Name:        StepFlagForHumanReview,
		Description: "Flag the application for manual review when fraud or risk thresholds are exceeded",
		InputSchema: object([]string{"application_id", "reasons"}, map[string]Property{
			"application_id":  {Type: "string", Description: "Application identifier"},
			"reasons":         {Type: "array", Description: "Reasons for review"},
			"risk_assessment": {Type: "object", Description: "Risk assessment output"},
		}),
		Requires: []Milestone{MilestoneRiskAssessed},
		Produces: MilestoneHumanReviewFlagged,
	},
	{
		Name:        StepFinishProcessing,
		Description: "Complete processing and return the final result",
		InputSchema: object([]string{"application_id"}, map[string]Property{
			"final_report":   {Type: "string", Description: "Final report text"},
			"premium_amount": {Type: "number", Description: "Quoted premium"},
			"risk_score":     {Type: "number", Description: "Final risk score"},
			"application_id": {Type: "string", Description: "Application identifier"},
		}),
	},
}

var catalogueIndex = func() map[string]Schema {
	idx := make(map[string]Schema, len(catalogue))
	for _, s := range catalogue {
		idx[s.Name] = s
	}
	return idx
}()

// Catalogue returns the fixed step catalogue in workflow order.
func Catalogue() []Schema {
	out := make([]Schema, len(catalogue))
	copy(out, catalogue)
	return out
}

// Lookup returns the catalogue entry for name.
func Lookup(name string) (Schema, bool) {
	s, ok := catalogueIndex[name]
	return s, ok
}

// IsKnown reports whether name is a catalogue step.
func IsKnown(name string) bool {
	_, ok := catalogueIndex[name]
	return ok
}

// Names returns the catalogue step names in workflow order.
func Names() []string {
	out := make([]string, len(catalogue))
	for i, s := range catalogue {
		out[i] = s.Name
	}
	return out
}

// MilestoneFor returns the milestone a step sets, or MilestoneNone.
func MilestoneFor(step string) Milestone {
	return catalogueIndex[step].Produces
}

// Describe renders the catalogue as markdown for prompts.
func Describe(schemas []Schema) string {
	if len(schemas) == 0 {
		return "No tools available"
	}

	var doc strings.Builder
	for i := range schemas {
		s := &schemas[i]
		fmt.Fprintf(&doc, "- %s: %s\n", s.Name, s.Description)

		params := make([]string, 0, len(s.InputSchema.Properties))
		for name := range s.InputSchema.Properties {
			params = append(params, name)
		}
		sort.Strings(params)
		for _, name := range params {
			p := s.InputSchema.Properties[name]
			fmt.Fprintf(&doc, "    - %s (%s): %s\n", name, p.Type, p.Description)
		}
	}
	return doc.String()
}
