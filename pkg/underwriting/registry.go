package underwriting

import (
	"underwriter/pkg/llm"
	"underwriter/pkg/tools"
)

// Deps are the collaborators the steps need. Every field is optional.
type Deps struct {
	Store             Store
	ReportClient      llm.LLMClient
	HighPriorityFraud float64
}

// Tools returns the eight steps in catalogue order.
func Tools(deps Deps) []tools.Tool {
	return []tools.Tool{
		NewCustomerAnalyzer(),
		NewVehicleAnalyzer(),
		NewDocumentExtractor(),
		NewRiskAssessor(),
		NewReportGenerator(deps.ReportClient),
		NewResultStore(deps.Store),
		NewReviewFlagger(deps.Store, deps.HighPriorityFraud),
		NewFinisher(),
	}
}

// NewRegistry builds the registry holding every underwriting step.
func NewRegistry(deps Deps, opts ...tools.Option) (*tools.Registry, error) {
	return tools.NewRegistry(Tools(deps), opts...)
}
