package underwriting

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"underwriter/pkg/application"
	"underwriter/pkg/config"
	"underwriter/pkg/logx"
	"underwriter/pkg/persistence"
	"underwriter/pkg/tools"
	"underwriter/pkg/utils"
)

// Store is the slice of the persistence layer the record steps need.
type Store interface {
	SaveApplication(ctx context.Context, rec *persistence.ApplicationRecord) error
	UpdateApplicationStatus(ctx context.Context, applicationID, status string) error
	SaveReviewFlag(ctx context.Context, flag *persistence.ReviewFlag) error
}

// ResultStore persists the application record. Without a store it reports stored=false.
type ResultStore struct {
	store  Store
	logger *logx.Logger
}

// NewResultStore creates the store-results step. store may be nil.
func NewResultStore(store Store) *ResultStore {
	return &ResultStore{store: store, logger: logx.NewLogger("results")}
}

// Name returns the step identifier.
func (s *ResultStore) Name() string {
	return tools.StepStoreResults
}

// Execute writes the record and returns a storage receipt.
func (s *ResultStore) Execute(ctx context.Context, stepCtx, params map[string]any) (tools.Result, error) {
	applicationID := applicationIDOf(stepCtx, params)
	if applicationID == "" {
		return tools.Result{}, fmt.Errorf("application_id is required")
	}
	seed := seedOf(stepCtx)
	risk := mapInput(stepCtx, params, "risk_assessment", tools.StepRiskAssessment)

	rec := &persistence.ApplicationRecord{
		ApplicationID:    applicationID,
		CustomerID:       stringInput(params, application.KeyCustomerID, seed.CustomerID),
		Status:           persistence.StatusProcessed,
		RiskScore:        utils.FloatField(risk, "final_risk_score", 0),
		PremiumQuoted:    utils.FloatField(risk, "premium_amount", 0),
		FraudProbability: utils.FloatField(risk, "fraud_probability", 0),
		RiskCategory:     utils.StringField(risk, "risk_category", ""),
		DocumentRefs:     listInput(params, application.KeyDocumentRefs, seed.DocumentRefs),
		CarImageRefs:     listInput(params, application.KeyCarImageRefs, seed.CarImageRefs),
		AIExtractions: map[string]any{
			"customer_analysis": stepCtx[tools.StepAnalyzeCustomer],
			"vehicle_data":      stepCtx[tools.StepAnalyzeVehicle],
			"document_data":     stepCtx[tools.StepExtractDocuments],
		},
		ProcessingNotes: "Processed by underwriting orchestrator",
	}

	receipt := application.StorageReceipt{ApplicationID: applicationID}
	if s.store != nil {
		if err := s.store.SaveApplication(ctx, rec); err != nil {
			return tools.Result{}, err
		}
		receipt.RecordID = applicationID
		receipt.Stored = true
	} else {
		s.logger.Debug("No store configured, skipping persistence for %s", applicationID)
	}

	return tools.OK(map[string]any{
		"application_id": receipt.ApplicationID,
		"record_id":      receipt.RecordID,
		"stored":         receipt.Stored,
	}, map[string][]string{tools.TagObjectTables: {TableApplications}}), nil
}

// ReviewFlagger queues an application for human review.
type ReviewFlagger struct {
	store        Store
	highPriority float64
	logger       *logx.Logger
}

// NewReviewFlagger creates the review step. Fraud above highPriority is flagged HIGH.
func NewReviewFlagger(store Store, highPriority float64) *ReviewFlagger {
	if highPriority <= 0 {
		highPriority = config.DefaultHighPriorityFraud
	}
	return &ReviewFlagger{store: store, highPriority: highPriority, logger: logx.NewLogger("review")}
}

// Name returns the step identifier.
func (f *ReviewFlagger) Name() string {
	return tools.StepFlagForHumanReview
}

// Execute records the review flag and returns the review record.
func (f *ReviewFlagger) Execute(ctx context.Context, stepCtx, params map[string]any) (tools.Result, error) {
	applicationID := applicationIDOf(stepCtx, params)
	if applicationID == "" {
		return tools.Result{}, fmt.Errorf("application_id is required")
	}
	risk := mapInput(stepCtx, params, "risk_assessment", tools.StepRiskAssessment)
	reasons := utils.StringSlice(params["reasons"])
	if len(reasons) == 0 {
		reasons = []string{"Manual review requested"}
	}

	fraud := utils.FloatField(risk, "fraud_probability", 0)
	priority := persistence.PriorityMedium
	if fraud > f.highPriority {
		priority = persistence.PriorityHigh
	}

	flag := &persistence.ReviewFlag{
		ReviewID:         "REV_" + uuid.New().String(),
		ApplicationID:    applicationID,
		CustomerID:       stringInput(params, application.KeyCustomerID, seedOf(stepCtx).CustomerID),
		Reasons:          reasons,
		RiskScore:        utils.FloatField(risk, "final_risk_score", 0),
		FraudProbability: fraud,
		Priority:         priority,
	}
	if f.store != nil {
		if err := f.store.SaveReviewFlag(ctx, flag); err != nil {
			return tools.Result{}, err
		}
		err := f.store.UpdateApplicationStatus(ctx, applicationID, persistence.StatusFlaggedForReview)
		if err != nil && !errors.Is(err, persistence.ErrApplicationNotFound) {
			return tools.Result{}, err
		}
	}
	f.logger.Info("🚩 Application %s flagged for review (%s): %v", applicationID, priority, reasons)

	out := application.ReviewRecord{
		ApplicationID: applicationID,
		ReviewID:      flag.ReviewID,
		Reasons:       reasons,
		Priority:      priority,
	}
	return tools.OK(map[string]any{
		"application_id": out.ApplicationID,
		"review_id":      out.ReviewID,
		"reasons":        out.Reasons,
		"priority":       out.Priority,
	}, map[string][]string{tools.TagObjectTables: {TableReviewQueue}}), nil
}

// Finisher echoes the finish params as the completion record. Fields missing
// from params are taken from the report and risk steps in the step context.
type Finisher struct{}

// NewFinisher creates the terminal step.
func NewFinisher() *Finisher {
	return &Finisher{}
}

// Name returns the step identifier.
func (f *Finisher) Name() string {
	return tools.StepFinishProcessing
}

// Execute returns the completion record with status COMPLETED.
func (f *Finisher) Execute(_ context.Context, stepCtx, params map[string]any) (tools.Result, error) {
	reportData, _ := stepCtx[tools.StepGenerateReport].(map[string]any)
	risk, _ := stepCtx[tools.StepRiskAssessment].(map[string]any)

	report := stringInput(params, "final_report", utils.StringField(reportData, "report", ""))
	if report == "" {
		report = tools.ReportFallback
	}
	out := application.Completion{
		ApplicationID: applicationIDOf(stepCtx, params),
		FinalReport:   report,
		PremiumAmount: utils.FloatField(params, "premium_amount", utils.FloatField(risk, "premium_amount", 0)),
		RiskScore:     utils.FloatField(params, "risk_score", utils.FloatField(risk, "final_risk_score", 0)),
		Status:        persistence.StatusCompleted,
	}
	return tools.OK(map[string]any{
		"application_id": out.ApplicationID,
		"final_report":   out.FinalReport,
		"premium_amount": out.PremiumAmount,
		"risk_score":     out.RiskScore,
		"status":         out.Status,
	}, nil), nil
}
