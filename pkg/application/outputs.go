package application

import (
	"encoding/json"

	"underwriter/pkg/tools"
)

// Output kinds, one per known step plus the opaque pass-through.
const (
	KindCustomerAnalysis = "customer_analysis"
	KindVehicleData      = "vehicle_data"
	KindDocumentData     = "document_data"
	KindRiskAssessment   = "risk_assessment"
	KindReport           = "report"
	KindStorageReceipt   = "storage_receipt"
	KindReviewRecord     = "review_record"
	KindCompletion       = "completion"
	KindOpaque           = "opaque"
)

// Output is the typed view of a step's data. The concrete types are the
// variants below; Opaque holds anything that could not be decoded.
type Output interface {
	Kind() string
}

type CustomerAnalysis struct {
	CustomerID     string         `json:"customer_id"`
	StructuredData map[string]any `json:"structured_data"`
	RiskFactors    []string       `json:"risk_factors"`
	ProfileScore   float64        `json:"profile_score"`
}

type VehicleData struct {
	Make           string   `json:"make"`
	Model          string   `json:"model"`
	Year           int      `json:"year"`
	Mileage        int      `json:"mileage"`
	Condition      string   `json:"condition"`
	EstimatedValue float64  `json:"estimated_value"`
	Damage         []string `json:"damage"`
	ImagesAnalyzed int      `json:"images_analyzed"`
	Confidence     float64  `json:"confidence"`
}

type DocumentData struct {
	DrivingRecord      string  `json:"driving_record"`
	LicenseStatus      string  `json:"license_status"`
	AddressVerified    bool    `json:"address_verified"`
	DocumentConfidence float64 `json:"document_confidence"`
	DocumentsProcessed int     `json:"documents_processed"`
}

type RiskAssessment struct {
	BaseRiskScore     float64  `json:"base_risk_score"`
	VehicleAdjustment float64  `json:"vehicle_adjustment"`
	FinalRiskScore    float64  `json:"final_risk_score"`
	FraudProbability  float64  `json:"fraud_probability"`
	PremiumAmount     float64  `json:"premium_amount"`
	RiskCategory      string   `json:"risk_category"`
	Recommendations   []string `json:"recommendations"`
}

type Report struct {
	Text        string `json:"report"`
	GeneratedBy string `json:"generated_by"`
}

type StorageReceipt struct {
	ApplicationID string `json:"application_id"`
	RecordID      string `json:"record_id"`
	Stored        bool   `json:"stored"`
}

type ReviewRecord struct {
	ApplicationID string   `json:"application_id"`
	ReviewID      string   `json:"review_id"`
	Reasons       []string `json:"reasons"`
	Priority      string   `json:"priority"`
}

type Completion struct {
	ApplicationID string  `json:"application_id"`
	FinalReport   string  `json:"final_report"`
	PremiumAmount float64 `json:"premium_amount"`
	RiskScore     float64 `json:"risk_score"`
	Status        string  `json:"status"`
}

// Opaque carries step data with no known shape.
type Opaque struct {
	Step string
	Raw  map[string]any
}

func (CustomerAnalysis) Kind() string { return KindCustomerAnalysis }
func (VehicleData) Kind() string      { return KindVehicleData }
func (DocumentData) Kind() string     { return KindDocumentData }
func (RiskAssessment) Kind() string   { return KindRiskAssessment }
func (Report) Kind() string           { return KindReport }
func (StorageReceipt) Kind() string   { return KindStorageReceipt }
func (ReviewRecord) Kind() string     { return KindReviewRecord }
func (Completion) Kind() string       { return KindCompletion }
func (Opaque) Kind() string           { return KindOpaque }

func decodeInto[T Output](data map[string]any) (Output, bool) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, false
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false
	}
	return out, true
}

// DecodeOutput decodes step data into its typed variant. Unknown steps, nil
// data and malformed data all yield Opaque.
func DecodeOutput(step string, data map[string]any) Output {
	if data == nil {
		return Opaque{Step: step}
	}

	var (
		out Output
		ok  bool
	)
	switch step {
	case tools.StepAnalyzeCustomer:
		out, ok = decodeInto[CustomerAnalysis](data)
	case tools.StepAnalyzeVehicle:
		out, ok = decodeInto[VehicleData](data)
	case tools.StepExtractDocuments:
		out, ok = decodeInto[DocumentData](data)
	case tools.StepRiskAssessment:
		out, ok = decodeInto[RiskAssessment](data)
	case tools.StepGenerateReport:
		out, ok = decodeInto[Report](data)
	case tools.StepStoreResults:
		out, ok = decodeInto[StorageReceipt](data)
	case tools.StepFlagForHumanReview:
		out, ok = decodeInto[ReviewRecord](data)
	case tools.StepFinishProcessing:
		out, ok = decodeInto[Completion](data)
	}
	if !ok {
		return Opaque{Step: step, Raw: data}
	}
	return out
}
