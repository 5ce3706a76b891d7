package underwriting

import (
	"context"

	"underwriter/pkg/application"
	"underwriter/pkg/tools"
)

// Driving record and license values produced by document extraction.
const (
	RecordClean           = "Clean"
	RecordMinorViolations = "Minor Violations"
	RecordMajorViolations = "Major Violations"
	LicenseValid          = "Valid"
	LicenseExpired        = "Expired"
	LicenseSuspended      = "Suspended"

	extractedConfidence = 0.9
)

// DocumentExtractor reads driving record and license status from document
// references. With no documents it returns a clean record at zero confidence.
type DocumentExtractor struct{}

// NewDocumentExtractor creates a new document extraction step.
func NewDocumentExtractor() *DocumentExtractor {
	return &DocumentExtractor{}
}

// Name returns the step identifier.
func (d *DocumentExtractor) Name() string {
	return tools.StepExtractDocuments
}

// Execute returns the extracted document data.
func (d *DocumentExtractor) Execute(ctx context.Context, stepCtx, params map[string]any) (tools.Result, error) {
	if err := ctx.Err(); err != nil {
		return tools.Result{}, err
	}
	refs := listInput(params, application.KeyDocumentRefs, seedOf(stepCtx).DocumentRefs)
	data := ExtractDocuments(refs)

	return tools.OK(map[string]any{
		"driving_record":      data.DrivingRecord,
		"license_status":      data.LicenseStatus,
		"address_verified":    data.AddressVerified,
		"document_confidence": data.DocumentConfidence,
		"documents_processed": data.DocumentsProcessed,
	}, map[string][]string{tools.TagObjectTables: {TableDocuments}}), nil
}

// ExtractDocuments classifies refs by keyword. The worst finding wins.
func ExtractDocuments(refs []string) application.DocumentData {
	data := application.DocumentData{
		DrivingRecord:      RecordClean,
		LicenseStatus:      LicenseValid,
		AddressVerified:    true,
		DocumentConfidence: 0.0,
		DocumentsProcessed: len(refs),
	}
	if len(refs) == 0 {
		return data
	}

	data.DocumentConfidence = extractedConfidence
	addressProof := false
	for _, ref := range refs {
		for _, w := range tokenize(ref) {
			switch w {
			case "suspended", "revoked":
				data.LicenseStatus = LicenseSuspended
			case "expired":
				if data.LicenseStatus != LicenseSuspended {
					data.LicenseStatus = LicenseExpired
				}
			case "dui", "dwi", "accident", "reckless", "major":
				data.DrivingRecord = RecordMajorViolations
			case "violation", "violations", "ticket", "speeding", "minor":
				if data.DrivingRecord != RecordMajorViolations {
					data.DrivingRecord = RecordMinorViolations
				}
			case "license", "licence", "dl", "address", "utility", "lease", "bill":
				addressProof = true
			}
		}
	}
	data.AddressVerified = addressProof
	return data
}
