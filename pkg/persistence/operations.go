package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SaveApplication inserts or replaces an application record. CreatedAt of an
// existing row is preserved.
func (s *Store) SaveApplication(ctx context.Context, rec *ApplicationRecord) error {
	if rec == nil || rec.ApplicationID == "" {
		return fmt.Errorf("application record requires an application_id")
	}
	if rec.Status == "" {
		rec.Status = StatusProcessed
	}

	docRefs, err := encodeJSON(rec.DocumentRefs, "[]")
	if err != nil {
		return err
	}
	imageRefs, err := encodeJSON(rec.CarImageRefs, "[]")
	if err != nil {
		return err
	}
	extractions, err := encodeJSON(rec.AIExtractions, "{}")
	if err != nil {
		return err
	}

	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO applications (
			application_id, customer_id, status, risk_score, premium_quoted,
			fraud_probability, risk_category, document_refs, car_image_refs,
			ai_extractions, processing_notes, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(application_id) DO UPDATE SET
			customer_id = excluded.customer_id,
			status = excluded.status,
			risk_score = excluded.risk_score,
			premium_quoted = excluded.premium_quoted,
			fraud_probability = excluded.fraud_probability,
			risk_category = excluded.risk_category,
			document_refs = excluded.document_refs,
			car_image_refs = excluded.car_image_refs,
			ai_extractions = excluded.ai_extractions,
			processing_notes = excluded.processing_notes,
			updated_at = excluded.updated_at`,
		rec.ApplicationID, rec.CustomerID, rec.Status, rec.RiskScore, rec.PremiumQuoted,
		rec.FraudProbability, rec.RiskCategory, docRefs, imageRefs,
		extractions, rec.ProcessingNotes, formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save application %s: %w", rec.ApplicationID, err)
	}
	return nil
}

// UpdateApplicationStatus changes the status of a stored application.
func (s *Store) UpdateApplicationStatus(ctx context.Context, applicationID, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE applications SET status = ?, updated_at = ? WHERE application_id = ?`,
		status, formatTime(time.Now()), applicationID)
	if err != nil {
		return fmt.Errorf("failed to update application %s: %w", applicationID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrApplicationNotFound, applicationID)
	}
	return nil
}

// GetApplication loads one application record.
func (s *Store) GetApplication(ctx context.Context, applicationID string) (*ApplicationRecord, error) {
	var (
		rec                             ApplicationRecord
		docRefs, imageRefs, extractions string
		createdAt, updatedAt            string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT application_id, customer_id, status, risk_score, premium_quoted,
			fraud_probability, risk_category, document_refs, car_image_refs,
			ai_extractions, processing_notes, created_at, updated_at
		FROM applications WHERE application_id = ?`, applicationID,
	).Scan(&rec.ApplicationID, &rec.CustomerID, &rec.Status, &rec.RiskScore, &rec.PremiumQuoted,
		&rec.FraudProbability, &rec.RiskCategory, &docRefs, &imageRefs,
		&extractions, &rec.ProcessingNotes, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrApplicationNotFound, applicationID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query application %s: %w", applicationID, err)
	}

	if rec.DocumentRefs, err = decodeStrings(docRefs); err != nil {
		return nil, err
	}
	if rec.CarImageRefs, err = decodeStrings(imageRefs); err != nil {
		return nil, err
	}
	if rec.AIExtractions, err = decodeObject(extractions); err != nil {
		return nil, err
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}

// CountApplicationsByStatus returns the number of stored applications per status.
func (s *Store) CountApplicationsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM applications GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count applications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan application count: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate application counts: %w", err)
	}
	return counts, nil
}

// AppendStep records one executed step. Seq orders steps within an application.
func (s *Store) AppendStep(ctx context.Context, step *StepRecord) error {
	if step == nil || step.ApplicationID == "" {
		return fmt.Errorf("step record requires an application_id")
	}
	tags, err := encodeJSON(step.CapabilityTags, "[]")
	if err != nil {
		return err
	}
	if step.ExecutedAt.IsZero() {
		step.ExecutedAt = time.Now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO step_history (application_id, seq, step, success, error, capability_tags, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		step.ApplicationID, step.Seq, step.Step, boolToInt(step.Success), step.Error, tags, formatTime(step.ExecutedAt))
	if err != nil {
		return fmt.Errorf("failed to append step %s for %s: %w", step.Step, step.ApplicationID, err)
	}
	if id, err := res.LastInsertId(); err == nil {
		step.ID = id
	}
	return nil
}

// ListSteps returns an application's step history in execution order.
func (s *Store) ListSteps(ctx context.Context, applicationID string) ([]StepRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, application_id, seq, step, success, error, capability_tags, executed_at
		FROM step_history WHERE application_id = ? ORDER BY seq, id`, applicationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps for %s: %w", applicationID, err)
	}
	defer func() { _ = rows.Close() }()

	var steps []StepRecord
	for rows.Next() {
		var (
			rec            StepRecord
			success        int
			tags, executed string
		)
		if err := rows.Scan(&rec.ID, &rec.ApplicationID, &rec.Seq, &rec.Step, &success, &rec.Error, &tags, &executed); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		rec.Success = success != 0
		if rec.CapabilityTags, err = decodeStrings(tags); err != nil {
			return nil, err
		}
		if rec.ExecutedAt, err = parseTime(executed); err != nil {
			return nil, err
		}
		steps = append(steps, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate steps: %w", err)
	}
	return steps, nil
}

// SaveReviewFlag stores a human review request, assigning a review id when missing.
func (s *Store) SaveReviewFlag(ctx context.Context, flag *ReviewFlag) error {
	if flag == nil || flag.ApplicationID == "" {
		return fmt.Errorf("review flag requires an application_id")
	}
	if flag.ReviewID == "" {
		flag.ReviewID = "REV_" + uuid.New().String()
	}
	if flag.Priority == "" {
		flag.Priority = PriorityMedium
	}
	if flag.Status == "" {
		flag.Status = ReviewStatusPending
	}
	if flag.FlaggedAt.IsZero() {
		flag.FlaggedAt = time.Now()
	}
	reasons, err := encodeJSON(flag.Reasons, "[]")
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO review_flags (
			review_id, application_id, customer_id, reasons, risk_score,
			fraud_probability, priority, status, flagged_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		flag.ReviewID, flag.ApplicationID, flag.CustomerID, reasons, flag.RiskScore,
		flag.FraudProbability, flag.Priority, flag.Status, formatTime(flag.FlaggedAt))
	if err != nil {
		return fmt.Errorf("failed to save review flag for %s: %w", flag.ApplicationID, err)
	}
	return nil
}

// ListReviewFlags returns review flags, newest first. An empty status matches all flags.
func (s *Store) ListReviewFlags(ctx context.Context, status string) ([]ReviewFlag, error) {
	query := `SELECT review_id, application_id, customer_id, reasons, risk_score,
			fraud_probability, priority, status, flagged_at
		FROM review_flags`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY flagged_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query review flags: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var flags []ReviewFlag
	for rows.Next() {
		var (
			flag             ReviewFlag
			reasons, flagged string
		)
		if err := rows.Scan(&flag.ReviewID, &flag.ApplicationID, &flag.CustomerID, &reasons, &flag.RiskScore,
			&flag.FraudProbability, &flag.Priority, &flag.Status, &flagged); err != nil {
			return nil, fmt.Errorf("failed to scan review flag: %w", err)
		}
		if flag.Reasons, err = decodeStrings(reasons); err != nil {
			return nil, err
		}
		if flag.FlaggedAt, err = parseTime(flagged); err != nil {
			return nil, err
		}
		flags = append(flags, flag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate review flags: %w", err)
	}
	return flags, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
