package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func createTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenCreatesSchema(t *testing.T) {
	store := createTestStore(t)

	version, err := GetSchemaVersion(store.db)
	if err != nil {
		t.Fatalf("GetSchemaVersion failed: %v", err)
	}
	if version != CurrentSchemaVersion {
		t.Errorf("Expected schema version %d, got %d", CurrentSchemaVersion, version)
	}

	for _, table := range []string{"applications", "step_history", "review_flags", "sessions"} {
		var n int
		err := store.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n)
		if err != nil || n != 1 {
			t.Errorf("Expected table %s to exist (n=%d, err=%v)", table, n, err)
		}
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "reopen.db")
	ctx := context.Background()

	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := store.SaveApplication(ctx, &ApplicationRecord{ApplicationID: "APP_1", CustomerID: "C1"}); err != nil {
		t.Fatalf("SaveApplication failed: %v", err)
	}
	_ = store.Close()

	store, err = Open(path)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer func() { _ = store.Close() }()

	rec, err := store.GetApplication(ctx, "APP_1")
	if err != nil {
		t.Fatalf("GetApplication after reopen failed: %v", err)
	}
	if rec.CustomerID != "C1" {
		t.Errorf("Expected customer C1, got %s", rec.CustomerID)
	}
}

func TestMigrateFromVersion1(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v1.db")
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s", path))
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	stmts := []string{
		`CREATE TABLE schema_version (version INTEGER PRIMARY KEY, applied_at TEXT)`,
		`INSERT INTO schema_version (version) VALUES (1)`,
		`CREATE TABLE applications (
			application_id TEXT PRIMARY KEY, customer_id TEXT NOT NULL DEFAULT '', status TEXT NOT NULL,
			risk_score REAL NOT NULL DEFAULT 0, premium_quoted REAL NOT NULL DEFAULT 0,
			fraud_probability REAL NOT NULL DEFAULT 0, risk_category TEXT NOT NULL DEFAULT '',
			document_refs TEXT NOT NULL DEFAULT '[]', ai_extractions TEXT NOT NULL DEFAULT '{}',
			processing_notes TEXT NOT NULL DEFAULT '', created_at TEXT NOT NULL, updated_at TEXT NOT NULL)`,
		`CREATE TABLE step_history (id INTEGER PRIMARY KEY AUTOINCREMENT, application_id TEXT NOT NULL,
			seq INTEGER NOT NULL, step TEXT NOT NULL, success INTEGER NOT NULL, error TEXT NOT NULL DEFAULT '',
			capability_tags TEXT NOT NULL DEFAULT '[]', executed_at TEXT NOT NULL)`,
		`CREATE TABLE review_flags (review_id TEXT PRIMARY KEY, application_id TEXT NOT NULL,
			customer_id TEXT NOT NULL DEFAULT '', reasons TEXT NOT NULL DEFAULT '[]', risk_score REAL NOT NULL DEFAULT 0,
			fraud_probability REAL NOT NULL DEFAULT 0, priority TEXT NOT NULL, status TEXT NOT NULL DEFAULT 'PENDING',
			flagged_at TEXT NOT NULL)`,
		`CREATE TABLE sessions (application_id TEXT PRIMARY KEY, status TEXT NOT NULL,
			initial_data TEXT NOT NULL DEFAULT '{}', final_result TEXT, created_at TEXT NOT NULL, closed_at TEXT)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("Failed to seed v1 schema: %v", err)
		}
	}
	_ = db.Close()

	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open with migration failed: %v", err)
	}
	defer func() { _ = store.Close() }()

	version, _ := GetSchemaVersion(store.db)
	if version != CurrentSchemaVersion {
		t.Errorf("Expected migrated version %d, got %d", CurrentSchemaVersion, version)
	}

	ctx := context.Background()
	rec := &ApplicationRecord{ApplicationID: "APP_M", CarImageRefs: []string{"front.jpg"}}
	if err := store.SaveApplication(ctx, rec); err != nil {
		t.Fatalf("SaveApplication on migrated schema failed: %v", err)
	}
	if err := store.UpsertSession(ctx, &SessionRecord{ApplicationID: "APP_M", MessageCount: 3}); err != nil {
		t.Fatalf("UpsertSession on migrated schema failed: %v", err)
	}
}

func TestApplicationRoundTrip(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	rec := &ApplicationRecord{
		ApplicationID:    "APP_ABC",
		CustomerID:       "CUST_9",
		RiskScore:        62.5,
		PremiumQuoted:    1234.5,
		FraudProbability: 0.15,
		RiskCategory:     "High Risk",
		DocumentRefs:     []string{"license.pdf"},
		AIExtractions:    map[string]any{"models": []any{"risk_scoring"}},
		ProcessingNotes:  "processed by rules",
	}
	if err := store.SaveApplication(ctx, rec); err != nil {
		t.Fatalf("SaveApplication failed: %v", err)
	}

	got, err := store.GetApplication(ctx, "APP_ABC")
	if err != nil {
		t.Fatalf("GetApplication failed: %v", err)
	}
	if got.Status != StatusProcessed {
		t.Errorf("Expected default status %s, got %s", StatusProcessed, got.Status)
	}
	if got.RiskScore != 62.5 || got.PremiumQuoted != 1234.5 || got.RiskCategory != "High Risk" {
		t.Errorf("Unexpected numeric fields: %+v", got)
	}
	if len(got.DocumentRefs) != 1 || got.DocumentRefs[0] != "license.pdf" {
		t.Errorf("Unexpected document refs: %v", got.DocumentRefs)
	}
	if got.CarImageRefs == nil || len(got.CarImageRefs) != 0 {
		t.Errorf("Expected empty non-nil image refs, got %v", got.CarImageRefs)
	}
	if _, ok := got.AIExtractions["models"]; !ok {
		t.Errorf("Expected ai_extractions to survive, got %v", got.AIExtractions)
	}

	created := got.CreatedAt
	time.Sleep(2 * time.Millisecond)
	rec.Status = StatusFlaggedForReview
	rec.CreatedAt = time.Time{}
	if err := store.SaveApplication(ctx, rec); err != nil {
		t.Fatalf("second SaveApplication failed: %v", err)
	}
	got, _ = store.GetApplication(ctx, "APP_ABC")
	if got.Status != StatusFlaggedForReview {
		t.Errorf("Expected updated status, got %s", got.Status)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("Expected created_at preserved, got %v want %v", got.CreatedAt, created)
	}

	if err := store.UpdateApplicationStatus(ctx, "APP_ABC", StatusCompleted); err != nil {
		t.Fatalf("UpdateApplicationStatus failed: %v", err)
	}
	counts, err := store.CountApplicationsByStatus(ctx)
	if err != nil {
		t.Fatalf("CountApplicationsByStatus failed: %v", err)
	}
	if counts[StatusCompleted] != 1 {
		t.Errorf("Expected one completed application, got %v", counts)
	}
}

func TestApplicationErrors(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	if _, err := store.GetApplication(ctx, "missing"); !errors.Is(err, ErrApplicationNotFound) {
		t.Errorf("Expected ErrApplicationNotFound, got %v", err)
	}
	if err := store.UpdateApplicationStatus(ctx, "missing", StatusFailed); !errors.Is(err, ErrApplicationNotFound) {
		t.Errorf("Expected ErrApplicationNotFound on update, got %v", err)
	}
	if err := store.SaveApplication(ctx, &ApplicationRecord{}); err == nil {
		t.Error("Expected error for record without id")
	}
}

func TestStepHistory(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	steps := []StepRecord{
		{ApplicationID: "APP_1", Seq: 1, Step: "analyze-customer", Success: true, CapabilityTags: []string{"customer_profile"}},
		{ApplicationID: "APP_1", Seq: 2, Step: "analyze-vehicle-images", Success: false, Error: "timeout"},
		{ApplicationID: "APP_2", Seq: 1, Step: "analyze-customer", Success: true},
	}
	for i := range steps {
		if err := store.AppendStep(ctx, &steps[i]); err != nil {
			t.Fatalf("AppendStep failed: %v", err)
		}
		if steps[i].ID == 0 {
			t.Error("Expected row id to be assigned")
		}
	}

	got, err := store.ListSteps(ctx, "APP_1")
	if err != nil {
		t.Fatalf("ListSteps failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 steps, got %d", len(got))
	}
	if got[0].Step != "analyze-customer" || !got[0].Success || got[0].CapabilityTags[0] != "customer_profile" {
		t.Errorf("Unexpected first step: %+v", got[0])
	}
	if got[1].Success || got[1].Error != "timeout" {
		t.Errorf("Unexpected second step: %+v", got[1])
	}

	dup := StepRecord{ApplicationID: "APP_1", Seq: 1, Step: "analyze-customer"}
	if err := store.AppendStep(ctx, &dup); err == nil {
		t.Error("Expected duplicate seq to be rejected")
	}

	none, err := store.ListSteps(ctx, "APP_none")
	if err != nil || len(none) != 0 {
		t.Errorf("Expected no steps, got %v, %v", none, err)
	}
}

func TestReviewFlags(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	older := &ReviewFlag{
		ApplicationID: "APP_1",
		Reasons:       []string{"High fraud probability: 0.90"},
		Priority:      PriorityHigh,
		FlaggedAt:     time.Now().Add(-time.Hour),
	}
	newer := &ReviewFlag{ApplicationID: "APP_2", Reasons: []string{"High risk score: 85.0"}}
	for _, f := range []*ReviewFlag{older, newer} {
		if err := store.SaveReviewFlag(ctx, f); err != nil {
			t.Fatalf("SaveReviewFlag failed: %v", err)
		}
	}
	if newer.ReviewID == "" || newer.Priority != PriorityMedium || newer.Status != ReviewStatusPending {
		t.Errorf("Expected defaults applied, got %+v", newer)
	}

	flags, err := store.ListReviewFlags(ctx, ReviewStatusPending)
	if err != nil {
		t.Fatalf("ListReviewFlags failed: %v", err)
	}
	if len(flags) != 2 {
		t.Fatalf("Expected 2 flags, got %d", len(flags))
	}
	if flags[0].ApplicationID != "APP_2" {
		t.Errorf("Expected newest first, got %s", flags[0].ApplicationID)
	}
	if flags[1].Priority != PriorityHigh || flags[1].Reasons[0] != "High fraud probability: 0.90" {
		t.Errorf("Unexpected older flag: %+v", flags[1])
	}

	if err := store.SaveReviewFlag(ctx, &ReviewFlag{ApplicationID: "APP_3", Priority: "URGENT"}); err == nil {
		t.Error("Expected invalid priority to be rejected")
	}

	all, _ := store.ListReviewFlags(ctx, "")
	if len(all) != 2 {
		t.Errorf("Expected 2 flags without filter, got %d", len(all))
	}
}

func TestSessions(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	sess := &SessionRecord{ApplicationID: "APP_S", InitialData: map[string]any{"customer_id": "C1"}, MessageCount: 1}
	if err := store.UpsertSession(ctx, sess); err != nil {
		t.Fatalf("UpsertSession failed: %v", err)
	}

	got, err := store.GetSession(ctx, "APP_S")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.Status != SessionStatusActive || got.ClosedAt != nil || got.FinalResult != nil {
		t.Errorf("Unexpected active session: %+v", got)
	}
	if got.InitialData["customer_id"] != "C1" {
		t.Errorf("Unexpected initial data: %v", got.InitialData)
	}

	closed := time.Now()
	sess.Status = SessionStatusCompleted
	sess.FinalResult = map[string]any{"status": "COMPLETED"}
	sess.MessageCount = 4
	sess.ClosedAt = &closed
	if err := store.UpsertSession(ctx, sess); err != nil {
		t.Fatalf("closing UpsertSession failed: %v", err)
	}

	got, _ = store.GetSession(ctx, "APP_S")
	if got.Status != SessionStatusCompleted || got.MessageCount != 4 {
		t.Errorf("Unexpected closed session: %+v", got)
	}
	if got.ClosedAt == nil || got.FinalResult["status"] != "COMPLETED" {
		t.Errorf("Expected close details, got %+v", got)
	}

	if _, err := store.GetSession(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
}
