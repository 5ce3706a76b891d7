package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrSessionNotFound is returned when a requested session does not exist.
var ErrSessionNotFound = errors.New("session not found")

// Session status constants.
const (
	SessionStatusActive    = "active"
	SessionStatusCompleted = "completed"
)

// SessionRecord is the durable copy of a messaging session.
type SessionRecord struct {
	ApplicationID string         `json:"application_id"`
	Status        string         `json:"status"`
	InitialData   map[string]any `json:"initial_data"`
	FinalResult   map[string]any `json:"final_result,omitempty"`
	MessageCount  int            `json:"message_count"`
	CreatedAt     time.Time      `json:"created_at"`
	ClosedAt      *time.Time     `json:"closed_at,omitempty"`
}

// UpsertSession inserts a session or updates its status, result and counters.
func (s *Store) UpsertSession(ctx context.Context, sess *SessionRecord) error {
	if sess == nil || sess.ApplicationID == "" {
		return fmt.Errorf("session requires an application_id")
	}
	if sess.Status == "" {
		sess.Status = SessionStatusActive
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}

	initial, err := encodeJSON(sess.InitialData, "{}")
	if err != nil {
		return err
	}
	var final, closed sql.NullString
	if sess.FinalResult != nil {
		encoded, err := encodeJSON(sess.FinalResult, "{}")
		if err != nil {
			return err
		}
		final = sql.NullString{String: encoded, Valid: true}
	}
	if sess.ClosedAt != nil {
		closed = sql.NullString{String: formatTime(*sess.ClosedAt), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (application_id, status, initial_data, final_result, message_count, created_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(application_id) DO UPDATE SET
			status = excluded.status,
			final_result = COALESCE(excluded.final_result, sessions.final_result),
			message_count = excluded.message_count,
			closed_at = COALESCE(excluded.closed_at, sessions.closed_at)`,
		sess.ApplicationID, sess.Status, initial, final, sess.MessageCount, formatTime(sess.CreatedAt), closed)
	if err != nil {
		return fmt.Errorf("failed to upsert session %s: %w", sess.ApplicationID, err)
	}
	return nil
}

// GetSession loads a session by application id.
func (s *Store) GetSession(ctx context.Context, applicationID string) (*SessionRecord, error) {
	var (
		sess             SessionRecord
		initial, created string
		final, closed    sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT application_id, status, initial_data, final_result, message_count, created_at, closed_at
		FROM sessions WHERE application_id = ?`, applicationID,
	).Scan(&sess.ApplicationID, &sess.Status, &initial, &final, &sess.MessageCount, &created, &closed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, applicationID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session %s: %w", applicationID, err)
	}

	if sess.InitialData, err = decodeObject(initial); err != nil {
		return nil, err
	}
	if final.Valid {
		if sess.FinalResult, err = decodeObject(final.String); err != nil {
			return nil, err
		}
	}
	if sess.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if closed.Valid {
		t, err := parseTime(closed.String)
		if err != nil {
			return nil, err
		}
		sess.ClosedAt = &t
	}
	return &sess, nil
}
