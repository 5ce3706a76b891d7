// Package persistence provides the SQLite audit store for processed
// applications, their step history, review flags and message sessions.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"underwriter/pkg/logx"
)

// ErrApplicationNotFound is returned when a requested application record does not exist.
var ErrApplicationNotFound = errors.New("application not found")

// Store owns one SQLite connection pool. It is safe for concurrent use.
type Store struct {
	db     *sql.DB
	path   string
	logger *logx.Logger
}

// Open creates (or reopens) the database at dbPath and brings its schema up to date.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000",
		dbPath,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := initializeSchemaWithMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s := &Store{db: db, path: dbPath, logger: logx.NewLogger("persistence")}
	s.logger.Info("📦 Database initialized: %s", dbPath)
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Ping checks the connection is usable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
