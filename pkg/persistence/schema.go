package persistence

import (
	"database/sql"
	"fmt"
)

// CurrentSchemaVersion is the schema version createSchema produces.
const CurrentSchemaVersion = 2

// initializeSchemaWithMigrations creates a fresh schema or migrates an existing one.
func initializeSchemaWithMigrations(db *sql.DB) error {
	currentVersion, err := GetSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if currentVersion == 0 {
		return createSchema(db)
	}
	return runMigrations(db, currentVersion)
}

// GetSchemaVersion returns the highest applied schema version, or 0 for an empty database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	var exists int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'`).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("failed to check schema_version table: %w", err)
	}
	if exists == 0 {
		return 0, nil
	}

	var version sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to query schema version: %w", err)
	}
	return int(version.Int64), nil
}

func runMigrations(db *sql.DB, currentVersion int) error {
	if currentVersion == CurrentSchemaVersion {
		return nil
	}
	if currentVersion > CurrentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", currentVersion, CurrentSchemaVersion)
	}

	for version := currentVersion + 1; version <= CurrentSchemaVersion; version++ {
		if err := runMigration(db, version); err != nil {
			return fmt.Errorf("failed to migrate to version %d: %w", version, err)
		}
		if err := setSchemaVersion(db, version); err != nil {
			return fmt.Errorf("failed to update schema version to %d: %w", version, err)
		}
	}
	return nil
}

func runMigration(db *sql.DB, version int) error {
	switch version {
	case 2:
		return migrateToVersion2(db)
	default:
		return fmt.Errorf("no migration defined for version %d", version)
	}
}

// migrateToVersion2 records image references on applications and message counts on sessions.
func migrateToVersion2(db *sql.DB) error {
	migrations := []string{
		"ALTER TABLE applications ADD COLUMN car_image_refs TEXT NOT NULL DEFAULT '[]'",
		"ALTER TABLE sessions ADD COLUMN message_count INTEGER NOT NULL DEFAULT 0",
	}

	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("failed to execute migration: %s: %w", migration, err)
		}
	}
	return nil
}

// createSchema creates all required tables and indices at CurrentSchemaVersion.
func createSchema(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}

	tables := []string{
		`CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TEXT DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		`CREATE TABLE IF NOT EXISTS applications (
			application_id TEXT PRIMARY KEY,
			customer_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			risk_score REAL NOT NULL DEFAULT 0,
			premium_quoted REAL NOT NULL DEFAULT 0,
			fraud_probability REAL NOT NULL DEFAULT 0,
			risk_category TEXT NOT NULL DEFAULT '',
			document_refs TEXT NOT NULL DEFAULT '[]',
			car_image_refs TEXT NOT NULL DEFAULT '[]',
			ai_extractions TEXT NOT NULL DEFAULT '{}',
			processing_notes TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS step_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			application_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			step TEXT NOT NULL,
			success INTEGER NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			capability_tags TEXT NOT NULL DEFAULT '[]',
			executed_at TEXT NOT NULL,
			UNIQUE (application_id, seq)
		)`,

		`CREATE TABLE IF NOT EXISTS review_flags (
			review_id TEXT PRIMARY KEY,
			application_id TEXT NOT NULL,
			customer_id TEXT NOT NULL DEFAULT '',
			reasons TEXT NOT NULL DEFAULT '[]',
			risk_score REAL NOT NULL DEFAULT 0,
			fraud_probability REAL NOT NULL DEFAULT 0,
			priority TEXT NOT NULL CHECK (priority IN ('HIGH','MEDIUM','LOW')),
			status TEXT NOT NULL DEFAULT 'PENDING',
			flagged_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS sessions (
			application_id TEXT PRIMARY KEY,
			status TEXT NOT NULL CHECK (status IN ('active','completed')),
			initial_data TEXT NOT NULL DEFAULT '{}',
			final_result TEXT,
			message_count INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			closed_at TEXT
		)`,
	}
	for _, table := range tables {
		if _, err := db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	indices := []string{
		"CREATE INDEX IF NOT EXISTS idx_applications_status ON applications(status)",
		"CREATE INDEX IF NOT EXISTS idx_applications_customer ON applications(customer_id)",
		"CREATE INDEX IF NOT EXISTS idx_step_history_app ON step_history(application_id, seq)",
		"CREATE INDEX IF NOT EXISTS idx_review_flags_app ON review_flags(application_id)",
		"CREATE INDEX IF NOT EXISTS idx_review_flags_status ON review_flags(status)",
	}
	for _, index := range indices {
		if _, err := db.Exec(index); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	if err := setSchemaVersion(db, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	return nil
}

// setSchemaVersion records an applied schema version.
func setSchemaVersion(db *sql.DB, version int) error {
	_, err := db.Exec(`INSERT OR REPLACE INTO schema_version (version) VALUES (?)`, version)
	if err != nil {
		return fmt.Errorf("database exec error: %w", err)
	}
	return nil
}
