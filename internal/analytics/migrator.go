package analytics

import (
	"database/sql"
	"fmt"
	"log"
	"strconv"
)

// Migrations are forward-only and additive. The current schema version lives
// in the meta table.
var migrations = []string{
	// v1: base schema
	`CREATE TABLE IF NOT EXISTS videos (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		video_title TEXT NOT NULL,
		overall_score REAL NOT NULL,
		sentiment REAL NOT NULL,
		keywords TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);`,
	// v2: dedup support
	`ALTER TABLE videos ADD COLUMN fingerprint TEXT NOT NULL DEFAULT '';
	ALTER TABLE videos ADD COLUMN report_json TEXT NOT NULL DEFAULT '';
	CREATE INDEX IF NOT EXISTS idx_videos_fingerprint ON videos(fingerprint, created_at);`,
}

// Migrate applies pending migrations inside transactions and records the new
// schema version.
func (s *Store) Migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`); err != nil {
		return fmt.Errorf("failed to create meta table: %w", err)
	}

	version, err := s.SchemaVersion()
	if err != nil {
		return err
	}

	for i := version; i < len(migrations); i++ {
		if err := s.applyMigration(i+1, migrations[i]); err != nil {
			return err
		}
	}

	if version < len(migrations) {
		log.Printf("[STORE] Schema at version %d (applied %d migration(s))", len(migrations), len(migrations)-version)
	}
	return nil
}

func (s *Store) SchemaVersion() (int, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}

	version, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid schema version %q: %w", value, err)
	}
	return version, nil
}

func (s *Store) applyMigration(version int, migrationSQL string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(migrationSQL); err != nil {
		return fmt.Errorf("failed to execute migration %d: %w", version, err)
	}

	if _, err := tx.Exec(
		`INSERT INTO meta (key, value) VALUES ('schema_version', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		strconv.Itoa(version),
	); err != nil {
		return fmt.Errorf("failed to record migration %d: %w", version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", version, err)
	}

	log.Printf("[STORE] Applied migration %d", version)
	return nil
}
