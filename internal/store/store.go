// Package store provides the durable state of the monitoring core using
// SQLite: profiles, baseline samples and stats, the archive, and the
// state-transition and material-change logs.
package store

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database. SQLite works best with a single writer,
// so the pool is capped at one connection; callers serialize per-profile
// operations above this layer.
type Store struct {
	db *sql.DB
}

// Open opens (and creates if needed) the database at dataDir/extrusight.db.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return OpenPath(filepath.Join(dataDir, "extrusight.db"))
}

// OpenPath opens the database at an explicit path. Tests use ":memory:".
func OpenPath(path string) (*Store, error) {
	// Pragmas in the DSN so every pool connection is configured.
	dsn := path + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
			"foreign_keys(ON)",
		},
	}.Encode()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	log.Info().Str("path", path).Msg("State store initialized")
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS profiles (
			id TEXT PRIMARY KEY,
			machine_id TEXT,
			material_id TEXT NOT NULL,
			baseline_learning INTEGER NOT NULL DEFAULT 0,
			baseline_ready INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		-- One profile per (machine, material); the material-default profile
		-- uses a NULL machine_id, folded to '' for uniqueness.
		CREATE UNIQUE INDEX IF NOT EXISTS idx_profiles_scope
		ON profiles(IFNULL(machine_id, ''), material_id);

		CREATE TABLE IF NOT EXISTS baseline_samples (
			profile_id TEXT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
			metric_name TEXT NOT NULL,
			value REAL NOT NULL,
			timestamp INTEGER NOT NULL,
			PRIMARY KEY (profile_id, metric_name, timestamp)
		);

		CREATE TABLE IF NOT EXISTS baseline_stats (
			profile_id TEXT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
			metric_name TEXT NOT NULL,
			mean REAL NOT NULL,
			std REAL NOT NULL,
			p05 REAL NOT NULL,
			p95 REAL NOT NULL,
			sample_count INTEGER NOT NULL,
			PRIMARY KEY (profile_id, metric_name)
		);

		CREATE TABLE IF NOT EXISTS baseline_stats_archive (
			archive_key TEXT NOT NULL,
			archived_at INTEGER NOT NULL,
			profile_id TEXT NOT NULL,
			metric_name TEXT NOT NULL,
			mean REAL NOT NULL,
			std REAL NOT NULL,
			p05 REAL NOT NULL,
			p95 REAL NOT NULL,
			sample_count INTEGER NOT NULL,
			PRIMARY KEY (archive_key, metric_name)
		);

		CREATE TABLE IF NOT EXISTS state_transitions (
			machine_id TEXT NOT NULL,
			at INTEGER NOT NULL,
			from_state TEXT NOT NULL,
			to_state TEXT NOT NULL,
			confidence REAL NOT NULL,
			PRIMARY KEY (machine_id, at)
		);

		CREATE TABLE IF NOT EXISTS material_changes (
			machine_id TEXT NOT NULL,
			at INTEGER NOT NULL,
			previous_material TEXT NOT NULL,
			new_material TEXT NOT NULL,
			PRIMARY KEY (machine_id, at)
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
