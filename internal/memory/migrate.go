package memory

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// schemaVersion is the version a fully migrated database reports.
const schemaVersion = 2

type migration struct {
	version int
	name    string
	stmts   []string
}

// migrations run in order, each at most once per database.
var migrations = []migration{
	{
		version: 1,
		name:    "documents and chunks",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS documents (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				title       TEXT NOT NULL,
				content     TEXT NOT NULL DEFAULT '',
				date_added  TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS chunks (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				doc_id      INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
				text        TEXT NOT NULL,
				embedding   BLOB NOT NULL,
				chunk_index INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_chunks_doc ON chunks(doc_id, chunk_index)`,
		},
	},
	{
		version: 2,
		name:    "store_meta for embedding dimensionality",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS store_meta (
				key   TEXT PRIMARY KEY,
				value TEXT NOT NULL
			)`,
		},
	},
}

// RunMigrations brings db up to schemaVersion. Every migration runs in its
// own transaction together with its schema_version row.
func RunMigrations(db *sql.DB, logger *slog.Logger) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version     INTEGER PRIMARY KEY,
		description TEXT,
		applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := maxVersion(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		logger.Info("applying migration", "version", m.version, "name", m.name)
		if err := applyMigration(db, m, logger); err != nil {
			return err
		}
	}
	return nil
}

func applyMigration(db *sql.DB, m migration, logger *slog.Logger) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration v%d: %w", m.version, err)
	}
	defer tx.Rollback()

	for _, stmt := range m.stmts {
		if _, err := tx.Exec(stmt); err != nil {
			// Databases upgraded by hand may already have the object.
			if alreadyApplied(err) {
				logger.Debug("migration statement already applied", "version", m.version, "stmt", firstLine(stmt))
				continue
			}
			return fmt.Errorf("migration v%d (%s): %w", m.version, firstLine(stmt), err)
		}
	}
	if _, err := tx.Exec(
		"INSERT OR REPLACE INTO schema_version (version, description) VALUES (?, ?)",
		m.version, m.name,
	); err != nil {
		return fmt.Errorf("record migration v%d: %w", m.version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration v%d: %w", m.version, err)
	}
	return nil
}

func alreadyApplied(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "duplicate column")
}

func firstLine(stmt string) string {
	stmt = strings.TrimSpace(stmt)
	if i := strings.IndexByte(stmt, '\n'); i >= 0 {
		return strings.TrimSpace(stmt[:i])
	}
	return stmt
}

func maxVersion(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("query schema version: %w", err)
	}
	return v, nil
}

// GetSchemaVersion reports the applied schema version, or 0 for a database
// that was never migrated.
func GetSchemaVersion(db *sql.DB) (int, error) {
	var n int
	if err := db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&n); err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	return maxVersion(db)
}
