// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Opens the database, creates the schema, and applies column migrations

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	// Status reconciliation and follow-up redeploys write concurrently.
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS org_members (
			id                TEXT PRIMARY KEY,
			org_id            TEXT NOT NULL,
			user_id           TEXT NOT NULL,
			role              TEXT NOT NULL DEFAULT 'member',
			gateway_port      INTEGER,
			gateway_status    TEXT,
			gateway_token     TEXT,
			created_at        TEXT NOT NULL,

			UNIQUE (org_id, user_id),
			CHECK (role IN ('owner', 'admin', 'member')),
			CHECK (gateway_status IS NULL OR gateway_status IN ('provisioning', 'deploying', 'running', 'stopped'))
		);

		CREATE INDEX IF NOT EXISTS idx_org_members_org ON org_members(org_id);
		CREATE INDEX IF NOT EXISTS idx_org_members_status ON org_members(org_id, gateway_status);

		CREATE TABLE IF NOT EXISTS api_keys (
			id                 TEXT PRIMARY KEY,
			org_id             TEXT NOT NULL,
			provider           TEXT NOT NULL,
			credential_type    TEXT NOT NULL DEFAULT 'api_key',
			key_encrypted      TEXT NOT NULL,
			is_company_default INTEGER NOT NULL DEFAULT 1,
			created_at         TEXT NOT NULL,

			CHECK (credential_type IN ('api_key', 'oauth', 'setup_token'))
		);

		CREATE INDEX IF NOT EXISTS idx_api_keys_org ON api_keys(org_id, provider);

		CREATE TABLE IF NOT EXISTS model_overrides (
			org_id     TEXT NOT NULL,
			provider   TEXT NOT NULL,
			model      TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (org_id, provider)
		);

		CREATE TABLE IF NOT EXISTS skills (
			id         TEXT PRIMARY KEY,
			org_id     TEXT NOT NULL,
			name       TEXT NOT NULL,
			type       TEXT NOT NULL DEFAULT 'optional',
			enabled    INTEGER NOT NULL DEFAULT 1,
			git_url    TEXT,
			git_path   TEXT,
			created_at TEXT NOT NULL,

			CHECK (type IN ('mandatory', 'optional', 'restricted'))
		);

		CREATE INDEX IF NOT EXISTS idx_skills_org ON skills(org_id);

		CREATE TABLE IF NOT EXISTS user_skills (
			user_id  TEXT NOT NULL,
			skill_id TEXT NOT NULL,
			enabled  INTEGER NOT NULL DEFAULT 1,
			PRIMARY KEY (user_id, skill_id),
			FOREIGN KEY (skill_id) REFERENCES skills(id) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS member_channels (
			member_id  TEXT NOT NULL,
			channel    TEXT NOT NULL,
			bot_token  TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (member_id, channel),
			FOREIGN KEY (member_id) REFERENCES org_members(id) ON DELETE CASCADE
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "org_members",
			column: "gateway_subdomain",
			apply:  `ALTER TABLE org_members ADD COLUMN gateway_subdomain TEXT`,
		},
	}

	for _, m := range migrations {
		var exists int
		check := fmt.Sprintf(`SELECT 1 FROM pragma_table_info('%s') WHERE name = ?`, m.table)
		err := s.db.QueryRow(check, m.column).Scan(&exists)
		if err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	if _, err := s.db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_org_members_subdomain
		ON org_members(gateway_subdomain) WHERE gateway_subdomain IS NOT NULL`); err != nil {
		return fmt.Errorf("creating subdomain index: %w", err)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// nullString returns nil for empty strings so they are stored as NULL
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullInt returns nil for zero so it is stored as NULL
func nullInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// Ensure SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)
