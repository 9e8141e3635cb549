package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Open opens (or creates) a SQLite database using the configured URL.
// Supported formats:
//   - sqlite3:./data.db
//   - sqlite:./data.db
//   - file:./data.db
//   - sqlite3::memory:
func Open(databaseURL string) (*sql.DB, error) {
	dsn := normalizeDSN(databaseURL)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// SQLite works best with a single writer connection for WAL
	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetMaxIdleConns(1)

	if err := configurePragmas(db); err != nil {
		db.Close()
		return nil, err
	}

	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func normalizeDSN(databaseURL string) string {
	dsn := strings.TrimSpace(databaseURL)
	if dsn == "" {
		dsn = "./data.db"
	}

	if idx := strings.Index(dsn, ":"); idx != -1 {
		prefix := dsn[:idx]
		if prefix == "sqlite3" || prefix == "sqlite" {
			dsn = dsn[idx+1:]
		}
	}

	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "./data.db"
	}
	if dsn == ":memory:" {
		return "file::memory:?_pragma=busy_timeout(5000)"
	}

	if !strings.HasPrefix(dsn, "file:") {
		if !strings.Contains(dsn, ":/") && !strings.HasPrefix(dsn, "./") && !strings.HasPrefix(dsn, "/") {
			dsn = "./" + dsn
		}
		dsn = "file:" + filepath.Clean(dsn)
	}

	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)"
	}

	return dsn
}

func configurePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("configure sqlite pragma (%s): %w", pragma, err)
		}
	}
	return nil
}

func ensureSchema(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL DEFAULT '',
			platform TEXT NOT NULL,
			external_id TEXT NOT NULL,
			access_token TEXT NOT NULL,
			secret TEXT,
			refresh_token TEXT,
			token_expires_at TIMESTAMP NULL,
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			UNIQUE(platform, external_id)
		);`,
		`CREATE TABLE IF NOT EXISTS posts (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			thread TEXT,
			overrides TEXT,
			platforms TEXT NOT NULL,
			media TEXT,
			publish_at TIMESTAMP NULL,
			require_all INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_posts_status_publish_at ON posts(status, publish_at);`,
		`CREATE TABLE IF NOT EXISTS post_results (
			post_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			platform TEXT NOT NULL,
			account_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			external_id TEXT,
			payload TEXT NOT NULL,
			attempted_at TIMESTAMP NOT NULL,
			PRIMARY KEY(post_id, seq),
			FOREIGN KEY(post_id) REFERENCES posts(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS cleanup_jobs (
			id TEXT PRIMARY KEY,
			post_id TEXT NOT NULL,
			media TEXT NOT NULL,
			run_at TIMESTAMP NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			last_error TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_cleanup_jobs_status_run_at ON cleanup_jobs(status, run_at);`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}

	// Add new columns if they don't exist (for existing databases)
	// SQLite doesn't support IF NOT EXISTS for ALTER TABLE, so we need to check first
	migrationStatements := []struct {
		checkQuery string
		addQuery   string
	}{
		{
			checkQuery: `SELECT COUNT(*) FROM pragma_table_info('posts') WHERE name='account_ids'`,
			addQuery:   `ALTER TABLE posts ADD COLUMN account_ids TEXT`,
		},
	}

	for _, migration := range migrationStatements {
		var count int
		err := db.QueryRow(migration.checkQuery).Scan(&count)
		if err != nil {
			// If query fails, try to add column anyway (table might exist but pragma query failed)
			_, _ = db.Exec(migration.addQuery)
			continue
		}
		if count == 0 {
			// Column might already exist due to a concurrent migration; the error is ignored
			_, _ = db.Exec(migration.addQuery)
		}
	}

	return nil
}

func nullableTimePtr(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC()
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

// toJSON encodes v for a TEXT column; empty values are stored as NULL
func toJSON(v any) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if s := string(data); s == "null" || s == "[]" || s == "{}" {
		return nil, nil
	}
	return string(data), nil
}

func fromJSON(raw sql.NullString, v any) error {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw.String), v)
}
