package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// SQLiteStore persists fund states, notification history and monitoring configuration.
type SQLiteStore struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

// NewSQLiteStore opens (or creates) the SQLite database and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	// WAL lets the admin API read while the monitor writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Info().Str("path", dbPath).Msg("sqlite store opened")
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS fund_states (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			fund_code    TEXT NOT NULL,
			premium_rate REAL,
			limit_text   TEXT,
			market_price REAL,
			valuation    REAL,
			timestamp    INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fund_states_code_ts ON fund_states(fund_code, timestamp)`,

		`CREATE TABLE IF NOT EXISTS notification_history (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			fund_code       TEXT NOT NULL,
			fund_name       TEXT,
			alert_type      TEXT NOT NULL,
			old_value       TEXT,
			new_value       TEXT,
			recipient_email TEXT,
			sent_at         INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_code_type_ts ON notification_history(fund_code, alert_type, sent_at)`,
		`CREATE INDEX IF NOT EXISTS idx_history_ts ON notification_history(sent_at)`,

		`CREATE TABLE IF NOT EXISTS notification_config (
			config_key   TEXT PRIMARY KEY,
			config_value TEXT NOT NULL,
			updated_at   INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS fund_triggers (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			fund_code       TEXT NOT NULL,
			trigger_type    TEXT NOT NULL,
			threshold_value REAL,
			enabled         INTEGER NOT NULL DEFAULT 1,
			created_at      INTEGER NOT NULL,
			updated_at      INTEGER NOT NULL,
			UNIQUE(fund_code, trigger_type)
		)`,

		`CREATE TABLE IF NOT EXISTS monitored_funds (
			fund_code  TEXT PRIMARY KEY,
			enabled    INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS email_recipients (
			email      TEXT PRIMARY KEY,
			is_active  INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	log.Info().Msg("closing sqlite store")
	return s.db.Close()
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms) }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
