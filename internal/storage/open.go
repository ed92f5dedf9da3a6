package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"outagebot/internal/outage"
	logx "outagebot/pkg/logx"

	_ "modernc.org/sqlite"
)

var (
	_ outage.SnapshotStore      = (*Store)(nil)
	_ outage.SubscriberRegistry = (*Store)(nil)
)

// Store is the SQLite-backed snapshot log and subscriber registry.
type Store struct {
	db  *sql.DB
	log logx.Logger
	now func() time.Time
}

// Open opens (creating if needed) the database at cfg.Path and applies the schema.
func Open(cfg Config, log logx.Logger) (*Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver != "" && driver != "sqlite" && driver != "sqlite3" {
		return nil, errors.New("unknown storage driver: " + driver)
	}
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx := context.Background()
	if cfg.BusyTimeout > 0 {
		_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db, log), nil
}

// New wraps an already migrated database handle.
func New(db *sql.DB, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{db: db, log: log, now: time.Now}
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ready() error {
	if s == nil || s.db == nil {
		return ErrNotInitialized
	}
	return nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
