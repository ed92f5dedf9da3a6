package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"outagebot/internal/outage"
	logx "outagebot/pkg/logx"
)

const snapshotColumns = `id, provider, url, content, content_hash, metadata, fetched_at`

// Append inserts s unconditionally and returns it with its assigned ID.
func (s *Store) Append(ctx context.Context, snap outage.Snapshot) (outage.Snapshot, error) {
	if err := s.ready(); err != nil {
		return outage.Snapshot{}, err
	}
	if strings.TrimSpace(snap.Provider) == "" {
		return outage.Snapshot{}, errors.New("provider is required")
	}
	if snap.FetchedAt.IsZero() {
		return outage.Snapshot{}, errors.New("fetched_at is required")
	}
	// The stored hash always derives from the stored content.
	snap.ContentHash = outage.Digest(snap.Content)

	var meta any
	if len(snap.Metadata) > 0 {
		b, err := json.Marshal(snap.Metadata)
		if err != nil {
			return outage.Snapshot{}, fmt.Errorf("encode metadata: %w", err)
		}
		meta = string(b)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots(provider, url, content, content_hash, metadata, fetched_at, created_at)
		 VALUES(?,?,?,?,?,?,?)`,
		snap.Provider, snap.SourceURL, snap.Content, snap.ContentHash, meta,
		snap.FetchedAt.UnixNano(), s.now().UnixNano(),
	)
	if err != nil {
		return outage.Snapshot{}, fmt.Errorf("append snapshot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return outage.Snapshot{}, fmt.Errorf("append snapshot id: %w", err)
	}
	snap.ID = id
	return snap, nil
}

// MostRecentBefore returns the newest snapshot of provider fetched strictly
// before the given instant, or nil when there is none.
func (s *Store) MostRecentBefore(ctx context.Context, provider string, before time.Time) (*outage.Snapshot, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots
		 WHERE provider = ? AND fetched_at < ?
		 ORDER BY fetched_at DESC, id DESC LIMIT 1`,
		provider, before.UnixNano(),
	)
	return scanSnapshot(row)
}

// MostRecent returns the newest snapshot of provider, or nil when the log is empty.
func (s *Store) MostRecent(ctx context.Context, provider string) (*outage.Snapshot, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots
		 WHERE provider = ?
		 ORDER BY fetched_at DESC, id DESC LIMIT 1`,
		provider,
	)
	return scanSnapshot(row)
}

// CountSnapshots returns the number of rows stored for provider.
func (s *Store) CountSnapshots(ctx context.Context, provider string) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots WHERE provider = ?`, provider).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count snapshots: %w", err)
	}
	return n, nil
}

// PruneDuplicates trims the (provider, contentHash) group once it holds more
// than policy.Threshold rows, keeping the oldest and/or newest row.
func (s *Store) PruneDuplicates(ctx context.Context, provider, contentHash string, policy outage.PrunePolicy) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var count int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM snapshots WHERE provider = ? AND content_hash = ?`,
		provider, contentHash,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("count duplicates: %w", err)
	}
	if count <= int64(policy.Threshold) {
		return 0, nil
	}

	keepOldest, keepNewest := int64(-1), int64(-1)
	if policy.KeepOldest {
		if err := tx.QueryRowContext(ctx,
			`SELECT id FROM snapshots WHERE provider = ? AND content_hash = ?
			 ORDER BY fetched_at ASC, id ASC LIMIT 1`,
			provider, contentHash,
		).Scan(&keepOldest); err != nil {
			return 0, fmt.Errorf("find oldest duplicate: %w", err)
		}
	}
	if policy.KeepNewest {
		if err := tx.QueryRowContext(ctx,
			`SELECT id FROM snapshots WHERE provider = ? AND content_hash = ?
			 ORDER BY fetched_at DESC, id DESC LIMIT 1`,
			provider, contentHash,
		).Scan(&keepNewest); err != nil {
			return 0, fmt.Errorf("find newest duplicate: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM snapshots WHERE provider = ? AND content_hash = ? AND id <> ? AND id <> ?`,
		provider, contentHash, keepOldest, keepNewest,
	)
	if err != nil {
		return 0, fmt.Errorf("delete duplicates: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete duplicates: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit prune: %w", err)
	}
	if removed > 0 {
		s.log.Debug("pruned duplicate snapshots",
			logx.String("provider", provider),
			logx.String("hash", contentHash[:min(12, len(contentHash))]),
			logx.Int64("removed", removed),
		)
	}
	return removed, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (*outage.Snapshot, error) {
	var (
		id                                 int64
		provider, url, content, storedHash string
		meta                               sql.NullString
		fetchedAt                          int64
	)
	err := row.Scan(&id, &provider, &url, &content, &storedHash, &meta, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan snapshot: %w", err)
	}
	var m map[string]string
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &m); err != nil {
			return nil, fmt.Errorf("decode snapshot %d metadata: %w", id, err)
		}
	}
	snap, err := outage.RestoreSnapshot(id, provider, url, content, storedHash, fromNanos(fetchedAt), m)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}
