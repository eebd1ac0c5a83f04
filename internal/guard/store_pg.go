package guard

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Single-row tables keyed by id = 1 hold the flag and the snapshot.

type pgStore struct {
	DB *sql.DB
}

// NewPGStore constructs a Postgres-backed flag and snapshot store.
func NewPGStore(db *sql.DB) *pgStore {
	return &pgStore{DB: db}
}

func (s *pgStore) IsDisabled(ctx context.Context) (bool, error) {
	var disabled bool
	row := s.DB.QueryRowContext(ctx, `
SELECT is_disabled FROM guard_flags WHERE id = 1`)
	if err := row.Scan(&disabled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return disabled, nil
}

// SetDisabled flips the operator kill switch.
func (s *pgStore) SetDisabled(ctx context.Context, disabled bool) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO guard_flags (id, is_disabled) VALUES (1, $1)
ON CONFLICT (id) DO UPDATE SET is_disabled = EXCLUDED.is_disabled`, disabled)
	return err
}

func (s *pgStore) Get(ctx context.Context) (int64, time.Time, error) {
	var bytes int64
	var checkedAt time.Time
	row := s.DB.QueryRowContext(ctx, `
SELECT total_bytes, checked_at FROM storage_snapshots WHERE id = 1`)
	if err := row.Scan(&bytes, &checkedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, time.Time{}, nil
		}
		return 0, time.Time{}, err
	}
	return bytes, checkedAt, nil
}

func (s *pgStore) Put(ctx context.Context, totalBytes int64, checkedAt time.Time) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO storage_snapshots (id, total_bytes, checked_at) VALUES (1, $1, $2)
ON CONFLICT (id) DO UPDATE SET total_bytes = EXCLUDED.total_bytes, checked_at = EXCLUDED.checked_at`,
		totalBytes, checkedAt)
	return err
}

var (
	_ FlagStore     = (*pgStore)(nil)
	_ SnapshotStore = (*pgStore)(nil)
)
