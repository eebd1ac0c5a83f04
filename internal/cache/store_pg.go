package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"coach-backend/internal/shared/telemetry"
)

type pgStore struct {
	DB  *sql.DB
	now func() time.Time
}

// NewPGStore constructs a Postgres-backed response cache.
func NewPGStore(db *sql.DB) *pgStore {
	return &pgStore{DB: db, now: time.Now}
}

func (s *pgStore) Get(ctx context.Context, key string) (Payload, bool, error) {
	var raw []byte
	var expiresAt time.Time
	row := s.DB.QueryRowContext(ctx, `
SELECT payload, expires_at FROM response_cache WHERE cache_key = $1`, key)
	if err := row.Scan(&raw, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Payload{}, false, nil
		}
		return Payload{}, false, err
	}

	if !expiresAt.After(s.now()) {
		// Lazy expiry: delete best-effort and report a miss.
		if _, err := s.DB.ExecContext(ctx, `
DELETE FROM response_cache WHERE cache_key = $1`, key); err != nil {
			telemetry.Warn("cache.expired_delete_failed", map[string]any{"error": err.Error()})
		}
		return Payload{}, false, nil
	}

	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Payload{}, false, fmt.Errorf("decode cache payload: %w", err)
	}
	return payload, true, nil
}

func (s *pgStore) Put(ctx context.Context, key string, payload Payload, ttl time.Duration) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode cache payload: %w", err)
	}
	expiresAt := s.now().Add(ttl)
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO response_cache (cache_key, payload, expires_at) VALUES ($1, $2, $3)
ON CONFLICT (cache_key) DO UPDATE SET payload = EXCLUDED.payload, expires_at = EXCLUDED.expires_at`,
		key, raw, expiresAt)
	return err
}

var _ Store = (*pgStore)(nil)
