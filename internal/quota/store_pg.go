package quota

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

type pgStore struct {
	DB *sql.DB
}

// NewPGStore constructs a Postgres-backed quota store.
func NewPGStore(db *sql.DB) *pgStore {
	return &pgStore{DB: db}
}

func (s *pgStore) Reserve(ctx context.Context, userID, contentType, dateKey string, limit int) (Record, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	rec, err := s.lockAndEnsure(ctx, tx, userID, dateKey)
	if err != nil {
		return Record{}, err
	}

	if rec.Counts[contentType] >= limit {
		err = ErrLimitReached
		return rec, err
	}
	rec.Counts[contentType]++

	if err = s.save(ctx, tx, rec); err != nil {
		return Record{}, err
	}
	if err = tx.Commit(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *pgStore) Release(ctx context.Context, userID, contentType, dateKey string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	rec, err := s.lockAndEnsure(ctx, tx, userID, dateKey)
	if err != nil {
		return err
	}
	if rec.Counts[contentType] > 0 {
		rec.Counts[contentType]--
	}
	if err = s.save(ctx, tx, rec); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *pgStore) Get(ctx context.Context, userID, dateKey string) (Record, error) {
	var rec Record
	var storedDate string
	var raw []byte
	row := s.DB.QueryRowContext(ctx, `
SELECT date_key, counts FROM daily_quota WHERE user_id = $1`, userID)
	err := row.Scan(&storedDate, &raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{UserID: userID, DateKey: dateKey, Counts: map[string]int{}}, nil
		}
		return Record{}, err
	}
	rec.UserID = userID
	rec.DateKey = storedDate
	if storedDate != dateKey {
		// A stale row counts as an empty window; the next Reserve resets it.
		return Record{UserID: userID, DateKey: dateKey, Counts: map[string]int{}}, nil
	}
	if err := json.Unmarshal(raw, &rec.Counts); err != nil {
		return Record{}, fmt.Errorf("decode quota counts: %w", err)
	}
	if rec.Counts == nil {
		rec.Counts = map[string]int{}
	}
	return rec, nil
}

func (s *pgStore) lockAndEnsure(ctx context.Context, tx *sql.Tx, userID, dateKey string) (Record, error) {
	var storedDate string
	var raw []byte
	row := tx.QueryRowContext(ctx, `
SELECT date_key, counts FROM daily_quota WHERE user_id = $1 FOR UPDATE`, userID)
	err := row.Scan(&storedDate, &raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			rec := Record{UserID: userID, DateKey: dateKey, Counts: map[string]int{}}
			if _, err = tx.ExecContext(ctx, `
INSERT INTO daily_quota (user_id, date_key, counts) VALUES ($1, $2, '{}'::jsonb)`, userID, dateKey); err != nil {
				return Record{}, err
			}
			return rec, nil
		}
		return Record{}, err
	}

	rec := Record{UserID: userID, DateKey: storedDate, Counts: map[string]int{}}
	if storedDate != dateKey {
		// New UTC day: the window rolls over and counts start fresh.
		rec.DateKey = dateKey
		return rec, nil
	}
	if err := json.Unmarshal(raw, &rec.Counts); err != nil {
		return Record{}, fmt.Errorf("decode quota counts: %w", err)
	}
	if rec.Counts == nil {
		rec.Counts = map[string]int{}
	}
	return rec, nil
}

func (s *pgStore) save(ctx context.Context, tx *sql.Tx, rec Record) error {
	raw, err := json.Marshal(rec.Counts)
	if err != nil {
		return fmt.Errorf("encode quota counts: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
UPDATE daily_quota SET date_key = $1, counts = $2 WHERE user_id = $3`, rec.DateKey, raw, rec.UserID)
	return err
}
