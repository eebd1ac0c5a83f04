package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const jobColumns = `id, user_id, platform_user_id, content_type, fingerprint, media_url, storage_key,
       input_text, status, conversation_id, last_message, provider_meta, error_message,
       delivery_failed, delivery_error, cache_hit, created_at, started_at, completed_at, updated_at`

// Create inserts a new job row.
func (r *PGRepo) Create(ctx context.Context, job Job) error {
	meta, err := marshalMeta(job.ProviderMeta)
	if err != nil {
		return err
	}
	const query = `
INSERT INTO jobs (
	id, user_id, platform_user_id, content_type, fingerprint, media_url, storage_key,
	input_text, status, conversation_id, last_message, provider_meta, error_message,
	delivery_failed, delivery_error, cache_hit, created_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`
	_, err = r.DB.ExecContext(ctx, query,
		job.ID,
		job.UserID,
		job.PlatformUserID,
		job.ContentType,
		job.Fingerprint,
		job.MediaURL,
		job.StorageKey,
		job.InputText,
		job.Status,
		job.ConversationID,
		job.LastMessage,
		meta,
		job.ErrorMessage,
		job.DeliveryFailed,
		job.DeliveryError,
		job.CacheHit,
		job.CreatedAt,
	)
	return err
}

// GetByID returns a job by ID.
func (r *PGRepo) GetByID(ctx context.Context, id string) (Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE id = $1 LIMIT 1`, jobColumns)
	row := r.DB.QueryRowContext(ctx, query, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Job{}, ErrNotFound
		}
		return Job{}, err
	}
	return job, nil
}

// Update applies a merge patch to a job row. Only fields present in the
// patch are written; updated_at always advances.
func (r *PGRepo) Update(ctx context.Context, id string, patch Patch) error {
	sets := []string{}
	args := []any{}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.ConversationID != nil {
		add("conversation_id", *patch.ConversationID)
	}
	if patch.LastMessage != nil {
		add("last_message", *patch.LastMessage)
	}
	if patch.ProviderMeta != nil {
		meta, err := marshalMeta(patch.ProviderMeta)
		if err != nil {
			return err
		}
		add("provider_meta", meta)
	}
	if patch.ErrorMessage != nil {
		add("error_message", *patch.ErrorMessage)
	}
	if patch.DeliveryFailed != nil {
		add("delivery_failed", *patch.DeliveryFailed)
	}
	if patch.DeliveryError != nil {
		add("delivery_error", *patch.DeliveryError)
	}
	if patch.CacheHit != nil {
		add("cache_hit", *patch.CacheHit)
	}
	if patch.StartedAt != nil {
		add("started_at", *patch.StartedAt)
	}
	if patch.CompletedAt != nil {
		add("completed_at", *patch.CompletedAt)
	}
	sets = append(sets, "updated_at = now()")

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE jobs SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))

	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByUser returns the user's most recent jobs.
func (r *PGRepo) ListByUser(ctx context.Context, userID string, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf(`
SELECT %s FROM jobs WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, jobColumns)
	rows, err := r.DB.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (Job, error) {
	var job Job
	var meta sql.NullString
	var startedAt, completedAt sql.NullTime
	err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.PlatformUserID,
		&job.ContentType,
		&job.Fingerprint,
		&job.MediaURL,
		&job.StorageKey,
		&job.InputText,
		&job.Status,
		&job.ConversationID,
		&job.LastMessage,
		&meta,
		&job.ErrorMessage,
		&job.DeliveryFailed,
		&job.DeliveryError,
		&job.CacheHit,
		&job.CreatedAt,
		&startedAt,
		&completedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return Job{}, err
	}
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &job.ProviderMeta); err != nil {
			return Job{}, fmt.Errorf("decode provider meta: %w", err)
		}
	}
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return job, nil
}

func marshalMeta(meta map[string]any) (any, error) {
	if meta == nil {
		return nil, nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode provider meta: %w", err)
	}
	return raw, nil
}

var _ Repo = (*PGRepo)(nil)
