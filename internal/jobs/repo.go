package jobs

import "context"

// Repo is the durable job ledger.
type Repo interface {
	Create(ctx context.Context, job Job) error
	GetByID(ctx context.Context, id string) (Job, error)
	Update(ctx context.Context, id string, patch Patch) error
	ListByUser(ctx context.Context, userID string, limit int) ([]Job, error)
}
