package quota

import (
	"context"
	"time"
)

type store interface {
	Reserve(ctx context.Context, userID, contentType, dateKey string, limit int) (Record, error)
	Release(ctx context.Context, userID, contentType, dateKey string) error
	Get(ctx context.Context, userID, dateKey string) (Record, error)
}

// Service enforces per-user daily allowances by content type.
type Service struct {
	store  store
	limits Limits
	now    func() time.Time
}

// NewService constructs a Service with an in-memory store.
func NewService(limits Limits) *Service {
	return newService(newMemoryStore(), limits)
}

// NewPostgresService constructs a Service backed by Postgres.
func NewPostgresService(pgStore store, limits Limits) *Service {
	return newService(pgStore, limits)
}

func newService(s store, limits Limits) *Service {
	if limits == nil {
		limits = DefaultLimits()
	}
	return &Service{store: s, limits: limits, now: time.Now}
}

// Reserve consumes one unit of today's allowance for the content type.
// It returns ErrLimitReached when the allowance is exhausted. Content
// types without a configured limit are allowed without recording.
func (s *Service) Reserve(ctx context.Context, userID, contentType string) (Record, error) {
	limit, ok := s.limits[contentType]
	if !ok {
		return Record{UserID: userID, DateKey: DateKey(s.now())}, nil
	}
	return s.store.Reserve(ctx, userID, contentType, DateKey(s.now()), limit)
}

// Release returns one previously reserved unit. Used only when refunds
// are enabled; the count never goes below zero.
func (s *Service) Release(ctx context.Context, userID, contentType string) error {
	if _, ok := s.limits[contentType]; !ok {
		return nil
	}
	return s.store.Release(ctx, userID, contentType, DateKey(s.now()))
}

// Get returns the user's counts for today.
func (s *Service) Get(ctx context.Context, userID string) (Record, error) {
	return s.store.Get(ctx, userID, DateKey(s.now()))
}

// Limit reports the configured allowance for a content type.
func (s *Service) Limit(contentType string) (int, bool) {
	limit, ok := s.limits[contentType]
	return limit, ok
}
