package guard

import (
	"context"
	"sync"
	"time"
)

type memoryStore struct {
	mu        sync.RWMutex
	disabled  bool
	bytes     int64
	checkedAt time.Time
}

// NewMemoryStore constructs an in-memory flag and snapshot store.
func NewMemoryStore() *memoryStore {
	return &memoryStore{}
}

func (s *memoryStore) IsDisabled(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.disabled, nil
}

func (s *memoryStore) SetDisabled(ctx context.Context, disabled bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disabled = disabled
	return nil
}

func (s *memoryStore) Get(ctx context.Context) (int64, time.Time, error) {
	if err := ctx.Err(); err != nil {
		return 0, time.Time{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bytes, s.checkedAt, nil
}

func (s *memoryStore) Put(ctx context.Context, totalBytes int64, checkedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bytes = totalBytes
	s.checkedAt = checkedAt
	return nil
}

var (
	_ FlagStore     = (*memoryStore)(nil)
	_ SnapshotStore = (*memoryStore)(nil)
)
