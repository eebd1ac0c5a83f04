package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	payload   Payload
	expiresAt time.Time
}

type memoryStore struct {
	mu   sync.Mutex
	data map[string]memoryEntry
	now  func() time.Time
}

// NewMemoryStore constructs an in-memory response cache.
func NewMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string]memoryEntry), now: time.Now}
}

func (s *memoryStore) Get(ctx context.Context, key string) (Payload, bool, error) {
	if err := ctx.Err(); err != nil {
		return Payload{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.data[key]
	if !ok {
		return Payload{}, false, nil
	}
	if !entry.expiresAt.After(s.now()) {
		delete(s.data, key)
		return Payload{}, false, nil
	}
	return entry.payload, true, nil
}

func (s *memoryStore) Put(ctx context.Context, key string, payload Payload, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = memoryEntry{payload: payload, expiresAt: s.now().Add(ttl)}
	return nil
}

var _ Store = (*memoryStore)(nil)
