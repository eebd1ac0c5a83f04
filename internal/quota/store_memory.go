package quota

import (
	"context"
	"sync"
)

type memoryStore struct {
	mu   sync.Mutex
	data map[string]Record
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string]Record)}
}

func (s *memoryStore) Reserve(ctx context.Context, userID, contentType, dateKey string, limit int) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.ensureLocked(userID, dateKey)
	if rec.Counts[contentType] >= limit {
		return rec, ErrLimitReached
	}
	rec.Counts[contentType]++
	s.data[userID] = rec
	return rec, nil
}

func (s *memoryStore) Release(ctx context.Context, userID, contentType, dateKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.ensureLocked(userID, dateKey)
	if rec.Counts[contentType] > 0 {
		rec.Counts[contentType]--
	}
	s.data[userID] = rec
	return nil
}

func (s *memoryStore) Get(ctx context.Context, userID, dateKey string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureLocked(userID, dateKey), nil
}

func (s *memoryStore) ensureLocked(userID, dateKey string) Record {
	rec, ok := s.data[userID]
	if !ok || rec.DateKey != dateKey {
		rec = Record{UserID: userID, DateKey: dateKey, Counts: map[string]int{}}
		s.data[userID] = rec
	}
	return rec
}
