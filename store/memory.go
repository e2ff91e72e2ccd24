package store

import (
	"context"
	"errors"
	"sync"
)

// MemoryStore keeps the most recent records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	limit   int
	records map[string]*RunRecord
	order   []string
	closed  bool
}

// NewMemoryStore keeps at most limit records; limit <= 0 keeps all.
func NewMemoryStore(limit int) *MemoryStore {
	return &MemoryStore{limit: limit, records: make(map[string]*RunRecord)}
}

func (s *MemoryStore) Save(_ context.Context, rec *RunRecord) error {
	if err := rec.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("memory store is closed")
	}
	if _, ok := s.records[rec.RunID]; !ok {
		s.order = append(s.order, rec.RunID)
	}
	cp := *rec
	s.records[rec.RunID] = &cp

	if s.limit > 0 {
		for len(s.order) > s.limit {
			delete(s.records, s.order[0])
			s.order = s.order[1:]
		}
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, runID string) (*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[runID]
	if !ok {
		return nil, notFound(runID)
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) List(_ context.Context, limit int) ([]*RunRecord, error) {
	s.mu.RLock()
	out := make([]*RunRecord, 0, len(s.records))
	for _, rec := range s.records {
		cp := *rec
		out = append(out, &cp)
	}
	s.mu.RUnlock()

	newestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
