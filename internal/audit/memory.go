package audit

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[string]*Record
	children map[string][]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[string]*Record),
		children: make(map[string][]string),
	}
}

func (s *MemoryStore) Create(ctx context.Context, rec Record) (string, error) {
	if err := prepare(&rec); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.ID]; exists {
		return "", fmt.Errorf("audit record %s already exists", rec.ID)
	}
	s.records[rec.ID] = &rec
	if rec.ParentID != "" {
		s.children[rec.ParentID] = append(s.children[rec.ParentID], rec.ID)
	}
	return rec.ID, nil
}

func (s *MemoryStore) Seal(ctx context.Context, id string, seal Seal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return apply(rec, seal)
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) Children(ctx context.Context, parentID string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.children[parentID]
	out := make([]*Record, 0, len(ids))
	for _, id := range ids {
		cp := *s.records[id]
		out = append(out, &cp)
	}
	return out, nil
}

// Runs returns every run record in creation order.
func (s *MemoryStore) Runs() []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Record
	for _, rec := range s.records {
		if rec.Kind == KindRun {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sortByStart(out)
	return out
}

func (s *MemoryStore) Close() error { return nil }
