package delivery

import (
	"context"
	"sync"
)

type memEntry struct {
	mu sync.Mutex
	d  Delivery
}

func (e *memEntry) snapshot() Delivery {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.d.Clone()
}

// MemoryStore keeps deliveries in process with one lock per record.
type MemoryStore struct {
	mu   sync.RWMutex
	byID map[string]*memEntry
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*memEntry)}
}

func (s *MemoryStore) Create(_ context.Context, d Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[d.ID]; ok {
		return ErrDuplicateID
	}
	s.byID[d.ID] = &memEntry{d: d.Clone()}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Delivery, error) {
	s.mu.RLock()
	e, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return Delivery{}, ErrNotFound
	}
	return e.snapshot(), nil
}

func (s *MemoryStore) CompareAndSwap(_ context.Context, next Delivery, expectedVersion int64) (Delivery, error) {
	s.mu.RLock()
	e, ok := s.byID[next.ID]
	s.mu.RUnlock()
	if !ok {
		return Delivery{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.d.Version != expectedVersion {
		return Delivery{}, ErrVersionConflict
	}
	next = next.Clone()
	next.Version = expectedVersion + 1
	e.d = next
	return next.Clone(), nil
}

// List returns matching deliveries in listing order.
func (s *MemoryStore) List(_ context.Context, f Filter) ([]Delivery, error) {
	s.mu.RLock()
	entries := make([]*memEntry, 0, len(s.byID))
	for _, e := range s.byID {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]Delivery, 0, len(entries))
	for _, e := range entries {
		d := e.snapshot()
		if f.ResidentID != "" && d.ResidentID != f.ResidentID {
			continue
		}
		if f.UnitNumber != "" && d.UnitNumber != f.UnitNumber {
			continue
		}
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		out = append(out, d)
	}
	Sort(out)
	return out, nil
}
