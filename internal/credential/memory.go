package credential

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memEntry struct {
	mu   sync.Mutex
	cred Credential
}

func (e *memEntry) snapshot() Credential {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cred.Clone()
}

// MemoryStore keeps credentials in process. The map lock only guards the
// indexes; each record has its own lock so CompareAndSwap on one record
// never waits on another.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]*memEntry
	byCode map[string][]*memEntry

	// createMu serialises the uniqueness check with the insert.
	createMu sync.Mutex
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*memEntry),
		byCode: make(map[string][]*memEntry),
	}
}

func (s *MemoryStore) Create(_ context.Context, cred Credential, asOf time.Time) error {
	s.createMu.Lock()
	defer s.createMu.Unlock()

	s.mu.RLock()
	_, exists := s.byID[cred.ID]
	holders := s.byCode[cred.Code]
	s.mu.RUnlock()
	if exists {
		return ErrDuplicateID
	}
	for _, e := range holders {
		if e.snapshot().HoldsCode(asOf) {
			return ErrCodeInUse
		}
	}

	entry := &memEntry{cred: cred.Clone()}
	s.mu.Lock()
	s.byID[cred.ID] = entry
	s.byCode[cred.Code] = append(s.byCode[cred.Code], entry)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Credential, error) {
	s.mu.RLock()
	entry, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return Credential{}, ErrNotFound
	}
	return entry.snapshot(), nil
}

func (s *MemoryStore) FindByCode(_ context.Context, code string, asOf time.Time) (Credential, error) {
	s.mu.RLock()
	holders := append([]*memEntry(nil), s.byCode[code]...)
	s.mu.RUnlock()

	candidates := make([]Credential, 0, len(holders))
	for _, e := range holders {
		candidates = append(candidates, e.snapshot())
	}
	cred, ok := PreferForCode(candidates, asOf)
	if !ok {
		return Credential{}, ErrNotFound
	}
	return cred, nil
}

func (s *MemoryStore) CompareAndSwap(_ context.Context, next Credential, expectedVersion int64) (Credential, error) {
	s.mu.RLock()
	entry, ok := s.byID[next.ID]
	s.mu.RUnlock()
	if !ok {
		return Credential{}, ErrNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.cred.Version != expectedVersion {
		return Credential{}, ErrVersionConflict
	}
	next = next.Clone()
	next.Code = entry.cred.Code
	next.Version = expectedVersion + 1
	entry.cred = next
	return next.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context, filter Filter) ([]Credential, error) {
	s.mu.RLock()
	entries := make([]*memEntry, 0, len(s.byID))
	for _, e := range s.byID {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]Credential, 0, len(entries))
	for _, e := range entries {
		c := e.snapshot()
		if filter.OwnerID != "" && c.OwnerID != filter.OwnerID {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}
