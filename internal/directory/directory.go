// Package directory resolves residents for display enrichment. It is never
// consulted for authorization decisions.
package directory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"gatehouse.org/internal/apperr"
	"gatehouse.org/internal/auth"
)

// ErrNotFound is returned when no resident has the requested id.
var ErrNotFound = errors.New("resident not found")

// Resident is the directory view of a resident.
type Resident struct {
	ID         string `json:"id" yaml:"id"`
	Name       string `json:"name" yaml:"name"`
	UnitNumber string `json:"unit_number" yaml:"unit"`
}

// Directory looks residents up by id.
type Directory interface {
	LookupResident(ctx context.Context, id string) (Resident, error)
}

// Lister enumerates every resident.
type Lister interface {
	Residents(ctx context.Context) ([]Resident, error)
}

// Static is an in-memory directory, typically seeded from YAML.
type Static struct {
	mu   sync.RWMutex
	byID map[string]Resident
}

var (
	_ Directory = (*Static)(nil)
	_ Lister    = (*Static)(nil)
)

func NewStatic(residents ...Resident) *Static {
	s := &Static{byID: make(map[string]Resident, len(residents))}
	for _, r := range residents {
		s.Put(r)
	}
	return s
}

// Put adds or replaces a resident.
func (s *Static) Put(r Resident) {
	r.ID = strings.TrimSpace(r.ID)
	if r.ID == "" {
		return
	}
	s.mu.Lock()
	s.byID[r.ID] = r
	s.mu.Unlock()
}

func (s *Static) LookupResident(_ context.Context, id string) (Resident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byID[strings.TrimSpace(id)]
	if !ok {
		return Resident{}, ErrNotFound
	}
	return r, nil
}

// Residents returns every resident ordered by unit, then name.
func (s *Static) Residents(_ context.Context) ([]Resident, error) {
	s.mu.RLock()
	out := make([]Resident, 0, len(s.byID))
	for _, r := range s.byID {
		out = append(out, r)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].UnitNumber != out[j].UnitNumber {
			return out[i].UnitNumber < out[j].UnitNumber
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

type seedFile struct {
	Residents []Resident `yaml:"residents"`
}

// LoadYAML reads a directory seed of the form:
//
//	residents:
//	  - id: res-1
//	    name: Aigerim
//	    unit: 4B
func LoadYAML(r io.Reader) (*Static, error) {
	var seed seedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode directory seed: %w", err)
	}
	for i, res := range seed.Residents {
		if strings.TrimSpace(res.ID) == "" {
			return nil, fmt.Errorf("directory seed: resident %d has no id", i)
		}
	}
	return NewStatic(seed.Residents...), nil
}

// LoadFile reads a YAML seed from path.
func LoadFile(path string) (*Static, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadYAML(f)
}

// List returns the residents actor may see.
func List(ctx context.Context, actor auth.Principal, src Lister) ([]Resident, error) {
	if !auth.Authorize(actor, auth.ResourceResident, auth.ActionRead, auth.Attrs{}) {
		return nil, apperr.Forbidden("role %q may not read the resident directory", actor.Role)
	}
	residents, err := src.Residents(ctx)
	if err != nil {
		return nil, apperr.Internal(err, "list residents")
	}
	return residents, nil
}
