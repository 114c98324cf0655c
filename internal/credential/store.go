package credential

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no credential matches.
	ErrNotFound = errors.New("credential not found")
	// ErrVersionConflict is returned when a CompareAndSwap lost a race.
	ErrVersionConflict = errors.New("credential version conflict")
	// ErrCodeInUse is returned when a credential active at the create instant already holds the code.
	ErrCodeInUse = errors.New("credential code in use")
	// ErrDuplicateID is returned when the id already exists.
	ErrDuplicateID = errors.New("credential id already exists")
)

// Filter narrows List results. Zero values mean no restriction.
type Filter struct {
	OwnerID string
}

// Store is the single owner of credential records. Implementations must
// make Create and CompareAndSwap atomic per record.
type Store interface {
	// Create persists cred unless another credential holds the same code at asOf.
	Create(ctx context.Context, cred Credential, asOf time.Time) error
	Get(ctx context.Context, id string) (Credential, error)
	// FindByCode prefers the credential holding code at asOf, else the most recently created one.
	FindByCode(ctx context.Context, code string, asOf time.Time) (Credential, error)
	// CompareAndSwap replaces the record with next when its version still equals
	// expectedVersion, and returns the stored record with the incremented version.
	CompareAndSwap(ctx context.Context, next Credential, expectedVersion int64) (Credential, error)
	// List returns matching credentials, newest first.
	List(ctx context.Context, filter Filter) ([]Credential, error)
}

// PreferForCode picks the credential FindByCode should return among
// candidates sharing one code: the newest holder at asOf, else the newest
// record. Ties on CreatedAt break on the larger ID.
func PreferForCode(candidates []Credential, asOf time.Time) (Credential, bool) {
	var best Credential
	bestHolds, found := false, false
	for _, c := range candidates {
		holds := c.HoldsCode(asOf)
		switch {
		case !found, holds && !bestHolds:
		case holds != bestHolds:
			continue
		case !newer(c, best):
			continue
		}
		best, bestHolds, found = c, holds, true
	}
	return best, found
}

func newer(a, b Credential) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}
