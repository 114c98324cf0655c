package delivery

import (
	"context"
	"errors"
)

var (
	ErrNotFound        = errors.New("delivery not found")
	ErrVersionConflict = errors.New("delivery version conflict")
	ErrDuplicateID     = errors.New("delivery id already exists")
)

// Filter narrows List results. Zero values mean no restriction.
type Filter struct {
	ResidentID string
	UnitNumber string
	Status     Status
}

// Store is the single owner of delivery records.
type Store interface {
	Create(ctx context.Context, d Delivery) error
	Get(ctx context.Context, id string) (Delivery, error)
	// CompareAndSwap replaces the record when its version still equals
	// expectedVersion and returns it with the incremented version.
	CompareAndSwap(ctx context.Context, next Delivery, expectedVersion int64) (Delivery, error)
	List(ctx context.Context, filter Filter) ([]Delivery, error)
}
