// Package delivery tracks pre-authorised deliveries from authorisation to
// a single terminal resolution.
package delivery

import "time"

// Status of a delivery. Authorized is the only non-terminal state.
type Status string

const (
	StatusAuthorized Status = "authorized"
	StatusDelivered  Status = "delivered"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool { return s != StatusAuthorized }

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusAuthorized, StatusDelivered, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Delivery is a delivery a resident expects at the gate.
type Delivery struct {
	ID              string     `json:"id"`
	ResidentID      string     `json:"resident_id"`
	UnitNumber      string     `json:"unit_number"`
	DeliveryCompany string     `json:"delivery_company"`
	TrackingNumber  string     `json:"tracking_number,omitempty"`
	ExpectedDate    time.Time  `json:"expected_date"`
	Notes           string     `json:"notes,omitempty"`
	Status          Status     `json:"status"`
	AuthorizedAt    time.Time  `json:"authorized_at"`
	DeliveredAt     *time.Time `json:"delivered_at,omitempty"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy      string     `json:"resolved_by,omitempty"`
	Version         int64      `json:"version"`
}

// Clone returns a deep copy.
func (d Delivery) Clone() Delivery {
	if d.DeliveredAt != nil {
		t := *d.DeliveredAt
		d.DeliveredAt = &t
	}
	if d.ResolvedAt != nil {
		t := *d.ResolvedAt
		d.ResolvedAt = &t
	}
	return d
}

// IsOverdue reports whether d is still awaited after its expected date.
func IsOverdue(d Delivery, asOf time.Time) bool {
	return d.Status == StatusAuthorized && asOf.After(d.ExpectedDate)
}
