// Package credential issues, consumes and revokes guest access credentials.
//
// A credential's persisted status only ever moves from active to used or
// revoked. Expiry is never written: it is derived from the validity window
// at read time by ComputeStatus.
package credential

import "time"

// CodeType selects how a credential's code is generated.
type CodeType string

const (
	CodePIN CodeType = "PIN"
	CodeQR  CodeType = "QR"
)

// Valid reports whether t is a known code type.
func (t CodeType) Valid() bool { return t == CodePIN || t == CodeQR }

// Status of a credential.
type Status string

const (
	StatusActive  Status = "active"
	StatusUsed    Status = "used"
	StatusExpired Status = "expired"
	StatusRevoked Status = "revoked"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool { return s != StatusActive }

// Outcome is the typed result of a consumption attempt.
type Outcome string

const (
	OutcomeAccepted          Outcome = "accepted"
	OutcomeRejectedExpired   Outcome = "rejected-expired"
	OutcomeRejectedExhausted Outcome = "rejected-exhausted"
	OutcomeRejectedRevoked   Outcome = "rejected-revoked"
	OutcomeRejectedNotFound  Outcome = "rejected-not-found"
	OutcomeRejectedNotYet    Outcome = "rejected-not-yet-valid"
)

// Accepted reports whether the attempt consumed a use.
func (o Outcome) Accepted() bool { return o == OutcomeAccepted }

const (
	MinUsage = 1
	MaxUsage = 50
)

// Credential is a guest access code with a validity window and a usage budget.
type Credential struct {
	ID         string     `json:"id"`
	OwnerID    string     `json:"owner_id"`
	GuestName  string     `json:"guest_name"`
	CodeType   CodeType   `json:"code_type"`
	Code       string     `json:"code"`
	ValidFrom  time.Time  `json:"valid_from"`
	ValidUntil time.Time  `json:"valid_until"`
	MaxUsage   int        `json:"max_usage"`
	UsageCount int        `json:"usage_count"`
	Status     Status     `json:"status"`
	Purpose    string     `json:"purpose,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	Version    int64      `json:"version"`
}

// Clone returns a deep copy so callers never share the optional timestamps.
func (c Credential) Clone() Credential {
	if c.RevokedAt != nil {
		t := *c.RevokedAt
		c.RevokedAt = &t
	}
	if c.LastUsedAt != nil {
		t := *c.LastUsedAt
		c.LastUsedAt = &t
	}
	return c
}

// Remaining returns how many uses are left.
func (c Credential) Remaining() int {
	if c.UsageCount >= c.MaxUsage {
		return 0
	}
	return c.MaxUsage - c.UsageCount
}

// HoldsCode reports whether c reserves its code at asOf: persisted active
// and not yet past its validity window.
func (c Credential) HoldsCode(asOf time.Time) bool {
	return c.Status == StatusActive && !asOf.After(c.ValidUntil)
}

// ComputeStatus derives the display status of c at asOf. It never mutates c.
func ComputeStatus(c Credential, asOf time.Time) Status {
	switch c.Status {
	case StatusRevoked, StatusUsed:
		return c.Status
	}
	if asOf.After(c.ValidUntil) {
		return StatusExpired
	}
	return StatusActive
}
