package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"gatehouse.org/internal/apperr"
	"gatehouse.org/internal/auth"
)

// Result of an access attempt.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
)

// Entry is one row of the append-only access log: a single attempt to use
// a guest credential at the gate.
type Entry struct {
	ID           string    `json:"id"`
	OccurredAt   time.Time `json:"occurred_at"`
	ActorID      string    `json:"actor_id"`
	CredentialID string    `json:"credential_id,omitempty"`
	OwnerID      string    `json:"owner_id,omitempty"`
	GuestName    string    `json:"guest_name,omitempty"`
	Method       string    `json:"method"`
	Result       Result    `json:"result"`
	Outcome      string    `json:"outcome"`
	Details      string    `json:"details,omitempty"`
}

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// Filter narrows access log reads. Zero values mean no restriction.
type Filter struct {
	ActorID      string
	CredentialID string
	Result       Result
	Since        time.Time
	Until        time.Time
	Limit        int
}

// EffectiveLimit clamps Limit into (0, MaxListLimit].
func (f Filter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		return MaxListLimit
	}
	return f.Limit
}

// Matches reports whether e passes every filter criterion except Limit.
func (f Filter) Matches(e Entry) bool {
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if f.CredentialID != "" && e.CredentialID != f.CredentialID {
		return false
	}
	if f.Result != "" && e.Result != f.Result {
		return false
	}
	if !f.Since.IsZero() && e.OccurredAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.OccurredAt.After(f.Until) {
		return false
	}
	return true
}

// Recorder appends access log entries.
type Recorder interface {
	Append(ctx context.Context, e Entry) error
}

// Log is an append-only access log.
type Log interface {
	Recorder
	// List returns matching entries, newest first.
	List(ctx context.Context, f Filter) ([]Entry, error)
}

// MemoryLog keeps the access log in process.
type MemoryLog struct {
	mu      sync.RWMutex
	entries []Entry
}

var _ Log = (*MemoryLog)(nil)

func NewMemoryLog() *MemoryLog { return &MemoryLog{} }

func (l *MemoryLog) Append(_ context.Context, e Entry) error {
	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.mu.Unlock()
	return nil
}

func (l *MemoryLog) List(_ context.Context, f Filter) ([]Entry, error) {
	l.mu.RLock()
	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	l.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].OccurredAt.After(out[j].OccurredAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit := f.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Reader exposes the access log to principals allowed to read it.
type Reader struct {
	log Log
}

func NewReader(log Log) *Reader { return &Reader{log: log} }

// List returns entries for actor, or Forbidden when the role may not read the log.
func (r *Reader) List(ctx context.Context, actor auth.Principal, f Filter) ([]Entry, error) {
	if !auth.Authorize(actor, auth.ResourceAccessLog, auth.ActionRead, auth.Attrs{}) {
		return nil, apperr.Forbidden("role %q may not read the access log", actor.Role)
	}
	if f.Result != "" && f.Result != ResultSuccess && f.Result != ResultFailure {
		return nil, apperr.Validation("result", "must be %q or %q", ResultSuccess, ResultFailure)
	}
	entries, err := r.log.List(ctx, f)
	if err != nil {
		return nil, apperr.Internal(err, "list access log")
	}
	return entries, nil
}
