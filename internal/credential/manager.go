package credential

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"gatehouse.org/internal/apperr"
	"gatehouse.org/internal/audit"
	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/clock"
	"gatehouse.org/internal/ids"
	"gatehouse.org/internal/notify"
	"gatehouse.org/internal/obs"
)

const (
	maxCASAttempts = 3
	maxPINAttempts = 10
)

// IssueRequest describes a credential to issue. Zero ValidFrom means now,
// zero MaxUsage means a single use, empty OwnerID means the actor.
type IssueRequest struct {
	OwnerID    string
	GuestName  string
	CodeType   CodeType
	ValidFrom  time.Time
	ValidUntil time.Time
	MaxUsage   int
	Purpose    string
}

// ConsumeRequest presents a code at the gate. Zero AsOf means now.
type ConsumeRequest struct {
	Code string
	AsOf time.Time
}

// ListFilter narrows Manager.List. Status matches the derived status.
type ListFilter struct {
	OwnerID string
	Status  Status
	Limit   int
}

// Manager applies the credential lifecycle rules on top of a Store.
type Manager struct {
	store  Store
	clock  clock.Clock
	events notify.Emitter
	access audit.Recorder
	logger *slog.Logger
	random io.Reader
	tracer trace.Tracer
}

// Option configures a Manager.
type Option func(*Manager)

func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithEmitter sets where lifecycle events are published.
func WithEmitter(e notify.Emitter) Option {
	return func(m *Manager) {
		if e != nil {
			m.events = e
		}
	}
}

// WithAccessLog records every consumption attempt to r.
func WithAccessLog(r audit.Recorder) Option {
	return func(m *Manager) { m.access = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithRandom overrides the entropy source used for codes.
func WithRandom(r io.Reader) Option {
	return func(m *Manager) {
		if r != nil {
			m.random = r
		}
	}
}

// NewManager wires a Manager around store.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		clock:  clock.Real(),
		events: notify.Discard{},
		logger: obs.Logger(),
		random: rand.Reader,
		tracer: obs.Tracer("credential"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Issue creates a credential with a freshly generated code.
func (m *Manager) Issue(ctx context.Context, actor auth.Principal, req IssueRequest) (cred Credential, err error) {
	ctx, span := m.tracer.Start(ctx, "credential.Issue")
	defer func() { obs.EndSpan(span, err, attribute.String("credential.id", cred.ID)) }()

	now := m.clock.Now()
	req.OwnerID = strings.TrimSpace(req.OwnerID)
	if req.OwnerID == "" {
		req.OwnerID = actor.ID
	}
	if !auth.Authorize(actor, auth.ResourceGuestCredential, auth.ActionCreate, auth.Attrs{OwnerID: req.OwnerID}) {
		return Credential{}, apperr.Forbidden("not allowed to issue credentials for owner %q", req.OwnerID)
	}
	if req, err = normalizeIssue(req, now); err != nil {
		return Credential{}, err
	}

	attempts := 1
	if req.CodeType == CodePIN {
		attempts = maxPINAttempts
	}
	for i := 0; i < attempts; i++ {
		code, genErr := generateCode(req.CodeType, m.random)
		if genErr != nil {
			return Credential{}, apperr.Internal(genErr, "generate code")
		}
		cred = Credential{
			ID:         ids.NewAt(now),
			OwnerID:    req.OwnerID,
			GuestName:  req.GuestName,
			CodeType:   req.CodeType,
			Code:       code,
			ValidFrom:  req.ValidFrom,
			ValidUntil: req.ValidUntil,
			MaxUsage:   req.MaxUsage,
			Status:     StatusActive,
			Purpose:    req.Purpose,
			CreatedAt:  now,
			Version:    1,
		}
		createErr := m.store.Create(ctx, cred, now)
		if errors.Is(createErr, ErrCodeInUse) {
			m.logger.DebugContext(ctx, "credential code collision, regenerating",
				"code_type", req.CodeType, "attempt", i+1)
			continue
		}
		if createErr != nil {
			return Credential{}, apperr.Internal(createErr, "create credential")
		}

		obs.ObserveIssued(string(cred.CodeType))
		m.events.Emit(notify.NewEvent(notify.CredentialIssued, cred.ID, actor.ID, now, map[string]string{
			"owner_id":    cred.OwnerID,
			"guest_name":  cred.GuestName,
			"code_type":   string(cred.CodeType),
			"valid_until": cred.ValidUntil.Format(time.RFC3339),
		}))
		m.auditLog(ctx, "credential.issued", cred)
		return cred.Clone(), nil
	}
	return Credential{}, apperr.CapacityExceeded("no free %s code after %d attempts", req.CodeType, attempts)
}

func normalizeIssue(req IssueRequest, now time.Time) (IssueRequest, error) {
	req.GuestName = strings.TrimSpace(req.GuestName)
	req.Purpose = strings.TrimSpace(req.Purpose)
	if req.GuestName == "" {
		return req, apperr.Validation("guest_name", "is required")
	}
	if !req.CodeType.Valid() {
		return req, apperr.Validation("code_type", "must be %q or %q", CodePIN, CodeQR)
	}
	if req.MaxUsage == 0 {
		req.MaxUsage = MinUsage
	}
	if req.MaxUsage < MinUsage || req.MaxUsage > MaxUsage {
		return req, apperr.Validation("max_usage", "must be between %d and %d", MinUsage, MaxUsage)
	}
	if req.ValidFrom.IsZero() {
		req.ValidFrom = now
	}
	if req.ValidUntil.IsZero() {
		return req, apperr.Validation("valid_until", "is required")
	}
	if !req.ValidUntil.After(req.ValidFrom) {
		return req, apperr.Validation("valid_until", "must be after valid_from")
	}
	if !req.ValidUntil.After(now) {
		return req, apperr.Validation("valid_until", "must be in the future")
	}
	req.ValidFrom = req.ValidFrom.UTC()
	req.ValidUntil = req.ValidUntil.UTC()
	return req, nil
}

// Consume redeems one use of the credential holding req.Code. Expected
// rejections are reported through the Outcome, not as errors.
func (m *Manager) Consume(ctx context.Context, actor auth.Principal, req ConsumeRequest) (cred Credential, outcome Outcome, err error) {
	ctx, span := m.tracer.Start(ctx, "credential.Consume")
	defer func() {
		obs.EndSpan(span, err, attribute.String("credential.outcome", string(outcome)))
	}()

	now := m.clock.Now()
	asOf := req.AsOf
	if asOf.IsZero() {
		asOf = now
	}
	if !auth.Authorize(actor, auth.ResourceGuestCredential, auth.ActionConsume, auth.Attrs{}) {
		return Credential{}, "", apperr.Forbidden("role %q may not consume credentials", actor.Role)
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return Credential{}, "", apperr.Validation("code", "is required")
	}

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		current, findErr := m.store.FindByCode(ctx, code, asOf)
		if errors.Is(findErr, ErrNotFound) {
			m.finishAttempt(ctx, actor, Credential{}, OutcomeRejectedNotFound, now)
			return Credential{}, OutcomeRejectedNotFound, nil
		}
		if findErr != nil {
			return Credential{}, "", apperr.Internal(findErr, "find credential by code")
		}

		if verdict := evaluate(current, asOf); verdict != OutcomeAccepted {
			m.finishAttempt(ctx, actor, current, verdict, now)
			return current, verdict, nil
		}

		next := current.Clone()
		next.UsageCount++
		usedAt := asOf
		next.LastUsedAt = &usedAt
		if next.UsageCount >= next.MaxUsage {
			next.Status = StatusUsed
		}
		updated, casErr := m.store.CompareAndSwap(ctx, next, current.Version)
		if errors.Is(casErr, ErrVersionConflict) {
			obs.ObserveConflict("credential.consume")
			continue
		}
		if casErr != nil {
			return Credential{}, "", apperr.Internal(casErr, "update credential")
		}

		m.finishAttempt(ctx, actor, updated, OutcomeAccepted, now)
		m.events.Emit(notify.NewEvent(notify.CredentialConsumed, updated.ID, actor.ID, now, map[string]string{
			"owner_id":    updated.OwnerID,
			"usage_count": strconv.Itoa(updated.UsageCount),
			"max_usage":   strconv.Itoa(updated.MaxUsage),
			"status":      string(updated.Status),
		}))
		return updated, OutcomeAccepted, nil
	}
	obs.ObserveConsume("conflict")
	return Credential{}, "", apperr.Conflict("credential changed concurrently %d times, retry", maxCASAttempts)
}

// evaluate decides the outcome of consuming c at asOf without mutating it.
func evaluate(c Credential, asOf time.Time) Outcome {
	switch {
	case c.Status == StatusRevoked:
		return OutcomeRejectedRevoked
	case c.Status == StatusUsed || c.UsageCount >= c.MaxUsage:
		return OutcomeRejectedExhausted
	case asOf.After(c.ValidUntil):
		return OutcomeRejectedExpired
	case asOf.Before(c.ValidFrom):
		return OutcomeRejectedNotYet
	default:
		return OutcomeAccepted
	}
}

func (m *Manager) finishAttempt(ctx context.Context, actor auth.Principal, c Credential, outcome Outcome, now time.Time) {
	obs.ObserveConsume(string(outcome))
	if m.access == nil {
		return
	}
	entry := audit.Entry{
		ID:           ids.NewAt(now),
		OccurredAt:   now,
		ActorID:      actor.ID,
		CredentialID: c.ID,
		OwnerID:      c.OwnerID,
		GuestName:    c.GuestName,
		Method:       string(c.CodeType),
		Result:       audit.ResultFailure,
		Outcome:      string(outcome),
	}
	switch outcome {
	case OutcomeAccepted:
		entry.Result = audit.ResultSuccess
		entry.Details = fmt.Sprintf("use %d of %d", c.UsageCount, c.MaxUsage)
	case OutcomeRejectedNotFound:
		entry.Method = "code"
		entry.Details = "no credential matches the presented code"
	default:
		entry.Details = fmt.Sprintf("credential %s, %d of %d uses", ComputeStatus(c, now), c.UsageCount, c.MaxUsage)
	}
	if err := m.access.Append(ctx, entry); err != nil {
		m.logger.ErrorContext(ctx, "access log append failed", "credential_id", c.ID, "error", err)
	}
}

// Revoke terminates a credential. Settled credentials report AlreadyTerminal.
func (m *Manager) Revoke(ctx context.Context, actor auth.Principal, id string) (cred Credential, err error) {
	ctx, span := m.tracer.Start(ctx, "credential.Revoke", trace.WithAttributes(attribute.String("credential.id", id)))
	defer func() { obs.EndSpan(span, err) }()

	id = strings.TrimSpace(id)
	if id == "" {
		return Credential{}, apperr.Validation("id", "is required")
	}
	now := m.clock.Now()

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		current, getErr := m.load(ctx, id)
		if getErr != nil {
			return Credential{}, getErr
		}
		if !auth.Authorize(actor, auth.ResourceGuestCredential, auth.ActionRevoke, auth.Attrs{OwnerID: current.OwnerID}) {
			return Credential{}, apperr.Forbidden("not allowed to revoke credential %s", id)
		}
		if status := ComputeStatus(current, now); status.Terminal() {
			return Credential{}, apperr.AlreadyTerminal("credential %s is already %s", id, status)
		}

		next := current.Clone()
		next.Status = StatusRevoked
		revokedAt := now
		next.RevokedAt = &revokedAt
		updated, casErr := m.store.CompareAndSwap(ctx, next, current.Version)
		if errors.Is(casErr, ErrVersionConflict) {
			obs.ObserveConflict("credential.revoke")
			continue
		}
		if casErr != nil {
			return Credential{}, apperr.Internal(casErr, "update credential")
		}

		m.events.Emit(notify.NewEvent(notify.CredentialRevoked, updated.ID, actor.ID, now, map[string]string{
			"owner_id": updated.OwnerID,
		}))
		m.auditLog(ctx, "credential.revoked", updated)
		return updated, nil
	}
	return Credential{}, apperr.Conflict("credential %s changed concurrently %d times, retry", id, maxCASAttempts)
}

// Get returns one credential with its derived status.
func (m *Manager) Get(ctx context.Context, actor auth.Principal, id string) (Credential, error) {
	cred, err := m.load(ctx, id)
	if err != nil {
		return Credential{}, err
	}
	if !auth.Authorize(actor, auth.ResourceGuestCredential, auth.ActionRead, auth.Attrs{OwnerID: cred.OwnerID}) {
		return Credential{}, apperr.Forbidden("not allowed to read credential %s", id)
	}
	cred.Status = ComputeStatus(cred, m.clock.Now())
	return cred, nil
}

// List returns the credentials actor may read, newest first, with derived status.
func (m *Manager) List(ctx context.Context, actor auth.Principal, f ListFilter) ([]Credential, error) {
	if !actor.Authenticated() || !auth.Can(actor.Role, auth.ResourceGuestCredential, auth.ActionRead) {
		return nil, apperr.Forbidden("role %q may not read credentials", actor.Role)
	}
	switch f.Status {
	case "", StatusActive, StatusUsed, StatusExpired, StatusRevoked:
	default:
		return nil, apperr.Validation("status", "unknown status %q", f.Status)
	}
	storeFilter := Filter{OwnerID: f.OwnerID}
	if actor.Role == auth.RoleResident {
		if f.OwnerID != "" && f.OwnerID != actor.ID {
			return nil, apperr.Forbidden("residents may only list their own credentials")
		}
		storeFilter.OwnerID = actor.ID
	}

	all, err := m.store.List(ctx, storeFilter)
	if err != nil {
		return nil, apperr.Internal(err, "list credentials")
	}
	now := m.clock.Now()
	out := make([]Credential, 0, len(all))
	for _, c := range all {
		if !auth.Authorize(actor, auth.ResourceGuestCredential, auth.ActionRead, auth.Attrs{OwnerID: c.OwnerID}) {
			continue
		}
		c.Status = ComputeStatus(c, now)
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		out = append(out, c)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// Now is the instant derived statuses are computed against.
func (m *Manager) Now() time.Time { return m.clock.Now() }

func (m *Manager) load(ctx context.Context, id string) (Credential, error) {
	cred, err := m.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Credential{}, apperr.NotFound("credential %s not found", id)
	}
	if err != nil {
		return Credential{}, apperr.Internal(err, "load credential")
	}
	return cred, nil
}

func (m *Manager) auditLog(ctx context.Context, event string, c Credential) {
	err := audit.LogEvent(ctx, event, map[string]any{
		"credential_id": c.ID,
		"owner_id":      c.OwnerID,
		"code_type":     string(c.CodeType),
		"status":        string(c.Status),
	})
	if err != nil {
		m.logger.WarnContext(ctx, "audit log failed", "event", event, "error", err)
	}
}
