package delivery

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"gatehouse.org/internal/apperr"
	"gatehouse.org/internal/audit"
	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/clock"
	"gatehouse.org/internal/directory"
	"gatehouse.org/internal/ids"
	"gatehouse.org/internal/notify"
	"gatehouse.org/internal/obs"
)

const maxCASAttempts = 3

// AuthorizeRequest pre-authorises a delivery for a resident.
type AuthorizeRequest struct {
	ResidentID     string
	UnitNumber     string
	Company        string
	TrackingNumber string
	ExpectedDate   time.Time
	Notes          string
}

// ListFilter narrows Manager.List. A nil Overdue means either.
type ListFilter struct {
	Status  Status
	Overdue *bool
	Limit   int
}

// Manager drives the delivery state machine on top of a Store.
type Manager struct {
	store     Store
	clock     clock.Clock
	events    notify.Emitter
	directory directory.Directory
	logger    *slog.Logger
	tracer    trace.Tracer
}

type Option func(*Manager)

func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

func WithEmitter(e notify.Emitter) Option {
	return func(m *Manager) {
		if e != nil {
			m.events = e
		}
	}
}

// WithDirectory enables unit lookups for deliveries authorised by staff.
func WithDirectory(d directory.Directory) Option {
	return func(m *Manager) { m.directory = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		clock:  clock.Real(),
		events: notify.Discard{},
		logger: obs.Logger(),
		tracer: obs.Tracer("delivery"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Authorize records a new delivery in the authorized state. Past expected
// dates are accepted so residents can log a same-day delivery.
func (m *Manager) Authorize(ctx context.Context, actor auth.Principal, req AuthorizeRequest) (d Delivery, err error) {
	ctx, span := m.tracer.Start(ctx, "delivery.Authorize")
	defer func() { obs.EndSpan(span, err, attribute.String("delivery.id", d.ID)) }()

	now := m.clock.Now()
	req.ResidentID = strings.TrimSpace(req.ResidentID)
	if req.ResidentID == "" && actor.Role == auth.RoleResident {
		req.ResidentID = actor.ID
	}
	if !auth.Authorize(actor, auth.ResourceDelivery, auth.ActionCreate, auth.Attrs{OwnerID: req.ResidentID}) {
		return Delivery{}, apperr.Forbidden("not allowed to authorize deliveries for resident %q", req.ResidentID)
	}
	if req.ResidentID == "" {
		return Delivery{}, apperr.Validation("resident_id", "is required")
	}
	req.Company = strings.TrimSpace(req.Company)
	if req.Company == "" {
		return Delivery{}, apperr.Validation("delivery_company", "is required")
	}
	if req.ExpectedDate.IsZero() {
		return Delivery{}, apperr.Validation("expected_date", "is required")
	}

	unit := strings.TrimSpace(req.UnitNumber)
	if actor.Role == auth.RoleResident {
		if unit != "" && unit != actor.UnitNumber {
			return Delivery{}, apperr.Validation("unit_number", "residents may only authorize deliveries to their own unit")
		}
		unit = actor.UnitNumber
	}
	if unit == "" {
		unit = m.lookupUnit(ctx, req.ResidentID)
	}

	d = Delivery{
		ID:              ids.NewAt(now),
		ResidentID:      req.ResidentID,
		UnitNumber:      unit,
		DeliveryCompany: req.Company,
		TrackingNumber:  strings.TrimSpace(req.TrackingNumber),
		ExpectedDate:    req.ExpectedDate.UTC(),
		Notes:           strings.TrimSpace(req.Notes),
		Status:          StatusAuthorized,
		AuthorizedAt:    now,
		Version:         1,
	}
	if err := m.store.Create(ctx, d); err != nil {
		return Delivery{}, apperr.Internal(err, "create delivery")
	}

	obs.ObserveDeliveryTransition(string(StatusAuthorized))
	m.events.Emit(notify.NewEvent(notify.DeliveryAuthorized, d.ID, actor.ID, now, map[string]string{
		"resident_id":   d.ResidentID,
		"unit_number":   d.UnitNumber,
		"company":       d.DeliveryCompany,
		"expected_date": d.ExpectedDate.Format(time.RFC3339),
	}))
	m.auditLog(ctx, "delivery.authorized", d)
	return d.Clone(), nil
}

// lookupUnit enriches a staff-authorised delivery with the resident's unit.
// Failures are logged and leave the unit blank.
func (m *Manager) lookupUnit(ctx context.Context, residentID string) string {
	if m.directory == nil {
		return ""
	}
	r, err := m.directory.LookupResident(ctx, residentID)
	if err != nil {
		m.logger.WarnContext(ctx, "resident lookup failed", "resident_id", residentID, "error", err)
		return ""
	}
	return r.UnitNumber
}

// Resolve settles an authorized delivery as delivered or failed.
func (m *Manager) Resolve(ctx context.Context, actor auth.Principal, id string, outcome Status) (d Delivery, err error) {
	ctx, span := m.tracer.Start(ctx, "delivery.Resolve", trace.WithAttributes(attribute.String("delivery.id", id)))
	defer func() { obs.EndSpan(span, err) }()

	if outcome != StatusDelivered && outcome != StatusFailed {
		return Delivery{}, apperr.Validation("outcome", "must be %q or %q", StatusDelivered, StatusFailed)
	}
	return m.transition(ctx, actor, id, auth.ActionResolve, outcome, notify.DeliveryResolved)
}

// Cancel withdraws an authorized delivery. Cancelling a cancelled delivery
// reports AlreadyTerminal.
func (m *Manager) Cancel(ctx context.Context, actor auth.Principal, id string) (d Delivery, err error) {
	ctx, span := m.tracer.Start(ctx, "delivery.Cancel", trace.WithAttributes(attribute.String("delivery.id", id)))
	defer func() { obs.EndSpan(span, err) }()

	return m.transition(ctx, actor, id, auth.ActionCancel, StatusCancelled, notify.DeliveryCancelled)
}

func (m *Manager) transition(ctx context.Context, actor auth.Principal, id string, action auth.Action, to Status, evt notify.Type) (Delivery, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Delivery{}, apperr.Validation("id", "is required")
	}
	now := m.clock.Now()

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		current, err := m.load(ctx, id)
		if err != nil {
			return Delivery{}, err
		}
		if !auth.Authorize(actor, auth.ResourceDelivery, action, attrsOf(current)) {
			return Delivery{}, apperr.Forbidden("not allowed to %s delivery %s", action, id)
		}
		if current.Status.Terminal() {
			if current.Status == to && action == auth.ActionCancel {
				return Delivery{}, apperr.AlreadyTerminal("delivery %s is already %s", id, current.Status)
			}
			return Delivery{}, apperr.InvalidTransition("delivery %s is %s and cannot become %s", id, current.Status, to)
		}

		next := current.Clone()
		next.Status = to
		resolvedAt := now
		next.ResolvedAt = &resolvedAt
		next.ResolvedBy = actor.ID
		if to == StatusDelivered {
			deliveredAt := now
			next.DeliveredAt = &deliveredAt
		}
		updated, err := m.store.CompareAndSwap(ctx, next, current.Version)
		if errors.Is(err, ErrVersionConflict) {
			obs.ObserveConflict("delivery." + string(action))
			continue
		}
		if err != nil {
			return Delivery{}, apperr.Internal(err, "update delivery")
		}

		obs.ObserveDeliveryTransition(string(to))
		m.events.Emit(notify.NewEvent(evt, updated.ID, actor.ID, now, map[string]string{
			"resident_id": updated.ResidentID,
			"status":      string(updated.Status),
		}))
		m.auditLog(ctx, "delivery."+string(to), updated)
		return updated, nil
	}
	return Delivery{}, apperr.Conflict("delivery %s changed concurrently %d times, retry", id, maxCASAttempts)
}

// Get returns one delivery the actor may read.
func (m *Manager) Get(ctx context.Context, actor auth.Principal, id string) (Delivery, error) {
	d, err := m.load(ctx, id)
	if err != nil {
		return Delivery{}, err
	}
	if !auth.Authorize(actor, auth.ResourceDelivery, auth.ActionRead, attrsOf(d)) {
		return Delivery{}, apperr.Forbidden("not allowed to read delivery %s", id)
	}
	return d, nil
}

// List returns the deliveries actor may read in listing order.
func (m *Manager) List(ctx context.Context, actor auth.Principal, f ListFilter) ([]Delivery, error) {
	if !actor.Authenticated() || !auth.Can(actor.Role, auth.ResourceDelivery, auth.ActionRead) {
		return nil, apperr.Forbidden("role %q may not read deliveries", actor.Role)
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, apperr.Validation("status", "unknown status %q", f.Status)
	}

	storeFilter := Filter{Status: f.Status}
	if actor.Role == auth.RoleResident {
		if actor.UnitNumber != "" {
			storeFilter.UnitNumber = actor.UnitNumber
		} else {
			storeFilter.ResidentID = actor.ID
		}
	}
	all, err := m.store.List(ctx, storeFilter)
	if err != nil {
		return nil, apperr.Internal(err, "list deliveries")
	}

	now := m.clock.Now()
	out := make([]Delivery, 0, len(all))
	for _, d := range all {
		if !auth.Authorize(actor, auth.ResourceDelivery, auth.ActionRead, attrsOf(d)) {
			continue
		}
		if f.Overdue != nil && IsOverdue(d, now) != *f.Overdue {
			continue
		}
		out = append(out, d)
	}
	Sort(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Now exposes the manager's clock so read paths derive overdue flags
// against the same instant the engine uses.
func (m *Manager) Now() time.Time { return m.clock.Now() }

func (m *Manager) load(ctx context.Context, id string) (Delivery, error) {
	d, err := m.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Delivery{}, apperr.NotFound("delivery %s not found", id)
	}
	if err != nil {
		return Delivery{}, apperr.Internal(err, "load delivery")
	}
	return d, nil
}

func attrsOf(d Delivery) auth.Attrs {
	return auth.Attrs{OwnerID: d.ResidentID, UnitNumber: d.UnitNumber}
}

func (m *Manager) auditLog(ctx context.Context, event string, d Delivery) {
	err := audit.LogEvent(ctx, event, map[string]any{
		"delivery_id": d.ID,
		"resident_id": d.ResidentID,
		"status":      string(d.Status),
	})
	if err != nil {
		m.logger.WarnContext(ctx, "audit log failed", "event", event, "error", err)
	}
}
