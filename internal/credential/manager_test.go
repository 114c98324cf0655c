package credential

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"gatehouse.org/internal/apperr"
	"gatehouse.org/internal/audit"
	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/clock"
	"gatehouse.org/internal/notify"
)

var (
	resident = auth.Principal{ID: "res-1", Role: auth.RoleResident, UnitNumber: "4B"}
	other    = auth.Principal{ID: "res-2", Role: auth.RoleResident, UnitNumber: "7A"}
	admin    = auth.Principal{ID: "adm-1", Role: auth.RoleAdmin}
	security = auth.Principal{ID: "sec-1", Role: auth.RoleSecurity}
)

type eventRecorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *eventRecorder) Emit(evt notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *eventRecorder) types() []notify.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.Type, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

type fixture struct {
	mgr    *Manager
	store  *MemoryStore
	clock  *clock.Fake
	events *eventRecorder
	access *audit.MemoryLog
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	f := fixture{
		store:  NewMemoryStore(),
		clock:  clock.NewFake(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)),
		events: &eventRecorder{},
		access: audit.NewMemoryLog(),
	}
	base := []Option{WithClock(f.clock), WithEmitter(f.events), WithAccessLog(f.access)}
	f.mgr = NewManager(f.store, append(base, opts...)...)
	return f
}

func (f fixture) issue(t *testing.T, actor auth.Principal, req IssueRequest) Credential {
	t.Helper()
	cred, err := f.mgr.Issue(context.Background(), actor, req)
	require.NoError(t, err)
	return cred
}

func TestIssueDefaultsAndCodeShape(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()

	pin := f.issue(t, resident, IssueRequest{GuestName: " Aigerim ", CodeType: CodePIN, ValidUntil: now.Add(time.Hour)})
	assert.Equal(t, resident.ID, pin.OwnerID)
	assert.Equal(t, "Aigerim", pin.GuestName)
	assert.Equal(t, 1, pin.MaxUsage)
	assert.True(t, pin.ValidFrom.Equal(now))
	assert.Equal(t, StatusActive, pin.Status)
	assert.Equal(t, int64(1), pin.Version)
	assert.Regexp(t, regexp.MustCompile(`^[0-9]{6}$`), pin.Code)

	qr := f.issue(t, admin, IssueRequest{OwnerID: resident.ID, GuestName: "Courier", CodeType: CodeQR, ValidUntil: now.Add(time.Hour), MaxUsage: 5})
	assert.Equal(t, resident.ID, qr.OwnerID)
	assert.Len(t, qr.Code, 43)
	assert.Regexp(t, regexp.MustCompile(`^[A-Za-z0-9_-]+$`), qr.Code)

	assert.Equal(t, []notify.Type{notify.CredentialIssued, notify.CredentialIssued}, f.events.types())
}

func TestIssueValidation(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()
	valid := IssueRequest{GuestName: "Guest", CodeType: CodePIN, ValidUntil: now.Add(time.Hour)}

	cases := map[string]struct {
		mutate func(*IssueRequest)
		field  string
	}{
		"empty guest name":  {func(r *IssueRequest) { r.GuestName = "  " }, "guest_name"},
		"unknown code type": {func(r *IssueRequest) { r.CodeType = "NFC" }, "code_type"},
		"usage too high":    {func(r *IssueRequest) { r.MaxUsage = 51 }, "max_usage"},
		"usage negative":    {func(r *IssueRequest) { r.MaxUsage = -1 }, "max_usage"},
		"until before from": {func(r *IssueRequest) { r.ValidFrom = now.Add(2 * time.Hour) }, "valid_until"},
		"until in the past": {func(r *IssueRequest) { r.ValidFrom = now.Add(-2 * time.Hour); r.ValidUntil = now.Add(-time.Hour) }, "valid_until"},
		"until missing":     {func(r *IssueRequest) { r.ValidUntil = time.Time{} }, "valid_until"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := valid
			tc.mutate(&req)
			_, err := f.mgr.Issue(context.Background(), resident, req)
			require.ErrorIs(t, err, apperr.ErrValidation)
			assert.Equal(t, tc.field, apperr.FieldOf(err))
		})
	}

	all, err := f.store.List(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Empty(t, all, "validation failures must not touch the store")
	assert.Empty(t, f.events.types())
}

func TestIssueForbidden(t *testing.T) {
	f := newFixture(t)
	until := f.clock.Now().Add(time.Hour)

	_, err := f.mgr.Issue(context.Background(), security, IssueRequest{GuestName: "G", CodeType: CodePIN, ValidUntil: until})
	require.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.mgr.Issue(context.Background(), resident, IssueRequest{OwnerID: other.ID, GuestName: "G", CodeType: CodePIN, ValidUntil: until})
	require.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.mgr.Issue(context.Background(), auth.Principal{}, IssueRequest{GuestName: "G", CodeType: CodePIN, ValidUntil: until})
	require.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestIssuePINCollisionExhaustsRetries(t *testing.T) {
	f := newFixture(t, WithRandom(zeroReader{}))
	until := f.clock.Now().Add(time.Hour)

	first := f.issue(t, resident, IssueRequest{GuestName: "First", CodeType: CodePIN, ValidUntil: until})
	assert.Equal(t, "000000", first.Code)

	_, err := f.mgr.Issue(context.Background(), resident, IssueRequest{GuestName: "Second", CodeType: CodePIN, ValidUntil: until})
	require.ErrorIs(t, err, apperr.ErrCapacityExceeded)

	f.clock.Advance(2 * time.Hour)
	reused := f.issue(t, resident, IssueRequest{GuestName: "Third", CodeType: CodePIN, ValidUntil: f.clock.Now().Add(time.Hour)})
	assert.Equal(t, "000000", reused.Code, "an expired holder must release its code")
}

func TestConsumeScenarioMaxUsageTwo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cred := f.issue(t, resident, IssueRequest{GuestName: "Guest", CodeType: CodePIN, MaxUsage: 2, ValidUntil: f.clock.Now().Add(time.Hour)})

	got, outcome, err := f.mgr.Consume(ctx, security, ConsumeRequest{Code: cred.Code})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, outcome)
	assert.Equal(t, 1, got.UsageCount)
	assert.Equal(t, StatusActive, got.Status)

	got, outcome, err = f.mgr.Consume(ctx, security, ConsumeRequest{Code: cred.Code})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, outcome)
	assert.Equal(t, 2, got.UsageCount)
	assert.Equal(t, StatusUsed, got.Status)
	require.NotNil(t, got.LastUsedAt)

	got, outcome, err = f.mgr.Consume(ctx, security, ConsumeRequest{Code: cred.Code})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejectedExhausted, outcome)
	assert.Equal(t, 2, got.UsageCount)

	entries, err := f.access.List(ctx, audit.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	results := map[audit.Result]int{}
	for _, e := range entries {
		results[e.Result]++
		assert.Equal(t, security.ID, e.ActorID)
		assert.Equal(t, cred.ID, e.CredentialID)
	}
	assert.Equal(t, 2, results[audit.ResultSuccess])
	assert.Equal(t, 1, results[audit.ResultFailure])
	assert.Equal(t, []notify.Type{notify.CredentialIssued, notify.CredentialConsumed, notify.CredentialConsumed}, f.events.types())
}

func TestConsumeConcurrentSingleUse(t *testing.T) {
	f := newFixture(t)
	cred := f.issue(t, resident, IssueRequest{GuestName: "Guest", CodeType: CodePIN, ValidUntil: f.clock.Now().Add(time.Hour)})

	const terminals = 64
	outcomes := make([]Outcome, terminals)
	var g errgroup.Group
	for i := 0; i < terminals; i++ {
		i := i
		g.Go(func() error {
			_, outcome, err := f.mgr.Consume(context.Background(), security, ConsumeRequest{Code: cred.Code})
			outcomes[i] = outcome
			return err
		})
	}
	require.NoError(t, g.Wait())

	counts := map[Outcome]int{}
	for _, o := range outcomes {
		counts[o]++
	}
	assert.Equal(t, 1, counts[OutcomeAccepted])
	assert.Equal(t, terminals-1, counts[OutcomeRejectedExhausted])

	stored, err := f.store.Get(context.Background(), cred.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.UsageCount)
	assert.Equal(t, StatusUsed, stored.Status)
}

func TestConsumeExpiredLeavesUsageUnchanged(t *testing.T) {
	f := newFixture(t)
	cred := f.issue(t, resident, IssueRequest{GuestName: "Guest", CodeType: CodePIN, ValidUntil: f.clock.Now().Add(time.Hour)})
	f.clock.Advance(time.Hour + time.Second)

	got, outcome, err := f.mgr.Consume(context.Background(), security, ConsumeRequest{Code: cred.Code})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejectedExpired, outcome)
	assert.Equal(t, 0, got.UsageCount)

	stored, err := f.store.Get(context.Background(), cred.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.UsageCount)
	assert.Equal(t, StatusActive, stored.Status, "expiry is derived, never written")
	assert.Equal(t, int64(1), stored.Version)
}

func TestConsumeOutcomes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := f.clock.Now()

	future := f.issue(t, resident, IssueRequest{GuestName: "Later", CodeType: CodePIN, ValidFrom: now.Add(time.Hour), ValidUntil: now.Add(2 * time.Hour)})
	_, outcome, err := f.mgr.Consume(ctx, security, ConsumeRequest{Code: future.Code})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejectedNotYet, outcome)

	_, outcome, err = f.mgr.Consume(ctx, security, ConsumeRequest{Code: future.Code, AsOf: now.Add(90 * time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, outcome, "asOf overrides the clock")

	revoked := f.issue(t, resident, IssueRequest{GuestName: "Gone", CodeType: CodeQR, ValidUntil: now.Add(time.Hour)})
	_, err = f.mgr.Revoke(ctx, resident, revoked.ID)
	require.NoError(t, err)
	_, outcome, err = f.mgr.Consume(ctx, security, ConsumeRequest{Code: revoked.Code})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejectedRevoked, outcome)

	got, outcome, err := f.mgr.Consume(ctx, security, ConsumeRequest{Code: "nope"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejectedNotFound, outcome)
	assert.Empty(t, got.ID)

	_, _, err = f.mgr.Consume(ctx, security, ConsumeRequest{Code: "  "})
	require.ErrorIs(t, err, apperr.ErrValidation)

	_, _, err = f.mgr.Consume(ctx, resident, ConsumeRequest{Code: future.Code})
	require.ErrorIs(t, err, apperr.ErrForbidden)

	entries, err := f.access.List(ctx, audit.Filter{})
	require.NoError(t, err)
	assert.Len(t, entries, 4, "one entry per authorised attempt")
}

type conflictingStore struct {
	*MemoryStore
}

func (s conflictingStore) CompareAndSwap(context.Context, Credential, int64) (Credential, error) {
	return Credential{}, ErrVersionConflict
}

func TestConsumeSurfacesConflictAfterRetries(t *testing.T) {
	mem := NewMemoryStore()
	clk := clock.NewFake(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))
	seed := NewManager(mem, WithClock(clk))
	cred, err := seed.Issue(context.Background(), resident, IssueRequest{GuestName: "G", CodeType: CodePIN, ValidUntil: clk.Now().Add(time.Hour)})
	require.NoError(t, err)

	mgr := NewManager(conflictingStore{mem}, WithClock(clk))
	_, _, err = mgr.Consume(context.Background(), security, ConsumeRequest{Code: cred.Code})
	require.ErrorIs(t, err, apperr.ErrConflict)
	assert.True(t, apperr.IsRetryable(err))

	_, err = mgr.Revoke(context.Background(), resident, cred.ID)
	require.ErrorIs(t, err, apperr.ErrConflict)
}

func TestRevoke(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cred := f.issue(t, resident, IssueRequest{GuestName: "Guest", CodeType: CodePIN, ValidUntil: f.clock.Now().Add(time.Hour)})

	_, err := f.mgr.Revoke(ctx, other, cred.ID)
	require.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = f.mgr.Revoke(ctx, security, cred.ID)
	require.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = f.mgr.Revoke(ctx, resident, "missing")
	require.ErrorIs(t, err, apperr.ErrNotFound)

	revoked, err := f.mgr.Revoke(ctx, resident, cred.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRevoked, revoked.Status)
	require.NotNil(t, revoked.RevokedAt)
	assert.Equal(t, int64(2), revoked.Version)

	for i := 0; i < 3; i++ {
		_, err = f.mgr.Revoke(ctx, resident, cred.ID)
		require.ErrorIs(t, err, apperr.ErrAlreadyTerminal)
		require.ErrorIs(t, err, apperr.ErrInvalidTransition)
	}
	stored, err := f.store.Get(ctx, cred.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version, "repeated revokes must not write")
	assert.Equal(t, []notify.Type{notify.CredentialIssued, notify.CredentialRevoked}, f.events.types())
}

func TestRevokeExpiredIsAlreadyTerminal(t *testing.T) {
	f := newFixture(t)
	cred := f.issue(t, resident, IssueRequest{GuestName: "Guest", CodeType: CodePIN, ValidUntil: f.clock.Now().Add(time.Hour)})
	f.clock.Advance(2 * time.Hour)

	_, err := f.mgr.Revoke(context.Background(), admin, cred.ID)
	require.ErrorIs(t, err, apperr.ErrAlreadyTerminal)
}

func TestGetAndListAreScoped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := f.clock.Now()
	mine := f.issue(t, resident, IssueRequest{GuestName: "Mine", CodeType: CodePIN, ValidUntil: now.Add(time.Hour)})
	theirs := f.issue(t, other, IssueRequest{GuestName: "Theirs", CodeType: CodePIN, ValidUntil: now.Add(3 * time.Hour)})

	_, err := f.mgr.Get(ctx, resident, theirs.ID)
	require.ErrorIs(t, err, apperr.ErrForbidden)
	got, err := f.mgr.Get(ctx, security, theirs.ID)
	require.NoError(t, err)
	assert.Equal(t, theirs.ID, got.ID)

	list, err := f.mgr.List(ctx, resident, ListFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, mine.ID, list[0].ID)

	_, err = f.mgr.List(ctx, resident, ListFilter{OwnerID: other.ID})
	require.ErrorIs(t, err, apperr.ErrForbidden)

	f.clock.Advance(2 * time.Hour)
	expired, err := f.mgr.List(ctx, admin, ListFilter{Status: StatusExpired})
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, mine.ID, expired[0].ID)
	assert.Equal(t, StatusExpired, expired[0].Status)

	active, err := f.mgr.List(ctx, security, ListFilter{Status: StatusActive, Limit: 5})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, theirs.ID, active[0].ID)

	_, err = f.mgr.List(ctx, admin, ListFilter{Status: "weird"})
	require.ErrorIs(t, err, apperr.ErrValidation)
}

func TestComputeStatus(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	base := Credential{Status: StatusActive, ValidFrom: now, ValidUntil: now.Add(time.Hour), MaxUsage: 1}

	assert.Equal(t, StatusActive, ComputeStatus(base, now))
	assert.Equal(t, StatusActive, ComputeStatus(base, now.Add(time.Hour)), "validUntil itself is still valid")
	assert.Equal(t, StatusExpired, ComputeStatus(base, now.Add(time.Hour+time.Nanosecond)))

	used := base
	used.Status = StatusUsed
	assert.Equal(t, StatusUsed, ComputeStatus(used, now.Add(48*time.Hour)))

	revoked := base
	revoked.Status = StatusRevoked
	assert.Equal(t, StatusRevoked, ComputeStatus(revoked, now.Add(48*time.Hour)))
}
