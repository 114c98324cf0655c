//go:build integration

package pg_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"gatehouse.org/internal/apperr"
	"gatehouse.org/internal/audit"
	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/clock"
	"gatehouse.org/internal/credential"
	"gatehouse.org/internal/delivery"
	"gatehouse.org/internal/migrate"
	"gatehouse.org/internal/store/pg"
	"gatehouse.org/internal/testutil/containers"
)

var (
	resident = auth.Principal{ID: "res-demo-3", Role: auth.RoleResident, UnitNumber: "4B"}
	guard    = auth.Principal{ID: "sec-1", Role: auth.RoleSecurity}
)

func migrated(t *testing.T) *pg.Store {
	t.Helper()
	pgc := containers.NewPostgresContainer(t)
	m := migrate.NewManager(pgc.DB, pg.Migrations(), pg.Seeds())
	ctx := context.Background()
	if err := m.Up(ctx); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	if err := m.Seed(ctx); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return pg.New(pgc.DB)
}

func TestCredentialLifecycleOnPostgres(t *testing.T) {
	store := migrated(t)
	ctx := context.Background()
	clk := clock.NewFake(time.Now().UTC().Truncate(time.Microsecond))
	mgr := credential.NewManager(store.Credentials(),
		credential.WithClock(clk),
		credential.WithAccessLog(store.AccessLog()),
	)

	cred, err := mgr.Issue(ctx, resident, credential.IssueRequest{
		GuestName:  "Dana",
		CodeType:   credential.CodeQR,
		ValidUntil: clk.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	var accepted atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			_, outcome, err := mgr.Consume(gctx, guard, credential.ConsumeRequest{Code: cred.Code})
			if err != nil {
				if apperr.IsRetryable(err) {
					return nil
				}
				return err
			}
			if outcome.Accepted() {
				accepted.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if got := accepted.Load(); got != 1 {
		t.Fatalf("single-use credential accepted %d times", got)
	}

	stored, err := mgr.Get(ctx, resident, cred.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != credential.StatusUsed || stored.UsageCount != 1 {
		t.Fatalf("unexpected stored credential: %+v", stored)
	}

	entries, err := store.AccessLog().List(ctx, audit.Filter{CredentialID: cred.ID, Result: audit.ResultSuccess})
	if err != nil {
		t.Fatalf("access log: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one successful access entry, got %d", len(entries))
	}

	if _, err := mgr.Revoke(ctx, resident, cred.ID); !errors.Is(err, apperr.ErrAlreadyTerminal) {
		t.Fatalf("revoking a used credential: %v", err)
	}
}

func TestDeliveryWorkflowOnPostgres(t *testing.T) {
	store := migrated(t)
	ctx := context.Background()
	mgr := delivery.NewManager(store.Deliveries(), delivery.WithDirectory(store.Residents()))
	admin := auth.Principal{ID: "adm-1", Role: auth.RoleAdmin}

	d, err := mgr.Authorize(ctx, admin, delivery.AuthorizeRequest{
		ResidentID:   "res-demo-1",
		Company:      "DHL",
		ExpectedDate: time.Now().Add(24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if d.UnitNumber != "1A" {
		t.Fatalf("unit not resolved from residents table: %q", d.UnitNumber)
	}

	resolved, err := mgr.Resolve(ctx, guard, d.ID, delivery.StatusDelivered)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.Version != 2 || resolved.DeliveredAt == nil {
		t.Fatalf("unexpected resolved delivery: %+v", resolved)
	}
	if _, err := mgr.Cancel(ctx, admin, d.ID); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Fatalf("cancel after delivery: %v", err)
	}
}

func TestMigrateDownAndStatus(t *testing.T) {
	pgc := containers.NewPostgresContainer(t)
	m := migrate.NewManager(pgc.DB, pg.Migrations(), nil)
	ctx := context.Background()

	if err := m.Up(ctx); err != nil {
		t.Fatalf("Up: %v", err)
	}
	applied, err := m.Status(ctx)
	if err != nil || len(applied) == 0 {
		t.Fatalf("Status: %v %v", applied, err)
	}
	if err := m.Down(ctx); err != nil {
		t.Fatalf("Down: %v", err)
	}
	pending, err := m.Pending(ctx)
	if err != nil || len(pending) != len(applied) {
		t.Fatalf("Pending after down: %v %v", pending, err)
	}
}
