package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"stockhold/internal/domain"
	"stockhold/internal/services"
)

func TestReservationStore_Create(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	r, err := f.store.Create(ctx, services.NewReservation{
		ProductID: "P1", LocationID: "L1", Quantity: 3, CustomerID: "C1", Notes: "  call first  ",
	})
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != domain.StatusActive || r.Hold != domain.HoldPending {
		t.Fatalf("new reservation %s/%s", r.Status, r.Hold)
	}
	if want := f.clock.Now().Add(30 * time.Minute); !r.ExpiresAt.Equal(want) {
		t.Fatalf("expires %v, want %v", r.ExpiresAt, want)
	}
	if r.Notes != "call first" {
		t.Fatalf("notes = %q", r.Notes)
	}

	custom, err := f.store.Create(ctx, services.NewReservation{
		ProductID: "P1", LocationID: "L1", Quantity: 1, TTL: 5 * time.Minute,
	})
	if err != nil {
		t.Fatal(err)
	}
	if want := f.clock.Now().Add(5 * time.Minute); !custom.ExpiresAt.Equal(want) {
		t.Fatalf("custom ttl expires %v, want %v", custom.ExpiresAt, want)
	}

	if _, err := f.store.Create(ctx, services.NewReservation{ProductID: "P1", LocationID: "L1"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("zero quantity: %v", err)
	}
	if _, err := f.store.Create(ctx, services.NewReservation{
		ProductID: "P1", LocationID: "L1", Quantity: 1, CustomerID: "bad id!",
	}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("bad customer: %v", err)
	}
}

func TestReservationStore_GetMissing(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Get(context.Background(), "00000000-0000-0000-0000-000000000000")
	var nf *domain.ReservationNotFoundError
	if !errors.As(err, &nf) || !errors.Is(err, domain.ErrReservationNotFound) {
		t.Fatalf("want ReservationNotFoundError, got %v", err)
	}
}

func TestReservationStore_StateMachine(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	mk := func() string {
		r, err := f.store.Create(ctx, services.NewReservation{ProductID: "P1", LocationID: "L1", Quantity: 1})
		if err != nil {
			t.Fatal(err)
		}
		return r.ID
	}

	confirmed := mk()
	if err := f.store.Confirm(ctx, confirmed); err != nil {
		t.Fatal(err)
	}
	if err := f.store.Cancel(ctx, confirmed); !errors.Is(err, domain.ErrInvalidReservationState) {
		t.Fatalf("cancel confirmed: %v", err)
	}
	if err := f.store.Confirm(ctx, confirmed); !errors.Is(err, domain.ErrInvalidReservationState) {
		t.Fatalf("confirm twice: %v", err)
	}

	cancelled := mk()
	if err := f.store.Cancel(ctx, cancelled); err != nil {
		t.Fatal(err)
	}
	if err := f.store.Cancel(ctx, cancelled); !errors.Is(err, domain.ErrInvalidReservationState) {
		t.Fatalf("cancel twice: %v", err)
	}

	expiring := mk()
	if err := f.store.Expire(ctx, expiring); !errors.Is(err, domain.ErrInvalidReservationState) {
		t.Fatalf("expire inside window: %v", err)
	}
	f.clock.Advance(30 * time.Minute)

	err := f.store.Confirm(ctx, expiring)
	var serr *domain.InvalidReservationStateError
	if !errors.As(err, &serr) || !serr.Expired {
		t.Fatalf("confirm after window: %v", err)
	}
	if err := f.store.Expire(ctx, expiring); err != nil {
		t.Fatal(err)
	}
	if err := f.store.Confirm(ctx, expiring); !errors.Is(err, domain.ErrInvalidReservationState) {
		t.Fatalf("confirm expired: %v", err)
	}
	if err := f.store.Cancel(ctx, expiring); err != nil {
		t.Fatalf("cancel expired: %v", err)
	}

	st, err := f.store.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Confirmed != 1 || st.Cancelled != 2 || st.Active != 0 || st.Total != 3 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestReservationStore_Reads(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	create := func(product, customer string, ttl time.Duration) *domain.Reservation {
		r, err := f.store.Create(ctx, services.NewReservation{
			ProductID: product, LocationID: "L1", Quantity: 2, CustomerID: customer, TTL: ttl,
		})
		if err != nil {
			t.Fatal(err)
		}
		f.clock.Advance(time.Second)
		return r
	}
	first := create("P1", "C1", 5*time.Minute)
	create("P1", "C1", time.Hour)
	create("P2", "C2", 20*time.Minute)

	mine, _ := f.store.ByCustomer(ctx, "C1")
	if len(mine) != 2 || mine[1].ID != first.ID {
		t.Fatalf("by customer newest first: %+v", mine)
	}
	soon, err := f.store.ExpiringWithin(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(soon) != 1 || soon[0].ID != first.ID {
		t.Fatalf("expiring within 10m = %+v", soon)
	}
	if _, err := f.store.ExpiringWithin(ctx, 0); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("zero minutes: %v", err)
	}

	has, _ := f.store.HasActive(ctx, "P1", "L1")
	if !has {
		t.Fatal("HasActive(P1) = false")
	}
	n, qty, _ := f.store.ActiveTotals(ctx, "P1", "L1")
	if n != 2 || qty != 4 {
		t.Fatalf("active totals = %d/%d", n, qty)
	}

	f.clock.Advance(10 * time.Minute)
	active, _ := f.store.Active(ctx)
	if len(active) != 2 {
		t.Fatalf("active after first lapsed = %d, want 2", len(active))
	}
	due, _ := f.store.Due(ctx, 10)
	if len(due) != 1 || due[0].ID != first.ID {
		t.Fatalf("due = %+v", due)
	}
	if _, err := f.store.CreatedBetween(ctx, f.clock.Now(), f.clock.Now().Add(-time.Hour)); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("inverted range: %v", err)
	}
}
