package services_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"stockhold/internal/domain"
)

func TestStockLedger_ReceiveAndGet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if _, err := f.ledger.Get(ctx, "P1", "L1"); !errors.Is(err, domain.ErrStockNotFound) {
		t.Fatalf("want ErrStockNotFound, got %v", err)
	}
	f.receive(t, "P1", "L1", 10)
	f.receive(t, "P1", "L1", 5)
	q, r, a := f.stock(t, "P1", "L1")
	if q != 15 || r != 0 || a != 15 {
		t.Fatalf("got q=%d r=%d a=%d", q, r, a)
	}
}

func TestStockLedger_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	cases := []struct {
		name string
		fn   func() error
	}{
		{"empty product", func() error { _, err := f.ledger.Receive(ctx, "", "L1", 1); return err }},
		{"bad location", func() error { _, err := f.ledger.Receive(ctx, "P1", "no spaces", 1); return err }},
		{"zero receive", func() error { _, err := f.ledger.Receive(ctx, "P1", "L1", 0); return err }},
		{"negative deduct", func() error { _, err := f.ledger.DeductDirect(ctx, "P1", "L1", -1, ""); return err }},
		{"zero reserve", func() error { _, err := f.ledger.Reserve(ctx, "P1", "L1", 0, 0); return err }},
		{"negative adjust", func() error { _, err := f.ledger.SetAbsolute(ctx, "P1", "L1", -1, ""); return err }},
		{"negative threshold", func() error { _, err := f.ledger.SetReorderThreshold(ctx, "P1", "L1", -1); return err }},
		{"padded product", func() error { _, err := f.ledger.Receive(ctx, " P1", "L1", 1); return err }},
		{"padded location", func() error { _, err := f.ledger.Ensure(ctx, "P1", "L1 "); return err }},
		{"receive over ceiling", func() error { _, err := f.ledger.Receive(ctx, "P1", "L1", domain.MaxQuantity+1); return err }},
		{"adjust over ceiling", func() error { _, err := f.ledger.SetAbsolute(ctx, "P1", "L1", domain.MaxQuantity+1, ""); return err }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.fn()
			var verr *domain.ValidationError
			if !errors.As(err, &verr) || !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("want ValidationError, got %v", err)
			}
		})
	}
}

func TestStockLedger_ReceiveStopsAtCeiling(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.receive(t, "P1", "L1", domain.MaxQuantity)

	_, err := f.ledger.Receive(ctx, "P1", "L1", 1)
	var verr *domain.ValidationError
	if !errors.As(err, &verr) || verr.Field != "quantity" {
		t.Fatalf("want quantity ValidationError, got %v", err)
	}
	if q, _, _ := f.stock(t, "P1", "L1"); q != domain.MaxQuantity {
		t.Fatalf("quantity = %d", q)
	}
	if rows, err := f.ledger.ListAll(ctx); err != nil || len(rows) != 1 {
		t.Fatalf("list after refused receive: %v %v", rows, err)
	}
	if got := testutil.ToFloat64(f.metrics.LedgerRejects.WithLabelValues("receive")); got != 1 {
		t.Fatalf("receive rejects = %v", got)
	}
}

func TestStockLedger_DeductDirect(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.receive(t, "P1", "L1", 10)

	rec, _ := f.ledger.Get(ctx, "P1", "L1")
	if ok, _ := f.ledger.Reserve(ctx, "P1", "L1", 6, rec.Version); !ok {
		t.Fatal("reserve failed")
	}

	// only 4 units are free
	_, err := f.ledger.DeductDirect(ctx, "P1", "L1", 5, "damaged")
	var short *domain.InsufficientStockError
	if !errors.As(err, &short) {
		t.Fatalf("want InsufficientStockError, got %v", err)
	}
	if short.Available != 4 || short.Requested != 5 {
		t.Fatalf("error detail = %+v", short)
	}
	if got := testutil.ToFloat64(f.metrics.LedgerRejects.WithLabelValues("deduct")); got != 1 {
		t.Fatalf("deduct rejects = %v, want 1", got)
	}

	rec, err = f.ledger.DeductDirect(ctx, "P1", "L1", 4, "damaged")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Quantity != 6 || rec.Reserved != 6 {
		t.Fatalf("after deduct: %+v", rec)
	}

	if _, err := f.ledger.DeductDirect(ctx, "P9", "L1", 1, ""); !errors.Is(err, domain.ErrStockNotFound) {
		t.Fatalf("missing record: %v", err)
	}
}

func TestStockLedger_SetAbsolute(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	rec, err := f.ledger.SetAbsolute(ctx, "P1", "L1", 8, "cycle count")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Quantity != 8 {
		t.Fatalf("created with %d", rec.Quantity)
	}
	if ok, _ := f.ledger.Reserve(ctx, "P1", "L1", 5, rec.Version); !ok {
		t.Fatal("reserve failed")
	}

	_, err = f.ledger.SetAbsolute(ctx, "P1", "L1", 3, "recount")
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("count below reserved: want ValidationError, got %v", err)
	}
	q, r, _ := f.stock(t, "P1", "L1")
	if q != 8 || r != 5 {
		t.Fatalf("refused adjust changed stock: q=%d r=%d", q, r)
	}

	rec, err = f.ledger.SetAbsolute(ctx, "P1", "L1", 12, "recount")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Quantity != 12 || rec.Reserved != 5 {
		t.Fatalf("adjust touched reserved: %+v", rec)
	}
}

func TestStockLedger_VersionBumpsOnEveryQuantityChange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.receive(t, "P1", "L1", 10)
	v := func() int64 {
		rec, _ := f.ledger.Get(ctx, "P1", "L1")
		return rec.Version
	}

	start := v()
	_, _ = f.ledger.Reserve(ctx, "P1", "L1", 2, start)
	_, _ = f.ledger.ConfirmSale(ctx, hold("r-1", "P1", "L1", 1))
	_, _ = f.ledger.Release(ctx, hold("r-2", "P1", "L1", 1))
	_, _ = f.ledger.DeductDirect(ctx, "P1", "L1", 1, "")
	_, _ = f.ledger.SetAbsolute(ctx, "P1", "L1", 7, "")
	if got := v(); got != start+5 {
		t.Fatalf("version = %d, want %d", got, start+5)
	}
	_, _ = f.ledger.SetReorderThreshold(ctx, "P1", "L1", 3)
	if got := v(); got != start+5 {
		t.Fatalf("threshold bumped version to %d", got)
	}
}

func TestStockLedger_ConfirmAndReleaseGuards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.receive(t, "P1", "L1", 5)

	if ok, err := f.ledger.ConfirmSale(ctx, hold("r-1", "P1", "L1", 1)); err != nil || ok {
		t.Fatalf("confirm with nothing reserved: ok=%v err=%v", ok, err)
	}
	if ok, err := f.ledger.Release(ctx, hold("r-2", "P1", "L1", 1)); err != nil || ok {
		t.Fatalf("release with nothing reserved: ok=%v err=%v", ok, err)
	}
	if ok, err := f.ledger.Release(ctx, hold("r-3", "P404", "L1", 1)); err != nil || ok {
		t.Fatalf("release on missing record: ok=%v err=%v", ok, err)
	}
	// a refused guard leaves nothing in the journal
	if st, err := f.ledger.SettlementFor(ctx, "r-1"); err != nil || st != nil {
		t.Fatalf("settlement after refused guard: %+v %v", st, err)
	}
}

func TestStockLedger_ConcurrentReserveOneWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.receive(t, "P1", "L1", 100)
	rec, _ := f.ledger.Get(ctx, "P1", "L1")

	const n = 16
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := f.ledger.Reserve(ctx, "P1", "L1", 1, rec.Version)
			if err != nil {
				t.Error(err)
				return
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("%d reservers won on the same version, want 1", wins.Load())
	}
	_, r, _ := f.stock(t, "P1", "L1")
	if r != 1 {
		t.Fatalf("reserved = %d, want 1", r)
	}
}

func TestStockLedger_Reads(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.receive(t, "P1", "L1", 2)
	f.receive(t, "P2", "L1", 50)
	f.receive(t, "P1", "L2", 9)
	_, _ = f.ledger.SetReorderThreshold(ctx, "P1", "L1", 5)

	if n, _ := f.ledger.AvailableQuantity(ctx, "P404", "L1"); n != 0 {
		t.Fatalf("missing record available = %d", n)
	}
	if ok, _ := f.ledger.HasSufficient(ctx, "P2", "L1", 50); !ok {
		t.Fatal("HasSufficient(50) = false")
	}
	if ok, _ := f.ledger.HasSufficient(ctx, "P2", "L1", 51); ok {
		t.Fatal("HasSufficient(51) = true")
	}

	low, _ := f.ledger.ListLowStock(ctx, "L1")
	if len(low) != 1 || low[0].ProductID != "P1" {
		t.Fatalf("low stock = %+v", low)
	}
	if rows, _ := f.ledger.ListByProduct(ctx, "P1"); len(rows) != 2 {
		t.Fatalf("P1 rows = %d", len(rows))
	}
	st, err := f.ledger.LocationStats(ctx, "L1")
	if err != nil {
		t.Fatal(err)
	}
	if st.Products != 2 || st.TotalQuantity != 52 || st.LowStock != 1 {
		t.Fatalf("stats = %+v", st)
	}
}
