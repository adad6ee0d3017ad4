package services_test

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"stockhold/internal/domain"
	"stockhold/internal/repos"
	"stockhold/internal/services"
)

func TestMetrics_RegisterAndCount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.receive(t, "P1", "L1", 1)

	if _, err := f.sales.ReserveForSale(ctx, sale("P1", "L1", 1)); err != nil {
		t.Fatal(err)
	}
	if _, err := f.sales.ReserveForSale(ctx, sale("P1", "L1", 1)); !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("second reserve: %v", err)
	}
	if v := testutil.ToFloat64(f.metrics.Sales.WithLabelValues("reserve", "ok")); v != 1 {
		t.Fatalf("reserve ok = %v", v)
	}
	if v := testutil.ToFloat64(f.metrics.Sales.WithLabelValues("reserve", "insufficient")); v != 1 {
		t.Fatalf("reserve insufficient = %v", v)
	}
}

func TestMetrics_DoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	services.NewMetrics(reg)
	defer func() {
		if recover() == nil {
			t.Fatal("registering twice on one registry should panic")
		}
	}()
	services.NewMetrics(reg)
}

func TestMetrics_NilIsSafe(t *testing.T) {
	db, err := repos.OpenDB(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	ledger := services.NewStockLedger(repos.NewStockRepo(db), nil)
	if _, err := ledger.Receive(context.Background(), "P1", "L1", 1); err != nil {
		t.Fatal(err)
	}
	// guard failure increments a rejects counter on a non-nil *Metrics
	held := &domain.Reservation{ID: "r-1", ProductID: "P1", LocationID: "L1", Quantity: 1}
	if ok, err := ledger.Release(context.Background(), held); err != nil || ok {
		t.Fatalf("release: ok=%v err=%v", ok, err)
	}
}
