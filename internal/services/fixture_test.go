package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"stockhold/internal/domain"
	"stockhold/internal/lock"
	"stockhold/internal/repos"
	"stockhold/internal/services"
)

// clock is a settable time source shared by every service in a fixture.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	clock   *clock
	metrics *services.Metrics
	ledger  *services.StockLedger
	store   *services.ReservationStore
	sales   *services.SaleOrchestrator
	reaper  *services.ExpiryReaper
	resRepo *repos.ReservationRepo
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := repos.OpenDB(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	clk := &clock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	m := services.NewMetrics(prometheus.NewRegistry())

	ledger := services.NewStockLedger(repos.NewStockRepo(db), m)
	ledger.Now = clk.Now
	resRepo := repos.NewReservationRepo(db)
	store := services.NewReservationStore(resRepo, 30*time.Minute)
	store.Now = clk.Now
	sales := services.NewSaleOrchestrator(ledger, store, m)
	reaper := services.NewExpiryReaper(ledger, store, lock.NewLocal(), m)
	reaper.Now = clk.Now

	return &fixture{
		clock: clk, metrics: m, ledger: ledger, store: store,
		sales: sales, reaper: reaper, resRepo: resRepo,
	}
}

// hold is a reservation as the ledger sees it; no row is stored for it.
func hold(id, product, location string, qty int) *domain.Reservation {
	return &domain.Reservation{ID: id, ProductID: product, LocationID: location, Quantity: qty}
}

func (f *fixture) receive(t *testing.T, product, location string, qty int) {
	t.Helper()
	if _, err := f.ledger.Receive(context.Background(), product, location, qty); err != nil {
		t.Fatalf("receive %s/%s: %v", product, location, err)
	}
}

func (f *fixture) stock(t *testing.T, product, location string) (quantity, reserved, available int) {
	t.Helper()
	rec, err := f.ledger.Get(context.Background(), product, location)
	if err != nil {
		t.Fatalf("get %s/%s: %v", product, location, err)
	}
	return rec.Quantity, rec.Reserved, rec.Available()
}
