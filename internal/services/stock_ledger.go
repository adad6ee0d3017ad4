package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"stockhold/internal/domain"
	applog "stockhold/internal/log"
	"stockhold/internal/repos"
	"stockhold/internal/validate"
)

// StockLedger owns every mutation of per-(product, location) stock. Each
// mutation is one conditional statement; failed guards on Reserve,
// ConfirmSale and Release are reported as false, never as an error.
type StockLedger struct {
	Stock   *repos.StockRepo
	Metrics *Metrics
	Now     func() time.Time
}

func NewStockLedger(stock *repos.StockRepo, m *Metrics) *StockLedger {
	return &StockLedger{Stock: stock, Metrics: m}
}

func (l *StockLedger) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// checkKey rejects ids that validate.ID would have to trim, so one key can
// never be stored under two spellings.
func checkKey(productID, locationID string) error {
	if id, ok := validate.ID(productID); !ok || id != productID {
		return domain.Invalid("productId", "missing or malformed")
	}
	if id, ok := validate.ID(locationID); !ok || id != locationID {
		return domain.Invalid("locationId", "missing or malformed")
	}
	return nil
}

func checkQty(qty int) error {
	if !validate.Positive(qty) {
		return domain.Invalid("quantity", fmt.Sprintf("must be between 1 and %d", domain.MaxQuantity))
	}
	return nil
}

func (l *StockLedger) Get(ctx context.Context, productID, locationID string) (*domain.StockRecord, error) {
	if err := checkKey(productID, locationID); err != nil {
		return nil, err
	}
	rec, err := l.Stock.Get(ctx, productID, locationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrStockNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get stock %s/%s: %w", productID, locationID, err)
	}
	return rec, nil
}

// Ensure returns the record, creating it empty on first reference.
func (l *StockLedger) Ensure(ctx context.Context, productID, locationID string) (*domain.StockRecord, error) {
	if err := checkKey(productID, locationID); err != nil {
		return nil, err
	}
	rec, err := l.Stock.Ensure(ctx, productID, locationID, l.now())
	if err != nil {
		return nil, fmt.Errorf("ensure stock %s/%s: %w", productID, locationID, err)
	}
	return rec, nil
}

// Receive books an inbound delivery.
func (l *StockLedger) Receive(ctx context.Context, productID, locationID string, qty int) (*domain.StockRecord, error) {
	if err := checkKey(productID, locationID); err != nil {
		return nil, err
	}
	if err := checkQty(qty); err != nil {
		return nil, err
	}
	rec, err := l.Stock.AddQuantity(ctx, productID, locationID, qty, l.now())
	if errors.Is(err, sql.ErrNoRows) {
		l.Metrics.reject("receive")
		return nil, domain.Invalid("quantity", fmt.Sprintf("on-hand quantity would exceed %d", domain.MaxQuantity))
	}
	if err != nil {
		return nil, fmt.Errorf("receive %s/%s: %w", productID, locationID, err)
	}
	applog.Audit(nil, "ledger.receive", map[string]any{
		"product": productID, "location": locationID, "qty": qty, "quantity": rec.Quantity,
	})
	return rec, nil
}

// DeductDirect removes stock outside the sale pipeline (damage, shrinkage,
// transfers). Units held by reservations cannot be removed this way.
func (l *StockLedger) DeductDirect(ctx context.Context, productID, locationID string, qty int, reason string) (*domain.StockRecord, error) {
	if err := checkKey(productID, locationID); err != nil {
		return nil, err
	}
	if err := checkQty(qty); err != nil {
		return nil, err
	}
	rec, err := l.Stock.SubtractAvailable(ctx, productID, locationID, qty, l.now())
	if errors.Is(err, sql.ErrNoRows) {
		cur, gerr := l.Get(ctx, productID, locationID)
		if gerr != nil {
			return nil, gerr
		}
		l.Metrics.reject("deduct")
		return nil, &domain.InsufficientStockError{
			ProductID: productID, LocationID: locationID, Available: cur.Available(), Requested: qty,
		}
	}
	if err != nil {
		return nil, fmt.Errorf("deduct %s/%s: %w", productID, locationID, err)
	}
	applog.Audit(nil, "ledger.deduct", map[string]any{
		"product": productID, "location": locationID, "qty": qty, "reason": reason, "quantity": rec.Quantity,
	})
	return rec, nil
}

// Reserve holds qty units if the record is still at expectedVersion and has
// enough available. A false result does not say which guard failed.
func (l *StockLedger) Reserve(ctx context.Context, productID, locationID string, qty int, expectedVersion int64) (bool, error) {
	if err := checkKey(productID, locationID); err != nil {
		return false, err
	}
	if err := checkQty(qty); err != nil {
		return false, err
	}
	ok, err := l.Stock.Reserve(ctx, productID, locationID, qty, expectedVersion, l.now())
	if err != nil {
		return false, fmt.Errorf("reserve %s/%s: %w", productID, locationID, err)
	}
	if !ok {
		l.Metrics.reject("reserve")
		applog.Debug(nil, "ledger.reserve.reject", map[string]any{
			"product": productID, "location": locationID, "qty": qty, "version": expectedVersion,
		})
	}
	return ok, nil
}

// ConfirmSale turns a reservation's held units into a permanent reduction.
// Settlements are journaled so a reservation settles at most once: false
// means the journal already has an entry for it or the record no longer
// holds res.Quantity units, and SettlementFor tells the two apart.
func (l *StockLedger) ConfirmSale(ctx context.Context, res *domain.Reservation) (bool, error) {
	return l.move(ctx, settlementOf(res, domain.SettleConsume))
}

// Release returns a reservation's held units to the available pool. It is
// used for cancellation and for expiry.
func (l *StockLedger) Release(ctx context.Context, res *domain.Reservation) (bool, error) {
	return l.move(ctx, settlementOf(res, domain.SettleRelease))
}

func settlementOf(res *domain.Reservation, kind domain.SettlementKind) domain.Settlement {
	return domain.Settlement{
		ReservationID: res.ID, ProductID: res.ProductID, LocationID: res.LocationID, Kind: kind, Quantity: res.Quantity,
	}
}

func (l *StockLedger) move(ctx context.Context, st domain.Settlement) (bool, error) {
	if st.ReservationID == "" {
		return false, domain.Invalid("reservationId", "required")
	}
	if err := checkKey(st.ProductID, st.LocationID); err != nil {
		return false, err
	}
	if err := checkQty(st.Quantity); err != nil {
		return false, err
	}
	op := "release"
	if st.Kind == domain.SettleConsume {
		op = "confirm"
	}
	st.SettledAt = l.now()
	ok, err := l.Stock.Settle(ctx, st)
	if err != nil {
		return false, fmt.Errorf("%s %s/%s: %w", op, st.ProductID, st.LocationID, err)
	}
	if !ok {
		l.Metrics.reject(op)
	}
	return ok, nil
}

// SettlementFor returns nil when the reservation has not been settled.
func (l *StockLedger) SettlementFor(ctx context.Context, reservationID string) (*domain.Settlement, error) {
	st, err := l.Stock.SettlementFor(ctx, reservationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("settlement for %s: %w", reservationID, err)
	}
	return st, nil
}

// SetAbsolute records a physical count. reserved is untouched, so a count
// below the units currently held is rejected.
func (l *StockLedger) SetAbsolute(ctx context.Context, productID, locationID string, qty int, reason string) (*domain.StockRecord, error) {
	if err := checkKey(productID, locationID); err != nil {
		return nil, err
	}
	if !validate.NonNegative(qty) {
		return nil, domain.Invalid("quantity", fmt.Sprintf("must be between 0 and %d", domain.MaxQuantity))
	}
	rec, err := l.Stock.SetQuantity(ctx, productID, locationID, qty, l.now())
	if errors.Is(err, sql.ErrNoRows) {
		cur, gerr := l.Get(ctx, productID, locationID)
		if gerr != nil {
			return nil, gerr
		}
		l.Metrics.reject("adjust")
		return nil, domain.Invalid("quantity", fmt.Sprintf("%d is below the %d units held by reservations", qty, cur.Reserved))
	}
	if err != nil {
		return nil, fmt.Errorf("adjust %s/%s: %w", productID, locationID, err)
	}
	applog.Audit(nil, "ledger.adjust", map[string]any{
		"product": productID, "location": locationID, "quantity": qty, "reason": reason,
	})
	return rec, nil
}

func (l *StockLedger) SetReorderThreshold(ctx context.Context, productID, locationID string, threshold int) (*domain.StockRecord, error) {
	if err := checkKey(productID, locationID); err != nil {
		return nil, err
	}
	if !validate.NonNegative(threshold) {
		return nil, domain.Invalid("reorderThreshold", fmt.Sprintf("must be between 0 and %d", domain.MaxQuantity))
	}
	rec, err := l.Stock.SetThreshold(ctx, productID, locationID, threshold, l.now())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrStockNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("set threshold %s/%s: %w", productID, locationID, err)
	}
	applog.Audit(nil, "ledger.threshold", map[string]any{
		"product": productID, "location": locationID, "threshold": threshold,
	})
	return rec, nil
}

// AvailableQuantity treats a missing record as zero.
func (l *StockLedger) AvailableQuantity(ctx context.Context, productID, locationID string) (int, error) {
	rec, err := l.Get(ctx, productID, locationID)
	if errors.Is(err, domain.ErrStockNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return rec.Available(), nil
}

func (l *StockLedger) HasSufficient(ctx context.Context, productID, locationID string, qty int) (bool, error) {
	avail, err := l.AvailableQuantity(ctx, productID, locationID)
	if err != nil {
		return false, err
	}
	return avail >= qty, nil
}

func (l *StockLedger) ListAll(ctx context.Context) ([]domain.StockRecord, error) {
	return l.Stock.ListAll(ctx)
}

func (l *StockLedger) ListByLocation(ctx context.Context, locationID string) ([]domain.StockRecord, error) {
	return l.Stock.ListByLocation(ctx, locationID)
}

func (l *StockLedger) ListByProduct(ctx context.Context, productID string) ([]domain.StockRecord, error) {
	return l.Stock.ListByProduct(ctx, productID)
}

func (l *StockLedger) ListLowStock(ctx context.Context, locationID string) ([]domain.StockRecord, error) {
	return l.Stock.ListLowStock(ctx, locationID)
}

func (l *StockLedger) ListAvailable(ctx context.Context, locationID string) ([]domain.StockRecord, error) {
	return l.Stock.ListAvailable(ctx, locationID)
}

func (l *StockLedger) LocationStats(ctx context.Context, locationID string) (domain.LocationStats, error) {
	return l.Stock.LocationStats(ctx, locationID)
}
