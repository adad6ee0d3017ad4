package services

import (
	"context"
	"errors"

	"stockhold/internal/domain"
	applog "stockhold/internal/log"
	"stockhold/internal/validate"
)

// SaleOrchestrator runs the reserve/confirm/cancel sagas across the ledger
// and the reservation store. No lock spans the steps; every path that
// consumes a hold claims it first so the ledger moves at most once per hold.
type SaleOrchestrator struct {
	Ledger       *StockLedger
	Reservations *ReservationStore
	Metrics      *Metrics
}

func NewSaleOrchestrator(ledger *StockLedger, store *ReservationStore, m *Metrics) *SaleOrchestrator {
	return &SaleOrchestrator{Ledger: ledger, Reservations: store, Metrics: m}
}

type SaleRequest struct {
	ProductID  string `json:"productId"`
	LocationID string `json:"locationId"`
	Quantity   int    `json:"quantity"`
	CustomerID string `json:"customerId"`
	SellerID   string `json:"sellerId"`
	Notes      string `json:"notes"`
}

func (req SaleRequest) validate() error {
	if err := checkKey(req.ProductID, req.LocationID); err != nil {
		return err
	}
	if err := checkQty(req.Quantity); err != nil {
		return err
	}
	if _, ok := validate.Party(req.CustomerID); !ok {
		return domain.Invalid("customerId", "malformed")
	}
	if _, ok := validate.Party(req.SellerID); !ok {
		return domain.Invalid("sellerId", "malformed")
	}
	return nil
}

// ReserveForSale holds req.Quantity units for the customer and returns the
// new reservation. It fails with InsufficientStockError when the units are not
// there and with ErrConcurrencyConflict when the record changed underneath.
// Conflicts are not retried here.
func (o *SaleOrchestrator) ReserveForSale(ctx context.Context, req SaleRequest) (*domain.Reservation, error) {
	if err := req.validate(); err != nil {
		o.Metrics.sale("reserve", "invalid")
		return nil, err
	}

	rec, err := o.Ledger.Ensure(ctx, req.ProductID, req.LocationID)
	if err != nil {
		o.Metrics.sale("reserve", "error")
		return nil, err
	}
	if rec.Available() < req.Quantity {
		o.Metrics.sale("reserve", "insufficient")
		return nil, &domain.InsufficientStockError{
			ProductID: req.ProductID, LocationID: req.LocationID,
			Available: rec.Available(), Requested: req.Quantity,
		}
	}

	res, err := o.Reservations.Create(ctx, NewReservation{
		ProductID:  req.ProductID,
		LocationID: req.LocationID,
		Quantity:   req.Quantity,
		CustomerID: req.CustomerID,
		SellerID:   req.SellerID,
		Notes:      req.Notes,
	})
	if err != nil {
		o.Metrics.sale("reserve", "error")
		return nil, err
	}

	ok, err := o.Ledger.Reserve(ctx, req.ProductID, req.LocationID, req.Quantity, rec.Version)
	if err != nil || !ok {
		o.abandon(ctx, res)
		if err != nil {
			o.Metrics.sale("reserve", "error")
			return nil, err
		}
		o.Metrics.sale("reserve", "conflict")
		applog.Info(nil, "sale.reserve.conflict", map[string]any{
			"reservation": res.ID, "product": req.ProductID, "location": req.LocationID, "version": rec.Version,
		})
		return nil, domain.ErrConcurrencyConflict
	}

	held, err := o.Reservations.markHeld(ctx, res.ID)
	if err != nil || !held {
		// The reservation was closed before the hold was recorded, so nobody
		// else will release these units.
		if _, rerr := o.Ledger.Release(ctx, res); rerr != nil {
			applog.Error(nil, "sale.reserve.unwind.fail", rerr, map[string]any{
				"reservation": res.ID, "qty": req.Quantity,
			})
		}
		if err != nil {
			o.Metrics.sale("reserve", "error")
			return nil, err
		}
		o.Metrics.sale("reserve", "conflict")
		return nil, domain.ErrConcurrencyConflict
	}
	res.Hold = domain.HoldHeld

	o.Metrics.sale("reserve", "ok")
	applog.Audit(nil, "sale.reserve", map[string]any{
		"reservation": res.ID, "product": res.ProductID, "location": res.LocationID,
		"qty": res.Quantity, "customer": res.CustomerID, "seller": res.SellerID,
	})
	return res, nil
}

// abandon closes a reservation whose ledger reserve never applied.
func (o *SaleOrchestrator) abandon(ctx context.Context, res *domain.Reservation) {
	if _, err := o.Reservations.closeUnheld(ctx, res.ID); err != nil {
		applog.Error(nil, "sale.reserve.compensate.fail", err, map[string]any{"reservation": res.ID})
		return
	}
	if err := o.Reservations.Cancel(ctx, res.ID); err != nil {
		applog.Error(nil, "sale.reserve.compensate.fail", err, map[string]any{"reservation": res.ID})
	}
}

// ConfirmSale completes a reservation. It returns false, leaving the
// reservation ACTIVE, when the hold cannot be consumed; that is an
// inconsistency worth investigating and is logged as such.
func (o *SaleOrchestrator) ConfirmSale(ctx context.Context, id string) (bool, error) {
	res, err := o.Reservations.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if err := canConfirm(res, o.Reservations.now()); err != nil {
		o.Metrics.sale("confirm", "rejected")
		return false, err
	}

	claimed, err := o.Reservations.claimHold(ctx, id, domain.HoldConsuming)
	if err != nil {
		o.Metrics.sale("confirm", "error")
		return false, err
	}
	if !claimed {
		return o.unclaimed(ctx, id, "confirm")
	}

	ok, err := o.Ledger.ConfirmSale(ctx, res)
	if err != nil {
		if rerr := o.Reservations.restoreHold(ctx, id, domain.HoldConsuming); rerr != nil {
			applog.Error(nil, "sale.confirm.restore.fail", rerr, map[string]any{"reservation": id})
		}
		o.Metrics.sale("confirm", "error")
		return false, err
	}
	if !ok {
		st, err := o.Ledger.SettlementFor(ctx, id)
		if err != nil {
			// The claim stays; the reaper resolves it from the journal.
			o.Metrics.sale("confirm", "error")
			return false, err
		}
		switch {
		case st == nil:
			if rerr := o.Reservations.restoreHold(ctx, id, domain.HoldConsuming); rerr != nil {
				applog.Error(nil, "sale.confirm.restore.fail", rerr, map[string]any{"reservation": id})
			}
			o.Metrics.sale("confirm", "ledger_mismatch")
			applog.Error(nil, "sale.confirm.ledger_mismatch", nil, map[string]any{
				"reservation": id, "product": res.ProductID, "location": res.LocationID, "qty": res.Quantity,
			})
			return false, nil
		case st.Kind == domain.SettleRelease:
			// The reaper took over a claim that outlived the settle grace and
			// gave the units back.
			o.Metrics.sale("confirm", "rejected")
			return false, &domain.InvalidReservationStateError{
				ID: id, Current: res.Status, Attempted: "confirm", Expired: true,
			}
		}
	}

	if err := o.Reservations.completeConfirm(ctx, id); err != nil {
		// The consume is journaled; the reaper records CONFIRMED once the
		// settle grace passes.
		o.Metrics.sale("confirm", "error")
		applog.Error(nil, "sale.confirm.record.fail", err, map[string]any{"reservation": id, "qty": res.Quantity})
		return false, err
	}

	o.Metrics.sale("confirm", "ok")
	applog.Audit(nil, "sale.confirm", map[string]any{
		"reservation": id, "product": res.ProductID, "location": res.LocationID, "qty": res.Quantity,
	})
	return true, nil
}

// CancelSale cancels an ACTIVE or EXPIRED reservation and returns any units
// it still holds. It returns false when another flow is settling the hold.
func (o *SaleOrchestrator) CancelSale(ctx context.Context, id string) (bool, error) {
	res, err := o.Reservations.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if res.Status != domain.StatusActive && res.Status != domain.StatusExpired {
		o.Metrics.sale("cancel", "rejected")
		return false, &domain.InvalidReservationStateError{ID: id, Current: res.Status, Attempted: "cancel"}
	}

	released := 0
	switch res.Hold {
	case domain.HoldHeld:
		claimed, err := o.Reservations.claimHold(ctx, id, domain.HoldReleasing)
		if err != nil {
			o.Metrics.sale("cancel", "error")
			return false, err
		}
		if !claimed {
			return o.unclaimed(ctx, id, "cancel")
		}
		ok, err := o.Ledger.Release(ctx, res)
		if err != nil {
			if rerr := o.Reservations.restoreHold(ctx, id, domain.HoldReleasing); rerr != nil {
				applog.Error(nil, "sale.cancel.restore.fail", rerr, map[string]any{"reservation": id})
			}
			o.Metrics.sale("cancel", "error")
			return false, err
		}
		if ok {
			released = res.Quantity
		} else if done, err := o.releasedElsewhere(ctx, res); !done {
			return false, err
		}
		if _, err := o.Reservations.settleHold(ctx, id, domain.HoldReleasing); err != nil {
			o.Metrics.sale("cancel", "error")
			return false, err
		}
	case domain.HoldPending:
		closed, err := o.Reservations.closeUnheld(ctx, id)
		if err != nil {
			o.Metrics.sale("cancel", "error")
			return false, err
		}
		if !closed {
			return o.unclaimed(ctx, id, "cancel")
		}
	case domain.HoldConsuming, domain.HoldReleasing:
		o.Metrics.sale("cancel", "busy")
		return false, nil
	case domain.HoldSettled:
		// A sold reservation stays sold even if its row never reached
		// CONFIRMED.
		st, err := o.Ledger.SettlementFor(ctx, id)
		if err != nil {
			o.Metrics.sale("cancel", "error")
			return false, err
		}
		if st != nil && st.Kind == domain.SettleConsume {
			o.Metrics.sale("cancel", "rejected")
			return false, &domain.InvalidReservationStateError{ID: id, Current: res.Status, Attempted: "cancel"}
		}
	}

	if err := o.Reservations.Cancel(ctx, id); err != nil {
		o.Metrics.sale("cancel", "error")
		if released > 0 {
			applog.Error(nil, "sale.cancel.record.fail", err, map[string]any{"reservation": id, "released": released})
		}
		return false, err
	}

	o.Metrics.sale("cancel", "ok")
	applog.Audit(nil, "sale.cancel", map[string]any{
		"reservation": id, "product": res.ProductID, "location": res.LocationID, "released": released,
	})
	return true, nil
}

// releasedElsewhere resolves a cancel whose release did not apply. done is
// true when another flow already released the units and the cancel can go
// on; otherwise the claim is undone and the result is the caller's answer.
func (o *SaleOrchestrator) releasedElsewhere(ctx context.Context, res *domain.Reservation) (done bool, err error) {
	st, err := o.Ledger.SettlementFor(ctx, res.ID)
	if err != nil {
		o.Metrics.sale("cancel", "error")
		return false, err
	}
	switch {
	case st == nil:
		if rerr := o.Reservations.restoreHold(ctx, res.ID, domain.HoldReleasing); rerr != nil {
			applog.Error(nil, "sale.cancel.restore.fail", rerr, map[string]any{"reservation": res.ID})
		}
		o.Metrics.sale("cancel", "ledger_mismatch")
		applog.Error(nil, "sale.cancel.ledger_mismatch", nil, map[string]any{
			"reservation": res.ID, "product": res.ProductID, "location": res.LocationID, "qty": res.Quantity,
		})
		return false, nil
	case st.Kind == domain.SettleConsume:
		o.Metrics.sale("cancel", "rejected")
		return false, &domain.InvalidReservationStateError{ID: res.ID, Current: res.Status, Attempted: "cancel"}
	}
	return true, nil
}

// unclaimed handles a lost hold claim: a terminal reservation is reported
// as an invalid transition, a live one as busy.
func (o *SaleOrchestrator) unclaimed(ctx context.Context, id, op string) (bool, error) {
	cur, err := o.Reservations.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if cur.Status == domain.StatusConfirmed || cur.Status == domain.StatusCancelled ||
		(op == "confirm" && cur.Status != domain.StatusActive) {
		o.Metrics.sale(op, "rejected")
		return false, &domain.InvalidReservationStateError{ID: id, Current: cur.Status, Attempted: op}
	}
	o.Metrics.sale(op, "busy")
	applog.Info(nil, "sale."+op+".busy", map[string]any{"reservation": id, "hold": cur.Hold})
	return false, nil
}

// IsRetryable reports whether err is worth retrying as-is.
func IsRetryable(err error) bool {
	return errors.Is(err, domain.ErrConcurrencyConflict)
}
