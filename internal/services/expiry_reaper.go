package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stockhold/internal/domain"
	"stockhold/internal/lock"
	applog "stockhold/internal/log"
)

const (
	sweepLockName = "expiry-sweep"
	purgeLockName = "retention-purge"
)

// ExpiryReaper retires reservations whose window has passed and returns
// their units to availability. It also runs retention cleanup.
type ExpiryReaper struct {
	Ledger       *StockLedger
	Reservations *ReservationStore
	Locker       lock.Locker
	Metrics      *Metrics

	Interval      time.Duration
	Batch         int
	SettleGrace   time.Duration
	PurgeInterval time.Duration
	Retention     time.Duration

	Now func() time.Time
}

func NewExpiryReaper(ledger *StockLedger, store *ReservationStore, locker lock.Locker, m *Metrics) *ExpiryReaper {
	return &ExpiryReaper{
		Ledger:        ledger,
		Reservations:  store,
		Locker:        locker,
		Metrics:       m,
		Interval:      5 * time.Minute,
		Batch:         200,
		SettleGrace:   time.Minute,
		PurgeInterval: 24 * time.Hour,
		Retention:     30 * 24 * time.Hour,
	}
}

func (r *ExpiryReaper) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

type SweepResult struct {
	Scanned       int  `json:"scanned"`
	Expired       int  `json:"expired"`
	ReleasedUnits int  `json:"releasedUnits"`
	Confirmed     int  `json:"confirmed"`
	Deferred      int  `json:"deferred"`
	Failed        int  `json:"failed"`
	Skipped       bool `json:"skipped"`
}

// Run sweeps every Interval and purges every PurgeInterval until ctx is done.
func (r *ExpiryReaper) Run(ctx context.Context) error {
	if r.Interval <= 0 || r.PurgeInterval <= 0 {
		return fmt.Errorf("reaper intervals must be positive (sweep %s, purge %s)", r.Interval, r.PurgeInterval)
	}
	applog.Info(nil, "reaper.start", map[string]any{
		"interval": r.Interval.String(), "purge_interval": r.PurgeInterval.String(),
	})
	sweep := time.NewTicker(r.Interval)
	defer sweep.Stop()
	purge := time.NewTicker(r.PurgeInterval)
	defer purge.Stop()

	for {
		select {
		case <-sweep.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				applog.Error(nil, "reaper.sweep.fail", err, nil)
			}
		case <-purge.C:
			if _, err := r.Purge(ctx); err != nil && ctx.Err() == nil {
				applog.Error(nil, "reaper.purge.fail", err, nil)
			}
		case <-ctx.Done():
			applog.Info(nil, "reaper.stop", nil)
			return nil
		}
	}
}

func (r *ExpiryReaper) acquire(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	if r.Locker == nil {
		return func() {}, true, nil
	}
	if ttl < time.Minute {
		ttl = time.Minute
	}
	return r.Locker.TryLock(ctx, name, ttl)
}

// Sweep expires every due reservation, batch by batch. A sweep that finds
// another one in progress returns with Skipped set.
func (r *ExpiryReaper) Sweep(ctx context.Context) (SweepResult, error) {
	var out SweepResult
	release, ok, err := r.acquire(ctx, sweepLockName, r.Interval)
	if err != nil {
		return out, fmt.Errorf("sweep lock: %w", err)
	}
	if !ok {
		r.Metrics.sweepSkipped()
		applog.Debug(nil, "reaper.sweep.skip", nil)
		out.Skipped = true
		return out, nil
	}
	defer release()

	start := time.Now()
	defer func() { r.Metrics.sweepSeconds(time.Since(start).Seconds()) }()

	batch := r.Batch
	if batch <= 0 {
		batch = 200
	}
	for {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		due, err := r.Reservations.Due(ctx, batch)
		if err != nil {
			return out, fmt.Errorf("list due reservations: %w", err)
		}
		progressed := 0
		for i := range due {
			out.Scanned++
			outcome, units, err := r.retire(ctx, &due[i])
			switch {
			case err != nil:
				out.Failed++
				r.Metrics.sweepError()
				applog.Error(nil, "reaper.expire.fail", err, map[string]any{"reservation": due[i].ID})
			case outcome == retireExpired:
				progressed++
				out.Expired++
				out.ReleasedUnits += units
				r.Metrics.expired(units)
			case outcome == retireConfirmed:
				progressed++
				out.Confirmed++
			default:
				out.Deferred++
			}
		}
		// Rows that were deferred or failed come back in the next query, so
		// only keep paging while the batch made room.
		if len(due) < batch || progressed == 0 {
			break
		}
	}

	if out.Scanned > 0 {
		applog.Info(nil, "reaper.sweep", map[string]any{
			"scanned": out.Scanned, "expired": out.Expired, "released": out.ReleasedUnits,
			"confirmed": out.Confirmed, "deferred": out.Deferred, "failed": out.Failed,
		})
	}
	return out, nil
}

type retireOutcome int

const (
	retireDeferred retireOutcome = iota // left for another flow or a later sweep
	retireExpired
	retireConfirmed // a stale confirm was finished instead
)

// retire releases then expires one reservation.
func (r *ExpiryReaper) retire(ctx context.Context, res *domain.Reservation) (retireOutcome, int, error) {
	switch res.Hold {
	case domain.HoldHeld:
		claimed, err := r.Reservations.claimHold(ctx, res.ID, domain.HoldReleasing)
		if err != nil || !claimed {
			return retireDeferred, 0, err
		}
		return r.release(ctx, res)
	case domain.HoldPending:
		closed, err := r.Reservations.closeUnheld(ctx, res.ID)
		if err != nil || !closed {
			return retireDeferred, 0, err
		}
	case domain.HoldConsuming, domain.HoldReleasing:
		// Another flow claimed the hold. Give it SettleGrace to finish, then
		// finish it from the settlement journal.
		if r.now().Sub(res.UpdatedAt) < r.SettleGrace {
			return retireDeferred, 0, nil
		}
		applog.Warn(nil, "reaper.claim.stale", nil, map[string]any{
			"reservation": res.ID, "hold": res.Hold, "updated_at": res.UpdatedAt,
		})
		return r.recover(ctx, res)
	}
	return r.expire(ctx, res, 0)
}

// recover resolves a claim whose owner stopped before finishing. A journaled
// consume means the sale happened and is recorded as CONFIRMED; otherwise
// the reaper takes the claim over and releases.
func (r *ExpiryReaper) recover(ctx context.Context, res *domain.Reservation) (retireOutcome, int, error) {
	st, err := r.Ledger.SettlementFor(ctx, res.ID)
	if err != nil {
		return retireDeferred, 0, err
	}
	if st != nil && st.Kind == domain.SettleConsume {
		return r.finishConfirm(ctx, res)
	}
	if res.Hold == domain.HoldConsuming {
		took, err := r.Reservations.swapHold(ctx, res.ID, domain.HoldConsuming, domain.HoldReleasing)
		if err != nil || !took {
			return retireDeferred, 0, err
		}
	}
	return r.release(ctx, res)
}

// release settles a RELEASING hold owned by the reaper, then expires the
// reservation.
func (r *ExpiryReaper) release(ctx context.Context, res *domain.Reservation) (retireOutcome, int, error) {
	ok, err := r.Ledger.Release(ctx, res)
	if err != nil {
		if rerr := r.Reservations.restoreHold(ctx, res.ID, domain.HoldReleasing); rerr != nil {
			applog.Error(nil, "reaper.restore.fail", rerr, map[string]any{"reservation": res.ID})
		}
		return retireDeferred, 0, err
	}
	units := 0
	if ok {
		units = res.Quantity
	} else {
		st, err := r.Ledger.SettlementFor(ctx, res.ID)
		if err != nil {
			return retireDeferred, 0, err
		}
		switch {
		case st == nil:
			// The ledger holds fewer units than this reservation claims.
			// Retire it anyway; leaving it ACTIVE would only repeat this.
			applog.Error(nil, "reaper.release.mismatch", nil, map[string]any{
				"reservation": res.ID, "product": res.ProductID, "location": res.LocationID, "qty": res.Quantity,
			})
		case st.Kind == domain.SettleConsume:
			// A confirm we took over got its consume in first.
			return r.finishConfirm(ctx, res)
		}
	}
	if _, err := r.Reservations.settleHold(ctx, res.ID, domain.HoldReleasing); err != nil {
		return retireDeferred, units, err
	}
	return r.expire(ctx, res, units)
}

func (r *ExpiryReaper) expire(ctx context.Context, res *domain.Reservation, units int) (retireOutcome, int, error) {
	if err := r.Reservations.Expire(ctx, res.ID); err != nil {
		if errors.Is(err, domain.ErrInvalidReservationState) {
			// a cancel finished the row first; the units are already counted
			return retireDeferred, units, nil
		}
		return retireDeferred, units, err
	}
	applog.Audit(nil, "reservation.expire", map[string]any{
		"reservation": res.ID, "product": res.ProductID, "location": res.LocationID, "released": units,
	})
	return retireExpired, units, nil
}

func (r *ExpiryReaper) finishConfirm(ctx context.Context, res *domain.Reservation) (retireOutcome, int, error) {
	err := r.Reservations.completeConfirm(ctx, res.ID)
	if errors.Is(err, domain.ErrInvalidReservationState) {
		// the confirm finished on its own
		return retireDeferred, 0, nil
	}
	if err != nil {
		return retireDeferred, 0, err
	}
	r.Metrics.sale("confirm", "recovered")
	applog.Audit(nil, "sale.confirm.recovered", map[string]any{
		"reservation": res.ID, "product": res.ProductID, "location": res.LocationID, "qty": res.Quantity,
	})
	return retireConfirmed, 0, nil
}

// Purge removes reservation rows older than Retention.
func (r *ExpiryReaper) Purge(ctx context.Context) (int64, error) {
	release, ok, err := r.acquire(ctx, purgeLockName, r.PurgeInterval)
	if err != nil {
		return 0, fmt.Errorf("purge lock: %w", err)
	}
	if !ok {
		return 0, nil
	}
	defer release()

	n, err := r.Reservations.Purge(ctx, r.Retention)
	if err != nil {
		return 0, err
	}
	r.Metrics.purged(n)
	if n > 0 {
		applog.Info(nil, "reaper.purge", map[string]any{"deleted": n, "retention": r.Retention.String()})
	}
	return n, nil
}
