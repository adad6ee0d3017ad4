package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"stockhold/internal/domain"
	applog "stockhold/internal/log"
	"stockhold/internal/repos"
	"stockhold/internal/validate"
)

const DefaultReservationTTL = 30 * time.Minute

// ReservationStore owns reservation records and the
// ACTIVE -> {CONFIRMED, CANCELLED, EXPIRED}, EXPIRED -> CANCELLED state machine.
type ReservationStore struct {
	Repo *repos.ReservationRepo
	TTL  time.Duration
	Now  func() time.Time
}

func NewReservationStore(repo *repos.ReservationRepo, ttl time.Duration) *ReservationStore {
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	return &ReservationStore{Repo: repo, TTL: ttl}
}

func (s *ReservationStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

type NewReservation struct {
	ProductID  string
	LocationID string
	Quantity   int
	CustomerID string
	SellerID   string
	Notes      string
	// TTL overrides the store default when positive.
	TTL time.Duration
}

// Create opens an ACTIVE reservation whose hold is still PENDING.
func (s *ReservationStore) Create(ctx context.Context, in NewReservation) (*domain.Reservation, error) {
	if err := checkKey(in.ProductID, in.LocationID); err != nil {
		return nil, err
	}
	if err := checkQty(in.Quantity); err != nil {
		return nil, err
	}
	customer, ok := validate.Party(in.CustomerID)
	if !ok {
		return nil, domain.Invalid("customerId", "malformed")
	}
	seller, ok := validate.Party(in.SellerID)
	if !ok {
		return nil, domain.Invalid("sellerId", "malformed")
	}
	ttl := in.TTL
	if ttl <= 0 {
		ttl = s.TTL
	}

	now := s.now()
	r := &domain.Reservation{
		ID:         uuid.NewString(),
		ProductID:  in.ProductID,
		LocationID: in.LocationID,
		Quantity:   in.Quantity,
		CustomerID: customer,
		SellerID:   seller,
		Status:     domain.StatusActive,
		Hold:       domain.HoldPending,
		Notes:      validate.Notes(in.Notes),
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
		UpdatedAt:  now,
	}
	if err := s.Repo.Insert(ctx, r); err != nil {
		return nil, fmt.Errorf("create reservation: %w", err)
	}
	applog.Info(nil, "reservation.create", map[string]any{
		"reservation": r.ID, "product": r.ProductID, "location": r.LocationID,
		"qty": r.Quantity, "customer": r.CustomerID, "expires_at": r.ExpiresAt,
	})
	return r, nil
}

func (s *ReservationStore) Get(ctx context.Context, id string) (*domain.Reservation, error) {
	r, err := s.Repo.Get(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ReservationNotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get reservation %s: %w", id, err)
	}
	return r, nil
}

// Confirm is legal only from ACTIVE before the window closes.
func (s *ReservationStore) Confirm(ctx context.Context, id string) error {
	r, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	now := s.now()
	if err := canConfirm(r, now); err != nil {
		return err
	}
	ok, err := s.Repo.MarkConfirmed(ctx, id, now)
	if err != nil {
		return fmt.Errorf("confirm reservation %s: %w", id, err)
	}
	if !ok {
		return s.stateError(ctx, id, "confirm")
	}
	applog.Audit(nil, "reservation.confirm", map[string]any{"reservation": id})
	return nil
}

// Cancel is legal from ACTIVE or EXPIRED.
func (s *ReservationStore) Cancel(ctx context.Context, id string) error {
	r, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if r.Status != domain.StatusActive && r.Status != domain.StatusExpired {
		return &domain.InvalidReservationStateError{ID: id, Current: r.Status, Attempted: "cancel"}
	}
	ok, err := s.Repo.MarkCancelled(ctx, id, s.now())
	if err != nil {
		return fmt.Errorf("cancel reservation %s: %w", id, err)
	}
	if !ok {
		return s.stateError(ctx, id, "cancel")
	}
	applog.Audit(nil, "reservation.cancel", map[string]any{"reservation": id})
	return nil
}

// Expire is legal only from ACTIVE once the window has passed. Only the
// reaper calls it.
func (s *ReservationStore) Expire(ctx context.Context, id string) error {
	r, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	now := s.now()
	if r.Status != domain.StatusActive || !r.ExpiredAt(now) {
		return &domain.InvalidReservationStateError{ID: id, Current: r.Status, Attempted: "expire"}
	}
	ok, err := s.Repo.MarkExpired(ctx, id, now)
	if err != nil {
		return fmt.Errorf("expire reservation %s: %w", id, err)
	}
	if !ok {
		return s.stateError(ctx, id, "expire")
	}
	return nil
}

func canConfirm(r *domain.Reservation, now time.Time) error {
	if r.Status != domain.StatusActive {
		return &domain.InvalidReservationStateError{ID: r.ID, Current: r.Status, Attempted: "confirm"}
	}
	if r.ExpiredAt(now) {
		return &domain.InvalidReservationStateError{ID: r.ID, Current: r.Status, Attempted: "confirm", Expired: true}
	}
	return nil
}

// stateError re-reads a reservation whose guarded transition lost a race.
func (s *ReservationStore) stateError(ctx context.Context, id, attempted string) error {
	r, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return &domain.InvalidReservationStateError{
		ID: id, Current: r.Status, Attempted: attempted, Expired: r.ExpiredAt(s.now()),
	}
}

// ---------- hold bookkeeping, used by the orchestrator and the reaper ----------

func (s *ReservationStore) swapHold(ctx context.Context, id string, from, to domain.HoldState) (bool, error) {
	ok, err := s.Repo.SwapHold(ctx, id, from, to, s.now())
	if err != nil {
		return false, fmt.Errorf("reservation %s hold %s->%s: %w", id, from, to, err)
	}
	return ok, nil
}

// markHeld records that the ledger now holds the reservation's units.
func (s *ReservationStore) markHeld(ctx context.Context, id string) (bool, error) {
	return s.swapHold(ctx, id, domain.HoldPending, domain.HoldHeld)
}

// claimHold gives the caller exclusive right to take the held units out of
// the ledger; intent is HoldConsuming for a sale, HoldReleasing otherwise.
func (s *ReservationStore) claimHold(ctx context.Context, id string, intent domain.HoldState) (bool, error) {
	return s.swapHold(ctx, id, domain.HoldHeld, intent)
}

// restoreHold undoes a claim whose ledger step did not apply.
func (s *ReservationStore) restoreHold(ctx context.Context, id string, claimed domain.HoldState) error {
	ok, err := s.swapHold(ctx, id, claimed, domain.HoldHeld)
	if err == nil && !ok {
		applog.Error(nil, "reservation.hold.restore.miss", nil, map[string]any{"reservation": id, "from": claimed})
	}
	return err
}

// settleHold records that the claimed ledger step has been applied.
func (s *ReservationStore) settleHold(ctx context.Context, id string, claimed domain.HoldState) (bool, error) {
	return s.swapHold(ctx, id, claimed, domain.HoldSettled)
}

// closeUnheld settles a hold that never reached the ledger.
func (s *ReservationStore) closeUnheld(ctx context.Context, id string) (bool, error) {
	return s.swapHold(ctx, id, domain.HoldPending, domain.HoldSettled)
}

// completeConfirm records CONFIRMED, and closes the hold, after the ledger
// consumed the units; the window was checked before the ledger step.
func (s *ReservationStore) completeConfirm(ctx context.Context, id string) error {
	ok, err := s.Repo.MarkSettledConfirmed(ctx, id, s.now())
	if err != nil {
		return fmt.Errorf("confirm reservation %s: %w", id, err)
	}
	if !ok {
		return s.stateError(ctx, id, "confirm")
	}
	return nil
}

// ---------- reads ----------

func (s *ReservationStore) ByCustomer(ctx context.Context, customerID string) ([]domain.Reservation, error) {
	return s.Repo.ByCustomer(ctx, customerID)
}

func (s *ReservationStore) ByProduct(ctx context.Context, productID string) ([]domain.Reservation, error) {
	return s.Repo.ByProduct(ctx, productID)
}

func (s *ReservationStore) ByLocation(ctx context.Context, locationID string) ([]domain.Reservation, error) {
	return s.Repo.ByLocation(ctx, locationID)
}

func (s *ReservationStore) ByProductLocation(ctx context.Context, productID, locationID string) ([]domain.Reservation, error) {
	return s.Repo.ByProductLocation(ctx, productID, locationID)
}

func (s *ReservationStore) ByStatus(ctx context.Context, status domain.ReservationStatus) ([]domain.Reservation, error) {
	return s.Repo.ByStatus(ctx, status)
}

// Active lists reservations that are ACTIVE and still inside their window.
func (s *ReservationStore) Active(ctx context.Context) ([]domain.Reservation, error) {
	return s.Repo.ActiveUnexpired(ctx, s.now())
}

func (s *ReservationStore) ActiveFor(ctx context.Context, productID, locationID string) ([]domain.Reservation, error) {
	return s.Repo.ActiveUnexpiredFor(ctx, productID, locationID, s.now())
}

// ExpiringWithin lists ACTIVE reservations whose window closes in the next
// minutes minutes.
func (s *ReservationStore) ExpiringWithin(ctx context.Context, minutes int) ([]domain.Reservation, error) {
	if minutes <= 0 {
		return nil, domain.Invalid("minutes", "must be positive")
	}
	now := s.now()
	return s.Repo.ExpiringBetween(ctx, now, now.Add(time.Duration(minutes)*time.Minute))
}

func (s *ReservationStore) CreatedBetween(ctx context.Context, from, to time.Time) ([]domain.Reservation, error) {
	if to.Before(from) {
		return nil, domain.Invalid("to", "before from")
	}
	return s.Repo.CreatedBetween(ctx, from, to)
}

// Due lists ACTIVE reservations whose window has passed.
func (s *ReservationStore) Due(ctx context.Context, limit int) ([]domain.Reservation, error) {
	return s.Repo.Due(ctx, s.now(), limit)
}

func (s *ReservationStore) Stats(ctx context.Context) (domain.ReservationStats, error) {
	return s.Repo.Stats(ctx)
}

func (s *ReservationStore) ActiveTotals(ctx context.Context, productID, locationID string) (count, quantity int64, err error) {
	return s.Repo.ActiveTotals(ctx, productID, locationID, s.now())
}

func (s *ReservationStore) HasActive(ctx context.Context, productID, locationID string) (bool, error) {
	n, _, err := s.ActiveTotals(ctx, productID, locationID)
	return n > 0, err
}

// Purge deletes rows created before now-horizon.
func (s *ReservationStore) Purge(ctx context.Context, horizon time.Duration) (int64, error) {
	cutoff := s.now().Add(-horizon)
	n, err := s.Repo.DeleteCreatedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge reservations: %w", err)
	}
	return n, nil
}
