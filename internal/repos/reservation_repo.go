package repos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"stockhold/internal/domain"
)

type ReservationRepo struct{ db *sqlx.DB }

func NewReservationRepo(db *sqlx.DB) *ReservationRepo { return &ReservationRepo{db: db} }

type reservationRow struct {
	ID         string `db:"id"`
	ProductID  string `db:"product_id"`
	LocationID string `db:"location_id"`
	Quantity   int    `db:"quantity"`
	CustomerID string `db:"customer_id"`
	SellerID   string `db:"seller_id"`
	Status     string `db:"status"`
	Hold       string `db:"hold"`
	Notes      string `db:"notes"`
	CreatedAt  int64  `db:"created_at"`
	ExpiresAt  int64  `db:"expires_at"`
	UpdatedAt  int64  `db:"updated_at"`
}

func (r reservationRow) reservation() *domain.Reservation {
	return &domain.Reservation{
		ID:         r.ID,
		ProductID:  r.ProductID,
		LocationID: r.LocationID,
		Quantity:   r.Quantity,
		CustomerID: r.CustomerID,
		SellerID:   r.SellerID,
		Status:     domain.ReservationStatus(r.Status),
		Hold:       domain.HoldState(r.Hold),
		Notes:      r.Notes,
		CreatedAt:  fromMillis(r.CreatedAt),
		ExpiresAt:  fromMillis(r.ExpiresAt),
		UpdatedAt:  fromMillis(r.UpdatedAt),
	}
}

func reservations(rows []reservationRow) []domain.Reservation {
	out := make([]domain.Reservation, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r.reservation())
	}
	return out
}

const reservationCols = `id, product_id, location_id, quantity, customer_id, seller_id, status, hold, notes, created_at, expires_at, updated_at`

func (r *ReservationRepo) Insert(ctx context.Context, res *domain.Reservation) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO reservations(`+reservationCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, res.ID, res.ProductID, res.LocationID, res.Quantity, res.CustomerID, res.SellerID,
		string(res.Status), string(res.Hold), res.Notes,
		toMillis(res.CreatedAt), toMillis(res.ExpiresAt), toMillis(res.UpdatedAt))
	return err
}

// Get returns the reservation or sql.ErrNoRows.
func (r *ReservationRepo) Get(ctx context.Context, id string) (*domain.Reservation, error) {
	var row reservationRow
	if err := r.db.GetContext(ctx, &row, `SELECT `+reservationCols+` FROM reservations WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return row.reservation(), nil
}

// ---------- status transitions (each one guarded on its source state) ----------

// MarkConfirmed moves ACTIVE -> CONFIRMED while the window is still open.
func (r *ReservationRepo) MarkConfirmed(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE reservations SET status = 'CONFIRMED', updated_at = ?
		WHERE id = ? AND status = 'ACTIVE' AND expires_at > ?
	`, toMillis(now), id, toMillis(now))
	return affected(res, err)
}

// MarkSettledConfirmed moves ACTIVE -> CONFIRMED and closes the hold for a
// reservation whose units the ledger already consumed. The hold may still be
// claimed by either flow: a stale confirm can be finished by the reaper after
// it took the claim over. The window was checked before the ledger step.
func (r *ReservationRepo) MarkSettledConfirmed(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE reservations SET status = 'CONFIRMED', hold = 'SETTLED', updated_at = ?
		WHERE id = ? AND status = 'ACTIVE' AND hold IN ('CONSUMING', 'RELEASING')
	`, toMillis(now), id)
	return affected(res, err)
}

// MarkCancelled moves ACTIVE or EXPIRED -> CANCELLED.
func (r *ReservationRepo) MarkCancelled(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE reservations SET status = 'CANCELLED', updated_at = ?
		WHERE id = ? AND status IN ('ACTIVE', 'EXPIRED')
	`, toMillis(now), id)
	return affected(res, err)
}

// MarkExpired moves ACTIVE -> EXPIRED once the window has passed.
func (r *ReservationRepo) MarkExpired(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE reservations SET status = 'EXPIRED', updated_at = ?
		WHERE id = ? AND status = 'ACTIVE' AND expires_at <= ?
	`, toMillis(now), id, toMillis(now))
	return affected(res, err)
}

// SwapHold changes the hold state only if it is still from.
func (r *ReservationRepo) SwapHold(ctx context.Context, id string, from, to domain.HoldState, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE reservations SET hold = ?, updated_at = ?
		WHERE id = ? AND hold = ?
	`, string(to), toMillis(now), id, string(from))
	return affected(res, err)
}

// ---------- reads ----------

func (r *ReservationRepo) selectMany(ctx context.Context, query string, args ...any) ([]domain.Reservation, error) {
	var rows []reservationRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT `+reservationCols+` FROM reservations `+query, args...); err != nil {
		return nil, err
	}
	return reservations(rows), nil
}

// ByCustomer lists newest first.
func (r *ReservationRepo) ByCustomer(ctx context.Context, customerID string) ([]domain.Reservation, error) {
	return r.selectMany(ctx, `WHERE customer_id = ? ORDER BY created_at DESC`, customerID)
}

func (r *ReservationRepo) ByProduct(ctx context.Context, productID string) ([]domain.Reservation, error) {
	return r.selectMany(ctx, `WHERE product_id = ? ORDER BY created_at`, productID)
}

func (r *ReservationRepo) ByLocation(ctx context.Context, locationID string) ([]domain.Reservation, error) {
	return r.selectMany(ctx, `WHERE location_id = ? ORDER BY created_at`, locationID)
}

func (r *ReservationRepo) ByProductLocation(ctx context.Context, productID, locationID string) ([]domain.Reservation, error) {
	return r.selectMany(ctx, `WHERE product_id = ? AND location_id = ? ORDER BY created_at`, productID, locationID)
}

func (r *ReservationRepo) ByStatus(ctx context.Context, status domain.ReservationStatus) ([]domain.Reservation, error) {
	return r.selectMany(ctx, `WHERE status = ? ORDER BY created_at`, string(status))
}

// ActiveUnexpired lists ACTIVE reservations whose window is still open.
func (r *ReservationRepo) ActiveUnexpired(ctx context.Context, now time.Time) ([]domain.Reservation, error) {
	return r.selectMany(ctx, `WHERE status = 'ACTIVE' AND expires_at > ? ORDER BY expires_at`, toMillis(now))
}

func (r *ReservationRepo) ActiveUnexpiredFor(ctx context.Context, productID, locationID string, now time.Time) ([]domain.Reservation, error) {
	return r.selectMany(ctx, `
		WHERE product_id = ? AND location_id = ? AND status = 'ACTIVE' AND expires_at > ?
		ORDER BY expires_at
	`, productID, locationID, toMillis(now))
}

// ExpiringBetween lists ACTIVE reservations with now <= expires_at <= until.
func (r *ReservationRepo) ExpiringBetween(ctx context.Context, now, until time.Time) ([]domain.Reservation, error) {
	return r.selectMany(ctx, `
		WHERE status = 'ACTIVE' AND expires_at BETWEEN ? AND ?
		ORDER BY expires_at
	`, toMillis(now), toMillis(until))
}

// Due lists at most limit ACTIVE reservations whose window has passed,
// oldest expiry first.
func (r *ReservationRepo) Due(ctx context.Context, now time.Time, limit int) ([]domain.Reservation, error) {
	return r.selectMany(ctx, `
		WHERE status = 'ACTIVE' AND expires_at <= ?
		ORDER BY expires_at LIMIT ?
	`, toMillis(now), limit)
}

func (r *ReservationRepo) CreatedBetween(ctx context.Context, from, to time.Time) ([]domain.Reservation, error) {
	return r.selectMany(ctx, `WHERE created_at BETWEEN ? AND ? ORDER BY created_at`, toMillis(from), toMillis(to))
}

func (r *ReservationRepo) Stats(ctx context.Context) (domain.ReservationStats, error) {
	var st domain.ReservationStats
	err := r.db.GetContext(ctx, &st, `
		SELECT COUNT(*) AS total,
		       COALESCE(SUM(CASE WHEN status = 'ACTIVE'    THEN 1 ELSE 0 END), 0) AS active,
		       COALESCE(SUM(CASE WHEN status = 'CONFIRMED' THEN 1 ELSE 0 END), 0) AS confirmed,
		       COALESCE(SUM(CASE WHEN status = 'CANCELLED' THEN 1 ELSE 0 END), 0) AS cancelled,
		       COALESCE(SUM(CASE WHEN status = 'EXPIRED'   THEN 1 ELSE 0 END), 0) AS expired
		FROM reservations
	`)
	return st, err
}

// ActiveTotals returns the number of open reservations for a stock record and
// the quantity they cover.
func (r *ReservationRepo) ActiveTotals(ctx context.Context, productID, locationID string, now time.Time) (count int64, quantity int64, err error) {
	var row struct {
		Count    int64         `db:"n"`
		Quantity sql.NullInt64 `db:"qty"`
	}
	err = r.db.GetContext(ctx, &row, `
		SELECT COUNT(*) AS n, SUM(quantity) AS qty FROM reservations
		WHERE product_id = ? AND location_id = ? AND status = 'ACTIVE' AND expires_at > ?
	`, productID, locationID, toMillis(now))
	return row.Count, row.Quantity.Int64, err
}

// DeleteCreatedBefore purges old rows regardless of status, except ACTIVE
// rows whose hold is still open, along with their settlements.
func (r *ReservationRepo) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		DELETE FROM reservations
		WHERE created_at < ? AND NOT (status = 'ACTIVE' AND hold <> 'SETTLED')
	`, toMillis(cutoff))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM settlements
		WHERE reservation_id NOT IN (SELECT id FROM reservations)
	`); err != nil {
		return 0, err
	}
	return n, tx.Commit()
}
