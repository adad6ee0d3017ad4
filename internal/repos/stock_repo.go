package repos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"stockhold/internal/domain"
)

type StockRepo struct{ db *sqlx.DB }

func NewStockRepo(db *sqlx.DB) *StockRepo { return &StockRepo{db: db} }

type stockRow struct {
	ProductID        string `db:"product_id"`
	LocationID       string `db:"location_id"`
	Quantity         int    `db:"quantity"`
	Reserved         int    `db:"reserved"`
	ReorderThreshold int    `db:"reorder_threshold"`
	Version          int64  `db:"version"`
	LastUpdatedAt    int64  `db:"last_updated_at"`
}

func (r stockRow) record() *domain.StockRecord {
	return &domain.StockRecord{
		ProductID:        r.ProductID,
		LocationID:       r.LocationID,
		Quantity:         r.Quantity,
		Reserved:         r.Reserved,
		ReorderThreshold: r.ReorderThreshold,
		Version:          r.Version,
		LastUpdatedAt:    fromMillis(r.LastUpdatedAt),
	}
}

func stockRecords(rows []stockRow) []domain.StockRecord {
	out := make([]domain.StockRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r.record())
	}
	return out
}

const stockCols = `product_id, location_id, quantity, reserved, reorder_threshold, version, last_updated_at`

// Get returns the record or sql.ErrNoRows.
func (r *StockRepo) Get(ctx context.Context, productID, locationID string) (*domain.StockRecord, error) {
	var row stockRow
	if err := r.db.GetContext(ctx, &row, `
		SELECT `+stockCols+` FROM stock
		WHERE product_id = ? AND location_id = ?
	`, productID, locationID); err != nil {
		return nil, err
	}
	return row.record(), nil
}

// Ensure creates an empty record if none exists and returns the current one.
func (r *StockRepo) Ensure(ctx context.Context, productID, locationID string, now time.Time) (*domain.StockRecord, error) {
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO stock(product_id, location_id, quantity, reserved, reorder_threshold, version, last_updated_at)
		VALUES (?, ?, 0, 0, 0, 0, ?)
		ON CONFLICT(product_id, location_id) DO NOTHING
	`, productID, locationID, toMillis(now)); err != nil {
		return nil, err
	}
	return r.Get(ctx, productID, locationID)
}

// AddQuantity upserts the record and adds qty to the on-hand quantity.
// Returns sql.ErrNoRows when the sum would pass domain.MaxQuantity.
func (r *StockRepo) AddQuantity(ctx context.Context, productID, locationID string, qty int, now time.Time) (*domain.StockRecord, error) {
	var row stockRow
	err := r.db.GetContext(ctx, &row, `
		INSERT INTO stock(product_id, location_id, quantity, reserved, reorder_threshold, version, last_updated_at)
		VALUES (?, ?, ?, 0, 0, 1, ?)
		ON CONFLICT(product_id, location_id) DO UPDATE SET
		  quantity        = stock.quantity + excluded.quantity,
		  version         = stock.version + 1,
		  last_updated_at = excluded.last_updated_at
		WHERE stock.quantity <= ? - excluded.quantity
		RETURNING `+stockCols,
		productID, locationID, qty, toMillis(now), domain.MaxQuantity)
	if err != nil {
		return nil, err
	}
	return row.record(), nil
}

// SubtractAvailable removes qty from on-hand stock only if that many units
// are not held by reservations. Returns sql.ErrNoRows when the row is
// missing or the guard fails.
func (r *StockRepo) SubtractAvailable(ctx context.Context, productID, locationID string, qty int, now time.Time) (*domain.StockRecord, error) {
	var row stockRow
	err := r.db.GetContext(ctx, &row, `
		UPDATE stock
		SET quantity = quantity - ?, version = version + 1, last_updated_at = ?
		WHERE product_id = ? AND location_id = ? AND quantity - reserved >= ?
		RETURNING `+stockCols,
		qty, toMillis(now), productID, locationID, qty)
	if err != nil {
		return nil, err
	}
	return row.record(), nil
}

// Reserve holds qty units if, in the same statement, the version still
// matches and enough units are available.
func (r *StockRepo) Reserve(ctx context.Context, productID, locationID string, qty int, expectedVersion int64, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE stock
		SET reserved = reserved + ?, version = version + 1, last_updated_at = ?
		WHERE product_id = ? AND location_id = ?
		  AND version = ?
		  AND quantity - reserved >= ?
	`, qty, toMillis(now), productID, locationID, expectedVersion, qty)
	return affected(res, err)
}

// SetQuantity upserts an exact on-hand quantity. Returns sql.ErrNoRows if the
// existing record holds more units than qty.
func (r *StockRepo) SetQuantity(ctx context.Context, productID, locationID string, qty int, now time.Time) (*domain.StockRecord, error) {
	var row stockRow
	err := r.db.GetContext(ctx, &row, `
		INSERT INTO stock(product_id, location_id, quantity, reserved, reorder_threshold, version, last_updated_at)
		VALUES (?, ?, ?, 0, 0, 1, ?)
		ON CONFLICT(product_id, location_id) DO UPDATE SET
		  quantity        = excluded.quantity,
		  version         = stock.version + 1,
		  last_updated_at = excluded.last_updated_at
		WHERE stock.reserved <= excluded.quantity
		RETURNING `+stockCols,
		productID, locationID, qty, toMillis(now))
	if err != nil {
		return nil, err
	}
	return row.record(), nil
}

// SetThreshold changes the reorder line; it does not affect availability so
// the version is left alone.
func (r *StockRepo) SetThreshold(ctx context.Context, productID, locationID string, threshold int, now time.Time) (*domain.StockRecord, error) {
	var row stockRow
	err := r.db.GetContext(ctx, &row, `
		UPDATE stock SET reorder_threshold = ?, last_updated_at = ?
		WHERE product_id = ? AND location_id = ?
		RETURNING `+stockCols,
		threshold, toMillis(now), productID, locationID)
	if err != nil {
		return nil, err
	}
	return row.record(), nil
}

func (r *StockRepo) ListAll(ctx context.Context) ([]domain.StockRecord, error) {
	var rows []stockRow
	err := r.db.SelectContext(ctx, &rows, `SELECT `+stockCols+` FROM stock ORDER BY location_id, product_id`)
	return stockRecords(rows), err
}

func (r *StockRepo) ListByLocation(ctx context.Context, locationID string) ([]domain.StockRecord, error) {
	var rows []stockRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+stockCols+` FROM stock WHERE location_id = ? ORDER BY product_id
	`, locationID)
	return stockRecords(rows), err
}

// ListByProduct returns one product across every location.
func (r *StockRepo) ListByProduct(ctx context.Context, productID string) ([]domain.StockRecord, error) {
	var rows []stockRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+stockCols+` FROM stock WHERE product_id = ? ORDER BY location_id
	`, productID)
	return stockRecords(rows), err
}

// ListLowStock returns records at or below their reorder threshold; an empty
// locationID means every location.
func (r *StockRepo) ListLowStock(ctx context.Context, locationID string) ([]domain.StockRecord, error) {
	var rows []stockRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+stockCols+` FROM stock
		WHERE quantity <= reorder_threshold AND (? = '' OR location_id = ?)
		ORDER BY location_id, product_id
	`, locationID, locationID)
	return stockRecords(rows), err
}

func (r *StockRepo) ListAvailable(ctx context.Context, locationID string) ([]domain.StockRecord, error) {
	var rows []stockRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+stockCols+` FROM stock
		WHERE location_id = ? AND quantity - reserved > 0
		ORDER BY product_id
	`, locationID)
	return stockRecords(rows), err
}

func (r *StockRepo) LocationStats(ctx context.Context, locationID string) (domain.LocationStats, error) {
	var st domain.LocationStats
	err := r.db.GetContext(ctx, &st, `
		SELECT ? AS location_id,
		       COUNT(DISTINCT product_id)                                      AS products,
		       COALESCE(SUM(quantity), 0)                                      AS total_quantity,
		       COALESCE(SUM(quantity - reserved), 0)                           AS total_available,
		       COALESCE(SUM(CASE WHEN quantity <= reorder_threshold THEN 1 ELSE 0 END), 0) AS low_stock
		FROM stock WHERE location_id = ?
	`, locationID, locationID)
	return st, err
}

// Settle moves a reservation's held units out of the reserved column and
// journals the move in the same transaction. CONSUME also lowers quantity;
// RELEASE gives the units back to availability. Returns false, changing
// nothing, when the reservation already has a settlement or the record holds
// fewer than st.Quantity units.
func (r *StockRepo) Settle(ctx context.Context, st domain.Settlement) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO settlements(reservation_id, product_id, location_id, kind, quantity, settled_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(reservation_id) DO NOTHING
	`, st.ReservationID, st.ProductID, st.LocationID, string(st.Kind), st.Quantity, toMillis(st.SettledAt))
	if ok, err := affected(res, err); err != nil || !ok {
		return false, err
	}

	consumed := 0
	if st.Kind == domain.SettleConsume {
		consumed = st.Quantity
	}
	res, err = tx.ExecContext(ctx, `
		UPDATE stock
		SET quantity = quantity - ?, reserved = reserved - ?, version = version + 1, last_updated_at = ?
		WHERE product_id = ? AND location_id = ? AND reserved >= ?
	`, consumed, st.Quantity, toMillis(st.SettledAt), st.ProductID, st.LocationID, st.Quantity)
	if ok, err := affected(res, err); err != nil || !ok {
		return false, err
	}
	return true, tx.Commit()
}

type settlementRow struct {
	ReservationID string `db:"reservation_id"`
	ProductID     string `db:"product_id"`
	LocationID    string `db:"location_id"`
	Kind          string `db:"kind"`
	Quantity      int    `db:"quantity"`
	SettledAt     int64  `db:"settled_at"`
}

// SettlementFor returns the reservation's settlement or sql.ErrNoRows.
func (r *StockRepo) SettlementFor(ctx context.Context, reservationID string) (*domain.Settlement, error) {
	var row settlementRow
	if err := r.db.GetContext(ctx, &row, `
		SELECT reservation_id, product_id, location_id, kind, quantity, settled_at
		FROM settlements WHERE reservation_id = ?
	`, reservationID); err != nil {
		return nil, err
	}
	return &domain.Settlement{
		ReservationID: row.ReservationID,
		ProductID:     row.ProductID,
		LocationID:    row.LocationID,
		Kind:          domain.SettlementKind(row.Kind),
		Quantity:      row.Quantity,
		SettledAt:     fromMillis(row.SettledAt),
	}, nil
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
