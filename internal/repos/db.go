package repos

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	applog "stockhold/internal/log"
)

// OpenDB opens the SQLite database, bootstraps the schema and optionally seeds
// demo stock. The pool is pinned to one connection: SQLite serializes writers
// anyway, and ":memory:" databases exist per connection.
func OpenDB(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err = db.Ping(); err != nil {
		return nil, err
	}
	if err := ensureSchema(db); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return db, nil
}

func ensureSchema(db *sqlx.DB) error {
	schema := `
PRAGMA busy_timeout = 5000;

-- Stock per (product, location)
CREATE TABLE IF NOT EXISTS stock(
  product_id        TEXT NOT NULL,
  location_id       TEXT NOT NULL,
  quantity          INTEGER NOT NULL DEFAULT 0 CHECK (quantity >= 0),
  reserved          INTEGER NOT NULL DEFAULT 0 CHECK (reserved >= 0 AND reserved <= quantity),
  reorder_threshold INTEGER NOT NULL DEFAULT 0 CHECK (reorder_threshold >= 0),
  version           INTEGER NOT NULL DEFAULT 0,
  last_updated_at   INTEGER NOT NULL,          -- unix millis
  PRIMARY KEY(product_id, location_id)
);
CREATE INDEX IF NOT EXISTS idx_stock_location ON stock(location_id);

-- Reservations (temporary holds against stock)
CREATE TABLE IF NOT EXISTS reservations(
  id          TEXT PRIMARY KEY,
  product_id  TEXT NOT NULL,
  location_id TEXT NOT NULL,
  quantity    INTEGER NOT NULL CHECK (quantity > 0),
  customer_id TEXT NOT NULL DEFAULT '',
  seller_id   TEXT NOT NULL DEFAULT '',
  status      TEXT NOT NULL CHECK (status IN ('ACTIVE','CONFIRMED','CANCELLED','EXPIRED')),
  hold        TEXT NOT NULL DEFAULT 'PENDING' CHECK (hold IN ('PENDING','HELD','CONSUMING','RELEASING','SETTLED')),
  notes       TEXT NOT NULL DEFAULT '',
  created_at  INTEGER NOT NULL,
  expires_at  INTEGER NOT NULL,
  updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reservations_customer   ON reservations(customer_id);
CREATE INDEX IF NOT EXISTS idx_reservations_stock      ON reservations(product_id, location_id);
CREATE INDEX IF NOT EXISTS idx_reservations_status_exp ON reservations(status, expires_at);
CREATE INDEX IF NOT EXISTS idx_reservations_created_at ON reservations(created_at);

-- How each reservation's held units left the ledger; one row at most
CREATE TABLE IF NOT EXISTS settlements(
  reservation_id TEXT PRIMARY KEY,
  product_id     TEXT NOT NULL,
  location_id    TEXT NOT NULL,
  kind           TEXT NOT NULL CHECK (kind IN ('CONSUME','RELEASE')),
  quantity       INTEGER NOT NULL CHECK (quantity > 0),
  settled_at     INTEGER NOT NULL
);
`
	_, err := db.Exec(schema)
	return err
}

// SeedDemo receives a handful of demo rows if the stock table is empty.
// Safe to run on every startup.
func SeedDemo(ctx context.Context, db *sqlx.DB, now time.Time) error {
	var n int
	if err := db.GetContext(ctx, &n, `SELECT COUNT(*) FROM stock`); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	applog.Info(nil, "seed.stock", map[string]any{"rows": 5})

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	ts := toMillis(now)
	rows := []struct {
		product, location string
		qty, threshold    int
	}{
		{"sku-1001", "store-01", 40, 5},
		{"sku-1001", "store-02", 12, 5},
		{"sku-2002", "store-01", 8, 10},
		{"sku-2002", "store-02", 0, 2},
		{"sku-3003", "store-01", 25, 3},
	}
	for _, r := range rows {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO stock(product_id, location_id, quantity, reserved, reorder_threshold, version, last_updated_at)
			VALUES (?, ?, ?, 0, ?, 1, ?)
			ON CONFLICT(product_id, location_id) DO NOTHING
		`, r.product, r.location, r.qty, r.threshold, ts); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
