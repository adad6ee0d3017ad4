package domain

import "time"

// MaxQuantity bounds every quantity the ledger accepts so sums stay well
// inside SQLite's INTEGER range.
const MaxQuantity = 1_000_000_000

// StockRecord is the on-hand and held quantity of one product at one location.
type StockRecord struct {
	ProductID        string    `json:"productId"`
	LocationID       string    `json:"locationId"`
	Quantity         int       `json:"quantity"`
	Reserved         int       `json:"reserved"`
	ReorderThreshold int       `json:"reorderThreshold"`
	Version          int64     `json:"version"`
	LastUpdatedAt    time.Time `json:"lastUpdatedAt"`
}

// Available is the amount sellable right now.
func (s StockRecord) Available() int { return s.Quantity - s.Reserved }

// LowStock reports whether on-hand quantity reached the reorder line.
func (s StockRecord) LowStock() bool { return s.Quantity <= s.ReorderThreshold }

type ReservationStatus string

const (
	StatusActive    ReservationStatus = "ACTIVE"
	StatusConfirmed ReservationStatus = "CONFIRMED"
	StatusCancelled ReservationStatus = "CANCELLED"
	StatusExpired   ReservationStatus = "EXPIRED"
)

// Terminal reports whether no further transition is possible except
// EXPIRED -> CANCELLED.
func (s ReservationStatus) Terminal() bool { return s != StatusActive }

// ParseStatus accepts the canonical upper-case names.
func ParseStatus(s string) (ReservationStatus, bool) {
	switch st := ReservationStatus(s); st {
	case StatusActive, StatusConfirmed, StatusCancelled, StatusExpired:
		return st, true
	}
	return "", false
}

// HoldState tracks whether a reservation's quantity is counted in the
// ledger's reserved column, and which flow is taking it out.
type HoldState string

const (
	HoldPending   HoldState = "PENDING"   // ledger reserve not applied yet
	HoldHeld      HoldState = "HELD"      // ledger holds the units
	HoldConsuming HoldState = "CONSUMING" // claimed by a confirm
	HoldReleasing HoldState = "RELEASING" // claimed by a cancel or the reaper
	HoldSettled   HoldState = "SETTLED"   // ledger holds nothing for it any more
)

// Claimed reports whether a flow owns the hold and may be between its claim
// and its ledger step.
func (h HoldState) Claimed() bool { return h == HoldConsuming || h == HoldReleasing }

type SettlementKind string

const (
	SettleConsume SettlementKind = "CONSUME"
	SettleRelease SettlementKind = "RELEASE"
)

// Settlement is the ledger's record of how a reservation's held units left
// the reserved column. There is at most one per reservation, written in the
// same transaction as the stock update.
type Settlement struct {
	ReservationID string         `json:"reservationId"`
	ProductID     string         `json:"productId"`
	LocationID    string         `json:"locationId"`
	Kind          SettlementKind `json:"kind"`
	Quantity      int            `json:"quantity"`
	SettledAt     time.Time      `json:"settledAt"`
}

type Reservation struct {
	ID         string            `json:"id"`
	ProductID  string            `json:"productId"`
	LocationID string            `json:"locationId"`
	Quantity   int               `json:"quantity"`
	CustomerID string            `json:"customerId"`
	SellerID   string            `json:"sellerId,omitempty"`
	Status     ReservationStatus `json:"status"`
	Hold       HoldState         `json:"hold"`
	Notes      string            `json:"notes,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
	ExpiresAt  time.Time         `json:"expiresAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

// ExpiredAt reports whether the validity window has passed at now.
func (r Reservation) ExpiredAt(now time.Time) bool { return !now.Before(r.ExpiresAt) }

type ReservationStats struct {
	Total     int64 `json:"total" db:"total"`
	Active    int64 `json:"active" db:"active"`
	Confirmed int64 `json:"confirmed" db:"confirmed"`
	Cancelled int64 `json:"cancelled" db:"cancelled"`
	Expired   int64 `json:"expired" db:"expired"`
}

type LocationStats struct {
	LocationID    string `json:"locationId" db:"location_id"`
	Products      int64  `json:"products" db:"products"`
	TotalQuantity int64  `json:"totalQuantity" db:"total_quantity"`
	TotalAvail    int64  `json:"totalAvailable" db:"total_available"`
	LowStock      int64  `json:"lowStock" db:"low_stock"`
}
