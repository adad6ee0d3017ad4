package handlers

import (
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"

	"stockhold/internal/config"
	"stockhold/internal/lock"
	"stockhold/internal/repos"
	"stockhold/internal/services"
)

type Deps struct {
	StockHandler       *StockHandler
	SaleHandler        *SaleHandler
	ReservationHandler *ReservationHandler
	AdminHandler       *AdminHandler

	Ledger       *services.StockLedger
	Reservations *services.ReservationStore
	Sales        *services.SaleOrchestrator
	Reaper       *services.ExpiryReaper
	Gatherer     prometheus.Gatherer
}

// NewDeps wires repositories, services and handlers. A nil locker falls back
// to an in-process lock; a nil registry disables metrics registration.
func NewDeps(db *sqlx.DB, cfg config.Config, locker lock.Locker, reg *prometheus.Registry) *Deps {
	stockRepo := repos.NewStockRepo(db)
	resRepo := repos.NewReservationRepo(db)

	var m *services.Metrics
	var gatherer prometheus.Gatherer = prometheus.NewRegistry()
	if reg != nil {
		m = services.NewMetrics(reg)
		gatherer = reg
	}
	if locker == nil {
		locker = lock.NewLocal()
	}

	ledger := services.NewStockLedger(stockRepo, m)
	store := services.NewReservationStore(resRepo, cfg.ReservationTTL)
	sales := services.NewSaleOrchestrator(ledger, store, m)

	reaper := services.NewExpiryReaper(ledger, store, locker, m)
	if cfg.SweepInterval > 0 {
		reaper.Interval = cfg.SweepInterval
	}
	if cfg.SweepBatch > 0 {
		reaper.Batch = cfg.SweepBatch
	}
	if cfg.SettleGrace > 0 {
		reaper.SettleGrace = cfg.SettleGrace
	}
	if cfg.PurgeInterval > 0 {
		reaper.PurgeInterval = cfg.PurgeInterval
	}
	if cfg.Retention > 0 {
		reaper.Retention = cfg.Retention
	}

	return &Deps{
		StockHandler:       &StockHandler{Ledger: ledger, Reservations: store},
		SaleHandler:        &SaleHandler{Sales: sales},
		ReservationHandler: &ReservationHandler{Store: store},
		AdminHandler:       &AdminHandler{Reaper: reaper},
		Ledger:             ledger,
		Reservations:       store,
		Sales:              sales,
		Reaper:             reaper,
		Gatherer:           gatherer,
	}
}
