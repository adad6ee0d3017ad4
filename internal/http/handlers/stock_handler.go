package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	applog "stockhold/internal/log"
	"stockhold/internal/services"
	"stockhold/internal/validate"
)

type StockHandler struct {
	Ledger       *services.StockLedger
	Reservations *services.ReservationStore
}

type stockChange struct {
	ProductID  string `json:"productId"`
	LocationID string `json:"locationId"`
	Quantity   int    `json:"quantity"`
	Reason     string `json:"reason"`
}

type thresholdChange struct {
	ProductID        string `json:"productId"`
	LocationID       string `json:"locationId"`
	ReorderThreshold int    `json:"reorderThreshold"`
}

// parseChange binds the body and checks the key fields; quantity rules
// differ per operation and are left to the caller.
func parseChange(c *fiber.Ctx) (stockChange, bool) {
	var in stockChange
	if err := c.BodyParser(&in); err != nil {
		return in, false
	}
	var okP, okL bool
	in.ProductID, okP = validate.ID(in.ProductID)
	in.LocationID, okL = validate.ID(in.LocationID)
	in.Reason = validate.Notes(in.Reason)
	return in, okP && okL
}

// GET /api/v1/stock/:productId/:locationId?qty=
func (h *StockHandler) Get(c *fiber.Ctx) error {
	ctx := c.UserContext()
	pid, okP := validate.ID(c.Params("productId"))
	loc, okL := validate.ID(c.Params("locationId"))
	if !okP || !okL {
		return badRequest(c, "invalid productId or locationId")
	}
	qty := 0
	if raw := c.Query("qty"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || !validate.Positive(n) {
			return badRequest(c, "invalid qty")
		}
		qty = n
	}

	rec, err := h.Ledger.Get(ctx, pid, loc)
	if err != nil {
		return fail(c, "stock.get", err)
	}
	held, err := h.Reservations.HasActive(ctx, pid, loc)
	if err != nil {
		return fail(c, "stock.get", err)
	}
	out := fiber.Map{
		"record":                rec,
		"available":             rec.Available(),
		"lowStock":              rec.LowStock(),
		"hasActiveReservations": held,
	}
	if qty > 0 {
		ok, err := h.Ledger.HasSufficient(ctx, pid, loc, qty)
		if err != nil {
			return fail(c, "stock.get", err)
		}
		out["sufficient"] = ok
	}
	return c.JSON(out)
}

// GET /api/v1/stock?productId=&locationId=
func (h *StockHandler) List(c *fiber.Ctx) error {
	ctx := c.UserContext()
	pid, loc := c.Query("productId"), c.Query("locationId")
	switch {
	case pid != "":
		p, ok := validate.ID(pid)
		if !ok {
			return badRequest(c, "invalid productId")
		}
		rows, err := h.Ledger.ListByProduct(ctx, p)
		if err != nil {
			return fail(c, "stock.list", err)
		}
		return c.JSON(rows)
	case loc != "":
		l, ok := validate.ID(loc)
		if !ok {
			return badRequest(c, "invalid locationId")
		}
		rows, err := h.Ledger.ListByLocation(ctx, l)
		if err != nil {
			return fail(c, "stock.list", err)
		}
		return c.JSON(rows)
	}
	rows, err := h.Ledger.ListAll(ctx)
	if err != nil {
		return fail(c, "stock.list", err)
	}
	return c.JSON(rows)
}

// GET /api/v1/stock/low?locationId=
func (h *StockHandler) LowStock(c *fiber.Ctx) error {
	loc := c.Query("locationId")
	if loc != "" {
		var ok bool
		if loc, ok = validate.ID(loc); !ok {
			return badRequest(c, "invalid locationId")
		}
	}
	rows, err := h.Ledger.ListLowStock(c.UserContext(), loc)
	if err != nil {
		return fail(c, "stock.low", err)
	}
	return c.JSON(rows)
}

// GET /api/v1/stock/available/:locationId
func (h *StockHandler) Available(c *fiber.Ctx) error {
	loc, ok := validate.ID(c.Params("locationId"))
	if !ok {
		return badRequest(c, "invalid locationId")
	}
	rows, err := h.Ledger.ListAvailable(c.UserContext(), loc)
	if err != nil {
		return fail(c, "stock.available", err)
	}
	return c.JSON(rows)
}

// GET /api/v1/stock/stats/:locationId
func (h *StockHandler) Stats(c *fiber.Ctx) error {
	loc, ok := validate.ID(c.Params("locationId"))
	if !ok {
		return badRequest(c, "invalid locationId")
	}
	st, err := h.Ledger.LocationStats(c.UserContext(), loc)
	if err != nil {
		return fail(c, "stock.stats", err)
	}
	return c.JSON(st)
}

// POST /api/v1/stock/receive
func (h *StockHandler) Receive(c *fiber.Ctx) error {
	in, ok := parseChange(c)
	if !ok || !validate.Positive(in.Quantity) {
		return badRequest(c, "productId, locationId and a positive quantity are required")
	}
	rec, err := h.Ledger.Receive(c.UserContext(), in.ProductID, in.LocationID, in.Quantity)
	if err != nil {
		return fail(c, "stock.receive", err)
	}
	applog.Audit(c, "api.stock.receive", map[string]any{"product": in.ProductID, "location": in.LocationID, "qty": in.Quantity})
	return c.JSON(rec)
}

// POST /api/v1/stock/deduct
func (h *StockHandler) Deduct(c *fiber.Ctx) error {
	in, ok := parseChange(c)
	if !ok || !validate.Positive(in.Quantity) {
		return badRequest(c, "productId, locationId and a positive quantity are required")
	}
	rec, err := h.Ledger.DeductDirect(c.UserContext(), in.ProductID, in.LocationID, in.Quantity, in.Reason)
	if err != nil {
		return fail(c, "stock.deduct", err)
	}
	applog.Audit(c, "api.stock.deduct", map[string]any{
		"product": in.ProductID, "location": in.LocationID, "qty": in.Quantity, "reason": in.Reason,
	})
	return c.JSON(rec)
}

// POST /api/v1/stock/adjust
func (h *StockHandler) Adjust(c *fiber.Ctx) error {
	in, ok := parseChange(c)
	if !ok || !validate.NonNegative(in.Quantity) {
		return badRequest(c, "productId, locationId and a non-negative quantity are required")
	}
	rec, err := h.Ledger.SetAbsolute(c.UserContext(), in.ProductID, in.LocationID, in.Quantity, in.Reason)
	if err != nil {
		return fail(c, "stock.adjust", err)
	}
	applog.Audit(c, "api.stock.adjust", map[string]any{
		"product": in.ProductID, "location": in.LocationID, "quantity": in.Quantity, "reason": in.Reason,
	})
	return c.JSON(rec)
}

// PUT /api/v1/stock/threshold
func (h *StockHandler) Threshold(c *fiber.Ctx) error {
	var in thresholdChange
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "invalid body")
	}
	pid, okP := validate.ID(in.ProductID)
	loc, okL := validate.ID(in.LocationID)
	if !okP || !okL || !validate.NonNegative(in.ReorderThreshold) {
		return badRequest(c, "productId, locationId and a non-negative reorderThreshold are required")
	}
	rec, err := h.Ledger.SetReorderThreshold(c.UserContext(), pid, loc, in.ReorderThreshold)
	if err != nil {
		return fail(c, "stock.threshold", err)
	}
	return c.JSON(rec)
}
