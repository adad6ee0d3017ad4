package handlers

import (
	"github.com/gofiber/fiber/v2"

	"stockhold/internal/domain"
	"stockhold/internal/services"
	"stockhold/internal/validate"
)

type ReservationHandler struct {
	Store *services.ReservationStore
}

// GET /api/v1/reservations/:id
func (h *ReservationHandler) Get(c *fiber.Ctx) error {
	id, ok := validate.ReservationID(c.Params("id"))
	if !ok {
		return badRequest(c, "invalid reservation id")
	}
	r, err := h.Store.Get(c.UserContext(), id)
	if err != nil {
		return fail(c, "reservation.get", err)
	}
	return c.JSON(r)
}

// GET /api/v1/reservations?customerId= | status= | productId=&locationId= | from=&to=
// Exactly one filter family is honoured, in that order.
func (h *ReservationHandler) List(c *fiber.Ctx) error {
	ctx := c.UserContext()
	var (
		rows []domain.Reservation
		err  error
	)
	switch {
	case c.Query("customerId") != "":
		cust, ok := validate.Party(c.Query("customerId"))
		if !ok {
			return badRequest(c, "invalid customerId")
		}
		rows, err = h.Store.ByCustomer(ctx, cust)
	case c.Query("status") != "":
		st, ok := domain.ParseStatus(c.Query("status"))
		if !ok {
			return badRequest(c, "status must be one of ACTIVE, CONFIRMED, CANCELLED, EXPIRED")
		}
		rows, err = h.Store.ByStatus(ctx, st)
	case c.Query("productId") != "" || c.Query("locationId") != "":
		rows, err = h.byStock(c)
	case c.Query("from") != "" || c.Query("to") != "":
		from, okF := validate.Timestamp(c.Query("from"))
		to, okT := validate.Timestamp(c.Query("to"))
		if !okF || !okT {
			return badRequest(c, "from and to must be RFC3339 timestamps")
		}
		rows, err = h.Store.CreatedBetween(ctx, from, to)
	default:
		return badRequest(c, "one of customerId, status, productId/locationId or from/to is required")
	}
	if err != nil {
		return fail(c, "reservation.list", err)
	}
	return c.JSON(rows)
}

func (h *ReservationHandler) byStock(c *fiber.Ctx) ([]domain.Reservation, error) {
	ctx := c.UserContext()
	pid, loc := c.Query("productId"), c.Query("locationId")
	var ok bool
	if pid != "" {
		if pid, ok = validate.ID(pid); !ok {
			return nil, domain.Invalid("productId", "malformed")
		}
	}
	if loc != "" {
		if loc, ok = validate.ID(loc); !ok {
			return nil, domain.Invalid("locationId", "malformed")
		}
	}
	switch {
	case pid != "" && loc != "":
		return h.Store.ByProductLocation(ctx, pid, loc)
	case pid != "":
		return h.Store.ByProduct(ctx, pid)
	default:
		return h.Store.ByLocation(ctx, loc)
	}
}

// GET /api/v1/reservations/active?productId=&locationId=
func (h *ReservationHandler) Active(c *fiber.Ctx) error {
	ctx := c.UserContext()
	pid, loc := c.Query("productId"), c.Query("locationId")
	if pid == "" && loc == "" {
		rows, err := h.Store.Active(ctx)
		if err != nil {
			return fail(c, "reservation.active", err)
		}
		return c.JSON(rows)
	}
	p, okP := validate.ID(pid)
	l, okL := validate.ID(loc)
	if !okP || !okL {
		return badRequest(c, "productId and locationId go together")
	}
	rows, err := h.Store.ActiveFor(ctx, p, l)
	if err != nil {
		return fail(c, "reservation.active", err)
	}
	count, qty, err := h.Store.ActiveTotals(ctx, p, l)
	if err != nil {
		return fail(c, "reservation.active", err)
	}
	return c.JSON(fiber.Map{"reservations": rows, "count": count, "quantity": qty})
}

// GET /api/v1/reservations/expiring?minutes=
func (h *ReservationHandler) Expiring(c *fiber.Ctx) error {
	minutes, ok := validate.Minutes(c.Query("minutes"), 10)
	if !ok {
		return badRequest(c, "minutes must be between 1 and 10080")
	}
	rows, err := h.Store.ExpiringWithin(c.UserContext(), minutes)
	if err != nil {
		return fail(c, "reservation.expiring", err)
	}
	return c.JSON(rows)
}

// GET /api/v1/reservations/stats
func (h *ReservationHandler) Stats(c *fiber.Ctx) error {
	st, err := h.Store.Stats(c.UserContext())
	if err != nil {
		return fail(c, "reservation.stats", err)
	}
	return c.JSON(st)
}
