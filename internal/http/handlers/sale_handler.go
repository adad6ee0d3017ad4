package handlers

import (
	"github.com/gofiber/fiber/v2"

	applog "stockhold/internal/log"
	"stockhold/internal/services"
	"stockhold/internal/validate"
)

type SaleHandler struct {
	Sales *services.SaleOrchestrator
}

// POST /api/v1/sales
func (h *SaleHandler) Reserve(c *fiber.Ctx) error {
	var req services.SaleRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	var okP, okL bool
	req.ProductID, okP = validate.ID(req.ProductID)
	req.LocationID, okL = validate.ID(req.LocationID)
	if !okP || !okL || !validate.Positive(req.Quantity) {
		return badRequest(c, "productId, locationId and a positive quantity are required")
	}

	res, err := h.Sales.ReserveForSale(c.UserContext(), req)
	if err != nil {
		return fail(c, "sale.reserve", err)
	}
	applog.Audit(c, "api.sale.reserve", map[string]any{"reservation": res.ID, "qty": res.Quantity})
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"reservationId": res.ID,
		"expiresAt":     res.ExpiresAt,
		"reservation":   res,
	})
}

// PUT /api/v1/sales/:id/confirm
func (h *SaleHandler) Confirm(c *fiber.Ctx) error {
	id, ok := validate.ReservationID(c.Params("id"))
	if !ok {
		return badRequest(c, "invalid reservation id")
	}
	done, err := h.Sales.ConfirmSale(c.UserContext(), id)
	if err != nil {
		return fail(c, "sale.confirm", err)
	}
	if !done {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "reservation could not be confirmed", "confirmed": false, "retryable": true,
		})
	}
	return c.JSON(fiber.Map{"confirmed": true})
}

// DELETE /api/v1/sales/:id
func (h *SaleHandler) Cancel(c *fiber.Ctx) error {
	id, ok := validate.ReservationID(c.Params("id"))
	if !ok {
		return badRequest(c, "invalid reservation id")
	}
	done, err := h.Sales.CancelSale(c.UserContext(), id)
	if err != nil {
		return fail(c, "sale.cancel", err)
	}
	if !done {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "reservation is being settled, try again", "cancelled": false, "retryable": true,
		})
	}
	return c.JSON(fiber.Map{"cancelled": true})
}
