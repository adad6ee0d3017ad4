package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"stockhold/internal/domain"
	applog "stockhold/internal/log"
	"stockhold/internal/services"
)

const genericError = "Something went wrong. Please try again."

// fail maps a service error onto a status code and JSON body. Anything not
// in the domain set is logged and answered with a generic 500.
func fail(c *fiber.Ctx, action string, err error) error {
	var (
		verr  *domain.ValidationError
		short *domain.InsufficientStockError
		state *domain.InvalidReservationStateError
	)
	switch {
	case errors.As(err, &verr):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": verr.Error(), "field": verr.Field})
	case errors.As(err, &short):
		applog.Info(c, action+".insufficient", map[string]any{
			"product": short.ProductID, "location": short.LocationID,
			"available": short.Available, "requested": short.Requested,
		})
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":     short.Error(),
			"available": short.Available,
			"requested": short.Requested,
		})
	case services.IsRetryable(err):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error(), "retryable": true})
	case errors.As(err, &state):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": state.Error(), "status": state.Current})
	case errors.Is(err, domain.ErrReservationNotFound), errors.Is(err, domain.ErrStockNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	applog.Error(c, action+".fail", err, nil)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": genericError})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

// ErrorHandler answers errors that escape a handler (panics recovered by
// middleware, unknown routes, oversized bodies) without leaking internals.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) && fe.Code < fiber.StatusInternalServerError {
		return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
	}
	applog.Error(c, "server.error", err, nil)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": genericError})
}
