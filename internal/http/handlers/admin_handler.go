package handlers

import (
	"github.com/gofiber/fiber/v2"

	applog "stockhold/internal/log"
	"stockhold/internal/services"
)

// AdminHandler lets an external scheduler (cron, k8s CronJob) drive the
// reaper instead of, or in addition to, the in-process tickers.
type AdminHandler struct {
	Reaper *services.ExpiryReaper
}

// POST /api/v1/admin/sweep
func (h *AdminHandler) Sweep(c *fiber.Ctx) error {
	res, err := h.Reaper.Sweep(c.UserContext())
	if err != nil {
		return fail(c, "admin.sweep", err)
	}
	applog.Audit(c, "admin.sweep", map[string]any{
		"expired": res.Expired, "released": res.ReleasedUnits, "skipped": res.Skipped,
	})
	if res.Skipped {
		return c.Status(fiber.StatusAccepted).JSON(res)
	}
	return c.JSON(res)
}

// POST /api/v1/admin/purge
func (h *AdminHandler) Purge(c *fiber.Ctx) error {
	n, err := h.Reaper.Purge(c.UserContext())
	if err != nil {
		return fail(c, "admin.purge", err)
	}
	applog.Audit(c, "admin.purge", map[string]any{"deleted": n})
	return c.JSON(fiber.Map{"deleted": n})
}
