package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Register mounts the JSON API, metrics and health routes on app.
// Static segments are registered before parameterised ones so that
// /stock/low is not captured by /stock/:productId/:locationId.
func Register(app *fiber.App, d *Deps, mw ...fiber.Handler) {
	api := app.Group("/api/v1", mw...)

	stock := api.Group("/stock")
	stock.Get("/", d.StockHandler.List)
	stock.Get("/low", d.StockHandler.LowStock)
	stock.Get("/available/:locationId", d.StockHandler.Available)
	stock.Get("/stats/:locationId", d.StockHandler.Stats)
	stock.Post("/receive", d.StockHandler.Receive)
	stock.Post("/deduct", d.StockHandler.Deduct)
	stock.Post("/adjust", d.StockHandler.Adjust)
	stock.Put("/threshold", d.StockHandler.Threshold)
	stock.Get("/:productId/:locationId", d.StockHandler.Get)

	sales := api.Group("/sales")
	sales.Post("/", d.SaleHandler.Reserve)
	sales.Put("/:id/confirm", d.SaleHandler.Confirm)
	sales.Delete("/:id", d.SaleHandler.Cancel)

	res := api.Group("/reservations")
	res.Get("/", d.ReservationHandler.List)
	res.Get("/active", d.ReservationHandler.Active)
	res.Get("/expiring", d.ReservationHandler.Expiring)
	res.Get("/stats", d.ReservationHandler.Stats)
	res.Get("/:id", d.ReservationHandler.Get)

	admin := api.Group("/admin")
	admin.Post("/sweep", d.AdminHandler.Sweep)
	admin.Post("/purge", d.AdminHandler.Purge)

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	app.Get("/healthz", func(c *fiber.Ctx) error { return c.JSON(fiber.Map{"ok": true}) })
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
	})
}
