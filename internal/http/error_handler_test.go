package handlers_test

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"stockhold/internal/http/handlers"
)

// friendly error surface, no internal leakage
func TestErrorHandlerFriendlyMessage(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: handlers.ErrorHandler})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Get("/err", func(c *fiber.Ctx) error {
		return errors.New("db timeout: secret trace")
	})
	app.Get("/panic", func(c *fiber.Ctx) error {
		panic("secret panic")
	})

	for _, path := range []string{"/err", "/panic"} {
		var resp *httpResult
		entries := captureLogs(t, func() {
			resp = get(t, app, path)
		})
		if resp.status != fiber.StatusInternalServerError {
			t.Fatalf("%s: expected 500, got %d", path, resp.status)
		}
		if !strings.Contains(resp.body, "Something went wrong") {
			t.Fatalf("%s: friendly message missing; body=%s", path, resp.body)
		}
		if strings.Contains(resp.body, "secret") {
			t.Fatalf("%s: internal details leaked to user; body=%s", path, resp.body)
		}
		e, ok := findLog(entries, "server.error")
		if !ok || !strings.Contains(e.Err, "secret") || e.ReqID == "" {
			t.Fatalf("%s: server.error log missing detail: %+v", path, e)
		}
	}
}

func TestErrorHandlerKeepsClientErrors(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: handlers.ErrorHandler})
	app.Get("/teapot", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusTeapot, "short and stout")
	})
	resp := get(t, app, "/teapot")
	if resp.status != fiber.StatusTeapot || !strings.Contains(resp.body, "short and stout") {
		t.Fatalf("got %d %s", resp.status, resp.body)
	}
}

// storage failures surface as a generic 500 and are logged with the cause
func TestStorageFailureIsMasked(t *testing.T) {
	app, _, db := newTestApp(t)
	db.Close()

	var status int
	var raw []byte
	entries := captureLogs(t, func() {
		status, raw = doRaw(t, app, "GET", "/api/v1/stock/sku-1001/store-01", nil)
	})
	if status != fiber.StatusInternalServerError {
		t.Fatalf("status %d", status)
	}
	if strings.Contains(string(raw), "closed") {
		t.Fatalf("driver error leaked: %s", raw)
	}
	e, ok := findLog(entries, "stock.get.fail")
	if !ok || e.Err == "" || e.Level != "error" {
		t.Fatalf("stock.get.fail not logged: %+v", entries)
	}
}

type httpResult struct {
	status int
	body   string
}

func get(t *testing.T, app *fiber.App, path string) *httpResult {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest("GET", path, nil))
	if err != nil {
		t.Fatalf("test request failed: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return &httpResult{status: resp.StatusCode, body: string(b)}
}
