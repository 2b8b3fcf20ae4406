package guardian

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
)

type ServerConfig struct {
	// Shared secret for webhook HMAC validation. Also gates the admin routes
	// via the X-Guardian-Token header.
	Secret string
	// Per-request deadline. Default 10s.
	HandlerTimeout time.Duration
}

// NewServer builds the HTTP surface: one HMAC-authenticated webhook route and
// a token-gated operator group.
func NewServer(g *Guard, cfg ServerConfig) *fiber.App {
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 10 * time.Second
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:           cfg.HandlerTimeout,
		WriteTimeout:          cfg.HandlerTimeout,
		DisableStartupMessage: true,
	})

	app.Post("/webhooks/orders/create", ShopifyHMACMiddleware(cfg.Secret), handleOrderCreate(g, cfg.HandlerTimeout))

	admin := app.Group("/admin", AdminTokenMiddleware(cfg.Secret))
	admin.Post("/load", handleLoad(g))
	admin.Get("/status", handleStatus(g))
	admin.Post("/reset", handleTransition(g, (*Guard).Reset))
	admin.Post("/disable", handleTransition(g, (*Guard).Disable))
	admin.Post("/enable", handleTransition(g, (*Guard).Enable))

	return app
}

// VerifyShopifyHMAC checks the base64 HMAC-SHA256 of the raw body against the
// X-Shopify-Hmac-Sha256 header value in constant time.
func VerifyShopifyHMAC(body []byte, header string, secret string) bool {
	if header == "" || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(header))
}

// ShopifyHMACMiddleware rejects unauthenticated deliveries with a bodyless
// 401 before any processing.
func ShopifyHMACMiddleware(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !VerifyShopifyHMAC(c.Body(), c.Get("X-Shopify-Hmac-Sha256"), secret) {
			// Status only, no body. SendStatus would write the status text.
			c.Status(fiber.StatusUnauthorized)
			return nil
		}
		return c.Next()
	}
}

// AdminTokenMiddleware gates the operator surface on the shared secret.
func AdminTokenMiddleware(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if secret == "" || c.Get("X-Guardian-Token") != secret {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Unauthorized"})
		}
		return c.Next()
	}
}

var ErrDeadline = errors.New("DeadlineExceeded")

func handleOrderCreate(g *Guard, deadline time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		order, err := ParseOrderJSON(c.Body())
		if err != nil {
			return errorJSON(c, fiber.StatusBadRequest, err)
		}

		type outcome struct {
			rec Receipt
			err error
		}
		done := make(chan outcome, 1)
		// The goroutine only touches the guard, never c, so a timed-out
		// request can answer while processing finishes behind it.
		go func() {
			rec, err := g.HandleOrder(order)
			done <- outcome{rec: rec, err: err}
		}()

		select {
		case out := <-done:
			if out.err != nil {
				return errorJSON(c, fiber.StatusInternalServerError, out.err)
			}
			return c.JSON(fiber.Map{
				"accepted":         true,
				"controller_state": out.rec.State,
			})
		case <-time.After(deadline):
			// Decrements already applied stand; a Shopify retry of the same
			// order id is absorbed by idempotence.
			return errorJSON(c, fiber.StatusGatewayTimeout, ErrDeadline)
		}
	}
}

func handleLoad(g *Guard) fiber.Handler {
	return func(c *fiber.Ctx) error {
		source := c.Query("source")
		if source == "" {
			source = "upload"
		}
		opts := LoaderOptions{
			Locale:    c.Query("locale"),
			SKUColumn: c.Query("sku_column"),
			QtyColumn: c.Query("qty_column"),
		}
		snap, warnings, err := g.LoadSnapshot(bytes.NewReader(c.Body()), source, opts)
		if err != nil {
			return errorJSON(c, fiber.StatusBadRequest, err)
		}
		return c.JSON(fiber.Map{
			"source":        snap.Source,
			"location":      snap.Location,
			"rows_total":    snap.RowsTotal,
			"rows_accepted": snap.RowsAccepted,
			"rows_rejected": snap.RowsRejected,
			"sku_count":     len(snap.Quantities),
			"warnings":      len(warnings),
		})
	}
}

func handleStatus(g *Guard) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(g.Status())
	}
}

func handleTransition(g *Guard, op func(*Guard) error) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := op(g); err != nil {
			return errorJSON(c, fiber.StatusConflict, err)
		}
		return c.JSON(fiber.Map{"state": g.State()})
	}
}

// errorJSON renders {"error": kind, "detail": message}. Kinds are the
// sentinel error names. The 401 path never reaches here.
func errorJSON(c *fiber.Ctx, status int, err error) error {
	return c.Status(status).JSON(fiber.Map{
		"error":  errorKind(err),
		"detail": err.Error(),
	})
}

func errorKind(err error) string {
	for _, sentinel := range []error{
		ErrMalformedOrder, ErrMalformedNumber, ErrMalformedTimestamp,
		ErrUnknownZone, ErrUnknownLocale, ErrLoader,
		ErrOverDecrement, ErrInvalidTransition, ErrDeadline,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "Internal"
}
