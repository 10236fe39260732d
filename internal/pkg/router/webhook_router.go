package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/shoplium/shoplium/app/controllers"
)

// WebhookRouter mounts the payment provider callback endpoints. These are
// deliberately outside /api: providers are configured with fixed URLs and
// the endpoints carry their own authentication (signatures), so neither
// rate limiting nor API middleware applies.
type WebhookRouter struct {
	billing *controllers.BillingController
}

func NewWebhookRouter(bc *controllers.BillingController) *WebhookRouter {
	return &WebhookRouter{billing: bc}
}

func (h WebhookRouter) InstallRouter(app *fiber.App) {
	webhooks := app.Group("/webhooks")
	webhooks.Post("/mercadopago", h.billing.HandleMercadoPagoWebhook)
	webhooks.Post("/stripe", h.billing.HandleStripeWebhook)

	// Providers only ever POST; anything else is a misconfigured caller.
	webhooks.All("/mercadopago", methodNotAllowed)
	webhooks.All("/stripe", methodNotAllowed)
}

func methodNotAllowed(c *fiber.Ctx) error {
	return c.Status(fiber.StatusMethodNotAllowed).JSON(fiber.Map{"error": "method_not_allowed", "message": "Method not allowed"})
}
