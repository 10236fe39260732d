package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/shoplium/shoplium/app/controllers"
)

type ApiRouter struct {
	billing *controllers.BillingController
}

func NewApiRouter(bc *controllers.BillingController) *ApiRouter {
	return &ApiRouter{billing: bc}
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")
	v1.Post("/subscriptions/cancel", h.billing.HandleSubscriptionCancel)
	v1.Get("/subscriptions/:userId", h.billing.HandleGetSubscription)
}
