package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/shoplium/shoplium/app/controllers"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// InstallRouter registers all HTTP surfaces: the provider webhook
// endpoints first, then the versioned API.
func InstallRouter(app *fiber.App, bc *controllers.BillingController) {
	setup(app, NewWebhookRouter(bc), NewApiRouter(bc))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
