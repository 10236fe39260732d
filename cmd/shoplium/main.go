package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/shoplium/shoplium/app/controllers"
	"github.com/shoplium/shoplium/internal/pkg/billing"
	"github.com/shoplium/shoplium/internal/pkg/cache"
	"github.com/shoplium/shoplium/internal/pkg/database"
	"github.com/shoplium/shoplium/internal/pkg/env"
	"github.com/shoplium/shoplium/internal/pkg/identity"
	"github.com/shoplium/shoplium/internal/pkg/router"
	"github.com/shoplium/shoplium/internal/pkg/storecatalog"
)

func main() {
	app, scheduler := NewApplication()

	scheduler.Start()

	// Shut the sweep loop down cleanly on SIGINT/SIGTERM.
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-shutdownCh
		log.Println("Shutting down...")
		scheduler.Stop()
		_ = app.Shutdown()
	}()

	if err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))); err != nil {
		log.Fatal(err)
	}
}

func NewApplication() (*fiber.App, *billing.Scheduler) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	db := database.GetDB()

	// Provider adapters
	mercadoPago := billing.NewMercadoPagoClientFromEnv()
	stripeGateway := billing.NewStripeGatewayFromEnv()
	signature := billing.NewMercadoPagoSignatureValidator(env.GetEnv("MERCADOPAGO_WEBHOOK_SECRET", ""))

	// Core engine
	catalog := billing.NewCatalogFromEnv()
	policy := billing.NewPolicy(catalog)
	ledger := billing.NewLedger(db)
	events := billing.NewGormEventStore(db)
	idp := identity.NewCachedProvider(identity.NewHTTPProviderFromEnv())
	stores := storecatalog.NewGormCatalog(db)
	propagator := billing.NewPropagator(idp, stores)

	ingestion := billing.NewIngestion(billing.IngestionConfig{
		Signature:   signature,
		MercadoPago: mercadoPago,
		Stripe:      stripeGateway,
		StripeHooks: stripeGateway,
		Policy:      policy,
		Ledger:      ledger,
		Events:      events,
		Identity:    idp,
		Propagator:  propagator,
	})
	cancellation := billing.NewCancellation(ledger, mercadoPago, stripeGateway)
	scheduler := billing.NewScheduler(ledger, propagator)

	// init fiber app
	app := fiber.New(fiber.Config{
		AppName: "Shoplium Subscription Engine",
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			"admin": env.GetEnv("METRICS_PASSWORD", "test"),
		},
	}), monitor.New())

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// ROUTER
	bc := controllers.NewBillingController(ingestion, cancellation, ledger)
	router.InstallRouter(app, bc)

	return app, scheduler
}
