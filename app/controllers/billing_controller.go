package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/shoplium/shoplium/internal/pkg/billing"
)

var validate = validator.New()

// BillingController exposes the subscription engine over HTTP: provider
// webhook endpoints plus the cancellation and status API.
type BillingController struct {
	ingestion    *billing.Ingestion
	cancellation *billing.Cancellation
	ledger       billing.Ledger
}

func NewBillingController(ingestion *billing.Ingestion, cancellation *billing.Cancellation, ledger billing.Ledger) *BillingController {
	return &BillingController{
		ingestion:    ingestion,
		cancellation: cancellation,
		ledger:       ledger,
	}
}

// HandleMercadoPagoWebhook receives MercadoPago notifications. A bad
// signature is answered 403 with no side effect; provider/storage failures
// are answered 500 so MercadoPago redelivers; everything else is acked 200
// (including duplicates and topics the engine does not act on).
func (bc *BillingController) HandleMercadoPagoWebhook(c *fiber.Ctx) error {
	delivery := billing.MercadoPagoDelivery{
		Payload:   append([]byte(nil), c.Body()...),
		DataID:    c.Query("data.id", c.Query("id")),
		RequestID: c.Get("x-request-id"),
		Signature: c.Get("x-signature"),
		Topic:     c.Query("type", c.Query("topic")),
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), 25*time.Second)
	defer cancel()

	result, err := bc.ingestion.ProcessMercadoPago(ctx, delivery)
	if err != nil {
		if errors.Is(err, billing.ErrInvalidSignature) {
			log.Warnf("[Billing] rejected mercadopago webhook: %v", err)
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Invalid signature"})
		}
		log.Errorf("[Billing] mercadopago webhook processing failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Webhook processing failed"})
	}

	return c.JSON(webhookAck(result))
}

// HandleStripeWebhook receives Stripe events, same contract as the
// MercadoPago endpoint.
func (bc *BillingController) HandleStripeWebhook(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 25*time.Second)
	defer cancel()

	result, err := bc.ingestion.ProcessStripe(ctx, append([]byte(nil), c.Body()...), c.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, billing.ErrInvalidSignature) {
			log.Warnf("[Billing] rejected stripe webhook: %v", err)
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Invalid signature"})
		}
		log.Errorf("[Billing] stripe webhook processing failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Webhook processing failed"})
	}

	return c.JSON(webhookAck(result))
}

func webhookAck(result *billing.IngestResult) fiber.Map {
	switch {
	case result.Duplicate:
		return fiber.Map{"received": true, "duplicate": true}
	case result.Ignored:
		return fiber.Map{"received": true}
	default:
		return fiber.Map{"received": true, "user_id": result.UserID, "plan": result.Plan}
	}
}

// CancelSubscriptionRequest is the body of POST /api/v1/subscriptions/cancel.
type CancelSubscriptionRequest struct {
	UserID                 string `json:"userId" validate:"required"`
	ProviderSubscriptionID string `json:"providerSubscriptionId" validate:"required"`
	Provider               string `json:"provider" validate:"omitempty,oneof=mercadopago stripe"`
}

// HandleSubscriptionCancel cancels a subscription at the provider and
// schedules the downgrade to free for the end of the paid period.
func (bc *BillingController) HandleSubscriptionCancel(c *fiber.Ctx) error {
	var req CancelSubscriptionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "userId and providerSubscriptionId are required"})
	}
	if req.Provider == "" {
		req.Provider = billing.ProviderMercadoPago
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), 25*time.Second)
	defer cancel()

	endDate, err := bc.cancellation.Cancel(ctx, req.Provider, req.UserID, req.ProviderSubscriptionID)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrValidation):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
		case errors.Is(err, billing.ErrRecordNotFound):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "No subscription on file for user"})
		default:
			log.Errorf("[Billing] cancellation for user %s failed: %v", req.UserID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Cancellation failed"})
		}
	}

	return c.JSON(fiber.Map{
		"message": "Subscription cancelled; current plan stays active until the period ends",
		"endDate": endDate.Format(time.RFC3339),
	})
}

// HandleGetSubscription returns the ledger record for a user. Users
// without a record are reported as free-plan with no subscription.
func (bc *BillingController) HandleGetSubscription(c *fiber.Ctx) error {
	userID := c.Params("userId")

	rec, err := bc.ledger.Get(c.UserContext(), userID)
	if err != nil {
		if errors.Is(err, billing.ErrRecordNotFound) {
			return c.JSON(fiber.Map{"userId": userID, "plan": "free", "subscription": nil})
		}
		log.Errorf("[Billing] loading subscription for %s failed: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load subscription"})
	}

	return c.JSON(fiber.Map{
		"userId": rec.UserID,
		"plan":   rec.PlanName,
		"subscription": fiber.Map{
			"subscriptionId":   rec.SubscriptionID,
			"planPrice":        rec.PlanPrice,
			"nextPaymentDate":  formatTimePtr(rec.NextPaymentDate),
			"pendingPlan":      rec.PendingPlan,
			"pendingStartDate": formatTimePtr(rec.PendingStartDate),
			"lastFourDigits":   rec.LastFourDigits,
		},
	})
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
