package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/shoplium/shoplium/internal/pkg/env"
)

// userIDMetadataKey is set on Stripe subscriptions and payment intents by
// the checkout flow so webhook processing can map back to a platform user.
const userIDMetadataKey = "user_id"

// StripeGateway implements Gateway on top of the official Stripe SDK.
// Webhook authenticity is delegated to the SDK's own verification routine.
type StripeGateway struct {
	client        *stripe.Client
	webhookSecret string
}

func NewStripeGatewayFromEnv() *StripeGateway {
	return &StripeGateway{
		client:        stripe.NewClient(strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", "")), nil),
		webhookSecret: strings.TrimSpace(env.GetEnv("STRIPE_WEBHOOK_SECRET", "")),
	}
}

func NewStripeGateway(client *stripe.Client, webhookSecret string) *StripeGateway {
	return &StripeGateway{client: client, webhookSecret: webhookSecret}
}

func (g *StripeGateway) Name() string { return ProviderStripe }

// VerifyWebhook checks the Stripe-Signature header and returns the parsed
// event. Any failure is reported as ErrInvalidSignature.
func (g *StripeGateway) VerifyWebhook(payload []byte, signatureHeader string) (*stripe.Event, error) {
	if g.webhookSecret == "" {
		return nil, fmt.Errorf("%w: STRIPE_WEBHOOK_SECRET is not configured", ErrInvalidSignature)
	}
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return &event, nil
}

// GetSubscription normalizes a Stripe subscription. The owner reference is
// read from subscription metadata, falling back to the expanded customer's
// metadata. Amounts arrive in cents and are converted to currency units.
func (g *StripeGateway) GetSubscription(ctx context.Context, id string) (*SubscriptionSnapshot, error) {
	params := &stripe.SubscriptionRetrieveParams{
		Expand: []*string{
			stripe.String("customer"),
			stripe.String("items.data.price.product"),
		},
	}
	sub, err := g.client.V1Subscriptions.Retrieve(ctx, strings.TrimSpace(id), params)
	if err != nil {
		return nil, fmt.Errorf("%w: retrieve subscription %s: %v", ErrProvider, id, err)
	}
	return normalizeStripeSubscription(sub), nil
}

func normalizeStripeSubscription(sub *stripe.Subscription) *SubscriptionSnapshot {
	snapshot := &SubscriptionSnapshot{
		ID:             sub.ID,
		Status:         string(sub.Status),
		OwnerReference: strings.TrimSpace(sub.Metadata[userIDMetadataKey]),
	}
	if snapshot.OwnerReference == "" && sub.Customer != nil {
		snapshot.OwnerReference = strings.TrimSpace(sub.Customer.Metadata[userIDMetadataKey])
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item.Price != nil {
			snapshot.Amount = float64(item.Price.UnitAmount) / 100
			if item.Price.Product != nil {
				snapshot.ProductID = item.Price.Product.ID
			}
		}
		if item.CurrentPeriodEnd > 0 {
			end := time.Unix(item.CurrentPeriodEnd, 0).UTC()
			snapshot.CurrentPeriodEnd = &end
		}
	}
	return snapshot
}

// GetPayment normalizes a payment intent. Stripe keeps recurring and
// one-off payments on the same resource, so the kind is ignored.
func (g *StripeGateway) GetPayment(ctx context.Context, id string, _ PaymentKind) (*PaymentSnapshot, error) {
	params := &stripe.PaymentIntentRetrieveParams{
		Expand: []*string{
			stripe.String("customer"),
		},
	}
	pi, err := g.client.V1PaymentIntents.Retrieve(ctx, strings.TrimSpace(id), params)
	if err != nil {
		return nil, fmt.Errorf("%w: retrieve payment intent %s: %v", ErrProvider, id, err)
	}

	owner := strings.TrimSpace(pi.Metadata[userIDMetadataKey])
	if owner == "" && pi.Customer != nil {
		owner = strings.TrimSpace(pi.Customer.Metadata[userIDMetadataKey])
	}

	return &PaymentSnapshot{
		ID:             pi.ID,
		Status:         string(pi.Status),
		OwnerReference: owner,
		Amount:         float64(pi.Amount) / 100,
		SubscriptionID: strings.TrimSpace(pi.Metadata["subscription_id"]),
		Succeeded:      pi.Status == stripe.PaymentIntentStatusSucceeded,
	}, nil
}

// CancelSubscription cancels immediately at the provider. A subscription
// that is already canceled is treated as success: the current state is
// re-read and its period end returned.
func (g *StripeGateway) CancelSubscription(ctx context.Context, id string) (*CancelResult, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: subscription id is required", ErrValidation)
	}

	sub, err := g.client.V1Subscriptions.Cancel(ctx, id, &stripe.SubscriptionCancelParams{})
	if err != nil {
		current, getErr := g.client.V1Subscriptions.Retrieve(ctx, id, nil)
		if getErr == nil && current.Status == stripe.SubscriptionStatusCanceled {
			sub = current
		} else {
			return nil, fmt.Errorf("%w: cancel subscription %s: %v", ErrProvider, id, err)
		}
	}

	snapshot := normalizeStripeSubscription(sub)
	return &CancelResult{EffectivePeriodEnd: snapshot.CurrentPeriodEnd}, nil
}
