package billing

import "context"

// Gateway is the provider-neutral payment provider interface. One adapter
// exists per provider (MercadoPago, Stripe); both return the same
// normalized snapshot shapes, so the policy and the handlers never branch
// on the provider.
type Gateway interface {
	// Name returns the provider name (e.g. "mercadopago", "stripe").
	Name() string

	// GetSubscription fetches the current subscription state from the
	// provider. Always re-queried at decision time; never cached.
	GetSubscription(ctx context.Context, id string) (*SubscriptionSnapshot, error)

	// GetPayment fetches a single payment/order.
	GetPayment(ctx context.Context, id string, kind PaymentKind) (*PaymentSnapshot, error)

	// CancelSubscription asks the provider to cancel. Adapters treat an
	// already-cancelled subscription as success.
	CancelSubscription(ctx context.Context, id string) (*CancelResult, error)
}
