package billing

import (
	"errors"
	"time"
)

// Provider names used for configuration, routing and webhook dedup.
const (
	ProviderMercadoPago = "mercadopago"
	ProviderStripe      = "stripe"
)

var (
	// ErrInvalidSignature marks a webhook whose authenticity check failed.
	// Never retried; the transport answers 403 without any side effect.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrValidation marks a request with missing or malformed fields.
	ErrValidation = errors.New("validation failed")

	// ErrRecordNotFound is returned by the ledger when a user has no
	// subscription record.
	ErrRecordNotFound = errors.New("subscription record not found")

	// ErrProvider wraps payment provider transport/API failures. The
	// webhook transport answers 500 so the provider redelivers.
	ErrProvider = errors.New("payment provider error")
)

// PaymentKind selects which payment resource a provider should resolve.
// The legacy provider keeps recurring (subscription) payments and one-off
// payments on different endpoints; the modern provider ignores the kind.
type PaymentKind string

const (
	PaymentKindStandard  PaymentKind = "standard"
	PaymentKindRecurring PaymentKind = "recurring"
)

// SubscriptionSnapshot is the provider-neutral view of a subscription,
// fetched fresh from the provider at decision time.
type SubscriptionSnapshot struct {
	ID               string
	Status           string
	OwnerReference   string // platform user id held by the provider
	PlanName         string // provider-reported plan label (legacy provider)
	ProductID        string // provider product/price id (modern provider)
	Amount           float64
	CurrentPeriodEnd *time.Time
}

// PaymentSnapshot is the provider-neutral view of a single payment.
// Succeeded is normalized by each adapter from its provider's own
// successful-status set.
type PaymentSnapshot struct {
	ID             string
	Status         string
	OwnerReference string
	Amount         float64
	SubscriptionID string
	LastFourDigits *string
	Succeeded      bool
}

// CancelResult reports when a cancelled subscription stops being paid for.
type CancelResult struct {
	EffectivePeriodEnd *time.Time
}
