package billing

import "time"

// EventKind tags the closed set of normalized webhook events. Raw provider
// payloads are parsed into these variants at the ingestion boundary; the
// transition policy never sees a raw payload.
type EventKind string

const (
	EventUnsupported           EventKind = "unsupported"
	EventSubscriptionActivated EventKind = "subscription_activated"
	EventSubscriptionEnded     EventKind = "subscription_ended"
	EventPaymentSucceeded      EventKind = "payment_succeeded"
)

// Event is one normalized provider event. Which fields are meaningful
// depends on Kind:
//
//   - EventSubscriptionActivated: ProductID, Status, SubscriptionID,
//     PeriodEnd, Amount
//   - EventSubscriptionEnded: PeriodEnd (nil means already expired)
//   - EventPaymentSucceeded: NewPlan, Amount, NextPaymentDate,
//     SubscriptionID, LastFourDigits
type Event struct {
	Kind           EventKind
	OwnerReference string
	SubscriptionID string

	ProductID string
	Status    string
	PeriodEnd *time.Time

	NewPlan         string
	Amount          float64
	NextPaymentDate *time.Time
	LastFourDigits  *string
}
