package billing

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shoplium/shoplium/app/models"
)

// Cancellation handles user-initiated subscription cancellations: cancel
// at the provider, then schedule the downgrade to free for the end of the
// already-paid period. The user keeps the plan until then.
type Cancellation struct {
	gateways map[string]Gateway
	ledger   Ledger

	now func() time.Time
}

func NewCancellation(ledger Ledger, gateways ...Gateway) *Cancellation {
	byName := make(map[string]Gateway, len(gateways))
	for _, g := range gateways {
		byName[g.Name()] = g
	}
	return &Cancellation{gateways: byName, ledger: ledger, now: time.Now}
}

// Cancel cancels the user's subscription with the named provider and
// schedules the transition to free. The effective end date is, in order of
// preference: the provider's reported period end, the ledger's next
// payment date, or now.
func (c *Cancellation) Cancel(ctx context.Context, provider, userID, subscriptionID string) (time.Time, error) {
	userID = strings.TrimSpace(userID)
	subscriptionID = strings.TrimSpace(subscriptionID)
	if userID == "" || subscriptionID == "" {
		return time.Time{}, fmt.Errorf("%w: user id and subscription id are required", ErrValidation)
	}

	gateway, ok := c.gateways[strings.TrimSpace(provider)]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: unknown provider %q", ErrValidation, provider)
	}

	rec, err := c.ledger.Get(ctx, userID)
	if err != nil {
		return time.Time{}, err
	}

	result, err := gateway.CancelSubscription(ctx, subscriptionID)
	if err != nil {
		return time.Time{}, err
	}

	endDate := c.now().UTC()
	switch {
	case result.EffectivePeriodEnd != nil && result.EffectivePeriodEnd.After(endDate):
		endDate = result.EffectivePeriodEnd.UTC()
	case rec.NextPaymentDate != nil && rec.NextPaymentDate.After(endDate):
		endDate = rec.NextPaymentDate.UTC()
	}

	// The current plan stays in force until the period runs out; only the
	// scheduled transition is written.
	free := models.PlanFree
	rec.PendingPlan = &free
	rec.PendingStartDate = &endDate
	if err := c.ledger.Upsert(ctx, rec); err != nil {
		return time.Time{}, err
	}

	log.Printf("[Billing] user %s cancelled subscription %s via %s, free plan starts %s", userID, subscriptionID, gateway.Name(), endDate.Format(time.RFC3339))
	return endDate, nil
}
