package billing

import (
	"time"

	"github.com/shoplium/shoplium/app/models"
)

// Decision is the outcome of evaluating one normalized event against the
// user's current state. It describes the next ledger record and which
// propagation steps must run; the policy itself performs no I/O.
type Decision struct {
	// Persist is set when Record must be written to the ledger
	// (full-replace semantics).
	Persist bool
	Record  models.UserSubscription

	// UpdateIdentity is set when the identity plan attribute must change
	// now; IdentityPlan is the value to write.
	UpdateIdentity bool
	IdentityPlan   string

	// PropagateStores requests a store-flag fan-out even when the
	// identity attribute is unchanged, keeping repeated deliveries
	// self-healing. StorePlan is the plan the flags derive from.
	PropagateStores bool
	StorePlan       string
}

// Policy computes ledger transitions. It holds only the static plan
// catalog; every call receives the fresh provider state via the event and
// current state via its arguments.
type Policy struct {
	Catalog *Catalog
}

func NewPolicy(catalog *Catalog) *Policy {
	return &Policy{Catalog: catalog}
}

// Decide maps one event onto the next ledger state.
//
// currentIdentityPlan is the plan attribute held by the identity provider
// at decision time; existing is the user's ledger record or nil when none
// exists yet.
func (p *Policy) Decide(now time.Time, currentIdentityPlan string, existing *models.UserSubscription, ev Event) Decision {
	switch ev.Kind {
	case EventSubscriptionEnded:
		return p.decideEnded(now, currentIdentityPlan, existing, ev)
	case EventPaymentSucceeded:
		return p.decidePayment(now, currentIdentityPlan, existing, ev)
	case EventSubscriptionActivated:
		return p.decideActivated(now, currentIdentityPlan, existing, ev)
	default:
		return Decision{}
	}
}

func (p *Policy) decideEnded(now time.Time, currentPlan string, existing *models.UserSubscription, ev Event) Decision {
	// Already on free: nothing to revoke, but re-derive store flags so a
	// redelivered cancellation still repairs stale activation state.
	if currentPlan == models.PlanFree {
		return Decision{PropagateStores: true, StorePlan: models.PlanFree}
	}

	// Paid time left on the period: defer the downgrade, keep access.
	if ev.PeriodEnd != nil && ev.PeriodEnd.After(now) {
		d := Decision{PropagateStores: true, StorePlan: currentPlan}
		if existing != nil {
			rec := *existing
			free := models.PlanFree
			end := ev.PeriodEnd.UTC()
			rec.PendingPlan = &free
			rec.PendingStartDate = &end
			d.Persist = true
			d.Record = rec
		}
		return d
	}

	// Period already over: revoke now.
	d := Decision{
		UpdateIdentity:  true,
		IdentityPlan:    models.PlanFree,
		PropagateStores: true,
		StorePlan:       models.PlanFree,
	}
	if existing != nil {
		rec := *existing
		rec.PlanName = models.PlanFree
		rec.PlanPrice = 0
		rec.NextPaymentDate = nil
		rec.LastFourDigits = nil
		rec.ClearPending()
		d.Persist = true
		d.Record = rec
	}
	return d
}

func (p *Policy) decidePayment(now time.Time, currentPlan string, existing *models.UserSubscription, ev Event) Decision {
	// A zero-amount payment carries no entitlement signal.
	if ev.Amount <= 0 || ev.NewPlan == "" || ev.NewPlan == models.PlanFree {
		return Decision{}
	}

	// Renewal of the plan the user already holds: refresh billing fields,
	// clear any scheduled transition, leave the identity alone unless it
	// drifted from the ledger.
	if existing != nil && existing.PlanName == ev.NewPlan {
		rec := *existing
		rec.PlanPrice = ev.Amount
		rec.NextPaymentDate = ev.NextPaymentDate
		if ev.SubscriptionID != "" {
			rec.SubscriptionID = ev.SubscriptionID
		}
		if ev.LastFourDigits != nil {
			rec.LastFourDigits = ev.LastFourDigits
		}
		rec.ClearPending()
		return Decision{
			Persist:         true,
			Record:          rec,
			UpdateIdentity:  currentPlan != ev.NewPlan,
			IdentityPlan:    ev.NewPlan,
			PropagateStores: true,
			StorePlan:       ev.NewPlan,
		}
	}

	isUpgrade := currentPlan == models.PlanFree || existing == nil || ev.Amount > existing.PlanPrice

	// Equal or lower amount is the downgrade path; while the paid-for
	// period has not lapsed the change is deferred to its end.
	if !isUpgrade && existing.NextPaymentDate != nil && existing.NextPaymentDate.After(now) {
		rec := *existing
		newPlan := ev.NewPlan
		start := existing.NextPaymentDate.UTC()
		rec.PendingPlan = &newPlan
		rec.PendingStartDate = &start
		if ev.SubscriptionID != "" {
			rec.SubscriptionID = ev.SubscriptionID
		}
		return Decision{
			Persist:         true,
			Record:          rec,
			PropagateStores: true,
			StorePlan:       currentPlan,
		}
	}

	// Upgrade, or a downgrade whose old period already lapsed: apply now.
	rec := models.UserSubscription{UserID: ev.OwnerReference}
	if existing != nil {
		rec = *existing
	}
	rec.PlanName = ev.NewPlan
	rec.PlanPrice = ev.Amount
	rec.NextPaymentDate = ev.NextPaymentDate
	if ev.SubscriptionID != "" {
		rec.SubscriptionID = ev.SubscriptionID
	}
	if ev.LastFourDigits != nil {
		rec.LastFourDigits = ev.LastFourDigits
	}
	rec.ClearPending()
	return Decision{
		Persist:         true,
		Record:          rec,
		UpdateIdentity:  true,
		IdentityPlan:    ev.NewPlan,
		PropagateStores: true,
		StorePlan:       ev.NewPlan,
	}
}

func (p *Policy) decideActivated(now time.Time, currentPlan string, existing *models.UserSubscription, ev Event) Decision {
	switch ev.Status {
	case "canceled", "incomplete_expired", "unpaid":
		return p.decideEnded(now, currentPlan, existing, ev)
	case "active", "trialing":
		plan, ok := p.Catalog.PlanForProduct(ev.ProductID)
		if !ok {
			return Decision{}
		}
		payment := ev
		payment.Kind = EventPaymentSucceeded
		payment.NewPlan = plan
		payment.NextPaymentDate = ev.PeriodEnd
		// Activation applies immediately even when priced below the old
		// plan: the provider has already switched the subscription.
		if existing != nil && existing.PlanName != plan && payment.Amount <= existing.PlanPrice {
			rec := *existing
			rec.PlanName = plan
			rec.PlanPrice = payment.Amount
			rec.NextPaymentDate = payment.NextPaymentDate
			if payment.SubscriptionID != "" {
				rec.SubscriptionID = payment.SubscriptionID
			}
			rec.ClearPending()
			return Decision{
				Persist:         true,
				Record:          rec,
				UpdateIdentity:  true,
				IdentityPlan:    plan,
				PropagateStores: true,
				StorePlan:       plan,
			}
		}
		return p.decidePayment(now, currentPlan, existing, payment)
	default:
		return Decision{}
	}
}
