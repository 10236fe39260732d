package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"

	"github.com/shoplium/shoplium/app/models"
	"github.com/shoplium/shoplium/internal/pkg/identity"
)

// MercadoPago webhook topics the engine reacts to.
const (
	TopicSubscriptionPreapproval = "subscription_preapproval"
	TopicAuthorizedPayment       = "subscription_authorized_payment"
	TopicPayment                 = "payment"
)

// MercadoPagoDelivery is one raw MercadoPago webhook request as received
// by the transport layer: the body plus the headers and query parameters
// the signature scheme covers.
type MercadoPagoDelivery struct {
	Payload   []byte
	DataID    string // "data.id" query parameter
	RequestID string // x-request-id header
	Signature string // x-signature header
	Topic     string // "type" or "topic" query parameter
}

// IngestResult reports what a webhook delivery caused.
type IngestResult struct {
	// Duplicate is set when the delivery was seen before; it was acked
	// without side effects.
	Duplicate bool

	// Ignored is set when the delivery was authentic but carried no
	// actionable state change (unknown topic, failed payment, unknown
	// product, zero amount).
	Ignored bool

	UserID string
	Plan   string
}

// StripeWebhookVerifier is the slice of the Stripe gateway the ingestion
// service needs beyond Gateway.
type StripeWebhookVerifier interface {
	VerifyWebhook(payload []byte, signatureHeader string) (*stripe.Event, error)
}

// Ingestion turns raw provider webhooks into ledger transitions. Payloads
// are treated as hints only: the provider is re-queried for the current
// state before any decision is made, so stale or reordered deliveries
// converge on the same result.
type Ingestion struct {
	signature   *MercadoPagoSignatureValidator
	mercadoPago Gateway
	stripe      Gateway
	stripeHooks StripeWebhookVerifier
	policy      *Policy
	ledger      Ledger
	events      EventStore
	identity    identity.Provider
	propagator  *Propagator

	now func() time.Time
}

// IngestionConfig bundles the collaborators of an Ingestion service.
type IngestionConfig struct {
	Signature   *MercadoPagoSignatureValidator
	MercadoPago Gateway
	Stripe      Gateway
	StripeHooks StripeWebhookVerifier
	Policy      *Policy
	Ledger      Ledger
	Events      EventStore
	Identity    identity.Provider
	Propagator  *Propagator
}

func NewIngestion(cfg IngestionConfig) *Ingestion {
	return &Ingestion{
		signature:   cfg.Signature,
		mercadoPago: cfg.MercadoPago,
		stripe:      cfg.Stripe,
		stripeHooks: cfg.StripeHooks,
		policy:      cfg.Policy,
		ledger:      cfg.Ledger,
		events:      cfg.Events,
		identity:    cfg.Identity,
		propagator:  cfg.Propagator,
		now:         time.Now,
	}
}

type mercadoPagoNotification struct {
	ID   json.Number `json:"id"`
	Type string      `json:"type"`
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

// ProcessMercadoPago handles one MercadoPago delivery: signature first (a
// failed check produces no side effect at all), then dedup, then topic
// classification with a fresh provider read.
func (s *Ingestion) ProcessMercadoPago(ctx context.Context, d MercadoPagoDelivery) (*IngestResult, error) {
	if err := s.signature.Validate(d.DataID, d.RequestID, d.Signature, s.now()); err != nil {
		return nil, err
	}

	var note mercadoPagoNotification
	if err := json.Unmarshal(d.Payload, &note); err != nil {
		log.Printf("[Billing] mercadopago payload not parseable: %v", err)
	}

	topic := strings.TrimSpace(d.Topic)
	if topic == "" {
		topic = strings.TrimSpace(note.Type)
	}
	dataID := strings.TrimSpace(d.DataID)
	if dataID == "" {
		dataID = strings.TrimSpace(note.Data.ID)
	}

	eventID := note.ID.String()
	if eventID == "" || eventID == "0" {
		eventID = PayloadFingerprint(d.Payload)
	}

	inserted, err := s.events.Record(ctx, &models.BillingWebhookEvent{
		Provider:        ProviderMercadoPago,
		ProviderEventID: eventID,
		EventType:       topic,
		PayloadJSON:     string(d.Payload),
		SignatureValid:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("recording mercadopago event: %w", err)
	}
	if !inserted {
		return &IngestResult{Duplicate: true}, nil
	}

	res, procErr := s.processMercadoPagoTopic(ctx, topic, dataID)
	if markErr := s.events.MarkProcessed(ctx, ProviderMercadoPago, eventID, procErr); markErr != nil {
		log.Printf("[Billing] marking mercadopago event %s processed failed: %v", eventID, markErr)
	}
	return res, procErr
}

func (s *Ingestion) processMercadoPagoTopic(ctx context.Context, topic, dataID string) (*IngestResult, error) {
	switch topic {
	case TopicSubscriptionPreapproval:
		sub, err := s.mercadoPago.GetSubscription(ctx, dataID)
		if err != nil {
			return nil, err
		}
		switch sub.Status {
		case "cancelled", "paused":
			return s.apply(ctx, Event{
				Kind:           EventSubscriptionEnded,
				OwnerReference: sub.OwnerReference,
				SubscriptionID: sub.ID,
				PeriodEnd:      sub.CurrentPeriodEnd,
			})
		case "authorized":
			return s.apply(ctx, Event{
				Kind:            EventPaymentSucceeded,
				OwnerReference:  sub.OwnerReference,
				SubscriptionID:  sub.ID,
				NewPlan:         sub.PlanName,
				Amount:          sub.Amount,
				NextPaymentDate: sub.CurrentPeriodEnd,
			})
		default:
			log.Printf("[Billing] mercadopago preapproval %s in state %q, nothing to do", dataID, sub.Status)
			return &IngestResult{Ignored: true}, nil
		}

	case TopicAuthorizedPayment, TopicPayment:
		kind := PaymentKindStandard
		if topic == TopicAuthorizedPayment {
			kind = PaymentKindRecurring
		}
		payment, err := s.mercadoPago.GetPayment(ctx, dataID, kind)
		if err != nil {
			return nil, err
		}
		if !payment.Succeeded {
			log.Printf("[Billing] mercadopago payment %s not successful (status=%s), ignoring", dataID, payment.Status)
			return &IngestResult{Ignored: true}, nil
		}
		if payment.SubscriptionID == "" {
			return &IngestResult{Ignored: true}, nil
		}

		// The payment names the amount; the preapproval names the plan
		// and next renewal.
		sub, err := s.mercadoPago.GetSubscription(ctx, payment.SubscriptionID)
		if err != nil {
			return nil, err
		}
		owner := payment.OwnerReference
		if owner == "" {
			owner = sub.OwnerReference
		}
		return s.apply(ctx, Event{
			Kind:            EventPaymentSucceeded,
			OwnerReference:  owner,
			SubscriptionID:  sub.ID,
			NewPlan:         sub.PlanName,
			Amount:          payment.Amount,
			NextPaymentDate: sub.CurrentPeriodEnd,
			LastFourDigits:  payment.LastFourDigits,
		})

	default:
		log.Printf("[Billing] mercadopago topic %q not handled", topic)
		return &IngestResult{Ignored: true}, nil
	}
}

// ProcessStripe handles one Stripe delivery. Verification and parsing are
// the SDK's; the subscription is always re-read from Stripe rather than
// trusted from the (possibly stale) event object.
func (s *Ingestion) ProcessStripe(ctx context.Context, payload []byte, signatureHeader string) (*IngestResult, error) {
	event, err := s.stripeHooks.VerifyWebhook(payload, signatureHeader)
	if err != nil {
		return nil, err
	}

	inserted, err := s.events.Record(ctx, &models.BillingWebhookEvent{
		Provider:        ProviderStripe,
		ProviderEventID: event.ID,
		EventType:       string(event.Type),
		PayloadJSON:     string(payload),
		SignatureValid:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("recording stripe event: %w", err)
	}
	if !inserted {
		return &IngestResult{Duplicate: true}, nil
	}

	res, procErr := s.processStripeEvent(ctx, event)
	if markErr := s.events.MarkProcessed(ctx, ProviderStripe, event.ID, procErr); markErr != nil {
		log.Printf("[Billing] marking stripe event %s processed failed: %v", event.ID, markErr)
	}
	return res, procErr
}

func (s *Ingestion) processStripeEvent(ctx context.Context, event *stripe.Event) (*IngestResult, error) {
	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		subID, _ := event.Data.Object["id"].(string)
		return s.applyStripeSubscription(ctx, subID)

	case "invoice.payment_succeeded":
		subID := stripeInvoiceSubscriptionID(event.Data.Object)
		if subID == "" {
			return &IngestResult{Ignored: true}, nil
		}
		return s.applyStripeSubscription(ctx, subID)

	case "payment_intent.succeeded":
		piID, _ := event.Data.Object["id"].(string)
		payment, err := s.stripe.GetPayment(ctx, piID, PaymentKindStandard)
		if err != nil {
			return nil, err
		}
		if !payment.Succeeded || payment.SubscriptionID == "" {
			return &IngestResult{Ignored: true}, nil
		}
		return s.applyStripeSubscription(ctx, payment.SubscriptionID)

	default:
		log.Printf("[Billing] stripe event %s not handled", event.Type)
		return &IngestResult{Ignored: true}, nil
	}
}

func (s *Ingestion) applyStripeSubscription(ctx context.Context, subscriptionID string) (*IngestResult, error) {
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return &IngestResult{Ignored: true}, nil
	}
	sub, err := s.stripe.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, Event{
		Kind:           EventSubscriptionActivated,
		OwnerReference: sub.OwnerReference,
		SubscriptionID: sub.ID,
		ProductID:      sub.ProductID,
		Status:         strings.ToLower(sub.Status),
		Amount:         sub.Amount,
		PeriodEnd:      sub.CurrentPeriodEnd,
	})
}

// stripeInvoiceSubscriptionID digs the subscription id out of an invoice
// payload, covering both the flat legacy field and the nested parent
// object newer API versions use.
func stripeInvoiceSubscriptionID(obj map[string]interface{}) string {
	if id, ok := obj["subscription"].(string); ok && id != "" {
		return id
	}
	parent, ok := obj["parent"].(map[string]interface{})
	if !ok {
		return ""
	}
	details, ok := parent["subscription_details"].(map[string]interface{})
	if !ok {
		return ""
	}
	id, _ := details["subscription"].(string)
	return id
}

// apply runs one normalized event through the policy and executes the
// resulting decision: ledger write first, then identity and store
// propagation.
func (s *Ingestion) apply(ctx context.Context, ev Event) (*IngestResult, error) {
	if strings.TrimSpace(ev.OwnerReference) == "" {
		log.Printf("[Billing] event %s carries no owner reference, ignoring", ev.Kind)
		return &IngestResult{Ignored: true}, nil
	}

	existing, err := s.ledger.Get(ctx, ev.OwnerReference)
	if err != nil && err != ErrRecordNotFound {
		return nil, err
	}

	currentPlan, err := s.identity.GetPlan(ctx, ev.OwnerReference)
	if err != nil {
		return nil, fmt.Errorf("reading identity plan for %s: %w", ev.OwnerReference, err)
	}

	decision := s.policy.Decide(s.now(), currentPlan, existing, ev)

	if decision.Persist {
		if err := s.ledger.Upsert(ctx, &decision.Record); err != nil {
			return nil, err
		}
	}
	if decision.UpdateIdentity {
		// The ledger write above is authoritative. A failed identity write
		// is repaired by the drift check on the next event, so the delivery
		// is still acked rather than forcing a redelivery the dedup log
		// would ignore.
		if err := s.propagator.SetPlan(ctx, ev.OwnerReference, decision.IdentityPlan); err != nil {
			log.Printf("[Billing] identity update for %s failed: %v", ev.OwnerReference, err)
		}
	} else if decision.PropagateStores {
		s.propagator.SyncStores(ctx, ev.OwnerReference, decision.StorePlan)
	}

	res := &IngestResult{UserID: ev.OwnerReference, Plan: currentPlan}
	if decision.UpdateIdentity {
		res.Plan = decision.IdentityPlan
	} else if decision.Persist {
		res.Plan = decision.Record.PlanName
	}
	if !decision.Persist && !decision.UpdateIdentity {
		res.Ignored = true
	}
	return res, nil
}
