package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shoplium/shoplium/app/models"
)

type ingestionHarness struct {
	ingestion *Ingestion
	ledger    *fakeLedger
	events    *fakeEventStore
	identity  *fakeIdentity
	stores    *fakeStores
	gateway   *fakeGateway
}

func newIngestionHarness() *ingestionHarness {
	h := &ingestionHarness{
		ledger:   newFakeLedger(),
		events:   newFakeEventStore(),
		identity: newFakeIdentity(),
		stores:   newFakeStores(),
		gateway:  newFakeGateway(ProviderMercadoPago),
	}
	h.ingestion = NewIngestion(IngestionConfig{
		Signature:   NewMercadoPagoSignatureValidator("whsec"),
		MercadoPago: h.gateway,
		Policy:      NewPolicy(testCatalog()),
		Ledger:      h.ledger,
		Events:      h.events,
		Identity:    h.identity,
		Propagator:  NewPropagator(h.identity, h.stores),
	})
	h.ingestion.now = func() time.Time { return testNow }
	return h
}

func mercadoPagoDelivery(t *testing.T, dataID, topic string, notificationID int) MercadoPagoDelivery {
	t.Helper()
	ts := fmt.Sprintf("%d", testNow.UnixMilli())
	template := fmt.Sprintf("id:%s;request-id:req-1;ts:%s;", strings.ToLower(dataID), ts)
	mac := hmac.New(sha256.New, []byte("whsec"))
	mac.Write([]byte(template))
	return MercadoPagoDelivery{
		Payload:   []byte(fmt.Sprintf(`{"id": %d, "type": %q, "data": {"id": %q}}`, notificationID, topic, dataID)),
		DataID:    dataID,
		RequestID: "req-1",
		Signature: fmt.Sprintf("ts=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil))),
		Topic:     topic,
	}
}

func TestIngestionRejectsBadSignatureWithoutSideEffects(t *testing.T) {
	h := newIngestionHarness()
	d := mercadoPagoDelivery(t, "SUB1", TopicSubscriptionPreapproval, 1)
	d.Signature = "ts=1,v1=deadbeef"

	_, err := h.ingestion.ProcessMercadoPago(context.Background(), d)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	if len(h.events.seen) != 0 {
		t.Fatalf("rejected delivery must not be recorded")
	}
	if h.ledger.upserts != 0 || len(h.identity.writes) != 0 {
		t.Fatalf("rejected delivery must not touch ledger or identity")
	}
}

func TestIngestionAcksDuplicateWithoutReprocessing(t *testing.T) {
	h := newIngestionHarness()
	nextMonth := testNow.AddDate(0, 1, 0)
	h.gateway.subscriptions["SUB1"] = &SubscriptionSnapshot{
		ID: "SUB1", Status: "authorized", OwnerReference: "user-1",
		PlanName: "Royal", Amount: 10, CurrentPeriodEnd: &nextMonth,
	}
	d := mercadoPagoDelivery(t, "SUB1", TopicSubscriptionPreapproval, 5)

	first, err := h.ingestion.ProcessMercadoPago(context.Background(), d)
	if err != nil || first.Duplicate {
		t.Fatalf("first delivery should process, got %+v, %v", first, err)
	}

	second, err := h.ingestion.ProcessMercadoPago(context.Background(), d)
	if err != nil {
		t.Fatalf("duplicate delivery must still ack, got %v", err)
	}
	if !second.Duplicate {
		t.Fatalf("expected duplicate flag on redelivery")
	}
	if h.ledger.upserts != 1 {
		t.Fatalf("duplicate must not write the ledger again, upserts=%d", h.ledger.upserts)
	}
}

func TestIngestionAuthorizedPreapprovalGrantsPlan(t *testing.T) {
	h := newIngestionHarness()
	nextMonth := testNow.AddDate(0, 1, 0)
	h.gateway.subscriptions["SUB1"] = &SubscriptionSnapshot{
		ID: "SUB1", Status: "authorized", OwnerReference: "user-1",
		PlanName: "Royal", Amount: 10, CurrentPeriodEnd: &nextMonth,
	}
	h.stores.stores["user-1"] = []models.Store{{StoreID: "store-1", UserID: "user-1"}}

	res, err := h.ingestion.ProcessMercadoPago(context.Background(), mercadoPagoDelivery(t, "SUB1", TopicSubscriptionPreapproval, 10))
	if err != nil {
		t.Fatalf("ProcessMercadoPago failed: %v", err)
	}
	if res.UserID != "user-1" || res.Plan != "Royal" {
		t.Fatalf("unexpected result: %+v", res)
	}

	rec, err := h.ledger.Get(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("expected ledger record, got %v", err)
	}
	if rec.PlanName != "Royal" || rec.SubscriptionID != "SUB1" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if h.identity.plans["user-1"] != "Royal" {
		t.Fatalf("expected identity plan Royal, got %q", h.identity.plans["user-1"])
	}
	if !h.stores.stores["user-1"][0].StoreStatus {
		t.Fatalf("expected store activated")
	}
}

func TestIngestionCancelledPreapprovalSchedulesDowngrade(t *testing.T) {
	h := newIngestionHarness()
	periodEnd := testNow.Add(10 * 24 * time.Hour)
	h.gateway.subscriptions["SUB1"] = &SubscriptionSnapshot{
		ID: "SUB1", Status: "cancelled", OwnerReference: "user-1",
		PlanName: "Royal", CurrentPeriodEnd: &periodEnd,
	}
	h.identity.plans["user-1"] = "Royal"
	h.ledger.put(models.UserSubscription{
		UserID: "user-1", SubscriptionID: "SUB1", PlanName: "Royal", PlanPrice: 10,
		NextPaymentDate: timePtr(periodEnd),
	})

	res, err := h.ingestion.ProcessMercadoPago(context.Background(), mercadoPagoDelivery(t, "SUB1", TopicSubscriptionPreapproval, 11))
	if err != nil {
		t.Fatalf("ProcessMercadoPago failed: %v", err)
	}
	if res.Plan != "Royal" {
		t.Fatalf("plan must stay Royal until the period end, got %q", res.Plan)
	}

	rec, _ := h.ledger.Get(context.Background(), "user-1")
	if rec.PendingPlan == nil || *rec.PendingPlan != models.PlanFree {
		t.Fatalf("expected scheduled downgrade to free, got %+v", rec)
	}
	if h.identity.plans["user-1"] != "Royal" {
		t.Fatalf("identity must keep the paid plan for now")
	}
}

func TestIngestionRecurringPaymentRenews(t *testing.T) {
	h := newIngestionHarness()
	newEnd := testNow.AddDate(0, 1, 0)
	last4 := "4242"
	h.gateway.payments["77"] = &PaymentSnapshot{
		ID: "77", Status: "processed", OwnerReference: "user-1",
		Amount: 10, SubscriptionID: "SUB1", LastFourDigits: &last4, Succeeded: true,
	}
	h.gateway.subscriptions["SUB1"] = &SubscriptionSnapshot{
		ID: "SUB1", Status: "authorized", OwnerReference: "user-1",
		PlanName: "Royal", Amount: 10, CurrentPeriodEnd: &newEnd,
	}
	h.identity.plans["user-1"] = "Royal"
	h.ledger.put(models.UserSubscription{
		UserID: "user-1", SubscriptionID: "SUB1", PlanName: "Royal", PlanPrice: 10,
		NextPaymentDate: timePtr(testNow.Add(24 * time.Hour)),
	})

	if _, err := h.ingestion.ProcessMercadoPago(context.Background(), mercadoPagoDelivery(t, "77", TopicAuthorizedPayment, 12)); err != nil {
		t.Fatalf("ProcessMercadoPago failed: %v", err)
	}

	rec, _ := h.ledger.Get(context.Background(), "user-1")
	if rec.NextPaymentDate == nil || !rec.NextPaymentDate.Equal(newEnd) {
		t.Fatalf("expected next payment date refreshed to %v, got %v", newEnd, rec.NextPaymentDate)
	}
	if rec.LastFourDigits == nil || *rec.LastFourDigits != "4242" {
		t.Fatalf("expected card digits stored, got %v", rec.LastFourDigits)
	}
}

func TestIngestionFailedPaymentIsIgnored(t *testing.T) {
	h := newIngestionHarness()
	h.gateway.payments["42"] = &PaymentSnapshot{
		ID: "42", Status: "rejected", OwnerReference: "user-1", Amount: 10, SubscriptionID: "SUB1",
	}

	res, err := h.ingestion.ProcessMercadoPago(context.Background(), mercadoPagoDelivery(t, "42", TopicPayment, 13))
	if err != nil {
		t.Fatalf("ProcessMercadoPago failed: %v", err)
	}
	if !res.Ignored {
		t.Fatalf("failed payment must be ignored, got %+v", res)
	}
	if h.ledger.upserts != 0 {
		t.Fatalf("failed payment must not write the ledger")
	}
}

func TestIngestionUnknownTopicIsAcked(t *testing.T) {
	h := newIngestionHarness()

	res, err := h.ingestion.ProcessMercadoPago(context.Background(), mercadoPagoDelivery(t, "X1", "plan", 14))
	if err != nil {
		t.Fatalf("unknown topic must ack, got %v", err)
	}
	if !res.Ignored {
		t.Fatalf("expected Ignored, got %+v", res)
	}
	if dedupErr, ok := h.events.processed[ProviderMercadoPago+"/14"]; !ok || dedupErr != nil {
		t.Fatalf("expected event marked processed without error, got %v, %v", dedupErr, ok)
	}
}

func TestIngestionProviderErrorSurfacesForRedelivery(t *testing.T) {
	h := newIngestionHarness()
	// No subscription registered in the fake gateway: re-query fails.

	_, err := h.ingestion.ProcessMercadoPago(context.Background(), mercadoPagoDelivery(t, "SUBX", TopicSubscriptionPreapproval, 15))
	if !errors.Is(err, ErrProvider) {
		t.Fatalf("expected ErrProvider, got %v", err)
	}
	if procErr := h.events.processed[ProviderMercadoPago+"/15"]; procErr == nil {
		t.Fatalf("expected processing error recorded on the event")
	}
}

func TestStripeInvoiceSubscriptionID(t *testing.T) {
	flat := map[string]interface{}{"subscription": "sub_1"}
	if got := stripeInvoiceSubscriptionID(flat); got != "sub_1" {
		t.Fatalf("flat field: got %q", got)
	}

	nested := map[string]interface{}{
		"parent": map[string]interface{}{
			"subscription_details": map[string]interface{}{"subscription": "sub_2"},
		},
	}
	if got := stripeInvoiceSubscriptionID(nested); got != "sub_2" {
		t.Fatalf("nested field: got %q", got)
	}

	if got := stripeInvoiceSubscriptionID(map[string]interface{}{}); got != "" {
		t.Fatalf("empty object: got %q", got)
	}
}
