package billing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestMercadoPagoClient(handler http.Handler) (*MercadoPagoClient, *httptest.Server) {
	srv := httptest.NewServer(handler)
	client := &MercadoPagoClient{
		AccessToken: "test-token",
		APIBaseURL:  srv.URL,
		HTTPClient:  srv.Client(),
	}
	return client, srv
}

func TestMercadoPagoGetSubscription(t *testing.T) {
	client, srv := newTestMercadoPagoClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/preapproval/SUB1" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Fatalf("unexpected auth header %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "SUB1",
			"status": "Authorized",
			"external_reference": "user-1",
			"reason": "Royal",
			"next_payment_date": "2026-04-10T12:00:00.000-04:00",
			"auto_recurring": {"transaction_amount": 10.5}
		}`))
	}))
	defer srv.Close()

	sub, err := client.GetSubscription(context.Background(), "SUB1")
	if err != nil {
		t.Fatalf("GetSubscription failed: %v", err)
	}
	if sub.Status != "authorized" || sub.OwnerReference != "user-1" || sub.PlanName != "Royal" {
		t.Fatalf("unexpected snapshot: %+v", sub)
	}
	if sub.Amount != 10.5 {
		t.Fatalf("expected amount 10.5, got %v", sub.Amount)
	}
	want := time.Date(2026, 4, 10, 16, 0, 0, 0, time.UTC)
	if sub.CurrentPeriodEnd == nil || !sub.CurrentPeriodEnd.Equal(want) {
		t.Fatalf("expected period end %v, got %v", want, sub.CurrentPeriodEnd)
	}
}

func TestMercadoPagoGetPaymentStandard(t *testing.T) {
	client, srv := newTestMercadoPagoClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payments/42" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{
			"id": 42,
			"status": "approved",
			"status_detail": "accredited",
			"external_reference": "user-1",
			"transaction_amount": 10,
			"point_of_interaction": {"transaction_data": {"subscription_id": "SUB1"}},
			"card": {"last_four_digits": "4242"}
		}`))
	}))
	defer srv.Close()

	payment, err := client.GetPayment(context.Background(), "42", PaymentKindStandard)
	if err != nil {
		t.Fatalf("GetPayment failed: %v", err)
	}
	if !payment.Succeeded {
		t.Fatalf("approved+accredited payment must count as succeeded")
	}
	if payment.SubscriptionID != "SUB1" {
		t.Fatalf("expected subscription id SUB1, got %q", payment.SubscriptionID)
	}
	if payment.LastFourDigits == nil || *payment.LastFourDigits != "4242" {
		t.Fatalf("expected card digits 4242, got %v", payment.LastFourDigits)
	}
}

func TestMercadoPagoGetPaymentNotAccredited(t *testing.T) {
	client, srv := newTestMercadoPagoClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": 42, "status": "approved", "status_detail": "pending_capture", "transaction_amount": 10}`))
	}))
	defer srv.Close()

	payment, err := client.GetPayment(context.Background(), "42", PaymentKindStandard)
	if err != nil {
		t.Fatalf("GetPayment failed: %v", err)
	}
	if payment.Succeeded {
		t.Fatalf("approved without accredited must not count as succeeded")
	}
}

func TestMercadoPagoGetPaymentRecurring(t *testing.T) {
	client, srv := newTestMercadoPagoClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/authorized_payments/77" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"id": 77, "status": "processed", "preapproval_id": "SUB1", "transaction_amount": 10, "external_reference": "user-1"}`))
	}))
	defer srv.Close()

	payment, err := client.GetPayment(context.Background(), "77", PaymentKindRecurring)
	if err != nil {
		t.Fatalf("GetPayment failed: %v", err)
	}
	if !payment.Succeeded {
		t.Fatalf("processed authorized payment must count as succeeded")
	}
	if payment.SubscriptionID != "SUB1" {
		t.Fatalf("expected preapproval fallback, got %q", payment.SubscriptionID)
	}
}

func TestMercadoPagoGetPaymentProviderError(t *testing.T) {
	client, srv := newTestMercadoPagoClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := client.GetPayment(context.Background(), "42", PaymentKindStandard)
	if !errors.Is(err, ErrProvider) {
		t.Fatalf("expected ErrProvider, got %v", err)
	}
}

func TestMercadoPagoCancelSubscription(t *testing.T) {
	client, srv := newTestMercadoPagoClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/preapproval/SUB1" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"id": "SUB1", "status": "cancelled", "next_payment_date": "2026-04-10T12:00:00Z"}`))
	}))
	defer srv.Close()

	res, err := client.CancelSubscription(context.Background(), "SUB1")
	if err != nil {
		t.Fatalf("CancelSubscription failed: %v", err)
	}
	want := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	if res.EffectivePeriodEnd == nil || !res.EffectivePeriodEnd.Equal(want) {
		t.Fatalf("expected period end %v, got %v", want, res.EffectivePeriodEnd)
	}
}

func TestMercadoPagoCancelAlreadyCancelled(t *testing.T) {
	client, srv := newTestMercadoPagoClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"message": "preapproval already cancelled"}`))
			return
		}
		w.Write([]byte(`{"id": "SUB1", "status": "cancelled", "next_payment_date": "2026-04-10T12:00:00Z"}`))
	}))
	defer srv.Close()

	res, err := client.CancelSubscription(context.Background(), "SUB1")
	if err != nil {
		t.Fatalf("expected idempotent cancel to succeed, got %v", err)
	}
	if res.EffectivePeriodEnd == nil {
		t.Fatalf("expected period end from re-read")
	}
}
