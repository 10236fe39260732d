package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shoplium/shoplium/internal/pkg/env"
)

const defaultMercadoPagoAPIBaseURL = "https://api.mercadopago.com"

// MercadoPagoClient implements Gateway against the MercadoPago preapproval
// (recurring subscription) API.
type MercadoPagoClient struct {
	AccessToken string
	APIBaseURL  string

	HTTPClient *http.Client
}

func NewMercadoPagoClientFromEnv() *MercadoPagoClient {
	return &MercadoPagoClient{
		AccessToken: strings.TrimSpace(env.GetEnv("MERCADOPAGO_ACCESS_TOKEN", "")),
		APIBaseURL:  strings.TrimRight(env.GetEnv("MERCADOPAGO_API_BASE_URL", defaultMercadoPagoAPIBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (c *MercadoPagoClient) Name() string { return ProviderMercadoPago }

type mercadoPagoPreapproval struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	ExternalReference string `json:"external_reference"`
	Reason            string `json:"reason"`
	NextPaymentDate   string `json:"next_payment_date"`
	AutoRecurring     struct {
		TransactionAmount float64 `json:"transaction_amount"`
	} `json:"auto_recurring"`
}

// GetSubscription fetches GET /preapproval/{id} and normalizes it.
// external_reference carries the platform user id, reason the plan name.
func (c *MercadoPagoClient) GetSubscription(ctx context.Context, id string) (*SubscriptionSnapshot, error) {
	var raw mercadoPagoPreapproval
	if err := c.getJSON(ctx, "/preapproval/"+strings.TrimSpace(id), &raw); err != nil {
		return nil, err
	}
	if strings.TrimSpace(raw.ID) == "" {
		return nil, fmt.Errorf("%w: preapproval %s missing id", ErrProvider, id)
	}
	return &SubscriptionSnapshot{
		ID:               raw.ID,
		Status:           strings.ToLower(strings.TrimSpace(raw.Status)),
		OwnerReference:   strings.TrimSpace(raw.ExternalReference),
		PlanName:         strings.TrimSpace(raw.Reason),
		Amount:           raw.AutoRecurring.TransactionAmount,
		CurrentPeriodEnd: parseMercadoPagoDate(raw.NextPaymentDate),
	}, nil
}

type mercadoPagoPayment struct {
	ID                 json.Number `json:"id"`
	Status             string      `json:"status"`
	StatusDetail       string      `json:"status_detail"`
	ExternalReference  string      `json:"external_reference"`
	TransactionAmount  float64     `json:"transaction_amount"`
	PreapprovalID      string      `json:"preapproval_id"`
	PointOfInteraction struct {
		TransactionData struct {
			SubscriptionID string `json:"subscription_id"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
	Metadata struct {
		PreapprovalID string `json:"preapproval_id"`
	} `json:"metadata"`
	Card struct {
		LastFourDigits string `json:"last_four_digits"`
	} `json:"card"`
}

// GetPayment fetches a payment. Recurring (subscription) payments live on
// /authorized_payments, one-off payments on /v1/payments. A standard
// payment is successful only when status is "approved" and status_detail
// is "accredited"; authorized payments report "processed" when collected.
func (c *MercadoPagoClient) GetPayment(ctx context.Context, id string, kind PaymentKind) (*PaymentSnapshot, error) {
	path := "/v1/payments/" + strings.TrimSpace(id)
	if kind == PaymentKindRecurring {
		path = "/authorized_payments/" + strings.TrimSpace(id)
	}

	var raw mercadoPagoPayment
	if err := c.getJSON(ctx, path, &raw); err != nil {
		return nil, err
	}

	status := strings.ToLower(strings.TrimSpace(raw.Status))
	detail := strings.ToLower(strings.TrimSpace(raw.StatusDetail))
	succeeded := status == "approved" && detail == "accredited"
	if kind == PaymentKindRecurring {
		succeeded = status == "processed" || status == "approved"
	}

	subscriptionID := strings.TrimSpace(raw.PointOfInteraction.TransactionData.SubscriptionID)
	if subscriptionID == "" {
		subscriptionID = strings.TrimSpace(raw.PreapprovalID)
	}
	if subscriptionID == "" {
		subscriptionID = strings.TrimSpace(raw.Metadata.PreapprovalID)
	}
	if subscriptionID == "" {
		subscriptionID = strings.TrimSpace(raw.ExternalReference)
	}

	var last4 *string
	if v := strings.TrimSpace(raw.Card.LastFourDigits); v != "" {
		last4 = &v
	}

	return &PaymentSnapshot{
		ID:             raw.ID.String(),
		Status:         status,
		OwnerReference: strings.TrimSpace(raw.ExternalReference),
		Amount:         raw.TransactionAmount,
		SubscriptionID: subscriptionID,
		LastFourDigits: last4,
		Succeeded:      succeeded,
	}, nil
}

// CancelSubscription issues PUT /preapproval/{id} {"status":"cancelled"}.
// If the provider rejects the update, the preapproval is re-read; an
// already-cancelled subscription counts as success (idempotent cancel).
func (c *MercadoPagoClient) CancelSubscription(ctx context.Context, id string) (*CancelResult, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: subscription id is required", ErrValidation)
	}

	var raw mercadoPagoPreapproval
	err := c.putJSON(ctx, "/preapproval/"+id, map[string]string{"status": "cancelled"}, &raw)
	if err != nil {
		// MercadoPago answers 400 when the preapproval is already
		// cancelled; confirm via a read before giving up.
		current, getErr := c.GetSubscription(ctx, id)
		if getErr == nil && current.Status == "cancelled" {
			return &CancelResult{EffectivePeriodEnd: current.CurrentPeriodEnd}, nil
		}
		return nil, err
	}

	return &CancelResult{EffectivePeriodEnd: parseMercadoPagoDate(raw.NextPaymentDate)}, nil
}

func (c *MercadoPagoClient) getJSON(ctx context.Context, path string, out any) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, out)
}

func (c *MercadoPagoClient) putJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return c.doJSON(ctx, http.MethodPut, path, body, out)
}

func (c *MercadoPagoClient) doJSON(ctx context.Context, method, path string, body []byte, out any) error {
	if strings.TrimSpace(c.AccessToken) == "" {
		return errors.New("MERCADOPAGO_ACCESS_TOKEN is not configured")
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.APIBaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProvider, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s %s failed: status=%d body=%s", ErrProvider, method, path, resp.StatusCode, string(respBody))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: decoding %s response: %v", ErrProvider, path, err)
	}
	return nil
}

func parseMercadoPagoDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000-07:00"} {
		if t, err := time.Parse(layout, raw); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}
