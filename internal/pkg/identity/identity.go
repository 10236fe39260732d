// Package identity talks to the platform's identity provider, which holds
// a per-user "plan" attribute consulted by authorization checks. The
// subscription engine treats that attribute as a projection of the ledger:
// it is rewritten on every plan change and repaired by the hourly sweep.
package identity

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

	"github.com/google/uuid"

	"github.com/shoplium/shoplium/app/models"
	"github.com/shoplium/shoplium/internal/pkg/env"
)

// PlanAttribute is the user attribute name carrying the effective plan.
const PlanAttribute = "plan"

// Provider is the identity-provider surface the engine needs.
type Provider interface {
	// GetPlan returns the user's plan attribute; users without the
	// attribute are on the free plan.
	GetPlan(ctx context.Context, userID string) (string, error)

	// SetPlan writes the plan attribute.
	SetPlan(ctx context.Context, userID, plan string) error
}

// HTTPProvider implements Provider against the identity service's admin
// REST API (bearer-token protected).
type HTTPProvider struct {
	BaseURL  string
	APIToken string

	HTTPClient *http.Client
}

func NewHTTPProviderFromEnv() *HTTPProvider {
	return &HTTPProvider{
		BaseURL:  strings.TrimRight(env.GetEnv("IDENTITY_API_BASE_URL", "http://localhost:9000"), "/"),
		APIToken: strings.TrimSpace(env.GetEnv("IDENTITY_API_TOKEN", "")),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (p *HTTPProvider) GetPlan(ctx context.Context, userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", errors.New("user id is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+"/admin/users/"+userID+"/attributes", nil)
	if err != nil {
		return "", err
	}
	p.setHeaders(req)

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("identity get attributes for %s: %w", userID, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("identity get attributes for %s: status=%d body=%s", userID, resp.StatusCode, string(body))
	}

	var raw struct {
		Attributes map[string]string `json:"attributes"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", fmt.Errorf("identity get attributes for %s: %w", userID, err)
	}

	plan := strings.TrimSpace(raw.Attributes[PlanAttribute])
	if plan == "" {
		return models.PlanFree, nil
	}
	return plan, nil
}

func (p *HTTPProvider) SetPlan(ctx context.Context, userID, plan string) error {
	userID = strings.TrimSpace(userID)
	plan = strings.TrimSpace(plan)
	if userID == "" || plan == "" {
		return errors.New("user id and plan are required")
	}

	payload, err := json.Marshal(map[string]string{"value": plan})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, p.BaseURL+"/admin/users/"+userID+"/attributes/"+PlanAttribute, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	p.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("identity set plan for %s: %w", userID, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("identity set plan for %s: status=%d body=%s", userID, resp.StatusCode, string(body))
	}
	return nil
}

func (p *HTTPProvider) setHeaders(req *http.Request) {
	if p.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIToken)
	}
	req.Header.Set("Accept", "application/json")
	// Correlation id the identity service echoes into its own logs.
	req.Header.Set("X-Request-Id", uuid.NewString())
}
