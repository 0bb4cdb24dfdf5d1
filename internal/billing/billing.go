// Package billing implements the quota gate the agent driver checks
// before every iteration. The real billing system lives outside this
// runtime; this package ships an HTTP client for it and an allow-all
// stub for deployments without billing.
package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/arcflow/agentcore/internal/agent"
)

// AllowAll passes every check. Used when billing is disabled.
type AllowAll struct{}

// Check always allows the run.
func (AllowAll) Check(ctx context.Context, accountID string) (bool, string, agent.SubscriptionInfo, error) {
	return true, "", agent.SubscriptionInfo{}, nil
}

// HTTPClient asks a remote billing service whether an account can run.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPClient constructs a billing client against baseURL.
func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type checkResponse struct {
	CanRun       bool   `json:"can_run"`
	Message      string `json:"message"`
	Subscription struct {
		Tier      string    `json:"tier"`
		SeatsUsed int       `json:"seats_used"`
		RenewsAt  time.Time `json:"renews_at"`
	} `json:"subscription"`
}

// Check calls GET {base}/v1/accounts/{id}/can-run. A transport or decode
// failure is an error (the driver aborts); a can_run=false decision is
// not.
func (c *HTTPClient) Check(ctx context.Context, accountID string) (bool, string, agent.SubscriptionInfo, error) {
	endpoint := fmt.Sprintf("%s/v1/accounts/%s/can-run", c.baseURL, url.PathEscape(accountID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, "", agent.SubscriptionInfo{}, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return false, "", agent.SubscriptionInfo{}, fmt.Errorf("billing check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, "", agent.SubscriptionInfo{}, fmt.Errorf("billing check: unexpected status %d", resp.StatusCode)
	}

	var decoded checkResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return false, "", agent.SubscriptionInfo{}, fmt.Errorf("billing check: decode: %w", err)
	}
	info := agent.SubscriptionInfo{
		Tier:      decoded.Subscription.Tier,
		SeatsUsed: decoded.Subscription.SeatsUsed,
		RenewsAt:  decoded.Subscription.RenewsAt,
	}
	return decoded.CanRun, decoded.Message, info, nil
}

var (
	_ agent.BillingService = AllowAll{}
	_ agent.BillingService = (*HTTPClient)(nil)
)
