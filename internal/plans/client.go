package plans

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/joao-fontenele/insureflow/internal/apperr"
	"github.com/joao-fontenele/insureflow/internal/domain"
)

// Client fetches plan snapshots from the plans service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

// Snapshot returns the plan as currently priced. Missing and inactive plans
// are both reported as not found.
func (c *Client) Snapshot(ctx context.Context, planID string) (*domain.PlanSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/plans/"+url.PathEscape(planID), nil)
	if err != nil {
		return nil, fmt.Errorf("create plan request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperr.External("plans service", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, apperr.NotFound("plan %s not found", planID)
	case resp.StatusCode != http.StatusOK:
		return nil, apperr.External("plans service", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var plan domain.PlanSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&plan); err != nil {
		return nil, apperr.External("plans service", fmt.Errorf("decode plan: %w", err))
	}

	if !plan.IsActive {
		return nil, apperr.NotFound("plan %s is not active", planID)
	}

	return &plan, nil
}
