/**
 * @description
 * This package provides a client for the risk/config platform that backs the
 * orchestration core's external collaborators: cascade ranking, bin-routing
 * retrieval, fraud advice, and site/biller-mapping resolution. It
 * encapsulates the authenticated HTTP requests and response parsing; the
 * core only sees the collaborator interfaces this client satisfies.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package riskclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/velora/purchase-service/internal/app"
	"github.com/velora/purchase-service/internal/domain"
)

// Client is a client for the risk/config platform API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new risk platform client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// ErrorResponse represents an error from the risk platform API.
type ErrorResponse struct {
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

func (e *ErrorResponse) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("risk api error: %s - %s", e.Errors[0].Title, e.Errors[0].Detail)
	}
	return "unknown risk api error"
}

// Rank returns the ordered biller ranking for a purchase context.
func (c *Client) Rank(ctx context.Context, req app.CascadeRankingRequest) ([]domain.BillerName, error) {
	payload := map[string]string{
		"session_id":        req.SessionID,
		"site_id":           req.SiteID,
		"business_group_id": req.BusinessGroupID,
		"country":           req.Country,
		"payment_type":      string(req.PaymentType),
		"payment_method":    req.PaymentMethod,
		"traffic_source":    req.TrafficSource,
	}
	var resp struct {
		Billers []string `json:"billers"`
	}
	if err := c.post(ctx, "/api/v1/cascade/rank", payload, &resp); err != nil {
		return nil, err
	}
	names := make([]domain.BillerName, 0, len(resp.Billers))
	for _, raw := range resp.Billers {
		name, err := domain.ParseBillerName(raw)
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, nil
}

// RetrieveRoutingCodes fetches the bin-routing candidates for an item. A nil
// collection means no routing applies.
func (c *Client) RetrieveRoutingCodes(ctx context.Context, item *domain.InitializedItem, site domain.Site, mapping domain.BillerMapping) (*domain.BinRoutingCollection, error) {
	payload := map[string]interface{}{
		"item_id":     item.ItemID.String(),
		"site_id":     site.SiteID,
		"biller_name": string(mapping.BillerName),
		"currency":    mapping.CurrencyCode,
	}
	var resp struct {
		Routings []struct {
			Attempt     int    `json:"attempt"`
			RoutingCode string `json:"routing_code"`
		} `json:"routings"`
	}
	if err := c.post(ctx, "/api/v1/bin-routing/retrieve", payload, &resp); err != nil {
		return nil, err
	}
	if len(resp.Routings) == 0 {
		return domain.NewBinRoutingCollection(), nil
	}
	collection := domain.NewBinRoutingCollection()
	for _, r := range resp.Routings {
		collection.Add(item.ItemID.String(), domain.BinRouting{Attempt: r.Attempt, RoutingCode: r.RoutingCode})
	}
	return collection, nil
}

// Advise fetches the fraud advice for a purchase.
func (c *Client) Advise(ctx context.Context, siteID string, user domain.UserInfo, payment domain.PaymentInfo) (domain.FraudAdvice, error) {
	payload := map[string]string{
		"site_id": siteID,
		"email":   user.Email,
		"country": user.Country,
		"ip":      user.IPAddress,
	}
	if payment != nil {
		payload["payment_type"] = string(payment.Type())
	}
	var resp struct {
		ForceThreeD        bool `json:"force_three_d"`
		BlacklistOnDecline bool `json:"blacklist_on_decline"`
	}
	if err := c.post(ctx, "/api/v1/fraud/advice", payload, &resp); err != nil {
		return domain.FraudAdvice{}, err
	}
	return domain.FraudAdvice{ForceThreeD: resp.ForceThreeD, BlacklistOnDecline: resp.BlacklistOnDecline}, nil
}

// ResolveSite fetches the site configuration.
func (c *Client) ResolveSite(ctx context.Context, siteID string) (domain.Site, error) {
	var resp struct {
		SiteID          string `json:"site_id"`
		BusinessGroupID string `json:"business_group_id"`
		Attempts        int    `json:"attempts"`
		NSFSupported    bool   `json:"nsf_supported"`
		ReturnURL       string `json:"return_url"`
	}
	if err := c.get(ctx, "/api/v1/sites/"+siteID, &resp); err != nil {
		return domain.Site{}, err
	}
	return domain.Site{
		SiteID:          resp.SiteID,
		BusinessGroupID: resp.BusinessGroupID,
		Attempts:        resp.Attempts,
		NSFSupported:    resp.NSFSupported,
		ReturnURL:       resp.ReturnURL,
	}, nil
}

// ResolveBillerMapping fetches the merchant credentials bundle for one
// biller on one site/currency.
func (c *Client) ResolveBillerMapping(ctx context.Context, siteID string, biller domain.BillerName, currencyCode string) (domain.BillerMapping, error) {
	var resp struct {
		SiteID          string          `json:"site_id"`
		BusinessGroupID string          `json:"business_group_id"`
		CurrencyCode    string          `json:"currency_code"`
		BillerName      string          `json:"biller_name"`
		Fields          json.RawMessage `json:"biller_fields"`
	}
	path := fmt.Sprintf("/api/v1/sites/%s/biller-mappings/%s?currency=%s", siteID, biller, currencyCode)
	if err := c.get(ctx, path, &resp); err != nil {
		return domain.BillerMapping{}, err
	}
	name, err := domain.ParseBillerName(resp.BillerName)
	if err != nil {
		return domain.BillerMapping{}, err
	}
	fields, err := decodeBillerFields(name, resp.Fields)
	if err != nil {
		return domain.BillerMapping{}, err
	}
	return domain.BillerMapping{
		SiteID:          resp.SiteID,
		BusinessGroupID: resp.BusinessGroupID,
		CurrencyCode:    resp.CurrencyCode,
		BillerName:      name,
		Fields:          fields,
	}, nil
}

func decodeBillerFields(name domain.BillerName, raw json.RawMessage) (domain.BillerFields, error) {
	switch name {
	case domain.BillerRocketgate:
		var f domain.RocketgateFields
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("failed to decode rocketgate fields: %w", err)
		}
		return f, nil
	case domain.BillerNetbilling:
		var f domain.NetbillingFields
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("failed to decode netbilling fields: %w", err)
		}
		return f, nil
	case domain.BillerEpoch:
		var f domain.EpochFields
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("failed to decode epoch fields: %w", err)
		}
		return f, nil
	case domain.BillerQysso:
		var f domain.QyssoFields
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("failed to decode qysso fields: %w", err)
		}
		return f, nil
	}
	return nil, fmt.Errorf("%w: %q", domain.ErrUnknownBillerName, name)
}

func (c *Client) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal risk request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create risk request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, path, out)
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create risk request: %w", err)
	}
	return c.do(req, path, out)
}

func (c *Client) do(req *http.Request, path string, out interface{}) error {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-risk-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute risk request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read risk response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=risk_client path=%s status=%d msg=\"non-2xx response (unparsable error body)\"", path, resp.StatusCode)
			return fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=risk_client path=%s status=%d msg=\"non-2xx response\"", path, resp.StatusCode)
		return &errResp
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode success response: %w", err)
	}
	return nil
}
