// Package hubspot connects HubSpot portals over OAuth2.
package hubspot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/open-sspm/integration-hub/internal/connectors/configstore"
	"github.com/open-sspm/integration-hub/internal/connectors/connector"
	"github.com/open-sspm/integration-hub/internal/integration"
)

const maxErrorBodySize = 1 << 20

type service struct {
	cfg configstore.HubSpotConfig
}

type accountDetails struct {
	PortalID        int64  `json:"portalId"`
	AccountType     string `json:"accountType"`
	TimeZone        string `json:"timeZone"`
	CompanyCurrency string `json:"companyCurrency"`
	UIDomain        string `json:"uiDomain"`
	DataHostingLoc  string `json:"dataHostingLocation"`
}

func (s *service) details(ctx context.Context, c *connector.Connector) (accountDetails, error) {
	var out accountDetails
	err := c.GetJSON(ctx, s.cfg.APIBase+"/account-info/v3/details", &out)
	return out, err
}

func (s *service) TestConnection(ctx context.Context, c *connector.Connector) (bool, error) {
	resp, err := c.MakeAuthenticatedRequest(ctx, s.cfg.APIBase+"/account-info/v3/details", connector.RequestOptions{})
	if err != nil {
		return false, err
	}
	return resp.OK(), nil
}

func (s *service) ServiceMetadata(ctx context.Context, c *connector.Connector) (map[string]any, error) {
	d, err := s.details(ctx, c)
	if err != nil {
		return nil, err
	}
	meta := map[string]any{
		"portal_id":    d.PortalID,
		"account_type": d.AccountType,
		"time_zone":    d.TimeZone,
		"currency":     d.CompanyCurrency,
		"ui_domain":    d.UIDomain,
	}
	if d.DataHostingLoc != "" {
		meta["data_hosting_location"] = d.DataHostingLoc
	}
	return meta, nil
}

// Revoke deletes the refresh token, which invalidates the whole grant.
func (s *service) Revoke(ctx context.Context, c *connector.Connector) error {
	rt := c.Connection().RefreshToken
	if rt == "" {
		return nil
	}
	endpoint := s.cfg.APIBase + "/oauth/v1/refresh-tokens/" + url.PathEscape(rt)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTPClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	// 404 means the token is already gone.
	if resp.StatusCode == http.StatusNotFound || (resp.StatusCode >= 200 && resp.StatusCode < 300) {
		return nil
	}
	return fmt.Errorf("hubspot revoke failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

// Event is one entry of a HubSpot webhook batch.
type Event struct {
	EventID          int64  `json:"eventId"`
	SubscriptionID   int64  `json:"subscriptionId"`
	PortalID         int64  `json:"portalId"`
	SubscriptionType string `json:"subscriptionType"`
	ObjectID         int64  `json:"objectId"`
	PropertyName     string `json:"propertyName,omitempty"`
	PropertyValue    string `json:"propertyValue,omitempty"`
	OccurredAt       int64  `json:"occurredAt"`
}

// DecodeEvents parses a HubSpot webhook body, which is a JSON array of events.
func DecodeEvents(body []byte) ([]Event, error) {
	var events []Event
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("decode hubspot webhook batch: %w", err)
	}
	return events, nil
}

// WebhookHandler returns the handler the webhook manager routes HubSpot
// deliveries to. It validates the batch and logs one line per subscription type.
func WebhookHandler(logger *slog.Logger) func(context.Context, integration.WebhookPayload) error {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, payload integration.WebhookPayload) error {
		events, err := DecodeEvents(payload.Body)
		if err != nil {
			return err
		}
		counts := make(map[string]int)
		for _, evt := range events {
			counts[evt.SubscriptionType]++
		}
		for typ, n := range counts {
			logger.InfoContext(ctx, "hubspot webhook batch",
				"webhook_id", payload.WebhookID,
				"connection_id", payload.ConnectionID,
				"subscription_type", typ,
				"events", n,
			)
		}
		return nil
	}
}
