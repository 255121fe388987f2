// Package ga4 connects Google Analytics 4 properties through the Admin API.
package ga4

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/open-sspm/integration-hub/internal/connectors/configstore"
	"github.com/open-sspm/integration-hub/internal/connectors/connector"
)

const maxErrorBodySize = 1 << 20

type service struct {
	cfg configstore.GA4Config
}

type property struct {
	Name          string `json:"name"`
	DisplayName   string `json:"displayName"`
	TimeZone      string `json:"timeZone"`
	CurrencyCode  string `json:"currencyCode"`
	PropertyType  string `json:"propertyType"`
	ParentAccount string `json:"parent"`
}

type accountSummaries struct {
	AccountSummaries []struct {
		Account           string `json:"account"`
		DisplayName       string `json:"displayName"`
		PropertySummaries []struct {
			Property    string `json:"property"`
			DisplayName string `json:"displayName"`
		} `json:"propertySummaries"`
	} `json:"accountSummaries"`
	NextPageToken string `json:"nextPageToken"`
}

func (s *service) summariesURL(pageSize int) string {
	return fmt.Sprintf("%s/v1beta/accountSummaries?pageSize=%d", s.cfg.AdminAPIBase, pageSize)
}

func (s *service) TestConnection(ctx context.Context, c *connector.Connector) (bool, error) {
	resp, err := c.MakeAuthenticatedRequest(ctx, s.summariesURL(1), connector.RequestOptions{})
	if err != nil {
		return false, err
	}
	return resp.OK(), nil
}

// ServiceMetadata describes the configured property, or summarizes the
// accessible accounts when no property is configured.
func (s *service) ServiceMetadata(ctx context.Context, c *connector.Connector) (map[string]any, error) {
	if s.cfg.PropertyID != "" {
		var p property
		if err := c.GetJSON(ctx, s.cfg.AdminAPIBase+"/v1beta/properties/"+url.PathEscape(s.cfg.PropertyID), &p); err != nil {
			return nil, err
		}
		return map[string]any{
			"property":      p.Name,
			"display_name":  p.DisplayName,
			"time_zone":     p.TimeZone,
			"currency_code": p.CurrencyCode,
			"property_type": p.PropertyType,
			"account":       p.ParentAccount,
		}, nil
	}

	var summaries accountSummaries
	if err := c.GetJSON(ctx, s.summariesURL(200), &summaries); err != nil {
		return nil, err
	}
	accounts := make([]string, 0, len(summaries.AccountSummaries))
	properties := 0
	for _, a := range summaries.AccountSummaries {
		accounts = append(accounts, a.DisplayName)
		properties += len(a.PropertySummaries)
	}
	return map[string]any{
		"accounts":       accounts,
		"property_count": properties,
		"truncated":      summaries.NextPageToken != "",
	}, nil
}

// Revoke invalidates the grant at Google. Revoking the refresh token also
// revokes every access token issued from it.
func (s *service) Revoke(ctx context.Context, c *connector.Connector) error {
	conn := c.Connection()
	token := conn.RefreshToken
	if token == "" {
		token = conn.AccessToken
	}
	if token == "" {
		return nil
	}
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.OAuth2().RevocationURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.HTTPClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	// invalid_token: already revoked or expired.
	if resp.StatusCode == http.StatusBadRequest && strings.Contains(string(body), "invalid_token") {
		return nil
	}
	return fmt.Errorf("google revoke failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
