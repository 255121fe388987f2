// Package wordpress connects WordPress sites through the REST API using a
// bearer API key.
package wordpress

import (
	"context"
	"log/slog"
	"strings"

	"github.com/open-sspm/integration-hub/internal/connectors/configstore"
	"github.com/open-sspm/integration-hub/internal/connectors/connector"
	"github.com/open-sspm/integration-hub/internal/connectors/registry"
	"github.com/open-sspm/integration-hub/internal/integration"
)

const docsURL = "https://developer.wordpress.org/rest-api/"

type Definition struct{}

func NewDefinition() *Definition {
	return &Definition{}
}

func (d *Definition) Kind() string {
	return configstore.KindWordPress
}

func (d *Definition) Metadata() registry.Metadata {
	return registry.Metadata{
		DisplayName: "WordPress",
		AuthMethod:  integration.AuthMethodAPIKey,
		ConfigSchema: map[string]any{
			"type":     "object",
			"required": []string{"site_url"},
			"properties": map[string]any{
				"site_url": map[string]any{"type": "string", "format": "uri"},
			},
		},
		DocsURL: docsURL,
		Capabilities: []string{
			registry.CapabilityWebhooks,
			registry.CapabilityMetadata,
		},
	}
}

func (d *Definition) NewConnector(conn integration.Connection, deps connector.Deps) (*connector.Connector, error) {
	var cfg configstore.WordPressConfig
	if err := configstore.DecodeMap(conn.Config, &cfg); err != nil {
		return nil, integration.Wrap(integration.KindValidation, "new wordpress connector", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, integration.Wrap(integration.KindValidation, "new wordpress connector", err)
	}
	return connector.New(connector.Spec{
		Type:       configstore.KindWordPress,
		AuthMethod: integration.AuthMethodAPIKey,
		Service:    &service{apiBase: cfg.APIBaseURL()},
	}, conn, deps)
}

type service struct {
	apiBase string
}

type siteIndex struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	URL            string   `json:"url"`
	Home           string   `json:"home"`
	GMTOffset      any      `json:"gmt_offset"`
	TimezoneString string   `json:"timezone_string"`
	Namespaces     []string `json:"namespaces"`
}

func (s *service) TestConnection(ctx context.Context, c *connector.Connector) (bool, error) {
	resp, err := c.MakeAuthenticatedRequest(ctx, s.apiBase+"/wp/v2/users/me", connector.RequestOptions{})
	if err != nil {
		return false, err
	}
	return resp.OK(), nil
}

func (s *service) ServiceMetadata(ctx context.Context, c *connector.Connector) (map[string]any, error) {
	var idx siteIndex
	if err := c.GetJSON(ctx, s.apiBase, &idx); err != nil {
		return nil, err
	}
	woo := false
	for _, ns := range idx.Namespaces {
		if strings.HasPrefix(ns, "wc/") {
			woo = true
			break
		}
	}
	return map[string]any{
		"name":        idx.Name,
		"description": idx.Description,
		"url":         idx.URL,
		"home":        idx.Home,
		"timezone":    idx.TimezoneString,
		"gmt_offset":  idx.GMTOffset,
		"woocommerce": woo,
	}, nil
}

// WebhookHandler logs WordPress and WooCommerce webhook deliveries.
func WebhookHandler(logger *slog.Logger) func(context.Context, integration.WebhookPayload) error {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, payload integration.WebhookPayload) error {
		logger.InfoContext(ctx, "wordpress webhook",
			"webhook_id", payload.WebhookID,
			"connection_id", payload.ConnectionID,
			"event", payload.Event,
			"source", payload.Headers.Get("X-WC-Webhook-Source"),
			"bytes", len(payload.Body),
		)
		return nil
	}
}
