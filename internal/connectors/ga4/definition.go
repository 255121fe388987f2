package ga4

import (
	"github.com/open-sspm/integration-hub/internal/connectors/configstore"
	"github.com/open-sspm/integration-hub/internal/connectors/connector"
	"github.com/open-sspm/integration-hub/internal/connectors/registry"
	"github.com/open-sspm/integration-hub/internal/integration"
)

const (
	defaultAuthURL   = "https://accounts.google.com/o/oauth2/v2/auth"
	defaultTokenURL  = "https://oauth2.googleapis.com/token"
	defaultRevokeURL = "https://oauth2.googleapis.com/revoke"
	docsURL          = "https://developers.google.com/analytics/devguides/config/admin/v1"

	scopeAnalyticsReadonly = "https://www.googleapis.com/auth/analytics.readonly"
)

type Definition struct {
	app         configstore.OAuthApp
	redirectURI string

	// Endpoint overrides; empty values use Google's endpoints.
	AuthURL   string
	TokenURL  string
	RevokeURL string
}

func NewDefinition(app configstore.OAuthApp, redirectURI string) *Definition {
	return &Definition{app: app.Normalized(), redirectURI: redirectURI}
}

func (d *Definition) Kind() string {
	return configstore.KindGA4
}

func (d *Definition) Metadata() registry.Metadata {
	return registry.Metadata{
		DisplayName: "Google Analytics 4",
		AuthMethod:  integration.AuthMethodOAuth2,
		ConfigSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"property_id":    map[string]any{"type": "string", "pattern": "^(properties/)?[0-9]+$"},
				"admin_api_base": map[string]any{"type": "string", "format": "uri"},
			},
		},
		DocsURL: docsURL,
		Capabilities: []string{
			registry.CapabilityOAuth2,
			registry.CapabilityRefresh,
			registry.CapabilityRevoke,
			registry.CapabilityMetadata,
		},
	}
}

func (d *Definition) oauth2Config() *integration.OAuth2Config {
	cfg := &integration.OAuth2Config{
		ClientID:      d.app.ClientID,
		ClientSecret:  d.app.ClientSecret,
		AuthURL:       firstNonEmpty(d.AuthURL, defaultAuthURL),
		TokenURL:      firstNonEmpty(d.TokenURL, defaultTokenURL),
		RevocationURL: firstNonEmpty(d.RevokeURL, defaultRevokeURL),
		RedirectURI:   d.redirectURI,
		Scopes:        []string{scopeAnalyticsReadonly},
		PKCE:          true,
		// Google only issues a refresh token for offline access with consent.
		ExtraParams: map[string]string{
			"access_type":            "offline",
			"prompt":                 "consent",
			"include_granted_scopes": "true",
		},
	}
	return cfg
}

func (d *Definition) NewConnector(conn integration.Connection, deps connector.Deps) (*connector.Connector, error) {
	var cfg configstore.GA4Config
	if err := configstore.DecodeMap(conn.Config, &cfg); err != nil {
		return nil, integration.Wrap(integration.KindValidation, "new ga4 connector", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, integration.Wrap(integration.KindValidation, "new ga4 connector", err)
	}
	return connector.New(connector.Spec{
		Type:       configstore.KindGA4,
		AuthMethod: integration.AuthMethodOAuth2,
		OAuth2:     d.oauth2Config(),
		Service:    &service{cfg: cfg.Normalized()},
	}, conn, deps)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
