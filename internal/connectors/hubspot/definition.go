package hubspot

import (
	"github.com/open-sspm/integration-hub/internal/connectors/configstore"
	"github.com/open-sspm/integration-hub/internal/connectors/connector"
	"github.com/open-sspm/integration-hub/internal/connectors/registry"
	"github.com/open-sspm/integration-hub/internal/integration"
)

const (
	defaultAuthURL  = "https://app.hubspot.com/oauth/authorize"
	defaultTokenURL = "https://api.hubapi.com/oauth/v1/token"
	docsURL         = "https://developers.hubspot.com/docs/api/oauth-quickstart-guide"
)

var defaultScopes = []string{"oauth", "crm.objects.contacts.read", "crm.objects.companies.read"}

type Definition struct {
	app         configstore.OAuthApp
	redirectURI string

	// AuthURL and TokenURL override the HubSpot endpoints when set.
	AuthURL  string
	TokenURL string
	Scopes   []string
}

func NewDefinition(app configstore.OAuthApp, redirectURI string) *Definition {
	return &Definition{app: app.Normalized(), redirectURI: redirectURI}
}

func (d *Definition) Kind() string {
	return configstore.KindHubSpot
}

func (d *Definition) Metadata() registry.Metadata {
	return registry.Metadata{
		DisplayName: "HubSpot",
		AuthMethod:  integration.AuthMethodOAuth2,
		ConfigSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"portal_id": map[string]any{"type": "string", "description": "HubSpot portal (hub) id"},
				"api_base":  map[string]any{"type": "string", "format": "uri", "default": "https://api.hubapi.com"},
			},
		},
		DocsURL: docsURL,
		Capabilities: []string{
			registry.CapabilityOAuth2,
			registry.CapabilityRefresh,
			registry.CapabilityRevoke,
			registry.CapabilityWebhooks,
			registry.CapabilityMetadata,
		},
	}
}

func (d *Definition) oauth2Config() *integration.OAuth2Config {
	authURL, tokenURL, scopes := d.AuthURL, d.TokenURL, d.Scopes
	if authURL == "" {
		authURL = defaultAuthURL
	}
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}
	if len(scopes) == 0 {
		scopes = defaultScopes
	}
	return &integration.OAuth2Config{
		ClientID:     d.app.ClientID,
		ClientSecret: d.app.ClientSecret,
		AuthURL:      authURL,
		TokenURL:     tokenURL,
		RedirectURI:  d.redirectURI,
		Scopes:       scopes,
	}
}

func (d *Definition) NewConnector(conn integration.Connection, deps connector.Deps) (*connector.Connector, error) {
	var cfg configstore.HubSpotConfig
	if err := configstore.DecodeMap(conn.Config, &cfg); err != nil {
		return nil, integration.Wrap(integration.KindValidation, "new hubspot connector", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, integration.Wrap(integration.KindValidation, "new hubspot connector", err)
	}
	return connector.New(connector.Spec{
		Type:       configstore.KindHubSpot,
		AuthMethod: integration.AuthMethodOAuth2,
		OAuth2:     d.oauth2Config(),
		Service:    &service{cfg: cfg.Normalized()},
	}, conn, deps)
}
