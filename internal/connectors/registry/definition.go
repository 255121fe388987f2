package registry

import (
	"github.com/open-sspm/integration-hub/internal/connectors/connector"
	"github.com/open-sspm/integration-hub/internal/integration"
)

const (
	CapabilityOAuth2   = "oauth2"
	CapabilityRefresh  = "refresh"
	CapabilityRevoke   = "revoke"
	CapabilityWebhooks = "webhooks"
	CapabilityMetadata = "metadata"
)

// Metadata describes an integration type to callers choosing what to connect.
type Metadata struct {
	Type         string                 `json:"type"`
	DisplayName  string                 `json:"display_name"`
	AuthMethod   integration.AuthMethod `json:"auth_method"`
	ConfigSchema map[string]any         `json:"config_schema,omitempty"`
	DocsURL      string                 `json:"docs_url,omitempty"`
	Capabilities []string               `json:"capabilities,omitempty"`
}

// Constructor builds a connector for one stored connection. deps.Store is
// always set by the registry.
type Constructor func(conn integration.Connection, deps connector.Deps) (*connector.Connector, error)

// ConnectorDefinition bundles everything needed to register an integration type.
type ConnectorDefinition interface {
	// Identity
	Kind() string // e.g., "hubspot", "ga4"

	// UI Metadata
	Metadata() Metadata

	// Construction
	NewConnector(conn integration.Connection, deps connector.Deps) (*connector.Connector, error)
}
