// Package store defines the persistence contract for connections and webhook
// configs. Implementations must be atomic at the single record level.
package store

import (
	"context"
	"time"

	"github.com/open-sspm/integration-hub/internal/integration"
)

// ConnectionStore persists Connection records.
type ConnectionStore interface {
	Get(ctx context.Context, id string) (integration.Connection, error)
	ListByProperty(ctx context.Context, propertyID string) ([]integration.Connection, error)
	ListByType(ctx context.Context, integrationType string) ([]integration.Connection, error)
	// Save inserts or replaces a connection. An empty ID is assigned.
	Save(ctx context.Context, conn integration.Connection) (integration.Connection, error)
	Update(ctx context.Context, id string, patch ConnectionPatch) (integration.Connection, error)
	Delete(ctx context.Context, id string) error
	SaveMany(ctx context.Context, conns []integration.Connection) ([]integration.Connection, error)
	DeleteMany(ctx context.Context, ids []string) (int, error)
	Find(ctx context.Context, criteria Criteria) ([]integration.Connection, error)
	Count(ctx context.Context, criteria Criteria) (int, error)
	// UpdateTokens writes access token, refresh token, expiry and status in one step.
	UpdateTokens(ctx context.Context, id string, update TokenUpdate) (integration.Connection, error)
	UpdateMetadata(ctx context.Context, id string, metadata map[string]any) error
	// ClearCredentials removes every credential and marks the connection revoked.
	ClearCredentials(ctx context.Context, id string) (integration.Connection, error)
}

// WebhookStore persists webhook configs. Deleting a connection removes its webhooks.
type WebhookStore interface {
	CreateWebhook(ctx context.Context, cfg integration.WebhookConfig) (integration.WebhookConfig, error)
	GetWebhook(ctx context.Context, id string) (integration.WebhookConfig, error)
	ListWebhooks(ctx context.Context, connectionID string) ([]integration.WebhookConfig, error)
	SetWebhookActive(ctx context.Context, id string, active bool) (integration.WebhookConfig, error)
	DeleteWebhook(ctx context.Context, id string) error
}

// Store is the combined contract served by both implementations.
type Store interface {
	ConnectionStore
	WebhookStore
}

// ConnectionPatch is a partial update. Nil fields are left untouched.
type ConnectionPatch struct {
	Name      *string
	Config    map[string]any
	Metadata  map[string]any
	APIKey    *string
	APISecret *string
	Status    *integration.Status
}

func (p ConnectionPatch) Empty() bool {
	return p.Name == nil && p.Config == nil && p.Metadata == nil && p.APIKey == nil && p.APISecret == nil && p.Status == nil
}

// TokenUpdate is the payload of UpdateTokens. An empty RefreshToken keeps the stored one.
type TokenUpdate struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	Status       integration.Status
	RefreshedAt  *time.Time
}

// Criteria filters Find and Count. Zero fields do not filter.
type Criteria struct {
	PropertyID      string
	IntegrationType string
	Status          integration.Status
	// ExpiringBefore selects connections whose access token expires before the instant.
	ExpiringBefore  *time.Time
	HasRefreshToken bool
	Limit           int
	Offset          int
}

func (c Criteria) matches(conn integration.Connection) bool {
	if c.PropertyID != "" && conn.PropertyID != c.PropertyID {
		return false
	}
	if c.IntegrationType != "" && conn.IntegrationType != integration.NormalizeType(c.IntegrationType) {
		return false
	}
	if c.Status != "" && conn.Status != c.Status {
		return false
	}
	if c.ExpiringBefore != nil {
		if conn.TokenExpiresAt == nil || !conn.TokenExpiresAt.Before(*c.ExpiringBefore) {
			return false
		}
	}
	if c.HasRefreshToken && conn.RefreshToken == "" {
		return false
	}
	return true
}
