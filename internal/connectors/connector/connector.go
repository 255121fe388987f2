// Package connector implements the generic protocol engine shared by every
// integration: the OAuth2 authorization-code flow with PKCE, token refresh,
// authenticated requests and revocation. Service specific behavior is plugged
// in through the Service, TokenRefresher and Revoker strategies.
package connector

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/open-sspm/integration-hub/internal/events"
	"github.com/open-sspm/integration-hub/internal/integration"
	"github.com/open-sspm/integration-hub/internal/oauthstate"
	"github.com/open-sspm/integration-hub/internal/store"
)

const defaultTimeout = 30 * time.Second

// Service is the service specific part of a connector.
type Service interface {
	// TestConnection performs a cheap liveness call with the stored credentials.
	TestConnection(ctx context.Context, c *Connector) (bool, error)
	// ServiceMetadata returns a summary of the remote account.
	ServiceMetadata(ctx context.Context, c *Connector) (map[string]any, error)
}

// TokenRefresher replaces the standard refresh_token grant for providers
// with non-standard refresh semantics.
type TokenRefresher interface {
	RefreshTokens(ctx context.Context, c *Connector, refreshToken string) (integration.TokenSet, error)
}

// Revoker calls a provider revocation endpoint before local credentials are cleared.
type Revoker interface {
	Revoke(ctx context.Context, c *Connector) error
}

// Spec is the static description of one integration type.
type Spec struct {
	Type       string
	AuthMethod integration.AuthMethod
	OAuth2     *integration.OAuth2Config
	Service    Service
}

func (s Spec) validate() error {
	if integration.NormalizeType(s.Type) == "" {
		return errors.New("integration type is required")
	}
	if s.Service == nil {
		return errors.New("service strategy is required")
	}
	switch s.AuthMethod {
	case integration.AuthMethodOAuth2:
		if s.OAuth2 == nil {
			return errors.New("oauth2 config is required")
		}
		return s.OAuth2.Validate()
	case integration.AuthMethodAPIKey, integration.AuthMethodNone:
		return nil
	default:
		return errors.New("unsupported auth method " + string(s.AuthMethod))
	}
}

// Deps are the collaborators shared by every connector instance.
type Deps struct {
	Store      store.ConnectionStore
	States     oauthstate.Store
	HTTPClient *http.Client
	Observer   events.Observer
	Refreshes  *RefreshCoordinator
	Logger     *slog.Logger
	Now        func() time.Time
	StateTTL   time.Duration
}

// Connector drives one connection of one integration type.
type Connector struct {
	spec Spec
	deps Deps
	log  *slog.Logger

	mu      sync.Mutex
	conn    integration.Connection
	pending *pendingState
}

type pendingState struct {
	integration.OAuthState
	// consumed is set when the state was already taken out of the state store.
	consumed bool
}

// New builds a connector for conn. Construction fails on invalid specs or a
// connection of a different integration type.
func New(spec Spec, conn integration.Connection, deps Deps) (*Connector, error) {
	spec.Type = integration.NormalizeType(spec.Type)
	if err := spec.validate(); err != nil {
		return nil, integration.Wrap(integration.KindValidation, "new connector", err)
	}
	if deps.Store == nil {
		return nil, integration.New(integration.KindValidation, "new connector", "connection store is required")
	}
	if got := integration.NormalizeType(conn.IntegrationType); got != spec.Type {
		return nil, integration.New(integration.KindValidation, "new connector",
			"connection type "+got+" does not match connector type "+spec.Type)
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}
	if deps.Observer == nil {
		deps.Observer = events.Nop
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.StateTTL <= 0 {
		deps.StateTTL = oauthstate.DefaultTTL
	}
	return &Connector{
		spec: spec,
		deps: deps,
		log:  deps.Logger.With("integration", spec.Type, "connection_id", conn.ID),
		conn: conn.Clone(),
	}, nil
}

func (c *Connector) Type() string { return c.spec.Type }

func (c *Connector) AuthMethod() integration.AuthMethod { return c.spec.AuthMethod }

// OAuth2 returns the OAuth2 client configuration, nil for other auth methods.
func (c *Connector) OAuth2() *integration.OAuth2Config { return c.spec.OAuth2 }

func (c *Connector) HTTPClient() *http.Client { return c.deps.HTTPClient }

func (c *Connector) Logger() *slog.Logger { return c.log }

// Connection returns a snapshot of the connection as last persisted by this connector.
func (c *Connector) Connection() integration.Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Clone()
}

// ConfigString reads a string setting from the connection config.
func (c *Connector) ConfigString(key string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, _ := c.conn.Config[key].(string)
	return strings.TrimSpace(v)
}

func (c *Connector) setConnection(conn integration.Connection) {
	c.mu.Lock()
	c.conn = conn.Clone()
	c.mu.Unlock()
}

func (c *Connector) emit(ctx context.Context, typ events.Type, err error) {
	conn := c.Connection()
	events.Emit(ctx, c.deps.Observer, events.Event{
		Type:            typ,
		ConnectionID:    conn.ID,
		PropertyID:      conn.PropertyID,
		IntegrationType: c.spec.Type,
		Err:             err,
	})
}

// TestConnection reports false without calling the service when no credentials are stored.
func (c *Connector) TestConnection(ctx context.Context) (bool, error) {
	if !c.Connection().HasCredentials() {
		return false, nil
	}
	ok, err := c.spec.Service.TestConnection(ctx, c)
	if err != nil {
		return false, integration.Canceled("test connection", err)
	}
	return ok, nil
}

// ServiceMetadata fetches the remote account summary and records it on the
// connection. It returns an empty map when no credentials are stored.
func (c *Connector) ServiceMetadata(ctx context.Context) (map[string]any, error) {
	conn := c.Connection()
	if !conn.HasCredentials() {
		return map[string]any{}, nil
	}
	meta, err := c.spec.Service.ServiceMetadata(ctx, c)
	if err != nil {
		return nil, integration.Canceled("service metadata", err)
	}
	if meta == nil {
		meta = map[string]any{}
	}
	if err := c.deps.Store.UpdateMetadata(ctx, conn.ID, meta); err != nil {
		c.log.WarnContext(ctx, "persist service metadata failed", "err", err)
	} else {
		c.mu.Lock()
		c.conn.Metadata = meta
		c.mu.Unlock()
	}
	return meta, nil
}

// RevokeAccess clears every stored credential and keeps the record. A
// provider revocation failure is logged and does not block the local clear.
func (c *Connector) RevokeAccess(ctx context.Context) error {
	conn := c.Connection()
	if r, ok := c.spec.Service.(Revoker); ok && conn.HasCredentials() {
		if err := r.Revoke(ctx, c); err != nil {
			if ctx.Err() != nil {
				return integration.Canceled("revoke access", err)
			}
			c.log.WarnContext(ctx, "provider revocation failed", "err", err)
		}
	}

	cleared, err := c.deps.Store.ClearCredentials(ctx, conn.ID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.conn = cleared.Clone()
	c.pending = nil
	c.mu.Unlock()
	c.emit(ctx, events.AuthRevoked, nil)
	return nil
}
