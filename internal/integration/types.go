// Package integration holds the shared vocabulary of the integration hub:
// connections, token sets, OAuth2 configuration and state, webhook
// configuration and payloads, and the error taxonomy.
package integration

import (
	"errors"
	"maps"
	"net/http"
	"slices"
	"strings"
	"time"
)

type AuthMethod string

const (
	AuthMethodOAuth2 AuthMethod = "oauth2"
	AuthMethodAPIKey AuthMethod = "api_key"
	AuthMethodNone   AuthMethod = "none"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusAuthorized Status = "authorized"
	StatusRefreshed  Status = "refreshed"
	StatusRevoked    Status = "revoked"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAuthorized, StatusRefreshed, StatusRevoked:
		return true
	default:
		return false
	}
}

// NormalizeType returns the canonical registry key for an integration type.
func NormalizeType(kind string) string {
	return strings.ToLower(strings.TrimSpace(kind))
}

// Connection is one tenant's link to one external service.
type Connection struct {
	ID              string         `json:"id"`
	PropertyID      string         `json:"propertyId"`
	IntegrationType string         `json:"integrationType"`
	Name            string         `json:"name,omitempty"`
	AccessToken     string         `json:"accessToken,omitempty"`
	RefreshToken    string         `json:"refreshToken,omitempty"`
	TokenExpiresAt  *time.Time     `json:"tokenExpiresAt,omitempty"`
	APIKey          string         `json:"apiKey,omitempty"`
	APISecret       string         `json:"apiSecret,omitempty"`
	Config          map[string]any `json:"config,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	Status          Status         `json:"status"`
	LastRefreshedAt *time.Time     `json:"lastRefreshedAt,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// HasCredentials reports whether an access token or an API key is present.
func (c Connection) HasCredentials() bool {
	return strings.TrimSpace(c.AccessToken) != "" || strings.TrimSpace(c.APIKey) != ""
}

// TokenExpired reports whether the access token expiry has passed at now.
// A token without a recorded expiry never expires locally.
func (c Connection) TokenExpired(now time.Time) bool {
	if c.TokenExpiresAt == nil {
		return false
	}
	return !now.Before(*c.TokenExpiresAt)
}

// Clone returns a copy that shares no mutable state with c.
func (c Connection) Clone() Connection {
	out := c
	out.Config = maps.Clone(c.Config)
	out.Metadata = maps.Clone(c.Metadata)
	if c.TokenExpiresAt != nil {
		t := *c.TokenExpiresAt
		out.TokenExpiresAt = &t
	}
	if c.LastRefreshedAt != nil {
		t := *c.LastRefreshedAt
		out.LastRefreshedAt = &t
	}
	return out
}

// Redacted strips credential values, keeping only whether they are set.
func (c Connection) Redacted() RedactedConnection {
	return RedactedConnection{
		ID:              c.ID,
		PropertyID:      c.PropertyID,
		IntegrationType: c.IntegrationType,
		Name:            c.Name,
		Config:          c.Config,
		Metadata:        c.Metadata,
		Status:          c.Status,
		HasAccessToken:  c.AccessToken != "",
		HasRefreshToken: c.RefreshToken != "",
		HasAPIKey:       c.APIKey != "",
		TokenExpiresAt:  c.TokenExpiresAt,
		LastRefreshedAt: c.LastRefreshedAt,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}

// RedactedConnection is the client-facing shape of a Connection.
type RedactedConnection struct {
	ID              string         `json:"id"`
	PropertyID      string         `json:"propertyId"`
	IntegrationType string         `json:"integrationType"`
	Name            string         `json:"name,omitempty"`
	Config          map[string]any `json:"config,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	Status          Status         `json:"status"`
	HasAccessToken  bool           `json:"hasAccessToken"`
	HasRefreshToken bool           `json:"hasRefreshToken"`
	HasAPIKey       bool           `json:"hasApiKey"`
	TokenExpiresAt  *time.Time     `json:"tokenExpiresAt,omitempty"`
	LastRefreshedAt *time.Time     `json:"lastRefreshedAt,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// TokenSet is the result of a code exchange or a refresh.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	TokenType    string
	Scope        string
}

// OAuth2Config is the static OAuth2 client configuration of one integration type.
type OAuth2Config struct {
	ClientID      string
	ClientSecret  string
	AuthURL       string
	TokenURL      string
	RedirectURI   string
	Scopes        []string
	PKCE          bool
	ExtraParams   map[string]string
	RevocationURL string
}

func (c OAuth2Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.ClientID) == "" {
		errs = append(errs, errors.New("client id is required"))
	}
	if strings.TrimSpace(c.AuthURL) == "" {
		errs = append(errs, errors.New("authorization url is required"))
	}
	if strings.TrimSpace(c.TokenURL) == "" {
		errs = append(errs, errors.New("token url is required"))
	}
	if strings.TrimSpace(c.RedirectURI) == "" {
		errs = append(errs, errors.New("redirect uri is required"))
	}
	return errors.Join(errs...)
}

// OAuthState binds one authorization attempt to its callback. Single use.
type OAuthState struct {
	State           string    `json:"state"`
	ConnectionID    string    `json:"connectionId"`
	IntegrationType string    `json:"integrationType"`
	CodeVerifier    string    `json:"codeVerifier,omitempty"`
	CodeChallenge   string    `json:"codeChallenge,omitempty"`
	Nonce           string    `json:"nonce,omitempty"`
	IssuedAt        time.Time `json:"issuedAt"`
	ExpiresAt       time.Time `json:"expiresAt"`
}

func (s OAuthState) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// WebhookConfig is an inbound webhook endpoint registered for a connection.
type WebhookConfig struct {
	ID           string    `json:"id"`
	ConnectionID string    `json:"connectionId"`
	URL          string    `json:"url"`
	Events       []string  `json:"events"`
	Secret       string    `json:"-"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// HasSecret reports whether deliveries must carry a valid signature.
func (w WebhookConfig) HasSecret() bool {
	return w.Secret != ""
}

// Subscribes reports whether event should be dispatched for this config.
// An empty subscription list or "*" accepts everything, as does an unnamed event.
func (w WebhookConfig) Subscribes(event string) bool {
	if len(w.Events) == 0 || event == "" {
		return true
	}
	return slices.ContainsFunc(w.Events, func(e string) bool {
		e = strings.TrimSpace(e)
		return e == "*" || strings.EqualFold(e, event)
	})
}

func (w WebhookConfig) Clone() WebhookConfig {
	out := w
	out.Events = slices.Clone(w.Events)
	return out
}

// WebhookPayload is one verified inbound delivery.
type WebhookPayload struct {
	WebhookID       string      `json:"webhookId"`
	ConnectionID    string      `json:"connectionId"`
	PropertyID      string      `json:"propertyId"`
	IntegrationType string      `json:"integrationType"`
	Event           string      `json:"event,omitempty"`
	Body            []byte      `json:"body"`
	Headers         http.Header `json:"headers,omitempty"`
	ReceivedAt      time.Time   `json:"receivedAt"`
	Signature       string      `json:"signature,omitempty"`
}
