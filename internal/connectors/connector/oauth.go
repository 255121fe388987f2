package connector

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/open-sspm/integration-hub/internal/events"
	"github.com/open-sspm/integration-hub/internal/integration"
	"github.com/open-sspm/integration-hub/internal/store"
	"golang.org/x/oauth2"
)

// CallbackParams are the query parameters of the provider redirect.
type CallbackParams struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

func (c *Connector) oauthConfig() *oauth2.Config {
	cfg := c.spec.OAuth2
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   cfg.AuthURL,
			TokenURL:  cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: cfg.RedirectURI,
		Scopes:      slices.Clone(cfg.Scopes),
	}
}

func (c *Connector) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.deps.HTTPClient)
}

// BuildAuthorizationURL issues a fresh state (and PKCE pair when required)
// and returns the provider authorization URL. ok is false for connectors
// that do not use OAuth2.
func (c *Connector) BuildAuthorizationURL(ctx context.Context) (authURL string, ok bool, err error) {
	if c.spec.AuthMethod != integration.AuthMethodOAuth2 {
		return "", false, nil
	}
	conn := c.Connection()
	now := c.deps.Now()
	st := integration.OAuthState{
		State:           randomToken(stateBytes),
		ConnectionID:    conn.ID,
		IntegrationType: c.spec.Type,
		IssuedAt:        now,
		ExpiresAt:       now.Add(c.deps.StateTTL),
	}

	var opts []oauth2.AuthCodeOption
	for k, v := range c.spec.OAuth2.ExtraParams {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}
	if c.spec.OAuth2.PKCE {
		st.CodeVerifier = NewCodeVerifier()
		st.CodeChallenge = PKCEChallenge(st.CodeVerifier)
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", st.CodeChallenge),
			oauth2.SetAuthURLParam("code_challenge_method", PKCEMethod),
		)
	}
	if slices.Contains(c.spec.OAuth2.Scopes, "openid") {
		st.Nonce = randomToken(16)
		opts = append(opts, oauth2.SetAuthURLParam("nonce", st.Nonce))
	}

	if c.deps.States != nil {
		if err := c.deps.States.Save(ctx, st, c.deps.StateTTL); err != nil {
			return "", true, err
		}
	}
	c.mu.Lock()
	c.pending = &pendingState{OAuthState: st}
	c.mu.Unlock()

	return c.oauthConfig().AuthCodeURL(st.State, opts...), true, nil
}

// PendingState returns the state issued by the last BuildAuthorizationURL.
func (c *Connector) PendingState() (integration.OAuthState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return integration.OAuthState{}, false
	}
	return c.pending.OAuthState, true
}

// RestoreState rehydrates a state already consumed from the state store,
// for callbacks handled by a different connector instance.
func (c *Connector) RestoreState(st integration.OAuthState) {
	c.mu.Lock()
	c.pending = &pendingState{OAuthState: st, consumed: true}
	c.mu.Unlock()
}

// HandleCallback validates the returned state and exchanges the code for
// tokens. The pending state is discarded on every call, so a state can be
// used once whatever the outcome.
func (c *Connector) HandleCallback(ctx context.Context, params CallbackParams) error {
	const op = "handle callback"
	if c.spec.AuthMethod != integration.AuthMethodOAuth2 {
		return integration.New(integration.KindValidation, op, "connector does not use oauth2")
	}

	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	connID := c.conn.ID
	c.mu.Unlock()

	if pending == nil || params.State == "" ||
		subtle.ConstantTimeCompare([]byte(pending.State), []byte(params.State)) != 1 {
		return integration.New(integration.KindInvalidState, op, "state mismatch")
	}
	if pending.ConnectionID != connID || pending.Expired(c.deps.Now()) {
		return integration.New(integration.KindInvalidState, op, "state expired or issued for another connection")
	}
	if !pending.consumed && c.deps.States != nil {
		if _, err := c.deps.States.Consume(ctx, pending.State); err != nil {
			return err
		}
	}

	if params.Error != "" {
		msg := params.Error
		if params.ErrorDescription != "" {
			msg += ": " + params.ErrorDescription
		}
		err := integration.New(integration.KindAuthFailed, op, msg)
		c.emit(ctx, events.AuthFailed, err)
		return err
	}
	if strings.TrimSpace(params.Code) == "" {
		err := integration.New(integration.KindAuthFailed, op, "authorization code missing")
		c.emit(ctx, events.AuthFailed, err)
		return err
	}

	var opts []oauth2.AuthCodeOption
	if pending.CodeVerifier != "" {
		opts = append(opts, oauth2.VerifierOption(pending.CodeVerifier))
	}
	tok, err := c.oauthConfig().Exchange(c.oauthContext(ctx), params.Code, opts...)
	if err != nil {
		err = tokenEndpointError(op, err)
		c.emit(ctx, events.AuthFailed, err)
		return err
	}
	set := tokenSetFrom(tok)
	if set.AccessToken == "" {
		err := integration.New(integration.KindAuthFailed, op, "token endpoint returned no access token")
		c.emit(ctx, events.AuthFailed, err)
		return err
	}

	if err := c.persistTokens(ctx, set, integration.StatusAuthorized); err != nil {
		c.emit(ctx, events.AuthFailed, err)
		return err
	}
	c.emit(ctx, events.AuthCompleted, nil)
	return nil
}

// persistTokens writes a token set obtained from the provider. The write is
// detached from ctx: once the provider issued (and possibly rotated) tokens,
// dropping them would strand the connection.
func (c *Connector) persistTokens(ctx context.Context, set integration.TokenSet, status integration.Status) error {
	now := c.deps.Now().UTC()
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	update := store.TokenUpdate{
		AccessToken:  set.AccessToken,
		RefreshToken: set.RefreshToken,
		ExpiresAt:    set.ExpiresAt,
		Status:       status,
	}
	if status == integration.StatusRefreshed {
		update.RefreshedAt = &now
	}
	updated, err := c.deps.Store.UpdateTokens(writeCtx, c.Connection().ID, update)
	if err != nil {
		return err
	}
	c.setConnection(updated)
	return nil
}

func tokenSetFrom(tok *oauth2.Token) integration.TokenSet {
	set := integration.TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry.UTC()
		set.ExpiresAt = &exp
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		set.Scope = scope
	}
	return set
}

// tokenEndpointError maps token endpoint failures onto the error taxonomy.
func tokenEndpointError(op string, err error) error {
	if ctxErr := integration.Canceled(op, err); integration.KindOf(ctxErr) == integration.KindCanceled {
		return ctxErr
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		switch {
		case re.Response.StatusCode == http.StatusTooManyRequests:
			return &integration.Error{
				Kind:       integration.KindRateLimit,
				Op:         op,
				RetryAfter: retryAfterSeconds(re.Response.Header.Get("Retry-After"), time.Now()),
				Err:        err,
			}
		case re.Response.StatusCode >= 500:
			return integration.Wrap(integration.KindUnavailable, op, err)
		}
		msg := re.ErrorCode
		if msg == "" {
			msg = "token endpoint rejected the request"
		}
		if re.ErrorDescription != "" {
			msg += ": " + re.ErrorDescription
		}
		return &integration.Error{Kind: integration.KindAuthFailed, Op: op, Message: msg, Err: err}
	}
	return integration.Wrap(integration.KindAuthFailed, op, err)
}
