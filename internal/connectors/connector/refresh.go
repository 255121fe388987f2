package connector

import (
	"context"
	"errors"
	"time"

	"github.com/open-sspm/integration-hub/internal/events"
	"github.com/open-sspm/integration-hub/internal/integration"
	"github.com/open-sspm/integration-hub/internal/lock"
	"github.com/open-sspm/integration-hub/internal/metrics"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const defaultRefreshLockTTL = 30 * time.Second

// RefreshCoordinator collapses concurrent refreshes of one connection. The
// singleflight group covers callers in this process; the optional Locker
// covers other processes sharing the same store.
type RefreshCoordinator struct {
	group   singleflight.Group
	Locker  lock.Locker
	LockTTL time.Duration
}

func NewRefreshCoordinator(locker lock.Locker) *RefreshCoordinator {
	return &RefreshCoordinator{Locker: locker, LockTTL: defaultRefreshLockTTL}
}

func (rc *RefreshCoordinator) do(ctx context.Context, key string, fn func(context.Context) (integration.Connection, error)) (integration.Connection, error) {
	ch := rc.group.DoChan(key, func() (any, error) {
		if rc.Locker == nil {
			return fn(ctx)
		}
		ttl := rc.LockTTL
		if ttl <= 0 {
			ttl = defaultRefreshLockTTL
		}
		var out integration.Connection
		err := lock.WithLock(ctx, rc.Locker, "refresh:"+key, ttl, func(ctx context.Context) error {
			var err error
			out, err = fn(ctx)
			return err
		})
		if errors.Is(err, lock.ErrNotAcquired) {
			err = integration.Wrap(integration.KindUnavailable, "refresh token", err)
		}
		return out, err
	})
	select {
	case <-ctx.Done():
		return integration.Connection{}, integration.Canceled("refresh token", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return integration.Connection{}, res.Err
		}
		return res.Val.(integration.Connection), nil
	}
}

// RefreshToken exchanges the stored refresh token for a new access token.
// A missing refresh token fails with KindTokenExpired: the caller must
// re-authorize. A failed refresh leaves the stored tokens untouched.
func (c *Connector) RefreshToken(ctx context.Context) error {
	observed := c.Connection()
	if c.deps.Refreshes == nil {
		updated, err := c.refresh(ctx, observed)
		if err != nil {
			return err
		}
		c.setConnection(updated)
		return nil
	}
	updated, err := c.deps.Refreshes.do(ctx, observed.ID, func(ctx context.Context) (integration.Connection, error) {
		return c.refresh(ctx, observed)
	})
	if err != nil {
		return err
	}
	c.setConnection(updated)
	return nil
}

func (c *Connector) refresh(ctx context.Context, observed integration.Connection) (integration.Connection, error) {
	const op = "refresh token"

	current, err := c.deps.Store.Get(ctx, observed.ID)
	if err != nil {
		return integration.Connection{}, err
	}
	// Another caller rotated the token while this one waited.
	if current.AccessToken != "" && current.AccessToken != observed.AccessToken && !current.TokenExpired(c.deps.Now()) {
		metrics.RefreshCoalescedTotal.WithLabelValues(c.spec.Type).Inc()
		c.log.DebugContext(ctx, "refresh skipped, token already rotated")
		return current, nil
	}

	if current.RefreshToken == "" {
		err := integration.New(integration.KindTokenExpired, op, "no refresh token stored, re-authorization required")
		c.emit(ctx, events.AuthFailed, err)
		return integration.Connection{}, err
	}

	var set integration.TokenSet
	if r, ok := c.spec.Service.(TokenRefresher); ok {
		set, err = r.RefreshTokens(ctx, c, current.RefreshToken)
		if err != nil {
			err = integration.Canceled(op, err)
		}
	} else if c.spec.AuthMethod == integration.AuthMethodOAuth2 {
		set, err = c.refreshOAuth2(ctx, current.RefreshToken)
	} else {
		err = integration.New(integration.KindValidation, op, "connector does not support token refresh")
	}
	if err == nil && set.AccessToken == "" {
		err = integration.New(integration.KindAuthFailed, op, "token endpoint returned no access token")
	}
	if err != nil {
		c.log.WarnContext(ctx, "token refresh failed", "err", err)
		c.emit(ctx, events.AuthFailed, err)
		return integration.Connection{}, err
	}

	if err := c.persistTokens(ctx, set, integration.StatusRefreshed); err != nil {
		c.emit(ctx, events.AuthFailed, err)
		return integration.Connection{}, err
	}
	c.emit(ctx, events.AuthRefreshed, nil)
	return c.Connection(), nil
}

func (c *Connector) refreshOAuth2(ctx context.Context, refreshToken string) (integration.TokenSet, error) {
	src := c.oauthConfig().TokenSource(c.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return integration.TokenSet{}, tokenEndpointError("refresh token", err)
	}
	return tokenSetFrom(tok), nil
}
