// Package oauthstate keeps issued OAuth2 states between the authorization
// redirect and the provider callback. States are single use.
package oauthstate

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/open-sspm/integration-hub/internal/integration"
)

const DefaultTTL = 10 * time.Minute

// Store persists issued states. Consume returns a state at most once.
type Store interface {
	Save(ctx context.Context, st integration.OAuthState, ttl time.Duration) error
	// Consume removes and returns the state. Unknown, reused or expired states fail with KindInvalidState.
	Consume(ctx context.Context, state string) (integration.OAuthState, error)
}

func invalidState() error {
	return integration.New(integration.KindInvalidState, "consume state", "unknown or already used state")
}

// Memory is an in-process Store for single instance deployments and tests.
type Memory struct {
	mu     sync.Mutex
	states map[string]integration.OAuthState
	now    func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		states: make(map[string]integration.OAuthState),
		now:    time.Now,
	}
}

func (m *Memory) Save(ctx context.Context, st integration.OAuthState, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return integration.Canceled("save state", err)
	}
	if strings.TrimSpace(st.State) == "" {
		return integration.New(integration.KindValidation, "save state", "state is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := m.now()
	if st.IssuedAt.IsZero() {
		st.IssuedAt = now
	}
	st.ExpiresAt = now.Add(ttl)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked(now)
	m.states[st.State] = st
	return nil
}

func (m *Memory) Consume(ctx context.Context, state string) (integration.OAuthState, error) {
	if err := ctx.Err(); err != nil {
		return integration.OAuthState{}, integration.Canceled("consume state", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[state]
	if !ok {
		return integration.OAuthState{}, invalidState()
	}
	delete(m.states, state)
	if st.Expired(m.now()) {
		return integration.OAuthState{}, integration.New(integration.KindInvalidState, "consume state", "state expired")
	}
	return st, nil
}

func (m *Memory) sweepLocked(now time.Time) {
	for k, st := range m.states {
		if st.Expired(now) {
			delete(m.states, k)
		}
	}
}
