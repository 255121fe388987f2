package oauthstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/open-sspm/integration-hub/internal/integration"
	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "integration-hub:oauth-state:"

// Redis shares issued states across instances. GETDEL makes consumption atomic.
type Redis struct {
	client    redis.UniversalClient
	keyPrefix string
}

func NewRedis(client redis.UniversalClient, keyPrefix string) *Redis {
	if strings.TrimSpace(keyPrefix) == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &Redis{client: client, keyPrefix: keyPrefix}
}

func (s *Redis) Save(ctx context.Context, st integration.OAuthState, ttl time.Duration) error {
	if strings.TrimSpace(st.State) == "" {
		return integration.New(integration.KindValidation, "save state", "state is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := time.Now()
	if st.IssuedAt.IsZero() {
		st.IssuedAt = now
	}
	st.ExpiresAt = now.Add(ttl)

	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := s.client.Set(ctx, s.keyPrefix+st.State, payload, ttl).Err(); err != nil {
		return integration.Canceled("save state", fmt.Errorf("persist state: %w", err))
	}
	return nil
}

func (s *Redis) Consume(ctx context.Context, state string) (integration.OAuthState, error) {
	if strings.TrimSpace(state) == "" {
		return integration.OAuthState{}, invalidState()
	}
	raw, err := s.client.GetDel(ctx, s.keyPrefix+state).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return integration.OAuthState{}, invalidState()
		}
		return integration.OAuthState{}, integration.Canceled("consume state", fmt.Errorf("load state: %w", err))
	}
	var st integration.OAuthState
	if err := json.Unmarshal(raw, &st); err != nil {
		return integration.OAuthState{}, fmt.Errorf("decode state: %w", err)
	}
	if st.Expired(time.Now()) {
		return integration.OAuthState{}, integration.New(integration.KindInvalidState, "consume state", "state expired")
	}
	return st, nil
}
