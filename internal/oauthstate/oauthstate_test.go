package oauthstate

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/open-sspm/integration-hub/internal/integration"
	"github.com/redis/go-redis/v9"
)

func TestMemoryConsumeIsSingleUse(t *testing.T) {
	t.Parallel()

	s := NewMemory()
	ctx := context.Background()
	st := integration.OAuthState{State: "abc", ConnectionID: "c1", IntegrationType: "hubspot", CodeVerifier: "v"}
	if err := s.Save(ctx, st, time.Minute); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := s.Consume(ctx, "abc")
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if got.ConnectionID != "c1" || got.CodeVerifier != "v" {
		t.Fatalf("Consume()=%+v want saved state", got)
	}
	if _, err := s.Consume(ctx, "abc"); !errors.Is(err, integration.ErrInvalidState) {
		t.Fatalf("second Consume() error=%v want invalid state", err)
	}
}

func TestMemoryConsumeExpired(t *testing.T) {
	t.Parallel()

	s := NewMemory()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()
	if err := s.Save(ctx, integration.OAuthState{State: "abc"}, time.Minute); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := s.Consume(ctx, "abc"); !errors.Is(err, integration.ErrInvalidState) {
		t.Fatalf("Consume(expired) error=%v want invalid state", err)
	}
}

func TestMemorySaveRequiresState(t *testing.T) {
	t.Parallel()

	if err := NewMemory().Save(context.Background(), integration.OAuthState{}, 0); !errors.Is(err, integration.ErrValidation) {
		t.Fatalf("Save(empty) error=%v want validation", err)
	}
}

func TestRedisConsumeIsSingleUse(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("redis.ParseURL() error = %v", err)
	}
	client := redis.NewClient(opts)
	defer client.Close()

	s := NewRedis(client, "test:oauth-state:")
	ctx := context.Background()
	state := uuid.NewString()
	if err := s.Save(ctx, integration.OAuthState{State: state, ConnectionID: "c1"}, time.Minute); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := s.Consume(ctx, state)
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if got.ConnectionID != "c1" {
		t.Fatalf("ConnectionID=%q want c1", got.ConnectionID)
	}
	if _, err := s.Consume(ctx, state); !errors.Is(err, integration.ErrInvalidState) {
		t.Fatalf("second Consume() error=%v want invalid state", err)
	}
}
