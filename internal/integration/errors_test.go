package integration

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestErrorIsMatchesKind(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("wrapped: %w", New(KindTokenExpired, "refresh", "no refresh token"))
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("errors.Is(err, ErrTokenExpired)=false want true")
	}
	if errors.Is(err, ErrAuthFailed) {
		t.Fatalf("errors.Is(err, ErrAuthFailed)=true want false")
	}
	if got := KindOf(err); got != KindTokenExpired {
		t.Fatalf("KindOf()=%q want %q", got, KindTokenExpired)
	}
}

func TestHTTPStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "unknown integration", err: New(KindUnknownIntegration, "create", ""), want: http.StatusBadRequest},
		{name: "validation", err: New(KindValidation, "save", ""), want: http.StatusBadRequest},
		{name: "not found", err: New(KindNotFound, "get", ""), want: http.StatusNotFound},
		{name: "invalid state", err: New(KindInvalidState, "callback", ""), want: http.StatusBadRequest},
		{name: "auth failed", err: New(KindAuthFailed, "callback", ""), want: http.StatusUnauthorized},
		{name: "token expired", err: New(KindTokenExpired, "request", ""), want: http.StatusUnauthorized},
		{name: "rate limit", err: RateLimited("request", 30), want: http.StatusTooManyRequests},
		{name: "signature", err: New(KindWebhookSignatureInvalid, "incoming", ""), want: http.StatusUnauthorized},
		{name: "deadline", err: Canceled("get", context.DeadlineExceeded), want: http.StatusServiceUnavailable},
		{name: "canceled", err: Canceled("get", context.Canceled), want: http.StatusRequestTimeout},
		{name: "foreign", err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := HTTPStatus(tt.err); got != tt.want {
				t.Fatalf("HTTPStatus()=%d want %d", got, tt.want)
			}
		})
	}
}

func TestCanceledKeepsContextIdentity(t *testing.T) {
	t.Parallel()

	err := Canceled("update tokens", context.Canceled)
	if !errors.Is(err, ErrCanceled) {
		t.Fatalf("errors.Is(err, ErrCanceled)=false want true")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("errors.Is(err, context.Canceled)=false want true")
	}
	if got := Canceled("x", errors.New("boom")); KindOf(got) != KindInternal {
		t.Fatalf("non-context error kind=%q want %q", KindOf(got), KindInternal)
	}
}

func TestRetryAfterOf(t *testing.T) {
	t.Parallel()

	secs, ok := RetryAfterOf(fmt.Errorf("request: %w", RateLimited("request", 30)))
	if !ok || secs != 30 {
		t.Fatalf("RetryAfterOf()=(%d,%v) want (30,true)", secs, ok)
	}
	if !RateLimited("request", 1).Retryable() {
		t.Fatalf("rate limit should be retryable")
	}
	if New(KindInvalidState, "callback", "").Retryable() {
		t.Fatalf("invalid state should not be retryable")
	}
}

func TestConnectionTokenExpired(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	if (Connection{}).TokenExpired(now) {
		t.Fatalf("connection without expiry reported expired")
	}
	if !(Connection{TokenExpiresAt: &past}).TokenExpired(now) {
		t.Fatalf("past expiry not reported expired")
	}
	if (Connection{TokenExpiresAt: &future}).TokenExpired(now) {
		t.Fatalf("future expiry reported expired")
	}
}

func TestWebhookConfigSubscribes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		events []string
		event  string
		want   bool
	}{
		{events: nil, event: "contact.created", want: true},
		{events: []string{"*"}, event: "contact.created", want: true},
		{events: []string{"Contact.Created"}, event: "contact.created", want: true},
		{events: []string{"deal.updated"}, event: "contact.created", want: false},
		{events: []string{"deal.updated"}, event: "", want: true},
	}
	for _, tt := range tests {
		cfg := WebhookConfig{Events: tt.events}
		if got := cfg.Subscribes(tt.event); got != tt.want {
			t.Fatalf("Subscribes(%v, %q)=%v want %v", tt.events, tt.event, got, tt.want)
		}
	}
}

func TestRedactedDropsSecrets(t *testing.T) {
	t.Parallel()

	conn := Connection{ID: "c1", AccessToken: "at", RefreshToken: "rt", APIKey: "key"}
	red := conn.Redacted()
	if !red.HasAccessToken || !red.HasRefreshToken || !red.HasAPIKey {
		t.Fatalf("redacted flags=%+v want all true", red)
	}
}
