package metrics

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/open-sspm/integration-hub/internal/events"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserverCountsEvents(t *testing.T) {
	o := Observer()

	authBefore := testutil.ToFloat64(AuthEventsTotal.WithLabelValues("metrics-test", string(events.AuthRefreshed)))
	webhookBefore := testutil.ToFloat64(WebhookEventsTotal.WithLabelValues("metrics-test", string(events.WebhookError)))

	o.Observe(context.Background(), events.Event{Type: events.AuthRefreshed, IntegrationType: "metrics-test"})
	o.Observe(context.Background(), events.Event{Type: events.WebhookError, IntegrationType: "metrics-test"})
	o.Observe(context.Background(), events.Event{Type: events.WebhookError, IntegrationType: "metrics-test"})

	if got := testutil.ToFloat64(AuthEventsTotal.WithLabelValues("metrics-test", string(events.AuthRefreshed))); got != authBefore+1 {
		t.Fatalf("auth events=%v want %v", got, authBefore+1)
	}
	if got := testutil.ToFloat64(WebhookEventsTotal.WithLabelValues("metrics-test", string(events.WebhookError))); got != webhookBefore+2 {
		t.Fatalf("webhook events=%v want %v", got, webhookBefore+2)
	}
}

func TestStartServerDisabled(t *testing.T) {
	t.Parallel()

	for _, addr := range []string{"", "off", "disabled", "false"} {
		srv, errCh := StartServer(context.Background(), ServerOptions{Addr: addr})
		if srv != nil || errCh != nil {
			t.Fatalf("StartServer(%q) started a server", addr)
		}
	}
}

func TestHandlerHealthAndReadiness(t *testing.T) {
	t.Parallel()

	var failing atomic.Bool
	h := NewHandler(ServerOptions{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Ready: func(context.Context) error {
			if failing.Load() {
				return errors.New("database: connection refused")
			}
			return nil
		},
	})

	get := func(path string) int {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec.Code
	}
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		if got := get(path); got != http.StatusOK {
			t.Fatalf("GET %s = %d, want 200", path, got)
		}
	}
	failing.Store(true)
	if got := get("/readyz"); got != http.StatusServiceUnavailable {
		t.Fatalf("GET /readyz with failing check = %d, want 503", got)
	}
	if got := get("/healthz"); got != http.StatusOK {
		t.Fatalf("GET /healthz with failing check = %d, want 200", got)
	}
}
