package hubspot

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/open-sspm/integration-hub/internal/connectors/configstore"
	"github.com/open-sspm/integration-hub/internal/connectors/connector"
	"github.com/open-sspm/integration-hub/internal/integration"
	"github.com/open-sspm/integration-hub/internal/store"
)

func newTestConnector(t *testing.T, srv *httptest.Server, conn integration.Connection) (*connector.Connector, *store.Memory) {
	t.Helper()

	st := store.NewMemory()
	conn.PropertyID = "prop-1"
	conn.IntegrationType = configstore.KindHubSpot
	conn.Config = map[string]any{"api_base": srv.URL}
	saved, err := st.Save(context.Background(), conn)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	def := NewDefinition(configstore.OAuthApp{ClientID: "id", ClientSecret: "secret"}, "https://hub.example.com/integrations/callback/hubspot")
	def.TokenURL = srv.URL + "/oauth/v1/token"
	c, err := def.NewConnector(saved, connector.Deps{Store: st, HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("NewConnector() error = %v", err)
	}
	return c, st
}

func TestServiceMetadata(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/account-info/v3/details" || r.Header.Get("Authorization") != "Bearer at-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"portalId":62515,"accountType":"STANDARD","timeZone":"US/Eastern","companyCurrency":"USD","uiDomain":"app.hubspot.com"}`))
	}))
	t.Cleanup(srv.Close)

	c, _ := newTestConnector(t, srv, integration.Connection{AccessToken: "at-1"})
	ok, err := c.TestConnection(context.Background())
	if err != nil || !ok {
		t.Fatalf("TestConnection()=(%v,%v) want (true,nil)", ok, err)
	}
	meta, err := c.ServiceMetadata(context.Background())
	if err != nil {
		t.Fatalf("ServiceMetadata() error = %v", err)
	}
	if meta["portal_id"] != int64(62515) || meta["currency"] != "USD" {
		t.Fatalf("ServiceMetadata()=%v", meta)
	}
}

func TestRevokeDeletesRefreshToken(t *testing.T) {
	t.Parallel()

	var deleted int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete && r.URL.Path == "/oauth/v1/refresh-tokens/rt-1" {
			atomic.AddInt32(&deleted, 1)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	c, st := newTestConnector(t, srv, integration.Connection{AccessToken: "at-1", RefreshToken: "rt-1"})
	if err := c.RevokeAccess(context.Background()); err != nil {
		t.Fatalf("RevokeAccess() error = %v", err)
	}
	if atomic.LoadInt32(&deleted) != 1 {
		t.Fatalf("refresh token deletions=%d want 1", deleted)
	}
	stored, err := st.Get(context.Background(), c.Connection().ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored.HasCredentials() {
		t.Fatalf("credentials kept after revoke: %+v", stored.Redacted())
	}
}

func TestNewConnectorRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	def := NewDefinition(configstore.OAuthApp{ClientID: "id", ClientSecret: "secret"}, "https://hub.example.com/cb")
	conn := integration.Connection{IntegrationType: "hubspot", Config: map[string]any{"api_base": "not a url"}}
	_, err := def.NewConnector(conn, connector.Deps{Store: store.NewMemory()})
	if !errors.Is(err, integration.ErrValidation) {
		t.Fatalf("NewConnector() error=%v want validation", err)
	}
}

func TestWebhookHandler(t *testing.T) {
	t.Parallel()

	h := WebhookHandler(nil)
	body := []byte(`[{"eventId":1,"portalId":62515,"subscriptionType":"contact.creation","objectId":123,"occurredAt":1700000000000},
{"eventId":2,"portalId":62515,"subscriptionType":"contact.creation","objectId":124,"occurredAt":1700000000001}]`)
	if err := h(context.Background(), integration.WebhookPayload{Body: body}); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if err := h(context.Background(), integration.WebhookPayload{Body: []byte(`{"not":"an array"}`)}); err == nil {
		t.Fatalf("handler error=nil want decode error")
	}

	events, err := DecodeEvents(body)
	if err != nil || len(events) != 2 || events[1].ObjectID != 124 {
		t.Fatalf("DecodeEvents()=(%+v,%v)", events, err)
	}
}
