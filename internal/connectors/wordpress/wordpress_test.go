package wordpress

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/open-sspm/integration-hub/internal/connectors/connector"
	"github.com/open-sspm/integration-hub/internal/integration"
	"github.com/open-sspm/integration-hub/internal/store"
)

func newTestConnector(t *testing.T, srv *httptest.Server, apiKey string) *connector.Connector {
	t.Helper()

	st := store.NewMemory()
	saved, err := st.Save(context.Background(), integration.Connection{
		PropertyID:      "prop-1",
		IntegrationType: "wordpress",
		APIKey:          apiKey,
		Config:          map[string]any{"site_url": srv.URL},
	})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	c, err := NewDefinition().NewConnector(saved, connector.Deps{Store: st, HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("NewConnector() error = %v", err)
	}
	return c
}

func wordpressServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/wp-json/wp/v2/users/me":
			_, _ = w.Write([]byte(`{"id":1,"name":"admin"}`))
		case "/wp-json":
			_, _ = w.Write([]byte(`{"name":"Shop","url":"https://shop.example.com","timezone_string":"UTC","namespaces":["wp/v2","wc/v3"]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTestConnectionAndMetadata(t *testing.T) {
	t.Parallel()

	srv := wordpressServer(t)
	c := newTestConnector(t, srv, "good-key")

	ok, err := c.TestConnection(context.Background())
	if err != nil || !ok {
		t.Fatalf("TestConnection()=(%v,%v) want (true,nil)", ok, err)
	}
	meta, err := c.ServiceMetadata(context.Background())
	if err != nil {
		t.Fatalf("ServiceMetadata() error = %v", err)
	}
	if meta["name"] != "Shop" || meta["woocommerce"] != true {
		t.Fatalf("ServiceMetadata()=%v", meta)
	}
}

func TestRejectedKeyIsAuthFailed(t *testing.T) {
	t.Parallel()

	srv := wordpressServer(t)
	c := newTestConnector(t, srv, "bad-key")

	_, err := c.TestConnection(context.Background())
	if !errors.Is(err, integration.ErrAuthFailed) {
		t.Fatalf("TestConnection() error=%v want auth failed", err)
	}
}

func TestAuthorizationURLNotApplicable(t *testing.T) {
	t.Parallel()

	srv := wordpressServer(t)
	c := newTestConnector(t, srv, "good-key")
	if _, ok, err := c.BuildAuthorizationURL(context.Background()); ok || err != nil {
		t.Fatalf("BuildAuthorizationURL() ok=%v err=%v want false,nil", ok, err)
	}
}

func TestNewConnectorRequiresSiteURL(t *testing.T) {
	t.Parallel()

	_, err := NewDefinition().NewConnector(integration.Connection{IntegrationType: "wordpress"}, connector.Deps{Store: store.NewMemory()})
	if !errors.Is(err, integration.ErrValidation) {
		t.Fatalf("NewConnector() error=%v want validation", err)
	}
}
