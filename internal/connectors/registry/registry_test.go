package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/open-sspm/integration-hub/internal/connectors/connector"
	"github.com/open-sspm/integration-hub/internal/integration"
	"github.com/open-sspm/integration-hub/internal/store"
)

type mockService struct{}

func (mockService) TestConnection(context.Context, *connector.Connector) (bool, error) {
	return true, nil
}

func (mockService) ServiceMetadata(context.Context, *connector.Connector) (map[string]any, error) {
	return nil, nil
}

func mockConstructor(conn integration.Connection, deps connector.Deps) (*connector.Connector, error) {
	return connector.New(connector.Spec{
		Type:       "mock",
		AuthMethod: integration.AuthMethodAPIKey,
		Service:    mockService{},
	}, conn, deps)
}

func TestRegistryCaseInsensitive(t *testing.T) {
	t.Parallel()

	r := NewRegistry(connector.Deps{})
	if err := r.Register("mock", mockConstructor, Metadata{DisplayName: "Mock", AuthMethod: integration.AuthMethodAPIKey}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	st := store.NewMemory()
	c, err := r.Create(context.Background(), "MOCK", integration.Connection{ID: "c1", PropertyID: "p1"}, st)
	if err != nil {
		t.Fatalf("Create(MOCK) error = %v", err)
	}
	if c.Type() != "mock" {
		t.Fatalf("Type()=%q want mock", c.Type())
	}
	meta, err := r.Metadata(" Mock ")
	if err != nil {
		t.Fatalf("Metadata() error = %v", err)
	}
	if meta.Type != "mock" || meta.DisplayName != "Mock" {
		t.Fatalf("Metadata()=%+v", meta)
	}
}

func TestRegistryUnregister(t *testing.T) {
	t.Parallel()

	r := NewRegistry(connector.Deps{})
	if err := r.Register("mock", mockConstructor, Metadata{}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if !r.Unregister("MOCK") {
		t.Fatalf("Unregister()=false want true")
	}
	if r.Unregister("mock") {
		t.Fatalf("second Unregister()=true want false")
	}

	_, err := r.Create(context.Background(), "mock", integration.Connection{}, store.NewMemory())
	if !errors.Is(err, integration.ErrUnknownIntegration) {
		t.Fatalf("Create() error=%v want unknown integration", err)
	}
	if _, err := r.Metadata("mock"); !errors.Is(err, integration.ErrUnknownIntegration) {
		t.Fatalf("Metadata() error=%v want unknown integration", err)
	}
}

func TestRegistryLastWriterWins(t *testing.T) {
	t.Parallel()

	r := NewRegistry(connector.Deps{})
	_ = r.Register("mock", mockConstructor, Metadata{DisplayName: "First"})
	_ = r.Register("MOCK", mockConstructor, Metadata{DisplayName: "Second"})

	list := r.ListAvailable()
	if len(list) != 1 || list[0].DisplayName != "Second" {
		t.Fatalf("ListAvailable()=%+v want single Second entry", list)
	}
}

func TestRegistryConstructorErrorPropagates(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	r := NewRegistry(connector.Deps{})
	_ = r.Register("broken", func(integration.Connection, connector.Deps) (*connector.Connector, error) {
		return nil, boom
	}, Metadata{})

	c, err := r.Create(context.Background(), "broken", integration.Connection{}, store.NewMemory())
	if !errors.Is(err, boom) || c != nil {
		t.Fatalf("Create()=(%v,%v) want (nil, boom)", c, err)
	}
}

func TestRegistryCreateRejectsTypeMismatch(t *testing.T) {
	t.Parallel()

	r := NewRegistry(connector.Deps{})
	_ = r.Register("mock", mockConstructor, Metadata{})
	_, err := r.Create(context.Background(), "mock", integration.Connection{IntegrationType: "other"}, store.NewMemory())
	if !errors.Is(err, integration.ErrValidation) {
		t.Fatalf("Create() error=%v want validation", err)
	}
}

func TestRegistryListAvailableSorted(t *testing.T) {
	t.Parallel()

	r := NewRegistry(connector.Deps{})
	for _, kind := range []string{"wordpress", "ga4", "hubspot"} {
		if err := r.Register(kind, mockConstructor, Metadata{Capabilities: []string{CapabilityMetadata}}); err != nil {
			t.Fatalf("Register(%s) error = %v", kind, err)
		}
	}
	list := r.ListAvailable()
	want := []string{"ga4", "hubspot", "wordpress"}
	if len(list) != len(want) {
		t.Fatalf("ListAvailable() len=%d want %d", len(list), len(want))
	}
	for i, kind := range want {
		if list[i].Type != kind {
			t.Fatalf("ListAvailable()[%d]=%q want %q", i, list[i].Type, kind)
		}
	}

	list[0].Capabilities[0] = "mutated"
	again, _ := r.Metadata("ga4")
	if again.Capabilities[0] != CapabilityMetadata {
		t.Fatalf("capabilities shared with caller: %v", again.Capabilities)
	}
}

func TestRegisterRejectsEmptyKind(t *testing.T) {
	t.Parallel()

	r := NewRegistry(connector.Deps{})
	if err := r.Register("  ", mockConstructor, Metadata{}); err == nil {
		t.Fatalf("Register(empty) error=nil want error")
	}
	if err := r.Register("mock", nil, Metadata{}); err == nil {
		t.Fatalf("Register(nil ctor) error=nil want error")
	}
}
