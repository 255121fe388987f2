package registry

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/open-sspm/integration-hub/internal/connectors/connector"
	"github.com/open-sspm/integration-hub/internal/integration"
	"github.com/open-sspm/integration-hub/internal/store"
)

type entry struct {
	ctor Constructor
	meta Metadata
}

// ConnectorRegistry maps integration types to connector constructors. It is
// built explicitly at startup and passed to its users.
type ConnectorRegistry struct {
	mu      sync.RWMutex
	entries map[string]entry
	deps    connector.Deps
}

// NewRegistry creates a registry whose connectors share deps. The Store of
// deps is replaced per Create call.
func NewRegistry(deps connector.Deps) *ConnectorRegistry {
	return &ConnectorRegistry{
		entries: make(map[string]entry),
		deps:    deps,
	}
}

// Register binds kind to ctor. Registering an existing kind replaces it.
func (r *ConnectorRegistry) Register(kind string, ctor Constructor, meta Metadata) error {
	kind = integration.NormalizeType(kind)
	if kind == "" {
		return fmt.Errorf("connector kind cannot be empty")
	}
	if ctor == nil {
		return fmt.Errorf("connector %q: constructor is required", kind)
	}
	meta.Type = kind
	meta.Capabilities = slices.Clone(meta.Capabilities)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[kind] = entry{ctor: ctor, meta: meta}
	return nil
}

// RegisterDefinition registers a connector definition under its own kind.
func (r *ConnectorRegistry) RegisterDefinition(def ConnectorDefinition) error {
	return r.Register(def.Kind(), def.NewConnector, def.Metadata())
}

// Unregister removes kind. It reports whether the kind was registered.
func (r *ConnectorRegistry) Unregister(kind string) bool {
	kind = integration.NormalizeType(kind)
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[kind]
	delete(r.entries, kind)
	return ok
}

// Has reports whether kind is registered.
func (r *ConnectorRegistry) Has(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[integration.NormalizeType(kind)]
	return ok
}

// Create instantiates the connector registered for kind over conn. A
// constructor failure is returned as is and no connector is produced.
func (r *ConnectorRegistry) Create(ctx context.Context, kind string, conn integration.Connection, st store.ConnectionStore) (*connector.Connector, error) {
	if err := ctx.Err(); err != nil {
		return nil, integration.Canceled("create connector", err)
	}
	kind = integration.NormalizeType(kind)
	r.mu.RLock()
	e, ok := r.entries[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, unknownIntegration(kind)
	}
	if conn.IntegrationType == "" {
		conn.IntegrationType = kind
	}
	deps := r.deps
	deps.Store = st
	c, err := e.ctor(conn, deps)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Metadata returns the metadata registered for kind.
func (r *ConnectorRegistry) Metadata(kind string) (Metadata, error) {
	kind = integration.NormalizeType(kind)
	r.mu.RLock()
	e, ok := r.entries[kind]
	r.mu.RUnlock()
	if !ok {
		return Metadata{}, unknownIntegration(kind)
	}
	meta := e.meta
	meta.Capabilities = slices.Clone(meta.Capabilities)
	return meta, nil
}

// ListAvailable returns the metadata of every registered kind sorted by kind.
func (r *ConnectorRegistry) ListAvailable() []Metadata {
	r.mu.RLock()
	out := make([]Metadata, 0, len(r.entries))
	for _, e := range r.entries {
		meta := e.meta
		meta.Capabilities = slices.Clone(meta.Capabilities)
		out = append(out, meta)
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b Metadata) int {
		switch {
		case a.Type < b.Type:
			return -1
		case a.Type > b.Type:
			return 1
		}
		return 0
	})
	return out
}

func unknownIntegration(kind string) error {
	return &integration.Error{
		Kind:        integration.KindUnknownIntegration,
		Op:          "registry",
		Integration: kind,
		Message:     fmt.Sprintf("integration %q is not registered", kind),
	}
}
