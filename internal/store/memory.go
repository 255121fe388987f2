package store

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/open-sspm/integration-hub/internal/integration"
)

// Memory is an in-process Store. Records are kept sealed when a Cipher is set,
// and the Cipher never runs under the store lock.
type Memory struct {
	mu          sync.RWMutex
	connections map[string]integration.Connection
	webhooks    map[string]integration.WebhookConfig
	cipher      Cipher
	now         func() time.Time
}

type MemoryOption func(*Memory)

func WithCipher(c Cipher) MemoryOption {
	return func(m *Memory) { m.cipher = c }
}

func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		connections: make(map[string]integration.Connection),
		webhooks:    make(map[string]integration.WebhookConfig),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Get(ctx context.Context, id string) (integration.Connection, error) {
	if err := ctx.Err(); err != nil {
		return integration.Connection{}, integration.Canceled("get connection", err)
	}
	m.mu.RLock()
	conn, ok := m.connections[id]
	m.mu.RUnlock()
	if !ok {
		return integration.Connection{}, ConnectionNotFound(id)
	}
	return OpenConnection(ctx, m.cipher, conn.Clone())
}

func (m *Memory) ListByProperty(ctx context.Context, propertyID string) ([]integration.Connection, error) {
	return m.Find(ctx, Criteria{PropertyID: propertyID})
}

func (m *Memory) ListByType(ctx context.Context, integrationType string) ([]integration.Connection, error) {
	return m.Find(ctx, Criteria{IntegrationType: integrationType})
}

func (m *Memory) Save(ctx context.Context, conn integration.Connection) (integration.Connection, error) {
	if err := ctx.Err(); err != nil {
		return integration.Connection{}, integration.Canceled("save connection", err)
	}
	sealed, err := m.prepare(ctx, conn)
	if err != nil {
		return integration.Connection{}, err
	}

	m.mu.Lock()
	err = m.putLocked(&sealed)
	stored := sealed.Clone()
	m.mu.Unlock()
	if err != nil {
		return integration.Connection{}, err
	}
	return OpenConnection(ctx, m.cipher, stored)
}

func (m *Memory) SaveMany(ctx context.Context, conns []integration.Connection) ([]integration.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, integration.Canceled("save connections", err)
	}
	sealed := make([]integration.Connection, 0, len(conns))
	for _, conn := range conns {
		s, err := m.prepare(ctx, conn)
		if err != nil {
			return nil, err
		}
		sealed = append(sealed, s)
	}

	if err := m.putAll(sealed); err != nil {
		return nil, err
	}
	out := make([]integration.Connection, 0, len(sealed))
	for i := range sealed {
		opened, err := OpenConnection(ctx, m.cipher, sealed[i].Clone())
		if err != nil {
			return nil, err
		}
		out = append(out, opened)
	}
	return out, nil
}

// putAll stores every sealed connection or none of them.
func (m *Memory) putAll(sealed []integration.Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range sealed {
		if existing, ok := m.connections[sealed[i].ID]; ok && existing.IntegrationType != sealed[i].IntegrationType {
			return ImmutableType(sealed[i].ID)
		}
	}
	for i := range sealed {
		if err := m.putLocked(&sealed[i]); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Update(ctx context.Context, id string, patch ConnectionPatch) (integration.Connection, error) {
	if err := ctx.Err(); err != nil {
		return integration.Connection{}, integration.Canceled("update connection", err)
	}
	if patch.Status != nil && !patch.Status.Valid() {
		return integration.Connection{}, integration.New(integration.KindValidation, "update connection", "invalid status")
	}
	var apiKey, apiSecret string
	var err error
	if patch.APIKey != nil {
		if apiKey, err = SealString(ctx, m.cipher, *patch.APIKey); err != nil {
			return integration.Connection{}, err
		}
	}
	if patch.APISecret != nil {
		if apiSecret, err = SealString(ctx, m.cipher, *patch.APISecret); err != nil {
			return integration.Connection{}, err
		}
	}

	m.mu.Lock()
	conn, ok := m.connections[id]
	if !ok {
		m.mu.Unlock()
		return integration.Connection{}, ConnectionNotFound(id)
	}
	conn = conn.Clone()
	if patch.Name != nil {
		conn.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Config != nil {
		conn.Config = maps.Clone(patch.Config)
	}
	if patch.Metadata != nil {
		conn.Metadata = maps.Clone(patch.Metadata)
	}
	if patch.APIKey != nil {
		conn.APIKey = apiKey
	}
	if patch.APISecret != nil {
		conn.APISecret = apiSecret
	}
	if patch.Status != nil {
		conn.Status = *patch.Status
	}
	conn.UpdatedAt = m.now()
	m.connections[id] = conn
	m.mu.Unlock()
	return OpenConnection(ctx, m.cipher, conn.Clone())
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return integration.Canceled("delete connection", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.connections[id]; !ok {
		return ConnectionNotFound(id)
	}
	m.deleteLocked(id)
	return nil
}

func (m *Memory) DeleteMany(ctx context.Context, ids []string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, integration.Canceled("delete connections", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, id := range ids {
		if _, ok := m.connections[id]; ok {
			m.deleteLocked(id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) Find(ctx context.Context, criteria Criteria) ([]integration.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, integration.Canceled("find connections", err)
	}
	m.mu.RLock()
	matched := make([]integration.Connection, 0)
	for _, conn := range m.connections {
		if criteria.matches(conn) {
			matched = append(matched, conn.Clone())
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(matched, func(a, b integration.Connection) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if criteria.Offset > 0 {
		if criteria.Offset >= len(matched) {
			matched = matched[:0]
		} else {
			matched = matched[criteria.Offset:]
		}
	}
	if criteria.Limit > 0 && len(matched) > criteria.Limit {
		matched = matched[:criteria.Limit]
	}

	out := make([]integration.Connection, 0, len(matched))
	for _, conn := range matched {
		opened, err := OpenConnection(ctx, m.cipher, conn)
		if err != nil {
			return nil, err
		}
		out = append(out, opened)
	}
	return out, nil
}

func (m *Memory) Count(ctx context.Context, criteria Criteria) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, integration.Canceled("count connections", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, conn := range m.connections {
		if criteria.matches(conn) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) UpdateTokens(ctx context.Context, id string, update TokenUpdate) (integration.Connection, error) {
	if err := ctx.Err(); err != nil {
		return integration.Connection{}, integration.Canceled("update tokens", err)
	}
	access, err := SealString(ctx, m.cipher, update.AccessToken)
	if err != nil {
		return integration.Connection{}, err
	}
	refresh, err := SealString(ctx, m.cipher, update.RefreshToken)
	if err != nil {
		return integration.Connection{}, err
	}

	m.mu.Lock()
	conn, ok := m.connections[id]
	if !ok {
		m.mu.Unlock()
		return integration.Connection{}, ConnectionNotFound(id)
	}
	conn = conn.Clone()
	conn.AccessToken = access
	if refresh != "" {
		conn.RefreshToken = refresh
	}
	conn.TokenExpiresAt = cloneTime(update.ExpiresAt)
	if update.Status != "" {
		conn.Status = update.Status
	}
	if update.RefreshedAt != nil {
		conn.LastRefreshedAt = cloneTime(update.RefreshedAt)
	}
	conn.UpdatedAt = m.now()
	m.connections[id] = conn
	m.mu.Unlock()
	return OpenConnection(ctx, m.cipher, conn.Clone())
}

func (m *Memory) UpdateMetadata(ctx context.Context, id string, metadata map[string]any) error {
	if err := ctx.Err(); err != nil {
		return integration.Canceled("update metadata", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.connections[id]
	if !ok {
		return ConnectionNotFound(id)
	}
	conn = conn.Clone()
	conn.Metadata = maps.Clone(metadata)
	conn.UpdatedAt = m.now()
	m.connections[id] = conn
	return nil
}

func (m *Memory) ClearCredentials(ctx context.Context, id string) (integration.Connection, error) {
	if err := ctx.Err(); err != nil {
		return integration.Connection{}, integration.Canceled("clear credentials", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.connections[id]
	if !ok {
		return integration.Connection{}, ConnectionNotFound(id)
	}
	conn = conn.Clone()
	conn.AccessToken = ""
	conn.RefreshToken = ""
	conn.TokenExpiresAt = nil
	conn.APIKey = ""
	conn.APISecret = ""
	conn.Status = integration.StatusRevoked
	conn.UpdatedAt = m.now()
	m.connections[id] = conn
	return conn.Clone(), nil
}

func (m *Memory) CreateWebhook(ctx context.Context, cfg integration.WebhookConfig) (integration.WebhookConfig, error) {
	if err := ctx.Err(); err != nil {
		return integration.WebhookConfig{}, integration.Canceled("create webhook", err)
	}
	sealed, err := SealWebhook(ctx, m.cipher, cfg.Clone())
	if err != nil {
		return integration.WebhookConfig{}, err
	}

	if sealed.ID == "" {
		sealed.ID = uuid.NewString()
	}
	m.mu.Lock()
	if _, ok := m.connections[cfg.ConnectionID]; !ok {
		m.mu.Unlock()
		return integration.WebhookConfig{}, ConnectionNotFound(cfg.ConnectionID)
	}
	if _, exists := m.webhooks[sealed.ID]; exists {
		m.mu.Unlock()
		return integration.WebhookConfig{}, integration.New(integration.KindValidation, "create webhook", "webhook id already exists")
	}
	now := m.now()
	sealed.CreatedAt = now
	sealed.UpdatedAt = now
	m.webhooks[sealed.ID] = sealed.Clone()
	m.mu.Unlock()
	return OpenWebhook(ctx, m.cipher, sealed)
}

func (m *Memory) GetWebhook(ctx context.Context, id string) (integration.WebhookConfig, error) {
	if err := ctx.Err(); err != nil {
		return integration.WebhookConfig{}, integration.Canceled("get webhook", err)
	}
	m.mu.RLock()
	cfg, ok := m.webhooks[id]
	m.mu.RUnlock()
	if !ok {
		return integration.WebhookConfig{}, WebhookNotFound(id)
	}
	return OpenWebhook(ctx, m.cipher, cfg.Clone())
}

func (m *Memory) ListWebhooks(ctx context.Context, connectionID string) ([]integration.WebhookConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, integration.Canceled("list webhooks", err)
	}
	m.mu.RLock()
	matched := make([]integration.WebhookConfig, 0)
	for _, cfg := range m.webhooks {
		if cfg.ConnectionID == connectionID {
			matched = append(matched, cfg.Clone())
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(matched, func(a, b integration.WebhookConfig) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	out := make([]integration.WebhookConfig, 0, len(matched))
	for _, cfg := range matched {
		opened, err := OpenWebhook(ctx, m.cipher, cfg)
		if err != nil {
			return nil, err
		}
		out = append(out, opened)
	}
	return out, nil
}

func (m *Memory) SetWebhookActive(ctx context.Context, id string, active bool) (integration.WebhookConfig, error) {
	if err := ctx.Err(); err != nil {
		return integration.WebhookConfig{}, integration.Canceled("set webhook active", err)
	}
	m.mu.Lock()
	cfg, ok := m.webhooks[id]
	if !ok {
		m.mu.Unlock()
		return integration.WebhookConfig{}, WebhookNotFound(id)
	}
	cfg.Active = active
	cfg.UpdatedAt = m.now()
	m.webhooks[id] = cfg
	stored := cfg.Clone()
	m.mu.Unlock()
	return OpenWebhook(ctx, m.cipher, stored)
}

func (m *Memory) DeleteWebhook(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return integration.Canceled("delete webhook", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.webhooks[id]; !ok {
		return WebhookNotFound(id)
	}
	delete(m.webhooks, id)
	return nil
}

// prepare validates and seals conn outside the lock.
func (m *Memory) prepare(ctx context.Context, conn integration.Connection) (integration.Connection, error) {
	conn = conn.Clone()
	conn.IntegrationType = integration.NormalizeType(conn.IntegrationType)
	conn.PropertyID = strings.TrimSpace(conn.PropertyID)
	if err := ValidateConnection(conn); err != nil {
		return integration.Connection{}, err
	}
	if conn.ID == "" {
		conn.ID = uuid.NewString()
	}
	if conn.Status == "" {
		conn.Status = integration.StatusPending
	}
	return SealConnection(ctx, m.cipher, conn)
}

func (m *Memory) putLocked(conn *integration.Connection) error {
	now := m.now()
	if existing, ok := m.connections[conn.ID]; ok {
		if existing.IntegrationType != conn.IntegrationType {
			return ImmutableType(conn.ID)
		}
		conn.CreatedAt = existing.CreatedAt
	} else if conn.CreatedAt.IsZero() {
		conn.CreatedAt = now
	}
	conn.UpdatedAt = now
	m.connections[conn.ID] = conn.Clone()
	return nil
}

func (m *Memory) deleteLocked(id string) {
	delete(m.connections, id)
	for wid, cfg := range m.webhooks {
		if cfg.ConnectionID == id {
			delete(m.webhooks, wid)
		}
	}
}

// ValidateConnection checks the fields every backing store requires.
func ValidateConnection(conn integration.Connection) error {
	if strings.TrimSpace(conn.PropertyID) == "" {
		return integration.New(integration.KindValidation, "save connection", "property id is required")
	}
	if integration.NormalizeType(conn.IntegrationType) == "" {
		return integration.New(integration.KindValidation, "save connection", "integration type is required")
	}
	if conn.Status != "" && !conn.Status.Valid() {
		return integration.New(integration.KindValidation, "save connection", "invalid status")
	}
	return nil
}

func ConnectionNotFound(id string) error {
	return integration.New(integration.KindNotFound, "connection", "connection "+id+" not found")
}

func WebhookNotFound(id string) error {
	return integration.New(integration.KindNotFound, "webhook", "webhook "+id+" not found")
}

func ImmutableType(id string) error {
	return integration.New(integration.KindValidation, "save connection", "integration type of connection "+id+" cannot change")
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
