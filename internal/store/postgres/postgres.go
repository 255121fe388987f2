// Package postgres implements the connection and webhook store on Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/open-sspm/integration-hub/internal/integration"
	"github.com/open-sspm/integration-hub/internal/store"
)

const (
	connectionsTable = "integration_connections"
	webhooksTable    = "integration_webhooks"

	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"
)

var connectionColumns = []string{
	"id", "property_id", "integration_type", "name",
	"access_token", "refresh_token", "token_expires_at",
	"api_key", "api_secret", "config", "metadata",
	"status", "last_refreshed_at", "created_at", "updated_at",
}

var webhookColumns = []string{
	"id", "connection_id", "url", "events", "secret", "active", "created_at", "updated_at",
}

var returningConnection = " RETURNING " + strings.Join(connectionColumns, ", ")
var returningWebhook = " RETURNING " + strings.Join(webhookColumns, ", ")

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is a store.Store on a pgx pool. Credentials are sealed with the
// configured Cipher before they are written.
type Store struct {
	pool   *pgxpool.Pool
	cipher store.Cipher
	now    func() time.Time
}

type Option func(*Store)

func WithCipher(c store.Cipher) Option {
	return func(s *Store) { s.cipher = c }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func New(pool *pgxpool.Pool, opts ...Option) (*Store, error) {
	if pool == nil {
		return nil, errors.New("postgres store: pool is nil")
	}
	s := &Store{pool: pool, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

var _ store.Store = (*Store)(nil)

func (s *Store) Get(ctx context.Context, id string) (integration.Connection, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(connectionColumns...).From(connectionsTable).Where(sb.Equal("id", id))
	query, args := sb.Build()

	conn, err := scanConnection(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return integration.Connection{}, store.ConnectionNotFound(id)
		}
		return integration.Connection{}, dbError(ctx, "get connection", err)
	}
	return store.OpenConnection(ctx, s.cipher, conn)
}

func (s *Store) ListByProperty(ctx context.Context, propertyID string) ([]integration.Connection, error) {
	return s.Find(ctx, store.Criteria{PropertyID: propertyID})
}

func (s *Store) ListByType(ctx context.Context, integrationType string) ([]integration.Connection, error) {
	return s.Find(ctx, store.Criteria{IntegrationType: integrationType})
}

func (s *Store) Save(ctx context.Context, conn integration.Connection) (integration.Connection, error) {
	sealed, err := s.prepare(ctx, conn)
	if err != nil {
		return integration.Connection{}, err
	}
	return s.upsert(ctx, s.pool, sealed)
}

// SaveMany writes every connection in one transaction.
func (s *Store) SaveMany(ctx context.Context, conns []integration.Connection) ([]integration.Connection, error) {
	sealed := make([]integration.Connection, 0, len(conns))
	for _, conn := range conns {
		p, err := s.prepare(ctx, conn)
		if err != nil {
			return nil, err
		}
		sealed = append(sealed, p)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, dbError(ctx, "save connections", err)
	}
	defer tx.Rollback(ctx)

	out := make([]integration.Connection, 0, len(sealed))
	for _, conn := range sealed {
		saved, err := s.upsert(ctx, tx, conn)
		if err != nil {
			return nil, err
		}
		out = append(out, saved)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, dbError(ctx, "save connections", err)
	}
	return out, nil
}

func (s *Store) prepare(ctx context.Context, conn integration.Connection) (integration.Connection, error) {
	if err := ctx.Err(); err != nil {
		return integration.Connection{}, integration.Canceled("save connection", err)
	}
	conn = conn.Clone()
	conn.IntegrationType = integration.NormalizeType(conn.IntegrationType)
	conn.PropertyID = strings.TrimSpace(conn.PropertyID)
	if err := store.ValidateConnection(conn); err != nil {
		return integration.Connection{}, err
	}
	if conn.ID == "" {
		conn.ID = newID()
	}
	if conn.Status == "" {
		conn.Status = integration.StatusPending
	}
	return store.SealConnection(ctx, s.cipher, conn)
}

// upsert inserts conn or replaces the stored row of the same id. The
// conflict clause only fires for an unchanged integration type, so a type
// change returns no row.
func (s *Store) upsert(ctx context.Context, q querier, conn integration.Connection) (integration.Connection, error) {
	config, err := encodeMap(conn.Config)
	if err != nil {
		return integration.Connection{}, integration.Wrap(integration.KindValidation, "save connection", err)
	}
	metadata, err := encodeMap(conn.Metadata)
	if err != nil {
		return integration.Connection{}, integration.Wrap(integration.KindValidation, "save connection", err)
	}
	now := s.now()
	created := conn.CreatedAt
	if created.IsZero() {
		created = now
	}

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto(connectionsTable)
	ib.Cols(connectionColumns...)
	ib.Values(
		conn.ID, conn.PropertyID, conn.IntegrationType, conn.Name,
		conn.AccessToken, conn.RefreshToken, conn.TokenExpiresAt,
		conn.APIKey, conn.APISecret, config, metadata,
		string(conn.Status), conn.LastRefreshedAt, created, now,
	)
	query, args := ib.Build()
	query += ` ON CONFLICT (id) DO UPDATE SET
		property_id = EXCLUDED.property_id,
		name = EXCLUDED.name,
		access_token = EXCLUDED.access_token,
		refresh_token = EXCLUDED.refresh_token,
		token_expires_at = EXCLUDED.token_expires_at,
		api_key = EXCLUDED.api_key,
		api_secret = EXCLUDED.api_secret,
		config = EXCLUDED.config,
		metadata = EXCLUDED.metadata,
		status = EXCLUDED.status,
		last_refreshed_at = EXCLUDED.last_refreshed_at,
		updated_at = EXCLUDED.updated_at
	WHERE ` + connectionsTable + `.integration_type = EXCLUDED.integration_type` + returningConnection

	saved, err := scanConnection(q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return integration.Connection{}, store.ImmutableType(conn.ID)
		}
		return integration.Connection{}, dbError(ctx, "save connection", err)
	}
	return store.OpenConnection(ctx, s.cipher, saved)
}

func (s *Store) Update(ctx context.Context, id string, patch store.ConnectionPatch) (integration.Connection, error) {
	const op = "update connection"
	if patch.Status != nil && !patch.Status.Valid() {
		return integration.Connection{}, integration.New(integration.KindValidation, op, "invalid status")
	}

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(connectionsTable)
	assignments := []string{ub.Assign("updated_at", s.now())}
	if patch.Name != nil {
		assignments = append(assignments, ub.Assign("name", strings.TrimSpace(*patch.Name)))
	}
	if patch.Config != nil {
		raw, err := encodeMap(patch.Config)
		if err != nil {
			return integration.Connection{}, integration.Wrap(integration.KindValidation, op, err)
		}
		assignments = append(assignments, ub.Assign("config", raw))
	}
	if patch.Metadata != nil {
		raw, err := encodeMap(patch.Metadata)
		if err != nil {
			return integration.Connection{}, integration.Wrap(integration.KindValidation, op, err)
		}
		assignments = append(assignments, ub.Assign("metadata", raw))
	}
	if patch.APIKey != nil {
		v, err := store.SealString(ctx, s.cipher, *patch.APIKey)
		if err != nil {
			return integration.Connection{}, err
		}
		assignments = append(assignments, ub.Assign("api_key", v))
	}
	if patch.APISecret != nil {
		v, err := store.SealString(ctx, s.cipher, *patch.APISecret)
		if err != nil {
			return integration.Connection{}, err
		}
		assignments = append(assignments, ub.Assign("api_secret", v))
	}
	if patch.Status != nil {
		assignments = append(assignments, ub.Assign("status", string(*patch.Status)))
	}
	ub.Set(assignments...)
	ub.Where(ub.Equal("id", id))
	query, args := ub.Build()

	conn, err := scanConnection(s.pool.QueryRow(ctx, query+returningConnection, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return integration.Connection{}, store.ConnectionNotFound(id)
		}
		return integration.Connection{}, dbError(ctx, op, err)
	}
	return store.OpenConnection(ctx, s.cipher, conn)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM "+connectionsTable+" WHERE id = $1", id)
	if err != nil {
		return dbError(ctx, "delete connection", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ConnectionNotFound(id)
	}
	return nil
}

func (s *Store) DeleteMany(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, "DELETE FROM "+connectionsTable+" WHERE id = ANY($1)", ids)
	if err != nil {
		return 0, dbError(ctx, "delete connections", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) Find(ctx context.Context, criteria store.Criteria) ([]integration.Connection, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(connectionColumns...).From(connectionsTable)
	applyCriteria(sb, criteria)
	sb.OrderBy("created_at", "id")
	if criteria.Limit > 0 {
		sb.Limit(criteria.Limit)
	}
	if criteria.Offset > 0 {
		sb.Offset(criteria.Offset)
	}
	query, args := sb.Build()

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, dbError(ctx, "find connections", err)
	}
	defer rows.Close()

	out := make([]integration.Connection, 0)
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, dbError(ctx, "find connections", err)
		}
		opened, err := store.OpenConnection(ctx, s.cipher, conn)
		if err != nil {
			return nil, err
		}
		out = append(out, opened)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(ctx, "find connections", err)
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context, criteria store.Criteria) (int, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("COUNT(*)").From(connectionsTable)
	applyCriteria(sb, criteria)
	query, args := sb.Build()

	var n int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, dbError(ctx, "count connections", err)
	}
	return int(n), nil
}

func applyCriteria(sb *sqlbuilder.SelectBuilder, c store.Criteria) {
	var where []string
	if c.PropertyID != "" {
		where = append(where, sb.Equal("property_id", c.PropertyID))
	}
	if c.IntegrationType != "" {
		where = append(where, sb.Equal("integration_type", integration.NormalizeType(c.IntegrationType)))
	}
	if c.Status != "" {
		where = append(where, sb.Equal("status", string(c.Status)))
	}
	if c.ExpiringBefore != nil {
		where = append(where, sb.LessThan("token_expires_at", *c.ExpiringBefore))
	}
	if c.HasRefreshToken {
		where = append(where, sb.NotEqual("refresh_token", ""))
	}
	if len(where) > 0 {
		sb.Where(where...)
	}
}

// UpdateTokens writes the token set in a single statement. An empty refresh
// token keeps the stored one.
func (s *Store) UpdateTokens(ctx context.Context, id string, update store.TokenUpdate) (integration.Connection, error) {
	access, err := store.SealString(ctx, s.cipher, update.AccessToken)
	if err != nil {
		return integration.Connection{}, err
	}
	refresh, err := store.SealString(ctx, s.cipher, update.RefreshToken)
	if err != nil {
		return integration.Connection{}, err
	}
	query := `UPDATE ` + connectionsTable + ` SET
		access_token = $2,
		refresh_token = CASE WHEN $3::text = '' THEN refresh_token ELSE $3::text END,
		token_expires_at = $4,
		status = COALESCE(NULLIF($5::text, ''), status),
		last_refreshed_at = COALESCE($6, last_refreshed_at),
		updated_at = $7
	WHERE id = $1` + returningConnection

	conn, err := scanConnection(s.pool.QueryRow(ctx, query,
		id, access, refresh, update.ExpiresAt, string(update.Status), update.RefreshedAt, s.now()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return integration.Connection{}, store.ConnectionNotFound(id)
		}
		return integration.Connection{}, dbError(ctx, "update tokens", err)
	}
	return store.OpenConnection(ctx, s.cipher, conn)
}

func (s *Store) UpdateMetadata(ctx context.Context, id string, metadata map[string]any) error {
	raw, err := encodeMap(metadata)
	if err != nil {
		return integration.Wrap(integration.KindValidation, "update metadata", err)
	}
	tag, err := s.pool.Exec(ctx,
		"UPDATE "+connectionsTable+" SET metadata = $2, updated_at = $3 WHERE id = $1",
		id, raw, s.now())
	if err != nil {
		return dbError(ctx, "update metadata", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ConnectionNotFound(id)
	}
	return nil
}

func (s *Store) ClearCredentials(ctx context.Context, id string) (integration.Connection, error) {
	query := `UPDATE ` + connectionsTable + ` SET
		access_token = '',
		refresh_token = '',
		token_expires_at = NULL,
		api_key = '',
		api_secret = '',
		status = $2,
		updated_at = $3
	WHERE id = $1` + returningConnection

	conn, err := scanConnection(s.pool.QueryRow(ctx, query, id, string(integration.StatusRevoked), s.now()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return integration.Connection{}, store.ConnectionNotFound(id)
		}
		return integration.Connection{}, dbError(ctx, "clear credentials", err)
	}
	return conn, nil
}

func (s *Store) CreateWebhook(ctx context.Context, cfg integration.WebhookConfig) (integration.WebhookConfig, error) {
	const op = "create webhook"
	sealed, err := store.SealWebhook(ctx, s.cipher, cfg.Clone())
	if err != nil {
		return integration.WebhookConfig{}, err
	}
	if sealed.ID == "" {
		sealed.ID = newID()
	}
	events := sealed.Events
	if events == nil {
		events = []string{}
	}
	now := s.now()

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto(webhooksTable)
	ib.Cols(webhookColumns...)
	ib.Values(sealed.ID, sealed.ConnectionID, sealed.URL, events, sealed.Secret, sealed.Active, now, now)
	query, args := ib.Build()

	created, err := scanWebhook(s.pool.QueryRow(ctx, query+returningWebhook, args...))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgForeignKeyViolation:
				return integration.WebhookConfig{}, store.ConnectionNotFound(cfg.ConnectionID)
			case pgUniqueViolation:
				return integration.WebhookConfig{}, integration.New(integration.KindValidation, op, "webhook id already exists")
			}
		}
		return integration.WebhookConfig{}, dbError(ctx, op, err)
	}
	return store.OpenWebhook(ctx, s.cipher, created)
}

func (s *Store) GetWebhook(ctx context.Context, id string) (integration.WebhookConfig, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(webhookColumns...).From(webhooksTable).Where(sb.Equal("id", id))
	query, args := sb.Build()

	cfg, err := scanWebhook(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return integration.WebhookConfig{}, store.WebhookNotFound(id)
		}
		return integration.WebhookConfig{}, dbError(ctx, "get webhook", err)
	}
	return store.OpenWebhook(ctx, s.cipher, cfg)
}

func (s *Store) ListWebhooks(ctx context.Context, connectionID string) ([]integration.WebhookConfig, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(webhookColumns...).From(webhooksTable).Where(sb.Equal("connection_id", connectionID))
	sb.OrderBy("created_at", "id")
	query, args := sb.Build()

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, dbError(ctx, "list webhooks", err)
	}
	defer rows.Close()

	out := make([]integration.WebhookConfig, 0)
	for rows.Next() {
		cfg, err := scanWebhook(rows)
		if err != nil {
			return nil, dbError(ctx, "list webhooks", err)
		}
		opened, err := store.OpenWebhook(ctx, s.cipher, cfg)
		if err != nil {
			return nil, err
		}
		out = append(out, opened)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(ctx, "list webhooks", err)
	}
	return out, nil
}

func (s *Store) SetWebhookActive(ctx context.Context, id string, active bool) (integration.WebhookConfig, error) {
	query := "UPDATE " + webhooksTable + " SET active = $2, updated_at = $3 WHERE id = $1" + returningWebhook
	cfg, err := scanWebhook(s.pool.QueryRow(ctx, query, id, active, s.now()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return integration.WebhookConfig{}, store.WebhookNotFound(id)
		}
		return integration.WebhookConfig{}, dbError(ctx, "set webhook active", err)
	}
	return store.OpenWebhook(ctx, s.cipher, cfg)
}

func (s *Store) DeleteWebhook(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM "+webhooksTable+" WHERE id = $1", id)
	if err != nil {
		return dbError(ctx, "delete webhook", err)
	}
	if tag.RowsAffected() == 0 {
		return store.WebhookNotFound(id)
	}
	return nil
}

func scanConnection(row pgx.Row) (integration.Connection, error) {
	var (
		conn             integration.Connection
		status           string
		config, metadata []byte
	)
	err := row.Scan(
		&conn.ID, &conn.PropertyID, &conn.IntegrationType, &conn.Name,
		&conn.AccessToken, &conn.RefreshToken, &conn.TokenExpiresAt,
		&conn.APIKey, &conn.APISecret, &config, &metadata,
		&status, &conn.LastRefreshedAt, &conn.CreatedAt, &conn.UpdatedAt,
	)
	if err != nil {
		return integration.Connection{}, err
	}
	conn.Status = integration.Status(status)
	if conn.Config, err = decodeMap(config); err != nil {
		return integration.Connection{}, fmt.Errorf("decode config of %s: %w", conn.ID, err)
	}
	if conn.Metadata, err = decodeMap(metadata); err != nil {
		return integration.Connection{}, fmt.Errorf("decode metadata of %s: %w", conn.ID, err)
	}
	return conn, nil
}

func scanWebhook(row pgx.Row) (integration.WebhookConfig, error) {
	var cfg integration.WebhookConfig
	err := row.Scan(&cfg.ID, &cfg.ConnectionID, &cfg.URL, &cfg.Events, &cfg.Secret, &cfg.Active, &cfg.CreatedAt, &cfg.UpdatedAt)
	return cfg, err
}

func encodeMap(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func decodeMap(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}

func newID() string {
	return uuid.NewString()
}

func dbError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return integration.Canceled(op, ctxErr)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return integration.Canceled(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
