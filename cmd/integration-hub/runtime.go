package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/open-sspm/integration-hub/internal/config"
	"github.com/open-sspm/integration-hub/internal/connectors/connector"
	"github.com/open-sspm/integration-hub/internal/connectors/registry"
	"github.com/open-sspm/integration-hub/internal/events"
	"github.com/open-sspm/integration-hub/internal/lock"
	"github.com/open-sspm/integration-hub/internal/metrics"
	"github.com/open-sspm/integration-hub/internal/oauthstate"
	"github.com/open-sspm/integration-hub/internal/secrets"
	"github.com/open-sspm/integration-hub/internal/store"
	"github.com/open-sspm/integration-hub/internal/store/postgres"
	"github.com/redis/go-redis/v9"
)

const (
	connectorHTTPTimeout = 30 * time.Second
	redisKeyPrefix       = "integration-hub:"
)

// hub holds the long-lived dependencies shared by the commands.
type hub struct {
	cfg       config.Config
	logger    *slog.Logger
	store     store.Store
	states    oauthstate.Store
	registry  *registry.ConnectorRegistry
	observer  events.Observer
	publisher *events.KafkaPublisher

	closers []func()
	// checks back the readiness probe of the metrics listener.
	checks []func(context.Context) error
}

// ready reports the first failing dependency check.
func (h *hub) ready(ctx context.Context) error {
	for _, check := range h.checks {
		if err := check(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (h *hub) Close() {
	for i := len(h.closers) - 1; i >= 0; i-- {
		h.closers[i]()
	}
}

// buildHub wires storage, locking, events and the connector registry from
// cfg. Without DATABASE_URL connections live in process memory.
func buildHub(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *hub, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	h := &hub{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			h.Close()
		}
	}()

	cipher, err := buildCipher(cfg)
	if err != nil {
		return nil, err
	}

	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		h.closers = append(h.closers, pool.Close)
		h.checks = append(h.checks, func(ctx context.Context) error {
			if err := pool.Ping(ctx); err != nil {
				return fmt.Errorf("database: %w", err)
			}
			return nil
		})
		st, err := postgres.New(pool, postgres.WithCipher(cipher))
		if err != nil {
			return nil, err
		}
		h.store = st
	} else {
		logger.Warn("DATABASE_URL not set; connections are kept in memory")
		h.store = store.NewMemory(store.WithCipher(cipher))
	}

	var locker lock.Locker
	switch {
	case cfg.RedisURL != "":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		h.closers = append(h.closers, func() { _ = client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		h.checks = append(h.checks, func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			return nil
		})
		rl := lock.NewRedis(client, redisKeyPrefix+"lock:")
		rl.Logger = logger
		locker = rl
		h.states = oauthstate.NewRedis(client, redisKeyPrefix+"oauth-state:")
	case pool != nil:
		locker, err = lock.NewAdvisory(pool)
		if err != nil {
			return nil, err
		}
		h.states = oauthstate.NewMemory()
	default:
		locker = lock.NewLocal()
		h.states = oauthstate.NewMemory()
	}

	observers := []events.Observer{events.LogObserver(logger), metrics.Observer()}
	if len(cfg.KafkaBrokers) > 0 {
		h.publisher, err = events.NewKafkaPublisher(events.KafkaConfig{
			Brokers:       cfg.KafkaBrokers,
			EventsTopic:   cfg.KafkaEventsTopic,
			WebhooksTopic: cfg.KafkaWebhooksTopic,
		}, logger)
		if err != nil {
			return nil, err
		}
		publisher := h.publisher
		h.closers = append(h.closers, func() {
			if err := publisher.Close(); err != nil {
				logger.Warn("close kafka publisher", "err", err)
			}
		})
		observers = append(observers, publisher)
	}
	h.observer = events.Multi(observers...)

	h.registry, err = buildConnectorRegistry(cfg, connector.Deps{
		States:     h.states,
		HTTPClient: &http.Client{Timeout: connectorHTTPTimeout},
		Observer:   h.observer,
		Refreshes:  connector.NewRefreshCoordinator(locker),
		Logger:     logger,
		StateTTL:   cfg.OAuthStateTTL,
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// buildCipher prefers Vault transit, then the local AEAD key. Without either
// credentials are stored as given.
func buildCipher(cfg config.Config) (store.Cipher, error) {
	switch {
	case cfg.VaultEnabled():
		v, err := secrets.NewVaultTransit(secrets.VaultOptions{
			Address:      cfg.VaultAddr,
			Token:        cfg.VaultToken,
			TransitMount: cfg.VaultTransitMount,
			TransitKey:   cfg.VaultTransitKey,
		})
		if err != nil {
			return nil, fmt.Errorf("vault transit: %w", err)
		}
		return v, nil
	case cfg.SecretsKey != "":
		a, err := secrets.NewAEAD(cfg.SecretsKey)
		if err != nil {
			return nil, fmt.Errorf("SECRETS_KEY: %w", err)
		}
		return a, nil
	case cfg.VaultAddr != "":
		return nil, errors.New("VAULT_TRANSIT_KEY is required when VAULT_ADDR is set")
	default:
		return nil, nil
	}
}
