package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/open-sspm/integration-hub/internal/config"
	"github.com/open-sspm/integration-hub/internal/connectors/configstore"
	"github.com/open-sspm/integration-hub/internal/connectors/hubspot"
	"github.com/open-sspm/integration-hub/internal/connectors/wordpress"
	httpapp "github.com/open-sspm/integration-hub/internal/http"
	"github.com/open-sspm/integration-hub/internal/http/handlers"
	"github.com/open-sspm/integration-hub/internal/integration"
	"github.com/open-sspm/integration-hub/internal/logging"
	"github.com/open-sspm/integration-hub/internal/metrics"
	"github.com/open-sspm/integration-hub/internal/refresher"
	"github.com/open-sspm/integration-hub/internal/webhooks"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, webhook dispatch and background token refresh.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	cfg, err := config.LoadOptionalDB()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.Default()
	h, err := buildHub(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer h.Close()

	manager := webhooks.NewManager(h.store, webhooks.Options{
		Workers:   cfg.WebhookWorkers,
		QueueSize: cfg.WebhookQueueSize,
		RateLimit: rate.Limit(cfg.WebhookRateLimit),
		Observer:  h.observer,
		Logger:    logging.Component(logger, "webhooks"),
	})
	registerWebhookHandlers(manager, h, logger)
	// Workers outlive the signal so Shutdown can drain queued deliveries.
	manager.Start(context.WithoutCancel(ctx))

	srv, err := httpapp.NewEchoServer(&handlers.Handlers{
		Store:           h.store,
		Registry:        h.registry,
		States:          h.states,
		Webhooks:        manager,
		Validate:        handlers.NewValidator(),
		Logger:          logging.Component(logger, "http"),
		SuccessRedirect: cfg.OAuthSuccessRedirect,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening", "addr", cfg.HTTPAddr, "public_base_url", cfg.PublicBaseURL)
		if err := srv.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if _, metricsErrs := metrics.StartServer(gctx, metrics.ServerOptions{
		Addr:   cfg.MetricsAddr,
		Logger: logging.Component(logger, "metrics"),
		Ready:  h.ready,
	}); metricsErrs != nil {
		g.Go(func() error {
			return <-metricsErrs
		})
	}

	if cfg.RefreshInterval > 0 {
		r, err := refresher.New(h.store, h.registry, refresher.Options{
			Window:  cfg.RefreshWindow,
			Workers: cfg.RefreshWorkers,
			Logger:  logging.Component(logger, "refresher"),
		})
		if err != nil {
			return err
		}
		scheduler := &refresher.Scheduler{Refresher: r, Interval: cfg.RefreshInterval, Logger: logger}
		g.Go(func() error {
			scheduler.Run(gctx)
			return nil
		})
	} else {
		logger.Info("background token refresh disabled")
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "err", err)
		}
		if err := manager.Shutdown(shutdownCtx); err != nil {
			logger.Warn("webhook shutdown", "err", err)
		}
		return nil
	})

	return g.Wait()
}

// registerWebhookHandlers routes verified deliveries per integration type.
// With a Kafka webhooks topic every payload is also forwarded there.
func registerWebhookHandlers(m *webhooks.Manager, h *hub, logger *slog.Logger) {
	typed := map[string]webhooks.Handler{
		configstore.KindHubSpot:   hubspot.WebhookHandler(logger),
		configstore.KindWordPress: wordpress.WebhookHandler(logger),
	}
	var forward webhooks.Handler
	if h.publisher != nil && h.cfg.KafkaWebhooksTopic != "" {
		forward = h.publisher.Forward
	}
	for _, meta := range h.registry.ListAvailable() {
		if handler := chainHandlers(typed[meta.Type], forward); handler != nil {
			m.RegisterHandler(meta.Type, handler)
		}
	}
}

// chainHandlers runs every non-nil handler in order and stops at the first
// failure.
func chainHandlers(hs ...webhooks.Handler) webhooks.Handler {
	var chain []webhooks.Handler
	for _, h := range hs {
		if h != nil {
			chain = append(chain, h)
		}
	}
	switch len(chain) {
	case 0:
		return nil
	case 1:
		return chain[0]
	}
	return func(ctx context.Context, payload integration.WebhookPayload) error {
		for _, h := range chain {
			if err := h(ctx, payload); err != nil {
				return err
			}
		}
		return nil
	}
}
