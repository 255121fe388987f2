package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/open-sspm/integration-hub/internal/config"
	"github.com/open-sspm/integration-hub/internal/logging"
	"github.com/open-sspm/integration-hub/internal/refresher"
	"github.com/spf13/cobra"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh every OAuth2 token that is about to expire, then exit.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRefresh()
	},
}

func runRefresh() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, err := buildHub(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer h.Close()

	r, err := refresher.New(h.store, h.registry, refresher.Options{
		Window:  cfg.RefreshWindow,
		Workers: cfg.RefreshWorkers,
		Logger:  logging.Component(h.logger, "refresher"),
	})
	if err != nil {
		return err
	}

	summary, err := r.RunOnce(ctx)
	slog.Info("token refresh complete",
		"due", summary.Due,
		"refreshed", summary.Refreshed,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"duration", summary.Duration,
	)
	if err != nil && summary.Failed > 0 && ctx.Err() == nil {
		// Failed rows keep their tokens and are picked up by the next run.
		return exitWith(exitTempFail, err)
	}
	return err
}
