// Package refresher proactively refreshes OAuth2 tokens that are about to
// expire, so request paths rarely pay for a refresh.
package refresher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/open-sspm/integration-hub/internal/connectors/registry"
	"github.com/open-sspm/integration-hub/internal/integration"
	"github.com/open-sspm/integration-hub/internal/metrics"
	"github.com/open-sspm/integration-hub/internal/store"
)

const (
	defaultWindow    = 10 * time.Minute
	defaultWorkers   = 4
	defaultBatchSize = 500

	StatusRefreshed = "refreshed"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

type Options struct {
	// Window selects tokens expiring within this duration from now.
	Window  time.Duration
	Workers int
	// BatchSize is the page size used to list due connections.
	BatchSize int
	Logger    *slog.Logger
	Now       func() time.Time
}

// Refresher sweeps the store for expiring tokens and refreshes them through
// the registered connectors.
type Refresher struct {
	store    store.ConnectionStore
	registry *registry.ConnectorRegistry
	opts     Options
	log      *slog.Logger
}

// Outcome is the result for one connection of a sweep.
type Outcome struct {
	ConnectionID    string
	IntegrationType string
	Status          string
	Err             error
}

type Summary struct {
	Due       int
	Refreshed int
	Failed    int
	Skipped   int
	Duration  time.Duration
	Outcomes  []Outcome
}

func New(st store.ConnectionStore, reg *registry.ConnectorRegistry, opts Options) (*Refresher, error) {
	if st == nil || reg == nil {
		return nil, errors.New("refresher: store and registry are required")
	}
	if opts.Window <= 0 {
		opts.Window = defaultWindow
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Refresher{store: st, registry: reg, opts: opts, log: opts.Logger}, nil
}

// RunOnce refreshes every connection whose token expires within the window
// and still has a refresh token. Individual failures do not stop the sweep;
// they are joined into the returned error.
func (r *Refresher) RunOnce(ctx context.Context) (Summary, error) {
	started := r.opts.Now()
	cutoff := started.Add(r.opts.Window)

	due, err := r.findDue(ctx, cutoff)
	if err != nil {
		return Summary{}, fmt.Errorf("find expiring connections: %w", err)
	}

	outcomes := collect(ctx, due, r.opts.Workers, r.refreshOne, nil)

	summary := Summary{Due: len(due)}
	var errs []error
	for _, o := range outcomes {
		if o.ConnectionID == "" {
			continue
		}
		summary.Outcomes = append(summary.Outcomes, o)
		metrics.RefreshSweepConnections.WithLabelValues(o.IntegrationType, o.Status).Inc()
		switch o.Status {
		case StatusRefreshed:
			summary.Refreshed++
		case StatusSkipped:
			summary.Skipped++
		case StatusFailed:
			summary.Failed++
			errs = append(errs, fmt.Errorf("connection %s: %w", o.ConnectionID, o.Err))
		}
	}
	summary.Duration = r.opts.Now().Sub(started)
	metrics.RefreshSweepDuration.Observe(summary.Duration.Seconds())

	if err := ctx.Err(); err != nil {
		return summary, integration.Canceled("refresh sweep", err)
	}
	if len(errs) > 0 {
		return summary, fmt.Errorf("%d of %d token refreshes failed: %w", summary.Failed, summary.Due, errors.Join(errs...))
	}
	metrics.RefreshLastSuccessTimestamp.Set(float64(r.opts.Now().Unix()))
	return summary, nil
}

// findDue pages through every due connection before any refresh runs.
// Connections that keep failing stay due, so a single page would hide the
// rows after them.
func (r *Refresher) findDue(ctx context.Context, cutoff time.Time) ([]integration.Connection, error) {
	var (
		due  []integration.Connection
		seen = make(map[string]struct{})
	)
	for offset := 0; ; {
		page, err := r.store.Find(ctx, store.Criteria{
			ExpiringBefore:  &cutoff,
			HasRefreshToken: true,
			Limit:           r.opts.BatchSize,
			Offset:          offset,
		})
		if err != nil {
			return nil, err
		}
		for _, conn := range page {
			if _, ok := seen[conn.ID]; ok {
				continue
			}
			seen[conn.ID] = struct{}{}
			due = append(due, conn)
		}
		if len(page) < r.opts.BatchSize {
			return due, nil
		}
		offset += len(page)
	}
}

func (r *Refresher) refreshOne(ctx context.Context, conn integration.Connection) Outcome {
	out := Outcome{ConnectionID: conn.ID, IntegrationType: conn.IntegrationType}
	if conn.Status == integration.StatusRevoked {
		out.Status = StatusSkipped
		return out
	}

	cn, err := r.registry.Create(ctx, conn.IntegrationType, conn, r.store)
	if err != nil {
		if errors.Is(err, integration.ErrUnknownIntegration) {
			r.log.WarnContext(ctx, "skipping refresh for unregistered integration",
				"connection_id", conn.ID, "integration", conn.IntegrationType)
			out.Status = StatusSkipped
			return out
		}
		out.Status, out.Err = StatusFailed, err
		return out
	}
	if cn.AuthMethod() != integration.AuthMethodOAuth2 {
		out.Status = StatusSkipped
		return out
	}

	if err := cn.RefreshToken(ctx); err != nil {
		r.log.WarnContext(ctx, "proactive token refresh failed",
			"connection_id", conn.ID, "integration", conn.IntegrationType, "err", err)
		out.Status, out.Err = StatusFailed, err
		return out
	}
	out.Status = StatusRefreshed
	return out
}
