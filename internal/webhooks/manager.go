// Package webhooks receives inbound webhook deliveries, verifies their
// signatures and dispatches them asynchronously to per-integration handlers.
package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/open-sspm/integration-hub/internal/events"
	"github.com/open-sspm/integration-hub/internal/integration"
	"github.com/open-sspm/integration-hub/internal/metrics"
	"github.com/open-sspm/integration-hub/internal/store"
	"golang.org/x/time/rate"
)

const (
	defaultWorkers        = 4
	defaultQueueSize      = 256
	defaultHandlerTimeout = 30 * time.Second
	maxEventNameBytes     = 200
)

// eventHeaders carry the provider event name, checked in order.
var eventHeaders = []string{
	"X-Event-Type",
	"X-Webhook-Event",
	"X-GitHub-Event",
	"X-WC-Webhook-Topic",
	"X-Event-Name",
}

// Handler processes one verified delivery. Errors and panics are reported as
// webhook:error events and never reach the sender.
type Handler func(ctx context.Context, payload integration.WebhookPayload) error

type Options struct {
	Workers   int
	QueueSize int
	// RateLimit caps accepted deliveries per second for each webhook; zero disables it.
	RateLimit      rate.Limit
	Burst          int
	HandlerTimeout time.Duration
	Observer       events.Observer
	Logger         *slog.Logger
	Now            func() time.Time
}

type job struct {
	payload integration.WebhookPayload
}

// Manager owns webhook registrations and the dispatch worker pool.
type Manager struct {
	connections store.ConnectionStore
	webhooks    store.WebhookStore
	opts        Options
	log         *slog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler

	limMu    sync.Mutex
	limiters map[string]*rate.Limiter

	queueMu sync.RWMutex
	queue   chan job
	closed  bool
	wg      sync.WaitGroup
	start   sync.Once
}

func NewManager(st store.Store, opts Options) *Manager {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = defaultHandlerTimeout
	}
	if opts.Burst <= 0 {
		opts.Burst = max(1, int(opts.RateLimit))
	}
	if opts.Observer == nil {
		opts.Observer = events.Nop
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		connections: st,
		webhooks:    st,
		opts:        opts,
		log:         opts.Logger.With("component", "webhooks"),
		handlers:    make(map[string]Handler),
		limiters:    make(map[string]*rate.Limiter),
		queue:       make(chan job, opts.QueueSize),
	}
}

// RegisterHandler routes deliveries for integrationType to h. A later
// registration replaces the earlier one.
func (m *Manager) RegisterHandler(integrationType string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[integration.NormalizeType(integrationType)] = h
}

func (m *Manager) handler(integrationType string) (Handler, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.handlers[integration.NormalizeType(integrationType)]
	return h, ok && h != nil
}

// Start launches the dispatch workers. Workers stop when ctx is done or
// after Shutdown drained the queue.
func (m *Manager) Start(ctx context.Context) {
	m.start.Do(func() {
		for range m.opts.Workers {
			m.wg.Add(1)
			go func() {
				defer m.wg.Done()
				m.work(ctx)
			}()
		}
	})
}

// Shutdown stops accepting deliveries and waits for queued ones to be
// dispatched, or for ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.queueMu.Lock()
	if !m.closed {
		m.closed = true
		close(m.queue)
	}
	m.queueMu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return integration.Canceled("shutdown webhooks", ctx.Err())
	}
}

// RegisterWebhook stores a webhook endpoint for an existing connection.
func (m *Manager) RegisterWebhook(ctx context.Context, connectionID string, cfg integration.WebhookConfig) (integration.WebhookConfig, error) {
	const op = "register webhook"
	if _, err := m.connections.Get(ctx, connectionID); err != nil {
		return integration.WebhookConfig{}, err
	}
	cfg.ConnectionID = connectionID
	cfg.URL = strings.TrimSpace(cfg.URL)
	if err := validateWebhookURL(cfg.URL); err != nil {
		return integration.WebhookConfig{}, integration.Wrap(integration.KindValidation, op, err)
	}
	cfg.Events = normalizeEvents(cfg.Events)
	cfg.Active = true
	created, err := m.webhooks.CreateWebhook(ctx, cfg)
	if err != nil {
		return integration.WebhookConfig{}, err
	}
	m.log.InfoContext(ctx, "webhook registered",
		"webhook_id", created.ID,
		"connection_id", connectionID,
		"events", len(created.Events),
		"signed", created.HasSecret(),
	)
	return created, nil
}

func (m *Manager) PauseWebhook(ctx context.Context, webhookID string) (integration.WebhookConfig, error) {
	return m.webhooks.SetWebhookActive(ctx, webhookID, false)
}

func (m *Manager) ResumeWebhook(ctx context.Context, webhookID string) (integration.WebhookConfig, error) {
	return m.webhooks.SetWebhookActive(ctx, webhookID, true)
}

func (m *Manager) UnregisterWebhook(ctx context.Context, webhookID string) error {
	if err := m.webhooks.DeleteWebhook(ctx, webhookID); err != nil {
		return err
	}
	m.limMu.Lock()
	delete(m.limiters, webhookID)
	m.limMu.Unlock()
	return nil
}

// ListWebhooks returns the webhooks of an existing connection.
func (m *Manager) ListWebhooks(ctx context.Context, connectionID string) ([]integration.WebhookConfig, error) {
	if _, err := m.connections.Get(ctx, connectionID); err != nil {
		return nil, err
	}
	return m.webhooks.ListWebhooks(ctx, connectionID)
}

// HandleIncoming verifies one delivery and queues it for dispatch. It returns
// once the payload is queued; handler outcomes are reported as events.
func (m *Manager) HandleIncoming(ctx context.Context, webhookID string, headers http.Header, body []byte) error {
	const op = "handle webhook"

	cfg, err := m.webhooks.GetWebhook(ctx, webhookID)
	if err != nil {
		if errors.Is(err, integration.ErrNotFound) {
			metrics.WebhookRejectedTotal.WithLabelValues("not_found").Inc()
		}
		return err
	}
	if !cfg.Active {
		metrics.WebhookRejectedTotal.WithLabelValues("inactive").Inc()
		return integration.New(integration.KindValidation, op, "webhook is paused")
	}
	signature, hasSignature := SignatureFromHeaders(headers)
	if cfg.HasSecret() {
		if !hasSignature {
			metrics.WebhookRejectedTotal.WithLabelValues("signature").Inc()
			return signatureInvalid("signature header missing")
		}
		if err := VerifySignature(cfg.Secret, body, signature); err != nil {
			metrics.WebhookRejectedTotal.WithLabelValues("signature").Inc()
			m.log.WarnContext(ctx, "webhook signature rejected", "webhook_id", webhookID, "err", err)
			return err
		}
	}
	// Only verified deliveries spend the webhook's budget.
	if !m.allow(webhookID) {
		metrics.WebhookRejectedTotal.WithLabelValues("rate_limited").Inc()
		return integration.RateLimited(op, 1)
	}

	conn, err := m.connections.Get(ctx, cfg.ConnectionID)
	if err != nil {
		return err
	}

	payload := integration.WebhookPayload{
		WebhookID:       cfg.ID,
		ConnectionID:    conn.ID,
		PropertyID:      conn.PropertyID,
		IntegrationType: conn.IntegrationType,
		Event:           EventName(headers, body),
		Body:            body,
		Headers:         headers.Clone(),
		ReceivedAt:      m.opts.Now().UTC(),
		Signature:       signature,
	}
	m.emit(ctx, events.WebhookReceived, payload, nil)

	if !cfg.Subscribes(payload.Event) {
		m.emit(ctx, events.WebhookIgnored, payload, nil)
		return nil
	}
	return m.enqueue(payload)
}

func (m *Manager) enqueue(payload integration.WebhookPayload) error {
	const op = "handle webhook"
	m.queueMu.RLock()
	defer m.queueMu.RUnlock()
	if m.closed {
		return integration.New(integration.KindUnavailable, op, "webhook dispatcher is shut down")
	}
	select {
	case m.queue <- job{payload: payload}:
		metrics.WebhookQueueDepth.Set(float64(len(m.queue)))
		return nil
	default:
		metrics.WebhookRejectedTotal.WithLabelValues("queue_full").Inc()
		return integration.New(integration.KindUnavailable, op, "webhook queue is full")
	}
}

func (m *Manager) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-m.queue:
			if !ok {
				return
			}
			metrics.WebhookQueueDepth.Set(float64(len(m.queue)))
			m.dispatch(ctx, j.payload)
		}
	}
}

func (m *Manager) dispatch(ctx context.Context, payload integration.WebhookPayload) {
	h, ok := m.handler(payload.IntegrationType)
	if !ok {
		m.emit(ctx, events.WebhookError, payload,
			fmt.Errorf("no handler registered for integration %q", payload.IntegrationType))
		return
	}

	hctx, cancel := context.WithTimeout(ctx, m.opts.HandlerTimeout)
	defer cancel()
	start := time.Now()
	err := safeCall(hctx, h, payload)
	metrics.WebhookDispatchDuration.WithLabelValues(payload.IntegrationType).Observe(time.Since(start).Seconds())
	if err != nil {
		m.log.WarnContext(ctx, "webhook handler failed",
			"webhook_id", payload.WebhookID,
			"integration", payload.IntegrationType,
			"event", payload.Event,
			"err", err,
		)
		m.emit(ctx, events.WebhookError, payload, err)
		return
	}
	m.emit(ctx, events.WebhookProcessed, payload, nil)
}

func safeCall(ctx context.Context, h Handler, payload integration.WebhookPayload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("webhook handler panic: %v", r)
		}
	}()
	return h(ctx, payload)
}

func (m *Manager) allow(webhookID string) bool {
	if m.opts.RateLimit <= 0 {
		return true
	}
	m.limMu.Lock()
	lim, ok := m.limiters[webhookID]
	if !ok {
		lim = rate.NewLimiter(m.opts.RateLimit, m.opts.Burst)
		m.limiters[webhookID] = lim
	}
	m.limMu.Unlock()
	return lim.Allow()
}

func (m *Manager) emit(ctx context.Context, typ events.Type, payload integration.WebhookPayload, err error) {
	p := payload
	events.Emit(ctx, m.opts.Observer, events.Event{
		Type:            typ,
		ConnectionID:    payload.ConnectionID,
		PropertyID:      payload.PropertyID,
		IntegrationType: payload.IntegrationType,
		WebhookID:       payload.WebhookID,
		Name:            payload.Event,
		Err:             err,
		Payload:         &p,
	})
}

// EventName extracts the provider event name from well-known headers, then
// from an "event", "type" or "event_type" field of a JSON object body.
func EventName(headers http.Header, body []byte) string {
	for _, name := range eventHeaders {
		if v := strings.TrimSpace(headers.Get(name)); v != "" {
			return truncate(v)
		}
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return ""
	}
	for _, key := range []string{"event", "type", "event_type"} {
		raw, ok := doc[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && strings.TrimSpace(s) != "" {
			return truncate(strings.TrimSpace(s))
		}
	}
	return ""
}

func truncate(s string) string {
	if len(s) > maxEventNameBytes {
		cut := maxEventNameBytes
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		return s[:cut]
	}
	return s
}

func normalizeEvents(in []string) []string {
	out := make([]string, 0, len(in))
	for _, e := range in {
		e = strings.TrimSpace(e)
		if e == "" || slices.Contains(out, e) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func validateWebhookURL(raw string) error {
	if raw == "" {
		return errors.New("webhook url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("webhook url: %w", err)
	}
	if (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return errors.New("webhook url must be an absolute http(s) URL")
	}
	return nil
}
