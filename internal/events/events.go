// Package events delivers connector and webhook lifecycle notifications to
// observers supplied by the caller. Delivery is synchronous and in order. A
// panicking observer is logged and skipped.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/open-sspm/integration-hub/internal/integration"
)

type Type string

const (
	AuthCompleted    Type = "auth:completed"
	AuthRefreshed    Type = "auth:refreshed"
	AuthFailed       Type = "auth:failed"
	AuthRevoked      Type = "auth:revoked"
	WebhookReceived  Type = "webhook:received"
	WebhookProcessed Type = "webhook:processed"
	WebhookIgnored   Type = "webhook:ignored"
	WebhookError     Type = "webhook:error"
)

type Event struct {
	Type            Type
	ConnectionID    string
	PropertyID      string
	IntegrationType string
	WebhookID       string
	// Name is the provider event name of a webhook delivery.
	Name    string
	Time    time.Time
	Err     error
	Payload *integration.WebhookPayload
}

// Observer must not block for long: it runs on the emitting goroutine.
type Observer interface {
	Observe(ctx context.Context, evt Event)
}

type ObserverFunc func(ctx context.Context, evt Event)

func (f ObserverFunc) Observe(ctx context.Context, evt Event) { f(ctx, evt) }

// Nop discards events.
var Nop Observer = ObserverFunc(func(context.Context, Event) {})

type multi []Observer

func (m multi) Observe(ctx context.Context, evt Event) {
	for _, o := range m {
		observe(ctx, o, evt)
	}
}

// Multi fans out to observers in argument order. Nil observers are skipped.
func Multi(observers ...Observer) Observer {
	out := make(multi, 0, len(observers))
	for _, o := range observers {
		if o != nil {
			out = append(out, o)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

// Emit stamps evt and hands it to o. A nil observer is a no-op.
func Emit(ctx context.Context, o Observer, evt Event) {
	if o == nil {
		return
	}
	if evt.Time.IsZero() {
		evt.Time = time.Now().UTC()
	}
	observe(ctx, o, evt)
}

func observe(ctx context.Context, o Observer, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Default().ErrorContext(ctx, "event observer panicked", "event", string(evt.Type), "panic", r)
		}
	}()
	o.Observe(ctx, evt)
}

// LogObserver writes every event to logger. Failures log at warn level.
func LogObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return ObserverFunc(func(ctx context.Context, evt Event) {
		attrs := []any{"event", string(evt.Type)}
		if evt.ConnectionID != "" {
			attrs = append(attrs, "connection_id", evt.ConnectionID)
		}
		if evt.IntegrationType != "" {
			attrs = append(attrs, "integration", evt.IntegrationType)
		}
		if evt.WebhookID != "" {
			attrs = append(attrs, "webhook_id", evt.WebhookID)
		}
		if evt.Name != "" {
			attrs = append(attrs, "webhook_event", evt.Name)
		}
		if evt.Err != nil {
			attrs = append(attrs, "err", evt.Err)
			logger.WarnContext(ctx, "integration event", attrs...)
			return
		}
		logger.InfoContext(ctx, "integration event", attrs...)
	})
}
