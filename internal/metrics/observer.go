package metrics

import (
	"context"
	"strings"

	"github.com/open-sspm/integration-hub/internal/events"
)

// Observer counts lifecycle events.
func Observer() events.Observer {
	return events.ObserverFunc(func(_ context.Context, evt events.Event) {
		integration := evt.IntegrationType
		if integration == "" {
			integration = "unknown"
		}
		switch {
		case strings.HasPrefix(string(evt.Type), "auth:"):
			AuthEventsTotal.WithLabelValues(integration, string(evt.Type)).Inc()
		case strings.HasPrefix(string(evt.Type), "webhook:"):
			WebhookEventsTotal.WithLabelValues(integration, string(evt.Type)).Inc()
		}
	})
}
