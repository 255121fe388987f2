package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/open-sspm/integration-hub/internal/integration"
	"github.com/segmentio/kafka-go"
)

const (
	publishTimeout = 5 * time.Second
	// eventQueueSize bounds the events buffered ahead of the broker.
	eventQueueSize = 1024
)

// KafkaConfig configures the event and webhook topics.
type KafkaConfig struct {
	Brokers       []string
	EventsTopic   string
	WebhooksTopic string
}

// ParseBrokers splits a comma separated broker list.
func ParseBrokers(raw string) []string {
	var out []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes lifecycle events and forwards verified webhook
// payloads. Keys are connection ids so per-connection order is preserved.
//
// Events are queued and written by a background goroutine, so Observe never
// waits on the broker. When the queue is full the event is dropped and
// logged. Forward writes synchronously.
type KafkaPublisher struct {
	events   messageWriter
	webhooks messageWriter
	logger   *slog.Logger

	queue     chan kafka.Message
	done      chan struct{}
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	closeErr  error
}

func NewKafkaPublisher(cfg KafkaConfig, logger *slog.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	var eventsW, webhooksW messageWriter
	if cfg.EventsTopic != "" {
		eventsW = newWriter(cfg.Brokers, cfg.EventsTopic)
	}
	if cfg.WebhooksTopic != "" {
		webhooksW = newWriter(cfg.Brokers, cfg.WebhooksTopic)
	}
	return newPublisher(eventsW, webhooksW, logger, eventQueueSize), nil
}

func newPublisher(eventsW, webhooksW messageWriter, logger *slog.Logger, queueSize int) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	p := &KafkaPublisher{events: eventsW, webhooks: webhooksW, logger: logger}
	if eventsW != nil {
		if queueSize <= 0 {
			queueSize = eventQueueSize
		}
		p.queue = make(chan kafka.Message, queueSize)
		p.done = make(chan struct{})
		go p.run()
	}
	return p
}

func (p *KafkaPublisher) run() {
	defer close(p.done)
	for msg := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := p.events.WriteMessages(ctx, msg); err != nil {
			p.logger.Error("publish integration event", "type", headerValue(msg, "type"), "err", err)
		}
		cancel()
	}
}

func headerValue(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func newWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              100,
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

type eventMessage struct {
	Type            Type      `json:"type"`
	ConnectionID    string    `json:"connection_id,omitempty"`
	PropertyID      string    `json:"property_id,omitempty"`
	IntegrationType string    `json:"integration_type,omitempty"`
	WebhookID       string    `json:"webhook_id,omitempty"`
	Name            string    `json:"name,omitempty"`
	Error           string    `json:"error,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Observe queues evt for the events topic and returns without waiting on the
// broker. Publish failures are logged, not returned.
func (p *KafkaPublisher) Observe(ctx context.Context, evt Event) {
	if p.events == nil || p.queue == nil {
		return
	}
	msg := eventMessage{
		Type:            evt.Type,
		ConnectionID:    evt.ConnectionID,
		PropertyID:      evt.PropertyID,
		IntegrationType: evt.IntegrationType,
		WebhookID:       evt.WebhookID,
		Name:            evt.Name,
		Timestamp:       evt.Time,
	}
	if evt.Err != nil {
		msg.Error = evt.Err.Error()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		p.logger.ErrorContext(ctx, "marshal integration event", "err", err)
		return
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- kafka.Message{
		Key:   []byte(evt.ConnectionID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(evt.Type)},
			{Key: "integration", Value: []byte(evt.IntegrationType)},
		},
	}:
	default:
		p.logger.WarnContext(ctx, "kafka event queue full; dropping event", "type", string(evt.Type), "connection_id", evt.ConnectionID)
	}
}

// Forward writes a verified webhook payload to the webhooks topic. It is
// shaped as a webhook handler so it can be registered per integration type.
func (p *KafkaPublisher) Forward(ctx context.Context, payload integration.WebhookPayload) error {
	if p.webhooks == nil {
		return errors.New("kafka webhooks topic not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	headers := []kafka.Header{
		{Key: "integration", Value: []byte(payload.IntegrationType)},
		{Key: "webhook_id", Value: []byte(payload.WebhookID)},
	}
	if payload.Event != "" {
		headers = append(headers, kafka.Header{Key: "event", Value: []byte(payload.Event)})
	}
	if err := p.webhooks.WriteMessages(ctx, kafka.Message{
		Key:     []byte(payload.ConnectionID),
		Value:   data,
		Headers: headers,
	}); err != nil {
		return fmt.Errorf("publish webhook payload: %w", err)
	}
	return nil
}

// Close flushes queued events and closes the writers. It is safe to call
// more than once.
func (p *KafkaPublisher) Close() error {
	p.closeOnce.Do(func() {
		if p.queue != nil {
			p.mu.Lock()
			p.closed = true
			close(p.queue)
			p.mu.Unlock()
			<-p.done
		}
		var errs []error
		if p.events != nil {
			errs = append(errs, p.events.Close())
		}
		if p.webhooks != nil {
			errs = append(errs, p.webhooks.Close())
		}
		p.closeErr = errors.Join(errs...)
	})
	return p.closeErr
}
