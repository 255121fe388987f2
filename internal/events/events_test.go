package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/open-sspm/integration-hub/internal/integration"
	"github.com/segmentio/kafka-go"
)

type recordingWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestMultiPreservesOrder(t *testing.T) {
	t.Parallel()

	var got []string
	o := Multi(
		ObserverFunc(func(_ context.Context, evt Event) { got = append(got, "a:"+string(evt.Type)) }),
		nil,
		ObserverFunc(func(_ context.Context, evt Event) { got = append(got, "b:"+string(evt.Type)) }),
	)
	Emit(context.Background(), o, Event{Type: AuthCompleted})
	if strings.Join(got, ",") != "a:auth:completed,b:auth:completed" {
		t.Fatalf("delivery order=%v", got)
	}
}

func TestEmitStampsTime(t *testing.T) {
	t.Parallel()

	var evt Event
	Emit(context.Background(), ObserverFunc(func(_ context.Context, e Event) { evt = e }), Event{Type: AuthRevoked})
	if evt.Time.IsZero() {
		t.Fatalf("Emit() did not stamp time")
	}
	Emit(context.Background(), nil, Event{Type: AuthRevoked})
}

func TestLogObserverLevels(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	o := LogObserver(logger)
	o.Observe(context.Background(), Event{Type: AuthFailed, ConnectionID: "c1", Err: errors.New("boom")})

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if line["level"] != "WARN" || line["event"] != "auth:failed" || line["connection_id"] != "c1" {
		t.Fatalf("log line=%v", line)
	}
}

func TestKafkaPublisherObserve(t *testing.T) {
	t.Parallel()

	w := &recordingWriter{}
	p := newPublisher(w, nil, slog.Default(), 8)
	p.Observe(context.Background(), Event{Type: AuthRefreshed, ConnectionID: "c1", IntegrationType: "hubspot"})
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	p.Observe(context.Background(), Event{Type: AuthRevoked, ConnectionID: "c1"})

	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.msgs) != 1 {
		t.Fatalf("messages=%d want 1", len(w.msgs))
	}
	if string(w.msgs[0].Key) != "c1" {
		t.Fatalf("key=%q want c1", w.msgs[0].Key)
	}
	var msg eventMessage
	if err := json.Unmarshal(w.msgs[0].Value, &msg); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if msg.Type != AuthRefreshed || msg.IntegrationType != "hubspot" {
		t.Fatalf("message=%+v", msg)
	}
}

type blockingWriter struct {
	recordingWriter
	release chan struct{}
}

func (w *blockingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	<-w.release
	return w.recordingWriter.WriteMessages(ctx, msgs...)
}

func TestKafkaPublisherObserveDoesNotWaitOnBroker(t *testing.T) {
	t.Parallel()

	w := &blockingWriter{release: make(chan struct{})}
	p := newPublisher(w, nil, slog.Default(), 1)

	returned := make(chan struct{})
	go func() {
		// The stalled writer holds at most one event and the queue one more.
		for range 3 {
			p.Observe(context.Background(), Event{Type: WebhookReceived, ConnectionID: "c1"})
		}
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatalf("Observe() blocked on a stalled broker")
	}

	close(w.release)
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.msgs) == 0 || len(w.msgs) > 2 {
		t.Fatalf("messages=%d want 1 or 2", len(w.msgs))
	}
}

func TestEmitSurvivesPanickingObserver(t *testing.T) {
	t.Parallel()

	var got []Type
	o := Multi(
		ObserverFunc(func(context.Context, Event) { panic("observer bug") }),
		ObserverFunc(func(_ context.Context, evt Event) { got = append(got, evt.Type) }),
	)
	Emit(context.Background(), o, Event{Type: WebhookError})
	Emit(context.Background(), ObserverFunc(func(context.Context, Event) { panic("alone") }), Event{Type: WebhookError})
	if len(got) != 1 || got[0] != WebhookError {
		t.Fatalf("events after panic=%v want [webhook:error]", got)
	}
}

func TestKafkaPublisherForward(t *testing.T) {
	t.Parallel()

	w := &recordingWriter{}
	p := &KafkaPublisher{webhooks: w, logger: slog.Default()}
	err := p.Forward(context.Background(), integration.WebhookPayload{
		WebhookID:       "w1",
		ConnectionID:    "c1",
		IntegrationType: "hubspot",
		Event:           "contact.created",
		Body:            []byte(`{"event":"contact.created"}`),
	})
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	if len(w.msgs) != 1 || len(w.msgs[0].Headers) != 3 {
		t.Fatalf("messages=%+v want one with three headers", w.msgs)
	}

	w.err = errors.New("broker down")
	if err := p.Forward(context.Background(), integration.WebhookPayload{ConnectionID: "c1"}); err == nil {
		t.Fatalf("Forward() error = nil want failure")
	}

	if err := (&KafkaPublisher{}).Forward(context.Background(), integration.WebhookPayload{}); err == nil {
		t.Fatalf("Forward() without topic error = nil want failure")
	}
}

func TestParseBrokers(t *testing.T) {
	t.Parallel()

	got := ParseBrokers(" a:9092, ,b:9092 ")
	if strings.Join(got, ",") != "a:9092,b:9092" {
		t.Fatalf("ParseBrokers()=%v", got)
	}
}
