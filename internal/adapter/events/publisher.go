// Package events publishes job lifecycle events to Kafka. Delivery is
// best-effort: the orchestration flow never blocks or fails because the
// event stream is down.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/vidforge/vidforge/internal/domain"
)

// Publisher implements domain.EventPublisher on a Kafka topic. One event per
// status transition, keyed by job id so per-job ordering holds.
type Publisher struct {
	client *kgo.Client
	topic  string
}

// NewPublisher connects to the brokers and ensures the topic exists. Topic
// creation races with other instances, so already-exists is tolerated.
func NewPublisher(ctx domain.Context, brokers []string, topic string) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=events.NewPublisher: no seed brokers provided")
	}
	if topic == "" {
		return nil, fmt.Errorf("op=events.NewPublisher: topic name cannot be empty")
	}

	kotelTracer := kotel.NewTracer(
		kotel.TracerProvider(otel.GetTracerProvider()),
	)
	kotelService := kotel.NewKotel(
		kotel.WithTracer(kotelTracer),
	)

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.RequestRetries(10),
		kgo.ProducerBatchMaxBytes(1000000),
		kgo.WithHooks(kotelService.Hooks()...),
	)
	if err != nil {
		return nil, fmt.Errorf("op=events.NewPublisher: %w", err)
	}

	if err := createTopicIfNotExists(ctx, client, topic, 1, 1); err != nil {
		slog.Warn("event topic creation failed, it may already exist",
			slog.String("topic", topic),
			slog.Any("error", err))
	}
	slog.Info("event publisher created", slog.Any("brokers", brokers), slog.String("topic", topic))
	return &Publisher{client: client, topic: topic}, nil
}

// PublishJobEvent emits one lifecycle event. Produce errors are logged and
// swallowed; the job flow must not depend on the stream.
func (p *Publisher) PublishJobEvent(ctx domain.Context, ev domain.JobEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("op=events.publish: %w", err)
	}
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(ev.JobID),
		Value: b,
		Headers: []kgo.RecordHeader{
			{Key: "job_id", Value: []byte(ev.JobID)},
			{Key: "action", Value: []byte(ev.Action)},
		},
	}
	p.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			slog.Warn("job event publish failed",
				slog.String("job_id", ev.JobID),
				slog.String("action", string(ev.Action)),
				slog.Any("error", err))
		}
	})
	return nil
}

// Close flushes and closes the producer.
func (p *Publisher) Close() error {
	if p.client != nil {
		p.client.Close()
	}
	return nil
}
