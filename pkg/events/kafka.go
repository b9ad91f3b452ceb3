package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/speedrun-hq/intentmesh/pkg/logger"
)

const (
	// DefaultKafkaTopic receives lifecycle events when no topic is configured
	DefaultKafkaTopic = "intentmesh.intents"

	defaultProduceTimeout = 5 * time.Second
)

// KafkaPublisher produces events as JSON records keyed by intent id
type KafkaPublisher struct {
	client  *kgo.Client
	topic   string
	timeout time.Duration
	logger  logger.Logger
}

// KafkaOption configures a KafkaPublisher
type KafkaOption func(*KafkaPublisher)

// WithTopic sets the topic records are produced to
func WithTopic(topic string) KafkaOption {
	return func(p *KafkaPublisher) {
		if topic != "" {
			p.topic = topic
		}
	}
}

// WithProduceTimeout bounds each synchronous produce
func WithProduceTimeout(timeout time.Duration) KafkaOption {
	return func(p *KafkaPublisher) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

// WithLogger sets the logger used for delivery failures
func WithLogger(l logger.Logger) KafkaOption {
	return func(p *KafkaPublisher) {
		p.logger = l
	}
}

// NewKafkaPublisher connects a producer to the given seed brokers
func NewKafkaPublisher(brokers []string, opts ...KafkaOption) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}

	p := &KafkaPublisher{
		topic:   DefaultKafkaTopic,
		timeout: defaultProduceTimeout,
		logger:  &logger.EmptyLogger{},
	}
	for _, opt := range opts {
		opt(p)
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(p.topic),
		kgo.AllowAutoTopicCreation(),
		kgo.ProducerLinger(0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}
	p.client = client

	return p, nil
}

// Topic returns the topic events are produced to
func (p *KafkaPublisher) Topic() string {
	return p.topic
}

// Ping checks that at least one broker is reachable
func (p *KafkaPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// Publish produces the event and waits for the broker acknowledgement
func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	record := &kgo.Record{
		Key:   []byte(event.Key()),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "type", Value: []byte(event.Type)},
		},
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		p.logger.ErrorWithComponent(logger.Events, "Failed to produce %s for %s: %v", event.Type, event.Key(), err)
		return fmt.Errorf("failed to produce event: %w", err)
	}
	return nil
}

// Close flushes buffered records and closes the client
func (p *KafkaPublisher) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	err := p.client.Flush(ctx)
	p.client.Close()
	return err
}
