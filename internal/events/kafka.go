package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/skillsenselab/scribeflow/internal/logger"
)

// KafkaConfig configures the Kafka trigger bus.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers" mapstructure:"brokers"`
	Topic   string   `yaml:"topic" mapstructure:"topic"`
	GroupID string   `yaml:"group_id" mapstructure:"group_id"`
}

// ApplyDefaults applies default values to Kafka configuration.
func (c *KafkaConfig) ApplyDefaults() {
	if c.Topic == "" {
		c.Topic = "scribeflow.stage-triggers"
	}
	if c.GroupID == "" {
		c.GroupID = "scribeflow-orchestrator"
	}
}

// Validate validates Kafka configuration.
func (c *KafkaConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("kafka: brokers are required")
	}
	return nil
}

// KafkaBus is a Bus backed by a Kafka topic. Triggers are durable across
// process crashes, which is what makes the inter-stage handoff crash-safe
// in multi-instance deployments.
type KafkaBus struct {
	writer *kafkago.Writer
	cfg    KafkaConfig
	log    *logger.Logger
}

// NewKafkaBus creates a Kafka-backed trigger bus.
func NewKafkaBus(cfg KafkaConfig, log *logger.Logger) (*KafkaBus, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	blog := log.WithComponent("events.kafka")

	writer := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
		ErrorLogger: kafkago.LoggerFunc(func(msg string, args ...interface{}) {
			blog.Error("writer: "+msg, map[string]interface{}{
				"args": fmt.Sprintf("%v", args),
			})
		}),
	}

	return &KafkaBus{writer: writer, cfg: cfg, log: blog}, nil
}

// Publish writes the trigger to the topic, keyed by job id so one job's
// triggers stay ordered within a partition.
func (b *KafkaBus) Publish(ctx context.Context, t Trigger) error {
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("events: marshal trigger: %w", err)
	}
	if err := b.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(t.JobID),
		Value: payload,
	}); err != nil {
		return fmt.Errorf("events: publish trigger: %w", err)
	}
	return nil
}

// Run consumes triggers from the topic until ctx is cancelled. Messages
// are committed after the handler returns; a crash mid-handling causes
// redelivery, which the idempotent steps absorb.
func (b *KafkaBus) Run(ctx context.Context, handler Handler) error {
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     b.cfg.Brokers,
		Topic:       b.cfg.Topic,
		GroupID:     b.cfg.GroupID,
		StartOffset: kafkago.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
		ErrorLogger: kafkago.LoggerFunc(func(msg string, args ...interface{}) {
			b.log.Error("reader: "+msg, map[string]interface{}{
				"args": fmt.Sprintf("%v", args),
			})
		}),
	})
	defer reader.Close() //nolint:errcheck

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.log.WithError(err).Error("fetch trigger failed")
			continue
		}

		var t Trigger
		if err := json.Unmarshal(msg.Value, &t); err != nil {
			b.log.WithError(err).Error("malformed trigger skipped", map[string]interface{}{
				"offset": msg.Offset,
			})
			if err := reader.CommitMessages(ctx, msg); err != nil {
				b.log.WithError(err).Error("commit failed")
			}
			continue
		}

		handler(ctx, t)

		// A handler interrupted by shutdown must leave its message
		// uncommitted so the stage is redelivered after restart.
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			b.log.WithError(err).Error("commit failed", map[string]interface{}{
				logger.FieldJobID: t.JobID,
			})
		}
	}
}

// Close releases the producer.
func (b *KafkaBus) Close() error {
	return b.writer.Close()
}
