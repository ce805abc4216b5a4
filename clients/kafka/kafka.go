package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"insiderwatch/clients/notifier"
	"insiderwatch/config"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// SuspectPublisher publishes suspect alerts as JSON to a Kafka topic,
// keyed by wallet so one wallet's events stay ordered on a partition.
// Implements notifier.Notifier interface.
type SuspectPublisher struct {
	logger *zap.Logger
	writer messageWriter
	Topic  string
}

// NewSuspectPublisher returns a publisher, or a disabled one when no
// brokers are configured.
func NewSuspectPublisher(logger *zap.Logger, cfg *config.Config) *SuspectPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &SuspectPublisher{logger: logger, Topic: cfg.Kafka.Topic}

	if len(cfg.Kafka.Brokers) == 0 {
		logger.Warn("KAFKA_BROKERS not set, suspect events disabled")
		return p
	}

	p.writer = &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Kafka.Brokers...),
		Topic:                  cfg.Kafka.Topic,
		RequiredAcks:           kafka.RequireAll,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	logger.Info("kafka publisher initialized",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("topic", cfg.Kafka.Topic),
	)
	return p
}

// Enabled reports whether a writer is configured.
func (p *SuspectPublisher) Enabled() bool {
	return p.writer != nil
}

// SendSuspectAlert writes one message for the alert.
func (p *SuspectPublisher) SendSuspectAlert(ctx context.Context, alert notifier.SuspectAlert) error {
	if !p.Enabled() {
		return nil
	}

	value, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal suspect alert: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(alert.TraderAddress),
		Value: value,
		Headers: []kafka.Header{
			{Key: "severity", Value: []byte(alert.Severity)},
			{Key: "change", Value: []byte(alert.Change)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Close closes the underlying Kafka writer.
func (p *SuspectPublisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
