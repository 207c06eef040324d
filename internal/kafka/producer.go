package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ms-conference-ticketing/internal/logger"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of *kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	Writer MessageWriter
	logger *logger.Logger
}

// NewProducer writes to any topic named on the message, keyed by hash so one
// key always lands on the same partition.
func NewProducer(brokers []string, log *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return &Producer{Writer: writer, logger: log}
}

// NewLogProducer stands in for a broker when Kafka is disabled: messages
// are logged and dropped.
func NewLogProducer(log *logger.Logger) *Producer {
	return &Producer{Writer: logWriter{log: log}, logger: log}
}

type logWriter struct {
	log *logger.Logger
}

func (w logWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		w.log.LogKafka("DROPPED", m.Topic, string(m.Value))
	}
	return nil
}

func (logWriter) Close() error { return nil }

func (p *Producer) Publish(ctx context.Context, topic, key string, value []byte) error {
	p.logger.LogKafka("PUBLISH", topic, fmt.Sprintf("key=%s bytes=%d", key, len(value)))
	err := p.Writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

func (p *Producer) PublishJSON(ctx context.Context, topic, key string, v interface{}) error {
	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", topic, err)
	}
	return p.Publish(ctx, topic, key, value)
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
