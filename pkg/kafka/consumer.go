package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Message is a fetched Kafka record handed to a Handler.
type Message struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Time      time.Time
}

// Handler processes one message. A nil return commits the message;
// an error stops the consumer and leaves the message for redelivery.
type Handler func(ctx context.Context, msg Message) error

type ConsumerConfig struct {
	Brokers     []string
	Topic       string
	GroupID     string
	StartOffset int64
	MinBytes    int
	MaxBytes    int
	MaxWait     time.Duration
}

type reader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Consumer reads a topic as part of a consumer group and commits
// each message only after its handler succeeded.
type Consumer struct {
	reader reader
	topic  string
	logger *zap.Logger
}

// NewConsumer constructs a Consumer for cfg.Topic.
func NewConsumer(cfg ConsumerConfig, logger *zap.Logger) *Consumer {
	if cfg.MinBytes == 0 {
		cfg.MinBytes = 1
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = 10 << 20
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = 500 * time.Millisecond
	}
	if cfg.StartOffset == 0 {
		cfg.StartOffset = kafkago.FirstOffset
	}

	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		StartOffset: cfg.StartOffset,
		MinBytes:    cfg.MinBytes,
		MaxBytes:    cfg.MaxBytes,
		MaxWait:     cfg.MaxWait,
	})
	return &Consumer{reader: r, topic: cfg.Topic, logger: logger}
}

// Run fetches messages until ctx is cancelled or a handler fails.
// Cancellation is a clean stop and returns nil.
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	for {
		raw, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("fetch from %s: %w", c.topic, err)
		}

		msg := fromKafka(raw)
		if err := handler(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("handle %s/%d@%d: %w", msg.Topic, msg.Partition, msg.Offset, err)
		}

		if err := c.reader.CommitMessages(ctx, raw); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("commit failed, message may be redelivered",
				zap.String("topic", msg.Topic),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		}
	}
}

// Close leaves the consumer group and releases the connection.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

func fromKafka(m kafkago.Message) Message {
	headers := make(map[string]string, len(m.Headers))
	for _, h := range m.Headers {
		headers[h.Key] = string(h.Value)
	}
	return Message{
		Key:       m.Key,
		Value:     m.Value,
		Headers:   headers,
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Time:      m.Time,
	}
}
