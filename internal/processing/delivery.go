package processing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/your-org/mediaflow-events/pkg/kafka"
	"github.com/your-org/mediaflow-events/pkg/metrics"
)

// EventHandler is the processing entry point shared by every transport.
type EventHandler interface {
	Handle(ctx context.Context, env Envelope) error
}

// Archive stores dead-lettered events.
type Archive interface {
	Put(ctx context.Context, key string, reader io.Reader, size int64, metadata map[string]string) error
}

type DeliveryParams struct {
	Handler        EventHandler
	Archive        Archive
	Consumer       string
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Logger         *zap.Logger
	Metrics        *metrics.Metrics
}

// Delivery applies the queue's redelivery policy around an EventHandler.
// Malformed events are dead-lettered at once. Other failures are redelivered
// in place with exponential backoff and dead-lettered once attempts run out.
type Delivery struct {
	handler        EventHandler
	archive        Archive
	consumer       string
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	logger         *zap.Logger
	metrics        *metrics.Metrics
	now            func() time.Time
}

func NewDelivery(p DeliveryParams) *Delivery {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = 500 * time.Millisecond
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	return &Delivery{
		handler:        p.Handler,
		archive:        p.Archive,
		consumer:       p.Consumer,
		maxAttempts:    p.MaxAttempts,
		initialBackoff: p.InitialBackoff,
		maxBackoff:     p.MaxBackoff,
		logger:         p.Logger,
		metrics:        p.Metrics,
		now:            time.Now,
	}
}

// HandleMessage is a kafka.Handler. It returns nil once the message is done with
// (handled or archived) and an error when it must stay uncommitted.
func (d *Delivery) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var env Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		return d.deadLetter(ctx, msg, fmt.Errorf("%w: decode envelope: %v", ErrMalformedEvent, err), 1, "malformed")
	}

	attempts := 0
	op := func() (struct{}, error) {
		attempts++
		err := d.handler.Handle(ctx, env)
		if err == nil {
			return struct{}{}, nil
		}
		if errors.Is(err, ErrMalformedEvent) || ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = d.initialBackoff
	eb.MaxInterval = d.maxBackoff

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(uint(d.maxAttempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			d.metrics.Redeliveries.Inc()
			d.logger.Warn("redelivering event",
				zap.String("event_id", env.ID),
				zap.Int("attempt", attempts),
				zap.Duration("wait", wait),
				zap.Error(err),
			)
		}),
	)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	reason := "exhausted"
	if errors.Is(err, ErrMalformedEvent) {
		reason = "malformed"
	}
	return d.deadLetter(ctx, msg, err, attempts, reason)
}

func (d *Delivery) deadLetter(ctx context.Context, msg kafka.Message, cause error, attempts int, reason string) error {
	failedAt := d.now().UTC()
	fields := []zap.Field{
		zap.String("topic", msg.Topic),
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
		zap.String("reason", reason),
		zap.Int("attempts", attempts),
		zap.Error(cause),
	}

	if d.archive == nil {
		d.metrics.DeadLetters.WithLabelValues(reason).Inc()
		d.logger.Error("dropping event, no dead-letter archive configured",
			append(fields, zap.ByteString("value", msg.Value))...)
		return nil
	}

	payload, err := kafka.EncodeDeadLetter(msg, cause, attempts, d.consumer, failedAt)
	if err != nil {
		return err
	}

	key := fmt.Sprintf("deadletter/%s/%s-%d-%d-%s.json",
		failedAt.Format("2006/01/02"), msg.Topic, msg.Partition, msg.Offset, uuid.NewString())
	metadata := map[string]string{
		"reason":   reason,
		"consumer": d.consumer,
	}
	if err := d.archive.Put(ctx, key, bytes.NewReader(payload), int64(len(payload)), metadata); err != nil {
		return fmt.Errorf("archive dead letter: %w", err)
	}

	d.metrics.DeadLetters.WithLabelValues(reason).Inc()
	d.logger.Error("event dead-lettered", append(fields, zap.String("object_key", key))...)
	return nil
}
