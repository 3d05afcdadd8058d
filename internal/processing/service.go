package processing

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/your-org/mediaflow-events/pkg/metrics"
)

// Service turns media job events into client notifications.
// It keeps no state between calls and is safe for concurrent use.
type Service struct {
	emitter     Emitter
	provisioner *Provisioner
	logger      *zap.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
}

type Params struct {
	Emitter Emitter
	Grants  GrantClient
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// NewService constructs a processing Service.
func NewService(p Params) *Service {
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	if p.Metrics == nil {
		p.Metrics = metrics.New(prometheus.NewRegistry())
	}
	return &Service{
		emitter:     p.Emitter,
		provisioner: newProvisioner(p.Grants, p.Emitter, p.Logger, p.Metrics),
		logger:      p.Logger,
		metrics:     p.Metrics,
		tracer:      otel.Tracer("github.com/your-org/mediaflow-events/internal/processing"),
	}
}

// Handle processes one envelope. Unrecognized event types return nil.
// Any other failure is returned wrapped in ErrMalformedEvent, ErrProvisioning
// or ErrFanOut, and in that case no partial notification was sent.
func (s *Service) Handle(ctx context.Context, env Envelope) error {
	kind := Classify(env.EventType)
	if kind == KindUnrecognized {
		s.metrics.EventsProcessed.WithLabelValues(kind.String(), "ignored").Inc()
		s.logger.Debug("ignoring event", zap.String("event_type", env.EventType), zap.String("event_id", env.ID))
		return nil
	}

	ctx, span := s.tracer.Start(ctx, "processing.Handle", trace.WithAttributes(
		attribute.String("event.id", env.ID),
		attribute.String("event.type", env.EventType),
		attribute.String("event.kind", kind.String()),
	))
	defer span.End()

	start := time.Now()
	asset, err := s.dispatch(ctx, kind, env)
	s.metrics.EventDuration.WithLabelValues(kind.String()).Observe(time.Since(start).Seconds())
	if asset != "" {
		span.SetAttributes(attribute.String("media.asset", asset))
	}

	fields := []zap.Field{
		zap.String("event_id", env.ID),
		zap.String("event_type", env.EventType),
		zap.String("asset", asset),
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome(kind, err))
		s.metrics.EventsProcessed.WithLabelValues(kind.String(), outcome(kind, err)).Inc()
		s.logger.Error("event processing failed", append(fields, zap.Error(err))...)
		return err
	}

	s.metrics.EventsProcessed.WithLabelValues(kind.String(), outcome(kind, nil)).Inc()
	s.logger.Info("event processed", fields...)
	return nil
}

func (s *Service) dispatch(ctx context.Context, kind Kind, env Envelope) (string, error) {
	switch kind {
	case KindProgressUpdate:
		state, err := ExtractProgress(env.Data)
		if err != nil {
			return "", err
		}
		return state.Name, s.emitState(ctx, state)
	case KindStateChange:
		state, err := ExtractStateChange(env.Data)
		if err != nil {
			return "", err
		}
		return state.Name, s.emitState(ctx, state)
	case KindJobFinished:
		asset, err := ExtractFinished(env.Data)
		if err != nil {
			return "", err
		}
		return asset, s.provisioner.Provision(ctx, asset)
	default:
		return "", nil
	}
}

func (s *Service) emitState(ctx context.Context, state AssetState) error {
	n, err := NewStateUpdate(state)
	if err != nil {
		return err
	}
	return emit(ctx, s.emitter, s.metrics, n)
}

func outcome(kind Kind, err error) string {
	switch {
	case err == nil && kind == KindJobFinished:
		return "provisioned"
	case err == nil:
		return "emitted"
	case errors.Is(err, ErrMalformedEvent):
		return "malformed"
	case errors.Is(err, ErrProvisioning):
		return "provisioning_failed"
	case errors.Is(err, ErrFanOut):
		return "fanout_failed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
