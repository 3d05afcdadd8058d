package processing

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/your-org/mediaflow-events/pkg/mediaservices"
	"github.com/your-org/mediaflow-events/pkg/metrics"
)

// GrantClient creates streaming locators on the media services account.
type GrantClient interface {
	CreateStreamingLocator(ctx context.Context, name string, props mediaservices.StreamingLocatorProperties) (*mediaservices.StreamingLocator, error)
}

// Provisioner makes a finished asset playable and tells clients to refresh.
type Provisioner struct {
	grants  GrantClient
	emitter Emitter
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func newProvisioner(grants GrantClient, emitter Emitter, logger *zap.Logger, m *metrics.Metrics) *Provisioner {
	return &Provisioner{grants: grants, emitter: emitter, logger: logger, metrics: m}
}

// Provision creates a clear-streaming locator named after the asset and then
// emits Refresh. A failed call is returned as ErrProvisioning and nothing is emitted.
// The call is made even if a locator may already exist; a conflict is a failure.
func (p *Provisioner) Provision(ctx context.Context, assetName string) error {
	locator, err := p.grants.CreateStreamingLocator(ctx, assetName, mediaservices.StreamingLocatorProperties{
		AssetName:           assetName,
		StreamingPolicyName: mediaservices.PolicyClearStreamingOnly,
	})
	if err != nil {
		p.metrics.GrantRequests.WithLabelValues("failed").Inc()
		return fmt.Errorf("%w: create streaming locator for %s: %w", ErrProvisioning, assetName, err)
	}
	p.metrics.GrantRequests.WithLabelValues("created").Inc()

	fields := []zap.Field{zap.String("asset", assetName)}
	if locator != nil && locator.Properties.StreamingLocatorID != "" {
		fields = append(fields, zap.String("locator_id", locator.Properties.StreamingLocatorID))
	}
	p.logger.Info("streaming locator created", fields...)

	return emit(ctx, p.emitter, p.metrics, NewRefresh(assetName))
}

// emit sends n unless ctx has already ended, so an aborted invocation never
// produces a notification.
func emit(ctx context.Context, e Emitter, m *metrics.Metrics, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.Emit(ctx, n); err != nil {
		return fmt.Errorf("%w: %w", ErrFanOut, err)
	}
	m.NotificationsEmitted.WithLabelValues(n.Target).Inc()
	return nil
}
