package processing

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
)

// Client-side method names invoked through the fan-out channel.
const (
	TargetUpdateProgress = "UpdateProgress"
	TargetRefresh        = "Refresh"
)

// Notification is one (target, arguments) pair for the fan-out channel.
// Asset only routes the message and is not part of the payload.
type Notification struct {
	Target    string `json:"target"`
	Arguments []any  `json:"arguments"`
	Asset     string `json:"-"`
}

// Emitter hands a notification to the fan-out channel. One call, one message.
type Emitter interface {
	Emit(ctx context.Context, n Notification) error
}

// NewStateUpdate wraps a snapshot into an UpdateProgress notification whose
// single argument is the serialized snapshot.
func NewStateUpdate(s AssetState) (Notification, error) {
	if err := s.Validate(); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	payload, err := s.Serialize()
	if err != nil {
		return Notification{}, err
	}
	return Notification{
		Target:    TargetUpdateProgress,
		Arguments: []any{payload},
		Asset:     s.Name,
	}, nil
}

// NewRefresh builds the parameterless refresh signal.
func NewRefresh(asset string) Notification {
	return Notification{
		Target:    TargetRefresh,
		Arguments: []any{},
		Asset:     asset,
	}
}

// Publisher is the broker surface BrokerEmitter writes to.
type Publisher interface {
	Publish(ctx context.Context, key []byte, value []byte, headers map[string]string) error
}

// BrokerEmitter publishes notifications to the topic the hub consumes,
// keyed by asset so updates for one asset stay on one partition.
type BrokerEmitter struct {
	publisher Publisher
}

func NewBrokerEmitter(p Publisher) *BrokerEmitter {
	return &BrokerEmitter{publisher: p}
}

func (e *BrokerEmitter) Emit(ctx context.Context, n Notification) error {
	if n.Arguments == nil {
		n.Arguments = []any{}
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal %s notification: %w", n.Target, err)
	}

	headers := map[string]string{"target": n.Target}
	if n.Asset != "" {
		headers["asset"] = n.Asset
	}
	if err := e.publisher.Publish(ctx, []byte(n.Asset), payload, headers); err != nil {
		return fmt.Errorf("publish %s notification: %w", n.Target, err)
	}
	return nil
}
