package processing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/your-org/mediaflow-events/pkg/kafka"
	"github.com/your-org/mediaflow-events/pkg/metrics"
)

type handlerFunc func(ctx context.Context, env Envelope) error

func (f handlerFunc) Handle(ctx context.Context, env Envelope) error { return f(ctx, env) }

type archivedObject struct {
	key      string
	body     []byte
	metadata map[string]string
}

type fakeArchive struct {
	mu      sync.Mutex
	objects []archivedObject
	err     error
}

func (a *fakeArchive) Put(_ context.Context, key string, reader io.Reader, _ int64, metadata map[string]string) error {
	if a.err != nil {
		return a.err
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.objects = append(a.objects, archivedObject{key: key, body: body, metadata: metadata})
	return nil
}

func (a *fakeArchive) stored() []archivedObject {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]archivedObject(nil), a.objects...)
}

func newTestDelivery(t *testing.T, h EventHandler, archive Archive, maxAttempts int) (*Delivery, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	d := NewDelivery(DeliveryParams{
		Handler:        h,
		Archive:        archive,
		Consumer:       "mediaflow-processor",
		MaxAttempts:    maxAttempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		Logger:         zap.NewNop(),
		Metrics:        m,
	})
	d.now = func() time.Time { return time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC) }
	return d, m
}

func queuedMessage(t *testing.T, env Envelope) kafka.Message {
	t.Helper()
	value, err := json.Marshal(env)
	require.NoError(t, err)
	return kafka.Message{
		Key:       []byte(env.ID),
		Value:     value,
		Topic:     "mediaflow.media-events",
		Partition: 2,
		Offset:    17,
		Time:      time.Date(2026, 10, 18, 9, 29, 0, 0, time.UTC),
	}
}

func TestDeliverySuccessDoesNotArchive(t *testing.T) {
	archive := &fakeArchive{}
	calls := 0
	d, _ := newTestDelivery(t, handlerFunc(func(context.Context, Envelope) error {
		calls++
		return nil
	}), archive, 5)

	err := d.HandleMessage(context.Background(), queuedMessage(t, envelope(EventTypeJobStateChange, `{}`)))
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, archive.stored())
}

func TestDeliveryUndecodableMessageIsDeadLettered(t *testing.T) {
	archive := &fakeArchive{}
	called := false
	d, m := newTestDelivery(t, handlerFunc(func(context.Context, Envelope) error {
		called = true
		return nil
	}), archive, 5)

	msg := kafka.Message{Value: []byte("not json"), Topic: "mediaflow.media-events", Partition: 0, Offset: 3}
	require.NoError(t, d.HandleMessage(context.Background(), msg))
	assert.False(t, called)

	stored := archive.stored()
	require.Len(t, stored, 1)
	assert.Equal(t, "malformed", stored[0].metadata["reason"])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeadLetters.WithLabelValues("malformed")))
}

func TestDeliveryMalformedEventIsNotRetried(t *testing.T) {
	archive := &fakeArchive{}
	calls := 0
	d, m := newTestDelivery(t, handlerFunc(func(context.Context, Envelope) error {
		calls++
		return fmt.Errorf("%w: missing data.correlationData", ErrMalformedEvent)
	}), archive, 5)

	require.NoError(t, d.HandleMessage(context.Background(), queuedMessage(t, envelope(EventTypeJobFinished, `{}`))))
	assert.Equal(t, 1, calls)
	assert.Zero(t, testutil.ToFloat64(m.Redeliveries))

	stored := archive.stored()
	require.Len(t, stored, 1)

	var dl kafka.DeadLetter
	require.NoError(t, json.Unmarshal(stored[0].body, &dl))
	assert.Equal(t, 1, dl.Attempts)
	assert.Contains(t, dl.Error, "missing data.correlationData")
}

func TestDeliveryRedeliversTransientFailures(t *testing.T) {
	archive := &fakeArchive{}
	calls := 0
	d, m := newTestDelivery(t, handlerFunc(func(context.Context, Envelope) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("%w: broker unavailable", ErrFanOut)
		}
		return nil
	}), archive, 5)

	require.NoError(t, d.HandleMessage(context.Background(), queuedMessage(t, envelope(EventTypeJobStateChange, `{}`))))
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Redeliveries))
	assert.Empty(t, archive.stored())
}

func TestDeliveryDeadLettersAfterMaxAttempts(t *testing.T) {
	archive := &fakeArchive{}
	calls := 0
	d, m := newTestDelivery(t, handlerFunc(func(context.Context, Envelope) error {
		calls++
		return fmt.Errorf("%w: locator conflict", ErrProvisioning)
	}), archive, 3)

	msg := queuedMessage(t, envelope(EventTypeJobFinished, `{"correlationData":{"assetName":"clip1"}}`))
	require.NoError(t, d.HandleMessage(context.Background(), msg))
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Redeliveries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeadLetters.WithLabelValues("exhausted")))

	stored := archive.stored()
	require.Len(t, stored, 1)
	assert.True(t, strings.HasPrefix(stored[0].key, "deadletter/2026/10/18/mediaflow.media-events-2-17-"), stored[0].key)
	assert.True(t, strings.HasSuffix(stored[0].key, ".json"))
	assert.Equal(t, map[string]string{"reason": "exhausted", "consumer": "mediaflow-processor"}, stored[0].metadata)

	var dl kafka.DeadLetter
	require.NoError(t, json.Unmarshal(stored[0].body, &dl))
	assert.Equal(t, 3, dl.Attempts)
	assert.Equal(t, "mediaflow-processor", dl.Consumer)
	assert.Equal(t, int64(17), dl.Offset)
	assert.Contains(t, dl.Error, "locator conflict")
	assert.Equal(t, time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC), dl.FailedAt)
}

func TestDeliveryArchiveFailureKeepsMessage(t *testing.T) {
	archive := &fakeArchive{err: errors.New("bucket unavailable")}
	d, m := newTestDelivery(t, handlerFunc(func(context.Context, Envelope) error {
		return ErrMalformedEvent
	}), archive, 2)

	err := d.HandleMessage(context.Background(), queuedMessage(t, envelope(EventTypeJobFinished, `{}`)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket unavailable")
	assert.Zero(t, testutil.ToFloat64(m.DeadLetters.WithLabelValues("malformed")))
}

func TestDeliveryWithoutArchiveDropsAfterLogging(t *testing.T) {
	d, m := newTestDelivery(t, handlerFunc(func(context.Context, Envelope) error {
		return ErrMalformedEvent
	}), nil, 2)

	require.NoError(t, d.HandleMessage(context.Background(), queuedMessage(t, envelope(EventTypeJobFinished, `{}`))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeadLetters.WithLabelValues("malformed")))
}

func TestDeliveryCancellationLeavesMessageUncommitted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	archive := &fakeArchive{}
	calls := 0
	d, _ := newTestDelivery(t, handlerFunc(func(ctx context.Context, _ Envelope) error {
		calls++
		cancel()
		return ctx.Err()
	}), archive, 5)

	err := d.HandleMessage(ctx, queuedMessage(t, envelope(EventTypeJobOutputProgress, `{}`)))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
	assert.Empty(t, archive.stored())
}

func TestDeliveryDrivesService(t *testing.T) {
	emitter := &recordingEmitter{}
	svc, _ := newTestService(t, emitter, &fakeGrants{})
	d, _ := newTestDelivery(t, svc, &fakeArchive{}, 3)

	msg := queuedMessage(t, envelope(EventTypeJobOutputProgress, `{"jobCorrelationData":{"assetName":"clip1"},"progress":"42"}`))
	require.NoError(t, d.HandleMessage(context.Background(), msg))

	sent := emitter.notifications()
	require.Len(t, sent, 1)
	assert.Equal(t, []any{`{"Name":"clip1","State":"Processing","Progress":42}`}, sent[0].Arguments)
}

func TestDeliveryAcceptsUnparsableEventTime(t *testing.T) {
	emitter := &recordingEmitter{}
	svc, m := newTestService(t, emitter, &fakeGrants{})
	archive := &fakeArchive{}
	d, dm := newTestDelivery(t, svc, archive, 3)

	for _, raw := range []string{
		`{"id":"1","eventType":"Microsoft.Storage.BlobCreated","eventTime":"","data":{}}`,
		`{"id":"2","eventType":"Microsoft.Media.JobStateChange","eventTime":"yesterday","data":{"correlationData":{"assetName":"clip1"},"state":"Queued"}}`,
	} {
		msg := kafka.Message{Value: []byte(raw), Topic: "mediaflow.media-events", Partition: 0, Offset: 9}
		require.NoError(t, d.HandleMessage(context.Background(), msg), raw)
	}

	assert.Empty(t, archive.stored())
	assert.Equal(t, 0.0, testutil.ToFloat64(dm.DeadLetters.WithLabelValues("malformed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsProcessed.WithLabelValues("unrecognized", "ignored")))
	require.Len(t, emitter.notifications(), 1)
	assert.Equal(t, TargetUpdateProgress, emitter.notifications()[0].Target)
}
