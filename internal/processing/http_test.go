package processing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func postEvents(t *testing.T, h http.Handler, target, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func newWebhook(t *testing.T, handler EventHandler, key string) http.Handler {
	t.Helper()
	return NewHTTPHandler(handler, zap.NewNop(), 1<<20, key).Router()
}

func TestWebhookSubscriptionValidation(t *testing.T) {
	called := false
	h := newWebhook(t, handlerFunc(func(context.Context, Envelope) error {
		called = true
		return nil
	}), "")

	body := `[{"id":"v1","topic":"/subscriptions/s","subject":"","eventType":"Microsoft.EventGrid.SubscriptionValidationEvent",
		"eventTime":"2026-10-18T09:00:00Z","data":{"validationCode":"512d38b6-c7b8-40c8-89fe-f46f9e9622b6","validationUrl":"https://example.invalid/validate"},"dataVersion":"1"}]`
	rec := postEvents(t, h, "/api/v1/events", body, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "512d38b6-c7b8-40c8-89fe-f46f9e9622b6", decodeBody(t, rec)["validationResponse"])
	assert.False(t, called)
}

func TestWebhookSubscriptionValidationWithoutCode(t *testing.T) {
	h := newWebhook(t, handlerFunc(func(context.Context, Envelope) error { return nil }), "")

	rec := postEvents(t, h, "/api/v1/events",
		`[{"id":"v1","eventType":"Microsoft.EventGrid.SubscriptionValidationEvent","data":{}}]`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookDeliversBatchToService(t *testing.T) {
	emitter := &recordingEmitter{}
	grants := &fakeGrants{}
	svc, _ := newTestService(t, emitter, grants)
	h := newWebhook(t, svc, "")

	body := `[
		{"id":"1","subject":"j","eventType":"Microsoft.Media.JobOutputProgress","eventTime":"2026-10-18T09:00:00Z","data":{"jobCorrelationData":{"assetName":"clip1"},"progress":"42"}},
		{"id":"2","subject":"j","eventType":"Microsoft.Media.JobScheduled","eventTime":"2026-10-18T09:00:01Z","data":{}},
		{"id":"3","subject":"j","eventType":"Microsoft.Media.JobFinished","eventTime":"2026-10-18T09:00:02Z","data":{"correlationData":{"assetName":"clip1"}}}
	]`
	rec := postEvents(t, h, "/api/v1/events", body, nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 3.0, decodeBody(t, rec)["processed"])

	sent := emitter.notifications()
	require.Len(t, sent, 2)
	assert.Equal(t, TargetUpdateProgress, sent[0].Target)
	assert.Equal(t, TargetRefresh, sent[1].Target)
	assert.Len(t, grants.recorded(), 1)
}

func TestWebhookAcceptsSingleEvent(t *testing.T) {
	emitter := &recordingEmitter{}
	svc, _ := newTestService(t, emitter, &fakeGrants{})
	h := newWebhook(t, svc, "")

	rec := postEvents(t, h, "/api/v1/events",
		`{"id":"1","eventType":"Microsoft.Media.JobStateChange","data":{"correlationData":{"assetName":"clip1"},"state":"Queued"}}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, decodeBody(t, rec)["processed"])
	assert.Len(t, emitter.notifications(), 1)
}

func TestWebhookStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"malformed", ErrMalformedEvent, http.StatusBadRequest},
		{"provisioning", ErrProvisioning, http.StatusServiceUnavailable},
		{"fan-out", ErrFanOut, http.StatusServiceUnavailable},
		{"deadline", context.DeadlineExceeded, http.StatusServiceUnavailable},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newWebhook(t, handlerFunc(func(context.Context, Envelope) error { return tc.err }), "")
			rec := postEvents(t, h, "/api/v1/events", `[{"id":"1","eventType":"Microsoft.Media.JobFinished","data":{}}]`, nil)

			assert.Equal(t, tc.want, rec.Code)
			assert.NotEmpty(t, decodeBody(t, rec)["error"])
		})
	}
}

func TestWebhookHandlesWholeBatchAfterFailure(t *testing.T) {
	var seen []string
	h := newWebhook(t, handlerFunc(func(_ context.Context, env Envelope) error {
		seen = append(seen, env.ID)
		if env.ID == "2" {
			return ErrMalformedEvent
		}
		return nil
	}), "")

	rec := postEvents(t, h, "/api/v1/events",
		`[{"id":"1","eventType":"a","data":{}},{"id":"2","eventType":"b","data":{}},{"id":"3","eventType":"c","data":{}}]`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, []string{"1", "2", "3"}, seen)

	body := decodeBody(t, rec)
	assert.Equal(t, 1.0, body["failed"])
	assert.Equal(t, 2.0, body["processed"])
}

func TestWebhookBatchReportsMostRetryableFailure(t *testing.T) {
	failures := map[string]error{
		"1": ErrMalformedEvent,
		"2": ErrFanOut,
		"3": errors.New("boom"),
	}
	h := newWebhook(t, handlerFunc(func(_ context.Context, env Envelope) error {
		return failures[env.ID]
	}), "")

	rec := postEvents(t, h, "/api/v1/events",
		`[{"id":"1","eventType":"a","data":{}},{"id":"2","eventType":"b","data":{}},{"id":"3","eventType":"c","data":{}},{"id":"4","eventType":"d","data":{}}]`, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	body := decodeBody(t, rec)
	assert.Contains(t, body["error"], "fan-out")
	assert.Equal(t, 3.0, body["failed"])
	assert.Equal(t, 1.0, body["processed"])
}

func TestWebhookIgnoresEventTimeFormat(t *testing.T) {
	emitter := &recordingEmitter{}
	svc, _ := newTestService(t, emitter, &fakeGrants{})
	h := newWebhook(t, svc, "")

	rec := postEvents(t, h, "/api/v1/events",
		`[{"id":"1","eventType":"Microsoft.Storage.BlobCreated","eventTime":"","data":{}}]`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Empty(t, emitter.notifications())

	rec = postEvents(t, h, "/api/v1/events",
		`[{"id":"2","eventType":"Microsoft.Media.JobStateChange","eventTime":"2024-01-01 10:00:00","data":{"correlationData":{"assetName":"clip1"},"state":"Queued"}}]`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, emitter.notifications(), 1)
	assert.Equal(t, "clip1", emitter.notifications()[0].Asset)
}

func TestWebhookRejectsInvalidBodies(t *testing.T) {
	h := newWebhook(t, handlerFunc(func(context.Context, Envelope) error { return nil }), "")

	for _, body := range []string{``, `   `, `"event"`, `[{"id":`, `42`} {
		rec := postEvents(t, h, "/api/v1/events", body, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestWebhookKey(t *testing.T) {
	h := newWebhook(t, handlerFunc(func(context.Context, Envelope) error { return nil }), "s3cret")
	body := `[]`

	rec := postEvents(t, h, "/api/v1/events", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = postEvents(t, h, "/api/v1/events?code=wrong", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = postEvents(t, h, "/api/v1/events?code=s3cret", body, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = postEvents(t, h, "/api/v1/events", body, map[string]string{"X-Webhook-Key": "s3cret"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookBodyLimit(t *testing.T) {
	h := NewHTTPHandler(handlerFunc(func(context.Context, Envelope) error { return nil }), zap.NewNop(), 64, "").Router()

	body := `[{"id":"1","eventType":"Microsoft.Media.JobFinished","data":{"correlationData":{"assetName":"` +
		strings.Repeat("x", 128) + `"}}}]`
	rec := postEvents(t, h, "/api/v1/events", body, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestWebhookHealth(t *testing.T) {
	h := newWebhook(t, handlerFunc(func(context.Context, Envelope) error { return nil }), "s3cret")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}
