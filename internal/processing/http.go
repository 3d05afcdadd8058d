package processing

import (
	"bytes"
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// HTTPHandler exposes the Event Grid webhook that pushes media job events.
type HTTPHandler struct {
	handler      EventHandler
	logger       *zap.Logger
	maxBodyBytes int64
	webhookKey   string
	router       chi.Router
}

// NewHTTPHandler constructs the HTTP handler and wires routes.
// An empty webhookKey disables the shared-key check.
func NewHTTPHandler(handler EventHandler, logger *zap.Logger, maxBodyBytes int64, webhookKey string) *HTTPHandler {
	h := &HTTPHandler{
		handler:      handler,
		logger:       logger,
		maxBodyBytes: maxBodyBytes,
		webhookKey:   webhookKey,
	}
	h.buildRouter()
	return h
}

func (h *HTTPHandler) buildRouter() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Minute))

	r.Get("/healthz", h.handleHealth)
	r.Post("/api/v1/events", h.handleEvents)

	h.router = r
}

// Router exposes the configured chi router.
func (h *HTTPHandler) Router() http.Handler {
	return h.router
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (h *HTTPHandler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		writeError(w, http.StatusUnauthorized, "invalid webhook key")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "event batch too large")
			return
		}
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	events, err := decodeBatch(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event batch")
		return
	}

	for _, env := range events {
		if env.EventType != EventTypeSubscriptionValidation {
			continue
		}
		var data SubscriptionValidationData
		if err := json.Unmarshal(env.Data, &data); err != nil || data.ValidationCode == "" {
			writeError(w, http.StatusBadRequest, "invalid subscription validation event")
			return
		}
		h.logger.Info("event subscription validated", zap.String("topic", env.Topic))
		writeJSON(w, http.StatusOK, map[string]string{
			"validationResponse": data.ValidationCode,
		})
		return
	}

	// Every event is handled even after a failure. The batch is answered
	// with the failure most worth redelivering.
	var (
		worst    error
		status   int
		failures int
	)
	for i, env := range events {
		err := h.handler.Handle(r.Context(), env)
		if err == nil {
			continue
		}
		failures++
		code := statusFor(err)
		h.logger.Warn("event delivery rejected",
			zap.String("event_id", env.ID),
			zap.Int("index", i),
			zap.Int("status", code),
			zap.Error(err),
		)
		if worst == nil || retryRank(code) > retryRank(status) {
			worst, status = err, code
		}
	}

	if worst != nil {
		writeJSON(w, status, map[string]any{
			"error":     worst.Error(),
			"failed":    failures,
			"processed": len(events) - failures,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{
		"processed": len(events),
	})
}

func (h *HTTPHandler) authorized(r *http.Request) bool {
	if h.webhookKey == "" {
		return true
	}
	key := r.URL.Query().Get("code")
	if key == "" {
		key = r.Header.Get("X-Webhook-Key")
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(h.webhookKey)) == 1
}

// decodeBatch accepts the Event Grid array form and a bare single event.
func decodeBatch(body []byte) ([]Envelope, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.New("empty body")
	}
	switch trimmed[0] {
	case '[':
		var events []Envelope
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return nil, fmt.Errorf("decode event batch: %w", err)
		}
		return events, nil
	case '{':
		var env Envelope
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		return []Envelope{env}, nil
	default:
		return nil, errors.New("body is not a JSON object or array")
	}
}

// statusFor maps a processing failure to the status that makes Event Grid
// dead-letter (4xx) or redeliver (5xx).
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrMalformedEvent):
		return http.StatusBadRequest
	case errors.Is(err, ErrProvisioning), errors.Is(err, ErrFanOut),
		errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// retryRank orders failure statuses so a redeliverable failure outranks one
// Event Grid would dead-letter.
func retryRank(status int) int {
	switch status {
	case http.StatusServiceUnavailable:
		return 2
	case http.StatusInternalServerError:
		return 1
	default:
		return 0
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{
		"error": msg,
	})
}
