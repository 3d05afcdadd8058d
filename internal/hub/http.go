package hub

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type HTTPConfig struct {
	HubName           string
	PublicURL         string
	KeepAliveInterval time.Duration
	HandshakeTimeout  time.Duration
	ClientTimeout     time.Duration
	AllowedOrigins    []string
	NegotiateLimit    int
	NegotiateWindow   time.Duration
}

// ClientURL is the address clients connect to, and the audience of their tokens.
func ClientURL(publicURL, hubName string) string {
	return strings.TrimRight(publicURL, "/") + "/client/?hub=" + url.QueryEscape(hubName)
}

type connectionInfo struct {
	URL         string `json:"url"`
	AccessToken string `json:"accessToken"`
}

type availableTransport struct {
	Transport       string   `json:"transport"`
	TransferFormats []string `json:"transferFormats"`
}

type negotiation struct {
	NegotiateVersion    int                  `json:"negotiateVersion"`
	ConnectionID        string               `json:"connectionId"`
	ConnectionToken     string               `json:"connectionToken"`
	AvailableTransports []availableTransport `json:"availableTransports"`
}

// HTTPHandler serves connection negotiation and the websocket endpoint.
type HTTPHandler struct {
	hub      *Hub
	tokens   *TokenIssuer
	cfg      HTTPConfig
	logger   *zap.Logger
	upgrader websocket.Upgrader
	router   chi.Router
}

func NewHTTPHandler(h *Hub, tokens *TokenIssuer, cfg HTTPConfig, logger *zap.Logger) *HTTPHandler {
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = 15 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 15 * time.Second
	}
	if cfg.ClientTimeout <= 0 {
		cfg.ClientTimeout = 2 * cfg.KeepAliveInterval
	}
	handler := &HTTPHandler{
		hub:    h,
		tokens: tokens,
		cfg:    cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
	}
	handler.buildRouter()
	return handler
}

func (h *HTTPHandler) buildRouter() {
	corsOpts := cors.Options{
		AllowedOrigins:   h.cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Requested-With", "X-SignalR-User-Agent"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	if len(corsOpts.AllowedOrigins) == 0 {
		// Credentialed requests need the origin echoed back, not "*".
		corsOpts.AllowOriginFunc = func(*http.Request, string) bool { return true }
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(corsOpts))

	r.Get("/healthz", h.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		if h.cfg.NegotiateLimit > 0 {
			r.Use(httprate.LimitByIP(h.cfg.NegotiateLimit, h.cfg.NegotiateWindow))
		}
		r.Post("/api/negotiate", h.handleNegotiate)
		r.Post("/client/negotiate", h.handleClientNegotiate)
	})

	// Upgraded connections outlive any request timeout.
	r.Get("/client", h.serveWS)
	r.Get("/client/", h.serveWS)

	h.router = r
}

// Router exposes the configured chi router.
func (h *HTTPHandler) Router() http.Handler {
	return h.router
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": h.hub.ClientCount(),
	})
}

// handleNegotiate hands out the client URL and a fresh access token.
func (h *HTTPHandler) handleNegotiate(w http.ResponseWriter, r *http.Request) {
	token, _, err := h.tokens.Issue()
	if err != nil {
		h.logger.Error("issue access token", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "token unavailable")
		return
	}
	writeJSON(w, http.StatusOK, connectionInfo{
		URL:         ClientURL(h.cfg.PublicURL, h.cfg.HubName),
		AccessToken: token,
	})
}

// handleClientNegotiate is the second leg: the client presents its token and
// learns which transports are available.
func (h *HTTPHandler) handleClientNegotiate(w http.ResponseWriter, r *http.Request) {
	if !h.hubMatches(r) {
		writeError(w, http.StatusNotFound, "unknown hub")
		return
	}
	if _, err := h.tokens.Validate(bearerToken(r)); err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, negotiation{
		NegotiateVersion: 1,
		ConnectionID:     uuid.NewString(),
		ConnectionToken:  uuid.NewString(),
		AvailableTransports: []availableTransport{{
			Transport:       "WebSockets",
			TransferFormats: []string{"Text"},
		}},
	})
}

func (h *HTTPHandler) serveWS(w http.ResponseWriter, r *http.Request) {
	if !h.hubMatches(r) {
		writeError(w, http.StatusNotFound, "unknown hub")
		return
	}
	if _, err := h.tokens.Validate(bearerToken(r)); err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		id = uuid.NewString()
	}
	client := newClient(id, h.hub, conn, h.cfg.KeepAliveInterval, h.cfg.ClientTimeout, h.logger)
	if err := client.handshake(h.cfg.HandshakeTimeout); err != nil {
		h.logger.Info("handshake rejected", zap.String("connection_id", id), zap.Error(err))
		_ = conn.Close()
		return
	}
	if !h.hub.Register(client) {
		client.sendClose()
		_ = conn.Close()
		return
	}
	client.start()
}

func (h *HTTPHandler) hubMatches(r *http.Request) bool {
	name := r.URL.Query().Get("hub")
	return name == "" || name == h.cfg.HubName
}

// bearerToken reads the Authorization header, falling back to the
// access_token query parameter browsers use for websockets.
func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("access_token")
}

// originChecker allows any origin when none are configured.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
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
