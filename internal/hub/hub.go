package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/your-org/mediaflow-events/internal/processing"
	"github.com/your-org/mediaflow-events/pkg/kafka"
	"github.com/your-org/mediaflow-events/pkg/metrics"
)

// ErrStopped is returned by Broadcast once the hub loop has exited.
var ErrStopped = errors.New("hub stopped")

type frame struct {
	target string
	data   []byte
}

// Hub tracks connected clients and broadcasts invocations to all of them.
// Only the RunWithContext goroutine mutates the client set.
type Hub struct {
	clients    map[*Client]struct{}
	broadcast  chan frame
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

func NewHub(logger *zap.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan frame, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
		metrics:    m,
	}
}

// RunWithContext serves register, unregister and broadcast requests until ctx
// ends, then closes every client and returns ctx.Err().
func (h *Hub) RunWithContext(ctx context.Context) error {
	defer close(h.done)
	for {
		// Lifecycle first so a broadcast never races a pending registration.
		select {
		case c := <-h.register:
			h.add(c)
			continue
		case c := <-h.unregister:
			h.remove(c)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			n := h.closeAll()
			h.logger.Info("hub stopped", zap.Int("clients_closed", n))
			return ctx.Err()
		case c := <-h.register:
			h.add(c)
		case c := <-h.unregister:
			h.remove(c)
		case f := <-h.broadcast:
			h.fanOut(f)
		}
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.metrics.HubConnections.Set(float64(n))
	h.logger.Info("client connected", zap.String("connection_id", c.id), zap.Int("clients", n))
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.metrics.HubConnections.Set(float64(n))
		h.logger.Info("client disconnected", zap.String("connection_id", c.id), zap.Int("clients", n))
	}
}

func (h *Hub) fanOut(f frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- f.data:
		default:
			// Send buffer full; the client is too slow to keep.
			delete(h.clients, c)
			close(c.send)
			h.metrics.HubDropped.Inc()
			h.logger.Warn("dropping slow client", zap.String("connection_id", c.id))
		}
	}
	h.metrics.HubConnections.Set(float64(len(h.clients)))
	h.metrics.HubBroadcasts.WithLabelValues(f.target).Inc()
}

func (h *Hub) closeAll() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.clients)
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.metrics.HubConnections.Set(0)
	return n
}

// Register adds a client once its handshake completed. It reports false when
// the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client. Unknown or already dropped clients are ignored.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Broadcast queues an invocation of target on every connected client.
func (h *Hub) Broadcast(ctx context.Context, target string, args []any) error {
	data, err := encodeInvocation(target, args)
	if err != nil {
		return fmt.Errorf("encode %s invocation: %w", target, err)
	}
	select {
	case <-h.done:
		return ErrStopped
	default:
	}
	select {
	case h.broadcast <- frame{target: target, data: data}:
		return nil
	case <-h.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleNotification is the kafka.Handler for the notifications topic.
// Undecodable records are logged and skipped.
func (h *Hub) HandleNotification(ctx context.Context, msg kafka.Message) error {
	var n processing.Notification
	if err := json.Unmarshal(msg.Value, &n); err != nil || n.Target == "" {
		h.logger.Warn("skipping undecodable notification",
			zap.String("topic", msg.Topic),
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
		return nil
	}
	return h.Broadcast(ctx, n.Target, n.Arguments)
}
