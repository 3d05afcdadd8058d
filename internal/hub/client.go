package hub

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 32 * 1024
	sendBuffer     = 256
)

// Client is one websocket connection speaking the JSON hub protocol.
type Client struct {
	id        string
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	keepAlive time.Duration
	timeout   time.Duration
	logger    *zap.Logger
}

func newClient(id string, h *Hub, conn *websocket.Conn, keepAlive, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		id:        id,
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		keepAlive: keepAlive,
		timeout:   timeout,
		logger:    logger.With(zap.String("connection_id", id)),
	}
}

// handshake reads the protocol negotiation record and answers it.
// It runs before the pumps start, so it owns the connection.
func (c *Client) handshake(timeout time.Duration) error {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read handshake: %w", err)
	}

	frames, err := splitFrames(data)
	if err == nil && len(frames) == 0 {
		err = errIncompleteFrame
	}
	if err == nil {
		err = parseHandshake(frames[0])
	}

	resp := handshakeResponse{}
	if err != nil {
		resp.Error = err.Error()
	}
	out, encErr := encodeFrame(resp)
	if encErr != nil {
		return encErr
	}
	if werr := c.write(websocket.TextMessage, out); werr != nil {
		return werr
	}
	return err
}

// readPump consumes client records until the connection ends. A client silent
// for longer than its timeout is disconnected; any record counts as activity.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	timeout := c.timeout
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(timeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("connection closed", zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(timeout))

		frames, _ := splitFrames(data)
		for _, f := range frames {
			var msg inboundMessage
			if err := json.Unmarshal(f, &msg); err != nil {
				c.logger.Debug("ignoring undecodable record", zap.Error(err))
				continue
			}
			if msg.Type == messageClose {
				return
			}
		}
	}
}

// writePump drains the send queue and emits keep-alive pings. A closed queue
// means the hub let go of the client; it is told so before the socket closes.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.keepAlive)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.sendClose()
				return
			}
			if err := c.write(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.TextMessage, pingFrame); err != nil {
				return
			}
		}
	}
}

func (c *Client) sendClose() {
	if frame, err := encodeFrame(closeMessage{Type: messageClose, AllowReconnect: true}); err == nil {
		_ = c.write(websocket.TextMessage, frame)
	}
	_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (c *Client) write(messageType int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

// start runs the pumps; the connection is released when both finish.
func (c *Client) start() {
	go c.writePump()
	go c.readPump()
}
