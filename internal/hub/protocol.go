package hub

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// recordSeparator terminates every frame of the JSON hub protocol.
const recordSeparator = 0x1e

// Hub protocol message types.
const (
	messageInvocation = 1
	messagePing       = 6
	messageClose      = 7
)

const (
	protocolName    = "json"
	protocolVersion = 1
)

var (
	errUnsupportedProtocol = errors.New("unsupported hub protocol")
	errIncompleteFrame     = errors.New("frame is not terminated")
)

type handshakeRequest struct {
	Protocol string `json:"protocol"`
	Version  int    `json:"version"`
}

type handshakeResponse struct {
	Error string `json:"error,omitempty"`
}

type invocationMessage struct {
	Type      int    `json:"type"`
	Target    string `json:"target"`
	Arguments []any  `json:"arguments"`
}

type closeMessage struct {
	Type           int    `json:"type"`
	Error          string `json:"error,omitempty"`
	AllowReconnect bool   `json:"allowReconnect,omitempty"`
}

type inboundMessage struct {
	Type int `json:"type"`
}

var pingFrame = mustFrame(inboundMessage{Type: messagePing})

func mustFrame(v any) []byte {
	b, err := encodeFrame(v)
	if err != nil {
		panic(err)
	}
	return b
}

func encodeFrame(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(b, recordSeparator), nil
}

// encodeInvocation renders a server-to-client call with positional arguments.
func encodeInvocation(target string, args []any) ([]byte, error) {
	if args == nil {
		args = []any{}
	}
	return encodeFrame(invocationMessage{
		Type:      messageInvocation,
		Target:    target,
		Arguments: args,
	})
}

// splitFrames cuts a websocket payload into separator-terminated records.
// A trailing unterminated record is an error.
func splitFrames(data []byte) ([][]byte, error) {
	var frames [][]byte
	for len(data) > 0 {
		i := bytes.IndexByte(data, recordSeparator)
		if i < 0 {
			return frames, errIncompleteFrame
		}
		if i > 0 {
			frames = append(frames, data[:i])
		}
		data = data[i+1:]
	}
	return frames, nil
}

// parseHandshake checks the first record a client sends.
func parseHandshake(frame []byte) error {
	var req handshakeRequest
	if err := json.Unmarshal(frame, &req); err != nil {
		return fmt.Errorf("decode handshake: %w", err)
	}
	if req.Protocol != protocolName || req.Version != protocolVersion {
		return fmt.Errorf("%w: %s v%d", errUnsupportedProtocol, req.Protocol, req.Version)
	}
	return nil
}
