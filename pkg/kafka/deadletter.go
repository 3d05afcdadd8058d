package kafka

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// DeadLetter captures enough context to replay or inspect a message that was given up on.
type DeadLetter struct {
	Topic       string            `json:"topic"`
	Partition   int               `json:"partition"`
	Offset      int64             `json:"offset"`
	Timestamp   time.Time         `json:"timestamp"`
	KeyBase64   string            `json:"key_base64,omitempty"`
	ValueBase64 string            `json:"value_base64"`
	Headers     map[string]string `json:"headers,omitempty"`
	Error       string            `json:"error"`
	Attempts    int               `json:"attempts"`
	Consumer    string            `json:"consumer"`
	FailedAt    time.Time         `json:"failed_at"`
}

// EncodeDeadLetter serializes a message and the error that exhausted it.
func EncodeDeadLetter(msg Message, cause error, attempts int, consumer string, failedAt time.Time) ([]byte, error) {
	payload := DeadLetter{
		Topic:       msg.Topic,
		Partition:   msg.Partition,
		Offset:      msg.Offset,
		Timestamp:   msg.Time,
		ValueBase64: base64.StdEncoding.EncodeToString(msg.Value),
		Headers:     msg.Headers,
		Attempts:    attempts,
		Consumer:    consumer,
		FailedAt:    failedAt.UTC(),
	}
	if len(msg.Key) > 0 {
		payload.KeyBase64 = base64.StdEncoding.EncodeToString(msg.Key)
	}
	if cause != nil {
		payload.Error = cause.Error()
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal dead letter: %w", err)
	}
	return b, nil
}
