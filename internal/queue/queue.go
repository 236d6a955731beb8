// Package queue provides the durable analysis job queue. Delivery is
// at-least-once: a dequeued job is invisible for the lease duration and
// reappears unless it is deleted with its receipt before the lease expires.
package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Message is the analysis job envelope. On the wire the JSON form is
// base64-encoded.
type Message struct {
	ProjectID   string    `json:"projectId"`
	RequestedAt time.Time `json:"requestedAt"`
	Phase       string    `json:"phase,omitempty"`
}

// Encode serializes the message to its base64 wire form.
func (m Message) Encode() ([]byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode queue message: %w", err)
	}
	out := make([]byte, base64.StdEncoding.EncodedLen(len(raw)))
	base64.StdEncoding.Encode(out, raw)
	return out, nil
}

// Decode parses a base64 wire payload into a message. Payloads that are
// plain JSON (not base64) are accepted too so hand-enqueued jobs work.
func Decode(payload []byte) (Message, error) {
	var m Message
	raw := make([]byte, base64.StdEncoding.DecodedLen(len(payload)))
	n, err := base64.StdEncoding.Decode(raw, payload)
	if err != nil {
		raw = payload
		n = len(payload)
	}
	if err := json.Unmarshal(raw[:n], &m); err != nil {
		return Message{}, fmt.Errorf("decode queue message: %w", err)
	}
	if m.ProjectID == "" {
		return Message{}, fmt.Errorf("decode queue message: missing projectId")
	}
	return m, nil
}

// Delivery is one leased occurrence of a message. The receipt is only
// valid for this lease; a redelivery issues a fresh receipt.
type Delivery struct {
	Message      Message
	Receipt      string
	DequeueCount int
	LeasedUntil  time.Time
}

// Queue is the durable job queue contract.
type Queue interface {
	// Enqueue appends a message. A positive delay keeps it invisible to
	// consumers until the delay elapses. The message survives process
	// restarts for durable implementations.
	Enqueue(ctx context.Context, msg Message, delay time.Duration) error

	// Dequeue leases the next visible message, waiting up to wait for one
	// to arrive. It returns (nil, nil) when the wait elapses with nothing
	// available.
	Dequeue(ctx context.Context, wait time.Duration) (*Delivery, error)

	// Peek returns the next visible message without leasing it, or nil
	// when nothing is visible. A peeked message is still delivered by the
	// next Dequeue.
	Peek(ctx context.Context) (*Message, error)

	// Delete permanently removes a leased message by its receipt. Deleting
	// with a stale receipt (lease expired, message redelivered) fails.
	Delete(ctx context.Context, receipt string) error

	// Depth reports how many messages are waiting or in flight.
	Depth(ctx context.Context) (int, error)

	// Clear discards every message, leased or not, and reports how many
	// were removed.
	Clear(ctx context.Context) (int, error)

	Close() error
}
