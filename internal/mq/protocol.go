// Package mq is the session's one bidirectional event channel.
// Wire format: one JSON object per websocket text frame, {"id","event","payload"}.
package mq

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrClosed is returned by Publish once the channel has shut down.
var ErrClosed = errors.New("mq: channel closed")

// Event is one named frame on the channel.
type Event struct {
	ID      string          `json:"id,omitempty"` // uuid4 on outbound frames
	Name    string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEvent marshals payload into a fresh outbound Event.
func NewEvent(name string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("mq: encode %s: %w", name, err)
	}
	return Event{ID: uuid.NewString(), Name: name, Payload: raw}, nil
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("mq: %s has no payload", e.Name)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("mq: decode %s: %w", e.Name, err)
	}
	return nil
}

// Channel is the injected message-passing surface the session core depends on.
// Subscribe delivers inbound events in arrival order; Publish sends outbound.
type Channel interface {
	Publish(name string, payload any) error
	Subscribe() (<-chan Event, func())
}
