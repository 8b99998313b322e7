package monitor

import (
	"context"

	"github.com/openivr/flowpulse/pkg/events"
)

// Transport is a push-channel connection. Dial blocks until the connection
// is established (or fails); Events returns the channel the established
// connection delivers on, closed when the connection drops. After the events
// channel closes the transport may be dialed again.
type Transport interface {
	Dial(ctx context.Context) error
	Events() <-chan events.Envelope
	Close() error
}

// control messages sent to the relay over a push connection.
type controlMessage struct {
	Type    string `json:"type"` // "subscribe", "unsubscribe", "ping"
	Channel string `json:"channel,omitempty"`
}
