package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/r3labs/sse/v2"

	"github.com/openivr/flowpulse/pkg/events"
)

// SSETransport subscribes to the push channels over Server-Sent Events, for
// networks where plain HTTP is the only option. The SSE library reconnects
// on its own, so the subscription is controlled through the dial context.
type SSETransport struct {
	endpoint string
	token    string
	channels map[string]bool

	mu     sync.Mutex
	cancel context.CancelFunc
	events chan events.Envelope
}

// NewSSETransport builds an SSE transport for the relay at serverURL,
// subscribing to the given channels. The stream carries every channel;
// envelopes outside the subscribed set are dropped on receipt.
func NewSSETransport(serverURL, token string, channels []string) (*SSETransport, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if !strings.HasSuffix(u.Path, "/api/sse") {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/api/sse"
	}
	if len(channels) == 0 {
		channels = events.Channels()
	}
	subscribed := make(map[string]bool, len(channels))
	for _, channel := range channels {
		subscribed[channel] = true
	}
	return &SSETransport{endpoint: u.String(), token: token, channels: subscribed}, nil
}

// Dial starts the subscription and returns once the stream is connected.
func (t *SSETransport) Dial(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	client := sse.NewClient(t.endpoint)
	if t.token != "" {
		client.Headers["Authorization"] = "Bearer " + t.token
	}

	connected := make(chan struct{})
	var once sync.Once
	client.OnConnect(func(*sse.Client) {
		once.Do(func() { close(connected) })
	})

	ch := make(chan events.Envelope, 64)
	errc := make(chan error, 1)
	go func() {
		defer close(ch)
		err := client.SubscribeRawWithContext(ctx, func(msg *sse.Event) {
			if len(msg.Data) == 0 {
				return
			}
			var env events.Envelope
			if err := json.Unmarshal(msg.Data, &env); err != nil {
				return
			}
			if !t.channels[env.Channel] {
				return
			}
			select {
			case ch <- env:
			case <-ctx.Done():
			}
		})
		if err != nil && ctx.Err() == nil {
			select {
			case errc <- err:
			default:
			}
		}
	}()

	select {
	case <-connected:
		t.mu.Lock()
		t.cancel = cancel
		t.events = ch
		t.mu.Unlock()
		return nil
	case err := <-errc:
		cancel()
		return fmt.Errorf("sse subscription failed: %w", err)
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

// Events returns the delivery channel for the current subscription.
func (t *SSETransport) Events() <-chan events.Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.events
}

// Close stops the subscription.
func (t *SSETransport) Close() error {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}
