package monitor

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/openivr/flowpulse/pkg/events"
)

// WebSocketTransport subscribes to the push channels over a WebSocket
// connection to the relay.
type WebSocketTransport struct {
	endpoint string
	header   http.Header
	channels []string

	mu     sync.Mutex
	conn   *websocket.Conn
	events chan events.Envelope
	done   chan struct{}
}

// NewWebSocketTransport builds a transport for the relay at serverURL
// (http(s) or ws(s) scheme), subscribing to the given channels. A non-empty
// token is sent as a Bearer credential on the handshake.
func NewWebSocketTransport(serverURL, token string, channels []string) (*WebSocketTransport, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if !strings.HasSuffix(u.Path, "/api/ws") {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/api/ws"
	}

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	if len(channels) == 0 {
		channels = events.Channels()
	}
	return &WebSocketTransport{
		endpoint: u.String(),
		header:   header,
		channels: channels,
	}, nil
}

// Dial connects and subscribes. It returns once the handshake and the
// subscribe messages have been sent.
func (t *WebSocketTransport) Dial(ctx context.Context) error {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, t.endpoint, t.header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket dial failed: %w", err)
	}

	for _, channel := range t.channels {
		if err := conn.WriteJSON(controlMessage{Type: "subscribe", Channel: channel}); err != nil {
			conn.Close()
			return fmt.Errorf("failed to subscribe to %s: %w", channel, err)
		}
	}

	ch := make(chan events.Envelope, 64)
	done := make(chan struct{})
	t.mu.Lock()
	t.conn = conn
	t.events = ch
	t.done = done
	t.mu.Unlock()

	go t.readLoop(conn, ch, done)
	return nil
}

// Events returns the delivery channel for the current connection.
func (t *WebSocketTransport) Events() <-chan events.Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.events
}

// Close tears down the current connection, if any.
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	done := t.done
	t.conn = nil
	t.done = nil
	t.mu.Unlock()
	if done != nil {
		close(done)
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (t *WebSocketTransport) readLoop(conn *websocket.Conn, ch chan events.Envelope, done <-chan struct{}) {
	defer close(ch)
	for {
		var env events.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			conn.Close()
			return
		}
		// The delivery buffer may be full with nobody draining it after
		// teardown; a bare send would pin this goroutine forever.
		select {
		case ch <- env:
		case <-done:
			return
		}
	}
}
