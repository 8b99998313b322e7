package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/openivr/flowpulse/pkg/events"
	"github.com/openivr/flowpulse/pkg/logging"
	"github.com/openivr/flowpulse/pkg/models"
)

// Mode identifies the delivery path currently feeding the view model. The
// three modes are mutually exclusive.
type Mode int

const (
	// ModeReconnecting means the push channel is down and a reconnect
	// attempt is pending.
	ModeReconnecting Mode = iota

	// ModeConnected means events arrive over the push channel.
	ModeConnected

	// ModePolling means reconnecting was abandoned and the view model is
	// refreshed by periodic fetches.
	ModePolling
)

func (m Mode) String() string {
	switch m {
	case ModeConnected:
		return "connected"
	case ModePolling:
		return "polling"
	default:
		return "reconnecting"
	}
}

const (
	defaultReconnectBase = time.Second
	defaultMaxReconnects = 3
	defaultPollInterval  = 5 * time.Second

	pollingNotification = "Connection lost. Switching to polling mode."
)

// Options configures a Monitor. ServerURL and Transport are required.
type Options struct {
	// ServerURL is the base URL of the workflow API (live-data + commands)
	ServerURL string

	// Transport delivers push-channel events
	Transport Transport

	// Token is sent as a Bearer credential on command and polling requests
	Token string

	// HTTPClient used for commands and polling; a default is built if nil
	HTTPClient *http.Client

	// Logger for connection lifecycle events; discarded if nil
	Logger *slog.Logger

	// ReconnectBase is the backoff unit; the delay before attempt n is
	// ReconnectBase × n. Defaults to 1s.
	ReconnectBase time.Duration

	// MaxReconnects is the number of failed attempts after which the
	// monitor degrades to polling. Defaults to 3.
	MaxReconnects int

	// PollInterval is the polling fallback period. Defaults to 5s.
	PollInterval time.Duration
}

// Monitor supervises one push-channel connection and owns the view model.
// All mutation flows through the reducer on the monitor's event goroutine;
// readers get immutable snapshots.
type Monitor struct {
	opts     Options
	client   *http.Client
	logger   *slog.Logger
	commands *CommandClient

	mu           sync.RWMutex
	snap         *models.Snapshot
	mode         Mode
	attempt      int
	errMsg       string
	notification string
	closed       bool
	pollCancel   context.CancelFunc

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// New builds a Monitor. Call Start to begin delivering events.
func New(opts Options) (*Monitor, error) {
	if opts.ServerURL == "" {
		return nil, fmt.Errorf("server URL is required")
	}
	if opts.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if opts.ReconnectBase <= 0 {
		opts.ReconnectBase = defaultReconnectBase
	}
	if opts.MaxReconnects <= 0 {
		opts.MaxReconnects = defaultMaxReconnects
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Monitor{
		opts:     opts,
		client:   client,
		logger:   logger,
		commands: NewCommandClient(opts.ServerURL, opts.Token, client),
		snap:     models.NewSnapshot(),
		done:     make(chan struct{}),
	}, nil
}

// Start launches the connection supervisor. The monitor runs until ctx is
// canceled or Close is called.
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	go m.run(ctx)
}

// Close tears down the transport, any pending reconnect timer and the
// polling ticker. Safe to call more than once.
func (m *Monitor) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		if m.cancel != nil {
			m.cancel()
		}
		m.opts.Transport.Close()
		if m.cancel != nil {
			<-m.done
		}
	})
	return nil
}

// run is the supervisor loop: dial, consume until the connection drops,
// back off, and degrade to polling after too many consecutive failures.
func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		err := m.opts.Transport.Dial(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			attempt = 0
			m.onConnected()
			m.consume(ctx)
			if ctx.Err() != nil {
				return
			}
			m.onDisconnected()
		} else {
			m.onError(err)
		}

		attempt++
		var delay time.Duration
		if attempt >= m.opts.MaxReconnects {
			// Give up on fast reconnects; polling takes over while the
			// push channel is probed once per poll interval.
			m.startPolling(ctx)
			delay = m.opts.PollInterval
		} else {
			m.setReconnecting(attempt)
			delay = m.opts.ReconnectBase * time.Duration(attempt)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// consume applies pushed events until the connection drops.
func (m *Monitor) consume(ctx context.Context) {
	evs := m.opts.Transport.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-evs:
			if !ok {
				return
			}
			m.applyEvent(env)
		}
	}
}

func (m *Monitor) applyEvent(env events.Envelope) {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	next, err := Reduce(m.snap, env, now)
	if err != nil {
		m.logger.Warn("dropping malformed event",
			slog.String("channel", env.Channel),
			slog.String("event", env.Event),
			slog.Any("error", err))
		return
	}
	m.snap = next
}

// replaceSnapshot installs a polled full-state snapshot.
func (m *Monitor) replaceSnapshot(snap *models.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.snap = snap
}

func (m *Monitor) onConnected() {
	m.mu.Lock()
	m.mode = ModeConnected
	m.attempt = 0
	m.errMsg = ""
	m.notification = ""
	m.stopPollingLocked()
	m.mu.Unlock()
	m.logger.Info("push channel connected")
}

func (m *Monitor) onDisconnected() {
	m.mu.Lock()
	m.mode = ModeReconnecting
	m.mu.Unlock()
	m.logger.Info("push channel disconnected")
}

func (m *Monitor) onError(err error) {
	m.mu.Lock()
	m.errMsg = err.Error()
	m.mu.Unlock()
	m.logger.Warn("push channel error", slog.Any("error", err))
}

func (m *Monitor) setReconnecting(attempt int) {
	m.mu.Lock()
	m.mode = ModeReconnecting
	m.attempt = attempt
	m.mu.Unlock()
}

func (m *Monitor) startPolling(ctx context.Context) {
	m.mu.Lock()
	if m.mode == ModePolling || m.closed {
		m.mu.Unlock()
		return
	}
	m.mode = ModePolling
	m.notification = pollingNotification
	pollCtx, cancel := context.WithCancel(ctx)
	m.pollCancel = cancel
	m.mu.Unlock()

	m.logger.Warn("push channel unavailable, switching to polling")
	p := newPoller(m.opts.ServerURL, m.opts.Token, m.client, m.opts.PollInterval, m.logger, m.replaceSnapshot)
	go p.run(pollCtx)
}

// stopPollingLocked cancels the polling ticker; callers hold m.mu.
func (m *Monitor) stopPollingLocked() {
	if m.pollCancel != nil {
		m.pollCancel()
		m.pollCancel = nil
	}
}

// Snapshot returns the current view model. The returned value is immutable.
func (m *Monitor) Snapshot() *models.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}

// Mode returns the current delivery mode.
func (m *Monitor) Mode() Mode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode
}

// IsConnected reports whether the push channel is up.
func (m *Monitor) IsConnected() bool { return m.Mode() == ModeConnected }

// IsPolling reports whether the polling fallback is active.
func (m *Monitor) IsPolling() bool { return m.Mode() == ModePolling }

// Err returns the last transport error message, empty when healthy.
func (m *Monitor) Err() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.errMsg
}

// Notification returns the user-visible degraded-mode notice, empty when
// none is active.
func (m *Monitor) Notification() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.notification
}

// Execute asks the executor to start a workflow. The resulting state change
// arrives later on the event channel, not in the response.
func (m *Monitor) Execute(ctx context.Context, workflowID string, input map[string]interface{}) (*models.ExecutionHandle, error) {
	return m.commands.Execute(ctx, workflowID, input)
}

// Pause suspends a running execution.
func (m *Monitor) Pause(ctx context.Context, workflowID string) error {
	return m.commands.Pause(ctx, workflowID)
}

// Resume continues a paused execution.
func (m *Monitor) Resume(ctx context.Context, workflowID string) error {
	return m.commands.Resume(ctx, workflowID)
}

// Stop cancels an execution.
func (m *Monitor) Stop(ctx context.Context, workflowID string) error {
	return m.commands.Stop(ctx, workflowID)
}
