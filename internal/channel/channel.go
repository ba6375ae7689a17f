// internal/channel/channel.go
// Package channel owns the live push connection to the detection backend:
// connect, parse inbound frames, detect disconnect, and reconnect on a fixed
// delay, indefinitely. Channel errors are never surfaced to the user as
// failures; the loop has no terminal state other than teardown.
package channel

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/CivicGrid/civicgrid-report-go/internal/errors"
	"github.com/CivicGrid/civicgrid-report-go/internal/feed"
	"github.com/CivicGrid/civicgrid-report-go/internal/metrics"
	"github.com/CivicGrid/civicgrid-report-go/internal/model"
)

// DefaultReconnectDelay is the fixed wait between a full close and the next
// connection attempt.
const DefaultReconnectDelay = 5 * time.Second

// subscriberBuffer is the per-subscriber channel depth. Slow subscribers
// drop alerts rather than stalling the read loop.
const subscriberBuffer = 16

// State identifies the connection state of the channel.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// String returns a stable lowercase name for logging.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Options configure a Channel beyond its URL and buffer.
type Options struct {
	ReconnectDelay time.Duration              // Zero falls back to DefaultReconnectDelay
	Dialer         *websocket.Dialer          // Zero falls back to websocket.DefaultDialer
	Logger         *slog.Logger               // Zero falls back to slog.Default()
	OnAlert        func(model.AlertEvent)     // Optional hook invoked per accepted alert
	OnSystem       func(model.SystemMessage)  // Optional hook for system_notification frames
}

// Channel maintains exactly one physical connection at a time. A new connect
// is only initiated after the previous connection has fully closed and the
// reconnect delay has elapsed. Instances are explicitly owned and injectable;
// there is no process-wide singleton.
type Channel struct {
	url     string
	buffer  *feed.Buffer
	delay   time.Duration
	dialer  *websocket.Dialer
	log     *slog.Logger
	metrics *metrics.Metrics

	onAlert  func(model.AlertEvent)
	onSystem func(model.SystemMessage)

	state atomic.Int32

	mu          sync.Mutex
	subscribers map[string]chan model.AlertEvent
	conn        *websocket.Conn

	closed    chan struct{}
	closeOnce sync.Once
}

// New creates a channel feeding the given alert buffer from the websocket URL.
func New(url string, buffer *feed.Buffer, opts Options) *Channel {
	c := &Channel{
		url:         url,
		buffer:      buffer,
		delay:       opts.ReconnectDelay,
		dialer:      opts.Dialer,
		log:         opts.Logger,
		metrics:     metrics.New(),
		onAlert:     opts.OnAlert,
		onSystem:    opts.OnSystem,
		subscribers: make(map[string]chan model.AlertEvent),
		closed:      make(chan struct{}),
	}
	if c.delay <= 0 {
		c.delay = DefaultReconnectDelay
	}
	if c.dialer == nil {
		c.dialer = websocket.DefaultDialer
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	return c
}

// State returns the current connection state.
func (c *Channel) State() State {
	return State(c.state.Load())
}

func (c *Channel) setState(s State) {
	c.state.Store(int32(s))
}

// Run drives the connect/reconnect loop until ctx is canceled or Close is
// called. It always returns nil on teardown; connection failures are retried
// forever and never escape.
func (c *Channel) Run(ctx context.Context) error {
	defer c.setState(StateDisconnected)

	for {
		if c.stopped(ctx) {
			return nil
		}

		c.setState(StateConnecting)
		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			c.setState(StateDisconnected)
			if c.stopped(ctx) {
				return nil
			}
			c.log.Debug("channel connect failed", "url", c.url, "error", err)
			if !c.wait(ctx) {
				return nil
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()

		// Teardown may have landed while the dial was in flight, before the
		// connection was registered where Close could reach it.
		if c.stopped(ctx) {
			c.mu.Lock()
			c.conn = nil
			c.mu.Unlock()
			conn.Close()
			return nil
		}

		c.setState(StateConnected)
		c.metrics.ChannelConnectsTotal.Inc()
		c.log.Info("channel connected", "url", c.url)

		// Closing the socket on teardown unblocks the read loop; a blocked
		// ReadMessage does not observe ctx on its own.
		reading := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				conn.Close()
			case <-c.closed:
				conn.Close()
			case <-reading:
			}
		}()

		c.readLoop(conn)
		close(reading)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()

		c.setState(StateDisconnected)
		c.metrics.ChannelDisconnectsTotal.Inc()
		c.log.Info("channel disconnected", "url", c.url)

		// The reconnect wait is cancellable: teardown during the delay must
		// not leave a pending attempt behind.
		if !c.wait(ctx) {
			return nil
		}
	}
}

// readLoop consumes frames until the connection errors or closes. Parse
// failures drop the frame; the connection stays up.
func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.TextMessage {
			c.metrics.ChannelFramesTotal.WithLabelValues("ignored").Inc()
			continue
		}
		c.handleFrame(data)
	}
}

// wait blocks for the reconnect delay. It returns false when the channel was
// torn down during the wait.
func (c *Channel) wait(ctx context.Context) bool {
	timer := time.NewTimer(c.delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-c.closed:
		return false
	}
}

// stopped reports whether the channel owner has requested teardown.
func (c *Channel) stopped(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Close tears the channel down: the active connection is closed, a pending
// reconnect is canceled, and no further attempt is made. Idempotent.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)

		c.mu.Lock()
		conn := c.conn
		c.conn = nil
		for id, ch := range c.subscribers {
			close(ch)
			delete(c.subscribers, id)
		}
		c.mu.Unlock()

		if conn != nil {
			conn.Close()
		}
	})
	return nil
}

// Subscribe registers a live alert consumer under the given id. The returned
// channel is closed on Unsubscribe or channel teardown. Alerts a slow
// consumer cannot keep up with are dropped, not queued.
func (c *Channel) Subscribe(id string) (<-chan model.AlertEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.closed:
		return nil, errors.New(errors.RPT_CHANNEL_CLOSED, "channel is closed")
	default:
	}

	if _, exists := c.subscribers[id]; exists {
		return nil, errors.New(errors.RPT_SUBSCRIBER_EXISTS, "subscriber id already registered")
	}

	ch := make(chan model.AlertEvent, subscriberBuffer)
	c.subscribers[id] = ch
	return ch, nil
}

// Unsubscribe removes a consumer and closes its channel. Unknown ids are a
// no-op.
func (c *Channel) Unsubscribe(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ch, exists := c.subscribers[id]; exists {
		close(ch)
		delete(c.subscribers, id)
	}
}

// fanOut delivers an alert to every subscriber with a non-blocking send.
func (c *Channel) fanOut(ev model.AlertEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, ch := range c.subscribers {
		select {
		case ch <- ev:
		default:
			c.log.Debug("subscriber lagging, alert dropped", "subscriber", id)
		}
	}
}
