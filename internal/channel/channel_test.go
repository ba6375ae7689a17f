// Package channel provides unit tests for the resilient live channel.
package channel

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/CivicGrid/civicgrid-report-go/internal/errors"
	"github.com/CivicGrid/civicgrid-report-go/internal/feed"
	"github.com/CivicGrid/civicgrid-report-go/internal/model"
)

var upgrader = websocket.Upgrader{}

// wsServer is a scriptable websocket backend: each accepted connection is
// handed to the handler, and connection times are recorded for reconnect
// timing assertions.
type wsServer struct {
	srv *httptest.Server

	mu       sync.Mutex
	accepts  []time.Time
	handlers chan func(*websocket.Conn)
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{handlers: make(chan func(*websocket.Conn), 16)}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.accepts = append(s.accepts, time.Now())
		s.mu.Unlock()

		select {
		case h := <-s.handlers:
			h(conn)
		default:
			// Default: hold the connection open until the test ends.
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

// url returns the ws:// endpoint of the server.
func (s *wsServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *wsServer) acceptTimes() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Time, len(s.accepts))
	copy(out, s.accepts)
	return out
}

// script queues a handler for the next accepted connection.
func (s *wsServer) script(h func(*websocket.Conn)) {
	s.handlers <- h
}

// waitFor polls until cond returns true or the deadline expires.
func waitFor(t *testing.T, d time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

const alertFireFrame = `{"type":"detection_alert","class":"fire","department":"Fire Brigade","notification_timestamp":"2025-01-01T00:00:00Z"}`

// TestChannelDeliversAlert tests the scenario: one detection_alert frame
// produces exactly one buffer entry with category fire.
func TestChannelDeliversAlert(t *testing.T) {
	srv := newWSServer(t)
	srv.script(func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(alertFireFrame))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	buf := feed.NewBuffer(50)
	c := New(srv.url(), buf, Options{ReconnectDelay: 50 * time.Millisecond})
	t.Cleanup(func() { c.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go c.Run(ctx)

	if !waitFor(t, 2*time.Second, func() bool { return buf.Len() == 1 }) {
		t.Fatalf("buffer length = %d, want 1", buf.Len())
	}

	ev := buf.Snapshot()[0]
	if ev.Class != "fire" {
		t.Errorf("alert class = %s, want fire", ev.Class)
	}
	if ev.Department != "Fire Brigade" {
		t.Errorf("alert department = %s, want Fire Brigade", ev.Department)
	}
	if ev.NotifiedAt.IsZero() {
		t.Error("alert NotifiedAt is zero, want parsed timestamp")
	}
	if ev.AgeDays != nil {
		t.Errorf("alert AgeDays = %v, want absent", *ev.AgeDays)
	}
}

// TestChannelIgnoresOtherFrameTypes tests that non-alert frames never mutate
// the alert buffer and do not disturb the connection.
func TestChannelIgnoresOtherFrameTypes(t *testing.T) {
	srv := newWSServer(t)
	srv.script(func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"system_notification","message":"maintenance"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"heartbeat"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`not json at all`))
		conn.WriteMessage(websocket.TextMessage, []byte(alertFireFrame))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	var mu sync.Mutex
	var systemMessages []string

	buf := feed.NewBuffer(50)
	c := New(srv.url(), buf, Options{
		ReconnectDelay: 50 * time.Millisecond,
		OnSystem: func(m model.SystemMessage) {
			mu.Lock()
			systemMessages = append(systemMessages, m.Message)
			mu.Unlock()
		},
	})
	t.Cleanup(func() { c.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go c.Run(ctx)

	// The trailing alert frame proves the malformed frame did not kill the
	// connection; only it may reach the buffer.
	if !waitFor(t, 2*time.Second, func() bool { return buf.Len() == 1 }) {
		t.Fatalf("buffer length = %d, want 1", buf.Len())
	}
	if got := buf.Snapshot()[0].Class; got != "fire" {
		t.Errorf("buffered class = %s, want fire", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(systemMessages) != 1 || systemMessages[0] != "maintenance" {
		t.Errorf("system messages = %v, want [maintenance]", systemMessages)
	}
}

// TestChannelReconnectsAfterDisconnect tests that a dropped connection leads
// to exactly one reconnect attempt, scheduled no earlier than the fixed delay.
func TestChannelReconnectsAfterDisconnect(t *testing.T) {
	srv := newWSServer(t)

	srv.script(func(conn *websocket.Conn) {
		conn.Close()
	})

	const delay = 150 * time.Millisecond
	buf := feed.NewBuffer(50)
	c := New(srv.url(), buf, Options{ReconnectDelay: delay})
	t.Cleanup(func() { c.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go c.Run(ctx)

	if !waitFor(t, 2*time.Second, func() bool { return len(srv.acceptTimes()) >= 2 }) {
		t.Fatalf("accepted connections = %d, want 2 (initial + one reconnect)", len(srv.acceptTimes()))
	}

	// The connection is dropped right after accept, so the gap between the
	// two accepts is dominated by the reconnect delay.
	times := srv.acceptTimes()
	if gap := times[1].Sub(times[0]); gap < delay-20*time.Millisecond {
		t.Errorf("reconnect after %v, want at least the %v delay", gap, delay)
	}

	// No burst of extra attempts: the second connection is held open, so the
	// accept count must stay at 2.
	time.Sleep(2 * delay)
	if got := len(srv.acceptTimes()); got != 2 {
		t.Errorf("accepted connections = %d after settling, want 2", got)
	}
}

// TestChannelCloseCancelsPendingReconnect tests the dangling-timer hazard:
// teardown during the reconnect wait must not produce a further attempt.
func TestChannelCloseCancelsPendingReconnect(t *testing.T) {
	srv := newWSServer(t)
	srv.script(func(conn *websocket.Conn) {
		conn.Close()
	})

	const delay = 100 * time.Millisecond
	buf := feed.NewBuffer(50)
	c := New(srv.url(), buf, Options{ReconnectDelay: delay})

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(context.Background())
	}()

	// Wait for the first connection to come and go, then tear down inside
	// the reconnect window.
	if !waitFor(t, 2*time.Second, func() bool { return len(srv.acceptTimes()) == 1 }) {
		t.Fatal("first connection never arrived")
	}
	time.Sleep(delay / 4)
	c.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}

	time.Sleep(2 * delay)
	if got := len(srv.acceptTimes()); got != 1 {
		t.Errorf("accepted connections = %d after Close, want 1", got)
	}
	if c.State() != StateDisconnected {
		t.Errorf("State = %v after Close, want disconnected", c.State())
	}
}

// TestChannelCloseDuringDial tests teardown landing while a dial is in
// flight: the freshly dialed connection must be released and Run must return
// rather than entering the connected state.
func TestChannelCloseDuringDial(t *testing.T) {
	srv := newWSServer(t)

	buf := feed.NewBuffer(50)
	var c *Channel
	dialer := &websocket.Dialer{
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			c.Close()
			return (&net.Dialer{}).DialContext(ctx, network, addr)
		},
	}
	c = New(srv.url(), buf, Options{Dialer: dialer, ReconnectDelay: 50 * time.Millisecond})

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(context.Background())
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close during dial")
	}
	if c.State() != StateDisconnected {
		t.Errorf("State = %v after Close during dial, want disconnected", c.State())
	}
}

// TestChannelCloseUnblocksRead tests that teardown while connected closes
// the socket under the blocked read loop so Run returns.
func TestChannelCloseUnblocksRead(t *testing.T) {
	srv := newWSServer(t)

	buf := feed.NewBuffer(50)
	c := New(srv.url(), buf, Options{ReconnectDelay: 50 * time.Millisecond})

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(context.Background())
	}()

	if !waitFor(t, 2*time.Second, func() bool { return c.State() == StateConnected }) {
		t.Fatal("channel never connected")
	}
	c.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close while connected")
	}
}

// TestChannelSubscribeFanOut tests subscriber delivery, duplicate ids, and
// unsubscribe semantics.
func TestChannelSubscribeFanOut(t *testing.T) {
	srv := newWSServer(t)
	srv.script(func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(alertFireFrame))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	buf := feed.NewBuffer(50)
	c := New(srv.url(), buf, Options{ReconnectDelay: 50 * time.Millisecond})
	t.Cleanup(func() { c.Close() })

	sub, err := c.Subscribe("dashboard")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if _, err := c.Subscribe("dashboard"); !errors.IsCode(err, errors.RPT_SUBSCRIBER_EXISTS) {
		t.Errorf("duplicate Subscribe() error = %v, want RPT_SUBSCRIBER_EXISTS", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go c.Run(ctx)

	select {
	case ev := <-sub:
		if ev.Class != "fire" {
			t.Errorf("subscriber got class %s, want fire", ev.Class)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber never received the alert")
	}

	c.Unsubscribe("dashboard")
	if _, open := <-sub; open {
		t.Error("subscriber channel still open after Unsubscribe")
	}
}

// TestChannelSubscribeAfterClose tests that a torn-down channel rejects new
// subscribers.
func TestChannelSubscribeAfterClose(t *testing.T) {
	buf := feed.NewBuffer(50)
	c := New("ws://127.0.0.1:1/ws", buf, Options{})
	c.Close()

	if _, err := c.Subscribe("late"); !errors.IsCode(err, errors.RPT_CHANNEL_CLOSED) {
		t.Errorf("Subscribe() after Close error = %v, want RPT_CHANNEL_CLOSED", err)
	}
}
