// Package client implements a reconnecting connector for the event
// protocol. It owns one channel for the life of the participant, re-dialing
// the server across drops and classifying every raw open/close signal
// through the lifecycle machine.
package client

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/USAFA-Multi-Domain-Lab/METIS-sub002/internal/channel"
	"github.com/USAFA-Multi-Domain-Lab/METIS-sub002/internal/wire"
)

const (
	initialRetryWait = time.Second
	maxRetryWait     = 30 * time.Second
)

// Connector dials and re-dials one server endpoint. Lifecycle transitions
// and connection-change events are dispatched locally on the channel, so
// callers listen for them the same way they listen for server events.
type Connector struct {
	url      string
	identity string
	takeover bool

	ch *channel.Channel
	lc *channel.Lifecycle

	mu   sync.Mutex
	sock *clientSocket
}

// New builds a connector for the given endpoint and participant identity.
// With takeover set, the handshake carries the force-switch header so an
// existing connection for the identity is displaced instead of this one
// being rejected.
func New(url, identity string, takeover bool) *Connector {
	c := &Connector{
		url:      url,
		identity: identity,
		takeover: takeover,
		ch:       channel.New(nil),
		lc:       channel.NewLifecycle(),
	}
	// Some error codes instruct the client to stop reconnecting; flipping
	// the intent makes the following close classify as intentional.
	c.ch.AddEventListener(wire.MethodError, func(ev wire.Event) {
		var data wire.ErrorData
		if err := ev.Decode(&data); err == nil && wire.SuppressesReconnect(data.Code) {
			log.Printf("client %s: server code %d, reconnection suppressed", c.identity, data.Code)
			c.lc.SuppressReconnect()
		}
	})
	return c
}

// Channel returns the connector's channel for listeners and requests.
func (c *Connector) Channel() *channel.Channel { return c.ch }

// Status returns the coarse connection status.
func (c *Connector) Status() channel.Status { return c.lc.Status() }

// Close disconnects intentionally: the lifecycle reports connection-closed,
// not connection-loss, and Run returns.
func (c *Connector) Close() {
	c.lc.SuppressReconnect()
	c.mu.Lock()
	sock := c.sock
	c.mu.Unlock()
	if sock != nil {
		_ = sock.Close()
	}
}

// Run dials until the lifecycle says to stop or the context is cancelled.
// Retry timing is the connector's policy; request timeouts stay with the
// caller.
func (c *Connector) Run(ctx context.Context) error {
	wait := initialRetryWait
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := http.Header{}
	header.Set(wire.HeaderParticipant, c.identity)
	if c.takeover {
		header.Set(wire.HeaderForceSwitch, "1")
	}

	for {
		conn, resp, err := dialer.DialContext(ctx, c.url, header)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			// Cancellation is an intentional shutdown, not a failure.
			if ctx.Err() != nil {
				c.lc.SuppressReconnect()
			}
			c.dispatchClose()
			if ctx.Err() != nil || !c.lc.ShouldReconnect() {
				return ctx.Err()
			}
			if !sleep(ctx, wait) {
				return ctx.Err()
			}
			wait = nextWait(wait)
			continue
		}

		sock := &clientSocket{conn: conn}
		c.mu.Lock()
		c.sock = sock
		c.mu.Unlock()
		c.ch.Attach(sock)
		c.dispatchOpen()
		wait = initialRetryWait

		c.readLoop(conn)

		c.ch.Attach(nil)
		// Cancellation is an intentional shutdown, not a connection loss.
		if ctx.Err() != nil {
			c.lc.SuppressReconnect()
		}
		c.dispatchClose()
		if ctx.Err() != nil || !c.lc.ShouldReconnect() {
			return ctx.Err()
		}
		if !sleep(ctx, wait) {
			return ctx.Err()
		}
		wait = nextWait(wait)
	}
}

func (c *Connector) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var ev wire.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Printf("client %s: malformed frame: %v", c.identity, err)
			continue
		}
		c.ch.Dispatch(ev)
	}
}

func (c *Connector) dispatchOpen() {
	t := c.lc.HandleOpen(time.Now())
	c.dispatchTransition(t)
}

func (c *Connector) dispatchClose() {
	t := c.lc.HandleClose(time.Now())
	c.dispatchTransition(t)
}

// dispatchTransition delivers the specific transition event and the generic
// connection-change carrying the new status.
func (c *Connector) dispatchTransition(t channel.Transition) {
	c.ch.Dispatch(wire.Event{Method: string(t)})
	change, err := wire.NewEvent(wire.MethodConnectionChange, map[string]any{"status": c.lc.Status()})
	if err != nil {
		return
	}
	c.ch.Dispatch(change)
}

func nextWait(wait time.Duration) time.Duration {
	wait *= 2
	if wait > maxRetryWait {
		wait = maxRetryWait
	}
	return wait
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// clientSocket adapts a gorilla connection to channel.Socket.
type clientSocket struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *clientSocket) WriteJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *clientSocket) Close() error { return s.conn.Close() }
