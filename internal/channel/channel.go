// Package channel wraps one persistent bidirectional socket. It is symmetric
// between client and server: both ends emit events, register method
// listeners, and correlate requests with their responses.
package channel

import (
	"errors"
	"sync"
	"time"

	"github.com/USAFA-Multi-Domain-Lab/METIS-sub002/internal/wire"
)

// Socket is the transport a Channel writes to. The server adapts a gorilla
// websocket connection; tests use in-memory fakes.
type Socket interface {
	WriteJSON(v any) error
	Close() error
}

// Handler receives a dispatched event.
type Handler func(ev wire.Event)

// ErrNotConnected is returned when emitting on a channel with no socket
// attached (a client between reconnect attempts).
var ErrNotConnected = errors.New("channel: not connected")

// Channel owns the listener table and the pending-request records for one
// connection. All methods are safe for concurrent use; handlers are invoked
// outside the channel lock, in registration order for their method.
type Channel struct {
	mu        sync.Mutex
	sock      Socket
	listeners map[string][]Handler
	pending   map[string]*pendingRequest
	order     []string // pending request ids in send order
	lastSeen  time.Time
}

// New creates a channel over the given socket. A nil socket is allowed; the
// channel only becomes writable once Attach is called.
func New(sock Socket) *Channel {
	return &Channel{
		sock:      sock,
		listeners: make(map[string][]Handler),
		pending:   make(map[string]*pendingRequest),
	}
}

// Attach replaces the underlying socket, e.g. after a reconnect.
func (c *Channel) Attach(sock Socket) {
	c.mu.Lock()
	c.sock = sock
	c.mu.Unlock()
}

// Close closes the underlying socket if one is attached.
func (c *Channel) Close() error {
	c.mu.Lock()
	sock := c.sock
	c.mu.Unlock()
	if sock == nil {
		return nil
	}
	return sock.Close()
}

// Emit sends a fire-and-forget event.
func (c *Channel) Emit(method string, data any) error {
	ev, err := wire.NewEvent(method, data)
	if err != nil {
		return err
	}
	return c.EmitEvent(ev)
}

// EmitEvent sends a pre-built envelope. Sessions use this to attach
// request/response correlation info to broadcasts.
func (c *Channel) EmitEvent(ev wire.Event) error {
	c.mu.Lock()
	sock := c.sock
	c.lastSeen = time.Now()
	c.mu.Unlock()
	if sock == nil {
		return ErrNotConnected
	}
	if err := sock.WriteJSON(ev); err != nil {
		return err
	}
	c.fireActivity(ev)
	return nil
}

// Dispatch routes one inbound event: it resolves any matching pending
// request, then invokes listeners registered for the exact method, then the
// reserved activity listeners. Callers feed it from their read loop; clients
// also use it to deliver locally synthesized connection events.
func (c *Channel) Dispatch(ev wire.Event) {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()

	if ev.Request != nil && ev.Request.Event != nil {
		c.resolve(ev)
	}

	if ev.Method != wire.MethodActivity {
		for _, fn := range c.handlersFor(ev.Method) {
			fn(ev)
		}
	}
	c.fireActivity(ev)
}

// AddEventListener registers a handler for exact matches of method.
// Handlers for one method run in registration order. The reserved method
// "activity" fires on every inbound and outbound event.
func (c *Channel) AddEventListener(method string, fn Handler) {
	c.mu.Lock()
	c.listeners[method] = append(c.listeners[method], fn)
	c.mu.Unlock()
}

// ClearEventListeners removes listeners for the given methods, or every
// listener when called with no arguments. Used for bulk teardown on
// session exit.
func (c *Channel) ClearEventListeners(methods ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(methods) == 0 {
		c.listeners = make(map[string][]Handler)
		return
	}
	for _, m := range methods {
		delete(c.listeners, m)
	}
}

// LastActivity returns when the channel last sent or received an event.
func (c *Channel) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

func (c *Channel) handlersFor(method string) []Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	hs := c.listeners[method]
	if len(hs) == 0 {
		return nil
	}
	out := make([]Handler, len(hs))
	copy(out, hs)
	return out
}

func (c *Channel) fireActivity(ev wire.Event) {
	for _, fn := range c.handlersFor(wire.MethodActivity) {
		fn(ev)
	}
}
