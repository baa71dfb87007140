package channel

import (
	"time"

	"github.com/google/uuid"

	"github.com/USAFA-Multi-Domain-Lab/METIS-sub002/internal/wire"
)

// ResponseHandler receives each response event correlated to a request.
type ResponseHandler func(ev wire.Event)

type pendingRequest struct {
	id      string
	sentAt  time.Time
	status  string
	handler ResponseHandler
}

// UnfulfilledRequest describes a request still awaiting its final response.
// The status message is retained for display of pending work.
type UnfulfilledRequest struct {
	ID            string
	Timestamp     time.Time
	StatusMessage string
}

// Request sends a correlated request. The correlation id is generated here,
// recorded with the status message, and returned. onResponse runs for every
// response carrying the id; the record and handler are removed only when a
// response arrives with its fulfilled flag set, so multi-stage flows
// (initiated, then completed) keep the handler alive in between.
//
// Requests are never retried automatically; timeout and retry policy belong
// to the caller.
func (c *Channel) Request(method string, data any, statusMessage string, onResponse ResponseHandler) (string, error) {
	ev, err := wire.NewEvent(method, data)
	if err != nil {
		return "", err
	}
	ev.RequestID = uuid.NewString()

	c.mu.Lock()
	c.pending[ev.RequestID] = &pendingRequest{
		id:      ev.RequestID,
		sentAt:  time.Now(),
		status:  statusMessage,
		handler: onResponse,
	}
	c.order = append(c.order, ev.RequestID)
	sock := c.sock
	c.lastSeen = time.Now()
	c.mu.Unlock()

	if sock == nil {
		c.dropPending(ev.RequestID)
		return "", ErrNotConnected
	}
	if err := sock.WriteJSON(ev); err != nil {
		c.dropPending(ev.RequestID)
		return "", err
	}
	c.fireActivity(ev)
	return ev.RequestID, nil
}

// UnfulfilledRequests returns the pending records in send order.
func (c *Channel) UnfulfilledRequests() []UnfulfilledRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]UnfulfilledRequest, 0, len(c.order))
	for _, id := range c.order {
		p, ok := c.pending[id]
		if !ok {
			continue
		}
		out = append(out, UnfulfilledRequest{ID: p.id, Timestamp: p.sentAt, StatusMessage: p.status})
	}
	return out
}

// ClearUnfulfilledRequests drops every pending record and handler. Bulk
// teardown on session exit.
func (c *Channel) ClearUnfulfilledRequests() {
	c.mu.Lock()
	c.pending = make(map[string]*pendingRequest)
	c.order = nil
	c.mu.Unlock()
}

// resolve matches an inbound response to its stored handler by the original
// request's id, invokes it, and removes the record iff the response is final.
func (c *Channel) resolve(ev wire.Event) {
	id := ev.Request.Event.RequestID
	if id == "" {
		return
	}
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok && ev.Request.Fulfilled {
		delete(c.pending, id)
		c.removeFromOrder(id)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	if p.handler != nil {
		p.handler(ev)
	}
}

func (c *Channel) dropPending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.removeFromOrder(id)
	c.mu.Unlock()
}

// removeFromOrder must be called with the lock held.
func (c *Channel) removeFromOrder(id string) {
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
