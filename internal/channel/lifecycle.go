package channel

import (
	"fmt"
	"sync"
	"time"

	"github.com/USAFA-Multi-Domain-Lab/METIS-sub002/internal/wire"
)

// Status is the coarse connection state.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusOpen       Status = "open"
	StatusClosed     Status = "closed"
)

// Transition is the semantic classification of a raw open or close signal.
// The values double as the local event methods dispatched to listeners.
type Transition string

const (
	TransitionConnectionSuccess   Transition = wire.MethodConnectionSuccess
	TransitionReconnectionSuccess Transition = wire.MethodReconnectionSuccess
	TransitionConnectionLoss      Transition = wire.MethodConnectionLoss
	TransitionConnectionFailure   Transition = wire.MethodConnectionFailure
	TransitionReconnectionFailure Transition = wire.MethodReconnectionFailure
	TransitionConnectionClosed    Transition = wire.MethodConnectionClosed
)

// Lifecycle derives semantic transitions from raw socket open/close signals
// plus connection history. It holds four facts: whether the caller still
// wants the connection open, whether it ever opened, whether it ever closed,
// and whether the most recent open is newer than the most recent close.
type Lifecycle struct {
	mu            sync.Mutex
	status        Status
	shouldBeOpen  bool
	wasOnceOpened bool
	wasOnceClosed bool
	lastOpenedAt  time.Time
	lastClosedAt  time.Time
}

// NewLifecycle starts in the connecting state with intent to be open.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{status: StatusConnecting, shouldBeOpen: true}
}

// Status returns the coarse state.
func (l *Lifecycle) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// SuppressReconnect flips the caller's intent so the next close classifies
// as intentional. Invoked on explicit disconnects and on error codes that
// forbid automatic reconnection.
func (l *Lifecycle) SuppressReconnect() {
	l.mu.Lock()
	l.shouldBeOpen = false
	l.mu.Unlock()
}

// ShouldReconnect reports whether the caller still intends to be connected.
func (l *Lifecycle) ShouldReconnect() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.shouldBeOpen
}

// HandleOpen records a successful raw open and returns the semantic
// transition: connection-success on the first open, reconnection-success
// after.
func (l *Lifecycle) HandleOpen(now time.Time) Transition {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := TransitionConnectionSuccess
	if l.wasOnceOpened {
		t = TransitionReconnectionSuccess
	}
	l.wasOnceOpened = true
	l.lastOpenedAt = now
	l.status = StatusOpen
	return t
}

// HandleClose classifies a raw close signal. The history is evaluated as it
// stood when the signal arrived, then the close is recorded.
//
//	shouldBeOpen  wasOpenUntilNow  wasOnceOpened  wasOnceClosed
//	false         -                -              -              connection-closed
//	true          true             -              -              connection-loss
//	true          false            false          -              connection-failure
//	true          false            true           true           reconnection-failure
//
// The remaining combination (open intent, never closed, opened but not open
// until now) cannot occur; reaching it is an internal logic fault.
func (l *Lifecycle) HandleClose(now time.Time) Transition {
	l.mu.Lock()
	defer l.mu.Unlock()

	wasOpenUntilNow := l.wasOnceOpened && l.lastOpenedAt.After(l.lastClosedAt)

	var t Transition
	switch {
	case !l.shouldBeOpen:
		t = TransitionConnectionClosed
		l.status = StatusClosed
	case wasOpenUntilNow:
		t = TransitionConnectionLoss
		l.status = StatusConnecting
	case !l.wasOnceOpened:
		t = TransitionConnectionFailure
		l.status = StatusConnecting
	case l.wasOnceClosed:
		t = TransitionReconnectionFailure
		l.status = StatusConnecting
	default:
		panic(fmt.Sprintf("channel: unreachable lifecycle state (shouldBeOpen=%v wasOpenUntilNow=%v wasOnceOpened=%v wasOnceClosed=%v)",
			l.shouldBeOpen, wasOpenUntilNow, l.wasOnceOpened, l.wasOnceClosed))
	}

	l.wasOnceClosed = true
	l.lastClosedAt = now
	return t
}
