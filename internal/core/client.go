package core

import (
	"context"
	"sync"
	"sync/atomic"
)

// ConnState is the lifecycle stage of a connection.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateAuthenticating
	StateActive
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Identity is what a connection represents once authenticated.
type Identity struct {
	SessionID string
	UserID    string
	Username  string
}

// Client is a single live connection as seen by the core layer. It owns no
// room or session data, only a reference to the identity it speaks for.
type Client struct {
	ID string

	identity Identity
	state    atomic.Int32

	events    chan *Event
	done      chan struct{}
	closeOnce sync.Once
}

const minBuffer = 8

// NewClient constructs a client in the connecting state with a buffered event queue.
func NewClient(id string, buffer int) *Client {
	if buffer < minBuffer {
		buffer = minBuffer
	}
	return &Client{
		ID:     id,
		events: make(chan *Event, buffer),
		done:   make(chan struct{}),
	}
}

// Events is the queue the transport drains to the wire.
func (c *Client) Events() <-chan *Event {
	return c.events
}

// Done is closed when the client is disconnected.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// State returns the current lifecycle stage.
func (c *Client) State() ConnState {
	return ConnState(c.state.Load())
}

// SetState moves the client to s.
func (c *Client) SetState(s ConnState) {
	c.state.Store(int32(s))
}

// UserID returns the identity the client is bound to; empty before the handshake.
func (c *Client) UserID() string {
	return c.identity.UserID
}

// SessionID returns the session the client resumed or minted.
func (c *Client) SessionID() string {
	return c.identity.SessionID
}

// Send queues an event addressed to this client only, waiting for room in the
// queue. It returns false once the client is gone or ctx is done.
func (c *Client) Send(ctx context.Context, ev *Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// deliver queues a broadcast event without blocking. Slow consumers lose it.
func (c *Client) deliver(ev *Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.events <- ev:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}
