// Package direct connects a client to a hub running in the same process.
// Send executes the request synchronously in the calling goroutine.
package direct

import (
	"context"
	"sync"

	"github.com/friflo/fliox.go/pkg/connection"
	"github.com/friflo/fliox.go/pkg/constants"
	"github.com/friflo/fliox.go/pkg/hub"
	"github.com/friflo/fliox.go/pkg/protocol"
)

type Connection struct {
	hub  *hub.Hub
	sess hub.Session

	events chan protocol.EventMessage
	done   chan struct{}

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

var (
	_ connection.Connection  = (*Connection)(nil)
	_ connection.EventSource = (*Connection)(nil)
	_ hub.EventTarget        = (*Connection)(nil)
)

// New creates a connection to h. Up to eventBuffer events wait in the
// channel returned by Events, further events wait in the subscriber queue
// of the hub.
func New(h *hub.Hub, eventBuffer int) *Connection {
	if eventBuffer <= 0 {
		eventBuffer = constants.DefaultEventQueueSize
	}
	c := &Connection{
		hub:    h,
		events: make(chan protocol.EventMessage, eventBuffer),
		done:   make(chan struct{}),
	}
	c.sess.Target = c
	return c
}

func (c *Connection) Connect(context.Context) error {
	return nil
}

func (c *Connection) Send(ctx context.Context, req *protocol.SyncRequest) (*protocol.SyncResponse, error) {
	select {
	case <-c.done:
		return nil, connection.TransportError(constants.ErrClosed)
	default:
	}
	return c.hub.Execute(ctx, req, &c.sess), nil
}

func (c *Connection) Events() <-chan protocol.EventMessage {
	return c.events
}

// SendEvent implements hub.EventTarget.
func (c *Connection) SendEvent(ev protocol.EventMessage) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return constants.ErrClosed
	}
	select {
	case c.events <- ev:
		return nil
	case <-c.done:
		return constants.ErrClosed
	}
}

func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) Disconnect() {
	_ = c.Close(context.Background())
}

// Close closes the events channel. Subscriptions of the connection are
// removed by the hub.
func (c *Connection) Close(context.Context) error {
	c.closeOnce.Do(func() {
		// releases a SendEvent blocked on a full channel
		close(c.done)

		c.mu.Lock()
		c.closed = true
		close(c.events)
		c.mu.Unlock()
	})
	return nil
}
