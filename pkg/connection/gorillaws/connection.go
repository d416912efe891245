// Package gorillaws keeps one WebSocket connection to the hub. Sync requests
// and their responses share the connection with events pushed by the hub,
// every frame is an Envelope telling them apart.
package gorillaws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	gorilla "github.com/gorilla/websocket"

	"github.com/friflo/fliox.go/internal/codec"
	"github.com/friflo/fliox.go/internal/rand"
	"github.com/friflo/fliox.go/pkg/connection"
	"github.com/friflo/fliox.go/pkg/constants"
	"github.com/friflo/fliox.go/pkg/logger"
	"github.com/friflo/fliox.go/pkg/protocol"
)

// Subprotocol returns the WebSocket subprotocol announcing the frame codec.
func Subprotocol(c codec.Codec) string {
	if c.ContentType() == codec.CBORContentType {
		return constants.SubprotocolCBOR
	}
	return constants.SubprotocolJSON
}

type Option func(ws *Connection) error

type Connection struct {
	connection.Toolkit

	Conn *gorilla.Conn
	// connLock is used to ensure that the Conn is not-nil when we try to
	// write to it. It is not held while dialing.
	connLock sync.Mutex

	// Timeout bounds the wait for the response of a Send. Zero disables it,
	// the deadline of the context passed to Send still applies.
	Timeout time.Duration

	Option []Option
	logger logger.Logger

	events  chan protocol.EventMessage
	dropped uint64

	// connCloseCh signals that the connection is being closed. It stops
	// the readLoop and prevents Send from writing to a closed connection.
	connCloseCh    chan int
	connCloseError error
	closeOnce      sync.Once

	// closed cannot be reset. Create a new Connection to reconnect.
	closed atomic.Bool
}

var (
	_ connection.Connection  = (*Connection)(nil)
	_ connection.EventSource = (*Connection)(nil)
)

func New(p *connection.Config) *Connection {
	buffer := p.EventBuffer
	if buffer <= 0 {
		buffer = constants.DefaultEventQueueSize
	}
	timeout := p.Timeout
	if timeout == 0 {
		timeout = constants.DefaultWSTimeout
	}
	log := p.Logger
	if log == nil {
		log = logger.Discard()
	}
	return &Connection{
		Toolkit: connection.Toolkit{
			BaseURL:          p.BaseURL,
			Codec:            p.Codec,
			ResponseChannels: make(map[string]chan *protocol.SyncResponse),
		},
		Timeout:     timeout,
		logger:      log,
		events:      make(chan protocol.EventMessage, buffer),
		connCloseCh: make(chan int),
	}
}

// IsClosed reports whether the connection was closed by Close or lost.
func (c *Connection) IsClosed() bool {
	return c.closed.Load()
}

// Connect dials the hub. The events channel is closed when the connection
// is closed or lost.
func (c *Connection) Connect(ctx context.Context) error {
	if err := c.PreConnectionChecks(); err != nil {
		return err
	}
	dialer := &gorilla.Dialer{
		Proxy:             gorilla.DefaultDialer.Proxy,
		HandshakeTimeout:  gorilla.DefaultDialer.HandshakeTimeout,
		EnableCompression: true,
		Subprotocols:      []string{Subprotocol(c.Codec)},
	}
	conn, res, err := dialer.DialContext(ctx, wsURL(c.BaseURL)+constants.WSPath, nil)
	if err != nil {
		return connection.TransportError(err)
	}
	defer res.Body.Close()

	c.connLock.Lock()
	defer c.connLock.Unlock()

	c.Conn = conn
	for _, option := range c.Option {
		if err := option(c); err != nil {
			return err
		}
	}

	go c.readLoop(conn)
	return nil
}

func wsURL(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, constants.HTTPScheme+"://"):
		return constants.WebsocketScheme + strings.TrimPrefix(baseURL, constants.HTTPScheme)
	case strings.HasPrefix(baseURL, constants.HTTPSecureScheme+"://"):
		return constants.SecureWebsocketScheme + strings.TrimPrefix(baseURL, constants.HTTPSecureScheme)
	}
	return baseURL
}

func (c *Connection) SetTimeOut(timeout time.Duration) *Connection {
	c.Option = append(c.Option, func(ws *Connection) error {
		ws.Timeout = timeout
		return nil
	})
	return c
}

func (c *Connection) Logger(logData logger.Logger) *Connection {
	c.logger = logData
	return c
}

func (c *Connection) SetCompression(compress bool) *Connection {
	c.Option = append(c.Option, func(ws *Connection) error {
		ws.Conn.EnableWriteCompression(compress)
		return nil
	})
	return c
}

func (c *Connection) Events() <-chan protocol.EventMessage {
	return c.events
}

// Close sends a close message and closes the connection.
//
// The deadline of ctx bounds writing the close message. If ctx is done
// before, the connection is closed without waiting for the write.
func (c *Connection) Close(ctx context.Context) error {
	if c.IsClosed() {
		return nil
	}
	c.closeWithError(constants.ErrClosed)

	c.connLock.Lock()
	defer c.connLock.Unlock()

	conn := c.Conn
	c.Conn = nil
	if conn == nil {
		return nil
	}

	// Phase 1: tell the hub we are leaving. A failed write still closes
	// the connection locally.
	writeErr := make(chan error, 1)
	go func() {
		if deadline, ok := ctx.Deadline(); ok {
			if err := conn.SetWriteDeadline(deadline); err != nil {
				writeErr <- fmt.Errorf("failed to set write deadline: %w", err)
				return
			}
		}
		err := conn.WriteMessage(gorilla.CloseMessage, gorilla.FormatCloseMessage(constants.CloseMessageCode, ""))
		select {
		case writeErr <- err:
		case <-ctx.Done():
		}
	}()

	select {
	case err := <-writeErr:
		if err != nil {
			c.logger.Error("failed to write close message", "error", err)
		}
	case <-ctx.Done():
	}

	// Phase 2: close the underlying connection, this ends the readLoop.
	return conn.Close()
}

// Send writes req and waits for the response with the same ReqID.
func (c *Connection) Send(ctx context.Context, req *protocol.SyncRequest) (*protocol.SyncResponse, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	select {
	case <-c.connCloseCh:
		return nil, connection.TransportError(c.connCloseError)
	case <-ctx.Done():
		return nil, connection.TransportError(ctx.Err())
	default:
	}

	if req.ReqID == "" {
		req.ReqID = rand.NewRequestID(constants.RequestIDLength)
	}
	responseChan, err := c.CreateResponseChannel(req.ReqID)
	if err != nil {
		return nil, err
	}
	defer c.RemoveResponseChannel(req.ReqID)

	if err := c.write(&protocol.Envelope{Msg: protocol.EnvelopeSync, Request: req}); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, connection.TransportError(ctx.Err())
	case <-c.connCloseCh:
		return nil, connection.TransportError(c.connCloseError)
	case res := <-responseChan:
		return res, nil
	}
}

func (c *Connection) write(v any) error {
	data, err := c.Codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encode frame: %v", constants.ErrValidation, err)
	}

	c.connLock.Lock()
	defer c.connLock.Unlock()
	if c.Conn == nil {
		return connection.TransportError(constants.ErrClosed)
	}
	err = c.Conn.WriteMessage(gorilla.BinaryMessage, data)
	if errors.Is(err, gorilla.ErrCloseSent) {
		c.closeWithError(err)
	}
	return connection.TransportError(err)
}

func (c *Connection) closeWithError(err error) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.connCloseError = err
		close(c.connCloseCh)
	})
}

// readLoop is the only sender on the events channel and closes it on exit.
// Frames are handled in arrival order, so events keep their hub order.
func (c *Connection) readLoop(conn *gorilla.Conn) {
	defer close(c.events)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.handleError(err) {
				return
			}
			continue
		}
		c.handleFrame(data)
	}
}

// handleError returns true if the error indicates that the connection is
// closed and the readLoop should exit.
func (c *Connection) handleError(err error) bool {
	switch {
	case c.IsClosed():
		return true
	case errors.Is(err, net.ErrClosed):
		c.closeWithError(net.ErrClosed)
		return true
	case gorilla.IsUnexpectedCloseError(err), gorilla.IsCloseError(err, gorilla.CloseNormalClosure, gorilla.CloseGoingAway):
		c.closeWithError(io.ErrClosedPipe)
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF) {
		c.closeWithError(err)
		return true
	}
	c.logger.Error("failed to read frame", "error", err)
	return false
}

func (c *Connection) handleFrame(data []byte) {
	var env protocol.Envelope
	if err := c.Codec.Unmarshal(data, &env); err != nil {
		c.logger.Error("failed to decode frame", "error", err)
		return
	}
	switch env.Msg {
	case protocol.EnvelopeResponse:
		if env.Response == nil {
			c.logger.Error("response frame without response")
			return
		}
		responseChan, ok := c.GetResponseChannel(env.Response.ReqID)
		if !ok {
			c.logger.Warn("unavailable response channel", "req", env.Response.ReqID)
			return
		}
		c.RemoveResponseChannel(env.Response.ReqID)
		responseChan <- env.Response
	case protocol.EnvelopeEvent:
		if env.Event == nil {
			c.logger.Error("event frame without event")
			return
		}
		c.deliverEvent(*env.Event)
	default:
		c.logger.Error("unexpected frame", "msg", env.Msg)
	}
}

// deliverEvent never blocks the readLoop. When the events channel is full
// the event is dropped, the next delivered event is preceded by a resync
// event carrying the Seq of the last dropped one.
func (c *Connection) deliverEvent(ev protocol.EventMessage) {
	if c.dropped > 0 {
		resync := protocol.EventMessage{Seq: c.dropped, Type: protocol.EventResync, DB: ev.DB}
		select {
		case c.events <- resync:
			c.dropped = 0
		default:
			c.dropped = ev.Seq
			return
		}
	}
	select {
	case c.events <- ev:
	default:
		c.logger.Warn("event channel full, dropping event", "seq", ev.Seq)
		c.dropped = ev.Seq
	}
}
