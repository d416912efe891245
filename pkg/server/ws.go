package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/lxzan/gws"
	"golang.org/x/sync/errgroup"

	"github.com/friflo/fliox.go/internal/codec"
	"github.com/friflo/fliox.go/internal/rand"
	"github.com/friflo/fliox.go/pkg/constants"
	"github.com/friflo/fliox.go/pkg/hub"
	"github.com/friflo/fliox.go/pkg/protocol"
)

const (
	closeGoingAway = 1001
	// closePolicy is sent to a client disconnected for not keeping up
	// with its events.
	closePolicy = 1008
)

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	c := codecOf(r.Header.Values("Sec-WebSocket-Protocol"))

	socket, err := s.upgrader.Upgrade(w, r)
	if err != nil {
		s.logger.Warn("failed to upgrade connection", "remote", r.RemoteAddr, "error", err)
		return
	}
	sess := s.newSession(socket, c)

	s.mu.Lock()
	s.sessions[socket] = sess
	s.mu.Unlock()

	go sess.writeLoop()
	socket.ReadLoop()
}

// codecOf picks the frame codec from the subprotocols offered by the
// client. Clients offering none get JSON.
func codecOf(offered []string) codec.Codec {
	for _, header := range offered {
		for _, p := range strings.Split(header, ",") {
			switch strings.TrimSpace(p) {
			case constants.SubprotocolCBOR:
				return codec.NewCBOR()
			case constants.SubprotocolJSON:
				return codec.NewJSON()
			}
		}
	}
	return codec.NewJSON()
}

// wsSession is one WebSocket connection. It is the event target of the
// subscriptions made with its requests. Responses and events are written
// by writeLoop in the order they were queued.
type wsSession struct {
	server   *Server
	socket   *gws.Conn
	codec    codec.Codec
	opcode   gws.Opcode
	clientID string

	outbound chan []byte
	requests *errgroup.Group

	done      chan struct{}
	closeOnce sync.Once
}

var _ hub.EventTarget = (*wsSession)(nil)

func (s *Server) newSession(socket *gws.Conn, c codec.Codec) *wsSession {
	opcode := gws.OpcodeText
	if c.ContentType() == codec.CBORContentType {
		opcode = gws.OpcodeBinary
	}
	requests := &errgroup.Group{}
	requests.SetLimit(s.inflight)
	return &wsSession{
		server:   s,
		socket:   socket,
		codec:    c,
		opcode:   opcode,
		clientID: rand.NewClientID(),
		outbound: make(chan []byte, s.outboundQueue),
		requests: requests,
		done:     make(chan struct{}),
	}
}

// SendEvent blocks while the outbound queue is full. The broker delivers
// events of each subscriber from its own goroutine, so a slow connection
// only fills its own event queue.
func (ws *wsSession) SendEvent(ev protocol.EventMessage) error {
	return ws.send(&protocol.Envelope{Msg: protocol.EnvelopeEvent, Event: &ev})
}

func (ws *wsSession) Done() <-chan struct{} {
	return ws.done
}

func (ws *wsSession) Disconnect() {
	ws.server.logger.Warn("disconnecting slow client", "client", ws.clientID)
	ws.closeSocket(closePolicy, "event queue overflow")
}

func (ws *wsSession) send(env *protocol.Envelope) error {
	data, err := ws.codec.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", env.Msg, err)
	}
	select {
	case ws.outbound <- data:
		return nil
	case <-ws.done:
		return constants.ErrClosed
	}
}

func (ws *wsSession) writeLoop() {
	for {
		select {
		case <-ws.done:
			return
		case data := <-ws.outbound:
			if err := ws.socket.WriteMessage(ws.opcode, data); err != nil {
				ws.server.logger.Debug("failed to write frame", "client", ws.clientID, "error", err)
				ws.close()
				return
			}
		}
	}
}

// execute runs on a goroutine of the requests group. Requests without a
// client id act for the client id assigned to the connection.
func (ws *wsSession) execute(req *protocol.SyncRequest) {
	sess := &hub.Session{ClientID: req.ClientID, Target: ws}
	if sess.ClientID == "" {
		sess.ClientID = ws.clientID
	}
	resp := ws.server.hub.Execute(ws.server.ctx, req, sess)
	if err := ws.send(&protocol.Envelope{Msg: protocol.EnvelopeResponse, Response: resp}); err != nil && !errors.Is(err, constants.ErrClosed) {
		ws.server.logger.Error("failed to send response", "req", req.ReqID, "error", err)
	}
}

func (ws *wsSession) closeSocket(code uint16, reason string) {
	ws.socket.WriteClose(code, []byte(reason))
	ws.close()
}

// close ends the session. Closing done removes the subscriptions made on
// the connection from every broker.
func (ws *wsSession) close() {
	ws.closeOnce.Do(func() {
		close(ws.done)
	})
}

type handler struct {
	server *Server
}

func (h *handler) session(socket *gws.Conn) (*wsSession, bool) {
	h.server.mu.Lock()
	defer h.server.mu.Unlock()
	sess, ok := h.server.sessions[socket]
	return sess, ok
}

func (h *handler) OnOpen(socket *gws.Conn) {
	h.server.hub.Metrics().ConnectionOpened()
	if sess, ok := h.session(socket); ok {
		h.server.logger.Debug("connection opened", "client", sess.clientID, "codec", sess.codec.ContentType())
	}
}

func (h *handler) OnClose(socket *gws.Conn, err error) {
	h.server.mu.Lock()
	sess, ok := h.server.sessions[socket]
	delete(h.server.sessions, socket)
	h.server.mu.Unlock()

	h.server.hub.Metrics().ConnectionClosed()
	if !ok {
		return
	}
	sess.close()
	h.server.logger.Debug("connection closed", "client", sess.clientID, "error", err)
}

func (h *handler) OnPing(socket *gws.Conn, payload []byte) {
	if err := socket.WritePong(payload); err != nil {
		h.server.logger.Debug("failed to write pong", "error", err)
	}
}

func (h *handler) OnPong(_ *gws.Conn, _ []byte) {
}

// OnMessage decodes frames in arrival order. Requests are executed
// concurrently, their responses may be sent in a different order.
func (h *handler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()

	sess, ok := h.session(socket)
	if !ok {
		return
	}
	var env protocol.Envelope
	if err := sess.codec.Unmarshal(message.Bytes(), &env); err != nil {
		h.server.logger.Warn("failed to decode frame", "client", sess.clientID, "error", err)
		return
	}
	if env.Msg != protocol.EnvelopeSync || env.Request == nil {
		h.server.logger.Warn("unexpected frame", "client", sess.clientID, "msg", env.Msg)
		return
	}
	req := env.Request
	sess.requests.Go(func() error {
		sess.execute(req)
		return nil
	})
}
