// Package server exposes a hub over HTTP. Sync requests are accepted as
// single POSTs on /sync and on WebSocket connections at /ws, which also
// carry the events of the subscriptions made on them.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/lxzan/gws"

	"github.com/friflo/fliox.go/internal/codec"
	"github.com/friflo/fliox.go/pkg/constants"
	"github.com/friflo/fliox.go/pkg/hub"
	"github.com/friflo/fliox.go/pkg/logger"
	"github.com/friflo/fliox.go/pkg/protocol"
)

const (
	// maxRequestSize limits the body of a sync request and a WebSocket frame.
	maxRequestSize = 16 << 20
	// defaultInflight is the number of requests of one WebSocket connection
	// executed concurrently.
	defaultInflight = 8
	shutdownTimeout = 5 * time.Second
)

type Server struct {
	hub      *hub.Hub
	logger   logger.Logger
	router   *mux.Router
	upgrader *gws.Upgrader

	outboundQueue int
	inflight      int

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[*gws.Conn]*wsSession
}

type Option func(s *Server)

func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithOutboundQueue sets the number of frames buffered per WebSocket
// connection before writers block.
func WithOutboundQueue(size int) Option {
	return func(s *Server) {
		s.outboundQueue = size
	}
}

// WithInflight sets the number of requests of one WebSocket connection
// executed concurrently. Reading further frames waits for a free slot.
func WithInflight(n int) Option {
	return func(s *Server) {
		s.inflight = n
	}
}

func New(h *hub.Hub, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		hub:           h,
		logger:        logger.Discard(),
		outboundQueue: constants.DefaultOutboundQueueSize,
		inflight:      defaultInflight,
		ctx:           ctx,
		cancel:        cancel,
		sessions:      make(map[*gws.Conn]*wsSession),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.upgrader = gws.NewUpgrader(&handler{server: s}, &gws.ServerOption{
		SubProtocols:        []string{constants.SubprotocolJSON, constants.SubprotocolCBOR},
		ReadMaxPayloadSize:  maxRequestSize,
		WriteMaxPayloadSize: maxRequestSize,
	})

	r := mux.NewRouter()
	r.HandleFunc(constants.SyncPath, s.handleSync).Methods(http.MethodPost)
	r.HandleFunc(constants.WSPath, s.handleWS).Methods(http.MethodGet)
	r.HandleFunc(constants.HealthPath, s.handleHealth).Methods(http.MethodGet)
	r.Handle(constants.MetricsPath, h.Metrics().Handler()).Methods(http.MethodGet)
	s.router = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done, then shuts down the
// listener and closes open WebSocket connections.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	s.logger.Info("shutting down", "addr", addr)
	s.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close cancels running requests of WebSocket connections and closes them.
func (s *Server) Close() {
	s.cancel()

	s.mu.Lock()
	sessions := make([]*wsSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.closeSocket(closeGoingAway, "hub shutdown")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "ok")
}

// handleSync executes one request. Requests that cannot be decoded are
// answered with a JSON error body and status 400. Every decoded request
// is answered with status 200, errors of the request or its tasks are
// part of the response.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	c := codec.ByContentType(mediaType(r.Header.Get("Content-Type")))

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestSize))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("%w: read request: %v", constants.ErrValidation, err))
		return
	}
	var req protocol.SyncRequest
	if err := c.Unmarshal(body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("%w: decode request: %v", constants.ErrValidation, err))
		return
	}

	resp := s.hub.Execute(r.Context(), &req, nil)

	data, err := c.Marshal(resp)
	if err != nil {
		s.logger.Error("failed to encode response", "req", req.ReqID, "error", err)
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", c.ContentType())
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Debug("failed to write response", "req", req.ReqID, "error", err)
	}
}

// writeError always answers in JSON, the codec of the request may be the
// reason it failed.
func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	data, encErr := codec.NewJSON().Marshal(&protocol.SyncResponse{Error: protocol.NewTaskError(err)})
	if encErr != nil {
		http.Error(w, err.Error(), status)
		return
	}
	w.Header().Set("Content-Type", codec.JSONContentType)
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func mediaType(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	return strings.TrimSpace(mt)
}
