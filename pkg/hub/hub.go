// Package hub executes sync requests against the databases it serves and
// distributes the resulting change events to subscribed clients.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/friflo/fliox.go/pkg/constants"
	"github.com/friflo/fliox.go/pkg/database"
	"github.com/friflo/fliox.go/pkg/logger"
	"github.com/friflo/fliox.go/pkg/metrics"
	"github.com/friflo/fliox.go/pkg/protocol"
)

// Info describes the hub. It is owned by the Hub and handed to commands.
type Info = protocol.HubInfo

type Hub struct {
	info      Info
	logger    logger.Logger
	metrics   *metrics.Metrics
	queueSize int
	overflow  Overflow

	mu        sync.RWMutex
	databases map[string]*served
}

type served struct {
	db     *database.Database
	broker *Broker
}

type Option func(h *Hub)

func WithLogger(l logger.Logger) Option {
	return func(h *Hub) {
		h.logger = l
	}
}

// WithMetrics records request, task and event metrics. Metrics are not
// recorded by default.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) {
		h.metrics = m
	}
}

// WithEventQueue sets the event queue length per subscriber and the policy
// applied when a queue is full.
func WithEventQueue(size int, overflow Overflow) Option {
	return func(h *Hub) {
		h.queueSize = size
		h.overflow = overflow
	}
}

func New(info Info, opts ...Option) *Hub {
	h := &Hub{
		info:      info,
		logger:    logger.Discard(),
		queueSize: constants.DefaultEventQueueSize,
		overflow:  DropOldest,
		databases: make(map[string]*served),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) Info() Info {
	return h.info
}

func (h *Hub) Metrics() *metrics.Metrics {
	return h.metrics
}

// AddDatabase serves db and registers the std commands at it. A database
// with the same name is replaced.
func (h *Hub) AddDatabase(db *database.Database) {
	registerStd(h, db)
	broker := NewBroker(db.Name(), h.queueSize, h.overflow, h.logger, h.metrics)

	h.mu.Lock()
	old := h.databases[db.Name()]
	h.databases[db.Name()] = &served{db: db, broker: broker}
	h.mu.Unlock()

	if old != nil {
		old.broker.Close()
	}
}

func (h *Hub) Database(name string) (*database.Database, error) {
	s, err := h.served(name)
	if err != nil {
		return nil, err
	}
	return s.db, nil
}

// Broker returns the broker of the named database.
func (h *Hub) Broker(name string) (*Broker, error) {
	s, err := h.served(name)
	if err != nil {
		return nil, err
	}
	return s.broker, nil
}

func (h *Hub) DatabaseNames() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.databases))
	for name := range h.databases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (h *Hub) served(name string) (*served, error) {
	if name == "" {
		name = constants.DefaultDatabase
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	s, ok := h.databases[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", constants.ErrDatabaseNotFound, name)
	}
	return s, nil
}

// Disconnect removes the subscriptions of a client from all databases.
func (h *Hub) Disconnect(clientID string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.databases {
		s.broker.Unsubscribe(clientID)
	}
}

// Close stops event delivery and closes all databases.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var errs []error
	for _, s := range h.databases {
		s.broker.Close()
		errs = append(errs, s.db.Close())
	}
	h.databases = make(map[string]*served)
	return errors.Join(errs...)
}

// Session is the connection a request was received on.
type Session struct {
	// ClientID overrides the client id of requests. It is set by connections
	// authenticating their client.
	ClientID string
	// Target receives the events of subscriptions made with the session.
	// Sessions without a target cannot subscribe.
	Target EventTarget
}

func (s *Session) clientID(req *protocol.SyncRequest) string {
	if s != nil && s.ClientID != "" {
		return s.ClientID
	}
	return req.ClientID
}

func (s *Session) target() EventTarget {
	if s == nil {
		return nil
	}
	return s.Target
}

// Execute runs the tasks of req in order and returns one result per task.
// A failing task never stops the tasks following it. Errors of the request
// as a whole are returned in SyncResponse.Error.
func (h *Hub) Execute(ctx context.Context, req *protocol.SyncRequest, sess *Session) *protocol.SyncResponse {
	start := time.Now()
	resp := &protocol.SyncResponse{ReqID: req.ReqID, Database: req.Database, ClientID: sess.clientID(req)}

	s, err := h.served(req.Database)
	if err != nil {
		resp.Error = protocol.NewTaskError(err)
		h.metrics.ObserveSync(req.Database, "error", time.Since(start))
		return resp
	}
	if len(req.Tasks) == 0 {
		resp.Error = protocol.NewTaskError(fmt.Errorf("%w: empty sync request", constants.ErrValidation))
		h.metrics.ObserveSync(s.db.Name(), "error", time.Since(start))
		return resp
	}
	if timeout, ok := req.Deadline(); ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	x := &execution{hub: h, served: s, req: req, sess: sess, clientID: resp.ClientID}
	resp.Results = make([]protocol.TaskResult, len(req.Tasks))
	for i := range req.Tasks {
		resp.Results[i] = x.run(ctx, &req.Tasks[i])
	}

	h.metrics.ObserveSync(s.db.Name(), "ok", time.Since(start))
	return resp
}
