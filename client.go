package fliox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/friflo/fliox.go/internal/rand"
	"github.com/friflo/fliox.go/pkg/connection"
	"github.com/friflo/fliox.go/pkg/constants"
	"github.com/friflo/fliox.go/pkg/logger"
	"github.com/friflo/fliox.go/pkg/protocol"
)

// Client buffers tasks until Sync sends them to the hub in one request.
// Creating tasks and Sync are safe for concurrent use. A task is owned by the
// sync that sends it, its results must not be read before that sync returned.
type Client struct {
	conn     connection.Connection
	database string
	clientID string
	timeout  time.Duration
	retries  int
	logger   logger.Logger

	mu      sync.Mutex
	pending []task
}

type Option func(c *Client)

// WithDatabase selects the hub database. Default is constants.DefaultDatabase.
func WithDatabase(name string) Option {
	return func(c *Client) {
		c.database = name
	}
}

// WithClientID sets the id subscriptions are registered with. Default is a
// random UUID.
func WithClientID(id string) Option {
	return func(c *Client) {
		c.clientID = id
	}
}

// WithTimeout sets the deadline the hub applies to every sync request.
// Tasks started after the deadline fail with a TimeoutError.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithRetry re-sends a request up to n times after a transport failure. Only
// requests consisting of idempotent tasks are retried, see
// [protocol.TaskType.Idempotent]. Other requests fail with an error wrapping
// constants.ErrRetryUnsafe and the transport error.
func WithRetry(n int) Option {
	return func(c *Client) {
		c.retries = n
	}
}

func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

func New(conn connection.Connection, opts ...Option) *Client {
	c := &Client{
		conn:     conn,
		database: constants.DefaultDatabase,
		clientID: rand.NewClientID(),
		logger:   logger.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) ClientID() string {
	return c.clientID
}

func (c *Client) Database() string {
	return c.database
}

func (c *Client) Connection() connection.Connection {
	return c.conn
}

// Pending returns the number of tasks waiting for the next sync.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Clear drops all pending tasks. Their Err stays constants.ErrTaskNotSynced.
func (c *Client) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = nil
}

func (c *Client) add(t task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, t)
}

// Events returns the channel of events pushed by the hub for the
// subscriptions of this client.
func (c *Client) Events() (<-chan protocol.EventMessage, error) {
	src, ok := c.conn.(connection.EventSource)
	if !ok {
		return nil, constants.ErrNoEvents
	}
	return src.Events(), nil
}

// TrySync sends all pending tasks in one request and applies each result to
// its task. It returns an error only when the request as a whole failed, in
// that case every task of the request carries that error.
func (c *Client) TrySync(ctx context.Context) error {
	_, err := c.sync(ctx)
	return err
}

// Sync is TrySync, additionally failing with a *SyncError when any task
// of the request failed.
func (c *Client) Sync(ctx context.Context) error {
	tasks, err := c.sync(ctx)
	if err != nil {
		return err
	}
	var failed []error
	for _, t := range tasks {
		if err := t.Err(); err != nil {
			failed = append(failed, err)
		}
	}
	if len(failed) > 0 {
		return &SyncError{Tasks: len(tasks), Failed: failed}
	}
	return nil
}

func (c *Client) sync(ctx context.Context) ([]task, error) {
	c.mu.Lock()
	tasks := c.pending
	c.pending = nil
	c.mu.Unlock()

	if len(tasks) == 0 {
		return nil, nil
	}
	req := &protocol.SyncRequest{
		Database: c.database,
		ClientID: c.clientID,
		ReqID:    rand.NewRequestID(constants.RequestIDLength),
		Tasks:    make([]protocol.SyncTask, len(tasks)),
	}
	if c.timeout > 0 {
		req.Timeout = c.timeout.Milliseconds()
	}
	for i, t := range tasks {
		req.Tasks[i] = t.request()
	}

	resp, err := c.send(ctx, req)
	if err != nil {
		for _, t := range tasks {
			t.fail(err)
		}
		return tasks, err
	}
	for i, t := range tasks {
		t.apply(&resp.Results[i])
	}
	return tasks, nil
}

func (c *Client) send(ctx context.Context, req *protocol.SyncRequest) (*protocol.SyncResponse, error) {
	for attempt := 0; ; attempt++ {
		resp, err := c.conn.Send(ctx, req)
		if err == nil {
			if err := resp.Check(req); err != nil {
				return nil, err
			}
			return resp, nil
		}
		if !errors.Is(err, constants.ErrTransport) || attempt >= c.retries || ctx.Err() != nil {
			return nil, err
		}
		if !req.Idempotent() {
			return nil, fmt.Errorf("%w: %w", constants.ErrRetryUnsafe, err)
		}
		c.logger.Warn("sync failed, retrying", "req", req.ReqID, "attempt", attempt+1, "error", err)
	}
}

// SyncError reports the tasks failed by a sync. errors.Is matches the
// errors of all failed tasks.
type SyncError struct {
	Tasks  int
	Failed []error
}

func (e *SyncError) Error() string {
	msgs := make([]string, len(e.Failed))
	for i, err := range e.Failed {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d of %d tasks failed: %s", len(e.Failed), e.Tasks, strings.Join(msgs, "; "))
}

func (e *SyncError) Unwrap() []error {
	return e.Failed
}
