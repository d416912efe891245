package fliox_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fliox "github.com/friflo/fliox.go"
	"github.com/friflo/fliox.go/pkg/connection"
	"github.com/friflo/fliox.go/pkg/connection/direct"
	"github.com/friflo/fliox.go/pkg/constants"
	"github.com/friflo/fliox.go/pkg/container/memory"
	"github.com/friflo/fliox.go/pkg/database"
	"github.com/friflo/fliox.go/pkg/filter"
	"github.com/friflo/fliox.go/pkg/hub"
	"github.com/friflo/fliox.go/pkg/models"
	"github.com/friflo/fliox.go/pkg/protocol"
)

type Job struct {
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
}

func newHub(t *testing.T) *hub.Hub {
	t.Helper()
	db := database.New(constants.DefaultDatabase, memory.NewBackend(),
		database.WithContainer("jobs", models.KeyInt),
		database.WithContainer("customers", models.KeyString),
		database.WithContainer("orders", models.KeyInt),
	)
	h := hub.New(hub.Info{Name: "test-hub", Version: "0.1.0"})
	h.AddDatabase(db)
	t.Cleanup(func() {
		assert.NoError(t, h.Close())
	})
	return h
}

func newClient(t *testing.T, opts ...fliox.Option) *fliox.Client {
	t.Helper()
	conn := direct.New(newHub(t), 0)
	t.Cleanup(func() {
		assert.NoError(t, conn.Close(context.Background()))
	})
	return fliox.New(conn, opts...)
}

func jobsOf(c *fliox.Client) *fliox.Container[int64, Job] {
	return fliox.NewContainer[int64, Job](c, "jobs", models.IntCodec[int64]{})
}

func TestClient_jobs(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)
	jobs := jobsOf(c)

	jobs.Create(1, Job{Title: "a"})
	jobs.Create(2, Job{Title: "b", Completed: true})
	completed := jobs.Query(filter.FieldEq("completed", true))
	require.Equal(t, 3, c.Pending())
	require.NoError(t, c.Sync(ctx))
	require.Equal(t, 0, c.Pending())

	require.Equal(t, []int64{2}, completed.Keys())
	assert.Equal(t, []Job{{Title: "b", Completed: true}}, completed.Values())

	del := jobs.Delete(1)
	all := jobs.QueryAll()
	require.NoError(t, c.Sync(ctx))

	assert.True(t, del.Existed())
	require.Len(t, all.All(), 1)
	assert.Equal(t, fliox.Entity[int64, Job]{Key: 2, Value: Job{Title: "b", Completed: true}}, all.All()[0])
}

func TestClient_tasks(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)
	jobs := jobsOf(c)

	jobs.Create(1, Job{Title: "a"})
	jobs.Create(2, Job{Title: "b"})
	require.NoError(t, c.Sync(ctx))

	read := jobs.Read(1, 3)
	patch := jobs.Patch(2, models.Document{"completed": true})
	upsert := jobs.Upsert(3, Job{Title: "c"})
	text := jobs.QueryText("completed == false").Limit(1)
	count := jobs.Count(nil)
	require.NoError(t, c.Sync(ctx))

	assert.Equal(t, &Job{Title: "a"}, read.Get(1))
	assert.True(t, read.Found(1))
	assert.False(t, read.Found(3))
	assert.Equal(t, map[int64]*Job{1: {Title: "a"}}, read.Result())
	assert.Equal(t, []int64{1, 3}, read.Keys())

	assert.Equal(t, &Job{Title: "b", Completed: true}, patch.Result())
	assert.NoError(t, upsert.Err())
	assert.Equal(t, int64(3), upsert.Key())
	assert.Equal(t, []int64{1}, text.Keys())
	assert.Equal(t, 3, count.Result())
}

func TestClient_taskState(t *testing.T) {
	c := newClient(t)
	jobs := jobsOf(c)

	create := jobs.Create(1, Job{Title: "a"})
	assert.ErrorIs(t, create.Err(), constants.ErrTaskNotSynced)
	assert.False(t, create.Synced())

	c.Clear()
	assert.Equal(t, 0, c.Pending())
	require.NoError(t, c.Sync(context.Background()))
	assert.ErrorIs(t, create.Err(), constants.ErrTaskNotSynced)
}

func TestClient_encodeError(t *testing.T) {
	c := newClient(t)
	values := fliox.NewContainer[int64, string](c, "jobs", models.IntCodec[int64]{})

	create := values.Create(1, "not an object")

	assert.Equal(t, 0, c.Pending())
	assert.True(t, create.Synced())
	assert.ErrorIs(t, create.Err(), constants.ErrValidation)
}

func TestClient_syncError(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)
	jobs := jobsOf(c)

	jobs.Create(1, Job{Title: "a"})
	require.NoError(t, c.Sync(ctx))

	first := jobs.Create(2, Job{Title: "b"})
	dup := jobs.Create(1, Job{Title: "dup"})
	patch := jobs.Patch(9, models.Document{"title": "x"})
	last := jobs.Create(3, Job{Title: "c"})
	err := c.Sync(ctx)

	var syncErr *fliox.SyncError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, 4, syncErr.Tasks)
	assert.Len(t, syncErr.Failed, 2)
	assert.ErrorIs(t, err, constants.ErrDuplicateKey)
	assert.ErrorIs(t, err, constants.ErrNotFound)

	assert.NoError(t, first.Err())
	assert.ErrorIs(t, dup.Err(), constants.ErrDuplicateKey)
	assert.ErrorIs(t, patch.Err(), constants.ErrNotFound)
	assert.NoError(t, last.Err())

	jobs.Create(1, Job{Title: "dup"})
	assert.NoError(t, c.TrySync(ctx))
}

func TestClient_std(t *testing.T) {
	c := newClient(t)

	echo := c.Echo("ping")
	host := c.Host()
	containers := c.Containers()
	stats := c.Stats()
	unknown := fliox.Command[any](c, "jobs.Unknown", nil)
	require.Error(t, c.Sync(context.Background()))

	assert.Equal(t, "ping", echo.Result())
	assert.Equal(t, "test-hub", host.Result().Name)
	assert.Equal(t, []string{"customers", "jobs", "orders"}, containers.Result())
	assert.Equal(t, constants.DefaultDatabase, stats.Result().Database)
	assert.ErrorIs(t, unknown.Err(), constants.ErrCommandNotFound)
}

func TestClient_events(t *testing.T) {
	ctx := context.Background()
	c := newClient(t, fliox.WithClientID("client-1"))
	jobs := jobsOf(c)
	assert.Equal(t, "client-1", c.ClientID())

	events, err := c.Events()
	require.NoError(t, err)

	sub := jobs.SubscribeChanges(models.ChangeCreate)
	msg := c.SubscribeMessage("std.*")
	require.NoError(t, c.Sync(ctx))
	require.NoError(t, sub.Err())
	require.NoError(t, msg.Err())

	jobs.Create(1, Job{Title: "a"})
	jobs.Upsert(1, Job{Title: "b"})
	c.Echo("hello")
	require.NoError(t, c.Sync(ctx))

	var received []protocol.EventMessage
	for len(received) < 2 {
		select {
		case ev := <-events:
			received = append(received, ev)
		case <-time.After(2 * time.Second):
			require.FailNow(t, "timeout waiting for events")
		}
	}
	assert.Equal(t, protocol.EventChange, received[0].Type)
	assert.Equal(t, models.IntKey(1), received[0].Change.Key)
	assert.Equal(t, protocol.EventMsg, received[1].Type)
	assert.Equal(t, "hello", received[1].Message.Param)

	jobs.UnsubscribeChanges()
	c.UnsubscribeMessage("std.*")
	require.NoError(t, c.Sync(ctx))
}

// flaky fails the first failures sends with a transport error.
type flaky struct {
	connection.Connection
	failures int
	reqIDs   []string
}

func (f *flaky) Send(ctx context.Context, req *protocol.SyncRequest) (*protocol.SyncResponse, error) {
	f.reqIDs = append(f.reqIDs, req.ReqID)
	if len(f.reqIDs) <= f.failures {
		return nil, connection.TransportError(errors.New("connection reset"))
	}
	return f.Connection.Send(ctx, req)
}

func TestClient_retry(t *testing.T) {
	testCases := []struct {
		name      string
		failures  int
		retries   int
		buffer    func(jobs *fliox.Container[int64, Job])
		sends     int
		expectErr []error
	}{
		{
			name:     "idempotent batch is retried",
			failures: 2,
			retries:  2,
			buffer: func(jobs *fliox.Container[int64, Job]) {
				jobs.Upsert(1, Job{Title: "a"})
				jobs.Read(1)
				jobs.Delete(2)
			},
			sends: 3,
		},
		{
			name:     "retries exhausted",
			failures: 3,
			retries:  2,
			buffer: func(jobs *fliox.Container[int64, Job]) {
				jobs.QueryAll()
			},
			sends:     3,
			expectErr: []error{constants.ErrTransport},
		},
		{
			name:     "create is not retried",
			failures: 1,
			retries:  3,
			buffer: func(jobs *fliox.Container[int64, Job]) {
				jobs.Read(1)
				jobs.Create(1, Job{Title: "a"})
			},
			sends:     1,
			expectErr: []error{constants.ErrRetryUnsafe, constants.ErrTransport},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			conn := &flaky{Connection: direct.New(newHub(t), 0), failures: tc.failures}
			c := fliox.New(conn, fliox.WithRetry(tc.retries), fliox.WithTimeout(time.Second))
			jobs := jobsOf(c)
			tc.buffer(jobs)
			read := jobs.Read(1)

			err := c.Sync(context.Background())

			require.Len(t, conn.reqIDs, tc.sends)
			for _, id := range conn.reqIDs {
				assert.Equal(t, conn.reqIDs[0], id)
			}
			if len(tc.expectErr) == 0 {
				require.NoError(t, err)
				require.NoError(t, read.Err())
				return
			}
			for _, expect := range tc.expectErr {
				assert.ErrorIs(t, err, expect)
				assert.ErrorIs(t, read.Err(), expect)
			}
		})
	}
}

type noEvents struct {
	connection.Connection
}

func TestClient_noEvents(t *testing.T) {
	c := fliox.New(noEvents{Connection: direct.New(newHub(t), 0)}, fliox.WithDatabase("other"))
	assert.Equal(t, "other", c.Database())

	_, err := c.Events()
	assert.ErrorIs(t, err, constants.ErrNoEvents)

	jobsOf(c).Read(1)
	err = c.Sync(context.Background())
	assert.ErrorIs(t, err, constants.ErrDatabaseNotFound)
}

func ExampleClient() {
	h := hub.New(hub.Info{Name: "example"})
	h.AddDatabase(database.New(constants.DefaultDatabase, memory.NewBackend()))
	c := fliox.New(direct.New(h, 0))
	jobs := fliox.NewContainer[int64, Job](c, "jobs", models.IntCodec[int64]{})

	jobs.Create(1, Job{Title: "buy milk"})
	jobs.Create(2, Job{Title: "write tests", Completed: true})
	open := jobs.QueryText("completed == false")
	if err := c.Sync(context.Background()); err != nil {
		panic(err)
	}
	for _, job := range open.All() {
		fmt.Println(job.Key, job.Value.Title)
	}
	// Output: 1 buy milk
}
