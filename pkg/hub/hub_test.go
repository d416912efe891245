package hub_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fliox "github.com/friflo/fliox.go"
	"github.com/friflo/fliox.go/pkg/constants"
	"github.com/friflo/fliox.go/pkg/container/memory"
	"github.com/friflo/fliox.go/pkg/database"
	"github.com/friflo/fliox.go/pkg/filter"
	"github.com/friflo/fliox.go/pkg/hub"
	"github.com/friflo/fliox.go/pkg/metrics"
	"github.com/friflo/fliox.go/pkg/models"
	"github.com/friflo/fliox.go/pkg/protocol"
)

var testInfo = hub.Info{Name: "test-hub", Version: "0.1.0", Endpoint: "http://localhost:8010"}

func newHub(t *testing.T, opts ...hub.Option) (*hub.Hub, *database.Database) {
	t.Helper()
	db := database.New(constants.DefaultDatabase, memory.NewBackend(),
		database.WithContainer("jobs", models.KeyInt),
		database.WithContainer("orders", models.KeyString),
	)
	h := hub.New(testInfo, opts...)
	h.AddDatabase(db)
	t.Cleanup(func() {
		assert.NoError(t, h.Close())
	})
	return h, db
}

func keyOf(k models.EntityKey) *models.EntityKey {
	return &k
}

func createJob(id int64, title string, completed bool) protocol.SyncTask {
	return protocol.SyncTask{
		Type:      protocol.TaskCreate,
		Container: "jobs",
		Key:       keyOf(models.IntKey(id)),
		Doc:       models.Document{"title": title, "completed": completed},
	}
}

func request(tasks ...protocol.SyncTask) *protocol.SyncRequest {
	return &protocol.SyncRequest{ReqID: "r1", ClientID: "c1", Tasks: tasks}
}

func requireKind(t *testing.T, res protocol.TaskResult, kind protocol.ErrorKind) {
	t.Helper()
	require.NotNil(t, res.Error, "expected %s", kind)
	assert.Equal(t, kind, res.Error.Kind)
}

func TestExecute_failureIsolation(t *testing.T) {
	h, _ := newHub(t)

	resp := h.Execute(context.Background(), request(
		createJob(1, "a", false),
		createJob(2, "b", true),
		createJob(1, "duplicate", true),
		protocol.SyncTask{Type: protocol.TaskRead, Container: "jobs", Keys: []models.EntityKey{models.IntKey(1), models.IntKey(3)}},
		protocol.SyncTask{Type: protocol.TaskQuery, Container: "jobs", Filter: filter.FieldEq("completed", true)},
	), nil)

	require.Nil(t, resp.Error)
	assert.Equal(t, "r1", resp.ReqID)
	require.Len(t, resp.Results, 5)

	for _, i := range []int{0, 1, 3, 4} {
		assert.Nil(t, resp.Results[i].Error, "task %d", i)
	}
	requireKind(t, resp.Results[2], protocol.DuplicateKeyError)
	assert.True(t, errors.Is(resp.Results[2].Error, constants.ErrDuplicateKey))

	read := resp.Results[3]
	require.Len(t, read.Entities, 2)
	assert.Equal(t, "a", read.Entities[0].Doc["title"])
	assert.Nil(t, read.Entities[1].Doc)

	query := resp.Results[4]
	require.Len(t, query.Entities, 1)
	assert.Equal(t, models.IntKey(2), query.Entities[0].Key)
}

func TestExecute_requestErrors(t *testing.T) {
	h, _ := newHub(t)

	testCases := []struct {
		name string
		req  *protocol.SyncRequest
		kind protocol.ErrorKind
	}{
		{
			name: "unknown database",
			req:  &protocol.SyncRequest{Database: "other", Tasks: []protocol.SyncTask{createJob(1, "a", false)}},
			kind: protocol.DatabaseNotFoundError,
		},
		{
			name: "empty request",
			req:  &protocol.SyncRequest{},
			kind: protocol.ValidationError,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp := h.Execute(context.Background(), tc.req, nil)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tc.kind, resp.Error.Kind)
			assert.Empty(t, resp.Results)
		})
	}
}

func TestExecute_taskErrors(t *testing.T) {
	h, _ := newHub(t)

	testCases := []struct {
		name string
		task protocol.SyncTask
		kind protocol.ErrorKind
	}{
		{
			name: "string key in int container",
			task: protocol.SyncTask{Type: protocol.TaskCreate, Container: "jobs", Key: keyOf(models.StringKey("1")), Doc: models.Document{}},
			kind: protocol.KeyFormatError,
		},
		{
			name: "null key",
			task: protocol.SyncTask{Type: protocol.TaskDelete, Container: "jobs", Key: keyOf(models.NullKey())},
			kind: protocol.KeyFormatError,
		},
		{
			name: "patch absent",
			task: protocol.SyncTask{Type: protocol.TaskPatch, Container: "jobs", Key: keyOf(models.IntKey(9)), Doc: models.Document{"a": 1}},
			kind: protocol.NotFoundError,
		},
		{
			name: "unknown command",
			task: protocol.SyncTask{Type: protocol.TaskCommand, Name: "jobs.Unknown"},
			kind: protocol.CommandNotFoundError,
		},
		{
			name: "invalid filter text",
			task: protocol.SyncTask{Type: protocol.TaskQuery, Container: "jobs", FilterText: "completed =="},
			kind: protocol.ValidationError,
		},
		{
			name: "subscribe without event target",
			task: protocol.SyncTask{Type: protocol.TaskSubscribeChanges, Container: "jobs", Changes: []models.ChangeType{models.ChangeCreate}},
			kind: protocol.ValidationError,
		},
		{
			name: "unknown task",
			task: protocol.SyncTask{Type: "merge", Container: "jobs"},
			kind: protocol.ValidationError,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp := h.Execute(context.Background(), request(tc.task, createJob(1, "a", false)), nil)
			require.Nil(t, resp.Error)
			require.Len(t, resp.Results, 2)
			requireKind(t, resp.Results[0], tc.kind)
			assert.Nil(t, resp.Results[1].Error)

			resp = h.Execute(context.Background(), request(protocol.SyncTask{
				Type: protocol.TaskDelete, Container: "jobs", Key: keyOf(models.IntKey(1)),
			}), nil)
			require.Nil(t, resp.Results[0].Error)
		})
	}
}

func TestExecute_deleteResult(t *testing.T) {
	h, _ := newHub(t)
	del := protocol.SyncTask{Type: protocol.TaskDelete, Container: "jobs", Key: keyOf(models.IntKey(1))}

	resp := h.Execute(context.Background(), request(createJob(1, "a", false), del, del), nil)

	require.Len(t, resp.Results, 3)
	assert.Equal(t, true, resp.Results[1].Result)
	assert.Equal(t, false, resp.Results[2].Result)
}

func TestExecute_timeout(t *testing.T) {
	h, db := newHub(t)
	db.AddHandler("jobs.Slow", func(cmd *database.Command, _ any) (any, error) {
		<-cmd.Context.Done()
		return nil, cmd.Context.Err()
	})

	req := request(
		createJob(1, "a", false),
		protocol.SyncTask{Type: protocol.TaskCommand, Name: "jobs.Slow"},
		createJob(2, "b", false),
	)
	req.Timeout = 20

	resp := h.Execute(context.Background(), req, nil)

	require.Nil(t, resp.Error)
	require.Len(t, resp.Results, 3)
	assert.Nil(t, resp.Results[0].Error)
	requireKind(t, resp.Results[1], protocol.TimeoutError)
	requireKind(t, resp.Results[2], protocol.TimeoutError)
	assert.True(t, errors.Is(resp.Results[2].Error, constants.ErrTimeout))
}

type deleteParam struct {
	Completed bool `json:"completed"`
}

// deleteJobs deletes the jobs matching the completed flag using two syncs of
// the command client.
func deleteJobs(cmd *database.Command, param deleteParam) (int, error) {
	jobs := fliox.NewContainer[int64, models.Document](cmd.Client, "jobs", models.IntCodec[int64]{})
	query := jobs.Query(filter.FieldEq("completed", param.Completed))
	if err := cmd.Client.Sync(cmd.Context); err != nil {
		return 0, err
	}
	for _, key := range query.Keys() {
		jobs.Delete(key)
	}
	if err := cmd.Client.Sync(cmd.Context); err != nil {
		return 0, err
	}
	return len(query.Keys()), nil
}

func TestExecute_nestedCommand(t *testing.T) {
	h, db := newHub(t)
	database.AddCommand(db, "jobs.DeleteCompleted", deleteJobs)

	resp := h.Execute(context.Background(), request(
		createJob(1, "a", false),
		createJob(2, "b", true),
		createJob(3, "c", true),
		protocol.SyncTask{Type: protocol.TaskCommand, Name: "jobs.DeleteCompleted", Param: deleteParam{Completed: true}},
		protocol.SyncTask{Type: protocol.TaskQuery, Container: "jobs"},
	), nil)

	require.Len(t, resp.Results, 5)
	require.Nil(t, resp.Results[3].Error)
	assert.Equal(t, 2, resp.Results[3].Result)
	require.Len(t, resp.Results[4].Entities, 1)
	assert.Equal(t, models.IntKey(1), resp.Results[4].Entities[0].Key)
}

func TestExecute_commandValidation(t *testing.T) {
	h, db := newHub(t)
	database.AddCommand(db, "jobs.DeleteCompleted", deleteJobs)

	resp := h.Execute(context.Background(), request(
		protocol.SyncTask{Type: protocol.TaskCommand, Name: "jobs.DeleteCompleted", Param: map[string]any{"done": true}},
		protocol.SyncTask{Type: protocol.TaskCommand, Name: protocol.StdCount, Param: map[string]any{}},
	), nil)

	requireKind(t, resp.Results[0], protocol.ValidationError)
	requireKind(t, resp.Results[1], protocol.ValidationError)
}

func TestExecute_commandError(t *testing.T) {
	h, db := newHub(t)
	db.AddHandler("jobs.Fail", func(*database.Command, any) (any, error) {
		return nil, errors.New("boom")
	})

	resp := h.Execute(context.Background(), request(protocol.SyncTask{Type: protocol.TaskCommand, Name: "jobs.Fail"}), nil)

	requireKind(t, resp.Results[0], protocol.CommandError)
	assert.Contains(t, resp.Results[0].Error.Message, "boom")
}

func TestStdCommands(t *testing.T) {
	h, _ := newHub(t)
	command := func(name string, param any) protocol.SyncTask {
		return protocol.SyncTask{Type: protocol.TaskCommand, Name: name, Param: param}
	}

	resp := h.Execute(context.Background(), request(
		createJob(1, "a", false),
		createJob(2, "b", true),
		command(protocol.StdEcho, "hello"),
		command(protocol.StdHost, nil),
		command(protocol.StdContainers, nil),
		command(protocol.StdCount, protocol.CountParam{Container: "jobs", FilterText: "completed == true"}),
		command(protocol.StdStats, nil),
	), nil)

	require.Len(t, resp.Results, 7)
	for i, res := range resp.Results {
		require.Nil(t, res.Error, "task %d", i)
	}
	assert.Equal(t, "hello", resp.Results[2].Result)
	assert.Equal(t, testInfo, resp.Results[3].Result)
	assert.Equal(t, []string{"jobs", "orders"}, resp.Results[4].Result)
	assert.Equal(t, 1, resp.Results[5].Result)

	stats, ok := resp.Results[6].Result.(protocol.DatabaseStats)
	require.True(t, ok)
	assert.Equal(t, constants.DefaultDatabase, stats.Database)
	assert.Contains(t, stats.Commands, protocol.StdStats)
	assert.Equal(t, []protocol.ContainerStats{{Name: "jobs", Count: 2}, {Name: "orders", Count: 0}}, stats.Containers)
}

func TestExecute_metrics(t *testing.T) {
	m := metrics.New()
	h, _ := newHub(t, hub.WithMetrics(m))

	h.Execute(context.Background(), request(createJob(1, "a", false), createJob(1, "a", false)), nil)

	assert.Same(t, m, h.Metrics())
	families, err := m.Registry.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "fliox_tasks_total")
	assert.Contains(t, names, "fliox_sync_requests_total")
}

func TestHub_databases(t *testing.T) {
	h, db := newHub(t)
	assert.Equal(t, []string{constants.DefaultDatabase}, h.DatabaseNames())

	got, err := h.Database("")
	require.NoError(t, err)
	assert.Same(t, db, got)

	_, err = h.Database("missing")
	assert.ErrorIs(t, err, constants.ErrDatabaseNotFound)
	assert.Equal(t, testInfo, h.Info())
}

func TestExecute_cancelledBeforeStart(t *testing.T) {
	h, _ := newHub(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	resp := h.Execute(ctx, request(createJob(1, "a", false)), nil)

	requireKind(t, resp.Results[0], protocol.TimeoutError)
}
