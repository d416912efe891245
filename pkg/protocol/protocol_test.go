package protocol

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/friflo/fliox.go/internal/codec"
	"github.com/friflo/fliox.go/pkg/constants"
	"github.com/friflo/fliox.go/pkg/filter"
	"github.com/friflo/fliox.go/pkg/models"
)

func keyPtr(k models.EntityKey) *models.EntityKey {
	return &k
}

func TestTaskError_kinds(t *testing.T) {
	testcases := []struct {
		err  error
		kind ErrorKind
	}{
		{fmt.Errorf("%w: id 1", constants.ErrDuplicateKey), DuplicateKeyError},
		{fmt.Errorf("wrapped: %w", fmt.Errorf("%w: x", constants.ErrNotFound)), NotFoundError},
		{context.DeadlineExceeded, TimeoutError},
		{constants.ErrBackendUnavailable, BackendUnavailableError},
		{errors.New("boom"), InternalError},
	}

	for _, tc := range testcases {
		t.Run(string(tc.kind), func(t *testing.T) {
			taskErr := NewTaskError(tc.err)
			require.NotNil(t, taskErr)
			assert.Equal(t, tc.kind, taskErr.Kind)
			assert.Equal(t, tc.err.Error(), taskErr.Message)
		})
	}
	assert.Nil(t, NewTaskError(nil))
}

func TestTaskError_unwrapAfterDecode(t *testing.T) {
	c := codec.NewJSON()
	data, err := c.Marshal(ErrorResult(TaskCreate, fmt.Errorf("%w: key 1", constants.ErrDuplicateKey)))
	require.NoError(t, err)

	var result TaskResult
	require.NoError(t, c.Unmarshal(data, &result))
	require.True(t, result.Failed())
	assert.ErrorIs(t, result.Error, constants.ErrDuplicateKey)
	assert.NotErrorIs(t, result.Error, constants.ErrNotFound)

	internal := &TaskError{Kind: InternalError, Message: "x"}
	assert.NoError(t, internal.Unwrap())
}

func TestSyncTask_validate(t *testing.T) {
	testcases := []struct {
		name string
		task SyncTask
		err  error
	}{
		{"read", SyncTask{Type: TaskRead, Container: "jobs"}, nil},
		{"read without container", SyncTask{Type: TaskRead}, constants.ErrValidation},
		{"create", SyncTask{Type: TaskCreate, Container: "jobs", Key: keyPtr(models.IntKey(1)), Doc: models.Document{}}, nil},
		{"create without key", SyncTask{Type: TaskCreate, Container: "jobs", Doc: models.Document{}}, constants.ErrKeyFormat},
		{"create null key", SyncTask{Type: TaskCreate, Container: "jobs", Key: keyPtr(models.NullKey()), Doc: models.Document{}}, constants.ErrKeyFormat},
		{"upsert without doc", SyncTask{Type: TaskUpsert, Container: "jobs", Key: keyPtr(models.IntKey(1))}, constants.ErrValidation},
		{"delete", SyncTask{Type: TaskDelete, Container: "jobs", Key: keyPtr(models.StringKey("a"))}, nil},
		{"command", SyncTask{Type: TaskCommand, Name: "std.Echo"}, nil},
		{"command without name", SyncTask{Type: TaskCommand}, constants.ErrValidation},
		{"negative limit", SyncTask{Type: TaskQuery, Container: "jobs", Limit: -1}, constants.ErrValidation},
		{"unknown", SyncTask{Type: "merge"}, constants.ErrValidation},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.task.Validate()
			if tc.err == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestSyncRequest_idempotent(t *testing.T) {
	req := SyncRequest{Tasks: []SyncTask{{Type: TaskRead}, {Type: TaskUpsert}, {Type: TaskDelete}}}
	assert.True(t, req.Idempotent())

	req.Tasks = append(req.Tasks, SyncTask{Type: TaskCreate})
	assert.False(t, req.Idempotent())

	req.Tasks = []SyncTask{{Type: TaskPatch}}
	assert.False(t, req.Idempotent())
}

func TestSyncResponse_check(t *testing.T) {
	req := &SyncRequest{ReqID: "r1", Tasks: []SyncTask{{Type: TaskRead}}}

	assert.NoError(t, (&SyncResponse{ReqID: "r1", Results: []TaskResult{{Type: TaskRead}}}).Check(req))
	assert.ErrorIs(t, (&SyncResponse{ReqID: "r2", Results: []TaskResult{{}}}).Check(req), constants.ErrInvalidResponse)
	assert.ErrorIs(t, (&SyncResponse{ReqID: "r1"}).Check(req), constants.ErrInvalidResponse)

	failed := &SyncResponse{ReqID: "r1", Error: NewTaskError(fmt.Errorf("%w: db", constants.ErrDatabaseNotFound))}
	assert.ErrorIs(t, failed.Check(req), constants.ErrDatabaseNotFound)
}

func TestEnvelope_codecs(t *testing.T) {
	key := models.IntKey(42)
	env := Envelope{
		Msg: EnvelopeSync,
		Request: &SyncRequest{
			Database: "main_db",
			ReqID:    "abc",
			Timeout:  1500,
			Tasks: []SyncTask{
				{Type: TaskCreate, Container: "jobs", Key: &key, Doc: models.Document{"title": "a", "completed": false}},
				{Type: TaskQuery, Container: "jobs", Filter: filter.FieldEq("completed", true)},
				{Type: TaskSubscribeChanges, Container: "jobs", Changes: []models.ChangeType{models.ChangeCreate}},
			},
		},
	}

	for _, c := range []codec.Codec{codec.NewJSON(), codec.NewCBOR()} {
		t.Run(c.ContentType(), func(t *testing.T) {
			data, err := c.Marshal(env)
			require.NoError(t, err)

			var decoded Envelope
			require.NoError(t, c.Unmarshal(data, &decoded))
			require.NotNil(t, decoded.Request)
			assert.Equal(t, EnvelopeSync, decoded.Msg)
			assert.Nil(t, decoded.Response)

			req := decoded.Request
			require.Len(t, req.Tasks, 3)
			assert.Equal(t, key, *req.Tasks[0].Key)
			assert.Equal(t, "a", req.Tasks[0].Doc["title"])
			assert.Equal(t, "completed == true", req.Tasks[1].Filter.String())
			assert.Equal(t, []models.ChangeType{models.ChangeCreate}, req.Tasks[2].Changes)

			timeout, ok := req.Deadline()
			assert.True(t, ok)
			assert.Equal(t, int64(1500), timeout.Milliseconds())
		})
	}
}
