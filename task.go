package fliox

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/friflo/fliox.go/pkg/constants"
	"github.com/friflo/fliox.go/pkg/models"
	"github.com/friflo/fliox.go/pkg/protocol"
)

// task is a buffered operation. The client calls request when the task is
// sent and exactly one of apply or fail when the sync returned.
type task interface {
	request() protocol.SyncTask
	apply(res *protocol.TaskResult)
	fail(err error)
	Err() error
}

type taskState struct {
	synced bool
	err    error
}

// Err returns the error of the task, constants.ErrTaskNotSynced before its
// sync returned.
func (s *taskState) Err() error {
	if !s.synced {
		return constants.ErrTaskNotSynced
	}
	return s.err
}

// Synced reports whether the sync sending the task returned.
func (s *taskState) Synced() bool {
	return s.synced
}

func (s *taskState) fail(err error) {
	s.synced = true
	s.err = err
}

// resolve marks the task synced and reports whether res is a success result
// of the expected type.
func (s *taskState) resolve(res *protocol.TaskResult, want protocol.TaskType) bool {
	s.synced = true
	if res.Error != nil {
		s.err = res.Error
		return false
	}
	if res.Type != "" && res.Type != want {
		s.err = fmt.Errorf("%w: %s result for %s task", constants.ErrInvalidResponse, res.Type, want)
		return false
	}
	return true
}

// failed returns a task resolved with err without being sent.
func failed(err error) taskState {
	return taskState{synced: true, err: err}
}

// Entity is a decoded entity of a query result.
type Entity[K comparable, T any] struct {
	Key   K
	Value T
}

// ReadTask reads entities by key.
type ReadTask[K comparable, T any] struct {
	taskState
	cont    *Container[K, T]
	keys    []K
	results map[models.EntityKey]*T
}

func (t *ReadTask[K, T]) request() protocol.SyncTask {
	keys := make([]models.EntityKey, len(t.keys))
	for i, key := range t.keys {
		keys[i] = t.cont.codec.Encode(key)
	}
	return protocol.SyncTask{Type: protocol.TaskRead, Container: t.cont.name, Keys: keys}
}

func (t *ReadTask[K, T]) apply(res *protocol.TaskResult) {
	if !t.resolve(res, protocol.TaskRead) {
		return
	}
	t.results = make(map[models.EntityKey]*T, len(res.Entities))
	for _, e := range res.Entities {
		if e.Doc == nil {
			t.results[e.Key] = nil
			continue
		}
		v, err := fromDocument[T](e.Doc)
		if err != nil {
			t.err = fmt.Errorf("read %s %s: %w", t.cont.name, e.Key, err)
			t.results = nil
			return
		}
		t.results[e.Key] = v
	}
}

// Keys returns the requested keys.
func (t *ReadTask[K, T]) Keys() []K {
	return t.keys
}

// Get returns the entity of key, nil when it does not exist.
func (t *ReadTask[K, T]) Get(key K) *T {
	return t.results[t.cont.codec.Encode(key)]
}

// Found reports whether the entity of key exists.
func (t *ReadTask[K, T]) Found(key K) bool {
	return t.Get(key) != nil
}

// Result returns the found entities by key.
func (t *ReadTask[K, T]) Result() map[K]*T {
	result := make(map[K]*T, len(t.results))
	for _, key := range t.keys {
		if v := t.Get(key); v != nil {
			result[key] = v
		}
	}
	return result
}

func (t *ReadTask[K, T]) lookup(key models.EntityKey) *T {
	return t.results[key]
}

// QueryTask returns the entities matching a filter in container order.
type QueryTask[K comparable, T any] struct {
	taskState
	cont     *Container[K, T]
	req      protocol.SyncTask
	entities []Entity[K, T]
}

// Limit restricts the result to the first n entities. It must be called
// before the task is synced.
func (t *QueryTask[K, T]) Limit(n int) *QueryTask[K, T] {
	t.req.Limit = n
	return t
}

func (t *QueryTask[K, T]) request() protocol.SyncTask {
	return t.req
}

func (t *QueryTask[K, T]) apply(res *protocol.TaskResult) {
	if !t.resolve(res, protocol.TaskQuery) {
		return
	}
	t.entities = make([]Entity[K, T], 0, len(res.Entities))
	for _, e := range res.Entities {
		key, err := t.cont.codec.Decode(e.Key)
		if err != nil {
			t.err = fmt.Errorf("query %s: %w", t.cont.name, err)
			t.entities = nil
			return
		}
		v, err := fromDocument[T](e.Doc)
		if err != nil {
			t.err = fmt.Errorf("query %s %s: %w", t.cont.name, e.Key, err)
			t.entities = nil
			return
		}
		t.entities = append(t.entities, Entity[K, T]{Key: key, Value: *v})
	}
}

func (t *QueryTask[K, T]) All() []Entity[K, T] {
	return t.entities
}

func (t *QueryTask[K, T]) Values() []T {
	values := make([]T, len(t.entities))
	for i, e := range t.entities {
		values[i] = e.Value
	}
	return values
}

func (t *QueryTask[K, T]) Keys() []K {
	keys := make([]K, len(t.entities))
	for i, e := range t.entities {
		keys[i] = e.Key
	}
	return keys
}

// WriteTask creates or upserts one entity.
type WriteTask[K comparable, T any] struct {
	taskState
	cont *Container[K, T]
	typ  protocol.TaskType
	key  K
	doc  models.Document
}

func (t *WriteTask[K, T]) request() protocol.SyncTask {
	key := t.cont.codec.Encode(t.key)
	return protocol.SyncTask{Type: t.typ, Container: t.cont.name, Key: &key, Doc: t.doc}
}

func (t *WriteTask[K, T]) apply(res *protocol.TaskResult) {
	t.resolve(res, t.typ)
}

func (t *WriteTask[K, T]) Key() K {
	return t.key
}

// PatchTask merges top-level members into an existing entity.
type PatchTask[K comparable, T any] struct {
	taskState
	cont   *Container[K, T]
	key    K
	patch  models.Document
	result *T
}

func (t *PatchTask[K, T]) request() protocol.SyncTask {
	key := t.cont.codec.Encode(t.key)
	return protocol.SyncTask{Type: protocol.TaskPatch, Container: t.cont.name, Key: &key, Doc: t.patch}
}

func (t *PatchTask[K, T]) apply(res *protocol.TaskResult) {
	if !t.resolve(res, protocol.TaskPatch) {
		return
	}
	if len(res.Entities) == 0 {
		return
	}
	v, err := fromDocument[T](res.Entities[0].Doc)
	if err != nil {
		t.err = fmt.Errorf("patch %s: %w", t.cont.name, err)
		return
	}
	t.result = v
}

// Result returns the merged entity.
func (t *PatchTask[K, T]) Result() *T {
	return t.result
}

type DeleteTask[K comparable] struct {
	taskState
	container string
	key       models.EntityKey
	existed   bool
}

func (t *DeleteTask[K]) request() protocol.SyncTask {
	key := t.key
	return protocol.SyncTask{Type: protocol.TaskDelete, Container: t.container, Key: &key}
}

func (t *DeleteTask[K]) apply(res *protocol.TaskResult) {
	if !t.resolve(res, protocol.TaskDelete) {
		return
	}
	existed, _ := res.Result.(bool)
	t.existed = existed
}

// Existed reports whether the deleted entity existed.
func (t *DeleteTask[K]) Existed() bool {
	return t.existed
}

// CommandTask invokes a command registered at the database.
type CommandTask[R any] struct {
	taskState
	name   string
	param  any
	result R
}

func (t *CommandTask[R]) request() protocol.SyncTask {
	return protocol.SyncTask{Type: protocol.TaskCommand, Name: t.name, Param: t.param}
}

func (t *CommandTask[R]) apply(res *protocol.TaskResult) {
	if !t.resolve(res, protocol.TaskCommand) {
		return
	}
	result, err := convert[R](res.Result)
	if err != nil {
		t.err = fmt.Errorf("command %s result: %w", t.name, err)
		return
	}
	t.result = result
}

func (t *CommandTask[R]) Result() R {
	return t.result
}

// SubscribeTask registers or removes a change or message subscription.
type SubscribeTask struct {
	taskState
	req protocol.SyncTask
}

func (t *SubscribeTask) request() protocol.SyncTask {
	return t.req
}

func (t *SubscribeTask) apply(res *protocol.TaskResult) {
	t.resolve(res, t.req.Type)
}

// Command buffers the invocation of the named command.
func Command[R any](c *Client, name string, param any) *CommandTask[R] {
	t := &CommandTask[R]{name: name, param: param}
	c.add(t)
	return t
}

// SubscribeMessage subscribes to commands and messages sent to name. A name
// ending with "*" subscribes to all names with that prefix.
func (c *Client) SubscribeMessage(name string) *SubscribeTask {
	return c.subscribeMessage(name, false)
}

func (c *Client) UnsubscribeMessage(name string) *SubscribeTask {
	return c.subscribeMessage(name, true)
}

func (c *Client) subscribeMessage(name string, remove bool) *SubscribeTask {
	t := &SubscribeTask{req: protocol.SyncTask{Type: protocol.TaskSubscribeMessage, Name: name, Remove: remove}}
	c.add(t)
	return t
}

// toDocument converts a typed value into its document form.
func toDocument[T any](v T) (models.Document, error) {
	if doc, ok := any(v).(models.Document); ok {
		return models.NormalizeNumbers(doc), nil
	}
	var doc models.Document
	if err := convertJSON(v, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", constants.ErrValidation, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: %T is not encoded as an object", constants.ErrValidation, v)
	}
	return models.NormalizeNumbers(doc), nil
}

func fromDocument[T any](doc models.Document) (*T, error) {
	var v T
	if p, ok := any(&v).(*models.Document); ok {
		*p = doc
		return &v, nil
	}
	if err := convertJSON(doc, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// convert turns a decoded wire value into R. Values received in-process
// already have their native type.
func convert[R any](raw any) (R, error) {
	var result R
	if raw == nil {
		return result, nil
	}
	if r, ok := raw.(R); ok {
		return r, nil
	}
	err := convertJSON(raw, &result)
	return result, err
}

func convertJSON(src, dst any) error {
	data, err := json.Marshal(src)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(dst)
}
