package fliox

import (
	"github.com/friflo/fliox.go/pkg/filter"
	"github.com/friflo/fliox.go/pkg/models"
	"github.com/friflo/fliox.go/pkg/protocol"
)

// Container is a typed handle to a container of the client's database.
// Every method buffers one task at the client, nothing is sent before Sync.
type Container[K comparable, T any] struct {
	client *Client
	name   string
	codec  models.KeyCodec[K]
}

func NewContainer[K comparable, T any](c *Client, name string, codec models.KeyCodec[K]) *Container[K, T] {
	return &Container[K, T]{client: c, name: name, codec: codec}
}

func (c *Container[K, T]) Name() string {
	return c.name
}

func (c *Container[K, T]) Client() *Client {
	return c.client
}

// Read returns one entity per key. Absent entities are nil in the result.
func (c *Container[K, T]) Read(keys ...K) *ReadTask[K, T] {
	t := &ReadTask[K, T]{cont: c, keys: keys}
	c.client.add(t)
	return t
}

// Query returns the entities matching f. A nil f matches all.
func (c *Container[K, T]) Query(f *filter.Expr) *QueryTask[K, T] {
	t := &QueryTask[K, T]{
		cont: c,
		req:  protocol.SyncTask{Type: protocol.TaskQuery, Container: c.name, Filter: f},
	}
	c.client.add(t)
	return t
}

// QueryText is Query with a textual filter like `completed == true`. The
// text is parsed by the hub.
func (c *Container[K, T]) QueryText(text string) *QueryTask[K, T] {
	t := &QueryTask[K, T]{
		cont: c,
		req:  protocol.SyncTask{Type: protocol.TaskQuery, Container: c.name, FilterText: text},
	}
	c.client.add(t)
	return t
}

func (c *Container[K, T]) QueryAll() *QueryTask[K, T] {
	return c.Query(nil)
}

// Create fails with a DuplicateKeyError when the key exists.
func (c *Container[K, T]) Create(key K, value T) *WriteTask[K, T] {
	return c.write(protocol.TaskCreate, key, value)
}

// Upsert creates or replaces the entity.
func (c *Container[K, T]) Upsert(key K, value T) *WriteTask[K, T] {
	return c.write(protocol.TaskUpsert, key, value)
}

func (c *Container[K, T]) write(typ protocol.TaskType, key K, value T) *WriteTask[K, T] {
	t := &WriteTask[K, T]{cont: c, typ: typ, key: key}
	doc, err := toDocument(value)
	if err != nil {
		t.taskState = failed(err)
		return t
	}
	t.doc = doc
	c.client.add(t)
	return t
}

// Patch replaces the top-level members of patch in an existing entity. It
// fails with a NotFoundError when the entity does not exist.
func (c *Container[K, T]) Patch(key K, patch models.Document) *PatchTask[K, T] {
	t := &PatchTask[K, T]{cont: c, key: key, patch: models.NormalizeNumbers(patch)}
	if t.patch == nil {
		t.patch = models.Document{}
	}
	c.client.add(t)
	return t
}

// Delete succeeds also when the entity does not exist.
func (c *Container[K, T]) Delete(key K) *DeleteTask[K] {
	t := &DeleteTask[K]{container: c.name, key: c.codec.Encode(key)}
	c.client.add(t)
	return t
}

// SubscribeChanges subscribes the client to the given change types of the
// container, replacing a previous subscription. Without change types all
// changes are subscribed.
func (c *Container[K, T]) SubscribeChanges(changes ...models.ChangeType) *SubscribeTask {
	if len(changes) == 0 {
		changes = models.AllChanges.Types()
	}
	return c.subscribe(changes)
}

func (c *Container[K, T]) UnsubscribeChanges() *SubscribeTask {
	return c.subscribe(nil)
}

func (c *Container[K, T]) subscribe(changes []models.ChangeType) *SubscribeTask {
	t := &SubscribeTask{req: protocol.SyncTask{
		Type:      protocol.TaskSubscribeChanges,
		Container: c.name,
		Changes:   changes,
	}}
	c.client.add(t)
	return t
}

// Count returns the number of entities matching f using the std.Count command.
func (c *Container[K, T]) Count(f *filter.Expr) *CommandTask[int] {
	return Command[int](c.client, protocol.StdCount, protocol.CountParam{Container: c.name, Filter: f})
}
