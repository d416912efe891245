package hub

import (
	"context"
	"errors"
	"fmt"

	fliox "github.com/friflo/fliox.go"
	"github.com/friflo/fliox.go/pkg/constants"
	"github.com/friflo/fliox.go/pkg/container"
	"github.com/friflo/fliox.go/pkg/database"
	"github.com/friflo/fliox.go/pkg/filter"
	"github.com/friflo/fliox.go/pkg/models"
	"github.com/friflo/fliox.go/pkg/protocol"
)

// execution is the state of one Execute call.
type execution struct {
	hub      *Hub
	served   *served
	req      *protocol.SyncRequest
	sess     *Session
	clientID string
}

func (x *execution) run(ctx context.Context, task *protocol.SyncTask) protocol.TaskResult {
	res, err := x.dispatch(ctx, task)
	db := x.served.db.Name()
	if err != nil {
		x.hub.logger.Debug("task failed", "db", db, "req", x.req.ReqID, "task", task.Type, "error", err)
		x.hub.metrics.ObserveTask(db, string(task.Type), string(protocol.KindOf(err)))
		return protocol.ErrorResult(task.Type, err)
	}
	x.hub.metrics.ObserveTask(db, string(task.Type), "ok")
	res.Type = task.Type
	return res
}

func (x *execution) dispatch(ctx context.Context, task *protocol.SyncTask) (protocol.TaskResult, error) {
	if err := ctx.Err(); err != nil {
		return protocol.TaskResult{}, fmt.Errorf("%w: %s task not started: %v", constants.ErrTimeout, task.Type, err)
	}
	if err := task.Validate(); err != nil {
		return protocol.TaskResult{}, err
	}
	if task.Doc != nil {
		// json.Number values decoded from JSON frames would be encoded as
		// strings by the CBOR codec.
		normalized := *task
		normalized.Doc = models.NormalizeNumbers(task.Doc)
		task = &normalized
	}
	switch task.Type {
	case protocol.TaskCommand:
		return x.command(ctx, task)
	case protocol.TaskSubscribeChanges:
		return x.subscribeChanges(task)
	case protocol.TaskSubscribeMessage:
		return x.subscribeMessage(task)
	}

	db := x.served.db
	cont, err := db.Container(ctx, task.Container)
	if err != nil {
		return protocol.TaskResult{}, err
	}
	if task.Key != nil {
		if err := db.CheckKey(task.Container, *task.Key); err != nil {
			return protocol.TaskResult{}, err
		}
	}
	switch task.Type {
	case protocol.TaskRead:
		return x.read(ctx, cont, task)
	case protocol.TaskQuery:
		return x.query(ctx, cont, task)
	case protocol.TaskCreate:
		return x.create(ctx, cont, task)
	case protocol.TaskUpsert:
		return x.upsert(ctx, cont, task)
	case protocol.TaskPatch:
		return x.patch(ctx, cont, task)
	case protocol.TaskDelete:
		return x.delete(ctx, cont, task)
	}
	return protocol.TaskResult{}, fmt.Errorf("%w: unknown task type %q", constants.ErrValidation, task.Type)
}

func (x *execution) read(ctx context.Context, cont container.Container, task *protocol.SyncTask) (protocol.TaskResult, error) {
	for _, key := range task.Keys {
		if err := x.served.db.CheckKey(task.Container, key); err != nil {
			return protocol.TaskResult{}, err
		}
	}
	entities := make([]protocol.Entity, len(task.Keys))
	for i, key := range task.Keys {
		doc, err := cont.Get(ctx, key)
		if err != nil && !errors.Is(err, constants.ErrNotFound) {
			return protocol.TaskResult{}, err
		}
		entities[i] = protocol.Entity{Key: key, Doc: doc}
	}
	return protocol.TaskResult{Entities: entities}, nil
}

func (x *execution) query(ctx context.Context, cont container.Container, task *protocol.SyncTask) (protocol.TaskResult, error) {
	prog, err := compileFilter(task.Filter, task.FilterText)
	if err != nil {
		return protocol.TaskResult{}, err
	}
	entries, err := cont.Query(ctx, prog)
	if err != nil {
		return protocol.TaskResult{}, err
	}
	if task.Limit > 0 && len(entries) > task.Limit {
		entries = entries[:task.Limit]
	}
	entities := make([]protocol.Entity, len(entries))
	for i, e := range entries {
		entities[i] = protocol.Entity{Key: e.Key, Doc: e.Doc}
	}
	return protocol.TaskResult{Entities: entities}, nil
}

// compileFilter compiles a filter given as tree or as text. Without both
// it returns nil, which matches all.
func compileFilter(expr *filter.Expr, text string) (*filter.Program, error) {
	if text != "" {
		if expr != nil {
			return nil, fmt.Errorf("%w: filter and filterText are exclusive", constants.ErrValidation)
		}
		parsed, err := filter.Parse(text)
		if err != nil {
			return nil, err
		}
		expr = parsed
	}
	if expr == nil {
		return nil, nil
	}
	return filter.Compile(expr)
}

func (x *execution) create(ctx context.Context, cont container.Container, task *protocol.SyncTask) (protocol.TaskResult, error) {
	if err := cont.Create(ctx, *task.Key, task.Doc); err != nil {
		return protocol.TaskResult{}, err
	}
	x.publish(task, models.ChangeCreate, task.Doc)
	return written(task, task.Doc), nil
}

func (x *execution) upsert(ctx context.Context, cont container.Container, task *protocol.SyncTask) (protocol.TaskResult, error) {
	if err := cont.Upsert(ctx, *task.Key, task.Doc); err != nil {
		return protocol.TaskResult{}, err
	}
	x.publish(task, models.ChangeUpdate, task.Doc)
	return written(task, task.Doc), nil
}

func (x *execution) patch(ctx context.Context, cont container.Container, task *protocol.SyncTask) (protocol.TaskResult, error) {
	merged, err := cont.Patch(ctx, *task.Key, task.Doc)
	if err != nil {
		return protocol.TaskResult{}, err
	}
	x.publish(task, models.ChangePatch, task.Doc)
	return written(task, merged), nil
}

func (x *execution) delete(ctx context.Context, cont container.Container, task *protocol.SyncTask) (protocol.TaskResult, error) {
	existed, err := cont.Delete(ctx, *task.Key)
	if err != nil {
		return protocol.TaskResult{}, err
	}
	if existed {
		x.publish(task, models.ChangeDelete, nil)
	}
	return protocol.TaskResult{Result: existed}, nil
}

func written(task *protocol.SyncTask, doc models.Document) protocol.TaskResult {
	return protocol.TaskResult{Entities: []protocol.Entity{{Key: *task.Key, Doc: models.CloneDocument(doc)}}}
}

func (x *execution) publish(task *protocol.SyncTask, change models.ChangeType, doc models.Document) {
	x.served.broker.Publish(models.ChangeEvent{
		Container: task.Container,
		Change:    change,
		Key:       *task.Key,
		Doc:       doc,
	})
}

func (x *execution) command(ctx context.Context, task *protocol.SyncTask) (protocol.TaskResult, error) {
	db := x.served.db
	sess := &Session{ClientID: x.clientID, Target: x.sess.target()}
	cmd := &database.Command{
		Context:  ctx,
		Name:     task.Name,
		ClientID: x.clientID,
		Hub:      x.hub.info,
		Database: db,
		Logger:   x.hub.logger,
		Client: fliox.New(&localConnection{hub: x.hub, sess: sess},
			fliox.WithDatabase(db.Name()),
			fliox.WithClientID(x.clientID),
			fliox.WithLogger(x.hub.logger),
		),
	}
	result, err := db.Invoke(cmd, task.Param)
	if err != nil {
		return protocol.TaskResult{}, err
	}
	x.served.broker.PublishMessage(task.Name, models.NormalizeValue(task.Param))
	return protocol.TaskResult{Result: result}, nil
}

func (x *execution) subscriber() (string, EventTarget, error) {
	target := x.sess.target()
	if target == nil {
		return "", nil, fmt.Errorf("%w: %w", constants.ErrValidation, constants.ErrNoEvents)
	}
	if x.clientID == "" {
		return "", nil, fmt.Errorf("%w: subscription requires a client id", constants.ErrValidation)
	}
	return x.clientID, target, nil
}

func (x *execution) subscribeChanges(task *protocol.SyncTask) (protocol.TaskResult, error) {
	clientID, target, err := x.subscriber()
	if err != nil {
		return protocol.TaskResult{}, err
	}
	changes, err := models.ChangeSetOf(task.Changes...)
	if err != nil {
		return protocol.TaskResult{}, err
	}
	x.served.broker.SubscribeChanges(clientID, target, task.Container, changes)
	return protocol.TaskResult{}, nil
}

func (x *execution) subscribeMessage(task *protocol.SyncTask) (protocol.TaskResult, error) {
	clientID, target, err := x.subscriber()
	if err != nil {
		return protocol.TaskResult{}, err
	}
	x.served.broker.SubscribeMessage(clientID, target, task.Name, task.Remove)
	return protocol.TaskResult{}, nil
}
