// Package protocol defines the messages exchanged between a client and a hub:
// the batched SyncRequest, its order-correlated SyncResponse, pushed events
// and the envelope framing them on a duplex connection.
package protocol

import (
	"fmt"

	"github.com/friflo/fliox.go/pkg/constants"
	"github.com/friflo/fliox.go/pkg/filter"
	"github.com/friflo/fliox.go/pkg/models"
)

type TaskType string

const (
	TaskRead             TaskType = "read"
	TaskQuery            TaskType = "query"
	TaskCreate           TaskType = "create"
	TaskUpsert           TaskType = "upsert"
	TaskPatch            TaskType = "patch"
	TaskDelete           TaskType = "delete"
	TaskCommand          TaskType = "command"
	TaskSubscribeChanges TaskType = "subscribeChanges"
	TaskSubscribeMessage TaskType = "subscribeMessage"
)

// Mutating reports whether a successful task of this type changes a container.
func (t TaskType) Mutating() bool {
	switch t {
	case TaskCreate, TaskUpsert, TaskPatch, TaskDelete:
		return true
	}
	return false
}

// Idempotent reports whether a task of this type can be re-sent after an
// ambiguous transport failure without changing its outcome.
func (t TaskType) Idempotent() bool {
	switch t {
	case TaskRead, TaskQuery, TaskUpsert, TaskDelete, TaskSubscribeChanges, TaskSubscribeMessage:
		return true
	}
	return false
}

// SyncTask is one operation of a SyncRequest. Type selects which fields are used:
//
//	read             Container, Keys
//	query            Container, Filter or FilterText, Limit
//	create, upsert   Container, Key, Doc
//	patch            Container, Key, Doc (the partial document)
//	delete           Container, Key
//	command          Name, Param
//	subscribeChanges Container, Changes (empty unsubscribes)
//	subscribeMessage Name, Remove
type SyncTask struct {
	Type       TaskType            `json:"task"`
	Container  string              `json:"cont,omitempty"`
	Keys       []models.EntityKey  `json:"keys,omitempty"`
	Key        *models.EntityKey   `json:"key,omitempty"`
	Doc        models.Document     `json:"doc"`
	Filter     *filter.Expr        `json:"filter,omitempty"`
	FilterText string              `json:"filterText,omitempty"`
	Limit      int                 `json:"limit,omitempty"`
	Name       string              `json:"name,omitempty"`
	Param      any                 `json:"param,omitempty"`
	Changes    []models.ChangeType `json:"changes,omitempty"`
	Remove     bool                `json:"remove,omitempty"`
}

// Validate checks that the fields required by the task type are present.
func (t *SyncTask) Validate() error {
	switch t.Type {
	case TaskRead, TaskQuery, TaskSubscribeChanges:
		if t.Container == "" {
			return fmt.Errorf("%w: %s task without container", constants.ErrValidation, t.Type)
		}
	case TaskCreate, TaskUpsert, TaskPatch, TaskDelete:
		if t.Container == "" {
			return fmt.Errorf("%w: %s task without container", constants.ErrValidation, t.Type)
		}
		if t.Key == nil || t.Key.IsNull() {
			return fmt.Errorf("%w: %s task requires a non null key", constants.ErrKeyFormat, t.Type)
		}
		if t.Type != TaskDelete && t.Doc == nil {
			return fmt.Errorf("%w: %s task without document", constants.ErrValidation, t.Type)
		}
	case TaskCommand, TaskSubscribeMessage:
		if t.Name == "" {
			return fmt.Errorf("%w: %s task without name", constants.ErrValidation, t.Type)
		}
	default:
		return fmt.Errorf("%w: unknown task type %q", constants.ErrValidation, t.Type)
	}
	if t.Limit < 0 {
		return fmt.Errorf("%w: negative limit", constants.ErrValidation)
	}
	return nil
}

// Entity is a key with its document. Doc is nil when a read found no entity.
type Entity struct {
	Key models.EntityKey `json:"key"`
	Doc models.Document  `json:"doc"`
}

// TaskResult is the outcome of the task at the same index of the request.
//
//	read             Entities, one per requested key in request order
//	query            Entities in container order
//	create, upsert   Entities with the written entity
//	patch            Entities with the merged entity
//	delete           Result is true when the entity existed
//	command          Result is the handler result
type TaskResult struct {
	Type     TaskType   `json:"task"`
	Error    *TaskError `json:"err,omitempty"`
	Entities []Entity   `json:"entities,omitempty"`
	Result   any        `json:"result,omitempty"`
}

func (r *TaskResult) Failed() bool {
	return r.Error != nil
}

func ErrorResult(t TaskType, err error) TaskResult {
	return TaskResult{Type: t, Error: NewTaskError(err)}
}
