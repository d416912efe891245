package database

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/goccy/go-json"

	fliox "github.com/friflo/fliox.go"
	"github.com/friflo/fliox.go/pkg/constants"
	"github.com/friflo/fliox.go/pkg/logger"
	"github.com/friflo/fliox.go/pkg/protocol"
)

// Command is the invocation context passed to a command handler.
type Command struct {
	// Context carries the deadline of the sync request executing the command.
	Context  context.Context
	Name     string
	ClientID string
	Hub      protocol.HubInfo
	Database *Database
	Logger   logger.Logger

	// Client is bound to the same database. Its Sync executes in-process and
	// is not part of the sync request that invoked the command.
	Client *fliox.Client
}

// Handler executes a command. param is the undecoded task parameter.
type Handler func(cmd *Command, param any) (any, error)

// Validator is implemented by command parameters checking their own fields.
type Validator interface {
	Validate() error
}

// AddHandler registers an untyped handler. A later registration replaces
// an earlier one with the same name. Handlers may be added while the
// database serves requests.
func (db *Database) AddHandler(name string, handler Handler) {
	db.commandsMu.Lock()
	defer db.commandsMu.Unlock()
	db.commands[name] = handler
}

// AddCommand registers a handler with a typed parameter. The parameter is
// decoded and validated before fn is called, failures are reported as
// ValidationError without invoking fn.
func AddCommand[P, R any](db *Database, name string, fn func(cmd *Command, param P) (R, error)) {
	db.AddHandler(name, func(cmd *Command, raw any) (any, error) {
		param, err := DecodeParam[P](raw)
		if err != nil {
			return nil, fmt.Errorf("%w: command %s: %v", constants.ErrValidation, name, err)
		}
		if v, ok := any(param).(Validator); ok {
			if err := v.Validate(); err != nil {
				return nil, fmt.Errorf("%w: command %s: %v", constants.ErrValidation, name, err)
			}
		}
		result, err := fn(cmd, param)
		if err != nil {
			return nil, err
		}
		return result, nil
	})
}

// DecodeParam converts a decoded wire value into P. Unknown object members
// are rejected.
func DecodeParam[P any](raw any) (P, error) {
	var param P
	if raw == nil {
		return param, nil
	}
	if p, ok := raw.(P); ok {
		return p, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return param, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(&param); err != nil {
		return param, err
	}
	return param, nil
}

// Command returns the handler registered for name.
func (db *Database) Command(name string) (Handler, error) {
	db.commandsMu.RLock()
	handler, ok := db.commands[name]
	db.commandsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s in database %s", constants.ErrCommandNotFound, name, db.name)
	}
	return handler, nil
}

func (db *Database) CommandNames() []string {
	db.commandsMu.RLock()
	defer db.commandsMu.RUnlock()
	names := make([]string, 0, len(db.commands))
	for name := range db.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke runs the named command. Handler errors outside the task error
// kinds are wrapped with ErrCommand.
func (db *Database) Invoke(cmd *Command, param any) (any, error) {
	handler, err := db.Command(cmd.Name)
	if err != nil {
		return nil, err
	}
	result, err := handler(cmd, param)
	switch {
	case err == nil:
		return result, nil
	case errors.Is(err, context.Canceled):
		return nil, fmt.Errorf("%w: %s: %v", constants.ErrTimeout, cmd.Name, err)
	case protocol.KindOf(err) == protocol.InternalError:
		return nil, fmt.Errorf("%w: %s: %v", constants.ErrCommand, cmd.Name, err)
	}
	return nil, err
}
