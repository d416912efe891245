package protocol

import (
	"context"
	"errors"

	"github.com/friflo/fliox.go/pkg/constants"
)

// ErrorKind names an error on the wire.
type ErrorKind string

const (
	KeyFormatError          ErrorKind = "KeyFormatError"
	DuplicateKeyError       ErrorKind = "DuplicateKeyError"
	NotFoundError           ErrorKind = "NotFoundError"
	CommandNotFoundError    ErrorKind = "CommandNotFoundError"
	ValidationError         ErrorKind = "ValidationError"
	TimeoutError            ErrorKind = "TimeoutError"
	TransportError          ErrorKind = "TransportError"
	BackendUnavailableError ErrorKind = "BackendUnavailableError"
	CommandError            ErrorKind = "CommandError"
	DatabaseNotFoundError   ErrorKind = "DatabaseNotFoundError"
	InternalError           ErrorKind = "InternalError"
)

var kindErrors = []struct {
	kind ErrorKind
	err  error
}{
	{KeyFormatError, constants.ErrKeyFormat},
	{DuplicateKeyError, constants.ErrDuplicateKey},
	{NotFoundError, constants.ErrNotFound},
	{CommandNotFoundError, constants.ErrCommandNotFound},
	{ValidationError, constants.ErrValidation},
	{TimeoutError, constants.ErrTimeout},
	{TransportError, constants.ErrTransport},
	{BackendUnavailableError, constants.ErrBackendUnavailable},
	{CommandError, constants.ErrCommand},
	{DatabaseNotFoundError, constants.ErrDatabaseNotFound},
}

// TaskError is the serializable form of an error. It unwraps to the
// sentinel of its kind, so errors.Is(err, constants.ErrNotFound) works on
// errors received from a remote hub.
type TaskError struct {
	Kind    ErrorKind `json:"type"`
	Message string    `json:"message,omitempty"`
}

// NewTaskError classifies err by the sentinel it wraps. A nil err returns nil.
func NewTaskError(err error) *TaskError {
	if err == nil {
		return nil
	}
	var taskErr *TaskError
	if errors.As(err, &taskErr) {
		return taskErr
	}
	return &TaskError{Kind: KindOf(err), Message: err.Error()}
}

// KindOf returns the wire kind of err.
func KindOf(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return TimeoutError
	}
	for _, ke := range kindErrors {
		if errors.Is(err, ke.err) {
			return ke.kind
		}
	}
	return InternalError
}

func (e *TaskError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *TaskError) Unwrap() error {
	for _, ke := range kindErrors {
		if ke.kind == e.Kind {
			return ke.err
		}
	}
	return nil
}
