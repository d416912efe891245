package constants

import "errors"

// Task level errors. The hub reports them per task, they never abort a batch.
var (
	ErrKeyFormat          = errors.New("key format error")
	ErrDuplicateKey       = errors.New("duplicate key")
	ErrNotFound           = errors.New("not found")
	ErrCommandNotFound    = errors.New("command not found")
	ErrValidation         = errors.New("validation error")
	ErrTimeout            = errors.New("timeout")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrCommand            = errors.New("command error")
)

// Request level errors.
var (
	ErrTransport        = errors.New("transport error")
	ErrInvalidResponse  = errors.New("invalid sync response")
	ErrDatabaseNotFound = errors.New("database not found")
)

// Client errors.
var (
	ErrTaskNotSynced = errors.New("task not synced")
	ErrRetryUnsafe   = errors.New("batch contains non idempotent tasks, not retried")
	ErrIDInUse       = errors.New("id already in use")
	ErrNoBaseURL     = errors.New("base url not set")
	ErrNoMarshaler   = errors.New("marshaler is not set")
	ErrNoUnmarshaler = errors.New("unmarshaler is not set")
	ErrClosed        = errors.New("connection closed")
	ErrNoEvents      = errors.New("connection does not support events")
)
