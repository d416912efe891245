// Package database groups the containers of one backend with the commands
// registered for them. A Database is the unit a hub serves.
package database

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/friflo/fliox.go/pkg/constants"
	"github.com/friflo/fliox.go/pkg/container"
	"github.com/friflo/fliox.go/pkg/models"
)

type Database struct {
	name     string
	backend  container.Backend
	keyKinds map[string]models.KeyKind
	strict   bool

	commandsMu sync.RWMutex
	commands   map[string]Handler

	mu         sync.Mutex
	containers map[string]container.Container
}

type Option func(db *Database)

// WithContainer declares a container and the kind of its keys. Keys of
// mutating tasks are checked against the kind before they reach the backend.
func WithContainer(name string, kind models.KeyKind) Option {
	return func(db *Database) {
		db.keyKinds[name] = kind
	}
}

// WithStrictSchema rejects tasks addressing containers not declared by
// WithContainer. Without it containers are created on first use.
func WithStrictSchema() Option {
	return func(db *Database) {
		db.strict = true
	}
}

func New(name string, backend container.Backend, opts ...Option) *Database {
	db := &Database{
		name:       name,
		backend:    backend,
		keyKinds:   make(map[string]models.KeyKind),
		commands:   make(map[string]Handler),
		containers: make(map[string]container.Container),
	}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

func (db *Database) Name() string {
	return db.name
}

// Container returns the named container, opening it on first use.
func (db *Database) Container(ctx context.Context, name string) (container.Container, error) {
	if _, declared := db.keyKinds[name]; db.strict && !declared {
		return nil, fmt.Errorf("%w: unknown container %q in database %s", constants.ErrValidation, name, db.name)
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	if c, ok := db.containers[name]; ok {
		return c, nil
	}
	c, err := db.backend.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	db.containers[name] = c
	return c, nil
}

// Prepare opens every declared container, so schema preparation of
// backends like sqlite runs before the first task arrives.
func (db *Database) Prepare(ctx context.Context) error {
	for _, name := range db.declared() {
		if _, err := db.Container(ctx, name); err != nil {
			return fmt.Errorf("failed to prepare container %s: %w", name, err)
		}
	}
	return nil
}

func (db *Database) declared() []string {
	names := make([]string, 0, len(db.keyKinds))
	for name := range db.keyKinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ContainerNames returns the declared and the opened containers, sorted.
func (db *Database) ContainerNames() []string {
	db.mu.Lock()
	defer db.mu.Unlock()

	set := make(map[string]struct{}, len(db.keyKinds)+len(db.containers))
	for name := range db.keyKinds {
		set[name] = struct{}{}
	}
	for name := range db.containers {
		set[name] = struct{}{}
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// KeyKind returns the declared key kind of a container, KeyAny otherwise.
func (db *Database) KeyKind(container string) models.KeyKind {
	return db.keyKinds[container]
}

// CheckKey validates key against the kind declared for container.
func (db *Database) CheckKey(container string, key models.EntityKey) error {
	return db.KeyKind(container).Check(key)
}

func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	var errs []error
	for name, c := range db.containers {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close container %s: %w", name, err))
		}
	}
	db.containers = make(map[string]container.Container)
	errs = append(errs, db.backend.Close())
	return errors.Join(errs...)
}
