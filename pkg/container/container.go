// Package container defines the storage contract every backend implements.
//
// A Container is a named, insertion-ordered set of documents keyed by
// [models.EntityKey]. Backends differ in where documents live (memory, files,
// an embedded sqlite database, redis) but behave identically under this
// contract:
//   - Get of an absent key fails with [constants.ErrNotFound].
//   - Create of an existing key fails with [constants.ErrDuplicateKey] and
//     leaves the stored document untouched.
//   - Upsert creates or replaces. A replaced entity keeps its position.
//   - Patch merges top-level members only and fails with ErrNotFound for an
//     absent key.
//   - Delete of an absent key is a no-op.
//   - Query returns entries in a stable order for an unmodified container.
//
// Documents passed in and returned are never shared with container state.
package container

import (
	"context"
	"errors"
	"fmt"

	"github.com/friflo/fliox.go/pkg/constants"
	"github.com/friflo/fliox.go/pkg/filter"
	"github.com/friflo/fliox.go/pkg/models"
)

// Entry is a stored entity.
type Entry struct {
	Key models.EntityKey
	Doc models.Document
}

type Container interface {
	Name() string
	Get(ctx context.Context, key models.EntityKey) (models.Document, error)
	// Query returns the entries matching prog. A nil prog matches all.
	Query(ctx context.Context, prog *filter.Program) ([]Entry, error)
	Create(ctx context.Context, key models.EntityKey, doc models.Document) error
	Upsert(ctx context.Context, key models.EntityKey, doc models.Document) error
	// Patch returns the merged document.
	Patch(ctx context.Context, key models.EntityKey, partial models.Document) (models.Document, error)
	// Delete reports whether the entity existed.
	Delete(ctx context.Context, key models.EntityKey) (bool, error)
	Count(ctx context.Context, prog *filter.Program) (int, error)
	Close() error
}

// Preparer is implemented by containers that need one-time schema setup
// before first use. Prepare is idempotent.
type Preparer interface {
	Prepare(ctx context.Context) error
}

// Backend opens the containers of one database by name.
type Backend interface {
	// Open returns a ready to use container. Containers implementing
	// Preparer are prepared before Open returns.
	Open(ctx context.Context, name string) (Container, error)
	Close() error
}

// OpenPrepared calls Prepare on c when it is a Preparer.
func OpenPrepared(ctx context.Context, c Container) (Container, error) {
	if p, ok := c.(Preparer); ok {
		if err := p.Prepare(ctx); err != nil {
			_ = c.Close()
			return nil, err
		}
	}
	return c, nil
}

// CheckContext converts an expired or cancelled context into ErrTimeout.
func CheckContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", constants.ErrTimeout, err)
	}
	return nil
}

func NotFound(container string, key models.EntityKey) error {
	return fmt.Errorf("%w: %s %s", constants.ErrNotFound, container, key)
}

func DuplicateKey(container string, key models.EntityKey) error {
	return fmt.Errorf("%w: %s %s", constants.ErrDuplicateKey, container, key)
}

// Unavailable wraps a storage engine failure. Context errors become ErrTimeout.
func Unavailable(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return fmt.Errorf("%w: %s: %v", constants.ErrTimeout, op, err)
	}
	return fmt.Errorf("%w: %s: %v", constants.ErrBackendUnavailable, op, err)
}

// Filter returns the entries matching prog, keeping their order.
func Filter(entries []Entry, prog *filter.Program) []Entry {
	if prog == nil {
		return entries
	}
	matched := entries[:0]
	for _, e := range entries {
		if prog.Match(e.Doc) {
			matched = append(matched, e)
		}
	}
	return matched
}

// CountQuery implements Count on top of Query for backends without a
// native filtered count.
func CountQuery(ctx context.Context, c Container, prog *filter.Program) (int, error) {
	entries, err := c.Query(ctx, prog)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// ValidName reports whether name can be used as a container name by every
// backend: a letter or underscore followed by letters, digits or underscores.
func ValidName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty container name", constants.ErrValidation)
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return fmt.Errorf("%w: invalid container name %q", constants.ErrValidation, name)
		}
	}
	return nil
}
