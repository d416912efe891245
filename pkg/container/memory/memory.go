// Package memory is an in-memory container backend. Entries are kept in
// insertion order.
package memory

import (
	"context"
	"sync"

	"github.com/friflo/fliox.go/pkg/container"
	"github.com/friflo/fliox.go/pkg/filter"
	"github.com/friflo/fliox.go/pkg/models"
)

// Backend keeps its containers for its lifetime, opening a name again
// returns the same container.
type Backend struct {
	mu         sync.Mutex
	containers map[string]*Container
}

func NewBackend() *Backend {
	return &Backend{containers: make(map[string]*Container)}
}

func (b *Backend) Open(_ context.Context, name string) (container.Container, error) {
	if err := container.ValidName(name); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.containers[name]
	if !ok {
		c = New(name)
		b.containers[name] = c
	}
	return c, nil
}

func (b *Backend) Close() error {
	return nil
}

type Container struct {
	name string

	mu      sync.RWMutex
	entries map[models.EntityKey]models.Document
	order   []models.EntityKey
}

var _ container.Container = (*Container)(nil)

func New(name string) *Container {
	return &Container{
		name:    name,
		entries: make(map[models.EntityKey]models.Document),
	}
}

func (c *Container) Name() string {
	return c.name
}

func (c *Container) Get(ctx context.Context, key models.EntityKey) (models.Document, error) {
	if err := container.CheckContext(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	doc, ok := c.entries[key]
	if !ok {
		return nil, container.NotFound(c.name, key)
	}
	return models.CloneDocument(doc), nil
}

func (c *Container) Query(ctx context.Context, prog *filter.Program) ([]container.Entry, error) {
	if err := container.CheckContext(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	entries := make([]container.Entry, 0, len(c.order))
	for _, key := range c.order {
		doc := c.entries[key]
		if prog.Match(doc) {
			entries = append(entries, container.Entry{Key: key, Doc: models.CloneDocument(doc)})
		}
	}
	return entries, nil
}

func (c *Container) Create(ctx context.Context, key models.EntityKey, doc models.Document) error {
	if err := container.CheckContext(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		return container.DuplicateKey(c.name, key)
	}
	c.entries[key] = models.CloneDocument(doc)
	c.order = append(c.order, key)
	return nil
}

func (c *Container) Upsert(ctx context.Context, key models.EntityKey, doc models.Document) error {
	if err := container.CheckContext(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		c.order = append(c.order, key)
	}
	c.entries[key] = models.CloneDocument(doc)
	return nil
}

func (c *Container) Patch(ctx context.Context, key models.EntityKey, partial models.Document) (models.Document, error) {
	if err := container.CheckContext(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	doc, ok := c.entries[key]
	if !ok {
		return nil, container.NotFound(c.name, key)
	}
	merged := models.MergeDocument(doc, partial)
	c.entries[key] = merged
	return models.CloneDocument(merged), nil
}

func (c *Container) Delete(ctx context.Context, key models.EntityKey) (bool, error) {
	if err := container.CheckContext(ctx); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		return false, nil
	}
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (c *Container) Count(ctx context.Context, prog *filter.Program) (int, error) {
	if prog == nil {
		if err := container.CheckContext(ctx); err != nil {
			return 0, err
		}
		c.mu.RLock()
		defer c.mu.RUnlock()
		return len(c.entries), nil
	}
	return container.CountQuery(ctx, c, prog)
}

func (c *Container) Close() error {
	return nil
}
