// Package file stores every entity as one JSON file. A container is a
// directory below the backend root, entries are ordered by file name.
package file

import (
	"context"
	"errors"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/friflo/fliox.go/internal/codec"
	"github.com/friflo/fliox.go/pkg/container"
	"github.com/friflo/fliox.go/pkg/filter"
	"github.com/friflo/fliox.go/pkg/models"
)

const fileExt = ".json"

type Backend struct {
	root string
}

// NewBackend stores containers below root. The directory is created on demand.
func NewBackend(root string) *Backend {
	return &Backend{root: root}
}

func (b *Backend) Open(ctx context.Context, name string) (container.Container, error) {
	if err := container.ValidName(name); err != nil {
		return nil, err
	}
	return container.OpenPrepared(ctx, New(filepath.Join(b.root, name), name))
}

func (b *Backend) Close() error {
	return nil
}

type Container struct {
	name  string
	dir   string
	codec codec.JSON

	mu sync.RWMutex
}

var (
	_ container.Container = (*Container)(nil)
	_ container.Preparer  = (*Container)(nil)
)

func New(dir, name string) *Container {
	return &Container{name: name, dir: dir, codec: codec.NewJSON()}
}

func (c *Container) Name() string {
	return c.name
}

// Prepare creates the container directory.
func (c *Container) Prepare(ctx context.Context) error {
	return container.Unavailable(ctx, "prepare", os.MkdirAll(c.dir, 0o755))
}

// fileName escapes the key token, so any string key maps to one file name.
func (c *Container) fileName(key models.EntityKey) string {
	return url.PathEscape(key.Token()) + fileExt
}

func (c *Container) path(key models.EntityKey) string {
	return filepath.Join(c.dir, c.fileName(key))
}

func (c *Container) read(ctx context.Context, path string) (models.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc models.Document
	if err := c.codec.Unmarshal(data, &doc); err != nil {
		return nil, container.Unavailable(ctx, "decode "+path, err)
	}
	return models.NormalizeNumbers(doc), nil
}

// write replaces the file atomically through a temp file and rename.
func (c *Container) write(ctx context.Context, key models.EntityKey, doc models.Document) error {
	data, err := c.codec.Marshal(doc)
	if err != nil {
		return container.Unavailable(ctx, "encode", err)
	}
	tmp, err := os.CreateTemp(c.dir, ".tmp-*")
	if err != nil {
		return container.Unavailable(ctx, "write", err)
	}
	_, err = tmp.Write(data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), c.path(key))
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return container.Unavailable(ctx, "write", err)
	}
	return nil
}

func (c *Container) exists(key models.EntityKey) (bool, error) {
	_, err := os.Stat(c.path(key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (c *Container) Get(ctx context.Context, key models.EntityKey) (models.Document, error) {
	if err := container.CheckContext(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	doc, err := c.read(ctx, c.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, container.NotFound(c.name, key)
	}
	if err != nil {
		return nil, container.Unavailable(ctx, "read", err)
	}
	return doc, nil
}

func (c *Container) Query(ctx context.Context, prog *filter.Program) ([]container.Entry, error) {
	if err := container.CheckContext(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	// os.ReadDir returns the entries sorted by file name
	files, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, container.Unavailable(ctx, "list", err)
	}
	var entries []container.Entry
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, fileExt) {
			continue
		}
		if err := container.CheckContext(ctx); err != nil {
			return nil, err
		}
		token, err := url.PathUnescape(strings.TrimSuffix(name, fileExt))
		if err != nil {
			continue
		}
		key, err := models.ParseToken(token)
		if err != nil || key.IsNull() {
			continue
		}
		doc, err := c.read(ctx, filepath.Join(c.dir, name))
		if err != nil {
			return nil, container.Unavailable(ctx, "read", err)
		}
		if prog.Match(doc) {
			entries = append(entries, container.Entry{Key: key, Doc: doc})
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

	found, err := c.exists(key)
	if err != nil {
		return container.Unavailable(ctx, "stat", err)
	}
	if found {
		return container.DuplicateKey(c.name, key)
	}
	return c.write(ctx, key, doc)
}

func (c *Container) Upsert(ctx context.Context, key models.EntityKey, doc models.Document) error {
	if err := container.CheckContext(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.write(ctx, key, doc)
}

func (c *Container) Patch(ctx context.Context, key models.EntityKey, partial models.Document) (models.Document, error) {
	if err := container.CheckContext(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	doc, err := c.read(ctx, c.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, container.NotFound(c.name, key)
	}
	if err != nil {
		return nil, container.Unavailable(ctx, "read", err)
	}
	merged := models.MergeDocument(doc, partial)
	if err := c.write(ctx, key, merged); err != nil {
		return nil, err
	}
	return merged, nil
}

func (c *Container) Delete(ctx context.Context, key models.EntityKey) (bool, error) {
	if err := container.CheckContext(ctx); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	err := os.Remove(c.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, container.Unavailable(ctx, "delete", err)
	}
	return true, nil
}

func (c *Container) Count(ctx context.Context, prog *filter.Program) (int, error) {
	return container.CountQuery(ctx, c, prog)
}

func (c *Container) Close() error {
	return nil
}
