// Package redis stores containers in redis. A container uses three keys:
//
//	<prefix>:<container>:docs   hash  key token -> JSON document
//	<prefix>:<container>:order  zset  key token scored by insertion sequence
//	<prefix>:<container>:seq    counter for the insertion sequence
//
// Writes of one container are serialized within the process. Create and
// Delete keep hash and zset consistent even when interrupted: the order
// entry is added before and removed after the document.
package redis

import (
	"context"
	"sync"

	"github.com/friflo/fliox.go/internal/codec"
	"github.com/friflo/fliox.go/pkg/container"
	"github.com/friflo/fliox.go/pkg/filter"
	"github.com/friflo/fliox.go/pkg/models"
)

// Client is the minimal surface the backend needs from a redis client.
// [GoRedis] implements it with github.com/redis/go-redis/v9.
type Client interface {
	HGet(ctx context.Context, key, field string) (value string, found bool, err error)
	HMGet(ctx context.Context, key string, fields ...string) ([]any, error)
	HSet(ctx context.Context, key, field, value string) error
	HSetNX(ctx context.Context, key, field, value string) (bool, error)
	HDel(ctx context.Context, key, field string) (bool, error)
	HLen(ctx context.Context, key string) (int64, error)
	Incr(ctx context.Context, key string) (int64, error)
	ZAddNX(ctx context.Context, key string, score float64, member string) error
	ZRem(ctx context.Context, key, member string) error
	ZRange(ctx context.Context, key string) ([]string, error)
	Close() error
}

type Backend struct {
	client Client
	prefix string
}

// NewBackend stores containers below the given key prefix, e.g. the
// database name.
func NewBackend(client Client, prefix string) *Backend {
	return &Backend{client: client, prefix: prefix}
}

func (b *Backend) Open(_ context.Context, name string) (container.Container, error) {
	if err := container.ValidName(name); err != nil {
		return nil, err
	}
	base := b.prefix + ":" + name
	return &Container{
		name:   name,
		client: b.client,
		docs:   base + ":docs",
		order:  base + ":order",
		seq:    base + ":seq",
		codec:  codec.NewJSON(),
	}, nil
}

func (b *Backend) Close() error {
	return b.client.Close()
}

type Container struct {
	name   string
	client Client
	docs   string
	order  string
	seq    string
	codec  codec.JSON

	mu sync.Mutex
}

var _ container.Container = (*Container)(nil)

func (c *Container) Name() string {
	return c.name
}

func (c *Container) decode(ctx context.Context, data string) (models.Document, error) {
	var doc models.Document
	if err := c.codec.Unmarshal([]byte(data), &doc); err != nil {
		return nil, container.Unavailable(ctx, "decode", err)
	}
	return models.NormalizeNumbers(doc), nil
}

func (c *Container) encode(ctx context.Context, doc models.Document) (string, error) {
	data, err := c.codec.Marshal(doc)
	if err != nil {
		return "", container.Unavailable(ctx, "encode", err)
	}
	return string(data), nil
}

func (c *Container) Get(ctx context.Context, key models.EntityKey) (models.Document, error) {
	if err := container.CheckContext(ctx); err != nil {
		return nil, err
	}
	data, found, err := c.client.HGet(ctx, c.docs, key.Token())
	if err != nil {
		return nil, container.Unavailable(ctx, "hget", err)
	}
	if !found {
		return nil, container.NotFound(c.name, key)
	}
	return c.decode(ctx, data)
}

func (c *Container) Query(ctx context.Context, prog *filter.Program) ([]container.Entry, error) {
	if err := container.CheckContext(ctx); err != nil {
		return nil, err
	}
	tokens, err := c.client.ZRange(ctx, c.order)
	if err != nil {
		return nil, container.Unavailable(ctx, "zrange", err)
	}
	if len(tokens) == 0 {
		return nil, nil
	}
	values, err := c.client.HMGet(ctx, c.docs, tokens...)
	if err != nil {
		return nil, container.Unavailable(ctx, "hmget", err)
	}
	entries := make([]container.Entry, 0, len(tokens))
	for i, token := range tokens {
		if i >= len(values) {
			break
		}
		data, ok := values[i].(string)
		if !ok {
			// order entry of an interrupted create or delete
			continue
		}
		key, err := models.ParseToken(token)
		if err != nil {
			return nil, container.Unavailable(ctx, "query", err)
		}
		doc, err := c.decode(ctx, data)
		if err != nil {
			return nil, err
		}
		if prog.Match(doc) {
			entries = append(entries, container.Entry{Key: key, Doc: doc})
		}
	}
	return entries, nil
}

// addOrder appends token to the insertion order unless it is already present.
func (c *Container) addOrder(ctx context.Context, token string) error {
	seq, err := c.client.Incr(ctx, c.seq)
	if err != nil {
		return container.Unavailable(ctx, "incr", err)
	}
	return container.Unavailable(ctx, "zadd", c.client.ZAddNX(ctx, c.order, float64(seq), token))
}

func (c *Container) Create(ctx context.Context, key models.EntityKey, doc models.Document) error {
	if err := container.CheckContext(ctx); err != nil {
		return err
	}
	data, err := c.encode(ctx, doc)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	token := key.Token()
	if err := c.addOrder(ctx, token); err != nil {
		return err
	}
	created, err := c.client.HSetNX(ctx, c.docs, token, data)
	if err != nil {
		return container.Unavailable(ctx, "hsetnx", err)
	}
	if !created {
		return container.DuplicateKey(c.name, key)
	}
	return nil
}

func (c *Container) Upsert(ctx context.Context, key models.EntityKey, doc models.Document) error {
	if err := container.CheckContext(ctx); err != nil {
		return err
	}
	data, err := c.encode(ctx, doc)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	token := key.Token()
	if err := c.addOrder(ctx, token); err != nil {
		return err
	}
	return container.Unavailable(ctx, "hset", c.client.HSet(ctx, c.docs, token, data))
}

func (c *Container) Patch(ctx context.Context, key models.EntityKey, partial models.Document) (models.Document, error) {
	if err := container.CheckContext(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	token := key.Token()
	data, found, err := c.client.HGet(ctx, c.docs, token)
	if err != nil {
		return nil, container.Unavailable(ctx, "hget", err)
	}
	if !found {
		return nil, container.NotFound(c.name, key)
	}
	doc, err := c.decode(ctx, data)
	if err != nil {
		return nil, err
	}
	merged := models.MergeDocument(doc, partial)
	encoded, err := c.encode(ctx, merged)
	if err != nil {
		return nil, err
	}
	if err := c.client.HSet(ctx, c.docs, token, encoded); err != nil {
		return nil, container.Unavailable(ctx, "hset", err)
	}
	return merged, nil
}

func (c *Container) Delete(ctx context.Context, key models.EntityKey) (bool, error) {
	if err := container.CheckContext(ctx); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	token := key.Token()
	existed, err := c.client.HDel(ctx, c.docs, token)
	if err != nil {
		return false, container.Unavailable(ctx, "hdel", err)
	}
	if err := c.client.ZRem(ctx, c.order, token); err != nil {
		return existed, container.Unavailable(ctx, "zrem", err)
	}
	return existed, nil
}

func (c *Container) Count(ctx context.Context, prog *filter.Program) (int, error) {
	if prog != nil {
		return container.CountQuery(ctx, c, prog)
	}
	if err := container.CheckContext(ctx); err != nil {
		return 0, err
	}
	n, err := c.client.HLen(ctx, c.docs)
	if err != nil {
		return 0, container.Unavailable(ctx, "hlen", err)
	}
	return int(n), nil
}

func (c *Container) Close() error {
	return nil
}
