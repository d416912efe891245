package redis

import (
	"context"
	"errors"

	goredis "github.com/redis/go-redis/v9"
)

// GoRedis implements Client with github.com/redis/go-redis/v9.
type GoRedis struct{ c goredis.UniversalClient }

var _ Client = (*GoRedis)(nil)

// NewGoRedis connects to the redis server at addr, e.g. "127.0.0.1:6379".
func NewGoRedis(addr string) *GoRedis {
	return &GoRedis{c: goredis.NewClient(&goredis.Options{Addr: addr})}
}

// WrapGoRedis uses an already configured client, e.g. a cluster or sentinel client.
func WrapGoRedis(c goredis.UniversalClient) *GoRedis {
	return &GoRedis{c: c}
}

func (g *GoRedis) Ping(ctx context.Context) error {
	return g.c.Ping(ctx).Err()
}

func (g *GoRedis) HGet(ctx context.Context, key, field string) (string, bool, error) {
	v, err := g.c.HGet(ctx, key, field).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (g *GoRedis) HMGet(ctx context.Context, key string, fields ...string) ([]any, error) {
	return g.c.HMGet(ctx, key, fields...).Result()
}

func (g *GoRedis) HSet(ctx context.Context, key, field, value string) error {
	return g.c.HSet(ctx, key, field, value).Err()
}

func (g *GoRedis) HSetNX(ctx context.Context, key, field, value string) (bool, error) {
	return g.c.HSetNX(ctx, key, field, value).Result()
}

func (g *GoRedis) HDel(ctx context.Context, key, field string) (bool, error) {
	n, err := g.c.HDel(ctx, key, field).Result()
	return n > 0, err
}

func (g *GoRedis) HLen(ctx context.Context, key string) (int64, error) {
	return g.c.HLen(ctx, key).Result()
}

func (g *GoRedis) Incr(ctx context.Context, key string) (int64, error) {
	return g.c.Incr(ctx, key).Result()
}

func (g *GoRedis) ZAddNX(ctx context.Context, key string, score float64, member string) error {
	return g.c.ZAddNX(ctx, key, goredis.Z{Score: score, Member: member}).Err()
}

func (g *GoRedis) ZRem(ctx context.Context, key, member string) error {
	return g.c.ZRem(ctx, key, member).Err()
}

func (g *GoRedis) ZRange(ctx context.Context, key string) ([]string, error) {
	return g.c.ZRange(ctx, key, 0, -1).Result()
}

func (g *GoRedis) Close() error {
	return g.c.Close()
}
