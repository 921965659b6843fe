package cache

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/grand-thief-cash/chaos/app/infra/go/application/components/logging"
	redisComp "github.com/grand-thief-cash/chaos/app/infra/go/application/components/redis"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/codec"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/errs"
)

const mutateMaxTries = 16

// RedisCache keeps entries under "<namespace>:<key>" with native TTLs. Read failures look like
// misses; write failures are logged and returned as transient.
type RedisCache struct {
	client    redis.UniversalClient
	namespace string
	ownClient bool
}

func NewRedisCache(client redis.UniversalClient, namespace string) *RedisCache {
	return &RedisCache{client: client, namespace: namespace}
}

func (c *RedisCache) key(k string) string {
	if c.namespace == "" {
		return k
	}
	return c.namespace + ":" + k
}

func (c *RedisCache) Close() error {
	if c.ownClient {
		return c.client.Close()
	}
	return nil
}

func (c *RedisCache) GetRaw(ctx context.Context, key string) ([]byte, bool) {
	raw, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logging.Warn(ctx, "redis cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	return raw, true
}

func (c *RedisCache) Get(ctx context.Context, key string, dst any) bool {
	raw, ok := c.GetRaw(ctx, key)
	if !ok {
		return false
	}
	return decodeInto(raw, dst)
}

func (c *RedisCache) Has(ctx context.Context, key string) bool {
	n, err := c.client.Exists(ctx, c.key(key)).Result()
	if err != nil {
		logging.Warn(ctx, "redis cache exists failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return n > 0
}

func (c *RedisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := codec.Marshal(value)
	if err != nil {
		return errs.Wrap(errs.ErrInvalid, "cache.set", err)
	}
	return c.SetRaw(ctx, key, raw, ttl)
}

func (c *RedisCache) SetRaw(ctx context.Context, key string, raw []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return c.writeErr(ctx, "cache.set", key, c.client.Set(ctx, c.key(key), raw, ttl).Err())
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.writeErr(ctx, "cache.delete", key, c.client.Del(ctx, c.key(key)).Err())
}

// Clear removes every key of the namespace. Without a namespace it flushes the selected DB.
func (c *RedisCache) Clear(ctx context.Context) error {
	if c.namespace == "" {
		return c.writeErr(ctx, "cache.clear", "*", c.client.FlushDB(ctx).Err())
	}
	err := redisComp.ScanKeys(ctx, c.client, c.namespace+":*", func(ctx context.Context, cmd redis.Cmdable, keys []string) error {
		return cmd.Unlink(ctx, keys...).Err()
	})
	return c.writeErr(ctx, "cache.clear", c.namespace+":*", err)
}

// Mutate runs fn inside WATCH/MULTI and retries when another writer touched the key first.
func (c *RedisCache) Mutate(ctx context.Context, key string, ttl time.Duration, fn MutateFunc) error {
	if ttl < 0 {
		ttl = 0
	}
	full := c.key(key)
	var fnErr error
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, full).Bytes()
		exists := true
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				return err
			}
			exists, raw = false, nil
		}
		next, err := fn(raw, exists)
		if err != nil {
			fnErr = err
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			if next == nil {
				p.Del(ctx, full)
			} else {
				p.Set(ctx, full, next, ttl)
			}
			return nil
		})
		return err
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Millisecond
	b.MaxInterval = 100 * time.Millisecond
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := c.client.Watch(ctx, txf, full)
		switch {
		case err == nil:
			return struct{}{}, nil
		case errors.Is(err, redis.TxFailedErr):
			return struct{}{}, err
		default:
			return struct{}{}, backoff.Permanent(err)
		}
	}, backoff.WithBackOff(b), backoff.WithMaxTries(mutateMaxTries))
	if fnErr != nil {
		return fnErr
	}
	return c.writeErr(ctx, "cache.mutate", key, err)
}

func (c *RedisCache) writeErr(ctx context.Context, op, key string, err error) error {
	if err == nil {
		return nil
	}
	logging.Warn(ctx, "redis cache write dropped", zap.String("op", op), zap.String("key", key), zap.Error(err))
	return errs.Transient(op, err)
}
