package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Import state is scratch data; let abandoned runs age out on their own.
const redisTTL = 24 * time.Hour

// Redis backs the Keyspace with a shared Redis instance so concurrent
// workers of the same run (and resumed runs) see one view of the import
// state.
type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(client *redis.Client, prefix string) (*Redis, error) {
	if client == nil {
		return nil, errors.New("cache: nil redis client")
	}
	return &Redis{client: client, prefix: prefix}, nil
}

func (r *Redis) full(key string) string {
	if r.prefix == "" {
		return key
	}
	return r.prefix + ":" + key
}

func (r *Redis) SetAdd(ctx context.Context, key, member string) error {
	k := r.full(key)
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, k, member)
	pipe.Expire(ctx, k, redisTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache: SADD %s: %w", k, err)
	}
	return nil
}

func (r *Redis) SetContains(ctx context.Context, key, member string) (bool, error) {
	ok, err := r.client.SIsMember(ctx, r.full(key), member).Result()
	if err != nil {
		return false, fmt.Errorf("cache: SISMEMBER %s: %w", r.full(key), err)
	}
	return ok, nil
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, r.full(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache: GET %s: %w", r.full(key), err)
	}
	return v, true, nil
}

func (r *Redis) Put(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, r.full(key), value, redisTTL).Err(); err != nil {
		return fmt.Errorf("cache: SET %s: %w", r.full(key), err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, 0, len(keys))
	for _, k := range keys {
		full = append(full, r.full(k))
	}
	if err := r.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("cache: DEL: %w", err)
	}
	return nil
}

// DeletePrefix removes every key under prefix via SCAN, deleting in batches
// so a large id map does not turn into one huge DEL.
func (r *Redis) DeletePrefix(ctx context.Context, prefix string) error {
	match := r.full(prefix) + "*"
	iter := r.client.Scan(ctx, 0, match, 100).Iterator()
	batch := make([]string, 0, 100)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := r.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("cache: DEL %s: %w", match, err)
		}
		batch = batch[:0]
		return nil
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("cache: SCAN %s: %w", match, err)
	}
	return flush()
}
