package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend keeps records in Redis under
// "<prefix>:<namespace>:<record>". A shared Redis lets several processes of
// one operator console see the same session.
type RedisBackend struct {
	redis     redis.UniversalClient
	prefix    string
	namespace string
	ttl       time.Duration
}

// NewRedisBackend builds a backend. ttl <= 0 stores records without expiry.
func NewRedisBackend(client redis.UniversalClient, prefix, namespace string, ttl time.Duration) *RedisBackend {
	if prefix == "" {
		prefix = "ac"
	}
	if namespace == "" {
		namespace = "default"
	}
	return &RedisBackend{
		redis:     client,
		prefix:    prefix,
		namespace: namespace,
		ttl:       ttl,
	}
}

func (r *RedisBackend) key(name string) string {
	return r.prefix + ":" + r.namespace + ":" + name
}

func (r *RedisBackend) Get(ctx context.Context, name string) ([]byte, error) {
	data, err := r.redis.Get(ctx, r.key(name)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return data, nil
}

func (r *RedisBackend) Put(ctx context.Context, name string, data []byte) error {
	ttl := r.ttl
	if ttl < 0 {
		ttl = 0
	}
	if err := r.redis.Set(ctx, r.key(name), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

func (r *RedisBackend) Delete(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		return nil
	}
	keys := make([]string, 0, len(names))
	for _, name := range names {
		keys = append(keys, r.key(name))
	}
	if err := r.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (r *RedisBackend) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := r.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return time.Since(start), nil
}
