package cache

import (
	"context"
	"encoding/json"
	"path"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"github.com/redis/go-redis/v9"
)

// The redis cache implements the Cache interface using Redis as the backend,
// so memoized results are shared by all replicas of the service.
// Expiry is enforced by Redis with the key TTL.
// The keys namespace is organized as follows:
// - `/<prefix>/cache/<key>` for storing the JSON encoded value
type redisCache struct {
	client     *redis.Client
	prefix     string
	defaultTTL time.Duration
}

// NewRedis returns a Cache backed by Redis.
func NewRedis(client *redis.Client, prefix string) Cache {
	return &redisCache{
		client:     client,
		prefix:     prefix,
		defaultTTL: DefaultTTL,
	}
}

func (r *redisCache) root() string {
	return path.Join(r.prefix, "cache")
}

func (r *redisCache) redisKey(key string) string {
	return r.root() + "/" + key
}

func (r *redisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.defaultTTL
	}
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(err, "failed to marshal cache value")
	}
	if err = r.client.Set(ctx, r.redisKey(key), data, ttl).Err(); err != nil {
		return errors.Wrap(err, "failed to store cache value in Redis")
	}
	return nil
}

func (r *redisCache) Get(ctx context.Context, key string) (any, bool) {
	data, err := r.client.Get(ctx, r.redisKey(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.ContextKV(ctx, xlog.ERROR, "reason", "get", "key", key, "err", err.Error())
		}
		return nil, false
	}

	var val any
	if err = json.Unmarshal(data, &val); err != nil {
		logger.ContextKV(ctx, xlog.ERROR, "reason", "unmarshal", "key", key, "err", err.Error())
		return nil, false
	}
	return val, true
}

func (r *redisCache) Invalidate(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.redisKey(key)).Err(); err != nil {
		return errors.Wrap(err, "failed to delete cache value from Redis")
	}
	return nil
}

// keys returns the logical keys matching the filter
func (r *redisCache) keys(ctx context.Context, filter func(string) bool) ([]string, error) {
	root := r.root() + "/"
	// Use SCAN instead of KEYS for better performance
	iter := r.client.Scan(ctx, 0, root+"*", 0).Iterator()

	var keys []string
	for iter.Next(ctx) {
		key := strings.TrimPrefix(iter.Val(), root)
		if filter == nil || filter(key) {
			keys = append(keys, key)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to scan cache keys from Redis")
	}
	slices.Sort(keys)
	return keys, nil
}

func (r *redisCache) deleteKeys(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	pipe := r.client.Pipeline()
	for _, k := range keys {
		pipe.Del(ctx, r.redisKey(k))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "failed to delete cache values from Redis")
	}
	return nil
}

func (r *redisCache) InvalidatePattern(ctx context.Context, pattern *regexp.Regexp) (int, error) {
	keys, err := r.keys(ctx, pattern.MatchString)
	if err != nil {
		return 0, err
	}
	if err = r.deleteKeys(ctx, keys); err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (r *redisCache) Clear(ctx context.Context) error {
	keys, err := r.keys(ctx, nil)
	if err != nil {
		return err
	}
	return r.deleteKeys(ctx, keys)
}

func (r *redisCache) Stats(ctx context.Context) (*Stats, error) {
	keys, err := r.keys(ctx, nil)
	if err != nil {
		return nil, err
	}
	if keys == nil {
		keys = []string{}
	}
	return &Stats{
		Size: len(keys),
		Keys: keys,
	}, nil
}
