// Package redis wraps a single go-redis client as the backing store for
// the cross-process lock that serializes Recommender.Refresh (SPEC_FULL
// §5), following the teacher's Cache/scripter/redislock wiring trimmed to
// the one cache this domain needs.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/go-redis/redis/v8"
)

// ErrKeyNotFound is returned by Get when the key is absent.
type ErrKeyNotFound struct {
	Key string
}

func (e ErrKeyNotFound) Error() string {
	return fmt.Sprintf("key %s not found", e.Key)
}

// CacheConfig names a redis database/key-prefix pair. RecommenderLockCache
// is the only one this domain registers; the shape is kept so a future
// cache (e.g. a leaderboard read cache) slots in the same way.
type CacheConfig struct {
	database    int
	keyPrefix   string
	displayName string
}

var RecommenderLockCache = CacheConfig{database: 0, keyPrefix: "recolock", displayName: "recommenderLock"}

func newClient(url, password string, db int) *redis.Client {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{
		Addr:     url,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		panic(err)
	}
	return client
}

// Cache represents an abstraction over a redis client.
type Cache struct {
	client    *redis.Client
	keyPrefix string
	scripter  *scripter
}

// NewCache creates a new redis cache bound to the given connection
// settings and config (url/password come from config.Config).
func NewCache(url, password string, config CacheConfig) *Cache {
	cache := &Cache{
		client:    newClient(url, password, config.database),
		keyPrefix: config.keyPrefix,
	}
	cache.scripter = &scripter{cache: cache}
	return cache
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

func (c *Cache) Prefix() string {
	return c.keyPrefix
}

// Scripter returns an implementation of the redis.Scripter interface using this Cache.
func (c *Cache) Scripter() redis.Scripter {
	return c.scripter
}

// Set sets a value in the redis cache.
func (c *Cache) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	return c.client.Set(ctx, c.getPrefixedKey(key), value, expiration).Err()
}

// SetNX sets a value in the redis cache if it doesn't already exist. Returns true if the key did not
// already exist and was set, false if the key did exist and therefore was not set.
func (c *Cache) SetNX(ctx context.Context, key string, value []byte, expiration time.Duration) (bool, error) {
	cmd := c.client.SetNX(ctx, c.getPrefixedKey(key), value, expiration)
	if err := cmd.Err(); err != nil {
		return false, err
	}
	return cmd.Val(), nil
}

// Get gets a value from the redis cache.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	bs, err := c.client.Get(ctx, c.getPrefixedKey(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrKeyNotFound{Key: key}
		}
		return nil, err
	}
	return bs, nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.getPrefixedKey(key)).Err()
}

// Close closes the underlying redis client.
func (c *Cache) Close() error {
	return c.client.Close()
}

func (c *Cache) getPrefixedKey(key string) string {
	if c.keyPrefix == "" {
		return key
	}
	return c.keyPrefix + ":" + key
}

func (c *Cache) getPrefixedKeys(keys []string) []string {
	if c.keyPrefix == "" {
		return keys
	}
	prefixedKeys := make([]string, len(keys))
	for i, key := range keys {
		prefixedKeys[i] = c.keyPrefix + ":" + key
	}
	return prefixedKeys
}

// scripter is an implementation of the redis.Scripter interface that uses a Cache to namespace keys.
type scripter struct {
	cache *Cache
}

func (s scripter) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	return s.cache.client.Eval(ctx, script, s.cache.getPrefixedKeys(keys), args...)
}

func (s scripter) EvalSha(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	return s.cache.client.EvalSha(ctx, sha1, s.cache.getPrefixedKeys(keys), args...)
}

func (s scripter) ScriptExists(ctx context.Context, scripts ...string) *redis.BoolSliceCmd {
	return s.cache.client.ScriptExists(ctx, scripts...)
}

func (s scripter) ScriptLoad(ctx context.Context, script string) *redis.StringCmd {
	return s.cache.client.ScriptLoad(ctx, script)
}

// NewLockClient returns a redislock.Client backed by cache, used to
// serialize Recommender.Refresh across server instances.
func NewLockClient(cache *Cache) *redislock.Client {
	return redislock.New(&redislockCacheClient{scripter: *cache.scripter})
}

// redislockCacheClient is a minimal implementation of redislock.RedisClient that uses a Cache to namespace its keys.
type redislockCacheClient struct {
	scripter
}

func (r *redislockCacheClient) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	return r.cache.client.SetNX(ctx, r.cache.getPrefixedKey(key), value, expiration)
}
