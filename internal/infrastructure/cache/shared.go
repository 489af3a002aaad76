package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultPrefix = "docrefine"

// SharedStore is the optional second tier shared between replicas
type SharedStore interface {
	// Get returns the value and its remaining TTL; ttl is zero when unknown
	Get(ctx context.Context, key string) (value []byte, ttl time.Duration, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// RedisStore keeps entries under <prefix>:cache:<hash> with native expiry
type RedisStore struct {
	client *redis.Client
	prefix string
	codec  *frameCodec
}

// NewRedisStore wraps an existing client. Values of compressThreshold bytes
// or more are zstd-compressed; zero disables compression.
func NewRedisStore(client *redis.Client, prefix string, compressThreshold int) (*RedisStore, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	codec, err := newFrameCodec(compressThreshold)
	if err != nil {
		return nil, err
	}
	return &RedisStore{client: client, prefix: prefix, codec: codec}, nil
}

// DialRedis parses url, connects and verifies the server answers
func DialRedis(ctx context.Context, url, prefix string, compressThreshold int) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	store, err := NewRedisStore(client, prefix, compressThreshold)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return store, nil
}

// Key returns the namespaced redis key for a fingerprint
func (s *RedisStore) Key(hash string) string {
	return s.prefix + ":cache:" + hash
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, time.Duration, bool, error) {
	pipe := s.client.Pipeline()
	get := pipe.Get(ctx, s.Key(key))
	pttl := pipe.PTTL(ctx, s.Key(key))

	if _, err := pipe.Exec(ctx); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, 0, false, nil
		}
		return nil, 0, false, err
	}

	raw, err := get.Bytes()
	if err != nil {
		return nil, 0, false, err
	}
	value, err := s.codec.decode(raw)
	if err != nil {
		return nil, 0, false, err
	}

	ttl := pttl.Val()
	if ttl < 0 {
		ttl = 0
	}
	return value, ttl, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, s.Key(key), s.codec.encode(value), ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.Key(key)).Err()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	s.codec.close()
	return s.client.Close()
}
