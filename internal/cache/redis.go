package cache

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig captures the connection parameters for the Redis backed store.
type RedisConfig struct {
	Address  string
	Username string
	Password string
	DB       int
	TLS      bool
	Timeout  time.Duration
}

const defaultRedisTimeout = 5 * time.Second

// RedisStore implements Store on top of a go-redis client.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore creates a Redis backed store. It pings the server so that
// misconfiguration is surfaced during application startup.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	cfg.Address = strings.TrimSpace(cfg.Address)
	if cfg.Address == "" {
		return nil, errors.New("redis: address is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRedisTimeout
	}

	opts := &redis.Options{
		Addr:         cfg.Address,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	}
	if cfg.TLS {
		host := cfg.Address
		if idx := strings.LastIndex(host, ":"); idx > 0 {
			host = host[:idx]
		}
		opts.TLSConfig = &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Address, err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client, e.g. a cluster client.
func NewRedisStoreFromClient(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// IncrementWithTTL increments the supplied key and sets the window on the first hit.
func (s *RedisStore) IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if window <= 0 {
		window = time.Minute
	}
	key = keyPrefix + key

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redis: incr: %w", err)
	}
	if count == 1 {
		if err := s.client.PExpire(ctx, key, window).Err(); err != nil {
			return 0, 0, fmt.Errorf("redis: pexpire: %w", err)
		}
		return count, window, nil
	}

	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redis: pttl: %w", err)
	}
	if ttl < 0 {
		// The key lost its expiry (e.g. a crash between INCR and PEXPIRE).
		_ = s.client.PExpire(ctx, key, window).Err()
		ttl = window
	}
	return count, ttl, nil
}

// Set stores the value with the supplied expiry. A non-positive ttl keeps the key indefinitely.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return s.client.Set(ctx, keyPrefix+key, value, ttl).Err()
}

// Get retrieves a value by key.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Delete removes keys from the store.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, key := range keys {
		prefixed[i] = keyPrefix + key
	}
	return s.client.Del(ctx, prefixed...).Err()
}
