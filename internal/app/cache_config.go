package app

import (
	"strings"

	"github.com/charlesng35/passgate/internal/cache"
)

// RedisClientConfig converts the application cache configuration into the cache package representation.
func (c CacheConfig) RedisClientConfig() cache.RedisConfig {
	return cache.RedisConfig{
		Address:  strings.TrimSpace(c.Redis.Address),
		Username: strings.TrimSpace(c.Redis.Username),
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
		TLS:      c.Redis.TLS,
		Timeout:  c.Redis.Timeout,
	}
}

// Backend resolves the cache backend name, honouring the legacy redis.enabled toggle.
func (c CacheConfig) Backend() string {
	if c.Redis.Enabled {
		return "redis"
	}
	driver := strings.ToLower(strings.TrimSpace(c.Driver))
	if driver == "" {
		return "memory"
	}
	return driver
}
