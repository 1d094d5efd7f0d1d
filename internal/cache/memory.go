package cache

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v2"
)

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore is a process local Store backed by ttlcache. It is suitable for
// single instance deployments and tests.
type MemoryStore struct {
	mu    sync.Mutex
	items *ttlcache.Cache
	now   func() time.Time
}

// NewMemoryStore constructs an in-memory Store.
func NewMemoryStore() *MemoryStore {
	items := ttlcache.NewCache()
	items.SkipTTLExtensionOnHit(true)
	return &MemoryStore{items: items, now: time.Now}
}

// Close stops the background expiry loop.
func (s *MemoryStore) Close() error {
	return s.items.Close()
}

// IncrementWithTTL increments a counter inside a fixed window.
func (s *MemoryStore) IncrementWithTTL(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if window <= 0 {
		window = time.Minute
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	item, ok := s.lookup(key, now)
	if !ok {
		item = memoryItem{value: []byte("1"), expiresAt: now.Add(window)}
		if err := s.items.SetWithTTL(key, item, window); err != nil {
			return 0, 0, err
		}
		return 1, window, nil
	}

	current, _ := strconv.ParseInt(string(item.value), 10, 64)
	current++
	item.value = []byte(strconv.FormatInt(current, 10))
	remaining := item.expiresAt.Sub(now)
	if err := s.items.SetWithTTL(key, item, remaining); err != nil {
		return 0, 0, err
	}
	return current, remaining, nil
}

// Set stores the value. A non-positive ttl keeps the value until deleted.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := memoryItem{value: append([]byte(nil), value...)}
	if ttl <= 0 {
		return s.items.Set(key, item)
	}
	item.expiresAt = s.now().Add(ttl)
	return s.items.SetWithTTL(key, item, ttl)
}

// Get retrieves a value by key, respecting expiry.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.lookup(key, s.now())
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), item.value...), true, nil
}

// Delete removes keys from the store.
func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		if err := s.items.Remove(key); err != nil && !errors.Is(err, ttlcache.ErrNotFound) {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) lookup(key string, now time.Time) (memoryItem, bool) {
	raw, err := s.items.Get(key)
	if err != nil {
		return memoryItem{}, false
	}
	item, ok := raw.(memoryItem)
	if !ok {
		return memoryItem{}, false
	}
	if !item.expiresAt.IsZero() && !now.Before(item.expiresAt) {
		_ = s.items.Remove(key)
		return memoryItem{}, false
	}
	return item, true
}
