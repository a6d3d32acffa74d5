package cache

import (
	"context"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/dragonscale-orchestrator/internal/logging"
	"github.com/ZanzyTHEbar/errbuilder-go"
)

// Cache is the typed key/value contract both cache implementations satisfy.
type Cache[V any] interface {
	Get(ctx context.Context, key string) (V, error)
	Set(ctx context.Context, key string, value V) error
}

// InMemoryCache provides a thread-safe in-memory cache with a fixed TTL.
type InMemoryCache[V any] struct {
	store  map[string]cacheItem[V]
	mutex  sync.RWMutex
	ttl    time.Duration
	logger logging.Logger
	stop   chan struct{}
	once   sync.Once
}

type cacheItem[V any] struct {
	Value      V     `json:"value"`
	Expiration int64 `json:"expiration"`
}

// NewInMemoryCache creates a new in-memory cache with a default TTL.
func NewInMemoryCache[V any](defaultTTL time.Duration, logger logging.Logger) *InMemoryCache[V] {
	c := &InMemoryCache[V]{
		store:  make(map[string]cacheItem[V]),
		ttl:    defaultTTL,
		logger: logging.OrNop(logger),
		stop:   make(chan struct{}),
	}
	go c.cleanupLoop(10 * time.Minute)
	return c
}

// Get retrieves an item from the cache.
func (c *InMemoryCache[V]) Get(ctx context.Context, key string) (V, error) {
	var zero V
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return zero, err
	}

	c.mutex.RLock()
	defer c.mutex.RUnlock()

	item, found := c.store[key]
	if !found {
		return zero, errbuilder.NotFoundErr(errbuilder.GenericErr("cache item not found", nil))
	}

	if time.Now().UnixNano() > item.Expiration {
		c.logger.Debug("Cache item expired", map[string]interface{}{"key": key})
		return zero, errbuilder.NotFoundErr(errbuilder.GenericErr("cache item expired", nil))
	}

	return item.Value, nil
}

// Set adds or updates an item in the cache.
func (c *InMemoryCache[V]) Set(ctx context.Context, key string, value V) error {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return err
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.store[key] = cacheItem[V]{
		Value:      value,
		Expiration: time.Now().Add(c.ttl).UnixNano(),
	}
	c.logger.Debug("Cache item set", map[string]interface{}{"key": key})
	return nil
}

// Len returns the number of stored items, expired or not.
func (c *InMemoryCache[V]) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.store)
}

// Close stops the background cleanup.
func (c *InMemoryCache[V]) Close() {
	c.once.Do(func() { close(c.stop) })
}

func (c *InMemoryCache[V]) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.mutex.Lock()
			now := time.Now().UnixNano()
			for key, item := range c.store {
				if now > item.Expiration {
					delete(c.store, key)
				}
			}
			c.mutex.Unlock()
		}
	}
}
