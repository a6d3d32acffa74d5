package cache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/dragonscale-orchestrator/internal/logging"
	"github.com/ZanzyTHEbar/errbuilder-go"
)

// FilePersistentCache provides a JSON file-backed cache that survives restarts.
type FilePersistentCache[V any] struct {
	store    map[string]cacheItem[V]
	mutex    sync.RWMutex
	ttl      time.Duration
	filePath string
	logger   logging.Logger
	stop     chan struct{}
	once     sync.Once
}

// NewFilePersistentCache creates a persistent cache and loads any existing file.
func NewFilePersistentCache[V any](defaultTTL time.Duration, filePath string, logger logging.Logger) *FilePersistentCache[V] {
	c := &FilePersistentCache[V]{
		store:    make(map[string]cacheItem[V]),
		ttl:      defaultTTL,
		filePath: filePath,
		logger:   logging.OrNop(logger),
		stop:     make(chan struct{}),
	}
	c.loadFromFile()
	go c.cleanupLoop(10 * time.Minute)
	return c
}

func (c *FilePersistentCache[V]) loadFromFile() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	file, err := os.Open(c.filePath)
	if err != nil {
		return
	}
	defer file.Close()
	if err := json.NewDecoder(file).Decode(&c.store); err != nil {
		c.logger.Warn("Persistent cache file unreadable, starting empty", map[string]interface{}{"path": c.filePath, "error": err})
		c.store = make(map[string]cacheItem[V])
	}
}

// saveLocked writes the store; callers hold the write lock.
func (c *FilePersistentCache[V]) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(c.filePath), 0o755); err != nil {
		return err
	}
	tmp := c.filePath + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(file).Encode(c.store); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, c.filePath)
}

// Get retrieves an item from the cache.
func (c *FilePersistentCache[V]) Get(ctx context.Context, key string) (V, error) {
	var zero V
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return zero, err
	}

	c.mutex.RLock()
	item, found := c.store[key]
	c.mutex.RUnlock()
	if !found {
		return zero, errbuilder.NotFoundErr(errbuilder.GenericErr("cache item not found", nil))
	}
	if time.Now().UnixNano() > item.Expiration {
		c.logger.Debug("Persistent cache item expired", map[string]interface{}{"key": key})
		return zero, errbuilder.NotFoundErr(errbuilder.GenericErr("cache item expired", nil))
	}
	return item.Value, nil
}

// Set adds or updates an item and flushes the file.
func (c *FilePersistentCache[V]) Set(ctx context.Context, key string, value V) error {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return err
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.store[key] = cacheItem[V]{
		Value:      value,
		Expiration: time.Now().Add(c.ttl).UnixNano(),
	}
	if err := c.saveLocked(); err != nil {
		c.logger.Error("Persistent cache flush failed", map[string]interface{}{"path": c.filePath, "error": err})
		return errbuilder.GenericErr("persistent cache flush failed", err)
	}
	c.logger.Debug("Persistent cache item set", map[string]interface{}{"key": key})
	return nil
}

// Close stops the background cleanup.
func (c *FilePersistentCache[V]) Close() {
	c.once.Do(func() { close(c.stop) })
}

func (c *FilePersistentCache[V]) cleanupLoop(interval time.Duration) {
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
			if err := c.saveLocked(); err != nil {
				c.logger.Error("Persistent cache flush failed", map[string]interface{}{"path": c.filePath, "error": err})
			}
			c.mutex.Unlock()
		}
	}
}
