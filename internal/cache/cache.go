// Package cache provides caching for rendered slices and image summaries.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/depthslice/server/internal/store"
)

// Config contains cache configuration.
type Config struct {
	PNGCacheSizeMB int
	PNGTTL         time.Duration
	InfoCacheSize  int
}

// Manager manages the rendered PNG and image info caches. Both are
// dropped wholesale whenever an image is (re)ingested.
type Manager struct {
	pngCache  *bigcache.BigCache
	infoCache *lru.Cache[string, store.Info]
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.PNGTTL <= 0 {
		cfg.PNGTTL = 10 * time.Minute
	}
	if cfg.PNGCacheSizeMB <= 0 {
		cfg.PNGCacheSizeMB = 64
	}
	if cfg.InfoCacheSize <= 0 {
		cfg.InfoCacheSize = 256
	}

	// Configure PNG cache
	pngCacheConfig := bigcache.Config{
		Shards:             64,
		LifeWindow:         cfg.PNGTTL,
		CleanWindow:        cfg.PNGTTL / 2,
		MaxEntriesInWindow: 1000,
		MaxEntrySize:       256 * 1024, // 256KB per slice
		HardMaxCacheSize:   cfg.PNGCacheSizeMB,
		Verbose:            false,
	}

	pngCache, err := bigcache.New(context.Background(), pngCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create png cache: %w", err)
	}

	infoCache, err := lru.New[string, store.Info](cfg.InfoCacheSize)
	if err != nil {
		pngCache.Close()
		return nil, fmt.Errorf("failed to create info cache: %w", err)
	}

	return &Manager{
		pngCache:  pngCache,
		infoCache: infoCache,
	}, nil
}

// GetPNG retrieves a rendered slice from cache.
func (m *Manager) GetPNG(key string) ([]byte, bool) {
	data, err := m.pngCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetPNG stores a rendered slice in cache.
func (m *Manager) SetPNG(key string, data []byte) error {
	return m.pngCache.Set(key, data)
}

// GetInfo retrieves an image summary from cache.
func (m *Manager) GetInfo(name string) (store.Info, bool) {
	return m.infoCache.Get(name)
}

// SetInfo stores an image summary in cache.
func (m *Manager) SetInfo(info store.Info) {
	m.infoCache.Add(info.Name, info)
}

// Invalidate drops every cached entry.
func (m *Manager) Invalidate() error {
	m.infoCache.Purge()
	return m.pngCache.Reset()
}

// SliceKey generates a cache key for a rendered slice.
func SliceKey(image string, minDepth, maxDepth float64, colormap, normalize string, scale int) string {
	base := fmt.Sprintf("slice:%s:%s:%s",
		strconv.Quote(image),
		strconv.FormatFloat(minDepth, 'g', -1, 64),
		strconv.FormatFloat(maxDepth, 'g', -1, 64),
	)

	// Hash render options for cache key
	h := sha256.New()
	h.Write([]byte(base))
	h.Write([]byte(fmt.Sprintf("cmap=%s;norm=%s;scale=%d", colormap, normalize, scale)))
	return base + ":" + hex.EncodeToString(h.Sum(nil))[:16]
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"png_cache_len":  m.pngCache.Len(),
		"png_cache_cap":  m.pngCache.Capacity(),
		"info_cache_len": m.infoCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.pngCache.Close()
}
