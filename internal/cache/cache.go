// Package cache provides caching for rendered previews and aggregation
// results.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pointgrid/server/pkg/gridlayer"
)

// Config contains cache configuration.
type Config struct {
	PreviewCacheSizeMB int
	PreviewTTL         time.Duration
	ResultCacheSize    int
}

// Manager manages the preview tile cache and the aggregation result cache.
// Cached results are shared; callers must treat them as immutable.
type Manager struct {
	previewCache *bigcache.BigCache
	resultCache  *lru.Cache[string, *gridlayer.Result]
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	previewCacheConfig := bigcache.Config{
		Shards:             1024,
		LifeWindow:         cfg.PreviewTTL,
		CleanWindow:        cfg.PreviewTTL / 2,
		MaxEntriesInWindow: 100000,
		MaxEntrySize:       100 * 1024, // 100KB per preview tile
		HardMaxCacheSize:   cfg.PreviewCacheSizeMB,
		Verbose:            false,
	}

	previewCache, err := bigcache.New(context.Background(), previewCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create preview cache: %w", err)
	}

	resultCache, err := lru.New[string, *gridlayer.Result](cfg.ResultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create result cache: %w", err)
	}

	return &Manager{
		previewCache: previewCache,
		resultCache:  resultCache,
	}, nil
}

// GetPreview retrieves a rendered preview tile from cache.
func (m *Manager) GetPreview(key string) ([]byte, bool) {
	data, err := m.previewCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetPreview stores a rendered preview tile in cache.
func (m *Manager) SetPreview(key string, data []byte) error {
	return m.previewCache.Set(key, data)
}

// GetResult retrieves an aggregation result from cache.
func (m *Manager) GetResult(key string) (*gridlayer.Result, bool) {
	return m.resultCache.Get(key)
}

// SetResult stores an aggregation result in cache.
func (m *Manager) SetResult(key string, res *gridlayer.Result) {
	m.resultCache.Add(key, res)
}

// PreviewKey generates a cache key for a preview tile. Option maps with the
// same contents produce the same key regardless of insertion order.
func PreviewKey(dataset string, z, x, y int, options map[string]interface{}) string {
	base := fmt.Sprintf("preview:%s:%d/%d/%d", dataset, z, x, y)
	if len(options) == 0 {
		return base
	}

	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(base))
	for _, k := range keys {
		h.Write([]byte(fmt.Sprintf("%s=%v", k, options[k])))
	}
	return base + ":" + hex.EncodeToString(h.Sum(nil))[:16]
}

// LayerKey generates a cache key for an aggregation pass from the dataset
// id and a canonical encoding of the layer configuration.
func LayerKey(dataset string, cfg gridlayer.Config) string {
	encoded, err := json.Marshal(cfg)
	if err != nil {
		// Config is a plain struct; this cannot happen.
		return fmt.Sprintf("layer:%s:unhashable", dataset)
	}
	sum := sha256.Sum256(encoded)
	return fmt.Sprintf("layer:%s:%s", dataset, hex.EncodeToString(sum[:])[:16])
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"preview_cache_len": m.previewCache.Len(),
		"preview_cache_cap": m.previewCache.Capacity(),
		"result_cache_len":  m.resultCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.previewCache.Close()
}
