// Package reconcache is an in-memory, namespaced cache spanning the
// four record kinds that repeat work across a single run can reuse:
// fetched pages, source-map discovery verdicts (including negative
// ones), raw source-map bytes, and extraction results. Entries are
// sha256-keyed and last-writer-wins, with no TTL eviction — a run is
// expected to finish in minutes, and a stale negative discovery
// verdict is still meaningful evidence within it.
package reconcache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/use-agent/reconweb/models"
)

// Cache holds four independent namespaces keyed by URL hash. A nil or
// disabled Cache is safe to call — every method degrades to a miss.
type Cache struct {
	mu        sync.RWMutex
	disabled  bool
	maxEntries int

	pages      map[string][]byte
	discovery  map[string]models.DiscoveryResult
	rawMaps    map[string][]byte
	extraction map[string]models.ExtractionResult
}

// New creates an empty Cache. maxEntries <= 0 means unbounded.
func New(disabled bool, maxEntries int) *Cache {
	return &Cache{
		disabled:   disabled,
		maxEntries: maxEntries,
		pages:      make(map[string][]byte),
		discovery:  make(map[string]models.DiscoveryResult),
		rawMaps:    make(map[string][]byte),
		extraction: make(map[string]models.ExtractionResult),
	}
}

// Key hashes a URL (or any string identity) into a stable cache key.
func Key(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Cache) GetPage(url string) ([]byte, bool) {
	if c == nil || c.disabled {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.pages[Key(url)]
	return v, ok
}

func (c *Cache) SetPage(url string, body []byte) {
	if c == nil || c.disabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	evictIfFull(c.pages, c.maxEntries)
	c.pages[Key(url)] = body
}

// GetDiscovery returns a cached discovery verdict. A negative verdict
// (Found=false) is itself a valid cache hit, distinct from a miss.
func (c *Cache) GetDiscovery(bundleURL string) (models.DiscoveryResult, bool) {
	if c == nil || c.disabled {
		return models.DiscoveryResult{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.discovery[Key(bundleURL)]
	return v, ok
}

func (c *Cache) SetDiscovery(bundleURL string, result models.DiscoveryResult) {
	if c == nil || c.disabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	evictIfFullDiscovery(c.discovery, c.maxEntries)
	c.discovery[Key(bundleURL)] = result
}

func (c *Cache) GetRawMap(mapURL string) ([]byte, bool) {
	if c == nil || c.disabled {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.rawMaps[Key(mapURL)]
	return v, ok
}

func (c *Cache) SetRawMap(mapURL string, raw []byte) {
	if c == nil || c.disabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	evictIfFull(c.rawMaps, c.maxEntries)
	c.rawMaps[Key(mapURL)] = raw
}

func (c *Cache) GetExtraction(bundleURL string) (models.ExtractionResult, bool) {
	if c == nil || c.disabled {
		return models.ExtractionResult{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.extraction[Key(bundleURL)]
	return v, ok
}

func (c *Cache) SetExtraction(bundleURL string, result models.ExtractionResult) {
	if c == nil || c.disabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	evictIfFullExtraction(c.extraction, c.maxEntries)
	c.extraction[Key(bundleURL)] = result
}

// evictIfFull drops one random entry (map iteration order in Go is
// randomized) when the namespace is at capacity.
func evictIfFull(m map[string][]byte, max int) {
	if max <= 0 || len(m) < max {
		return
	}
	for k := range m {
		delete(m, k)
		break
	}
}

func evictIfFullDiscovery(m map[string]models.DiscoveryResult, max int) {
	if max <= 0 || len(m) < max {
		return
	}
	for k := range m {
		delete(m, k)
		break
	}
}

func evictIfFullExtraction(m map[string]models.ExtractionResult, max int) {
	if max <= 0 || len(m) < max {
		return
	}
	for k := range m {
		delete(m, k)
		break
	}
}
