package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/labelworks/parser-cli/internal/model"
)

// CachedExtraction is one fragment's extraction result, stored so re-running
// a product with unchanged fragments is idempotent and spends no external
// calls.
type CachedExtraction struct {
	Items []model.ExtractedItem `json:"items"`
	Notes []string              `json:"notes"`
}

// ExtractionCache stores extraction results keyed by CacheKey. Get returns
// nil on a miss. Put follows insert-if-absent discipline: the first write
// for a key wins and later writes are no-ops, which is the only concurrency
// guarantee the pipeline needs.
type ExtractionCache interface {
	Get(ctx context.Context, key string) (*CachedExtraction, error)
	Put(ctx context.Context, key string, entry *CachedExtraction) error
}

// CacheKey derives the cache key for one fragment extraction. The fragment
// content is hashed so edited text always misses; the domain is part of the
// key because the declared-text fragment is extracted once per domain.
func CacheKey(productID string, kind model.SourceKind, d Domain, text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%s|%s|%s|%s", productID, kind, d, hex.EncodeToString(sum[:]))
}

// MemoryCache is a process-local ExtractionCache for tests and cache-less
// runs.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]*CachedExtraction
}

// NewMemoryCache creates an empty in-memory extraction cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]*CachedExtraction)}
}

func (c *MemoryCache) Get(ctx context.Context, key string) (*CachedExtraction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[key], nil
}

func (c *MemoryCache) Put(ctx context.Context, key string, entry *CachedExtraction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		return nil
	}
	c.entries[key] = entry
	return nil
}
