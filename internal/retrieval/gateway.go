// Package retrieval provides nearest-neighbor search over historical ticket
// records, used to infer field values the user did not state. The Gateway
// interface fronts the actual search engine; HistoryStore is the local
// SQLite-backed implementation.
package retrieval

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/akshay-eng/ITSM-agent/internal/ticket"
)

// ErrUnavailable signals that the retrieval backend could not be reached.
// The merger proceeds without historical reference and the proposal says so.
var ErrUnavailable = errors.New("retrieval unavailable")

// Hit is one ranked historical record.
type Hit struct {
	// Score is the similarity in [0,1]. Scores are comparable within one
	// search call but not across calls or collections.
	Score float64 `json:"score"`

	// Record maps field names to historical values.
	Record map[string]string `json:"record"`
}

// Result is the ranked outcome of one search.
type Result struct {
	Hits []Hit `json:"hits"`
}

// Gateway is the similarity-search boundary. Implementations own their own
// timeout and retry policy; the core treats every call as fallible.
type Gateway interface {
	Search(ctx context.Context, kind ticket.Kind, query string, topK int) (Result, error)
}

// =============================================================================
// RESULT CACHE
// =============================================================================

// ResultCache caches search results by exact query text, per kind. Identical
// query text within the TTL window returns the cached result, which keeps
// re-presented proposals stable and spares the backend.
type ResultCache struct {
	entries map[cacheKey]*cacheEntry
	mu      sync.RWMutex
	maxSize int
	ttl     time.Duration
}

type cacheKey struct {
	kind  ticket.Kind
	query string
}

type cacheEntry struct {
	result    Result
	timestamp time.Time
}

// NewResultCache creates a cache with the given capacity and TTL.
func NewResultCache(maxSize int, ttl time.Duration) *ResultCache {
	return &ResultCache{
		entries: make(map[cacheKey]*cacheEntry),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// Get retrieves a cached result.
func (c *ResultCache) Get(kind ticket.Kind, query string) (Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[cacheKey{kind, query}]
	if !ok {
		return Result{}, false
	}
	if time.Since(entry.timestamp) > c.ttl {
		return Result{}, false
	}
	return entry.result, true
}

// Set stores a result.
func (c *ResultCache) Set(kind ticket.Kind, query string, result Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	c.entries[cacheKey{kind, query}] = &cacheEntry{
		result:    result,
		timestamp: time.Now(),
	}
}

func (c *ResultCache) evictOldest() {
	var oldestKey cacheKey
	var oldestTime time.Time
	found := false

	for key, entry := range c.entries {
		if !found || entry.timestamp.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.timestamp
			found = true
		}
	}
	if found {
		delete(c.entries, oldestKey)
	}
}

// Clear empties the cache.
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[cacheKey]*cacheEntry)
}

// =============================================================================
// CACHING GATEWAY WRAPPER
// =============================================================================

// CachedGateway wraps a Gateway with a ResultCache.
type CachedGateway struct {
	inner Gateway
	cache *ResultCache
}

// NewCachedGateway wraps inner with a result cache.
func NewCachedGateway(inner Gateway, cache *ResultCache) *CachedGateway {
	return &CachedGateway{inner: inner, cache: cache}
}

// Search consults the cache before the backend. Backend failures are not
// cached.
func (g *CachedGateway) Search(ctx context.Context, kind ticket.Kind, query string, topK int) (Result, error) {
	if cached, ok := g.cache.Get(kind, query); ok {
		return cached, nil
	}

	result, err := g.inner.Search(ctx, kind, query, topK)
	if err != nil {
		return Result{}, err
	}

	g.cache.Set(kind, query, result)
	return result, nil
}
