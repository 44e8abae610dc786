package exchange

import (
	"sync"
	"time"
)

// symbolInfoCache caches tick/lot granularity per symbol with a TTL.
// Reads are lock-cheap; refresh replaces the whole entry in one assignment
// so readers never observe a partially-updated SymbolInfo.
type symbolInfoCache struct {
	ttl time.Duration

	mu      sync.RWMutex
	entries map[string]symbolInfoEntry
}

type symbolInfoEntry struct {
	info    SymbolInfo
	fetched time.Time
}

func newSymbolInfoCache(ttl time.Duration) *symbolInfoCache {
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	return &symbolInfoCache{
		ttl:     ttl,
		entries: make(map[string]symbolInfoEntry),
	}
}

func (c *symbolInfoCache) get(symbol string) (SymbolInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[symbol]
	if !ok || time.Since(e.fetched) > c.ttl {
		return SymbolInfo{}, false
	}
	return e.info, true
}

func (c *symbolInfoCache) put(info SymbolInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[info.Symbol] = symbolInfoEntry{info: info, fetched: time.Now()}
}
