package tools

import "sync"

// InlineMarker is returned when a text resource was already placed in the
// assistant's context earlier in the session.
const InlineMarker = "Data already downloaded."

type EntryKind int

const (
	EntryInline EntryKind = iota + 1
	EntryHandle
)

type CacheEntry struct {
	Kind   EntryKind
	FileID string
}

// ResourceCache remembers which URLs were already fetched or uploaded so a
// repeated request neither refetches nor reuploads. One cache belongs to one
// session; entries are never evicted.
type ResourceCache struct {
	mu      sync.RWMutex
	entries map[string]CacheEntry
}

func NewResourceCache() *ResourceCache {
	return &ResourceCache{entries: make(map[string]CacheEntry)}
}

func (c *ResourceCache) Lookup(url string) (CacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[url]
	return e, ok
}

func (c *ResourceCache) MarkInline(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[url] = CacheEntry{Kind: EntryInline}
}

func (c *ResourceCache) StoreHandle(url, fileID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[url] = CacheEntry{Kind: EntryHandle, FileID: fileID}
}

func (c *ResourceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
