// Package rulecache implements the bounded LRU rule cache: ruleId -> (artifact,
// metadata), with a tag-index reverse lookup and strict LRU eviction.
//
// The shape is lifted directly from the teacher's ResultCache
// (internal/service/policy_service.go): a map to an intrusive doubly-linked
// list node, guarded by a single mutex, because promotion on Get mutates
// list pointers just as much as Put does — there is no read-only path once
// LRU order is part of the contract. The teacher cache carries one item
// (a cached Decision) per linked entry; this one attaches a reverse tag
// index (borrowed from upstream.ToolCache) that is kept synchronized on
// every insert, eviction, and invalidation, per invariant I2.
package rulecache

import (
	"sync"

	"github.com/decisiongrid/rulecore/internal/domain/artifact"
)

// entry is the arena node: cache data plus LRU list pointers. Per the
// design note on cyclic references, the tag index never points back into
// the entry — it only ever stores ruleIds, so there are no reference cycles.
type entry struct {
	id       string
	data     artifact.Artifact
	metadata artifact.Metadata
	prev     *entry
	next     *entry
}

// Cache is the bounded, concurrent LRU store described in spec §4.1.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	tags    map[string]map[string]struct{} // tag -> set of ruleIds
	head    *entry                         // most recently used
	tail    *entry                         // least recently used
	maxSize int
}

// New creates an empty Cache bounded to maxSize entries. maxSize <= 0 means
// unbounded (no eviction ever triggers).
func New(maxSize int) *Cache {
	return &Cache{
		entries: make(map[string]*entry),
		tags:    make(map[string]map[string]struct{}),
		maxSize: maxSize,
	}
}

// Get returns the artifact for ruleId, promoting it to most-recently-used.
func (c *Cache) Get(ruleId string) (artifact.Artifact, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[ruleId]
	if !ok {
		return nil, false
	}
	c.moveToHeadLocked(e)
	return e.data, true
}

// GetMetadata returns the metadata for ruleId without copying the artifact.
// Per spec it is a read, not specified to promote LRU order, so it does not.
func (c *Cache) GetMetadata(ruleId string) (artifact.Metadata, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[ruleId]
	if !ok {
		return artifact.Metadata{}, false
	}
	return e.metadata, true
}

// GetMultiple returns every hit among ids, promoting each one.
func (c *Cache) GetMultiple(ids []string) map[string]artifact.Artifact {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]artifact.Artifact, len(ids))
	for _, id := range ids {
		if e, ok := c.entries[id]; ok {
			c.moveToHeadLocked(e)
			out[id] = e.data
		}
	}
	return out
}

// Set inserts or replaces ruleId. If the key already exists its old tag
// links are dropped first; if the store is at capacity and the key is new,
// the LRU entry is evicted (and its tag links removed) before insertion.
func (c *Cache) Set(ruleId string, data artifact.Artifact, meta artifact.Metadata) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(ruleId, data, meta)
}

// SetMultiple applies Set for every key in m. Each key is atomic; the batch
// as a whole is not transactional — a failure partway (there is none, since
// Set cannot fail) would still leave earlier keys committed.
func (c *Cache) SetMultiple(m map[string]struct {
	Data artifact.Artifact
	Meta artifact.Metadata
}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, v := range m {
		c.setLocked(id, v.Data, v.Meta)
	}
}

func (c *Cache) setLocked(ruleId string, data artifact.Artifact, meta artifact.Metadata) {
	if e, ok := c.entries[ruleId]; ok {
		c.unlinkTagsLocked(ruleId, e.metadata.Tags)
		e.data = data
		e.metadata = meta
		c.linkTagsLocked(ruleId, meta.Tags)
		c.moveToHeadLocked(e)
		return
	}

	if c.maxSize > 0 && len(c.entries) >= c.maxSize {
		c.evictTailLocked()
	}

	e := &entry{id: ruleId, data: data, metadata: meta}
	c.entries[ruleId] = e
	c.linkTagsLocked(ruleId, meta.Tags)
	c.pushHeadLocked(e)
}

// GetRulesByTags returns the set-intersection of ruleIds carrying every tag
// in tags. An empty tag list yields empty; any tag absent from the index
// short-circuits the whole query to empty.
func (c *Cache) GetRulesByTags(tags []string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(tags) == 0 {
		return nil
	}

	var sets []map[string]struct{}
	for _, t := range tags {
		s, ok := c.tags[t]
		if !ok || len(s) == 0 {
			return nil
		}
		sets = append(sets, s)
	}

	// Intersect against the smallest set first.
	smallest := 0
	for i, s := range sets {
		if len(s) < len(sets[smallest]) {
			smallest = i
		}
	}

	out := make([]string, 0, len(sets[smallest]))
	for id := range sets[smallest] {
		inAll := true
		for i, s := range sets {
			if i == smallest {
				continue
			}
			if _, ok := s[id]; !ok {
				inAll = false
				break
			}
		}
		if inAll {
			out = append(out, id)
		}
	}
	return out
}

// IsVersionCurrent reports whether ruleId's cached version string equals version.
func (c *Cache) IsVersionCurrent(ruleId, version string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[ruleId]
	if !ok {
		return false
	}
	return e.metadata.Version == version
}

// Invalidate removes ruleId from the store, the LRU list, and every tag posting.
func (c *Cache) Invalidate(ruleId string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[ruleId]
	if !ok {
		return
	}
	c.unlinkTagsLocked(ruleId, e.metadata.Tags)
	c.unlinkLRULocked(e)
	delete(c.entries, ruleId)
}

// Clear resets the cache to empty.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	c.tags = make(map[string]map[string]struct{})
	c.head = nil
	c.tail = nil
}

// Size returns the current number of cached entries.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Keys returns every cached ruleId in no particular order. It does not
// affect LRU position.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.entries))
	for id := range c.entries {
		out = append(out, id)
	}
	return out
}

func (c *Cache) linkTagsLocked(ruleId string, tags artifact.Tags) {
	for t := range tags {
		s, ok := c.tags[t]
		if !ok {
			s = make(map[string]struct{})
			c.tags[t] = s
		}
		s[ruleId] = struct{}{}
	}
}

func (c *Cache) unlinkTagsLocked(ruleId string, tags artifact.Tags) {
	for t := range tags {
		if s, ok := c.tags[t]; ok {
			delete(s, ruleId)
			if len(s) == 0 {
				delete(c.tags, t)
			}
		}
	}
}

func (c *Cache) moveToHeadLocked(e *entry) {
	if c.head == e {
		return
	}
	c.unlinkLRULocked(e)
	c.pushHeadLocked(e)
}

func (c *Cache) pushHeadLocked(e *entry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *Cache) unlinkLRULocked(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

func (c *Cache) evictTailLocked() {
	if c.tail == nil {
		return
	}
	victim := c.tail
	c.unlinkTagsLocked(victim.id, victim.metadata.Tags)
	c.unlinkLRULocked(victim)
	delete(c.entries, victim.id)
}
