// # internal/engine/query/cache.go
package query

import "container/list"

const DefaultCapacity = 64

// Compiled is a query handle owned by the cache once inserted. Eviction
// closes it.
type Compiled interface {
	Close()
}

// BuilderFunc compiles a query on a cache miss. A builder error is
// returned to the caller and never cached, so the next call retries.
type BuilderFunc func() (Compiled, error)

type Key struct {
	Language string
	Name     string
}

type entry struct {
	key    Key
	handle Compiled
}

// Cache is a bounded LRU of compiled queries keyed (language, name).
// Each worker owns exactly one instance; it is not safe for concurrent
// use and never needs to be.
type Cache struct {
	capacity int
	order    *list.List
	entries  map[Key]*list.Element

	hits      uint64
	misses    uint64
	evictions uint64
}

type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Size      int
}

func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[Key]*list.Element, capacity),
	}
}

// GetOrCompile returns the cached handle for (language, name), refreshing
// its recency, or invokes build and inserts the result, evicting the
// least-recently-used entry when at capacity.
func (c *Cache) GetOrCompile(language, name string, build BuilderFunc) (Compiled, error) {
	k := Key{Language: language, Name: name}
	if el, ok := c.entries[k]; ok {
		c.hits++
		c.order.MoveToFront(el)
		return el.Value.(*entry).handle, nil
	}

	c.misses++
	handle, err := build()
	if err != nil {
		return nil, err
	}

	if c.order.Len() >= c.capacity {
		c.evictOldest()
	}
	c.entries[k] = c.order.PushFront(&entry{key: k, handle: handle})
	return handle, nil
}

func (c *Cache) evictOldest() {
	el := c.order.Back()
	if el == nil {
		return
	}
	e := el.Value.(*entry)
	c.order.Remove(el)
	delete(c.entries, e.key)
	if e.handle != nil {
		e.handle.Close()
	}
	c.evictions++
}

// Contains reports presence without touching recency.
func (c *Cache) Contains(language, name string) bool {
	_, ok := c.entries[Key{Language: language, Name: name}]
	return ok
}

func (c *Cache) Len() int {
	return c.order.Len()
}

func (c *Cache) Stats() Stats {
	return Stats{Hits: c.hits, Misses: c.misses, Evictions: c.evictions, Size: c.order.Len()}
}

// Purge closes every handle and empties the cache. Called when the owning
// worker shuts down.
func (c *Cache) Purge() {
	for el := c.order.Front(); el != nil; el = el.Next() {
		if e := el.Value.(*entry); e.handle != nil {
			e.handle.Close()
		}
	}
	c.order.Init()
	c.entries = make(map[Key]*list.Element, c.capacity)
}
