// Package cache implements the sharded, approximately-LRU page cache that
// sits between the pager and the on-disk page file (spec §4.3, §4.6).
// Grounded on storage/lru.go's doubly-linked-list LRU, generalized from one
// global lock + fixed [PageSize]byte array entries into N independently
// locked shards holding variable-size entries (pin count included) so
// concurrent readers on different shards never contend. Unlike the
// teacher's cache, this one never holds an uncommitted write: the WAL
// alone buffers pages a writer has touched but not yet committed, so every
// entry here is always a page-file-resident image and eviction never needs
// to flush anything before dropping an entry.
package cache

import (
	"sync"

	"github.com/sphildreth/decentdb-sub002/page"
)

// ShardCount is the number of independently locked cache shards (spec §4.3
// "splitmix64(PageId) mod N shards"). A power of two keeps the mod cheap
// and gives low contention for typical concurrency levels without wasting
// memory on bookkeeping for every tiny database.
const ShardCount = 16

// splitmix64 is the same fast integer mixer the spec names, used only to
// spread PageIds across shards — not a cryptographic hash.
func splitmix64(x uint64) uint64 {
	x += 0x9E3779B97F4A7C15
	x = (x ^ (x >> 30)) * 0xBF58476D1CE4E5B9
	x = (x ^ (x >> 27)) * 0x94D049BB133111EB
	return x ^ (x >> 31)
}

func shardFor(id page.ID) int {
	return int(splitmix64(uint64(id)) % uint64(ShardCount))
}

// Entry is one cached page and its bookkeeping.
type Entry struct {
	PageID page.ID
	Page   *page.Page
	Pinned int

	prev, next *Entry
	shard      *shard
}

type shard struct {
	mu       sync.Mutex
	capacity int
	items    map[page.ID]*Entry
	head     *Entry // MRU
	tail     *Entry // LRU

	hits   uint64
	misses uint64
}

// Cache is the sharded page cache.
type Cache struct {
	shards [ShardCount]*shard
}

// New creates a cache whose total capacity (in pages) is divided evenly
// across ShardCount shards.
func New(totalCapacityPages int) *Cache {
	if totalCapacityPages <= 0 {
		totalCapacityPages = 256 * ShardCount
	}
	perShard := totalCapacityPages / ShardCount
	if perShard < 1 {
		perShard = 1
	}
	c := &Cache{}
	for i := range c.shards {
		c.shards[i] = &shard{capacity: perShard, items: make(map[page.ID]*Entry, perShard)}
	}
	return c
}

// Get returns the cached page for id, if present, pinning it. Callers must
// call Unpin when done reading.
func (c *Cache) Get(id page.ID) (*Entry, bool) {
	s := c.shards[shardFor(id)]
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[id]
	if !ok {
		s.misses++
		return nil, false
	}
	s.hits++
	e.Pinned++
	s.moveToFront(e)
	return e, true
}

// Put inserts or replaces the cached page for id with a page-file-resident
// image. The returned entry is pinned once on behalf of the caller.
func (c *Cache) Put(id page.ID, p *page.Page) (*Entry, error) {
	s := c.shards[shardFor(id)]
	s.mu.Lock()
	if e, ok := s.items[id]; ok {
		e.Page = p
		e.Pinned++
		s.moveToFront(e)
		s.mu.Unlock()
		return e, nil
	}
	e := &Entry{PageID: id, Page: p, Pinned: 1, shard: s}
	s.items[id] = e
	s.pushFront(e)
	var victim *Entry
	if len(s.items) > s.capacity {
		victim = s.evictionCandidate()
	}
	s.mu.Unlock()

	if victim != nil {
		c.drop(victim)
	}
	return e, nil
}

// Unpin releases one pin on e, acquired by Get or Put.
func (c *Cache) Unpin(e *Entry) {
	s := e.shard
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.Pinned > 0 {
		e.Pinned--
	}
}

// Invalidate drops id from the cache — used when a page's on-disk image
// has been superseded out of band, e.g. after a checkpoint copies WAL
// frames into the page file, or a rolled-back transaction discards pages
// it allocated or freed.
func (c *Cache) Invalidate(id page.ID) {
	s := c.shards[shardFor(id)]
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.items[id]; ok {
		s.removeNode(e)
		delete(s.items, id)
	}
}

// Stats aggregates hit/miss counters across every shard.
func (c *Cache) Stats() (hits, misses uint64, size int) {
	for _, s := range c.shards {
		s.mu.Lock()
		hits += s.hits
		misses += s.misses
		size += len(s.items)
		s.mu.Unlock()
	}
	return
}

// drop removes victim from its shard. A page-file-resident entry is always
// safe to discard without flushing anything: its bytes already have a
// durable home in the page file, the only place this cache ever reads from
// (spec §4.6).
func (c *Cache) drop(victim *Entry) {
	s := victim.shard
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.items[victim.PageID]; ok && cur == victim {
		s.removeNode(victim)
		delete(s.items, victim.PageID)
	}
}

// evictionCandidate returns the least-recently-used unpinned entry, an
// approximation of true LRU: it walks back from the tail skipping pinned
// entries rather than maintaining a separate pinned/unpinned list.
func (s *shard) evictionCandidate() *Entry {
	for n := s.tail; n != nil; n = n.prev {
		if n.Pinned == 0 {
			return n
		}
	}
	return nil
}

func (s *shard) pushFront(n *Entry) {
	n.prev = nil
	n.next = s.head
	if s.head != nil {
		s.head.prev = n
	}
	s.head = n
	if s.tail == nil {
		s.tail = n
	}
}

func (s *shard) removeNode(n *Entry) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		s.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		s.tail = n.prev
	}
	n.prev = nil
	n.next = nil
}

func (s *shard) moveToFront(n *Entry) {
	if n == s.head {
		return
	}
	s.removeNode(n)
	s.pushFront(n)
}
