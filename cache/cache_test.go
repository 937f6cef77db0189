package cache

import (
	"testing"

	"github.com/sphildreth/decentdb-sub002/page"
)

func TestGetMiss(t *testing.T) {
	c := New(ShardCount) // 1 page per shard
	if _, ok := c.Get(1); ok {
		t.Fatal("expected miss on empty cache")
	}
}

func TestPutThenGetHits(t *testing.T) {
	c := New(ShardCount * 4)
	p := page.New(page.DefaultPageSize, page.TypeBTreeLef, 5)
	e, err := c.Put(5, p)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	c.Unpin(e)

	got, ok := c.Get(5)
	if !ok {
		t.Fatal("expected hit after put")
	}
	if got.PageID != 5 {
		t.Fatalf("page id mismatch: %v", got.PageID)
	}
	c.Unpin(got)

	hits, misses, size := c.Stats()
	if hits == 0 || misses != 0 {
		t.Fatalf("unexpected stats: hits=%d misses=%d", hits, misses)
	}
	if size != 1 {
		t.Fatalf("expected size 1, got %d", size)
	}
}

func TestEvictionDropsLRUVictimWithoutFlushing(t *testing.T) {
	c := New(ShardCount) // 1 page per shard: any second page in the same shard evicts

	// Force both ids into the same shard by scanning for a colliding id.
	first := page.ID(1)
	var second page.ID
	for candidate := page.ID(2); candidate < 10000; candidate++ {
		if shardFor(candidate) == shardFor(first) {
			second = candidate
			break
		}
	}
	if second == 0 {
		t.Fatal("could not find a colliding page id for this test")
	}

	e1, err := c.Put(first, page.New(page.DefaultPageSize, page.TypeBTreeLef, first))
	if err != nil {
		t.Fatalf("put first: %v", err)
	}
	c.Unpin(e1)

	e2, err := c.Put(second, page.New(page.DefaultPageSize, page.TypeBTreeLef, second))
	if err != nil {
		t.Fatalf("put second: %v", err)
	}
	c.Unpin(e2)

	if _, ok := c.Get(first); ok {
		t.Fatal("expected evicted page to be gone from cache")
	}
}

func TestPinnedEntryIsNotEvicted(t *testing.T) {
	c := New(ShardCount)

	first := page.ID(1)
	var second page.ID
	for candidate := page.ID(2); candidate < 10000; candidate++ {
		if shardFor(candidate) == shardFor(first) {
			second = candidate
			break
		}
	}

	// Keep first pinned (never call Unpin).
	if _, err := c.Put(first, page.New(page.DefaultPageSize, page.TypeBTreeLef, first)); err != nil {
		t.Fatalf("put first: %v", err)
	}
	e2, err := c.Put(second, page.New(page.DefaultPageSize, page.TypeBTreeLef, second))
	if err != nil {
		t.Fatalf("put second: %v", err)
	}
	c.Unpin(e2)

	if _, ok := c.Get(first); !ok {
		t.Fatal("pinned entry should not have been evicted")
	}
}

func TestInvalidate(t *testing.T) {
	c := New(ShardCount * 4)
	e, _ := c.Put(9, page.New(page.DefaultPageSize, page.TypeBTreeLef, 9))
	c.Unpin(e)
	c.Invalidate(9)
	if _, ok := c.Get(9); ok {
		t.Fatal("expected invalidated entry to be gone")
	}
}
