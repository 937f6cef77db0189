package record

import (
	"bytes"
	"testing"

	"github.com/sphildreth/decentdb-sub002/page"
)

// memStore is a minimal in-memory PageStore for exercising the codec
// without pulling in the pager package.
type memStore struct {
	pageSize int
	pages    map[page.ID]*page.Page
	nextID   page.ID
}

func newMemStore(pageSize int) *memStore {
	return &memStore{pageSize: pageSize, pages: make(map[page.ID]*page.Page), nextID: 1}
}

func (s *memStore) PageSize() int { return s.pageSize }

func (s *memStore) AllocatePage() (page.ID, error) {
	s.nextID++
	return s.nextID, nil
}

func (s *memStore) FreePage(id page.ID) error {
	delete(s.pages, id)
	return nil
}

func (s *memStore) ReadPage(id page.ID) (*page.Page, error) {
	p, ok := s.pages[id]
	if !ok {
		return nil, bytesNotFoundErr
	}
	return p, nil
}

func (s *memStore) WritePage(p *page.Page) error {
	s.pages[p.ID()] = p
	return nil
}

var bytesNotFoundErr = &notFoundErr{}

type notFoundErr struct{}

func (e *notFoundErr) Error() string { return "page not found" }

func TestRecordScalarRoundTrip(t *testing.T) {
	rec := Record{
		Null(),
		Int64(-12345),
		Bool(true),
		Float64(3.14159),
		Text("hello world"),
		Blob([]byte{1, 2, 3, 4}),
	}

	encoded, err := Encode(rec, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(encoded, nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded) != len(rec) {
		t.Fatalf("field count mismatch: got %d, want %d", len(decoded), len(rec))
	}
	for i := range rec {
		if decoded[i].Kind != rec[i].Kind {
			t.Fatalf("field %d kind mismatch: got %v, want %v", i, decoded[i].Kind, rec[i].Kind)
		}
	}
	if decoded[1].I64 != -12345 {
		t.Fatalf("int64 mismatch: got %d", decoded[1].I64)
	}
	if !decoded[2].Boolean {
		t.Fatal("bool mismatch")
	}
	if decoded[4].AsText() != "hello world" {
		t.Fatalf("text mismatch: got %q", decoded[4].AsText())
	}
	if !bytes.Equal(decoded[5].Bytes, []byte{1, 2, 3, 4}) {
		t.Fatalf("blob mismatch: got %v", decoded[5].Bytes)
	}
}

func TestRecordOverflowRoundTrip(t *testing.T) {
	store := newMemStore(page.DefaultPageSize)
	big := bytes.Repeat([]byte("decentdb-overflow-payload-"), 500) // far above the inline threshold

	rec := Record{Blob(big)}
	encoded, err := Encode(rec, store)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// The encoded cell itself must be much smaller than the payload: it
	// only carries a page reference, not the bytes.
	if len(encoded) > InlineThreshold(page.DefaultPageSize) {
		t.Fatalf("expected overflowed cell to be small, got %d bytes", len(encoded))
	}

	decoded, err := Decode(encoded, store)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(decoded[0].Bytes, big) {
		t.Fatal("overflow payload did not round-trip")
	}
}

func TestRecordOverflowCompressiblePayload(t *testing.T) {
	store := newMemStore(page.DefaultPageSize)
	// Highly repetitive text compresses well under snappy.
	big := bytes.Repeat([]byte("aaaaaaaaaa"), 1000)

	rec := Record{Text(string(big))}
	encoded, err := Encode(rec, store)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(encoded, store)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded[0].AsText() != string(big) {
		t.Fatal("compressed overflow payload did not round-trip")
	}
}

func TestFreeOverflowChain(t *testing.T) {
	store := newMemStore(page.DefaultPageSize)
	big := bytes.Repeat([]byte("x"), page.DefaultPageSize*3)

	rec := Record{Blob(big)}
	encoded, err := Encode(rec, store)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(store.pages) == 0 {
		t.Fatal("expected overflow pages to be allocated")
	}

	decoded, err := Decode(encoded, store)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	// The chain starts at page 2: memStore hands out ids from 2 upward and
	// this record's overflow chain is the store's first allocation.
	firstID := page.ID(2)
	if err := FreeOverflowChain(firstID, store); err != nil {
		t.Fatalf("free chain: %v", err)
	}
	if len(store.pages) != 0 {
		t.Fatalf("expected all overflow pages freed, got %d remaining", len(store.pages))
	}
	_ = decoded
}
