// Package page implements the fixed-size, addressable page format shared by
// every on-disk structure in the core (spec §3.1, §6.2): the database
// header on page 1, B+tree internal/leaf pages, freelist pages, and
// overflow pages. Grounded on storage/page.go's PageHeader + slotted data
// page layout, generalized from a fixed 4096-byte array to a
// configurable-but-fixed-at-creation page size and a page-type set that
// matches the spec's B+tree/overflow/free vocabulary instead of the
// teacher's document-collection vocabulary.
package page

import "encoding/binary"

// ID identifies a page by its 1-based position in the file (spec §3.1).
// Page 1 is always the database header.
type ID uint32

// Valid page sizes (spec §6.4): powers of two from 512 to 65536.
var ValidPageSizes = []int{512, 1024, 2048, 4096, 8192, 16384, 32768, 65536}

// DefaultPageSize matches the teacher's hardcoded storage.PageSize.
const DefaultPageSize = 4096

// IsValidPageSize reports whether size is one of the permitted page sizes.
func IsValidPageSize(size int) bool {
	for _, v := range ValidPageSizes {
		if v == size {
			return true
		}
	}
	return false
}

// Type identifies the structural kind of a page (spec §6.2).
type Type byte

const (
	TypeHeader   Type = 1 // page 1 only: database header
	TypeBTreeInt Type = 2 // B+tree internal node
	TypeBTreeLef Type = 3 // B+tree leaf node
	TypeOverflow Type = 4 // overflow chain page for oversized TEXT/BLOB
	TypeFree     Type = 5 // free page (freelist chain member)
)

// HeaderSize is the common per-page header every non-header page carries
// (spec §4.5 "header (page type, cell count, free-space pointer)"),
// generalizing storage/page.go's 16-byte PageHeader. Layout:
//
//	[0]     Type
//	[1:5]   PageID (uint32)
//	[5:7]   Count (uint16) — cell/key/slot count, meaning is page-type specific
//	[7:9]   FreeSpaceOffset (uint16) — first free byte in the page, slotted pages only
//	[9:13]  NextPageID (uint32) — chain pointer: freelist link, overflow link, or leaf sibling
//	[13:16] reserved
const HeaderSize = 16

// Page is a single fixed-size page buffer.
type Page struct {
	Data []byte
	Size int
}

// New allocates a zeroed page of the given size and stamps its type + id.
func New(size int, typ Type, id ID) *Page {
	p := &Page{Data: make([]byte, size), Size: size}
	p.Data[0] = byte(typ)
	binary.LittleEndian.PutUint32(p.Data[1:5], uint32(id))
	p.SetFreeSpaceOffset(uint16(HeaderSize))
	return p
}

// FromBytes wraps an existing buffer (e.g. read from disk or the WAL) as a
// Page without copying.
func FromBytes(data []byte) *Page {
	return &Page{Data: data, Size: len(data)}
}

func (p *Page) Type() Type { return Type(p.Data[0]) }

func (p *Page) ID() ID { return ID(binary.LittleEndian.Uint32(p.Data[1:5])) }

func (p *Page) SetID(id ID) { binary.LittleEndian.PutUint32(p.Data[1:5], uint32(id)) }

func (p *Page) Count() uint16 { return binary.LittleEndian.Uint16(p.Data[5:7]) }

func (p *Page) SetCount(n uint16) { binary.LittleEndian.PutUint16(p.Data[5:7], n) }

func (p *Page) FreeSpaceOffset() uint16 { return binary.LittleEndian.Uint16(p.Data[7:9]) }

func (p *Page) SetFreeSpaceOffset(off uint16) { binary.LittleEndian.PutUint16(p.Data[7:9], off) }

func (p *Page) NextPageID() ID { return ID(binary.LittleEndian.Uint32(p.Data[9:13])) }

func (p *Page) SetNextPageID(id ID) { binary.LittleEndian.PutUint32(p.Data[9:13], uint32(id)) }

// FreeSpace returns the number of unused bytes remaining in the page.
func (p *Page) FreeSpace() int { return p.Size - int(p.FreeSpaceOffset()) }

// Clone returns an independent copy of the page's bytes.
func (p *Page) Clone() *Page {
	cp := make([]byte, len(p.Data))
	copy(cp, p.Data)
	return &Page{Data: cp, Size: p.Size}
}
