// Package record implements the typed field codec used for row payloads
// stored in B+tree leaf cells (spec §5). Grounded on storage/document.go's
// Field/FieldType/encodeValue/decodeValue machinery, generalized from the
// teacher's document-oriented, named-field, interface{}-typed model to the
// spec's fixed-ordinal, statically-typed column model, and extended with
// the overflow-chain storage the teacher's documents never needed because
// they always lived inside a single page.
package record

import (
	"encoding/binary"
	"math"

	"github.com/klauspost/compress/snappy"

	"github.com/sphildreth/decentdb-sub002/errs"
	"github.com/sphildreth/decentdb-sub002/page"
)

// Kind identifies the type tag of a stored value (spec §5.1).
type Kind byte

const (
	KindNull Kind = iota
	KindInt64
	KindBool
	KindFloat64
	KindText
	KindBlob
)

// locationFlag marks whether a Text/Blob value is stored inline in the cell
// or as a reference to an overflow chain.
type locationFlag byte

const (
	locationInline   locationFlag = 0
	locationOverflow locationFlag = 1
)

// payloadEncoding marks whether an overflow chain's bytes were snappy
// compressed before being split across pages.
type payloadEncoding byte

const (
	encodingRaw    payloadEncoding = 0
	encodingSnappy payloadEncoding = 1
)

// Value is a single typed field value. Exactly one of the payload fields is
// meaningful, selected by Kind.
type Value struct {
	Kind    Kind
	I64     int64
	Boolean bool
	F64     float64
	Bytes   []byte // Text is stored as the UTF-8 bytes of the string
}

func Null() Value                { return Value{Kind: KindNull} }
func Int64(v int64) Value        { return Value{Kind: KindInt64, I64: v} }
func Bool(v bool) Value          { return Value{Kind: KindBool, Boolean: v} }
func Float64(v float64) Value    { return Value{Kind: KindFloat64, F64: v} }
func Text(v string) Value        { return Value{Kind: KindText, Bytes: []byte(v)} }
func Blob(v []byte) Value        { return Value{Kind: KindBlob, Bytes: v} }
func (v Value) AsText() string   { return string(v.Bytes) }
func (v Value) IsNull() bool     { return v.Kind == KindNull }

// Record is an ordered tuple of column values, keyed by ordinal position in
// the owning table's schema rather than by name (spec §5 "records are
// positional, schema supplies the names").
type Record []Value

// PageStore is the minimal page-allocation surface record needs to spill
// oversized values into overflow chains. pager.WriterView and
// pager.ReaderView satisfy it; record depends only on this interface to
// avoid importing pager.
type PageStore interface {
	PageSize() int
	AllocatePage() (page.ID, error)
	FreePage(id page.ID) error
	ReadPage(id page.ID) (*page.Page, error)
	WritePage(p *page.Page) error
}

// InlineThreshold returns the largest Text/Blob payload, in bytes, that is
// stored inline in a cell rather than spilled to an overflow chain: one
// quarter of the page size (spec §5.3, resolved in the revisions to
// component design).
func InlineThreshold(pageSize int) int {
	return pageSize / 4
}

// Encode serializes rec into a byte slice suitable for storage in a B+tree
// cell, spilling any Text/Blob value over InlineThreshold into an overflow
// chain allocated from store.
func Encode(rec Record, store PageStore) ([]byte, error) {
	buf := make([]byte, 0, 64)
	var tmp [binary.MaxVarintLen64]byte

	n := binary.PutUvarint(tmp[:], uint64(len(rec)))
	buf = append(buf, tmp[:n]...)

	for _, v := range rec {
		buf = append(buf, byte(v.Kind))
		encoded, err := encodeValue(v, store)
		if err != nil {
			return nil, err
		}
		buf = append(buf, encoded...)
	}
	return buf, nil
}

// Decode parses a Record previously produced by Encode, resolving any
// overflow references through store.
func Decode(data []byte, store PageStore) (Record, error) {
	count, n := binary.Uvarint(data)
	if n <= 0 {
		return nil, errs.Corruption("record_bad_count", "record field count varint is malformed")
	}
	offset := n
	rec := make(Record, 0, count)
	for i := uint64(0); i < count; i++ {
		if offset >= len(data) {
			return nil, errs.Corruption("record_truncated", "record data ends mid-field")
		}
		kind := Kind(data[offset])
		offset++
		v, consumed, err := decodeValue(kind, data[offset:], store)
		if err != nil {
			return nil, err
		}
		offset += consumed
		rec = append(rec, v)
	}
	return rec, nil
}

func encodeValue(v Value, store PageStore) ([]byte, error) {
	var tmp [binary.MaxVarintLen64]byte
	switch v.Kind {
	case KindNull:
		return nil, nil
	case KindBool:
		if v.Boolean {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case KindInt64:
		n := binary.PutVarint(tmp[:], v.I64) // zig-zag varint (spec §5.1)
		out := make([]byte, n)
		copy(out, tmp[:n])
		return out, nil
	case KindFloat64:
		out := make([]byte, 8)
		binary.LittleEndian.PutUint64(out, math.Float64bits(v.F64))
		return out, nil
	case KindText, KindBlob:
		return encodeBytesField(v.Bytes, store)
	default:
		return nil, errs.Corruption("record_bad_kind", "unknown field kind during encode")
	}
}

func decodeValue(kind Kind, data []byte, store PageStore) (Value, int, error) {
	switch kind {
	case KindNull:
		return Value{Kind: KindNull}, 0, nil
	case KindBool:
		if len(data) < 1 {
			return Value{}, 0, errs.Corruption("record_short_bool", "not enough bytes for bool field")
		}
		return Value{Kind: KindBool, Boolean: data[0] != 0}, 1, nil
	case KindInt64:
		i, n := binary.Varint(data)
		if n <= 0 {
			return Value{}, 0, errs.Corruption("record_bad_int64", "int64 field varint is malformed")
		}
		return Value{Kind: KindInt64, I64: i}, n, nil
	case KindFloat64:
		if len(data) < 8 {
			return Value{}, 0, errs.Corruption("record_short_float64", "not enough bytes for float64 field")
		}
		f := math.Float64frombits(binary.LittleEndian.Uint64(data))
		return Value{Kind: KindFloat64, F64: f}, 8, nil
	case KindText, KindBlob:
		b, n, err := decodeBytesField(data, store)
		if err != nil {
			return Value{}, 0, err
		}
		return Value{Kind: kind, Bytes: b}, n, nil
	default:
		return Value{}, 0, errs.Corruption("record_bad_kind", "unknown field kind during decode")
	}
}

// encodeBytesField writes: [locationFlag][uvarint totalLen] and then either
// the raw bytes (inline) or a 4-byte overflow first-page-id (overflow).
func encodeBytesField(data []byte, store PageStore) ([]byte, error) {
	var tmp [binary.MaxVarintLen64]byte
	out := make([]byte, 0, len(data)+8)

	if store == nil || len(data) <= InlineThreshold(defaultPageSizeOr(store)) {
		out = append(out, byte(locationInline))
		n := binary.PutUvarint(tmp[:], uint64(len(data)))
		out = append(out, tmp[:n]...)
		out = append(out, data...)
		return out, nil
	}

	firstID, err := writeOverflowChain(data, store)
	if err != nil {
		return nil, err
	}
	out = append(out, byte(locationOverflow))
	n := binary.PutUvarint(tmp[:], uint64(len(data)))
	out = append(out, tmp[:n]...)
	var idBuf [4]byte
	binary.LittleEndian.PutUint32(idBuf[:], uint32(firstID))
	out = append(out, idBuf[:]...)
	return out, nil
}

func decodeBytesField(data []byte, store PageStore) ([]byte, int, error) {
	if len(data) < 1 {
		return nil, 0, errs.Corruption("record_short_bytes_flag", "not enough bytes for location flag")
	}
	loc := locationFlag(data[0])
	offset := 1
	totalLen, n := binary.Uvarint(data[offset:])
	if n <= 0 {
		return nil, 0, errs.Corruption("record_bad_bytes_len", "bytes field length varint is malformed")
	}
	offset += n

	switch loc {
	case locationInline:
		if offset+int(totalLen) > len(data) {
			return nil, 0, errs.Corruption("record_short_bytes", "not enough bytes for inline payload")
		}
		return data[offset : offset+int(totalLen)], offset + int(totalLen), nil
	case locationOverflow:
		if offset+4 > len(data) {
			return nil, 0, errs.Corruption("record_short_overflow_ref", "not enough bytes for overflow reference")
		}
		firstID := page.ID(binary.LittleEndian.Uint32(data[offset : offset+4]))
		payload, err := readOverflowChain(firstID, int(totalLen), store)
		if err != nil {
			return nil, 0, err
		}
		return payload, offset + 4, nil
	default:
		return nil, 0, errs.Corruption("record_bad_location_flag", "unknown bytes field location flag")
	}
}

func defaultPageSizeOr(store PageStore) int {
	if store == nil {
		return page.DefaultPageSize
	}
	return store.PageSize()
}

// overflowChunkHeader is the per-overflow-page prefix: [encoding byte][chunkLen uint16].
const overflowChunkHeader = 3

// writeOverflowChain splits data (optionally snappy-compressed, whichever
// is smaller) across one or more TypeOverflow pages linked via NextPageID,
// returning the id of the first page in the chain.
func writeOverflowChain(data []byte, store PageStore) (page.ID, error) {
	encoding := encodingRaw
	payload := data
	if compressed := snappy.Encode(nil, data); len(compressed) < len(data) {
		encoding = encodingSnappy
		payload = compressed
	}

	pageSize := store.PageSize()
	chunkCap := pageSize - page.HeaderSize - overflowChunkHeader
	if chunkCap <= 0 {
		return 0, errs.Internal("page_too_small", "page size too small to hold any overflow payload")
	}

	var firstID page.ID
	var prevPage *page.Page
	offset := 0
	for offset < len(payload) || (offset == 0 && len(payload) == 0) {
		id, err := store.AllocatePage()
		if err != nil {
			return 0, err
		}
		p := page.New(pageSize, page.TypeOverflow, id)
		if firstID == 0 {
			firstID = id
		}

		end := offset + chunkCap
		if end > len(payload) {
			end = len(payload)
		}
		chunk := payload[offset:end]

		p.Data[page.HeaderSize] = byte(encoding)
		binary.LittleEndian.PutUint16(p.Data[page.HeaderSize+1:page.HeaderSize+3], uint16(len(chunk)))
		copy(p.Data[page.HeaderSize+overflowChunkHeader:], chunk)
		p.SetCount(uint16(len(chunk)))

		if err := store.WritePage(p); err != nil {
			return 0, err
		}
		if prevPage != nil {
			prevPage.SetNextPageID(id)
			if err := store.WritePage(prevPage); err != nil {
				return 0, err
			}
		}
		prevPage = p
		offset = end
		if len(payload) == 0 {
			break
		}
	}
	return firstID, nil
}

// readOverflowChain walks the chain starting at firstID and reassembles the
// original (decompressed) payload, verifying it matches totalLen.
func readOverflowChain(firstID page.ID, totalLen int, store PageStore) ([]byte, error) {
	var raw []byte
	id := firstID
	var encoding payloadEncoding
	first := true
	for id != 0 {
		p, err := store.ReadPage(id)
		if err != nil {
			return nil, err
		}
		if p.Type() != page.TypeOverflow {
			return nil, errs.Corruption("overflow_bad_page_type", "overflow chain pointed at a non-overflow page")
		}
		enc := payloadEncoding(p.Data[page.HeaderSize])
		if first {
			encoding = enc
			first = false
		}
		chunkLen := binary.LittleEndian.Uint16(p.Data[page.HeaderSize+1 : page.HeaderSize+3])
		raw = append(raw, p.Data[page.HeaderSize+overflowChunkHeader:page.HeaderSize+overflowChunkHeader+int(chunkLen)]...)
		id = p.NextPageID()
	}

	if encoding == encodingSnappy {
		decoded, err := snappy.Decode(nil, raw)
		if err != nil {
			return nil, errs.Wrap(errs.KindCorruption, "overflow_decompress_failed", err, "overflow chain snappy payload is corrupt")
		}
		raw = decoded
	}
	if len(raw) != totalLen {
		return nil, errs.Corruption("overflow_length_mismatch", "reassembled overflow payload length does not match stored length")
	}
	return raw, nil
}

// FreeOverflowChain releases every page in the chain starting at firstID.
// Deleting a row does not call it: WriteTxn.DeleteRow in package decentdb
// leaves the row's overflow pages allocated.
func FreeOverflowChain(firstID page.ID, store PageStore) error {
	id := firstID
	for id != 0 {
		p, err := store.ReadPage(id)
		if err != nil {
			return err
		}
		next := p.NextPageID()
		if err := store.FreePage(id); err != nil {
			return err
		}
		id = next
	}
	return nil
}
