// Package wal implements the append-only write-ahead log that sits between
// the transaction manager and the page file (spec §4.4, §6.2): frame
// encoding, the in-memory page index, reader-snapshot tracking, crash
// recovery, and checkpointing. Grounded on storage/wal.go's
// WALRecordType/WALRecord/appendRecord/loadRecords machinery, generalized
// from the teacher's single flat LSN-per-record scheme (where LSN is
// itself a counter and every record carries a page id) into the spec's
// offset-addressed frame log, where the commit LSN is the byte offset at
// which the Commit frame ends and Page frames are batched per transaction.
package wal

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/sphildreth/decentdb-sub002/errs"
)

// HeaderSize is the fixed size of the WAL file's leading header (spec
// §6.2): magic(8) + version(2) + reserved(2) + saltA(4) + saltB(4) +
// walEndOffset(8) + reserved(4) = 32 bytes.
const HeaderSize = 32

// FormatVersion 2 reintroduces per-frame CRC32C and a per-commit xxhash64
// checksum over the transaction's frames, resolving the Open Question the
// distilled spec left pending (see the revisions to component design).
const FormatVersion uint16 = 2

var magic = [8]byte{'D', 'E', 'C', 'W', 'A', 'L', 0, 0}

// Header is the parsed WAL file header.
type Header struct {
	Version      uint16
	SaltA        uint32
	SaltB        uint32
	WalEndOffset uint64
}

// NewHeader creates a fresh header with freshly randomized salts, used
// when creating a new WAL file or resetting one after a full checkpoint
// truncation (spec §4.7 step 6 "truncate the WAL and reset salts").
func NewHeader() (*Header, error) {
	var saltBytes [8]byte
	if _, err := rand.Read(saltBytes[:]); err != nil {
		return nil, errs.Wrap(errs.KindInternal, "wal_salt_rand_failed", err, "failed to generate WAL salts")
	}
	return &Header{
		Version:      FormatVersion,
		SaltA:        binary.LittleEndian.Uint32(saltBytes[0:4]),
		SaltB:        binary.LittleEndian.Uint32(saltBytes[4:8]),
		WalEndOffset: HeaderSize,
	}, nil
}

// Encode serializes h into a HeaderSize-length buffer.
func (h *Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:8], magic[:])
	binary.LittleEndian.PutUint16(buf[8:10], h.Version)
	binary.LittleEndian.PutUint32(buf[12:16], h.SaltA)
	binary.LittleEndian.PutUint32(buf[16:20], h.SaltB)
	binary.LittleEndian.PutUint64(buf[20:28], h.WalEndOffset)
	return buf
}

// DecodeHeader validates and parses a WAL header.
func DecodeHeader(buf []byte) (*Header, error) {
	if len(buf) < HeaderSize {
		return nil, errs.Corruption("wal_header_short", "WAL header shorter than expected")
	}
	if string(buf[0:8]) != string(magic[:]) {
		return nil, errs.Corruption("wal_bad_magic", "WAL header magic mismatch")
	}
	h := &Header{
		Version:      binary.LittleEndian.Uint16(buf[8:10]),
		SaltA:        binary.LittleEndian.Uint32(buf[12:16]),
		SaltB:        binary.LittleEndian.Uint32(buf[16:20]),
		WalEndOffset: binary.LittleEndian.Uint64(buf[20:28]),
	}
	return h, nil
}
