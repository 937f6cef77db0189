package decentdb

import "encoding/binary"

// EncodeRowID renders a row id as a fixed-width, big-endian byte string so
// that the B+tree's byte-lexicographic key order (spec §5.2) matches
// numeric row id order.
func EncodeRowID(rowID uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], rowID)
	return buf[:]
}

// DecodeRowID is the inverse of EncodeRowID.
func DecodeRowID(key []byte) uint64 {
	return binary.BigEndian.Uint64(key)
}
