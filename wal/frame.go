package wal

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/cespare/xxhash/v2"

	"github.com/sphildreth/decentdb-sub002/errs"
	"github.com/sphildreth/decentdb-sub002/page"
)

// Tag identifies the kind of a WAL frame (spec §4.4).
type Tag byte

const (
	TagPage       Tag = 0x01
	TagCommit     Tag = 0x02
	TagCheckpoint Tag = 0x03
)

// frameHeaderSize is the [tag byte][payload length uint32] prefix every
// frame carries, ahead of its type-specific payload and trailing CRC32C.
const frameHeaderSize = 1 + 4
const frameCRCSize = 4

// encodeFrame wraps payload with the common tag/length header and a
// trailing CRC32C over tag+length+payload, so recovery can detect a torn
// write at any point in the frame (spec §4.4's per-frame checksum,
// reintroduced per the revisions to component design).
func encodeFrame(tag Tag, payload []byte) []byte {
	buf := make([]byte, frameHeaderSize+len(payload)+frameCRCSize)
	buf[0] = byte(tag)
	binary.LittleEndian.PutUint32(buf[1:5], uint32(len(payload)))
	copy(buf[frameHeaderSize:], payload)

	crc := crc32.Checksum(buf[:frameHeaderSize+len(payload)], crc32.MakeTable(crc32.Castagnoli))
	binary.LittleEndian.PutUint32(buf[frameHeaderSize+len(payload):], crc)
	return buf
}

// decodedFrame is a parsed, CRC-validated frame plus its extent in the file.
type decodedFrame struct {
	Tag     Tag
	Payload []byte
	Start   int64 // file offset of the tag byte
	End     int64 // file offset just past the trailing CRC
}

// decodeFrameAt parses one frame out of buf (a read starting at fileOffset)
// and reports ok=false, without error, if the bytes do not form a
// well-formed frame — the signal recovery uses to stop scanning at a torn
// tail rather than treating it as Corruption.
func decodeFrameAt(buf []byte, fileOffset int64) (decodedFrame, bool) {
	if len(buf) < frameHeaderSize {
		return decodedFrame{}, false
	}
	tag := Tag(buf[0])
	if tag != TagPage && tag != TagCommit && tag != TagCheckpoint {
		return decodedFrame{}, false
	}
	payloadLen := binary.LittleEndian.Uint32(buf[1:5])
	total := frameHeaderSize + int(payloadLen) + frameCRCSize
	if len(buf) < total {
		return decodedFrame{}, false
	}
	payload := buf[frameHeaderSize : frameHeaderSize+int(payloadLen)]
	wantCRC := binary.LittleEndian.Uint32(buf[frameHeaderSize+int(payloadLen) : total])
	gotCRC := crc32.Checksum(buf[:frameHeaderSize+int(payloadLen)], crc32.MakeTable(crc32.Castagnoli))
	if wantCRC != gotCRC {
		return decodedFrame{}, false
	}
	return decodedFrame{
		Tag:     tag,
		Payload: payload,
		Start:   fileOffset,
		End:     fileOffset + int64(total),
	}, true
}

// pageFramePayload is [PageID u32][Length u32][page bytes].
func encodePageFrame(id page.ID, data []byte) []byte {
	payload := make([]byte, 8+len(data))
	binary.LittleEndian.PutUint32(payload[0:4], uint32(id))
	binary.LittleEndian.PutUint32(payload[4:8], uint32(len(data)))
	copy(payload[8:], data)
	return encodeFrame(TagPage, payload)
}

func decodePageFrame(payload []byte) (page.ID, []byte, error) {
	if len(payload) < 8 {
		return 0, nil, errs.Corruption("wal_page_frame_short", "page frame payload shorter than expected")
	}
	id := page.ID(binary.LittleEndian.Uint32(payload[0:4]))
	length := binary.LittleEndian.Uint32(payload[4:8])
	if len(payload) < 8+int(length) {
		return 0, nil, errs.Corruption("wal_page_frame_truncated", "page frame payload shorter than its declared length")
	}
	return id, payload[8 : 8+length], nil
}

// commitFramePayload is [WalEndOffset u64][CommitLSN u64][XXHash64 u64],
// where the hash covers every byte written by this transaction's Page
// frames (spec's per-commit integrity check, see revisions to component
// design).
func encodeCommitFrame(walEndOffset, commitLSN uint64, txHash uint64) []byte {
	payload := make([]byte, 24)
	binary.LittleEndian.PutUint64(payload[0:8], walEndOffset)
	binary.LittleEndian.PutUint64(payload[8:16], commitLSN)
	binary.LittleEndian.PutUint64(payload[16:24], txHash)
	return encodeFrame(TagCommit, payload)
}

func decodeCommitFrame(payload []byte) (walEndOffset, commitLSN, txHash uint64, err error) {
	if len(payload) < 24 {
		return 0, 0, 0, errs.Corruption("wal_commit_frame_short", "commit frame payload shorter than expected")
	}
	walEndOffset = binary.LittleEndian.Uint64(payload[0:8])
	commitLSN = binary.LittleEndian.Uint64(payload[8:16])
	txHash = binary.LittleEndian.Uint64(payload[16:24])
	return
}

// checkpointFramePayload is [FromLSN u64][ToLSN u64].
func encodeCheckpointFrame(fromLSN, toLSN uint64) []byte {
	payload := make([]byte, 16)
	binary.LittleEndian.PutUint64(payload[0:8], fromLSN)
	binary.LittleEndian.PutUint64(payload[8:16], toLSN)
	return encodeFrame(TagCheckpoint, payload)
}

// newTxHasher returns the rolling hash used to compute a transaction's
// commit-frame checksum over its Page frames.
func newTxHasher() *xxhash.Digest {
	return xxhash.New()
}
