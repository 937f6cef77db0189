package wal

import (
	"encoding/binary"

	"github.com/sphildreth/decentdb-sub002/page"
)

// recover scans the WAL from just past the header, accepting frames up to
// and including the last well-formed Commit frame whose xxhash64 matches
// the Page frames before it, and builds the in-memory index from them. A
// torn tail — a partial frame, or Page frames never followed by a Commit —
// is cut off: the file is truncated back to the end of the last good
// Commit, so the next writer overwrites that region (spec §4.6 "Recovery
// (on open)"). Each
// frame is read in two steps — the fixed-size [tag][length] header first,
// then exactly as many payload+CRC bytes as it declares — so a frame is
// never truncated by a fixed read-buffer size regardless of page_size
// (spec §3.1, §6.4 permit page sizes up to 65536).
func (w *WAL) recover(fileLength int64) error {
	offset := int64(HeaderSize)
	var pendingSincelastCommit []pendingFrame
	var lastGoodCommitEnd uint64 = HeaderSize
	txHasher := newTxHasher()

scan:
	for offset < fileLength {
		if offset+int64(frameHeaderSize) > fileLength {
			break
		}
		head := make([]byte, frameHeaderSize)
		if _, err := w.file.ReadAt(head, offset); err != nil {
			break
		}
		tag := Tag(head[0])
		if tag != TagPage && tag != TagCommit && tag != TagCheckpoint {
			break
		}
		payloadLen := int64(binary.LittleEndian.Uint32(head[1:5]))
		total := int64(frameHeaderSize) + payloadLen + int64(frameCRCSize)
		if offset+total > fileLength {
			break
		}
		buf := make([]byte, total)
		if _, err := w.file.ReadAt(buf, offset); err != nil {
			break
		}

		decoded, ok := decodeFrameAt(buf, offset)
		if !ok {
			// Torn or unreadable frame: stop scanning, whatever came before
			// (up to the last Commit) remains durable.
			break
		}

		switch decoded.Tag {
		case TagPage:
			id, data, perr := decodePageFrame(decoded.Payload)
			if perr != nil {
				break
			}
			_ = data
			txHasher.Write(buf)
			pendingSincelastCommit = append(pendingSincelastCommit, pendingFrame{pageID: id, frameOffset: decoded.Start})
		case TagCommit:
			walEnd, commitLSN, txHash, cerr := decodeCommitFrame(decoded.Payload)
			if cerr != nil {
				break
			}
			if txHash != txHasher.Sum64() {
				// The digest does not cover the Page frames before it, so
				// this is not a commit boundary.
				break scan
			}
			txHasher.Reset()
			for _, pf := range pendingSincelastCommit {
				w.index[pf.pageID] = append(w.index[pf.pageID], indexEntry{FrameOffset: pf.frameOffset, CommitLSN: commitLSN})
			}
			pendingSincelastCommit = nil
			lastGoodCommitEnd = walEnd
		case TagCheckpoint:
			// Informational only: recovery does not read it, and
			// w.lastSafeTo starts at 0 after open.
		}

		offset = decoded.End
	}

	if fileLength > int64(lastGoodCommitEnd) {
		if err := w.file.Truncate(int64(lastGoodCommitEnd)); err != nil {
			return err
		}
	}
	w.header.WalEndOffset = lastGoodCommitEnd
	return nil
}

// Checkpoint copies every page with a durable frame at commit LSN <=
// safeLSN into the page file via store, appends a Checkpoint frame, and
// either truncates the WAL (if no reader straddles it) or leaves later
// frames in place (spec §4.7).
func (w *WAL) Checkpoint(store PageStore) error {
	w.mu.Lock()
	walEnd := w.header.WalEndOffset
	w.mu.Unlock()

	safeLSN := walEnd
	if minReader, ok := w.readers.Min(); ok && minReader < safeLSN {
		safeLSN = minReader
	}

	w.mu.Lock()
	toCopy := make(map[page.ID]indexEntry)
	for id, entries := range w.index {
		for _, e := range entries {
			if e.CommitLSN <= safeLSN {
				if cur, ok := toCopy[id]; !ok || e.CommitLSN > cur.CommitLSN {
					toCopy[id] = e
				}
			}
		}
	}
	w.mu.Unlock()

	for id, entry := range toCopy {
		_, data, err := w.ReadFrame(entry.FrameOffset)
		if err != nil {
			return err
		}
		if err := store.WritePageFileImage(id, data); err != nil {
			return err
		}
		store.InvalidatePageCache(id)
	}
	if err := store.FlushPageFile(); err != nil {
		return err
	}

	w.mu.Lock()
	fromLSN := w.lastSafeTo
	cpFrame := encodeCheckpointFrame(fromLSN, safeLSN)
	offset, err := w.file.Length()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	if _, err := w.file.WriteAt(cpFrame, offset); err != nil {
		w.mu.Unlock()
		return err
	}
	if err := w.file.Flush(); err != nil {
		w.mu.Unlock()
		return err
	}
	w.lastSafeTo = safeLSN

	// Prune index entries now superseded by the page-file copy.
	for id, entries := range w.index {
		kept := entries[:0]
		for _, e := range entries {
			if e.CommitLSN > safeLSN {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(w.index, id)
		} else {
			w.index[id] = kept
		}
	}

	if safeLSN == walEnd {
		if err := w.resetLocked(); err != nil {
			w.mu.Unlock()
			return err
		}
	}
	w.mu.Unlock()
	return nil
}

// resetLocked truncates the WAL back to just its header and issues a fresh
// salt pair (spec §4.7 step 6 "truncate the WAL and reset salts"). Callers
// must hold w.mu.
func (w *WAL) resetLocked() error {
	h, err := NewHeader()
	if err != nil {
		return err
	}
	h.WalEndOffset = HeaderSize
	if err := w.file.Truncate(HeaderSize); err != nil {
		return err
	}
	if _, err := w.file.WriteAt(h.Encode(), 0); err != nil {
		return err
	}
	if err := w.file.Flush(); err != nil {
		return err
	}
	w.header = h
	w.index = make(map[page.ID][]indexEntry)
	w.lastSafeTo = 0
	return nil
}
