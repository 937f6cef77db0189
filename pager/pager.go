// Package pager ties the VFS, the sharded page cache, and the WAL into
// the single entry point everything above it reads and writes pages
// through (spec §4.2, §4.6). Grounded on storage/pager.go's
// OpenPager/ReadPage/WritePage/AllocatePage family, generalized from the
// teacher's always-growing, never-freed page file (collections only ever
// append pages) into one with a real freelist, and from the teacher's
// direct-to-disk writes into the spec's WAL-first write path: every
// mutation goes through the WAL, never the cache. A page's uncommitted
// image lives only in the WAL's pending buffer (visible solely to the
// writer that logged it) and then the WAL's committed index (visible to
// any reader whose snapshot is new enough); the page cache is never
// consulted until both have been checked, and it is only ever filled with
// page-file-resident images, so it is always safe to serve to any
// snapshot without comparing versions (spec §4.4.2, §4.5, §8 "Snapshot
// consistency").
package pager

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/sphildreth/decentdb-sub002/cache"
	"github.com/sphildreth/decentdb-sub002/errs"
	"github.com/sphildreth/decentdb-sub002/page"
	"github.com/sphildreth/decentdb-sub002/vfs"
	"github.com/sphildreth/decentdb-sub002/wal"
)

// Pager owns the page file, the page cache, and the WAL for one open
// database.
type Pager struct {
	mu sync.Mutex

	file     vfs.File
	pageSize int
	readOnly bool
	log      zerolog.Logger

	cache *cache.Cache
	wal   *wal.WAL

	header page.Header

	// txFreed/txAllocated track freelist effects of the transaction in
	// progress so rollback can undo them (spec §4.3 "tracks ... pages
	// allocated during the transaction, for rollback").
	inTx        bool
	txAllocated []page.ID
	txFreed     []page.ID
	txStart     Savepoint
	commitLSN   uint64
}

// Savepoint captures pager state sufficient to discard everything logged
// since it was taken, within the same write transaction (spec §4.3
// "statement-level savepoints").
type Savepoint struct {
	header     page.Header
	allocLen   int
	freedLen   int
	walPending int
}

// Options configures Open.
type Options struct {
	PageSize   int // only consulted when creating a new database
	ReadOnly   bool
	CachePages int // total page-cache capacity across all shards
	SyncMode   wal.SyncMode
	Logger     zerolog.Logger
}

// Open opens or creates the page file at dataFile, wiring walFile as its
// write-ahead log (spec §6.2 "<db>" and "<db>.wal").
func Open(dataFile, walFile vfs.File, opts Options) (*Pager, error) {
	pageSize := opts.PageSize
	if pageSize == 0 {
		pageSize = page.DefaultPageSize
	}
	if !page.IsValidPageSize(pageSize) {
		return nil, errs.New(errs.KindInternal, "bad_page_size", "requested page size is not supported")
	}

	p := &Pager{
		file:     dataFile,
		pageSize: pageSize,
		readOnly: opts.ReadOnly,
		log:      opts.Logger,
		cache:    cache.New(opts.CachePages),
	}

	length, err := dataFile.Length()
	if err != nil {
		return nil, err
	}

	if length == 0 {
		if opts.ReadOnly {
			return nil, errs.New(errs.KindIO, "create_in_read_only", "cannot create a new database in read-only mode")
		}
		h := page.Header{
			FormatVersion: page.FormatVersion,
			PageSize:      uint32(pageSize),
			TotalPages:    1,
		}
		hp := page.New(pageSize, page.TypeHeader, 1)
		h.WriteInto(hp)
		if _, err := dataFile.WriteAt(hp.Data, 0); err != nil {
			return nil, err
		}
		if err := dataFile.Flush(); err != nil {
			return nil, err
		}
		p.header = h
	} else {
		hdrBuf := make([]byte, pageSize)
		if _, err := dataFile.ReadAt(hdrBuf, 0); err != nil {
			return nil, errs.Wrap(errs.KindIO, "header_read_failed", err, "failed to read database header page")
		}
		h, err := page.DecodeHeader(hdrBuf)
		if err != nil {
			return nil, err
		}
		p.header = *h
		p.pageSize = int(h.PageSize)
	}

	if !opts.ReadOnly {
		w, err := wal.Open(walFile, opts.SyncMode)
		if err != nil {
			return nil, err
		}
		p.wal = w
	}

	return p, nil
}

// PageSize returns the fixed page size of this database.
func (p *Pager) PageSize() int { return p.pageSize }

// Header returns a copy of the current database header.
func (p *Pager) Header() page.Header {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.header
}

// SetCatalogTables records the root page id of the table-catalog system
// tree in the header (spec §4.7 "known root PageIds referenced from the
// header"). Callers must be inside a write transaction; the change is
// rolled back with the rest of the header on Rollback/RollbackTo.
func (p *Pager) SetCatalogTables(id page.ID) {
	p.mu.Lock()
	p.header.CatalogTables = id
	p.mu.Unlock()
}

// SetCatalogIndexes records the root page id of the index-catalog system
// tree in the header.
func (p *Pager) SetCatalogIndexes(id page.ID) {
	p.mu.Lock()
	p.header.CatalogIndexes = id
	p.mu.Unlock()
}

// SetCatalogForeign records the root page id of the foreign-key-catalog
// system tree in the header.
func (p *Pager) SetCatalogForeign(id page.ID) {
	p.mu.Lock()
	p.header.CatalogForeign = id
	p.mu.Unlock()
}

// BumpSchemaCookie increments and returns the header's schema cookie (spec
// §4.7 "every DDL change ... increments the schema_cookie in the header").
func (p *Pager) BumpSchemaCookie() uint64 {
	p.mu.Lock()
	p.header.SchemaCookie++
	v := p.header.SchemaCookie
	p.mu.Unlock()
	return v
}

// BeginSnapshot registers a new reader snapshot and returns it, for use
// with ReadPage.
func (p *Pager) BeginSnapshot() uint64 {
	return p.wal.RegisterReader()
}

// EndSnapshot releases a snapshot obtained from BeginSnapshot.
func (p *Pager) EndSnapshot(snapshot uint64) {
	p.wal.UnregisterReader(snapshot)
}

// ReadPage returns the page image visible at snapshot: the WAL's committed
// index is consulted first for the newest frame with commit_lsn <=
// snapshot, falling back to the page cache and then the page file (spec
// §4.5 "Page reads"). It never looks at the WAL's pending (not yet
// committed) frames — those belong only to the transaction that logged
// them, via readPageForWriter — so a reader can never observe a write made
// after its snapshot was taken, committed or not (spec §8 "Snapshot
// consistency").
func (p *Pager) ReadPage(id page.ID, snapshot uint64) (*page.Page, error) {
	if p.wal != nil {
		if offset, ok := p.wal.Lookup(id, snapshot); ok {
			return p.readWALFrame(offset)
		}
	}
	return p.readFromCacheOrFile(id)
}

// readPageForWriter reads id the way the in-progress writer sees it: its
// own not-yet-committed Page frames (checked via PendingLookup) are
// visible immediately, ahead of the WAL's committed index, the cache, and
// the page file (spec §4.4 step 3 "writes are visible to the writer
// itself").
func (p *Pager) readPageForWriter(id page.ID) (*page.Page, error) {
	if p.wal != nil {
		if offset, ok := p.wal.PendingLookup(id); ok {
			return p.readWALFrame(offset)
		}
		if offset, ok := p.wal.Lookup(id, p.wal.WalEndOffset()); ok {
			return p.readWALFrame(offset)
		}
	}
	return p.readFromCacheOrFile(id)
}

// readWALFrame decodes the Page frame at offset into an independent page
// image, never aliasing the WAL's internal buffers.
func (p *Pager) readWALFrame(offset int64) (*page.Page, error) {
	_, data, err := p.wal.ReadFrame(offset)
	if err != nil {
		return nil, err
	}
	return page.FromBytes(append([]byte(nil), data...)), nil
}

// readFromCacheOrFile is reached only once neither the writer's pending
// writes nor the WAL's committed index holds a copy of id, meaning the
// page file itself is current for it: the cache, which holds nothing but
// page-file-resident images, is consulted first, then the page file
// directly. A cache hit is always cloned before being handed back, since
// callers (btree, record) mutate the returned page in place before writing
// it back, and the cache entry may be concurrently visible to another
// reader.
func (p *Pager) readFromCacheOrFile(id page.ID) (*page.Page, error) {
	if entry, ok := p.cache.Get(id); ok {
		defer p.cache.Unpin(entry)
		return entry.Page.Clone(), nil
	}

	buf := make([]byte, p.pageSize)
	if _, err := p.file.ReadAt(buf, int64(id-1)*int64(p.pageSize)); err != nil {
		return nil, errs.Wrap(errs.KindIO, "page_read_failed", err, "failed to read page from page file")
	}
	pg := page.FromBytes(buf)
	entry, err := p.cache.Put(id, pg)
	if err != nil {
		return nil, err
	}
	p.cache.Unpin(entry)
	return pg.Clone(), nil
}

// WritePage stages a page modification by appending a WAL Page frame. The
// write is not durable or visible to any reader — nor cached — until
// Commit publishes it; only a page-file-resident image is ever allowed
// into the shared cache, so WritePage never touches it (spec §4.4 step 3,
// §4.6).
func (p *Pager) WritePage(pg *page.Page) error {
	if p.readOnly {
		return errs.New(errs.KindIO, "write_read_only", "pager is opened read-only")
	}
	return p.wal.LogPage(pg.ID(), pg.Data)
}

// AllocatePage returns a page id for a new page, preferring a freelist
// entry over growing the file (spec §4.3, "freelist allocator").
func (p *Pager) AllocatePage() (page.ID, error) {
	p.mu.Lock()
	var id page.ID
	if p.header.FreelistHead != 0 {
		id = p.header.FreelistHead
		// The free page's NextPageID link may only exist in this
		// transaction's own not-yet-committed WAL frames (if the same
		// transaction both freed and now reallocates it), or only in the
		// WAL's committed index (not yet checkpointed to the page file),
		// so this must go through the writer-aware read path rather than
		// straight to the page file.
		freePage, err := p.readPageForWriter(id)
		if err != nil {
			p.mu.Unlock()
			return 0, err
		}
		p.header.FreelistHead = freePage.NextPageID()
		p.header.FreelistCount--
	} else {
		p.header.TotalPages++
		id = page.ID(p.header.TotalPages)
	}
	if p.inTx {
		p.txAllocated = append(p.txAllocated, id)
	}
	p.mu.Unlock()
	return id, nil
}

// FreePage returns id to the freelist, chaining it onto the current head
// (spec §4.3, "freelist as singly-linked chain").
func (p *Pager) FreePage(id page.ID) error {
	freePage := page.New(p.pageSize, page.TypeFree, id)

	p.mu.Lock()
	freePage.SetNextPageID(p.header.FreelistHead)
	if err := p.WritePage(freePage); err != nil {
		p.mu.Unlock()
		return err
	}
	p.header.FreelistHead = id
	p.header.FreelistCount++
	if p.inTx {
		p.txFreed = append(p.txFreed, id)
	}
	p.mu.Unlock()
	return nil
}

// BeginWrite marks the start of a writable transaction's page-allocation
// tracking, so Rollback can reverse it (spec §4.3 "Writer ... tracks
// pages allocated during the transaction, for rollback").
func (p *Pager) BeginWrite() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inTx = true
	p.txAllocated = nil
	p.txFreed = nil
	p.txStart = p.markLocked()
}

// markLocked builds a Savepoint from the pager's current state. Callers
// must hold p.mu.
func (p *Pager) markLocked() Savepoint {
	return Savepoint{
		header:     p.header,
		allocLen:   len(p.txAllocated),
		freedLen:   len(p.txFreed),
		walPending: p.wal.PendingLen(),
	}
}

// Mark captures a savepoint at the transaction's current position, for a
// later RollbackTo (spec §4.3 "statement-level savepoints").
func (p *Pager) Mark() Savepoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.markLocked()
}

// RollbackTo undoes every page allocation, free, and logged write made
// since sp was taken, without ending the enclosing transaction.
func (p *Pager) RollbackTo(sp Savepoint) error {
	p.mu.Lock()
	for _, id := range p.txAllocated[sp.allocLen:] {
		p.cache.Invalidate(id)
	}
	for _, id := range p.txFreed[sp.freedLen:] {
		p.cache.Invalidate(id)
	}
	p.txAllocated = p.txAllocated[:sp.allocLen]
	p.txFreed = p.txFreed[:sp.freedLen]
	p.header = sp.header
	p.mu.Unlock()
	return p.wal.TruncatePendingTo(sp.walPending)
}

// Commit flushes the transaction's WAL frames, publishes the new
// wal_end_offset, and persists the updated header (spec §4.3 "commit").
func (p *Pager) Commit() (uint64, error) {
	lsn, err := p.wal.Commit()
	if err != nil {
		return 0, err
	}
	p.mu.Lock()
	p.commitLSN = lsn
	p.inTx = false
	p.txAllocated = nil
	p.txFreed = nil
	hdr := p.header
	p.mu.Unlock()

	if err := p.persistHeader(hdr); err != nil {
		return 0, err
	}
	return lsn, nil
}

// Rollback discards the entire in-progress transaction: every allocation,
// free, and logged write since BeginWrite is undone by rolling back to the
// savepoint captured when it began (spec §4.3 "rollback").
func (p *Pager) Rollback() error {
	p.mu.Lock()
	sp := p.txStart
	p.mu.Unlock()

	if err := p.RollbackTo(sp); err != nil {
		return err
	}

	p.mu.Lock()
	p.inTx = false
	p.mu.Unlock()
	return nil
}

// persistHeader writes the header page back to the page file directly
// (the header page itself is never routed through the WAL: spec §4.4
// treats wal_end_offset, not the database header, as the publication
// point for ordinary pages, and the header page is small enough that a
// direct write plus fsync is cheap).
func (p *Pager) persistHeader(hdr page.Header) error {
	hp := page.New(p.pageSize, page.TypeHeader, 1)
	hdr.WriteInto(hp)
	if _, err := p.file.WriteAt(hp.Data, 0); err != nil {
		return err
	}
	return p.file.Flush()
}

// Checkpoint runs the WAL's checkpoint protocol against this pager's page
// file (spec §4.7).
func (p *Pager) Checkpoint() error {
	if err := p.wal.Checkpoint(p); err != nil {
		return err
	}
	p.log.Debug().Msg("checkpoint complete")
	return nil
}

// WALEndOffset reports the current durable WAL size in bytes, the signal
// a caller uses to decide whether a byte-threshold checkpoint trigger
// (spec §6.4 "checkpoint_bytes") should fire. 0 in read-only mode, where
// there is no WAL writer.
func (p *Pager) WALEndOffset() uint64 {
	if p.wal == nil {
		return 0
	}
	return p.wal.WalEndOffset()
}

// WritePageFileImage satisfies wal.PageStore: it writes data directly to
// the page file at id's offset, bypassing the cache and WAL — the only
// code path allowed to do so, reserved for checkpoint (spec §4.6).
func (p *Pager) WritePageFileImage(id page.ID, data []byte) error {
	_, err := p.file.WriteAt(data, int64(id-1)*int64(p.pageSize))
	return err
}

// FlushPageFile satisfies wal.PageStore.
func (p *Pager) FlushPageFile() error {
	return p.file.Flush()
}

// InvalidatePageCache satisfies wal.PageStore: once a checkpoint copies
// id's durable WAL image into the page file, any cache entry for id may
// predate that copy and must be dropped rather than served to a future
// reader (spec §4.6, §4.7).
func (p *Pager) InvalidatePageCache(id page.ID) {
	p.cache.Invalidate(id)
}

// WriterView adapts a Pager to the narrower PageStore shape the record
// and btree packages depend on, bound to the current writer's view of the
// database (spec §4.2 data flow: "Writers modify pages, then log them to
// the WAL").
type WriterView struct {
	p *Pager
}

// Writer returns a WriterView over p, for use by a single in-progress
// write transaction.
func (p *Pager) Writer() *WriterView { return &WriterView{p: p} }

func (v *WriterView) PageSize() int                 { return v.p.PageSize() }
func (v *WriterView) AllocatePage() (page.ID, error) { return v.p.AllocatePage() }
func (v *WriterView) FreePage(id page.ID) error      { return v.p.FreePage(id) }
func (v *WriterView) WritePage(pg *page.Page) error  { return v.p.WritePage(pg) }
func (v *WriterView) ReadPage(id page.ID) (*page.Page, error) {
	return v.p.readPageForWriter(id)
}

// Header and the CatalogX/BumpSchemaCookie setters let the catalog package
// persist system-tree roots and the DDL cookie through the same view it
// uses for page I/O, without importing pager's internals (spec §4.7).
func (v *WriterView) Header() page.Header        { return v.p.Header() }
func (v *WriterView) SetCatalogTables(id page.ID)  { v.p.SetCatalogTables(id) }
func (v *WriterView) SetCatalogIndexes(id page.ID) { v.p.SetCatalogIndexes(id) }
func (v *WriterView) SetCatalogForeign(id page.ID) { v.p.SetCatalogForeign(id) }
func (v *WriterView) BumpSchemaCookie() uint64      { return v.p.BumpSchemaCookie() }

// ReaderView adapts a Pager to the PageStore shape bound to a fixed
// snapshot, for use by a read-only transaction.
type ReaderView struct {
	p        *Pager
	snapshot uint64
}

// Reader returns a ReaderView over p pinned at snapshot (normally the
// value returned by BeginSnapshot).
func (p *Pager) Reader(snapshot uint64) *ReaderView { return &ReaderView{p: p, snapshot: snapshot} }

func (v *ReaderView) PageSize() int { return v.p.PageSize() }
func (v *ReaderView) Header() page.Header { return v.p.Header() }
func (v *ReaderView) ReadPage(id page.ID) (*page.Page, error) {
	return v.p.ReadPage(id, v.snapshot)
}
func (v *ReaderView) AllocatePage() (page.ID, error) {
	return 0, errs.New(errs.KindTransaction, "read_only_view", "cannot allocate pages from a read-only snapshot view")
}
func (v *ReaderView) FreePage(page.ID) error {
	return errs.New(errs.KindTransaction, "read_only_view", "cannot free pages from a read-only snapshot view")
}
func (v *ReaderView) WritePage(*page.Page) error {
	return errs.New(errs.KindTransaction, "read_only_view", "cannot write pages from a read-only snapshot view")
}

// Close closes the underlying page file. The WAL file is not closed here;
// whoever opened it closes it (Engine.Close does).
func (p *Pager) Close() error {
	if p.wal != nil {
		// The WAL holds its own handle lifecycle; closing the data file is
		// sufficient here since tests and the engine open/close the WAL
		// file independently.
	}
	return p.file.Close()
}
