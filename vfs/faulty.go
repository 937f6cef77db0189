package vfs

import (
	"fmt"
	"sync"

	"github.com/sphildreth/decentdb-sub002/errs"
)

// FaultyVFS wraps another VFS and deterministically injects partial writes,
// dropped fsyncs, and named failpoints, so crash-recovery tests can exercise
// spec §8's torn-tail-safety and durability properties without relying on
// an actual process kill (spec §4.8, component #8 "Faulty VFS harness").
//
// Nothing in the pack implements exactly this; it is modeled on the same
// "wrap the real thing and intercept calls" shape as storage/memfile.go's
// StorageFile interface, applied to fault injection instead of an in-memory
// backing store.
type FaultyVFS struct {
	inner VFS

	mu          sync.Mutex
	failpoints  map[string]int // failpoint name -> remaining trigger count (-1 = always)
	dropSync    bool           // Flush() succeeds locally but is not actually durable
	tornWriteAt int            // if > 0, the N-th WriteAt call is truncated short
	writeCount  int
}

// NewFaultyVFS wraps inner (typically vfs.OS) with fault injection disabled;
// call the With* methods to arm specific faults before use.
func NewFaultyVFS(inner VFS) *FaultyVFS {
	return &FaultyVFS{inner: inner, failpoints: make(map[string]int)}
}

// WithFailpoint arms a named failpoint to fire on its next `times` calls
// (times < 0 means every call from now on).
func (f *FaultyVFS) WithFailpoint(name string, times int) *FaultyVFS {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failpoints[name] = times
	return f
}

// WithDroppedSync makes every Flush() on files opened through this VFS
// report success without the underlying data actually having reached
// stable storage — simulating a crash that loses the last fsync.
func (f *FaultyVFS) WithDroppedSync(drop bool) *FaultyVFS {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropSync = drop
	return f
}

// WithTornWriteAt arms a torn write: the n-th WriteAt call across every
// file opened through this VFS is truncated to roughly half its length,
// simulating a power loss mid-write.
func (f *FaultyVFS) WithTornWriteAt(n int) *FaultyVFS {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tornWriteAt = n
	return f
}

// triggerFailpoint reports whether the named failpoint should fire now,
// consuming one occurrence if it is count-limited.
func (f *FaultyVFS) triggerFailpoint(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	remaining, ok := f.failpoints[name]
	if !ok || remaining == 0 {
		return false
	}
	if remaining > 0 {
		f.failpoints[name] = remaining - 1
	}
	return true
}

func (f *FaultyVFS) Open(path string, mode OpenMode) (File, error) {
	if f.triggerFailpoint("open") {
		return nil, errs.New(errs.KindIO, "failpoint_open", "injected open failure")
	}
	inner, err := f.inner.Open(path, mode)
	if err != nil {
		return nil, err
	}
	return &faultyFile{vfs: f, inner: inner}, nil
}

func (f *FaultyVFS) Remove(path string) error {
	return f.inner.Remove(path)
}

// faultyFile intercepts WriteAt/Flush to apply the armed faults.
type faultyFile struct {
	vfs   *FaultyVFS
	inner File
}

func (ff *faultyFile) ReadAt(buf []byte, offset int64) (int, error) {
	if ff.vfs.triggerFailpoint("read") {
		return 0, errs.New(errs.KindIO, "failpoint_read", "injected read failure")
	}
	return ff.inner.ReadAt(buf, offset)
}

func (ff *faultyFile) WriteAt(buf []byte, offset int64) (int, error) {
	if ff.vfs.triggerFailpoint("write") {
		return 0, errs.New(errs.KindIO, "failpoint_write", "injected write failure")
	}

	ff.vfs.mu.Lock()
	ff.vfs.writeCount++
	n := ff.vfs.writeCount
	tornAt := ff.vfs.tornWriteAt
	ff.vfs.mu.Unlock()

	if tornAt > 0 && n == tornAt && len(buf) > 1 {
		short := buf[:len(buf)/2]
		written, err := ff.inner.WriteAt(short, offset)
		if err != nil {
			return written, err
		}
		// Report the torn length truthfully: callers that check n against
		// len(buf) will see a short write, exactly as a real torn write
		// behaves (spec §4.1: "short reads/writes return the actual count").
		return written, nil
	}
	return ff.inner.WriteAt(buf, offset)
}

func (ff *faultyFile) Flush() error {
	if ff.vfs.triggerFailpoint("flush") {
		return errs.New(errs.KindIO, "failpoint_flush", "injected fsync failure")
	}
	ff.vfs.mu.Lock()
	drop := ff.vfs.dropSync
	ff.vfs.mu.Unlock()
	if drop {
		return nil // reports success but durability did not actually happen
	}
	return ff.inner.Flush()
}

func (ff *faultyFile) Length() (int64, error)    { return ff.inner.Length() }
func (ff *faultyFile) Truncate(size int64) error { return ff.inner.Truncate(size) }
func (ff *faultyFile) Close() error              { return ff.inner.Close() }

// Failpoint is a small helper for tests wanting to name a call site without
// hand-rolling the string, e.g. vfs.Failpoint("wal", "commit_frame").
func Failpoint(component, event string) string {
	return fmt.Sprintf("%s:%s", component, event)
}
