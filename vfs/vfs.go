// Package vfs provides the thin, swappable file-I/O layer the storage core
// is built on (spec §4.1). Every read/write is positional; the only
// operation that establishes durability is Flush. This mirrors
// storage/memfile.go's StorageFile interface in the teacher repo, split out
// into its own package and given a two-variant failure model (success /
// *errs.Error{Kind: KindIO}) instead of bare errors.
package vfs

import (
	"io"
	"os"

	"github.com/sphildreth/decentdb-sub002/errs"
)

// OpenMode selects how File should be opened.
type OpenMode byte

const (
	// ModeReadWrite creates the file if absent and allows reads and writes.
	ModeReadWrite OpenMode = iota
	// ModeReadOnly requires the file to already exist and rejects writes.
	ModeReadOnly
)

// filePerm is the permission mode for files created on POSIX (spec §4.1/§6.1).
const filePerm = 0o600

// File is the abstract handle returned by Open. Implementations must make
// short reads return the actual byte count (never fabricating bytes past
// EOF) and must never silently swallow a failure.
type File interface {
	ReadAt(buf []byte, offset int64) (n int, err error)
	WriteAt(buf []byte, offset int64) (n int, err error)
	Flush() error
	Length() (int64, error)
	Truncate(size int64) error
	Close() error
}

// VFS abstracts how File handles are obtained. The default implementation
// opens regular OS files; a FaultyVFS (see faulty.go) wraps one to inject
// deterministic failures for crash testing (spec §4.8).
type VFS interface {
	Open(path string, mode OpenMode) (File, error)
	Remove(path string) error
}

// OS is the production VFS backed by the local filesystem.
var OS VFS = osVFS{}

type osVFS struct{}

func (osVFS) Open(path string, mode OpenMode) (File, error) {
	flags := os.O_RDWR | os.O_CREATE
	if mode == ModeReadOnly {
		flags = os.O_RDONLY
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				return nil, errs.IOError("file_missing", err).With("path", path)
			}
			return nil, errs.IOError("stat_failed", err).With("path", path)
		}
	}
	f, err := os.OpenFile(path, flags, filePerm)
	if err != nil {
		return nil, errs.IOError("open_failed", err).With("path", path)
	}
	return &osFile{f: f}, nil
}

func ioMissing(path string) error {
	return errs.New(errs.KindIO, "file_missing", "required file absent").With("path", path)
}

func (osVFS) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errs.IOError("remove_failed", err).With("path", path)
	}
	return nil
}

// osFile implements File over *os.File.
type osFile struct {
	f *os.File
}

func (o *osFile) ReadAt(buf []byte, offset int64) (int, error) {
	n, err := o.f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return n, errs.IOError("read_failed", err)
	}
	return n, err
}

func (o *osFile) WriteAt(buf []byte, offset int64) (int, error) {
	n, err := o.f.WriteAt(buf, offset)
	if err != nil {
		return n, errs.IOError("write_failed", err)
	}
	return n, nil
}

// Flush forces all prior writes to stable storage. It is the only
// operation in this interface that establishes durability (spec §4.1).
func (o *osFile) Flush() error {
	if err := o.f.Sync(); err != nil {
		return errs.IOError("fsync_failed", err)
	}
	return nil
}

func (o *osFile) Length() (int64, error) {
	info, err := o.f.Stat()
	if err != nil {
		return 0, errs.IOError("stat_failed", err)
	}
	return info.Size(), nil
}

func (o *osFile) Truncate(size int64) error {
	if err := o.f.Truncate(size); err != nil {
		return errs.IOError("truncate_failed", err)
	}
	return nil
}

func (o *osFile) Close() error {
	if err := o.f.Close(); err != nil {
		return errs.IOError("close_failed", err)
	}
	return nil
}
