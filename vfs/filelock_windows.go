//go:build windows

package vfs

import (
	"os"
	"syscall"
	"unsafe"

	"github.com/sphildreth/decentdb-sub002/errs"
)

var (
	modkernel32      = syscall.NewLazyDLL("kernel32.dll")
	procLockFileEx   = modkernel32.NewProc("LockFileEx")
	procUnlockFileEx = modkernel32.NewProc("UnlockFileEx")
)

const (
	lockfileExclusiveLock = 0x00000002
	lockfileFailImmediate = 0x00000001
)

// FileLock represents an OS-level lock (Windows LockFileEx implementation).
type FileLock struct {
	file *os.File
}

// LockFile acquires an exclusive, non-blocking lock on path+".lock".
func LockFile(path string) (*FileLock, error) {
	lockPath := path + ".lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, filePerm)
	if err != nil {
		return nil, errs.IOError("lock_open_failed", err).With("path", lockPath)
	}

	ol := new(syscall.Overlapped)
	r1, _, _ := procLockFileEx.Call(
		f.Fd(),
		uintptr(lockfileExclusiveLock|lockfileFailImmediate),
		0,
		1, 0,
		uintptr(unsafe.Pointer(ol)),
	)
	if r1 == 0 {
		f.Close()
		return nil, errs.New(errs.KindIO, "database_locked", "database is locked by another process").With("path", lockPath)
	}
	return &FileLock{file: f}, nil
}

// Unlock releases the lock.
func (fl *FileLock) Unlock() error {
	if fl.file == nil {
		return nil
	}
	ol := new(syscall.Overlapped)
	procUnlockFileEx.Call(fl.file.Fd(), 0, 1, 0, uintptr(unsafe.Pointer(ol)))
	name := fl.file.Name()
	err := fl.file.Close()
	os.Remove(name)
	return err
}
