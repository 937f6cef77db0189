//go:build !windows && !js && !wasip1

package vfs

import (
	"os"
	"syscall"

	"github.com/sphildreth/decentdb-sub002/errs"
)

// FileLock represents an OS-level advisory lock (Unix flock), preventing a
// second process from opening the same database file (spec §6.1). Grounded
// on storage/filelock_unix.go, unchanged in mechanism, renamed for the new
// package boundary.
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
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return nil, errs.New(errs.KindIO, "database_locked", "database is locked by another process").With("path", path)
	}
	return &FileLock{file: f}, nil
}

// Unlock releases the lock and removes the lock file.
func (fl *FileLock) Unlock() error {
	if fl.file == nil {
		return nil
	}
	syscall.Flock(int(fl.file.Fd()), syscall.LOCK_UN)
	name := fl.file.Name()
	err := fl.file.Close()
	os.Remove(name)
	return err
}
