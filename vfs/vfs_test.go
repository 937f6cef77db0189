package vfs

import (
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestOSFileReadWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")
	f, err := OS.Open(path, ModeReadWrite)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	payload := []byte("hello decentdb")
	if _, err := f.WriteAt(payload, 0); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := f.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	buf := make([]byte, len(payload))
	n, err := f.ReadAt(buf, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != len(payload) || string(buf) != string(payload) {
		t.Fatalf("got %q, want %q", buf[:n], payload)
	}
}

func TestOSFileShortReadAtEOF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")
	f, err := OS.Open(path, ModeReadWrite)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	if _, err := f.WriteAt([]byte("abc"), 0); err != nil {
		t.Fatalf("write: %v", err)
	}

	buf := make([]byte, 10)
	n, err := f.ReadAt(buf, 0)
	if err != io.EOF {
		t.Fatalf("expected io.EOF for short read, got %v", err)
	}
	if n != 3 {
		t.Fatalf("expected short read of 3 bytes, got %d", n)
	}
}

func TestOpenReadOnlyMissingFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.db")
	if _, err := OS.Open(path, ModeReadOnly); err == nil {
		t.Fatal("expected error opening missing file read-only")
	}
}

func TestMemVFSRoundTrip(t *testing.T) {
	mv := NewMemVFS()
	f, err := mv.Open(":memory:", ModeReadWrite)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.WriteAt([]byte("payload"), 4096); err != nil {
		t.Fatalf("write: %v", err)
	}
	length, err := f.Length()
	if err != nil {
		t.Fatalf("length: %v", err)
	}
	if length != int64(4096+len("payload")) {
		t.Fatalf("unexpected length %d", length)
	}
}

func TestFaultyVFSDroppedSync(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")
	fv := NewFaultyVFS(OS).WithDroppedSync(true)
	f, err := fv.Open(path, ModeReadWrite)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.WriteAt([]byte("x"), 0); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := f.Flush(); err != nil {
		t.Fatalf("flush should report success even when dropped: %v", err)
	}
}

func TestFaultyVFSFailpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")
	fv := NewFaultyVFS(OS).WithFailpoint("write", 1)
	f, err := fv.Open(path, ModeReadWrite)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.WriteAt([]byte("x"), 0); err == nil {
		t.Fatal("expected injected write failure")
	}
	// Second write should succeed: the failpoint only fires once.
	if _, err := f.WriteAt([]byte("x"), 0); err != nil {
		t.Fatalf("expected second write to succeed, got %v", err)
	}
}

func TestFaultyVFSTornWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")
	fv := NewFaultyVFS(OS).WithTornWriteAt(1)
	f, err := fv.Open(path, ModeReadWrite)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	payload := make([]byte, 100)
	for i := range payload {
		payload[i] = byte(i)
	}
	if _, err := f.WriteAt(payload, 0); err != nil {
		t.Fatalf("write: %v", err)
	}
	f.Flush()
	f.Close()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() != 50 {
		t.Fatalf("expected torn write to land 50 bytes, got %d", info.Size())
	}
}
