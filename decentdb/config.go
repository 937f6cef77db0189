// Package decentdb is the top-level entry point: it wires the page store,
// WAL, transaction manager, and catalog from the packages below it into
// one `Engine` a caller opens a database file through (spec §6.5).
// Grounded on storage/pager.go's OpenPager as the single construction
// point for a database handle, generalized from a pager-shaped API into
// one that also owns the writer-admission lock and the system catalog,
// since those are concerns the teacher's single storage.Pager doesn't
// need to separate out.
package decentdb

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/sphildreth/decentdb-sub002/wal"
)

// WALSyncMode controls how aggressively the WAL is flushed to stable
// storage (spec §6.4 "wal_sync_mode ∈ {full, normal, off}").
type WALSyncMode int

const (
	// WALSyncFull fsyncs on every commit: the safest mode.
	WALSyncFull WALSyncMode = iota
	// WALSyncNormal fsyncs on every commit too (the VFS layer exposes a
	// single Flush primitive, see wal.SyncNormal); kept distinct from
	// WALSyncFull so the two remain independently configurable if a
	// cheaper flush primitive is ever added below.
	WALSyncNormal
	// WALSyncOff never fsyncs explicitly, relying on the OS to flush
	// eventually; faster, but a power loss can lose committed transactions.
	// Only intended for tests (spec §6.4).
	WALSyncOff
)

func (m WALSyncMode) toWAL() wal.SyncMode {
	switch m {
	case WALSyncFull:
		return wal.SyncFull
	case WALSyncOff:
		return wal.SyncOff
	default:
		return wal.SyncNormal
	}
}

// Config mirrors the tunables spec §6.4 names. The zero Config is not
// valid to Open with; use DefaultConfig and override individual fields,
// the way the teacher inlines its own defaults (newLRUCache(1024),
// a 5*time.Second lock timeout) at construction time.
type Config struct {
	PageSize             int
	CacheSizePages       int
	WALSyncMode          WALSyncMode
	CheckpointBytes      int64
	CheckpointMillis     int64
	CheckpointTimeoutSec int64
	ReaderWarnMillis     int64
	BusyTimeoutMillis    int64
	MaxSQLBytes          int64
	Logger               zerolog.Logger
	Clock                Clock
}

// DefaultConfig returns the teacher-derived defaults: a 4KiB page (page.
// DefaultPageSize), a 1024-page cache (the teacher's newLRUCache(1024)),
// and a 5-second writer busy timeout (the teacher's DefaultLockTimeout).
func DefaultConfig() Config {
	return Config{
		PageSize:             4096,
		CacheSizePages:       1024,
		WALSyncMode:          WALSyncFull,
		CheckpointBytes:      64 << 20,
		CheckpointMillis:     5000,
		CheckpointTimeoutSec: 30,
		ReaderWarnMillis:     1000,
		BusyTimeoutMillis:    5000,
		MaxSQLBytes:          1 << 20,
		Logger:               zerolog.Nop(),
		Clock:                RealClock,
	}
}

func (c Config) busyTimeout() time.Duration {
	return time.Duration(c.BusyTimeoutMillis) * time.Millisecond
}

func (c Config) clock() Clock {
	if c.Clock == nil {
		return RealClock
	}
	return c.Clock
}
