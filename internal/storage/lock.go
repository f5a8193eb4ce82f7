// Package storage holds the cross-process coordination primitive for the
// database files: the sidecar file lock. The shared repository handle lives
// in package storage/duckdb.
package storage

import (
	"github.com/gofrs/flock"

	"github.com/treeline-money/treeline/internal/types"
)

// Lock serializes access to one logical database across processes using an
// exclusive advisory lock on a sidecar file. The lock is per-operation:
// acquire, do the work, release. Acquisition blocks with no timeout; a
// faulty holder shows up as a hung operation, never as silent corruption.
type Lock struct {
	path string
}

// NewLock creates a lock for the database at dbPath. The sidecar lives at
// <dbPath>.lock.
func NewLock(dbPath string) *Lock {
	return &Lock{path: dbPath + ".lock"}
}

// Path returns the sidecar file path.
func (l *Lock) Path() string { return l.path }

// WithLock runs fn while holding the exclusive lock.
func (l *Lock) WithLock(fn func() error) error {
	fl := flock.New(l.path)
	if err := fl.Lock(); err != nil {
		return types.WrapErr(types.KindIO, err, "acquiring database lock %s", l.path)
	}
	defer func() { _ = fl.Unlock() }()
	return fn()
}
