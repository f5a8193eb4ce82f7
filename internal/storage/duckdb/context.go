package duckdb

import (
	"sync"
)

// Shared is the process-wide repository handle. It lets in-process callers
// reuse one repository (so schema metadata is not re-parsed per call) while
// staying correct across encryption-key changes and restores: invalidation
// drops the handle and the next caller rebuilds it.
type Shared struct {
	mu     sync.Mutex
	repo   *Repo
	curKey string // key the cached repo was built with
	keySet bool
}

// NewShared returns an empty shared handle.
func NewShared() *Shared {
	return &Shared{}
}

// Get returns the cached repository for (dbPath, hexKey), building it if
// the cache is empty or was built with a different key.
func (s *Shared) Get(dbPath, hexKey string) (*Repo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.repo != nil && s.keySet && s.curKey == hexKey && s.repo.dbPath == dbPath {
		return s.repo, nil
	}
	repo, err := New(dbPath, hexKey)
	if err != nil {
		return nil, err
	}
	s.repo = repo
	s.curKey = hexKey
	s.keySet = true
	return repo, nil
}

// Invalidate drops the cached repository. The next Get rebuilds it.
// Called after encryption changes and after restore-from-backup.
func (s *Shared) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repo = nil
	s.curKey = ""
	s.keySet = false
}

// keySlot is the guarded session key holder. The derived hex key lives
// here between unlock and disable (or process exit).
type keySlot struct {
	mu  sync.Mutex
	key string
}

var slot keySlot

// SetSessionKey stores the session's derived hex key.
func SetSessionKey(hexKey string) {
	slot.mu.Lock()
	defer slot.mu.Unlock()
	slot.key = hexKey
}

// SessionKey returns the held hex key, or empty when locked.
func SessionKey() string {
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.key
}

// ClearSessionKey drops the held key.
func ClearSessionKey() {
	slot.mu.Lock()
	defer slot.mu.Unlock()
	slot.key = ""
}
