// Package memory keeps the most recent capture in process memory.
package memory

import (
	"sync"

	"github.com/JakeFAU/sitecapture/internal/capture"
)

// LatestStore is a single-slot cache of the last successful screenshot.
// The last write wins and nothing survives a restart.
type LatestStore struct {
	mu     sync.RWMutex
	latest capture.Snapshot
	set    bool
}

var _ capture.LatestSink = (*LatestStore)(nil)

// NewLatestStore creates an empty store.
func NewLatestStore() *LatestStore {
	return &LatestStore{}
}

// Put replaces the cached snapshot with a copy of s.
func (s *LatestStore) Put(snapshot capture.Snapshot) {
	snapshot.Bytes = append([]byte(nil), snapshot.Bytes...)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = snapshot
	s.set = true
}

// Latest returns the cached snapshot, if any. Callers must not modify the
// returned bytes.
func (s *LatestStore) Latest() (capture.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.set
}

// Reset empties the store.
func (s *LatestStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = capture.Snapshot{}
	s.set = false
}
