// Package recordreplay implements the fingerprint-keyed cache that backs
// record and replay mode: one map of fingerprint to recorded response per
// logical endpoint path, persisted to a YAML file on save.
package recordreplay

import (
	"sync"

	llmsim "github.com/eugener/llmsim/internal"
)

// pathCache is one endpoint path's fingerprint -> response map.
type pathCache struct {
	mu      sync.RWMutex
	entries map[string]llmsim.RecordedResponse
}

// Store holds one pathCache per logical endpoint path. Reads and writes for
// different paths never contend; within a path, lookups are cheap RLocks and
// inserts take the write lock only to add an entry, never while forwarding.
type Store struct {
	mu    sync.RWMutex
	paths map[string]*pathCache
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{paths: make(map[string]*pathCache)}
}

func (s *Store) pathFor(path string) *pathCache {
	s.mu.RLock()
	pc, ok := s.paths[path]
	s.mu.RUnlock()
	if ok {
		return pc
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if pc, ok := s.paths[path]; ok {
		return pc
	}
	pc = &pathCache{entries: make(map[string]llmsim.RecordedResponse)}
	s.paths[path] = pc
	return pc
}

// Lookup returns the recorded response for fingerprint under path, if any.
func (s *Store) Lookup(path, fingerprint string) (llmsim.RecordedResponse, bool) {
	pc := s.pathFor(path)
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	r, ok := pc.entries[fingerprint]
	return r, ok
}

// InsertIfAbsent stores r under path/fingerprint unless an entry is already
// present, implementing the "lock -> insert-if-still-absent -> unlock"
// discipline that tolerates a duplicate concurrent forward.
func (s *Store) InsertIfAbsent(path string, r llmsim.RecordedResponse) {
	pc := s.pathFor(path)
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if _, exists := pc.entries[r.Fingerprint]; !exists {
		pc.entries[r.Fingerprint] = r
	}
}

// Paths returns a snapshot of all endpoint paths currently holding entries.
func (s *Store) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths := make([]string, 0, len(s.paths))
	for p, pc := range s.paths {
		pc.mu.RLock()
		n := len(pc.entries)
		pc.mu.RUnlock()
		if n > 0 {
			paths = append(paths, p)
		}
	}
	return paths
}

// Entries returns a snapshot of all recorded responses for path.
func (s *Store) Entries(path string) []llmsim.RecordedResponse {
	pc := s.pathFor(path)
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	out := make([]llmsim.RecordedResponse, 0, len(pc.entries))
	for _, r := range pc.entries {
		out = append(out, r)
	}
	return out
}

// LoadPath replaces path's entries wholesale, used when loading the
// recording files found at startup in record and replay mode.
func (s *Store) LoadPath(path string, entries map[string]llmsim.RecordedResponse) {
	pc := s.pathFor(path)
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.entries = entries
}
