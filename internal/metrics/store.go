package metrics

import (
	"sync"
	"time"

	"doorguard/internal/model"
)

type Stats struct {
	Refreshes     uint64    `json:"refreshes"`
	Failures      uint64    `json:"failures"`
	Stale         uint64    `json:"stale_discarded"`
	LastError     string    `json:"last_error,omitempty"`
	LastErrorAt   time.Time `json:"last_error_at,omitempty"`
	LastRefreshAt time.Time `json:"last_refresh_at,omitempty"`
}

// Store holds the live door snapshot shared by the refresh paths and the API.
type Store struct {
	mu       sync.RWMutex
	snapshot model.Snapshot
	has      bool
	stats    Stats
}

func NewStore() *Store {
	return &Store{}
}

// Update installs snap unless a snapshot computed later is already in place.
// Overlapping refreshes therefore resolve to the most recent computation.
func (s *Store) Update(snap model.Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.has && snap.LastUpdated.Before(s.snapshot.LastUpdated) {
		s.stats.Stale++
		return false
	}
	s.snapshot = snap
	s.has = true
	s.stats.Refreshes++
	s.stats.LastRefreshAt = snap.LastUpdated
	return true
}

func (s *Store) Get() (model.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot, s.has
}

func (s *Store) RecordFailure(err error, at time.Time) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Failures++
	s.stats.LastError = err.Error()
	s.stats.LastErrorAt = at
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = model.Snapshot{}
	s.has = false
	s.stats = Stats{}
}
