package alerts

import (
	"context"
	"sync"
	"time"

	"doorguard/internal/model"
)

// Throttle records when each alert kind was last delivered successfully.
type Throttle interface {
	LastSent(ctx context.Context, kind model.AlertKind) (time.Time, bool, error)
	MarkSent(ctx context.Context, kind model.AlertKind, at time.Time) error
	// Reset forgets every last-sent timestamp so the next alert of any kind is sent.
	Reset(ctx context.Context) error
}

// MemoryThrottle is process local and lost on restart.
type MemoryThrottle struct {
	mu   sync.Mutex
	last map[model.AlertKind]time.Time
}

func NewMemoryThrottle() *MemoryThrottle {
	return &MemoryThrottle{last: make(map[model.AlertKind]time.Time)}
}

func (m *MemoryThrottle) LastSent(_ context.Context, kind model.AlertKind) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts, ok := m.last[kind]
	return ts, ok, nil
}

func (m *MemoryThrottle) MarkSent(_ context.Context, kind model.AlertKind, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last[kind] = at
	return nil
}

func (m *MemoryThrottle) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = make(map[model.AlertKind]time.Time)
	return nil
}

// inFlight tracks dispatches that have started but not finished.
type inFlight struct {
	mu    sync.Mutex
	items map[string]time.Time
}

func newInFlight() *inFlight {
	return &inFlight{items: make(map[string]time.Time)}
}

// acquire fails while the same key is held. Entries older than ttl are
// considered abandoned and may be taken over.
func (f *inFlight) acquire(key string, now time.Time, ttl time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ts, ok := f.items[key]; ok && now.Sub(ts) <= ttl {
		return false
	}
	f.items[key] = now
	return true
}

func (f *inFlight) release(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, key)
}
