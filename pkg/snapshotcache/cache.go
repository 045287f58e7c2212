// Package snapshotcache stores derived viability snapshots keyed by the
// canonical hash of their physics seed, so certificate issuance can reuse a
// previous pipeline run instead of recomputing.
package snapshotcache

import (
	"context"
	"sync"
	"time"

	"github.com/pestypig/casimirbot/warpgate/pkg/contracts"
)

// Entry is one cached pipeline result.
type Entry struct {
	Snapshot  contracts.ViabilitySnapshot `json:"snapshot"`
	Citations []string                    `json:"citations,omitempty"`
	StoredAt  time.Time                   `json:"storedAt"`
}

// Clone returns a deep copy of e.
func (e Entry) Clone() Entry {
	out := e
	out.Snapshot = e.Snapshot.Clone()
	out.Citations = append([]string(nil), e.Citations...)
	return out
}

// Cache is a snapshot store. Implementations must be safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Put(ctx context.Context, key string, e Entry) error
	Invalidate(ctx context.Context) error
}

// Memory is an in-process Cache with an optional TTL.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemory creates a Memory cache. A zero ttl never expires entries.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{entries: make(map[string]Entry), ttl: ttl, now: time.Now}
}

// Get implements Cache.
func (m *Memory) Get(_ context.Context, key string) (Entry, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return Entry{}, false, nil
	}
	if m.ttl > 0 && m.now().Sub(e.StoredAt) > m.ttl {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return Entry{}, false, nil
	}
	return e.Clone(), true, nil
}

// Put implements Cache. The entry is copied so later writes by the caller
// do not reach the cache.
func (m *Memory) Put(_ context.Context, key string, e Entry) error {
	e = e.Clone()
	if e.StoredAt.IsZero() {
		e.StoredAt = m.now()
	}
	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
	return nil
}

// Invalidate implements Cache.
func (m *Memory) Invalidate(context.Context) error {
	m.mu.Lock()
	m.entries = make(map[string]Entry)
	m.mu.Unlock()
	return nil
}

// Len returns the number of entries, expired or not.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
