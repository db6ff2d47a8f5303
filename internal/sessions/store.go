// Package sessions remembers DDP sessions established by connect packets so
// resumed sessions can be told apart from new ones.
package sessions

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned by Get for unknown or expired sessions.
var ErrNotFound = errors.New("sessions: not found")

// Record describes one session.
type Record struct {
	ID         string    `json:"id"`
	ConnID     string    `json:"conn_id"`
	RemoteAddr string    `json:"remote_addr"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeen   time.Time `json:"last_seen"`
	Resumed    bool      `json:"resumed"`
}

// Store persists session records. Touch inserts or refreshes a record and
// reports whether it was already known; CreatedAt of a known record is kept.
type Store interface {
	Touch(ctx context.Context, rec Record) (bool, error)
	Get(ctx context.Context, id string) (Record, error)
	Remove(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

// MemoryStore keeps records in process memory. Records idle for longer than
// the TTL are forgotten and swept out by Touch at most once per TTL.
type MemoryStore struct {
	mu        sync.Mutex
	ttl       time.Duration
	now       func() time.Time
	records   map[string]Record
	lastSweep time.Time
}

// NewMemoryStore returns an empty store. A non-positive ttl keeps records
// until they are removed.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, now: time.Now, records: make(map[string]Record)}
}

func (m *MemoryStore) expired(r Record, now time.Time) bool {
	return m.ttl > 0 && now.Sub(r.LastSeen) > m.ttl
}

// purge drops expired records. Callers hold mu.
func (m *MemoryStore) purge(now time.Time) {
	for id, r := range m.records {
		if m.expired(r, now) {
			delete(m.records, id)
		}
	}
	m.lastSweep = now
}

// Touch implements Store.
func (m *MemoryStore) Touch(_ context.Context, rec Record) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if m.ttl > 0 && now.Sub(m.lastSweep) >= m.ttl {
		m.purge(now)
	}
	prev, ok := m.records[rec.ID]
	known := ok && !m.expired(prev, now)
	if known {
		rec.CreatedAt = prev.CreatedAt
	} else if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.LastSeen = now
	m.records[rec.ID] = rec
	return known, nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, id string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	if m.expired(r, m.now()) {
		delete(m.records, id)
		return Record{}, ErrNotFound
	}
	return r, nil
}

// Remove implements Store.
func (m *MemoryStore) Remove(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.records, id)
	m.mu.Unlock()
	return nil
}

// Count implements Store. Expired records are purged as a side effect.
func (m *MemoryStore) Count(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purge(m.now())
	return len(m.records), nil
}
