package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is an in-process TTL cache. It is the default when Redis is not
// configured and is only coherent within a single replica.
type Memory struct {
	mu   sync.RWMutex
	orgs map[string]map[string]memoryEntry
	now  func() time.Time
}

// NewMemory creates an empty in-memory cache
func NewMemory() *Memory {
	return &Memory{
		orgs: make(map[string]map[string]memoryEntry),
		now:  time.Now,
	}
}

// Get returns a live entry
func (m *Memory) Get(_ context.Context, orgID, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.orgs[orgID][key]
	if !ok || !m.now().Before(e.expiresAt) {
		return nil, false, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

// Set stores value until ttl elapses
func (m *Memory) Set(_ context.Context, orgID, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, ok := m.orgs[orgID]
	if !ok {
		entries = make(map[string]memoryEntry)
		m.orgs[orgID] = entries
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	entries[key] = memoryEntry{value: stored, expiresAt: m.now().Add(ttl)}
	return nil
}

// InvalidateOrg drops every entry for orgID
func (m *Memory) InvalidateOrg(_ context.Context, orgID string) error {
	m.mu.Lock()
	delete(m.orgs, orgID)
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, expired ones included
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, entries := range m.orgs {
		n += len(entries)
	}
	return n
}
