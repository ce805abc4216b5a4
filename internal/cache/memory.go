package cache

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process Backend. Expired entries are invisible to Get and
// removed by PruneExpired.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemory creates an empty memory backend.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get implements Backend.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok || !m.now().Before(e.expiresAt) {
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set implements Backend.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	m.entries[key] = memoryEntry{value: value, expiresAt: m.now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

// Len implements Backend. Expired but unpruned entries are counted.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// PruneExpired drops expired entries and returns how many were removed.
func (m *Memory) PruneExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	pruned := 0
	for k, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, k)
			pruned++
		}
	}
	return pruned
}

// Snapshot is a serializable copy of memory cache entries.
type Snapshot struct {
	Version   int                      `json:"version"`
	Timestamp time.Time                `json:"timestamp"`
	Entries   map[string]SnapshotEntry `json:"entries"`
}

// SnapshotEntry is one exported cache entry.
type SnapshotEntry struct {
	Value     json.RawMessage `json:"value"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// Export copies live entries whose key starts with prefix. When maxEntries is
// positive only the entries expiring last are kept.
func (m *Memory) Export(prefix string, maxEntries int) *Snapshot {
	m.mu.RLock()
	now := m.now()
	type kv struct {
		key   string
		entry memoryEntry
	}
	live := make([]kv, 0, len(m.entries))
	for k, e := range m.entries {
		if strings.HasPrefix(k, prefix) && now.Before(e.expiresAt) {
			live = append(live, kv{key: k, entry: e})
		}
	}
	m.mu.RUnlock()

	if maxEntries > 0 && len(live) > maxEntries {
		sort.Slice(live, func(i, j int) bool {
			return live[i].entry.expiresAt.After(live[j].entry.expiresAt)
		})
		live = live[:maxEntries]
	}

	snap := &Snapshot{
		Version:   1,
		Timestamp: now,
		Entries:   make(map[string]SnapshotEntry, len(live)),
	}
	for _, e := range live {
		snap.Entries[e.key] = SnapshotEntry{
			Value:     json.RawMessage(e.entry.value),
			ExpiresAt: e.entry.expiresAt,
		}
	}
	return snap
}

// Import merges a snapshot. Expired entries are skipped and an existing entry
// is only replaced by one that expires later. Returns the number imported.
func (m *Memory) Import(snap *Snapshot) int {
	if snap == nil || len(snap.Entries) == 0 {
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	imported := 0
	for k, e := range snap.Entries {
		if !now.Before(e.ExpiresAt) {
			continue
		}
		if existing, ok := m.entries[k]; ok && !e.ExpiresAt.After(existing.expiresAt) {
			continue
		}
		m.entries[k] = memoryEntry{value: []byte(e.Value), expiresAt: e.ExpiresAt}
		imported++
	}
	return imported
}
