package cache

import (
	"context"
	"sync"
	"time"

	"github.com/ReneKroon/ttlcache"

	"github.com/fatflowers/cashier-receipts/internal/models"
)

// memoryEntry is either a cached entitlement or, after an eviction, a marker
// that refuses fills older than floor.
type memoryEntry struct {
	state *models.EntitlementState
	floor int64
}

// MemoryBackend is a Backend local to one process.
type MemoryBackend struct {
	// mu makes the revision check and the write in Set one step
	mu     sync.Mutex
	cache  *ttlcache.Cache
	closed bool
}

// NewMemoryBackend keeps entries in process for ttl. Reads do not extend an
// entry's life.
func NewMemoryBackend(ttl time.Duration) *MemoryBackend {
	cache := ttlcache.NewCache()
	cache.SetTTL(ttl)
	cache.SkipTtlExtensionOnHit(true)
	return &MemoryBackend{cache: cache}
}

func (m *MemoryBackend) lookup(key string) (memoryEntry, bool) {
	cached, ok := m.cache.Get(key)
	if !ok {
		return memoryEntry{}, false
	}
	return cached.(memoryEntry), true
}

func (m *MemoryBackend) Get(_ context.Context, key string) (*models.EntitlementState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false
	}
	entry, ok := m.lookup(key)
	if !ok || entry.state == nil {
		return nil, false
	}
	return entry.state.Clone(), true
}

func (m *MemoryBackend) Set(_ context.Context, key string, e *models.EntitlementState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	cur, ok := m.lookup(key)
	if ok && !fillAllowed(cur.state, cur.floor, e.Revision) {
		return
	}
	m.cache.Set(key, memoryEntry{state: e.Clone(), floor: cur.floor})
}

func (m *MemoryBackend) Evict(_ context.Context, key string, revision int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	cur, _ := m.lookup(key)
	m.cache.Set(key, memoryEntry{floor: max(cur.floor, revision)})
}

// Close stops the expiry goroutine. The backend is a no-op afterwards.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		m.cache.Close()
	}
	return nil
}

// fillAllowed reports whether a read at revision may replace the current
// entry: it must not be older than the cached version or the eviction floor.
func fillAllowed(cur *models.EntitlementState, floor, revision int64) bool {
	if revision < floor {
		return false
	}
	return cur == nil || revision >= cur.Revision
}
