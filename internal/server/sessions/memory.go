package sessions

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStore keeps ledgers in process memory. Updates of one session are
// serialized by a per-session lock; different sessions do not contend.
//
// With a positive TTL a ledger not updated for that long reads as empty and
// is dropped by PurgeExpired, the way RedisStore keys expire.
type MemoryStore struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	data  map[string]memoryEntry
	locks map[string]*sessionLock
}

type memoryEntry struct {
	paths   []string
	updated time.Time
}

type sessionLock struct {
	sync.Mutex
	refs int
}

// NewMemoryStore returns an empty store. A ttl <= 0 keeps ledgers until they
// are cleared.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:   ttl,
		now:   time.Now,
		data:  map[string]memoryEntry{},
		locks: map[string]*sessionLock{},
	}
}

func (m *MemoryStore) lock(sid string) func() {
	m.mu.Lock()
	l, ok := m.locks[sid]
	if !ok {
		l = &sessionLock{}
		m.locks[sid] = l
	}
	l.refs++
	m.mu.Unlock()

	l.Lock()

	return func() {
		l.Unlock()

		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, sid)
		}
		m.mu.Unlock()
	}
}

// live returns the unexpired paths of sid. m.mu must be held.
func (m *MemoryStore) live(sid string) []string {
	e, ok := m.data[sid]
	if !ok || m.expired(e, m.now()) {
		return nil
	}
	return slices.Clone(e.paths)
}

func (m *MemoryStore) expired(e memoryEntry, now time.Time) bool {
	return m.ttl > 0 && now.Sub(e.updated) >= m.ttl
}

func (m *MemoryStore) Load(ctx context.Context, sid string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live(sid), nil
}

func (m *MemoryStore) Update(ctx context.Context, sid string, fn func([]string) ([]string, error)) error {
	unlock := m.lock(sid)
	defer unlock()

	m.mu.Lock()
	cur := m.live(sid)
	m.mu.Unlock()

	next, err := fn(cur)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(next) == 0 {
		delete(m.data, sid)
		return nil
	}
	m.data[sid] = memoryEntry{paths: slices.Clone(next), updated: m.now()}
	return nil
}

// PurgeExpired drops the ledgers whose TTL has passed and returns how many.
func (m *MemoryStore) PurgeExpired(ctx context.Context) (int, error) {
	if m.ttl <= 0 {
		return 0, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	n := 0
	for sid, e := range m.data {
		if m.expired(e, now) {
			delete(m.data, sid)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
