package storage

import (
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
	"github.com/jonboulle/clockwork"
)

// Item is a point-in-time view of a stored entry. TTL is the remaining
// time to live; zero means the entry does not expire.
type Item struct {
	Value []byte
	TTL   time.Duration
}

// Store defines the interface for the node-local key-value storage.
type Store interface {
	// Get retrieves a value by key. ok is false if absent or expired.
	Get(key string) (value []byte, ok bool)
	// Set stores a value. A zero ttl means no expiration.
	Set(key string, value []byte, ttl time.Duration)
	// Delete removes a key, reporting whether a live entry was present.
	Delete(key string) bool
	// Len reports the number of live entries.
	Len() int
	// Snapshot returns a copy of all live entries with remaining TTLs.
	Snapshot() map[string]Item
}

type entry struct {
	value     []byte
	expiresAt time.Time // zero if no expiration
}

// MemoryStore is an in-memory implementation of Store, bounded by an
// LRU eviction policy. It is safe for concurrent use.
type MemoryStore struct {
	mu    sync.Mutex
	cache *lru.Cache
	// entries mirrors the cache's live keys so snapshots can iterate;
	// the eviction hook keeps the two in sync.
	entries map[string]*entry
	clock   clockwork.Clock
}

// NewMemoryStore creates a store holding at most maxEntries entries
// (0 means unbounded). A nil clk defaults to the real clock; tests
// inject a fake clock to drive TTL expiry.
func NewMemoryStore(maxEntries int, clk clockwork.Clock) *MemoryStore {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	s := &MemoryStore{
		entries: make(map[string]*entry),
		clock:   clk,
	}
	s.cache = &lru.Cache{
		MaxEntries: maxEntries,
		OnEvicted: func(key lru.Key, _ interface{}) {
			delete(s.entries, key.(string))
		},
	}
	return s
}

// Get retrieves a value by key. Expired entries are removed lazily on
// access. The returned slice is a copy.
func (s *MemoryStore) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.cache.Get(key)
	if !ok {
		return nil, false
	}
	e := v.(*entry)
	if s.expired(e) {
		s.cache.Remove(key)
		return nil, false
	}
	return append([]byte(nil), e.value...), true
}

// Set stores a copy of value under key. A zero ttl means no expiration.
func (s *MemoryStore) Set(key string, value []byte, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := &entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = s.clock.Now().Add(ttl)
	}
	s.entries[key] = e
	s.cache.Add(key, e)
}

// Delete removes a key, reporting whether a live entry was present.
func (s *MemoryStore) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return false
	}
	live := !s.expired(e)
	s.cache.Remove(key) // eviction hook clears the entries map
	return live
}

// Len reports the number of live entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, e := range s.entries {
		if !s.expired(e) {
			n++
		}
	}
	return n
}

// Snapshot returns a copy of all live entries with their remaining
// TTLs. Expired entries are excluded but not removed.
func (s *MemoryStore) Snapshot() map[string]Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	out := make(map[string]Item, len(s.entries))
	for key, e := range s.entries {
		item := Item{Value: append([]byte(nil), e.value...)}
		if !e.expiresAt.IsZero() {
			remaining := e.expiresAt.Sub(now)
			if remaining <= 0 {
				continue
			}
			item.TTL = remaining
		}
		out[key] = item
	}
	return out
}

func (s *MemoryStore) expired(e *entry) bool {
	return !e.expiresAt.IsZero() && s.clock.Now().After(e.expiresAt)
}
