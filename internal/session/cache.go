package session

import (
	"sync"
	"time"
)

// cacheEntry is a value with its refresh timestamp. Staleness is decided by
// the caller on every read, not stored with the entry.
type cacheEntry[T any] struct {
	value     T
	updatedAt time.Time
}

// cacheStore is a keyed cache with caller-specified max staleness. One
// instance caches the whole course collection, another the per-course score
// snapshots used for recently-graded diffing.
type cacheStore[T any] struct {
	mu      sync.Mutex
	entries map[string]cacheEntry[T]
	now     func() time.Time
}

func newCacheStore[T any]() *cacheStore[T] {
	return &cacheStore[T]{
		entries: make(map[string]cacheEntry[T]),
		now:     time.Now,
	}
}

func (s *cacheStore[T]) put(key string, value T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = cacheEntry[T]{value: value, updatedAt: s.now()}
}

// get returns the cached value when its age is below maxAge.
func (s *cacheStore[T]) get(key string, maxAge time.Duration) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		var zero T
		return zero, false
	}
	if s.now().Sub(entry.updatedAt) > maxAge {
		var zero T
		return zero, false
	}
	return entry.value, true
}

func (s *cacheStore[T]) invalidate(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}
