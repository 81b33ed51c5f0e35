package session

import (
	"testing"
	"time"
)

func TestCacheStoreStaleness(t *testing.T) {
	t.Parallel()

	now := time.Now()
	store := newCacheStore[int]()
	store.now = func() time.Time { return now }

	store.put("k", 42)

	if v, ok := store.get("k", time.Minute); !ok || v != 42 {
		t.Fatalf("fresh entry should hit: %v %v", v, ok)
	}

	now = now.Add(2 * time.Minute)
	if _, ok := store.get("k", time.Minute); ok {
		t.Fatal("entry past max age should miss")
	}
	if v, ok := store.get("k", time.Hour); !ok || v != 42 {
		t.Fatal("the same entry under a wider max age should still hit")
	}
}

func TestCacheStoreInvalidate(t *testing.T) {
	t.Parallel()

	store := newCacheStore[string]()
	store.put("k", "v")
	store.invalidate("k")

	if _, ok := store.get("k", time.Hour); ok {
		t.Fatal("invalidated entry should miss")
	}
}

func TestCacheStoreMissingKey(t *testing.T) {
	t.Parallel()

	store := newCacheStore[[]string]()
	if _, ok := store.get("absent", time.Hour); ok {
		t.Fatal("absent key should miss")
	}
}
