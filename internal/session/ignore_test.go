package session

import (
	"testing"

	"coursewatch/internal/domain"
	"coursewatch/internal/event"
)

func TestIgnoreParityAndIdempotence(t *testing.T) {
	t.Parallel()

	c := newTestClient(&fakeGateway{})
	defer c.Close()

	persisted := 0
	c.Hub().OnPersist(func(domain.Snapshot) { persisted++ })

	if c.Ignored("course", "c1") {
		t.Fatal("nothing ignored yet")
	}
	if !c.Ignore("course", "c1") {
		t.Fatal("first ignore should report newly added")
	}
	if c.Ignore("course", "c1") {
		t.Fatal("second consecutive ignore is a no-op")
	}
	if !c.Ignored("course", "c1") {
		t.Fatal("membership should hold after odd ignore count")
	}
	if !c.Unignore("course", "c1") {
		t.Fatal("first unignore should report removed")
	}
	if c.Unignore("course", "c1") {
		t.Fatal("second consecutive unignore is a no-op")
	}
	if c.Ignored("course", "c1") {
		t.Fatal("membership should clear after even parity")
	}

	// Only the two effective mutations persisted.
	if persisted != 2 {
		t.Fatalf("expected 2 persist signals, got %d", persisted)
	}
}

func TestUnignorePrunesEmptyCategory(t *testing.T) {
	t.Parallel()

	c := NewClient("k", &fakeGateway{}, event.NewHub(nil), nil, testOptions())
	defer c.Close()

	c.Ignore("course", "c1")
	c.Unignore("course", "c1")

	c.mu.Lock()
	_, present := c.ignored["course"]
	c.mu.Unlock()
	if present {
		t.Fatal("empty category should be pruned")
	}
}

func TestSnapshotCarriesIgnoreMap(t *testing.T) {
	t.Parallel()

	c := newTestClient(&fakeGateway{})
	defer c.Close()

	var snap domain.Snapshot
	c.Hub().OnPersist(func(s domain.Snapshot) { snap = s })

	c.Ignore("course", "b")
	c.Ignore("course", "a")

	ids := snap.Ignored["course"]
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("snapshot should carry sorted members, got %v", ids)
	}
}
