package dedup

import (
	"strconv"
	"testing"
)

func TestSeenRecordsOnce(t *testing.T) {
	c, err := New(4)
	if err != nil {
		t.Fatal(err)
	}
	if c.Seen("m1") {
		t.Fatal("first delivery reported as seen")
	}
	for i := 0; i < 3; i++ {
		if !c.Seen("m1") {
			t.Fatalf("redelivery %d not detected", i)
		}
	}
	if c.Len() != 1 {
		t.Fatalf("Len = %d, want 1", c.Len())
	}
}

func TestCapacityEvictsOldestOnly(t *testing.T) {
	c, err := New(DefaultCapacity)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < DefaultCapacity; i++ {
		c.Seen("e" + strconv.Itoa(i))
	}
	if c.Len() != DefaultCapacity {
		t.Fatalf("Len = %d, want %d", c.Len(), DefaultCapacity)
	}

	// Re-checking an old id must not refresh it.
	if !c.Seen("e0") {
		t.Fatal("e0 should still be remembered")
	}

	c.Seen("e500")
	if c.Len() != DefaultCapacity {
		t.Fatalf("Len after overflow = %d, want %d", c.Len(), DefaultCapacity)
	}
	if c.Contains("e0") {
		t.Fatal("oldest id e0 was not evicted")
	}
	if !c.Contains("e1") || !c.Contains("e500") {
		t.Fatal("eviction removed more than the oldest id")
	}
	ids := c.IDs()
	if ids[0] != "e1" || ids[len(ids)-1] != "e500" {
		t.Fatalf("order = %s..%s, want e1..e500", ids[0], ids[len(ids)-1])
	}
}

func TestReset(t *testing.T) {
	c, _ := New(10)
	c.Seen("a")
	c.Reset()
	if c.Len() != 0 || c.Contains("a") {
		t.Fatal("Reset kept entries")
	}
	if c.Seen("a") {
		t.Fatal("id reported seen after Reset")
	}
}
