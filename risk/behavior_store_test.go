package risk

import (
	"path/filepath"
	"testing"
)

func TestBehaviorStorePruning(t *testing.T) {
	store, err := OpenBehaviorStore(filepath.Join(t.TempDir(), "behavior.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	if err := store.Record("s1", 1000); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := store.Record("s1", 2000); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := store.Record("s1", 5000); err != nil {
		t.Fatalf("record: %v", err)
	}

	count, err := store.Count("s1", 2500)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 remaining event after pruning, got %d", count)
	}

	count2, err := store.Count("s1", 0)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count2 != 1 {
		t.Fatalf("pruned events must stay pruned, got %d", count2)
	}
}

func TestBehaviorStoreIsolatesSubjects(t *testing.T) {
	store, err := OpenBehaviorStore(filepath.Join(t.TempDir(), "behavior.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	store.Record("a", 100)
	store.Record("b", 100)
	store.Record("b", 200)

	countA, _ := store.Count("a", 0)
	countB, _ := store.Count("b", 0)
	if countA != 1 || countB != 2 {
		t.Fatalf("expected isolated counts, got a=%d b=%d", countA, countB)
	}
}
