package ledger

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"toolwarden/crypto"
)

func newTestStore(t *testing.T) (*Store, *crypto.KeyPair) {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	return store, kp
}

func insertTestRecord(t *testing.T, store *Store, kp *crypto.KeyPair, tool string, verdict Verdict) *AuditRecord {
	t.Helper()
	ctx := context.Background()
	var inserted *AuditRecord
	id, err := store.InsertAtomic(ctx, func(prevSig string) (*AuditRecord, error) {
		rec, err := NewRecord(PendingRecord{
			ServerName: "fs-server",
			Direction:  DirectionRequest,
			Method:     "tools/call",
			ToolName:   &tool,
			Verdict:    verdict,
			PolicyHash: "abc123",
		}, prevSig, kp, time.Now)
		inserted = rec
		return rec, err
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	inserted.ID = id
	return inserted
}

// Testable Property 1 (§8): each record's prev_hash equals sha256 of the
// previous record's signature, chaining in insertion order.
func TestInsertAtomicChainsPrevHash(t *testing.T) {
	store, kp := newTestStore(t)
	first := insertTestRecord(t, store, kp, "ReadFile", VerdictAllow)
	second := insertTestRecord(t, store, kp, "DeleteFile", VerdictDeny)

	if first.PrevHash != "" {
		t.Fatalf("expected empty prev_hash for first record, got %q", first.PrevHash)
	}
	wantPrev := crypto.SHA256HexString(first.Signature)
	if second.PrevHash != wantPrev {
		t.Fatalf("expected prev_hash %q, got %q", wantPrev, second.PrevHash)
	}
}

func TestGetByIDAndCount(t *testing.T) {
	store, kp := newTestStore(t)
	rec := insertTestRecord(t, store, kp, "ReadFile", VerdictAllow)

	ctx := context.Background()
	fetched, err := store.GetByID(ctx, rec.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if fetched == nil || fetched.ToolName == nil || *fetched.ToolName != "ReadFile" {
		t.Fatalf("unexpected fetched record: %+v", fetched)
	}
	ok, err := fetched.VerifySignature()
	if err != nil || !ok {
		t.Fatalf("expected valid signature, ok=%v err=%v", ok, err)
	}

	count, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 row, got %d", count)
	}

	missing, err := store.GetByID(ctx, 99999)
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing id, got %+v", missing)
	}
}

func TestQueryFilters(t *testing.T) {
	store, kp := newTestStore(t)
	insertTestRecord(t, store, kp, "ReadFile", VerdictAllow)
	insertTestRecord(t, store, kp, "DeleteFile", VerdictDeny)
	insertTestRecord(t, store, kp, "DeleteFile", VerdictAllow)

	ctx := context.Background()
	byTool, err := store.Query(ctx, Query{Tool: "DeleteFile"})
	if err != nil {
		t.Fatalf("query by tool: %v", err)
	}
	if len(byTool) != 2 {
		t.Fatalf("expected 2 DeleteFile records, got %d", len(byTool))
	}

	byVerdict, err := store.Query(ctx, Query{Verdict: VerdictDeny})
	if err != nil {
		t.Fatalf("query by verdict: %v", err)
	}
	if len(byVerdict) != 1 {
		t.Fatalf("expected 1 denied record, got %d", len(byVerdict))
	}

	limited, err := store.Query(ctx, Query{Limit: 1})
	if err != nil {
		t.Fatalf("query with limit: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected limit to cap results at 1, got %d", len(limited))
	}
}

func TestGetAfterID(t *testing.T) {
	store, kp := newTestStore(t)
	first := insertTestRecord(t, store, kp, "ReadFile", VerdictAllow)
	insertTestRecord(t, store, kp, "ReadFile", VerdictAllow)
	insertTestRecord(t, store, kp, "ReadFile", VerdictAllow)

	rest, err := store.GetAfterID(context.Background(), first.ID, 10)
	if err != nil {
		t.Fatalf("get after id: %v", err)
	}
	if len(rest) != 2 {
		t.Fatalf("expected 2 records after first id, got %d", len(rest))
	}
}

// S6 from §8: two Store handles sharing one ledger file, each appending
// concurrently, must produce a contiguous, validly-chained ledger.
func TestConcurrentWritersProduceValidChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	storeA, err := Open(path)
	if err != nil {
		t.Fatalf("open a: %v", err)
	}
	defer storeA.Close()
	storeB, err := Open(path)
	if err != nil {
		t.Fatalf("open b: %v", err)
	}
	defer storeB.Close()

	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}

	const perWriter = 25
	var wg sync.WaitGroup
	writer := func(store *Store, label string) {
		defer wg.Done()
		for i := 0; i < perWriter; i++ {
			tool := label
			_, err := store.InsertAtomic(context.Background(), func(prevSig string) (*AuditRecord, error) {
				return NewRecord(PendingRecord{
					ServerName: "fs-server",
					Direction:  DirectionRequest,
					Method:     "tools/call",
					ToolName:   &tool,
					Verdict:    VerdictAllow,
					PolicyHash: "abc123",
				}, prevSig, kp, time.Now)
			})
			if err != nil {
				t.Errorf("%s: insert: %v", label, err)
				return
			}
		}
	}

	wg.Add(2)
	go writer(storeA, "writer-a")
	go writer(storeB, "writer-b")
	wg.Wait()

	count, err := storeA.Count(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != perWriter*2 {
		t.Fatalf("expected %d total records, got %d", perWriter*2, count)
	}

	errs, err := VerifyChain(context.Background(), storeA)
	if err != nil {
		t.Fatalf("verify chain: %v", err)
	}
	if len(errs) != 0 {
		t.Fatalf("expected a valid chain, got errors: %v", errs)
	}
}
