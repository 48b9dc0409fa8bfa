package ops

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/foliolabs/folio/errors"
	foliotest "github.com/foliolabs/folio/internal/testing"
	"github.com/foliolabs/folio/internal/util"
)

// ============================================================================
// Archivist & Bookworm Store Test Universe
// ============================================================================
//
// Characters:
//   - The Archivist: Meticulous keeper who files operation records away
//   - Bookworm: The eager reader who retrieves and amends filed records
//   - The Conservator: Appears for retention and the passage of time
//
// Theme: The Archivist files ledger entries (operations) in the stacks,
// Bookworm reads and annotates them, and The Conservator decides which
// entries have aged out of the collection.
// ============================================================================

// testOperation builds a record with explicit timestamps so ordering and
// retention tests stay deterministic
func testOperation(id string, status Status, createdAt time.Time) *Operation {
	op := &Operation{
		ID:        id,
		Kind:      "refresh_index",
		Status:    status,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	if status == StatusRunning || status.Terminal() {
		started := createdAt.Add(time.Second)
		op.StartedAt = &started
	}
	if status.Terminal() {
		completed := createdAt.Add(2 * time.Second)
		op.CompletedAt = &completed
	}
	return op
}

// TestArchivistFilesOperation tests that the Archivist can persist a record
func TestArchivistFilesOperation(t *testing.T) {
	t.Log("📜 The Archivist files a new ledger entry...")
	t.Log("   'Every operation deserves a proper record'")

	db := foliotest.CreateTestDB(t)
	store := NewStore(db)

	op, err := NewOperation("refresh_index", util.Ptr(40))
	if err != nil {
		t.Fatalf("The Archivist could not draft the entry: %v", err)
	}

	if err := store.Create(op); err != nil {
		t.Fatalf("The Archivist failed to file the entry: %v", err)
	}

	t.Logf("✓ The Archivist filed entry %s in the stacks", op.ID)
}

// TestBookwormRetrievesOperation tests round-tripping a full record
func TestBookwormRetrievesOperation(t *testing.T) {
	t.Log("🐛 Bookworm retrieves a filed entry from the stacks...")

	db := foliotest.CreateTestDB(t)
	store := NewStore(db)

	op := testOperation("refresh_index-aaaa0001", StatusCompleted, time.Now().Add(-time.Minute))
	op.TotalItems = util.Ptr(40)
	op.ProcessedItems = 38
	op.FailedItems = 2
	op.CurrentItem = "notes/omega.md"
	op.Result = json.RawMessage(`{"documents_indexed":38}`)
	if err := store.Create(op); err != nil {
		t.Fatalf("filing failed: %v", err)
	}

	loaded, err := store.Get("refresh_index-aaaa0001")
	if err != nil {
		t.Fatalf("Bookworm could not find the entry: %v", err)
	}

	if loaded.Status != StatusCompleted {
		t.Errorf("Bookworm read the wrong status: %s", loaded.Status)
	}
	if loaded.TotalItems == nil || *loaded.TotalItems != 40 {
		t.Errorf("Bookworm lost the total: %v", loaded.TotalItems)
	}
	if loaded.ProcessedItems != 38 || loaded.FailedItems != 2 {
		t.Errorf("Bookworm misread the counts: %d/%d", loaded.ProcessedItems, loaded.FailedItems)
	}
	if string(loaded.Result) != `{"documents_indexed":38}` {
		t.Errorf("Bookworm misread the result: %s", loaded.Result)
	}
	if loaded.StartedAt == nil || loaded.CompletedAt == nil {
		t.Error("Bookworm lost the timestamps")
	}

	t.Log("✓ Bookworm read back every field intact")
}

// TestBookwormMissingOperation tests the not-found path
func TestBookwormMissingOperation(t *testing.T) {
	t.Log("🐛 Bookworm searches for an entry that was never filed...")

	db := foliotest.CreateTestDB(t)
	store := NewStore(db)

	_, err := store.Get("refresh_index-deadbeef")
	if !errors.IsNotFound(err) {
		t.Fatalf("expected a not-found error, got: %v", err)
	}

	t.Log("✓ The stacks correctly report the entry missing")
}

// TestArchivistMergesUpdate tests the atomic read-modify-write cycle
func TestArchivistMergesUpdate(t *testing.T) {
	t.Log("📜 The Archivist amends an entry in place...")

	db := foliotest.CreateTestDB(t)
	store := NewStore(db)

	op := testOperation("refresh_index-bbbb0001", StatusRunning, time.Now())
	if err := store.Create(op); err != nil {
		t.Fatalf("filing failed: %v", err)
	}

	updated, err := store.MergeUpdate("refresh_index-bbbb0001", func(cur *Operation) error {
		cur.ProcessedItems = 12
		cur.CurrentItem = "notes/gamma.md"
		return nil
	})
	if err != nil {
		t.Fatalf("The Archivist failed to amend the entry: %v", err)
	}

	if updated.ProcessedItems != 12 || updated.CurrentItem != "notes/gamma.md" {
		t.Errorf("amendment not reflected: %d %q", updated.ProcessedItems, updated.CurrentItem)
	}

	// And the stacks agree
	loaded, _ := store.Get("refresh_index-bbbb0001")
	if loaded.ProcessedItems != 12 {
		t.Errorf("stacks hold stale entry: %d", loaded.ProcessedItems)
	}

	t.Log("✓ The Archivist amended the entry atomically")
}

// TestArchivistMergeErrorAborts tests that a rejected merge leaves no trace
func TestArchivistMergeErrorAborts(t *testing.T) {
	t.Log("📜 The Archivist refuses an improper amendment...")

	db := foliotest.CreateTestDB(t)
	store := NewStore(db)

	op := testOperation("refresh_index-bbbb0002", StatusRunning, time.Now())
	store.Create(op)

	sentinel := errors.New("amendment rejected")
	_, err := store.MergeUpdate("refresh_index-bbbb0002", func(cur *Operation) error {
		cur.ProcessedItems = 99
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected the rejection back, got: %v", err)
	}

	loaded, _ := store.Get("refresh_index-bbbb0002")
	if loaded.ProcessedItems != 0 {
		t.Errorf("rejected amendment leaked into the stacks: %d", loaded.ProcessedItems)
	}

	t.Log("✓ Rejected amendments leave the entry untouched")
}

// TestArchivistConcurrentMerges tests that same-id merges never interleave
func TestArchivistConcurrentMerges(t *testing.T) {
	t.Log("📜 Many archivists amend the same entry at once...")

	db := foliotest.CreateTestDB(t)
	store := NewStore(db)

	op := testOperation("refresh_index-cccc0001", StatusRunning, time.Now())
	if err := store.Create(op); err != nil {
		t.Fatalf("filing failed: %v", err)
	}

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.MergeUpdate("refresh_index-cccc0001", func(cur *Operation) error {
				cur.ProcessedItems++
				return nil
			})
			if err != nil {
				t.Errorf("concurrent amendment failed: %v", err)
			}
		}()
	}
	wg.Wait()

	loaded, err := store.Get("refresh_index-cccc0001")
	if err != nil {
		t.Fatalf("read-back failed: %v", err)
	}
	if loaded.ProcessedItems != writers {
		t.Errorf("lost amendments: expected %d, got %d", writers, loaded.ProcessedItems)
	}

	t.Logf("✓ All %d amendments landed, none lost", writers)
}

// TestBookwormListsNewestFirst tests listing order and the status filter
func TestBookwormListsNewestFirst(t *testing.T) {
	t.Log("🐛 Bookworm browses the ledger, newest entries first...")

	db := foliotest.CreateTestDB(t)
	store := NewStore(db)

	base := time.Now().Add(-time.Hour)
	entries := []*Operation{
		testOperation("refresh_index-dddd0001", StatusCompleted, base),
		testOperation("refresh_index-dddd0002", StatusPending, base.Add(time.Minute)),
		testOperation("refresh_index-dddd0003", StatusRunning, base.Add(2*time.Minute)),
		testOperation("refresh_index-dddd0004", StatusPending, base.Add(3*time.Minute)),
	}
	for _, e := range entries {
		if err := store.Create(e); err != nil {
			t.Fatalf("filing failed: %v", err)
		}
	}

	all, err := store.List(nil, 10)
	if err != nil {
		t.Fatalf("Bookworm could not browse the ledger: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(all))
	}
	if all[0].ID != "refresh_index-dddd0004" || all[3].ID != "refresh_index-dddd0001" {
		t.Errorf("ledger out of order: first %s, last %s", all[0].ID, all[3].ID)
	}

	// Status filter
	pending := StatusPending
	pendingOnly, err := store.List(&pending, 10)
	if err != nil {
		t.Fatalf("filtered browse failed: %v", err)
	}
	if len(pendingOnly) != 2 {
		t.Errorf("expected 2 pending entries, got %d", len(pendingOnly))
	}

	// Limit
	limited, err := store.List(nil, 2)
	if err != nil {
		t.Fatalf("limited browse failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limit ignored: got %d entries", len(limited))
	}

	t.Log("✓ Bookworm browsed the ledger newest-first, filtered and limited")
}

// TestConservatorRetention tests that only aged terminal entries are culled
func TestConservatorRetention(t *testing.T) {
	t.Log("⏳ The Conservator reviews the collection for aged entries...")
	t.Log("   'Only what is finished and forgotten may leave the stacks'")

	db := foliotest.CreateTestDB(t)
	store := NewStore(db)

	old := time.Now().Add(-48 * time.Hour)
	recent := time.Now().Add(-time.Hour)

	entries := []*Operation{
		testOperation("refresh_index-eeee0001", StatusCompleted, old),
		testOperation("refresh_index-eeee0002", StatusFailed, old),
		testOperation("refresh_index-eeee0003", StatusCancelled, old),
		testOperation("refresh_index-eeee0004", StatusCompleted, recent),
		// Old but not terminal: the Conservator must not touch these
		testOperation("refresh_index-eeee0005", StatusPending, old),
		testOperation("refresh_index-eeee0006", StatusRunning, old),
	}
	for _, e := range entries {
		if err := store.Create(e); err != nil {
			t.Fatalf("filing failed: %v", err)
		}
	}

	deleted, err := store.DeleteTerminalBefore(time.Now().Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("The Conservator's review failed: %v", err)
	}
	if deleted != 3 {
		t.Errorf("expected 3 culled entries, got %d", deleted)
	}

	for _, id := range []string{"refresh_index-eeee0004", "refresh_index-eeee0005", "refresh_index-eeee0006"} {
		if _, err := store.Get(id); err != nil {
			t.Errorf("The Conservator wrongly culled %s: %v", id, err)
		}
	}

	t.Logf("✓ The Conservator culled %d aged terminal entries, no more", deleted)
}

// TestArchivistCountsByStatus tests the status tally
func TestArchivistCountsByStatus(t *testing.T) {
	t.Log("📜 The Archivist tallies the ledger by status...")

	db := foliotest.CreateTestDB(t)
	store := NewStore(db)

	base := time.Now()
	for i, status := range []Status{StatusPending, StatusPending, StatusRunning, StatusCompleted, StatusFailed} {
		op := testOperation("refresh_index-ffff000"+string(rune('1'+i)), status, base)
		if err := store.Create(op); err != nil {
			t.Fatalf("filing failed: %v", err)
		}
	}

	counts, err := store.CountByStatus()
	if err != nil {
		t.Fatalf("tally failed: %v", err)
	}

	if counts[StatusPending] != 2 || counts[StatusRunning] != 1 || counts[StatusCompleted] != 1 || counts[StatusFailed] != 1 {
		t.Errorf("tally wrong: %v", counts)
	}
	if counts[StatusCancelled] != 0 {
		t.Errorf("phantom cancelled entries: %d", counts[StatusCancelled])
	}

	t.Log("✓ The Archivist's tally matches the stacks")
}
