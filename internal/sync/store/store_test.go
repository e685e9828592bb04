package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/kedarsarang7-eng/ledgersync/internal/sync/op"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	st, err := Open(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	if err := st.InitSchema(context.Background()); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}
	return st
}

func testRecord(t *testing.T, docID string) *op.Record {
	t.Helper()

	rec, err := op.New("biz-1", "customers", docID, op.TypeCreate, map[string]any{
		"name":    "Asha Traders",
		"version": int64(1),
	})
	if err != nil {
		t.Fatalf("failed to build record: %v", err)
	}
	return rec
}

func mustEnqueue(t *testing.T, st *Store, rec *op.Record) {
	t.Helper()
	if err := st.Enqueue(context.Background(), rec); err != nil {
		t.Fatalf("failed to enqueue %s: %v", rec.ID, err)
	}
}

func claimOne(t *testing.T, st *Store) *op.Record {
	t.Helper()
	recs, err := st.ClaimBatch(context.Background(), 1, nil)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 claimed record, got %d", len(recs))
	}
	return recs[0]
}

func TestEnqueueAndGet(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	rec := testRecord(t, "cust-1")
	mustEnqueue(t, st, rec)

	got, err := st.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != op.StatusPending {
		t.Errorf("expected status pending, got %s", got.Status)
	}
	if got.Collection != "customers" || got.DocumentID != "cust-1" {
		t.Errorf("unexpected identity: %s/%s", got.Collection, got.DocumentID)
	}
	if got.Payload["name"] != "Asha Traders" {
		t.Errorf("payload not round-tripped: %v", got.Payload)
	}
	if got.PayloadHash != rec.PayloadHash {
		t.Errorf("payload hash changed: %s vs %s", got.PayloadHash, rec.PayloadHash)
	}
}

func TestGetNotFound(t *testing.T) {
	st := setupTestStore(t)

	_, err := st.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestClaimMarksInProgress(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	rec := testRecord(t, "cust-1")
	mustEnqueue(t, st, rec)

	claimed := claimOne(t, st)
	if claimed.ID != rec.ID {
		t.Fatalf("claimed wrong record: %s", claimed.ID)
	}
	if claimed.Status != op.StatusInProgress {
		t.Errorf("expected in_progress, got %s", claimed.Status)
	}

	// A second claim must find nothing.
	recs, err := st.ClaimBatch(ctx, 10, nil)
	if err != nil {
		t.Fatalf("second claim failed: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("record claimed twice: %d records", len(recs))
	}
}

func TestClaimOrderByPriorityThenAge(t *testing.T) {
	st := setupTestStore(t)

	low := testRecord(t, "cust-low")
	low.Priority = 3
	low.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)

	high := testRecord(t, "cust-high")
	high.Priority = 1
	high.CreatedAt = time.Now().UTC().Add(-time.Minute)

	mustEnqueue(t, st, low)
	mustEnqueue(t, st, high)

	recs, err := st.ClaimBatch(context.Background(), 2, nil)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].ID != high.ID {
		t.Errorf("expected high priority first, got %s", recs[0].DocumentID)
	}
}

func TestClaimSkipsFutureRetry(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	rec := testRecord(t, "cust-1")
	mustEnqueue(t, st, rec)

	claimed := claimOne(t, st)
	future := time.Now().UTC().Add(time.Hour)
	if err := st.MarkRetry(ctx, claimed.ID, "connection refused", "network", future); err != nil {
		t.Fatalf("mark retry failed: %v", err)
	}

	recs, err := st.ClaimBatch(ctx, 10, nil)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("claimed a record whose retry is scheduled in the future")
	}
}

func TestClaimHonorsElapsedRetry(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	rec := testRecord(t, "cust-1")
	mustEnqueue(t, st, rec)

	claimed := claimOne(t, st)
	past := time.Now().UTC().Add(-time.Second)
	if err := st.MarkRetry(ctx, claimed.ID, "connection refused", "network", past); err != nil {
		t.Fatalf("mark retry failed: %v", err)
	}

	reclaimed := claimOne(t, st)
	if reclaimed.ID != rec.ID {
		t.Fatalf("expected record reclaimed after backoff")
	}
	if reclaimed.RetryCount != 1 {
		t.Errorf("expected retry count 1, got %d", reclaimed.RetryCount)
	}
	if reclaimed.LastError != "connection refused" {
		t.Errorf("last error not preserved: %q", reclaimed.LastError)
	}
}

func TestClaimGatesDependencySteps(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	step1, err := op.New("biz-1", "bills", "bill-1", op.TypeCreate, map[string]any{
		"total_amount": 100.0, "paid_amount": 0.0, "status": "open", "version": int64(1),
	})
	if err != nil {
		t.Fatal(err)
	}
	step1.DependencyGroup = "bill-1-chain"
	step1.StepNumber = 1
	step1.TotalSteps = 2

	step2, err := op.New("biz-1", "bill_items", "item-1", op.TypeCreate, map[string]any{
		"bill_id": "bill-1", "quantity": 2.0, "version": int64(1),
	})
	if err != nil {
		t.Fatal(err)
	}
	step2.DependencyGroup = "bill-1-chain"
	step2.StepNumber = 2
	step2.TotalSteps = 2

	mustEnqueue(t, st, step1)
	mustEnqueue(t, st, step2)

	// Only step 1 is claimable while step 2's predecessor is unsynced.
	recs, err := st.ClaimBatch(ctx, 10, nil)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != step1.ID {
		t.Fatalf("expected only step 1 claimable, got %d records", len(recs))
	}

	if err := st.MarkSynced(ctx, step1.ID, time.Now()); err != nil {
		t.Fatalf("mark synced failed: %v", err)
	}

	recs, err = st.ClaimBatch(ctx, 10, nil)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != step2.ID {
		t.Fatalf("expected step 2 claimable after step 1 synced")
	}
}

func TestClaimExcludesPausedDocuments(t *testing.T) {
	st := setupTestStore(t)

	paused := testRecord(t, "cust-paused")
	free := testRecord(t, "cust-free")
	mustEnqueue(t, st, paused)
	mustEnqueue(t, st, free)

	recs, err := st.ClaimBatch(context.Background(), 10, []string{"cust-paused"})
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if len(recs) != 1 || recs[0].DocumentID != "cust-free" {
		t.Fatalf("paused document was claimed")
	}
}

func TestMarkSyncedRequiresInProgress(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	rec := testRecord(t, "cust-1")
	mustEnqueue(t, st, rec)

	err := st.MarkSynced(ctx, rec.ID, time.Now())
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition for pending->synced, got %v", err)
	}

	claimOne(t, st)
	if err := st.MarkSynced(ctx, rec.ID, time.Now()); err != nil {
		t.Fatalf("mark synced failed: %v", err)
	}

	got, err := st.Get(ctx, rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != op.StatusSynced {
		t.Errorf("expected synced, got %s", got.Status)
	}
	if got.SyncedAt == nil {
		t.Error("synced_at not stamped")
	}
}

func TestDeadLetterAndRequeue(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	rec := testRecord(t, "cust-1")
	mustEnqueue(t, st, rec)
	claimOne(t, st)

	if err := st.MarkDeadLetter(ctx, rec.ID, "retry budget exhausted", "network"); err != nil {
		t.Fatalf("mark dead letter failed: %v", err)
	}

	// Quarantined records are never claimed.
	recs, err := st.ClaimBatch(ctx, 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 0 {
		t.Fatal("dead-letter record was claimed")
	}

	letters, err := st.ListDeadLetter(ctx, "biz-1")
	if err != nil {
		t.Fatalf("list dead letter failed: %v", err)
	}
	if len(letters) != 1 || letters[0].ID != rec.ID {
		t.Fatalf("expected 1 dead letter, got %d", len(letters))
	}

	n, err := st.RequeueDeadLetter(ctx, rec.ID)
	if err != nil {
		t.Fatalf("requeue failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 requeued, got %d", n)
	}

	got, err := st.Get(ctx, rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != op.StatusPending {
		t.Errorf("expected pending after requeue, got %s", got.Status)
	}
	if got.RetryCount != 0 {
		t.Errorf("retry count not reset: %d", got.RetryCount)
	}
}

func TestRescueRetryableSkipsValidation(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	netRec := testRecord(t, "cust-net")
	valRec := testRecord(t, "cust-val")
	mustEnqueue(t, st, netRec)
	mustEnqueue(t, st, valRec)

	recs, err := st.ClaimBatch(ctx, 2, nil)
	if err != nil || len(recs) != 2 {
		t.Fatalf("claim failed: %v (%d records)", err, len(recs))
	}
	if err := st.MarkDeadLetter(ctx, netRec.ID, "timeout", "network"); err != nil {
		t.Fatal(err)
	}
	if err := st.MarkDeadLetter(ctx, valRec.ID, "missing required field", "validation"); err != nil {
		t.Fatal(err)
	}

	n, err := st.RescueRetryable(ctx)
	if err != nil {
		t.Fatalf("rescue failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 rescued, got %d", n)
	}

	got, _ := st.Get(ctx, valRec.ID)
	if got.Status != op.StatusDeadLetter {
		t.Errorf("validation failure should stay quarantined, got %s", got.Status)
	}
}

func TestListConflictedAndRequeueFailed(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	rec := testRecord(t, "cust-1")
	mustEnqueue(t, st, rec)
	claimOne(t, st)
	if err := st.MarkFailed(ctx, rec.ID, "version conflict: local v3 vs remote v4", "conflict"); err != nil {
		t.Fatal(err)
	}

	// An auth-parked record must not show up as conflicted.
	other := testRecord(t, "cust-2")
	mustEnqueue(t, st, other)
	claimOne(t, st)
	if err := st.MarkFailed(ctx, other.ID, "token expired", "auth"); err != nil {
		t.Fatal(err)
	}

	parked, err := st.ListConflicted(ctx, "biz-1")
	if err != nil {
		t.Fatalf("list conflicted failed: %v", err)
	}
	if len(parked) != 1 || parked[0].ID != rec.ID {
		t.Fatalf("expected only the conflicted record, got %d", len(parked))
	}

	if err := st.RequeueFailed(ctx, rec.ID); err != nil {
		t.Fatalf("requeue failed: %v", err)
	}
	got, _ := st.Get(ctx, rec.ID)
	if got.Status != op.StatusPending {
		t.Errorf("expected pending after requeue, got %s", got.Status)
	}
	if got.LastError != "" {
		t.Errorf("error not cleared on requeue: %q", got.LastError)
	}
}

func TestMarkFailedThenDeadLetter(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	rec := testRecord(t, "cust-1")
	mustEnqueue(t, st, rec)
	claimOne(t, st)

	if err := st.MarkFailed(ctx, rec.ID, "token rejected", "auth"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	got, _ := st.Get(ctx, rec.ID)
	if got.Status != op.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}

	// Failed records are excluded from dispatch.
	recs, err := st.ClaimBatch(ctx, 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 0 {
		t.Fatal("failed record was claimed")
	}

	if err := st.MarkDeadLetter(ctx, rec.ID, "superseded", "conflict"); err != nil {
		t.Fatalf("failed->dead_letter transition rejected: %v", err)
	}
}

func TestReclaimInProgress(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	rec := testRecord(t, "cust-1")
	mustEnqueue(t, st, rec)
	claimOne(t, st)

	n, err := st.ReclaimInProgress(ctx)
	if err != nil {
		t.Fatalf("reclaim failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 reclaimed, got %d", n)
	}

	got, _ := st.Get(ctx, rec.ID)
	if got.Status != op.StatusPending {
		t.Errorf("expected pending after reclaim, got %s", got.Status)
	}
}

func TestPendingForDocument(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	rec := testRecord(t, "cust-1")
	mustEnqueue(t, st, rec)

	n, err := st.PendingForDocument(ctx, "biz-1", "customers", "cust-1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 pending, got %d", n)
	}

	claimOne(t, st)
	if err := st.MarkSynced(ctx, rec.ID, time.Now()); err != nil {
		t.Fatal(err)
	}

	n, err = st.PendingForDocument(ctx, "biz-1", "customers", "cust-1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("expected 0 pending after sync, got %d", n)
	}
}

func TestStats(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	a := testRecord(t, "cust-a")
	b := testRecord(t, "cust-b")
	mustEnqueue(t, st, a)
	mustEnqueue(t, st, b)

	recs, err := st.ClaimBatch(ctx, 1, nil)
	if err != nil || len(recs) != 1 {
		t.Fatalf("claim failed: %v", err)
	}
	if err := st.MarkSynced(ctx, recs[0].ID, time.Now()); err != nil {
		t.Fatal(err)
	}

	stats, err := st.Stats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Pending != 1 {
		t.Errorf("expected 1 pending, got %d", stats.Pending)
	}
	if stats.SyncedToday != 1 {
		t.Errorf("expected 1 synced today, got %d", stats.SyncedToday)
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	got, err := st.Checkpoint(ctx, "biz-1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsZero() {
		t.Errorf("expected zero checkpoint before first pull, got %v", got)
	}

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := st.SetCheckpoint(ctx, "biz-1", ts); err != nil {
		t.Fatal(err)
	}

	got, err = st.Checkpoint(ctx, "biz-1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(ts) {
		t.Errorf("checkpoint round trip: want %v, got %v", ts, got)
	}

	// Advancing overwrites.
	ts2 := ts.Add(time.Hour)
	if err := st.SetCheckpoint(ctx, "biz-1", ts2); err != nil {
		t.Fatal(err)
	}
	got, _ = st.Checkpoint(ctx, "biz-1")
	if !got.Equal(ts2) {
		t.Errorf("checkpoint not advanced: %v", got)
	}
}
