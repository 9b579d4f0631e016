package queue_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/uptrace/bun"

	"gate-scanner/internal/models"
	"gate-scanner/internal/queue"
	"gate-scanner/internal/store"
)

func setupTestQueue(t *testing.T) (*queue.Queue, *bun.DB) {
	bunDB, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory store: %v", err)
	}
	if err := store.Migrate(context.Background(), bunDB); err != nil {
		t.Fatalf("Failed to migrate store: %v", err)
	}
	return queue.New(bunDB, nil), bunDB
}

func TestEnqueueAndListPending(t *testing.T) {
	q, bunDB := setupTestQueue(t)
	defer bunDB.Close()
	ctx := context.Background()

	id1, err := q.Enqueue(ctx, "tck_1", "staff_a", queue.Metadata{EventID: "evt_fri", GuestName: "Ada"})
	assert.NoError(t, err)
	assert.NotEmpty(t, id1)

	id2, err := q.Enqueue(ctx, "tck_2", "staff_a", queue.Metadata{EventID: "evt_fri"})
	assert.NoError(t, err)

	pending, err := q.ListPending(ctx)
	assert.NoError(t, err)
	assert.Len(t, pending, 2)

	// FIFO: oldest first
	assert.Equal(t, id1, pending[0].QueuedScanID)
	assert.Equal(t, id2, pending[1].QueuedScanID)
	assert.Equal(t, models.ScanStatePending, pending[0].State)
	assert.Equal(t, "Ada", pending[0].GuestName)
}

func TestMarkStateAndCountByState(t *testing.T) {
	q, bunDB := setupTestQueue(t)
	defer bunDB.Close()
	ctx := context.Background()

	id1, _ := q.Enqueue(ctx, "tck_1", "", queue.Metadata{})
	id2, _ := q.Enqueue(ctx, "tck_2", "", queue.Metadata{})
	_, _ = q.Enqueue(ctx, "tck_3", "", queue.Metadata{})

	assert.NoError(t, q.MarkState(ctx, id1, models.ScanStateSucceeded, ""))
	assert.NoError(t, q.MarkState(ctx, id2, models.ScanStateFailed, "already_used_remote"))

	counts, err := q.CountByState(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, counts.Pending)
	assert.Equal(t, 1, counts.Succeeded)
	assert.Equal(t, 1, counts.Failed)
	assert.Equal(t, 0, counts.Syncing)

	pending, err := q.ListPending(ctx)
	assert.NoError(t, err)
	assert.Len(t, pending, 1)
	assert.Equal(t, "tck_3", pending[0].TicketCode)
}

func TestListPendingIncludesStuckSyncing(t *testing.T) {
	// A crash mid-drain leaves entries in syncing; they must be retried.
	q, bunDB := setupTestQueue(t)
	defer bunDB.Close()
	ctx := context.Background()

	id, _ := q.Enqueue(ctx, "tck_1", "", queue.Metadata{})
	assert.NoError(t, q.MarkState(ctx, id, models.ScanStateSyncing, ""))

	pending, err := q.ListPending(ctx)
	assert.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestIncrementAttempts(t *testing.T) {
	q, bunDB := setupTestQueue(t)
	defer bunDB.Close()
	ctx := context.Background()

	id, _ := q.Enqueue(ctx, "tck_1", "", queue.Metadata{})
	assert.NoError(t, q.MarkState(ctx, id, models.ScanStateSyncing, ""))
	assert.NoError(t, q.IncrementAttempts(ctx, id))

	pending, err := q.ListPending(ctx)
	assert.NoError(t, err)
	assert.Len(t, pending, 1)
	assert.Equal(t, models.ScanStatePending, pending[0].State)
	assert.Equal(t, 1, pending[0].AttemptCount)
}

func TestPruneKeepsPendingEntries(t *testing.T) {
	q, bunDB := setupTestQueue(t)
	defer bunDB.Close()
	ctx := context.Background()

	oldID, _ := q.Enqueue(ctx, "tck_old", "", queue.Metadata{})
	pendingID, _ := q.Enqueue(ctx, "tck_pending", "", queue.Metadata{})

	// Age both entries past the retention window.
	past := time.Now().Add(-72 * time.Hour)
	_, err := bunDB.NewUpdate().
		Model((*models.QueuedScan)(nil)).
		Set("enqueued_at = ?", past).
		Where("queued_scan_id IN (?)", bun.In([]string{oldID, pendingID})).
		Exec(ctx)
	assert.NoError(t, err)
	assert.NoError(t, q.MarkState(ctx, oldID, models.ScanStateSucceeded, ""))

	removed, err := q.Prune(ctx, 48*time.Hour)
	assert.NoError(t, err)
	assert.Equal(t, 1, removed)

	// The aged pending entry survives pruning.
	pending, err := q.ListPending(ctx)
	assert.NoError(t, err)
	assert.Len(t, pending, 1)
	assert.Equal(t, pendingID, pending[0].QueuedScanID)
}

func TestEnqueueSurvivesReopen(t *testing.T) {
	// The queue is the offline write-ahead log: a scan enqueued before a
	// crash must still be pending after restart.
	path := filepath.Join(t.TempDir(), "scanner.db")
	ctx := context.Background()

	bunDB, err := store.Open(path)
	assert.NoError(t, err)
	assert.NoError(t, store.Migrate(ctx, bunDB))

	q := queue.New(bunDB, nil)
	id, err := q.Enqueue(ctx, "tck_1", "staff_a", queue.Metadata{EventID: "evt_fri", TicketType: "VIP"})
	assert.NoError(t, err)
	assert.NoError(t, bunDB.Close())

	reopened, err := store.Open(path)
	assert.NoError(t, err)
	defer reopened.Close()
	assert.NoError(t, store.Migrate(ctx, reopened))

	pending, err := queue.New(reopened, nil).ListPending(ctx)
	assert.NoError(t, err)
	assert.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].QueuedScanID)
	assert.Equal(t, "tck_1", pending[0].TicketCode)
	assert.Equal(t, "staff_a", pending[0].ScannedBy)
	assert.Equal(t, "VIP", pending[0].TicketType)
	assert.Equal(t, models.ScanStatePending, pending[0].State)
}
