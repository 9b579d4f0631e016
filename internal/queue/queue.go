package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"gate-scanner/internal/logger"
	"gate-scanner/internal/models"
)

// Queue is the offline system's write-ahead log: every scan admitted without
// remote confirmation lands here durably before the operator sees success.
type Queue struct {
	Bun    *bun.DB
	Logger *logger.Logger
}

func New(db *bun.DB, log *logger.Logger) *Queue {
	return &Queue{Bun: db, Logger: log}
}

// Metadata is the best-effort context captured from the cache at enqueue
// time, so a queued scan is still readable after the snapshot changes.
type Metadata struct {
	EventID    string
	TicketType string
	GuestName  string
}

// Enqueue appends a pending scan and returns its id. The row is committed
// before return; an error here means the scan may not be recorded and must
// be surfaced to the operator as urgent, not as a routine rejection.
func (q *Queue) Enqueue(ctx context.Context, rawCode, staffID string, meta Metadata) (string, error) {
	scan := &models.QueuedScan{
		QueuedScanID: uuid.New().String(),
		TicketCode:   rawCode,
		ScannedBy:    staffID,
		EventID:      meta.EventID,
		TicketType:   meta.TicketType,
		GuestName:    meta.GuestName,
		EnqueuedAt:   time.Now(),
		State:        models.ScanStatePending,
	}

	if _, err := q.Bun.NewInsert().Model(scan).Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to enqueue scan: %w", err)
	}

	if q.Logger != nil {
		q.Logger.LogQueue("enqueue", scan.QueuedScanID, fmt.Sprintf("code %s pending", rawCode))
	}
	return scan.QueuedScanID, nil
}

// ListPending returns pending scans oldest first. Entries stuck in syncing
// (a crash mid-drain) are included so they are retried rather than lost;
// idempotency keys make the retry safe.
func (q *Queue) ListPending(ctx context.Context) ([]models.QueuedScan, error) {
	var scans []models.QueuedScan
	err := q.Bun.NewSelect().
		Model(&scans).
		Where("state IN (?)", bun.In([]string{models.ScanStatePending, models.ScanStateSyncing})).
		Order("enqueued_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending scans: %w", err)
	}
	return scans, nil
}

// MarkState transitions one queued scan.
func (q *Queue) MarkState(ctx context.Context, queuedScanID, state, detail string) error {
	_, err := q.Bun.NewUpdate().
		Model((*models.QueuedScan)(nil)).
		Set("state = ?", state).
		Set("detail = ?", detail).
		Where("queued_scan_id = ?", queuedScanID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to mark scan %s as %s: %w", queuedScanID, state, err)
	}
	return nil
}

// IncrementAttempts bumps attempt_count after a transient failure and drops
// the entry back to pending for the next run.
func (q *Queue) IncrementAttempts(ctx context.Context, queuedScanID string) error {
	_, err := q.Bun.NewUpdate().
		Model((*models.QueuedScan)(nil)).
		Set("attempt_count = attempt_count + 1").
		Set("state = ?", models.ScanStatePending).
		Where("queued_scan_id = ?", queuedScanID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to increment attempts for %s: %w", queuedScanID, err)
	}
	return nil
}

// CountByState feeds the UI's pending badge.
func (q *Queue) CountByState(ctx context.Context) (models.QueueCounts, error) {
	var rows []struct {
		State string `bun:"state"`
		Count int    `bun:"count"`
	}
	err := q.Bun.NewSelect().
		Model((*models.QueuedScan)(nil)).
		ColumnExpr("state, count(*) AS count").
		Group("state").
		Scan(ctx, &rows)
	if err != nil {
		return models.QueueCounts{}, fmt.Errorf("failed to count scans: %w", err)
	}

	var counts models.QueueCounts
	for _, row := range rows {
		switch row.State {
		case models.ScanStatePending:
			counts.Pending = row.Count
		case models.ScanStateSyncing:
			counts.Syncing = row.Count
		case models.ScanStateSucceeded:
			counts.Succeeded = row.Count
		case models.ScanStateFailed:
			counts.Failed = row.Count
		}
	}
	return counts, nil
}

// Prune removes terminal entries older than retention. Pending and syncing
// entries are never pruned regardless of age.
func (q *Queue) Prune(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := time.Now().Add(-retention)
	res, err := q.Bun.NewDelete().
		Model((*models.QueuedScan)(nil)).
		Where("state IN (?)", bun.In([]string{models.ScanStateSucceeded, models.ScanStateFailed})).
		Where("enqueued_at < ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to prune scan queue: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows > 0 && q.Logger != nil {
		q.Logger.LogQueue("prune", "", fmt.Sprintf("removed %d terminal entries", rows))
	}
	return int(rows), nil
}
