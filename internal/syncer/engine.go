package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gate-scanner/internal/backend"
	"gate-scanner/internal/cache"
	"gate-scanner/internal/logger"
	"gate-scanner/internal/models"
	"gate-scanner/internal/queue"
)

// ErrSyncRunning is returned when a drain is already in progress; the caller
// just waits for the running one instead of stacking drains.
var ErrSyncRunning = errors.New("sync already in progress")

// Admitter is the slice of the backend client the engine needs.
type Admitter interface {
	AdmitTicket(ctx context.Context, admit backend.AdmitRequest) (*backend.AdmitResult, error)
}

// Engine drains the offline scan queue against the backend's idempotent
// admission endpoint. Conflicts resolve remote-wins: if another gate
// admitted the ticket first, the local entry fails with
// already_used_remote and the cache takes the backend's scanned_at.
type Engine struct {
	Queue   *queue.Queue
	Cache   *cache.Cache
	Backend Admitter
	Gate    string
	// Online reports current connectivity; when set, the drain loop checks
	// it before each entry and aborts the rest of the run on disconnect.
	Online func() bool
	Logger *logger.Logger

	mu sync.Mutex
}

func New(q *queue.Queue, c *cache.Cache, admitter Admitter, gate string, online func() bool, log *logger.Logger) *Engine {
	return &Engine{Queue: q, Cache: c, Backend: admitter, Gate: gate, Online: online, Logger: log}
}

// Sync replays queued scans in enqueue order. Entries that fail transiently
// stay pending with attempt_count bumped; the run stops there rather than
// burning through the queue against a dead connection. Re-running a fully
// drained queue is a no-op: there is nothing pending to submit.
func (e *Engine) Sync(ctx context.Context) (models.SyncSummary, error) {
	if !e.mu.TryLock() {
		return models.SyncSummary{}, ErrSyncRunning
	}
	defer e.mu.Unlock()

	pending, err := e.Queue.ListPending(ctx)
	if err != nil {
		return models.SyncSummary{}, fmt.Errorf("failed to snapshot queue: %w", err)
	}

	summary := models.SyncSummary{Total: len(pending)}
	if len(pending) == 0 {
		return summary, nil
	}

	if e.Logger != nil {
		e.Logger.LogSync("start", fmt.Sprintf("draining %d queued scans", len(pending)))
	}

	for _, scan := range pending {
		if ctx.Err() != nil {
			break
		}
		if e.Online != nil && !e.Online() {
			if e.Logger != nil {
				e.Logger.LogSync("abort", "connection lost, leaving remaining entries pending")
			}
			break
		}

		if err := e.Queue.MarkState(ctx, scan.QueuedScanID, models.ScanStateSyncing, ""); err != nil {
			return summary, err
		}

		result, err := e.Backend.AdmitTicket(ctx, backend.AdmitRequest{
			Code:           scan.TicketCode,
			IdempotencyKey: scan.QueuedScanID,
			StaffID:        scan.ScannedBy,
			Gate:           e.Gate,
		})
		if err != nil {
			if backend.IsTransient(err) {
				if e.Logger != nil {
					e.Logger.LogSync("abort", fmt.Sprintf("transient failure on %s: %v", scan.QueuedScanID, err))
				}
				if markErr := e.Queue.IncrementAttempts(ctx, scan.QueuedScanID); markErr != nil {
					return summary, markErr
				}
				break
			}
			summary.Failed++
			if markErr := e.Queue.MarkState(ctx, scan.QueuedScanID, models.ScanStateFailed, err.Error()); markErr != nil {
				return summary, markErr
			}
			continue
		}

		if err := e.apply(ctx, scan, result, &summary); err != nil {
			return summary, err
		}
	}

	if e.Logger != nil {
		e.Logger.LogSync("done", fmt.Sprintf("total=%d success=%d failed=%d", summary.Total, summary.Success, summary.Failed))
	}
	return summary, nil
}

func (e *Engine) apply(ctx context.Context, scan models.QueuedScan, result *backend.AdmitResult, summary *models.SyncSummary) error {
	if result.Admitted {
		summary.Success++
		if err := e.Queue.MarkState(ctx, scan.QueuedScanID, models.ScanStateSucceeded, ""); err != nil {
			return err
		}
		if result.Ticket != nil && result.Ticket.ScannedAt != nil {
			if err := e.Cache.SetScannedAt(ctx, result.Ticket.TicketID, *result.Ticket.ScannedAt); err != nil {
				return err
			}
		}
		return nil
	}

	summary.Failed++
	detail := result.Reason
	if detail == "already_used" {
		// Another device won the admission while this one was offline.
		detail = "already_used_remote"
		if result.PreviousScan != nil {
			detail = fmt.Sprintf("already_used_remote: admitted at %s", result.PreviousScan.Time.Format(time.RFC3339))
		}
	}
	if err := e.Queue.MarkState(ctx, scan.QueuedScanID, models.ScanStateFailed, detail); err != nil {
		return err
	}
	// Remote wins: local cache takes the backend's recorded scan time.
	if result.Ticket != nil && result.Ticket.ScannedAt != nil {
		if err := e.Cache.SetScannedAt(ctx, result.Ticket.TicketID, *result.Ticket.ScannedAt); err != nil {
			return err
		}
	}
	return nil
}
