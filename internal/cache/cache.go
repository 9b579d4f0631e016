package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"gate-scanner/internal/logger"
	"gate-scanner/internal/models"
)

// Refresh outcomes.
const (
	RefreshRefreshed = "refreshed"
	RefreshSkipped   = "skipped"
	RefreshFailed    = "failed"
)

// Fetcher is the slice of the backend client the cache needs.
type Fetcher interface {
	TicketsForEvent(ctx context.Context, eventID string) ([]models.Ticket, []models.VipLink, error)
}

// Cache holds the device-local ticket snapshot for the active event. It is a
// read replica: admission decisions read it offline, and the sync engine
// overwrites it with whatever the backend authoritatively recorded.
type Cache struct {
	Bun        *bun.DB
	Fetcher    Fetcher
	StaleAfter time.Duration
	Logger     *logger.Logger
}

func New(db *bun.DB, fetcher Fetcher, staleAfter time.Duration, log *logger.Logger) *Cache {
	return &Cache{Bun: db, Fetcher: fetcher, StaleAfter: staleAfter, Logger: log}
}

// RefreshResult reports one refresh attempt. Failures are logged, never
// surfaced as scan errors: the scanning path keeps working off the old
// snapshot.
type RefreshResult struct {
	Status      string `json:"status"`
	TicketCount int    `json:"ticket_count"`
}

// Refresh replaces the local snapshot for eventID with the backend's ticket
// list. Skipped when the snapshot is younger than StaleAfter unless forced.
// Locally admitted tickets whose sync is still pending keep their local
// scanned_at so a second offline scan stays rejected.
func (c *Cache) Refresh(ctx context.Context, eventID string, force bool) RefreshResult {
	if !force && !c.IsStale(ctx, eventID) {
		return RefreshResult{Status: RefreshSkipped}
	}

	tickets, links, err := c.Fetcher.TicketsForEvent(ctx, eventID)
	if err != nil {
		if c.Logger != nil {
			c.Logger.LogCache("refresh", eventID, fmt.Sprintf("fetch failed: %v", err))
		}
		return RefreshResult{Status: RefreshFailed}
	}

	localScans, err := c.localScanTimes(ctx, eventID)
	if err != nil {
		if c.Logger != nil {
			c.Logger.LogCache("refresh", eventID, fmt.Sprintf("reading local scans failed: %v", err))
		}
		return RefreshResult{Status: RefreshFailed}
	}

	now := time.Now()
	for i := range tickets {
		tickets[i].CacheFetchedAt = now
		if tickets[i].ScannedAt == nil {
			if local, ok := localScans[tickets[i].TicketID]; ok {
				tickets[i].ScannedAt = &local
			}
		}
	}

	err = c.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().
			Model((*models.Ticket)(nil)).
			Where("event_id = ?", eventID).
			Exec(ctx); err != nil {
			return err
		}
		if len(tickets) > 0 {
			if _, err := tx.NewInsert().Model(&tickets).Exec(ctx); err != nil {
				return err
			}
		}
		if len(links) > 0 {
			if _, err := tx.NewInsert().
				Model(&links).
				On("CONFLICT (ticket_id) DO UPDATE").
				Set("reservation_id = EXCLUDED.reservation_id").
				Set("table_number = EXCLUDED.table_number").
				Set("purchaser_name = EXCLUDED.purchaser_name").
				Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if c.Logger != nil {
			c.Logger.LogCache("refresh", eventID, fmt.Sprintf("snapshot write failed: %v", err))
		}
		return RefreshResult{Status: RefreshFailed}
	}

	if c.Logger != nil {
		c.Logger.LogCache("refresh", eventID, fmt.Sprintf("snapshot replaced, %d tickets", len(tickets)))
	}
	return RefreshResult{Status: RefreshRefreshed, TicketCount: len(tickets)}
}

// Lookup resolves a ticket by id. A miss is an expected outcome, not an
// error: (nil, nil).
func (c *Cache) Lookup(ctx context.Context, ticketID string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := c.Bun.NewSelect().
		Model(&ticket).
		Where("ticket_id = ?", ticketID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache lookup failed: %w", err)
	}
	return &ticket, nil
}

// VipLink resolves the VIP link for a ticket, nil when none exists.
func (c *Cache) VipLink(ctx context.Context, ticketID string) (*models.VipLink, error) {
	var link models.VipLink
	err := c.Bun.NewSelect().
		Model(&link).
		Where("ticket_id = ?", ticketID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("vip link lookup failed: %w", err)
	}
	return &link, nil
}

// MarkScanned records a local admission. Only flips a null scanned_at, so a
// second offline scan of the same ticket in the same session is rejected
// before any remote confirmation exists.
func (c *Cache) MarkScanned(ctx context.Context, ticketID string, at time.Time) error {
	res, err := c.Bun.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("scanned_at = ?", at).
		Where("ticket_id = ?", ticketID).
		Where("scanned_at IS NULL").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to mark ticket scanned: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return fmt.Errorf("ticket %s already marked scanned", ticketID)
	}
	return nil
}

// SetScannedAt overwrites scanned_at unconditionally. The sync engine uses
// this to apply the remote-wins rule after reconciliation.
func (c *Cache) SetScannedAt(ctx context.Context, ticketID string, at time.Time) error {
	_, err := c.Bun.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("scanned_at = ?", at).
		Where("ticket_id = ?", ticketID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to set scanned_at: %w", err)
	}
	return nil
}

// CheckedInCount returns how many cached tickets for the event are admitted.
func (c *Cache) CheckedInCount(ctx context.Context, eventID string) (int, error) {
	count, err := c.Bun.NewSelect().
		Model((*models.Ticket)(nil)).
		Where("event_id = ?", eventID).
		Where("scanned_at IS NOT NULL").
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count checked-in tickets: %w", err)
	}
	return count, nil
}

// TicketCount returns the snapshot size for the event.
func (c *Cache) TicketCount(ctx context.Context, eventID string) (int, error) {
	count, err := c.Bun.NewSelect().
		Model((*models.Ticket)(nil)).
		Where("event_id = ?", eventID).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count tickets: %w", err)
	}
	return count, nil
}

// IsStale reports whether the snapshot for eventID is missing or older than
// StaleAfter.
func (c *Cache) IsStale(ctx context.Context, eventID string) bool {
	var fetchedAt time.Time
	err := c.Bun.NewSelect().
		Model((*models.Ticket)(nil)).
		ColumnExpr("max(cache_fetched_at)").
		Where("event_id = ?", eventID).
		Scan(ctx, &fetchedAt)
	if err != nil || fetchedAt.IsZero() {
		return true
	}
	return time.Since(fetchedAt) > c.StaleAfter
}

func (c *Cache) localScanTimes(ctx context.Context, eventID string) (map[string]time.Time, error) {
	var rows []models.Ticket
	err := c.Bun.NewSelect().
		Model(&rows).
		Column("ticket_id", "scanned_at").
		Where("event_id = ?", eventID).
		Where("scanned_at IS NOT NULL").
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	scans := make(map[string]time.Time, len(rows))
	for _, row := range rows {
		if row.ScannedAt != nil {
			scans[row.TicketID] = *row.ScannedAt
		}
	}
	return scans, nil
}
