package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Queued scan states. A scan moves pending -> syncing -> succeeded|failed;
// a transient backend failure drops it back to pending for the next run.
const (
	ScanStatePending   = "pending"
	ScanStateSyncing   = "syncing"
	ScanStateSucceeded = "succeeded"
	ScanStateFailed    = "failed"
)

// Scan input methods.
const (
	MethodManual = "manual"
	MethodQR     = "qr"
	MethodNFC    = "nfc"
)

// QueuedScan is one locally recorded scan attempt awaiting remote
// confirmation. QueuedScanID doubles as the idempotency key for the
// admission endpoint, so a replay during sync is safe.
type QueuedScan struct {
	bun.BaseModel `bun:"table:scan_queue"`

	QueuedScanID string    `bun:"queued_scan_id,pk" json:"queued_scan_id"`
	TicketCode   string    `bun:"ticket_code,notnull" json:"ticket_code"`
	ScannedBy    string    `bun:"scanned_by,nullzero" json:"scanned_by,omitempty"`
	EventID      string    `bun:"event_id,nullzero" json:"event_id,omitempty"`
	TicketType   string    `bun:"ticket_type,nullzero" json:"ticket_type,omitempty"`
	GuestName    string    `bun:"guest_name,nullzero" json:"guest_name,omitempty"`
	EnqueuedAt   time.Time `bun:"enqueued_at,notnull" json:"enqueued_at"`
	State        string    `bun:"state,notnull" json:"state"`
	Detail       string    `bun:"detail,nullzero" json:"detail,omitempty"`
	AttemptCount int       `bun:"attempt_count" json:"attempt_count"`
}

// QueueCounts drives the "N pending" badge in the operator UI.
type QueueCounts struct {
	Pending   int `json:"pending"`
	Syncing   int `json:"syncing"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// ScanHistoryEntry is display-only operator feedback. Kept in a bounded ring
// buffer in memory; not durable and not authoritative.
type ScanHistoryEntry struct {
	Decision   string    `json:"decision"`
	Reason     string    `json:"reason,omitempty"`
	Message    string    `json:"message"`
	GuestName  string    `json:"guest_name,omitempty"`
	TicketType string    `json:"ticket_type,omitempty"`
	EventName  string    `json:"event_name,omitempty"`
	Method     string    `json:"method"`
	Offline    bool      `json:"offline"`
	ScannedAt  time.Time `json:"scanned_at"`
}

// SyncSummary reports one drain run of the offline queue.
type SyncSummary struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
}
