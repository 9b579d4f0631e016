package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Ticket is the device-local snapshot of one admission credential. The cache
// is a read replica: ScannedAt may lag the backend until the sync engine
// reconciles it.
type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	TicketID       string     `bun:"ticket_id,pk" json:"ticket_id"`
	EventID        string     `bun:"event_id,notnull" json:"event_id"`
	EventName      string     `bun:"event_name" json:"event_name"`
	TicketType     string     `bun:"ticket_type" json:"ticket_type"`
	GuestName      string     `bun:"guest_name,nullzero" json:"guest_name,omitempty"`
	Price          float64    `bun:"price" json:"price"`
	ScannedAt      *time.Time `bun:"scanned_at,nullzero" json:"scanned_at,omitempty"`
	ExpiresAt      *time.Time `bun:"expires_at,nullzero" json:"expires_at,omitempty"`
	CacheFetchedAt time.Time  `bun:"cache_fetched_at,nullzero" json:"cache_fetched_at,omitempty"`
}

// VipLink ties a ticket to a table reservation. Its presence switches repeat
// scans from fraud ("already used") to legitimate re-entry.
type VipLink struct {
	bun.BaseModel `bun:"table:vip_links"`

	TicketID      string `bun:"ticket_id,pk" json:"ticket_id"`
	ReservationID string `bun:"reservation_id,notnull" json:"reservation_id"`
	TableNumber   string `bun:"table_number" json:"table_number"`
	PurchaserName string `bun:"purchaser_name" json:"purchaser_name"`
}

// PreviousScan is the backend's record of who admitted a ticket first. The
// admission endpoint returns it best-effort; it may be nil.
type PreviousScan struct {
	Staff string    `json:"staff,omitempty"`
	Gate  string    `json:"gate,omitempty"`
	Time  time.Time `json:"time"`
}
