package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"

	"gate-scanner/internal/models"
)

// Open opens the device-local SQLite store. One file backs both the ticket
// cache and the offline scan queue; it must survive process restarts.
func Open(path string) (*bun.DB, error) {
	sqldb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}
	// SQLite with a single writer; more connections just contend.
	sqldb.SetMaxOpenConns(1)

	if err := sqldb.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping local store: %w", err)
	}

	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

// Migrate creates the local tables if missing. Unlike a server migration
// there is no drop: a scanner restarting mid-event keeps its state.
func Migrate(ctx context.Context, db *bun.DB) error {
	tables := []interface{}{
		(*models.Ticket)(nil),
		(*models.VipLink)(nil),
		(*models.QueuedScan)(nil),
	}
	for _, model := range tables {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table failed: %w", err)
		}
	}
	return nil
}
