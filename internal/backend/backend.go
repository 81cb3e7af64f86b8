// Package backend is the server side of the trade table: storage drivers,
// change fan-out and the owner-scoped service the HTTP API and embedded
// clients go through.
package backend

import (
	"context"

	"tradejournal/pkg/journal"
)

// Store is the authoritative trade table. Implementations publish a
// RawChange for every committed write to their feed subscribers.
type Store interface {
	// List returns ownerID's trades ascending by date.
	List(ctx context.Context, ownerID string) ([]journal.TradeRecord, error)
	// Get returns the trade with the given id or a NOT_FOUND error.
	Get(ctx context.Context, id string) (journal.TradeRecord, error)
	// Insert stores a trade whose id is already assigned.
	Insert(ctx context.Context, rec journal.TradeRecord) (journal.TradeRecord, error)
	// Update replaces the trade with rec.ID.
	Update(ctx context.Context, rec journal.TradeRecord) (journal.TradeRecord, error)
	// Delete removes a trade and returns what was removed.
	Delete(ctx context.Context, id string) (journal.TradeRecord, error)
	// Subscribe opens a feed of every change to the table.
	Subscribe(ctx context.Context) (journal.Feed, error)
	Close() error
}

// ChangeEntry is one committed write in a store's change history.
type ChangeEntry struct {
	Seq       int64              `json:"seq"`
	Kind      journal.ChangeKind `json:"type"`
	TradeID   string             `json:"trade_id"`
	Row       journal.Row        `json:"row,omitempty"`
	CreatedAt string             `json:"created_at"`
}

// HistoryStore is implemented by stores that keep a change history.
type HistoryStore interface {
	History(ctx context.Context, ownerID string, limit, offset int) ([]ChangeEntry, error)
}
