package journal

import "context"

// ChangeKind is the kind of a row-level change notification.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "INSERT"
	ChangeUpdate ChangeKind = "UPDATE"
	ChangeDelete ChangeKind = "DELETE"
)

// ParseChangeKind maps the wire spelling of a change kind.
func ParseChangeKind(s string) (ChangeKind, bool) {
	switch ChangeKind(s) {
	case ChangeInsert, ChangeUpdate, ChangeDelete:
		return ChangeKind(s), true
	}
	return "", false
}

// RawChange is an undecoded change notification as delivered by a Backend.
// New is set for inserts and updates, Old carries at least the id for deletes.
type RawChange struct {
	Kind  ChangeKind `json:"type"`
	Table string     `json:"table"`
	New   Row        `json:"new,omitempty"`
	Old   Row        `json:"old,omitempty"`
}

// ChangeEvent is a decoded change notification for one owner.
type ChangeEvent struct {
	Kind     ChangeKind
	Record   TradeRecord
	RecordID string
	OwnerID  string
}

// Feed is a live stream of change notifications.
// Changes is closed when the feed ends; Err then reports why, or nil when
// the feed was closed by the caller.
type Feed interface {
	Changes() <-chan RawChange
	Err() error
	Close() error
}

// Backend is the remote persistence engine holding the authoritative trade
// table. Implementations must be safe for concurrent use.
type Backend interface {
	// Fetch returns every row belonging to ownerID.
	Fetch(ctx context.Context, ownerID string) ([]Row, error)
	// Insert stores a row without id and returns the stored row.
	Insert(ctx context.Context, row Row) (Row, error)
	// Update replaces the row with the same id and returns the stored row.
	Update(ctx context.Context, row Row) (Row, error)
	// Delete removes the row with the given id.
	Delete(ctx context.Context, id string) error
	// Subscribe opens a change feed on the trade table.
	Subscribe(ctx context.Context) (Feed, error)
}

// TableTrades is the name of the trade table on the wire.
const TableTrades = "trades"
