package backend

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"tradejournal/pkg/journal"
)

// MemoryStore keeps trades in memory. It backs tests and the "memory"
// storage driver.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]journal.TradeRecord
	hub     *Hub
}

// NewMemoryStore returns an empty store.
func NewMemoryStore(logger *slog.Logger) *MemoryStore {
	return &MemoryStore{
		records: make(map[string]journal.TradeRecord),
		hub:     NewHub(DefaultFeedBuffer, logger),
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) List(ctx context.Context, ownerID string) ([]journal.TradeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]journal.TradeRecord, 0)
	for _, r := range m.records {
		if r.OwnerID == ownerID {
			out = append(out, r)
		}
	}
	sortForList(out)
	return out, nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (journal.TradeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return journal.TradeRecord{}, journal.NewError(journal.ErrCodeNotFound, "trade not found")
	}
	return r, nil
}

func (m *MemoryStore) Insert(ctx context.Context, rec journal.TradeRecord) (journal.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.ID]; ok {
		return journal.TradeRecord{}, journal.NewError(journal.ErrCodeDuplicate, "trade already exists")
	}
	m.records[rec.ID] = rec
	m.hub.Publish(journal.RawChange{Kind: journal.ChangeInsert, Table: journal.TableTrades, New: journal.ToWire(rec)})
	return rec, nil
}

func (m *MemoryStore) Update(ctx context.Context, rec journal.TradeRecord) (journal.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.records[rec.ID]
	if !ok {
		return journal.TradeRecord{}, journal.NewError(journal.ErrCodeNotFound, "trade not found")
	}
	m.records[rec.ID] = rec
	m.hub.Publish(journal.RawChange{
		Kind:  journal.ChangeUpdate,
		Table: journal.TableTrades,
		New:   journal.ToWire(rec),
		Old:   journal.ToWire(old),
	})
	return rec, nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) (journal.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.records[id]
	if !ok {
		return journal.TradeRecord{}, journal.NewError(journal.ErrCodeNotFound, "trade not found")
	}
	delete(m.records, id)
	m.hub.Publish(journal.RawChange{Kind: journal.ChangeDelete, Table: journal.TableTrades, Old: journal.ToWire(old)})
	return old, nil
}

func (m *MemoryStore) Subscribe(ctx context.Context) (journal.Feed, error) {
	return m.hub.Subscribe()
}

func (m *MemoryStore) Close() error {
	m.hub.Close()
	return nil
}

// sortForList orders by date, then id. ULIDs make the id tiebreak follow
// creation order.
func sortForList(records []journal.TradeRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].OccurredOn != records[j].OccurredOn {
			return records[i].OccurredOn < records[j].OccurredOn
		}
		return records[i].ID < records[j].ID
	})
}
