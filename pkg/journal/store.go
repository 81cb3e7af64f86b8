package journal

import "sort"

// Order selects the iteration order of a Store snapshot.
type Order int

const (
	// OrderInsertion yields records first-seen first. A replacement keeps
	// the position of the record it replaces.
	OrderInsertion Order = iota
	// OrderNewestFirst yields the most recently inserted record first.
	OrderNewestFirst
	// OrderByDate yields records ascending by OccurredOn, ties by insertion.
	OrderByDate
)

func (o Order) String() string {
	switch o {
	case OrderInsertion:
		return "insertion"
	case OrderNewestFirst:
		return "newest"
	case OrderByDate:
		return "date"
	}
	return "unknown"
}

// ParseOrder maps a flag value to an Order.
func ParseOrder(s string) (Order, bool) {
	switch s {
	case "insertion", "":
		return OrderInsertion, true
	case "newest":
		return OrderNewestFirst, true
	case "date":
		return OrderByDate, true
	}
	return 0, false
}

type storeEntry struct {
	record TradeRecord
	seq    uint64
}

// Store is the in-memory collection of confirmed trade records for one
// owner, keyed by id. It is not safe for concurrent use; the Reconciler
// owns it and serializes access.
type Store struct {
	entries map[string]*storeEntry
	nextSeq uint64
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{entries: make(map[string]*storeEntry)}
}

// Upsert inserts the record, or replaces the record with the same id.
// It reports whether the id was new.
func (s *Store) Upsert(r TradeRecord) bool {
	if e, ok := s.entries[r.ID]; ok {
		e.record = r
		return false
	}
	s.nextSeq++
	s.entries[r.ID] = &storeEntry{record: r, seq: s.nextSeq}
	return true
}

// RemoveByID deletes the record with the given id. Removing an absent id
// is a no-op; the result reports whether anything was removed.
func (s *Store) RemoveByID(id string) bool {
	if _, ok := s.entries[id]; !ok {
		return false
	}
	delete(s.entries, id)
	return true
}

// Get returns the record with the given id.
func (s *Store) Get(id string) (TradeRecord, bool) {
	e, ok := s.entries[id]
	if !ok {
		return TradeRecord{}, false
	}
	return e.record, true
}

// Len returns the number of records.
func (s *Store) Len() int {
	return len(s.entries)
}

// Reset replaces the contents with records, using their order as insertion
// order. Later duplicates of an id replace earlier ones in place.
func (s *Store) Reset(records []TradeRecord) {
	s.entries = make(map[string]*storeEntry, len(records))
	s.nextSeq = 0
	for _, r := range records {
		s.Upsert(r)
	}
}

// Snapshot returns a copy of the records in the requested order.
func (s *Store) Snapshot(order Order) []TradeRecord {
	entries := make([]*storeEntry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	switch order {
	case OrderNewestFirst:
		sort.Slice(entries, func(i, j int) bool { return entries[i].seq > entries[j].seq })
	case OrderByDate:
		sort.Slice(entries, func(i, j int) bool {
			if entries[i].record.OccurredOn != entries[j].record.OccurredOn {
				return entries[i].record.OccurredOn < entries[j].record.OccurredOn
			}
			return entries[i].seq < entries[j].seq
		})
	default:
		sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	}

	out := make([]TradeRecord, len(entries))
	for i, e := range entries {
		out[i] = e.record
	}
	return out
}

// SortByDate sorts records ascending by OccurredOn, keeping the relative
// order of records on the same day.
func SortByDate(records []TradeRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].OccurredOn < records[j].OccurredOn
	})
}
