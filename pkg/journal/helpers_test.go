package journal

import (
	"context"
	"errors"
	"strconv"
	"sync"
)

type memFeed struct {
	mu     sync.Mutex
	ch     chan RawChange
	closed bool
	err    error
}

func newMemFeed() *memFeed {
	return &memFeed{ch: make(chan RawChange, 64)}
}

func (f *memFeed) Changes() <-chan RawChange { return f.ch }

func (f *memFeed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *memFeed) Close() error {
	f.end(nil)
	return nil
}

func (f *memFeed) end(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.err = err
	close(f.ch)
}

func (f *memFeed) send(raw RawChange) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.ch <- raw
	}
}

// memBackend is an in-memory Backend that echoes writes on every open feed.
type memBackend struct {
	mu     sync.Mutex
	rows   map[string]Row
	order  []string
	nextID int
	feeds  []*memFeed

	fetchErr     error
	insertErr    error
	deleteErr    error
	subscribeErr error
	onFetch      func()
	subscribes   int
}

func newMemBackend() *memBackend {
	return &memBackend{rows: make(map[string]Row)}
}

func copyRow(row Row) Row {
	out := make(Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

func (b *memBackend) seed(rows ...Row) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, row := range rows {
		id, _ := RowID(row)
		b.rows[id] = copyRow(row)
		b.order = append(b.order, id)
	}
}

func (b *memBackend) Fetch(ctx context.Context, ownerID string) ([]Row, error) {
	if b.onFetch != nil {
		b.onFetch()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fetchErr != nil {
		return nil, b.fetchErr
	}
	var out []Row
	for _, id := range b.order {
		row, ok := b.rows[id]
		if !ok {
			continue
		}
		if owner, _ := row[KeyOwner].(string); owner == ownerID || owner == "" {
			out = append(out, copyRow(row))
		}
	}
	return out, nil
}

func (b *memBackend) Insert(ctx context.Context, row Row) (Row, error) {
	b.mu.Lock()
	if b.insertErr != nil {
		b.mu.Unlock()
		return nil, b.insertErr
	}
	b.nextID++
	stored := copyRow(row)
	stored[KeyID] = "t" + strconv.Itoa(b.nextID)
	b.rows[stored[KeyID].(string)] = stored
	b.order = append(b.order, stored[KeyID].(string))
	b.mu.Unlock()

	b.emit(RawChange{Kind: ChangeInsert, Table: TableTrades, New: copyRow(stored)})
	return copyRow(stored), nil
}

func (b *memBackend) Update(ctx context.Context, row Row) (Row, error) {
	id, err := RowID(row)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	if _, ok := b.rows[id]; !ok {
		b.mu.Unlock()
		return nil, NewError(ErrCodeNotFound, "trade not found")
	}
	b.rows[id] = copyRow(row)
	b.mu.Unlock()

	b.emit(RawChange{Kind: ChangeUpdate, Table: TableTrades, New: copyRow(row)})
	return copyRow(row), nil
}

func (b *memBackend) Delete(ctx context.Context, id string) error {
	b.mu.Lock()
	if b.deleteErr != nil {
		b.mu.Unlock()
		return b.deleteErr
	}
	row, ok := b.rows[id]
	if !ok {
		b.mu.Unlock()
		return NewError(ErrCodeNotFound, "trade not found")
	}
	delete(b.rows, id)
	b.mu.Unlock()

	b.emit(RawChange{Kind: ChangeDelete, Table: TableTrades, Old: Row{KeyID: id, KeyOwner: row[KeyOwner]}})
	return nil
}

func (b *memBackend) Subscribe(ctx context.Context) (Feed, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribes++
	if b.subscribeErr != nil {
		return nil, b.subscribeErr
	}
	f := newMemFeed()
	b.feeds = append(b.feeds, f)
	return f, nil
}

func (b *memBackend) emit(raw RawChange) {
	b.mu.Lock()
	feeds := append([]*memFeed(nil), b.feeds...)
	b.mu.Unlock()
	for _, f := range feeds {
		f.send(raw)
	}
}

// dropFeeds ends every open feed with a transport error.
func (b *memBackend) dropFeeds() {
	b.mu.Lock()
	feeds := b.feeds
	b.feeds = nil
	b.mu.Unlock()
	for _, f := range feeds {
		f.end(errors.New("connection reset"))
	}
}

func (b *memBackend) subscribeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscribes
}

func sampleRow(id, owner, date string, resultUSD float64) Row {
	return Row{
		KeyID:         id,
		KeyOwner:      owner,
		KeyDate:       date,
		KeyPair:       "EURUSD",
		KeyDirection:  "Long",
		KeySession:    "London",
		KeyStrategy:   "breakout",
		KeyRisk:       50.0,
		KeyResultR:    resultUSD / 50,
		KeyResultUSD:  resultUSD,
		KeySetupTag:   nil,
		KeyMood:       nil,
		KeyScreenshot: nil,
		KeyNotes:      nil,
	}
}

func sampleRecord(id, owner, date string, resultUSD float64) TradeRecord {
	return TradeRecord{
		ID:      id,
		OwnerID: owner,
		TradeFields: TradeFields{
			OccurredOn:        date,
			Instrument:        "EURUSD",
			Direction:         DirectionLong,
			Session:           "London",
			StrategyTag:       "breakout",
			RiskAmount:        NewAmount(50),
			ResultInCurrency:  NewAmount(resultUSD),
			ResultInRiskUnits: NewAmount(resultUSD / 50),
		},
	}
}

func sampleFields(date string, resultUSD float64) TradeFields {
	return sampleRecord("", "", date, resultUSD).TradeFields
}

func ids(records []TradeRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}
