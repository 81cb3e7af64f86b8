package journal

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Adapter translates between wire rows and TradeRecords and forwards change
// notifications for one owner. Writes are advisory: their responses never
// touch the local store, the change feed does.
type Adapter struct {
	backend Backend
	logger  *slog.Logger
}

// NewAdapter wraps a Backend. A nil logger falls back to slog.Default().
func NewAdapter(backend Backend, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{backend: backend, logger: logger}
}

// InitialLoad fetches every record of ownerID, ascending by date.
// Malformed rows and rows of other owners are dropped and logged.
func (a *Adapter) InitialLoad(ctx context.Context, ownerID string) ([]TradeRecord, error) {
	if ownerID == "" {
		return nil, NewError(ErrCodeFetch, "owner is required")
	}
	rows, err := a.backend.Fetch(ctx, ownerID)
	if err != nil {
		return nil, WrapError(ErrCodeFetch, "initial load", err)
	}

	records := make([]TradeRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := FromWire(row)
		if err != nil {
			a.logMalformed("initial load", row, err)
			continue
		}
		if rec.OwnerID != ownerID {
			a.logger.Debug("dropped foreign row", "owner", ownerID, "row_owner", rec.OwnerID, "id", rec.ID)
			continue
		}
		records = append(records, rec)
	}
	SortByDate(records)
	return records, nil
}

// Decode turns a raw change into a ChangeEvent. Deletes only need the id
// of the old row; their OwnerID is empty when the old row omits it.
func (a *Adapter) Decode(raw RawChange) (ChangeEvent, error) {
	switch raw.Kind {
	case ChangeInsert, ChangeUpdate:
		rec, err := FromWire(raw.New)
		if err != nil {
			return ChangeEvent{}, err
		}
		return ChangeEvent{Kind: raw.Kind, Record: rec, RecordID: rec.ID, OwnerID: rec.OwnerID}, nil
	case ChangeDelete:
		id, err := RowID(raw.Old)
		if err != nil {
			return ChangeEvent{}, err
		}
		return ChangeEvent{Kind: ChangeDelete, RecordID: id, OwnerID: RowOwner(raw.Old)}, nil
	}
	return ChangeEvent{}, &DecodeError{Field: "type", Reason: "unknown change kind " + string(raw.Kind)}
}

// Subscribe opens the change feed and calls onEvent for every event that
// belongs to ownerID, from a single goroutine, in delivery order.
func (a *Adapter) Subscribe(ctx context.Context, ownerID string, onEvent func(ChangeEvent)) (*Subscription, error) {
	if ownerID == "" {
		return nil, NewError(ErrCodeSubscription, "owner is required")
	}
	feed, err := a.backend.Subscribe(ctx)
	if err != nil {
		return nil, WrapError(ErrCodeSubscription, "subscribe", err)
	}

	sub := &Subscription{
		feed: feed,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go a.pump(ctx, sub, ownerID, onEvent)
	return sub, nil
}

func (a *Adapter) pump(ctx context.Context, sub *Subscription, ownerID string, onEvent func(ChangeEvent)) {
	defer close(sub.done)
	changes := sub.feed.Changes()
	for {
		select {
		case <-sub.stop:
			return
		case <-ctx.Done():
			sub.fail(WrapError(ErrCodeSubscription, "subscription cancelled", ctx.Err()))
			return
		case raw, ok := <-changes:
			if !ok {
				cause := sub.feed.Err()
				if cause == nil {
					cause = errors.New("feed closed")
				}
				sub.fail(WrapError(ErrCodeSubscription, "change feed ended", cause))
				return
			}
			if raw.Table != "" && raw.Table != TableTrades {
				continue
			}
			ev, err := a.Decode(raw)
			if err != nil {
				row := raw.New
				if raw.Kind == ChangeDelete {
					row = raw.Old
				}
				a.logMalformed("change feed", row, err)
				continue
			}
			if ev.OwnerID != "" && ev.OwnerID != ownerID {
				a.logger.Debug("dropped foreign event", "owner", ownerID, "event_owner", ev.OwnerID, "kind", ev.Kind)
				continue
			}
			onEvent(ev)
		}
	}
}

// Create validates fields and sends an insert. The returned record is the
// server's response; the local store learns about it from the feed.
func (a *Adapter) Create(ctx context.Context, ownerID string, fields TradeFields) (TradeRecord, error) {
	if ownerID == "" {
		return TradeRecord{}, NewError(ErrCodeUnauthorized, "owner is required")
	}
	if err := fields.Validate(); err != nil {
		return TradeRecord{}, err
	}
	row, err := a.backend.Insert(ctx, ToInsertRow(ownerID, fields))
	if err != nil {
		return TradeRecord{}, WrapError(ErrCodeWrite, "insert trade", err)
	}
	rec, err := FromWire(row)
	if err != nil {
		return TradeRecord{}, WrapError(ErrCodeWrite, "insert response", err)
	}
	return rec, nil
}

// Replace sends a whole-record replacement.
func (a *Adapter) Replace(ctx context.Context, rec TradeRecord) (TradeRecord, error) {
	if rec.ID == "" {
		return TradeRecord{}, NewError(ErrCodeInvalidInput, "id is required")
	}
	if rec.OwnerID == "" {
		return TradeRecord{}, NewError(ErrCodeUnauthorized, "owner is required")
	}
	if err := rec.Validate(); err != nil {
		return TradeRecord{}, err
	}
	row, err := a.backend.Update(ctx, ToWire(rec))
	if err != nil {
		return TradeRecord{}, WrapError(ErrCodeWrite, "update trade", err)
	}
	out, err := FromWire(row)
	if err != nil {
		return TradeRecord{}, WrapError(ErrCodeWrite, "update response", err)
	}
	return out, nil
}

// Remove sends a delete.
func (a *Adapter) Remove(ctx context.Context, id string) error {
	if id == "" {
		return NewError(ErrCodeInvalidInput, "id is required")
	}
	if err := a.backend.Delete(ctx, id); err != nil {
		return WrapError(ErrCodeWrite, "delete trade", err)
	}
	return nil
}

func (a *Adapter) logMalformed(source string, row Row, err error) {
	attrs := []any{"source", source, "error", err}
	var de *DecodeError
	if errors.As(err, &de) {
		attrs = append(attrs, "field", de.Field, "reason", de.Reason)
	}
	if id, idErr := RowID(row); idErr == nil {
		attrs = append(attrs, "id", id)
	}
	a.logger.Warn("dropped malformed row", attrs...)
}

// Subscription is a live change feed opened by Adapter.Subscribe.
type Subscription struct {
	feed Feed
	stop chan struct{}
	done chan struct{}

	once sync.Once
	mu   sync.Mutex
	err  error
}

// Unsubscribe releases the feed. It is idempotent and safe after the feed
// already failed.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.stop)
		_ = s.feed.Close()
	})
	<-s.done
}

// Done is closed once the subscription stopped delivering events.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err returns the SubscriptionError that ended the feed, or nil when it was
// unsubscribed or is still running.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}
