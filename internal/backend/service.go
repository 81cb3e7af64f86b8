package backend

import (
	"context"
	"log/slog"

	"tradejournal/pkg/journal"
)

// Service applies owner scoping and id assignment on top of a Store.
type Service struct {
	store  Store
	ids    *IDGenerator
	logger *slog.Logger
}

// NewService wraps store. A nil logger falls back to slog.Default().
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, ids: NewIDGenerator(), logger: logger}
}

// Store returns the underlying store.
func (s *Service) Store() Store {
	return s.store
}

// List returns ownerID's trades ascending by date.
func (s *Service) List(ctx context.Context, ownerID string) ([]journal.TradeRecord, error) {
	if ownerID == "" {
		return nil, journal.NewError(journal.ErrCodeUnauthorized, "owner is required")
	}
	return s.store.List(ctx, ownerID)
}

// Create validates fields and stores a new trade for ownerID under a fresh id.
func (s *Service) Create(ctx context.Context, ownerID string, fields journal.TradeFields) (journal.TradeRecord, error) {
	if ownerID == "" {
		return journal.TradeRecord{}, journal.NewError(journal.ErrCodeUnauthorized, "owner is required")
	}
	if err := fields.Validate(); err != nil {
		return journal.TradeRecord{}, err
	}
	rec := journal.TradeRecord{ID: s.ids.New(), OwnerID: ownerID, TradeFields: fields}
	out, err := s.store.Insert(ctx, rec)
	if err != nil {
		return journal.TradeRecord{}, err
	}
	s.logger.Debug("trade created", "id", out.ID, "owner", ownerID)
	return out, nil
}

// Replace overwrites one of ownerID's trades. The id and owner are
// immutable; trades of other owners are reported as not found.
func (s *Service) Replace(ctx context.Context, ownerID string, rec journal.TradeRecord) (journal.TradeRecord, error) {
	if _, err := s.owned(ctx, ownerID, rec.ID); err != nil {
		return journal.TradeRecord{}, err
	}
	if rec.OwnerID != "" && rec.OwnerID != ownerID {
		return journal.TradeRecord{}, journal.NewError(journal.ErrCodeInvalidInput, "user_id cannot change")
	}
	rec.OwnerID = ownerID
	if err := rec.Validate(); err != nil {
		return journal.TradeRecord{}, err
	}
	return s.store.Update(ctx, rec)
}

// Delete removes one of ownerID's trades.
func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	if _, err := s.owned(ctx, ownerID, id); err != nil {
		return err
	}
	_, err := s.store.Delete(ctx, id)
	return err
}

func (s *Service) owned(ctx context.Context, ownerID, id string) (journal.TradeRecord, error) {
	if ownerID == "" {
		return journal.TradeRecord{}, journal.NewError(journal.ErrCodeUnauthorized, "owner is required")
	}
	if id == "" {
		return journal.TradeRecord{}, journal.NewError(journal.ErrCodeInvalidInput, "id is required")
	}
	existing, err := s.store.Get(ctx, id)
	if err != nil {
		return journal.TradeRecord{}, err
	}
	if existing.OwnerID != ownerID {
		return journal.TradeRecord{}, journal.NewError(journal.ErrCodeNotFound, "trade not found")
	}
	return existing, nil
}

// Subscribe opens a change feed limited to ownerID's rows.
func (s *Service) Subscribe(ctx context.Context, ownerID string) (journal.Feed, error) {
	if ownerID == "" {
		return nil, journal.NewError(journal.ErrCodeUnauthorized, "owner is required")
	}
	feed, err := s.store.Subscribe(ctx)
	if err != nil {
		return nil, err
	}
	return newOwnerFeed(feed, ownerID), nil
}

// Summary computes every derived series over ownerID's trades in date order.
func (s *Service) Summary(ctx context.Context, ownerID string) (journal.Summary, error) {
	records, err := s.List(ctx, ownerID)
	if err != nil {
		return journal.Summary{}, err
	}
	return journal.Summarize(records), nil
}

// Local exposes a Service as a journal.Backend for one owner, so the sync
// core can run in-process against a local store.
type Local struct {
	svc   *Service
	owner string
}

// NewLocal returns a journal.Backend acting as ownerID.
func NewLocal(svc *Service, ownerID string) *Local {
	return &Local{svc: svc, owner: ownerID}
}

var _ journal.Backend = (*Local)(nil)

func (l *Local) Fetch(ctx context.Context, ownerID string) ([]journal.Row, error) {
	if ownerID != l.owner {
		return nil, journal.NewError(journal.ErrCodeUnauthorized, "owner mismatch")
	}
	records, err := l.svc.List(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	rows := make([]journal.Row, len(records))
	for i, r := range records {
		rows[i] = journal.ToWire(r)
	}
	return rows, nil
}

func (l *Local) Insert(ctx context.Context, row journal.Row) (journal.Row, error) {
	if owner := journal.RowOwner(row); owner != "" && owner != l.owner {
		return nil, journal.NewError(journal.ErrCodeUnauthorized, "owner mismatch")
	}
	fields, err := journal.FieldsFromWire(row)
	if err != nil {
		return nil, journal.WrapError(journal.ErrCodeInvalidInput, "invalid trade", err)
	}
	rec, err := l.svc.Create(ctx, l.owner, fields)
	if err != nil {
		return nil, err
	}
	return journal.ToWire(rec), nil
}

func (l *Local) Update(ctx context.Context, row journal.Row) (journal.Row, error) {
	rec, err := journal.FromWire(row)
	if err != nil {
		return nil, journal.WrapError(journal.ErrCodeInvalidInput, "invalid trade", err)
	}
	out, err := l.svc.Replace(ctx, l.owner, rec)
	if err != nil {
		return nil, err
	}
	return journal.ToWire(out), nil
}

func (l *Local) Delete(ctx context.Context, id string) error {
	return l.svc.Delete(ctx, l.owner, id)
}

func (l *Local) Subscribe(ctx context.Context) (journal.Feed, error) {
	return l.svc.Subscribe(ctx, l.owner)
}
