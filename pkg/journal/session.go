package journal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// SessionOptions configures a Session.
type SessionOptions struct {
	Order        Order
	TombstoneTTL time.Duration
	// InitialBackoff and MaxBackoff bound the resync retry delay.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Logger         *slog.Logger
}

func (o SessionOptions) withDefaults() SessionOptions {
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 500 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Session is the sync state of one signed-in owner: adapter, reconciler
// and pending writes. It starts syncing on creation and keeps resyncing
// after feed failures until Close.
type Session struct {
	owner   string
	adapter *Adapter
	rec     *Reconciler
	pending *Pending
	opts    SessionOptions
	logger  *slog.Logger

	cancel    context.CancelFunc
	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}

	mu  sync.Mutex
	err error
}

// NewSession starts a session for ownerID. It runs until ctx ends or Close
// is called.
func NewSession(ctx context.Context, adapter *Adapter, ownerID string, opts SessionOptions) *Session {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		owner:   ownerID,
		adapter: adapter,
		pending: NewPending(),
		opts:    opts,
		logger:  opts.Logger.With("owner", ownerID),
		cancel:  cancel,
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
	s.rec = NewReconciler(ownerID, ReconcilerOptions{
		Order:        opts.Order,
		TombstoneTTL: opts.TombstoneTTL,
		Logger:       s.logger,
	})
	s.rec.OnChange(func(v View) { s.pending.Resolve(v.Records) })
	go s.supervise(ctx)
	return s
}

func (s *Session) supervise(ctx context.Context) {
	defer close(s.done)
	defer s.markReady()
	defer s.rec.Teardown()

	for {
		sub, err := backoff.Retry(ctx, func() (*Subscription, error) {
			sub, err := s.rec.Start(ctx, s.adapter)
			if err != nil {
				s.setErr(err)
				s.markReady()
				if ctx.Err() != nil {
					return nil, backoff.Permanent(ctx.Err())
				}
				if IsErrorCode(err, ErrCodeUnauthorized) {
					return nil, backoff.Permanent(err)
				}
				return nil, err
			}
			return sub, nil
		},
			backoff.WithBackOff(s.newBackOff()),
			backoff.WithNotify(func(err error, next time.Duration) {
				s.logger.Warn("sync failed, retrying", "error", err, "retry_in", next)
			}),
		)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if IsErrorCode(err, ErrCodeUnauthorized) {
				s.logger.Error("sync stopped", "error", err)
				return
			}
			continue
		}

		s.setErr(nil)
		s.markReady()
		s.logger.Info("syncing", "trades", s.rec.View().Stats.Total)

		err = s.rec.Run(ctx, sub)
		sub.Unsubscribe()
		if ctx.Err() != nil || err == nil {
			return
		}
		s.setErr(err)
		s.logger.Warn("change feed dropped, resubscribing", "error", err)
	}
}

func (s *Session) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.InitialBackoff
	b.MaxInterval = s.opts.MaxBackoff
	return b
}

func (s *Session) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Owner returns the session's owner.
func (s *Session) Owner() string {
	return s.owner
}

// Ready is closed after the first sync attempt finished, successfully or not.
func (s *Session) Ready() <-chan struct{} {
	return s.ready
}

// Done is closed once the session stopped and its store was cleared.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the last sync error, or nil while the session is in sync.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// View returns the current records and statistics.
func (s *Session) View() View {
	return s.rec.View()
}

// Stale reports whether the change feed dropped and a resync is pending.
func (s *Session) Stale() bool {
	v := s.rec.View()
	return v.Stale || (v.State == StateIdle && s.Err() != nil)
}

// OnChange registers fn for every new view.
func (s *Session) OnChange(fn func(View)) func() {
	return s.rec.OnChange(fn)
}

// Pending lists submitted trades not yet confirmed by the feed.
func (s *Session) Pending() []PendingTrade {
	return s.pending.List()
}

// DismissPending forgets a pending entry, typically a failed one.
func (s *Session) DismissPending(token string) {
	s.pending.Dismiss(token)
}

// Add submits a new trade. The record appears in View once the feed
// echoes it; until then it is listed by Pending.
func (s *Session) Add(ctx context.Context, fields TradeFields) (TradeRecord, error) {
	token := s.pending.Begin(fields)
	rec, err := s.adapter.Create(ctx, s.owner, fields)
	if err != nil {
		s.pending.Fail(token, err)
		return TradeRecord{}, err
	}
	s.pending.Acknowledge(token, rec.ID)
	s.pending.Resolve(s.rec.View().Records)
	return rec, nil
}

// Replace submits a whole-record replacement of one of the owner's trades.
func (s *Session) Replace(ctx context.Context, rec TradeRecord) (TradeRecord, error) {
	if rec.OwnerID == "" {
		rec.OwnerID = s.owner
	}
	if rec.OwnerID != s.owner {
		return TradeRecord{}, NewError(ErrCodeUnauthorized, "trade belongs to another owner")
	}
	return s.adapter.Replace(ctx, rec)
}

// Delete submits a delete. The store changes when the feed confirms it.
func (s *Session) Delete(ctx context.Context, id string) error {
	return s.adapter.Remove(ctx, id)
}

// Close stops syncing, unsubscribes and clears the store. It is idempotent.
func (s *Session) Close() {
	s.cancel()
	<-s.done
}
