package journal

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultTombstoneTTL is how long a deleted id rejects late inserts and
// updates.
const DefaultTombstoneTTL = time.Minute

const eventBuffer = 256

// State is the subscription state of a Reconciler.
type State int

const (
	StateIdle State = iota
	StateSyncing
)

func (s State) String() string {
	if s == StateSyncing {
		return "syncing"
	}
	return "idle"
}

// View is an immutable snapshot published after every change.
type View struct {
	Owner   string
	State   State
	Stale   bool
	Version uint64
	Records []TradeRecord
	Stats   AggregateStats
}

// Summary computes every derived series over the view's records in date
// order.
func (v View) Summary() Summary {
	records := make([]TradeRecord, len(v.Records))
	copy(records, v.Records)
	SortByDate(records)
	return Summarize(records)
}

// ReconcilerOptions configures a Reconciler.
type ReconcilerOptions struct {
	// Order of View.Records.
	Order Order
	// TombstoneTTL defaults to DefaultTombstoneTTL; negative disables tombstones.
	TombstoneTTL time.Duration
	Now          func() time.Time
	Logger       *slog.Logger
}

// Reconciler applies change events for one owner to a Store.
//
// Apply, Start and Run mutate the store and must be called from a single
// goroutine. View and OnChange are safe from any goroutine.
type Reconciler struct {
	owner  string
	store  *Store
	opts   ReconcilerOptions
	logger *slog.Logger

	state      State
	stale      bool
	synced     bool
	version    uint64
	tombstones map[string]time.Time
	events     chan ChangeEvent

	view atomic.Pointer[View]

	mu        sync.Mutex
	listeners map[int]func(View)
	nextID    int
}

// NewReconciler returns an Idle reconciler with an empty store.
func NewReconciler(ownerID string, opts ReconcilerOptions) *Reconciler {
	if opts.TombstoneTTL == 0 {
		opts.TombstoneTTL = DefaultTombstoneTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reconciler{
		owner:      ownerID,
		store:      NewStore(),
		opts:       opts,
		logger:     logger,
		tombstones: make(map[string]time.Time),
		listeners:  make(map[int]func(View)),
	}
	r.publish()
	return r
}

// Owner returns the owner this reconciler is scoped to.
func (r *Reconciler) Owner() string {
	return r.owner
}

// View returns the latest published view.
func (r *Reconciler) View() View {
	return *r.view.Load()
}

// OnChange registers fn to be called with every new view. The returned
// function unregisters it.
func (r *Reconciler) OnChange(fn func(View)) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = fn
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

// Apply applies a single event. Inserts and updates upsert by id, deletes
// remove by id; deleting an absent id is a no-op. Events of other owners
// are ignored, as are inserts and updates for an id deleted within
// TombstoneTTL (one minute by default). It reports whether the store
// changed.
func (r *Reconciler) Apply(ev ChangeEvent) bool {
	if ev.OwnerID != "" && ev.OwnerID != r.owner {
		return false
	}
	now := r.opts.Now()
	r.pruneTombstones(now)

	changed := false
	switch ev.Kind {
	case ChangeInsert, ChangeUpdate:
		if ev.Record.OwnerID != r.owner {
			return false
		}
		if _, dead := r.tombstones[ev.Record.ID]; dead {
			r.logger.Debug("ignored write to deleted trade", "id", ev.Record.ID, "kind", ev.Kind)
			return false
		}
		r.store.Upsert(ev.Record)
		changed = true
	case ChangeDelete:
		if r.opts.TombstoneTTL > 0 {
			r.tombstones[ev.RecordID] = now
		}
		changed = r.store.RemoveByID(ev.RecordID)
	}
	if changed {
		r.publish()
	}
	return changed
}

func (r *Reconciler) pruneTombstones(now time.Time) {
	for id, at := range r.tombstones {
		if now.Sub(at) >= r.opts.TombstoneTTL {
			delete(r.tombstones, id)
		}
	}
}

// Start subscribes, loads the owner's records, resets the store and
// replays events that arrived during the load, leaving the reconciler
// Syncing. On failure the temporary subscription is closed. Before the
// first successful start the reconciler is torn down to Idle with an empty
// store; on a resync it is Idle with the last records kept and the view
// marked stale.
func (r *Reconciler) Start(ctx context.Context, a *Adapter) (*Subscription, error) {
	events := make(chan ChangeEvent, eventBuffer)
	quit := make(chan struct{})
	sub, err := a.Subscribe(ctx, r.owner, func(ev ChangeEvent) {
		select {
		case events <- ev:
		case <-quit:
		case <-ctx.Done():
		}
	})
	if err != nil {
		r.startFailed()
		return nil, err
	}

	records, err := a.InitialLoad(ctx, r.owner)
	if err != nil {
		close(quit)
		sub.Unsubscribe()
		r.startFailed()
		return nil, err
	}

	r.store.Reset(records)
	r.state = StateSyncing
	r.stale = false
	r.synced = true
	r.events = events
	r.drain()
	r.publish()

	go func() {
		<-sub.Done()
		close(quit)
	}()
	return sub, nil
}

func (r *Reconciler) startFailed() {
	if !r.synced {
		r.Teardown()
		return
	}
	r.state = StateIdle
	r.stale = true
	r.events = nil
	r.publish()
}

// drain applies every buffered event without blocking.
func (r *Reconciler) drain() {
	for {
		select {
		case ev := <-r.events:
			r.Apply(ev)
		default:
			return
		}
	}
}

// Run applies events delivered by sub until ctx ends or the feed fails.
// A failed feed marks the view stale and returns the SubscriptionError.
func (r *Reconciler) Run(ctx context.Context, sub *Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-r.events:
			r.Apply(ev)
		case <-sub.Done():
			r.drain()
			err := sub.Err()
			if err == nil {
				return nil
			}
			r.MarkStale()
			return err
		}
	}
}

// MarkStale flags the view as possibly behind the remote store.
func (r *Reconciler) MarkStale() {
	if r.stale {
		return
	}
	r.stale = true
	r.publish()
}

// Teardown returns to Idle with an empty store.
func (r *Reconciler) Teardown() {
	r.store.Reset(nil)
	r.state = StateIdle
	r.stale = false
	r.synced = false
	r.events = nil
	r.tombstones = make(map[string]time.Time)
	r.publish()
}

func (r *Reconciler) publish() {
	r.version++
	records := r.store.Snapshot(r.opts.Order)
	v := &View{
		Owner:   r.owner,
		State:   r.state,
		Stale:   r.stale,
		Version: r.version,
		Records: records,
		Stats:   Compute(records),
	}
	r.view.Store(v)

	r.mu.Lock()
	fns := make([]func(View), 0, len(r.listeners))
	for _, fn := range r.listeners {
		fns = append(fns, fn)
	}
	r.mu.Unlock()
	for _, fn := range fns {
		fn(*v)
	}
}
