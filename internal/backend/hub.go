package backend

import (
	"errors"
	"log/slog"
	"sync"

	"tradejournal/pkg/journal"
)

// DefaultFeedBuffer is the per-subscriber queue length of a Hub.
const DefaultFeedBuffer = 128

// ErrSlowSubscriber ends a feed whose queue overflowed. The client must
// resync from a fresh load.
var ErrSlowSubscriber = journal.NewError(journal.ErrCodeSubscription, "subscriber fell behind")

// ErrHubClosed ends feeds when their store shuts down.
var ErrHubClosed = journal.NewError(journal.ErrCodeSubscription, "change feed closed")

// Hub fans committed changes out to feed subscribers. Publish never blocks:
// a subscriber whose queue is full is dropped.
type Hub struct {
	mu     sync.Mutex
	subs   map[*hubFeed]struct{}
	buffer int
	closed bool
	logger *slog.Logger
}

// NewHub returns a Hub with the given per-subscriber buffer.
func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultFeedBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{subs: make(map[*hubFeed]struct{}), buffer: buffer, logger: logger}
}

// Subscribe registers a new feed.
func (h *Hub) Subscribe() (journal.Feed, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	f := &hubFeed{hub: h, ch: make(chan journal.RawChange, h.buffer)}
	h.subs[f] = struct{}{}
	return f, nil
}

// Publish delivers raw to every subscriber.
func (h *Hub) Publish(raw journal.RawChange) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for f := range h.subs {
		select {
		case f.ch <- raw:
		default:
			h.logger.Warn("dropping slow feed subscriber", "queued", len(f.ch))
			delete(h.subs, f)
			f.end(ErrSlowSubscriber)
		}
	}
}

// Subscribers returns the number of open feeds.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends every feed and rejects new subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for f := range h.subs {
		delete(h.subs, f)
		f.end(ErrHubClosed)
	}
}

// DropAll ends every open feed with err but keeps accepting subscribers.
// Stores call it when they may have missed changes.
func (h *Hub) DropAll(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for f := range h.subs {
		delete(h.subs, f)
		f.end(err)
	}
}

func (h *Hub) remove(f *hubFeed) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[f]; ok {
		delete(h.subs, f)
		f.end(nil)
	}
}

// hubFeed state is guarded by hub.mu.
type hubFeed struct {
	hub   *Hub
	ch    chan journal.RawChange
	ended bool
	err   error
	errMu sync.Mutex
}

func (f *hubFeed) Changes() <-chan journal.RawChange { return f.ch }

func (f *hubFeed) Err() error {
	f.errMu.Lock()
	defer f.errMu.Unlock()
	return f.err
}

func (f *hubFeed) Close() error {
	f.hub.remove(f)
	return nil
}

func (f *hubFeed) end(err error) {
	if f.ended {
		return
	}
	f.ended = true
	f.errMu.Lock()
	f.err = err
	f.errMu.Unlock()
	close(f.ch)
}

// ownerFeed forwards only the changes that belong to one owner.
type ownerFeed struct {
	src   journal.Feed
	owner string
	ch    chan journal.RawChange
	stop  chan struct{}
	done  chan struct{}
	once  sync.Once
	errMu sync.Mutex
	err   error
}

func newOwnerFeed(src journal.Feed, owner string) *ownerFeed {
	f := &ownerFeed{
		src:   src,
		owner: owner,
		ch:    make(chan journal.RawChange),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go f.run()
	return f
}

func (f *ownerFeed) run() {
	defer close(f.done)
	defer close(f.ch)
	for {
		select {
		case <-f.stop:
			return
		case raw, ok := <-f.src.Changes():
			if !ok {
				err := f.src.Err()
				if err == nil {
					err = errors.New("source feed closed")
				}
				f.errMu.Lock()
				f.err = err
				f.errMu.Unlock()
				return
			}
			if !belongsTo(raw, f.owner) {
				continue
			}
			select {
			case f.ch <- raw:
			case <-f.stop:
				return
			}
		}
	}
}

func belongsTo(raw journal.RawChange, owner string) bool {
	if raw.New != nil {
		return journal.RowOwner(raw.New) == owner
	}
	return journal.RowOwner(raw.Old) == owner
}

func (f *ownerFeed) Changes() <-chan journal.RawChange { return f.ch }

func (f *ownerFeed) Err() error {
	f.errMu.Lock()
	defer f.errMu.Unlock()
	return f.err
}

func (f *ownerFeed) Close() error {
	var err error
	f.once.Do(func() {
		close(f.stop)
		err = f.src.Close()
	})
	<-f.done
	return err
}
