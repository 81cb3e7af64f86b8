package client

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"tradejournal/pkg/journal"
)

// feedMessage mirrors the server's websocket frames.
type feedMessage struct {
	Type    string      `json:"type"`
	Table   string      `json:"table"`
	New     journal.Row `json:"new"`
	Old     journal.Row `json:"old"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
}

type wsFeed struct {
	conn    *websocket.Conn
	logger  *slog.Logger
	ch      chan journal.RawChange
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	closing atomic.Bool

	mu  sync.Mutex
	err error
}

func newWSFeed(conn *websocket.Conn, logger *slog.Logger) *wsFeed {
	f := &wsFeed{
		conn:   conn,
		logger: logger,
		ch:     make(chan journal.RawChange),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go f.run()
	return f
}

func (f *wsFeed) run() {
	defer close(f.done)
	defer close(f.ch)
	defer f.conn.Close()

	for {
		_, data, err := f.conn.ReadMessage()
		if err != nil {
			if !f.closing.Load() {
				f.setErr(journal.WrapError(journal.ErrCodeSubscription, "change feed lost", err))
			}
			return
		}

		var msg feedMessage
		decoder := json.NewDecoder(bytes.NewReader(data))
		decoder.UseNumber()
		if err := decoder.Decode(&msg); err != nil {
			f.logger.Warn("skipping unreadable feed frame", "err", err)
			continue
		}
		if msg.Type == "error" {
			code := journal.ErrorCode(msg.Code)
			if code == "" {
				code = journal.ErrCodeSubscription
			}
			f.setErr(journal.NewError(code, msg.Message))
			return
		}
		kind, ok := journal.ParseChangeKind(msg.Type)
		if !ok {
			f.logger.Warn("skipping feed frame of unknown type", "type", msg.Type)
			continue
		}

		raw := journal.RawChange{Kind: kind, Table: msg.Table, New: msg.New, Old: msg.Old}
		select {
		case f.ch <- raw:
		case <-f.stop:
			return
		}
	}
}

func (f *wsFeed) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err == nil {
		f.err = err
	}
}

func (f *wsFeed) Changes() <-chan journal.RawChange { return f.ch }

func (f *wsFeed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Close ends the feed and waits for the reader to exit.
func (f *wsFeed) Close() error {
	f.once.Do(func() {
		f.closing.Store(true)
		close(f.stop)
		_ = f.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = f.conn.Close()
	})
	<-f.done
	return nil
}
