package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"tradejournal/pkg/journal"
)

const (
	feedWriteWait   = 10 * time.Second
	feedMaxReadSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Feeds are bearer-authenticated, so any origin may connect.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// feed streams the caller's row changes over a websocket until either side
// goes away. When the server drops the feed it sends an "error" frame and a
// 1013 close so the client resyncs.
func (h *handler) feed(w http.ResponseWriter, r *http.Request) {
	owner := ownerOf(r)
	src, err := h.svc.Subscribe(r.Context(), owner)
	if err != nil {
		writeErrorResponse(w, r, http.StatusServiceUnavailable, err)
		return
	}
	defer src.Close()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("feed upgrade failed", "owner", owner, "err", err)
		return
	}
	defer conn.Close()

	if h.metrics != nil {
		h.metrics.FeedSubscribers.Inc()
		defer h.metrics.FeedSubscribers.Dec()
	}
	h.logger.Info("feed subscriber connected", "owner", owner)
	defer h.logger.Info("feed subscriber disconnected", "owner", owner)

	pongWait := 2 * h.ping
	conn.SetReadLimit(feedMaxReadSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Clients never send data frames; reading only drives pong and close
	// handling.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.ping)
	defer ticker.Stop()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case raw, ok := <-src.Changes():
			if !ok {
				h.endFeed(conn, src.Err())
				return
			}
			msg := feedMessage{Type: string(raw.Kind), Table: raw.Table, New: raw.New, Old: raw.Old}
			_ = conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debug("feed write failed", "owner", owner, "err", err)
				return
			}
			if h.metrics != nil {
				h.metrics.FeedEvents.WithLabelValues(string(raw.Kind)).Inc()
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(feedWriteWait)); err != nil {
				return
			}
		}
	}
}

func (h *handler) endFeed(conn *websocket.Conn, cause error) {
	msg := feedMessage{
		Type:    feedErrorType,
		Code:    string(journal.ErrCodeSubscription),
		Message: "change feed closed",
	}
	if cause != nil {
		msg.Message = cause.Error()
	}
	h.logger.Warn("feed dropped by server", "reason", msg.Message)

	deadline := time.Now().Add(feedWriteWait)
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.WriteJSON(msg)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "resync"), deadline)
}
