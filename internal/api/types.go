package api

import (
	"tradejournal/internal/backend"
	"tradejournal/pkg/journal"
)

type meResponse struct {
	UserID string `json:"user_id"`
}

type historyResponse struct {
	Items  []backend.ChangeEntry `json:"items"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
}

// feedMessage is one websocket frame of the change feed. Type is a change
// kind, or "error" right before the server ends a feed it had to drop.
type feedMessage struct {
	Type    string      `json:"type"`
	Table   string      `json:"table,omitempty"`
	New     journal.Row `json:"new,omitempty"`
	Old     journal.Row `json:"old,omitempty"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
}

const feedErrorType = "error"
