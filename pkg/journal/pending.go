package journal

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PendingStatus is the state of a locally submitted trade.
type PendingStatus string

const (
	PendingSending  PendingStatus = "sending"
	PendingAwaiting PendingStatus = "awaiting"
	PendingFailed   PendingStatus = "failed"
)

// PendingTrade is a trade the user submitted that the store has not yet
// confirmed. It is presentation state only and never enters the Store.
type PendingTrade struct {
	Token     string
	Fields    TradeFields
	Status    PendingStatus
	RecordID  string
	Err       error
	Submitted time.Time
}

// Pending tracks submitted trades by local token until the change feed
// delivers the confirmed record. It is safe for concurrent use.
type Pending struct {
	mu    sync.Mutex
	items map[string]*PendingTrade
	now   func() time.Time
}

// NewPending returns an empty tracker.
func NewPending() *Pending {
	return &Pending{items: make(map[string]*PendingTrade), now: time.Now}
}

// Begin registers fields and returns their local token.
func (p *Pending) Begin(fields TradeFields) string {
	token := uuid.NewString()
	p.mu.Lock()
	p.items[token] = &PendingTrade{
		Token:     token,
		Fields:    fields,
		Status:    PendingSending,
		Submitted: p.now(),
	}
	p.mu.Unlock()
	return token
}

// Acknowledge records the id the server assigned; the entry stays until
// Resolve sees that id.
func (p *Pending) Acknowledge(token, recordID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if item, ok := p.items[token]; ok {
		item.Status = PendingAwaiting
		item.RecordID = recordID
	}
}

// Fail marks the write as rejected.
func (p *Pending) Fail(token string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if item, ok := p.items[token]; ok {
		item.Status = PendingFailed
		item.Err = err
	}
}

// Dismiss forgets a token.
func (p *Pending) Dismiss(token string) {
	p.mu.Lock()
	delete(p.items, token)
	p.mu.Unlock()
}

// Resolve drops every acknowledged entry whose record is present.
func (p *Pending) Resolve(records []TradeRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.items) == 0 {
		return
	}
	ids := make(map[string]struct{}, len(records))
	for _, r := range records {
		ids[r.ID] = struct{}{}
	}
	for token, item := range p.items {
		if item.RecordID == "" {
			continue
		}
		if _, ok := ids[item.RecordID]; ok {
			delete(p.items, token)
		}
	}
}

// List returns the pending entries, oldest first.
func (p *Pending) List() []PendingTrade {
	p.mu.Lock()
	out := make([]PendingTrade, 0, len(p.items))
	for _, item := range p.items {
		out = append(out, *item)
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Submitted.Equal(out[j].Submitted) {
			return out[i].Submitted.Before(out[j].Submitted)
		}
		return out[i].Token < out[j].Token
	})
	return out
}

// Len returns the number of pending entries.
func (p *Pending) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}
