// Package mobile exposes the journal core through JSON strings so it can be
// bound with gomobile.
package mobile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"tradejournal/internal/backend"
	"tradejournal/internal/backend/sqlite"
	"tradejournal/pkg/journal"
)

// Core is a local journal for one owner.
type Core struct {
	store *sqlite.Store
	svc   *backend.Service
	owner string
}

// Open initializes the journal at dbPath for ownerID.
func Open(dbPath, ownerID string) (*Core, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, journal.NewError(journal.ErrCodeInvalidInput, "owner id is required")
	}
	store, err := sqlite.Open(dbPath)
	if err != nil {
		return nil, err
	}
	return &Core{store: store, svc: backend.NewService(store, nil), owner: ownerID}, nil
}

// Close releases resources.
func (c *Core) Close() error {
	if c == nil || c.store == nil {
		return nil
	}
	return c.store.Close()
}

// ListTradesJSON returns the owner's trades as wire rows in date order.
func (c *Core) ListTradesJSON() (string, error) {
	records, err := c.svc.List(context.Background(), c.owner)
	if err != nil {
		return "", err
	}
	rows := make([]journal.Row, len(records))
	for i, r := range records {
		rows[i] = journal.ToWire(r)
	}
	return marshalJSON(rows)
}

// AddTradeJSON inserts a trade from a wire row and returns the stored row.
func (c *Core) AddTradeJSON(rowJSON string) (string, error) {
	row, err := decodeRow(rowJSON)
	if err != nil {
		return "", err
	}
	fields, err := journal.FieldsFromWire(row)
	if err != nil {
		return "", err
	}
	rec, err := c.svc.Create(context.Background(), c.owner, fields)
	if err != nil {
		return "", err
	}
	return marshalJSON(journal.ToWire(rec))
}

// ReplaceTradeJSON replaces a trade with a full wire row.
func (c *Core) ReplaceTradeJSON(rowJSON string) (string, error) {
	row, err := decodeRow(rowJSON)
	if err != nil {
		return "", err
	}
	if journal.RowOwner(row) == "" {
		row[journal.KeyOwner] = c.owner
	}
	rec, err := journal.FromWire(row)
	if err != nil {
		return "", err
	}
	out, err := c.svc.Replace(context.Background(), c.owner, rec)
	if err != nil {
		return "", err
	}
	return marshalJSON(journal.ToWire(out))
}

// DeleteTrade deletes a trade by id.
func (c *Core) DeleteTrade(id string) error {
	return c.svc.Delete(context.Background(), c.owner, id)
}

// SummaryJSON returns the owner's statistics and derived series.
func (c *Core) SummaryJSON() (string, error) {
	sum, err := c.svc.Summary(context.Background(), c.owner)
	if err != nil {
		return "", err
	}
	return marshalJSON(sum)
}

// CalendarMonthJSON returns the month grid for month (YYYY-MM).
func (c *Core) CalendarMonthJSON(month string) (string, error) {
	t, err := time.Parse("2006-01", month)
	if err != nil {
		return "", journal.WrapError(journal.ErrCodeInvalidInput, "month must be YYYY-MM", err)
	}
	sum, err := c.svc.Summary(context.Background(), c.owner)
	if err != nil {
		return "", err
	}
	return marshalJSON(journal.CalendarMonth(sum.Daily, t))
}

// ExportOrg renders the journal as Org-mode text.
func (c *Core) ExportOrg() (string, error) {
	records, err := c.svc.List(context.Background(), c.owner)
	if err != nil {
		return "", err
	}
	return journal.FormatStatsOrg(journal.Compute(records)) + "\n* Trades\n" + journal.FormatTradesOrg(records), nil
}

// ExportCSV renders the journal as CSV.
func (c *Core) ExportCSV() (string, error) {
	records, err := c.svc.List(context.Background(), c.owner)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := journal.WriteCSV(&buf, records); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ComputeSummaryJSON summarizes a JSON array of wire rows held by the
// caller. Malformed rows are skipped.
func ComputeSummaryJSON(rowsJSON string) (string, error) {
	dec := json.NewDecoder(strings.NewReader(rowsJSON))
	dec.UseNumber()
	var rows []journal.Row
	if err := dec.Decode(&rows); err != nil {
		return "", journal.WrapError(journal.ErrCodeDecode, "rows must be a JSON array of objects", err)
	}
	records := make([]journal.TradeRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := journal.FromWire(row)
		if err != nil {
			continue
		}
		records = append(records, rec)
	}
	journal.SortByDate(records)
	return marshalJSON(journal.Summarize(records))
}

func decodeRow(rowJSON string) (journal.Row, error) {
	dec := json.NewDecoder(strings.NewReader(rowJSON))
	dec.UseNumber()
	var row journal.Row
	if err := dec.Decode(&row); err != nil {
		return nil, journal.WrapError(journal.ErrCodeDecode, "row must be a JSON object", err)
	}
	if row == nil {
		return nil, journal.NewError(journal.ErrCodeDecode, "row must be a JSON object")
	}
	return row, nil
}

func marshalJSON(value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("encode json: %w", err)
	}
	return string(data), nil
}
