// Package sqlite is a backend.Store on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"tradejournal/internal/backend"
	"tradejournal/pkg/journal"
)

// Options controls Store initialization.
type Options struct {
	DBPath     string
	Logger     *slog.Logger
	FeedBuffer int
}

// Store keeps trades in SQLite and publishes committed writes to its hub.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	hub     *backend.Hub
	dbPath  string
	writeMu sync.Mutex
}

var (
	_ backend.Store        = (*Store)(nil)
	_ backend.HistoryStore = (*Store)(nil)
)

// Open initializes a Store at dbPath.
func Open(dbPath string) (*Store, error) {
	return OpenWithOptions(Options{DBPath: dbPath})
}

// OpenWithOptions initializes a Store using the provided options.
func OpenWithOptions(opts Options) (*Store, error) {
	if opts.DBPath == "" {
		return nil, errors.New("db path is required")
	}
	cleanPath := filepath.Clean(opts.DBPath)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", cleanPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite performs best with a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logger.Warn("pragma busy_timeout failed", "err", err)
	}

	if err := initDatabase(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init database: %w", err)
	}

	s := NewWithDB(db, logger, opts.FeedBuffer)
	s.dbPath = cleanPath
	return s, nil
}

// NewWithDB wraps an already initialized database.
func NewWithDB(db *sql.DB, logger *slog.Logger, feedBuffer int) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger, hub: backend.NewHub(feedBuffer, logger)}
}

// DBPath returns the underlying database path.
func (s *Store) DBPath() string {
	return s.dbPath
}

// Close ends every feed and releases database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	s.hub.Close()
	return s.db.Close()
}

func (s *Store) Subscribe(ctx context.Context) (journal.Feed, error) {
	return s.hub.Subscribe()
}

const tradeColumns = `id, user_id, date, pair, direction, session, strategy, risk, result_r, result_usd, setup_tag, mood, screenshot_url, notes`

func (s *Store) List(ctx context.Context, ownerID string) ([]journal.TradeRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+tradeColumns+" FROM trades WHERE user_id = ? ORDER BY date ASC, id ASC", ownerID)
	if err != nil {
		return nil, journal.WrapError(journal.ErrCodeDatabase, "list trades", err)
	}
	defer rows.Close()

	records := make([]journal.TradeRecord, 0)
	for rows.Next() {
		rec, err := scanTrade(rows)
		if err != nil {
			return nil, journal.WrapError(journal.ErrCodeDatabase, "scan trade", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, journal.WrapError(journal.ErrCodeDatabase, "list trades", err)
	}
	return records, nil
}

func (s *Store) Get(ctx context.Context, id string) (journal.TradeRecord, error) {
	return getTrade(ctx, s.db, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getTrade(ctx context.Context, q queryer, id string) (journal.TradeRecord, error) {
	rec, err := scanTrade(q.QueryRowContext(ctx, "SELECT "+tradeColumns+" FROM trades WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return journal.TradeRecord{}, journal.NewError(journal.ErrCodeNotFound, "trade not found")
	}
	if err != nil {
		return journal.TradeRecord{}, journal.WrapError(journal.ErrCodeDatabase, "get trade", err)
	}
	return rec, nil
}

func (s *Store) Insert(ctx context.Context, rec journal.TradeRecord) (journal.TradeRecord, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	row := journal.ToWire(rec)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO trades ("+tradeColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			tradeArgs(rec)...)
		if err != nil {
			if isUniqueViolation(err) {
				return journal.WrapError(journal.ErrCodeDuplicate, "trade already exists", err)
			}
			return journal.WrapError(journal.ErrCodeDatabase, "insert trade", err)
		}
		return appendChange(ctx, tx, journal.ChangeInsert, rec, row)
	})
	if err != nil {
		return journal.TradeRecord{}, err
	}
	s.hub.Publish(journal.RawChange{Kind: journal.ChangeInsert, Table: journal.TableTrades, New: row})
	return rec, nil
}

func (s *Store) Update(ctx context.Context, rec journal.TradeRecord) (journal.TradeRecord, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	row := journal.ToWire(rec)
	var old journal.TradeRecord
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		old, err = getTrade(ctx, tx, rec.ID)
		if err != nil {
			return err
		}
		args := append(tradeArgs(rec)[1:], rec.ID)
		if _, err := tx.ExecContext(ctx, `
			UPDATE trades SET user_id = ?, date = ?, pair = ?, direction = ?, session = ?, strategy = ?,
				risk = ?, result_r = ?, result_usd = ?, setup_tag = ?, mood = ?, screenshot_url = ?, notes = ?,
				updated_at = CURRENT_TIMESTAMP
			WHERE id = ?
		`, args...); err != nil {
			return journal.WrapError(journal.ErrCodeDatabase, "update trade", err)
		}
		return appendChange(ctx, tx, journal.ChangeUpdate, rec, row)
	})
	if err != nil {
		return journal.TradeRecord{}, err
	}
	s.hub.Publish(journal.RawChange{Kind: journal.ChangeUpdate, Table: journal.TableTrades, New: row, Old: journal.ToWire(old)})
	return rec, nil
}

func (s *Store) Delete(ctx context.Context, id string) (journal.TradeRecord, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var old journal.TradeRecord
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		old, err = getTrade(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM trades WHERE id = ?", id); err != nil {
			return journal.WrapError(journal.ErrCodeDatabase, "delete trade", err)
		}
		return appendChange(ctx, tx, journal.ChangeDelete, old, journal.ToWire(old))
	})
	if err != nil {
		return journal.TradeRecord{}, err
	}
	s.hub.Publish(journal.RawChange{Kind: journal.ChangeDelete, Table: journal.TableTrades, Old: journal.ToWire(old)})
	return old, nil
}

// History returns ownerID's committed writes, newest first.
func (s *Store) History(ctx context.Context, ownerID string, limit, offset int) ([]backend.ChangeEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT seq, kind, trade_id, payload, created_at FROM change_log WHERE user_id = ? ORDER BY seq DESC LIMIT ? OFFSET ?",
		ownerID, limit, offset,
	)
	if err != nil {
		return nil, journal.WrapError(journal.ErrCodeDatabase, "query history", err)
	}
	defer rows.Close()

	var entries []backend.ChangeEntry
	for rows.Next() {
		var e backend.ChangeEntry
		var kind string
		var payload, createdAt sql.NullString
		if err := rows.Scan(&e.Seq, &kind, &e.TradeID, &payload, &createdAt); err != nil {
			return nil, journal.WrapError(journal.ErrCodeDatabase, "scan history", err)
		}
		e.Kind = journal.ChangeKind(kind)
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &e.Row); err != nil {
				s.logger.Warn("skipping unreadable history payload", "seq", e.Seq, "err", err)
			}
		}
		if createdAt.Valid {
			e.CreatedAt = createdAt.String
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func appendChange(ctx context.Context, tx *sql.Tx, kind journal.ChangeKind, rec journal.TradeRecord, row journal.Row) error {
	payload, err := json.Marshal(row)
	if err != nil {
		return journal.WrapError(journal.ErrCodeInternal, "encode change", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO change_log (kind, trade_id, user_id, payload) VALUES (?, ?, ?, ?)",
		string(kind), rec.ID, rec.OwnerID, string(payload),
	); err != nil {
		return journal.WrapError(journal.ErrCodeDatabase, "append change", err)
	}
	return nil
}

// withTx runs fn in a transaction, rolling back on error or panic.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return journal.WrapError(journal.ErrCodeDatabase, "failed to begin transaction", err)
	}

	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.Error("transaction rollback failed on panic", "error", rbErr, "panic_value", p)
			}
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("transaction rollback failed", "error", rbErr, "original_error", err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return journal.WrapError(journal.ErrCodeDatabase, "failed to commit transaction", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTrade(sc scanner) (journal.TradeRecord, error) {
	var rec journal.TradeRecord
	var direction string
	var setupTag, mood, screenshot, notes sql.NullString
	err := sc.Scan(
		&rec.ID, &rec.OwnerID, &rec.OccurredOn, &rec.Instrument, &direction,
		&rec.Session, &rec.StrategyTag,
		&rec.RiskAmount, &rec.ResultInRiskUnits, &rec.ResultInCurrency,
		&setupTag, &mood, &screenshot, &notes,
	)
	if err != nil {
		return journal.TradeRecord{}, err
	}
	rec.Direction = journal.Direction(direction)
	rec.SetupTag = nullString(setupTag)
	rec.ScreenshotReference = nullString(screenshot)
	rec.FreeformNotes = nullString(notes)
	if mood.Valid {
		m, ok := journal.ParseMood(mood.String)
		if !ok {
			return journal.TradeRecord{}, fmt.Errorf("unknown mood %q", mood.String)
		}
		rec.Mood = &m
	}
	return rec, nil
}

func tradeArgs(rec journal.TradeRecord) []any {
	var mood any
	if rec.Mood != nil {
		mood = string(*rec.Mood)
	}
	return []any{
		rec.ID, rec.OwnerID, rec.OccurredOn, rec.Instrument, string(rec.Direction),
		rec.Session, rec.StrategyTag,
		rec.RiskAmount.String(), rec.ResultInRiskUnits.String(), rec.ResultInCurrency.String(),
		optional(rec.SetupTag), mood, optional(rec.ScreenshotReference), optional(rec.FreeformNotes),
	}
}

func optional(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
