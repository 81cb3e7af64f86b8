// Package postgres is a backend.Store on PostgreSQL. Change notifications
// come from a row trigger through LISTEN/NOTIFY, so writes made by other
// processes reach feed subscribers too.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tradejournal/internal/backend"
	"tradejournal/pkg/journal"
)

// Options controls Store initialization.
type Options struct {
	DatabaseURL string
	Pool        PoolConfig
	Logger      *slog.Logger
	FeedBuffer  int
}

// Store keeps trades in PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	hub    *backend.Hub
	cancel context.CancelFunc
	done   chan struct{}
}

var _ backend.Store = (*Store)(nil)

// errResync ends feeds after the listener reconnected; changes may have
// been missed while it was down.
var errResync = journal.NewError(journal.ErrCodeSubscription, "change listener reconnected")

// Open connects, migrates and starts the change listener.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.DatabaseURL == "" {
		return nil, errors.New("database url is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Pool == (PoolConfig{}) {
		opts.Pool = DefaultPoolConfig()
	}

	pool, err := NewPool(ctx, opts.DatabaseURL, opts.Pool)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	s := &Store{
		pool:   pool,
		logger: logger,
		hub:    backend.NewHub(opts.FeedBuffer, logger),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.listen(listenCtx)
	return s, nil
}

// Close stops the listener, ends every feed and closes the pool.
func (s *Store) Close() error {
	s.cancel()
	<-s.done
	s.hub.Close()
	s.pool.Close()
	return nil
}

func (s *Store) Subscribe(ctx context.Context) (journal.Feed, error) {
	return s.hub.Subscribe()
}

const selectTrade = `
	select id, user_id, to_char(date, 'YYYY-MM-DD'), pair, direction, session, strategy,
		risk::text, result_r::text, result_usd::text, setup_tag, mood, screenshot_url, notes
	from trades`

func (s *Store) List(ctx context.Context, ownerID string) ([]journal.TradeRecord, error) {
	rows, err := s.pool.Query(ctx, selectTrade+` where user_id = $1 order by date asc, id asc`, ownerID)
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
	rec, err := scanTrade(s.pool.QueryRow(ctx, selectTrade+` where id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return journal.TradeRecord{}, journal.NewError(journal.ErrCodeNotFound, "trade not found")
	}
	if err != nil {
		return journal.TradeRecord{}, journal.WrapError(journal.ErrCodeDatabase, "get trade", err)
	}
	return rec, nil
}

func (s *Store) Insert(ctx context.Context, rec journal.TradeRecord) (journal.TradeRecord, error) {
	_, err := s.pool.Exec(ctx, `
		insert into trades (
			id, user_id, date, pair, direction, session, strategy,
			risk, result_r, result_usd, setup_tag, mood, screenshot_url, notes
		) values ($1, $2, $3::text::date, $4, $5, $6, $7,
			$8::text::numeric, $9::text::numeric, $10::text::numeric, $11, $12, $13, $14)
	`, tradeArgs(rec)...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return journal.TradeRecord{}, journal.WrapError(journal.ErrCodeDuplicate, "trade already exists", err)
		}
		return journal.TradeRecord{}, journal.WrapError(journal.ErrCodeDatabase, "insert trade", err)
	}
	return rec, nil
}

func (s *Store) Update(ctx context.Context, rec journal.TradeRecord) (journal.TradeRecord, error) {
	tag, err := s.pool.Exec(ctx, `
		update trades set
			user_id = $2, date = $3::text::date, pair = $4, direction = $5, session = $6, strategy = $7,
			risk = $8::text::numeric, result_r = $9::text::numeric, result_usd = $10::text::numeric,
			setup_tag = $11, mood = $12, screenshot_url = $13, notes = $14, updated_at = now()
		where id = $1
	`, tradeArgs(rec)...)
	if err != nil {
		return journal.TradeRecord{}, journal.WrapError(journal.ErrCodeDatabase, "update trade", err)
	}
	if tag.RowsAffected() == 0 {
		return journal.TradeRecord{}, journal.NewError(journal.ErrCodeNotFound, "trade not found")
	}
	return rec, nil
}

func (s *Store) Delete(ctx context.Context, id string) (journal.TradeRecord, error) {
	rec, err := scanTrade(s.pool.QueryRow(ctx, `
		delete from trades where id = $1
		returning id, user_id, to_char(date, 'YYYY-MM-DD'), pair, direction, session, strategy,
			risk::text, result_r::text, result_usd::text, setup_tag, mood, screenshot_url, notes
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return journal.TradeRecord{}, journal.NewError(journal.ErrCodeNotFound, "trade not found")
	}
	if err != nil {
		return journal.TradeRecord{}, journal.WrapError(journal.ErrCodeDatabase, "delete trade", err)
	}
	return rec, nil
}

// listen holds one pooled connection on LISTEN and republishes every
// notification to the hub, reconnecting with backoff.
func (s *Store) listen(ctx context.Context) {
	defer close(s.done)
	connected := false
	for {
		conn, err := backoff.Retry(ctx, func() (*pgxpool.Conn, error) {
			conn, err := s.pool.Acquire(ctx)
			if err != nil {
				return nil, err
			}
			if _, err := conn.Exec(ctx, "listen "+notifyChannel); err != nil {
				conn.Release()
				return nil, err
			}
			return conn, nil
		},
			backoff.WithBackOff(backoff.NewExponentialBackOff()),
			backoff.WithNotify(func(err error, next time.Duration) {
				s.logger.Warn("change listener connect failed", "err", err, "retry_in", next)
			}),
		)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		if connected {
			s.hub.DropAll(errResync)
		}
		connected = true

		err = s.receive(ctx, conn)
		conn.Release()
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("change listener dropped", "err", err)
	}
}

func (s *Store) receive(ctx context.Context, conn *pgxpool.Conn) error {
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		raw, ok, err := s.resolve(ctx, n.Payload)
		if err != nil {
			s.logger.Warn("dropping change notification", "payload", n.Payload, "err", err)
			continue
		}
		if ok {
			s.hub.Publish(raw)
		}
	}
}

// notification is the trigger payload.
type notification struct {
	Type   string `json:"type"`
	Table  string `json:"table"`
	ID     string `json:"id"`
	UserID string `json:"user_id"`
}

func parseNotification(payload string) (notification, journal.ChangeKind, error) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return notification{}, "", fmt.Errorf("decode payload: %w", err)
	}
	kind, ok := journal.ParseChangeKind(n.Type)
	if !ok {
		return notification{}, "", fmt.Errorf("unknown change type %q", n.Type)
	}
	if n.ID == "" {
		return notification{}, "", errors.New("notification without id")
	}
	return n, kind, nil
}

// resolve turns a notification into a RawChange, loading the current row
// for inserts and updates. A row deleted in the meantime yields ok=false;
// its own delete notification follows.
func (s *Store) resolve(ctx context.Context, payload string) (journal.RawChange, bool, error) {
	n, kind, err := parseNotification(payload)
	if err != nil {
		return journal.RawChange{}, false, err
	}
	keys := journal.Row{journal.KeyID: n.ID, journal.KeyOwner: n.UserID}
	raw := journal.RawChange{Kind: kind, Table: n.Table}
	if kind == journal.ChangeDelete {
		raw.Old = keys
		return raw, true, nil
	}

	rec, err := s.Get(ctx, n.ID)
	if journal.IsErrorCode(err, journal.ErrCodeNotFound) {
		return journal.RawChange{}, false, nil
	}
	if err != nil {
		return journal.RawChange{}, false, err
	}
	raw.New = journal.ToWire(rec)
	if kind == journal.ChangeUpdate {
		raw.Old = keys
	}
	return raw, true, nil
}

func scanTrade(row pgx.Row) (journal.TradeRecord, error) {
	var rec journal.TradeRecord
	var direction, risk, resultR, resultUSD string
	var mood *string
	err := row.Scan(
		&rec.ID, &rec.OwnerID, &rec.OccurredOn, &rec.Instrument, &direction,
		&rec.Session, &rec.StrategyTag, &risk, &resultR, &resultUSD,
		&rec.SetupTag, &mood, &rec.ScreenshotReference, &rec.FreeformNotes,
	)
	if err != nil {
		return journal.TradeRecord{}, err
	}
	rec.Direction = journal.Direction(direction)
	if rec.RiskAmount, err = journal.ParseAmount(risk); err != nil {
		return journal.TradeRecord{}, fmt.Errorf("risk: %w", err)
	}
	if rec.ResultInRiskUnits, err = journal.ParseAmount(resultR); err != nil {
		return journal.TradeRecord{}, fmt.Errorf("result_r: %w", err)
	}
	if rec.ResultInCurrency, err = journal.ParseAmount(resultUSD); err != nil {
		return journal.TradeRecord{}, fmt.Errorf("result_usd: %w", err)
	}
	if mood != nil {
		m, ok := journal.ParseMood(*mood)
		if !ok {
			return journal.TradeRecord{}, fmt.Errorf("unknown mood %q", *mood)
		}
		rec.Mood = &m
	}
	return rec, nil
}

func tradeArgs(rec journal.TradeRecord) []any {
	var mood *string
	if rec.Mood != nil {
		m := string(*rec.Mood)
		mood = &m
	}
	return []any{
		rec.ID, rec.OwnerID, rec.OccurredOn, rec.Instrument, string(rec.Direction),
		rec.Session, rec.StrategyTag,
		rec.RiskAmount.String(), rec.ResultInRiskUnits.String(), rec.ResultInCurrency.String(),
		rec.SetupTag, mood, rec.ScreenshotReference, rec.FreeformNotes,
	}
}
