package cli

import (
	"context"
	"fmt"

	"tradejournal/internal/backend"
	"tradejournal/internal/backend/sqlite"
	"tradejournal/pkg/journal"
	"tradejournal/pkg/journal/client"
)

// conn is an authenticated journal backend for one owner.
type conn struct {
	owner   string
	adapter *journal.Adapter
	summary func(ctx context.Context) (journal.Summary, error)
	close   func() error
}

func (a *App) connect(ctx context.Context) (*conn, error) {
	if a.localDB != "" {
		return a.connectLocal()
	}
	return a.connectRemote(ctx)
}

func (a *App) connectLocal() (*conn, error) {
	if a.owner == "" {
		return nil, journal.NewError(journal.ErrCodeInvalidInput, "--owner is required with --local")
	}
	store, err := sqlite.OpenWithOptions(sqlite.Options{DBPath: a.localDB, Logger: a.logger})
	if err != nil {
		return nil, fmt.Errorf("open local journal: %w", err)
	}
	svc := backend.NewService(store, a.logger)
	owner := a.owner
	return &conn{
		owner:   owner,
		adapter: journal.NewAdapter(backend.NewLocal(svc, owner), a.logger),
		summary: func(ctx context.Context) (journal.Summary, error) {
			return svc.Summary(ctx, owner)
		},
		close: store.Close,
	}, nil
}

func (a *App) connectRemote(ctx context.Context) (*conn, error) {
	c, err := client.New(client.Options{
		BaseURL: a.cfg.Client.BaseURL,
		Token:   a.cfg.Client.Token,
		Logger:  a.logger,
	})
	if err != nil {
		return nil, err
	}
	owner, err := c.Me(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve owner: %w", err)
	}
	return &conn{
		owner:   owner,
		adapter: journal.NewAdapter(c, a.logger),
		summary: c.Summary,
		close:   func() error { return nil },
	}, nil
}

// records loads the owner's trades in date order.
func (c *conn) records(ctx context.Context) ([]journal.TradeRecord, error) {
	return c.adapter.InitialLoad(ctx, c.owner)
}

func (a *App) withConn(ctx context.Context, fn func(*conn) error) error {
	c, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.close(); err != nil {
			a.logger.Warn("close journal", "err", err)
		}
	}()
	return fn(c)
}
