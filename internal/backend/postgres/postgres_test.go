package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradejournal/pkg/journal"
)

func TestParseNotification(t *testing.T) {
	n, kind, err := parseNotification(`{"type":"DELETE","table":"trades","id":"01HZ","user_id":"u1"}`)
	require.NoError(t, err)
	assert.Equal(t, journal.ChangeDelete, kind)
	assert.Equal(t, "trades", n.Table)
	assert.Equal(t, "01HZ", n.ID)
	assert.Equal(t, "u1", n.UserID)

	_, _, err = parseNotification(`{"type":"TRUNCATE","id":"x"}`)
	assert.Error(t, err)
	_, _, err = parseNotification(`{"type":"INSERT"}`)
	assert.Error(t, err)
	_, _, err = parseNotification(`not json`)
	assert.Error(t, err)
}

func TestEnsureSSLMode(t *testing.T) {
	cases := []struct{ in, want string }{
		{
			in:   "postgres://u:p@db.example.com:5432/journal",
			want: "postgres://u:p@db.example.com:5432/journal?sslmode=require",
		},
		{
			in:   "postgres://u:p@db.example.com:5432/journal?sslmode=disable",
			want: "postgres://u:p@db.example.com:5432/journal?sslmode=disable",
		},
		{
			in:   "postgres://u:p@localhost:5432/journal",
			want: "postgres://u:p@localhost:5432/journal",
		},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ensureSSLMode(tc.in), tc.in)
	}
}

func TestPoolConfigFromEnv(t *testing.T) {
	t.Setenv("TRADEJOURNAL_DB_MAX_CONNS", "1")
	t.Setenv("TRADEJOURNAL_DB_MIN_CONNS", "5")
	t.Setenv("TRADEJOURNAL_DB_MAX_CONN_LIFETIME", "10m")
	t.Setenv("TRADEJOURNAL_DB_MAX_CONN_IDLE_TIME", "bogus")

	cfg := PoolConfigFromEnv()
	assert.Equal(t, int32(2), cfg.MaxConns)
	assert.Equal(t, int32(2), cfg.MinConns)
	assert.Equal(t, 10*time.Minute, cfg.MaxConnLifetime)
	assert.Equal(t, DefaultPoolConfig().MaxConnIdleTime, cfg.MaxConnIdleTime)
}

func TestStoreAgainstDatabase(t *testing.T) {
	url := os.Getenv("TRADEJOURNAL_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TRADEJOURNAL_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, Options{DatabaseURL: url})
	require.NoError(t, err)
	defer s.Close()

	owner := "it-" + time.Now().Format("150405.000000")
	feed, err := s.Subscribe(ctx)
	require.NoError(t, err)
	defer feed.Close()
	// Give the listener time to issue LISTEN.
	time.Sleep(200 * time.Millisecond)

	rec := journal.TradeRecord{
		ID:      owner + "-1",
		OwnerID: owner,
		TradeFields: journal.TradeFields{
			OccurredOn:        "2024-05-06",
			Instrument:        "NAS100",
			Direction:         journal.DirectionLong,
			Session:           "NY",
			StrategyTag:       "orb",
			RiskAmount:        journal.NewAmount(200),
			ResultInCurrency:  journal.NewAmount(410.5),
			ResultInRiskUnits: journal.NewAmount(2.05),
		},
	}
	_, err = s.Insert(ctx, rec)
	require.NoError(t, err)

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-06", got.OccurredOn)
	assert.Equal(t, "410.5", got.ResultInCurrency.String())

	waitFor := func(kind journal.ChangeKind) journal.RawChange {
		deadline := time.After(5 * time.Second)
		for {
			select {
			case raw, ok := <-feed.Changes():
				require.True(t, ok)
				if raw.Kind == kind && (journal.RowOwner(raw.New) == owner || journal.RowOwner(raw.Old) == owner) {
					return raw
				}
			case <-deadline:
				t.Fatalf("no %s notification", kind)
			}
		}
	}
	raw := waitFor(journal.ChangeInsert)
	assert.Equal(t, rec.ID, raw.New[journal.KeyID])

	_, err = s.Delete(ctx, rec.ID)
	require.NoError(t, err)
	raw = waitFor(journal.ChangeDelete)
	assert.Equal(t, rec.ID, raw.Old[journal.KeyID])

	_, err = s.Delete(ctx, rec.ID)
	assert.True(t, journal.IsErrorCode(err, journal.ErrCodeNotFound))
}
