package backend

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradejournal/pkg/journal"
)

func fields(date string, result float64) journal.TradeFields {
	return journal.TradeFields{
		OccurredOn:        date,
		Instrument:        "EURUSD",
		Direction:         journal.DirectionLong,
		Session:           "London",
		StrategyTag:       "breakout",
		RiskAmount:        journal.NewAmount(50),
		ResultInCurrency:  journal.NewAmount(result),
		ResultInRiskUnits: journal.NewAmount(result / 50),
	}
}

func newService(t *testing.T) *Service {
	t.Helper()
	store := NewMemoryStore(nil)
	t.Cleanup(func() { _ = store.Close() })
	return NewService(store, nil)
}

func TestServiceScopesByOwner(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	mine, err := svc.Create(ctx, "me", fields("2024-01-02", 10))
	require.NoError(t, err)
	theirs, err := svc.Create(ctx, "them", fields("2024-01-01", 20))
	require.NoError(t, err)
	assert.NotEqual(t, mine.ID, theirs.ID)

	list, err := svc.List(ctx, "me")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, mine.ID, list[0].ID)

	err = svc.Delete(ctx, "me", theirs.ID)
	assert.True(t, journal.IsErrorCode(err, journal.ErrCodeNotFound))

	hijack := theirs
	hijack.OwnerID = "me"
	_, err = svc.Replace(ctx, "me", hijack)
	assert.True(t, journal.IsErrorCode(err, journal.ErrCodeNotFound))

	moved := mine
	moved.OwnerID = "them"
	_, err = svc.Replace(ctx, "me", moved)
	assert.True(t, journal.IsErrorCode(err, journal.ErrCodeInvalidInput))

	_, err = svc.List(ctx, "")
	assert.True(t, journal.IsErrorCode(err, journal.ErrCodeUnauthorized))
}

func TestServiceValidatesFields(t *testing.T) {
	svc := newService(t)
	bad := fields("2024-13-01", 1)
	_, err := svc.Create(context.Background(), "me", bad)
	assert.True(t, journal.IsErrorCode(err, journal.ErrCodeValidation))
}

func TestServiceSubscribeFiltersOwner(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	feed, err := svc.Subscribe(ctx, "me")
	require.NoError(t, err)
	defer feed.Close()

	_, err = svc.Create(ctx, "them", fields("2024-01-01", 1))
	require.NoError(t, err)
	mine, err := svc.Create(ctx, "me", fields("2024-01-01", 1))
	require.NoError(t, err)

	select {
	case raw := <-feed.Changes():
		assert.Equal(t, mine.ID, raw.New[journal.KeyID])
	case <-time.After(time.Second):
		t.Fatal("no change delivered")
	}
}

func TestServiceSummary(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	for i, r := range []float64{100, -50, 20} {
		_, err := svc.Create(ctx, "me", fields(fmt.Sprintf("2024-01-%02d", i+1), r))
		require.NoError(t, err)
	}

	sum, err := svc.Summary(ctx, "me")
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Stats.Total)
	require.Len(t, sum.EquityCurve, 3)
	assert.Equal(t, 70.0, sum.EquityCurve[2].Equity.Float())
}

func TestLocalBackendDrivesSession(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, "me", fields("2024-01-01", 10))
	require.NoError(t, err)
	_, err = svc.Create(ctx, "them", fields("2024-01-01", 99))
	require.NoError(t, err)

	adapter := journal.NewAdapter(NewLocal(svc, "me"), nil)
	s := journal.NewSession(ctx, adapter, "me", journal.SessionOptions{InitialBackoff: 5 * time.Millisecond})
	defer s.Close()
	<-s.Ready()
	require.Len(t, s.View().Records, 1)

	rec, err := s.Add(ctx, fields("2024-01-02", -4))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(s.View().Records) == 2 }, time.Second, 5*time.Millisecond)

	rec.FreeformNotes = nil
	rec.Instrument = "GBPUSD"
	_, err = s.Replace(ctx, rec)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		for _, r := range s.View().Records {
			if r.ID == rec.ID && r.Instrument == "GBPUSD" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Delete(ctx, rec.ID))
	require.Eventually(t, func() bool { return len(s.View().Records) == 1 }, time.Second, 5*time.Millisecond)
}

func TestLocalRejectsOtherOwner(t *testing.T) {
	svc := newService(t)
	l := NewLocal(svc, "me")
	_, err := l.Fetch(context.Background(), "them")
	assert.True(t, journal.IsErrorCode(err, journal.ErrCodeUnauthorized))

	row := journal.ToInsertRow("them", fields("2024-01-01", 1))
	_, err = l.Insert(context.Background(), row)
	assert.True(t, journal.IsErrorCode(err, journal.ErrCodeUnauthorized))
}
