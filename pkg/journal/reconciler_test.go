package journal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func insertEvent(rec TradeRecord) ChangeEvent {
	return ChangeEvent{Kind: ChangeInsert, Record: rec, RecordID: rec.ID, OwnerID: rec.OwnerID}
}

func deleteEvent(id, owner string) ChangeEvent {
	return ChangeEvent{Kind: ChangeDelete, RecordID: id, OwnerID: owner}
}

func TestApplyInsertTwiceMatchesOnce(t *testing.T) {
	t.Parallel()

	once := NewReconciler("me", ReconcilerOptions{})
	twice := NewReconciler("me", ReconcilerOptions{})
	ev := insertEvent(sampleRecord("a", "me", "2024-01-01", 10))

	once.Apply(ev)
	twice.Apply(ev)
	twice.Apply(ev)

	assert.Equal(t, once.View().Records, twice.View().Records)
	assert.Equal(t, 1, twice.View().Stats.Total)
}

func TestApplyDeleteAbsentIsNoop(t *testing.T) {
	t.Parallel()

	r := NewReconciler("me", ReconcilerOptions{})
	r.Apply(insertEvent(sampleRecord("a", "me", "2024-01-01", 10)))
	before := r.View()

	assert.False(t, r.Apply(deleteEvent("missing", "me")))
	after := r.View()
	assert.Equal(t, before.Records, after.Records)
	assert.Equal(t, before.Version, after.Version)
}

func TestApplyIgnoresForeignOwner(t *testing.T) {
	t.Parallel()

	r := NewReconciler("me", ReconcilerOptions{})
	assert.False(t, r.Apply(insertEvent(sampleRecord("x", "other", "2024-01-01", 10))))

	// An event claiming to be ours but carrying a foreign record.
	ev := insertEvent(sampleRecord("y", "other", "2024-01-01", 10))
	ev.OwnerID = "me"
	assert.False(t, r.Apply(ev))
	assert.Empty(t, r.View().Records)
}

func TestApplyUpdateReplacesWholeRecord(t *testing.T) {
	t.Parallel()

	r := NewReconciler("me", ReconcilerOptions{})
	r.Apply(insertEvent(sampleRecord("a", "me", "2024-01-01", 10)))

	notes := "moved stop"
	updated := sampleRecord("a", "me", "2024-01-02", -5)
	updated.FreeformNotes = &notes
	r.Apply(ChangeEvent{Kind: ChangeUpdate, Record: updated, RecordID: "a", OwnerID: "me"})

	v := r.View()
	require.Len(t, v.Records, 1)
	assert.Equal(t, "2024-01-02", v.Records[0].OccurredOn)
	assert.Equal(t, "moved stop", *v.Records[0].FreeformNotes)
	assert.Equal(t, 1, v.Stats.Losses)
}

func TestTombstoneDropsLateInsert(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	r := NewReconciler("me", ReconcilerOptions{
		TombstoneTTL: time.Minute,
		Now:          func() time.Time { return now },
	})

	r.Apply(deleteEvent("a", "me"))
	assert.False(t, r.Apply(insertEvent(sampleRecord("a", "me", "2024-01-01", 10))))
	assert.Empty(t, r.View().Records)

	now = now.Add(2 * time.Minute)
	assert.True(t, r.Apply(insertEvent(sampleRecord("a", "me", "2024-01-01", 10))))
	assert.Len(t, r.View().Records, 1)
}

func TestNegativeTombstoneTTLDisables(t *testing.T) {
	t.Parallel()

	r := NewReconciler("me", ReconcilerOptions{TombstoneTTL: -1})
	r.Apply(deleteEvent("a", "me"))
	assert.True(t, r.Apply(insertEvent(sampleRecord("a", "me", "2024-01-01", 10))))
}

func TestOnChangeReceivesViews(t *testing.T) {
	t.Parallel()

	r := NewReconciler("me", ReconcilerOptions{Order: OrderNewestFirst})
	var seen []int
	stop := r.OnChange(func(v View) { seen = append(seen, len(v.Records)) })

	r.Apply(insertEvent(sampleRecord("a", "me", "2024-01-01", 10)))
	r.Apply(insertEvent(sampleRecord("b", "me", "2024-01-02", 10)))
	assert.Equal(t, []string{"b", "a"}, ids(r.View().Records))

	stop()
	r.Apply(deleteEvent("a", "me"))
	assert.Equal(t, []int{1, 2}, seen)
}

func TestStartReplaysEventsFromDuringLoad(t *testing.T) {
	t.Parallel()

	b := newMemBackend()
	b.seed(
		sampleRow("a", "me", "2024-01-02", 10),
		sampleRow("b", "me", "2024-01-01", 20),
	)
	b.onFetch = func() {
		b.emit(RawChange{Kind: ChangeInsert, Table: TableTrades, New: sampleRow("c", "me", "2024-01-03", 5)})
		b.emit(RawChange{Kind: ChangeDelete, Table: TableTrades, Old: Row{KeyID: "a"}})
		b.emit(RawChange{Kind: ChangeInsert, Table: TableTrades, New: sampleRow("b", "me", "2024-01-01", 20)})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := NewReconciler("me", ReconcilerOptions{Order: OrderByDate})
	sub, err := r.Start(ctx, NewAdapter(b, nil))
	require.NoError(t, err)
	defer sub.Unsubscribe()

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, sub) }()

	require.Eventually(t, func() bool {
		v := r.View()
		return v.State == StateSyncing && len(v.Records) == 2 && v.Records[1].ID == "c"
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"b", "c"}, ids(r.View().Records))

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestStartFailureTearsDown(t *testing.T) {
	t.Parallel()

	b := newMemBackend()
	b.fetchErr = errors.New("network down")

	r := NewReconciler("me", ReconcilerOptions{})
	r.Apply(insertEvent(sampleRecord("stale", "me", "2024-01-01", 1)))

	sub, err := r.Start(context.Background(), NewAdapter(b, nil))
	assert.Nil(t, sub)
	assert.True(t, IsErrorCode(err, ErrCodeFetch))

	v := r.View()
	assert.Equal(t, StateIdle, v.State)
	assert.Empty(t, v.Records)
	assert.Equal(t, 1, b.subscribeCount())

	b.emit(RawChange{Kind: ChangeInsert, Table: TableTrades, New: sampleRow("late", "me", "2024-01-01", 5)})
	assert.Empty(t, r.View().Records)
}

func TestFailedResyncKeepsRecords(t *testing.T) {
	t.Parallel()

	b := newMemBackend()
	b.seed(sampleRow("a", "me", "2024-01-01", 10), sampleRow("b", "me", "2024-01-02", -4))
	r := NewReconciler("me", ReconcilerOptions{})
	sub, err := r.Start(context.Background(), NewAdapter(b, nil))
	require.NoError(t, err)

	b.dropFeeds()
	require.Error(t, r.Run(context.Background(), sub))
	sub.Unsubscribe()

	b.subscribeErr = errors.New("refused")
	sub, err = r.Start(context.Background(), NewAdapter(b, nil))
	assert.Nil(t, sub)
	assert.True(t, IsErrorCode(err, ErrCodeSubscription))

	b.subscribeErr = nil
	b.fetchErr = errors.New("network down")
	sub, err = r.Start(context.Background(), NewAdapter(b, nil))
	assert.Nil(t, sub)
	assert.True(t, IsErrorCode(err, ErrCodeFetch))

	v := r.View()
	assert.Equal(t, StateIdle, v.State)
	assert.True(t, v.Stale)
	assert.Equal(t, []string{"a", "b"}, ids(v.Records))
	assert.Equal(t, 2, v.Stats.Total)

	b.fetchErr = nil
	sub, err = r.Start(context.Background(), NewAdapter(b, nil))
	require.NoError(t, err)
	defer sub.Unsubscribe()
	v = r.View()
	assert.Equal(t, StateSyncing, v.State)
	assert.False(t, v.Stale)
	assert.Len(t, v.Records, 2)
}

func TestRunMarksStaleWhenFeedDrops(t *testing.T) {
	t.Parallel()

	b := newMemBackend()
	r := NewReconciler("me", ReconcilerOptions{})
	sub, err := r.Start(context.Background(), NewAdapter(b, nil))
	require.NoError(t, err)

	b.dropFeeds()
	err = r.Run(context.Background(), sub)
	assert.True(t, IsErrorCode(err, ErrCodeSubscription))
	assert.True(t, r.View().Stale)
	sub.Unsubscribe()
}
