package journal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastSession() SessionOptions {
	return SessionOptions{InitialBackoff: 5 * time.Millisecond, MaxBackoff: 20 * time.Millisecond}
}

func waitReady(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("session never became ready")
	}
}

func TestSessionAddAppearsViaFeed(t *testing.T) {
	t.Parallel()

	b := newMemBackend()
	b.seed(sampleRow("seed", "me", "2024-01-01", 10))
	s := NewSession(context.Background(), NewAdapter(b, nil), "me", fastSession())
	defer s.Close()
	waitReady(t, s)

	require.Equal(t, []string{"seed"}, ids(s.View().Records))

	rec, err := s.Add(context.Background(), sampleFields("2024-01-02", -5))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(s.View().Records) == 2 }, time.Second, 5*time.Millisecond)
	got := s.View()
	assert.Equal(t, []string{"seed", rec.ID}, ids(got.Records))
	assert.Equal(t, 1, got.Stats.Losses)
	require.Eventually(t, func() bool { return len(s.Pending()) == 0 }, time.Second, 5*time.Millisecond)
}

func TestSessionFailedWriteLeavesStoreUnchanged(t *testing.T) {
	t.Parallel()

	b := newMemBackend()
	s := NewSession(context.Background(), NewAdapter(b, nil), "me", fastSession())
	defer s.Close()
	waitReady(t, s)

	b.insertErr = errors.New("rejected")
	_, err := s.Add(context.Background(), sampleFields("2024-01-02", 5))
	assert.True(t, IsErrorCode(err, ErrCodeWrite))
	assert.Empty(t, s.View().Records)

	pending := s.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, PendingFailed, pending[0].Status)
	s.DismissPending(pending[0].Token)
	assert.Empty(t, s.Pending())
}

func TestSessionDeleteConfirmedByFeed(t *testing.T) {
	t.Parallel()

	b := newMemBackend()
	b.seed(sampleRow("a", "me", "2024-01-01", 10), sampleRow("b", "me", "2024-01-02", 10))
	s := NewSession(context.Background(), NewAdapter(b, nil), "me", fastSession())
	defer s.Close()
	waitReady(t, s)

	require.NoError(t, s.Delete(context.Background(), "a"))
	require.Eventually(t, func() bool { return len(s.View().Records) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "b", s.View().Records[0].ID)
}

func TestSessionResubscribesAfterDrop(t *testing.T) {
	t.Parallel()

	b := newMemBackend()
	s := NewSession(context.Background(), NewAdapter(b, nil), "me", fastSession())
	defer s.Close()
	waitReady(t, s)
	require.Equal(t, 1, b.subscribeCount())

	// A row the feed never announced is picked up by the resync load.
	b.seed(sampleRow("missed", "me", "2024-01-05", 7))
	b.dropFeeds()

	require.Eventually(t, func() bool {
		v := s.View()
		return b.subscribeCount() >= 2 && !v.Stale && len(v.Records) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.NoError(t, s.Err())
	assert.False(t, s.Stale())
}

func TestSessionKeepsRecordsDuringOutage(t *testing.T) {
	t.Parallel()

	b := newMemBackend()
	b.seed(sampleRow("a", "me", "2024-01-01", 10), sampleRow("b", "me", "2024-01-02", 5))
	s := NewSession(context.Background(), NewAdapter(b, nil), "me", fastSession())
	defer s.Close()
	waitReady(t, s)
	require.Len(t, s.View().Records, 2)

	b.mu.Lock()
	b.subscribeErr = errors.New("refused")
	b.mu.Unlock()
	b.dropFeeds()

	require.Eventually(t, func() bool { return b.subscribeCount() >= 3 }, 2*time.Second, 5*time.Millisecond)
	v := s.View()
	assert.True(t, s.Stale())
	assert.Len(t, v.Records, 2)
	assert.Equal(t, 2, v.Stats.Total)
	assert.Error(t, s.Err())

	b.mu.Lock()
	b.subscribeErr = nil
	b.mu.Unlock()
	require.Eventually(t, func() bool { return !s.Stale() }, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, s.View().Records, 2)
	assert.NoError(t, s.Err())
}

func TestSessionRetriesInitialLoad(t *testing.T) {
	t.Parallel()

	b := newMemBackend()
	b.fetchErr = errors.New("offline")
	b.seed(sampleRow("a", "me", "2024-01-01", 1))

	s := NewSession(context.Background(), NewAdapter(b, nil), "me", fastSession())
	defer s.Close()
	waitReady(t, s)

	assert.True(t, IsErrorCode(s.Err(), ErrCodeFetch))
	assert.Empty(t, s.View().Records)
	assert.True(t, s.Stale())

	b.mu.Lock()
	b.fetchErr = nil
	b.mu.Unlock()
	require.Eventually(t, func() bool { return len(s.View().Records) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestSessionCloseTearsDown(t *testing.T) {
	t.Parallel()

	b := newMemBackend()
	b.seed(sampleRow("a", "me", "2024-01-01", 1))
	s := NewSession(context.Background(), NewAdapter(b, nil), "me", fastSession())
	waitReady(t, s)

	s.Close()
	s.Close()
	v := s.View()
	assert.Equal(t, StateIdle, v.State)
	assert.Empty(t, v.Records)

	// Writes after close reach the backend but never a detached store.
	b.emit(RawChange{Kind: ChangeInsert, Table: TableTrades, New: sampleRow("b", "me", "2024-01-01", 1)})
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, s.View().Records)
}

func TestSessionReplaceRejectsForeignRecord(t *testing.T) {
	t.Parallel()

	s := NewSession(context.Background(), NewAdapter(newMemBackend(), nil), "me", fastSession())
	defer s.Close()

	_, err := s.Replace(context.Background(), sampleRecord("a", "other", "2024-01-01", 1))
	assert.True(t, IsErrorCode(err, ErrCodeUnauthorized))
}

func TestManagerFollowsAuthTransitions(t *testing.T) {
	t.Parallel()

	b := newMemBackend()
	b.seed(sampleRow("a1", "alice", "2024-01-01", 1), sampleRow("b1", "bob", "2024-01-01", 1))

	auth := NewStaticAuth("")
	var mu sync.Mutex
	var transitions []string
	m := NewManager(auth, NewAdapter(b, nil), fastSession(), func(s *Session) {
		mu.Lock()
		defer mu.Unlock()
		if s == nil {
			transitions = append(transitions, "")
			return
		}
		transitions = append(transitions, s.Owner())
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	auth.SignIn("alice")
	require.Eventually(t, func() bool {
		s := m.Current()
		return s != nil && s.Owner() == "alice" && len(s.View().Records) == 1
	}, 2*time.Second, 5*time.Millisecond)
	alice := m.Current()
	assert.Equal(t, "a1", alice.View().Records[0].ID)

	auth.SignIn("bob")
	require.Eventually(t, func() bool {
		s := m.Current()
		return s != nil && s.Owner() == "bob" && len(s.View().Records) == 1
	}, 2*time.Second, 5*time.Millisecond)
	<-alice.Done()
	assert.Empty(t, alice.View().Records)

	auth.SignOut()
	require.Eventually(t, func() bool { return m.Current() == nil }, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"alice", "bob", ""}, transitions)
}
