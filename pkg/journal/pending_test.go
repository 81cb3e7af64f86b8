package journal

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingLifecycle(t *testing.T) {
	t.Parallel()

	p := NewPending()
	first := p.Begin(sampleFields("2024-01-01", 1))
	second := p.Begin(sampleFields("2024-01-02", 2))
	assert.NotEqual(t, first, second)
	require.Equal(t, 2, p.Len())

	p.Acknowledge(first, "r1")
	p.Fail(second, errors.New("nope"))

	// Unrelated records resolve nothing.
	p.Resolve([]TradeRecord{sampleRecord("other", "me", "2024-01-01", 1)})
	assert.Equal(t, 2, p.Len())

	p.Resolve([]TradeRecord{sampleRecord("r1", "me", "2024-01-01", 1)})
	items := p.List()
	require.Len(t, items, 1)
	assert.Equal(t, second, items[0].Token)
	assert.Equal(t, PendingFailed, items[0].Status)
	assert.EqualError(t, items[0].Err, "nope")

	p.Dismiss(second)
	assert.Zero(t, p.Len())
}
