package backtest

import (
	"context"
	"testing"
	"time"

	"polyback/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionLoader_TruncatesToShorterLeg(t *testing.T) {
	src := newMemSource()
	src.add(1000, market.LegUp, repeatSnaps(flatBook(0.48, 0.50, 100), 100))
	src.add(1000, market.LegDown, repeatSnaps(flatBook(0.48, 0.50, 100), 97))

	sl, err := NewSessionLoader(context.Background(), src, 1, 2000, time.Hour)
	require.NoError(t, err)
	require.True(t, sl.HasNextSession())

	session, err := sl.NextSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 97, session.Ticks)

	count := 0
	for sl.HasNextTick() {
		tick, err := sl.NextTick()
		require.NoError(t, err)
		assert.Equal(t, count, tick.Index)
		count++
	}
	assert.Equal(t, 97, count)

	done, total := sl.Progress()
	assert.Equal(t, 1, done)
	assert.Equal(t, 1, total)
}

func TestSessionLoader_SkipsCorruptSession(t *testing.T) {
	src := newMemSource()
	// bids 升序，违反降序不变量
	bad := book([]market.PriceLevel{lvl(0.40, 10), lvl(0.45, 10)}, []market.PriceLevel{lvl(0.50, 10)})
	src.add(1000, market.LegUp, repeatSnaps(bad, 3))
	src.add(1000, market.LegDown, repeatSnaps(flatBook(0.48, 0.50, 100), 3))
	src.add(2000, market.LegUp, repeatSnaps(flatBook(0.48, 0.50, 100), 3))
	src.add(2000, market.LegDown, repeatSnaps(flatBook(0.48, 0.50, 100), 3))

	sl, err := NewSessionLoader(context.Background(), src, 1, 3000, time.Hour)
	require.NoError(t, err)

	session, err := sl.NextSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2000), session.MarketTS)
}

func TestSessionLoader_Exhausted(t *testing.T) {
	src := newMemSource()
	src.add(1000, market.LegUp, repeatSnaps(flatBook(0.48, 0.50, 100), 2))
	src.add(1000, market.LegDown, repeatSnaps(flatBook(0.48, 0.50, 100), 2))

	sl, err := NewSessionLoader(context.Background(), src, 1, 2000, time.Hour)
	require.NoError(t, err)

	_, err = sl.NextSession(context.Background())
	require.NoError(t, err)
	for sl.HasNextTick() {
		_, err := sl.NextTick()
		require.NoError(t, err)
	}

	_, err = sl.NextTick()
	assert.ErrorIs(t, err, ErrExhausted)
	_, err = sl.NextSession(context.Background())
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestSessionLoader_RejectsBadWindow(t *testing.T) {
	src := newMemSource()
	_, err := NewSessionLoader(context.Background(), src, 2000, 1000, time.Hour)
	assert.Error(t, err)
	_, err = NewSessionLoader(context.Background(), src, 1, 2, 0)
	assert.Error(t, err)
}
