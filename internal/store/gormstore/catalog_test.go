package gormstore

import (
	"context"
	"testing"
	"time"

	"polyback/internal/backtest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := NewCatalog(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCatalog_UpsertAndGet(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	entry := backtest.CatalogEntry{
		MarketTS:   1000,
		Ticks:      97,
		Legs:       []string{"up", "down"},
		ImportedAt: time.Now(),
	}
	require.NoError(t, c.Upsert(ctx, entry))

	rec, ok, err := c.Get(ctx, 1000)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 97, rec.Ticks)
	assert.Equal(t, []string{"up", "down"}, rec.Legs)

	t.Run("重复 upsert 覆盖 ticks", func(t *testing.T) {
		entry.Ticks = 100
		require.NoError(t, c.Upsert(ctx, entry))
		rec, ok, err := c.Get(ctx, 1000)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 100, rec.Ticks)
	})

	t.Run("未知市场", func(t *testing.T) {
		_, ok, err := c.Get(ctx, 9999)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("market_ts 必填", func(t *testing.T) {
		assert.Error(t, c.Upsert(ctx, backtest.CatalogEntry{}))
	})
}

func TestCatalog_ListAndCount(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	for _, ts := range []int64{1000, 2000, 3000} {
		require.NoError(t, c.Upsert(ctx, backtest.CatalogEntry{
			MarketTS: ts,
			Ticks:    10,
			Legs:     []string{"up", "down"},
		}))
	}

	all, err := c.List(ctx, 0, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, int64(1000), all[0].MarketTS)
	assert.Equal(t, int64(3000), all[2].MarketTS)

	window, err := c.List(ctx, 1500, 2500, 0)
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, int64(2000), window[0].MarketTS)

	total, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}
