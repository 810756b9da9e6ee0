package backtest

import (
	"context"
	"testing"

	"polyback/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotStore_RoundTrip(t *testing.T) {
	store, err := NewSnapshotStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	up := repeatSnaps(withAsset(flatBook(0.48, 0.50, 100), 60000), 5)
	down := repeatSnaps(flatBook(0.48, 0.50, 100), 5)

	n, err := store.InsertSeries(ctx, 1000, market.LegUp, up)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	t.Run("单腿市场不可见", func(t *testing.T) {
		markets, err := store.ListMarkets(ctx, 1, 2000)
		require.NoError(t, err)
		assert.Empty(t, markets)
	})

	_, err = store.InsertSeries(ctx, 1000, market.LegDown, down)
	require.NoError(t, err)

	t.Run("双腿齐全后可列出", func(t *testing.T) {
		markets, err := store.ListMarkets(ctx, 1, 2000)
		require.NoError(t, err)
		assert.Equal(t, []int64{1000}, markets)
	})

	t.Run("按 tick 序读回", func(t *testing.T) {
		series, err := store.LoadSeries(ctx, 1000, market.LegUp)
		require.NoError(t, err)
		require.Len(t, series, 5)
		assert.InDelta(t, 60000, series[0].AssetPrice, 1e-9)
		assert.InDelta(t, 0.50, series[0].Asks[0].Price, 1e-9)
		for i := 1; i < len(series); i++ {
			assert.Greater(t, series[i].TS, series[i-1].TS)
		}
	})

	t.Run("manifest 统计刷新", func(t *testing.T) {
		m, err := store.Manifest(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1000), m.MinMarket)
		assert.Equal(t, int64(1000), m.MaxMarket)
		assert.Equal(t, int64(1), m.Markets)
		assert.Equal(t, int64(10), m.Rows)
	})

	t.Run("重复写入覆盖而非追加", func(t *testing.T) {
		_, err := store.InsertSeries(ctx, 1000, market.LegUp, up)
		require.NoError(t, err)
		series, err := store.LoadSeries(ctx, 1000, market.LegUp)
		require.NoError(t, err)
		assert.Len(t, series, 5)
	})
}

func TestSnapshotStore_AsLoaderSource(t *testing.T) {
	store, err := NewSnapshotStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	_, err = store.InsertSeries(ctx, 1000, market.LegUp, repeatSnaps(flatBook(0.48, 0.50, 100), 4))
	require.NoError(t, err)
	_, err = store.InsertSeries(ctx, 1000, market.LegDown, repeatSnaps(flatBook(0.48, 0.50, 100), 3))
	require.NoError(t, err)

	var src SnapshotSource = store
	markets, err := src.ListMarkets(ctx, 1, 2000)
	require.NoError(t, err)
	assert.Len(t, markets, 1)
}
