package backtest

import (
	"testing"

	"polyback/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStrategyRegistry(t *testing.T) {
	names := StrategyNames()
	assert.Contains(t, names, "threshold")
	assert.Contains(t, names, "rsi")

	_, err := NewStrategyByName("martingale", StrategySpec{})
	assert.Error(t, err)
}

func TestThresholdStrategy_Params(t *testing.T) {
	t.Run("字符串数字弱类型解析", func(t *testing.T) {
		s, err := NewStrategyByName("threshold", StrategySpec{Params: map[string]any{
			"entry_below": "0.45",
			"size":        "200",
		}})
		require.NoError(t, err)
		ts := s.(*thresholdStrategy)
		assert.InDelta(t, 0.45, ts.entryBelow, 1e-9)
		assert.InDelta(t, 200, ts.size, 1e-9)
	})

	t.Run("阈值超界被拒", func(t *testing.T) {
		_, err := NewStrategyByName("threshold", StrategySpec{Params: map[string]any{"entry_below": 1.2}})
		assert.Error(t, err)
	})

	t.Run("未知 leg 被拒", func(t *testing.T) {
		_, err := NewStrategyByName("threshold", StrategySpec{Params: map[string]any{"leg": "flat"}})
		assert.Error(t, err)
	})
}

func TestThresholdStrategy_OncePerSession(t *testing.T) {
	s := newThresholdForTest(t, map[string]any{"entry_below": 0.40, "size": 100})
	l := newTestLedger(t, 10000, 0, tickOf(100, 0, flatBook(0.30, 0.35, 500), flatBook(0.60, 0.65, 500)))

	state := s.Init()
	var err error
	for i := 0; i < 3; i++ {
		tick := tickOf(100, i, flatBook(0.30, 0.35, 500), flatBook(0.60, 0.65, 500))
		l.setTick(&tick)
		state, err = s.OnTick(state, l, tick)
		require.NoError(t, err)
	}
	assert.Len(t, l.Trades(), 1)

	// 新 session 允许再次进场
	next := tickOf(200, 0, flatBook(0.30, 0.35, 500), flatBook(0.60, 0.65, 500))
	l.setTick(&next)
	_, err = s.OnTick(state, l, next)
	require.NoError(t, err)
	assert.Len(t, l.Trades(), 2)
}

func TestRSIStrategy_Params(t *testing.T) {
	_, err := NewStrategyByName("rsi", StrategySpec{Params: map[string]any{"period": 1}})
	assert.Error(t, err)

	_, err = NewStrategyByName("rsi", StrategySpec{Params: map[string]any{"oversold": 80, "overbought": 70}})
	assert.Error(t, err)
}

func TestRSIStrategy_BuysOversold(t *testing.T) {
	s, err := NewStrategyByName("rsi", StrategySpec{Params: map[string]any{
		"period":   3,
		"oversold": 30,
		"size":     10,
	}})
	require.NoError(t, err)

	l := newTestLedger(t, 10000, 0, Tick{})
	state := s.Init()

	// 中间价单调下跌，RSI 归零后触发买入
	mid := 0.80
	for i := 0; i < 8; i++ {
		bid := mid - 0.01
		ask := mid + 0.01
		tick := tickOf(100, i, flatBook(bid, ask, 500), flatBook(0.20, 0.22, 500))
		l.setTick(&tick)
		state, err = s.OnTick(state, l, tick)
		require.NoError(t, err)
		mid -= 0.05
	}

	pos, ok := l.GetPosition(market.LegUp)
	require.True(t, ok)
	assert.InDelta(t, 10, pos.Size, 1e-9)
}
