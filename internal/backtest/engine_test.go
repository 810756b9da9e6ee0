package backtest

import (
	"context"
	"testing"
	"time"

	"polyback/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newThresholdForTest(t *testing.T, params map[string]any) Strategy {
	t.Helper()
	s, err := NewStrategyByName("threshold", StrategySpec{Params: params})
	require.NoError(t, err)
	return s
}

func buildEngine(t *testing.T, src SnapshotSource, policy SettlementPolicy) (*Engine, *Ledger) {
	t.Helper()
	sl, err := NewSessionLoader(context.Background(), src, 1, 1<<40, time.Hour)
	require.NoError(t, err)
	ledger, err := NewLedger(10000, 0)
	require.NoError(t, err)
	settler, err := NewSettler(policy)
	require.NoError(t, err)
	engine, err := NewEngine(sl, ledger, settler, false)
	require.NoError(t, err)
	return engine, ledger
}

func TestEngine_RequiresStrategy(t *testing.T) {
	src := newMemSource()
	engine, _ := buildEngine(t, src, SettleMark)
	err := engine.Run(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestEngine_NotReentrant(t *testing.T) {
	src := newMemSource()
	engine, _ := buildEngine(t, src, SettleMark)
	engine.SetStrategy(newThresholdForTest(t, nil))

	require.NoError(t, engine.Run(context.Background()))
	assert.Equal(t, StateFinished, engine.State())

	err := engine.Run(context.Background())
	assert.ErrorIs(t, err, ErrEngineFinished)
}

func TestEngine_EndToEndThreshold(t *testing.T) {
	src := newMemSource()
	// session 1: up 卖一 0.35，session 2: up 卖一 0.30，都在阈值内
	src.add(1000, market.LegUp, repeatSnaps(flatBook(0.30, 0.35, 500), 10))
	src.add(1000, market.LegDown, repeatSnaps(flatBook(0.60, 0.65, 500), 10))
	src.add(2000, market.LegUp, repeatSnaps(flatBook(0.25, 0.30, 500), 10))
	src.add(2000, market.LegDown, repeatSnaps(flatBook(0.65, 0.70, 500), 10))

	engine, ledger := buildEngine(t, src, SettleMark)
	engine.SetStrategy(newThresholdForTest(t, map[string]any{
		"leg":         "up",
		"entry_below": 0.40,
		"size":        100,
	}))

	ticksSeen := 0
	engine.Observer = func(tick Tick, equity float64) {
		ticksSeen++
		assert.Greater(t, equity, 0.0)
	}

	require.NoError(t, engine.Run(context.Background()))
	assert.Equal(t, StateFinished, engine.State())
	assert.Equal(t, 20, ticksSeen)

	report := Summarize(ledger)
	assert.Equal(t, 2, report.OpenCount)
	assert.Equal(t, 2, report.SettleCount)
	assert.Equal(t, 0, report.CloseCount)
	// 每个 session 按期末 bid 强平：0.35→0.30 和 0.30→0.25，各亏 5
	assert.InDelta(t, 10000-5-5, report.FinalBalance, 1e-9)

	done, total := engine.Progress()
	assert.Equal(t, 2, done)
	assert.Equal(t, 2, total)
}

func TestEngine_NoEntryAboveThreshold(t *testing.T) {
	src := newMemSource()
	src.add(1000, market.LegUp, repeatSnaps(flatBook(0.85, 0.90, 500), 5))
	src.add(1000, market.LegDown, repeatSnaps(flatBook(0.05, 0.10, 500), 5))

	engine, ledger := buildEngine(t, src, SettleMark)
	engine.SetStrategy(newThresholdForTest(t, map[string]any{"entry_below": 0.40}))

	require.NoError(t, engine.Run(context.Background()))
	assert.Empty(t, ledger.Trades())
}

func TestEngine_Determinism(t *testing.T) {
	build := func() *memSource {
		src := newMemSource()
		src.add(1000, market.LegUp, repeatSnaps(flatBook(0.30, 0.35, 500), 8))
		src.add(1000, market.LegDown, repeatSnaps(flatBook(0.60, 0.65, 500), 8))
		return src
	}
	run := func() Report {
		engine, ledger := buildEngine(t, build(), SettleMark)
		engine.SetStrategy(newThresholdForTest(t, nil))
		require.NoError(t, engine.Run(context.Background()))
		return Summarize(ledger)
	}
	assert.Equal(t, run(), run())
}

func TestEngine_RedeemConflictVoidsSession(t *testing.T) {
	src := newMemSource()
	// 标的上涨但 down 腿盘口更深且两腿不稀疏：结算信号冲突，session 作废
	first := withAsset(deepBook(0.28, 0.30, 500, 3), 60000)
	last := withAsset(deepBook(0.10, 0.12, 500, 2), 61000)
	downFirst := withAsset(deepBook(0.60, 0.62, 500, 3), 60000)
	downLast := withAsset(deepBook(0.90, 0.92, 500, 4), 61000)
	src.add(1000, market.LegUp, []market.BookSnapshot{first, last})
	src.add(1000, market.LegDown, []market.BookSnapshot{downFirst, downLast})

	engine, ledger := buildEngine(t, src, SettleRedeem)
	engine.SetStrategy(newThresholdForTest(t, map[string]any{"entry_below": 0.40}))

	require.NoError(t, engine.Run(context.Background()))
	assert.Equal(t, StateFinished, engine.State())
	// 回滚后账本回到初始状态
	assert.Empty(t, ledger.Trades())
	assert.InDelta(t, 10000, ledger.Cash(), 1e-9)
}
