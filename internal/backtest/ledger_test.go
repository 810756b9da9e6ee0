package backtest

import (
	"testing"

	"polyback/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T, balance, feeRate float64, tick Tick) *Ledger {
	t.Helper()
	l, err := NewLedger(balance, feeRate)
	require.NoError(t, err)
	l.setTick(&tick)
	return l
}

func TestLedger_PlaceOrderValidation(t *testing.T) {
	tick := tickOf(100, 0, flatBook(0.48, 0.50, 100), flatBook(0.48, 0.50, 100))
	l := newTestLedger(t, 1000, 0, tick)

	cases := []struct {
		name string
		req  OrderRequest
	}{
		{"size 非正", OrderRequest{Leg: market.LegUp, Size: 0, Kind: OrderMarket}},
		{"未知 leg", OrderRequest{Leg: "sideways", Size: 10, Kind: OrderMarket}},
		{"未知类型", OrderRequest{Leg: market.LegUp, Size: 10, Kind: "stop"}},
		{"限价超界", OrderRequest{Leg: market.LegUp, Size: 10, Kind: OrderLimit, LimitPrice: 1.2}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := l.PlaceOrder(tc.req)
			assert.ErrorIs(t, err, ErrInvalidOrder)
		})
	}
	assert.Empty(t, l.Trades())
	assert.InDelta(t, 1000, l.Cash(), 1e-9)
}

func TestLedger_InsufficientFundsLeavesStateUnchanged(t *testing.T) {
	tick := tickOf(100, 0, flatBook(0.48, 0.50, 200), flatBook(0.48, 0.50, 200))
	l := newTestLedger(t, 10, 0, tick)

	_, err := l.PlaceOrder(OrderRequest{Leg: market.LegUp, Size: 100, Kind: OrderMarket})
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.InDelta(t, 10, l.Cash(), 1e-9)
	_, ok := l.GetPosition(market.LegUp)
	assert.False(t, ok)
	assert.Empty(t, l.Trades())
}

func TestLedger_OpenMergesEntryPrice(t *testing.T) {
	l := newTestLedger(t, 1000, 0, tickOf(100, 0, flatBook(0.38, 0.40, 500), flatBook(0.58, 0.60, 500)))

	_, err := l.PlaceOrder(OrderRequest{Leg: market.LegUp, Size: 100, Kind: OrderMarket})
	require.NoError(t, err)

	next := tickOf(100, 1, flatBook(0.48, 0.50, 500), flatBook(0.48, 0.50, 500))
	l.setTick(&next)
	_, err = l.PlaceOrder(OrderRequest{Leg: market.LegUp, Size: 100, Kind: OrderMarket})
	require.NoError(t, err)

	pos, ok := l.GetPosition(market.LegUp)
	require.True(t, ok)
	assert.InDelta(t, 200, pos.Size, 1e-9)
	assert.InDelta(t, 0.45, pos.EntryPrice, 1e-9)
	assert.InDelta(t, 1000-100*0.40-100*0.50, l.Cash(), 1e-9)
}

func TestLedger_NeverGoesShort(t *testing.T) {
	tick := tickOf(100, 0, flatBook(0.48, 0.50, 200), flatBook(0.48, 0.50, 200))
	l := newTestLedger(t, 1000, 0, tick)

	t.Run("无持仓不可平", func(t *testing.T) {
		_, err := l.ClosePosition(market.LegUp, 10)
		assert.ErrorIs(t, err, ErrNoPosition)
	})

	t.Run("平超过持仓量被拒", func(t *testing.T) {
		_, err := l.PlaceOrder(OrderRequest{Leg: market.LegUp, Size: 50, Kind: OrderMarket})
		require.NoError(t, err)
		_, err = l.ClosePosition(market.LegUp, 80)
		assert.ErrorIs(t, err, ErrNoPosition)
		pos, ok := l.GetPosition(market.LegUp)
		require.True(t, ok)
		assert.InDelta(t, 50, pos.Size, 1e-9)
	})

	t.Run("size 非正表示全平", func(t *testing.T) {
		_, err := l.ClosePosition(market.LegUp, 0)
		require.NoError(t, err)
		_, ok := l.GetPosition(market.LegUp)
		assert.False(t, ok)
	})
}

func TestLedger_CashConservation(t *testing.T) {
	tick := tickOf(100, 0, flatBook(0.48, 0.50, 500), flatBook(0.38, 0.40, 500))
	l := newTestLedger(t, 1000, 0.01, tick)

	_, err := l.PlaceOrder(OrderRequest{Leg: market.LegUp, Size: 100, Kind: OrderMarket})
	require.NoError(t, err)
	_, err = l.PlaceOrder(OrderRequest{Leg: market.LegDown, Size: 50, Kind: OrderMarket})
	require.NoError(t, err)
	_, err = l.ClosePosition(market.LegUp, 0)
	require.NoError(t, err)

	expected := l.InitialBalance()
	for _, tr := range l.Trades() {
		switch tr.Action {
		case ActionOpen:
			expected -= tr.Notional + tr.Fee
		default:
			expected += tr.Notional - tr.Fee
		}
	}
	assert.InDelta(t, expected, l.Cash(), 1e-9)
}

func TestLedger_ClosePnLAndWinLoss(t *testing.T) {
	tick := tickOf(100, 0, flatBook(0.38, 0.40, 500), flatBook(0.48, 0.50, 500))
	l := newTestLedger(t, 1000, 0, tick)

	_, err := l.PlaceOrder(OrderRequest{Leg: market.LegUp, Size: 100, Kind: OrderMarket})
	require.NoError(t, err)

	next := tickOf(100, 1, flatBook(0.48, 0.50, 500), flatBook(0.48, 0.50, 500))
	l.setTick(&next)
	rec, err := l.ClosePosition(market.LegUp, 0)
	require.NoError(t, err)

	assert.InDelta(t, (0.48-0.40)*100, rec.PnL, 1e-9)
	wins, losses := l.WinLoss()
	assert.Equal(t, 1, wins)
	assert.Equal(t, 0, losses)
}

func TestLedger_SnapshotRestore(t *testing.T) {
	tick := tickOf(100, 0, flatBook(0.48, 0.50, 500), flatBook(0.48, 0.50, 500))
	l := newTestLedger(t, 1000, 0, tick)

	mark := l.snapshot()
	_, err := l.PlaceOrder(OrderRequest{Leg: market.LegUp, Size: 100, Kind: OrderMarket})
	require.NoError(t, err)
	require.Len(t, l.Trades(), 1)

	l.restore(mark)
	assert.InDelta(t, 1000, l.Cash(), 1e-9)
	assert.Empty(t, l.Trades())
	_, ok := l.GetPosition(market.LegUp)
	assert.False(t, ok)
}
