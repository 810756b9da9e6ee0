package backtest

import (
	"context"
	"fmt"
	"sort"

	"polyback/internal/market"
)

// memSource 是测试用的内存快照源。
type memSource struct {
	series map[int64]map[market.Leg][]market.BookSnapshot
}

func newMemSource() *memSource {
	return &memSource{series: make(map[int64]map[market.Leg][]market.BookSnapshot)}
}

func (m *memSource) add(marketTS int64, leg market.Leg, snaps []market.BookSnapshot) {
	if m.series[marketTS] == nil {
		m.series[marketTS] = make(map[market.Leg][]market.BookSnapshot)
	}
	m.series[marketTS][leg] = snaps
}

func (m *memSource) ListMarkets(_ context.Context, start, end int64) ([]int64, error) {
	var out []int64
	for ts := range m.series {
		if ts >= start && ts <= end {
			out = append(out, ts)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *memSource) LoadSeries(_ context.Context, marketTS int64, leg market.Leg) ([]market.BookSnapshot, error) {
	legs, ok := m.series[marketTS]
	if !ok {
		return nil, fmt.Errorf("%w: 市场 %d 不存在", ErrDataIntegrity, marketTS)
	}
	return legs[leg], nil
}

func lvl(price, size float64) market.PriceLevel {
	return market.PriceLevel{Price: price, Size: size}
}

func book(bids, asks []market.PriceLevel) market.BookSnapshot {
	return market.BookSnapshot{Bids: bids, Asks: asks, TS: 1}
}

// flatBook 单档对称盘口，bid/ask 各一档。
func flatBook(bid, ask, size float64) market.BookSnapshot {
	return book([]market.PriceLevel{lvl(bid, size)}, []market.PriceLevel{lvl(ask, size)})
}

// deepBook 在 best 价位两侧各铺 levels 档，间距 0.01。
func deepBook(bestBid, bestAsk, size float64, levels int) market.BookSnapshot {
	var bids, asks []market.PriceLevel
	for i := 0; i < levels; i++ {
		bids = append(bids, lvl(bestBid-float64(i)*0.01, size))
		asks = append(asks, lvl(bestAsk+float64(i)*0.01, size))
	}
	return book(bids, asks)
}

func tickOf(marketTS int64, idx int, up, down market.BookSnapshot) Tick {
	return Tick{
		MarketTS: marketTS,
		Index:    idx,
		TS:       int64(idx+1) * 1000,
		Books: map[market.Leg]market.BookSnapshot{
			market.LegUp:   up,
			market.LegDown: down,
		},
	}
}

// repeatSnaps 生成 n 份相同盘口的快照序列（TS 递增）。
func repeatSnaps(b market.BookSnapshot, n int) []market.BookSnapshot {
	out := make([]market.BookSnapshot, n)
	for i := range out {
		s := b
		s.TS = int64(i+1) * 1000
		out[i] = s
	}
	return out
}
