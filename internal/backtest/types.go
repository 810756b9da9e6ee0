package backtest

import (
	"time"

	"polyback/internal/market"
)

// OrderKind 是订单类型的标签变体：市价或限价（限价携带价格）。
type OrderKind string

const (
	OrderMarket OrderKind = "market"
	OrderLimit  OrderKind = "limit"
)

// OrderRequest 是策略对某条腿的一次下单请求。两条腿均为只做多，
// 开仓吃 ask，减仓吃 bid。
type OrderRequest struct {
	Leg        market.Leg `json:"leg"`
	Size       float64    `json:"size"`
	Kind       OrderKind  `json:"kind"`
	LimitPrice float64    `json:"limit_price,omitempty"` // 仅限价单，须落在 (0,1)
}

// Fill 是撮合结果：实际成交量与按量加权的成交均价。
type Fill struct {
	Size  float64 `json:"size"`
	Price float64 `json:"price"`
}

// Notional 返回成交名义金额。
func (f Fill) Notional() float64 {
	return f.Size * f.Price
}

// Tick 是 session 内一个同步快照对：两条腿各一份订单簿。
type Tick struct {
	MarketTS int64                           `json:"market_ts"` // session 起始时间戳（Unix 秒），分组键
	Index    int                             `json:"index"`     // session 内递增序号
	TS       int64                           `json:"ts"`        // 快照时间（Unix ms）
	Books    map[market.Leg]market.BookSnapshot `json:"books"`
}

// Book 返回指定腿的订单簿。
func (t *Tick) Book(leg market.Leg) market.BookSnapshot {
	return t.Books[leg]
}

// Session 是一个固定时长的市场窗口。tick 序列由 loader 持有并按序吐出，
// Ticks 是截断后（min(up, down)）的总数。
type Session struct {
	MarketTS int64         `json:"market_ts"`
	Start    time.Time     `json:"start"`
	Duration time.Duration `json:"duration"`
	Ticks    int           `json:"ticks"`
}

// TradeAction 标记一条成交记录的方向。
type TradeAction string

const (
	ActionOpen   TradeAction = "open"
	ActionClose  TradeAction = "close"
	ActionSettle TradeAction = "settle" // session 到期强制平仓/赎回
)

// TradeRecord 是账本中一条不可变的成交记录。
type TradeRecord struct {
	ID        int64       `json:"id"`
	MarketTS  int64       `json:"market_ts"`
	Leg       market.Leg  `json:"leg"`
	Action    TradeAction `json:"action"`
	Kind      OrderKind   `json:"kind"`
	Size      float64     `json:"size"`
	Price     float64     `json:"price"`
	Notional  float64     `json:"notional"`
	Fee       float64     `json:"fee"`
	PnL       float64     `json:"pnl"` // 仅 close/settle：已实现盈亏（已扣费）
	TickIndex int         `json:"tick_index"`
	TS        int64       `json:"ts"` // 快照时间（Unix ms）
}

// Position 是某条腿的当前持仓：数量与按量加权的入场均价。
// size 恒 ≥ 0；减仓不改变入场价。
type Position struct {
	Leg        market.Leg `json:"leg"`
	Size       float64    `json:"size"`
	EntryPrice float64    `json:"entry_price"`
}

// Cost 返回持仓成本（数量 × 入场均价）。
func (p Position) Cost() float64 {
	return p.Size * p.EntryPrice
}
