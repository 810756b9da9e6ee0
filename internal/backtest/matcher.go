package backtest

import "polyback/internal/market"

// Match 将一笔开仓请求与该腿订单簿的 ask 侧撮合，返回成交结果。
// 纯函数，不触碰账本。
//
// 市价单：从最优价向外吃单，深度不足时部分成交（部分成交不算失败），
// 空簿返回 false。限价单：仅吃价格 ≤ 限价的价位，最优 ask 已高于限价
// 时返回 false；引擎不保留挂单，策略可在后续 tick 重新提交。
func Match(req OrderRequest, book market.BookSnapshot) (Fill, bool) {
	switch req.Kind {
	case OrderLimit:
		return walkLevels(req.Size, book.Asks, func(price float64) bool {
			return price <= req.LimitPrice
		})
	default:
		return walkLevels(req.Size, book.Asks, nil)
	}
}

// MatchClose 将一笔减仓与 bid 侧撮合，规则与开仓对称（同样吃单并按量加权）。
func MatchClose(size float64, book market.BookSnapshot) (Fill, bool) {
	return walkLevels(size, book.Bids, nil)
}

// walkLevels 从最优价位开始累计成交量，返回量加权均价。
// eligible 为 nil 表示市价（所有价位可吃）；一旦遇到不合格价位即停，
// 因为价位按优劣有序。
func walkLevels(size float64, levels []market.PriceLevel, eligible func(price float64) bool) (Fill, bool) {
	if size <= 0 || len(levels) == 0 {
		return Fill{}, false
	}
	remaining := size
	filled := 0.0
	cost := 0.0
	for _, lvl := range levels {
		if eligible != nil && !eligible(lvl.Price) {
			break
		}
		take := lvl.Size
		if take > remaining {
			take = remaining
		}
		filled += take
		cost += take * lvl.Price
		remaining -= take
		if remaining <= 0 {
			break
		}
	}
	if filled <= 0 {
		return Fill{}, false
	}
	return Fill{Size: filled, Price: cost / filled}, true
}
