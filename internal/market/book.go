package market

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Leg 表示二元市场的一条腿（up 或 down）。
type Leg string

const (
	LegUp   Leg = "up"
	LegDown Leg = "down"
)

// Legs 按固定顺序返回两条腿，遍历持仓时保证确定性。
func Legs() [2]Leg {
	return [2]Leg{LegUp, LegDown}
}

// ParseLeg 返回标准化腿标识。
func ParseLeg(s string) (Leg, error) {
	switch Leg(s) {
	case LegUp:
		return LegUp, nil
	case LegDown:
		return LegDown, nil
	default:
		return "", fmt.Errorf("未知 leg: %q", s)
	}
}

// Opposite 返回对侧腿。
func (l Leg) Opposite() Leg {
	if l == LegUp {
		return LegDown
	}
	return LegUp
}

// PriceLevel 是订单簿中单个价位（价格+挂单量）。
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// ParseLevel 解析上游的 {price, size} 十进制字符串。
// 价格必须落在 (0, 1)（概率型标的），size 必须 > 0。
func ParseLevel(price, size string) (PriceLevel, error) {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return PriceLevel{}, fmt.Errorf("price %q 非法: %w", price, err)
	}
	s, err := decimal.NewFromString(size)
	if err != nil {
		return PriceLevel{}, fmt.Errorf("size %q 非法: %w", size, err)
	}
	lvl := PriceLevel{Price: p.InexactFloat64(), Size: s.InexactFloat64()}
	if lvl.Price <= 0 || lvl.Price >= 1 {
		return PriceLevel{}, fmt.Errorf("price %s 超出 (0,1)", p)
	}
	if lvl.Size <= 0 {
		return PriceLevel{}, fmt.Errorf("size %s 需 > 0", s)
	}
	return lvl, nil
}

// BookSnapshot 是某条腿在某一时刻的完整订单簿快照。
// 约定：Bids 按价格降序（最优在前），Asks 按价格升序（最优在前）。
type BookSnapshot struct {
	Bids       []PriceLevel `json:"bids"`
	Asks       []PriceLevel `json:"asks"`
	AssetPrice float64      `json:"asset_price,omitempty"` // 标的现货价（如 BTC），结算 redeem 策略使用
	TS         int64        `json:"ts"`                    // Unix ms
}

// BestBid 返回最优买价；空簿返回 false。
func (b BookSnapshot) BestBid() (PriceLevel, bool) {
	if len(b.Bids) == 0 {
		return PriceLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk 返回最优卖价；空簿返回 false。
func (b BookSnapshot) BestAsk() (PriceLevel, bool) {
	if len(b.Asks) == 0 {
		return PriceLevel{}, false
	}
	return b.Asks[0], true
}

// Mid 返回买卖中间价；任一侧为空时回退到另一侧，双侧为空返回 0。
func (b BookSnapshot) Mid() float64 {
	bid, hasBid := b.BestBid()
	ask, hasAsk := b.BestAsk()
	switch {
	case hasBid && hasAsk:
		return (bid.Price + ask.Price) / 2
	case hasBid:
		return bid.Price
	case hasAsk:
		return ask.Price
	default:
		return 0
	}
}

// Validate 校验快照不变量：bids 降序、asks 升序、size 全部 > 0。
func (b BookSnapshot) Validate() error {
	for i, lvl := range b.Bids {
		if lvl.Size <= 0 {
			return fmt.Errorf("bids[%d] size %.4f 需 > 0", i, lvl.Size)
		}
		if i > 0 && b.Bids[i-1].Price < lvl.Price {
			return fmt.Errorf("bids 未按价格降序: [%d]=%.4f < [%d]=%.4f", i-1, b.Bids[i-1].Price, i, lvl.Price)
		}
	}
	for i, lvl := range b.Asks {
		if lvl.Size <= 0 {
			return fmt.Errorf("asks[%d] size %.4f 需 > 0", i, lvl.Size)
		}
		if i > 0 && b.Asks[i-1].Price > lvl.Price {
			return fmt.Errorf("asks 未按价格升序: [%d]=%.4f > [%d]=%.4f", i-1, b.Asks[i-1].Price, i, lvl.Price)
		}
	}
	return nil
}
