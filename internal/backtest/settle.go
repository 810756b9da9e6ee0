package backtest

import (
	"errors"
	"fmt"

	"polyback/internal/logger"
	"polyback/internal/market"
)

// SettlementPolicy 决定 session 到期时持仓如何出清。
//
//	mark:   按最后一个 tick 的 bid 侧盘口强平（字面意义的强制平仓）。
//	redeem: 按二元结果赎回 —— 赢方 1、输方 0，结果由标的价格变动判定
//	        并用盘口深度交叉验证。
type SettlementPolicy string

const (
	SettleMark   SettlementPolicy = "mark"
	SettleRedeem SettlementPolicy = "redeem"
)

func ParseSettlementPolicy(s string) (SettlementPolicy, error) {
	switch SettlementPolicy(s) {
	case SettleMark, SettleRedeem:
		return SettlementPolicy(s), nil
	case "":
		return SettleMark, nil
	default:
		return "", fmt.Errorf("未知结算策略 %q (可选 mark/redeem)", s)
	}
}

// Settler 在每个 session 的最后一个 tick 之后、下一个 session 之前
// 被引擎调用恰好一次，保证持仓绝不跨 session。
type Settler struct {
	policy SettlementPolicy
}

func NewSettler(policy SettlementPolicy) (*Settler, error) {
	switch policy {
	case SettleMark, SettleRedeem:
		return &Settler{policy: policy}, nil
	default:
		return nil, fmt.Errorf("未知结算策略 %q", policy)
	}
}

func (s *Settler) Policy() SettlementPolicy { return s.policy }

// Settle 出清两条腿的全部持仓。返回产生的结算成交。
// redeem 模式下结果信号冲突时返回 ErrDataIntegrity，由引擎回滚该 session。
func (s *Settler) Settle(ledger *Ledger, first, final Tick) ([]TradeRecord, error) {
	if s.policy == SettleRedeem {
		return s.settleRedeem(ledger, first, final)
	}
	return s.settleMark(ledger, final)
}

// settleMark 逐腿按 bid 侧强平；买盘彻底枯竭时按 0 赎回兜底，
// 保证结算后持仓必为零。
func (s *Settler) settleMark(ledger *Ledger, final Tick) ([]TradeRecord, error) {
	var trades []TradeRecord
	for _, leg := range market.Legs() {
		pos, ok := ledger.GetPosition(leg)
		if !ok {
			continue
		}
		rec, err := ledger.reduceAgainstBook(leg, pos.Size, final.Book(leg), ActionSettle, final.Index, final.TS)
		if err != nil {
			if errors.Is(err, ErrNoFill) {
				logger.Warnf("市场 %d %s 买盘枯竭, 按 0 赎回强平", final.MarketTS, leg)
				rec, err = ledger.redeem(leg, 0, final.Index, final.TS)
				if err != nil {
					return trades, err
				}
				trades = append(trades, rec)
				continue
			}
			return trades, err
		}
		trades = append(trades, rec)
	}
	return trades, nil
}

// settleRedeem 判定赢方后按固定价赎回：赢方 1、输方 0。
// 缺标的价格时降级为按盘口强平。
func (s *Settler) settleRedeem(ledger *Ledger, first, final Tick) ([]TradeRecord, error) {
	startPrice := first.Book(market.LegUp).AssetPrice
	endPrice := final.Book(market.LegUp).AssetPrice
	if startPrice <= 0 || endPrice <= 0 {
		logger.Warnf("市场 %d 缺少标的价格, 降级为按盘口强平", final.MarketTS)
		return s.settleMark(ledger, final)
	}

	winner, err := resolveOutcome(startPrice, endPrice, final)
	if err != nil {
		return nil, err
	}
	var trades []TradeRecord
	for _, leg := range market.Legs() {
		if _, ok := ledger.GetPosition(leg); !ok {
			continue
		}
		price := 0.0
		if leg == winner {
			price = 1.0
		}
		rec, err := ledger.redeem(leg, price, final.Index, final.TS)
		if err != nil {
			return trades, err
		}
		trades = append(trades, rec)
	}
	return trades, nil
}

// resolveOutcome 判定 session 的二元结果。
// 主信号：标的价格首尾变动（涨则 up 赢，跌或持平 down 赢）。
// 交叉验证：到期盘口的 bid 档数不对称 —— 输方腿临近归零时买盘先被
// 抽干，档数多的一侧即实际赢方。任一腿盘口稀疏（bid 或 ask ≤ 1 档）
// 时盘口更可信，直接采信盘口结果；盘口不稀疏却与价格信号矛盾说明
// 数据有问题，返回 ErrDataIntegrity 由引擎作废该 session。
func resolveOutcome(startPrice, endPrice float64, final Tick) (market.Leg, error) {
	priceWinner := market.LegDown
	if endPrice > startPrice {
		priceWinner = market.LegUp
	}

	upBook := final.Book(market.LegUp)
	downBook := final.Book(market.LegDown)
	depthWinner := market.LegDown
	if len(upBook.Bids) > len(downBook.Bids) {
		depthWinner = market.LegUp
	}

	sparse := len(upBook.Bids) <= 1 || len(upBook.Asks) <= 1 ||
		len(downBook.Bids) <= 1 || len(downBook.Asks) <= 1
	if sparse {
		if depthWinner != priceWinner {
			logger.Debugf("市场 %d 盘口稀疏, 按盘口修正赢方: %s → %s", final.MarketTS, priceWinner, depthWinner)
		}
		return depthWinner, nil
	}
	if depthWinner != priceWinner {
		return "", fmt.Errorf("%w: 市场 %d 结果交叉验证失败 (价格判 %s, 盘口判 %s)",
			ErrDataIntegrity, final.MarketTS, priceWinner, depthWinner)
	}
	return priceWinner, nil
}
