package backtest

import (
	"errors"
	"fmt"

	"polyback/internal/market"

	"github.com/markcheno/go-talib"
	"github.com/mitchellh/mapstructure"
)

func init() {
	RegisterStrategy("threshold", newThresholdStrategy)
	RegisterStrategy("rsi", newRSIStrategy)
}

func decodeParams(params map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(params); err != nil {
		return fmt.Errorf("策略参数解析失败: %w", err)
	}
	return nil
}

// thresholdStrategy 在指定腿的最优 ask 低于阈值时买入固定数量，
// 从不主动平仓，全靠到期结算出清。每个 session 只进场一次。
type thresholdStrategy struct {
	leg        market.Leg
	entryBelow float64
	size       float64
}

type thresholdParams struct {
	Leg        string  `mapstructure:"leg"`
	EntryBelow float64 `mapstructure:"entry_below"`
	Size       float64 `mapstructure:"size"`
}

func newThresholdStrategy(spec StrategySpec) (Strategy, error) {
	params := thresholdParams{Leg: string(market.LegUp), EntryBelow: 0.40, Size: 100}
	if err := decodeParams(spec.Params, &params); err != nil {
		return nil, err
	}
	leg, err := market.ParseLeg(params.Leg)
	if err != nil {
		return nil, err
	}
	if params.EntryBelow <= 0 || params.EntryBelow >= 1 {
		return nil, fmt.Errorf("entry_below %.4f 超出 (0,1)", params.EntryBelow)
	}
	if params.Size <= 0 {
		return nil, fmt.Errorf("size %.4f 需 > 0", params.Size)
	}
	return &thresholdStrategy{leg: leg, entryBelow: params.EntryBelow, size: params.Size}, nil
}

type thresholdState struct {
	enteredMarket int64 // 最近一次进场的 session，防止同 session 重复进场
}

func (s *thresholdStrategy) Init() StrategyState {
	return thresholdState{}
}

func (s *thresholdStrategy) OnTick(state StrategyState, view LedgerView, tick Tick) (StrategyState, error) {
	st := state.(thresholdState)
	if st.enteredMarket == tick.MarketTS {
		return st, nil
	}
	ask, ok := tick.Book(s.leg).BestAsk()
	if !ok || ask.Price >= s.entryBelow {
		return st, nil
	}
	_, err := view.PlaceOrder(OrderRequest{Leg: s.leg, Size: s.size, Kind: OrderMarket})
	if err != nil {
		// 资金不足/无深度属正常行情，跳过本 tick
		if errors.Is(err, ErrInsufficientFunds) || errors.Is(err, ErrNoFill) {
			return st, nil
		}
		return st, err
	}
	st.enteredMarket = tick.MarketTS
	return st, nil
}

// rsiStrategy 基于指定腿中间价序列的 RSI：超卖进场、超买离场。
// 价格历史保存在策略状态里，跨 session 时清空重算。
type rsiStrategy struct {
	leg        market.Leg
	period     int
	oversold   float64
	overbought float64
	size       float64
}

type rsiParams struct {
	Leg        string  `mapstructure:"leg"`
	Period     int     `mapstructure:"period"`
	Oversold   float64 `mapstructure:"oversold"`
	Overbought float64 `mapstructure:"overbought"`
	Size       float64 `mapstructure:"size"`
}

func newRSIStrategy(spec StrategySpec) (Strategy, error) {
	params := rsiParams{Leg: string(market.LegUp), Period: 14, Oversold: 30, Overbought: 70, Size: 50}
	if err := decodeParams(spec.Params, &params); err != nil {
		return nil, err
	}
	leg, err := market.ParseLeg(params.Leg)
	if err != nil {
		return nil, err
	}
	if params.Period < 2 {
		return nil, fmt.Errorf("period %d 需 ≥ 2", params.Period)
	}
	if params.Oversold >= params.Overbought {
		return nil, fmt.Errorf("oversold %.1f 需小于 overbought %.1f", params.Oversold, params.Overbought)
	}
	if params.Size <= 0 {
		return nil, fmt.Errorf("size %.4f 需 > 0", params.Size)
	}
	return &rsiStrategy{
		leg:        leg,
		period:     params.Period,
		oversold:   params.Oversold,
		overbought: params.Overbought,
		size:       params.Size,
	}, nil
}

type rsiState struct {
	marketTS int64
	mids     []float64
}

func (s *rsiStrategy) Init() StrategyState {
	return rsiState{}
}

func (s *rsiStrategy) OnTick(state StrategyState, view LedgerView, tick Tick) (StrategyState, error) {
	st := state.(rsiState)
	if st.marketTS != tick.MarketTS {
		st = rsiState{marketTS: tick.MarketTS}
	}
	mid := tick.Book(s.leg).Mid()
	if mid <= 0 {
		return st, nil
	}
	st.mids = append(st.mids, mid)
	if len(st.mids) <= s.period {
		return st, nil
	}

	rsi := talib.Rsi(st.mids, s.period)
	last := rsi[len(rsi)-1]
	_, holding := view.GetPosition(s.leg)

	switch {
	case !holding && last < s.oversold:
		if _, err := view.PlaceOrder(OrderRequest{Leg: s.leg, Size: s.size, Kind: OrderMarket}); err != nil {
			if errors.Is(err, ErrInsufficientFunds) || errors.Is(err, ErrNoFill) {
				return st, nil
			}
			return st, err
		}
	case holding && last > s.overbought:
		if _, err := view.ClosePosition(s.leg, 0); err != nil {
			if errors.Is(err, ErrNoFill) {
				return st, nil
			}
			return st, err
		}
	}
	return st, nil
}
