package backtest

import (
	"fmt"

	"polyback/internal/market"
)

// closeEpsilon 以下的残余持仓按清零处理，避免浮点尾差悬挂。
const closeEpsilon = 1e-9

// LedgerView 是暴露给策略回调的账本只读+下单视图。
// 策略不得在回调之外保留该引用。
type LedgerView interface {
	PlaceOrder(req OrderRequest) (TradeRecord, error)
	ClosePosition(leg market.Leg, size float64) (TradeRecord, error)
	GetPosition(leg market.Leg) (Position, bool)
	PortfolioValue() float64
	Cash() float64
}

// Ledger 是整个回测的权威资金/持仓/成交状态。
// 余额是购买力的唯一事实来源，持仓只是派生缓存。
type Ledger struct {
	initial float64
	cash    float64
	feeRate float64

	positions map[market.Leg]*Position
	trades    []TradeRecord
	nextID    int64

	wins   int
	losses int

	tick *Tick // 当前 tick，由引擎推进
}

// NewLedger 创建账本；初始资金须 > 0，费率须 ≥ 0。
func NewLedger(initialBalance, feeRate float64) (*Ledger, error) {
	if initialBalance <= 0 {
		return nil, fmt.Errorf("初始资金需 > 0, 实际 %.4f", initialBalance)
	}
	if feeRate < 0 {
		return nil, fmt.Errorf("费率需 ≥ 0, 实际 %.6f", feeRate)
	}
	return &Ledger{
		initial:   initialBalance,
		cash:      initialBalance,
		feeRate:   feeRate,
		positions: make(map[market.Leg]*Position, 2),
		nextID:    1,
	}, nil
}

// setTick 推进当前行情；由引擎在每个 tick 调用。
func (l *Ledger) setTick(t *Tick) {
	l.tick = t
}

// InitialBalance 返回配置的初始资金。
func (l *Ledger) InitialBalance() float64 { return l.initial }

// Cash 返回当前可用资金。
func (l *Ledger) Cash() float64 { return l.cash }

// FeeRate 返回名义金额费率。
func (l *Ledger) FeeRate() float64 { return l.feeRate }

// Trades 返回追加式成交历史（调用方不得修改）。
func (l *Ledger) Trades() []TradeRecord { return l.trades }

// WinLoss 返回按平仓盈亏统计的胜/败笔数。
func (l *Ledger) WinLoss() (wins, losses int) { return l.wins, l.losses }

// GetPosition 返回指定腿的持仓副本；无持仓时 ok 为 false。
func (l *Ledger) GetPosition(leg market.Leg) (Position, bool) {
	pos, ok := l.positions[leg]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// PortfolioValue 返回组合价值：现金 + 各持仓按当前最优 bid 的市值。
func (l *Ledger) PortfolioValue() float64 {
	value := l.cash
	if l.tick == nil {
		return value
	}
	for _, leg := range market.Legs() {
		pos, ok := l.positions[leg]
		if !ok {
			continue
		}
		if bid, ok := l.tick.Book(leg).BestBid(); ok {
			value += pos.Size * bid.Price
		}
	}
	return value
}

// PlaceOrder 下开仓单：校验→保守资金预检→撮合→记账。
// 资金预检用请求量 × 最差可成交价（限价单为限价，市价单为最深 ask 价）
// 加上对应手续费，在触发撮合前拒绝，保证余额不可能为负。
func (l *Ledger) PlaceOrder(req OrderRequest) (TradeRecord, error) {
	if req.Size <= 0 {
		return TradeRecord{}, fmt.Errorf("%w: size %.4f 需 > 0", ErrInvalidOrder, req.Size)
	}
	if req.Leg != market.LegUp && req.Leg != market.LegDown {
		return TradeRecord{}, fmt.Errorf("%w: 未知 leg %q", ErrInvalidOrder, req.Leg)
	}
	if req.Kind != OrderMarket && req.Kind != OrderLimit {
		return TradeRecord{}, fmt.Errorf("%w: 未知订单类型 %q", ErrInvalidOrder, req.Kind)
	}
	if req.Kind == OrderLimit && (req.LimitPrice <= 0 || req.LimitPrice >= 1) {
		return TradeRecord{}, fmt.Errorf("%w: 限价 %.4f 超出 (0,1)", ErrInvalidOrder, req.LimitPrice)
	}
	if l.tick == nil {
		return TradeRecord{}, fmt.Errorf("%w: 当前无行情 tick", ErrNotConfigured)
	}

	book := l.tick.Book(req.Leg)
	worst, ok := worstOpenPrice(req, book)
	if !ok {
		return TradeRecord{}, fmt.Errorf("%w: %s 卖盘为空", ErrNoFill, req.Leg)
	}
	projected := req.Size * worst
	if projected+projected*l.feeRate > l.cash {
		return TradeRecord{}, fmt.Errorf("%w: 需要 %.2f (含费), 可用 %.2f",
			ErrInsufficientFunds, projected*(1+l.feeRate), l.cash)
	}

	fill, ok := Match(req, book)
	if !ok {
		return TradeRecord{}, fmt.Errorf("%w: %s 无可成交价位", ErrNoFill, req.Leg)
	}

	cost := fill.Notional()
	fee := cost * l.feeRate
	l.cash -= cost + fee
	l.mergeOpen(req.Leg, fill)

	rec := l.appendTrade(TradeRecord{
		Leg:      req.Leg,
		Action:   ActionOpen,
		Kind:     req.Kind,
		Size:     fill.Size,
		Price:    fill.Price,
		Notional: cost,
		Fee:      fee,
	})
	return rec, nil
}

// ClosePosition 减仓：size ≤ 0 表示全部平掉。
// 平超过持仓量返回 ErrNoPosition（绝不做空）。
func (l *Ledger) ClosePosition(leg market.Leg, size float64) (TradeRecord, error) {
	pos, ok := l.positions[leg]
	if !ok {
		return TradeRecord{}, fmt.Errorf("%w: %s 无持仓", ErrNoPosition, leg)
	}
	if size <= 0 {
		size = pos.Size
	}
	if size > pos.Size+closeEpsilon {
		return TradeRecord{}, fmt.Errorf("%w: 持仓 %.4f, 请求平 %.4f", ErrNoPosition, pos.Size, size)
	}
	if l.tick == nil {
		return TradeRecord{}, fmt.Errorf("%w: 当前无行情 tick", ErrNotConfigured)
	}
	return l.reduceAgainstBook(leg, size, l.tick.Book(leg), ActionClose, l.tick.Index, l.tick.TS)
}

// reduceAgainstBook 按 bid 侧撮合减仓并记账；settle 与手动平仓共用。
func (l *Ledger) reduceAgainstBook(leg market.Leg, size float64, book market.BookSnapshot, action TradeAction, tickIndex int, ts int64) (TradeRecord, error) {
	pos, ok := l.positions[leg]
	if !ok {
		return TradeRecord{}, fmt.Errorf("%w: %s 无持仓", ErrNoPosition, leg)
	}
	fill, ok := MatchClose(size, book)
	if !ok {
		return TradeRecord{}, fmt.Errorf("%w: %s 买盘为空", ErrNoFill, leg)
	}
	proceeds := fill.Notional()
	fee := proceeds * l.feeRate
	pnl := (fill.Price-pos.EntryPrice)*fill.Size - fee

	l.cash += proceeds - fee
	l.reducePosition(leg, fill.Size)
	l.tallyPnL(pnl)

	rec := l.appendTrade(TradeRecord{
		Leg:       leg,
		Action:    action,
		Kind:      OrderMarket,
		Size:      fill.Size,
		Price:     fill.Price,
		Notional:  proceeds,
		Fee:       fee,
		PnL:       pnl,
		TickIndex: tickIndex,
		TS:        ts,
	})
	return rec, nil
}

// redeem 以固定结算价（1 或 0）赎回整条腿；二元到期结算不经过订单簿、不收费。
func (l *Ledger) redeem(leg market.Leg, settlePrice float64, tickIndex int, ts int64) (TradeRecord, error) {
	pos, ok := l.positions[leg]
	if !ok {
		return TradeRecord{}, fmt.Errorf("%w: %s 无持仓", ErrNoPosition, leg)
	}
	proceeds := pos.Size * settlePrice
	pnl := proceeds - pos.Cost()

	l.cash += proceeds
	size := pos.Size
	l.reducePosition(leg, size)
	l.tallyPnL(pnl)

	rec := l.appendTrade(TradeRecord{
		Leg:       leg,
		Action:    ActionSettle,
		Kind:      OrderMarket,
		Size:      size,
		Price:     settlePrice,
		Notional:  proceeds,
		PnL:       pnl,
		TickIndex: tickIndex,
		TS:        ts,
	})
	return rec, nil
}

func (l *Ledger) mergeOpen(leg market.Leg, fill Fill) {
	pos, ok := l.positions[leg]
	if !ok {
		l.positions[leg] = &Position{Leg: leg, Size: fill.Size, EntryPrice: fill.Price}
		return
	}
	total := pos.Size + fill.Size
	pos.EntryPrice = (pos.EntryPrice*pos.Size + fill.Price*fill.Size) / total
	pos.Size = total
}

func (l *Ledger) reducePosition(leg market.Leg, size float64) {
	pos := l.positions[leg]
	pos.Size -= size
	if pos.Size <= closeEpsilon {
		delete(l.positions, leg)
	}
}

func (l *Ledger) tallyPnL(pnl float64) {
	if pnl > 0 {
		l.wins++
	} else {
		l.losses++
	}
}

func (l *Ledger) appendTrade(rec TradeRecord) TradeRecord {
	rec.ID = l.nextID
	l.nextID++
	if l.tick != nil {
		rec.MarketTS = l.tick.MarketTS
		if rec.TS == 0 {
			rec.TS = l.tick.TS
			rec.TickIndex = l.tick.Index
		}
	}
	l.trades = append(l.trades, rec)
	return rec
}

// worstOpenPrice 返回本次开仓可能吃到的最差单价。
// 限价单上界就是限价；市价单上界是最深一档 ask。
func worstOpenPrice(req OrderRequest, book market.BookSnapshot) (float64, bool) {
	if len(book.Asks) == 0 {
		return 0, false
	}
	if req.Kind == OrderLimit {
		if best, _ := book.BestAsk(); best.Price > req.LimitPrice {
			// 预检放行，撮合阶段自然判为 NoFill
			return req.LimitPrice, true
		}
		return req.LimitPrice, true
	}
	return book.Asks[len(book.Asks)-1].Price, true
}

// ledgerSnapshot 捕获 session 开始前的账本状态，验证失败时回滚。
type ledgerSnapshot struct {
	cash      float64
	positions map[market.Leg]Position
	trades    int
	nextID    int64
	wins      int
	losses    int
}

// snapshot 记录当前账本状态。
func (l *Ledger) snapshot() ledgerSnapshot {
	snap := ledgerSnapshot{
		cash:      l.cash,
		positions: make(map[market.Leg]Position, len(l.positions)),
		trades:    len(l.trades),
		nextID:    l.nextID,
		wins:      l.wins,
		losses:    l.losses,
	}
	for leg, pos := range l.positions {
		snap.positions[leg] = *pos
	}
	return snap
}

// restore 回滚到快照：作废该 session 的全部成交。
func (l *Ledger) restore(snap ledgerSnapshot) {
	l.cash = snap.cash
	l.positions = make(map[market.Leg]*Position, len(snap.positions))
	for leg, pos := range snap.positions {
		p := pos
		l.positions[leg] = &p
	}
	l.trades = l.trades[:snap.trades]
	l.nextID = snap.nextID
	l.wins = snap.wins
	l.losses = snap.losses
}
