package backtest

import (
	"context"
	"errors"
	"fmt"

	"polyback/internal/logger"
)

// EngineState 是回放引擎状态机的状态。
// 流转：initialized → session_loading → tick_running → settling
// → (session_loading | finished)。finished 为终态。
type EngineState string

const (
	StateInitialized    EngineState = "initialized"
	StateSessionLoading EngineState = "session_loading"
	StateTickRunning    EngineState = "tick_running"
	StateSettling       EngineState = "settling"
	StateFinished       EngineState = "finished"
)

// Engine 驱动整个回放：拉 session、逐 tick 调策略、到期结算。
// 单线程同步执行，tick 内策略的全部下单立即生效，确定性是硬要求。
type Engine struct {
	loader  *SessionLoader
	ledger  *Ledger
	settler *Settler

	strategy   Strategy
	stratState StrategyState
	verbose    bool

	// Observer 在每个 tick 策略回调之后被调用一次（结算 tick 也算），
	// 供上层记录权益曲线；可以为 nil。
	Observer func(tick Tick, equity float64)

	state EngineState
}

func NewEngine(loader *SessionLoader, ledger *Ledger, settler *Settler, verbose bool) (*Engine, error) {
	if loader == nil || ledger == nil || settler == nil {
		return nil, fmt.Errorf("loader/ledger/settler 均不能为空")
	}
	return &Engine{
		loader:  loader,
		ledger:  ledger,
		settler: settler,
		verbose: verbose,
		state:   StateInitialized,
	}, nil
}

// SetStrategy 配置策略；必须在 Run 之前调用。
func (e *Engine) SetStrategy(s Strategy) {
	e.strategy = s
}

// State 返回当前状态机状态。
func (e *Engine) State() EngineState { return e.state }

// Ledger 返回引擎的账本（run 中途出错时仍可取部分结果）。
func (e *Engine) Ledger() *Ledger { return e.ledger }

// Progress 透传 loader 的 (已完成, 总数)。
func (e *Engine) Progress() (done, total int) { return e.loader.Progress() }

// Run 驱动状态机直到数据耗尽。策略回调抛出的错误直接中止 run
// 并原样返回；loader 的 ErrExhausted 是正常终止信号，不算失败。
func (e *Engine) Run(ctx context.Context) error {
	if e.state == StateFinished {
		return fmt.Errorf("%w", ErrEngineFinished)
	}
	if e.state != StateInitialized {
		return fmt.Errorf("%w: 引擎不可重入 (当前 %s)", ErrEngineFinished, e.state)
	}
	if e.strategy == nil {
		return fmt.Errorf("%w: 未配置策略", ErrNotConfigured)
	}
	e.stratState = e.strategy.Init()

	for {
		e.state = StateSessionLoading
		session, err := e.loader.NextSession(ctx)
		if err != nil {
			if errors.Is(err, ErrExhausted) {
				e.state = StateFinished
				return nil
			}
			e.state = StateFinished
			return err
		}
		if err := e.runSession(ctx, session); err != nil {
			e.state = StateFinished
			return err
		}
	}
}

// runSession 消费一个 session 的全部 tick 并结算。
// redeem 模式下结果信号冲突时整个 session 回滚作废，继续下一个。
func (e *Engine) runSession(ctx context.Context, session Session) error {
	if e.verbose {
		done, total := e.loader.Progress()
		logger.Infof("session %d 开始: %d ticks (%d/%d)", session.MarketTS, session.Ticks, done+1, total)
	}
	mark := e.ledger.snapshot()

	var first, last Tick
	haveFirst := false

	e.state = StateTickRunning
	for e.loader.HasNextTick() {
		if err := ctx.Err(); err != nil {
			return err
		}
		tick, err := e.loader.NextTick()
		if err != nil {
			return err
		}
		if !haveFirst {
			first = tick
			haveFirst = true
		}
		last = tick

		e.ledger.setTick(&tick)
		next, err := e.strategy.OnTick(e.stratState, e.ledger, tick)
		if err != nil {
			return fmt.Errorf("策略在市场 %d tick %d 出错: %w", tick.MarketTS, tick.Index, err)
		}
		e.stratState = next
		if e.Observer != nil {
			e.Observer(tick, e.ledger.PortfolioValue())
		}
	}

	e.state = StateSettling
	if !haveFirst {
		return nil
	}
	trades, err := e.settler.Settle(e.ledger, first, last)
	if err != nil {
		if errors.Is(err, ErrDataIntegrity) {
			logger.Warnf("session %d 结算失败, 回滚整个 session: %v", session.MarketTS, err)
			e.ledger.restore(mark)
			return nil
		}
		return err
	}
	if e.verbose && len(trades) > 0 {
		for _, t := range trades {
			logger.Infof("session %d 结算 %s: size %.2f @ %.4f, pnl %.4f", session.MarketTS, t.Leg, t.Size, t.Price, t.PnL)
		}
	}
	e.ledger.setTick(nil)
	return nil
}
