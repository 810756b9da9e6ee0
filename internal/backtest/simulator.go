package backtest

import (
	"context"
	"fmt"
	"math"
	"time"

	"polyback/internal/logger"

	"github.com/google/uuid"
)

type SimulatorConfig struct {
	Source          SnapshotSource
	Results         *ResultStore
	Factory         StrategyFactory
	SessionDuration time.Duration
	DefaultStrategy string
	DefaultBalance  float64
	DefaultFeeRate  float64
	DefaultPolicy   SettlementPolicy
	MaxConcurrent   int
}

// Simulator 负责把快照历史 + 策略推演为资金曲线，任务在后台执行。
type Simulator struct {
	source   SnapshotSource
	results  *ResultStore
	factory  StrategyFactory
	duration time.Duration

	defaultStrategy string
	defaultBalance  float64
	defaultFeeRate  float64
	defaultPolicy   SettlementPolicy

	sem     chan struct{}
	baseCtx context.Context
}

func NewSimulator(cfg SimulatorConfig) (*Simulator, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("snapshot source 不能为空")
	}
	if cfg.Results == nil {
		return nil, fmt.Errorf("result store 不能为空")
	}
	if cfg.SessionDuration <= 0 {
		return nil, fmt.Errorf("session 时长需 > 0")
	}
	factory := cfg.Factory
	if factory == nil {
		factory = FactoryFunc(func(spec StrategySpec) (Strategy, error) {
			return NewStrategyByName(spec.ProfileName, spec)
		})
	}
	defaultStrategy := cfg.DefaultStrategy
	if defaultStrategy == "" {
		defaultStrategy = "threshold"
	}
	defaultBalance := cfg.DefaultBalance
	if defaultBalance <= 0 {
		defaultBalance = 10000
	}
	defaultPolicy := cfg.DefaultPolicy
	if defaultPolicy == "" {
		defaultPolicy = SettleMark
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Simulator{
		source:          cfg.Source,
		results:         cfg.Results,
		factory:         factory,
		duration:        cfg.SessionDuration,
		defaultStrategy: defaultStrategy,
		defaultBalance:  defaultBalance,
		defaultFeeRate:  cfg.DefaultFeeRate,
		defaultPolicy:   defaultPolicy,
		sem:             make(chan struct{}, maxConcurrent),
		baseCtx:         context.Background(),
	}, nil
}

// SetContext 注入宿主 ctx，用于任务取消。
func (s *Simulator) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

func (s *Simulator) ctx() context.Context {
	if s.baseCtx != nil {
		return s.baseCtx
	}
	return context.Background()
}

// StartRun 创建回放任务并立即返回，推演过程在后台进行。
func (s *Simulator) StartRun(req RunRequest) (Run, error) {
	strategy := req.Strategy
	if strategy == "" {
		strategy = s.defaultStrategy
	}
	if req.StartTS <= 0 || req.EndTS <= 0 || req.EndTS <= req.StartTS {
		return Run{}, fmt.Errorf("start/end 非法")
	}
	initialBalance := req.InitialBalance
	if initialBalance <= 0 {
		initialBalance = s.defaultBalance
	}
	feeRate := req.FeeRate
	if feeRate < 0 {
		feeRate = 0
	}
	if feeRate == 0 {
		feeRate = s.defaultFeeRate
	}
	policyStr := req.SettlementPolicy
	if policyStr == "" {
		policyStr = string(s.defaultPolicy)
	}
	policy, err := ParseSettlementPolicy(policyStr)
	if err != nil {
		return Run{}, err
	}

	cfg := RunConfig{
		Strategy:         strategy,
		Profile:          req.Profile,
		Params:           req.Params,
		StartTS:          req.StartTS,
		EndTS:            req.EndTS,
		InitialBalance:   initialBalance,
		FeeRate:          feeRate,
		SettlementPolicy: string(policy),
		Verbose:          req.Verbose,
	}
	run := Run{
		ID:             uuid.NewString(),
		Strategy:       strategy,
		Profile:        req.Profile,
		Status:         RunStatusPending,
		StartTS:        req.StartTS,
		EndTS:          req.EndTS,
		InitialBalance: initialBalance,
		FinalBalance:   initialBalance,
		Config:         cfg,
		Stats: RunStats{
			FinalBalance: initialBalance,
		},
	}
	if err := s.results.InsertRun(s.ctx(), run); err != nil {
		return Run{}, err
	}
	go s.runLoop(run.ID, cfg)
	return run, nil
}

func (s *Simulator) runLoop(runID string, cfg RunConfig) {
	select {
	case s.sem <- struct{}{}:
	default:
		logger.Warnf("[replay] run %s 等待可用 worker", runID)
		s.sem <- struct{}{}
	}
	defer func() { <-s.sem }()

	ctx := s.ctx()
	_ = s.results.UpdateRunStatus(ctx, runID, RunStatusRunning, "初始化回放…")
	runner := newSimRunner(s.source, s.results, s.factory, s.duration, cfg)
	if err := runner.Run(ctx, runID); err != nil {
		logger.Warnf("[replay] run %s 失败: %v", runID, err)
		_ = s.results.UpdateRunSummary(ctx, runID, RunStatusFailed, runner.stats(), err.Error())
		return
	}
}

type simRunner struct {
	source   SnapshotSource
	results  *ResultStore
	factory  StrategyFactory
	duration time.Duration
	cfg      RunConfig

	ledger *Ledger
	engine *Engine

	peakEquity   float64
	valleyEquity float64
	maxDrawdown  float64
	snapshots    int
	lastSession  int64
}

func newSimRunner(source SnapshotSource, results *ResultStore, factory StrategyFactory, duration time.Duration, cfg RunConfig) *simRunner {
	return &simRunner{
		source:   source,
		results:  results,
		factory:  factory,
		duration: duration,
		cfg:      cfg,
	}
}

func (r *simRunner) Run(ctx context.Context, runID string) error {
	loader, err := NewSessionLoader(ctx, r.source, r.cfg.StartTS, r.cfg.EndTS, r.duration)
	if err != nil {
		return err
	}
	if _, total := loader.Progress(); total == 0 {
		return fmt.Errorf("区间 [%d,%d] 内没有可回放的市场", r.cfg.StartTS, r.cfg.EndTS)
	}
	ledger, err := NewLedger(r.cfg.InitialBalance, r.cfg.FeeRate)
	if err != nil {
		return err
	}
	r.ledger = ledger
	policy, err := ParseSettlementPolicy(r.cfg.SettlementPolicy)
	if err != nil {
		return err
	}
	settler, err := NewSettler(policy)
	if err != nil {
		return err
	}
	engine, err := NewEngine(loader, ledger, settler, r.cfg.Verbose)
	if err != nil {
		return err
	}
	r.engine = engine
	r.peakEquity = r.cfg.InitialBalance
	r.valleyEquity = r.cfg.InitialBalance

	strategy, err := r.factory.NewStrategy(StrategySpec{
		RunID:       runID,
		ProfileName: r.cfg.Strategy,
		Params:      r.cfg.Params,
	})
	if err != nil {
		return err
	}
	engine.SetStrategy(strategy)
	engine.Observer = func(tick Tick, equity float64) {
		r.recordEquity(ctx, runID, loader, tick, equity)
	}

	runErr := engine.Run(ctx)

	// 出错也要落盘已产生的成交，部分结果可查
	if err := r.results.InsertTrades(ctx, runID, ledger.Trades()); err != nil {
		logger.Warnf("[replay] run %s 写入成交失败: %v", runID, err)
	}
	if runErr != nil {
		return runErr
	}
	return r.results.UpdateRunSummary(ctx, runID, RunStatusDone, r.stats(), "完成")
}

func (r *simRunner) recordEquity(ctx context.Context, runID string, loader *SessionLoader, tick Tick, equity float64) {
	r.peakEquity = math.Max(r.peakEquity, equity)
	if equity < r.valleyEquity {
		r.valleyEquity = equity
	}
	if r.peakEquity > 0 {
		drawdown := (r.peakEquity - equity) / r.peakEquity
		if drawdown > r.maxDrawdown {
			r.maxDrawdown = drawdown
		}
	}
	if _, err := r.results.InsertEquity(ctx, EquityPoint{
		RunID:     runID,
		MarketTS:  tick.MarketTS,
		TickIndex: tick.Index,
		TS:        tick.TS,
		Equity:    equity,
		Cash:      r.ledger.Cash(),
		Drawdown:  r.maxDrawdown,
	}); err != nil {
		logger.Warnf("[replay] run %s 写入资金曲线失败: %v", runID, err)
	}
	r.snapshots++

	if tick.MarketTS != r.lastSession {
		r.lastSession = tick.MarketTS
		done, total := loader.Progress()
		msg := fmt.Sprintf("回放 session %d (%d/%d)", tick.MarketTS, done+1, total)
		if err := r.results.UpdateRunStatus(ctx, runID, RunStatusRunning, msg); err != nil {
			logger.Debugf("update run status failed: %v", err)
		}
	}
}

// stats 汇总当前账本状态；run 中途失败时给出部分统计。
func (r *simRunner) stats() RunStats {
	stats := RunStats{
		FinalBalance: r.cfg.InitialBalance,
		EquityPeak:   r.peakEquity,
		EquityValley: r.valleyEquity,
		Snapshots:    r.snapshots,
		FinishedAt:   time.Now(),
	}
	if r.ledger == nil {
		return stats
	}
	report := Summarize(r.ledger)
	stats.FinalBalance = report.FinalBalance
	stats.Profit = report.FinalBalance - report.InitialBalance
	stats.ReturnPct = report.ReturnPct
	stats.WinRate = report.WinRate
	stats.MaxDrawdownPct = r.maxDrawdown
	stats.Trades = report.TradeCount
	stats.Opens = report.OpenCount
	stats.Closes = report.CloseCount
	stats.Settles = report.SettleCount
	stats.Wins = report.Wins
	stats.Losses = report.Losses
	stats.TotalFees = report.TotalFees
	if r.engine != nil {
		done, total := r.engine.Progress()
		stats.Sessions = done
		stats.SessionsTotal = total
	}
	return stats
}
