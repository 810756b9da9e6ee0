package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"polyback/internal/logger"
	"polyback/internal/market"
)

// SessionLoader 把快照源切成顺序的固定时长 session，单遍迭代。
// session 严格按时间升序吐出，session 内 tick 严格按序号升序吐出。
type SessionLoader struct {
	source   SnapshotSource
	duration time.Duration

	markets []int64
	cursor  int
	done    int

	session *Session
	ticks   []Tick
	tickPos int
}

// NewSessionLoader 扫描 [start, end]（Unix 秒）内的市场并构建迭代器。
func NewSessionLoader(ctx context.Context, source SnapshotSource, start, end int64, duration time.Duration) (*SessionLoader, error) {
	if source == nil {
		return nil, fmt.Errorf("snapshot source 不能为空")
	}
	if duration <= 0 {
		return nil, fmt.Errorf("session 时长需 > 0, 实际 %s", duration)
	}
	if end < start {
		return nil, fmt.Errorf("时间区间非法: start %d > end %d", start, end)
	}
	markets, err := source.ListMarkets(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("扫描市场失败: %w", err)
	}
	return &SessionLoader{source: source, duration: duration, markets: markets}, nil
}

// HasNextSession 报告是否还有候选 session。
// 候选可能在加载时因数据问题被跳过，最终由 NextSession 的 ErrExhausted 兜底。
func (sl *SessionLoader) HasNextSession() bool {
	return sl.cursor < len(sl.markets)
}

// NextSession 加载下一个 session。两条腿快照数不一致时双双截断到
// min(up, down) —— 有意的有损对齐策略，保证上游缺口不中断推进。
// 数据损坏的 session 记警告后跳过，绝不伪造快照。
func (sl *SessionLoader) NextSession(ctx context.Context) (Session, error) {
	for sl.cursor < len(sl.markets) {
		marketTS := sl.markets[sl.cursor]
		sl.cursor++

		ticks, err := sl.loadTicks(ctx, marketTS)
		if err != nil {
			if errors.Is(err, ErrDataIntegrity) {
				logger.Warnf("市场 %d 数据损坏, 跳过该 session: %v", marketTS, err)
				sl.done++
				continue
			}
			return Session{}, err
		}
		if len(ticks) == 0 {
			logger.Warnf("市场 %d 无可对齐 tick, 跳过该 session", marketTS)
			sl.done++
			continue
		}

		session := Session{
			MarketTS: marketTS,
			Start:    time.Unix(marketTS, 0).UTC(),
			Duration: sl.duration,
			Ticks:    len(ticks),
		}
		sl.session = &session
		sl.ticks = ticks
		sl.tickPos = 0
		return session, nil
	}
	return Session{}, fmt.Errorf("%w: 没有更多 session", ErrExhausted)
}

// HasNextTick 报告当前 session 是否还有未消费的 tick。
func (sl *SessionLoader) HasNextTick() bool {
	return sl.session != nil && sl.tickPos < len(sl.ticks)
}

// NextTick 返回当前 session 的下一个 tick。
func (sl *SessionLoader) NextTick() (Tick, error) {
	if !sl.HasNextTick() {
		return Tick{}, fmt.Errorf("%w: 当前 session 已消费完", ErrExhausted)
	}
	tick := sl.ticks[sl.tickPos]
	sl.tickPos++
	if sl.tickPos >= len(sl.ticks) {
		// session 消费完毕，释放内存
		sl.session = nil
		sl.ticks = nil
		sl.done++
	}
	return tick, nil
}

// Progress 返回 (已完成 session 数, 候选 session 总数)。
func (sl *SessionLoader) Progress() (done, total int) {
	return sl.done, len(sl.markets)
}

func (sl *SessionLoader) loadTicks(ctx context.Context, marketTS int64) ([]Tick, error) {
	up, err := sl.source.LoadSeries(ctx, marketTS, market.LegUp)
	if err != nil {
		return nil, err
	}
	down, err := sl.source.LoadSeries(ctx, marketTS, market.LegDown)
	if err != nil {
		return nil, err
	}
	n := len(up)
	if len(down) < n {
		n = len(down)
	}
	if n < len(up) || n < len(down) {
		logger.Debugf("市场 %d 快照数不一致 (up=%d down=%d), 截断到 %d", marketTS, len(up), len(down), n)
	}
	ticks := make([]Tick, 0, n)
	for i := 0; i < n; i++ {
		if err := up[i].Validate(); err != nil {
			return nil, fmt.Errorf("%w: 市场 %d up#%d: %v", ErrDataIntegrity, marketTS, i, err)
		}
		if err := down[i].Validate(); err != nil {
			return nil, fmt.Errorf("%w: 市场 %d down#%d: %v", ErrDataIntegrity, marketTS, i, err)
		}
		ticks = append(ticks, Tick{
			MarketTS: marketTS,
			Index:    i,
			TS:       up[i].TS,
			Books: map[market.Leg]market.BookSnapshot{
				market.LegUp:   up[i],
				market.LegDown: down[i],
			},
		})
	}
	return ticks, nil
}
