package backtest

import (
	"context"

	"polyback/internal/market"
)

// SnapshotSource 统一订单簿历史的读取边界：文件树、sqlite、内存生成器
// 都可以喂给 SessionLoader，核心不关心落盘格式。
type SnapshotSource interface {
	// ListMarkets 返回 [start, end]（Unix 秒，闭区间）内两条腿都有数据的
	// 市场起始时间戳，升序。
	ListMarkets(ctx context.Context, start, end int64) ([]int64, error)
	// LoadSeries 返回某个市场某条腿的全部快照，按时间升序。
	LoadSeries(ctx context.Context, marketTS int64, leg market.Leg) ([]market.BookSnapshot, error)
}
