package backtest

import "errors"

// 错误分级：
//   - 可恢复（策略可重试/跳过）：ErrInsufficientFunds、ErrNoPosition、ErrNoFill
//   - 调用方 bug（不应盲目重试）：ErrInvalidOrder
//   - 迭代器正常终止信号：ErrExhausted
//   - 数据问题（跳过 session 或中止，绝不伪造数据）：ErrDataIntegrity
//   - 使用错误（总是致命）：ErrEngineFinished、ErrNotConfigured
var (
	ErrInvalidOrder      = errors.New("invalid order")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNoPosition        = errors.New("no open position")
	ErrNoFill            = errors.New("no fill")
	ErrExhausted         = errors.New("iterator exhausted")
	ErrDataIntegrity     = errors.New("data integrity violation")
	ErrEngineFinished    = errors.New("engine already finished")
	ErrNotConfigured     = errors.New("engine not configured")
)
