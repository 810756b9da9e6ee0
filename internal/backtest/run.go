package backtest

import (
	"encoding/json"
	"time"
)

const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusFailed  = "failed"
)

// RunConfig 记录本次回放的参数快照，便于重放。
type RunConfig struct {
	Strategy         string         `json:"strategy"`
	Profile          string         `json:"profile,omitempty"`
	Params           map[string]any `json:"params,omitempty"`
	StartTS          int64          `json:"start_ts"`
	EndTS            int64          `json:"end_ts"`
	InitialBalance   float64        `json:"initial_balance"`
	FeeRate          float64        `json:"fee_rate"`
	SettlementPolicy string         `json:"settlement_policy"`
	Verbose          bool           `json:"verbose,omitempty"`
	Notes            string         `json:"notes,omitempty"`
}

// RunStats 汇总收益与风控指标，供前端展示。
type RunStats struct {
	FinalBalance   float64   `json:"final_balance"`
	Profit         float64   `json:"profit"`
	ReturnPct      float64   `json:"return_pct"`
	WinRate        float64   `json:"win_rate"`
	MaxDrawdownPct float64   `json:"max_drawdown_pct"`
	Trades         int       `json:"trades"`
	Opens          int       `json:"opens"`
	Closes         int       `json:"closes"`
	Settles        int       `json:"settles"`
	Wins           int       `json:"wins"`
	Losses         int       `json:"losses"`
	Sessions       int       `json:"sessions"`
	SessionsTotal  int       `json:"sessions_total"`
	TotalFees      float64   `json:"total_fees"`
	EquityPeak     float64   `json:"equity_peak"`
	EquityValley   float64   `json:"equity_valley"`
	Snapshots      int       `json:"snapshots"`
	FinishedAt     time.Time `json:"finished_at"`
}

// Run 表示一次回放任务。
type Run struct {
	ID             string    `json:"id"`
	Strategy       string    `json:"strategy"`
	Profile        string    `json:"profile,omitempty"`
	Status         string    `json:"status"`
	StartTS        int64     `json:"start_ts"`
	EndTS          int64     `json:"end_ts"`
	InitialBalance float64   `json:"initial_balance"`
	FinalBalance   float64   `json:"final_balance"`
	Profit         float64   `json:"profit"`
	ReturnPct      float64   `json:"return_pct"`
	WinRate        float64   `json:"win_rate"`
	MaxDrawdownPct float64   `json:"max_drawdown_pct"`
	Message        string    `json:"message"`
	Config         RunConfig `json:"config"`
	Stats          RunStats  `json:"stats"`
	Trades         int       `json:"trades"`
	Sessions       int       `json:"sessions"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	CompletedAt    time.Time `json:"completed_at"`
}

// MarshalStats 返回 stats JSON。
func (r Run) MarshalStats() ([]byte, error) {
	return json.Marshal(r.Stats)
}

// MarshalConfig 返回 config JSON。
func (r Run) MarshalConfig() ([]byte, error) {
	return json.Marshal(r.Config)
}

// EquityPoint 保存资金曲线上的一个点（每 tick 一条）。
type EquityPoint struct {
	ID        int64   `json:"id"`
	RunID     string  `json:"run_id"`
	MarketTS  int64   `json:"market_ts"`
	TickIndex int     `json:"tick_index"`
	TS        int64   `json:"ts"`
	Equity    float64 `json:"equity"`
	Cash      float64 `json:"cash"`
	Drawdown  float64 `json:"drawdown"`
}

// RunRequest 为 HTTP 提交使用。
type RunRequest struct {
	Strategy         string         `json:"strategy"`
	Profile          string         `json:"profile"`
	Params           map[string]any `json:"params"`
	StartTS          int64          `json:"start_ts" binding:"required"`
	EndTS            int64          `json:"end_ts" binding:"required"`
	InitialBalance   float64        `json:"initial_balance"`
	FeeRate          float64        `json:"fee_rate"`
	SettlementPolicy string         `json:"settlement_policy"`
	Verbose          bool           `json:"verbose"`
}
