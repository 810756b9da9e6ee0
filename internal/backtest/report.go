package backtest

// Report 是一次 run 的汇总结果，纯粹由账本成交历史推导。
type Report struct {
	InitialBalance float64 `json:"initial_balance"`
	FinalBalance   float64 `json:"final_balance"`
	TotalPnL       float64 `json:"total_pnl"`
	ReturnPct      float64 `json:"return_pct"`
	TotalFees      float64 `json:"total_fees"`
	TradeCount     int     `json:"trade_count"`
	OpenCount      int     `json:"open_count"`
	CloseCount     int     `json:"close_count"`
	SettleCount    int     `json:"settle_count"`
	Wins           int     `json:"wins"`
	Losses         int     `json:"losses"`
	WinRate        float64 `json:"win_rate"` // 胜场 / 平仓笔数, 无成交时为 0
}

// Summarize 汇总账本为报告。只读，不修改账本。
func Summarize(l *Ledger) Report {
	r := Report{
		InitialBalance: l.InitialBalance(),
		FinalBalance:   l.Cash(),
	}
	for _, t := range l.Trades() {
		r.TradeCount++
		r.TotalFees += t.Fee
		switch t.Action {
		case ActionOpen:
			r.OpenCount++
		case ActionClose:
			r.CloseCount++
			r.TotalPnL += t.PnL
		case ActionSettle:
			r.SettleCount++
			r.TotalPnL += t.PnL
		}
	}
	r.ReturnPct = (r.FinalBalance - r.InitialBalance) / r.InitialBalance * 100
	r.Wins, r.Losses = l.WinLoss()
	if closed := r.Wins + r.Losses; closed > 0 {
		r.WinRate = float64(r.Wins) / float64(closed)
	}
	return r
}
