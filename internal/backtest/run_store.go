package backtest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"polyback/internal/market"

	_ "modernc.org/sqlite"
)

// ResultStore 管理 replay_runs/replay_trades/replay_equity 表。
type ResultStore struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

func NewResultStore(root string) (*ResultStore, error) {
	if root == "" {
		return nil, fmt.Errorf("result store root 不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(root, "runs.db")
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureResultSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &ResultStore{db: db, path: path}, nil
}

func (s *ResultStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureResultSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS replay_runs (
			id TEXT PRIMARY KEY,
			strategy TEXT NOT NULL,
			profile TEXT,
			status TEXT NOT NULL,
			start_ts INTEGER NOT NULL,
			end_ts INTEGER NOT NULL,
			initial_balance REAL NOT NULL,
			final_balance REAL NOT NULL DEFAULT 0,
			profit REAL NOT NULL DEFAULT 0,
			return_pct REAL NOT NULL DEFAULT 0,
			win_rate REAL NOT NULL DEFAULT 0,
			max_drawdown REAL NOT NULL DEFAULT 0,
			trades INTEGER NOT NULL DEFAULT 0,
			sessions INTEGER NOT NULL DEFAULT 0,
			config_json TEXT NOT NULL,
			stats_json TEXT,
			message TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			completed_at INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS replay_trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			market_ts INTEGER NOT NULL,
			leg TEXT NOT NULL,
			action TEXT NOT NULL,
			kind TEXT NOT NULL,
			size REAL NOT NULL,
			price REAL NOT NULL,
			notional REAL NOT NULL,
			fee REAL NOT NULL,
			pnl REAL NOT NULL DEFAULT 0,
			tick_index INTEGER NOT NULL,
			ts INTEGER NOT NULL,
			FOREIGN KEY(run_id) REFERENCES replay_runs(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS replay_equity (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			market_ts INTEGER NOT NULL,
			tick_index INTEGER NOT NULL,
			ts INTEGER NOT NULL,
			equity REAL NOT NULL,
			cash REAL NOT NULL,
			drawdown REAL NOT NULL,
			FOREIGN KEY(run_id) REFERENCES replay_runs(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_run ON replay_trades(run_id);`,
		`CREATE INDEX IF NOT EXISTS idx_equity_run ON replay_equity(run_id, id);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// InsertRun 写入一条 run 记录。
func (s *ResultStore) InsertRun(ctx context.Context, run Run) error {
	cfgJSON, err := json.Marshal(run.Config)
	if err != nil {
		return err
	}
	statsJSON, err := json.Marshal(run.Stats)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO replay_runs
			(id, strategy, profile, status, start_ts, end_ts, initial_balance,
			final_balance, profit, return_pct, win_rate, max_drawdown, trades, sessions,
			config_json, stats_json, message, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Strategy, run.Profile, run.Status, run.StartTS, run.EndTS,
		run.InitialBalance, run.FinalBalance, run.Profit, run.ReturnPct, run.WinRate,
		run.MaxDrawdownPct, run.Trades, run.Sessions, string(cfgJSON), bytesOrNil(statsJSON),
		run.Message, now, now, nullableTime(run.CompletedAt))
	return err
}

func bytesOrNil(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func timeFromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// UpdateRunSummary 更新状态与指标。
func (s *ResultStore) UpdateRunSummary(ctx context.Context, id, status string, stats RunStats, message string) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	var completed interface{}
	if status == RunStatusDone || status == RunStatusFailed {
		completed = now
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE replay_runs
		SET status=?, final_balance=?, profit=?, return_pct=?, win_rate=?, max_drawdown=?,
		    trades=?, sessions=?, stats_json=?, message=?, updated_at=?,
		    completed_at=CASE WHEN ? IS NULL THEN completed_at ELSE ? END
		WHERE id=?`,
		status, stats.FinalBalance, stats.Profit, stats.ReturnPct, stats.WinRate,
		stats.MaxDrawdownPct, stats.Trades, stats.Sessions, string(statsJSON), message, now,
		completed, completed, id)
	return err
}

// UpdateRunStatus 仅更新状态与提示。
func (s *ResultStore) UpdateRunStatus(ctx context.Context, id, status, message string) error {
	now := time.Now().UnixMilli()
	var completed interface{}
	if status == RunStatusDone || status == RunStatusFailed {
		completed = now
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE replay_runs
		SET status=?, message=?, updated_at=?, completed_at=CASE WHEN ? IS NULL THEN completed_at ELSE ? END
		WHERE id=?`, status, message, now, completed, completed, id)
	return err
}

// InsertTrades 批量写入成交记录。
func (s *ResultStore) InsertTrades(ctx context.Context, runID string, trades []TradeRecord) error {
	if len(trades) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO replay_trades
			(run_id, market_ts, leg, action, kind, size, price, notional, fee, pnl, tick_index, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, t := range trades {
		if _, err := stmt.ExecContext(ctx, runID, t.MarketTS, string(t.Leg), string(t.Action), string(t.Kind),
			t.Size, t.Price, t.Notional, t.Fee, t.PnL, t.TickIndex, t.TS); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// ListTrades 按写入顺序返回某次 run 的成交。
func (s *ResultStore) ListTrades(ctx context.Context, runID string, limit int) ([]TradeRecord, error) {
	if limit <= 0 || limit > 2000 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, market_ts, leg, action, kind, size, price, notional, fee, pnl, tick_index, ts
		FROM replay_trades
		WHERE run_id=?
		ORDER BY id ASC
		LIMIT ?`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TradeRecord
	for rows.Next() {
		var t TradeRecord
		var leg, action, kind string
		if err := rows.Scan(&t.ID, &t.MarketTS, &leg, &action, &kind, &t.Size, &t.Price,
			&t.Notional, &t.Fee, &t.PnL, &t.TickIndex, &t.TS); err != nil {
			return nil, err
		}
		t.Leg, t.Action, t.Kind = market.Leg(leg), TradeAction(action), OrderKind(kind)
		out = append(out, t)
	}
	return out, rows.Err()
}

// InsertEquity 写入一个资金曲线点。
func (s *ResultStore) InsertEquity(ctx context.Context, p EquityPoint) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO replay_equity
			(run_id, market_ts, tick_index, ts, equity, cash, drawdown)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.RunID, p.MarketTS, p.TickIndex, p.TS, p.Equity, p.Cash, p.Drawdown)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListEquity 按写入顺序返回资金曲线。
func (s *ResultStore) ListEquity(ctx context.Context, runID string, limit int) ([]EquityPoint, error) {
	if limit <= 0 || limit > 20000 {
		limit = 5000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, market_ts, tick_index, ts, equity, cash, drawdown
		FROM replay_equity
		WHERE run_id=?
		ORDER BY id ASC
		LIMIT ?`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EquityPoint
	for rows.Next() {
		var p EquityPoint
		if err := rows.Scan(&p.ID, &p.MarketTS, &p.TickIndex, &p.TS, &p.Equity, &p.Cash, &p.Drawdown); err != nil {
			return nil, err
		}
		p.RunID = runID
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *ResultStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, strategy, profile, status, start_ts, end_ts, initial_balance,
		       final_balance, profit, return_pct, win_rate, max_drawdown, trades, sessions,
		       config_json, stats_json, message, created_at, updated_at, completed_at
		FROM replay_runs
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, run)
	}
	return list, rows.Err()
}

func (s *ResultStore) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, strategy, profile, status, start_ts, end_ts, initial_balance,
		       final_balance, profit, return_pct, win_rate, max_drawdown, trades, sessions,
		       config_json, stats_json, message, created_at, updated_at, completed_at
		FROM replay_runs WHERE id=?`, id)
	return scanRun(row)
}

// DeleteRun 连带删除 run 的全部成交与资金曲线。
func (s *ResultStore) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM replay_runs WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var run Run
	var profile, cfgStr, message sql.NullString
	var statsStr sql.NullString
	var created, updated int64
	var completed sql.NullInt64
	if err := row.Scan(&run.ID, &run.Strategy, &profile, &run.Status, &run.StartTS, &run.EndTS,
		&run.InitialBalance, &run.FinalBalance, &run.Profit, &run.ReturnPct, &run.WinRate,
		&run.MaxDrawdownPct, &run.Trades, &run.Sessions, &cfgStr, &statsStr, &message,
		&created, &updated, &completed); err != nil {
		return Run{}, err
	}
	run.Profile = profile.String
	run.Message = message.String
	run.CreatedAt = timeFromMillis(created)
	run.UpdatedAt = timeFromMillis(updated)
	if completed.Valid {
		run.CompletedAt = timeFromMillis(completed.Int64)
	}
	if cfgStr.Valid && cfgStr.String != "" {
		if err := json.Unmarshal([]byte(cfgStr.String), &run.Config); err != nil {
			return Run{}, err
		}
	}
	if statsStr.Valid && statsStr.String != "" {
		if err := json.Unmarshal([]byte(statsStr.String), &run.Stats); err != nil {
			return Run{}, err
		}
	}
	return run, nil
}
