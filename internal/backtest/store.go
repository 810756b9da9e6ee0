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

// StoreManifest 记录快照库的整体统计，导入任务每次写入后刷新。
type StoreManifest struct {
	MinMarket  int64  `json:"min_market"`
	MaxMarket  int64  `json:"max_market"`
	Markets    int64  `json:"markets"`
	Rows       int64  `json:"rows"`
	LastSyncAt int64  `json:"last_sync_at"`
	Path       string `json:"path"`
}

// SnapshotStore 把订单簿快照落进单个 sqlite 文件，
// 作为回测读取侧的 SnapshotSource 实现。
type SnapshotStore struct {
	path string

	mu sync.Mutex
	db *sql.DB
}

func NewSnapshotStore(dir string) (*SnapshotStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("store 目录不能为空")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &SnapshotStore{path: filepath.Join(dir, "books.db")}, nil
}

func (s *SnapshotStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SnapshotStore) conn() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db, nil
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", s.path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSnapshotSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.db = db
	return db, nil
}

func ensureSnapshotSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS books (
			market_ts   INTEGER NOT NULL,
			leg         TEXT NOT NULL,
			tick_idx    INTEGER NOT NULL,
			ts          INTEGER NOT NULL,
			asset_price REAL NOT NULL DEFAULT 0,
			bids_json   TEXT NOT NULL,
			asks_json   TEXT NOT NULL,
			inserted_at INTEGER NOT NULL DEFAULT (strftime('%s','now') * 1000),
			PRIMARY KEY (market_ts, leg, tick_idx)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_books_market ON books(market_ts);`,
		`CREATE TABLE IF NOT EXISTS manifest (
			id INTEGER PRIMARY KEY CHECK (id=1),
			min_market INTEGER,
			max_market INTEGER,
			markets INTEGER DEFAULT 0,
			rows INTEGER DEFAULT 0,
			last_sync_at INTEGER
		);`,
		`INSERT INTO manifest (id) VALUES (1) ON CONFLICT(id) DO NOTHING;`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// InsertSeries 批量写入某个市场某条腿的快照序列（重复 tick_idx 将被覆盖）。
func (s *SnapshotStore) InsertSeries(ctx context.Context, marketTS int64, leg market.Leg, series []market.BookSnapshot) (int, error) {
	if len(series) == 0 {
		return 0, nil
	}
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO books (market_ts, leg, tick_idx, ts, asset_price, bids_json, asks_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(market_ts, leg, tick_idx) DO UPDATE SET
		    ts=excluded.ts,
		    asset_price=excluded.asset_price,
		    bids_json=excluded.bids_json,
		    asks_json=excluded.asks_json`)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()
	count := 0
	for idx, snap := range series {
		bids, err := json.Marshal(snap.Bids)
		if err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		asks, err := json.Marshal(snap.Asks)
		if err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		if _, err := stmt.ExecContext(ctx, marketTS, string(leg), idx, snap.TS, snap.AssetPrice, string(bids), string(asks)); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	if err := s.refreshManifest(ctx, db); err != nil {
		return count, err
	}
	return count, nil
}

// ListMarkets 返回区间内两条腿都有快照的市场时间戳（升序）。
func (s *SnapshotStore) ListMarkets(ctx context.Context, start, end int64) ([]int64, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT market_ts FROM books
		WHERE market_ts BETWEEN ? AND ?
		GROUP BY market_ts
		HAVING COUNT(DISTINCT leg) = 2
		ORDER BY market_ts ASC`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

// LoadSeries 按 tick_idx 升序读出某个市场某条腿的全部快照。
func (s *SnapshotStore) LoadSeries(ctx context.Context, marketTS int64, leg market.Leg) ([]market.BookSnapshot, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT ts, asset_price, bids_json, asks_json
		FROM books WHERE market_ts = ? AND leg = ?
		ORDER BY tick_idx ASC`, marketTS, string(leg))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var series []market.BookSnapshot
	for rows.Next() {
		var (
			snap market.BookSnapshot
			bids string
			asks string
		)
		if err := rows.Scan(&snap.TS, &snap.AssetPrice, &bids, &asks); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(bids), &snap.Bids); err != nil {
			return nil, fmt.Errorf("%w: market %d %s bids: %v", ErrDataIntegrity, marketTS, leg, err)
		}
		if err := json.Unmarshal([]byte(asks), &snap.Asks); err != nil {
			return nil, fmt.Errorf("%w: market %d %s asks: %v", ErrDataIntegrity, marketTS, leg, err)
		}
		series = append(series, snap)
	}
	return series, rows.Err()
}

func (s *SnapshotStore) Manifest(ctx context.Context) (StoreManifest, error) {
	db, err := s.conn()
	if err != nil {
		return StoreManifest{}, err
	}
	row := db.QueryRowContext(ctx, `SELECT COALESCE(min_market,0), COALESCE(max_market,0), markets, rows, COALESCE(last_sync_at,0) FROM manifest WHERE id=1`)
	var m StoreManifest
	if err := row.Scan(&m.MinMarket, &m.MaxMarket, &m.Markets, &m.Rows, &m.LastSyncAt); err != nil {
		return StoreManifest{}, err
	}
	m.Path = s.path
	return m, nil
}

func (s *SnapshotStore) refreshManifest(ctx context.Context, db *sql.DB) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		UPDATE manifest
		SET min_market = (SELECT COALESCE(MIN(market_ts), 0) FROM books),
		    max_market = (SELECT COALESCE(MAX(market_ts), 0) FROM books),
		    markets = (SELECT COUNT(DISTINCT market_ts) FROM books),
		    rows = (SELECT COUNT(1) FROM books),
		    last_sync_at = ?
		WHERE id = 1`, now)
	return err
}
