package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"polyback/internal/backtest"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// SessionRecord 是目录里一个可回放市场的概要。
type SessionRecord struct {
	MarketTS   int64     `json:"market_ts"`
	Ticks      int       `json:"ticks"`
	Legs       []string  `json:"legs"`
	ImportedAt time.Time `json:"imported_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Catalog 用 Gorm + SQLite 维护已导入市场的目录，供 HTTP 查询。
type Catalog struct {
	db *gorm.DB
}

var _ backtest.Cataloger = (*Catalog)(nil)

func NewCatalog(dir string) (*Catalog, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("catalog 目录不能为空")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "catalog.db")
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	// CGO_ENABLED=0 构建下 mattn 驱动不可用；DSN 的 _pragma 语法也只有
	// modernc 的 "sqlite" 驱动（backtest 包已注册）能识别。
	db, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: dsn}, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&sessionModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: 允许少量并行读，锁竞争仍可控
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Catalog{db: db}, nil
}

func (c *Catalog) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Upsert 写入或更新一个市场的目录项。
func (c *Catalog) Upsert(ctx context.Context, entry backtest.CatalogEntry) error {
	if c == nil || c.db == nil {
		return fmt.Errorf("catalog 未初始化")
	}
	if entry.MarketTS <= 0 {
		return fmt.Errorf("market_ts 必填")
	}
	legsJSON, err := json.Marshal(entry.Legs)
	if err != nil {
		return err
	}
	importedAt := entry.ImportedAt
	if importedAt.IsZero() {
		importedAt = time.Now()
	}
	model := sessionModel{
		MarketTS:       entry.MarketTS,
		Ticks:          entry.Ticks,
		Legs:           datatypes.JSON(legsJSON),
		ImportedAtUnix: importedAt.UnixMilli(),
		UpdatedAtUnix:  time.Now().UnixMilli(),
	}
	return c.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "market_ts"}},
			DoUpdates: clause.AssignmentColumns([]string{"ticks", "legs", "updated_at"}),
		}).
		Create(&model).Error
}

// Get 返回指定市场的目录项。
func (c *Catalog) Get(ctx context.Context, marketTS int64) (SessionRecord, bool, error) {
	if c == nil || c.db == nil {
		return SessionRecord{}, false, fmt.Errorf("catalog 未初始化")
	}
	var model sessionModel
	if err := c.db.WithContext(ctx).Where("market_ts = ?", marketTS).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return SessionRecord{}, false, nil
		}
		return SessionRecord{}, false, err
	}
	return modelToRecord(model), true, nil
}

// List 返回 [start, end] 内的目录项（升序）。start/end 为 0 表示不限。
func (c *Catalog) List(ctx context.Context, start, end int64, limit int) ([]SessionRecord, error) {
	if c == nil || c.db == nil {
		return nil, fmt.Errorf("catalog 未初始化")
	}
	if limit <= 0 || limit > 2000 {
		limit = 500
	}
	query := c.db.WithContext(ctx).Model(&sessionModel{})
	if start > 0 {
		query = query.Where("market_ts >= ?", start)
	}
	if end > 0 {
		query = query.Where("market_ts <= ?", end)
	}
	var models []sessionModel
	if err := query.Order("market_ts ASC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]SessionRecord, 0, len(models))
	for _, m := range models {
		out = append(out, modelToRecord(m))
	}
	return out, nil
}

// Count 返回目录内的市场总数。
func (c *Catalog) Count(ctx context.Context) (int, error) {
	if c == nil || c.db == nil {
		return 0, fmt.Errorf("catalog 未初始化")
	}
	var total int64
	if err := c.db.WithContext(ctx).Model(&sessionModel{}).Count(&total).Error; err != nil {
		return 0, err
	}
	return int(total), nil
}

type sessionModel struct {
	ID             int64          `gorm:"column:id;primaryKey"`
	MarketTS       int64          `gorm:"column:market_ts;uniqueIndex"`
	Ticks          int            `gorm:"column:ticks"`
	Legs           datatypes.JSON `gorm:"column:legs"`
	ImportedAtUnix int64          `gorm:"column:imported_at"`
	UpdatedAtUnix  int64          `gorm:"column:updated_at"`
}

func (sessionModel) TableName() string { return "catalog_sessions" }

func modelToRecord(m sessionModel) SessionRecord {
	rec := SessionRecord{
		MarketTS:   m.MarketTS,
		Ticks:      m.Ticks,
		ImportedAt: time.UnixMilli(m.ImportedAtUnix),
		UpdatedAt:  time.UnixMilli(m.UpdatedAtUnix),
	}
	if len(m.Legs) > 0 {
		_ = json.Unmarshal(m.Legs, &rec.Legs)
	}
	return rec
}
