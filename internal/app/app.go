package app

import (
	"context"
	"fmt"
	"time"

	"polyback/internal/backtest"
	pbcfg "polyback/internal/config"
	"polyback/internal/logger"
	"polyback/internal/profile"
	"polyback/internal/store/gormstore"
	replayhttp "polyback/internal/transport/http/replay"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化存储与服务→启动 HTTP。
type App struct {
	cfg     *pbcfg.Config
	store   *backtest.SnapshotStore
	results *backtest.ResultStore
	catalog *gormstore.Catalog
	svc     *backtest.ImportService
	sim     *backtest.Simulator
	server  *replayhttp.Server
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *pbcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)

	store, err := backtest.NewSnapshotStore(cfg.Data.StoreDir)
	if err != nil {
		return nil, fmt.Errorf("初始化快照库失败: %w", err)
	}
	results, err := backtest.NewResultStore(cfg.Data.ResultDir)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("初始化结果库失败: %w", err)
	}
	catalog, err := gormstore.NewCatalog(cfg.Data.CatalogDir)
	if err != nil {
		store.Close()
		results.Close()
		return nil, fmt.Errorf("初始化 session 目录失败: %w", err)
	}

	svc, err := backtest.NewImportService(backtest.ImportServiceConfig{
		Store:         store,
		Catalog:       catalog,
		DefaultDir:    cfg.Data.ImportDir,
		MarketsPerMin: cfg.Data.ImportPerMin,
		MaxConcurrent: cfg.Data.ImportConcurrency,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化导入服务失败: %w", err)
	}

	registry, err := profile.NewRegistry(cfg.Profiles.Path, cfg.Profiles.Watch)
	if err != nil {
		return nil, fmt.Errorf("初始化 profile registry 失败: %w", err)
	}

	sim, err := backtest.NewSimulator(backtest.SimulatorConfig{
		Source:          store,
		Results:         results,
		SessionDuration: time.Duration(cfg.Data.IntervalMinutes) * time.Minute,
		DefaultStrategy: cfg.Replay.DefaultStrategy,
		DefaultBalance:  cfg.Replay.InitialBalance,
		DefaultFeeRate:  cfg.Replay.FeeRate,
		DefaultPolicy:   backtest.SettlementPolicy(cfg.Replay.SettlementPolicy),
		MaxConcurrent:   cfg.Replay.MaxConcurrent,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化模拟器失败: %w", err)
	}

	server, err := replayhttp.NewServer(replayhttp.Config{
		Addr:      cfg.App.HTTPAddr,
		Svc:       svc,
		Simulator: sim,
		Results:   results,
		Catalog:   catalog,
		Profiles:  registry,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 HTTP 服务失败: %w", err)
	}

	return &App{
		cfg:     cfg,
		store:   store,
		results: results,
		catalog: catalog,
		svc:     svc,
		sim:     sim,
		server:  server,
	}, nil
}

// Run 启动 HTTP 服务，阻塞直到 ctx 取消或出错。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	a.svc.SetContext(ctx)
	a.sim.SetContext(ctx)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Infof("HTTP 服务启动: %s", a.cfg.App.HTTPAddr)
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	err := group.Wait()
	a.Close()
	return err
}

// Close 释放存储句柄。
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.catalog != nil {
		_ = a.catalog.Close()
	}
	if a.results != nil {
		_ = a.results.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}
