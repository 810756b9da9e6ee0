package backtest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"polyback/internal/logger"
	"polyback/internal/market"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	JobStatusPending = "pending"
	JobStatusRunning = "running"
	JobStatusDone    = "done"
	JobStatusPartial = "partial"
	JobStatusFailed  = "failed"
)

// CatalogEntry 描述一个已入库市场的概要，写给 session 目录。
type CatalogEntry struct {
	MarketTS   int64
	Ticks      int
	Legs       []string
	ImportedAt time.Time
}

// Cataloger 维护可回放市场的目录；导入成功后逐市场 upsert。
type Cataloger interface {
	Upsert(ctx context.Context, entry CatalogEntry) error
}

// ImportParams 描述一次导入请求。
type ImportParams struct {
	Dir   string `json:"dir"`
	Start int64  `json:"start"`
	End   int64  `json:"end"`
}

// ImportJob 是一次后台导入任务的状态快照。
type ImportJob struct {
	ID        string       `json:"id"`
	Status    string       `json:"status"`
	Params    ImportParams `json:"params"`
	Total     int          `json:"total"`
	Completed int          `json:"completed"`
	Rows      int          `json:"rows"`
	Message   string       `json:"message,omitempty"`
	Warnings  []string     `json:"warnings,omitempty"`
	StartedAt time.Time    `json:"started_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

func (j *ImportJob) copy() ImportJob {
	out := *j
	out.Warnings = append([]string(nil), j.Warnings...)
	return out
}

// ImportServiceConfig 配置 ImportService。
type ImportServiceConfig struct {
	Store         *SnapshotStore
	Catalog       Cataloger
	DefaultDir    string
	MarketsPerMin int
	MaxConcurrent int
}

// ImportService 把采集器的 JSONL 文件树导入快照库，任务在后台执行。
// 速率限制防止批量导入把磁盘 IO 打满。
type ImportService struct {
	store      *SnapshotStore
	catalog    Cataloger
	defaultDir string

	limiter *rate.Limiter
	sem     chan struct{}

	mu   sync.RWMutex
	jobs map[string]*ImportJob

	baseCtx context.Context
}

func NewImportService(cfg ImportServiceConfig) (*ImportService, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("snapshot store 不能为空")
	}
	perSec := rate.Limit(float64(cfg.MarketsPerMin) / 60.0)
	if cfg.MarketsPerMin <= 0 {
		perSec = 10
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	return &ImportService{
		store:      cfg.Store,
		catalog:    cfg.Catalog,
		defaultDir: cfg.DefaultDir,
		limiter:    rate.NewLimiter(perSec, 1),
		sem:        make(chan struct{}, maxConcurrent),
		jobs:       make(map[string]*ImportJob),
		baseCtx:    context.Background(),
	}, nil
}

// SetContext 注入宿主 ctx，用于任务取消。
func (s *ImportService) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

func (s *ImportService) ctx() context.Context {
	if s.baseCtx == nil {
		return context.Background()
	}
	return s.baseCtx
}

// SubmitImport 提交导入任务并立即返回。
func (s *ImportService) SubmitImport(params ImportParams) (ImportJob, error) {
	if strings.TrimSpace(params.Dir) == "" {
		params.Dir = s.defaultDir
	}
	source, err := NewFileSource(params.Dir)
	if err != nil {
		return ImportJob{}, err
	}
	if params.Start <= 0 {
		params.Start = 1
	}
	if params.End <= 0 {
		params.End = time.Now().Unix()
	}
	if params.End < params.Start {
		return ImportJob{}, fmt.Errorf("start 与 end 需要构成区间")
	}
	markets, err := source.ListMarkets(s.ctx(), params.Start, params.End)
	if err != nil {
		return ImportJob{}, err
	}
	job := &ImportJob{
		ID:        uuid.NewString(),
		Status:    JobStatusPending,
		Params:    params,
		Total:     len(markets),
		StartedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
	logger.Infof("[import] 任务 %s 提交: %s [%d,%d] 市场数=%d", job.ID, params.Dir, params.Start, params.End, len(markets))

	if len(markets) == 0 {
		s.setJobStatus(job.ID, JobStatusDone, "区间内没有成对的市场文件")
		return job.copy(), nil
	}

	go s.runJob(job.ID, source, markets)
	return job.copy(), nil
}

func (s *ImportService) runJob(jobID string, source *FileSource, markets []int64) {
	select {
	case s.sem <- struct{}{}:
	case <-s.ctx().Done():
		s.setJobStatus(jobID, JobStatusFailed, "服务已关闭")
		return
	}
	defer func() { <-s.sem }()

	ctx := s.ctx()
	s.updateJob(jobID, func(j *ImportJob) {
		j.Status = JobStatusRunning
		j.Message = ""
	})

	var warnings []string
	for _, marketTS := range markets {
		if err := ctx.Err(); err != nil {
			s.setJobStatus(jobID, JobStatusFailed, err.Error())
			return
		}
		if err := s.limiter.Wait(ctx); err != nil {
			s.setJobStatus(jobID, JobStatusFailed, err.Error())
			return
		}
		rows, err := s.importMarket(ctx, source, marketTS)
		if err != nil {
			if errors.Is(err, ErrDataIntegrity) {
				warnings = append(warnings, fmt.Sprintf("市场 %d 数据损坏, 已跳过: %v", marketTS, err))
				logger.Warnf("[import] 任务 %s 跳过市场 %d: %v", jobID, marketTS, err)
				continue
			}
			s.setJobStatus(jobID, JobStatusFailed, fmt.Sprintf("市场 %d 导入失败: %v", marketTS, err))
			return
		}
		s.updateJob(jobID, func(j *ImportJob) {
			j.Completed++
			j.Rows += rows
			j.UpdatedAt = time.Now()
			if warnings != nil {
				j.Warnings = warnings
			}
		})
	}

	status := JobStatusDone
	message := "导入完成"
	if len(warnings) > 0 {
		status = JobStatusPartial
		message = fmt.Sprintf("导入完成, %d 个市场被跳过", len(warnings))
	}
	s.setJobStatus(jobID, status, message)
	logger.Infof("[import] 任务 %s 完成, 状态=%s", jobID, status)
}

// importMarket 把一个市场的两条腿快照写入库，并截断到 min(up, down)。
func (s *ImportService) importMarket(ctx context.Context, source *FileSource, marketTS int64) (int, error) {
	up, err := source.LoadSeries(ctx, marketTS, market.LegUp)
	if err != nil {
		return 0, err
	}
	down, err := source.LoadSeries(ctx, marketTS, market.LegDown)
	if err != nil {
		return 0, err
	}
	n := len(up)
	if len(down) < n {
		n = len(down)
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: 市场 %d 任一腿无快照", ErrDataIntegrity, marketTS)
	}
	rows := 0
	inserted, err := s.store.InsertSeries(ctx, marketTS, market.LegUp, up[:n])
	if err != nil {
		return rows, err
	}
	rows += inserted
	inserted, err = s.store.InsertSeries(ctx, marketTS, market.LegDown, down[:n])
	if err != nil {
		return rows, err
	}
	rows += inserted

	if s.catalog != nil {
		entry := CatalogEntry{
			MarketTS:   marketTS,
			Ticks:      n,
			Legs:       []string{string(market.LegUp), string(market.LegDown)},
			ImportedAt: time.Now(),
		}
		if err := s.catalog.Upsert(ctx, entry); err != nil {
			logger.Warnf("[import] 市场 %d 写目录失败: %v", marketTS, err)
		}
	}
	return rows, nil
}

func (s *ImportService) setJobStatus(jobID, status, message string) {
	s.updateJob(jobID, func(j *ImportJob) {
		j.Status = status
		j.Message = message
		j.UpdatedAt = time.Now()
	})
}

func (s *ImportService) updateJob(id string, fn func(*ImportJob)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok && fn != nil {
		fn(job)
	}
}

// JobSnapshot 返回任务副本。
func (s *ImportService) JobSnapshot(id string) (ImportJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return ImportJob{}, false
	}
	return job.copy(), true
}

// JobsSnapshot 返回所有任务的拷贝列表。
func (s *ImportService) JobsSnapshot() []ImportJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ImportJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.copy())
	}
	return out
}

// ManifestInfo 读取快照库 manifest。
func (s *ImportService) ManifestInfo(ctx context.Context) (StoreManifest, error) {
	return s.store.Manifest(ctx)
}
