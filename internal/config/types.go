package config

// Config 是整个进程的配置根。加载后在 run 生命周期内不可变。
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Data     DataConfig     `mapstructure:"data"`
	Replay   ReplayConfig   `mapstructure:"replay"`
	Profiles ProfilesConfig `mapstructure:"profiles"`
}

// AppConfig 进程级配置。
type AppConfig struct {
	Env      string `mapstructure:"env"`       // dev / prod
	LogLevel string `mapstructure:"log_level"` // debug / info / warn / error
	LogPath  string `mapstructure:"log_path"`  // 为空则只打 stdout
	HTTPAddr string `mapstructure:"http_addr"`
}

// DataConfig 数据落盘配置。
type DataConfig struct {
	// ImportDir 是采集器 JSONL 文件树的默认目录（可被导入请求覆盖）。
	ImportDir string `mapstructure:"import_dir"`
	// StoreDir 存放快照 sqlite 库。
	StoreDir string `mapstructure:"store_dir"`
	// ResultDir 存放回放结果 sqlite 库。
	ResultDir string `mapstructure:"result_dir"`
	// CatalogDir 存放 session 目录库。
	CatalogDir string `mapstructure:"catalog_dir"`
	// IntervalMinutes 是每个市场 session 的固定时长（分钟）。
	IntervalMinutes int `mapstructure:"interval_minutes"`
	// ImportPerMin 限制导入速率（市场/分钟）。
	ImportPerMin int `mapstructure:"import_per_min"`
	// ImportConcurrency 限制同时执行的导入任务数。
	ImportConcurrency int `mapstructure:"import_concurrency"`
}

// ReplayConfig 回放默认参数，可被单次 run 请求覆盖。
type ReplayConfig struct {
	InitialBalance   float64 `mapstructure:"initial_balance"`
	FeeRate          float64 `mapstructure:"fee_rate"`
	SettlementPolicy string  `mapstructure:"settlement_policy"` // mark / redeem
	DefaultStrategy  string  `mapstructure:"default_strategy"`
	MaxConcurrent    int     `mapstructure:"max_concurrent"`
	Verbose          bool    `mapstructure:"verbose"`
}

// ProfilesConfig 策略 profile 文件配置。
type ProfilesConfig struct {
	Path  string `mapstructure:"path"`
	Watch bool   `mapstructure:"watch"` // 文件变更时热加载
}
