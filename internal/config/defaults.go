package config

// applyDefaults 给未设置的字段补默认值（零值视为未设置）。
func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.HTTPAddr == "" {
		c.App.HTTPAddr = ":8090"
	}
	if c.Data.ImportDir == "" {
		c.Data.ImportDir = "data/raw"
	}
	if c.Data.StoreDir == "" {
		c.Data.StoreDir = "data/books"
	}
	if c.Data.ResultDir == "" {
		c.Data.ResultDir = "data/results"
	}
	if c.Data.CatalogDir == "" {
		c.Data.CatalogDir = "data/catalog"
	}
	if c.Data.IntervalMinutes <= 0 {
		c.Data.IntervalMinutes = 60
	}
	if c.Data.ImportPerMin <= 0 {
		c.Data.ImportPerMin = 600
	}
	if c.Data.ImportConcurrency <= 0 {
		c.Data.ImportConcurrency = 2
	}
	if c.Replay.InitialBalance <= 0 {
		c.Replay.InitialBalance = 10000
	}
	if c.Replay.FeeRate < 0 {
		c.Replay.FeeRate = 0
	}
	if c.Replay.SettlementPolicy == "" {
		c.Replay.SettlementPolicy = "mark"
	}
	if c.Replay.DefaultStrategy == "" {
		c.Replay.DefaultStrategy = "threshold"
	}
	if c.Replay.MaxConcurrent <= 0 {
		c.Replay.MaxConcurrent = 1
	}
	if c.Profiles.Path == "" {
		c.Profiles.Path = "configs/profiles.yaml"
	}
}
