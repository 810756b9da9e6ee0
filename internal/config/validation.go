package config

import "fmt"

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Data.validate(); err != nil {
		return err
	}
	if err := c.Replay.validate(); err != nil {
		return err
	}
	return nil
}

func (a *AppConfig) validate() error {
	switch a.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("app.log_level must be one of debug/info/warn/error, got %q", a.LogLevel)
	}
	return nil
}

func (d *DataConfig) validate() error {
	if d.IntervalMinutes <= 0 {
		return fmt.Errorf("data.interval_minutes must be > 0")
	}
	if d.IntervalMinutes > 24*60 {
		return fmt.Errorf("data.interval_minutes must be <= 1440")
	}
	return nil
}

func (r *ReplayConfig) validate() error {
	if r.InitialBalance <= 0 {
		return fmt.Errorf("replay.initial_balance must be > 0")
	}
	if r.FeeRate < 0 || r.FeeRate >= 1 {
		return fmt.Errorf("replay.fee_rate must be in [0, 1)")
	}
	switch r.SettlementPolicy {
	case "mark", "redeem":
	default:
		return fmt.Errorf("replay.settlement_policy must be mark or redeem, got %q", r.SettlementPolicy)
	}
	return nil
}
