package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", "app:\n  env: prod\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.App.Env)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, ":8090", cfg.App.HTTPAddr)
	assert.Equal(t, 60, cfg.Data.IntervalMinutes)
	assert.Equal(t, "mark", cfg.Replay.SettlementPolicy)
	assert.Equal(t, "threshold", cfg.Replay.DefaultStrategy)
	assert.InDelta(t, 10000, cfg.Replay.InitialBalance, 1e-9)
	assert.Equal(t, "configs/profiles.yaml", cfg.Profiles.Path)
}

func TestLoad_IncludeMerge(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "base.yaml", `
app:
  log_level: debug
replay:
  fee_rate: 0.01
`)
	path := writeConfig(t, dir, "config.yaml", `
include:
  - base.yaml
replay:
  fee_rate: 0.02
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	// 被包含文件先合并，主文件覆盖同名键
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.InDelta(t, 0.02, cfg.Replay.FeeRate, 1e-9)
}

func TestLoad_IncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "a.yaml", "include: [b.yaml]\n")
	path := writeConfig(t, dir, "b.yaml", "include: [a.yaml]\n")

	_, err := Load(path)
	assert.ErrorContains(t, err, "cycle")
}

func TestLoad_Validation(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"非法日志级别", "app:\n  log_level: chatty\n"},
		{"interval 超界", "data:\n  interval_minutes: 2000\n"},
		{"费率超界", "replay:\n  fee_rate: 1.5\n"},
		{"未知结算策略", "replay:\n  settlement_policy: vwap\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), "config.yaml", tc.content)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}
