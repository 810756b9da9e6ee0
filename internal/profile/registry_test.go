package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testProfiles = `
profiles:
  cheap-up:
    description: 低价抄底
    strategy: threshold
    params:
      leg: up
      entry_below: 0.40
      size: 100
    schema:
      type: object
      properties:
        leg:
          type: string
          enum: [up, down]
        entry_below:
          type: number
          exclusiveMinimum: 0
          exclusiveMaximum: 1
        size:
          type: number
          exclusiveMinimum: 0
      additionalProperties: false
  bare:
    strategy: rsi
    params:
      period: 14
`

func writeProfiles(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRegistry_LoadAndLookup(t *testing.T) {
	r, err := NewRegistry(writeProfiles(t, testProfiles), false)
	require.NoError(t, err)

	assert.Equal(t, []string{"bare", "cheap-up"}, r.Names())

	p, ok := r.Profile("cheap-up")
	require.True(t, ok)
	assert.Equal(t, "threshold", p.Strategy)
	assert.Equal(t, 1, p.Version)

	_, ok = r.Profile("missing")
	assert.False(t, ok)

	snap := r.Snapshot()
	assert.Equal(t, int64(1), snap.Version)
	assert.Len(t, snap.Profiles, 2)
}

func TestRegistry_Resolve(t *testing.T) {
	r, err := NewRegistry(writeProfiles(t, testProfiles), false)
	require.NoError(t, err)

	t.Run("覆盖 profile 默认参数", func(t *testing.T) {
		strategy, params, err := r.Resolve("cheap-up", map[string]any{"size": 250})
		require.NoError(t, err)
		assert.Equal(t, "threshold", strategy)
		assert.EqualValues(t, 250, params["size"])
		assert.EqualValues(t, 0.40, params["entry_below"])
	})

	t.Run("schema 拦截非法覆盖", func(t *testing.T) {
		_, _, err := r.Resolve("cheap-up", map[string]any{"entry_below": 1.5})
		assert.Error(t, err)
		_, _, err = r.Resolve("cheap-up", map[string]any{"leg": "flat"})
		assert.Error(t, err)
	})

	t.Run("数字字符串参与校验", func(t *testing.T) {
		_, params, err := r.Resolve("cheap-up", map[string]any{"size": "300"})
		require.NoError(t, err)
		assert.Equal(t, "300", params["size"])
	})

	t.Run("无 schema 直接放行", func(t *testing.T) {
		strategy, _, err := r.Resolve("bare", map[string]any{"anything": true})
		require.NoError(t, err)
		assert.Equal(t, "rsi", strategy)
	})

	t.Run("未知 profile", func(t *testing.T) {
		_, _, err := r.Resolve("missing", nil)
		assert.Error(t, err)
	})
}

func TestRegistry_RejectsBadFile(t *testing.T) {
	_, err := NewRegistry(writeProfiles(t, "profiles: {bad: {strategy: x}, unknown_key_here: 1}\nextra_top: true"), false)
	assert.Error(t, err)

	_, err = NewRegistry("", false)
	assert.Error(t, err)
}
