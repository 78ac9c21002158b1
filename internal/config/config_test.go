package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	require.Equal(t, 64, cfg.Pool.DataRequestSlots)
	require.False(t, cfg.Metrics.Enabled)
}

func TestLoadEmptyPathReturnsDefault(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadOverridesOnlyGivenFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vhdctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pool:
  bitmap_cache_size: 8
metrics:
  enabled: true
  addr: ":9999"
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 8, cfg.Pool.BitmapCacheSize)
	require.True(t, cfg.Metrics.Enabled)
	require.Equal(t, ":9999", cfg.Metrics.Addr)
	require.Equal(t, 64, cfg.Pool.DataRequestSlots) // untouched default
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load("/nonexistent/path/vhdctl.yaml")
	require.Error(t, err)
}
