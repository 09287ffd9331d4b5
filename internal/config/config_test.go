package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/babeld-go/babeld/internal/config"
)

func TestDefaultConfigMaxRoutesFloored(t *testing.T) {
	cfg := config.DefaultConfig()
	require.GreaterOrEqual(t, cfg.Babel.MaxRoutes(), 64)
}

func TestLoadConfigOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "babeld.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
babel:
  kernel_base: 7
admin:
  http_endpoint: ""
`), 0o644))

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 7, cfg.Babel.KernelBase)
	require.Equal(t, "", cfg.Admin.HTTPEndpoint)
	require.NotZero(t, cfg.Babel.RouteTableMemory)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := config.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
