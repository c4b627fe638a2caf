package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "storage:\n  postgres_dsn: postgres://localhost/risk\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.Pipeline.MaxTransfersPerWallet)
	assert.Equal(t, 0, cfg.Pipeline.SinceDays)
	assert.Equal(t, 4, cfg.Pipeline.Workers)
	assert.False(t, cfg.Pipeline.SkipStablecoins)
	assert.Equal(t, 1000.0, cfg.Pipeline.LargeTxThreshold)
	assert.Equal(t, "v1.1", cfg.Pipeline.Version)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
pipeline:
  workers: 8
  skip_stablecoins: true
  large_tx_threshold: 400
storage:
  postgres_dsn: postgres://localhost/risk
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Pipeline.Workers)
	assert.True(t, cfg.Pipeline.SkipStablecoins)
	assert.Equal(t, 400.0, cfg.Pipeline.LargeTxThreshold)
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	t.Setenv("ALCHEMY_URL", "https://eth-mainnet.example/v2/key")
	t.Setenv("WORKER_COUNT", "12")
	t.Setenv("DATABASE_URL", "postgres://env-host/risk")

	path := writeConfig(t, `
pipeline:
  workers: 2
providers:
  alchemy_url: https://yaml-host/v2/key
storage:
  postgres_dsn: postgres://yaml-host/risk
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://eth-mainnet.example/v2/key", cfg.Providers.AlchemyURL)
	assert.Equal(t, 12, cfg.Pipeline.Workers)
	assert.Equal(t, "postgres://env-host/risk", cfg.Storage.PostgresDSN)
}

func TestLoadMissingDSNFails(t *testing.T) {
	path := writeConfig(t, "pipeline:\n  workers: 2\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PostgresDSN")
}

func TestLoadInvalidWorkersFails(t *testing.T) {
	path := writeConfig(t, "pipeline:\n  workers: -1\nstorage:\n  postgres_dsn: postgres://x/y\n")

	_, err := Load(path)
	require.Error(t, err)
}
