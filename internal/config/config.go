// Package config loads pipeline configuration from YAML with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Providers ProvidersConfig `yaml:"providers"`
	Storage   StorageConfig   `yaml:"storage"`
}

// PipelineConfig tunes ingestion and analytics.
type PipelineConfig struct {
	MaxTransfersPerWallet int     `yaml:"max_transfers_per_wallet" default:"1000" validate:"gt=0"`
	SinceDays             int     `yaml:"since_days" default:"0" validate:"gte=0"`
	Workers               int     `yaml:"workers" default:"4" validate:"gt=0"`
	SkipStablecoins       bool    `yaml:"skip_stablecoins"`
	LargeTxThreshold      float64 `yaml:"large_tx_threshold" default:"1000" validate:"gt=0"`
	Version               string  `yaml:"version" default:"v1.1" validate:"required"`
	EntitiesCSV           string  `yaml:"entities_csv"`
}

// ProvidersConfig holds upstream endpoints and credentials. AlchemyURL
// empty with EtherscanAPIKey set runs fallback-only; both empty fails at
// adapter construction.
type ProvidersConfig struct {
	AlchemyURL      string `yaml:"alchemy_url"`
	EtherscanAPIKey string `yaml:"etherscan_api_key"`
	NodeRPCURL      string `yaml:"node_rpc_url"`
}

// StorageConfig holds backend DSNs. ClickHouseDSN is optional; when set the
// daily metric table is mirrored there.
type StorageConfig struct {
	PostgresDSN   string `yaml:"postgres_dsn" validate:"required"`
	ClickHouseDSN string `yaml:"clickhouse_dsn"`
}

// Load reads configuration: defaults, then the YAML file (optional), then
// environment overrides, then validation.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// applyEnv overlays the recognized environment variables.
func applyEnv(cfg *Config) {
	overlayString(&cfg.Providers.AlchemyURL, "ALCHEMY_URL")
	overlayString(&cfg.Providers.EtherscanAPIKey, "ETHERSCAN_API_KEY")
	overlayString(&cfg.Providers.NodeRPCURL, "NODE_RPC_URL")
	overlayString(&cfg.Storage.PostgresDSN, "DATABASE_URL")
	overlayString(&cfg.Storage.ClickHouseDSN, "CLICKHOUSE_DSN")
	overlayString(&cfg.Pipeline.EntitiesCSV, "ENTITIES_CSV")
	overlayInt(&cfg.Pipeline.Workers, "WORKER_COUNT")
}

func overlayString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func overlayInt(dst *int, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}
