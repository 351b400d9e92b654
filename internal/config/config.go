// Package config loads the service configuration from a YAML file with
// environment variable overrides for deployment-specific values.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/synthex/protocol-core/internal/protocol"
)

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Protocol ProtocolConfig `yaml:"protocol"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port string `yaml:"port"`
}

// DatabaseConfig holds PostgreSQL settings. An empty URL selects the
// in-memory store.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig holds cache settings. An empty URL disables the cache.
type RedisConfig struct {
	URL      string        `yaml:"url"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// ProtocolConfig holds the protocol parameter set.
type ProtocolConfig struct {
	Controller       string          `yaml:"controller"`
	RiskAddress      string          `yaml:"risk_address"`
	RebalanceAddress string          `yaml:"rebalance_address"`
	Oracle           OracleConfig    `yaml:"oracle"`
	Risk             RiskConfig      `yaml:"risk"`
	Rebalance        RebalanceConfig `yaml:"rebalance"`
}

// OracleConfig holds price aggregation parameters.
type OracleConfig struct {
	SeedPrice          uint64 `yaml:"seed_price"`          // micro-units
	DeviationBps       uint64 `yaml:"deviation_bps"`       // max submission deviation
	StalenessThreshold uint64 `yaml:"staleness_threshold"` // seconds
	MinSources         uint64 `yaml:"min_sources"`
	InitialReputation  uint64 `yaml:"initial_reputation"`
}

// RiskConfig holds liquidation parameters.
type RiskConfig struct {
	LiquidationThresholdBps uint64 `yaml:"liquidation_threshold_bps"`
	LiquidationPenaltyBps   uint64 `yaml:"liquidation_penalty_bps"`
}

// RebalanceConfig holds hedge maintenance parameters.
type RebalanceConfig struct {
	Threshold      uint64 `yaml:"threshold"`    // delta units
	MinInterval    uint64 `yaml:"min_interval"` // seconds
	MaxSlippage    uint64 `yaml:"max_slippage"` // bps
	MaxFundingRate uint64 `yaml:"max_funding_rate"`
}

// Default returns the deployed contract defaults.
func Default() Config {
	p := protocol.DefaultParams()
	return Config{
		Server: ServerConfig{Port: "8080"},
		Redis:  RedisConfig{CacheTTL: 30 * time.Second},
		Protocol: ProtocolConfig{
			Controller:       "controller",
			RiskAddress:      "risk-engine",
			RebalanceAddress: "rebalance-engine",
			Oracle: OracleConfig{
				SeedPrice:          p.SeedPrice,
				DeviationBps:       p.DeviationBps,
				StalenessThreshold: p.StalenessThreshold,
				MinSources:         p.MinOracleSources,
				InitialReputation:  p.InitialReputation,
			},
			Risk: RiskConfig{
				LiquidationThresholdBps: p.LiquidationThresholdBps,
				LiquidationPenaltyBps:   p.LiquidationPenaltyBps,
			},
			Rebalance: RebalanceConfig{
				Threshold:      p.RebalanceThreshold,
				MinInterval:    p.MinRebalanceInterval,
				MaxSlippage:    p.MaxSlippage,
				MaxFundingRate: p.MaxFundingRate,
			},
		},
	}
}

// Load reads a YAML config file over the defaults. An empty path
// returns the defaults unchanged. Environment variables PORT,
// DATABASE_URL and REDIS_URL override their file counterparts.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	return cfg, nil
}

// Params maps the configured protocol section into the engines'
// parameter set.
func (c Config) Params() protocol.Params {
	return protocol.Params{
		Controller:              c.Protocol.Controller,
		RiskAddress:             c.Protocol.RiskAddress,
		RebalanceAddress:        c.Protocol.RebalanceAddress,
		SeedPrice:               c.Protocol.Oracle.SeedPrice,
		DeviationBps:            c.Protocol.Oracle.DeviationBps,
		StalenessThreshold:      c.Protocol.Oracle.StalenessThreshold,
		MinOracleSources:        c.Protocol.Oracle.MinSources,
		InitialReputation:       c.Protocol.Oracle.InitialReputation,
		LiquidationThresholdBps: c.Protocol.Risk.LiquidationThresholdBps,
		LiquidationPenaltyBps:   c.Protocol.Risk.LiquidationPenaltyBps,
		RebalanceThreshold:      c.Protocol.Rebalance.Threshold,
		MinRebalanceInterval:    c.Protocol.Rebalance.MinInterval,
		MaxSlippage:             c.Protocol.Rebalance.MaxSlippage,
		MaxFundingRate:          c.Protocol.Rebalance.MaxFundingRate,
	}
}
