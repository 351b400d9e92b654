package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Redis.CacheTTL != 30*time.Second {
		t.Errorf("expected cache TTL 30s, got %s", cfg.Redis.CacheTTL)
	}
	if cfg.Protocol.Oracle.SeedPrice != 250000 {
		t.Errorf("expected seed price 250000, got %d", cfg.Protocol.Oracle.SeedPrice)
	}
	if cfg.Protocol.Risk.LiquidationThresholdBps != 12000 {
		t.Errorf("expected liquidation threshold 12000, got %d", cfg.Protocol.Risk.LiquidationThresholdBps)
	}
	if cfg.Protocol.Rebalance.MaxFundingRate != 1000000 {
		t.Errorf("expected max funding rate 1000000, got %d", cfg.Protocol.Rebalance.MaxFundingRate)
	}
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg != Default() {
		t.Error("expected defaults for empty path")
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
server:
  port: "9090"
database:
  url: postgres://localhost/synthex
protocol:
  controller: ops
  oracle:
    deviation_bps: 250
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Database.URL != "postgres://localhost/synthex" {
		t.Errorf("unexpected database url %s", cfg.Database.URL)
	}
	if cfg.Protocol.Controller != "ops" {
		t.Errorf("expected controller ops, got %s", cfg.Protocol.Controller)
	}
	if cfg.Protocol.Oracle.DeviationBps != 250 {
		t.Errorf("expected deviation 250, got %d", cfg.Protocol.Oracle.DeviationBps)
	}
	// Untouched sections keep their defaults.
	if cfg.Protocol.Oracle.SeedPrice != 250000 {
		t.Errorf("file load clobbered seed price: got %d", cfg.Protocol.Oracle.SeedPrice)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("DATABASE_URL", "postgres://db/protocol")
	t.Setenv("REDIS_URL", "redis://cache:6379")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("expected port 7070, got %s", cfg.Server.Port)
	}
	if cfg.Database.URL != "postgres://db/protocol" {
		t.Errorf("unexpected database url %s", cfg.Database.URL)
	}
	if cfg.Redis.URL != "redis://cache:6379" {
		t.Errorf("unexpected redis url %s", cfg.Redis.URL)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParams(t *testing.T) {
	cfg := Default()
	cfg.Protocol.Oracle.DeviationBps = 250
	cfg.Protocol.Rebalance.MaxSlippage = 150

	p := cfg.Params()
	if p.Controller != "controller" || p.RiskAddress != "risk-engine" {
		t.Errorf("unexpected addresses: %s / %s", p.Controller, p.RiskAddress)
	}
	if p.DeviationBps != 250 {
		t.Errorf("expected deviation 250, got %d", p.DeviationBps)
	}
	if p.MaxSlippage != 150 {
		t.Errorf("expected max slippage 150, got %d", p.MaxSlippage)
	}
}
