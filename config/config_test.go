package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesAndReloadsDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keeperd.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load (create default): %v", err)
	}
	if cfg.RiskParams.MaxAccounts == 0 {
		t.Fatalf("default max_accounts = 0, want nonzero")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config file not written: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load (reload): %v", err)
	}
	if reloaded.RiskParams.MaxAccounts != cfg.RiskParams.MaxAccounts {
		t.Fatalf("reloaded max_accounts = %d, want %d", reloaded.RiskParams.MaxAccounts, cfg.RiskParams.MaxAccounts)
	}
	if reloaded.Keeper.SlabPath != cfg.Keeper.SlabPath {
		t.Fatalf("reloaded slab_path = %q, want %q", reloaded.Keeper.SlabPath, cfg.Keeper.SlabPath)
	}
}

func TestToRiskParamsParsesU128Strings(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "keeperd.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	rp, err := cfg.RiskParams.ToRiskParams()
	if err != nil {
		t.Fatalf("ToRiskParams: %v", err)
	}
	if rp.NewAccountFee.Sign() <= 0 {
		t.Fatalf("new_account_fee parsed as %s, want positive", rp.NewAccountFee)
	}
}

func TestToRiskParamsRejectsMalformedU128(t *testing.T) {
	rp := RiskParams{NewAccountFee: "not-a-number"}
	if _, err := rp.ToRiskParams(); err == nil {
		t.Fatalf("expected error for malformed new_account_fee")
	}
}

func TestValidateRejectsBadMarginOrder(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "keeperd.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.RiskParams.MaintenanceMarginBps = cfg.RiskParams.InitialMarginBps

	if err := Validate(cfg); err == nil {
		t.Fatalf("expected Validate to reject maintenance_margin_bps >= initial_margin_bps")
	}
}

func TestValidateRejectsMissingSlabPath(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "keeperd.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.Keeper.SlabPath = ""

	if err := Validate(cfg); err == nil {
		t.Fatalf("expected Validate to reject empty slab_path")
	}
}
