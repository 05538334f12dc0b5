package config

import "fmt"

// Validate checks the bounds spec §3/§7 expect of RiskParams before a
// keeper trusts them, plus the daemon's own sweep-loop knobs. It runs
// syntax-free: ToRiskParams' string-to-big.Int parsing is a separate step
// callers perform afterward.
func Validate(cfg *Config) error {
	rp := cfg.RiskParams
	if rp.MaintenanceMarginBps >= rp.InitialMarginBps {
		return fmt.Errorf("risk_params: maintenance_margin_bps >= initial_margin_bps")
	}
	if rp.MaxAccounts == 0 {
		return fmt.Errorf("risk_params: max_accounts must be > 0")
	}
	if rp.MaxCrankStalenessSlots == 0 {
		return fmt.Errorf("risk_params: max_crank_staleness_slots must be > 0")
	}
	if rp.LiquidationBufferBps == 0 {
		return fmt.Errorf("risk_params: liquidation_buffer_bps must be > 0")
	}
	if rp.FundingHorizonSlots == 0 {
		return fmt.Errorf("risk_params: funding_horizon_slots must be > 0")
	}

	mc := cfg.Market
	if mc.MaxStalenessSecs == 0 {
		return fmt.Errorf("market: max_staleness_secs must be > 0")
	}
	if _, _, _, _, err := mc.Identities(); err != nil {
		return fmt.Errorf("market: invalid identity: %w", err)
	}

	k := cfg.Keeper
	if k.SlabPath == "" {
		return fmt.Errorf("keeper: slab_path must be set")
	}
	if k.SweepIntervalSecs == 0 {
		return fmt.Errorf("keeper: sweep_interval_secs must be > 0")
	}
	if k.SweepBurst <= 0 {
		return fmt.Errorf("keeper: sweep_burst must be > 0")
	}
	return nil
}
