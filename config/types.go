package config

// RiskParams mirrors slab.RiskParams as TOML-friendly values: u128 fields
// are decimal strings (TOML has no 128-bit integer type), everything else
// is a plain uint64/bps field.
type RiskParams struct {
	WarmupPeriodSlots      uint64 `toml:"warmup_period_slots"`
	MaintenanceMarginBps   uint64 `toml:"maintenance_margin_bps"`
	InitialMarginBps       uint64 `toml:"initial_margin_bps"`
	TradingFeeBps          uint64 `toml:"trading_fee_bps"`
	MaxAccounts            uint64 `toml:"max_accounts"`
	NewAccountFee          string `toml:"new_account_fee"`
	RiskReductionThreshold string `toml:"risk_reduction_threshold"`
	MaintenanceFeePerSlot  string `toml:"maintenance_fee_per_slot"`
	MaxCrankStalenessSlots uint64 `toml:"max_crank_staleness_slots"`

	LiquidationFeeBps    uint64 `toml:"liquidation_fee_bps"`
	LiquidationFeeCap    string `toml:"liquidation_fee_cap"`
	LiquidationBufferBps uint64 `toml:"liquidation_buffer_bps"`
	MinLiquidationAbs    string `toml:"min_liquidation_abs"`

	FundingHorizonSlots  uint64 `toml:"funding_horizon_slots"`
	FundingKBps          uint64 `toml:"funding_k_bps"`
	FundingScaleNotional string `toml:"funding_scale_notional"`
	FundingMaxPremiumBps uint64 `toml:"funding_max_premium_bps"`
	FundingMaxBpsPerSlot uint64 `toml:"funding_max_bps_per_slot"`

	ThreshUpdateIntervalSlots uint64 `toml:"thresh_update_interval_slots"`
}

// MarketConfig mirrors slab.MarketConfig: identities are base58 strings
// (crypto.Pubkey.String's format) rather than raw bytes.
type MarketConfig struct {
	Admin          string `toml:"admin"`
	CollateralMint string `toml:"collateral_mint"`
	Vault          string `toml:"vault"`

	PriceFeedIsPush  bool   `toml:"price_feed_is_push"`
	PriceFeed        string `toml:"price_feed"`
	MaxStalenessSecs uint64 `toml:"max_staleness_secs"`
	ConfFilterBps    uint16 `toml:"conf_filter_bps"`
	Invert           bool   `toml:"invert"`
	UnitScale        uint32 `toml:"unit_scale"`
}

// Keeper controls the reference daemon's own runtime knobs, not anything
// stored on the slab.
type Keeper struct {
	SlabPath          string `toml:"slab_path"`
	MetricsAddress    string `toml:"metrics_address"`
	SweepIntervalSecs uint64 `toml:"sweep_interval_secs"`
	SweepBurst        int    `toml:"sweep_burst"`
	LogPath           string `toml:"log_path"`
	LogMaxSizeMB      int    `toml:"log_max_size_mb"`
	LogMaxBackups     int    `toml:"log_max_backups"`
}
