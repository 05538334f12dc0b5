// Package config loads and validates the keeper daemon's TOML configuration:
// the market's risk parameters, its oracle/collateral wiring, and the
// daemon's own sweep-loop knobs.
//
// Grounded on config/config.go's Load/createDefault shape (decode an
// existing file, or synthesize and persist a default one on first run) and
// config/validate.go's ValidateConfig (named fmt.Errorf checks run before
// the caller trusts the values), rewritten from governance/mempool knobs to
// risk-parameter bounds.
package config

import (
	"fmt"
	"math/big"
	"os"

	"github.com/BurntSushi/toml"

	"percolat/crypto"
	"percolat/slab"
)

// Config is the keeper daemon's full configuration file.
type Config struct {
	Market     MarketConfig `toml:"market"`
	RiskParams RiskParams   `toml:"risk_params"`
	Keeper     Keeper       `toml:"keeper"`
}

// Load reads cfg from path, creating a sample default file if none exists
// yet (mirroring the teacher's first-run bootstrap).
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// createDefault writes a conservative sample configuration to path and
// returns it. The admin/collateral/vault/feed identities are left as the
// zero pubkey; an operator must fill those in before InitMarket is viable.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		Market: MarketConfig{
			Admin:            crypto.ZeroPubkey.String(),
			CollateralMint:   crypto.ZeroPubkey.String(),
			Vault:            crypto.ZeroPubkey.String(),
			PriceFeed:        crypto.ZeroPubkey.String(),
			MaxStalenessSecs: 60,
			ConfFilterBps:    100,
			UnitScale:        0,
		},
		RiskParams: RiskParams{
			WarmupPeriodSlots:         150,
			MaintenanceMarginBps:      500,
			InitialMarginBps:          1000,
			TradingFeeBps:             10,
			MaxAccounts:               1024,
			NewAccountFee:             "1000000",
			RiskReductionThreshold:    "1000000000",
			MaintenanceFeePerSlot:     "0",
			MaxCrankStalenessSlots:    1000,
			LiquidationFeeBps:         50,
			LiquidationFeeCap:         "1000000000",
			LiquidationBufferBps:      1000,
			MinLiquidationAbs:         "1",
			FundingHorizonSlots:       100,
			FundingKBps:               10,
			FundingScaleNotional:      "1000000000",
			FundingMaxPremiumBps:      100,
			FundingMaxBpsPerSlot:      10,
			ThreshUpdateIntervalSlots: 50,
		},
		Keeper: Keeper{
			SlabPath:          "./percolat.slab",
			MetricsAddress:    ":9464",
			SweepIntervalSecs: 2,
			SweepBurst:        5,
			LogPath:           "./keeperd.log",
			LogMaxSizeMB:      64,
			LogMaxBackups:     5,
		},
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ToRiskParams converts the TOML-friendly fields into slab.RiskParams,
// parsing every u128 string as decimal.
func (c *RiskParams) ToRiskParams() (slab.RiskParams, error) {
	newAccountFee, err := parseBig(c.NewAccountFee)
	if err != nil {
		return slab.RiskParams{}, err
	}
	riskReductionThreshold, err := parseBig(c.RiskReductionThreshold)
	if err != nil {
		return slab.RiskParams{}, err
	}
	maintenanceFeePerSlot, err := parseBig(c.MaintenanceFeePerSlot)
	if err != nil {
		return slab.RiskParams{}, err
	}
	liquidationFeeCap, err := parseBig(c.LiquidationFeeCap)
	if err != nil {
		return slab.RiskParams{}, err
	}
	minLiquidationAbs, err := parseBig(c.MinLiquidationAbs)
	if err != nil {
		return slab.RiskParams{}, err
	}
	fundingScaleNotional, err := parseBig(c.FundingScaleNotional)
	if err != nil {
		return slab.RiskParams{}, err
	}

	return slab.RiskParams{
		WarmupPeriodSlots:         c.WarmupPeriodSlots,
		MaintenanceMarginBps:      c.MaintenanceMarginBps,
		InitialMarginBps:          c.InitialMarginBps,
		TradingFeeBps:             c.TradingFeeBps,
		MaxAccounts:               c.MaxAccounts,
		NewAccountFee:             newAccountFee,
		RiskReductionThreshold:    riskReductionThreshold,
		MaintenanceFeePerSlot:     maintenanceFeePerSlot,
		MaxCrankStalenessSlots:    c.MaxCrankStalenessSlots,
		LiquidationFeeBps:         c.LiquidationFeeBps,
		LiquidationFeeCap:         liquidationFeeCap,
		LiquidationBufferBps:      c.LiquidationBufferBps,
		MinLiquidationAbs:         minLiquidationAbs,
		FundingHorizonSlots:       c.FundingHorizonSlots,
		FundingKBps:               c.FundingKBps,
		FundingScaleNotional:      fundingScaleNotional,
		FundingMaxPremiumBps:      c.FundingMaxPremiumBps,
		FundingMaxBpsPerSlot:      c.FundingMaxBpsPerSlot,
		ThreshUpdateIntervalSlots: c.ThreshUpdateIntervalSlots,
	}, nil
}

// Identities decodes the market's base58 pubkey fields.
func (c *MarketConfig) Identities() (admin, mint, vault, feed crypto.Pubkey, err error) {
	if admin, err = crypto.DecodePubkey(c.Admin); err != nil {
		return
	}
	if mint, err = crypto.DecodePubkey(c.CollateralMint); err != nil {
		return
	}
	if vault, err = crypto.DecodePubkey(c.Vault); err != nil {
		return
	}
	feed, err = crypto.DecodePubkey(c.PriceFeed)
	return
}

func parseBig(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("config: %q is not a valid base-10 u128", s)
	}
	return v, nil
}
