package config

import "strings"

// Params captures the economic constants of the engine in their file form.
type Params struct {
	LiquidationThreshold    uint64 `toml:"LiquidationThreshold"`
	LiquidationBonus        uint64 `toml:"LiquidationBonus"`
	MinHealthFactor         string `toml:"MinHealthFactor"` // 18 decimal fixed point
	StalenessTimeoutSeconds uint64 `toml:"StalenessTimeoutSeconds"`
	FeedDecimals            uint8  `toml:"FeedDecimals"`
}

// DefaultParams mirrors dsc.DefaultParams.
func DefaultParams() Params {
	return Params{
		LiquidationThreshold:    50,
		LiquidationBonus:        10,
		MinHealthFactor:         "1000000000000000000",
		StalenessTimeoutSeconds: 3 * 60 * 60,
		FeedDecimals:            8,
	}
}

// Collateral registers one collateral asset. Exactly one of Feed and
// StaticPrice must be set: Feed is an AggregatorV3 address queried over
// EthRPC, StaticPrice a whole-dollar decimal used for local deployments.
type Collateral struct {
	Symbol      string `toml:"Symbol"`
	Token       string `toml:"Token"`
	Feed        string `toml:"Feed,omitempty"`
	StaticPrice string `toml:"StaticPrice,omitempty"`
}

// Allocation credits a starting collateral balance to Account. Amount is
// expressed in whole tokens.
type Allocation struct {
	Symbol  string `toml:"Symbol"`
	Account string `toml:"Account"`
	Amount  string `toml:"Amount"`
}

// Pauses lists the modules that start paused.
type Pauses struct {
	DSC bool `toml:"DSC"`
}

// IsPaused implements the engine pause view.
func (p Pauses) IsPaused(module string) bool {
	switch strings.ToLower(strings.TrimSpace(module)) {
	case "dsc":
		return p.DSC
	default:
		return false
	}
}
