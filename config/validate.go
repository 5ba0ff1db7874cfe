package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ValidateConfig checks the registry and parameters for consistency.
func ValidateConfig(c Config) error {
	if err := validateAddress("Stable", c.Stable); err != nil {
		return err
	}
	if err := validateAddress("Custody", c.Custody); err != nil {
		return err
	}
	if c.Params.LiquidationThreshold == 0 || c.Params.LiquidationThreshold > 100 {
		return fmt.Errorf("params: LiquidationThreshold must be within (0, 100]")
	}
	if c.Params.LiquidationBonus > 100 {
		return fmt.Errorf("params: LiquidationBonus must not exceed 100")
	}
	if c.Params.FeedDecimals > 18 {
		return fmt.Errorf("params: FeedDecimals must not exceed 18")
	}
	if _, err := c.Params.minHealthFactor(); err != nil {
		return err
	}
	if len(c.Collateral) == 0 {
		return fmt.Errorf("collateral: at least one asset required")
	}
	symbols := make(map[string]struct{}, len(c.Collateral))
	tokens := make(map[common.Address]struct{}, len(c.Collateral))
	needsRPC := false
	for i, col := range c.Collateral {
		if col.Symbol == "" {
			return fmt.Errorf("collateral[%d]: Symbol required", i)
		}
		if _, dup := symbols[col.Symbol]; dup {
			return fmt.Errorf("collateral[%d]: duplicate symbol %s", i, col.Symbol)
		}
		symbols[col.Symbol] = struct{}{}
		if err := validateAddress(fmt.Sprintf("collateral[%d].Token", i), col.Token); err != nil {
			return err
		}
		token := common.HexToAddress(col.Token)
		if _, dup := tokens[token]; dup {
			return fmt.Errorf("collateral[%d]: duplicate token %s", i, col.Token)
		}
		tokens[token] = struct{}{}
		hasFeed := strings.TrimSpace(col.Feed) != ""
		hasStatic := strings.TrimSpace(col.StaticPrice) != ""
		switch {
		case hasFeed == hasStatic:
			return fmt.Errorf("collateral[%d]: exactly one of Feed or StaticPrice required", i)
		case hasFeed:
			if err := validateAddress(fmt.Sprintf("collateral[%d].Feed", i), col.Feed); err != nil {
				return err
			}
			needsRPC = true
		default:
			if _, err := col.StaticAnswer(c.Params.FeedDecimals); err != nil {
				return fmt.Errorf("collateral[%d]: %w", i, err)
			}
		}
	}
	if needsRPC && strings.TrimSpace(c.EthRPC) == "" {
		return fmt.Errorf("EthRPC required when a collateral uses an on-chain feed")
	}
	for i, alloc := range c.Allocation {
		if _, ok := symbols[alloc.Symbol]; !ok {
			return fmt.Errorf("allocation[%d]: unknown collateral %q", i, alloc.Symbol)
		}
		if err := validateAddress(fmt.Sprintf("allocation[%d].Account", i), alloc.Account); err != nil {
			return err
		}
		if _, err := alloc.BaseUnits(18); err != nil {
			return fmt.Errorf("allocation[%d]: %w", i, err)
		}
	}
	return nil
}

func validateAddress(field, value string) error {
	if !common.IsHexAddress(strings.TrimSpace(value)) {
		return fmt.Errorf("%s: invalid address %q", field, value)
	}
	return nil
}
