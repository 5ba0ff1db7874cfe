package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"dscengine/native/dsc"
)

// EngineParams parses the configured parameters into runtime values.
func (p Params) EngineParams() (dsc.Params, error) {
	minHF, err := p.minHealthFactor()
	if err != nil {
		return dsc.Params{}, err
	}
	return dsc.Params{
		LiquidationThreshold: p.LiquidationThreshold,
		LiquidationBonus:     p.LiquidationBonus,
		MinHealthFactor:      minHF,
		StalenessTimeout:     time.Duration(p.StalenessTimeoutSeconds) * time.Second,
		FeedDecimals:         p.FeedDecimals,
	}, nil
}

func (p Params) minHealthFactor() (*big.Int, error) {
	value, err := parseUintAmount(p.MinHealthFactor)
	if err != nil {
		return nil, fmt.Errorf("params: invalid MinHealthFactor: %w", err)
	}
	if value.Sign() == 0 {
		return nil, fmt.Errorf("params: MinHealthFactor must be positive")
	}
	return value, nil
}

// TokenAddress returns the parsed collateral token address.
func (c Collateral) TokenAddress() common.Address { return common.HexToAddress(c.Token) }

// FeedAddress returns the parsed aggregator address.
func (c Collateral) FeedAddress() common.Address { return common.HexToAddress(c.Feed) }

// StaticAnswer converts StaticPrice into a feed answer with the supplied
// decimals.
func (c Collateral) StaticAnswer(decimals uint8) (*big.Int, error) {
	price, err := decimal.NewFromString(strings.TrimSpace(c.StaticPrice))
	if err != nil {
		return nil, fmt.Errorf("invalid StaticPrice %q: %w", c.StaticPrice, err)
	}
	if !price.IsPositive() {
		return nil, fmt.Errorf("StaticPrice must be positive")
	}
	return price.Shift(int32(decimals)).BigInt(), nil
}

// AccountAddress returns the parsed recipient of the allocation.
func (a Allocation) AccountAddress() common.Address { return common.HexToAddress(a.Account) }

// BaseUnits converts Amount into the token's smallest denomination.
func (a Allocation) BaseUnits(decimals uint8) (*big.Int, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(a.Amount))
	if err != nil {
		return nil, fmt.Errorf("invalid Amount %q: %w", a.Amount, err)
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("Amount must be positive")
	}
	scaled := amount.Shift(int32(decimals))
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("Amount %q has more than %d decimals", a.Amount, decimals)
	}
	return scaled.BigInt(), nil
}

// StableAddress returns the parsed stable token address.
func (c Config) StableAddress() common.Address { return common.HexToAddress(c.Stable) }

// CustodyAddress returns the parsed custody address.
func (c Config) CustodyAddress() common.Address { return common.HexToAddress(c.Custody) }

func parseUintAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("empty amount")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}
