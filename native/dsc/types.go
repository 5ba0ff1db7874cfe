package dsc

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"dscengine/storage"
)

// RoundData mirrors the AggregatorV3 latestRoundData tuple.
type RoundData struct {
	RoundID         *big.Int
	Answer          *big.Int
	StartedAt       *big.Int
	UpdatedAt       *big.Int
	AnsweredInRound *big.Int
}

// PriceFeed is the external price source paired with each collateral asset.
type PriceFeed interface {
	LatestRoundData(ctx context.Context) (RoundData, error)
}

// ERC20 is the subset of a fungible token used to move collateral. The token
// is bound to the engine's custody account as the message sender: Transfer
// moves funds out of custody and TransferFrom spends the custody allowance.
// A false result reports a failed transfer; an error aborts the operation as
// reported by the token.
type ERC20 interface {
	TransferFrom(ctx context.Context, from, to common.Address, amount *big.Int) (bool, error)
	Transfer(ctx context.Context, to common.Address, amount *big.Int) (bool, error)
}

// StableToken is the synthetic stable asset the engine mints and burns.
// Burn retires tokens held by the custody account.
type StableToken interface {
	ERC20
	Mint(ctx context.Context, to common.Address, amount *big.Int) (bool, error)
	Burn(ctx context.Context, amount *big.Int) error
}

// Snapshotter is implemented by collaborators able to undo their own effects.
// The engine snapshots them when an operation starts, reverts them when it
// aborts and releases the snapshot when it commits.
type Snapshotter interface {
	Snapshot() int
	RevertToSnapshot(id int)
	ReleaseSnapshot(id int)
}

// Persister is implemented by collaborators keeping their own state in the
// engine's database. Their pending writes join the ledger batch of every
// committed operation.
type Persister interface {
	PendingWrites() ([]storage.Write, error)
}

// Params groups the immutable economic constants of the engine.
type Params struct {
	// LiquidationThreshold is the percentage of collateral value counted
	// toward solvency.
	LiquidationThreshold uint64
	// LiquidationBonus is the percentage premium paid to liquidators.
	LiquidationBonus uint64
	// MinHealthFactor is the solvency cutoff expressed with 18 decimals.
	MinHealthFactor *big.Int
	// StalenessTimeout is the maximum accepted age of a price round.
	StalenessTimeout time.Duration
	// FeedDecimals is the native precision of the price feeds.
	FeedDecimals uint8
}

// DefaultParams returns the reference economics: 50% threshold, 10% bonus,
// a 1.0 minimum health factor and a three hour staleness timeout on 8 decimal
// feeds.
func DefaultParams() Params {
	return Params{
		LiquidationThreshold: 50,
		LiquidationBonus:     10,
		MinHealthFactor:      new(big.Int).Set(precision),
		StalenessTimeout:     3 * time.Hour,
		FeedDecimals:         8,
	}
}

func (p Params) validate() error {
	if p.LiquidationThreshold == 0 || p.LiquidationThreshold > liquidationPrecision {
		return fmt.Errorf("%w: liquidation threshold must be within (0, %d]", ErrInvalidParams, liquidationPrecision)
	}
	if p.LiquidationBonus > liquidationPrecision {
		return fmt.Errorf("%w: liquidation bonus must not exceed %d", ErrInvalidParams, liquidationPrecision)
	}
	if p.MinHealthFactor == nil || p.MinHealthFactor.Sign() <= 0 {
		return fmt.Errorf("%w: minimum health factor must be positive", ErrInvalidParams)
	}
	if p.StalenessTimeout < time.Second {
		// Feed rounds carry second resolution timestamps.
		return fmt.Errorf("%w: staleness timeout must be at least one second", ErrInvalidParams)
	}
	if p.FeedDecimals > precisionDecimals {
		return fmt.Errorf("%w: feed decimals must not exceed %d", ErrInvalidParams, precisionDecimals)
	}
	return nil
}

// AccountInformation reports an account's outstanding debt and the USD value
// of its collateral.
type AccountInformation struct {
	TotalDSCMinted     *big.Int
	CollateralValueUSD *big.Int
}

// LiquidationResult summarises a committed liquidation.
type LiquidationResult struct {
	Collateral       common.Address
	User             common.Address
	DebtCovered      *big.Int
	CollateralSeized *big.Int
	Bonus            *big.Int
	StartingHealth   *big.Int
	EndingHealth     *big.Int
}
