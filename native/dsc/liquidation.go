package dsc

import (
	"context"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"dscengine/observability"
)

// Liquidate lets liquidator repay debtToCover of user's debt in exchange for
// the equivalent amount of collateral plus the liquidation bonus.
//
// The target may remain insolvent between the seizure and the repayment; only
// the ending health factor is checked. When the seizure exceeds the target's
// balance of collateral the whole liquidation fails, there is no partial
// seizure.
func (e *Engine) Liquidate(ctx context.Context, liquidator, collateral, user common.Address, debtToCover *big.Int) (*LiquidationResult, error) {
	var result *LiquidationResult
	err := e.execute(ctx, "liquidate", func(op *operation) error {
		if !positive(debtToCover) {
			return ErrInvalidAmount
		}
		starting, err := e.healthFactor(op.ctx, op.tx, user)
		if err != nil {
			return err
		}
		if starting.Cmp(e.params.MinHealthFactor) >= 0 {
			return healthFactorOK(starting)
		}

		round, err := e.LatestPrice(op.ctx, collateral)
		if err != nil {
			return err
		}
		covered, err := tokenAmountFromUSD(round.Answer, e.scale, debtToCover)
		if err != nil {
			return err
		}
		bonus := liquidationBonus(covered, e.params.LiquidationBonus)
		seized, err := addChecked(covered, bonus)
		if err != nil {
			return err
		}

		if err := e.collateral.redeem(op, collateral, seized, user, liquidator); err != nil {
			return err
		}
		if err := e.debt.decreaseDebt(op, user, debtToCover, liquidator); err != nil {
			return err
		}

		ending, err := e.healthFactor(op.ctx, op.tx, user)
		if err != nil {
			return err
		}
		if ending.Cmp(starting) <= 0 {
			return ErrHealthFactorNotImproved
		}
		if err := e.assertSolvent(op.ctx, op.tx, liquidator); err != nil {
			return err
		}

		result = &LiquidationResult{
			Collateral:       collateral,
			User:             user,
			DebtCovered:      new(big.Int).Set(debtToCover),
			CollateralSeized: seized,
			Bonus:            bonus,
			StartingHealth:   starting,
			EndingHealth:     ending,
		}
		op.emit(Liquidated{ID: uuid.New(), Liquidator: liquidator, Result: *result})
		return nil
	})
	if err != nil {
		return nil, err
	}
	observability.DSC().RecordLiquidation(collateral.Hex(), result.StartingHealth)
	e.logger.Info("dsc liquidation committed",
		slog.String("liquidator", liquidator.Hex()),
		slog.String("user", user.Hex()),
		slog.String("collateral", collateral.Hex()),
		slog.String("debt_covered", debtToCover.String()),
		slog.String("seized", result.CollateralSeized.String()))
	return result, nil
}
