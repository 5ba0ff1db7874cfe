package dsc

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// accountCollateralValue prices every registered asset, so a stale feed on
// any asset fails the valuation even when the account holds none of it.
func (e *Engine) accountCollateralValue(ctx context.Context, tx *stateTx, account common.Address) (*big.Int, error) {
	total := new(big.Int)
	for _, asset := range e.assets {
		balance, err := tx.collateral(account, asset)
		if err != nil {
			return nil, err
		}
		round, err := e.LatestPrice(ctx, asset)
		if err != nil {
			return nil, err
		}
		value, err := usdValue(round.Answer, e.scale, balance)
		if err != nil {
			return nil, err
		}
		if total, err = addChecked(total, value); err != nil {
			return nil, err
		}
	}
	return total, nil
}

func (e *Engine) healthFactor(ctx context.Context, tx *stateTx, account common.Address) (*big.Int, error) {
	debt, err := tx.debt(account)
	if err != nil {
		return nil, err
	}
	if debt.Sign() == 0 {
		return MaxHealthFactor(), nil
	}
	value, err := e.accountCollateralValue(ctx, tx, account)
	if err != nil {
		return nil, err
	}
	return calculateHealthFactor(debt, value, e.params.LiquidationThreshold)
}

// assertSolvent fails with a HealthFactorError wrapping ErrHealthFactorBroken
// when account is below the minimum health factor.
func (e *Engine) assertSolvent(ctx context.Context, tx *stateTx, account common.Address) error {
	hf, err := e.healthFactor(ctx, tx, account)
	if err != nil {
		return err
	}
	if hf.Cmp(e.params.MinHealthFactor) < 0 {
		return healthFactorBroken(hf)
	}
	return nil
}
