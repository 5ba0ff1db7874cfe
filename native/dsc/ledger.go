package dsc

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// collateralLedger owns per-account collateral balances. It never checks
// solvency; callers do that once the whole operation has been applied.
type collateralLedger struct {
	tokens  map[common.Address]ERC20
	custody common.Address
}

// deposit credits the balance first and then pulls the tokens into custody.
func (l *collateralLedger) deposit(op *operation, account, asset common.Address, amount *big.Int) error {
	if !positive(amount) {
		return ErrInvalidAmount
	}
	token, ok := l.tokens[asset]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAssetNotAllowed, asset.Hex())
	}
	if _, err := op.tx.adjust(collateralKey(account, asset), amount, ErrInsufficientCollateral); err != nil {
		return err
	}
	if _, err := op.tx.adjust(totalCollateralKey(asset), amount, ErrInsufficientCollateral); err != nil {
		return err
	}
	op.emit(CollateralDeposited{ID: uuid.New(), User: account, Token: asset, Amount: new(big.Int).Set(amount)})

	success, err := token.TransferFrom(op.ctx, account, l.custody, amount)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if !success {
		return ErrTransferFailed
	}
	return nil
}

// redeem debits from and pushes the tokens out of custody to to.
func (l *collateralLedger) redeem(op *operation, asset common.Address, amount *big.Int, from, to common.Address) error {
	if !positive(amount) {
		return ErrInvalidAmount
	}
	token, ok := l.tokens[asset]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAssetNotAllowed, asset.Hex())
	}
	negated := new(big.Int).Neg(amount)
	if _, err := op.tx.adjust(collateralKey(from, asset), negated, ErrInsufficientCollateral); err != nil {
		return err
	}
	if _, err := op.tx.adjust(totalCollateralKey(asset), negated, ErrInsufficientCollateral); err != nil {
		return err
	}
	op.emit(CollateralRedeemed{ID: uuid.New(), From: from, To: to, Token: asset, Amount: new(big.Int).Set(amount)})

	success, err := token.Transfer(op.ctx, to, amount)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if !success {
		return ErrTransferFailed
	}
	return nil
}

// debtLedger owns per-account stable asset debt.
type debtLedger struct {
	stable  StableToken
	custody common.Address
}

// increaseDebt records the debt and mints the stable asset to account.
// Solvency is the caller's responsibility.
func (l *debtLedger) increaseDebt(op *operation, account common.Address, amount *big.Int) error {
	if !positive(amount) {
		return ErrInvalidAmount
	}
	if _, err := op.tx.adjust(debtKey(account), amount, ErrInsufficientDebt); err != nil {
		return err
	}
	if _, err := op.tx.adjust(totalDebtKey, amount, ErrInsufficientDebt); err != nil {
		return err
	}
	op.emit(DSCMinted{ID: uuid.New(), User: account, Amount: new(big.Int).Set(amount)})

	minted, err := l.stable.Mint(op.ctx, account, amount)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMintFailed, err)
	}
	if !minted {
		return ErrMintFailed
	}
	return nil
}

// decreaseDebt reduces onBehalfOf's debt, pulls the stable asset from payer
// into custody and burns it.
func (l *debtLedger) decreaseDebt(op *operation, onBehalfOf common.Address, amount *big.Int, payer common.Address) error {
	if !positive(amount) {
		return ErrInvalidAmount
	}
	negated := new(big.Int).Neg(amount)
	if _, err := op.tx.adjust(debtKey(onBehalfOf), negated, ErrInsufficientDebt); err != nil {
		return err
	}
	if _, err := op.tx.adjust(totalDebtKey, negated, ErrInsufficientDebt); err != nil {
		return err
	}
	op.emit(DSCBurned{ID: uuid.New(), OnBehalfOf: onBehalfOf, Payer: payer, Amount: new(big.Int).Set(amount)})

	success, err := l.stable.TransferFrom(op.ctx, payer, l.custody, amount)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if !success {
		return ErrTransferFailed
	}
	if err := l.stable.Burn(op.ctx, amount); err != nil {
		return fmt.Errorf("burn: %w", err)
	}
	return nil
}
