package dsc

import (
	"errors"
	"fmt"
	"math/big"

	nativecommon "dscengine/native/common"
)

var (
	ErrNilState                = errors.New("dsc engine: state not configured")
	ErrInvalidAmount           = errors.New("dsc engine: amount must be more than zero")
	ErrLengthMismatch          = errors.New("dsc engine: token addresses and price feed addresses length mismatch")
	ErrAssetNotAllowed         = errors.New("dsc engine: asset not allowed")
	ErrTransferFailed          = errors.New("dsc engine: transfer failed")
	ErrMintFailed              = errors.New("dsc engine: mint failed")
	ErrHealthFactorBroken      = errors.New("dsc engine: health factor broken")
	ErrHealthFactorOK          = errors.New("dsc engine: health factor above liquidation threshold")
	ErrHealthFactorNotImproved = errors.New("dsc engine: health factor not improved")
	ErrStalePrice              = errors.New("dsc engine: stale price")
	ErrInvalidPrice            = errors.New("dsc engine: invalid price answer")
	ErrInsufficientCollateral  = errors.New("dsc engine: insufficient collateral balance")
	ErrInsufficientDebt        = errors.New("dsc engine: insufficient debt balance")
	ErrOverflow                = errors.New("dsc engine: arithmetic overflow")
	ErrInvalidParams           = errors.New("dsc engine: invalid parameters")
)

// HealthFactorError carries the health factor that caused an operation to be
// rejected. It unwraps to ErrHealthFactorBroken or ErrHealthFactorOK.
type HealthFactorError struct {
	Kind  error
	Value *big.Int
}

func (e *HealthFactorError) Error() string {
	value := "<nil>"
	if e.Value != nil {
		value = e.Value.String()
	}
	return fmt.Sprintf("%v: %s", e.Kind, value)
}

func (e *HealthFactorError) Unwrap() error { return e.Kind }

func healthFactorBroken(value *big.Int) error {
	return &HealthFactorError{Kind: ErrHealthFactorBroken, Value: new(big.Int).Set(value)}
}

func healthFactorOK(value *big.Int) error {
	return &HealthFactorError{Kind: ErrHealthFactorOK, Value: new(big.Int).Set(value)}
}

// HealthFactorOf extracts the diagnostic health factor from err, if any.
func HealthFactorOf(err error) (*big.Int, bool) {
	var hfErr *HealthFactorError
	if !errors.As(err, &hfErr) || hfErr.Value == nil {
		return nil, false
	}
	return new(big.Int).Set(hfErr.Value), true
}

var errorReasons = []struct {
	err    error
	reason string
}{
	{ErrInvalidAmount, "invalid_amount"},
	{ErrLengthMismatch, "length_mismatch"},
	{ErrAssetNotAllowed, "asset_not_allowed"},
	{ErrTransferFailed, "transfer_failed"},
	{ErrMintFailed, "mint_failed"},
	{ErrHealthFactorBroken, "health_factor_broken"},
	{ErrHealthFactorOK, "health_factor_ok"},
	{ErrHealthFactorNotImproved, "health_factor_not_improved"},
	{ErrStalePrice, "stale_price"},
	{ErrInvalidPrice, "invalid_price"},
	{ErrInsufficientCollateral, "insufficient_collateral"},
	{ErrInsufficientDebt, "insufficient_debt"},
	{ErrOverflow, "overflow"},
	{ErrInvalidParams, "invalid_params"},
	{ErrNilState, "nil_state"},
	{nativecommon.ErrReentrantCall, "reentrant_call"},
	{nativecommon.ErrModulePaused, "paused"},
}

// ErrorReason maps err to a stable label used by metrics and API responses.
// A nil error maps to "ok" and unknown errors to "internal".
func ErrorReason(err error) string {
	if err == nil {
		return "ok"
	}
	for _, candidate := range errorReasons {
		if errors.Is(err, candidate.err) {
			return candidate.reason
		}
	}
	return "internal"
}
