package dsc

import (
	"math/big"

	"github.com/holiman/uint256"
)

const (
	precisionDecimals    = 18
	liquidationPrecision = 100
)

var (
	precision          = big.NewInt(1_000_000_000_000_000_000) // 1e18
	liquidationDivisor = big.NewInt(liquidationPrecision)
	maxUint256         = new(uint256.Int).SetAllOne().ToBig()
)

// MaxHealthFactor returns the health factor reported for accounts without
// debt, the largest unsigned 256-bit value. Each call returns a fresh copy.
func MaxHealthFactor() *big.Int { return new(big.Int).Set(maxUint256) }

// feedScale returns the multiplier lifting a feed answer with the supplied
// decimals to 18 decimals.
func feedScale(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(precisionDecimals-decimals)), nil)
}

// checked rejects values that do not fit an unsigned 256-bit word.
func checked(v *big.Int) (*big.Int, error) {
	if v.Sign() < 0 {
		return nil, ErrOverflow
	}
	if _, overflow := uint256.FromBig(v); overflow {
		return nil, ErrOverflow
	}
	return v, nil
}

func scaledPrice(answer, scale *big.Int) (*big.Int, error) {
	if answer == nil || answer.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	return checked(new(big.Int).Mul(answer, scale))
}

// usdValue converts a native token amount into its 18 decimal USD value:
// price * scale * amount / 1e18, truncated toward zero.
func usdValue(answer, scale, amount *big.Int) (*big.Int, error) {
	price, err := scaledPrice(answer, scale)
	if err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrOverflow
	}
	value := new(big.Int).Mul(price, amount)
	value.Quo(value, precision)
	return checked(value)
}

// tokenAmountFromUSD converts an 18 decimal USD amount into native token
// units: usd * 1e18 / (price * scale), truncated toward zero.
func tokenAmountFromUSD(answer, scale, usd *big.Int) (*big.Int, error) {
	price, err := scaledPrice(answer, scale)
	if err != nil {
		return nil, err
	}
	if usd == nil || usd.Sign() < 0 {
		return nil, ErrOverflow
	}
	amount := new(big.Int).Mul(usd, precision)
	amount.Quo(amount, price)
	return checked(amount)
}

// calculateHealthFactor returns (collateral * threshold / 100) * 1e18 / debt,
// or MaxHealthFactor when debt is zero.
func calculateHealthFactor(debt, collateralUSD *big.Int, threshold uint64) (*big.Int, error) {
	if debt == nil || debt.Sign() == 0 {
		return MaxHealthFactor(), nil
	}
	if collateralUSD == nil {
		collateralUSD = new(big.Int)
	}
	adjusted := new(big.Int).Mul(collateralUSD, new(big.Int).SetUint64(threshold))
	adjusted.Quo(adjusted, liquidationDivisor)
	hf := adjusted.Mul(adjusted, precision)
	hf.Quo(hf, debt)
	return checked(hf)
}

// liquidationBonus returns amount * bonus / 100.
func liquidationBonus(amount *big.Int, bonus uint64) *big.Int {
	out := new(big.Int).Mul(amount, new(big.Int).SetUint64(bonus))
	return out.Quo(out, liquidationDivisor)
}

func addChecked(a, b *big.Int) (*big.Int, error) {
	return checked(new(big.Int).Add(a, b))
}

// subChecked returns a - b, reporting underflow instead of clamping.
func subChecked(a, b *big.Int, underflow error) (*big.Int, error) {
	if a.Cmp(b) < 0 {
		return nil, underflow
	}
	return new(big.Int).Sub(a, b), nil
}

func positive(amount *big.Int) bool {
	return amount != nil && amount.Sign() > 0
}
