package dsc

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUSDValueScalesFeedAnswer(t *testing.T) {
	value, err := usdValue(usd(3500), feedScale(8), ether(15))
	require.NoError(t, err)
	require.Equal(t, ether(52_500).String(), value.String())

	value, err = usdValue(usd(2000), feedScale(8), big.NewInt(0))
	require.NoError(t, err)
	require.Zero(t, value.Sign())
}

func TestTokenAmountFromUSD(t *testing.T) {
	amount, err := tokenAmountFromUSD(usd(2000), feedScale(8), ether(100))
	require.NoError(t, err)
	require.Equal(t, "50000000000000000", amount.String())

	amount, err = tokenAmountFromUSD(usd(3500), feedScale(8), ether(52_500))
	require.NoError(t, err)
	require.Equal(t, ether(15).String(), amount.String())

	// Truncation loses at most one unit of the smallest denomination.
	amount, err = tokenAmountFromUSD(usd(18), feedScale(8), ether(100))
	require.NoError(t, err)
	require.Equal(t, "5555555555555555555", amount.String())
	back, err := usdValue(usd(18), feedScale(8), amount)
	require.NoError(t, err)
	if diff := new(big.Int).Sub(ether(100), back); diff.Sign() < 0 || diff.Cmp(big.NewInt(18)) > 0 {
		t.Fatalf("round trip drifted by %s", diff)
	}
}

func TestUSDConversionRoundTripsExactly(t *testing.T) {
	cases := []struct {
		answer *big.Int
		amount *big.Int
	}{
		{usd(2000), ether(1)},
		{usd(3500), ether(15)},
		{usd(30_000), ether(3)},
		{usd(1), big.NewInt(7)},
	}
	for _, tc := range cases {
		value, err := usdValue(tc.answer, feedScale(8), tc.amount)
		require.NoError(t, err)
		back, err := tokenAmountFromUSD(tc.answer, feedScale(8), value)
		require.NoError(t, err)
		require.Equal(t, tc.amount.String(), back.String())
	}
}

func TestMaxHealthFactorReturnsCopy(t *testing.T) {
	hf := MaxHealthFactor()
	hf.SetInt64(1)
	require.Zero(t, MaxHealthFactor().Cmp(maxUint256))
	require.Equal(t, 256, MaxHealthFactor().BitLen())
}

func TestPriceValidation(t *testing.T) {
	_, err := usdValue(big.NewInt(0), feedScale(8), ether(1))
	require.ErrorIs(t, err, ErrInvalidPrice)
	_, err = tokenAmountFromUSD(big.NewInt(-5), feedScale(8), ether(1))
	require.ErrorIs(t, err, ErrInvalidPrice)
}

func TestArithmeticOverflow(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 255)
	_, err := usdValue(usd(3500), feedScale(8), huge)
	require.ErrorIs(t, err, ErrOverflow)

	_, err = addChecked(MaxHealthFactor(), big.NewInt(1))
	require.ErrorIs(t, err, ErrOverflow)

	_, err = subChecked(big.NewInt(1), big.NewInt(2), ErrInsufficientDebt)
	require.ErrorIs(t, err, ErrInsufficientDebt)
}

func TestCalculateHealthFactor(t *testing.T) {
	hf, err := calculateHealthFactor(big.NewInt(0), ether(10), 50)
	require.NoError(t, err)
	require.Zero(t, hf.Cmp(MaxHealthFactor()))

	hf, err = calculateHealthFactor(ether(100), ether(200), 50)
	require.NoError(t, err)
	require.Equal(t, precision.String(), hf.String())

	hf, err = calculateHealthFactor(ether(100), ether(180), 50)
	require.NoError(t, err)
	require.Equal(t, "900000000000000000", hf.String())
}

func TestLiquidationBonus(t *testing.T) {
	require.Equal(t, "555555555555555555", liquidationBonus(big.NewInt(5555555555555555555), 10).String())
	require.Zero(t, liquidationBonus(big.NewInt(9), 10).Sign())
}

func TestParamsValidate(t *testing.T) {
	require.NoError(t, DefaultParams().validate())

	p := DefaultParams()
	p.LiquidationThreshold = 0
	require.ErrorIs(t, p.validate(), ErrInvalidParams)

	p = DefaultParams()
	p.FeedDecimals = 19
	require.ErrorIs(t, p.validate(), ErrInvalidParams)

	p = DefaultParams()
	p.MinHealthFactor = nil
	require.ErrorIs(t, p.validate(), ErrInvalidParams)

	p = DefaultParams()
	p.StalenessTimeout = 500 * time.Millisecond
	require.ErrorIs(t, p.validate(), ErrInvalidParams)

	p.StalenessTimeout = time.Second
	require.NoError(t, p.validate())
}
