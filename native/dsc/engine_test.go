package dsc

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	nativecommon "dscengine/native/common"
	"dscengine/native/token"
	"dscengine/observability"
	"dscengine/storage"
)

func TestNewEngineValidatesRegistry(t *testing.T) {
	db := storage.NewMemDB()
	weth := makeAddress(0x01)
	wbtc := makeAddress(0x02)
	feed := newMockFeed(usd(2000))
	stable := refusingStable{}

	_, err := NewEngine(db, Config{
		Assets: []common.Address{weth, wbtc},
		Feeds:  []PriceFeed{feed},
		Stable: stable,
		Params: DefaultParams(),
	})
	require.ErrorIs(t, err, ErrLengthMismatch)

	_, err = NewEngine(db, Config{
		Assets: []common.Address{weth},
		Feeds:  []PriceFeed{nil},
		Tokens: map[common.Address]ERC20{weth: refusingToken{}},
		Stable: stable,
		Params: DefaultParams(),
	})
	require.ErrorIs(t, err, ErrAssetNotAllowed)

	_, err = NewEngine(db, Config{
		Assets: []common.Address{weth, weth},
		Feeds:  []PriceFeed{feed, feed},
		Tokens: map[common.Address]ERC20{weth: refusingToken{}},
		Stable: stable,
		Params: DefaultParams(),
	})
	require.ErrorIs(t, err, ErrInvalidParams)

	_, err = NewEngine(nil, Config{Params: DefaultParams()})
	require.ErrorIs(t, err, ErrNilState)

	engine, err := NewEngine(db, Config{
		Assets: []common.Address{weth},
		Feeds:  []PriceFeed{feed},
		Tokens: map[common.Address]ERC20{weth: refusingToken{}},
		Stable: stable,
		Params: DefaultParams(),
	})
	require.NoError(t, err)
	require.Equal(t, []common.Address{weth}, engine.CollateralTokens())
	require.True(t, engine.IsAllowed(weth))
	require.False(t, engine.IsAllowed(wbtc))
	got, ok := engine.PriceFeedFor(weth)
	require.True(t, ok)
	require.Equal(t, PriceFeed(feed), got)
	require.Equal(t, "10000000000", engine.AdditionalFeedPrecision().String())
	require.Equal(t, uint64(100), engine.LiquidationPrecision())
	require.Equal(t, 3*time.Hour, engine.StalenessTimeout())
}

func TestDepositCollateral(t *testing.T) {
	f := newFixture(t)
	user := makeAddress(0x10)
	f.fundCollateral(t, user, ether(10))

	if err := f.engine.DepositCollateral(context.Background(), user, f.wethAddr(), ether(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if got := f.collateralOf(t, user); got.Cmp(ether(10)) != 0 {
		t.Fatalf("unexpected collateral %s", got)
	}
	if got := f.weth.BalanceOf(f.custody); got.Cmp(ether(10)) != 0 {
		t.Fatalf("unexpected custody balance %s", got)
	}
	if got := f.weth.BalanceOf(user); got.Sign() != 0 {
		t.Fatalf("expected user wallet drained, got %s", got)
	}
	info, err := f.engine.AccountInformation(context.Background(), user)
	require.NoError(t, err)
	require.Zero(t, info.TotalDSCMinted.Sign())
	require.Equal(t, ether(20_000).String(), info.CollateralValueUSD.String())

	total, err := f.engine.TotalCollateral(f.wethAddr())
	require.NoError(t, err)
	require.Equal(t, ether(10).String(), total.String())
}

func TestDepositRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	user := makeAddress(0x11)
	f.fundCollateral(t, user, ether(1))
	ctx := context.Background()

	require.ErrorIs(t, f.engine.DepositCollateral(ctx, user, f.wethAddr(), big.NewInt(0)), ErrInvalidAmount)
	require.ErrorIs(t, f.engine.DepositCollateral(ctx, user, f.wethAddr(), nil), ErrInvalidAmount)
	require.ErrorIs(t, f.engine.DepositCollateral(ctx, user, makeAddress(0x99), ether(1)), ErrAssetNotAllowed)
	require.ErrorIs(t, f.engine.DepositCollateral(ctx, user, f.wethAddr(), ether(2)), ErrTransferFailed)

	require.Zero(t, f.collateralOf(t, user).Sign())
	require.Equal(t, ether(1).String(), f.weth.BalanceOf(user).String())
}

func TestDepositFailsWhenTokenRefuses(t *testing.T) {
	weth := makeAddress(0x01)
	engine, err := NewEngine(storage.NewMemDB(), Config{
		Assets: []common.Address{weth},
		Feeds:  []PriceFeed{newMockFeed(usd(2000))},
		Tokens: map[common.Address]ERC20{weth: refusingToken{}},
		Stable: refusingStable{},
		Params: DefaultParams(),
	})
	require.NoError(t, err)
	user := makeAddress(0x12)

	err = engine.DepositCollateral(context.Background(), user, weth, ether(1))
	require.ErrorIs(t, err, ErrTransferFailed)
	balance, err := engine.CollateralBalance(user, weth)
	require.NoError(t, err)
	require.Zero(t, balance.Sign())
}

func TestMintBreakingHealthFactorRollsBack(t *testing.T) {
	f := newFixture(t)
	user := makeAddress(0x13)
	f.fundCollateral(t, user, ether(10))
	ctx := context.Background()
	require.NoError(t, f.engine.DepositCollateral(ctx, user, f.wethAddr(), ether(10)))

	broken := observability.DSC().OperationsCounter().WithLabelValues("mint_dsc", "health_factor_broken")
	before := testutil.ToFloat64(broken)

	err := f.engine.MintDSC(ctx, user, new(big.Int).Add(ether(10_000), big.NewInt(1)))
	if !errors.Is(err, ErrHealthFactorBroken) {
		t.Fatalf("expected ErrHealthFactorBroken, got %v", err)
	}
	hf, ok := HealthFactorOf(err)
	require.True(t, ok)
	require.Equal(t, -1, hf.Cmp(precision))
	require.Equal(t, before+1, testutil.ToFloat64(broken))

	require.Zero(t, f.debtOf(t, user).Sign())
	require.Zero(t, f.stable.TotalSupply().Sign())
	require.Zero(t, f.stable.BalanceOf(user).Sign())

	// A position at exactly the minimum health factor is solvent.
	require.NoError(t, f.engine.MintDSC(ctx, user, ether(10_000)))
	hf, err = f.engine.HealthFactor(ctx, user)
	require.NoError(t, err)
	require.Equal(t, precision.String(), hf.String())
	require.Equal(t, ether(10_000).String(), f.stable.BalanceOf(user).String())
}

func TestDepositAndMintIsAtomic(t *testing.T) {
	f := newFixture(t)
	user := makeAddress(0x14)
	f.fundCollateral(t, user, ether(1))

	err := f.engine.DepositCollateralAndMintDSC(context.Background(), user, f.wethAddr(), ether(1), ether(2_000))
	require.ErrorIs(t, err, ErrHealthFactorBroken)

	require.Zero(t, f.collateralOf(t, user).Sign())
	require.Equal(t, ether(1).String(), f.weth.BalanceOf(user).String())
	require.Zero(t, f.weth.BalanceOf(f.custody).Sign())
	require.Equal(t, ether(1).String(), f.weth.Allowance(user, f.custody).String())
	require.Zero(t, f.stable.TotalSupply().Sign())
	total, err := f.engine.TotalCollateral(f.wethAddr())
	require.NoError(t, err)
	require.Zero(t, total.Sign())
}

func TestDepositAndMintRejectsNonPositiveAmounts(t *testing.T) {
	f := newFixture(t)
	user := makeAddress(0x15)
	ctx := context.Background()
	f.fundCollateral(t, user, ether(1))
	moved := 0
	f.weth.SetHook(func(string, common.Address, common.Address, *big.Int) { moved++ })

	require.ErrorIs(t, f.engine.DepositCollateralAndMintDSC(ctx, user, f.wethAddr(), ether(1), big.NewInt(0)), ErrInvalidAmount)
	require.ErrorIs(t, f.engine.DepositCollateralAndMintDSC(ctx, user, f.wethAddr(), big.NewInt(0), ether(1)), ErrInvalidAmount)
	require.ErrorIs(t, f.engine.DepositCollateralAndMintDSC(ctx, user, f.wethAddr(), ether(1), nil), ErrInvalidAmount)

	require.Zero(t, moved)
	require.Equal(t, ether(1).String(), f.weth.BalanceOf(user).String())
	require.Equal(t, ether(1).String(), f.weth.Allowance(user, f.custody).String())
	require.Zero(t, f.collateralOf(t, user).Sign())
}

func TestRedeemCollateral(t *testing.T) {
	f := newFixture(t)
	user := makeAddress(0x15)
	ctx := context.Background()
	f.openPosition(t, user, ether(10), ether(5_000))

	require.ErrorIs(t, f.engine.RedeemCollateral(ctx, user, f.wethAddr(), ether(11)), ErrInsufficientCollateral)
	require.ErrorIs(t, f.engine.RedeemCollateral(ctx, user, makeAddress(0x99), ether(1)), ErrAssetNotAllowed)
	require.ErrorIs(t, f.engine.RedeemCollateral(ctx, user, f.wethAddr(), ether(6)), ErrHealthFactorBroken)

	require.NoError(t, f.engine.RedeemCollateral(ctx, user, f.wethAddr(), ether(5)))
	require.Equal(t, ether(5).String(), f.collateralOf(t, user).String())
	require.Equal(t, ether(5).String(), f.weth.BalanceOf(user).String())
	require.Equal(t, ether(5).String(), f.weth.BalanceOf(f.custody).String())
}

func TestBurnDSC(t *testing.T) {
	f := newFixture(t)
	user := makeAddress(0x16)
	ctx := context.Background()
	f.openPosition(t, user, ether(10), ether(100))

	require.ErrorIs(t, f.engine.BurnDSC(ctx, user, ether(101)), ErrInsufficientDebt)
	require.ErrorIs(t, f.engine.BurnDSC(ctx, user, big.NewInt(0)), ErrInvalidAmount)

	require.NoError(t, f.engine.BurnDSC(ctx, user, ether(40)))
	require.Equal(t, ether(60).String(), f.debtOf(t, user).String())
	require.Equal(t, ether(60).String(), f.stable.BalanceOf(user).String())
	require.Equal(t, ether(60).String(), f.stable.TotalSupply().String())
	require.Zero(t, f.stable.BalanceOf(f.custody).Sign())

	total, err := f.engine.TotalDebt()
	require.NoError(t, err)
	require.Equal(t, ether(60).String(), total.String())
}

func TestRedeemCollateralForDSC(t *testing.T) {
	f := newFixture(t)
	user := makeAddress(0x17)
	ctx := context.Background()
	f.openPosition(t, user, ether(10), ether(100))

	require.ErrorIs(t, f.engine.RedeemCollateralForDSC(ctx, user, f.wethAddr(), ether(10), big.NewInt(0)), ErrInvalidAmount)

	require.NoError(t, f.engine.RedeemCollateralForDSC(ctx, user, f.wethAddr(), ether(10), ether(100)))
	require.Zero(t, f.debtOf(t, user).Sign())
	require.Zero(t, f.collateralOf(t, user).Sign())
	require.Equal(t, ether(10).String(), f.weth.BalanceOf(user).String())
	require.Zero(t, f.stable.TotalSupply().Sign())

	debtors, err := f.engine.Debtors()
	require.NoError(t, err)
	require.Empty(t, debtors)
}

func TestHealthFactorWithoutDebtSkipsFeeds(t *testing.T) {
	f := newFixture(t)
	user := makeAddress(0x18)
	calls := f.ethFeed.callCount()

	hf, err := f.engine.HealthFactor(context.Background(), user)
	require.NoError(t, err)
	require.Zero(t, hf.Cmp(MaxHealthFactor()))
	require.Equal(t, calls, f.ethFeed.callCount())
}

func TestStalePriceBlocksSolvencyChecks(t *testing.T) {
	f := newFixture(t)
	user := makeAddress(0x19)
	ctx := context.Background()
	f.openPosition(t, user, ether(10), ether(100))

	// A stale feed on an asset the account does not hold still blocks valuation.
	f.btcFeed.setUpdatedAt(testNow.Add(-4 * time.Hour).Unix())
	require.ErrorIs(t, f.engine.MintDSC(ctx, user, ether(1)), ErrStalePrice)
	_, err := f.engine.HealthFactor(ctx, user)
	require.ErrorIs(t, err, ErrStalePrice)
	require.Equal(t, ether(100).String(), f.debtOf(t, user).String())

	// Deposits never consult a feed.
	f.fundCollateral(t, user, ether(1))
	require.NoError(t, f.engine.DepositCollateral(ctx, user, f.wethAddr(), ether(1)))
}

func TestPausedEngineRejectsMutations(t *testing.T) {
	f := newFixture(t)
	user := makeAddress(0x1A)
	f.fundCollateral(t, user, ether(1))
	f.engine.SetPauses(stubPauseView{modules: map[string]bool{"dsc": true}})

	err := f.engine.DepositCollateral(context.Background(), user, f.wethAddr(), ether(1))
	if !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	require.Equal(t, ether(1).String(), f.weth.BalanceOf(user).String())

	f.engine.SetPauses(nil)
	require.NoError(t, f.engine.DepositCollateral(context.Background(), user, f.wethAddr(), ether(1)))
}

func TestReentrantCallFromTokenIsRejected(t *testing.T) {
	f := newFixture(t)
	user := makeAddress(0x1B)
	ctx := context.Background()
	f.fundCollateral(t, user, ether(2))

	var reentrant error
	f.weth.SetHook(func(kind string, from, to common.Address, amount *big.Int) {
		reentrant = f.engine.DepositCollateral(ctx, user, f.wethAddr(), big.NewInt(1))
	})
	require.NoError(t, f.engine.DepositCollateral(ctx, user, f.wethAddr(), ether(1)))
	f.weth.SetHook(nil)

	require.ErrorIs(t, reentrant, nativecommon.ErrReentrantCall)
	require.Equal(t, ether(1).String(), f.collateralOf(t, user).String())

	// The guard is released once the outer call returns.
	require.NoError(t, f.engine.DepositCollateral(ctx, user, f.wethAddr(), ether(1)))
}

func TestReentrantMintFromStableHookIsRejected(t *testing.T) {
	f := newFixture(t)
	user := makeAddress(0x1E)
	ctx := context.Background()
	f.fundCollateral(t, user, ether(1))
	require.NoError(t, f.engine.DepositCollateral(ctx, user, f.wethAddr(), ether(1)))

	var reentrant []error
	f.stable.SetHook(func(kind string, from, to common.Address, amount *big.Int) {
		reentrant = append(reentrant, f.engine.MintDSC(ctx, user, ether(1)))
	})
	require.NoError(t, f.engine.MintDSC(ctx, user, ether(100)))
	f.stable.SetHook(nil)

	require.Len(t, reentrant, 1)
	require.ErrorIs(t, reentrant[0], nativecommon.ErrReentrantCall)
	require.Equal(t, ether(100).String(), f.debtOf(t, user).String())
	require.Equal(t, ether(100).String(), f.stable.TotalSupply().String())
	require.Equal(t, ether(100).String(), f.stable.BalanceOf(user).String())
}

func TestTokenStateCommitsWithLedger(t *testing.T) {
	db := storage.NewMemDB()
	f := newFixtureWithDB(t, db)
	for _, c := range []*token.Contract{f.weth, f.stable} {
		restored, err := c.Bind(db)
		require.NoError(t, err)
		require.False(t, restored)
	}
	user := makeAddress(0x1F)
	ctx := context.Background()
	f.openPosition(t, user, ether(3), ether(50))

	// A rolled back mint leaves the stored token state untouched.
	require.ErrorIs(t, f.engine.MintDSC(ctx, user, ether(10_000)), ErrHealthFactorBroken)

	weth := token.New("WETH", 18, makeAddress(0xE0))
	restored, err := weth.Bind(db)
	require.NoError(t, err)
	require.True(t, restored)
	require.Equal(t, ether(3).String(), weth.BalanceOf(f.custody).String())
	require.Zero(t, weth.BalanceOf(user).Sign())
	require.Zero(t, weth.Allowance(user, f.custody).Sign())

	stable := token.New("DSC", 18, f.custody)
	restored, err = stable.Bind(db)
	require.NoError(t, err)
	require.True(t, restored)
	require.Equal(t, ether(50).String(), stable.TotalSupply().String())
	require.Equal(t, ether(50).String(), stable.BalanceOf(user).String())
}

func TestEventsEmittedOnlyOnCommit(t *testing.T) {
	f := newFixture(t)
	user := makeAddress(0x1C)
	ctx := context.Background()
	rec := &recordingEmitter{}
	f.engine.SetEmitter(rec)
	f.fundCollateral(t, user, ether(1))

	require.ErrorIs(t, f.engine.DepositCollateralAndMintDSC(ctx, user, f.wethAddr(), ether(1), ether(2_000)), ErrHealthFactorBroken)
	require.Empty(t, rec.types)

	require.NoError(t, f.engine.DepositCollateralAndMintDSC(ctx, user, f.wethAddr(), ether(1), ether(100)))
	require.Equal(t, []string{EventTypeCollateralDeposited, EventTypeDSCMinted}, rec.types)
}

func TestLedgerSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dsc")
	db, err := storage.NewLevelDB(path)
	require.NoError(t, err)
	f := newFixtureWithDB(t, db)
	user := makeAddress(0x1D)
	f.openPosition(t, user, ether(3), ether(50))
	db.Close()

	reopened, err := storage.NewLevelDB(path)
	require.NoError(t, err)
	defer reopened.Close()
	g := newFixtureWithDB(t, reopened)
	require.Equal(t, ether(3).String(), g.collateralOf(t, user).String())
	require.Equal(t, ether(50).String(), g.debtOf(t, user).String())
	debtors, err := g.engine.Debtors()
	require.NoError(t, err)
	require.Equal(t, []common.Address{user}, debtors)
}

func TestErrorReason(t *testing.T) {
	require.Equal(t, "ok", ErrorReason(nil))
	require.Equal(t, "health_factor_broken", ErrorReason(healthFactorBroken(big.NewInt(1))))
	require.Equal(t, "reentrant_call", ErrorReason(nativecommon.ErrReentrantCall))
	require.Equal(t, "internal", ErrorReason(errors.New("boom")))
}

// refusingStable rejects every mint and transfer.
type refusingStable struct{ refusingToken }

func (refusingStable) Mint(context.Context, common.Address, *big.Int) (bool, error) {
	return false, nil
}

func (refusingStable) Burn(context.Context, *big.Int) error { return nil }
