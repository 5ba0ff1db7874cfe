package dsc

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"dscengine/core/events"
	"dscengine/native/token"
	"dscengine/storage"
)

var testNow = time.Unix(1_700_000_000, 0)

func makeAddress(b byte) common.Address {
	var addr common.Address
	addr[common.AddressLength-1] = b
	addr[0] = 0xd5
	return addr
}

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), precision)
}

// usd returns an 8 decimal feed answer for a whole dollar price.
func usd(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(100_000_000))
}

type mockFeed struct {
	mu        sync.Mutex
	answer    *big.Int
	updatedAt int64
	err       error
	calls     int
}

func newMockFeed(answer *big.Int) *mockFeed {
	return &mockFeed{answer: answer, updatedAt: testNow.Unix()}
}

func (f *mockFeed) LatestRoundData(context.Context) (RoundData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return RoundData{}, f.err
	}
	return RoundData{
		RoundID:         big.NewInt(1),
		Answer:          new(big.Int).Set(f.answer),
		StartedAt:       big.NewInt(f.updatedAt),
		UpdatedAt:       big.NewInt(f.updatedAt),
		AnsweredInRound: big.NewInt(1),
	}, nil
}

func (f *mockFeed) setPrice(answer *big.Int) {
	f.mu.Lock()
	f.answer = answer
	f.mu.Unlock()
}

func (f *mockFeed) setUpdatedAt(ts int64) {
	f.mu.Lock()
	f.updatedAt = ts
	f.mu.Unlock()
}

func (f *mockFeed) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// refusingToken reports every transfer as unsuccessful without an error.
type refusingToken struct{}

func (refusingToken) TransferFrom(context.Context, common.Address, common.Address, *big.Int) (bool, error) {
	return false, nil
}

func (refusingToken) Transfer(context.Context, common.Address, *big.Int) (bool, error) {
	return false, nil
}

type fixture struct {
	engine  *Engine
	db      storage.Database
	custody common.Address
	weth    *token.Contract
	wbtc    *token.Contract
	stable  *token.Contract
	ethFeed *mockFeed
	btcFeed *mockFeed
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithDB(t, storage.NewMemDB())
}

func newFixtureWithDB(t *testing.T, db storage.Database) *fixture {
	t.Helper()
	custody := makeAddress(0xC0)
	f := &fixture{
		db:      db,
		custody: custody,
		weth:    token.New("WETH", 18, makeAddress(0xE0)),
		wbtc:    token.New("WBTC", 18, makeAddress(0xE1)),
		stable:  token.New("DSC", 18, custody),
		ethFeed: newMockFeed(usd(2000)),
		btcFeed: newMockFeed(usd(1000)),
	}
	engine, err := NewEngine(db, Config{
		Assets: []common.Address{f.wethAddr(), f.wbtcAddr()},
		Feeds:  []PriceFeed{f.ethFeed, f.btcFeed},
		Tokens: map[common.Address]ERC20{
			f.wethAddr(): f.weth.Session(custody),
			f.wbtcAddr(): f.wbtc.Session(custody),
		},
		Stable:  f.stable.Session(custody),
		Custody: custody,
		Params:  DefaultParams(),
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	engine.SetNowFunc(func() time.Time { return testNow })
	f.engine = engine
	return f
}

func (f *fixture) wethAddr() common.Address { return makeAddress(0xA1) }
func (f *fixture) wbtcAddr() common.Address { return makeAddress(0xA2) }

// fundCollateral allocates amount of weth to account and approves custody to
// pull it.
func (f *fixture) fundCollateral(t *testing.T, account common.Address, amount *big.Int) {
	t.Helper()
	f.weth.Allocate(account, amount)
	if err := f.weth.Session(account).Approve(f.custody, amount); err != nil {
		t.Fatalf("approve collateral: %v", err)
	}
}

// openPosition deposits collateral weth and mints debt stable tokens for
// account, approving custody to pull the minted tokens back.
func (f *fixture) openPosition(t *testing.T, account common.Address, collateral, debt *big.Int) {
	t.Helper()
	f.fundCollateral(t, account, collateral)
	if err := f.engine.DepositCollateralAndMintDSC(context.Background(), account, f.wethAddr(), collateral, debt); err != nil {
		t.Fatalf("open position: %v", err)
	}
	if err := f.stable.Session(account).Approve(f.custody, debt); err != nil {
		t.Fatalf("approve stable: %v", err)
	}
}

func (f *fixture) collateralOf(t *testing.T, account common.Address) *big.Int {
	t.Helper()
	balance, err := f.engine.CollateralBalance(account, f.wethAddr())
	if err != nil {
		t.Fatalf("collateral balance: %v", err)
	}
	return balance
}

func (f *fixture) debtOf(t *testing.T, account common.Address) *big.Int {
	t.Helper()
	debt, err := f.engine.DebtOf(account)
	if err != nil {
		t.Fatalf("debt: %v", err)
	}
	return debt
}

type stubPauseView struct {
	modules map[string]bool
}

func (s stubPauseView) IsPaused(module string) bool { return s.modules[module] }

type recordingEmitter struct {
	types []string
}

func (r *recordingEmitter) Emit(evt events.Event) {
	r.types = append(r.types, evt.EventType())
}
