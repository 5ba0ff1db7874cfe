package dsc

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"dscengine/core/events"
	nativecommon "dscengine/native/common"
	"dscengine/observability"
	"dscengine/storage"
)

const moduleName = "dsc"

var tracer = otel.Tracer("dscengine/native/dsc")

// Config wires the collateral registry and collaborators into a new engine.
// Assets[i] is priced by Feeds[i]; Tokens provides the ERC20 handle bound to
// Custody for every asset.
type Config struct {
	Assets  []common.Address
	Feeds   []PriceFeed
	Tokens  map[common.Address]ERC20
	Stable  StableToken
	Custody common.Address
	Params  Params
}

// Engine tracks collateral and stable asset debt per account and enforces the
// minimum health factor on every state change.
//
// Collateral and debt ledgers are updated before the matching token call is
// made. That ordering is kept for compatibility with the reference engine and
// is safe only because every mutating entry point holds the reentrancy guard.
type Engine struct {
	db         storage.Database
	assets     []common.Address
	feeds      map[common.Address]PriceFeed
	stable     StableToken
	custody    common.Address
	params     Params
	scale      *big.Int
	oracle     *OracleAdapter
	collateral *collateralLedger
	debt       *debtLedger
	reverters  []Snapshotter
	persisters []Persister

	guard   nativecommon.ReentrancyGuard
	pauses  nativecommon.PauseView
	emitter events.Emitter
	logger  *slog.Logger
}

// NewEngine validates the registry and constructs an engine persisting its
// ledgers in db.
func NewEngine(db storage.Database, cfg Config) (*Engine, error) {
	if db == nil {
		return nil, ErrNilState
	}
	if len(cfg.Assets) != len(cfg.Feeds) {
		return nil, ErrLengthMismatch
	}
	if err := cfg.Params.validate(); err != nil {
		return nil, err
	}
	if cfg.Stable == nil {
		return nil, fmt.Errorf("%w: stable token required", ErrInvalidParams)
	}
	feeds := make(map[common.Address]PriceFeed, len(cfg.Assets))
	tokens := make(map[common.Address]ERC20, len(cfg.Assets))
	assets := make([]common.Address, 0, len(cfg.Assets))
	reverters := make([]Snapshotter, 0, len(cfg.Assets)+1)
	var persisters []Persister
	if s, ok := cfg.Stable.(Snapshotter); ok {
		reverters = append(reverters, s)
	}
	if p, ok := cfg.Stable.(Persister); ok {
		persisters = append(persisters, p)
	}
	for i, asset := range cfg.Assets {
		if cfg.Feeds[i] == nil {
			return nil, fmt.Errorf("%w: %s has no price feed", ErrAssetNotAllowed, asset.Hex())
		}
		if _, dup := feeds[asset]; dup {
			return nil, fmt.Errorf("%w: duplicate asset %s", ErrInvalidParams, asset.Hex())
		}
		token := cfg.Tokens[asset]
		if token == nil {
			return nil, fmt.Errorf("%w: %s has no token handle", ErrInvalidParams, asset.Hex())
		}
		feeds[asset] = cfg.Feeds[i]
		tokens[asset] = token
		assets = append(assets, asset)
		if s, ok := token.(Snapshotter); ok {
			reverters = append(reverters, s)
		}
		if p, ok := token.(Persister); ok {
			persisters = append(persisters, p)
		}
	}
	params := cfg.Params
	params.MinHealthFactor = new(big.Int).Set(cfg.Params.MinHealthFactor)
	return &Engine{
		db:         db,
		assets:     assets,
		feeds:      feeds,
		stable:     cfg.Stable,
		custody:    cfg.Custody,
		params:     params,
		scale:      feedScale(params.FeedDecimals),
		oracle:     NewOracleAdapter(params.StalenessTimeout),
		collateral: &collateralLedger{tokens: tokens, custody: cfg.Custody},
		debt:       &debtLedger{stable: cfg.Stable, custody: cfg.Custody},
		reverters:  reverters,
		persisters: persisters,
		emitter:    events.NoopEmitter{},
		logger:     slog.Default(),
	}, nil
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetLogger overrides the logger. Nil restores slog.Default.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// SetNowFunc overrides the clock used for price staleness checks.
func (e *Engine) SetNowFunc(now func() time.Time) { e.oracle.SetNowFunc(now) }

// operation carries the buffered state of one guarded call.
type operation struct {
	ctx    context.Context
	name   string
	tx     *stateTx
	events events.Buffer
}

func (op *operation) emit(evt events.Event) { op.events.Emit(evt) }

// execute runs fn as a single atomic step. The reentrancy guard is held for
// the whole call; ledger writes and events are only published when fn
// succeeds, and snapshot capable collaborators are reverted otherwise.
func (e *Engine) execute(ctx context.Context, name string, fn func(op *operation) error) (err error) {
	if e == nil || e.db == nil {
		return ErrNilState
	}
	metrics := observability.DSC()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		metrics.ObserveOperation(name, ErrorReason(err), 0)
		return err
	}
	if err := e.guard.Enter(); err != nil {
		metrics.ObserveOperation(name, ErrorReason(err), 0)
		return err
	}
	defer e.guard.Exit()

	ctx, span := tracer.Start(ctx, "dsc."+name)
	defer span.End()

	start := time.Now()
	op := &operation{ctx: ctx, name: name, tx: newStateTx(e.db)}
	snapshots := e.snapshot()
	defer func() {
		if r := recover(); r != nil {
			e.revert(snapshots)
			panic(r)
		}
		reason := ErrorReason(err)
		metrics.ObserveOperation(name, reason, time.Since(start))
		if err != nil {
			e.revert(snapshots)
			op.events.Reset()
			span.RecordError(err)
			span.SetStatus(codes.Error, reason)
			e.logger.Debug("dsc operation rolled back",
				slog.String("operation", name),
				slog.String("reason", reason),
				slog.Any("error", err))
		}
	}()

	if err = fn(op); err != nil {
		return err
	}
	extra, err := e.pendingWrites()
	if err != nil {
		return err
	}
	if err = op.tx.commit(extra...); err != nil {
		return err
	}
	e.release(snapshots)
	span.SetAttributes(attribute.Int("dsc.events", op.events.Len()))
	op.events.Flush(e.emitter)
	return nil
}

func (e *Engine) pendingWrites() ([]storage.Write, error) {
	var writes []storage.Write
	for _, p := range e.persisters {
		w, err := p.PendingWrites()
		if err != nil {
			return nil, fmt.Errorf("collect collaborator state: %w", err)
		}
		writes = append(writes, w...)
	}
	return writes, nil
}

func (e *Engine) snapshot() []int {
	ids := make([]int, len(e.reverters))
	for i, r := range e.reverters {
		ids[i] = r.Snapshot()
	}
	return ids
}

func (e *Engine) revert(ids []int) {
	for i := len(e.reverters) - 1; i >= 0; i-- {
		e.reverters[i].RevertToSnapshot(ids[i])
	}
}

func (e *Engine) release(ids []int) {
	for i := len(e.reverters) - 1; i >= 0; i-- {
		e.reverters[i].ReleaseSnapshot(ids[i])
	}
}

// DepositCollateral credits amount of asset to caller and pulls the tokens
// into custody.
func (e *Engine) DepositCollateral(ctx context.Context, caller, asset common.Address, amount *big.Int) error {
	return e.execute(ctx, "deposit_collateral", func(op *operation) error {
		return e.collateral.deposit(op, caller, asset, amount)
	})
}

// DepositCollateralAndMintDSC deposits collateral and mints against it in one
// step.
func (e *Engine) DepositCollateralAndMintDSC(ctx context.Context, caller, asset common.Address, amount, mintAmount *big.Int) error {
	return e.execute(ctx, "deposit_collateral_and_mint", func(op *operation) error {
		if !positive(amount) || !positive(mintAmount) {
			return ErrInvalidAmount
		}
		if err := e.collateral.deposit(op, caller, asset, amount); err != nil {
			return err
		}
		return e.mint(op, caller, mintAmount)
	})
}

// RedeemCollateral returns collateral to caller provided the remaining
// position stays solvent.
func (e *Engine) RedeemCollateral(ctx context.Context, caller, asset common.Address, amount *big.Int) error {
	return e.execute(ctx, "redeem_collateral", func(op *operation) error {
		if err := e.collateral.redeem(op, asset, amount, caller, caller); err != nil {
			return err
		}
		return e.assertSolvent(op.ctx, op.tx, caller)
	})
}

// RedeemCollateralForDSC burns debt then redeems collateral, so the final
// solvency check sees the reduced debt.
func (e *Engine) RedeemCollateralForDSC(ctx context.Context, caller, asset common.Address, redeemAmount, burnAmount *big.Int) error {
	return e.execute(ctx, "redeem_collateral_for_dsc", func(op *operation) error {
		if !positive(redeemAmount) || !positive(burnAmount) {
			return ErrInvalidAmount
		}
		if err := e.debt.decreaseDebt(op, caller, burnAmount, caller); err != nil {
			return err
		}
		if err := e.collateral.redeem(op, asset, redeemAmount, caller, caller); err != nil {
			return err
		}
		return e.assertSolvent(op.ctx, op.tx, caller)
	})
}

// MintDSC issues amount of the stable asset to caller as new debt.
func (e *Engine) MintDSC(ctx context.Context, caller common.Address, amount *big.Int) error {
	return e.execute(ctx, "mint_dsc", func(op *operation) error {
		return e.mint(op, caller, amount)
	})
}

func (e *Engine) mint(op *operation, caller common.Address, amount *big.Int) error {
	if err := e.debt.increaseDebt(op, caller, amount); err != nil {
		return err
	}
	return e.assertSolvent(op.ctx, op.tx, caller)
}

// BurnDSC repays amount of caller's debt using caller's stable tokens.
func (e *Engine) BurnDSC(ctx context.Context, caller common.Address, amount *big.Int) error {
	return e.execute(ctx, "burn_dsc", func(op *operation) error {
		if err := e.debt.decreaseDebt(op, caller, amount, caller); err != nil {
			return err
		}
		return e.assertSolvent(op.ctx, op.tx, caller)
	})
}

// view returns a read-only transaction over committed state.
func (e *Engine) view() (*stateTx, error) {
	if e == nil || e.db == nil {
		return nil, ErrNilState
	}
	return newStateTx(e.db), nil
}

// LatestPrice returns the staleness checked round for asset.
func (e *Engine) LatestPrice(ctx context.Context, asset common.Address) (RoundData, error) {
	feed, ok := e.feeds[asset]
	if !ok {
		return RoundData{}, ErrAssetNotAllowed
	}
	return e.oracle.StaleCheckLatestRoundData(ctx, feed)
}

// USDValue converts amount of asset into its 18 decimal USD value at the
// current price.
func (e *Engine) USDValue(ctx context.Context, asset common.Address, amount *big.Int) (*big.Int, error) {
	round, err := e.LatestPrice(ctx, asset)
	if err != nil {
		return nil, err
	}
	return usdValue(round.Answer, e.scale, amount)
}

// TokenAmountFromUSD converts an 18 decimal USD amount into native units of
// asset at the current price.
func (e *Engine) TokenAmountFromUSD(ctx context.Context, asset common.Address, usdAmount *big.Int) (*big.Int, error) {
	round, err := e.LatestPrice(ctx, asset)
	if err != nil {
		return nil, err
	}
	return tokenAmountFromUSD(round.Answer, e.scale, usdAmount)
}

// AccountInformation returns the debt and collateral value of account.
func (e *Engine) AccountInformation(ctx context.Context, account common.Address) (AccountInformation, error) {
	tx, err := e.view()
	if err != nil {
		return AccountInformation{}, err
	}
	debt, err := tx.debt(account)
	if err != nil {
		return AccountInformation{}, err
	}
	value, err := e.accountCollateralValue(ctx, tx, account)
	if err != nil {
		return AccountInformation{}, err
	}
	return AccountInformation{TotalDSCMinted: debt, CollateralValueUSD: value}, nil
}

// AccountCollateralValue sums the USD value of every collateral balance of
// account.
func (e *Engine) AccountCollateralValue(ctx context.Context, account common.Address) (*big.Int, error) {
	tx, err := e.view()
	if err != nil {
		return nil, err
	}
	return e.accountCollateralValue(ctx, tx, account)
}

// CollateralBalance returns the committed balance of asset held for account.
func (e *Engine) CollateralBalance(account, asset common.Address) (*big.Int, error) {
	tx, err := e.view()
	if err != nil {
		return nil, err
	}
	return tx.collateral(account, asset)
}

// DebtOf returns the outstanding stable asset debt of account.
func (e *Engine) DebtOf(account common.Address) (*big.Int, error) {
	tx, err := e.view()
	if err != nil {
		return nil, err
	}
	return tx.debt(account)
}

// HealthFactor returns the current health factor of account, MaxHealthFactor
// when it has no debt.
func (e *Engine) HealthFactor(ctx context.Context, account common.Address) (*big.Int, error) {
	tx, err := e.view()
	if err != nil {
		return nil, err
	}
	return e.healthFactor(ctx, tx, account)
}

// CalculateHealthFactor applies the health factor formula to the supplied
// debt and collateral value without touching state.
func (e *Engine) CalculateHealthFactor(debt, collateralUSD *big.Int) (*big.Int, error) {
	return calculateHealthFactor(debt, collateralUSD, e.params.LiquidationThreshold)
}

// TotalDebt returns the aggregate outstanding debt.
func (e *Engine) TotalDebt() (*big.Int, error) {
	tx, err := e.view()
	if err != nil {
		return nil, err
	}
	return tx.get(totalDebtKey)
}

// TotalCollateral returns the aggregate deposited balance of asset.
func (e *Engine) TotalCollateral(asset common.Address) (*big.Int, error) {
	tx, err := e.view()
	if err != nil {
		return nil, err
	}
	return tx.get(totalCollateralKey(asset))
}

// Debtors lists every account with outstanding debt.
func (e *Engine) Debtors() ([]common.Address, error) {
	if e == nil || e.db == nil {
		return nil, ErrNilState
	}
	return debtors(e.db)
}

// CollateralTokens returns the registered assets in registration order.
func (e *Engine) CollateralTokens() []common.Address {
	return append([]common.Address(nil), e.assets...)
}

// PriceFeedFor returns the feed registered for asset.
func (e *Engine) PriceFeedFor(asset common.Address) (PriceFeed, bool) {
	feed, ok := e.feeds[asset]
	return feed, ok
}

// IsAllowed reports whether asset is registered as collateral.
func (e *Engine) IsAllowed(asset common.Address) bool {
	_, ok := e.feeds[asset]
	return ok
}

func (e *Engine) StableToken() StableToken          { return e.stable }
func (e *Engine) Custody() common.Address           { return e.custody }
func (e *Engine) Precision() *big.Int               { return new(big.Int).Set(precision) }
func (e *Engine) AdditionalFeedPrecision() *big.Int { return new(big.Int).Set(e.scale) }
func (e *Engine) FeedDecimals() uint8               { return e.params.FeedDecimals }
func (e *Engine) LiquidationThreshold() uint64      { return e.params.LiquidationThreshold }
func (e *Engine) LiquidationBonus() uint64          { return e.params.LiquidationBonus }
func (e *Engine) LiquidationPrecision() uint64      { return liquidationPrecision }
func (e *Engine) MinHealthFactor() *big.Int         { return new(big.Int).Set(e.params.MinHealthFactor) }
func (e *Engine) StalenessTimeout() time.Duration   { return e.oracle.Timeout() }
