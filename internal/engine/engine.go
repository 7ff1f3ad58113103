package engine

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"StableVault/internal/event"
	"StableVault/internal/ledger"
	"StableVault/internal/observability"
	"StableVault/internal/oracle"
	"StableVault/internal/valuation"
)

// StableIssuer is the liability asset ledger, exclusively owned by the
// engine. Mint and TransferFrom report failure via the boolean rather than
// an error when the call itself succeeded but the operation was refused;
// the engine checks both.
type StableIssuer interface {
	Mint(ctx context.Context, to uuid.UUID, amount *big.Int) (bool, error)
	Burn(ctx context.Context, amount *big.Int) error
	TransferFrom(ctx context.Context, from, to uuid.UUID, amount *big.Int) (bool, error)
}

// CollateralBank moves collateral between account balances and engine
// custody. Same boolean-success contract as the issuer.
type CollateralBank interface {
	TransferFrom(ctx context.Context, asset string, from uuid.UUID, amount *big.Int) (bool, error)
	TransferTo(ctx context.Context, asset string, to uuid.UUID, amount *big.Int) (bool, error)
}

// Engine is the position-accounting and liquidation core. Every mutating
// entry point runs under one mutex: operations are serialized, all-or-nothing
// transactions, and no caller — including a callback fired by an external
// collaborator mid-operation — can observe or mutate partial state.
type Engine struct {
	mu sync.Mutex

	ledger    *ledger.CollateralLedger
	valuation *valuation.Service
	issuer    StableIssuer
	bank      CollateralBank

	// engineID is the engine's own identity on the issuer ledger; pulled
	// liability tokens sit here until burned.
	engineID uuid.UUID

	log     zerolog.Logger
	metrics *observability.Metrics
	now     func() time.Time

	// persistChan uses blocking sends (backpressure, nothing lost);
	// publishChan is best-effort and drops on full.
	persistChan chan<- event.Envelope
	publishChan chan<- event.Envelope

	// staged buffers envelopes while a composition is in flight so a failed
	// second leg leaves nothing on the channels. Guarded by mu.
	staging bool
	staged  []event.Envelope
}

// Config carries the construction parameters: the fixed asset/feed pairing
// and the injected external collaborators.
type Config struct {
	Assets []string
	Feeds  []string

	Oracle oracle.PriceSource
	Issuer StableIssuer
	Bank   CollateralBank

	// EngineID is the engine's identity on the issuer ledger. Zero means
	// a fresh random ID; set it explicitly when the issuer needs to know
	// its owner up front.
	EngineID uuid.UUID

	Logger  zerolog.Logger
	Metrics *observability.Metrics

	PersistChan chan<- event.Envelope
	PublishChan chan<- event.Envelope
}

// New validates the construction parameters and builds the engine.
// Mismatched asset/feed list lengths fail construction; no state is created.
func New(cfg Config) (*Engine, error) {
	led, err := ledger.NewCollateralLedger(cfg.Assets, cfg.Feeds)
	if err != nil {
		return nil, err
	}
	if cfg.Oracle == nil || cfg.Issuer == nil || cfg.Bank == nil {
		return nil, fmt.Errorf("engine requires oracle, issuer, and bank collaborators")
	}

	engineID := cfg.EngineID
	if engineID == uuid.Nil {
		engineID = uuid.New()
	}

	return &Engine{
		ledger:      led,
		valuation:   valuation.NewService(cfg.Oracle),
		issuer:      cfg.Issuer,
		bank:        cfg.Bank,
		engineID:    engineID,
		log:         cfg.Logger,
		metrics:     cfg.Metrics,
		now:         time.Now,
		persistChan: cfg.PersistChan,
		publishChan: cfg.PublishChan,
	}, nil
}

// Deposit records collateral for the account and pulls it into custody.
func (e *Engine) Deposit(ctx context.Context, account uuid.UUID, asset string, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.instrument("deposit", func() error {
		return e.deposit(ctx, account, asset, amount)
	})
}

func (e *Engine) deposit(ctx context.Context, account uuid.UUID, asset string, amount *big.Int) error {
	if err := e.ledger.RecordDeposit(account, asset, amount); err != nil {
		return err
	}

	ok, err := e.bank.TransferFrom(ctx, asset, account, amount)
	if err != nil || !ok {
		e.mustRevert(e.ledger.RecordWithdrawal(account, asset, amount))
		if err != nil {
			return fmt.Errorf("%w: pulling %s %s: %v", ErrTransferFailed, amount, asset, err)
		}
		return fmt.Errorf("%w: pulling %s %s", ErrTransferFailed, amount, asset)
	}

	e.emit(event.Envelope{
		OperationID: uuid.New(),
		Type:        event.TypeCollateralDeposited,
		Account:     account,
		Asset:       asset,
		Amount:      new(big.Int).Set(amount),
		Timestamp:   e.now(),
	})
	return nil
}

// Mint issues new debt against the account's collateral. The solvency check
// runs on the post-mint position; a broken score rolls the mint back.
func (e *Engine) Mint(ctx context.Context, account uuid.UUID, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.instrument("mint", func() error {
		return e.mint(ctx, account, amount)
	})
}

func (e *Engine) mint(ctx context.Context, account uuid.UUID, amount *big.Int) error {
	if err := e.ledger.RecordMint(account, amount); err != nil {
		return err
	}

	hf, err := e.healthFactorOf(ctx, account)
	if err != nil {
		e.mustRevert(e.ledger.RecordBurn(account, amount))
		return err
	}
	if hf.Cmp(MinHealthFactor) < 0 {
		e.mustRevert(e.ledger.RecordBurn(account, amount))
		return &HealthFactorError{Score: hf}
	}

	ok, err := e.issuer.Mint(ctx, account, amount)
	if err != nil || !ok {
		e.mustRevert(e.ledger.RecordBurn(account, amount))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMintFailed, err)
		}
		return ErrMintFailed
	}

	e.emit(event.Envelope{
		OperationID:  uuid.New(),
		Type:         event.TypeDebtMinted,
		Account:      account,
		Amount:       new(big.Int).Set(amount),
		HealthFactor: hf,
		Timestamp:    e.now(),
	})
	return nil
}

// Redeem withdraws collateral to a beneficiary. Bookkeeping and the solvency
// check both happen before the outbound transfer, so every failure path
// reverses bookkeeping only — the operation stays all-or-nothing without
// having to claw assets back from the beneficiary.
func (e *Engine) Redeem(ctx context.Context, account uuid.UUID, asset string, amount *big.Int, beneficiary uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.instrument("redeem", func() error {
		return e.redeem(ctx, account, asset, amount, beneficiary)
	})
}

func (e *Engine) redeem(ctx context.Context, account uuid.UUID, asset string, amount *big.Int, beneficiary uuid.UUID) error {
	if err := e.ledger.RecordWithdrawal(account, asset, amount); err != nil {
		return err
	}

	hf, err := e.healthFactorOf(ctx, account)
	if err != nil {
		e.mustRevert(e.ledger.RecordDeposit(account, asset, amount))
		return err
	}
	if hf.Cmp(MinHealthFactor) < 0 {
		e.mustRevert(e.ledger.RecordDeposit(account, asset, amount))
		return &HealthFactorError{Score: hf}
	}

	ok, err := e.bank.TransferTo(ctx, asset, beneficiary, amount)
	if err != nil || !ok {
		e.mustRevert(e.ledger.RecordDeposit(account, asset, amount))
		if err != nil {
			return fmt.Errorf("%w: paying out %s %s: %v", ErrTransferFailed, amount, asset, err)
		}
		return fmt.Errorf("%w: paying out %s %s", ErrTransferFailed, amount, asset)
	}

	e.emit(event.Envelope{
		OperationID:  uuid.New(),
		Type:         event.TypeCollateralRedeemed,
		Account:      account,
		Asset:        asset,
		Amount:       new(big.Int).Set(amount),
		HealthFactor: hf,
		Timestamp:    e.now(),
	})
	return nil
}

// Burn repays debt: the liability asset is pulled from the caller into
// custody, destroyed, and the account's debt reduced. Burning can only raise
// the health factor, so there is no reachable solvency failure here — the
// post-condition is asserted, not returned.
func (e *Engine) Burn(ctx context.Context, account uuid.UUID, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.instrument("burn", func() error {
		return e.burn(ctx, account, amount)
	})
}

func (e *Engine) burn(ctx context.Context, account uuid.UUID, amount *big.Int) error {
	// Validate before touching external state: once tokens are destroyed
	// there is nothing to roll the bookkeeping against.
	if amount == nil || amount.Sign() <= 0 {
		return ledger.ErrZeroAmount
	}
	if debt := e.ledger.Debt(account); debt.Cmp(amount) < 0 {
		return fmt.Errorf("%w: account %s owes %s, burn requested %s",
			ledger.ErrInsufficientDebt, account, debt, amount)
	}

	ok, err := e.issuer.TransferFrom(ctx, account, e.engineID, amount)
	if err != nil || !ok {
		if err != nil {
			return fmt.Errorf("%w: pulling %s liability units: %v", ErrTransferFailed, amount, err)
		}
		return fmt.Errorf("%w: pulling %s liability units", ErrTransferFailed, amount)
	}

	if err := e.issuer.Burn(ctx, amount); err != nil {
		e.refundStable(ctx, account, amount)
		return fmt.Errorf("%w: %v", ErrBurnFailed, err)
	}

	// Pre-validated above; a failure here means corrupted state.
	if err := e.ledger.RecordBurn(account, amount); err != nil {
		panic(fmt.Sprintf("FATAL: debt bookkeeping failed after burn: %v", err))
	}

	hf, hfErr := e.healthFactorOf(ctx, account)
	e.emit(event.Envelope{
		OperationID:  uuid.New(),
		Type:         event.TypeDebtBurned,
		Account:      account,
		Amount:       new(big.Int).Set(amount),
		HealthFactor: hf,
		Timestamp:    e.now(),
	})
	_ = hfErr // oracle outage after a burn is harmless; the envelope carries nil

	return nil
}

// DepositAndMint composes deposit then mint inside one lock scope. A failed
// mint unwinds the deposit so the composition has no effect.
func (e *Engine) DepositAndMint(ctx context.Context, account uuid.UUID, asset string, collateralAmount, mintAmount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.instrument("deposit_and_mint", func() error {
		return e.stage(func() error {
			if err := e.deposit(ctx, account, asset, collateralAmount); err != nil {
				return err
			}
			if err := e.mint(ctx, account, mintAmount); err != nil {
				e.mustRevert(e.ledger.RecordWithdrawal(account, asset, collateralAmount))
				if ok, terr := e.bank.TransferTo(ctx, asset, account, collateralAmount); terr != nil || !ok {
					panic(fmt.Sprintf("FATAL: cannot return %s %s while unwinding deposit: ok=%v err=%v",
						collateralAmount, asset, ok, terr))
				}
				return err
			}
			return nil
		})
	})
}

// RedeemAndBurn composes burn then redeem inside one lock scope — debt is
// repaid first so the withdrawal passes the solvency check. A failed redeem
// re-mints the burned debt to restore the starting state.
func (e *Engine) RedeemAndBurn(ctx context.Context, account uuid.UUID, asset string, collateralAmount, burnAmount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.instrument("redeem_and_burn", func() error {
		return e.stage(func() error {
			if err := e.burn(ctx, account, burnAmount); err != nil {
				return err
			}
			if err := e.redeem(ctx, account, asset, collateralAmount, account); err != nil {
				e.mustRevert(e.ledger.RecordMint(account, burnAmount))
				if ok, merr := e.issuer.Mint(ctx, account, burnAmount); merr != nil || !ok {
					panic(fmt.Sprintf("FATAL: cannot re-mint %s while unwinding burn: ok=%v err=%v",
						burnAmount, ok, merr))
				}
				return err
			}
			return nil
		})
	})
}

// --- Read-only query surface ---
// Reads take the same lock as mutations so callers never observe an
// operation's partial effects.

// HealthFactorOf returns the account's current solvency score.
func (e *Engine) HealthFactorOf(ctx context.Context, account uuid.UUID) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.healthFactorOf(ctx, account)
}

// CollateralValueUsd returns the account's aggregate collateral value.
func (e *Engine) CollateralValueUsd(ctx context.Context, account uuid.UUID) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.collateralValueUsd(ctx, account)
}

// CollateralOf lists the account's deposits across all registered assets.
func (e *Engine) CollateralOf(account uuid.UUID) []ledger.AssetAmount {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.CollateralOf(account)
}

// Deposited returns the account's deposited amount for one asset.
func (e *Engine) Deposited(account uuid.UUID, asset string) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Deposited(account, asset)
}

// DebtOf returns the account's minted debt.
func (e *Engine) DebtOf(account uuid.UUID) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Debt(account)
}

// Assets returns the fixed collateral registry.
func (e *Engine) Assets() []ledger.Asset {
	return e.ledger.Assets()
}

// Params returns the tunable constants for external risk monitors.
func (e *Engine) Params() Params {
	return DefaultParams()
}

// UsdValue converts an amount of a registered asset to USD at the live quote.
func (e *Engine) UsdValue(ctx context.Context, asset string, amount *big.Int) (*big.Int, error) {
	a, ok := e.ledger.Lookup(asset)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrUnsupportedAsset, asset)
	}
	return e.valuation.UsdValue(ctx, a.FeedID, amount)
}

// AssetAmountFromUsd converts a USD target into asset units at the live quote.
func (e *Engine) AssetAmountFromUsd(ctx context.Context, asset string, usdAmount *big.Int) (*big.Int, error) {
	a, ok := e.ledger.Lookup(asset)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrUnsupportedAsset, asset)
	}
	return e.valuation.AssetAmountFromUsd(ctx, a.FeedID, usdAmount)
}

// --- internal helpers ---

func (e *Engine) healthFactorOf(ctx context.Context, account uuid.UUID) (*big.Int, error) {
	collateralUsd, err := e.collateralValueUsd(ctx, account)
	if err != nil {
		return nil, err
	}
	return HealthFactor(e.ledger.Debt(account), collateralUsd), nil
}

func (e *Engine) collateralValueUsd(ctx context.Context, account uuid.UUID) (*big.Int, error) {
	total := new(big.Int)
	for _, aa := range e.ledger.CollateralOf(account) {
		if aa.Amount.Sign() == 0 {
			continue
		}
		v, err := e.valuation.UsdValue(ctx, aa.Asset.FeedID, aa.Amount)
		if err != nil {
			e.countOracleFailure(err)
			return nil, err
		}
		total.Add(total, v)
	}
	return total, nil
}

// refundStable returns pulled liability tokens to an account after a failed
// burn. The engine owns the issuer ledger, so failure here means custody is
// corrupted and the process must not continue.
func (e *Engine) refundStable(ctx context.Context, account uuid.UUID, amount *big.Int) {
	ok, err := e.issuer.TransferFrom(ctx, e.engineID, account, amount)
	if err != nil || !ok {
		panic(fmt.Sprintf("FATAL: cannot refund %s liability units to %s: ok=%v err=%v",
			amount, account, ok, err))
	}
}

// mustRevert guards bookkeeping reversals. The forward operation validated
// the same arithmetic, so a failing reversal means corrupted state.
func (e *Engine) mustRevert(err error) {
	if err != nil {
		panic(fmt.Sprintf("FATAL: bookkeeping rollback failed: %v", err))
	}
}

// instrument wraps an operation with metrics and logging.
func (e *Engine) instrument(op string, fn func() error) error {
	start := time.Now()
	err := fn()

	if e.metrics != nil {
		if err != nil {
			e.metrics.OpsRejected.WithLabelValues(op, rejectReason(err)).Inc()
		} else {
			e.metrics.OpsApplied.WithLabelValues(op).Inc()
			e.metrics.OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		}
	}

	if err != nil {
		e.log.Debug().Err(err).Str("op", op).Msg("operation rejected")
	}
	return err
}

func (e *Engine) countOracleFailure(err error) {
	if e.metrics == nil {
		return
	}
	switch rejectReason(err) {
	case "stale_price":
		e.metrics.OracleFailures.WithLabelValues("stale").Inc()
	case "oracle_unavailable":
		e.metrics.OracleFailures.WithLabelValues("unavailable").Inc()
	case "invalid_price":
		e.metrics.OracleFailures.WithLabelValues("invalid").Inc()
	}
}

// stage defers emission for the duration of fn. Envelopes emitted inside fn
// reach the channels only when fn returns nil, so a composition that fails
// partway and unwinds leaves no trace in the operation log.
func (e *Engine) stage(fn func() error) error {
	e.staging = true
	err := fn()
	e.staging = false

	staged := e.staged
	e.staged = nil
	if err != nil {
		return err
	}
	for _, env := range staged {
		e.dispatch(env)
	}
	return nil
}

func (e *Engine) emit(env event.Envelope) {
	if e.staging {
		e.staged = append(e.staged, env)
		return
	}
	e.dispatch(env)
}

func (e *Engine) dispatch(env event.Envelope) {
	if e.persistChan != nil {
		e.persistChan <- env
	}
	if e.publishChan != nil {
		select {
		case e.publishChan <- env:
		default:
			if e.metrics != nil {
				e.metrics.PublishDrops.Inc()
			}
		}
	}
}
