package ledger

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

var (
	ErrZeroAmount             = errors.New("amount must be positive")
	ErrUnsupportedAsset       = errors.New("unsupported collateral asset")
	ErrInsufficientCollateral = errors.New("insufficient deposited collateral")
	ErrInsufficientDebt       = errors.New("burn exceeds minted debt")
	ErrLengthMismatch         = errors.New("asset and feed lists differ in length")
)

// Asset binds a collateral symbol to its oracle feed. The registry is fixed
// at construction; assets are never added or removed afterwards.
type Asset struct {
	Symbol string
	FeedID string
}

// AssetAmount pairs an asset with a deposited quantity, in registry order.
type AssetAmount struct {
	Asset  Asset
	Amount *big.Int
}

// CollateralLedger is the per-account bookkeeping store: deposited collateral
// per asset and a single minted-debt scalar per account, all 18-decimal
// fixed point. It performs no external transfers and takes no locks — the
// engine mutates it exclusively while holding its operation lock.
type CollateralLedger struct {
	assets   []Asset
	bySymbol map[string]Asset

	deposits map[uuid.UUID]map[string]*big.Int
	debt     map[uuid.UUID]*big.Int
}

// NewCollateralLedger builds the registry from ordered symbol and feed lists
// paired 1:1. Mismatched lengths reject construction.
func NewCollateralLedger(symbols, feedIDs []string) (*CollateralLedger, error) {
	if len(symbols) != len(feedIDs) {
		return nil, fmt.Errorf("%w: %d assets, %d feeds", ErrLengthMismatch, len(symbols), len(feedIDs))
	}
	if len(symbols) == 0 {
		return nil, errors.New("collateral registry must not be empty")
	}

	l := &CollateralLedger{
		assets:   make([]Asset, 0, len(symbols)),
		bySymbol: make(map[string]Asset, len(symbols)),
		deposits: make(map[uuid.UUID]map[string]*big.Int),
		debt:     make(map[uuid.UUID]*big.Int),
	}

	for i, sym := range symbols {
		if sym == "" || feedIDs[i] == "" {
			return nil, fmt.Errorf("asset %d: empty symbol or feed id", i)
		}
		if _, dup := l.bySymbol[sym]; dup {
			return nil, fmt.Errorf("asset %s registered twice", sym)
		}
		a := Asset{Symbol: sym, FeedID: feedIDs[i]}
		l.assets = append(l.assets, a)
		l.bySymbol[sym] = a
	}

	return l, nil
}

// Assets returns the registered assets in construction order.
func (l *CollateralLedger) Assets() []Asset {
	out := make([]Asset, len(l.assets))
	copy(out, l.assets)
	return out
}

// Lookup resolves a symbol against the registry.
func (l *CollateralLedger) Lookup(symbol string) (Asset, bool) {
	a, ok := l.bySymbol[symbol]
	return a, ok
}

// RecordDeposit increases the account's deposited amount for the asset.
// The actual transfer into custody is the engine's responsibility.
func (l *CollateralLedger) RecordDeposit(account uuid.UUID, symbol string, amount *big.Int) error {
	if err := l.validate(symbol, amount); err != nil {
		return err
	}

	byAsset, ok := l.deposits[account]
	if !ok {
		byAsset = make(map[string]*big.Int)
		l.deposits[account] = byAsset
	}

	cur, ok := byAsset[symbol]
	if !ok {
		cur = new(big.Int)
		byAsset[symbol] = cur
	}
	cur.Add(cur, amount)

	return nil
}

// RecordWithdrawal decreases the deposited amount. The subtraction is guarded
// explicitly — amounts are unsigned and must never wrap below zero.
func (l *CollateralLedger) RecordWithdrawal(account uuid.UUID, symbol string, amount *big.Int) error {
	if err := l.validate(symbol, amount); err != nil {
		return err
	}

	cur := l.depositRef(account, symbol)
	if cur == nil || cur.Cmp(amount) < 0 {
		have := new(big.Int)
		if cur != nil {
			have.Set(cur)
		}
		return fmt.Errorf("%w: account %s has %s %s, withdrawal needs %s",
			ErrInsufficientCollateral, account, have, symbol, amount)
	}

	cur.Sub(cur, amount)
	return nil
}

// RecordMint increases the account's minted debt.
func (l *CollateralLedger) RecordMint(account uuid.UUID, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}

	cur, ok := l.debt[account]
	if !ok {
		cur = new(big.Int)
		l.debt[account] = cur
	}
	cur.Add(cur, amount)

	return nil
}

// RecordBurn decreases the account's minted debt, with the same underflow
// guard as withdrawals.
func (l *CollateralLedger) RecordBurn(account uuid.UUID, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}

	cur, ok := l.debt[account]
	if !ok || cur.Cmp(amount) < 0 {
		have := new(big.Int)
		if ok {
			have.Set(cur)
		}
		return fmt.Errorf("%w: account %s owes %s, burn requested %s",
			ErrInsufficientDebt, account, have, amount)
	}

	cur.Sub(cur, amount)
	return nil
}

// Deposited returns a copy of the account's deposited amount for one asset.
// Unknown accounts and assets read as zero — an account with nothing
// deposited is indistinguishable from one that never existed.
func (l *CollateralLedger) Deposited(account uuid.UUID, symbol string) *big.Int {
	cur := l.depositRef(account, symbol)
	if cur == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(cur)
}

// Debt returns a copy of the account's minted-debt scalar.
func (l *CollateralLedger) Debt(account uuid.UUID) *big.Int {
	cur, ok := l.debt[account]
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(cur)
}

// CollateralOf lists the account's deposits across every registered asset in
// registry order, including zero entries, for valuation sweeps.
func (l *CollateralLedger) CollateralOf(account uuid.UUID) []AssetAmount {
	out := make([]AssetAmount, 0, len(l.assets))
	for _, a := range l.assets {
		out = append(out, AssetAmount{Asset: a, Amount: l.Deposited(account, a.Symbol)})
	}
	return out
}

// TotalDeposited sums the asset's deposits over all accounts. Conservation
// requires this to equal the custody balance actually held for the asset.
func (l *CollateralLedger) TotalDeposited(symbol string) *big.Int {
	total := new(big.Int)
	for _, byAsset := range l.deposits {
		if cur, ok := byAsset[symbol]; ok {
			total.Add(total, cur)
		}
	}
	return total
}

// TotalDebt sums minted debt over all accounts.
func (l *CollateralLedger) TotalDebt() *big.Int {
	total := new(big.Int)
	for _, cur := range l.debt {
		total.Add(total, cur)
	}
	return total
}

func (l *CollateralLedger) validate(symbol string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	if _, ok := l.bySymbol[symbol]; !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedAsset, symbol)
	}
	return nil
}

func (l *CollateralLedger) depositRef(account uuid.UUID, symbol string) *big.Int {
	byAsset, ok := l.deposits[account]
	if !ok {
		return nil
	}
	return byAsset[symbol]
}
