// Package custody provides in-memory reference implementations of the
// engine's external collaborators: the collateral bank and the stable asset
// issuer. They back local development runs and the test suite; production
// deployments inject adapters to the real asset ledgers instead.
package custody

import (
	"context"
	"math/big"
	"sync"

	"github.com/google/uuid"
)

// MemoryBank holds per-account collateral balances plus the engine's custody
// pool per asset. Transfers report failure (false, nil) on insufficient
// balance, matching the boolean-success transfer contract.
type MemoryBank struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]map[string]*big.Int
	custody  map[string]*big.Int
}

func NewMemoryBank() *MemoryBank {
	return &MemoryBank{
		accounts: make(map[uuid.UUID]map[string]*big.Int),
		custody:  make(map[string]*big.Int),
	}
}

// Credit funds an account out of thin air. Development/test helper.
func (b *MemoryBank) Credit(account uuid.UUID, asset string, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balanceRef(account, asset).Add(b.balanceRef(account, asset), amount)
}

// TransferFrom pulls collateral from an account into engine custody.
func (b *MemoryBank) TransferFrom(_ context.Context, asset string, from uuid.UUID, amount *big.Int) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bal := b.balanceRef(from, asset)
	if bal.Cmp(amount) < 0 {
		return false, nil
	}
	bal.Sub(bal, amount)
	b.custodyRef(asset).Add(b.custodyRef(asset), amount)
	return true, nil
}

// TransferTo pays collateral out of engine custody to an account.
func (b *MemoryBank) TransferTo(_ context.Context, asset string, to uuid.UUID, amount *big.Int) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cus := b.custodyRef(asset)
	if cus.Cmp(amount) < 0 {
		return false, nil
	}
	cus.Sub(cus, amount)
	b.balanceRef(to, asset).Add(b.balanceRef(to, asset), amount)
	return true, nil
}

// CustodyBalance implements ledger.CustodyReader.
func (b *MemoryBank) CustodyBalance(asset string) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.custodyRef(asset))
}

// BalanceOf returns an account's free (non-custodied) balance for an asset.
func (b *MemoryBank) BalanceOf(account uuid.UUID, asset string) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.balanceRef(account, asset))
}

func (b *MemoryBank) balanceRef(account uuid.UUID, asset string) *big.Int {
	byAsset, ok := b.accounts[account]
	if !ok {
		byAsset = make(map[string]*big.Int)
		b.accounts[account] = byAsset
	}
	bal, ok := byAsset[asset]
	if !ok {
		bal = new(big.Int)
		byAsset[asset] = bal
	}
	return bal
}

func (b *MemoryBank) custodyRef(asset string) *big.Int {
	cus, ok := b.custody[asset]
	if !ok {
		cus = new(big.Int)
		b.custody[asset] = cus
	}
	return cus
}
