package custody

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/google/uuid"
)

// MemoryIssuer is an in-memory fungible ledger for the liability asset.
// The engine is its exclusive owner: only engine code paths call Mint and
// Burn. Burn destroys tokens from the owner's (engine's) custody balance.
type MemoryIssuer struct {
	mu       sync.Mutex
	owner    uuid.UUID
	balances map[uuid.UUID]*big.Int
	supply   *big.Int
}

func NewMemoryIssuer(owner uuid.UUID) *MemoryIssuer {
	return &MemoryIssuer{
		owner:    owner,
		balances: make(map[uuid.UUID]*big.Int),
		supply:   new(big.Int),
	}
}

// Mint creates tokens for an account. Reports false on a non-positive amount.
func (i *MemoryIssuer) Mint(_ context.Context, to uuid.UUID, amount *big.Int) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if amount == nil || amount.Sign() <= 0 {
		return false, nil
	}
	i.balanceRef(to).Add(i.balanceRef(to), amount)
	i.supply.Add(i.supply, amount)
	return true, nil
}

// Burn destroys tokens held in the owner's custody balance.
func (i *MemoryIssuer) Burn(_ context.Context, amount *big.Int) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	bal := i.balanceRef(i.owner)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("burn %s exceeds custody balance %s", amount, bal)
	}
	bal.Sub(bal, amount)
	i.supply.Sub(i.supply, amount)
	return nil
}

// TransferFrom moves tokens between accounts, boolean-success on shortfall.
func (i *MemoryIssuer) TransferFrom(_ context.Context, from, to uuid.UUID, amount *big.Int) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	bal := i.balanceRef(from)
	if bal.Cmp(amount) < 0 {
		return false, nil
	}
	bal.Sub(bal, amount)
	i.balanceRef(to).Add(i.balanceRef(to), amount)
	return true, nil
}

func (i *MemoryIssuer) BalanceOf(account uuid.UUID) *big.Int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return new(big.Int).Set(i.balanceRef(account))
}

func (i *MemoryIssuer) TotalSupply() *big.Int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return new(big.Int).Set(i.supply)
}

func (i *MemoryIssuer) balanceRef(account uuid.UUID) *big.Int {
	bal, ok := i.balances[account]
	if !ok {
		bal = new(big.Int)
		i.balances[account] = bal
	}
	return bal
}
