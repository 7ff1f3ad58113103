package ledger_test

import (
	"errors"
	"math/big"
	"math/rand"
	"testing"

	"github.com/google/uuid"

	"StableVault/internal/ledger"
	fpmath "StableVault/internal/math"
)

func newTestLedger(t *testing.T) *ledger.CollateralLedger {
	t.Helper()
	l, err := ledger.NewCollateralLedger(
		[]string{"WETH", "WBTC"},
		[]string{"ETH-USD", "BTC-USD"},
	)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	return l
}

func TestNewCollateralLedgerLengthMismatch(t *testing.T) {
	_, err := ledger.NewCollateralLedger(
		[]string{"WETH", "WBTC"},
		[]string{"ETH-USD"},
	)
	if !errors.Is(err, ledger.ErrLengthMismatch) {
		t.Fatalf("got %v, want ErrLengthMismatch", err)
	}
}

func TestNewCollateralLedgerRejectsEmptyAndDuplicate(t *testing.T) {
	if _, err := ledger.NewCollateralLedger(nil, nil); err == nil {
		t.Error("empty registry accepted")
	}
	if _, err := ledger.NewCollateralLedger(
		[]string{"WETH", "WETH"},
		[]string{"ETH-USD", "ETH-USD2"},
	); err == nil {
		t.Error("duplicate symbol accepted")
	}
}

func TestRecordDepositAndWithdrawal(t *testing.T) {
	l := newTestLedger(t)
	account := uuid.New()

	if err := l.RecordDeposit(account, "WETH", fpmath.Wad(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if got := l.Deposited(account, "WETH"); got.Cmp(fpmath.Wad(10)) != 0 {
		t.Errorf("deposited: got %s, want %s", got, fpmath.Wad(10))
	}

	if err := l.RecordWithdrawal(account, "WETH", fpmath.Wad(4)); err != nil {
		t.Fatalf("withdrawal: %v", err)
	}
	if got := l.Deposited(account, "WETH"); got.Cmp(fpmath.Wad(6)) != 0 {
		t.Errorf("after withdrawal: got %s, want %s", got, fpmath.Wad(6))
	}
}

func TestRecordDepositRejectsZeroAndUnknownAsset(t *testing.T) {
	l := newTestLedger(t)
	account := uuid.New()

	if err := l.RecordDeposit(account, "WETH", big.NewInt(0)); !errors.Is(err, ledger.ErrZeroAmount) {
		t.Errorf("zero amount: got %v, want ErrZeroAmount", err)
	}
	if err := l.RecordDeposit(account, "WETH", nil); !errors.Is(err, ledger.ErrZeroAmount) {
		t.Errorf("nil amount: got %v, want ErrZeroAmount", err)
	}
	if err := l.RecordDeposit(account, "DOGE", fpmath.Wad(1)); !errors.Is(err, ledger.ErrUnsupportedAsset) {
		t.Errorf("unknown asset: got %v, want ErrUnsupportedAsset", err)
	}
}

func TestRecordWithdrawalUnderflow(t *testing.T) {
	l := newTestLedger(t)
	account := uuid.New()

	if err := l.RecordDeposit(account, "WETH", fpmath.Wad(1)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	err := l.RecordWithdrawal(account, "WETH", fpmath.Wad(2))
	if !errors.Is(err, ledger.ErrInsufficientCollateral) {
		t.Fatalf("got %v, want ErrInsufficientCollateral", err)
	}
	// Balance untouched after the rejected withdrawal
	if got := l.Deposited(account, "WETH"); got.Cmp(fpmath.Wad(1)) != 0 {
		t.Errorf("balance changed: got %s", got)
	}
}

func TestRecordMintAndBurn(t *testing.T) {
	l := newTestLedger(t)
	account := uuid.New()

	if err := l.RecordMint(account, fpmath.Wad(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := l.RecordBurn(account, fpmath.Wad(40)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if got := l.Debt(account); got.Cmp(fpmath.Wad(60)) != 0 {
		t.Errorf("debt: got %s, want %s", got, fpmath.Wad(60))
	}

	err := l.RecordBurn(account, fpmath.Wad(61))
	if !errors.Is(err, ledger.ErrInsufficientDebt) {
		t.Errorf("overburn: got %v, want ErrInsufficientDebt", err)
	}
}

func TestCollateralOfCoversFullRegistry(t *testing.T) {
	l := newTestLedger(t)
	account := uuid.New()

	if err := l.RecordDeposit(account, "WBTC", fpmath.Wad(2)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	entries := l.CollateralOf(account)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2 (registry order, zero entries included)", len(entries))
	}
	if entries[0].Asset.Symbol != "WETH" || entries[0].Amount.Sign() != 0 {
		t.Errorf("entry 0: got %s=%s", entries[0].Asset.Symbol, entries[0].Amount)
	}
	if entries[1].Asset.Symbol != "WBTC" || entries[1].Amount.Cmp(fpmath.Wad(2)) != 0 {
		t.Errorf("entry 1: got %s=%s", entries[1].Asset.Symbol, entries[1].Amount)
	}
}

func TestTotalDepositedAcrossAccounts(t *testing.T) {
	l := newTestLedger(t)
	rng := rand.New(rand.NewSource(7))

	want := new(big.Int)
	for i := 0; i < 50; i++ {
		amount := fpmath.Wad(rng.Int63n(1000) + 1)
		if err := l.RecordDeposit(uuid.New(), "WETH", amount); err != nil {
			t.Fatalf("deposit %d: %v", i, err)
		}
		want.Add(want, amount)
	}

	if got := l.TotalDeposited("WETH"); got.Cmp(want) != 0 {
		t.Errorf("total: got %s, want %s", got, want)
	}
}
