package engine_test

import (
	"context"
	"errors"
	"math/big"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"StableVault/internal/custody"
	"StableVault/internal/engine"
	"StableVault/internal/event"
	"StableVault/internal/ledger"
	fpmath "StableVault/internal/math"
	"StableVault/internal/oracle"
	"StableVault/internal/valuation"
)

// feedPrice builds an 8-decimal quote from a whole-dollar price.
func feedPrice(usd int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(usd), big.NewInt(100_000_000))
}

type fixture struct {
	eng     *engine.Engine
	source  *oracle.StaticSource
	bank    *custody.MemoryBank
	issuer  *custody.MemoryIssuer
	persist chan event.Envelope
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	engineID := uuid.New()
	source := oracle.NewStaticSource()
	source.SetQuote("ETH-USD", feedPrice(2000), time.Now())
	source.SetQuote("BTC-USD", feedPrice(30_000), time.Now())

	bank := custody.NewMemoryBank()
	issuer := custody.NewMemoryIssuer(engineID)
	persist := make(chan event.Envelope, 256)

	eng, err := engine.New(engine.Config{
		Assets:      []string{"WETH", "WBTC"},
		Feeds:       []string{"ETH-USD", "BTC-USD"},
		Oracle:      source,
		Issuer:      issuer,
		Bank:        bank,
		EngineID:    engineID,
		Logger:      zerolog.Nop(),
		PersistChan: persist,
	})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	return &fixture{eng: eng, source: source, bank: bank, issuer: issuer, persist: persist}
}

// fund credits free collateral and deposits it into the engine.
func (f *fixture) fund(t *testing.T, account uuid.UUID, asset string, amount *big.Int) {
	t.Helper()
	f.bank.Credit(account, asset, amount)
	if err := f.eng.Deposit(context.Background(), account, asset, amount); err != nil {
		t.Fatalf("fund deposit: %v", err)
	}
}

func (f *fixture) drainEvents() []event.Envelope {
	var out []event.Envelope
	for {
		select {
		case env := <-f.persist:
			out = append(out, env)
		default:
			return out
		}
	}
}

func TestEngineConfigLengthMismatch(t *testing.T) {
	_, err := engine.New(engine.Config{
		Assets: []string{"WETH"},
		Feeds:  []string{"ETH-USD", "BTC-USD"},
		Oracle: oracle.NewStaticSource(),
		Issuer: custody.NewMemoryIssuer(uuid.New()),
		Bank:   custody.NewMemoryBank(),
		Logger: zerolog.Nop(),
	})
	if !errors.Is(err, ledger.ErrLengthMismatch) {
		t.Fatalf("got %v, want ErrLengthMismatch", err)
	}
}

func TestDeposit(t *testing.T) {
	f := newFixture(t)
	account := uuid.New()
	f.bank.Credit(account, "WETH", fpmath.Wad(10))

	if err := f.eng.Deposit(context.Background(), account, "WETH", fpmath.Wad(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if got := f.eng.Deposited(account, "WETH"); got.Cmp(fpmath.Wad(10)) != 0 {
		t.Errorf("deposited: got %s", got)
	}
	if got := f.bank.BalanceOf(account, "WETH"); got.Sign() != 0 {
		t.Errorf("free balance after deposit: got %s, want 0", got)
	}
	if got := f.bank.CustodyBalance("WETH"); got.Cmp(fpmath.Wad(10)) != 0 {
		t.Errorf("custody: got %s", got)
	}

	events := f.drainEvents()
	if len(events) != 1 || events[0].Type != event.TypeCollateralDeposited {
		t.Fatalf("events: got %+v", events)
	}
}

func TestDepositRollsBackOnTransferFailure(t *testing.T) {
	f := newFixture(t)
	account := uuid.New()
	// No Credit: the pull from the account must fail.

	err := f.eng.Deposit(context.Background(), account, "WETH", fpmath.Wad(10))
	if !errors.Is(err, engine.ErrTransferFailed) {
		t.Fatalf("got %v, want ErrTransferFailed", err)
	}

	if got := f.eng.Deposited(account, "WETH"); got.Sign() != 0 {
		t.Errorf("bookkeeping not rolled back: %s", got)
	}
	if events := f.drainEvents(); len(events) != 0 {
		t.Errorf("failed operation emitted events: %+v", events)
	}
}

func TestMintAtExactMinimum(t *testing.T) {
	f := newFixture(t)
	account := uuid.New()
	f.fund(t, account, "WETH", fpmath.Wad(10)) // $20000

	// 200% collateralization boundary: $10000 debt against $20000 collateral.
	if err := f.eng.Mint(context.Background(), account, fpmath.Wad(10_000)); err != nil {
		t.Fatalf("mint at boundary: %v", err)
	}

	if got := f.issuer.BalanceOf(account); got.Cmp(fpmath.Wad(10_000)) != 0 {
		t.Errorf("issued balance: got %s", got)
	}
	hf, err := f.eng.HealthFactorOf(context.Background(), account)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if hf.Cmp(engine.MinHealthFactor) != 0 {
		t.Errorf("health factor: got %s, want exactly minimum", hf)
	}
}

func TestMintBreakingHealthFactorRollsBack(t *testing.T) {
	f := newFixture(t)
	account := uuid.New()
	f.fund(t, account, "WETH", fpmath.Wad(10)) // $20000
	f.drainEvents()

	one := big.NewInt(1)
	err := f.eng.Mint(context.Background(), account, new(big.Int).Add(fpmath.Wad(10_000), one))

	var hfErr *engine.HealthFactorError
	if !errors.As(err, &hfErr) {
		t.Fatalf("got %v, want HealthFactorError", err)
	}
	if hfErr.Score.Cmp(engine.MinHealthFactor) >= 0 {
		t.Errorf("reported score %s not below minimum", hfErr.Score)
	}

	if got := f.eng.DebtOf(account); got.Sign() != 0 {
		t.Errorf("debt not rolled back: %s", got)
	}
	if got := f.issuer.BalanceOf(account); got.Sign() != 0 {
		t.Errorf("tokens issued despite rejection: %s", got)
	}
	if events := f.drainEvents(); len(events) != 0 {
		t.Errorf("failed operation emitted events: %+v", events)
	}
}

func TestMintFailsClosedOnOracleOutage(t *testing.T) {
	f := newFixture(t)
	account := uuid.New()
	f.fund(t, account, "WETH", fpmath.Wad(10))

	f.source.Drop("ETH-USD")

	err := f.eng.Mint(context.Background(), account, fpmath.Wad(1))
	if !errors.Is(err, valuation.ErrOracleUnavailable) {
		t.Fatalf("got %v, want ErrOracleUnavailable", err)
	}
	if got := f.eng.DebtOf(account); got.Sign() != 0 {
		t.Errorf("debt recorded during outage: %s", got)
	}
}

func TestRedeem(t *testing.T) {
	f := newFixture(t)
	account := uuid.New()
	f.fund(t, account, "WETH", fpmath.Wad(10))

	if err := f.eng.Mint(context.Background(), account, fpmath.Wad(5_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	// $5000 debt needs $10000 counted collateral; 5 WETH = $10000 remains.
	if err := f.eng.Redeem(context.Background(), account, "WETH", fpmath.Wad(5), account); err != nil {
		t.Fatalf("redeem: %v", err)
	}

	if got := f.bank.BalanceOf(account, "WETH"); got.Cmp(fpmath.Wad(5)) != 0 {
		t.Errorf("payout: got %s, want 5 WETH", got)
	}
	if got := f.eng.Deposited(account, "WETH"); got.Cmp(fpmath.Wad(5)) != 0 {
		t.Errorf("remaining deposit: got %s", got)
	}
}

func TestRedeemBreakingHealthFactorRollsBack(t *testing.T) {
	f := newFixture(t)
	account := uuid.New()
	f.fund(t, account, "WETH", fpmath.Wad(10))

	if err := f.eng.Mint(context.Background(), account, fpmath.Wad(10_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	f.drainEvents()

	// Any withdrawal breaks the score at the boundary.
	err := f.eng.Redeem(context.Background(), account, "WETH", fpmath.Wad(1), account)
	var hfErr *engine.HealthFactorError
	if !errors.As(err, &hfErr) {
		t.Fatalf("got %v, want HealthFactorError", err)
	}

	if got := f.eng.Deposited(account, "WETH"); got.Cmp(fpmath.Wad(10)) != 0 {
		t.Errorf("deposit not restored: %s", got)
	}
	if got := f.bank.BalanceOf(account, "WETH"); got.Sign() != 0 {
		t.Errorf("collateral paid out despite rejection: %s", got)
	}
	if events := f.drainEvents(); len(events) != 0 {
		t.Errorf("failed operation emitted events: %+v", events)
	}
}

func TestRedeemToThirdPartyBeneficiary(t *testing.T) {
	f := newFixture(t)
	account := uuid.New()
	beneficiary := uuid.New()
	f.fund(t, account, "WETH", fpmath.Wad(10))

	if err := f.eng.Redeem(context.Background(), account, "WETH", fpmath.Wad(3), beneficiary); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if got := f.bank.BalanceOf(beneficiary, "WETH"); got.Cmp(fpmath.Wad(3)) != 0 {
		t.Errorf("beneficiary balance: got %s", got)
	}
	if got := f.bank.BalanceOf(account, "WETH"); got.Sign() != 0 {
		t.Errorf("owner received payout meant for beneficiary: %s", got)
	}
}

func TestBurn(t *testing.T) {
	f := newFixture(t)
	account := uuid.New()
	f.fund(t, account, "WETH", fpmath.Wad(10))

	if err := f.eng.Mint(context.Background(), account, fpmath.Wad(8_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	if err := f.eng.Burn(context.Background(), account, fpmath.Wad(3_000)); err != nil {
		t.Fatalf("burn: %v", err)
	}

	if got := f.eng.DebtOf(account); got.Cmp(fpmath.Wad(5_000)) != 0 {
		t.Errorf("debt: got %s, want 5000", got)
	}
	if got := f.issuer.BalanceOf(account); got.Cmp(fpmath.Wad(5_000)) != 0 {
		t.Errorf("token balance: got %s, want 5000", got)
	}
	if got := f.issuer.TotalSupply(); got.Cmp(fpmath.Wad(5_000)) != 0 {
		t.Errorf("supply: got %s, want 5000", got)
	}
}

func TestBurnExceedingDebtRejected(t *testing.T) {
	f := newFixture(t)
	account := uuid.New()
	f.fund(t, account, "WETH", fpmath.Wad(10))

	if err := f.eng.Mint(context.Background(), account, fpmath.Wad(1_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	err := f.eng.Burn(context.Background(), account, fpmath.Wad(1_001))
	if !errors.Is(err, ledger.ErrInsufficientDebt) {
		t.Fatalf("got %v, want ErrInsufficientDebt", err)
	}
	// Tokens never pulled on a pre-validation failure.
	if got := f.issuer.BalanceOf(account); got.Cmp(fpmath.Wad(1_000)) != 0 {
		t.Errorf("token balance changed: %s", got)
	}
}

func TestDepositAndMint(t *testing.T) {
	f := newFixture(t)
	account := uuid.New()
	f.bank.Credit(account, "WETH", fpmath.Wad(10))

	err := f.eng.DepositAndMint(context.Background(), account, "WETH", fpmath.Wad(10), fpmath.Wad(9_000))
	if err != nil {
		t.Fatalf("deposit and mint: %v", err)
	}
	if got := f.eng.DebtOf(account); got.Cmp(fpmath.Wad(9_000)) != 0 {
		t.Errorf("debt: got %s", got)
	}

	events := f.drainEvents()
	if len(events) != 2 {
		t.Fatalf("got %d events, want deposit + mint", len(events))
	}
}

func TestDepositAndMintUnwindsOnMintFailure(t *testing.T) {
	f := newFixture(t)
	account := uuid.New()
	f.bank.Credit(account, "WETH", fpmath.Wad(10))

	// $20000 collateral cannot carry $10001 debt.
	err := f.eng.DepositAndMint(context.Background(), account, "WETH", fpmath.Wad(10), fpmath.Wad(10_001))
	var hfErr *engine.HealthFactorError
	if !errors.As(err, &hfErr) {
		t.Fatalf("got %v, want HealthFactorError", err)
	}

	// The whole composition must have no effect.
	if got := f.eng.Deposited(account, "WETH"); got.Sign() != 0 {
		t.Errorf("deposit survived failed composition: %s", got)
	}
	if got := f.bank.BalanceOf(account, "WETH"); got.Cmp(fpmath.Wad(10)) != 0 {
		t.Errorf("free balance not restored: %s", got)
	}
	if got := f.bank.CustodyBalance("WETH"); got.Sign() != 0 {
		t.Errorf("custody retained collateral: %s", got)
	}
	// The deposit leg succeeded before the mint failed; its envelope must
	// not reach the operation log.
	if events := f.drainEvents(); len(events) != 0 {
		t.Errorf("failed composition emitted events: %+v", events)
	}
}

func TestRedeemAndBurn(t *testing.T) {
	f := newFixture(t)
	account := uuid.New()
	f.fund(t, account, "WETH", fpmath.Wad(10))

	if err := f.eng.Mint(context.Background(), account, fpmath.Wad(10_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	f.drainEvents()

	// At the boundary a plain redeem would fail; burning first makes room.
	err := f.eng.RedeemAndBurn(context.Background(), account, "WETH", fpmath.Wad(5), fpmath.Wad(5_000))
	if err != nil {
		t.Fatalf("redeem and burn: %v", err)
	}

	if got := f.eng.DebtOf(account); got.Cmp(fpmath.Wad(5_000)) != 0 {
		t.Errorf("debt: got %s", got)
	}
	if got := f.bank.BalanceOf(account, "WETH"); got.Cmp(fpmath.Wad(5)) != 0 {
		t.Errorf("payout: got %s", got)
	}

	events := f.drainEvents()
	if len(events) != 2 || events[0].Type != event.TypeDebtBurned || events[1].Type != event.TypeCollateralRedeemed {
		t.Fatalf("events: got %+v, want burn + redeem", events)
	}
}

func TestRedeemAndBurnUnwindsOnRedeemFailure(t *testing.T) {
	f := newFixture(t)
	account := uuid.New()
	f.fund(t, account, "WETH", fpmath.Wad(10))

	if err := f.eng.Mint(context.Background(), account, fpmath.Wad(10_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	f.drainEvents()

	// Burning $1000 frees $2000 of collateral headroom (1 WETH); asking for
	// 2 WETH must fail and restore the burned debt.
	err := f.eng.RedeemAndBurn(context.Background(), account, "WETH", fpmath.Wad(2), fpmath.Wad(1_000))
	var hfErr *engine.HealthFactorError
	if !errors.As(err, &hfErr) {
		t.Fatalf("got %v, want HealthFactorError", err)
	}

	if got := f.eng.DebtOf(account); got.Cmp(fpmath.Wad(10_000)) != 0 {
		t.Errorf("debt not restored: %s", got)
	}
	if got := f.issuer.BalanceOf(account); got.Cmp(fpmath.Wad(10_000)) != 0 {
		t.Errorf("token balance not restored: %s", got)
	}
	if got := f.eng.Deposited(account, "WETH"); got.Cmp(fpmath.Wad(10)) != 0 {
		t.Errorf("deposit changed: %s", got)
	}
	// The burn leg succeeded before the redeem failed; its envelope must
	// not reach the operation log.
	if events := f.drainEvents(); len(events) != 0 {
		t.Errorf("failed composition emitted events: %+v", events)
	}
}

func TestMultiAssetCollateralValue(t *testing.T) {
	f := newFixture(t)
	account := uuid.New()
	f.fund(t, account, "WETH", fpmath.Wad(10)) // $20000
	f.fund(t, account, "WBTC", fpmath.Wad(2))  // $60000

	got, err := f.eng.CollateralValueUsd(context.Background(), account)
	if err != nil {
		t.Fatalf("collateral value: %v", err)
	}
	if got.Cmp(fpmath.Wad(80_000)) != 0 {
		t.Errorf("got %s, want $80000", got)
	}
}

func TestConservationUnderRandomOperations(t *testing.T) {
	f := newFixture(t)
	rng := rand.New(rand.NewSource(1))

	accounts := make([]uuid.UUID, 5)
	for i := range accounts {
		accounts[i] = uuid.New()
		f.bank.Credit(accounts[i], "WETH", fpmath.Wad(1_000_000))
	}

	booked := func() *big.Int {
		total := new(big.Int)
		for _, a := range accounts {
			total.Add(total, f.eng.Deposited(a, "WETH"))
		}
		return total
	}

	for i := 0; i < 300; i++ {
		account := accounts[rng.Intn(len(accounts))]
		amount := fpmath.Wad(rng.Int63n(100) + 1)
		if rng.Intn(2) == 0 {
			f.eng.Deposit(context.Background(), account, "WETH", amount)
		} else {
			f.eng.Redeem(context.Background(), account, "WETH", amount, account)
		}

		if got, want := f.bank.CustodyBalance("WETH"), booked(); got.Cmp(want) != 0 {
			t.Fatalf("conservation broken at step %d: custody %s, booked %s", i, got, want)
		}
	}
}
