package engine

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"SynthLedger/internal/ledger"
	fpmath "SynthLedger/internal/math"
	"SynthLedger/internal/oracle"
	"SynthLedger/internal/registry"
	"SynthLedger/internal/token"
)

func wad(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

type fixture struct {
	eng       *Engine
	custodian uuid.UUID
	faucet    uuid.UUID
	weth      *token.Token
	susd      *token.Token
	feed      *oracle.StubFeed
}

// newFixture wires an engine over one collateral asset (WETH, price $2000 at
// 8 feed decimals) and an engine-owned sUSD token.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	custodian, faucet := uuid.New(), uuid.New()
	feed := oracle.NewStubFeed(8, big.NewInt(2000e8))

	reg, err := registry.New([]string{"WETH"}, []oracle.PriceFeed{feed})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	weth := token.New("WETH", faucet)
	susd := token.New("sUSD", custodian)

	eng, err := New(Config{
		Custodian:  custodian,
		Registry:   reg,
		Collateral: map[string]token.CollateralAsset{"WETH": weth},
		Synthetic:  susd,
		Logger:     zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{eng: eng, custodian: custodian, faucet: faucet, weth: weth, susd: susd, feed: feed}
}

// fund gives user WETH and approves the engine to pull both tokens.
func (f *fixture) fund(t *testing.T, user uuid.UUID, amount *big.Int) {
	t.Helper()
	ctx := context.Background()
	if err := f.weth.Mint(ctx, f.faucet, user, amount); err != nil {
		t.Fatalf("fund mint: %v", err)
	}
	if err := f.weth.Approve(ctx, user, f.custodian, fpmath.Clone(fpmath.MaxHealthFactor)); err != nil {
		t.Fatalf("fund approve: %v", err)
	}
	if err := f.susd.Approve(ctx, user, f.custodian, fpmath.Clone(fpmath.MaxHealthFactor)); err != nil {
		t.Fatalf("fund approve susd: %v", err)
	}
}

func TestDepositCollateral(t *testing.T) {
	f := newFixture(t)
	user := uuid.New()
	ctx := context.Background()
	f.fund(t, user, wad(10))

	if err := f.eng.DepositCollateral(ctx, user, "WETH", wad(10)); err != nil {
		t.Fatalf("DepositCollateral: %v", err)
	}

	if got := f.eng.CollateralOf(user, "WETH"); got.Cmp(wad(10)) != 0 {
		t.Fatalf("ledger collateral = %s", got)
	}
	custody, _ := f.weth.BalanceOf(ctx, f.custodian)
	if custody.Cmp(wad(10)) != 0 {
		t.Fatalf("custody balance = %s", custody)
	}
	if f.eng.Sequence() != 1 {
		t.Fatalf("sequence = %d", f.eng.Sequence())
	}
}

func TestDepositRejectsZeroAmountAndUnsupportedAsset(t *testing.T) {
	f := newFixture(t)
	user := uuid.New()
	ctx := context.Background()

	err := f.eng.DepositCollateral(ctx, user, "WETH", big.NewInt(0))
	var zero *ZeroAmountError
	if !errors.As(err, &zero) {
		t.Fatalf("expected ZeroAmountError, got %v", err)
	}

	err = f.eng.DepositCollateral(ctx, user, "DOGE", wad(1))
	var unsupported *registry.UnsupportedAssetError
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected UnsupportedAssetError, got %v", err)
	}
}

func TestDepositRollsBackOnTransferFailure(t *testing.T) {
	f := newFixture(t)
	user := uuid.New()
	ctx := context.Background()
	// No funding: the pull must fail on allowance.

	err := f.eng.DepositCollateral(ctx, user, "WETH", wad(5))
	var failed *token.TransferFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("expected TransferFailedError, got %v", err)
	}
	if got := f.eng.CollateralOf(user, "WETH"); got.Sign() != 0 {
		t.Fatalf("ledger collateral = %s after failed deposit", got)
	}
	if f.eng.Sequence() != 0 {
		t.Fatalf("sequence advanced on failed op: %d", f.eng.Sequence())
	}
}

func TestMintBoundary(t *testing.T) {
	f := newFixture(t)
	user := uuid.New()
	ctx := context.Background()
	// 100 WETH at $2000 = $200,000 collateral value; the 50% threshold
	// allows exactly 100,000 sUSD of debt.
	f.fund(t, user, wad(100))
	if err := f.eng.DepositCollateral(ctx, user, "WETH", wad(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	err := f.eng.MintDebt(ctx, user, wad(100001))
	var broken *HealthFactorBrokenError
	if !errors.As(err, &broken) {
		t.Fatalf("expected HealthFactorBrokenError, got %v", err)
	}
	if got := f.eng.DebtOf(user); got.Sign() != 0 {
		t.Fatalf("debt = %s after rejected mint", got)
	}
	supply, _ := f.susd.TotalSupply(ctx)
	if supply.Sign() != 0 {
		t.Fatalf("supply = %s after rejected mint", supply)
	}

	if err := f.eng.MintDebt(ctx, user, wad(100000)); err != nil {
		t.Fatalf("boundary mint: %v", err)
	}
	hf, err := f.eng.HealthFactor(ctx, user)
	if err != nil {
		t.Fatalf("HealthFactor: %v", err)
	}
	if hf.Cmp(MinHealthFactor) != 0 {
		t.Fatalf("hf = %s, want exactly %s", hf, MinHealthFactor)
	}
	bal, _ := f.susd.BalanceOf(ctx, user)
	if bal.Cmp(wad(100000)) != 0 {
		t.Fatalf("sUSD balance = %s", bal)
	}
}

func TestHealthFactorDebtFree(t *testing.T) {
	f := newFixture(t)
	user := uuid.New()

	hf, err := f.eng.HealthFactor(context.Background(), user)
	if err != nil {
		t.Fatalf("HealthFactor: %v", err)
	}
	if hf.Cmp(fpmath.MaxHealthFactor) != 0 {
		t.Fatalf("debt-free hf = %s", hf)
	}
}

func TestRedeemKeepsAccountHealthy(t *testing.T) {
	f := newFixture(t)
	user := uuid.New()
	ctx := context.Background()
	f.fund(t, user, wad(10))
	if err := f.eng.DepositCollateral(ctx, user, "WETH", wad(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	// $20,000 value supports 10,000 debt at the boundary.
	if err := f.eng.MintDebt(ctx, user, wad(10000)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	// Any withdrawal now breaks the health factor.
	err := f.eng.RedeemCollateral(ctx, "WETH", wad(1), user, user)
	var broken *HealthFactorBrokenError
	if !errors.As(err, &broken) {
		t.Fatalf("expected HealthFactorBrokenError, got %v", err)
	}
	if got := f.eng.CollateralOf(user, "WETH"); got.Cmp(wad(10)) != 0 {
		t.Fatalf("collateral = %s after rejected redeem", got)
	}
	bal, _ := f.weth.BalanceOf(ctx, user)
	if bal.Sign() != 0 {
		t.Fatalf("tokens moved on rejected redeem: %s", bal)
	}
}

func TestRedeemRejectsOverdraft(t *testing.T) {
	f := newFixture(t)
	user := uuid.New()
	ctx := context.Background()
	f.fund(t, user, wad(2))
	if err := f.eng.DepositCollateral(ctx, user, "WETH", wad(2)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	err := f.eng.RedeemCollateral(ctx, "WETH", wad(3), user, user)
	var insufficient *ledger.InsufficientCollateralError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientCollateralError, got %v", err)
	}
}

func TestRoundTripLeavesNoResidue(t *testing.T) {
	f := newFixture(t)
	user := uuid.New()
	ctx := context.Background()
	f.fund(t, user, wad(2))

	if err := f.eng.DepositCollateral(ctx, user, "WETH", wad(2)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := f.eng.MintDebt(ctx, user, wad(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := f.eng.BurnDebt(ctx, wad(1000), user, user); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if err := f.eng.RedeemCollateral(ctx, "WETH", wad(2), user, user); err != nil {
		t.Fatalf("redeem: %v", err)
	}

	if got := f.eng.CollateralOf(user, "WETH"); got.Sign() != 0 {
		t.Fatalf("collateral residue: %s", got)
	}
	if got := f.eng.DebtOf(user); got.Sign() != 0 {
		t.Fatalf("debt residue: %s", got)
	}
	supply, _ := f.susd.TotalSupply(ctx)
	if supply.Sign() != 0 {
		t.Fatalf("sUSD supply residue: %s", supply)
	}
	bal, _ := f.weth.BalanceOf(ctx, user)
	if bal.Cmp(wad(2)) != 0 {
		t.Fatalf("user WETH = %s after round trip", bal)
	}
	if got := f.eng.Book().TotalDebt(); got.Sign() != 0 {
		t.Fatalf("total debt residue: %s", got)
	}
}

func TestBurnRejectsMoreThanOwed(t *testing.T) {
	f := newFixture(t)
	user := uuid.New()
	ctx := context.Background()
	f.fund(t, user, wad(2))
	if err := f.eng.DepositCollateral(ctx, user, "WETH", wad(2)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := f.eng.MintDebt(ctx, user, wad(500)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	err := f.eng.BurnDebt(ctx, wad(501), user, user)
	var insufficient *ledger.InsufficientDebtError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientDebtError, got %v", err)
	}
	if got := f.eng.DebtOf(user); got.Cmp(wad(500)) != 0 {
		t.Fatalf("debt = %s after rejected burn", got)
	}
}

func TestDepositAndMintIsOneOperation(t *testing.T) {
	f := newFixture(t)
	user := uuid.New()
	ctx := context.Background()
	f.fund(t, user, wad(10))

	if err := f.eng.DepositCollateralAndMintDebt(ctx, user, "WETH", wad(10), wad(10000)); err != nil {
		t.Fatalf("DepositCollateralAndMintDebt: %v", err)
	}
	if got := f.eng.CollateralOf(user, "WETH"); got.Cmp(wad(10)) != 0 {
		t.Fatalf("collateral = %s", got)
	}
	if got := f.eng.DebtOf(user); got.Cmp(wad(10000)) != 0 {
		t.Fatalf("debt = %s", got)
	}

	// Over-minting rejects the whole operation, deposit included.
	other := uuid.New()
	f.fund(t, other, wad(10))
	err := f.eng.DepositCollateralAndMintDebt(ctx, other, "WETH", wad(10), wad(10001))
	var broken *HealthFactorBrokenError
	if !errors.As(err, &broken) {
		t.Fatalf("expected HealthFactorBrokenError, got %v", err)
	}
	if got := f.eng.CollateralOf(other, "WETH"); got.Sign() != 0 {
		t.Fatalf("collateral = %s after rejected combined op", got)
	}
	bal, _ := f.weth.BalanceOf(ctx, other)
	if bal.Cmp(wad(10)) != 0 {
		t.Fatalf("user WETH = %s after rejected combined op", bal)
	}
}

func TestRedeemCollateralForDebt(t *testing.T) {
	f := newFixture(t)
	user := uuid.New()
	ctx := context.Background()
	f.fund(t, user, wad(10))
	if err := f.eng.DepositCollateralAndMintDebt(ctx, user, "WETH", wad(10), wad(10000)); err != nil {
		t.Fatalf("setup: %v", err)
	}

	// At the boundary a plain redeem fails, but burning first makes room.
	if err := f.eng.RedeemCollateralForDebt(ctx, user, "WETH", wad(5), wad(5000)); err != nil {
		t.Fatalf("RedeemCollateralForDebt: %v", err)
	}
	if got := f.eng.CollateralOf(user, "WETH"); got.Cmp(wad(5)) != 0 {
		t.Fatalf("collateral = %s", got)
	}
	if got := f.eng.DebtOf(user); got.Cmp(wad(5000)) != 0 {
		t.Fatalf("debt = %s", got)
	}
	bal, _ := f.weth.BalanceOf(ctx, user)
	if bal.Cmp(wad(5)) != 0 {
		t.Fatalf("user WETH = %s", bal)
	}
}

func TestStalePriceBlocksValuation(t *testing.T) {
	f := newFixture(t)
	user := uuid.New()
	ctx := context.Background()
	f.fund(t, user, wad(10))
	if err := f.eng.DepositCollateral(ctx, user, "WETH", wad(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	f.feed.SetUpdatedAt(0)
	var stale *oracle.StalePriceError
	if err := f.eng.MintDebt(ctx, user, wad(1)); !errors.As(err, &stale) {
		t.Fatalf("expected StalePriceError, got %v", err)
	}
	if got := f.eng.DebtOf(user); got.Sign() != 0 {
		t.Fatalf("debt recorded under stale price: %s", got)
	}
}

func TestTokenAmountFromUSD(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// $500 at $2000/WETH = 0.25 WETH.
	got, err := f.eng.TokenAmountFromUSD(ctx, "WETH", wad(500))
	if err != nil {
		t.Fatalf("TokenAmountFromUSD: %v", err)
	}
	want := new(big.Int).Div(wad(1), big.NewInt(4))
	if got.Cmp(want) != 0 {
		t.Fatalf("got %s, want %s", got, want)
	}
}

// reentrantToken calls back into the engine from inside TransferFrom.
type reentrantToken struct {
	*token.Token
	eng  *Engine
	user uuid.UUID
	got  error
}

func (r *reentrantToken) TransferFrom(ctx context.Context, spender, from, to uuid.UUID, amount *big.Int) error {
	r.got = r.eng.DepositCollateral(ctx, r.user, "WETH", wad(1))
	if r.got != nil {
		return r.got
	}
	return r.Token.TransferFrom(ctx, spender, from, to, amount)
}

func TestReentrantTokenIsRejected(t *testing.T) {
	custodian, faucet := uuid.New(), uuid.New()
	feed := oracle.NewStubFeed(8, big.NewInt(2000e8))
	reg, err := registry.New([]string{"WETH"}, []oracle.PriceFeed{feed})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	evil := &reentrantToken{Token: token.New("WETH", faucet)}
	susd := token.New("sUSD", custodian)

	eng, err := New(Config{
		Custodian:  custodian,
		Registry:   reg,
		Collateral: map[string]token.CollateralAsset{"WETH": evil},
		Synthetic:  susd,
		Logger:     zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	user := uuid.New()
	evil.eng = eng
	evil.user = user
	ctx := context.Background()
	if err := evil.Token.Mint(ctx, faucet, user, wad(5)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := evil.Token.Approve(ctx, user, custodian, wad(5)); err != nil {
		t.Fatalf("approve: %v", err)
	}

	err = eng.DepositCollateral(ctx, user, "WETH", wad(2))
	if err == nil {
		t.Fatal("deposit through reentrant token should fail")
	}
	var reentrant *ReentrantCallError
	if !errors.As(evil.got, &reentrant) {
		t.Fatalf("inner call: expected ReentrantCallError, got %v", evil.got)
	}
	if got := eng.CollateralOf(user, "WETH"); got.Sign() != 0 {
		t.Fatalf("ledger collateral = %s after reentrant attempt", got)
	}
}

func TestGaugeValueBeyondInt64(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 80)
	got := gaugeValue(huge)
	want, _ := new(big.Float).SetInt(huge).Float64()
	if got != want || got <= 0 {
		t.Fatalf("gaugeValue(2^80) = %g, want %g", got, want)
	}

	if got := gaugeValue(big.NewInt(12345)); got != 12345 {
		t.Fatalf("gaugeValue(12345) = %g", got)
	}
}
