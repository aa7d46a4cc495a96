package engine

import (
	"context"
	"math/big"

	"github.com/google/uuid"

	fpmath "SynthLedger/internal/math"
)

// Risk parameters. A health factor below MinHealthFactor makes the account
// liquidatable; the boundary itself is safe.
const (
	LiquidationThreshold = 50
	LiquidationPrecision = 100
	LiquidationBonusPct  = 10
)

// MinHealthFactor is 1.0 at wad scale.
var MinHealthFactor = new(big.Int).Set(fpmath.Wad)

// balanceReader is satisfied by both *ledger.Book and *ledger.Txn. The txn
// form lets health checks run inside an open transaction, where reading the
// book directly would block on the write lock the txn itself holds.
type balanceReader interface {
	Collateral(user uuid.UUID, asset string) *big.Int
	Debt(user uuid.UUID) *big.Int
}

// CollateralValueUSD sums the USD value of every collateral balance the user
// holds, at wad scale. Prices are re-read from the feeds on every call.
func (e *Engine) CollateralValueUSD(ctx context.Context, user uuid.UUID) (*big.Int, error) {
	return e.collateralValueUSD(ctx, e.book, user)
}

func (e *Engine) collateralValueUSD(ctx context.Context, r balanceReader, user uuid.UUID) (*big.Int, error) {
	total := new(big.Int)
	for _, asset := range e.registry.Assets() {
		bal := r.Collateral(user, asset)
		if bal.Sign() == 0 {
			continue
		}
		price, err := e.quote(ctx, asset)
		if err != nil {
			return nil, err
		}
		total.Add(total, fpmath.WadMul(bal, price))
	}
	return total, nil
}

// HealthFactor returns the user's health factor at wad scale. Debt-free
// accounts report MaxHealthFactor regardless of collateral.
func (e *Engine) HealthFactor(ctx context.Context, user uuid.UUID) (*big.Int, error) {
	return e.healthFactor(ctx, e.book, user)
}

func (e *Engine) healthFactor(ctx context.Context, r balanceReader, user uuid.UUID) (*big.Int, error) {
	debt := r.Debt(user)
	if debt.Sign() == 0 {
		return fpmath.Clone(fpmath.MaxHealthFactor), nil
	}
	value, err := e.collateralValueUSD(ctx, r, user)
	if err != nil {
		return nil, err
	}
	adjusted := fpmath.Pct(value, LiquidationThreshold, LiquidationPrecision)
	return fpmath.WadDiv(adjusted, debt), nil
}

// requireHealthy fails with HealthFactorBrokenError when the user's health
// factor is below the minimum.
func (e *Engine) requireHealthy(ctx context.Context, r balanceReader, user uuid.UUID) error {
	hf, err := e.healthFactor(ctx, r, user)
	if err != nil {
		return err
	}
	if hf.Cmp(MinHealthFactor) < 0 {
		return &HealthFactorBrokenError{User: user, HealthFactor: hf}
	}
	return nil
}

// TokenAmountFromUSD converts a wad USD amount into asset units at the
// current price: usd * 1e18 / price.
func (e *Engine) TokenAmountFromUSD(ctx context.Context, asset string, usdWad *big.Int) (*big.Int, error) {
	if err := e.requireSupported(asset); err != nil {
		return nil, err
	}
	price, err := e.quote(ctx, asset)
	if err != nil {
		return nil, err
	}
	return fpmath.WadDiv(usdWad, price), nil
}

// CollateralOf returns the user's deposited balance in asset.
func (e *Engine) CollateralOf(user uuid.UUID, asset string) *big.Int {
	return e.book.Collateral(user, asset)
}

// DebtOf returns the user's recorded synthetic debt.
func (e *Engine) DebtOf(user uuid.UUID) *big.Int {
	return e.book.Debt(user)
}

// SupportedAssets returns the registered collateral assets.
func (e *Engine) SupportedAssets() []string {
	return e.registry.Assets()
}
