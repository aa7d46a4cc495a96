package engine

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"SynthLedger/internal/event"
	fpmath "SynthLedger/internal/math"
)

// Liquidate lets liquidator repay debtToCover of user's debt in exchange for
// the equivalent collateral in asset plus a 10% bonus. The target must start
// below the minimum health factor and must end strictly better off; the
// liquidator funds the repayment with their own synthetic tokens. All ledger
// mutations and health checks complete before any token moves, and the sUSD
// pull runs before the collateral push.
func (e *Engine) Liquidate(ctx context.Context, liquidator, user uuid.UUID, asset string, debtToCover *big.Int) error {
	const op = "liquidate"
	start := time.Now()

	if err := validateAmount(op, debtToCover); err != nil {
		e.reject(op, "zero_amount")
		return err
	}
	if err := e.requireSupported(asset); err != nil {
		e.reject(op, "unsupported_asset")
		return err
	}
	if err := e.enter(op); err != nil {
		e.reject(op, "reentrant")
		return err
	}
	defer e.exit()

	hfBefore, err := e.HealthFactor(ctx, user)
	if err != nil {
		e.reject(op, "oracle")
		return err
	}
	if hfBefore.Cmp(MinHealthFactor) >= 0 {
		e.rejectLiquidation(op, asset, "not_eligible")
		return &LiquidationNotEligibleError{User: user, HealthFactor: hfBefore}
	}

	price, err := e.quote(ctx, asset)
	if err != nil {
		e.reject(op, "oracle")
		return err
	}
	tokenAmount := fpmath.WadDiv(debtToCover, price)
	bonus := fpmath.Pct(tokenAmount, LiquidationBonusPct, LiquidationPrecision)
	seize := new(big.Int).Add(tokenAmount, bonus)

	txn := e.book.Begin()
	if err := txn.SubCollateral(user, asset, seize); err != nil {
		txn.Rollback()
		e.rejectLiquidation(op, asset, "insufficient_collateral")
		return err
	}
	if err := txn.SubDebt(user, debtToCover); err != nil {
		txn.Rollback()
		e.rejectLiquidation(op, asset, "insufficient_debt")
		return err
	}

	hfAfter, err := e.healthFactor(ctx, txn, user)
	if err != nil {
		txn.Rollback()
		e.reject(op, "oracle")
		return err
	}
	if hfAfter.Cmp(hfBefore) <= 0 {
		txn.Rollback()
		e.rejectLiquidation(op, asset, "not_improved")
		return &LiquidationNotImprovedError{User: user, Before: hfBefore, After: hfAfter}
	}

	if e.requireLiquidatorSolvency {
		lhf, err := e.healthFactor(ctx, txn, liquidator)
		if err != nil {
			txn.Rollback()
			e.reject(op, "oracle")
			return err
		}
		if lhf.Cmp(MinHealthFactor) < 0 {
			txn.Rollback()
			e.rejectLiquidation(op, asset, "liquidator_insolvent")
			return &LiquidatorInsolventError{Liquidator: liquidator, HealthFactor: lhf}
		}
	}

	tok := e.collat[asset]
	err = e.runExternals(ctx, []externCall{
		{
			do: func(ctx context.Context) error {
				return e.synth.TransferFrom(ctx, e.custodian, liquidator, e.custodian, debtToCover)
			},
			undo: func(ctx context.Context) error {
				return e.synth.Transfer(ctx, e.custodian, liquidator, debtToCover)
			},
		},
		{
			do: func(ctx context.Context) error {
				return e.synth.Burn(ctx, e.custodian, debtToCover)
			},
			undo: func(ctx context.Context) error {
				return e.synth.Mint(ctx, e.custodian, e.custodian, debtToCover)
			},
		},
		{
			do: func(ctx context.Context) error {
				return tok.Transfer(ctx, e.custodian, liquidator, seize)
			},
		},
	})
	if err != nil {
		txn.Rollback()
		e.rejectLiquidation(op, asset, "transfer_failed")
		return fmt.Errorf("liquidate: %w", err)
	}

	e.commit(op, start, txn, &event.LiquidationExecuted{
		Liquidator:       liquidator,
		Target:           user,
		Asset:            asset,
		DebtCovered:      debtToCover,
		CollateralSeized: seize,
		HealthBefore:     hfBefore,
		HealthAfter:      hfAfter,
	})
	if e.metrics != nil {
		e.metrics.LiquidationsExecuted.WithLabelValues(asset).Inc()
	}
	return nil
}

func (e *Engine) rejectLiquidation(op, asset, reason string) {
	e.reject(op, reason)
	if e.metrics != nil {
		e.metrics.LiquidationsRejected.WithLabelValues(asset, reason).Inc()
	}
}
