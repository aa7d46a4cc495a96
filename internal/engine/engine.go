// Package engine implements the synthetic-asset accounting engine: collateral
// custody, debt issuance, health-factor enforcement and liquidation.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"SynthLedger/internal/event"
	"SynthLedger/internal/ledger"
	fpmath "SynthLedger/internal/math"
	"SynthLedger/internal/observability"
	"SynthLedger/internal/oracle"
	"SynthLedger/internal/registry"
	"SynthLedger/internal/token"
)

// Output carries one committed operation to the persistence and publishing
// pipelines.
type Output struct {
	Envelope *event.Envelope
}

// Config wires an Engine. Registry, Synthetic and a collateral token for
// every registered asset are required; the rest is optional.
type Config struct {
	// Custodian is the engine's own holder identity on the token ledgers.
	Custodian uuid.UUID
	Registry  *registry.Registry
	// Collateral maps each registered asset to its token ledger.
	Collateral map[string]token.CollateralAsset
	Synthetic  token.SyntheticAsset

	// SkipLiquidatorSolvencyCheck disables the check that a liquidator's own
	// account stays healthy after a liquidation. Off by default: the check
	// runs.
	SkipLiquidatorSolvencyCheck bool

	Logger  zerolog.Logger
	Metrics *observability.Metrics

	// PersistChan receives every committed operation; the engine blocks when
	// it is full. PublishChan is best-effort: a full channel drops the event.
	PersistChan chan<- Output
	PublishChan chan<- Output
}

// Engine executes all state-changing operations one at a time. A busy flag
// rejects reentrant entry from token callbacks; callers serialize top-level
// operations through a single goroutine.
type Engine struct {
	custodian uuid.UUID
	registry  *registry.Registry
	collat    map[string]token.CollateralAsset
	synth     token.SyntheticAsset
	book      *ledger.Book

	busy     atomic.Bool
	sequence int64

	requireLiquidatorSolvency bool

	log     zerolog.Logger
	metrics *observability.Metrics

	persistChan chan<- Output
	publishChan chan<- Output
}

// New validates cfg and returns a ready engine with an empty book.
func New(cfg Config) (*Engine, error) {
	if cfg.Registry == nil {
		return nil, &ConfigurationError{Detail: "registry is nil"}
	}
	if cfg.Synthetic == nil {
		return nil, &ConfigurationError{Detail: "synthetic asset is nil"}
	}
	for _, asset := range cfg.Registry.Assets() {
		if cfg.Collateral[asset] == nil {
			return nil, &ConfigurationError{Detail: fmt.Sprintf("no collateral token for asset %q", asset)}
		}
	}
	return &Engine{
		custodian:                 cfg.Custodian,
		registry:                  cfg.Registry,
		collat:                    cfg.Collateral,
		synth:                     cfg.Synthetic,
		book:                      ledger.NewBook(),
		requireLiquidatorSolvency: !cfg.SkipLiquidatorSolvencyCheck,
		log:                       cfg.Logger,
		metrics:                   cfg.Metrics,
		persistChan:               cfg.PersistChan,
		publishChan:               cfg.PublishChan,
	}, nil
}

// Book exposes the balance book for read-only collaborators (query service,
// tests).
func (e *Engine) Book() *ledger.Book {
	return e.book
}

// Sequence returns the sequence of the last committed operation.
func (e *Engine) Sequence() int64 {
	return atomic.LoadInt64(&e.sequence)
}

func (e *Engine) enter(op string) error {
	if !e.busy.CompareAndSwap(false, true) {
		return &ReentrantCallError{Op: op}
	}
	return nil
}

func (e *Engine) exit() {
	e.busy.Store(false)
}

func validateAmount(op string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return &ZeroAmountError{Op: op}
	}
	return nil
}

func (e *Engine) requireSupported(asset string) error {
	if !e.registry.IsSupported(asset) {
		return &registry.UnsupportedAssetError{Asset: asset}
	}
	return nil
}

// quote reads the current price for asset at 1e18 scale, counting quotes and
// staleness rejections.
func (e *Engine) quote(ctx context.Context, asset string) (*big.Int, error) {
	adapter, err := e.registry.AdapterOf(asset)
	if err != nil {
		return nil, err
	}
	price, err := adapter.Quote(ctx)
	if e.metrics != nil {
		e.metrics.OracleQuotes.WithLabelValues(asset).Inc()
		var stale *oracle.StalePriceError
		if errors.As(err, &stale) {
			e.metrics.OracleStaleQuotes.WithLabelValues(asset).Inc()
		}
	}
	return price, err
}

// externCall is one external token movement with its compensating action.
type externCall struct {
	do   func(ctx context.Context) error
	undo func(ctx context.Context) error
}

// runExternals executes calls in order. On failure it runs the undo of every
// already-applied call in reverse, logging compensations that fail, and
// returns the original error.
func (e *Engine) runExternals(ctx context.Context, calls []externCall) error {
	for i, c := range calls {
		if err := c.do(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				if calls[j].undo == nil {
					continue
				}
				if undoErr := calls[j].undo(ctx); undoErr != nil {
					e.log.Error().Err(undoErr).Msg("compensating transfer failed")
				}
			}
			return err
		}
	}
	return nil
}

func (e *Engine) reject(op, reason string) {
	if e.metrics != nil {
		e.metrics.OpsRejected.WithLabelValues(op, reason).Inc()
	}
}

// commit finalizes the operation: commits the txn, assigns sequences, emits
// the events and updates metrics.
func (e *Engine) commit(op string, start time.Time, txn *ledger.Txn, events ...event.Event) {
	txn.Commit()
	seq := e.emit(op, start, events...)
	e.log.Info().
		Str("op", op).
		Int64("sequence", seq).
		Msg("operation committed")
}

// DepositCollateral credits amount of asset to user's account and pulls the
// tokens into engine custody. The pull failing rolls everything back.
func (e *Engine) DepositCollateral(ctx context.Context, user uuid.UUID, asset string, amount *big.Int) error {
	const op = "deposit_collateral"
	start := time.Now()

	if err := validateAmount(op, amount); err != nil {
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

	txn := e.book.Begin()
	txn.AddCollateral(user, asset, amount)

	tok := e.collat[asset]
	err := e.runExternals(ctx, []externCall{{
		do: func(ctx context.Context) error {
			return tok.TransferFrom(ctx, e.custodian, user, e.custodian, amount)
		},
		undo: func(ctx context.Context) error {
			return tok.Transfer(ctx, e.custodian, user, amount)
		},
	}})
	if err != nil {
		txn.Rollback()
		e.reject(op, "transfer_failed")
		return fmt.Errorf("deposit collateral: %w", err)
	}

	e.commit(op, start, txn, &event.CollateralDeposited{User: user, Asset: asset, Amount: amount})
	return nil
}

// RedeemCollateral debits amount of asset from `from` and pushes the tokens
// to `to`. The account must stay healthy after the debit; the health check
// runs before any token moves.
func (e *Engine) RedeemCollateral(ctx context.Context, asset string, amount *big.Int, from, to uuid.UUID) error {
	const op = "redeem_collateral"
	start := time.Now()

	if err := validateAmount(op, amount); err != nil {
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

	txn := e.book.Begin()
	if err := e.redeemTxn(ctx, txn, asset, amount, from); err != nil {
		txn.Rollback()
		switch err.(type) {
		case *ledger.InsufficientCollateralError:
			e.reject(op, "insufficient_collateral")
		case *HealthFactorBrokenError:
			e.reject(op, "health_factor_broken")
		default:
			e.reject(op, "oracle")
		}
		return err
	}

	tok := e.collat[asset]
	err := e.runExternals(ctx, []externCall{{
		do: func(ctx context.Context) error {
			return tok.Transfer(ctx, e.custodian, to, amount)
		},
	}})
	if err != nil {
		txn.Rollback()
		e.reject(op, "transfer_failed")
		return fmt.Errorf("redeem collateral: %w", err)
	}

	e.commit(op, start, txn, &event.CollateralRedeemed{From: from, To: to, Asset: asset, Amount: amount})
	return nil
}

// redeemTxn debits collateral inside an open txn and verifies the account
// stays healthy. Liquidation reuses the debit with its own checks instead.
func (e *Engine) redeemTxn(ctx context.Context, txn *ledger.Txn, asset string, amount *big.Int, from uuid.UUID) error {
	if err := txn.SubCollateral(from, asset, amount); err != nil {
		return err
	}
	return e.requireHealthy(ctx, txn, from)
}

// MintDebt records amount of new debt against user and mints the synthetic
// tokens to them. The health check sees the increased debt and runs before
// the mint.
func (e *Engine) MintDebt(ctx context.Context, user uuid.UUID, amount *big.Int) error {
	const op = "mint_debt"
	start := time.Now()

	if err := validateAmount(op, amount); err != nil {
		e.reject(op, "zero_amount")
		return err
	}
	if err := e.enter(op); err != nil {
		e.reject(op, "reentrant")
		return err
	}
	defer e.exit()

	txn := e.book.Begin()
	txn.AddDebt(user, amount)

	if err := e.requireHealthy(ctx, txn, user); err != nil {
		txn.Rollback()
		e.reject(op, "health_factor_broken")
		return err
	}

	err := e.runExternals(ctx, []externCall{{
		do: func(ctx context.Context) error {
			return e.synth.Mint(ctx, e.custodian, user, amount)
		},
	}})
	if err != nil {
		txn.Rollback()
		e.reject(op, "mint_failed")
		return fmt.Errorf("mint debt: %w", err)
	}

	e.commit(op, start, txn, &event.DebtMinted{User: user, Amount: amount})
	return nil
}

// BurnDebt reduces onBehalfOf's recorded debt by amount, funded by synthetic
// tokens pulled from payer and destroyed. Burning only improves health, so no
// health re-check runs.
func (e *Engine) BurnDebt(ctx context.Context, amount *big.Int, onBehalfOf, payer uuid.UUID) error {
	const op = "burn_debt"
	start := time.Now()

	if err := validateAmount(op, amount); err != nil {
		e.reject(op, "zero_amount")
		return err
	}
	if err := e.enter(op); err != nil {
		e.reject(op, "reentrant")
		return err
	}
	defer e.exit()

	txn := e.book.Begin()
	if err := e.burnTxn(ctx, txn, amount, onBehalfOf, payer); err != nil {
		txn.Rollback()
		switch err.(type) {
		case *ledger.InsufficientDebtError:
			e.reject(op, "insufficient_debt")
		default:
			e.reject(op, "transfer_failed")
		}
		return err
	}

	e.commit(op, start, txn, &event.DebtBurned{Payer: payer, Debtor: onBehalfOf, Amount: amount})
	return nil
}

// burnTxn debits debt inside an open txn and performs the pull-and-burn of
// the synthetic tokens.
func (e *Engine) burnTxn(ctx context.Context, txn *ledger.Txn, amount *big.Int, onBehalfOf, payer uuid.UUID) error {
	if err := txn.SubDebt(onBehalfOf, amount); err != nil {
		return err
	}
	return e.runExternals(ctx, []externCall{
		{
			do: func(ctx context.Context) error {
				return e.synth.TransferFrom(ctx, e.custodian, payer, e.custodian, amount)
			},
			undo: func(ctx context.Context) error {
				return e.synth.Transfer(ctx, e.custodian, payer, amount)
			},
		},
		{
			do: func(ctx context.Context) error {
				return e.synth.Burn(ctx, e.custodian, amount)
			},
			undo: func(ctx context.Context) error {
				return e.synth.Mint(ctx, e.custodian, e.custodian, amount)
			},
		},
	})
}

// DepositCollateralAndMintDebt runs deposit and mint as one operation under a
// single guard and transaction.
func (e *Engine) DepositCollateralAndMintDebt(ctx context.Context, user uuid.UUID, asset string, amountCollateral, amountDebt *big.Int) error {
	const op = "deposit_and_mint"
	start := time.Now()

	if err := validateAmount(op, amountCollateral); err != nil {
		e.reject(op, "zero_amount")
		return err
	}
	if err := validateAmount(op, amountDebt); err != nil {
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

	txn := e.book.Begin()
	txn.AddCollateral(user, asset, amountCollateral)
	txn.AddDebt(user, amountDebt)

	if err := e.requireHealthy(ctx, txn, user); err != nil {
		txn.Rollback()
		e.reject(op, "health_factor_broken")
		return err
	}

	tok := e.collat[asset]
	err := e.runExternals(ctx, []externCall{
		{
			do: func(ctx context.Context) error {
				return tok.TransferFrom(ctx, e.custodian, user, e.custodian, amountCollateral)
			},
			undo: func(ctx context.Context) error {
				return tok.Transfer(ctx, e.custodian, user, amountCollateral)
			},
		},
		{
			do: func(ctx context.Context) error {
				return e.synth.Mint(ctx, e.custodian, user, amountDebt)
			},
		},
	})
	if err != nil {
		txn.Rollback()
		e.reject(op, "transfer_failed")
		return fmt.Errorf("deposit and mint: %w", err)
	}

	e.commit(op, start, txn,
		&event.CollateralDeposited{User: user, Asset: asset, Amount: amountCollateral},
		&event.DebtMinted{User: user, Amount: amountDebt})
	return nil
}

// RedeemCollateralForDebt burns debt and redeems collateral as one operation.
// The burn applies first so the redemption health check sees the reduced
// debt.
func (e *Engine) RedeemCollateralForDebt(ctx context.Context, user uuid.UUID, asset string, amountCollateral, amountDebt *big.Int) error {
	const op = "redeem_for_debt"
	start := time.Now()

	if err := validateAmount(op, amountCollateral); err != nil {
		e.reject(op, "zero_amount")
		return err
	}
	if err := validateAmount(op, amountDebt); err != nil {
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

	// The debt debit applies first so the health check sees the reduced
	// debt.
	txn := e.book.Begin()
	if err := txn.SubDebt(user, amountDebt); err != nil {
		txn.Rollback()
		e.reject(op, "insufficient_debt")
		return err
	}
	if err := e.redeemTxn(ctx, txn, asset, amountCollateral, user); err != nil {
		txn.Rollback()
		switch err.(type) {
		case *ledger.InsufficientCollateralError:
			e.reject(op, "insufficient_collateral")
		case *HealthFactorBrokenError:
			e.reject(op, "health_factor_broken")
		default:
			e.reject(op, "oracle")
		}
		return err
	}

	tok := e.collat[asset]
	err := e.runExternals(ctx, []externCall{
		{
			do: func(ctx context.Context) error {
				return e.synth.TransferFrom(ctx, e.custodian, user, e.custodian, amountDebt)
			},
			undo: func(ctx context.Context) error {
				return e.synth.Transfer(ctx, e.custodian, user, amountDebt)
			},
		},
		{
			do: func(ctx context.Context) error {
				return e.synth.Burn(ctx, e.custodian, amountDebt)
			},
			undo: func(ctx context.Context) error {
				return e.synth.Mint(ctx, e.custodian, e.custodian, amountDebt)
			},
		},
		{
			do: func(ctx context.Context) error {
				return tok.Transfer(ctx, e.custodian, user, amountCollateral)
			},
		},
	})
	if err != nil {
		txn.Rollback()
		e.reject(op, "transfer_failed")
		return fmt.Errorf("redeem for debt: %w", err)
	}

	e.commit(op, start, txn,
		&event.DebtBurned{Payer: user, Debtor: user, Amount: amountDebt},
		&event.CollateralRedeemed{From: user, To: user, Asset: asset, Amount: amountCollateral})
	return nil
}

// gaugeValue converts a big.Int for a Prometheus gauge. Going through
// big.Float keeps values beyond the int64 range finite instead of wrapping.
func gaugeValue(v *big.Int) float64 {
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}

// emit publishes events to the persistence and publish pipelines, each with
// its own sequence, and returns the last sequence assigned.
func (e *Engine) emit(op string, start time.Time, events ...event.Event) int64 {
	var seq int64
	for _, evt := range events {
		seq = atomic.AddInt64(&e.sequence, 1)
		payload, err := json.Marshal(evt)
		if err != nil {
			e.log.Error().Err(err).Str("op", op).Msg("event payload marshal failed")
			payload = []byte("{}")
		}
		env := &event.Envelope{
			Sequence:  seq,
			Type:      evt.EventType(),
			Asset:     evt.AssetContext(),
			Timestamp: time.Now().UTC(),
			Payload:   payload,
		}
		if e.persistChan != nil {
			e.persistChan <- Output{Envelope: env}
		}
		if e.publishChan != nil {
			select {
			case e.publishChan <- Output{Envelope: env}:
			default:
				if e.metrics != nil {
					e.metrics.PublishDrops.Inc()
				}
			}
		}
	}
	if e.metrics != nil {
		e.metrics.OpsApplied.WithLabelValues(op).Inc()
		e.metrics.OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		e.metrics.EngineSequence.Set(float64(seq))
		whole := new(big.Int).Div(e.book.TotalDebt(), fpmath.Wad)
		e.metrics.TotalDebt.Set(gaugeValue(whole))
	}
	return seq
}
