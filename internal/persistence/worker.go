package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/rs/zerolog"

	"SynthLedger/internal/engine"
	"SynthLedger/internal/event"
	"SynthLedger/internal/observability"
)

// Worker drains the engine's persist channel and batch-writes the operation
// log and balance projections to Postgres. The engine blocks when the channel
// is full, so no committed operation is ever lost.
type Worker struct {
	writer       *Writer
	input        <-chan engine.Output
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	log          zerolog.Logger
}

func NewWorker(
	db *sql.DB,
	input <-chan engine.Output,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Worker {
	return &Worker{
		writer:       NewWriter(db),
		input:        input,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		log:          logger,
	}
}

type batch struct {
	ops        []OperationRow
	collateral []BalanceDelta
	debt       []BalanceDelta
}

func (b *batch) reset() {
	b.ops = b.ops[:0]
	b.collateral = b.collateral[:0]
	b.debt = b.debt[:0]
}

// Run batches incoming outputs and flushes when the batch fills or the flush
// timeout expires. Blocks until ctx is cancelled or the channel closes.
func (w *Worker) Run(ctx context.Context) error {
	var b batch
	b.ops = make([]OperationRow, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(b.ops) > 0 {
				if err := w.flush(context.Background(), &b); err != nil {
					w.log.Error().Err(err).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case out, ok := <-w.input:
			if !ok {
				if len(b.ops) > 0 {
					if err := w.flush(context.Background(), &b); err != nil {
						w.log.Error().Err(err).Msg("final flush failed")
					}
				}
				return nil
			}

			w.append(&b, out.Envelope)
			if len(b.ops) >= w.batchSize {
				if err := w.flushWithRetry(ctx, &b); err != nil {
					w.log.Error().Err(err).Msg("batch flush failed after retries")
				}
				b.reset()
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(b.ops) > 0 {
				if err := w.flushWithRetry(ctx, &b); err != nil {
					w.log.Error().Err(err).Msg("timeout flush failed after retries")
				}
				b.reset()
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// append converts an envelope into its operation row and projection deltas.
func (w *Worker) append(b *batch, env *event.Envelope) {
	b.ops = append(b.ops, OperationRow{
		Sequence:  env.Sequence,
		EventType: env.Type.String(),
		Asset:     env.Asset,
		Payload:   env.Payload,
		Timestamp: env.Timestamp,
	})

	deltas, err := deltasFor(env)
	if err != nil {
		w.log.Error().Err(err).Int64("sequence", env.Sequence).Msg("projection delta decode failed")
		return
	}
	b.collateral = append(b.collateral, deltas.collateral...)
	b.debt = append(b.debt, deltas.debt...)
}

type eventDeltas struct {
	collateral []BalanceDelta
	debt       []BalanceDelta
}

func neg(v *big.Int) string {
	return new(big.Int).Neg(v).String()
}

// deltasFor derives the signed projection updates one event implies.
func deltasFor(env *event.Envelope) (eventDeltas, error) {
	var out eventDeltas
	switch env.Type {
	case event.TypeCollateralDeposited:
		var e event.CollateralDeposited
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return out, err
		}
		out.collateral = append(out.collateral, BalanceDelta{
			User: e.User.String(), Asset: e.Asset, Delta: e.Amount.String(),
		})

	case event.TypeCollateralRedeemed:
		var e event.CollateralRedeemed
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return out, err
		}
		out.collateral = append(out.collateral, BalanceDelta{
			User: e.From.String(), Asset: e.Asset, Delta: neg(e.Amount),
		})

	case event.TypeDebtMinted:
		var e event.DebtMinted
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return out, err
		}
		out.debt = append(out.debt, BalanceDelta{
			User: e.User.String(), Delta: e.Amount.String(),
		})

	case event.TypeDebtBurned:
		var e event.DebtBurned
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return out, err
		}
		out.debt = append(out.debt, BalanceDelta{
			User: e.Debtor.String(), Delta: neg(e.Amount),
		})

	case event.TypeLiquidationExecuted:
		var e event.LiquidationExecuted
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return out, err
		}
		out.collateral = append(out.collateral, BalanceDelta{
			User: e.Target.String(), Asset: e.Asset, Delta: neg(e.CollateralSeized),
		})
		out.debt = append(out.debt, BalanceDelta{
			User: e.Target.String(), Delta: neg(e.DebtCovered),
		})

	default:
		return out, fmt.Errorf("unknown event type %d", env.Type)
	}
	return out, nil
}

// flushWithRetry retries with exponential backoff. The worker never drops a
// batch: it retries until the write succeeds or ctx is cancelled, and on
// cancellation makes one final attempt with a background context.
func (w *Worker) flushWithRetry(ctx context.Context, b *batch) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.log.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("ops", len(b.ops)).
				Msg("persistence retry")
			select {
			case <-ctx.Done():
				if err := w.flush(context.Background(), b); err != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := w.flush(ctx, b)
		if err == nil {
			if attempt > 0 {
				w.log.Info().Int("attempts", attempt).Msg("persistence flush recovered")
			}
			return nil
		}

		if w.metrics != nil {
			w.metrics.PersistRetry.Inc()
		}
	}
}

// flush writes the batch in one transaction: operation log plus both
// projections.
func (w *Worker) flush(ctx context.Context, b *batch) error {
	start := time.Now()

	tx, err := w.writer.db.BeginTx(ctx, nil)
	if err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_begin").Inc()
		}
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteOperationBatch(ctx, tx, b.ops); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write_operations").Inc()
		}
		return err
	}
	if err := w.writer.ApplyCollateralDeltas(ctx, tx, b.collateral); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("project_collateral").Inc()
		}
		return err
	}
	if err := w.writer.ApplyDebtDeltas(ctx, tx, b.debt); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("project_debt").Inc()
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_commit").Inc()
		}
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistBatchSize.Observe(float64(len(b.ops)))
		w.metrics.PersistOpsWritten.Add(float64(len(b.ops)))
		if len(b.ops) > 0 {
			w.metrics.PersistLastSequence.Set(float64(b.ops[len(b.ops)-1].Sequence))
		}
	}
	return nil
}
