package engine

import (
	"encoding/json"
	"fmt"
	"sync/atomic"

	"SynthLedger/internal/event"
	"SynthLedger/internal/ledger"
)

// Replay applies one persisted envelope to the book during recovery. Events
// must arrive in sequence order; no external transfers run and nothing is
// re-emitted. Not safe to call once the engine is serving operations.
func (e *Engine) Replay(env *event.Envelope) error {
	if seq := atomic.LoadInt64(&e.sequence); env.Sequence <= seq {
		return fmt.Errorf("replay out of order: sequence %d after %d", env.Sequence, seq)
	}

	txn := e.book.Begin()
	if err := e.applyReplay(txn, env); err != nil {
		txn.Rollback()
		return fmt.Errorf("replay sequence %d: %w", env.Sequence, err)
	}
	txn.Commit()

	atomic.StoreInt64(&e.sequence, env.Sequence)
	return nil
}

func (e *Engine) applyReplay(txn *ledger.Txn, env *event.Envelope) error {
	switch env.Type {
	case event.TypeCollateralDeposited:
		var evt event.CollateralDeposited
		if err := json.Unmarshal(env.Payload, &evt); err != nil {
			return err
		}
		txn.AddCollateral(evt.User, evt.Asset, evt.Amount)

	case event.TypeCollateralRedeemed:
		var evt event.CollateralRedeemed
		if err := json.Unmarshal(env.Payload, &evt); err != nil {
			return err
		}
		if err := txn.SubCollateral(evt.From, evt.Asset, evt.Amount); err != nil {
			return err
		}

	case event.TypeDebtMinted:
		var evt event.DebtMinted
		if err := json.Unmarshal(env.Payload, &evt); err != nil {
			return err
		}
		txn.AddDebt(evt.User, evt.Amount)

	case event.TypeDebtBurned:
		var evt event.DebtBurned
		if err := json.Unmarshal(env.Payload, &evt); err != nil {
			return err
		}
		if err := txn.SubDebt(evt.Debtor, evt.Amount); err != nil {
			return err
		}

	case event.TypeLiquidationExecuted:
		var evt event.LiquidationExecuted
		if err := json.Unmarshal(env.Payload, &evt); err != nil {
			return err
		}
		if err := txn.SubCollateral(evt.Target, evt.Asset, evt.CollateralSeized); err != nil {
			return err
		}
		if err := txn.SubDebt(evt.Target, evt.DebtCovered); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unknown event type %d", env.Type)
	}
	return nil
}
