package persistence

import (
	"SynthLedger/internal/event"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
)

func envelopeFor(t *testing.T, typ event.Type, asset string, payload any) *event.Envelope {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &event.Envelope{
		Sequence:  1,
		Type:      typ,
		Asset:     asset,
		Timestamp: time.Now().UTC(),
		Payload:   raw,
	}
}

func TestDeltasForDeposit(t *testing.T) {
	user := uuid.New()
	env := envelopeFor(t, event.TypeCollateralDeposited, "WETH", event.CollateralDeposited{
		User: user, Asset: "WETH", Amount: big.NewInt(500),
	})

	deltas, err := deltasFor(env)
	if err != nil {
		t.Fatalf("deltasFor: %v", err)
	}
	if len(deltas.collateral) != 1 || len(deltas.debt) != 0 {
		t.Fatalf("expected 1 collateral delta, got %d collateral %d debt", len(deltas.collateral), len(deltas.debt))
	}
	d := deltas.collateral[0]
	if d.User != user.String() || d.Asset != "WETH" || d.Delta != "500" {
		t.Errorf("unexpected delta %+v", d)
	}
}

func TestDeltasForRedeemIsNegative(t *testing.T) {
	from := uuid.New()
	env := envelopeFor(t, event.TypeCollateralRedeemed, "WBTC", event.CollateralRedeemed{
		From: from, To: uuid.New(), Asset: "WBTC", Amount: big.NewInt(70),
	})

	deltas, err := deltasFor(env)
	if err != nil {
		t.Fatalf("deltasFor: %v", err)
	}
	if deltas.collateral[0].Delta != "-70" {
		t.Errorf("expected -70, got %s", deltas.collateral[0].Delta)
	}
	if deltas.collateral[0].User != from.String() {
		t.Errorf("redeem delta should apply to the redeeming account")
	}
}

func TestDeltasForBurnHitsDebtor(t *testing.T) {
	payer := uuid.New()
	debtor := uuid.New()
	env := envelopeFor(t, event.TypeDebtBurned, "", event.DebtBurned{
		Payer: payer, Debtor: debtor, Amount: big.NewInt(1000),
	})

	deltas, err := deltasFor(env)
	if err != nil {
		t.Fatalf("deltasFor: %v", err)
	}
	if len(deltas.debt) != 1 {
		t.Fatalf("expected 1 debt delta, got %d", len(deltas.debt))
	}
	if deltas.debt[0].User != debtor.String() || deltas.debt[0].Delta != "-1000" {
		t.Errorf("unexpected debt delta %+v", deltas.debt[0])
	}
}

func TestDeltasForLiquidation(t *testing.T) {
	target := uuid.New()
	env := envelopeFor(t, event.TypeLiquidationExecuted, "WETH", event.LiquidationExecuted{
		Liquidator:       uuid.New(),
		Target:           target,
		Asset:            "WETH",
		DebtCovered:      big.NewInt(160),
		CollateralSeized: big.NewInt(11),
		HealthBefore:     big.NewInt(1),
		HealthAfter:      big.NewInt(2),
	})

	deltas, err := deltasFor(env)
	if err != nil {
		t.Fatalf("deltasFor: %v", err)
	}
	if len(deltas.collateral) != 1 || len(deltas.debt) != 1 {
		t.Fatalf("expected 1 collateral and 1 debt delta, got %d and %d", len(deltas.collateral), len(deltas.debt))
	}
	if deltas.collateral[0].Delta != "-11" || deltas.collateral[0].User != target.String() {
		t.Errorf("unexpected seize delta %+v", deltas.collateral[0])
	}
	if deltas.debt[0].Delta != "-160" {
		t.Errorf("unexpected debt delta %+v", deltas.debt[0])
	}
}

func TestDeltasForUnknownType(t *testing.T) {
	env := &event.Envelope{Sequence: 9, Type: event.Type(99), Payload: []byte(`{}`)}
	if _, err := deltasFor(env); err == nil {
		t.Fatal("expected error for unknown event type")
	}
}
