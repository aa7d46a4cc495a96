// Package event defines the outbound event log: every completed engine
// operation emits one typed event, wrapped in an envelope carrying sequence
// and timing.
package event

import (
	"encoding/json"
	"time"
)

// Type discriminates event payloads.
type Type int32

const (
	TypeUnknown Type = iota
	TypeCollateralDeposited
	TypeCollateralRedeemed
	TypeDebtMinted
	TypeDebtBurned
	TypeLiquidationExecuted
)

func (t Type) String() string {
	switch t {
	case TypeCollateralDeposited:
		return "CollateralDeposited"
	case TypeCollateralRedeemed:
		return "CollateralRedeemed"
	case TypeDebtMinted:
		return "DebtMinted"
	case TypeDebtBurned:
		return "DebtBurned"
	case TypeLiquidationExecuted:
		return "LiquidationExecuted"
	default:
		return "Unknown"
	}
}

// TypeFromString reverses String(), for reading the persisted operation log.
func TypeFromString(s string) Type {
	switch s {
	case "CollateralDeposited":
		return TypeCollateralDeposited
	case "CollateralRedeemed":
		return TypeCollateralRedeemed
	case "DebtMinted":
		return TypeDebtMinted
	case "DebtBurned":
		return TypeDebtBurned
	case "LiquidationExecuted":
		return TypeLiquidationExecuted
	default:
		return TypeUnknown
	}
}

// Subject returns the NATS subject suffix for the event type, e.g.
// "collateral.deposited".
func (t Type) Subject() string {
	switch t {
	case TypeCollateralDeposited:
		return "collateral.deposited"
	case TypeCollateralRedeemed:
		return "collateral.redeemed"
	case TypeDebtMinted:
		return "debt.minted"
	case TypeDebtBurned:
		return "debt.burned"
	case TypeLiquidationExecuted:
		return "liquidation.executed"
	default:
		return "unknown"
	}
}

// Envelope wraps every published event.
type Envelope struct {
	// Monotonic sequence assigned by the engine.
	Sequence int64 `json:"sequence"`

	// Event type discriminator.
	Type Type `json:"type"`

	// Collateral asset context, empty for debt-only events.
	Asset string `json:"asset,omitempty"`

	// Wall-clock time the operation completed.
	Timestamp time.Time `json:"timestamp"`

	// JSON-encoded typed payload, inlined on the wire.
	Payload json.RawMessage `json:"payload"`
}

// Event is implemented by all typed payloads.
type Event interface {
	EventType() Type
	// AssetContext returns the collateral asset the event concerns, or ""
	// for events without one.
	AssetContext() string
}
