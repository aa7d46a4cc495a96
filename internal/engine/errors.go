package engine

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// ZeroAmountError rejects operations invoked with a zero or negative amount.
type ZeroAmountError struct {
	Op string
}

func (e *ZeroAmountError) Error() string {
	return fmt.Sprintf("engine: %s requires a positive amount", e.Op)
}

// ReentrantCallError rejects an operation entered while another is running.
type ReentrantCallError struct {
	Op string
}

func (e *ReentrantCallError) Error() string {
	return fmt.Sprintf("engine: reentrant call into %s", e.Op)
}

// HealthFactorBrokenError rejects an operation that would leave the account
// under-collateralized.
type HealthFactorBrokenError struct {
	User         uuid.UUID
	HealthFactor *big.Int
}

func (e *HealthFactorBrokenError) Error() string {
	return fmt.Sprintf("engine: health factor of %s would break: %s < %s",
		e.User, e.HealthFactor, MinHealthFactor)
}

// LiquidationNotEligibleError rejects a liquidation attempt against a healthy
// account.
type LiquidationNotEligibleError struct {
	User         uuid.UUID
	HealthFactor *big.Int
}

func (e *LiquidationNotEligibleError) Error() string {
	return fmt.Sprintf("engine: account %s is not liquidatable: health factor %s",
		e.User, e.HealthFactor)
}

// LiquidationNotImprovedError rejects a liquidation that failed to raise the
// target's health factor.
type LiquidationNotImprovedError struct {
	User   uuid.UUID
	Before *big.Int
	After  *big.Int
}

func (e *LiquidationNotImprovedError) Error() string {
	return fmt.Sprintf("engine: liquidation of %s did not improve health factor: %s -> %s",
		e.User, e.Before, e.After)
}

// LiquidatorInsolventError rejects a liquidation that would leave the
// liquidator's own account under-collateralized.
type LiquidatorInsolventError struct {
	Liquidator   uuid.UUID
	HealthFactor *big.Int
}

func (e *LiquidatorInsolventError) Error() string {
	return fmt.Sprintf("engine: liquidator %s would end under-collateralized: health factor %s",
		e.Liquidator, e.HealthFactor)
}

// ConfigurationError rejects an engine constructed with inconsistent wiring.
type ConfigurationError struct {
	Detail string
}

func (e *ConfigurationError) Error() string {
	return "engine: invalid configuration: " + e.Detail
}
