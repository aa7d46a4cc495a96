package event

import (
	"math/big"

	"github.com/google/uuid"
)

// CollateralDeposited records a completed deposit.
type CollateralDeposited struct {
	User   uuid.UUID `json:"user"`
	Asset  string    `json:"asset"`
	Amount *big.Int  `json:"amount"`
}

func (e *CollateralDeposited) EventType() Type      { return TypeCollateralDeposited }
func (e *CollateralDeposited) AssetContext() string { return e.Asset }

// CollateralRedeemed records a completed redemption. From and To differ when
// a liquidation seizes collateral on a position holder's behalf.
type CollateralRedeemed struct {
	From   uuid.UUID `json:"from"`
	To     uuid.UUID `json:"to"`
	Asset  string    `json:"asset"`
	Amount *big.Int  `json:"amount"`
}

func (e *CollateralRedeemed) EventType() Type      { return TypeCollateralRedeemed }
func (e *CollateralRedeemed) AssetContext() string { return e.Asset }

// DebtMinted records new synthetic debt issued to a user.
type DebtMinted struct {
	User   uuid.UUID `json:"user"`
	Amount *big.Int  `json:"amount"`
}

func (e *DebtMinted) EventType() Type      { return TypeDebtMinted }
func (e *DebtMinted) AssetContext() string { return "" }

// DebtBurned records debt repaid and destroyed. Payer and Debtor differ when
// a liquidator covers someone else's debt.
type DebtBurned struct {
	Payer  uuid.UUID `json:"payer"`
	Debtor uuid.UUID `json:"debtor"`
	Amount *big.Int  `json:"amount"`
}

func (e *DebtBurned) EventType() Type      { return TypeDebtBurned }
func (e *DebtBurned) AssetContext() string { return "" }

// LiquidationExecuted records a completed liquidation.
type LiquidationExecuted struct {
	Liquidator       uuid.UUID `json:"liquidator"`
	Target           uuid.UUID `json:"target"`
	Asset            string    `json:"asset"`
	DebtCovered      *big.Int  `json:"debt_covered"`
	CollateralSeized *big.Int  `json:"collateral_seized"`
	HealthBefore     *big.Int  `json:"health_before"`
	HealthAfter      *big.Int  `json:"health_after"`
}

func (e *LiquidationExecuted) EventType() Type      { return TypeLiquidationExecuted }
func (e *LiquidationExecuted) AssetContext() string { return e.Asset }
