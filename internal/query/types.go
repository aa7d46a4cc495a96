package query

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Big integers are rendered as decimal strings so JSON clients never lose
// precision.

// AccountHealthResponse describes one account's risk position.
type AccountHealthResponse struct {
	UserID             uuid.UUID `json:"user_id"`
	HealthFactor       string    `json:"health_factor"`
	DebtWad            string    `json:"debt_wad"`
	CollateralValueUSD string    `json:"collateral_value_usd_wad"`
	Liquidatable       bool      `json:"liquidatable"`
	AsOfSequence       int64     `json:"as_of_sequence"`
}

// CollateralBalanceResponse is one collateral balance.
type CollateralBalanceResponse struct {
	UserID       uuid.UUID `json:"user_id"`
	Asset        string    `json:"asset"`
	Amount       string    `json:"amount"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// AccountCollateralResponse lists every collateral balance an account holds.
type AccountCollateralResponse struct {
	UserID       uuid.UUID         `json:"user_id"`
	Balances     map[string]string `json:"balances"`
	AsOfSequence int64             `json:"as_of_sequence"`
}

// TokenAmountResponse converts a USD amount into asset units.
type TokenAmountResponse struct {
	Asset       string `json:"asset"`
	USDWad      string `json:"usd_wad"`
	TokenAmount string `json:"token_amount"`
}

// AssetsResponse lists the registered collateral assets.
type AssetsResponse struct {
	Assets []string `json:"assets"`
}

// OperationRecord is one row from the persisted operation log.
type OperationRecord struct {
	Sequence  int64           `json:"sequence"`
	EventType string          `json:"event_type"`
	Asset     string          `json:"asset,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}
