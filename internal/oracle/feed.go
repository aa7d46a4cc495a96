package oracle

import (
	"context"
	"math/big"
)

// RoundData is one published round from an external price feed, mirroring the
// Chainlink aggregator surface.
type RoundData struct {
	RoundID         *big.Int
	Answer          *big.Int // price in the feed's native decimal precision
	StartedAt       int64    // epoch seconds
	UpdatedAt       int64    // epoch seconds
	AnsweredInRound *big.Int
}

// PriceFeed is the external price source collaborator. Implementations may be
// remote, so both calls take a context.
type PriceFeed interface {
	LatestRoundData(ctx context.Context) (RoundData, error)
	Decimals(ctx context.Context) (uint8, error)
}
