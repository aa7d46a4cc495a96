package oracle

import (
	"context"
	"fmt"
	"math/big"
	"time"

	fpmath "SynthLedger/internal/math"
)

// StalenessWindow is the maximum age of a feed round before its price is
// rejected as unusable.
const StalenessWindow = 3 * time.Hour

// StalePriceError reports a quote older than the staleness window.
type StalePriceError struct {
	Asset  string
	Age    time.Duration
	Window time.Duration
}

func (e *StalePriceError) Error() string {
	return fmt.Sprintf("oracle: stale price for %s: age %s exceeds window %s", e.Asset, e.Age, e.Window)
}

// InvalidAnswerError reports a non-positive feed answer.
type InvalidAnswerError struct {
	Asset  string
	Answer *big.Int
}

func (e *InvalidAnswerError) Error() string {
	return fmt.Sprintf("oracle: invalid answer for %s: %s", e.Asset, e.Answer)
}

// Adapter wraps a price feed and normalizes its answers to the wad scale.
// It holds no cache: every Quote call re-reads the feed, so a price can never
// outlive the staleness window inside the engine.
type Adapter struct {
	asset  string
	feed   PriceFeed
	window time.Duration
	now    func() time.Time
}

// NewAdapter wraps feed for the given asset with the default staleness window.
func NewAdapter(asset string, feed PriceFeed) *Adapter {
	return &Adapter{
		asset:  asset,
		feed:   feed,
		window: StalenessWindow,
		now:    time.Now,
	}
}

// WithClock overrides the wall clock used for staleness checks. Tests only.
func (a *Adapter) WithClock(now func() time.Time) *Adapter {
	a.now = now
	return a
}

// Asset returns the asset identifier this adapter quotes.
func (a *Adapter) Asset() string {
	return a.asset
}

// Quote reads the latest round and returns the price in USD per whole unit at
// 1e18 scale. It fails with StalePriceError when the round is older than the
// staleness window and with InvalidAnswerError on non-positive answers;
// callers must never fall back to a rejected quote.
func (a *Adapter) Quote(ctx context.Context) (*big.Int, error) {
	round, err := a.feed.LatestRoundData(ctx)
	if err != nil {
		return nil, fmt.Errorf("oracle: latest round for %s: %w", a.asset, err)
	}

	if !fpmath.IsPositive(round.Answer) {
		return nil, &InvalidAnswerError{Asset: a.asset, Answer: round.Answer}
	}

	age := a.now().Sub(time.Unix(round.UpdatedAt, 0))
	if age > a.window {
		return nil, &StalePriceError{Asset: a.asset, Age: age, Window: a.window}
	}

	decimals, err := a.feed.Decimals(ctx)
	if err != nil {
		return nil, fmt.Errorf("oracle: decimals for %s: %w", a.asset, err)
	}

	return fpmath.ScaleToWad(round.Answer, decimals), nil
}
