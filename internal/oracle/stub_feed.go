package oracle

import (
	"context"
	"math/big"
	"sync"
	"time"
)

// StubFeed is an in-process price feed for tests and local runs. Answers are
// set directly and every write advances the round id and refreshes UpdatedAt.
type StubFeed struct {
	mu       sync.Mutex
	decimals uint8
	round    RoundData
	err      error
	now      func() time.Time
}

// NewStubFeed returns a feed publishing answer at the given decimal precision.
func NewStubFeed(decimals uint8, answer *big.Int) *StubFeed {
	f := &StubFeed{decimals: decimals, now: time.Now}
	f.SetAnswer(answer)
	return f
}

// SetAnswer publishes a fresh round with the given answer.
func (f *StubFeed) SetAnswer(answer *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ts := f.now().Unix()
	next := big.NewInt(1)
	if f.round.RoundID != nil {
		next = new(big.Int).Add(f.round.RoundID, big.NewInt(1))
	}
	f.round = RoundData{
		RoundID:         next,
		Answer:          new(big.Int).Set(answer),
		StartedAt:       ts,
		UpdatedAt:       ts,
		AnsweredInRound: next,
	}
}

// SetUpdatedAt backdates the current round. Tests use this to trigger the
// staleness check.
func (f *StubFeed) SetUpdatedAt(ts int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.round.UpdatedAt = ts
}

// Fail makes subsequent reads return err until cleared with Fail(nil).
func (f *StubFeed) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *StubFeed) LatestRoundData(ctx context.Context) (RoundData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return RoundData{}, f.err
	}
	r := f.round
	r.Answer = new(big.Int).Set(f.round.Answer)
	return r, nil
}

func (f *StubFeed) Decimals(ctx context.Context) (uint8, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	return f.decimals, nil
}
