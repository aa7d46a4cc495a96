package oracle

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"
)

func TestQuoteScalesChainlinkDecimals(t *testing.T) {
	// $2000 at 8 decimals.
	feed := NewStubFeed(8, big.NewInt(2000e8))
	a := NewAdapter("WETH", feed)

	got, err := a.Quote(context.Background())
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	want := new(big.Int).Mul(big.NewInt(2000), big.NewInt(1e18))
	if got.Cmp(want) != 0 {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestQuoteRejectsStaleRound(t *testing.T) {
	feed := NewStubFeed(8, big.NewInt(2000e8))
	feed.SetUpdatedAt(time.Now().Add(-4 * time.Hour).Unix())
	a := NewAdapter("WETH", feed)

	_, err := a.Quote(context.Background())
	var stale *StalePriceError
	if !errors.As(err, &stale) {
		t.Fatalf("expected StalePriceError, got %v", err)
	}
	if stale.Asset != "WETH" {
		t.Fatalf("asset = %q", stale.Asset)
	}
	if stale.Age <= stale.Window {
		t.Fatalf("age %s should exceed window %s", stale.Age, stale.Window)
	}
}

func TestQuoteAcceptsRoundInsideWindow(t *testing.T) {
	feed := NewStubFeed(8, big.NewInt(2000e8))
	feed.SetUpdatedAt(time.Now().Add(-2 * time.Hour).Unix())
	a := NewAdapter("WETH", feed)

	if _, err := a.Quote(context.Background()); err != nil {
		t.Fatalf("Quote: %v", err)
	}
}

func TestQuoteRejectsNonPositiveAnswer(t *testing.T) {
	for _, answer := range []int64{0, -5} {
		feed := NewStubFeed(8, big.NewInt(answer))
		a := NewAdapter("WBTC", feed)
		_, err := a.Quote(context.Background())
		var invalid *InvalidAnswerError
		if !errors.As(err, &invalid) {
			t.Fatalf("answer %d: expected InvalidAnswerError, got %v", answer, err)
		}
	}
}

func TestQuotePropagatesFeedFailure(t *testing.T) {
	feed := NewStubFeed(8, big.NewInt(2000e8))
	boom := errors.New("feed down")
	feed.Fail(boom)
	a := NewAdapter("WETH", feed)

	if _, err := a.Quote(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped feed error, got %v", err)
	}
}

func TestQuoteWithInjectedClock(t *testing.T) {
	feed := NewStubFeed(18, big.NewInt(1e18))
	a := NewAdapter("DAI", feed).WithClock(func() time.Time {
		return time.Now().Add(3*time.Hour + time.Minute)
	})

	var stale *StalePriceError
	if _, err := a.Quote(context.Background()); !errors.As(err, &stale) {
		t.Fatalf("expected StalePriceError under advanced clock, got %v", err)
	}
}
