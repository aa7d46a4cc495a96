package registry

import (
	"errors"
	"math/big"
	"testing"

	"SynthLedger/internal/oracle"
)

func twoFeeds() []oracle.PriceFeed {
	return []oracle.PriceFeed{
		oracle.NewStubFeed(8, big.NewInt(2000e8)),
		oracle.NewStubFeed(8, big.NewInt(30000e8)),
	}
}

func TestNewRejectsMismatchedLists(t *testing.T) {
	_, err := New([]string{"WETH", "WBTC"}, twoFeeds()[:1])
	var mismatch *ConfigurationMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected ConfigurationMismatchError, got %v", err)
	}
	if mismatch.Assets != 2 || mismatch.Feeds != 1 {
		t.Fatalf("got %d/%d", mismatch.Assets, mismatch.Feeds)
	}
}

func TestLookupAndMembership(t *testing.T) {
	r, err := New([]string{"WETH", "WBTC"}, twoFeeds())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if !r.IsSupported("WETH") || !r.IsSupported("WBTC") {
		t.Fatal("registered assets should be supported")
	}
	if r.IsSupported("DOGE") {
		t.Fatal("unregistered asset should not be supported")
	}

	a, err := r.AdapterOf("WETH")
	if err != nil {
		t.Fatalf("AdapterOf: %v", err)
	}
	if a.Asset() != "WETH" {
		t.Fatalf("adapter asset = %q", a.Asset())
	}

	_, err = r.AdapterOf("DOGE")
	var unsupported *UnsupportedAssetError
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected UnsupportedAssetError, got %v", err)
	}
}

func TestDuplicateAssetKeepsLastFeed(t *testing.T) {
	low := oracle.NewStubFeed(8, big.NewInt(1000e8))
	high := oracle.NewStubFeed(8, big.NewInt(2000e8))
	r, err := New([]string{"WETH", "WETH"}, []oracle.PriceFeed{low, high})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if got := r.Assets(); len(got) != 1 || got[0] != "WETH" {
		t.Fatalf("Assets = %v", got)
	}
	a, err := r.AdapterOf("WETH")
	if err != nil {
		t.Fatalf("AdapterOf: %v", err)
	}
	price, err := a.Quote(t.Context())
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	want := new(big.Int).Mul(big.NewInt(2000), big.NewInt(1e18))
	if price.Cmp(want) != 0 {
		t.Fatalf("price = %s, want %s", price, want)
	}
}

func TestAssetOrder(t *testing.T) {
	r, err := New([]string{"WETH", "WBTC"}, twoFeeds())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got := r.Assets()
	if len(got) != 2 || got[0] != "WETH" || got[1] != "WBTC" {
		t.Fatalf("Assets = %v", got)
	}
	sorted := r.SortedAssets()
	if sorted[0] != "WBTC" || sorted[1] != "WETH" {
		t.Fatalf("SortedAssets = %v", sorted)
	}
}
