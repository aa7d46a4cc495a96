package math_test

import (
	"math/big"
	"testing"

	fpmath "SynthLedger/internal/math"
)

func wad(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), fpmath.Wad)
}

func TestWadMul(t *testing.T) {
	// 2.0 * 3.0 = 6.0
	got := fpmath.WadMul(wad(2), wad(3))
	if got.Cmp(wad(6)) != 0 {
		t.Errorf("got %s, want %s", got, wad(6))
	}
}

func TestWadMul_Truncates(t *testing.T) {
	// 1 wei * 1 wei / 1e18 truncates to zero
	got := fpmath.WadMul(big.NewInt(1), big.NewInt(1))
	if got.Sign() != 0 {
		t.Errorf("got %s, want 0", got)
	}
}

func TestWadDiv(t *testing.T) {
	// 6.0 / 3.0 = 2.0
	got := fpmath.WadDiv(wad(6), wad(3))
	if got.Cmp(wad(2)) != 0 {
		t.Errorf("got %s, want %s", got, wad(2))
	}
}

func TestPct(t *testing.T) {
	// 10% of 200 = 20
	got := fpmath.Pct(big.NewInt(200), 10, 100)
	if got.Cmp(big.NewInt(20)) != 0 {
		t.Errorf("got %s, want 20", got)
	}

	// 50% of 1 truncates to 0
	got = fpmath.Pct(big.NewInt(1), 50, 100)
	if got.Sign() != 0 {
		t.Errorf("got %s, want 0", got)
	}
}

func TestScaleToWad_EightDecimals(t *testing.T) {
	// Chainlink-style 8-decimal answer: $2000.00000000
	answer := big.NewInt(2000_00000000)
	got := fpmath.ScaleToWad(answer, 8)
	if got.Cmp(wad(2000)) != 0 {
		t.Errorf("got %s, want %s", got, wad(2000))
	}
}

func TestScaleToWad_EighteenDecimals(t *testing.T) {
	answer := wad(1500)
	got := fpmath.ScaleToWad(answer, 18)
	if got.Cmp(answer) != 0 {
		t.Errorf("got %s, want %s", got, answer)
	}
}

func TestScaleToWad_ZeroDecimals(t *testing.T) {
	got := fpmath.ScaleToWad(big.NewInt(7), 0)
	if got.Cmp(wad(7)) != 0 {
		t.Errorf("got %s, want %s", got, wad(7))
	}
}

func TestClone_Independent(t *testing.T) {
	orig := big.NewInt(42)
	cp := fpmath.Clone(orig)
	cp.SetInt64(7)
	if orig.Int64() != 42 {
		t.Errorf("clone mutation leaked into original: %s", orig)
	}
}

func TestClone_Nil(t *testing.T) {
	if fpmath.Clone(nil).Sign() != 0 {
		t.Error("nil should clone to zero")
	}
}

func TestMaxHealthFactor_Is256BitMax(t *testing.T) {
	want := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	if fpmath.MaxHealthFactor.Cmp(want) != 0 {
		t.Errorf("got %s, want 2^256-1", fpmath.MaxHealthFactor)
	}
}
