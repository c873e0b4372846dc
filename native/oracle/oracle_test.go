package oracle

import (
	"errors"
	"math/big"
	"testing"

	"github.com/holiman/uint256"
)

func TestFixedSourcePricing(t *testing.T) {
	source := NewFixedSource()

	if _, err := source.Value("USDX", big.NewInt(100)); !errors.Is(err, ErrUnknownAsset) {
		t.Fatalf("expected ErrUnknownAsset, got %v", err)
	}
	if err := source.SetPrice("USDX", big.NewInt(0)); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice, got %v", err)
	}

	if err := source.SetPrice("usdx", big.NewInt(1_500_000_000_000_000_000)); err != nil {
		t.Fatalf("set price: %v", err)
	}
	// Ticker lookup is case-insensitive.
	value, err := source.Value("USDX", big.NewInt(200))
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if value.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("value = %s, want 300 at a 1.5 price", value)
	}

	// Zero amounts price to zero without consulting the table.
	value, err = source.Value("UNPRICED", big.NewInt(0))
	if err != nil {
		t.Fatalf("zero amount: %v", err)
	}
	if value.Sign() != 0 {
		t.Fatalf("zero amount valued at %s", value)
	}
}

func TestFeedSourceScalesByDecimals(t *testing.T) {
	clock := uint64(1_000)
	source := NewFeedSource(300, func() uint64 { return clock })

	// A 2500.00000000 answer with 8 decimals prices one unit at 2500.
	if err := source.Push("WETH", uint256.NewInt(250_000_000_000), 8, 1_000); err != nil {
		t.Fatalf("push: %v", err)
	}
	value, err := source.Value("WETH", big.NewInt(3))
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if value.Cmp(big.NewInt(7_500)) != 0 {
		t.Fatalf("value = %s, want 7500", value)
	}
}

func TestFeedSourceRejectsStaleAnswers(t *testing.T) {
	clock := uint64(1_000)
	source := NewFeedSource(300, func() uint64 { return clock })
	if err := source.Push("WETH", uint256.NewInt(2_500), 0, 1_000); err != nil {
		t.Fatalf("push: %v", err)
	}

	clock = 1_300 // exactly at the age limit
	if _, err := source.Value("WETH", big.NewInt(1)); err != nil {
		t.Fatalf("value at age limit: %v", err)
	}
	clock = 1_301
	if _, err := source.Value("WETH", big.NewInt(1)); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("expected ErrStalePrice, got %v", err)
	}

	// A fresh push revives the feed.
	if err := source.Push("WETH", uint256.NewInt(2_600), 0, 1_301); err != nil {
		t.Fatalf("repush: %v", err)
	}
	value, err := source.Value("WETH", big.NewInt(2))
	if err != nil {
		t.Fatalf("value after repush: %v", err)
	}
	if value.Cmp(big.NewInt(5_200)) != 0 {
		t.Fatalf("value = %s, want 5200", value)
	}
}

func TestFeedSourceRejectsZeroAnswer(t *testing.T) {
	source := NewFeedSource(300, nil)
	if err := source.Push("WETH", uint256.NewInt(0), 8, 0); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice, got %v", err)
	}
}
