package oracle

import (
	"errors"
	"math/big"
	"sync"

	"github.com/holiman/uint256"

	"isolend/core/types"
)

var (
	ErrUnknownAsset = errors.New("oracle: no price configured for asset")
	ErrStalePrice   = errors.New("oracle: price feed is stale")
	ErrInvalidPrice = errors.New("oracle: price must be positive")
	ErrSourceExists = errors.New("oracle: source name already registered")
)

var wad = big.NewInt(1_000_000_000_000_000_000)

// Source prices an amount of an asset in the protocol reference unit. A
// source must fail rather than substitute a default when it cannot produce a
// trustworthy value.
type Source interface {
	Value(asset types.AssetID, amount *big.Int) (*big.Int, error)
}

// FixedSource serves static wad-scaled prices. Used for assets pegged to the
// reference unit and throughout the test suite.
type FixedSource struct {
	mu     sync.RWMutex
	prices map[types.AssetID]*big.Int
}

func NewFixedSource() *FixedSource {
	return &FixedSource{prices: make(map[types.AssetID]*big.Int)}
}

// SetPrice registers the wad-scaled reference value of one base unit of the
// asset.
func (s *FixedSource) SetPrice(asset types.AssetID, price *big.Int) error {
	if price == nil || price.Sign() <= 0 {
		return ErrInvalidPrice
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[asset.Normalize()] = new(big.Int).Set(price)
	return nil
}

func (s *FixedSource) Value(asset types.AssetID, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() == 0 {
		return big.NewInt(0), nil
	}
	s.mu.RLock()
	price, ok := s.prices[asset.Normalize()]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownAsset
	}
	value := new(big.Int).Mul(amount, price)
	return value.Quo(value, wad), nil
}

type feedPoint struct {
	answer    *uint256.Int
	decimals  uint8
	updatedAt uint64
}

// FeedSource serves externally pushed price answers and rejects values older
// than the configured age window. Raw answers are bounded 256-bit words as
// reported by upstream feeds.
type FeedSource struct {
	mu     sync.RWMutex
	points map[types.AssetID]feedPoint
	maxAge uint64
	now    func() uint64
}

// NewFeedSource constructs a feed source with the supplied staleness window
// in seconds. The clock defaults to the zero function and is normally wired
// by the node so feed ages follow call timestamps.
func NewFeedSource(maxAge uint64, now func() uint64) *FeedSource {
	if now == nil {
		now = func() uint64 { return 0 }
	}
	return &FeedSource{
		points: make(map[types.AssetID]feedPoint),
		maxAge: maxAge,
		now:    now,
	}
}

// Push records a new answer for the asset. The answer is the reference value
// of one base unit of the asset scaled by 10^decimals.
func (s *FeedSource) Push(asset types.AssetID, answer *uint256.Int, decimals uint8, updatedAt uint64) error {
	if answer == nil || answer.IsZero() {
		return ErrInvalidPrice
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points[asset.Normalize()] = feedPoint{
		answer:    answer.Clone(),
		decimals:  decimals,
		updatedAt: updatedAt,
	}
	return nil
}

func (s *FeedSource) Value(asset types.AssetID, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() == 0 {
		return big.NewInt(0), nil
	}
	s.mu.RLock()
	point, ok := s.points[asset.Normalize()]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownAsset
	}
	now := s.now()
	if now > point.updatedAt && now-point.updatedAt > s.maxAge {
		return nil, ErrStalePrice
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(point.decimals)), nil)
	value := new(big.Int).Mul(amount, point.answer.ToBig())
	return value.Quo(value, scale), nil
}
