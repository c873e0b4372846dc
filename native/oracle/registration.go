package oracle

import (
	"math/big"

	"isolend/core/types"
)

// SourceKind discriminates persisted source registrations.
type SourceKind uint8

const (
	KindFixed SourceKind = iota + 1
	KindFeed
)

// Registration is the durable record of a registered price source, kept so
// registrations survive restarts. Fixed sources carry their full price
// table. Feed sources carry only the staleness window because pushed
// answers expire on their own and a restarted node waits for the next push.
type Registration struct {
	Name   string
	Kind   SourceKind
	Assets []types.AssetID
	Prices []*big.Int
	MaxAge uint64
}

// SetPrice records the wad-scaled price of an asset in the registration,
// replacing any earlier entry for the same asset.
func (r *Registration) SetPrice(asset types.AssetID, price *big.Int) {
	asset = asset.Normalize()
	for i, existing := range r.Assets {
		if existing == asset {
			r.Prices[i] = new(big.Int).Set(price)
			return
		}
	}
	r.Assets = append(r.Assets, asset)
	r.Prices = append(r.Prices, new(big.Int).Set(price))
}
