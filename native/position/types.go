package position

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"isolend/core/types"
)

// Positions track bounded sets so health checks iterate a hard-capped number
// of elements. Inserts beyond the cap fail; removal swaps with the last
// element.
const (
	MaxHeldAssets  = 5
	MaxDebtMarkets = 5
)

var (
	ErrAssetCapExceeded  = errors.New("position: held asset set at capacity")
	ErrMarketCapExceeded = errors.New("position: debt market set at capacity")
)

// Position is a user's collateral-and-debt custody object. Its address is
// derived from (owner, salt) so callers can compute it before creation.
type Position struct {
	Addr   common.Address
	Owner  common.Address
	Assets []types.AssetID
	Debts  []types.MarketID
}

func (p *Position) HasAsset(asset types.AssetID) bool {
	asset = asset.Normalize()
	for _, held := range p.Assets {
		if held == asset {
			return true
		}
	}
	return false
}

func (p *Position) AddAsset(asset types.AssetID) error {
	if p.HasAsset(asset) {
		return nil
	}
	if len(p.Assets) >= MaxHeldAssets {
		return ErrAssetCapExceeded
	}
	p.Assets = append(p.Assets, asset.Normalize())
	return nil
}

func (p *Position) RemoveAsset(asset types.AssetID) {
	asset = asset.Normalize()
	for i, held := range p.Assets {
		if held == asset {
			last := len(p.Assets) - 1
			p.Assets[i] = p.Assets[last]
			p.Assets = p.Assets[:last]
			return
		}
	}
}

func (p *Position) HasDebt(market types.MarketID) bool {
	for _, id := range p.Debts {
		if id == market {
			return true
		}
	}
	return false
}

func (p *Position) AddDebt(market types.MarketID) error {
	if p.HasDebt(market) {
		return nil
	}
	if len(p.Debts) >= MaxDebtMarkets {
		return ErrMarketCapExceeded
	}
	p.Debts = append(p.Debts, market)
	return nil
}

func (p *Position) RemoveDebt(market types.MarketID) {
	for i, id := range p.Debts {
		if id == market {
			last := len(p.Debts) - 1
			p.Debts[i] = p.Debts[last]
			p.Debts = p.Debts[:last]
			return
		}
	}
}
