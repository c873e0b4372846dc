package superpool

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"isolend/core/types"
)

// PoolCap bounds the router's exposure to one member market, denominated in
// assets. Zero means uncapped.
type PoolCap struct {
	Market types.MarketID
	Cap    *big.Int
}

// SuperPool is a vault routing deposited liquidity across member markets of
// the same asset. Fill and drain order follow the configured queues.
type SuperPool struct {
	ID           common.Address
	Owner        common.Address
	Allocator    common.Address
	Asset        types.AssetID
	FeeBps       uint64
	FeeRecipient common.Address

	TotalShares     *big.Int
	LastTotalAssets *big.Int
	// AssetCap bounds aggregate managed assets. Zero means uncapped.
	AssetCap *big.Int

	Caps          []PoolCap
	DepositQueue  []types.MarketID
	WithdrawQueue []types.MarketID
}

func (sp *SuperPool) normalize() {
	if sp.TotalShares == nil {
		sp.TotalShares = big.NewInt(0)
	}
	if sp.LastTotalAssets == nil {
		sp.LastTotalAssets = big.NewInt(0)
	}
	if sp.AssetCap == nil {
		sp.AssetCap = big.NewInt(0)
	}
}

func (sp *SuperPool) isMember(market types.MarketID) bool {
	for _, cap := range sp.Caps {
		if cap.Market == market {
			return true
		}
	}
	return false
}

func (sp *SuperPool) capFor(market types.MarketID) *big.Int {
	for _, cap := range sp.Caps {
		if cap.Market == market {
			if cap.Cap == nil {
				return big.NewInt(0)
			}
			return cap.Cap
		}
	}
	return big.NewInt(0)
}

// Allocation names a member market and an asset amount for Reallocate.
type Allocation struct {
	Market types.MarketID
	Amount *big.Int
}
