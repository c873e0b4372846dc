package pool

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"isolend/core/types"
)

// Ledger is one side of a market's rebasing share accounting. Individual
// balances are stored as constant share counts; the pair rebases as interest
// accrues so per-holder value is implicit.
type Ledger struct {
	TotalShares *big.Int
	TotalAssets *big.Int
}

// Market is an isolated lending pool for a single asset. The identifier is
// derived from (owner, asset, rate model) so identical re-deployments
// collide by construction.
type Market struct {
	ID        types.MarketID
	Owner     common.Address
	Asset     types.AssetID
	RateModel string
	Deposit   Ledger
	Borrow    Ledger
	// DepositCap and BorrowCap bound TotalAssets on the respective side.
	// Zero means uncapped. Caps are enforced at mutation time only, never
	// retroactively on interest accrual.
	DepositCap  *big.Int
	BorrowCap   *big.Int
	LastAccrual uint64
}

// Clone returns a deep copy of the market.
func (m *Market) Clone() *Market {
	if m == nil {
		return nil
	}
	clone := &Market{
		ID:          m.ID,
		Owner:       m.Owner,
		Asset:       m.Asset,
		RateModel:   m.RateModel,
		LastAccrual: m.LastAccrual,
	}
	clone.Deposit = m.Deposit.clone()
	clone.Borrow = m.Borrow.clone()
	if m.DepositCap != nil {
		clone.DepositCap = new(big.Int).Set(m.DepositCap)
	}
	if m.BorrowCap != nil {
		clone.BorrowCap = new(big.Int).Set(m.BorrowCap)
	}
	return clone
}

func (l Ledger) clone() Ledger {
	out := Ledger{TotalShares: big.NewInt(0), TotalAssets: big.NewInt(0)}
	if l.TotalShares != nil {
		out.TotalShares = new(big.Int).Set(l.TotalShares)
	}
	if l.TotalAssets != nil {
		out.TotalAssets = new(big.Int).Set(l.TotalAssets)
	}
	return out
}

func (m *Market) normalize() {
	if m.Deposit.TotalShares == nil {
		m.Deposit.TotalShares = big.NewInt(0)
	}
	if m.Deposit.TotalAssets == nil {
		m.Deposit.TotalAssets = big.NewInt(0)
	}
	if m.Borrow.TotalShares == nil {
		m.Borrow.TotalShares = big.NewInt(0)
	}
	if m.Borrow.TotalAssets == nil {
		m.Borrow.TotalAssets = big.NewInt(0)
	}
	if m.DepositCap == nil {
		m.DepositCap = big.NewInt(0)
	}
	if m.BorrowCap == nil {
		m.BorrowCap = big.NewInt(0)
	}
}

// Liquidity returns the idle assets available for withdrawal or borrowing.
func (m *Market) Liquidity() *big.Int {
	liquidity := new(big.Int).Sub(m.Deposit.TotalAssets, m.Borrow.TotalAssets)
	if liquidity.Sign() < 0 {
		return big.NewInt(0)
	}
	return liquidity
}

// PoolData is the read-only projection of a market served to lenses.
type PoolData struct {
	ID            types.MarketID `json:"id"`
	Owner         common.Address `json:"owner"`
	Asset         types.AssetID  `json:"asset"`
	RateModel     string         `json:"rateModel"`
	DepositShares *big.Int       `json:"depositShares"`
	DepositAssets *big.Int       `json:"depositAssets"`
	BorrowShares  *big.Int       `json:"borrowShares"`
	BorrowAssets  *big.Int       `json:"borrowAssets"`
	DepositCap    *big.Int       `json:"depositCap"`
	BorrowCap     *big.Int       `json:"borrowCap"`
	LastAccrual   uint64         `json:"lastAccrual"`
}
