package risk

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"isolend/core/types"
	"isolend/native/bank"
	"isolend/native/pool"
)

var wad = big.NewInt(1_000_000_000_000_000_000)

// PositionSource exposes the custody sets of a position. Implemented by the
// position store; the module stays independent of position internals.
type PositionSource interface {
	HeldAssets(position common.Address) ([]types.AssetID, error)
	DebtMarkets(position common.Address) ([]types.MarketID, error)
}

// RiskData is the valuation summary of a position in reference units.
type RiskData struct {
	CollateralValue *big.Int `json:"collateralValue"`
	DebtValue       *big.Int `json:"debtValue"`
	MinRequired     *big.Int `json:"minRequired"`
}

// DebtRepayment names a debt market and the asset amount a liquidator
// intends to repay there.
type DebtRepayment struct {
	Market types.MarketID
	Amount *big.Int
}

// AssetSeizure names a collateral asset and the amount a liquidator intends
// to seize.
type AssetSeizure struct {
	Asset  types.AssetID
	Amount *big.Int
}

// Module computes collateral/debt valuations and liquidation legality on top
// of the risk engine's oracle and LTV bindings.
type Module struct {
	engine      *Engine
	pools       *pool.Engine
	positions   PositionSource
	collateral  *bank.Ledger
	closeFactor *big.Int
	discount    *big.Int
}

// NewModule constructs a risk module. closeFactor bounds the fraction of one
// market's debt repayable per liquidation; discount is the liquidator's
// collateral bonus. Both wad-scaled.
func NewModule(engine *Engine, pools *pool.Engine, positions PositionSource, collateral *bank.Ledger, closeFactor, discount *big.Int) *Module {
	return &Module{
		engine:      engine,
		pools:       pools,
		positions:   positions,
		collateral:  collateral,
		closeFactor: new(big.Int).Set(closeFactor),
		discount:    new(big.Int).Set(discount),
	}
}

type debtEntry struct {
	market types.MarketID
	asset  types.AssetID
	debt   *big.Int
	value  *big.Int
	weight *big.Int
}

// positionDebt values every debt market the position owes to. Weights are
// rounded up so they sum to at least one, biasing the collateral valuation
// against the borrower.
func (m *Module) positionDebt(position common.Address) ([]debtEntry, *big.Int, error) {
	markets, err := m.positions.DebtMarkets(position)
	if err != nil {
		return nil, nil, err
	}
	entries := make([]debtEntry, 0, len(markets))
	totalDebt := big.NewInt(0)
	for _, id := range markets {
		market, err := m.pools.Market(id)
		if err != nil {
			return nil, nil, err
		}
		debt, err := m.pools.BorrowsOf(id, position)
		if err != nil {
			return nil, nil, err
		}
		value := big.NewInt(0)
		if debt.Sign() > 0 {
			value, err = m.engine.ValueOf(id, market.Asset, debt)
			if err != nil {
				return nil, nil, err
			}
		}
		totalDebt = new(big.Int).Add(totalDebt, value)
		entries = append(entries, debtEntry{market: id, asset: market.Asset, debt: debt, value: value})
	}
	if totalDebt.Sign() > 0 {
		for i := range entries {
			weight := new(big.Int).Mul(entries[i].value, wad)
			entries[i].weight = ceilDiv(weight, totalDebt)
		}
	}
	return entries, totalDebt, nil
}

// RiskData returns the position's total collateral value, total debt value
// and the minimum collateral value required for health. A position with no
// debt values to zero across the board: no oracle exists to price an
// unbacked position.
func (m *Module) RiskData(position common.Address) (*RiskData, error) {
	entries, totalDebt, err := m.positionDebt(position)
	if err != nil {
		return nil, err
	}
	data := &RiskData{
		CollateralValue: big.NewInt(0),
		DebtValue:       totalDebt,
		MinRequired:     big.NewInt(0),
	}
	if totalDebt.Sign() == 0 {
		data.DebtValue = big.NewInt(0)
		return data, nil
	}

	assets, err := m.positions.HeldAssets(position)
	if err != nil {
		return nil, err
	}
	if len(assets) == 0 {
		return nil, ErrNoCollateral
	}

	// Distinct debt markets may price the same collateral via distinct
	// oracles: weight each market's quote by its share of total debt.
	for _, asset := range assets {
		balance, err := m.collateral.BalanceOf(asset, position)
		if err != nil {
			return nil, err
		}
		if balance.Sign() == 0 {
			continue
		}
		for _, entry := range entries {
			if entry.weight == nil || entry.weight.Sign() == 0 {
				continue
			}
			quote, err := m.engine.ValueOf(entry.market, asset, balance)
			if err != nil {
				return nil, err
			}
			weighted := new(big.Int).Mul(quote, entry.weight)
			weighted.Quo(weighted, wad)
			data.CollateralValue.Add(data.CollateralValue, weighted)
		}
	}

	primary := assets[0]
	for _, entry := range entries {
		if entry.value.Sign() == 0 {
			continue
		}
		ltv, err := m.engine.LtvFor(entry.market, primary)
		if err != nil {
			return nil, err
		}
		required := new(big.Int).Mul(entry.value, wad)
		data.MinRequired.Add(data.MinRequired, ceilDiv(required, ltv))
	}
	return data, nil
}

// IsHealthy reports whether the position's collateral value covers the
// minimum required. Zero-debt positions are trivially healthy; debt with no
// collateral assets is explicitly unhealthy.
func (m *Module) IsHealthy(position common.Address) (bool, error) {
	data, err := m.RiskData(position)
	if err != nil {
		if errors.Is(err, ErrNoCollateral) {
			return false, nil
		}
		return false, err
	}
	if data.DebtValue.Sign() == 0 {
		return true, nil
	}
	return data.CollateralValue.Cmp(data.MinRequired) >= 0, nil
}

// ValidateLiquidation checks the legality of a proposed liquidation:
// the position must be unhealthy, each repayment must respect the close
// factor, and the seized collateral value must not exceed the repaid value
// plus the liquidation discount. A bad-debt position (collateral strictly
// below debt) bypasses the close factor.
func (m *Module) ValidateLiquidation(position common.Address, debts []DebtRepayment, seized []AssetSeizure) error {
	data, err := m.RiskData(position)
	badDebt := false
	switch {
	case errors.Is(err, ErrNoCollateral):
		badDebt = true
	case err != nil:
		return err
	default:
		if data.DebtValue.Sign() == 0 {
			return ErrNoDebt
		}
		badDebt = data.CollateralValue.Cmp(data.DebtValue) < 0
		if !badDebt && data.CollateralValue.Cmp(data.MinRequired) >= 0 {
			return ErrLiquidateHealthy
		}
	}

	if !badDebt {
		for _, repayment := range debts {
			owed, err := m.pools.BorrowsOf(repayment.Market, position)
			if err != nil {
				return err
			}
			cap := new(big.Int).Mul(owed, m.closeFactor)
			cap = ceilDiv(cap, wad)
			if repayment.Amount == nil || repayment.Amount.Cmp(cap) > 0 {
				return ErrCloseFactor
			}
		}
	}

	repaidValue := big.NewInt(0)
	for _, repayment := range debts {
		market, err := m.pools.Market(repayment.Market)
		if err != nil {
			return err
		}
		value, err := m.engine.ValueOf(repayment.Market, market.Asset, repayment.Amount)
		if err != nil {
			return err
		}
		repaidValue.Add(repaidValue, value)
	}

	entries, totalDebt, err := m.positionDebt(position)
	if err != nil {
		return err
	}
	seizedValue := big.NewInt(0)
	for _, seizure := range seized {
		value, err := m.weightedValue(entries, totalDebt, seizure.Asset, seizure.Amount)
		if err != nil {
			return err
		}
		seizedValue.Add(seizedValue, value)
	}

	limit := new(big.Int).Add(wad, m.discount)
	limit.Mul(limit, repaidValue)
	limit.Quo(limit, wad)
	if seizedValue.Cmp(limit) > 0 {
		return ErrSeizedTooMuch
	}
	return nil
}

// ValidateBadDebt reports whether the position qualifies for full bad-debt
// liquidation: collateral value strictly below debt value.
func (m *Module) ValidateBadDebt(position common.Address) error {
	data, err := m.RiskData(position)
	if errors.Is(err, ErrNoCollateral) {
		return nil
	}
	if err != nil {
		return err
	}
	if data.DebtValue.Sign() == 0 {
		return ErrNoDebt
	}
	if data.CollateralValue.Cmp(data.DebtValue) >= 0 {
		return ErrNotBadDebt
	}
	return nil
}

// weightedValue prices an asset amount using the position's debt-weighted
// oracle mix. A position with no valued debt has no oracle mix to draw on
// and values to zero.
func (m *Module) weightedValue(entries []debtEntry, totalDebt *big.Int, asset types.AssetID, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() == 0 {
		return big.NewInt(0), nil
	}
	value := big.NewInt(0)
	if totalDebt == nil || totalDebt.Sign() == 0 {
		return value, nil
	}
	for _, entry := range entries {
		if entry.weight == nil || entry.weight.Sign() == 0 {
			continue
		}
		quote, err := m.engine.ValueOf(entry.market, asset, amount)
		if err != nil {
			return nil, err
		}
		weighted := new(big.Int).Mul(quote, entry.weight)
		weighted.Quo(weighted, wad)
		value.Add(value, weighted)
	}
	return value, nil
}

func ceilDiv(numerator, denominator *big.Int) *big.Int {
	quo, rem := new(big.Int).QuoRem(numerator, denominator, new(big.Int))
	if rem.Sign() != 0 {
		quo.Add(quo, big.NewInt(1))
	}
	return quo
}
