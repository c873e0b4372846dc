package core

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"isolend/core/types"
	"isolend/native/oracle"
	"isolend/native/pool"
	"isolend/native/position"
	"isolend/native/risk"
	"isolend/native/superpool"
	"isolend/observability"
)

// CreateMarket deploys an isolated market owned by caller.
func (n *Node) CreateMarket(caller common.Address, asset types.AssetID, rateModel string, depositCap, borrowCap *big.Int) (types.MarketID, error) {
	var id types.MarketID
	err := n.withState(func() error {
		var err error
		id, err = n.pools.InitMarket(caller, asset, rateModel, depositCap, borrowCap)
		return err
	})
	if err != nil {
		n.logger.Warn("create market failed", "caller", caller.Hex(), "asset", string(asset), "error", err)
		return types.MarketID{}, err
	}
	n.logger.Info("market created", "market", id.Hex(), "owner", caller.Hex(), "asset", string(asset))
	return id, nil
}

// Supply deposits assets into a market for receiver.
func (n *Node) Supply(caller common.Address, market types.MarketID, amount *big.Int, receiver common.Address) (*big.Int, error) {
	var shares *big.Int
	err := n.withState(func() error {
		var err error
		shares, err = n.pools.Deposit(caller, market, amount, receiver)
		return err
	})
	n.recordPool(market)
	if err != nil {
		return nil, err
	}
	n.logger.Info("supply", "market", market.Hex(), "caller", caller.Hex(), "shares", shares.String())
	return shares, nil
}

// WithdrawSupply releases assets from a market, burning owner's shares.
func (n *Node) WithdrawSupply(caller common.Address, market types.MarketID, amount *big.Int, receiver, owner common.Address) (*big.Int, error) {
	var shares *big.Int
	err := n.withState(func() error {
		var err error
		shares, err = n.pools.Withdraw(caller, market, amount, receiver, owner)
		return err
	})
	n.recordPool(market)
	if err != nil {
		return nil, err
	}
	return shares, nil
}

// RedeemSupply burns an exact number of deposit shares.
func (n *Node) RedeemSupply(caller common.Address, market types.MarketID, shares *big.Int, receiver, owner common.Address) (*big.Int, error) {
	var amount *big.Int
	err := n.withState(func() error {
		var err error
		amount, err = n.pools.Redeem(caller, market, shares, receiver, owner)
		return err
	})
	n.recordPool(market)
	if err != nil {
		return nil, err
	}
	return amount, nil
}

// ApprovePoolOperator lets operator withdraw against caller's shares.
func (n *Node) ApprovePoolOperator(caller, operator common.Address, approved bool) error {
	return n.withState(func() error {
		return n.pools.ApproveOperator(caller, operator, approved)
	})
}

// AccrueMarket checkpoints interest on a market.
func (n *Node) AccrueMarket(market types.MarketID) error {
	err := n.withState(func() error {
		return n.pools.Accrue(market)
	})
	n.recordPool(market)
	return err
}

// ProcessActions runs a batch of position actions with a single health check
// at the end.
func (n *Node) ProcessActions(caller, pos common.Address, actions []position.Action) error {
	err := n.withState(func() error {
		return n.positions.ProcessBatch(caller, pos, actions)
	})
	for _, action := range actions {
		observability.ProtocolMetrics().RecordAction(action.Op.String(), err)
	}
	if err != nil {
		n.logger.Warn("action batch rejected", "position", pos.Hex(), "caller", caller.Hex(), "error", err)
		return err
	}
	n.logger.Info("action batch applied", "position", pos.Hex(), "caller", caller.Hex(), "actions", len(actions))
	return nil
}

// Liquidate repays debt on an unhealthy position in exchange for collateral.
func (n *Node) Liquidate(caller, pos common.Address, debts []risk.DebtRepayment, seized []risk.AssetSeizure) error {
	err := n.withState(func() error {
		return n.positions.Liquidate(caller, pos, debts, seized)
	})
	observability.ProtocolMetrics().RecordLiquidation(err)
	if err != nil {
		n.logger.Warn("liquidation rejected", "position", pos.Hex(), "caller", caller.Hex(), "error", err)
		return err
	}
	n.logger.Info("liquidation", "position", pos.Hex(), "liquidator", caller.Hex())
	return nil
}

// LiquidateBadDebt clears an underwater position, socialising the loss to
// lenders. Admin only.
func (n *Node) LiquidateBadDebt(caller, pos common.Address) error {
	err := n.withState(func() error {
		return n.positions.LiquidateBadDebt(caller, pos)
	})
	if err != nil {
		return err
	}
	observability.ProtocolMetrics().RecordWriteOff()
	n.logger.Warn("bad debt written off", "position", pos.Hex())
	return nil
}

// ToggleAuth flips an operator's authorization on a position.
func (n *Node) ToggleAuth(caller, pos, operator common.Address) error {
	return n.withState(func() error {
		return n.positions.ToggleAuth(caller, pos, operator)
	})
}

// SetLiquidatePaused toggles the liquidation pause switch. Admin only.
func (n *Node) SetLiquidatePaused(caller common.Address, paused bool) error {
	return n.withState(func() error {
		return n.positions.SetLiquidatePaused(caller, paused)
	})
}

// SetOracle binds a registered price source to a (market, asset) pair.
// Admin only.
func (n *Node) SetOracle(caller common.Address, market types.MarketID, asset types.AssetID, source string) error {
	return n.withState(func() error {
		return n.risk.SetOracle(caller, market, asset, source)
	})
}

// RequestLtvUpdate starts the timelock for a new LTV. Market owner only.
func (n *Node) RequestLtvUpdate(caller common.Address, market types.MarketID, asset types.AssetID, ltv *big.Int) error {
	return n.withState(func() error {
		return n.risk.RequestLtvUpdate(caller, market, asset, ltv)
	})
}

// AcceptLtvUpdate commits a matured pending LTV. Market owner only.
func (n *Node) AcceptLtvUpdate(caller common.Address, market types.MarketID, asset types.AssetID) error {
	err := n.withState(func() error {
		return n.risk.AcceptLtvUpdate(caller, market, asset)
	})
	if err == nil {
		n.logger.Info("ltv update accepted", "market", market.Hex(), "asset", string(asset))
	}
	return err
}

// RejectLtvUpdate discards a pending LTV. Market owner only.
func (n *Node) RejectLtvUpdate(caller common.Address, market types.MarketID, asset types.AssetID) error {
	return n.withState(func() error {
		return n.risk.RejectLtvUpdate(caller, market, asset)
	})
}

// RegisterFixedSource installs a fixed price source and persists the
// registration so it survives restarts. Admin only.
func (n *Node) RegisterFixedSource(caller common.Address, name string) error {
	if caller != n.admin {
		return risk.ErrNotAdmin
	}
	return n.withState(func() error {
		if _, ok := n.fixed[name]; ok {
			return nil
		}
		if _, ok := n.feeds[name]; ok {
			return oracle.ErrSourceExists
		}
		if err := n.state.PutSource(&oracle.Registration{Name: name, Kind: oracle.KindFixed}); err != nil {
			return err
		}
		source := oracle.NewFixedSource()
		n.fixed[name] = source
		n.risk.RegisterSource(name, source)
		return nil
	})
}

// SetFixedPrice updates a fixed source price, in memory and in the persisted
// registration. Admin only.
func (n *Node) SetFixedPrice(caller common.Address, source string, asset types.AssetID, price *big.Int) error {
	if caller != n.admin {
		return risk.ErrNotAdmin
	}
	return n.withState(func() error {
		src, ok := n.fixed[source]
		if !ok {
			return risk.ErrUnknownSource
		}
		if err := src.SetPrice(asset, price); err != nil {
			return err
		}
		reg, err := n.state.GetSource(source)
		if err != nil {
			return err
		}
		if reg == nil {
			reg = &oracle.Registration{Name: source, Kind: oracle.KindFixed}
		}
		reg.SetPrice(asset, price)
		return n.state.PutSource(reg)
	})
}

// RegisterFeedSource installs a pushed price feed with the given staleness
// window in seconds and persists the registration. Admin only.
func (n *Node) RegisterFeedSource(caller common.Address, name string, maxAge uint64) error {
	if caller != n.admin {
		return risk.ErrNotAdmin
	}
	return n.withState(func() error {
		if _, ok := n.feeds[name]; ok {
			return nil
		}
		if _, ok := n.fixed[name]; ok {
			return oracle.ErrSourceExists
		}
		if err := n.state.PutSource(&oracle.Registration{Name: name, Kind: oracle.KindFeed, MaxAge: maxAge}); err != nil {
			return err
		}
		feed := oracle.NewFeedSource(maxAge, n.clockSeconds)
		n.feeds[name] = feed
		n.risk.RegisterSource(name, feed)
		return nil
	})
}

// PushFeedPrice records a new feed answer. Answers are held in memory only;
// a restarted node rejects quotes until the next push, which the staleness
// window would force anyway. Admin only.
func (n *Node) PushFeedPrice(caller common.Address, source string, asset types.AssetID, answer *uint256.Int, decimals uint8, updatedAt uint64) error {
	if caller != n.admin {
		return risk.ErrNotAdmin
	}
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	feed, ok := n.feeds[source]
	if !ok {
		return risk.ErrUnknownSource
	}
	return feed.Push(asset, answer, decimals, updatedAt)
}

// SetFlowPauses toggles the pool flow pause switches. Admin only.
func (n *Node) SetFlowPauses(caller common.Address, pauses pool.ActionPauses) error {
	if caller != n.admin {
		return risk.ErrNotAdmin
	}
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	n.pools.SetPauses(pauses)
	n.logger.Warn("flow pauses updated",
		"supply", pauses.Supply, "withdraw", pauses.Withdraw,
		"borrow", pauses.Borrow, "repay", pauses.Repay)
	return nil
}

// MintAsset credits a balance out of thin air. Admin only; testnet faucet.
func (n *Node) MintAsset(caller common.Address, asset types.AssetID, to common.Address, amount *big.Int) error {
	if caller != n.admin {
		return risk.ErrNotAdmin
	}
	return n.withState(func() error {
		return n.assets.Mint(asset, to, amount)
	})
}

// CreateSuperPool deploys a liquidity router vault.
func (n *Node) CreateSuperPool(caller common.Address, salt [32]byte, asset types.AssetID, feeBps uint64, feeRecipient common.Address, assetCap *big.Int) (common.Address, error) {
	var id common.Address
	err := n.withState(func() error {
		var err error
		id, err = n.vaults.Create(caller, salt, asset, feeBps, feeRecipient, assetCap)
		return err
	})
	if err != nil {
		return common.Address{}, err
	}
	n.logger.Info("superpool created", "id", id.Hex(), "owner", caller.Hex(), "asset", string(asset))
	return id, nil
}

// SuperPoolDeposit routes a deposit through a vault.
func (n *Node) SuperPoolDeposit(caller, id common.Address, amount *big.Int, receiver common.Address) (*big.Int, error) {
	var shares *big.Int
	err := n.withState(func() error {
		var err error
		shares, err = n.vaults.Deposit(caller, id, amount, receiver)
		return err
	})
	if err != nil {
		return nil, err
	}
	return shares, nil
}

// SuperPoolMint mints an exact number of vault shares.
func (n *Node) SuperPoolMint(caller, id common.Address, shares *big.Int, receiver common.Address) (*big.Int, error) {
	var amount *big.Int
	err := n.withState(func() error {
		var err error
		amount, err = n.vaults.Mint(caller, id, shares, receiver)
		return err
	})
	if err != nil {
		return nil, err
	}
	return amount, nil
}

// SuperPoolWithdraw releases assets from a vault.
func (n *Node) SuperPoolWithdraw(caller, id common.Address, amount *big.Int, receiver, owner common.Address) (*big.Int, error) {
	var shares *big.Int
	err := n.withState(func() error {
		var err error
		shares, err = n.vaults.Withdraw(caller, id, amount, receiver, owner)
		return err
	})
	if err != nil {
		return nil, err
	}
	return shares, nil
}

// SuperPoolRedeem burns an exact number of vault shares.
func (n *Node) SuperPoolRedeem(caller, id common.Address, shares *big.Int, receiver, owner common.Address) (*big.Int, error) {
	var amount *big.Int
	err := n.withState(func() error {
		var err error
		amount, err = n.vaults.Redeem(caller, id, shares, receiver, owner)
		return err
	})
	if err != nil {
		return nil, err
	}
	return amount, nil
}

// SuperPoolAddMember admits a market to a vault. Vault owner only.
func (n *Node) SuperPoolAddMember(caller, id common.Address, market types.MarketID, cap *big.Int) error {
	return n.withState(func() error {
		return n.vaults.AddPool(caller, id, market, cap)
	})
}

// SuperPoolRemoveMember evicts a market from a vault. Vault owner only.
func (n *Node) SuperPoolRemoveMember(caller, id common.Address, market types.MarketID) error {
	return n.withState(func() error {
		return n.vaults.RemovePool(caller, id, market)
	})
}

// SuperPoolSetCap updates a member market's exposure cap. Vault owner only.
func (n *Node) SuperPoolSetCap(caller, id common.Address, market types.MarketID, cap *big.Int) error {
	return n.withState(func() error {
		return n.vaults.SetPoolCap(caller, id, market, cap)
	})
}

// SuperPoolSetQueues replaces both priority orders. Vault owner only.
func (n *Node) SuperPoolSetQueues(caller, id common.Address, depositQueue, withdrawQueue []types.MarketID) error {
	return n.withState(func() error {
		return n.vaults.SetQueues(caller, id, depositQueue, withdrawQueue)
	})
}

// SuperPoolSetAllocator hands off the rebalancing role. Vault owner only.
func (n *Node) SuperPoolSetAllocator(caller, id, allocator common.Address) error {
	return n.withState(func() error {
		return n.vaults.SetAllocator(caller, id, allocator)
	})
}

// SuperPoolReallocate rebalances vault liquidity. Allocator only.
func (n *Node) SuperPoolReallocate(caller, id common.Address, withdrawals, deposits []superpool.Allocation) error {
	return n.withState(func() error {
		return n.vaults.Reallocate(caller, id, withdrawals, deposits)
	})
}

// SuperPoolAccrue runs the vault's performance-fee checkpoint.
func (n *Node) SuperPoolAccrue(id common.Address) error {
	return n.withState(func() error {
		return n.vaults.AccrueInterestAndFees(id)
	})
}

func (n *Node) recordPool(market types.MarketID) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	m, err := n.pools.Market(market)
	if err != nil {
		return
	}
	observability.ProtocolMetrics().RecordPool(market.Hex(), m.Deposit.TotalAssets, m.Borrow.TotalAssets)
}

// PoolData returns the market snapshot with pending interest applied.
func (n *Node) PoolData(market types.MarketID) (*pool.PoolData, error) {
	var data *pool.PoolData
	err := n.withView(func() error {
		var err error
		data, err = n.pools.GetPoolData(market)
		return err
	})
	return data, err
}

// Markets lists every market ID in creation order.
func (n *Node) Markets() ([]types.MarketID, error) {
	var ids []types.MarketID
	err := n.withView(func() error {
		var err error
		ids, err = n.state.ListMarkets()
		return err
	})
	return ids, err
}

// PositionRisk returns the valuation summary of a position.
func (n *Node) PositionRisk(pos common.Address) (*risk.RiskData, error) {
	var data *risk.RiskData
	err := n.withView(func() error {
		var err error
		data, err = n.riskMod.RiskData(pos)
		return err
	})
	return data, err
}

// PositionInfo returns the stored position record, nil when absent.
func (n *Node) PositionInfo(pos common.Address) (*position.Position, error) {
	var p *position.Position
	err := n.withView(func() error {
		var err error
		p, err = n.positions.Get(pos)
		return err
	})
	return p, err
}

// PositionHealthy reports whether a position meets its margin requirement.
func (n *Node) PositionHealthy(pos common.Address) (bool, error) {
	var healthy bool
	err := n.withView(func() error {
		var err error
		healthy, err = n.riskMod.IsHealthy(pos)
		return err
	})
	return healthy, err
}

// SuperPools lists every vault address in creation order.
func (n *Node) SuperPools() ([]common.Address, error) {
	var ids []common.Address
	err := n.withView(func() error {
		var err error
		ids, err = n.state.ListSuperPools()
		return err
	})
	return ids, err
}

// SuperPoolInfo is the vault snapshot served over RPC.
type SuperPoolInfo struct {
	ID            common.Address   `json:"id"`
	Owner         common.Address   `json:"owner"`
	Allocator     common.Address   `json:"allocator"`
	Asset         types.AssetID    `json:"asset"`
	FeeBps        uint64           `json:"feeBps"`
	TotalShares   *big.Int         `json:"totalShares"`
	TotalAssets   *big.Int         `json:"totalAssets"`
	AssetCap      *big.Int         `json:"assetCap"`
	DepositQueue  []types.MarketID `json:"depositQueue"`
	WithdrawQueue []types.MarketID `json:"withdrawQueue"`
}

// SuperPoolData returns the vault snapshot with pending interest and fees
// simulated in.
func (n *Node) SuperPoolData(id common.Address) (*SuperPoolInfo, error) {
	var info *SuperPoolInfo
	err := n.withView(func() error {
		sp, err := n.vaults.Get(id)
		if err != nil {
			return err
		}
		total, err := n.vaults.TotalAssets(id)
		if err != nil {
			return err
		}
		info = &SuperPoolInfo{
			ID:            sp.ID,
			Owner:         sp.Owner,
			Allocator:     sp.Allocator,
			Asset:         sp.Asset,
			FeeBps:        sp.FeeBps,
			TotalShares:   sp.TotalShares,
			TotalAssets:   total,
			AssetCap:      sp.AssetCap,
			DepositQueue:  sp.DepositQueue,
			WithdrawQueue: sp.WithdrawQueue,
		}
		return nil
	})
	return info, err
}

// BalanceOf reports an address's asset balance in the bank ledger.
func (n *Node) BalanceOf(asset types.AssetID, addr common.Address) (*big.Int, error) {
	var balance *big.Int
	err := n.withView(func() error {
		var err error
		balance, err = n.assets.BalanceOf(asset, addr)
		return err
	})
	return balance, err
}
