package superpool

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"isolend/core/types"
	"isolend/native/bank"
	"isolend/native/pool"
)

type engineState interface {
	GetSuperPool(id common.Address) (*SuperPool, error)
	PutSuperPool(sp *SuperPool) error
	SuperSharesOf(id, addr common.Address) (*big.Int, error)
	SetSuperShares(id, addr common.Address, shares *big.Int) error
}

// Engine manages liquidity router vaults. A vault's reported asset balance
// is its idle custody plus its share value across member markets with
// pending interest simulated in, so previews never mutate pool state.
type Engine struct {
	state  engineState
	pools  *pool.Engine
	assets *bank.Ledger
}

func NewEngine(pools *pool.Engine, assets *bank.Ledger) *Engine {
	return &Engine{pools: pools, assets: assets}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// Create deploys a vault at the address derived from (owner, salt).
func (e *Engine) Create(owner common.Address, salt [32]byte, asset types.AssetID, feeBps uint64, feeRecipient common.Address, assetCap *big.Int) (common.Address, error) {
	if e == nil || e.state == nil {
		return common.Address{}, ErrNilState
	}
	if !asset.Valid() {
		return common.Address{}, bank.ErrInvalidAsset
	}
	id := types.DeriveSuperPoolAddress(owner, salt)
	existing, err := e.state.GetSuperPool(id)
	if err != nil {
		return common.Address{}, err
	}
	if existing != nil {
		return common.Address{}, ErrSuperPoolExists
	}
	sp := &SuperPool{
		ID:           id,
		Owner:        owner,
		Allocator:    owner,
		Asset:        asset.Normalize(),
		FeeBps:       feeBps,
		FeeRecipient: feeRecipient,
	}
	if assetCap != nil {
		sp.AssetCap = new(big.Int).Set(assetCap)
	}
	sp.normalize()
	return id, e.state.PutSuperPool(sp)
}

// Get returns the vault record at id.
func (e *Engine) Get(id common.Address) (*SuperPool, error) {
	return e.get(id)
}

func (e *Engine) get(id common.Address) (*SuperPool, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	sp, err := e.state.GetSuperPool(id)
	if err != nil {
		return nil, err
	}
	if sp == nil {
		return nil, ErrUnknownSuperPool
	}
	sp.normalize()
	return sp, nil
}

// AddPool admits a member market sharing the vault's asset and appends it to
// both queues.
func (e *Engine) AddPool(caller, id common.Address, market types.MarketID, cap *big.Int) error {
	sp, err := e.get(id)
	if err != nil {
		return err
	}
	if caller != sp.Owner {
		return ErrNotOwner
	}
	m, err := e.pools.Market(market)
	if err != nil {
		return err
	}
	if m.Asset != sp.Asset {
		return ErrAssetMismatch
	}
	if sp.isMember(market) {
		return ErrAlreadyMember
	}
	entry := PoolCap{Market: market, Cap: big.NewInt(0)}
	if cap != nil {
		entry.Cap = new(big.Int).Set(cap)
	}
	sp.Caps = append(sp.Caps, entry)
	sp.DepositQueue = append(sp.DepositQueue, market)
	sp.WithdrawQueue = append(sp.WithdrawQueue, market)
	return e.state.PutSuperPool(sp)
}

// RemovePool evicts a member market once the vault holds nothing there.
func (e *Engine) RemovePool(caller, id common.Address, market types.MarketID) error {
	sp, err := e.get(id)
	if err != nil {
		return err
	}
	if caller != sp.Owner {
		return ErrNotOwner
	}
	if !sp.isMember(market) {
		return ErrNotMember
	}
	shares, err := e.pools.DepositSharesOf(market, sp.ID)
	if err != nil {
		return err
	}
	if shares.Sign() > 0 {
		return ErrNonZeroExposure
	}
	sp.Caps = removeCap(sp.Caps, market)
	sp.DepositQueue = removeMarket(sp.DepositQueue, market)
	sp.WithdrawQueue = removeMarket(sp.WithdrawQueue, market)
	return e.state.PutSuperPool(sp)
}

// SetPoolCap updates the exposure cap for a member market.
func (e *Engine) SetPoolCap(caller, id common.Address, market types.MarketID, cap *big.Int) error {
	sp, err := e.get(id)
	if err != nil {
		return err
	}
	if caller != sp.Owner {
		return ErrNotOwner
	}
	for i := range sp.Caps {
		if sp.Caps[i].Market == market {
			sp.Caps[i].Cap = big.NewInt(0)
			if cap != nil {
				sp.Caps[i].Cap = new(big.Int).Set(cap)
			}
			return e.state.PutSuperPool(sp)
		}
	}
	return ErrNotMember
}

// SetAllocator hands the rebalancing role to a new address.
func (e *Engine) SetAllocator(caller, id, allocator common.Address) error {
	sp, err := e.get(id)
	if err != nil {
		return err
	}
	if caller != sp.Owner {
		return ErrNotOwner
	}
	sp.Allocator = allocator
	return e.state.PutSuperPool(sp)
}

// SetQueues replaces both priority orders. Each queue must be a permutation
// of the member set.
func (e *Engine) SetQueues(caller, id common.Address, depositQueue, withdrawQueue []types.MarketID) error {
	sp, err := e.get(id)
	if err != nil {
		return err
	}
	if caller != sp.Owner {
		return ErrNotOwner
	}
	if !validQueue(sp, depositQueue) || !validQueue(sp, withdrawQueue) {
		return ErrInvalidQueue
	}
	sp.DepositQueue = append([]types.MarketID(nil), depositQueue...)
	sp.WithdrawQueue = append([]types.MarketID(nil), withdrawQueue...)
	return e.state.PutSuperPool(sp)
}

// TotalAssets reports idle custody plus simulated member-market value.
func (e *Engine) TotalAssets(id common.Address) (*big.Int, error) {
	sp, err := e.get(id)
	if err != nil {
		return nil, err
	}
	return e.totalAssets(sp)
}

func (e *Engine) totalAssets(sp *SuperPool) (*big.Int, error) {
	total, err := e.assets.BalanceOf(sp.Asset, sp.ID)
	if err != nil {
		return nil, err
	}
	total = new(big.Int).Set(total)
	for _, entry := range sp.Caps {
		preview, err := e.pools.SimulateAccrual(entry.Market)
		if err != nil {
			return nil, err
		}
		shares, err := e.pools.DepositSharesOf(entry.Market, sp.ID)
		if err != nil {
			return nil, err
		}
		total.Add(total, pool.AssetsFromShares(shares, preview.Deposit, pool.RoundDown))
	}
	return total, nil
}

// simulateFees projects total assets and the effective share supply after
// the pending performance fee mints.
func (e *Engine) simulateFees(sp *SuperPool) (ta, effShares, feeShares *big.Int, err error) {
	ta, err = e.totalAssets(sp)
	if err != nil {
		return nil, nil, nil, err
	}
	feeShares = big.NewInt(0)
	if sp.FeeBps > 0 && ta.Cmp(sp.LastTotalAssets) > 0 {
		profit := new(big.Int).Sub(ta, sp.LastTotalAssets)
		feeAssets := new(big.Int).Mul(profit, new(big.Int).SetUint64(sp.FeeBps))
		feeAssets.Quo(feeAssets, big.NewInt(10_000))
		if feeAssets.Sign() > 0 {
			// Fee shares are priced before the fee dilutes the pool.
			preFee := new(big.Int).Sub(ta, feeAssets)
			feeShares = pool.SharesFromAssets(feeAssets, pool.Ledger{
				TotalShares: sp.TotalShares,
				TotalAssets: preFee,
			}, pool.RoundDown)
		}
	}
	effShares = new(big.Int).Add(sp.TotalShares, feeShares)
	return ta, effShares, feeShares, nil
}

// accrueFees commits the pending performance fee to the fee recipient and
// checkpoints LastTotalAssets. Returns the projected total assets.
func (e *Engine) accrueFees(sp *SuperPool) (*big.Int, error) {
	ta, effShares, feeShares, err := e.simulateFees(sp)
	if err != nil {
		return nil, err
	}
	if feeShares.Sign() > 0 {
		held, err := e.sharesOf(sp.ID, sp.FeeRecipient)
		if err != nil {
			return nil, err
		}
		if err := e.state.SetSuperShares(sp.ID, sp.FeeRecipient, new(big.Int).Add(held, feeShares)); err != nil {
			return nil, err
		}
		sp.TotalShares = effShares
	}
	sp.LastTotalAssets = new(big.Int).Set(ta)
	return ta, nil
}

// AccrueInterestAndFees runs the performance-fee checkpoint.
func (e *Engine) AccrueInterestAndFees(id common.Address) error {
	sp, err := e.get(id)
	if err != nil {
		return err
	}
	if _, err := e.accrueFees(sp); err != nil {
		return err
	}
	return e.state.PutSuperPool(sp)
}

// Deposit pulls assets from the caller, mints vault shares to the receiver,
// and routes the liquidity down the deposit queue.
func (e *Engine) Deposit(caller, id common.Address, amount *big.Int, receiver common.Address) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	sp, err := e.get(id)
	if err != nil {
		return nil, err
	}
	ta, err := e.accrueFees(sp)
	if err != nil {
		return nil, err
	}
	shares := pool.SharesFromAssets(amount, pool.Ledger{TotalShares: sp.TotalShares, TotalAssets: ta}, pool.RoundDown)
	if shares.Sign() == 0 {
		return nil, ErrZeroShares
	}
	if err := e.supply(sp, caller, amount, receiver, shares, ta); err != nil {
		return nil, err
	}
	return shares, nil
}

// Mint issues exactly shares to the receiver, pulling the rounded-up asset
// cost from the caller.
func (e *Engine) Mint(caller, id common.Address, shares *big.Int, receiver common.Address) (*big.Int, error) {
	if shares == nil || shares.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	sp, err := e.get(id)
	if err != nil {
		return nil, err
	}
	ta, err := e.accrueFees(sp)
	if err != nil {
		return nil, err
	}
	amount := pool.AssetsFromShares(shares, pool.Ledger{TotalShares: sp.TotalShares, TotalAssets: ta}, pool.RoundUp)
	if amount.Sign() == 0 {
		return nil, ErrZeroShares
	}
	if err := e.supply(sp, caller, amount, receiver, new(big.Int).Set(shares), ta); err != nil {
		return nil, err
	}
	return amount, nil
}

func (e *Engine) supply(sp *SuperPool, caller common.Address, amount *big.Int, receiver common.Address, shares, ta *big.Int) error {
	if sp.AssetCap.Sign() > 0 {
		projected := new(big.Int).Add(ta, amount)
		if projected.Cmp(sp.AssetCap) > 0 {
			return ErrAssetCapExceeded
		}
	}
	if err := e.assets.Transfer(sp.Asset, caller, sp.ID, amount); err != nil {
		return err
	}
	if err := e.routeDeposits(sp, amount); err != nil {
		return err
	}
	held, err := e.sharesOf(sp.ID, receiver)
	if err != nil {
		return err
	}
	if err := e.state.SetSuperShares(sp.ID, receiver, new(big.Int).Add(held, shares)); err != nil {
		return err
	}
	sp.TotalShares = new(big.Int).Add(sp.TotalShares, shares)
	sp.LastTotalAssets = new(big.Int).Add(ta, amount)
	return e.state.PutSuperPool(sp)
}

// routeDeposits walks the deposit queue placing liquidity up to each
// member's cap and the market's own headroom. The remainder stays idle.
func (e *Engine) routeDeposits(sp *SuperPool, amount *big.Int) error {
	remaining := new(big.Int).Set(amount)
	for _, id := range sp.DepositQueue {
		if remaining.Sign() == 0 {
			return nil
		}
		market, err := e.pools.Market(id)
		if err != nil {
			return err
		}
		take := new(big.Int).Set(remaining)
		if cap := sp.capFor(id); cap.Sign() > 0 {
			held, err := e.pools.AssetsOf(id, sp.ID)
			if err != nil {
				return err
			}
			headroom := new(big.Int).Sub(cap, held)
			if headroom.Sign() <= 0 {
				continue
			}
			if take.Cmp(headroom) > 0 {
				take.Set(headroom)
			}
		}
		if market.DepositCap.Sign() > 0 {
			headroom := new(big.Int).Sub(market.DepositCap, market.Deposit.TotalAssets)
			if headroom.Sign() <= 0 {
				continue
			}
			if take.Cmp(headroom) > 0 {
				take.Set(headroom)
			}
		}
		if take.Sign() <= 0 {
			continue
		}
		if _, err := e.pools.Deposit(sp.ID, id, take, sp.ID); err != nil {
			return err
		}
		remaining.Sub(remaining, take)
	}
	return nil
}

// Withdraw releases amount to the receiver, draining idle custody first and
// then the withdraw queue. Fails when the full amount cannot be sourced.
func (e *Engine) Withdraw(caller, id common.Address, amount *big.Int, receiver, owner common.Address) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	sp, err := e.get(id)
	if err != nil {
		return nil, err
	}
	ta, err := e.accrueFees(sp)
	if err != nil {
		return nil, err
	}
	shares := pool.SharesFromAssets(amount, pool.Ledger{TotalShares: sp.TotalShares, TotalAssets: ta}, pool.RoundUp)
	if err := e.redeem(sp, caller, owner, receiver, shares, amount, ta); err != nil {
		return nil, err
	}
	return shares, nil
}

// Redeem burns exactly shares and releases the rounded-down asset value.
func (e *Engine) Redeem(caller, id common.Address, shares *big.Int, receiver, owner common.Address) (*big.Int, error) {
	if shares == nil || shares.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	sp, err := e.get(id)
	if err != nil {
		return nil, err
	}
	ta, err := e.accrueFees(sp)
	if err != nil {
		return nil, err
	}
	amount := pool.AssetsFromShares(shares, pool.Ledger{TotalShares: sp.TotalShares, TotalAssets: ta}, pool.RoundDown)
	if amount.Sign() == 0 {
		return nil, ErrZeroShares
	}
	if err := e.redeem(sp, caller, owner, receiver, new(big.Int).Set(shares), amount, ta); err != nil {
		return nil, err
	}
	return amount, nil
}

func (e *Engine) redeem(sp *SuperPool, caller, owner, receiver common.Address, shares, amount, ta *big.Int) error {
	if caller != owner {
		return ErrNotAuthorized
	}
	held, err := e.sharesOf(sp.ID, owner)
	if err != nil {
		return err
	}
	if held.Cmp(shares) < 0 {
		return ErrInsufficientShares
	}

	idle, err := e.assets.BalanceOf(sp.Asset, sp.ID)
	if err != nil {
		return err
	}
	if idle.Cmp(amount) < 0 {
		shortfall := new(big.Int).Sub(amount, idle)
		if err := e.drainQueue(sp, shortfall); err != nil {
			return err
		}
	}

	if err := e.assets.Transfer(sp.Asset, sp.ID, receiver, amount); err != nil {
		return err
	}
	if err := e.state.SetSuperShares(sp.ID, owner, new(big.Int).Sub(held, shares)); err != nil {
		return err
	}
	sp.TotalShares = new(big.Int).Sub(sp.TotalShares, shares)
	sp.LastTotalAssets = new(big.Int).Sub(ta, amount)
	if sp.LastTotalAssets.Sign() < 0 {
		sp.LastTotalAssets = big.NewInt(0)
	}
	return e.state.PutSuperPool(sp)
}

// drainQueue pulls the shortfall from member markets in withdraw-queue
// order, bounded by the vault's balance and each market's idle liquidity.
func (e *Engine) drainQueue(sp *SuperPool, needed *big.Int) error {
	remaining := new(big.Int).Set(needed)
	for _, id := range sp.WithdrawQueue {
		if remaining.Sign() == 0 {
			return nil
		}
		if err := e.pools.Accrue(id); err != nil {
			return err
		}
		market, err := e.pools.Market(id)
		if err != nil {
			return err
		}
		held, err := e.pools.AssetsOf(id, sp.ID)
		if err != nil {
			return err
		}
		take := new(big.Int).Set(remaining)
		if take.Cmp(held) > 0 {
			take.Set(held)
		}
		if liquidity := market.Liquidity(); take.Cmp(liquidity) > 0 {
			take.Set(liquidity)
		}
		if take.Sign() <= 0 {
			continue
		}
		if _, err := e.pools.Withdraw(sp.ID, id, take, sp.ID, sp.ID); err != nil {
			return err
		}
		remaining.Sub(remaining, take)
	}
	if remaining.Sign() > 0 {
		return ErrInsufficientWithdrawPath
	}
	return nil
}

// Reallocate lets the allocator rebalance liquidity across member markets
// without touching user share balances.
func (e *Engine) Reallocate(caller, id common.Address, withdrawals, deposits []Allocation) error {
	sp, err := e.get(id)
	if err != nil {
		return err
	}
	if caller != sp.Allocator {
		return ErrNotAllocator
	}
	for _, alloc := range withdrawals {
		if !sp.isMember(alloc.Market) {
			return ErrNotMember
		}
		if _, err := e.pools.Withdraw(sp.ID, alloc.Market, alloc.Amount, sp.ID, sp.ID); err != nil {
			return err
		}
	}
	for _, alloc := range deposits {
		if !sp.isMember(alloc.Market) {
			return ErrNotMember
		}
		if cap := sp.capFor(alloc.Market); cap.Sign() > 0 {
			held, err := e.pools.AssetsOf(alloc.Market, sp.ID)
			if err != nil {
				return err
			}
			projected := new(big.Int).Add(held, alloc.Amount)
			if projected.Cmp(cap) > 0 {
				return ErrPoolCapExceeded
			}
		}
		if _, err := e.pools.Deposit(sp.ID, alloc.Market, alloc.Amount, sp.ID); err != nil {
			return err
		}
	}
	return nil
}

// PreviewDeposit projects the shares minted for an asset amount.
func (e *Engine) PreviewDeposit(id common.Address, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	sp, err := e.get(id)
	if err != nil {
		return nil, err
	}
	ta, effShares, _, err := e.simulateFees(sp)
	if err != nil {
		return nil, err
	}
	return pool.SharesFromAssets(amount, pool.Ledger{TotalShares: effShares, TotalAssets: ta}, pool.RoundDown), nil
}

// PreviewMint projects the asset cost of minting shares, rounded up.
func (e *Engine) PreviewMint(id common.Address, shares *big.Int) (*big.Int, error) {
	sp, err := e.get(id)
	if err != nil {
		return nil, err
	}
	ta, effShares, _, err := e.simulateFees(sp)
	if err != nil {
		return nil, err
	}
	return pool.AssetsFromShares(shares, pool.Ledger{TotalShares: effShares, TotalAssets: ta}, pool.RoundUp), nil
}

// PreviewWithdraw projects the shares burned to release an asset amount,
// rounded up.
func (e *Engine) PreviewWithdraw(id common.Address, amount *big.Int) (*big.Int, error) {
	sp, err := e.get(id)
	if err != nil {
		return nil, err
	}
	ta, effShares, _, err := e.simulateFees(sp)
	if err != nil {
		return nil, err
	}
	return pool.SharesFromAssets(amount, pool.Ledger{TotalShares: effShares, TotalAssets: ta}, pool.RoundUp), nil
}

// PreviewRedeem projects the assets released by burning shares.
func (e *Engine) PreviewRedeem(id common.Address, shares *big.Int) (*big.Int, error) {
	sp, err := e.get(id)
	if err != nil {
		return nil, err
	}
	ta, effShares, _, err := e.simulateFees(sp)
	if err != nil {
		return nil, err
	}
	return pool.AssetsFromShares(shares, pool.Ledger{TotalShares: effShares, TotalAssets: ta}, pool.RoundDown), nil
}

// ConvertToShares is the cap- and fee-agnostic share quote.
func (e *Engine) ConvertToShares(id common.Address, amount *big.Int) (*big.Int, error) {
	return e.PreviewDeposit(id, amount)
}

// ConvertToAssets is the cap- and fee-agnostic asset quote.
func (e *Engine) ConvertToAssets(id common.Address, shares *big.Int) (*big.Int, error) {
	return e.PreviewRedeem(id, shares)
}

// SharesOf returns addr's share balance in the vault.
func (e *Engine) SharesOf(id, addr common.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	return e.sharesOf(id, addr)
}

func (e *Engine) sharesOf(id, addr common.Address) (*big.Int, error) {
	shares, err := e.state.SuperSharesOf(id, addr)
	if err != nil {
		return nil, err
	}
	if shares == nil {
		return big.NewInt(0), nil
	}
	return shares, nil
}

func removeCap(caps []PoolCap, market types.MarketID) []PoolCap {
	for i := range caps {
		if caps[i].Market == market {
			last := len(caps) - 1
			caps[i] = caps[last]
			return caps[:last]
		}
	}
	return caps
}

func removeMarket(queue []types.MarketID, market types.MarketID) []types.MarketID {
	out := queue[:0]
	for _, id := range queue {
		if id != market {
			out = append(out, id)
		}
	}
	return out
}

func validQueue(sp *SuperPool, queue []types.MarketID) bool {
	if len(queue) != len(sp.Caps) {
		return false
	}
	seen := make(map[types.MarketID]bool, len(queue))
	for _, id := range queue {
		if seen[id] || !sp.isMember(id) {
			return false
		}
		seen[id] = true
	}
	return true
}
