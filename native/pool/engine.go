package pool

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"isolend/core/types"
	"isolend/native/bank"
)

type engineState interface {
	GetMarket(id types.MarketID) (*Market, error)
	PutMarket(market *Market) error
	DepositSharesOf(id types.MarketID, addr common.Address) (*big.Int, error)
	SetDepositShares(id types.MarketID, addr common.Address, shares *big.Int) error
	BorrowSharesOf(id types.MarketID, addr common.Address) (*big.Int, error)
	SetBorrowShares(id types.MarketID, addr common.Address, shares *big.Int) error
	IsOperator(owner, operator common.Address) (bool, error)
	SetOperator(owner, operator common.Address, approved bool) error
}

// Engine owns per-market share accounting and interest accrual. Borrow-side
// mutations are restricted to the position dispatcher; deposit-side
// operations are open to any holder.
type Engine struct {
	state          engineState
	assets         *bank.Ledger
	rates          map[string]RateModel
	moduleAddress  common.Address
	dispatcher     common.Address
	feeRecipient   common.Address
	interestFeeBps uint64
	pauses         ActionPauses
	timestamp      uint64
}

// NewEngine constructs a pool engine holding custody at the derived module
// address.
func NewEngine(assets *bank.Ledger) *Engine {
	return &Engine{
		assets:        assets,
		rates:         make(map[string]RateModel),
		moduleAddress: types.ModuleAddress("pool"),
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetTimestamp records the host-supplied timestamp used for accrual deltas.
func (e *Engine) SetTimestamp(ts uint64) {
	if e == nil {
		return
	}
	e.timestamp = ts
}

// SetDispatcher registers the sole address permitted to call Borrow, Repay
// and WriteOff.
func (e *Engine) SetDispatcher(addr common.Address) {
	if e == nil {
		return
	}
	e.dispatcher = addr
}

// SetInterestFee configures the origination fee minted to the recipient as
// deposit shares whenever borrow-side interest accrues.
func (e *Engine) SetInterestFee(bps uint64, recipient common.Address) {
	if e == nil {
		return
	}
	e.interestFeeBps = bps
	e.feeRecipient = recipient
}

// SetPauses installs the per-flow pause switches.
func (e *Engine) SetPauses(p ActionPauses) {
	if e == nil {
		return
	}
	e.pauses = p
}

// RegisterRateModel makes a rate strategy available to markets under the
// given key. Markets reference strategies by key so the curve backing a
// market can be inspected without dereferencing code.
func (e *Engine) RegisterRateModel(key string, model RateModel) {
	if e == nil || model == nil {
		return
	}
	e.rates[strings.TrimSpace(key)] = model
}

// ModuleAddress returns the custody address holding pooled assets.
func (e *Engine) ModuleAddress() common.Address { return e.moduleAddress }

// InitMarket deploys a new isolated market. The identifier is derived from
// the parameters; an identical re-deployment is rejected as a duplicate.
func (e *Engine) InitMarket(owner common.Address, asset types.AssetID, rateModel string, depositCap, borrowCap *big.Int) (types.MarketID, error) {
	if e == nil || e.state == nil {
		return types.MarketID{}, ErrNilState
	}
	if !asset.Valid() {
		return types.MarketID{}, bank.ErrInvalidAsset
	}
	rateModel = strings.TrimSpace(rateModel)
	if _, ok := e.rates[rateModel]; !ok {
		return types.MarketID{}, ErrUnknownRateModel
	}
	id := types.DeriveMarketID(owner, asset, rateModel)
	existing, err := e.state.GetMarket(id)
	if err != nil {
		return types.MarketID{}, err
	}
	if existing != nil {
		return types.MarketID{}, ErrMarketExists
	}
	market := &Market{
		ID:          id,
		Owner:       owner,
		Asset:       asset.Normalize(),
		RateModel:   rateModel,
		LastAccrual: e.timestamp,
	}
	if depositCap != nil {
		market.DepositCap = new(big.Int).Set(depositCap)
	}
	if borrowCap != nil {
		market.BorrowCap = new(big.Int).Set(borrowCap)
	}
	market.normalize()
	return id, e.state.PutMarket(market)
}

// Market loads a market by identifier.
func (e *Engine) Market(id types.MarketID) (*Market, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	market, err := e.state.GetMarket(id)
	if err != nil {
		return nil, err
	}
	if market == nil {
		return nil, ErrMarketNotFound
	}
	market.normalize()
	return market, nil
}

// Accrue applies pending interest to the market. Calling twice within one
// timestamp is a no-op on the second call.
func (e *Engine) Accrue(id types.MarketID) error {
	market, err := e.Market(id)
	if err != nil {
		return err
	}
	feeShares, err := e.accrue(market)
	if err != nil {
		return err
	}
	if err := e.creditFeeShares(market, feeShares); err != nil {
		return err
	}
	return e.state.PutMarket(market)
}

// accrue mutates the market in place and returns the fee shares owed to the
// fee recipient. The caller persists both.
func (e *Engine) accrue(market *Market) (*big.Int, error) {
	elapsed := uint64(0)
	if e.timestamp > market.LastAccrual {
		elapsed = e.timestamp - market.LastAccrual
	}
	if elapsed == 0 {
		return big.NewInt(0), nil
	}
	model, ok := e.rates[market.RateModel]
	if !ok {
		return nil, ErrUnknownRateModel
	}
	market.LastAccrual = e.timestamp
	if market.Borrow.TotalAssets.Sign() == 0 {
		return big.NewInt(0), nil
	}

	rate := model.Rate(market.Borrow.TotalAssets, market.Liquidity())
	interest := computeInterest(market.Borrow.TotalAssets, rate, elapsed)
	if interest.Sign() == 0 {
		return big.NewInt(0), nil
	}

	// Fee shares are priced before interest is applied so they do not earn
	// a slice of the very interest that minted them.
	feeShares := big.NewInt(0)
	if e.interestFeeBps > 0 {
		feeAssets := new(big.Int).Mul(interest, new(big.Int).SetUint64(e.interestFeeBps))
		feeAssets.Quo(feeAssets, big.NewInt(10_000))
		if feeAssets.Sign() > 0 {
			feeShares = SharesFromAssets(feeAssets, market.Deposit, RoundDown)
		}
	}

	market.Borrow.TotalAssets = new(big.Int).Add(market.Borrow.TotalAssets, interest)
	market.Deposit.TotalAssets = new(big.Int).Add(market.Deposit.TotalAssets, interest)
	if feeShares.Sign() > 0 {
		market.Deposit.TotalShares = new(big.Int).Add(market.Deposit.TotalShares, feeShares)
	}
	return feeShares, nil
}

func (e *Engine) creditFeeShares(market *Market, feeShares *big.Int) error {
	if feeShares == nil || feeShares.Sign() == 0 {
		return nil
	}
	held, err := e.depositSharesOf(market.ID, e.feeRecipient)
	if err != nil {
		return err
	}
	return e.state.SetDepositShares(market.ID, e.feeRecipient, new(big.Int).Add(held, feeShares))
}

// SimulateAccrual returns a copy of the market with pending interest applied
// without mutating stored state. Used by read paths that must price shares
// as of now.
func (e *Engine) SimulateAccrual(id types.MarketID) (*Market, error) {
	market, err := e.Market(id)
	if err != nil {
		return nil, err
	}
	preview := market.Clone()
	if _, err := e.accrue(preview); err != nil {
		return nil, err
	}
	return preview, nil
}

// Deposit pulls assets from the caller and mints deposit shares to the
// receiver.
func (e *Engine) Deposit(caller common.Address, id types.MarketID, amount *big.Int, receiver common.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if e.pauses.Supply {
		return nil, ErrPaused
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	market, err := e.Market(id)
	if err != nil {
		return nil, err
	}
	feeShares, err := e.accrue(market)
	if err != nil {
		return nil, err
	}

	shares := SharesFromAssets(amount, market.Deposit, RoundDown)
	if shares.Sign() == 0 {
		return nil, ErrZeroShares
	}
	newTotal := new(big.Int).Add(market.Deposit.TotalAssets, amount)
	if market.DepositCap.Sign() > 0 && newTotal.Cmp(market.DepositCap) > 0 {
		return nil, ErrDepositCapExceeded
	}

	if err := e.assets.Transfer(market.Asset, caller, e.moduleAddress, amount); err != nil {
		return nil, err
	}

	held, err := e.depositSharesOf(id, receiver)
	if err != nil {
		return nil, err
	}
	if err := e.state.SetDepositShares(id, receiver, new(big.Int).Add(held, shares)); err != nil {
		return nil, err
	}

	market.Deposit.TotalAssets = newTotal
	market.Deposit.TotalShares = new(big.Int).Add(market.Deposit.TotalShares, shares)
	if err := e.creditFeeShares(market, feeShares); err != nil {
		return nil, err
	}
	if err := e.state.PutMarket(market); err != nil {
		return nil, err
	}
	return shares, nil
}

// Withdraw burns the owner's shares covering amount and releases the assets
// to the receiver. The shares burned are returned. A caller other than the
// owner must be an approved operator.
func (e *Engine) Withdraw(caller common.Address, id types.MarketID, amount *big.Int, receiver, owner common.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if e.pauses.Withdraw {
		return nil, ErrPaused
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	market, err := e.Market(id)
	if err != nil {
		return nil, err
	}
	feeShares, err := e.accrue(market)
	if err != nil {
		return nil, err
	}
	shares := SharesFromAssets(amount, market.Deposit, RoundUp)
	if err := e.redeemShares(market, caller, owner, receiver, shares, amount, feeShares); err != nil {
		return nil, err
	}
	return shares, nil
}

// Redeem burns exactly shares from the owner and releases the corresponding
// assets to the receiver. The asset amount is returned.
func (e *Engine) Redeem(caller common.Address, id types.MarketID, shares *big.Int, receiver, owner common.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if e.pauses.Withdraw {
		return nil, ErrPaused
	}
	if shares == nil || shares.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	market, err := e.Market(id)
	if err != nil {
		return nil, err
	}
	feeShares, err := e.accrue(market)
	if err != nil {
		return nil, err
	}
	amount := AssetsFromShares(shares, market.Deposit, RoundDown)
	if amount.Sign() == 0 {
		return nil, ErrZeroShares
	}
	if err := e.redeemShares(market, caller, owner, receiver, new(big.Int).Set(shares), amount, feeShares); err != nil {
		return nil, err
	}
	return amount, nil
}

func (e *Engine) redeemShares(market *Market, caller, owner, receiver common.Address, shares, amount, feeShares *big.Int) error {
	if caller != owner {
		approved, err := e.state.IsOperator(owner, caller)
		if err != nil {
			return err
		}
		if !approved {
			return ErrNotAuthorized
		}
	}
	held, err := e.depositSharesOf(market.ID, owner)
	if err != nil {
		return err
	}
	if held.Cmp(shares) < 0 {
		return ErrInsufficientShares
	}
	if market.Liquidity().Cmp(amount) < 0 {
		return ErrInsufficientLiquidity
	}

	if err := e.state.SetDepositShares(market.ID, owner, new(big.Int).Sub(held, shares)); err != nil {
		return err
	}
	market.Deposit.TotalShares = new(big.Int).Sub(market.Deposit.TotalShares, shares)
	market.Deposit.TotalAssets = new(big.Int).Sub(market.Deposit.TotalAssets, amount)

	if err := e.assets.Transfer(market.Asset, e.moduleAddress, receiver, amount); err != nil {
		return err
	}
	if err := e.creditFeeShares(market, feeShares); err != nil {
		return err
	}
	return e.state.PutMarket(market)
}

// ApproveOperator grants or revokes the operator's right to withdraw the
// owner's shares.
func (e *Engine) ApproveOperator(owner, operator common.Address, approved bool) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	return e.state.SetOperator(owner, operator, approved)
}

// Borrow issues debt shares to the position and pays the borrowed assets to
// the position's custody address. Restricted to the dispatcher.
func (e *Engine) Borrow(caller common.Address, id types.MarketID, position common.Address, amount *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if caller != e.dispatcher {
		return nil, ErrNotDispatcher
	}
	if e.pauses.Borrow {
		return nil, ErrPaused
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	market, err := e.Market(id)
	if err != nil {
		return nil, err
	}
	feeShares, err := e.accrue(market)
	if err != nil {
		return nil, err
	}

	shares := SharesFromAssets(amount, market.Borrow, RoundUp)
	if shares.Sign() == 0 {
		return nil, ErrZeroShares
	}
	newTotal := new(big.Int).Add(market.Borrow.TotalAssets, amount)
	if market.BorrowCap.Sign() > 0 && newTotal.Cmp(market.BorrowCap) > 0 {
		return nil, ErrBorrowCapExceeded
	}
	if market.Liquidity().Cmp(amount) < 0 {
		return nil, ErrInsufficientLiquidity
	}

	held, err := e.borrowSharesOf(id, position)
	if err != nil {
		return nil, err
	}
	if err := e.state.SetBorrowShares(id, position, new(big.Int).Add(held, shares)); err != nil {
		return nil, err
	}
	market.Borrow.TotalAssets = newTotal
	market.Borrow.TotalShares = new(big.Int).Add(market.Borrow.TotalShares, shares)

	if err := e.assets.Transfer(market.Asset, e.moduleAddress, position, amount); err != nil {
		return nil, err
	}
	if err := e.creditFeeShares(market, feeShares); err != nil {
		return nil, err
	}
	if err := e.state.PutMarket(market); err != nil {
		return nil, err
	}
	return shares, nil
}

// Repay pulls assets from the position's custody address and burns debt
// shares. Passing RepayMax settles the entire outstanding debt. The burned
// share count is returned. Restricted to the dispatcher.
func (e *Engine) Repay(caller common.Address, id types.MarketID, position common.Address, amount *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if caller != e.dispatcher {
		return nil, ErrNotDispatcher
	}
	if e.pauses.Repay {
		return nil, ErrPaused
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	market, err := e.Market(id)
	if err != nil {
		return nil, err
	}
	feeShares, err := e.accrue(market)
	if err != nil {
		return nil, err
	}

	held, err := e.borrowSharesOf(id, position)
	if err != nil {
		return nil, err
	}
	if held.Sign() == 0 {
		return nil, ErrNoDebt
	}
	debt := AssetsFromShares(held, market.Borrow, RoundUp)

	var shares *big.Int
	if amount.Cmp(RepayMax) == 0 || amount.Cmp(debt) >= 0 {
		amount = debt
		shares = new(big.Int).Set(held)
	} else {
		shares = SharesFromAssets(amount, market.Borrow, RoundDown)
		if shares.Sign() == 0 {
			return nil, ErrZeroShares
		}
	}

	if err := e.assets.Transfer(market.Asset, position, e.moduleAddress, amount); err != nil {
		return nil, err
	}
	if err := e.state.SetBorrowShares(id, position, new(big.Int).Sub(held, shares)); err != nil {
		return nil, err
	}
	market.Borrow.TotalShares = new(big.Int).Sub(market.Borrow.TotalShares, shares)
	market.Borrow.TotalAssets = new(big.Int).Sub(market.Borrow.TotalAssets, amount)
	if market.Borrow.TotalAssets.Sign() < 0 {
		market.Borrow.TotalAssets = big.NewInt(0)
	}

	if err := e.creditFeeShares(market, feeShares); err != nil {
		return nil, err
	}
	if err := e.state.PutMarket(market); err != nil {
		return nil, err
	}
	return shares, nil
}

// WriteOff force-closes the position's debt without repayment, socialising
// the loss into the deposit ledger. Restricted to the dispatcher; callers
// gate it on the bad-debt valuation check.
func (e *Engine) WriteOff(caller common.Address, id types.MarketID, position common.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if caller != e.dispatcher {
		return nil, ErrNotDispatcher
	}
	market, err := e.Market(id)
	if err != nil {
		return nil, err
	}
	feeShares, err := e.accrue(market)
	if err != nil {
		return nil, err
	}

	held, err := e.borrowSharesOf(id, position)
	if err != nil {
		return nil, err
	}
	if held.Sign() == 0 {
		return nil, ErrNoDebt
	}
	loss := AssetsFromShares(held, market.Borrow, RoundUp)
	if loss.Cmp(market.Borrow.TotalAssets) > 0 {
		loss = new(big.Int).Set(market.Borrow.TotalAssets)
	}

	if err := e.state.SetBorrowShares(id, position, big.NewInt(0)); err != nil {
		return nil, err
	}
	market.Borrow.TotalShares = new(big.Int).Sub(market.Borrow.TotalShares, held)
	market.Borrow.TotalAssets = new(big.Int).Sub(market.Borrow.TotalAssets, loss)
	market.Deposit.TotalAssets = new(big.Int).Sub(market.Deposit.TotalAssets, loss)
	if market.Deposit.TotalAssets.Sign() < 0 {
		market.Deposit.TotalAssets = big.NewInt(0)
	}

	if err := e.creditFeeShares(market, feeShares); err != nil {
		return nil, err
	}
	if err := e.state.PutMarket(market); err != nil {
		return nil, err
	}
	return loss, nil
}

// AssetsOf returns the withdrawable asset value of the holder's deposit
// shares, rounded down.
func (e *Engine) AssetsOf(id types.MarketID, addr common.Address) (*big.Int, error) {
	market, err := e.Market(id)
	if err != nil {
		return nil, err
	}
	held, err := e.depositSharesOf(id, addr)
	if err != nil {
		return nil, err
	}
	return AssetsFromShares(held, market.Deposit, RoundDown), nil
}

// BorrowsOf returns the holder's outstanding debt in assets, rounded up
// against the borrower.
func (e *Engine) BorrowsOf(id types.MarketID, addr common.Address) (*big.Int, error) {
	market, err := e.Market(id)
	if err != nil {
		return nil, err
	}
	held, err := e.borrowSharesOf(id, addr)
	if err != nil {
		return nil, err
	}
	return AssetsFromShares(held, market.Borrow, RoundUp), nil
}

// DepositSharesOf returns the holder's raw deposit share balance.
func (e *Engine) DepositSharesOf(id types.MarketID, addr common.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	return e.depositSharesOf(id, addr)
}

// BorrowSharesOf returns the holder's raw borrow share balance.
func (e *Engine) BorrowSharesOf(id types.MarketID, addr common.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	return e.borrowSharesOf(id, addr)
}

// GetPoolData projects the market for read-only consumers with pending
// interest simulated in.
func (e *Engine) GetPoolData(id types.MarketID) (*PoolData, error) {
	market, err := e.SimulateAccrual(id)
	if err != nil {
		return nil, err
	}
	return &PoolData{
		ID:            market.ID,
		Owner:         market.Owner,
		Asset:         market.Asset,
		RateModel:     market.RateModel,
		DepositShares: market.Deposit.TotalShares,
		DepositAssets: market.Deposit.TotalAssets,
		BorrowShares:  market.Borrow.TotalShares,
		BorrowAssets:  market.Borrow.TotalAssets,
		DepositCap:    market.DepositCap,
		BorrowCap:     market.BorrowCap,
		LastAccrual:   market.LastAccrual,
	}, nil
}

func (e *Engine) depositSharesOf(id types.MarketID, addr common.Address) (*big.Int, error) {
	shares, err := e.state.DepositSharesOf(id, addr)
	if err != nil {
		return nil, err
	}
	if shares == nil {
		return big.NewInt(0), nil
	}
	return shares, nil
}

func (e *Engine) borrowSharesOf(id types.MarketID, addr common.Address) (*big.Int, error) {
	shares, err := e.state.BorrowSharesOf(id, addr)
	if err != nil {
		return nil, err
	}
	if shares == nil {
		return big.NewInt(0), nil
	}
	return shares, nil
}
