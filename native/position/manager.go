package position

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"isolend/core/types"
	"isolend/native/bank"
	"isolend/native/pool"
	"isolend/native/risk"
)

// ExecTarget is a protocol-registered callable a position may invoke via the
// Exec action. Targets are sandboxed behind the allow-list: a position can
// only reach code the protocol owner has explicitly admitted.
type ExecTarget interface {
	Call(position common.Address, selector [4]byte, data []byte) error
}

type allowKey struct {
	target   common.Address
	selector [4]byte
}

// Manager is the sole mutation entry point for positions. It verifies
// authorization, dispatches tagged actions, and enforces the post-batch
// health check.
type Manager struct {
	*Store

	pools    *pool.Engine
	assets   *bank.Ledger
	risk     *risk.Module
	admin    common.Address
	treasury common.Address

	moduleAddress   common.Address
	liquidationFee  uint64
	liquidatePaused bool

	execTargets  map[common.Address]ExecTarget
	allowedCalls map[allowKey]bool
	spenders     map[common.Address]bool
}

// NewManager constructs the action dispatcher. liquidationFeeBps is skimmed
// from seized collateral into the treasury.
func NewManager(store *Store, pools *pool.Engine, assets *bank.Ledger, admin, treasury common.Address, liquidationFeeBps uint64) *Manager {
	return &Manager{
		Store:          store,
		pools:          pools,
		assets:         assets,
		admin:          admin,
		treasury:       treasury,
		moduleAddress:  types.ModuleAddress("positionmanager"),
		liquidationFee: liquidationFeeBps,
		execTargets:    make(map[common.Address]ExecTarget),
		allowedCalls:   make(map[allowKey]bool),
		spenders:       make(map[common.Address]bool),
	}
}

// SetRiskModule wires the risk module. Separate from the constructor because
// the risk module itself depends on the position store.
func (m *Manager) SetRiskModule(module *risk.Module) { m.risk = module }

// SetLiquidatePaused toggles the liquidation pause switch. Admin-only.
func (m *Manager) SetLiquidatePaused(caller common.Address, paused bool) error {
	if caller != m.admin {
		return ErrNotAdmin
	}
	m.liquidatePaused = paused
	return nil
}

// ModuleAddress returns the dispatcher identity presented to the pool
// engine for borrow-side calls.
func (m *Manager) ModuleAddress() common.Address { return m.moduleAddress }

// RegisterExecTarget admits a callable target. Admin-only wiring.
func (m *Manager) RegisterExecTarget(caller, target common.Address, impl ExecTarget) error {
	if caller != m.admin {
		return ErrNotAdmin
	}
	m.execTargets[target] = impl
	return nil
}

// SetAllowedCall toggles an (target, selector) pair on the exec allow-list.
func (m *Manager) SetAllowedCall(caller, target common.Address, selector [4]byte, allowed bool) error {
	if caller != m.admin {
		return ErrNotAdmin
	}
	m.allowedCalls[allowKey{target: target, selector: selector}] = allowed
	return nil
}

// SetAllowedSpender toggles a spender on the approve allow-list.
func (m *Manager) SetAllowedSpender(caller, spender common.Address, allowed bool) error {
	if caller != m.admin {
		return ErrNotAdmin
	}
	m.spenders[spender] = allowed
	return nil
}

// OwnerOf returns the owner of the position.
func (m *Manager) OwnerOf(position common.Address) (common.Address, error) {
	p, err := m.Get(position)
	if err != nil {
		return common.Address{}, err
	}
	if p == nil {
		return common.Address{}, ErrUnknownPosition
	}
	return p.Owner, nil
}

// IsAuthorized reports whether addr may act on the position.
func (m *Manager) IsAuthorized(position, addr common.Address) (bool, error) {
	p, err := m.Get(position)
	if err != nil {
		return false, err
	}
	if p == nil {
		return false, ErrUnknownPosition
	}
	if p.Owner == addr {
		return true, nil
	}
	return m.state.IsAuth(position, addr)
}

// ToggleAuth flips the operator's authorization on the position. Owner-only.
func (m *Manager) ToggleAuth(caller, position, operator common.Address) error {
	p, err := m.Get(position)
	if err != nil {
		return err
	}
	if p == nil {
		return ErrUnknownPosition
	}
	if caller != p.Owner {
		return ErrNotOwner
	}
	current, err := m.state.IsAuth(position, operator)
	if err != nil {
		return err
	}
	return m.state.SetAuth(position, operator, !current)
}

// Process applies a single action and runs the post-action health check.
func (m *Manager) Process(caller, position common.Address, action Action) error {
	return m.ProcessBatch(caller, position, []Action{action})
}

// ProcessBatch applies the actions in order. Authorization is checked per
// action; the health check runs once after the whole batch so intermediate
// states may dip below the threshold as long as the batch ends healthy.
func (m *Manager) ProcessBatch(caller, position common.Address, actions []Action) error {
	if len(actions) == 0 {
		return ErrEmptyBatch
	}
	for _, action := range actions {
		if err := m.apply(caller, position, action); err != nil {
			return err
		}
	}
	healthy, err := m.risk.IsHealthy(position)
	if err != nil {
		return err
	}
	if !healthy {
		return ErrHealthCheckFailed
	}
	return nil
}

func (m *Manager) apply(caller, position common.Address, action Action) error {
	if action.Op == OpNewPosition {
		return m.newPosition(position, action)
	}

	p, err := m.Get(position)
	if err != nil {
		return err
	}
	if p == nil {
		return ErrUnknownPosition
	}
	if caller != p.Owner {
		authorized, err := m.state.IsAuth(position, caller)
		if err != nil {
			return err
		}
		if !authorized {
			return ErrNotAuthorized
		}
	}

	switch action.Op {
	case OpDeposit:
		if action.Amount == nil || action.Amount.Sign() <= 0 {
			return ErrInvalidAmount
		}
		return m.assets.Transfer(action.Asset, caller, position, action.Amount)
	case OpWithdraw:
		if action.Amount == nil || action.Amount.Sign() <= 0 {
			return ErrInvalidAmount
		}
		return m.assets.Transfer(action.Asset, position, action.Target, action.Amount)
	case OpAddCollateralType:
		if err := p.AddAsset(action.Asset); err != nil {
			return err
		}
		return m.put(p)
	case OpRemoveCollateralType:
		p.RemoveAsset(action.Asset)
		return m.put(p)
	case OpBorrow:
		if _, err := m.pools.Borrow(m.moduleAddress, action.Market, position, action.Amount); err != nil {
			return err
		}
		if err := p.AddDebt(action.Market); err != nil {
			return err
		}
		return m.put(p)
	case OpRepay:
		if _, err := m.pools.Repay(m.moduleAddress, action.Market, position, action.Amount); err != nil {
			return err
		}
		return m.settleDebtMarket(p, action.Market)
	case OpApprove:
		if !m.spenders[action.Target] {
			return ErrSpenderNotAllowed
		}
		return m.assets.Approve(action.Asset, position, action.Target, action.Amount)
	case OpExec:
		if !m.allowedCalls[allowKey{target: action.Target, selector: action.Selector}] {
			return ErrCallNotAllowed
		}
		impl, ok := m.execTargets[action.Target]
		if !ok {
			return ErrUnknownTarget
		}
		return impl.Call(position, action.Selector, action.Data)
	}
	return ErrUnknownOp
}

func (m *Manager) newPosition(position common.Address, action Action) error {
	if types.DerivePositionAddress(action.Owner, action.Salt) != position {
		return ErrInvalidDerivation
	}
	existing, err := m.Get(position)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrPositionExists
	}
	return m.put(&Position{Addr: position, Owner: action.Owner})
}

// settleDebtMarket drops the market from the debt set once the position owes
// it nothing.
func (m *Manager) settleDebtMarket(p *Position, market types.MarketID) error {
	remaining, err := m.pools.BorrowSharesOf(market, p.Addr)
	if err != nil {
		return err
	}
	if remaining.Sign() == 0 {
		p.RemoveDebt(market)
	}
	return m.put(p)
}

// Liquidate repays part of an unhealthy position's debt in exchange for
// discounted collateral. The risk module validates legality; the position
// must be restored to health by the call.
func (m *Manager) Liquidate(caller, position common.Address, debts []risk.DebtRepayment, seized []risk.AssetSeizure) error {
	if m.liquidatePaused {
		return ErrLiquidatePaused
	}
	p, err := m.Get(position)
	if err != nil {
		return err
	}
	if p == nil {
		return ErrUnknownPosition
	}

	// Settle pending interest first so the validity checks price current
	// debt, not debt as of the last touch.
	for _, id := range p.Debts {
		if err := m.pools.Accrue(id); err != nil {
			return err
		}
	}
	if err := m.risk.ValidateLiquidation(position, debts, seized); err != nil {
		return err
	}

	for _, repayment := range debts {
		market, err := m.pools.Market(repayment.Market)
		if err != nil {
			return err
		}
		if err := m.assets.Transfer(market.Asset, caller, position, repayment.Amount); err != nil {
			return err
		}
		if _, err := m.pools.Repay(m.moduleAddress, repayment.Market, position, repayment.Amount); err != nil {
			return err
		}
		if err := m.settleDebtMarket(p, repayment.Market); err != nil {
			return err
		}
	}

	for _, seizure := range seized {
		if seizure.Amount == nil || seizure.Amount.Sign() <= 0 {
			return ErrInvalidAmount
		}
		fee := new(big.Int).Mul(seizure.Amount, new(big.Int).SetUint64(m.liquidationFee))
		fee.Quo(fee, big.NewInt(10_000))
		if fee.Sign() > 0 {
			if err := m.assets.Transfer(seizure.Asset, position, m.treasury, fee); err != nil {
				return err
			}
		}
		payout := new(big.Int).Sub(seizure.Amount, fee)
		if payout.Sign() > 0 {
			if err := m.assets.Transfer(seizure.Asset, position, caller, payout); err != nil {
				return err
			}
		}
	}

	healthy, err := m.risk.IsHealthy(position)
	if err != nil {
		return err
	}
	if !healthy {
		return ErrHealthCheckFailed
	}
	return nil
}

// LiquidateBadDebt force-closes a position whose debt value exceeds its
// collateral value. Remaining collateral is swept to the treasury and the
// unrecoverable debt is written off against each market's depositors. Gated
// on the bad-debt valuation alone, never on caller identity.
func (m *Manager) LiquidateBadDebt(caller, position common.Address) error {
	if m.liquidatePaused {
		return ErrLiquidatePaused
	}
	p, err := m.Get(position)
	if err != nil {
		return err
	}
	if p == nil {
		return ErrUnknownPosition
	}
	for _, id := range p.Debts {
		if err := m.pools.Accrue(id); err != nil {
			return err
		}
	}
	if err := m.risk.ValidateBadDebt(position); err != nil {
		return err
	}

	for _, asset := range p.Assets {
		balance, err := m.assets.BalanceOf(asset, position)
		if err != nil {
			return err
		}
		if balance.Sign() > 0 {
			if err := m.assets.Transfer(asset, position, m.treasury, balance); err != nil {
				return err
			}
		}
	}
	for _, id := range p.Debts {
		if _, err := m.pools.WriteOff(m.moduleAddress, id, position); err != nil {
			return err
		}
	}

	p.Assets = nil
	p.Debts = nil
	return m.put(p)
}
