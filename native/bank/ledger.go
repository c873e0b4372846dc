package bank

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"isolend/core/types"
)

var (
	ErrNilState              = errors.New("bank: state not configured")
	ErrInvalidAmount         = errors.New("bank: amount must be positive")
	ErrInvalidAsset          = errors.New("bank: asset identifier required")
	ErrInsufficientBalance   = errors.New("bank: insufficient balance")
	ErrInsufficientAllowance = errors.New("bank: insufficient allowance")
)

// State is the persistence surface the ledger operates against.
type State interface {
	Balance(asset types.AssetID, addr common.Address) (*big.Int, error)
	SetBalance(asset types.AssetID, addr common.Address, amount *big.Int) error
	Allowance(asset types.AssetID, owner, spender common.Address) (*big.Int, error)
	SetAllowance(asset types.AssetID, owner, spender common.Address, amount *big.Int) error
}

// Ledger moves asset balances between protocol participants. Every transfer
// of user capital in the protocol goes through here so custody is observable
// in one place.
type Ledger struct {
	state State
}

func NewLedger(state State) *Ledger {
	return &Ledger{state: state}
}

// BalanceOf returns the asset balance held by addr. Missing entries read as
// zero.
func (l *Ledger) BalanceOf(asset types.AssetID, addr common.Address) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, ErrNilState
	}
	balance, err := l.state.Balance(asset.Normalize(), addr)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		return big.NewInt(0), nil
	}
	return balance, nil
}

// Mint credits newly issued units to addr. Reserved for genesis allocation
// and faucet tooling.
func (l *Ledger) Mint(asset types.AssetID, addr common.Address, amount *big.Int) error {
	if l == nil || l.state == nil {
		return ErrNilState
	}
	if !asset.Valid() {
		return ErrInvalidAsset
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	balance, err := l.BalanceOf(asset, addr)
	if err != nil {
		return err
	}
	return l.state.SetBalance(asset.Normalize(), addr, new(big.Int).Add(balance, amount))
}

// Transfer moves amount of asset from one holder to another.
func (l *Ledger) Transfer(asset types.AssetID, from, to common.Address, amount *big.Int) error {
	if l == nil || l.state == nil {
		return ErrNilState
	}
	if !asset.Valid() {
		return ErrInvalidAsset
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	fromBalance, err := l.BalanceOf(asset, from)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	toBalance, err := l.BalanceOf(asset, to)
	if err != nil {
		return err
	}
	if err := l.state.SetBalance(asset.Normalize(), from, new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	return l.state.SetBalance(asset.Normalize(), to, new(big.Int).Add(toBalance, amount))
}

// Approve grants spender the right to move up to amount of owner's asset via
// TransferFrom. A zero amount revokes the grant.
func (l *Ledger) Approve(asset types.AssetID, owner, spender common.Address, amount *big.Int) error {
	if l == nil || l.state == nil {
		return ErrNilState
	}
	if !asset.Valid() {
		return ErrInvalidAsset
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return l.state.SetAllowance(asset.Normalize(), owner, spender, new(big.Int).Set(amount))
}

// AllowanceOf returns the remaining allowance granted by owner to spender.
func (l *Ledger) AllowanceOf(asset types.AssetID, owner, spender common.Address) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, ErrNilState
	}
	allowance, err := l.state.Allowance(asset.Normalize(), owner, spender)
	if err != nil {
		return nil, err
	}
	if allowance == nil {
		return big.NewInt(0), nil
	}
	return allowance, nil
}

// TransferFrom moves owner's funds on behalf of spender, consuming the
// spender's allowance.
func (l *Ledger) TransferFrom(asset types.AssetID, spender, from, to common.Address, amount *big.Int) error {
	if l == nil || l.state == nil {
		return ErrNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	allowance, err := l.AllowanceOf(asset, from, spender)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	if err := l.Transfer(asset, from, to, amount); err != nil {
		return err
	}
	return l.state.SetAllowance(asset.Normalize(), from, spender, new(big.Int).Sub(allowance, amount))
}
