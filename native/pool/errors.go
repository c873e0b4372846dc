package pool

import "errors"

var (
	ErrNilState              = errors.New("pool: state not configured")
	ErrMarketNotFound        = errors.New("pool: market not found")
	ErrMarketExists          = errors.New("pool: market already deployed with identical parameters")
	ErrUnknownRateModel      = errors.New("pool: rate model not registered")
	ErrInvalidAmount         = errors.New("pool: amount must be positive")
	ErrZeroShares            = errors.New("pool: computed shares round to zero")
	ErrDepositCapExceeded    = errors.New("pool: deposit cap exceeded")
	ErrBorrowCapExceeded     = errors.New("pool: borrow cap exceeded")
	ErrInsufficientShares    = errors.New("pool: insufficient share balance")
	ErrInsufficientLiquidity = errors.New("pool: insufficient market liquidity")
	ErrNotDispatcher         = errors.New("pool: caller is not the position dispatcher")
	ErrNotAuthorized         = errors.New("pool: caller is not owner or approved operator")
	ErrNoDebt                = errors.New("pool: no outstanding debt to repay")
	ErrPaused                = errors.New("pool: action is paused")
)
