package risk

import "errors"

var (
	ErrNilState         = errors.New("risk: state not configured")
	ErrNotMarketOwner   = errors.New("risk: caller is not the market owner")
	ErrNotAdmin         = errors.New("risk: caller is not the protocol admin")
	ErrLtvBounds        = errors.New("risk: ltv outside global bounds")
	ErrNoPendingUpdate  = errors.New("risk: no pending ltv update")
	ErrTimelockActive   = errors.New("risk: timelock has not elapsed")
	ErrUnknownSource    = errors.New("risk: oracle source not registered")
	ErrNoOracle         = errors.New("risk: no oracle bound for asset")
	ErrNoLtv            = errors.New("risk: no ltv configured for pair")
	ErrNoCollateral     = errors.New("risk: position has debt but no collateral assets")
	ErrLiquidateHealthy = errors.New("risk: cannot liquidate healthy position")
	ErrCloseFactor      = errors.New("risk: repayment exceeds close factor")
	ErrSeizedTooMuch    = errors.New("risk: seized collateral exceeds repaid value plus discount")
	ErrNotBadDebt       = errors.New("risk: position collateral still covers debt")
	ErrNoDebt           = errors.New("risk: position has no outstanding debt")
)
