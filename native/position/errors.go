package position

import "errors"

var (
	ErrNilState          = errors.New("position: state not configured")
	ErrUnknownPosition   = errors.New("position: position does not exist")
	ErrPositionExists    = errors.New("position: position already created")
	ErrInvalidDerivation = errors.New("position: claimed address does not match derivation")
	ErrNotAuthorized     = errors.New("position: caller is not owner or authorized operator")
	ErrNotOwner          = errors.New("position: caller is not the position owner")
	ErrNotAdmin          = errors.New("position: caller is not the protocol admin")
	ErrUnknownOp         = errors.New("position: unknown action tag")
	ErrInvalidAmount     = errors.New("position: amount must be positive")
	ErrHealthCheckFailed = errors.New("position: action batch leaves position unhealthy")
	ErrCallNotAllowed    = errors.New("position: target or selector not on allow-list")
	ErrUnknownTarget     = errors.New("position: exec target not registered")
	ErrSpenderNotAllowed = errors.New("position: approve spender not on allow-list")
	ErrLiquidatePaused   = errors.New("position: liquidations are paused")
	ErrEmptyBatch        = errors.New("position: action batch is empty")
)
