package superpool

import "errors"

var (
	ErrNilState                 = errors.New("superpool: state not configured")
	ErrUnknownSuperPool         = errors.New("superpool: vault not found")
	ErrSuperPoolExists          = errors.New("superpool: vault already created")
	ErrNotOwner                 = errors.New("superpool: caller is not the vault owner")
	ErrNotAllocator             = errors.New("superpool: caller is not the allocator")
	ErrNotAuthorized            = errors.New("superpool: caller is not the share owner")
	ErrAssetMismatch            = errors.New("superpool: market asset differs from vault asset")
	ErrAlreadyMember            = errors.New("superpool: market already in queues")
	ErrNotMember                = errors.New("superpool: market not in queues")
	ErrNonZeroExposure          = errors.New("superpool: market still holds vault assets")
	ErrInvalidQueue             = errors.New("superpool: queue is not a permutation of members")
	ErrInvalidAmount            = errors.New("superpool: amount must be positive")
	ErrZeroShares               = errors.New("superpool: computed shares round to zero")
	ErrAssetCapExceeded         = errors.New("superpool: aggregate asset cap exceeded")
	ErrPoolCapExceeded          = errors.New("superpool: member market cap exceeded")
	ErrInsufficientShares       = errors.New("superpool: insufficient share balance")
	ErrInsufficientWithdrawPath = errors.New("superpool: cannot source full amount from queues")
)
