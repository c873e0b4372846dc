package position

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"isolend/core/types"
)

// Op tags the operation carried by an Action. The set is closed: unknown
// tags are rejected by the dispatcher.
type Op uint8

const (
	OpNewPosition Op = iota + 1
	OpDeposit
	OpWithdraw
	OpAddCollateralType
	OpRemoveCollateralType
	OpBorrow
	OpRepay
	OpApprove
	OpExec
)

func (op Op) String() string {
	switch op {
	case OpNewPosition:
		return "newPosition"
	case OpDeposit:
		return "deposit"
	case OpWithdraw:
		return "withdraw"
	case OpAddCollateralType:
		return "addCollateralType"
	case OpRemoveCollateralType:
		return "removeCollateralType"
	case OpBorrow:
		return "borrow"
	case OpRepay:
		return "repay"
	case OpApprove:
		return "approve"
	case OpExec:
		return "exec"
	}
	return "unknown"
}

// ParseOp maps the wire name of an operation back to its tag.
func ParseOp(name string) (Op, error) {
	for op := OpNewPosition; op <= OpExec; op++ {
		if op.String() == name {
			return op, nil
		}
	}
	return 0, ErrUnknownOp
}

// Action is one command against a position. Fields beyond Op are
// operation-specific; unused fields are ignored by the dispatcher.
type Action struct {
	Op Op

	// Owner and Salt drive the deterministic address check on NewPosition.
	Owner common.Address
	Salt  [32]byte

	Asset  types.AssetID
	Market types.MarketID
	Amount *big.Int

	// Target is the withdraw recipient, approve spender, or exec target.
	Target   common.Address
	Selector [4]byte
	Data     []byte
}
