package position

import (
	"github.com/ethereum/go-ethereum/common"

	"isolend/core/types"
)

type managerState interface {
	GetPosition(addr common.Address) (*Position, error)
	PutPosition(p *Position) error
	IsAuth(position, operator common.Address) (bool, error)
	SetAuth(position, operator common.Address, enabled bool) error
}

// Store reads and writes positions. It also satisfies the risk module's
// PositionSource so valuations never reach into dispatcher internals.
type Store struct {
	state managerState
}

func NewStore(state managerState) *Store {
	return &Store{state: state}
}

// Get returns the position at addr, or nil when it does not exist.
func (s *Store) Get(addr common.Address) (*Position, error) {
	if s == nil || s.state == nil {
		return nil, ErrNilState
	}
	return s.state.GetPosition(addr)
}

func (s *Store) put(p *Position) error {
	return s.state.PutPosition(p)
}

// HeldAssets implements risk.PositionSource.
func (s *Store) HeldAssets(position common.Address) ([]types.AssetID, error) {
	p, err := s.Get(position)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrUnknownPosition
	}
	return p.Assets, nil
}

// DebtMarkets implements risk.PositionSource.
func (s *Store) DebtMarkets(position common.Address) ([]types.MarketID, error) {
	p, err := s.Get(position)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrUnknownPosition
	}
	return p.Debts, nil
}
