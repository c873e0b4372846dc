package risk

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"isolend/core/types"
	"isolend/native/oracle"
	"isolend/native/pool"
)

// LtvUpdate is a pending loan-to-value change waiting out its timelock.
type LtvUpdate struct {
	Ltv         *big.Int
	RequestedAt uint64
}

type engineState interface {
	LtvOf(market types.MarketID, asset types.AssetID) (*big.Int, error)
	SetLtv(market types.MarketID, asset types.AssetID, ltv *big.Int) error
	PendingLtvOf(market types.MarketID, asset types.AssetID) (*LtvUpdate, error)
	SetPendingLtv(market types.MarketID, asset types.AssetID, update *LtvUpdate) error
	ClearPendingLtv(market types.MarketID, asset types.AssetID) error
	OracleOf(market types.MarketID, asset types.AssetID) (string, error)
	SetOracleBinding(market types.MarketID, asset types.AssetID, source string) error
}

// Engine governs per-(market, asset) loan-to-value limits and oracle
// bindings. LTV changes go through a request/accept protocol with a
// mandatory delay so a market owner cannot loosen or tighten risk against
// existing borrowers within a single call.
type Engine struct {
	state     engineState
	pools     *pool.Engine
	sources   map[string]oracle.Source
	admin     common.Address
	minLtv    *big.Int
	maxLtv    *big.Int
	timelock  uint64
	timestamp uint64
}

// NewEngine constructs a risk engine with the global LTV bounds (wad) and
// the governance timelock in seconds.
func NewEngine(pools *pool.Engine, admin common.Address, minLtv, maxLtv *big.Int, timelock uint64) *Engine {
	return &Engine{
		pools:    pools,
		sources:  make(map[string]oracle.Source),
		admin:    admin,
		minLtv:   new(big.Int).Set(minLtv),
		maxLtv:   new(big.Int).Set(maxLtv),
		timelock: timelock,
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetTimestamp records the host-supplied timestamp used for timelock math.
func (e *Engine) SetTimestamp(ts uint64) {
	if e == nil {
		return
	}
	e.timestamp = ts
}

// RegisterSource makes a price source available for binding under the key.
func (e *Engine) RegisterSource(key string, source oracle.Source) {
	if e == nil || source == nil {
		return
	}
	e.sources[strings.TrimSpace(key)] = source
}

// SetOracle binds a registered price source to the (market, asset) pair.
// Admin-only: oracle selection is protocol governance, not market owner
// territory.
func (e *Engine) SetOracle(caller common.Address, market types.MarketID, asset types.AssetID, sourceKey string) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if caller != e.admin {
		return ErrNotAdmin
	}
	sourceKey = strings.TrimSpace(sourceKey)
	if _, ok := e.sources[sourceKey]; !ok {
		return ErrUnknownSource
	}
	if _, err := e.pools.Market(market); err != nil {
		return err
	}
	return e.state.SetOracleBinding(market, asset.Normalize(), sourceKey)
}

// RequestLtvUpdate records a pending LTV change for the pair. Only the
// market owner may request, and the value must sit inside the global bounds.
func (e *Engine) RequestLtvUpdate(caller common.Address, market types.MarketID, asset types.AssetID, ltv *big.Int) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	m, err := e.pools.Market(market)
	if err != nil {
		return err
	}
	if caller != m.Owner {
		return ErrNotMarketOwner
	}
	if ltv == nil || ltv.Cmp(e.minLtv) < 0 || ltv.Cmp(e.maxLtv) > 0 {
		return ErrLtvBounds
	}
	update := &LtvUpdate{Ltv: new(big.Int).Set(ltv), RequestedAt: e.timestamp}
	return e.state.SetPendingLtv(market, asset.Normalize(), update)
}

// AcceptLtvUpdate commits a pending change once the timelock has elapsed.
func (e *Engine) AcceptLtvUpdate(caller common.Address, market types.MarketID, asset types.AssetID) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	m, err := e.pools.Market(market)
	if err != nil {
		return err
	}
	if caller != m.Owner {
		return ErrNotMarketOwner
	}
	asset = asset.Normalize()
	pending, err := e.state.PendingLtvOf(market, asset)
	if err != nil {
		return err
	}
	if pending == nil {
		return ErrNoPendingUpdate
	}
	if e.timestamp < pending.RequestedAt+e.timelock {
		return ErrTimelockActive
	}
	if err := e.state.SetLtv(market, asset, pending.Ltv); err != nil {
		return err
	}
	return e.state.ClearPendingLtv(market, asset)
}

// RejectLtvUpdate discards a pending change without committing it.
func (e *Engine) RejectLtvUpdate(caller common.Address, market types.MarketID, asset types.AssetID) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	m, err := e.pools.Market(market)
	if err != nil {
		return err
	}
	if caller != m.Owner {
		return ErrNotMarketOwner
	}
	asset = asset.Normalize()
	pending, err := e.state.PendingLtvOf(market, asset)
	if err != nil {
		return err
	}
	if pending == nil {
		return ErrNoPendingUpdate
	}
	return e.state.ClearPendingLtv(market, asset)
}

// LtvFor returns the committed loan-to-value limit for the pair.
func (e *Engine) LtvFor(market types.MarketID, asset types.AssetID) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	ltv, err := e.state.LtvOf(market, asset.Normalize())
	if err != nil {
		return nil, err
	}
	if ltv == nil || ltv.Sign() == 0 {
		return nil, ErrNoLtv
	}
	return ltv, nil
}

// ValueOf prices an asset amount in reference units using the oracle bound
// for the (market, asset) pair. Missing bindings and source failures
// propagate; there is no default price.
func (e *Engine) ValueOf(market types.MarketID, asset types.AssetID, amount *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	asset = asset.Normalize()
	key, err := e.state.OracleOf(market, asset)
	if err != nil {
		return nil, err
	}
	if key == "" {
		return nil, ErrNoOracle
	}
	source, ok := e.sources[key]
	if !ok {
		return nil, ErrUnknownSource
	}
	return source.Value(asset, amount)
}
