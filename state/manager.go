package state

import (
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"isolend/core/types"
	"isolend/native/oracle"
	"isolend/native/pool"
	"isolend/native/position"
	"isolend/native/risk"
	"isolend/native/superpool"
	"isolend/storage"
)

// Manager is the persistence layer shared by every engine. Writes land in an
// in-memory overlay and only reach the backing database on Commit, so a
// failed operation rolls back with Reset and leaves no partial state behind.
//
// Manager is not safe for concurrent use. The node serializes access.
type Manager struct {
	db storage.Database

	mu      sync.RWMutex
	pending map[string]pendingWrite
}

type pendingWrite struct {
	value   []byte
	deleted bool
}

func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, pending: make(map[string]pendingWrite)}
}

// Commit flushes buffered writes to the backing database. Keys are flushed
// in sorted order so repeated runs touch the store deterministically.
func (m *Manager) Commit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.pending))
	for key := range m.pending {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		entry := m.pending[key]
		if entry.deleted {
			if err := m.db.Delete([]byte(key)); err != nil {
				return fmt.Errorf("state: commit delete %q: %w", key, err)
			}
			continue
		}
		if err := m.db.Put([]byte(key), entry.value); err != nil {
			return fmt.Errorf("state: commit put %q: %w", key, err)
		}
	}
	m.pending = make(map[string]pendingWrite)
	return nil
}

// Reset discards all buffered writes.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = make(map[string]pendingWrite)
}

func (m *Manager) get(key []byte) ([]byte, bool, error) {
	m.mu.RLock()
	entry, ok := m.pending[string(key)]
	m.mu.RUnlock()
	if ok {
		if entry.deleted {
			return nil, false, nil
		}
		return entry.value, true, nil
	}
	value, err := m.db.Get(key)
	if err == storage.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (m *Manager) put(key, value []byte) error {
	m.mu.Lock()
	m.pending[string(key)] = pendingWrite{value: value}
	m.mu.Unlock()
	return nil
}

func (m *Manager) delete(key []byte) error {
	m.mu.Lock()
	m.pending[string(key)] = pendingWrite{deleted: true}
	m.mu.Unlock()
	return nil
}

func (m *Manager) getAmount(key []byte) (*big.Int, error) {
	raw, ok, err := m.get(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).SetBytes(raw), nil
}

func (m *Manager) putAmount(key []byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return m.delete(key)
	}
	return m.put(key, amount.Bytes())
}

func (m *Manager) getBool(key []byte) (bool, error) {
	raw, ok, err := m.get(key)
	if err != nil {
		return false, err
	}
	return ok && len(raw) == 1 && raw[0] == 1, nil
}

func (m *Manager) putBool(key []byte, enabled bool) error {
	if !enabled {
		return m.delete(key)
	}
	return m.put(key, []byte{1})
}

// Key layout. Segments are joined with '/'; addresses and market IDs render
// as hex so keys stay printable when inspecting the store.
func stateKey(segments ...string) []byte {
	out := segments[0]
	for _, seg := range segments[1:] {
		out += "/" + seg
	}
	return []byte(out)
}

func balanceKey(asset types.AssetID, addr common.Address) []byte {
	return stateKey("bank", "balance", string(asset), addr.Hex())
}

func allowanceKey(asset types.AssetID, owner, spender common.Address) []byte {
	return stateKey("bank", "allowance", string(asset), owner.Hex(), spender.Hex())
}

func marketKey(id types.MarketID) []byte {
	return stateKey("pool", "market", id.Hex())
}

func depositSharesKey(id types.MarketID, addr common.Address) []byte {
	return stateKey("pool", "dshares", id.Hex(), addr.Hex())
}

func borrowSharesKey(id types.MarketID, addr common.Address) []byte {
	return stateKey("pool", "bshares", id.Hex(), addr.Hex())
}

func operatorKey(owner, operator common.Address) []byte {
	return stateKey("pool", "operator", owner.Hex(), operator.Hex())
}

func rateModelKey(name string) []byte {
	return stateKey("pool", "ratemodel", name)
}

func sourceKey(name string) []byte {
	return stateKey("oracle", "source", name)
}

func ltvKey(market types.MarketID, asset types.AssetID) []byte {
	return stateKey("risk", "ltv", market.Hex(), string(asset))
}

func pendingLtvKey(market types.MarketID, asset types.AssetID) []byte {
	return stateKey("risk", "pending", market.Hex(), string(asset))
}

func oracleKey(market types.MarketID, asset types.AssetID) []byte {
	return stateKey("risk", "oracle", market.Hex(), string(asset))
}

func positionKey(addr common.Address) []byte {
	return stateKey("position", "record", addr.Hex())
}

func authKey(pos, operator common.Address) []byte {
	return stateKey("position", "auth", pos.Hex(), operator.Hex())
}

func superPoolKey(id common.Address) []byte {
	return stateKey("superpool", "record", id.Hex())
}

func superSharesKey(id, addr common.Address) []byte {
	return stateKey("superpool", "shares", id.Hex(), addr.Hex())
}

var (
	marketIndexKey    = stateKey("pool", "index")
	superPoolIndexKey = stateKey("superpool", "index")
	rateModelIndexKey = stateKey("pool", "ratemodels")
	sourceIndexKey    = stateKey("oracle", "index")
)

// Balance implements the bank state.
func (m *Manager) Balance(asset types.AssetID, addr common.Address) (*big.Int, error) {
	return m.getAmount(balanceKey(asset, addr))
}

func (m *Manager) SetBalance(asset types.AssetID, addr common.Address, amount *big.Int) error {
	return m.putAmount(balanceKey(asset, addr), amount)
}

func (m *Manager) Allowance(asset types.AssetID, owner, spender common.Address) (*big.Int, error) {
	return m.getAmount(allowanceKey(asset, owner, spender))
}

func (m *Manager) SetAllowance(asset types.AssetID, owner, spender common.Address, amount *big.Int) error {
	return m.putAmount(allowanceKey(asset, owner, spender), amount)
}

// GetMarket implements the pool engine state. Missing markets return nil.
func (m *Manager) GetMarket(id types.MarketID) (*pool.Market, error) {
	raw, ok, err := m.get(marketKey(id))
	if err != nil || !ok {
		return nil, err
	}
	market := new(pool.Market)
	if err := rlp.DecodeBytes(raw, market); err != nil {
		return nil, fmt.Errorf("state: decode market %s: %w", id.Hex(), err)
	}
	return market, nil
}

func (m *Manager) PutMarket(market *pool.Market) error {
	existing, err := m.GetMarket(market.ID)
	if err != nil {
		return err
	}
	raw, err := rlp.EncodeToBytes(market)
	if err != nil {
		return fmt.Errorf("state: encode market %s: %w", market.ID.Hex(), err)
	}
	if err := m.put(marketKey(market.ID), raw); err != nil {
		return err
	}
	if existing == nil {
		return m.appendMarketIndex(market.ID)
	}
	return nil
}

func (m *Manager) appendMarketIndex(id types.MarketID) error {
	index, err := m.ListMarkets()
	if err != nil {
		return err
	}
	index = append(index, id)
	raw, err := rlp.EncodeToBytes(index)
	if err != nil {
		return fmt.Errorf("state: encode market index: %w", err)
	}
	return m.put(marketIndexKey, raw)
}

// ListMarkets returns every market ID in creation order.
func (m *Manager) ListMarkets() ([]types.MarketID, error) {
	raw, ok, err := m.get(marketIndexKey)
	if err != nil || !ok {
		return nil, err
	}
	var index []types.MarketID
	if err := rlp.DecodeBytes(raw, &index); err != nil {
		return nil, fmt.Errorf("state: decode market index: %w", err)
	}
	return index, nil
}

// GetRateModel returns a persisted rate-model registration. Missing names
// return nil.
func (m *Manager) GetRateModel(name string) (*pool.RateModelSpec, error) {
	raw, ok, err := m.get(rateModelKey(name))
	if err != nil || !ok {
		return nil, err
	}
	spec := new(pool.RateModelSpec)
	if err := rlp.DecodeBytes(raw, spec); err != nil {
		return nil, fmt.Errorf("state: decode rate model %s: %w", name, err)
	}
	return spec, nil
}

func (m *Manager) PutRateModel(spec *pool.RateModelSpec) error {
	existing, err := m.GetRateModel(spec.Name)
	if err != nil {
		return err
	}
	raw, err := rlp.EncodeToBytes(spec)
	if err != nil {
		return fmt.Errorf("state: encode rate model %s: %w", spec.Name, err)
	}
	if err := m.put(rateModelKey(spec.Name), raw); err != nil {
		return err
	}
	if existing == nil {
		return m.appendNameIndex(rateModelIndexKey, spec.Name)
	}
	return nil
}

// ListRateModels returns every persisted rate-model name in registration
// order.
func (m *Manager) ListRateModels() ([]string, error) {
	return m.nameIndex(rateModelIndexKey)
}

// GetSource returns a persisted oracle source registration. Missing names
// return nil.
func (m *Manager) GetSource(name string) (*oracle.Registration, error) {
	raw, ok, err := m.get(sourceKey(name))
	if err != nil || !ok {
		return nil, err
	}
	reg := new(oracle.Registration)
	if err := rlp.DecodeBytes(raw, reg); err != nil {
		return nil, fmt.Errorf("state: decode source %s: %w", name, err)
	}
	return reg, nil
}

func (m *Manager) PutSource(reg *oracle.Registration) error {
	existing, err := m.GetSource(reg.Name)
	if err != nil {
		return err
	}
	raw, err := rlp.EncodeToBytes(reg)
	if err != nil {
		return fmt.Errorf("state: encode source %s: %w", reg.Name, err)
	}
	if err := m.put(sourceKey(reg.Name), raw); err != nil {
		return err
	}
	if existing == nil {
		return m.appendNameIndex(sourceIndexKey, reg.Name)
	}
	return nil
}

// ListSources returns every persisted source name in registration order.
func (m *Manager) ListSources() ([]string, error) {
	return m.nameIndex(sourceIndexKey)
}

func (m *Manager) nameIndex(key []byte) ([]string, error) {
	raw, ok, err := m.get(key)
	if err != nil || !ok {
		return nil, err
	}
	var index []string
	if err := rlp.DecodeBytes(raw, &index); err != nil {
		return nil, fmt.Errorf("state: decode index %q: %w", key, err)
	}
	return index, nil
}

func (m *Manager) appendNameIndex(key []byte, name string) error {
	index, err := m.nameIndex(key)
	if err != nil {
		return err
	}
	index = append(index, name)
	raw, err := rlp.EncodeToBytes(index)
	if err != nil {
		return fmt.Errorf("state: encode index %q: %w", key, err)
	}
	return m.put(key, raw)
}

func (m *Manager) DepositSharesOf(id types.MarketID, addr common.Address) (*big.Int, error) {
	return m.getAmount(depositSharesKey(id, addr))
}

func (m *Manager) SetDepositShares(id types.MarketID, addr common.Address, shares *big.Int) error {
	return m.putAmount(depositSharesKey(id, addr), shares)
}

func (m *Manager) BorrowSharesOf(id types.MarketID, addr common.Address) (*big.Int, error) {
	return m.getAmount(borrowSharesKey(id, addr))
}

func (m *Manager) SetBorrowShares(id types.MarketID, addr common.Address, shares *big.Int) error {
	return m.putAmount(borrowSharesKey(id, addr), shares)
}

func (m *Manager) IsOperator(owner, operator common.Address) (bool, error) {
	return m.getBool(operatorKey(owner, operator))
}

func (m *Manager) SetOperator(owner, operator common.Address, approved bool) error {
	return m.putBool(operatorKey(owner, operator), approved)
}

// LtvOf implements the risk engine state. Unset pairs return nil.
func (m *Manager) LtvOf(market types.MarketID, asset types.AssetID) (*big.Int, error) {
	raw, ok, err := m.get(ltvKey(market, asset))
	if err != nil || !ok {
		return nil, err
	}
	return new(big.Int).SetBytes(raw), nil
}

func (m *Manager) SetLtv(market types.MarketID, asset types.AssetID, ltv *big.Int) error {
	if ltv == nil {
		return m.delete(ltvKey(market, asset))
	}
	return m.put(ltvKey(market, asset), ltv.Bytes())
}

func (m *Manager) PendingLtvOf(market types.MarketID, asset types.AssetID) (*risk.LtvUpdate, error) {
	raw, ok, err := m.get(pendingLtvKey(market, asset))
	if err != nil || !ok {
		return nil, err
	}
	update := new(risk.LtvUpdate)
	if err := rlp.DecodeBytes(raw, update); err != nil {
		return nil, fmt.Errorf("state: decode pending ltv: %w", err)
	}
	return update, nil
}

func (m *Manager) SetPendingLtv(market types.MarketID, asset types.AssetID, update *risk.LtvUpdate) error {
	if update == nil {
		return m.delete(pendingLtvKey(market, asset))
	}
	raw, err := rlp.EncodeToBytes(update)
	if err != nil {
		return fmt.Errorf("state: encode pending ltv: %w", err)
	}
	return m.put(pendingLtvKey(market, asset), raw)
}

func (m *Manager) ClearPendingLtv(market types.MarketID, asset types.AssetID) error {
	return m.delete(pendingLtvKey(market, asset))
}

func (m *Manager) OracleOf(market types.MarketID, asset types.AssetID) (string, error) {
	raw, _, err := m.get(oracleKey(market, asset))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (m *Manager) SetOracleBinding(market types.MarketID, asset types.AssetID, source string) error {
	if source == "" {
		return m.delete(oracleKey(market, asset))
	}
	return m.put(oracleKey(market, asset), []byte(source))
}

// GetPosition implements the position store state. Missing positions return
// nil.
func (m *Manager) GetPosition(addr common.Address) (*position.Position, error) {
	raw, ok, err := m.get(positionKey(addr))
	if err != nil || !ok {
		return nil, err
	}
	p := new(position.Position)
	if err := rlp.DecodeBytes(raw, p); err != nil {
		return nil, fmt.Errorf("state: decode position %s: %w", addr.Hex(), err)
	}
	return p, nil
}

func (m *Manager) PutPosition(p *position.Position) error {
	raw, err := rlp.EncodeToBytes(p)
	if err != nil {
		return fmt.Errorf("state: encode position %s: %w", p.Addr.Hex(), err)
	}
	return m.put(positionKey(p.Addr), raw)
}

func (m *Manager) IsAuth(pos, operator common.Address) (bool, error) {
	return m.getBool(authKey(pos, operator))
}

func (m *Manager) SetAuth(pos, operator common.Address, enabled bool) error {
	return m.putBool(authKey(pos, operator), enabled)
}

// GetSuperPool implements the superpool engine state. Missing vaults return
// nil.
func (m *Manager) GetSuperPool(id common.Address) (*superpool.SuperPool, error) {
	raw, ok, err := m.get(superPoolKey(id))
	if err != nil || !ok {
		return nil, err
	}
	sp := new(superpool.SuperPool)
	if err := rlp.DecodeBytes(raw, sp); err != nil {
		return nil, fmt.Errorf("state: decode superpool %s: %w", id.Hex(), err)
	}
	return sp, nil
}

func (m *Manager) PutSuperPool(sp *superpool.SuperPool) error {
	existing, err := m.GetSuperPool(sp.ID)
	if err != nil {
		return err
	}
	raw, err := rlp.EncodeToBytes(sp)
	if err != nil {
		return fmt.Errorf("state: encode superpool %s: %w", sp.ID.Hex(), err)
	}
	if err := m.put(superPoolKey(sp.ID), raw); err != nil {
		return err
	}
	if existing == nil {
		return m.appendSuperPoolIndex(sp.ID)
	}
	return nil
}

func (m *Manager) appendSuperPoolIndex(id common.Address) error {
	index, err := m.ListSuperPools()
	if err != nil {
		return err
	}
	index = append(index, id)
	raw, err := rlp.EncodeToBytes(index)
	if err != nil {
		return fmt.Errorf("state: encode superpool index: %w", err)
	}
	return m.put(superPoolIndexKey, raw)
}

func (m *Manager) SuperSharesOf(id, addr common.Address) (*big.Int, error) {
	return m.getAmount(superSharesKey(id, addr))
}

func (m *Manager) SetSuperShares(id, addr common.Address, shares *big.Int) error {
	return m.putAmount(superSharesKey(id, addr), shares)
}

// ListSuperPools returns every vault address in creation order.
func (m *Manager) ListSuperPools() ([]common.Address, error) {
	raw, ok, err := m.get(superPoolIndexKey)
	if err != nil || !ok {
		return nil, err
	}
	var index []common.Address
	if err := rlp.DecodeBytes(raw, &index); err != nil {
		return nil, fmt.Errorf("state: decode superpool index: %w", err)
	}
	return index, nil
}
