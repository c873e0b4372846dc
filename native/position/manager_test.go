package position

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"isolend/core/types"
	"isolend/native/bank"
	"isolend/native/oracle"
	"isolend/native/pool"
	"isolend/native/risk"
)

// testState backs every engine in the dispatcher wiring with one in-memory
// store.
type testState struct {
	markets   map[types.MarketID]*pool.Market
	deposits  map[string]*big.Int
	borrows   map[string]*big.Int
	ops       map[string]bool
	balances  map[string]*big.Int
	allows    map[string]*big.Int
	ltvs      map[string]*big.Int
	pending   map[string]*risk.LtvUpdate
	oracles   map[string]string
	positions map[common.Address]*Position
	auth      map[string]bool
}

func newTestState() *testState {
	return &testState{
		markets:   make(map[types.MarketID]*pool.Market),
		deposits:  make(map[string]*big.Int),
		borrows:   make(map[string]*big.Int),
		ops:       make(map[string]bool),
		balances:  make(map[string]*big.Int),
		allows:    make(map[string]*big.Int),
		ltvs:      make(map[string]*big.Int),
		pending:   make(map[string]*risk.LtvUpdate),
		oracles:   make(map[string]string),
		positions: make(map[common.Address]*Position),
		auth:      make(map[string]bool),
	}
}

func pairKey(market types.MarketID, asset types.AssetID) string {
	return market.Hex() + "/" + string(asset)
}

func holderKey(market types.MarketID, addr common.Address) string {
	return market.Hex() + "/" + addr.Hex()
}

func (s *testState) GetMarket(id types.MarketID) (*pool.Market, error) {
	market, ok := s.markets[id]
	if !ok {
		return nil, nil
	}
	return market.Clone(), nil
}

func (s *testState) PutMarket(market *pool.Market) error {
	s.markets[market.ID] = market.Clone()
	return nil
}

func (s *testState) DepositSharesOf(id types.MarketID, addr common.Address) (*big.Int, error) {
	return s.deposits[holderKey(id, addr)], nil
}

func (s *testState) SetDepositShares(id types.MarketID, addr common.Address, shares *big.Int) error {
	s.deposits[holderKey(id, addr)] = new(big.Int).Set(shares)
	return nil
}

func (s *testState) BorrowSharesOf(id types.MarketID, addr common.Address) (*big.Int, error) {
	return s.borrows[holderKey(id, addr)], nil
}

func (s *testState) SetBorrowShares(id types.MarketID, addr common.Address, shares *big.Int) error {
	s.borrows[holderKey(id, addr)] = new(big.Int).Set(shares)
	return nil
}

func (s *testState) IsOperator(owner, operator common.Address) (bool, error) {
	return s.ops[owner.Hex()+"/"+operator.Hex()], nil
}

func (s *testState) SetOperator(owner, operator common.Address, approved bool) error {
	s.ops[owner.Hex()+"/"+operator.Hex()] = approved
	return nil
}

func (s *testState) Balance(asset types.AssetID, addr common.Address) (*big.Int, error) {
	return s.balances[string(asset)+"/"+addr.Hex()], nil
}

func (s *testState) SetBalance(asset types.AssetID, addr common.Address, amount *big.Int) error {
	s.balances[string(asset)+"/"+addr.Hex()] = new(big.Int).Set(amount)
	return nil
}

func (s *testState) Allowance(asset types.AssetID, owner, spender common.Address) (*big.Int, error) {
	return s.allows[string(asset)+"/"+owner.Hex()+"/"+spender.Hex()], nil
}

func (s *testState) SetAllowance(asset types.AssetID, owner, spender common.Address, amount *big.Int) error {
	s.allows[string(asset)+"/"+owner.Hex()+"/"+spender.Hex()] = new(big.Int).Set(amount)
	return nil
}

func (s *testState) LtvOf(market types.MarketID, asset types.AssetID) (*big.Int, error) {
	return s.ltvs[pairKey(market, asset)], nil
}

func (s *testState) SetLtv(market types.MarketID, asset types.AssetID, ltv *big.Int) error {
	s.ltvs[pairKey(market, asset)] = new(big.Int).Set(ltv)
	return nil
}

func (s *testState) PendingLtvOf(market types.MarketID, asset types.AssetID) (*risk.LtvUpdate, error) {
	return s.pending[pairKey(market, asset)], nil
}

func (s *testState) SetPendingLtv(market types.MarketID, asset types.AssetID, update *risk.LtvUpdate) error {
	s.pending[pairKey(market, asset)] = update
	return nil
}

func (s *testState) ClearPendingLtv(market types.MarketID, asset types.AssetID) error {
	delete(s.pending, pairKey(market, asset))
	return nil
}

func (s *testState) OracleOf(market types.MarketID, asset types.AssetID) (string, error) {
	return s.oracles[pairKey(market, asset)], nil
}

func (s *testState) SetOracleBinding(market types.MarketID, asset types.AssetID, source string) error {
	if source == "" {
		delete(s.oracles, pairKey(market, asset))
		return nil
	}
	s.oracles[pairKey(market, asset)] = source
	return nil
}

func (s *testState) GetPosition(addr common.Address) (*Position, error) {
	p, ok := s.positions[addr]
	if !ok {
		return nil, nil
	}
	clone := &Position{Addr: p.Addr, Owner: p.Owner}
	clone.Assets = append(clone.Assets, p.Assets...)
	clone.Debts = append(clone.Debts, p.Debts...)
	return clone, nil
}

func (s *testState) PutPosition(p *Position) error {
	clone := &Position{Addr: p.Addr, Owner: p.Owner}
	clone.Assets = append(clone.Assets, p.Assets...)
	clone.Debts = append(clone.Debts, p.Debts...)
	s.positions[p.Addr] = clone
	return nil
}

func (s *testState) IsAuth(position, operator common.Address) (bool, error) {
	return s.auth[position.Hex()+"/"+operator.Hex()], nil
}

func (s *testState) SetAuth(position, operator common.Address, enabled bool) error {
	s.auth[position.Hex()+"/"+operator.Hex()] = enabled
	return nil
}

var (
	admin      = common.HexToAddress("0x3000000000000000000000000000000000000001")
	treasury   = common.HexToAddress("0x3000000000000000000000000000000000000002")
	posOwner   = common.HexToAddress("0x3000000000000000000000000000000000000003")
	outsider   = common.HexToAddress("0x3000000000000000000000000000000000000004")
	lender     = common.HexToAddress("0x3000000000000000000000000000000000000005")
	liquidator = common.HexToAddress("0x3000000000000000000000000000000000000006")
)

const (
	debtAsset       = types.AssetID("USDX")
	collateralAsset = types.AssetID("WETH")
)

type fixture struct {
	state   *testState
	ledger  *bank.Ledger
	pools   *pool.Engine
	manager *Manager
	source  *oracle.FixedSource
	market  types.MarketID
	pos     common.Address
	salt    [32]byte
}

// newFixture wires the full dispatcher stack: a zero-rate USDX market with
// 10000 deposited, WETH collateral priced at 1.0 against an 80% LTV, and
// the liquidation fee at 1%.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	state := newTestState()
	ledger := bank.NewLedger(state)
	pools := pool.NewEngine(ledger)
	pools.SetState(state)
	pools.RegisterRateModel("fixed", pool.FixedRateModel{RateWad: big.NewInt(0)})

	id, err := pools.InitMarket(admin, debtAsset, "fixed", nil, nil)
	if err != nil {
		t.Fatalf("init market: %v", err)
	}

	store := NewStore(state)
	manager := NewManager(store, pools, ledger, admin, treasury, 100)
	pools.SetDispatcher(manager.ModuleAddress())

	engine := risk.NewEngine(pools, admin,
		big.NewInt(100_000_000_000_000_000),
		big.NewInt(980_000_000_000_000_000), 86_400)
	engine.SetState(state)
	source := oracle.NewFixedSource()
	if err := source.SetPrice(debtAsset, big.NewInt(1_000_000_000_000_000_000)); err != nil {
		t.Fatalf("price usdx: %v", err)
	}
	if err := source.SetPrice(collateralAsset, big.NewInt(1_000_000_000_000_000_000)); err != nil {
		t.Fatalf("price weth: %v", err)
	}
	engine.RegisterSource("fixed-src", source)
	if err := engine.SetOracle(admin, id, debtAsset, "fixed-src"); err != nil {
		t.Fatalf("bind usdx: %v", err)
	}
	if err := engine.SetOracle(admin, id, collateralAsset, "fixed-src"); err != nil {
		t.Fatalf("bind weth: %v", err)
	}
	if err := state.SetLtv(id, collateralAsset, big.NewInt(800_000_000_000_000_000)); err != nil {
		t.Fatalf("set ltv: %v", err)
	}

	module := risk.NewModule(engine, pools, store, ledger,
		big.NewInt(500_000_000_000_000_000),
		big.NewInt(100_000_000_000_000_000))
	manager.SetRiskModule(module)

	if err := ledger.Mint(debtAsset, lender, big.NewInt(10_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := pools.Deposit(lender, id, big.NewInt(10_000), lender); err != nil {
		t.Fatalf("seed liquidity: %v", err)
	}

	var salt [32]byte
	salt[31] = 7
	return &fixture{
		state:   state,
		ledger:  ledger,
		pools:   pools,
		manager: manager,
		source:  source,
		market:  id,
		pos:     types.DerivePositionAddress(posOwner, salt),
		salt:    salt,
	}
}

func (f *fixture) createPosition(t *testing.T) {
	t.Helper()
	err := f.manager.Process(posOwner, f.pos, Action{Op: OpNewPosition, Owner: posOwner, Salt: f.salt})
	if err != nil {
		t.Fatalf("create position: %v", err)
	}
}

// openLeveraged funds the owner with WETH and runs the standard open batch:
// deposit 1000 collateral and borrow the requested USDX.
func (f *fixture) openLeveraged(t *testing.T, borrow int64) {
	t.Helper()
	f.createPosition(t)
	if err := f.ledger.Mint(collateralAsset, posOwner, big.NewInt(1_000)); err != nil {
		t.Fatalf("mint collateral: %v", err)
	}
	err := f.manager.ProcessBatch(posOwner, f.pos, []Action{
		{Op: OpDeposit, Asset: collateralAsset, Amount: big.NewInt(1_000)},
		{Op: OpAddCollateralType, Asset: collateralAsset},
		{Op: OpBorrow, Market: f.market, Amount: big.NewInt(borrow)},
	})
	if err != nil {
		t.Fatalf("open position: %v", err)
	}
}

func balanceOf(t *testing.T, f *fixture, asset types.AssetID, addr common.Address) *big.Int {
	t.Helper()
	balance, err := f.ledger.BalanceOf(asset, addr)
	if err != nil {
		t.Fatalf("balance of: %v", err)
	}
	return balance
}

func TestNewPositionDerivation(t *testing.T) {
	f := newFixture(t)

	wrong := common.HexToAddress("0x3000000000000000000000000000000000009999")
	err := f.manager.Process(posOwner, wrong, Action{Op: OpNewPosition, Owner: posOwner, Salt: f.salt})
	if !errors.Is(err, ErrInvalidDerivation) {
		t.Fatalf("expected ErrInvalidDerivation, got %v", err)
	}

	f.createPosition(t)
	err = f.manager.Process(posOwner, f.pos, Action{Op: OpNewPosition, Owner: posOwner, Salt: f.salt})
	if !errors.Is(err, ErrPositionExists) {
		t.Fatalf("expected ErrPositionExists, got %v", err)
	}

	owner, err := f.manager.OwnerOf(f.pos)
	if err != nil {
		t.Fatalf("owner of: %v", err)
	}
	if owner != posOwner {
		t.Fatalf("owner = %s, want %s", owner.Hex(), posOwner.Hex())
	}
}

func TestBatchOpensHealthyPosition(t *testing.T) {
	f := newFixture(t)
	f.openLeveraged(t, 500)

	if got := balanceOf(t, f, debtAsset, f.pos); got.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("position usdx balance = %s, want 500", got)
	}
	debts, err := f.manager.DebtMarkets(f.pos)
	if err != nil {
		t.Fatalf("debt markets: %v", err)
	}
	if len(debts) != 1 || debts[0] != f.market {
		t.Fatalf("debt set = %v, want one entry", debts)
	}

	// The borrowed funds can leave custody without touching health: USDX
	// is not a tracked collateral asset.
	err = f.manager.Process(posOwner, f.pos, Action{
		Op: OpWithdraw, Asset: debtAsset, Amount: big.NewInt(500), Target: posOwner,
	})
	if err != nil {
		t.Fatalf("withdraw proceeds: %v", err)
	}
	if got := balanceOf(t, f, debtAsset, posOwner); got.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("owner usdx balance = %s, want 500", got)
	}
}

func TestBatchRejectedWhenEndingUnhealthy(t *testing.T) {
	f := newFixture(t)
	f.createPosition(t)
	if err := f.ledger.Mint(collateralAsset, posOwner, big.NewInt(1_000)); err != nil {
		t.Fatalf("mint collateral: %v", err)
	}

	// 900 borrowed against 1000 of collateral needs 1125 at the 80% LTV.
	err := f.manager.ProcessBatch(posOwner, f.pos, []Action{
		{Op: OpDeposit, Asset: collateralAsset, Amount: big.NewInt(1_000)},
		{Op: OpAddCollateralType, Asset: collateralAsset},
		{Op: OpBorrow, Market: f.market, Amount: big.NewInt(900)},
	})
	if !errors.Is(err, ErrHealthCheckFailed) {
		t.Fatalf("expected ErrHealthCheckFailed, got %v", err)
	}
}

func TestEmptyBatchRejected(t *testing.T) {
	f := newFixture(t)
	f.createPosition(t)
	if err := f.manager.ProcessBatch(posOwner, f.pos, nil); !errors.Is(err, ErrEmptyBatch) {
		t.Fatalf("expected ErrEmptyBatch, got %v", err)
	}
}

func TestActionAuthorization(t *testing.T) {
	f := newFixture(t)
	f.createPosition(t)
	if err := f.ledger.Mint(collateralAsset, outsider, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	deposit := Action{Op: OpDeposit, Asset: collateralAsset, Amount: big.NewInt(100)}
	if err := f.manager.Process(outsider, f.pos, deposit); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}

	if err := f.manager.ToggleAuth(outsider, f.pos, outsider); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := f.manager.ToggleAuth(posOwner, f.pos, outsider); err != nil {
		t.Fatalf("toggle auth: %v", err)
	}
	if err := f.manager.Process(outsider, f.pos, deposit); err != nil {
		t.Fatalf("authorized deposit: %v", err)
	}

	// A second toggle revokes.
	if err := f.manager.ToggleAuth(posOwner, f.pos, outsider); err != nil {
		t.Fatalf("revoke auth: %v", err)
	}
	if err := f.manager.Process(outsider, f.pos, deposit); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized after revoke, got %v", err)
	}
}

func TestRepayClearsDebtSet(t *testing.T) {
	f := newFixture(t)
	f.openLeveraged(t, 500)

	err := f.manager.Process(posOwner, f.pos, Action{
		Op: OpRepay, Market: f.market, Amount: pool.RepayMax,
	})
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	debts, err := f.manager.DebtMarkets(f.pos)
	if err != nil {
		t.Fatalf("debt markets: %v", err)
	}
	if len(debts) != 0 {
		t.Fatalf("debt set not cleared after full repay: %v", debts)
	}
}

func TestLiquidationSkimsFeeToTreasury(t *testing.T) {
	f := newFixture(t)
	f.openLeveraged(t, 500)
	if err := f.source.SetPrice(collateralAsset, big.NewInt(550_000_000_000_000_000)); err != nil {
		t.Fatalf("reprice: %v", err)
	}
	if err := f.ledger.Mint(debtAsset, liquidator, big.NewInt(1_000)); err != nil {
		t.Fatalf("fund liquidator: %v", err)
	}

	// Repay 250 (half the debt), seize 430 units worth 236. The remaining
	// 570 units cover the residual 250 debt at the 80% LTV.
	err := f.manager.Liquidate(liquidator, f.pos,
		[]risk.DebtRepayment{{Market: f.market, Amount: big.NewInt(250)}},
		[]risk.AssetSeizure{{Asset: collateralAsset, Amount: big.NewInt(430)}})
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	// 1% of the 430 seized units goes to the treasury.
	if got := balanceOf(t, f, collateralAsset, treasury); got.Cmp(big.NewInt(4)) != 0 {
		t.Fatalf("treasury fee = %s, want 4", got)
	}
	if got := balanceOf(t, f, collateralAsset, liquidator); got.Cmp(big.NewInt(426)) != 0 {
		t.Fatalf("liquidator payout = %s, want 426", got)
	}
	debt, err := f.pools.BorrowsOf(f.market, f.pos)
	if err != nil {
		t.Fatalf("borrows of: %v", err)
	}
	if debt.Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("residual debt = %s, want 250", debt)
	}
}

func TestLiquidateRejectsHealthyPosition(t *testing.T) {
	f := newFixture(t)
	f.openLeveraged(t, 500)
	if err := f.ledger.Mint(debtAsset, liquidator, big.NewInt(1_000)); err != nil {
		t.Fatalf("fund liquidator: %v", err)
	}

	err := f.manager.Liquidate(liquidator, f.pos,
		[]risk.DebtRepayment{{Market: f.market, Amount: big.NewInt(100)}},
		nil)
	if !errors.Is(err, risk.ErrLiquidateHealthy) {
		t.Fatalf("expected ErrLiquidateHealthy, got %v", err)
	}
}

func TestLiquidatePauseSwitch(t *testing.T) {
	f := newFixture(t)
	f.openLeveraged(t, 500)

	if err := f.manager.SetLiquidatePaused(outsider, true); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("expected ErrNotAdmin, got %v", err)
	}
	if err := f.manager.SetLiquidatePaused(admin, true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	err := f.manager.Liquidate(liquidator, f.pos, nil, nil)
	if !errors.Is(err, ErrLiquidatePaused) {
		t.Fatalf("expected ErrLiquidatePaused, got %v", err)
	}
	if err := f.manager.LiquidateBadDebt(liquidator, f.pos); !errors.Is(err, ErrLiquidatePaused) {
		t.Fatalf("expected ErrLiquidatePaused on bad debt path, got %v", err)
	}
}

func TestLiquidateBadDebtSweepsAndWritesOff(t *testing.T) {
	f := newFixture(t)
	f.openLeveraged(t, 500)
	if err := f.source.SetPrice(collateralAsset, big.NewInt(400_000_000_000_000_000)); err != nil {
		t.Fatalf("reprice: %v", err)
	}

	if err := f.manager.LiquidateBadDebt(outsider, f.pos); err != nil {
		t.Fatalf("liquidate bad debt: %v", err)
	}

	if got := balanceOf(t, f, collateralAsset, treasury); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("swept collateral = %s, want 1000", got)
	}
	debt, err := f.pools.BorrowsOf(f.market, f.pos)
	if err != nil {
		t.Fatalf("borrows of: %v", err)
	}
	if debt.Sign() != 0 {
		t.Fatalf("debt after write-off = %s, want 0", debt)
	}
	p, err := f.manager.Get(f.pos)
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if len(p.Assets) != 0 || len(p.Debts) != 0 {
		t.Fatalf("position sets not cleared: %+v", p)
	}

	// Depositors absorbed the 500 loss.
	claim, err := f.pools.AssetsOf(f.market, lender)
	if err != nil {
		t.Fatalf("assets of: %v", err)
	}
	if claim.Cmp(big.NewInt(9_500)) != 0 {
		t.Fatalf("lender claim = %s, want 9500", claim)
	}
}

func TestLiquidateBadDebtRejectsCoveredPosition(t *testing.T) {
	f := newFixture(t)
	f.openLeveraged(t, 500)

	if err := f.manager.LiquidateBadDebt(outsider, f.pos); !errors.Is(err, risk.ErrNotBadDebt) {
		t.Fatalf("expected ErrNotBadDebt, got %v", err)
	}
}

func TestApproveRequiresAllowedSpender(t *testing.T) {
	f := newFixture(t)
	f.createPosition(t)
	spender := common.HexToAddress("0x3000000000000000000000000000000000000007")

	approve := Action{Op: OpApprove, Asset: debtAsset, Target: spender, Amount: big.NewInt(100)}
	if err := f.manager.Process(posOwner, f.pos, approve); !errors.Is(err, ErrSpenderNotAllowed) {
		t.Fatalf("expected ErrSpenderNotAllowed, got %v", err)
	}

	if err := f.manager.SetAllowedSpender(outsider, spender, true); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("expected ErrNotAdmin, got %v", err)
	}
	if err := f.manager.SetAllowedSpender(admin, spender, true); err != nil {
		t.Fatalf("allow spender: %v", err)
	}
	if err := f.manager.Process(posOwner, f.pos, approve); err != nil {
		t.Fatalf("approve: %v", err)
	}
}

type recordingTarget struct {
	calls int
	last  common.Address
}

func (r *recordingTarget) Call(position common.Address, selector [4]byte, data []byte) error {
	r.calls++
	r.last = position
	return nil
}

func TestExecAllowList(t *testing.T) {
	f := newFixture(t)
	f.createPosition(t)
	target := common.HexToAddress("0x3000000000000000000000000000000000000008")
	selector := [4]byte{0xde, 0xad, 0xbe, 0xef}
	impl := &recordingTarget{}

	exec := Action{Op: OpExec, Target: target, Selector: selector}
	if err := f.manager.Process(posOwner, f.pos, exec); !errors.Is(err, ErrCallNotAllowed) {
		t.Fatalf("expected ErrCallNotAllowed, got %v", err)
	}

	if err := f.manager.RegisterExecTarget(admin, target, impl); err != nil {
		t.Fatalf("register target: %v", err)
	}
	if err := f.manager.SetAllowedCall(admin, target, selector, true); err != nil {
		t.Fatalf("allow call: %v", err)
	}
	if err := f.manager.Process(posOwner, f.pos, exec); err != nil {
		t.Fatalf("exec: %v", err)
	}
	if impl.calls != 1 || impl.last != f.pos {
		t.Fatalf("target saw %d calls for %s", impl.calls, impl.last.Hex())
	}

	// Other selectors on the same target stay blocked.
	other := exec
	other.Selector = [4]byte{1, 2, 3, 4}
	if err := f.manager.Process(posOwner, f.pos, other); !errors.Is(err, ErrCallNotAllowed) {
		t.Fatalf("expected ErrCallNotAllowed for unlisted selector, got %v", err)
	}
}

func TestParseOp(t *testing.T) {
	for op := OpNewPosition; op <= OpExec; op++ {
		parsed, err := ParseOp(op.String())
		if err != nil {
			t.Fatalf("parse %q: %v", op.String(), err)
		}
		if parsed != op {
			t.Fatalf("parse %q = %d, want %d", op.String(), parsed, op)
		}
	}
	if _, err := ParseOp("selfdestruct"); !errors.Is(err, ErrUnknownOp) {
		t.Fatalf("expected ErrUnknownOp, got %v", err)
	}
}

func TestPositionSetCaps(t *testing.T) {
	p := &Position{}
	for i := 0; i < MaxHeldAssets; i++ {
		if err := p.AddAsset(types.AssetID(string(rune('A' + i)))); err != nil {
			t.Fatalf("add asset %d: %v", i, err)
		}
	}
	if err := p.AddAsset("OVERFLOW"); !errors.Is(err, ErrAssetCapExceeded) {
		t.Fatalf("expected ErrAssetCapExceeded, got %v", err)
	}
	// Re-adding a held asset is a no-op, not a cap violation.
	if err := p.AddAsset("A"); err != nil {
		t.Fatalf("re-add held asset: %v", err)
	}

	for i := 0; i < MaxDebtMarkets; i++ {
		var id types.MarketID
		id[0] = byte(i + 1)
		if err := p.AddDebt(id); err != nil {
			t.Fatalf("add debt %d: %v", i, err)
		}
	}
	var overflow types.MarketID
	overflow[0] = 0xff
	if err := p.AddDebt(overflow); !errors.Is(err, ErrMarketCapExceeded) {
		t.Fatalf("expected ErrMarketCapExceeded, got %v", err)
	}
}
