package pool

import (
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"isolend/core/types"
	"isolend/native/bank"
)

type mockState struct {
	markets  map[types.MarketID]*Market
	deposits map[string]*big.Int
	borrows  map[string]*big.Int
	ops      map[string]bool
	balances map[string]*big.Int
	allows   map[string]*big.Int
}

func newMockState() *mockState {
	return &mockState{
		markets:  make(map[types.MarketID]*Market),
		deposits: make(map[string]*big.Int),
		borrows:  make(map[string]*big.Int),
		ops:      make(map[string]bool),
		balances: make(map[string]*big.Int),
		allows:   make(map[string]*big.Int),
	}
}

func shareKey(id types.MarketID, addr common.Address) string {
	return id.Hex() + "/" + addr.Hex()
}

func (m *mockState) GetMarket(id types.MarketID) (*Market, error) {
	market, ok := m.markets[id]
	if !ok {
		return nil, nil
	}
	return market.Clone(), nil
}

func (m *mockState) PutMarket(market *Market) error {
	m.markets[market.ID] = market.Clone()
	return nil
}

func (m *mockState) DepositSharesOf(id types.MarketID, addr common.Address) (*big.Int, error) {
	return m.deposits[shareKey(id, addr)], nil
}

func (m *mockState) SetDepositShares(id types.MarketID, addr common.Address, shares *big.Int) error {
	m.deposits[shareKey(id, addr)] = new(big.Int).Set(shares)
	return nil
}

func (m *mockState) BorrowSharesOf(id types.MarketID, addr common.Address) (*big.Int, error) {
	return m.borrows[shareKey(id, addr)], nil
}

func (m *mockState) SetBorrowShares(id types.MarketID, addr common.Address, shares *big.Int) error {
	m.borrows[shareKey(id, addr)] = new(big.Int).Set(shares)
	return nil
}

func (m *mockState) IsOperator(owner, operator common.Address) (bool, error) {
	return m.ops[owner.Hex()+"/"+operator.Hex()], nil
}

func (m *mockState) SetOperator(owner, operator common.Address, approved bool) error {
	m.ops[owner.Hex()+"/"+operator.Hex()] = approved
	return nil
}

func (m *mockState) Balance(asset types.AssetID, addr common.Address) (*big.Int, error) {
	return m.balances[string(asset)+"/"+addr.Hex()], nil
}

func (m *mockState) SetBalance(asset types.AssetID, addr common.Address, amount *big.Int) error {
	m.balances[string(asset)+"/"+addr.Hex()] = new(big.Int).Set(amount)
	return nil
}

func (m *mockState) Allowance(asset types.AssetID, owner, spender common.Address) (*big.Int, error) {
	return m.allows[string(asset)+"/"+owner.Hex()+"/"+spender.Hex()], nil
}

func (m *mockState) SetAllowance(asset types.AssetID, owner, spender common.Address, amount *big.Int) error {
	m.allows[string(asset)+"/"+owner.Hex()+"/"+spender.Hex()] = new(big.Int).Set(amount)
	return nil
}

var (
	marketOwner = common.HexToAddress("0x1000000000000000000000000000000000000001")
	lender      = common.HexToAddress("0x1000000000000000000000000000000000000002")
	dispatcher  = common.HexToAddress("0x1000000000000000000000000000000000000003")
	borrowerPos = common.HexToAddress("0x1000000000000000000000000000000000000004")
	feeCatcher  = common.HexToAddress("0x1000000000000000000000000000000000000005")

	tenPercent = big.NewInt(100_000_000_000_000_000)
)

const testAsset = types.AssetID("USDX")

func newTestEngine(t *testing.T) (*Engine, *mockState, types.MarketID) {
	t.Helper()
	state := newMockState()
	ledger := bank.NewLedger(state)
	engine := NewEngine(ledger)
	engine.SetState(state)
	engine.SetDispatcher(dispatcher)
	engine.RegisterRateModel("fixed", FixedRateModel{RateWad: tenPercent})
	engine.SetTimestamp(1_000)

	id, err := engine.InitMarket(marketOwner, testAsset, "fixed", nil, nil)
	if err != nil {
		t.Fatalf("init market: %v", err)
	}
	if err := ledger.Mint(testAsset, lender, big.NewInt(1_000_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	return engine, state, id
}

func mustBalance(t *testing.T, state *mockState, addr common.Address) *big.Int {
	t.Helper()
	balance := state.balances[string(testAsset)+"/"+addr.Hex()]
	if balance == nil {
		return big.NewInt(0)
	}
	return balance
}

func TestInitMarketRejectsDuplicate(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	if _, err := engine.InitMarket(marketOwner, testAsset, "fixed", nil, nil); !errors.Is(err, ErrMarketExists) {
		t.Fatalf("expected ErrMarketExists, got %v", err)
	}
}

func TestInitMarketUnknownRateModel(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	if _, err := engine.InitMarket(marketOwner, "OTHER", "missing", nil, nil); !errors.Is(err, ErrUnknownRateModel) {
		t.Fatalf("expected ErrUnknownRateModel, got %v", err)
	}
}

func TestDepositMintsOneToOneOnEmptyMarket(t *testing.T) {
	engine, state, id := newTestEngine(t)

	shares, err := engine.Deposit(lender, id, big.NewInt(1_000), lender)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if shares.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("expected 1000 shares on empty market, got %s", shares)
	}
	if got := mustBalance(t, state, engine.ModuleAddress()); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("module custody balance = %s, want 1000", got)
	}
	if got := mustBalance(t, state, lender); got.Cmp(big.NewInt(999_000)) != 0 {
		t.Fatalf("lender balance = %s, want 999000", got)
	}
}

func TestDepositCapEnforced(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	cappedOwner := common.HexToAddress("0x1000000000000000000000000000000000000007")
	id, err := engine.InitMarket(cappedOwner, testAsset, "fixed", big.NewInt(1_000), nil)
	if err != nil {
		t.Fatalf("init capped market: %v", err)
	}
	if _, err := engine.Deposit(lender, id, big.NewInt(600), lender); err != nil {
		t.Fatalf("first deposit: %v", err)
	}
	if _, err := engine.Deposit(lender, id, big.NewInt(500), lender); !errors.Is(err, ErrDepositCapExceeded) {
		t.Fatalf("expected ErrDepositCapExceeded, got %v", err)
	}
	// Topping up to exactly the cap is allowed.
	if _, err := engine.Deposit(lender, id, big.NewInt(400), lender); err != nil {
		t.Fatalf("deposit to cap: %v", err)
	}
}

func TestAccrualRebasesDepositShares(t *testing.T) {
	engine, _, id := newTestEngine(t)

	if _, err := engine.Deposit(lender, id, big.NewInt(1_000), lender); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := engine.Borrow(dispatcher, id, borrowerPos, big.NewInt(500)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	engine.SetTimestamp(1_000 + secondsPerYear)
	if err := engine.Accrue(id); err != nil {
		t.Fatalf("accrue: %v", err)
	}

	// One year at a fixed 10% on 500 borrowed adds 50 to both sides.
	debt, err := engine.BorrowsOf(id, borrowerPos)
	if err != nil {
		t.Fatalf("borrows of: %v", err)
	}
	if debt.Cmp(big.NewInt(550)) != 0 {
		t.Fatalf("debt after a year = %s, want 550", debt)
	}
	assets, err := engine.AssetsOf(id, lender)
	if err != nil {
		t.Fatalf("assets of: %v", err)
	}
	if assets.Cmp(big.NewInt(1_050)) != 0 {
		t.Fatalf("lender claim after a year = %s, want 1050", assets)
	}
}

func TestAccrueIdempotentWithinTimestamp(t *testing.T) {
	engine, state, id := newTestEngine(t)

	if _, err := engine.Deposit(lender, id, big.NewInt(1_000), lender); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := engine.Borrow(dispatcher, id, borrowerPos, big.NewInt(500)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	engine.SetTimestamp(1_000 + secondsPerYear)
	if err := engine.Accrue(id); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	before := state.markets[id].Borrow.TotalAssets
	if err := engine.Accrue(id); err != nil {
		t.Fatalf("second accrue: %v", err)
	}
	if state.markets[id].Borrow.TotalAssets.Cmp(before) != 0 {
		t.Fatalf("second accrue within one timestamp changed debt: %s vs %s",
			state.markets[id].Borrow.TotalAssets, before)
	}
}

func TestInterestFeeSharesMintedToRecipient(t *testing.T) {
	engine, _, id := newTestEngine(t)
	engine.SetInterestFee(1_000, feeCatcher) // 10% of interest

	if _, err := engine.Deposit(lender, id, big.NewInt(1_000), lender); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := engine.Borrow(dispatcher, id, borrowerPos, big.NewInt(500)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	engine.SetTimestamp(1_000 + secondsPerYear)
	if err := engine.Accrue(id); err != nil {
		t.Fatalf("accrue: %v", err)
	}

	// Interest is 50, fee is 5 assets priced at the pre-interest share
	// price of 1, so the recipient holds 5 shares.
	feeShares, err := engine.DepositSharesOf(id, feeCatcher)
	if err != nil {
		t.Fatalf("fee shares: %v", err)
	}
	if feeShares.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("fee recipient shares = %s, want 5", feeShares)
	}

	// 1005 total shares over 1050 assets: the lender's 1000 shares are
	// worth 1044 rounded down, the fee recipient's 5 are worth 5.
	lenderAssets, err := engine.AssetsOf(id, lender)
	if err != nil {
		t.Fatalf("lender assets: %v", err)
	}
	if lenderAssets.Cmp(big.NewInt(1_044)) != 0 {
		t.Fatalf("lender claim = %s, want 1044", lenderAssets)
	}
	feeAssets, err := engine.AssetsOf(id, feeCatcher)
	if err != nil {
		t.Fatalf("fee assets: %v", err)
	}
	if feeAssets.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("fee recipient claim = %s, want 5", feeAssets)
	}
}

func TestWithdrawBurnsSharesRoundedUp(t *testing.T) {
	engine, state, id := newTestEngine(t)

	if _, err := engine.Deposit(lender, id, big.NewInt(1_000), lender); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := engine.Borrow(dispatcher, id, borrowerPos, big.NewInt(500)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	engine.SetTimestamp(1_000 + secondsPerYear)

	// Share price is 1050/1000 after accrual and idle liquidity is 500.
	// Withdrawing 421 is 400.95 shares at that price, so 401 are burned.
	shares, err := engine.Withdraw(lender, id, big.NewInt(421), lender, lender)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if shares.Cmp(big.NewInt(401)) != 0 {
		t.Fatalf("withdraw burned %s shares, want 401", shares)
	}
	if got := mustBalance(t, state, lender); got.Cmp(big.NewInt(999_421)) != 0 {
		t.Fatalf("lender balance = %s, want 999421", got)
	}
}

func TestWithdrawRequiresOperatorApproval(t *testing.T) {
	engine, state, id := newTestEngine(t)
	operator := common.HexToAddress("0x1000000000000000000000000000000000000006")

	if _, err := engine.Deposit(lender, id, big.NewInt(1_000), lender); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := engine.Withdraw(operator, id, big.NewInt(100), operator, lender); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}

	if err := engine.ApproveOperator(lender, operator, true); err != nil {
		t.Fatalf("approve operator: %v", err)
	}
	if _, err := engine.Withdraw(operator, id, big.NewInt(100), operator, lender); err != nil {
		t.Fatalf("operator withdraw: %v", err)
	}
	if got := mustBalance(t, state, operator); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("operator received %s, want 100", got)
	}

	if err := engine.ApproveOperator(lender, operator, false); err != nil {
		t.Fatalf("revoke operator: %v", err)
	}
	if _, err := engine.Withdraw(operator, id, big.NewInt(100), operator, lender); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized after revoke, got %v", err)
	}
}

func TestWithdrawBoundedByLiquidity(t *testing.T) {
	engine, _, id := newTestEngine(t)

	if _, err := engine.Deposit(lender, id, big.NewInt(1_000), lender); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := engine.Borrow(dispatcher, id, borrowerPos, big.NewInt(800)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if _, err := engine.Withdraw(lender, id, big.NewInt(300), lender, lender); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("expected ErrInsufficientLiquidity, got %v", err)
	}
	if _, err := engine.Withdraw(lender, id, big.NewInt(200), lender, lender); err != nil {
		t.Fatalf("withdraw within liquidity: %v", err)
	}
}

func TestBorrowRestrictedToDispatcher(t *testing.T) {
	engine, _, id := newTestEngine(t)

	if _, err := engine.Deposit(lender, id, big.NewInt(1_000), lender); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := engine.Borrow(lender, id, borrowerPos, big.NewInt(100)); !errors.Is(err, ErrNotDispatcher) {
		t.Fatalf("expected ErrNotDispatcher, got %v", err)
	}
	if _, err := engine.Repay(lender, id, borrowerPos, big.NewInt(100)); !errors.Is(err, ErrNotDispatcher) {
		t.Fatalf("expected ErrNotDispatcher on repay, got %v", err)
	}
	if _, err := engine.WriteOff(lender, id, borrowerPos); !errors.Is(err, ErrNotDispatcher) {
		t.Fatalf("expected ErrNotDispatcher on write-off, got %v", err)
	}
}

func TestBorrowCapAndLiquidity(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	cappedOwner := common.HexToAddress("0x1000000000000000000000000000000000000008")
	id, err := engine.InitMarket(cappedOwner, testAsset, "fixed", nil, big.NewInt(400))
	if err != nil {
		t.Fatalf("init capped market: %v", err)
	}
	if _, err := engine.Deposit(lender, id, big.NewInt(1_000), lender); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := engine.Borrow(dispatcher, id, borrowerPos, big.NewInt(500)); !errors.Is(err, ErrBorrowCapExceeded) {
		t.Fatalf("expected ErrBorrowCapExceeded, got %v", err)
	}
	if _, err := engine.Borrow(dispatcher, id, borrowerPos, big.NewInt(400)); err != nil {
		t.Fatalf("borrow within cap: %v", err)
	}

	uncapped, err := engine.InitMarket(marketOwner, "WETH", "fixed", nil, nil)
	if err != nil {
		t.Fatalf("init uncapped market: %v", err)
	}
	if _, err := engine.Borrow(dispatcher, uncapped, borrowerPos, big.NewInt(1)); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("expected ErrInsufficientLiquidity on empty market, got %v", err)
	}
}

func TestBorrowPaysPositionAddress(t *testing.T) {
	engine, state, id := newTestEngine(t)

	if _, err := engine.Deposit(lender, id, big.NewInt(1_000), lender); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := engine.Borrow(dispatcher, id, borrowerPos, big.NewInt(500)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if got := mustBalance(t, state, borrowerPos); got.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("position balance = %s, want 500", got)
	}
	if got := mustBalance(t, state, engine.ModuleAddress()); got.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("module balance = %s, want 500", got)
	}
}

func TestRepayPartialAndFull(t *testing.T) {
	engine, state, id := newTestEngine(t)

	if _, err := engine.Deposit(lender, id, big.NewInt(1_000), lender); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := engine.Borrow(dispatcher, id, borrowerPos, big.NewInt(500)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	engine.SetTimestamp(1_000 + secondsPerYear)
	if err := engine.Accrue(id); err != nil {
		t.Fatalf("accrue: %v", err)
	}

	if _, err := engine.Repay(dispatcher, id, borrowerPos, big.NewInt(110)); err != nil {
		t.Fatalf("partial repay: %v", err)
	}
	debt, err := engine.BorrowsOf(id, borrowerPos)
	if err != nil {
		t.Fatalf("borrows of: %v", err)
	}
	if debt.Cmp(big.NewInt(440)) != 0 {
		t.Fatalf("debt after partial repay = %s, want 440", debt)
	}

	// RepayMax settles whatever remains even though the caller never
	// computed the exact figure.
	if err := bank.NewLedger(state).Mint(testAsset, borrowerPos, big.NewInt(1_000)); err != nil {
		t.Fatalf("fund position: %v", err)
	}
	if _, err := engine.Repay(dispatcher, id, borrowerPos, RepayMax); err != nil {
		t.Fatalf("full repay: %v", err)
	}
	debt, err = engine.BorrowsOf(id, borrowerPos)
	if err != nil {
		t.Fatalf("borrows of: %v", err)
	}
	if debt.Sign() != 0 {
		t.Fatalf("debt after full repay = %s, want 0", debt)
	}
	if _, err := engine.Repay(dispatcher, id, borrowerPos, big.NewInt(1)); !errors.Is(err, ErrNoDebt) {
		t.Fatalf("expected ErrNoDebt after settlement, got %v", err)
	}
}

func TestRepayOverpaymentClampsToDebt(t *testing.T) {
	engine, state, id := newTestEngine(t)

	if _, err := engine.Deposit(lender, id, big.NewInt(1_000), lender); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := engine.Borrow(dispatcher, id, borrowerPos, big.NewInt(500)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if _, err := engine.Repay(dispatcher, id, borrowerPos, big.NewInt(9_999)); err != nil {
		t.Fatalf("overpay repay: %v", err)
	}
	// Only the outstanding 500 left custody, not the full 9999 offered.
	if got := mustBalance(t, state, borrowerPos); got.Sign() != 0 {
		t.Fatalf("position balance after clamped repay = %s, want 0", got)
	}
}

func TestWriteOffSocialisesLoss(t *testing.T) {
	engine, state, id := newTestEngine(t)

	if _, err := engine.Deposit(lender, id, big.NewInt(1_000), lender); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := engine.Borrow(dispatcher, id, borrowerPos, big.NewInt(400)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	loss, err := engine.WriteOff(dispatcher, id, borrowerPos)
	if err != nil {
		t.Fatalf("write off: %v", err)
	}
	if loss.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("write-off loss = %s, want 400", loss)
	}

	market := state.markets[id]
	if market.Borrow.TotalAssets.Sign() != 0 || market.Borrow.TotalShares.Sign() != 0 {
		t.Fatalf("borrow ledger not cleared: %s assets, %s shares",
			market.Borrow.TotalAssets, market.Borrow.TotalShares)
	}
	// Lenders absorb the loss: 1000 shares now claim only 600 assets.
	assets, err := engine.AssetsOf(id, lender)
	if err != nil {
		t.Fatalf("assets of: %v", err)
	}
	if assets.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("lender claim after write-off = %s, want 600", assets)
	}
}

func TestPausesBlockFlows(t *testing.T) {
	engine, _, id := newTestEngine(t)

	if _, err := engine.Deposit(lender, id, big.NewInt(1_000), lender); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	engine.SetPauses(ActionPauses{Supply: true, Withdraw: true, Borrow: true, Repay: true})

	if _, err := engine.Deposit(lender, id, big.NewInt(1), lender); !errors.Is(err, ErrPaused) {
		t.Fatalf("expected ErrPaused on deposit, got %v", err)
	}
	if _, err := engine.Withdraw(lender, id, big.NewInt(1), lender, lender); !errors.Is(err, ErrPaused) {
		t.Fatalf("expected ErrPaused on withdraw, got %v", err)
	}
	if _, err := engine.Borrow(dispatcher, id, borrowerPos, big.NewInt(1)); !errors.Is(err, ErrPaused) {
		t.Fatalf("expected ErrPaused on borrow, got %v", err)
	}
	if _, err := engine.Repay(dispatcher, id, borrowerPos, big.NewInt(1)); !errors.Is(err, ErrPaused) {
		t.Fatalf("expected ErrPaused on repay, got %v", err)
	}

	engine.SetPauses(ActionPauses{})
	if _, err := engine.Deposit(lender, id, big.NewInt(1), lender); err != nil {
		t.Fatalf("deposit after unpause: %v", err)
	}
}

func TestSimulateAccrualLeavesStateUntouched(t *testing.T) {
	engine, state, id := newTestEngine(t)

	if _, err := engine.Deposit(lender, id, big.NewInt(1_000), lender); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := engine.Borrow(dispatcher, id, borrowerPos, big.NewInt(500)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	engine.SetTimestamp(1_000 + secondsPerYear)
	preview, err := engine.SimulateAccrual(id)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if preview.Borrow.TotalAssets.Cmp(big.NewInt(550)) != 0 {
		t.Fatalf("preview debt = %s, want 550", preview.Borrow.TotalAssets)
	}
	if state.markets[id].Borrow.TotalAssets.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("stored debt mutated by simulate: %s", state.markets[id].Borrow.TotalAssets)
	}
}

func TestRedeemZeroValueShares(t *testing.T) {
	engine, _, id := newTestEngine(t)

	if _, err := engine.Deposit(lender, id, big.NewInt(1_000), lender); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := engine.Borrow(dispatcher, id, borrowerPos, big.NewInt(400)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if _, err := engine.WriteOff(dispatcher, id, borrowerPos); err != nil {
		t.Fatalf("write off: %v", err)
	}

	// After socialising a 40% loss, one share is worth 0.6 assets which
	// rounds down to nothing.
	if _, err := engine.Redeem(lender, id, big.NewInt(1), lender, lender); !errors.Is(err, ErrZeroShares) {
		t.Fatalf("expected ErrZeroShares, got %v", err)
	}
}

// sumShares totals one side of a market's share ledger across every holder
// recorded in the mock state.
func sumShares(entries map[string]*big.Int, id types.MarketID) *big.Int {
	total := big.NewInt(0)
	prefix := id.Hex() + "/"
	for key, shares := range entries {
		if strings.HasPrefix(key, prefix) && shares != nil {
			total.Add(total, shares)
		}
	}
	return total
}

func TestShareTotalsMatchHolderSums(t *testing.T) {
	engine, state, id := newTestEngine(t)
	engine.SetInterestFee(1_000, feeCatcher)
	ledger := bank.NewLedger(state)

	lenderB := common.HexToAddress("0x1000000000000000000000000000000000000009")
	borrowerB := common.HexToAddress("0x100000000000000000000000000000000000000a")
	if err := ledger.Mint(testAsset, lenderB, big.NewInt(10_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	assertConserved := func(step string) {
		t.Helper()
		market := state.markets[id]
		if got := sumShares(state.deposits, id); got.Cmp(market.Deposit.TotalShares) != 0 {
			t.Fatalf("%s: deposit shares held %s, total %s", step, got, market.Deposit.TotalShares)
		}
		if got := sumShares(state.borrows, id); got.Cmp(market.Borrow.TotalShares) != 0 {
			t.Fatalf("%s: borrow shares held %s, total %s", step, got, market.Borrow.TotalShares)
		}
	}

	if _, err := engine.Deposit(lender, id, big.NewInt(1_000), lender); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := engine.Deposit(lenderB, id, big.NewInt(777), lenderB); err != nil {
		t.Fatalf("second deposit: %v", err)
	}
	assertConserved("after deposits")

	if _, err := engine.Borrow(dispatcher, id, borrowerPos, big.NewInt(600)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if _, err := engine.Borrow(dispatcher, id, borrowerB, big.NewInt(150)); err != nil {
		t.Fatalf("second borrow: %v", err)
	}
	assertConserved("after borrows")

	// Accrual mints fee shares to the recipient; they must show up in the
	// holder sum too.
	engine.SetTimestamp(1_000 + secondsPerYear)
	if err := engine.Accrue(id); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	assertConserved("after accrual")

	if _, err := engine.Withdraw(lender, id, big.NewInt(300), lender, lender); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	assertConserved("after withdraw")

	if _, err := engine.Repay(dispatcher, id, borrowerPos, big.NewInt(200)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	assertConserved("after repay")

	if _, err := engine.WriteOff(dispatcher, id, borrowerB); err != nil {
		t.Fatalf("write off: %v", err)
	}
	assertConserved("after write-off")
}
