package core

import (
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"isolend/config"
	"isolend/core/types"
	"isolend/native/bank"
	"isolend/native/oracle"
	"isolend/native/pool"
	"isolend/native/position"
	"isolend/native/risk"
	"isolend/native/superpool"
	"isolend/state"
	"isolend/storage"
)

// Node is the central controller, wiring all components together. Every
// mutating operation runs under a single lock and commits the state overlay
// atomically, so a failed call leaves no partial writes behind.
type Node struct {
	db        storage.Database
	state     *state.Manager
	assets    *bank.Ledger
	pools     *pool.Engine
	risk      *risk.Engine
	riskMod   *risk.Module
	positions *position.Manager
	vaults    *superpool.Engine

	fixed map[string]*oracle.FixedSource
	feeds map[string]*oracle.FeedSource

	admin  common.Address
	logger *slog.Logger

	stateMu sync.Mutex
	now     func() time.Time
}

func NewNode(db storage.Database, cfg *config.Config, logger *slog.Logger) (*Node, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	p := cfg.Protocol
	admin, _ := config.ParseAddress(p.AdminAddress)
	treasury, _ := config.ParseAddress(p.TreasuryAddress)
	feeRecipient, _ := config.ParseAddress(p.FeeRecipient)
	minLtv, _ := config.ParseWad(p.MinLtvWad)
	maxLtv, _ := config.ParseWad(p.MaxLtvWad)
	closeFactor, _ := config.ParseWad(p.CloseFactorWad)
	discount, _ := config.ParseWad(p.DiscountWad)

	manager := state.NewManager(db)
	assets := bank.NewLedger(manager)

	pools := pool.NewEngine(assets)
	pools.SetState(manager)
	pools.SetInterestFee(p.InterestFeeBps, feeRecipient)
	pools.RegisterRateModel("default", pool.DefaultRateModel)

	riskEngine := risk.NewEngine(pools, admin, minLtv, maxLtv, p.TimelockSecs)
	riskEngine.SetState(manager)

	store := position.NewStore(manager)
	positions := position.NewManager(store, pools, assets, admin, treasury, p.LiquidationFeeBps)
	pools.SetDispatcher(positions.ModuleAddress())

	riskModule := risk.NewModule(riskEngine, pools, store, assets, closeFactor, discount)
	positions.SetRiskModule(riskModule)

	vaults := superpool.NewEngine(pools, assets)
	vaults.SetState(manager)

	node := &Node{
		db:        db,
		state:     manager,
		assets:    assets,
		pools:     pools,
		risk:      riskEngine,
		riskMod:   riskModule,
		positions: positions,
		vaults:    vaults,
		fixed:     make(map[string]*oracle.FixedSource),
		feeds:     make(map[string]*oracle.FeedSource),
		admin:     admin,
		logger:    logger,
		now:       time.Now,
	}

	if err := node.restoreRegistrations(); err != nil {
		return nil, fmt.Errorf("restore registrations: %w", err)
	}
	if cfg.GenesisFile != "" {
		genesis, err := config.LoadGenesis(cfg.GenesisFile)
		if err != nil {
			return nil, err
		}
		if err := node.applyGenesis(genesis); err != nil {
			return nil, fmt.Errorf("genesis: %w", err)
		}
	}
	return node, nil
}

// restoreRegistrations rebuilds the in-memory rate models and price sources
// from their persisted registrations. Engines only hold registrations in
// memory, so a node restarted over a populated store must replay them before
// serving any operation.
func (n *Node) restoreRegistrations() error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	models, err := n.state.ListRateModels()
	if err != nil {
		return err
	}
	for _, name := range models {
		spec, err := n.state.GetRateModel(name)
		if err != nil {
			return err
		}
		if spec == nil {
			continue
		}
		n.pools.RegisterRateModel(name, spec.Model())
	}

	sources, err := n.state.ListSources()
	if err != nil {
		return err
	}
	for _, name := range sources {
		reg, err := n.state.GetSource(name)
		if err != nil {
			return err
		}
		if reg == nil {
			continue
		}
		switch reg.Kind {
		case oracle.KindFeed:
			feed := oracle.NewFeedSource(reg.MaxAge, n.clockSeconds)
			n.feeds[name] = feed
			n.risk.RegisterSource(name, feed)
		default:
			source := oracle.NewFixedSource()
			for i, asset := range reg.Assets {
				if err := source.SetPrice(asset, reg.Prices[i]); err != nil {
					return fmt.Errorf("source %s asset %s: %w", name, string(asset), err)
				}
			}
			n.fixed[name] = source
			n.risk.RegisterSource(name, source)
		}
	}
	return nil
}

func (n *Node) clockSeconds() uint64 {
	return uint64(n.now().Unix())
}

// SetClock overrides the wall clock. Tests use this for deterministic
// accrual and timelock math.
func (n *Node) SetClock(now func() time.Time) {
	if now != nil {
		n.now = now
	}
}

// withState runs a mutating operation against the state overlay. The
// overlay is committed on success and discarded on any error.
func (n *Node) withState(fn func() error) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	ts := uint64(n.now().Unix())
	n.pools.SetTimestamp(ts)
	n.risk.SetTimestamp(ts)
	if err := fn(); err != nil {
		n.state.Reset()
		return err
	}
	return n.state.Commit()
}

// withView runs a read-only operation under the state lock.
func (n *Node) withView(fn func() error) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	ts := uint64(n.now().Unix())
	n.pools.SetTimestamp(ts)
	n.risk.SetTimestamp(ts)
	err := fn()
	n.state.Reset()
	return err
}

// applyGenesis seeds a fresh store from the manifest. A store that already
// has markets ignores the manifest so restarts are idempotent.
func (n *Node) applyGenesis(genesis *config.Genesis) error {
	return n.withState(func() error {
		existing, err := n.state.ListMarkets()
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return nil
		}

		for _, src := range genesis.Sources {
			source := oracle.NewFixedSource()
			reg := &oracle.Registration{Name: src.Name, Kind: oracle.KindFixed}
			assets := make([]string, 0, len(src.Prices))
			for asset := range src.Prices {
				assets = append(assets, asset)
			}
			sort.Strings(assets)
			for _, asset := range assets {
				value, err := config.ParseWad(src.Prices[asset])
				if err != nil {
					return fmt.Errorf("source %s asset %s: %w", src.Name, asset, err)
				}
				if err := source.SetPrice(types.AssetID(asset), value); err != nil {
					return err
				}
				reg.SetPrice(types.AssetID(asset), value)
			}
			if err := n.state.PutSource(reg); err != nil {
				return err
			}
			n.fixed[src.Name] = source
			n.risk.RegisterSource(src.Name, source)
		}

		for _, rm := range genesis.RateModel {
			spec, err := rateModelSpec(rm)
			if err != nil {
				return fmt.Errorf("rate model %s: %w", rm.Name, err)
			}
			if err := n.state.PutRateModel(spec); err != nil {
				return err
			}
			n.pools.RegisterRateModel(rm.Name, spec.Model())
		}

		for _, entry := range genesis.Balances {
			addr, err := config.ParseAddress(entry.Address)
			if err != nil {
				return err
			}
			amount, err := config.ParseWad(entry.Amount)
			if err != nil {
				return err
			}
			if err := n.assets.Mint(types.AssetID(entry.Asset), addr, amount); err != nil {
				return err
			}
		}

		ids := make([]types.MarketID, 0, len(genesis.Markets))
		for _, gm := range genesis.Markets {
			owner, err := config.ParseAddress(gm.Owner)
			if err != nil {
				return err
			}
			depositCap, err := parseOptionalWad(gm.DepositCap)
			if err != nil {
				return err
			}
			borrowCap, err := parseOptionalWad(gm.BorrowCap)
			if err != nil {
				return err
			}
			rateModel := gm.RateModel
			if rateModel == "" {
				rateModel = "default"
			}
			id, err := n.pools.InitMarket(owner, types.AssetID(gm.Asset), rateModel, depositCap, borrowCap)
			if err != nil {
				return err
			}
			ids = append(ids, id)

			// Genesis risk entries skip the governance timelock.
			for _, pair := range gm.Risk {
				ltv, err := config.ParseWad(pair.Ltv)
				if err != nil {
					return err
				}
				asset := types.AssetID(pair.Asset).Normalize()
				if err := n.state.SetLtv(id, asset, ltv); err != nil {
					return err
				}
				if pair.Oracle != "" {
					if err := n.state.SetOracleBinding(id, asset, pair.Oracle); err != nil {
						return err
					}
				}
			}
		}

		for i, gv := range genesis.Vaults {
			owner, err := config.ParseAddress(gv.Owner)
			if err != nil {
				return err
			}
			feeRecipient := owner
			if gv.FeeRecipient != "" {
				if feeRecipient, err = config.ParseAddress(gv.FeeRecipient); err != nil {
					return err
				}
			}
			assetCap, err := parseOptionalWad(gv.AssetCap)
			if err != nil {
				return err
			}
			var salt [32]byte
			salt[31] = byte(i + 1)
			id, err := n.vaults.Create(owner, salt, types.AssetID(gv.Asset), gv.FeeBps, feeRecipient, assetCap)
			if err != nil {
				return err
			}
			for _, member := range gv.Members {
				if member.Market < 0 || member.Market >= len(ids) {
					return fmt.Errorf("superpool %d references unknown market %d", i, member.Market)
				}
				cap, err := parseOptionalWad(member.Cap)
				if err != nil {
					return err
				}
				if err := n.vaults.AddPool(owner, id, ids[member.Market], cap); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func parseOptionalWad(value string) (*big.Int, error) {
	if value == "" {
		return big.NewInt(0), nil
	}
	return config.ParseWad(value)
}

func rateModelSpec(rm config.GenesisRateModel) (*pool.RateModelSpec, error) {
	zero := big.NewInt(0)
	if rm.FixedRate != "" {
		rate, err := config.ParseWad(rm.FixedRate)
		if err != nil {
			return nil, err
		}
		return &pool.RateModelSpec{
			Name: rm.Name, Fixed: true, Rate: rate,
			Base: zero, Slope1: zero, Slope2: zero, Kink: zero,
		}, nil
	}
	base, err := config.ParseWad(rm.BaseRate)
	if err != nil {
		return nil, err
	}
	slope1, err := config.ParseWad(rm.Slope1)
	if err != nil {
		return nil, err
	}
	slope2, err := config.ParseWad(rm.Slope2)
	if err != nil {
		return nil, err
	}
	kink, err := config.ParseWad(rm.Kink)
	if err != nil {
		return nil, err
	}
	return &pool.RateModelSpec{
		Name: rm.Name, Rate: zero,
		Base: base, Slope1: slope1, Slope2: slope2, Kink: kink,
	}, nil
}
