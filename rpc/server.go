package rpc

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"isolend/core"
	"isolend/core/types"
	"isolend/native/pool"
	"isolend/native/risk"
)

// Server exposes the node over HTTP. The public surface is throttled per
// client; the admin surface additionally requires a bearer token.
type Server struct {
	node    *core.Node
	logger  *slog.Logger
	auth    *Authenticator
	limiter *RateLimiter
}

func NewServer(node *core.Node, logger *slog.Logger, auth *Authenticator, limiter *RateLimiter) *Server {
	return &Server{node: node, logger: logger, auth: auth, limiter: limiter}
}

// Router assembles the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, okResponse{OK: true})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.limiter.Middleware)

		r.Get("/markets", s.instrumented("markets.list", s.listMarkets))
		r.Get("/markets/{id}", s.instrumented("markets.get", s.getMarket))
		r.Post("/markets", s.instrumented("markets.create", s.createMarket))
		r.Post("/markets/{id}/accrue", s.instrumented("markets.accrue", s.accrueMarket))

		r.Post("/supply", s.instrumented("supply", s.supply))
		r.Post("/withdraw", s.instrumented("withdraw", s.withdraw))
		r.Post("/redeem", s.instrumented("redeem", s.redeem))

		r.Get("/positions/{addr}", s.instrumented("positions.get", s.getPosition))
		r.Get("/positions/{addr}/risk", s.instrumented("positions.risk", s.getPositionRisk))
		r.Post("/positions/actions", s.instrumented("positions.actions", s.processActions))
		r.Post("/positions/liquidate", s.instrumented("positions.liquidate", s.liquidate))

		r.Post("/risk/ltv/request", s.instrumented("risk.ltv.request", s.requestLtv))
		r.Post("/risk/ltv/accept", s.instrumented("risk.ltv.accept", s.acceptLtv))
		r.Post("/risk/ltv/reject", s.instrumented("risk.ltv.reject", s.rejectLtv))

		r.Get("/superpools", s.instrumented("superpools.list", s.listSuperPools))
		r.Get("/superpools/{id}", s.instrumented("superpools.get", s.getSuperPool))
		r.Post("/superpools", s.instrumented("superpools.create", s.createSuperPool))
		r.Post("/superpools/deposit", s.instrumented("superpools.deposit", s.superPoolDeposit))
		r.Post("/superpools/mint", s.instrumented("superpools.mint", s.superPoolMint))
		r.Post("/superpools/withdraw", s.instrumented("superpools.withdraw", s.superPoolWithdraw))
		r.Post("/superpools/redeem", s.instrumented("superpools.redeem", s.superPoolRedeem))
		r.Post("/superpools/members", s.instrumented("superpools.members", s.superPoolMembers))
		r.Post("/superpools/queues", s.instrumented("superpools.queues", s.superPoolQueues))
		r.Post("/superpools/reallocate", s.instrumented("superpools.reallocate", s.superPoolReallocate))
		r.Post("/superpools/{id}/accrue", s.instrumented("superpools.accrue", s.superPoolAccrue))

		r.Get("/balances/{asset}/{addr}", s.instrumented("balances.get", s.getBalance))

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.auth.Middleware)
			r.Post("/mint", s.instrumented("admin.mint", s.adminMint))
			r.Post("/oracle/source", s.instrumented("admin.oracle.source", s.adminOracleSource))
			r.Post("/oracle/price", s.instrumented("admin.oracle.price", s.adminOraclePrice))
			r.Post("/oracle/feed", s.instrumented("admin.oracle.feed", s.adminOracleFeed))
			r.Post("/oracle/push", s.instrumented("admin.oracle.push", s.adminOraclePush))
			r.Post("/oracle/bind", s.instrumented("admin.oracle.bind", s.adminOracleBind))
			r.Post("/pause", s.instrumented("admin.pause", s.adminPause))
			r.Post("/pauses", s.instrumented("admin.pauses", s.adminFlowPauses))
			r.Post("/baddebt", s.instrumented("admin.baddebt", s.adminBadDebt))
		})
	})
	return r
}

// Serve blocks running the HTTP server at addr.
func (s *Server) Serve(addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	s.logger.Info("rpc listening", "addr", addr)
	return server.ListenAndServe()
}

func (s *Server) instrumented(route string, handler http.HandlerFunc) http.HandlerFunc {
	wrapped := Instrument(route, handler)
	return wrapped.ServeHTTP
}

func (s *Server) listMarkets(w http.ResponseWriter, r *http.Request) {
	ids, err := s.node.Markets()
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.Hex())
	}
	writeJSON(w, http.StatusOK, map[string][]string{"markets": out})
}

func (s *Server) getMarket(w http.ResponseWriter, r *http.Request) {
	id, err := parseMarket(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	data, err := s.node.PoolData(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (s *Server) createMarket(w http.ResponseWriter, r *http.Request) {
	var req marketRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, r, err)
		return
	}
	depositCap, err := parseOptionalAmount(req.DepositCap)
	if err != nil {
		writeError(w, r, err)
		return
	}
	borrowCap, err := parseOptionalAmount(req.BorrowCap)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rateModel := req.RateModel
	if rateModel == "" {
		rateModel = "default"
	}
	id, err := s.node.CreateMarket(caller, types.AssetID(req.Asset), rateModel, depositCap, borrowCap)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id.Hex()})
}

func (s *Server) accrueMarket(w http.ResponseWriter, r *http.Request) {
	id, err := parseMarket(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.node.AccrueMarket(id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) supply(w http.ResponseWriter, r *http.Request) {
	var req supplyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	caller, market, amount, err := parseSupplyCommon(req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	receiver := caller
	if req.Receiver != "" {
		if receiver, err = parseAddress(req.Receiver); err != nil {
			writeError(w, r, err)
			return
		}
	}
	shares, err := s.node.Supply(caller, market, amount, receiver)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sharesResponse{Shares: shares.String()})
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	var req supplyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	caller, market, amount, err := parseSupplyCommon(req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	receiver, owner, err := parseReceiverOwner(req, caller)
	if err != nil {
		writeError(w, r, err)
		return
	}
	shares, err := s.node.WithdrawSupply(caller, market, amount, receiver, owner)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sharesResponse{Shares: shares.String()})
}

func (s *Server) redeem(w http.ResponseWriter, r *http.Request) {
	var req supplyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, r, err)
		return
	}
	market, err := parseMarket(req.Market)
	if err != nil {
		writeError(w, r, err)
		return
	}
	shares, err := parseAmount(req.Shares)
	if err != nil {
		writeError(w, r, err)
		return
	}
	receiver, owner, err := parseReceiverOwner(req, caller)
	if err != nil {
		writeError(w, r, err)
		return
	}
	amount, err := s.node.RedeemSupply(caller, market, shares, receiver, owner)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: amount.String()})
}

func (s *Server) getPosition(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "addr"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := s.node.PositionInfo(addr)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if p == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "position not found"})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) getPositionRisk(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "addr"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	data, err := s.node.PositionRisk(addr)
	if err != nil {
		writeError(w, r, err)
		return
	}
	healthy, err := s.node.PositionHealthy(addr)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"risk": data, "healthy": healthy})
}

func (s *Server) processActions(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, r, err)
		return
	}
	pos, err := parseAddress(req.Position)
	if err != nil {
		writeError(w, r, err)
		return
	}
	parsed, err := toActions(req.Actions)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.node.ProcessActions(caller, pos, parsed); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) liquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, r, err)
		return
	}
	pos, err := parseAddress(req.Position)
	if err != nil {
		writeError(w, r, err)
		return
	}
	debts := make([]risk.DebtRepayment, 0, len(req.Debts))
	for _, d := range req.Debts {
		market, err := parseMarket(d.Market)
		if err != nil {
			writeError(w, r, err)
			return
		}
		amount, err := parseAmount(d.Amount)
		if err != nil {
			writeError(w, r, err)
			return
		}
		debts = append(debts, risk.DebtRepayment{Market: market, Amount: amount})
	}
	seized := make([]risk.AssetSeizure, 0, len(req.Seized))
	for _, sz := range req.Seized {
		amount, err := parseAmount(sz.Amount)
		if err != nil {
			writeError(w, r, err)
			return
		}
		seized = append(seized, risk.AssetSeizure{Asset: types.AssetID(sz.Asset), Amount: amount})
	}
	if err := s.node.Liquidate(caller, pos, debts, seized); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) requestLtv(w http.ResponseWriter, r *http.Request) {
	s.handleLtv(w, r, func(req ltvRequest) error {
		caller, market, err := parseLtvCommon(req)
		if err != nil {
			return err
		}
		ltv, err := parseAmount(req.Ltv)
		if err != nil {
			return err
		}
		return s.node.RequestLtvUpdate(caller, market, types.AssetID(req.Asset), ltv)
	})
}

func (s *Server) acceptLtv(w http.ResponseWriter, r *http.Request) {
	s.handleLtv(w, r, func(req ltvRequest) error {
		caller, market, err := parseLtvCommon(req)
		if err != nil {
			return err
		}
		return s.node.AcceptLtvUpdate(caller, market, types.AssetID(req.Asset))
	})
}

func (s *Server) rejectLtv(w http.ResponseWriter, r *http.Request) {
	s.handleLtv(w, r, func(req ltvRequest) error {
		caller, market, err := parseLtvCommon(req)
		if err != nil {
			return err
		}
		return s.node.RejectLtvUpdate(caller, market, types.AssetID(req.Asset))
	})
}

func (s *Server) handleLtv(w http.ResponseWriter, r *http.Request, apply func(ltvRequest) error) {
	var req ltvRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := apply(req); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) listSuperPools(w http.ResponseWriter, r *http.Request) {
	ids, err := s.node.SuperPools()
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.Hex())
	}
	writeJSON(w, http.StatusOK, map[string][]string{"superPools": out})
}

func (s *Server) getSuperPool(w http.ResponseWriter, r *http.Request) {
	id, err := parseAddress(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	info, err := s.node.SuperPoolData(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) createSuperPool(w http.ResponseWriter, r *http.Request) {
	var req superPoolRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, r, err)
		return
	}
	salt, err := parseSalt(req.Salt)
	if err != nil {
		writeError(w, r, err)
		return
	}
	feeRecipient := caller
	if req.FeeRecipient != "" {
		if feeRecipient, err = parseAddress(req.FeeRecipient); err != nil {
			writeError(w, r, err)
			return
		}
	}
	assetCap, err := parseOptionalAmount(req.AssetCap)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := s.node.CreateSuperPool(caller, salt, types.AssetID(req.Asset), req.FeeBps, feeRecipient, assetCap)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id.Hex()})
}

func (s *Server) superPoolDeposit(w http.ResponseWriter, r *http.Request) {
	s.handleSuperPoolFlow(w, r, true, false)
}

func (s *Server) superPoolMint(w http.ResponseWriter, r *http.Request) {
	s.handleSuperPoolFlow(w, r, true, true)
}

func (s *Server) superPoolWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleSuperPoolFlow(w, r, false, false)
}

func (s *Server) superPoolRedeem(w http.ResponseWriter, r *http.Request) {
	s.handleSuperPoolFlow(w, r, false, true)
}

func (s *Server) handleSuperPoolFlow(w http.ResponseWriter, r *http.Request, supply, exactShares bool) {
	var req superPoolRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := parseAddress(req.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	receiver := caller
	if req.Receiver != "" {
		if receiver, err = parseAddress(req.Receiver); err != nil {
			writeError(w, r, err)
			return
		}
	}
	owner := caller
	if req.Owner != "" {
		if owner, err = parseAddress(req.Owner); err != nil {
			writeError(w, r, err)
			return
		}
	}

	switch {
	case supply && !exactShares:
		amount, err := parseAmount(req.Amount)
		if err != nil {
			writeError(w, r, err)
			return
		}
		shares, err := s.node.SuperPoolDeposit(caller, id, amount, receiver)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sharesResponse{Shares: shares.String()})
	case supply && exactShares:
		shares, err := parseAmount(req.Shares)
		if err != nil {
			writeError(w, r, err)
			return
		}
		amount, err := s.node.SuperPoolMint(caller, id, shares, receiver)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, amountResponse{Amount: amount.String()})
	case !supply && !exactShares:
		amount, err := parseAmount(req.Amount)
		if err != nil {
			writeError(w, r, err)
			return
		}
		shares, err := s.node.SuperPoolWithdraw(caller, id, amount, receiver, owner)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sharesResponse{Shares: shares.String()})
	default:
		shares, err := parseAmount(req.Shares)
		if err != nil {
			writeError(w, r, err)
			return
		}
		amount, err := s.node.SuperPoolRedeem(caller, id, shares, receiver, owner)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, amountResponse{Amount: amount.String()})
	}
}

func (s *Server) superPoolMembers(w http.ResponseWriter, r *http.Request) {
	var req superPoolRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := parseAddress(req.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	market, err := parseMarket(req.Market)
	if err != nil {
		writeError(w, r, err)
		return
	}
	cap, err := parseOptionalAmount(req.Cap)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.node.SuperPoolAddMember(caller, id, market, cap); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) superPoolQueues(w http.ResponseWriter, r *http.Request) {
	var req superPoolRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := parseAddress(req.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	depositQueue, err := parseMarketList(req.DepositQueue)
	if err != nil {
		writeError(w, r, err)
		return
	}
	withdrawQueue, err := parseMarketList(req.WithdrawQueue)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.node.SuperPoolSetQueues(caller, id, depositQueue, withdrawQueue); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) superPoolReallocate(w http.ResponseWriter, r *http.Request) {
	var req superPoolRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := parseAddress(req.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	withdrawals, err := parseAllocations(req.Withdrawals)
	if err != nil {
		writeError(w, r, err)
		return
	}
	deposits, err := parseAllocations(req.Deposits)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.node.SuperPoolReallocate(caller, id, withdrawals, deposits); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) superPoolAccrue(w http.ResponseWriter, r *http.Request) {
	id, err := parseAddress(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.node.SuperPoolAccrue(id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) getBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "addr"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	balance, err := s.node.BalanceOf(types.AssetID(chi.URLParam(r, "asset")), addr)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: balance.String()})
}

func (s *Server) adminMint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, r, err)
		return
	}
	to, err := parseAddress(req.To)
	if err != nil {
		writeError(w, r, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.node.MintAsset(caller, types.AssetID(req.Asset), to, amount); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) adminOracleSource(w http.ResponseWriter, r *http.Request) {
	var req oracleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.node.RegisterFixedSource(caller, req.Source); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) adminOraclePrice(w http.ResponseWriter, r *http.Request) {
	var req oracleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, r, err)
		return
	}
	price, err := parseAmount(req.Price)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.node.SetFixedPrice(caller, req.Source, types.AssetID(req.Asset), price); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) adminOracleFeed(w http.ResponseWriter, r *http.Request) {
	var req oracleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.node.RegisterFeedSource(caller, req.Source, req.MaxAge); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) adminOraclePush(w http.ResponseWriter, r *http.Request) {
	var req oracleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, r, err)
		return
	}
	answer, err := uint256.FromDecimal(strings.TrimSpace(req.Answer))
	if err != nil {
		writeError(w, r, badRequest("invalid answer %q", req.Answer))
		return
	}
	if err := s.node.PushFeedPrice(caller, req.Source, types.AssetID(req.Asset), answer, req.Decimals, req.UpdatedAt); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) adminOracleBind(w http.ResponseWriter, r *http.Request) {
	var req oracleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, r, err)
		return
	}
	market, err := parseMarket(req.Market)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.node.SetOracle(caller, market, types.AssetID(req.Asset), req.Source); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) adminPause(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller string `json:"caller"`
		Paused bool   `json:"paused"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.node.SetLiquidatePaused(caller, req.Paused); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) adminFlowPauses(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller   string `json:"caller"`
		Supply   bool   `json:"supply"`
		Withdraw bool   `json:"withdraw"`
		Borrow   bool   `json:"borrow"`
		Repay    bool   `json:"repay"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, r, err)
		return
	}
	pauses := pool.ActionPauses{
		Supply:   req.Supply,
		Withdraw: req.Withdraw,
		Borrow:   req.Borrow,
		Repay:    req.Repay,
	}
	if err := s.node.SetFlowPauses(caller, pauses); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) adminBadDebt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller   string `json:"caller"`
		Position string `json:"position"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, r, err)
		return
	}
	pos, err := parseAddress(req.Position)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.node.LiquidateBadDebt(caller, pos); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}
