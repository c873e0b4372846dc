package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"isolend/core/types"
	"isolend/native/pool"
	"isolend/native/position"
	"isolend/native/risk"
	"isolend/native/superpool"
)

const requestLimit = 1 << 20 // 1 MiB

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeJSON(w, statusFor(err), errorBody{
		Error:     err.Error(),
		RequestID: requestIDFrom(r.Context()),
	})
}

// statusFor maps engine sentinels onto HTTP statuses. Unknown errors are
// treated as internal so they stand out in the error-rate metrics.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pool.ErrMarketNotFound),
		errors.Is(err, position.ErrUnknownPosition),
		errors.Is(err, superpool.ErrUnknownSuperPool):
		return http.StatusNotFound
	case errors.Is(err, pool.ErrNotAuthorized),
		errors.Is(err, pool.ErrNotDispatcher),
		errors.Is(err, position.ErrNotAuthorized),
		errors.Is(err, position.ErrNotOwner),
		errors.Is(err, position.ErrNotAdmin),
		errors.Is(err, risk.ErrNotAdmin),
		errors.Is(err, risk.ErrNotMarketOwner),
		errors.Is(err, superpool.ErrNotOwner),
		errors.Is(err, superpool.ErrNotAllocator),
		errors.Is(err, superpool.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, pool.ErrNilState),
		errors.Is(err, risk.ErrNilState),
		errors.Is(err, position.ErrNilState),
		errors.Is(err, superpool.ErrNilState):
		return http.StatusInternalServerError
	}
	return http.StatusUnprocessableEntity
}

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func decodeBody(r *http.Request, out any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, requestLimit))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return badRequest("decode request: %v", err)
	}
	return nil
}

func parseAddress(value string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, badRequest("invalid address %q", value)
	}
	return common.HexToAddress(trimmed), nil
}

func parseMarket(value string) (types.MarketID, error) {
	id, err := types.ParseMarketID(strings.TrimSpace(value))
	if err != nil {
		return types.MarketID{}, badRequest("invalid market id %q", value)
	}
	return id, nil
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, badRequest("missing amount")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, badRequest("invalid amount %q", value)
	}
	return amount, nil
}

func parseSalt(value string) ([32]byte, error) {
	var salt [32]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	if trimmed == "" {
		return salt, nil
	}
	raw := common.FromHex("0x" + trimmed)
	if len(raw) == 0 || len(raw) > 32 {
		return salt, badRequest("invalid salt %q", value)
	}
	copy(salt[32-len(raw):], raw)
	return salt, nil
}

type actionRequest struct {
	Op       string `json:"op"`
	Owner    string `json:"owner,omitempty"`
	Salt     string `json:"salt,omitempty"`
	Asset    string `json:"asset,omitempty"`
	Market   string `json:"market,omitempty"`
	Amount   string `json:"amount,omitempty"`
	Target   string `json:"target,omitempty"`
	Selector string `json:"selector,omitempty"`
	Data     string `json:"data,omitempty"`
}

func (a actionRequest) toAction() (position.Action, error) {
	var action position.Action
	op, err := position.ParseOp(a.Op)
	if err != nil {
		return action, badRequest("unknown op %q", a.Op)
	}
	action.Op = op
	if a.Owner != "" {
		if action.Owner, err = parseAddress(a.Owner); err != nil {
			return action, err
		}
	}
	if action.Salt, err = parseSalt(a.Salt); err != nil {
		return action, err
	}
	action.Asset = types.AssetID(a.Asset)
	if a.Market != "" {
		if action.Market, err = parseMarket(a.Market); err != nil {
			return action, err
		}
	}
	if a.Amount != "" {
		if action.Amount, err = parseAmount(a.Amount); err != nil {
			return action, err
		}
	}
	if a.Target != "" {
		if action.Target, err = parseAddress(a.Target); err != nil {
			return action, err
		}
	}
	if a.Selector != "" {
		raw := common.FromHex(a.Selector)
		if len(raw) != 4 {
			return action, badRequest("invalid selector %q", a.Selector)
		}
		copy(action.Selector[:], raw)
	}
	if a.Data != "" {
		action.Data = common.FromHex(a.Data)
	}
	return action, nil
}

type batchRequest struct {
	Caller   string          `json:"caller"`
	Position string          `json:"position"`
	Actions  []actionRequest `json:"actions"`
}

type supplyRequest struct {
	Caller   string `json:"caller"`
	Market   string `json:"market"`
	Amount   string `json:"amount"`
	Receiver string `json:"receiver,omitempty"`
	Owner    string `json:"owner,omitempty"`
	Shares   string `json:"shares,omitempty"`
}

type liquidateRequest struct {
	Caller   string `json:"caller"`
	Position string `json:"position"`
	Debts    []struct {
		Market string `json:"market"`
		Amount string `json:"amount"`
	} `json:"debts"`
	Seized []struct {
		Asset  string `json:"asset"`
		Amount string `json:"amount"`
	} `json:"seized"`
}

type marketRequest struct {
	Caller     string `json:"caller"`
	Asset      string `json:"asset"`
	RateModel  string `json:"rateModel,omitempty"`
	DepositCap string `json:"depositCap,omitempty"`
	BorrowCap  string `json:"borrowCap,omitempty"`
}

type ltvRequest struct {
	Caller string `json:"caller"`
	Market string `json:"market"`
	Asset  string `json:"asset"`
	Ltv    string `json:"ltv,omitempty"`
}

type oracleRequest struct {
	Caller    string `json:"caller"`
	Market    string `json:"market,omitempty"`
	Asset     string `json:"asset"`
	Source    string `json:"source"`
	Price     string `json:"price,omitempty"`
	MaxAge    uint64 `json:"maxAge,omitempty"`
	Answer    string `json:"answer,omitempty"`
	Decimals  uint8  `json:"decimals,omitempty"`
	UpdatedAt uint64 `json:"updatedAt,omitempty"`
}

type mintRequest struct {
	Caller string `json:"caller"`
	Asset  string `json:"asset"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type superPoolRequest struct {
	Caller       string `json:"caller"`
	ID           string `json:"id,omitempty"`
	Salt         string `json:"salt,omitempty"`
	Asset        string `json:"asset,omitempty"`
	FeeBps       uint64 `json:"feeBps,omitempty"`
	FeeRecipient string `json:"feeRecipient,omitempty"`
	AssetCap     string `json:"assetCap,omitempty"`
	Market       string `json:"market,omitempty"`
	Cap          string `json:"cap,omitempty"`
	Amount       string `json:"amount,omitempty"`
	Shares       string `json:"shares,omitempty"`
	Receiver     string `json:"receiver,omitempty"`
	Owner        string `json:"owner,omitempty"`
	Allocator    string `json:"allocator,omitempty"`

	DepositQueue  []string `json:"depositQueue,omitempty"`
	WithdrawQueue []string `json:"withdrawQueue,omitempty"`

	Withdrawals []allocationRequest `json:"withdrawals,omitempty"`
	Deposits    []allocationRequest `json:"deposits,omitempty"`
}

type allocationRequest struct {
	Market string `json:"market"`
	Amount string `json:"amount"`
}

func parseAllocations(entries []allocationRequest) ([]superpool.Allocation, error) {
	out := make([]superpool.Allocation, 0, len(entries))
	for _, entry := range entries {
		market, err := parseMarket(entry.Market)
		if err != nil {
			return nil, err
		}
		amount, err := parseAmount(entry.Amount)
		if err != nil {
			return nil, err
		}
		out = append(out, superpool.Allocation{Market: market, Amount: amount})
	}
	return out, nil
}

func parseOptionalAmount(value string) (*big.Int, error) {
	if strings.TrimSpace(value) == "" {
		return big.NewInt(0), nil
	}
	return parseAmount(value)
}

func parseMarketList(values []string) ([]types.MarketID, error) {
	out := make([]types.MarketID, 0, len(values))
	for _, value := range values {
		id, err := parseMarket(value)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func toActions(entries []actionRequest) ([]position.Action, error) {
	out := make([]position.Action, 0, len(entries))
	for _, entry := range entries {
		action, err := entry.toAction()
		if err != nil {
			return nil, err
		}
		out = append(out, action)
	}
	return out, nil
}

func parseSupplyCommon(req supplyRequest) (common.Address, types.MarketID, *big.Int, error) {
	caller, err := parseAddress(req.Caller)
	if err != nil {
		return common.Address{}, types.MarketID{}, nil, err
	}
	market, err := parseMarket(req.Market)
	if err != nil {
		return common.Address{}, types.MarketID{}, nil, err
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return common.Address{}, types.MarketID{}, nil, err
	}
	return caller, market, amount, nil
}

func parseReceiverOwner(req supplyRequest, caller common.Address) (common.Address, common.Address, error) {
	receiver, owner := caller, caller
	var err error
	if req.Receiver != "" {
		if receiver, err = parseAddress(req.Receiver); err != nil {
			return common.Address{}, common.Address{}, err
		}
	}
	if req.Owner != "" {
		if owner, err = parseAddress(req.Owner); err != nil {
			return common.Address{}, common.Address{}, err
		}
	}
	return receiver, owner, nil
}

func parseLtvCommon(req ltvRequest) (common.Address, types.MarketID, error) {
	caller, err := parseAddress(req.Caller)
	if err != nil {
		return common.Address{}, types.MarketID{}, err
	}
	market, err := parseMarket(req.Market)
	if err != nil {
		return common.Address{}, types.MarketID{}, err
	}
	return caller, market, nil
}

type sharesResponse struct {
	Shares string `json:"shares"`
}

type amountResponse struct {
	Amount string `json:"amount"`
}

type idResponse struct {
	ID string `json:"id"`
}

type okResponse struct {
	OK bool `json:"ok"`
}
