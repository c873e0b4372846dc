package types

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// AssetID identifies a token type accepted by the protocol. Assets are
// registered at genesis and referenced by ticker, e.g. "USDX".
type AssetID string

// Normalize returns the canonical upper-case ticker with surrounding
// whitespace removed.
func (a AssetID) Normalize() AssetID {
	return AssetID(strings.ToUpper(strings.TrimSpace(string(a))))
}

// Valid reports whether the asset identifier is non-empty after
// normalisation.
func (a AssetID) Valid() bool {
	return a.Normalize() != ""
}

// MarketID is the deterministic identifier of an isolated lending market.
// It is derived from the market's immutable parameters so that re-deploying
// an identical market resolves to the same identifier.
type MarketID [32]byte

// Hex renders the market identifier as a 0x-prefixed hex string.
func (id MarketID) Hex() string {
	return "0x" + hex.EncodeToString(id[:])
}

// IsZero reports whether the identifier is the zero value.
func (id MarketID) IsZero() bool {
	return id == MarketID{}
}

// ParseMarketID decodes a 0x-prefixed 32-byte hex string.
func ParseMarketID(s string) (MarketID, error) {
	var id MarketID
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		trimmed = trimmed[2:]
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return id, fmt.Errorf("types: decode market id: %w", err)
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("types: market id must be 32 bytes (got %d)", len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

// DeriveMarketID computes the identifier for a market owned by owner over
// asset using the named rate model. The triple fully determines the market.
func DeriveMarketID(owner common.Address, asset AssetID, rateModel string) MarketID {
	var id MarketID
	h := crypto.Keccak256(
		[]byte("isolend/market"),
		owner.Bytes(),
		[]byte(asset.Normalize()),
		[]byte(strings.TrimSpace(rateModel)),
	)
	copy(id[:], h)
	return id
}

// DerivePositionAddress computes the custody address for a position created
// by owner with the supplied salt. Callers can compute the address before the
// position exists and the dispatcher verifies a claimed address against this
// derivation before trusting it.
func DerivePositionAddress(owner common.Address, salt [32]byte) common.Address {
	h := crypto.Keccak256([]byte("isolend/position"), owner.Bytes(), salt[:])
	return common.BytesToAddress(h[12:])
}

// DeriveSuperPoolAddress computes the custody address of a liquidity router
// vault created by owner with the supplied salt.
func DeriveSuperPoolAddress(owner common.Address, salt [32]byte) common.Address {
	h := crypto.Keccak256([]byte("isolend/superpool"), owner.Bytes(), salt[:])
	return common.BytesToAddress(h[12:])
}

// ModuleAddress derives the reserved address holding custody for a protocol
// module, e.g. the pool escrow or the protocol treasury.
func ModuleAddress(name string) common.Address {
	h := crypto.Keccak256([]byte("isolend/module/" + strings.TrimSpace(name)))
	return common.BytesToAddress(h[12:])
}
