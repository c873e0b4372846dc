package config

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var wad = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Validate checks the protocol section for internal consistency. It runs
// once at startup; a daemon never starts on a malformed parameter set.
func Validate(cfg *Config) error {
	p := cfg.Protocol
	if _, err := ParseAddress(p.AdminAddress); err != nil {
		return fmt.Errorf("protocol: AdminAddress: %w", err)
	}
	if _, err := ParseAddress(p.TreasuryAddress); err != nil {
		return fmt.Errorf("protocol: TreasuryAddress: %w", err)
	}
	if _, err := ParseAddress(p.FeeRecipient); err != nil {
		return fmt.Errorf("protocol: FeeRecipient: %w", err)
	}
	if p.InterestFeeBps > 10_000 {
		return fmt.Errorf("protocol: InterestFeeBps > 10000")
	}
	if p.LiquidationFeeBps > 10_000 {
		return fmt.Errorf("protocol: LiquidationFeeBps > 10000")
	}
	closeFactor, err := ParseWad(p.CloseFactorWad)
	if err != nil {
		return fmt.Errorf("protocol: CloseFactorWad: %w", err)
	}
	if closeFactor.Sign() <= 0 || closeFactor.Cmp(wad) > 0 {
		return fmt.Errorf("protocol: CloseFactorWad outside (0, 1e18]")
	}
	if _, err := ParseWad(p.DiscountWad); err != nil {
		return fmt.Errorf("protocol: DiscountWad: %w", err)
	}
	minLtv, err := ParseWad(p.MinLtvWad)
	if err != nil {
		return fmt.Errorf("protocol: MinLtvWad: %w", err)
	}
	maxLtv, err := ParseWad(p.MaxLtvWad)
	if err != nil {
		return fmt.Errorf("protocol: MaxLtvWad: %w", err)
	}
	if minLtv.Sign() <= 0 || maxLtv.Cmp(wad) >= 0 || minLtv.Cmp(maxLtv) > 0 {
		return fmt.Errorf("protocol: LTV bounds must satisfy 0 < min <= max < 1e18")
	}
	if p.TimelockSecs == 0 {
		return fmt.Errorf("protocol: TimelockSecs == 0")
	}
	return nil
}

// ParseWad parses a non-negative decimal string into a big integer.
func ParseWad(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("empty amount")
	}
	parsed, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || parsed.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	return parsed, nil
}

// ParseAddress parses a 0x-prefixed 20-byte hex address.
func ParseAddress(value string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q", value)
	}
	return common.HexToAddress(trimmed), nil
}
