package pool

import "math/big"

var (
	wad = big.NewInt(1_000_000_000_000_000_000)

	// RepayMax requests repayment of the caller's entire outstanding debt.
	RepayMax = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

const secondsPerYear = 31_536_000

// Rounding selects the direction of truncation in share/asset conversions.
// Each call site picks the direction that biases in favour of the protocol
// and existing holders.
type Rounding uint8

const (
	RoundDown Rounding = iota
	RoundUp
)

// mulDiv computes a*b/denom with the requested rounding. denom must be
// positive.
func mulDiv(a, b, denom *big.Int, rounding Rounding) *big.Int {
	product := new(big.Int).Mul(a, b)
	quo, rem := new(big.Int).QuoRem(product, denom, new(big.Int))
	if rounding == RoundUp && rem.Sign() != 0 {
		quo.Add(quo, big.NewInt(1))
	}
	return quo
}

// SharesFromAssets converts an asset amount into shares against the ledger
// pair. An empty pair converts 1:1.
func SharesFromAssets(assets *big.Int, ledger Ledger, rounding Rounding) *big.Int {
	if assets == nil || assets.Sign() <= 0 {
		return big.NewInt(0)
	}
	if ledger.TotalShares == nil || ledger.TotalShares.Sign() == 0 {
		return new(big.Int).Set(assets)
	}
	if ledger.TotalAssets == nil || ledger.TotalAssets.Sign() == 0 {
		return new(big.Int).Set(assets)
	}
	return mulDiv(assets, ledger.TotalShares, ledger.TotalAssets, rounding)
}

// AssetsFromShares converts a share count into the underlying asset amount
// against the ledger pair. An empty pair converts 1:1.
func AssetsFromShares(shares *big.Int, ledger Ledger, rounding Rounding) *big.Int {
	if shares == nil || shares.Sign() <= 0 {
		return big.NewInt(0)
	}
	if ledger.TotalShares == nil || ledger.TotalShares.Sign() == 0 {
		return new(big.Int).Set(shares)
	}
	return mulDiv(shares, ledger.TotalAssets, ledger.TotalShares, rounding)
}

// computeInterest returns the simple interest accrued over elapsed seconds
// at the wad-scaled annual rate.
func computeInterest(totalBorrowed, rateWad *big.Int, elapsed uint64) *big.Int {
	if totalBorrowed == nil || totalBorrowed.Sign() == 0 || rateWad == nil || rateWad.Sign() == 0 || elapsed == 0 {
		return big.NewInt(0)
	}
	interest := new(big.Int).Mul(totalBorrowed, rateWad)
	interest.Mul(interest, new(big.Int).SetUint64(elapsed))
	denom := new(big.Int).Mul(wad, big.NewInt(secondsPerYear))
	return interest.Quo(interest, denom)
}
