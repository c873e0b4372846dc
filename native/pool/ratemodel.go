package pool

import "math/big"

// RateModel is the pluggable interest-rate curve: a pure function of the
// market's borrowed and idle balances returning a wad-scaled annual borrow
// rate (1.0 == 1e18).
type RateModel interface {
	Rate(totalBorrowed, totalIdle *big.Int) *big.Int
}

// FixedRateModel charges the same annual rate at any utilisation.
type FixedRateModel struct {
	RateWad *big.Int
}

func (m FixedRateModel) Rate(totalBorrowed, totalIdle *big.Int) *big.Int {
	if m.RateWad == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(m.RateWad)
}

// KinkedRateModel raises the borrow rate linearly with utilisation up to the
// kink point and more steeply beyond it to pull utilisation back down.
// All parameters are wad-scaled.
type KinkedRateModel struct {
	BaseRate *big.Int
	Slope1   *big.Int
	Slope2   *big.Int
	Kink     *big.Int
}

// Utilisation computes borrowed / (borrowed + idle) in wad, zero when the
// market holds no assets.
func (m KinkedRateModel) Utilisation(totalBorrowed, totalIdle *big.Int) *big.Int {
	if totalBorrowed == nil || totalBorrowed.Sign() == 0 {
		return big.NewInt(0)
	}
	total := new(big.Int).Set(totalBorrowed)
	if totalIdle != nil {
		total.Add(total, totalIdle)
	}
	if total.Sign() == 0 {
		return big.NewInt(0)
	}
	util := new(big.Int).Mul(totalBorrowed, wad)
	return util.Quo(util, total)
}

func (m KinkedRateModel) Rate(totalBorrowed, totalIdle *big.Int) *big.Int {
	rate := big.NewInt(0)
	if m.BaseRate != nil {
		rate.Set(m.BaseRate)
	}
	util := m.Utilisation(totalBorrowed, totalIdle)
	if util.Sign() == 0 {
		return rate
	}

	kink := m.Kink
	if kink == nil {
		kink = big.NewInt(0)
	}
	if kink.Sign() == 0 || util.Cmp(kink) <= 0 {
		if m.Slope1 != nil {
			step := new(big.Int).Mul(m.Slope1, util)
			rate.Add(rate, step.Quo(step, wad))
		}
		return rate
	}

	if m.Slope1 != nil {
		step := new(big.Int).Mul(m.Slope1, kink)
		rate.Add(rate, step.Quo(step, wad))
	}
	if m.Slope2 != nil {
		excess := new(big.Int).Sub(util, kink)
		step := new(big.Int).Mul(m.Slope2, excess)
		rate.Add(rate, step.Quo(step, wad))
	}
	return rate
}

// RateModelSpec is the durable description of a registered rate model, kept
// so registrations survive restarts. Exactly one of the two shapes is set:
// Fixed selects the flat curve, otherwise the kinked parameters apply.
type RateModelSpec struct {
	Name   string
	Fixed  bool
	Rate   *big.Int
	Base   *big.Int
	Slope1 *big.Int
	Slope2 *big.Int
	Kink   *big.Int
}

// Model materialises the curve the spec describes.
func (s *RateModelSpec) Model() RateModel {
	if s.Fixed {
		return FixedRateModel{RateWad: s.Rate}
	}
	return KinkedRateModel{BaseRate: s.Base, Slope1: s.Slope1, Slope2: s.Slope2, Kink: s.Kink}
}

// DefaultRateModel is a kinked curve with a 2% base rate, gentle slope to an
// 80% kink, and a steep slope beyond it.
var DefaultRateModel = KinkedRateModel{
	BaseRate: big.NewInt(20_000_000_000_000_000),  // 2%
	Slope1:   big.NewInt(150_000_000_000_000_000), // 15%
	Slope2:   big.NewInt(600_000_000_000_000_000), // 60%
	Kink:     big.NewInt(800_000_000_000_000_000), // 80% utilisation
}
