package pricing

// yieldspace.go — analytic pricing oracle.
//
// Maps a pool snapshot to price/rate/bound quantities using a flattened
// yield-space model: the spot price is the ratio of the base value of the
// share reserves to the bond reserves, and the fixed rate is the annualized
// discount implied by that price over the position duration.
//
//   p = (shareReserves × vaultSharePrice) / bondReserves
//   r = (1 − p) / (p × t),  t = positionDuration / year
//
// Trade conversions quote an average execution price over the trade (one
// refinement step along the curve), which is what gives the solver a
// realistic slippage signal to rescale against.

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mvaldes-dev/ratebot/internal/domain"
)

// YearSeconds annualizes position durations.
const YearSeconds = 31_536_000

var (
	one  = decimal.NewFromInt(1)
	two  = decimal.NewFromInt(2)
	year = decimal.NewFromInt(YearSeconds)
)

// YieldSpace implements ports.PricingOracle.
type YieldSpace struct{}

// NewYieldSpace returns the stateless analytic oracle.
func NewYieldSpace() *YieldSpace { return &YieldSpace{} }

// annualized returns the position duration as a fraction of a year.
func annualized(pool domain.PoolState) (decimal.Decimal, error) {
	if pool.Config.PositionDuration <= 0 {
		return decimal.Zero, fmt.Errorf("pricing: position duration %d is not positive", pool.Config.PositionDuration)
	}
	return decimal.NewFromInt(pool.Config.PositionDuration).Div(year), nil
}

// baseValue returns the share reserves valued in base.
func baseValue(pool domain.PoolState) decimal.Decimal {
	return pool.ShareReserves.Mul(pool.VaultSharePrice)
}

// SpotPrice returns base per bond.
func (y *YieldSpace) SpotPrice(pool domain.PoolState) (decimal.Decimal, error) {
	if !pool.BondReserves.IsPositive() {
		return decimal.Zero, fmt.Errorf("pricing: bond reserves %s are not positive", pool.BondReserves)
	}
	z := baseValue(pool)
	if !z.IsPositive() {
		return decimal.Zero, fmt.Errorf("pricing: share reserves value %s is not positive", z)
	}
	return z.Div(pool.BondReserves), nil
}

// FixedRate returns the annualized fixed rate implied by the reserves.
func (y *YieldSpace) FixedRate(pool domain.PoolState) (decimal.Decimal, error) {
	p, err := y.SpotPrice(pool)
	if err != nil {
		return decimal.Zero, err
	}
	t, err := annualized(pool)
	if err != nil {
		return decimal.Zero, err
	}
	return one.Sub(p).Div(p.Mul(t)), nil
}

// BondsGivenSharesAndRate returns the bond reserves that would realize
// targetRate with the share reserves held constant:
// p_target = 1/(1 + r·t) ⇒ bonds = z·(1 + r·t).
func (y *YieldSpace) BondsGivenSharesAndRate(targetRate decimal.Decimal, pool domain.PoolState) (decimal.Decimal, error) {
	t, err := annualized(pool)
	if err != nil {
		return decimal.Zero, err
	}
	growth := one.Add(targetRate.Mul(t))
	if !growth.IsPositive() {
		return decimal.Zero, fmt.Errorf("pricing: target rate %s over %s years has no positive price", targetRate, t)
	}
	return baseValue(pool).Mul(growth), nil
}

// SharesOutGivenBondsIn quotes the shares the pool pays out when a trader
// sells bonds into it (short side), at the average price over the trade.
func (y *YieldSpace) SharesOutGivenBondsIn(bonds decimal.Decimal, pool domain.PoolState) (decimal.Decimal, error) {
	if bonds.IsNegative() {
		return decimal.Zero, fmt.Errorf("pricing: bonds in %s is negative", bonds)
	}
	p0, err := y.SpotPrice(pool)
	if err != nil {
		return decimal.Zero, err
	}
	z := baseValue(pool)
	z1 := z.Sub(bonds.Mul(p0))
	p1 := decimal.Zero
	if z1.IsPositive() {
		p1 = z1.Div(pool.BondReserves.Add(bonds))
	}
	pavg := p0.Add(p1).Div(two)
	return bonds.Mul(pavg).Div(pool.VaultSharePrice), nil
}

// SharesInGivenBondsOut quotes the shares the pool takes in when a trader
// buys bonds out of it (long side).
func (y *YieldSpace) SharesInGivenBondsOut(bonds decimal.Decimal, pool domain.PoolState) (decimal.Decimal, error) {
	if bonds.IsNegative() {
		return decimal.Zero, fmt.Errorf("pricing: bonds out %s is negative", bonds)
	}
	if pool.BondReserves.LessThanOrEqual(bonds) {
		return decimal.Zero, fmt.Errorf("pricing: bonds out %s would drain reserves %s", bonds, pool.BondReserves)
	}
	p0, err := y.SpotPrice(pool)
	if err != nil {
		return decimal.Zero, err
	}
	z1 := baseValue(pool).Add(bonds.Mul(p0))
	p1 := z1.Div(pool.BondReserves.Sub(bonds))
	pavg := p0.Add(p1).Div(two)
	return bonds.Mul(pavg).Div(pool.VaultSharePrice), nil
}

// MaxLong returns a conservative base budget cap for a long: the pool can
// absorb buys until the spot price reaches par, which happens once roughly
// half the bond/base-value gap has traded.
func (y *YieldSpace) MaxLong(budget decimal.Decimal, pool domain.PoolState) (decimal.Decimal, error) {
	p0, err := y.SpotPrice(pool)
	if err != nil {
		return decimal.Zero, err
	}
	z := baseValue(pool)
	if pool.BondReserves.LessThanOrEqual(z) {
		return decimal.Zero, nil // already at or above par
	}
	maxBonds := pool.BondReserves.Sub(z).Div(two)
	maxBase := maxBonds.Mul(p0.Add(one).Div(two))
	if budget.LessThan(maxBase) {
		return budget, nil
	}
	return maxBase, nil
}

// MaxShort returns a conservative bond cap for a short, bounded both by the
// deposit budget and by the share reserves the pool can pay out.
func (y *YieldSpace) MaxShort(budget decimal.Decimal, pool domain.PoolState) (decimal.Decimal, error) {
	p0, err := y.SpotPrice(pool)
	if err != nil {
		return decimal.Zero, err
	}
	discount := one.Sub(p0)
	costPerBond := discount.Add(pool.Config.Fees.Curve.Mul(discount))
	if !costPerBond.IsPositive() {
		return decimal.Zero, fmt.Errorf("pricing: spot price %s leaves no short deposit margin", p0)
	}
	bondsFromBudget := budget.Div(costPerBond)
	// Keep a 10% buffer of share reserves un-drainable.
	bondsFromPool := baseValue(pool).Div(p0).Mul(decimal.NewFromFloat(0.9))
	if bondsFromBudget.LessThan(bondsFromPool) {
		return bondsFromBudget, nil
	}
	return bondsFromPool, nil
}
