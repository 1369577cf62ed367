package ports

import (
	"github.com/shopspring/decimal"

	"github.com/mvaldes-dev/ratebot/internal/domain"
)

// PricingOracle exposes the pool's pricing formulas as pure functions over a
// pool-state snapshot. Implementations may return an error on numerically
// invalid input (e.g. a negative exponent); callers treat that as a
// trade-level failure, never something to retry blindly.
type PricingOracle interface {
	// FixedRate returns the annualized fixed rate implied by the reserves.
	FixedRate(pool domain.PoolState) (decimal.Decimal, error)

	// SpotPrice returns the current base-per-bond spot price.
	SpotPrice(pool domain.PoolState) (decimal.Decimal, error)

	// MaxLong returns the largest base amount a long can spend given budget.
	MaxLong(budget decimal.Decimal, pool domain.PoolState) (decimal.Decimal, error)

	// MaxShort returns the largest bond amount a short can sell given budget.
	MaxShort(budget decimal.Decimal, pool domain.PoolState) (decimal.Decimal, error)

	// BondsGivenSharesAndRate returns the bond reserves that would realize
	// the target rate while holding share reserves constant.
	BondsGivenSharesAndRate(targetRate decimal.Decimal, pool domain.PoolState) (decimal.Decimal, error)

	// SharesOutGivenBondsIn returns the shares the pool pays out when a
	// trader sells bonds into it (short side).
	SharesOutGivenBondsIn(bonds decimal.Decimal, pool domain.PoolState) (decimal.Decimal, error)

	// SharesInGivenBondsOut returns the shares the pool takes in when a
	// trader buys bonds out of it (long side).
	SharesInGivenBondsOut(bonds decimal.Decimal, pool domain.PoolState) (decimal.Decimal, error)
}
